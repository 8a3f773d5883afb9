package serialmux

import (
	"io"
	"os"

	"go.bug.st/serial"
)

// NewRealSerialMux creates a SerialMux instance backed by a real serial port at the
// given path using the provided serial options.
func NewRealSerialMux(path string, opts PortOptions) (*SerialMux[serial.Port], error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, err
	}

	return NewSerialMux[serial.Port](port), nil
}

// NewReplayMux creates a SerialMux that replays a recorded feed from r.
// Commands sent to it are discarded.
func NewReplayMux(r io.Reader) *SerialMux[*ReplayPort] {
	return NewSerialMux(NewReplayPort(r))
}

// OpenReplayMux opens a recorded feed file, or stdin for "-".
func OpenReplayMux(path string) (*SerialMux[*ReplayPort], error) {
	if path == "-" {
		return NewSerialMux(&ReplayPort{Reader: os.Stdin, Writer: io.Discard}), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return NewReplayMux(f), nil
}
