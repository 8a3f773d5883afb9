package serialmux

import (
	"io"
)

// SerialPorter defines the minimal interface needed for a feed port.
// This abstraction enables unit testing without real serial hardware.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}

// ReplayPort is a read-only port over a recorded feed. Writes go to
// Writer, which defaults to io.Discard.
type ReplayPort struct {
	io.Reader
	io.Writer
}

// NewReplayPort wraps r as a SerialPorter.
func NewReplayPort(r io.Reader) *ReplayPort {
	return &ReplayPort{Reader: r, Writer: io.Discard}
}

// Close closes the underlying reader when it is closable.
func (p *ReplayPort) Close() error {
	if c, ok := p.Reader.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
