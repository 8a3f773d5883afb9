package main

import (
	"fmt"
	"strings"

	"github.com/banshee-data/people.counter/internal/serialmux"
)

// feedSpec is a parsed -input value.
type feedSpec struct {
	kind string // "replay", "serial" or "none"
	path string
}

func (f feedSpec) String() string {
	switch f.kind {
	case "serial":
		return "serial:" + f.path
	case "none":
		return "none"
	}
	if f.path == "-" {
		return "stdin"
	}
	return f.path
}

// parseInput accepts a replay file, "-" for stdin, "serial:/dev/ttyX" or
// "none" for an API-only server.
func parseInput(input string) (feedSpec, error) {
	input = strings.TrimSpace(input)
	switch {
	case input == "":
		return feedSpec{}, fmt.Errorf("input is required")
	case input == "none":
		return feedSpec{kind: "none"}, nil
	case strings.HasPrefix(input, "serial:"):
		path := strings.TrimPrefix(input, "serial:")
		if path == "" {
			return feedSpec{}, fmt.Errorf("serial input needs a device path, e.g. serial:/dev/ttyUSB0")
		}
		return feedSpec{kind: "serial", path: path}, nil
	default:
		return feedSpec{kind: "replay", path: input}, nil
	}
}

// openFeed opens the multiplexer for a feed. Serial ports are opened with
// the given baud rate and framing, e.g. "8N1".
func openFeed(spec feedSpec, baud int, framing string) (serialmux.SerialMuxInterface, error) {
	switch spec.kind {
	case "none":
		return serialmux.NewDisabledSerialMux(), nil
	case "serial":
		opts, err := serialmux.PortOptions{BaudRate: baud}.WithFraming(framing)
		if err != nil {
			return nil, err
		}
		m, err := serialmux.NewRealSerialMux(spec.path, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to open serial port %s at %s: %w", spec.path, opts, err)
		}
		return m, nil
	default:
		m, err := serialmux.OpenReplayMux(spec.path)
		if err != nil {
			return nil, fmt.Errorf("failed to open feed %s: %w", spec, err)
		}
		return m, nil
	}
}
