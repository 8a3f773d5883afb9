package serialmux

import (
	"fmt"
	"strconv"
	"strings"

	"go.bug.st/serial"
)

// DefaultBaudRate suits the UART consoles of the usual edge accelerator boards.
const DefaultBaudRate = 115200

// DefaultFraming is the data/parity/stop layout detector boards ship with.
const DefaultFraming = "8N1"

// PortOptions describes how the detector's UART is opened. Zero fields
// take the defaults in Normalise.
type PortOptions struct {
	BaudRate int    `json:"baud_rate"`
	DataBits int    `json:"data_bits"`
	StopBits int    `json:"stop_bits"`
	Parity   string `json:"parity"`
}

var parityModes = map[string]serial.Parity{
	"N": serial.NoParity,
	"E": serial.EvenParity,
	"O": serial.OddParity,
}

var parityAliases = map[string]string{"NONE": "N", "EVEN": "E", "ODD": "O"}

// WithFraming returns o with the data bits, parity and stop bits taken from
// a framing string such as "8N1" or "7E2".
func (o PortOptions) WithFraming(framing string) (PortOptions, error) {
	f := strings.ToUpper(strings.TrimSpace(framing))
	if len(f) != 3 {
		return o, fmt.Errorf("invalid framing %q: want data bits, parity and stop bits, e.g. %s", framing, DefaultFraming)
	}
	data, err := strconv.Atoi(f[:1])
	if err != nil {
		return o, fmt.Errorf("invalid framing %q: bad data bits", framing)
	}
	stop, err := strconv.Atoi(f[2:])
	if err != nil {
		return o, fmt.Errorf("invalid framing %q: bad stop bits", framing)
	}
	o.DataBits, o.Parity, o.StopBits = data, f[1:2], stop
	return o.Normalise()
}

// Normalise validates the options and fills in defaults.
func (o PortOptions) Normalise() (PortOptions, error) {
	if o.BaudRate <= 0 {
		o.BaudRate = DefaultBaudRate
	}
	if o.DataBits == 0 {
		o.DataBits = 8
	}
	if o.DataBits < 5 || o.DataBits > 8 {
		return o, fmt.Errorf("invalid data bits %d: must be between 5 and 8", o.DataBits)
	}
	if o.StopBits == 0 {
		o.StopBits = 1
	}
	if o.StopBits != 1 && o.StopBits != 2 {
		return o, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", o.StopBits)
	}

	parity := strings.ToUpper(strings.TrimSpace(o.Parity))
	if alias, ok := parityAliases[parity]; ok {
		parity = alias
	}
	if parity == "" {
		parity = "N"
	}
	if _, ok := parityModes[parity]; !ok {
		return o, fmt.Errorf("unsupported parity %q: expected N, E, or O", o.Parity)
	}
	o.Parity = parity
	return o, nil
}

// String renders the options as they are usually written, e.g. "115200 8N1".
func (o PortOptions) String() string {
	return fmt.Sprintf("%d %d%s%d", o.BaudRate, o.DataBits, o.Parity, o.StopBits)
}

// SerialMode converts the options into the go.bug.st/serial mode used to
// open the port.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	opts, err := o.Normalise()
	if err != nil {
		return nil, err
	}

	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
		Parity:   parityModes[opts.Parity],
		StopBits: serial.OneStopBit,
	}
	if opts.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}
	return mode, nil
}
