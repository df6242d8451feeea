package serialport

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// ErrNoData is returned by ReadLine when no complete line arrived
// within the read timeout. The caller treats it as an idle tick; any
// other error is fatal for the stream.
var ErrNoData = errors.New("no data available")

// maxLineLength bounds the residual buffer. A stream that never sends
// a terminator gets its backlog discarded instead of growing it.
const maxLineLength = 4096

// PortInfo describes one candidate serial device
type PortInfo struct {
	Device      string
	Description string
}

// Port is a line-oriented serial stream
type Port interface {
	// ReadLine returns the next newline-terminated line with the
	// terminator (and a trailing CR) stripped, or ErrNoData when none
	// arrived within the read timeout.
	ReadLine() (string, error)
	Close() error
}

// Provider enumerates and opens serial devices. The acquisition loop
// receives a nil Provider when hardware access is disabled, which it
// treats like an empty enumeration.
type Provider interface {
	Enumerate() ([]PortInfo, error)
	Open(device string, baud int, readTimeout time.Duration) (Port, error)
}

// NewProvider returns the platform serial implementation
func NewProvider() Provider {
	return &systemProvider{}
}

type systemProvider struct{}

func (p *systemProvider) Enumerate() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate serial ports: %v", err)
	}

	infos := make([]PortInfo, 0, len(details))
	for _, d := range details {
		infos = append(infos, PortInfo{
			Device:      d.Name,
			Description: describePort(d),
		})
	}
	return infos, nil
}

// describePort builds the description the device hints are matched
// against
func describePort(d *enumerator.PortDetails) string {
	if d.Product != "" {
		return d.Product
	}
	if d.IsUSB {
		return "USB Serial Device"
	}
	return d.Name
}

func (p *systemProvider) Open(device string, baud int, readTimeout time.Duration) (Port, error) {
	s, err := serial.Open(device, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %v", device, err)
	}
	if err := s.SetReadTimeout(readTimeout); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to set read timeout on %s: %v", device, err)
	}
	return &linePort{port: s}, nil
}

// rawStream is the slice of serial.Port that linePort needs. A timed
// out read returns n == 0 with a nil error.
type rawStream interface {
	Read(p []byte) (int, error)
	Close() error
}

// linePort assembles raw reads into newline-delimited lines. Partial
// lines survive across calls until their terminator arrives.
type linePort struct {
	port    rawStream
	residue []byte
}

func (lp *linePort) ReadLine() (string, error) {
	if line, ok := lp.takeLine(); ok {
		return line, nil
	}

	buf := make([]byte, 256)
	for {
		n, err := lp.port.Read(buf)
		if err != nil {
			return "", fmt.Errorf("serial read: %v", err)
		}
		if n == 0 {
			// Read timeout elapsed without data
			return "", ErrNoData
		}

		lp.residue = append(lp.residue, buf[:n]...)
		if line, ok := lp.takeLine(); ok {
			return line, nil
		}
		if len(lp.residue) > maxLineLength {
			lp.residue = lp.residue[:0]
			return "", ErrNoData
		}
	}
}

// takeLine pops one complete line off the residue
func (lp *linePort) takeLine() (string, bool) {
	idx := bytes.IndexByte(lp.residue, '\n')
	if idx < 0 {
		return "", false
	}
	line := strings.TrimSuffix(string(lp.residue[:idx]), "\r")
	lp.residue = append(lp.residue[:0], lp.residue[idx+1:]...)
	return line, true
}

func (lp *linePort) Close() error {
	return lp.port.Close()
}
