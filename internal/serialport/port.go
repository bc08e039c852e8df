// Package serialport opens a raw, blocking serial line for the bridge's two
// hardware links (the board and the watchdog), on top of the Linux
// termios2/ioctl serial port from github.com/daedaluz/goserial.
package serialport

import (
	"fmt"
	"time"

	serial "github.com/daedaluz/goserial"
)

// Port is a raw serial line: 8N1, no flow control, at a fixed baud rate.
type Port struct {
	p *serial.Port
}

// Open opens name at baud and puts the line into raw mode.
func Open(name string, baud int) (*Port, error) {
	p, err := serial.Open(name, nil)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	if err := configure(p, baud); err != nil {
		p.Close()
		return nil, fmt.Errorf("configure %s: %w", name, err)
	}
	return &Port{p: p}, nil
}

func configure(p *serial.Port, baud int) error {
	attrs, err := p.GetAttr2()
	if err != nil {
		return err
	}
	attrs.MakeRaw()
	speed, ok := standardSpeed(baud)
	if ok {
		attrs.SetSpeed(speed)
	} else {
		attrs.SetCustomSpeed(uint32(baud))
	}
	attrs.Cflag |= serial.CREAD | serial.CLOCAL
	return p.SetAttr2(serial.TCSANOW, attrs)
}

func standardSpeed(baud int) (serial.CFlag, bool) {
	switch baud {
	case 9600:
		return serial.B9600, true
	case 19200:
		return serial.B19200, true
	case 38400:
		return serial.B38400, true
	case 57600:
		return serial.B57600, true
	case 115200:
		return serial.B115200, true
	default:
		return 0, false
	}
}

// Write writes data to the line.
func (p *Port) Write(data []byte) (int, error) {
	return p.p.Write(data)
}

// ReadFull blocks until len(buf) bytes have been read or timeout elapses,
// returning a timeout error on partial reads so a caller never observes a
// partially consumed framed reply.
func (p *Port) ReadFull(buf []byte, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	read := 0
	for read < len(buf) {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return ErrTimeout
		}
		n, err := p.p.ReadTimeout(buf[read:], remaining)
		if err != nil {
			return ErrTimeout
		}
		if n == 0 {
			return ErrTimeout
		}
		read += n
	}
	return nil
}

// Flush discards unread input and unwritten output.
func (p *Port) Flush() error {
	return p.p.Flush(serial.TCIOFLUSH)
}

// FlushInput discards bytes received but not yet read.
func (p *Port) FlushInput() error {
	return p.p.Flush(serial.TCIFLUSH)
}

// Close closes the underlying file descriptor.
func (p *Port) Close() error {
	return p.p.Close()
}

// ErrTimeout is returned by ReadFull when the deadline elapses before the
// requested number of bytes arrive.
var ErrTimeout = fmt.Errorf("serialport: read timeout")
