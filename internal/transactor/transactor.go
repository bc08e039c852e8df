// Package transactor implements the board's framed request/reply serial
// protocol: a five-byte request, a two-byte big-endian reply, one
// transaction in flight at a time.
package transactor

import (
	"errors"
	"sync"
	"time"

	"github.com/hudrolax/arduino-bridge/internal/serialport"
)

// StartFlag is the first byte of every request frame.
const StartFlag = 0xDE

// Digital write state codes for the arg byte of a 'P' command.
const (
	Low    = 0
	High   = 1
	Invert = 2
)

// Reply sentinels.
const (
	HandshakeOK = 666
	WriteOn     = 3333
	WriteOff    = 4444
	ReadHigh    = 1111
	ReadLow     = 2222
)

// Error kinds surfaced by a failed transaction. None are retried here; retry
// policy belongs to callers (the Engine, or Handshake's own retry loop).
var (
	ErrNotOpen = errors.New("transactor: not open")
	ErrTimeout = errors.New("transactor: timeout")
	ErrIO      = errors.New("transactor: io error")
)

// Timeouts holds the per-operation timeout defaults.
type Timeouts struct {
	Handshake time.Duration
	Write     time.Duration
	Read      time.Duration
}

// DefaultTimeouts returns the board's documented per-operation timeouts.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Handshake: 2500 * time.Millisecond,
		Write:     500 * time.Millisecond,
		Read:      300 * time.Millisecond,
	}
}

// Interface is the capability the Engine depends on, so tests can substitute
// a fake that replays scripted replies instead of a real board.
type Interface interface {
	Open() error
	Close() error
	Handshake(attempts int) error
	DigitalWrite(pin, state int) (bool, error)
	DigitalRead(pin int) (bool, error)
	AnalogRead(ch int) (int, error)
}

// conn is the subset of *serialport.Port the Transactor needs. It exists so
// tests can substitute a fake link instead of a real board.
type conn interface {
	Write(data []byte) (int, error)
	ReadFull(buf []byte, timeout time.Duration) error
	Flush() error
	FlushInput() error
	Close() error
}

// Transactor serializes access to a single board serial link. All exported
// operations hold the same lock, so at most one transaction is ever in
// flight.
type Transactor struct {
	portName string
	baud     int
	timeouts Timeouts

	mu   sync.Mutex
	port conn

	// resetDelay is the pause after opening before the first handshake,
	// normally the board's post-open reset time. Tests shrink it to zero.
	resetDelay time.Duration
}

// New builds a Transactor for portName at baud. The link is not opened until
// Open is called.
func New(portName string, baud int, timeouts Timeouts) *Transactor {
	return &Transactor{portName: portName, baud: baud, timeouts: timeouts, resetDelay: 2 * time.Second}
}

// newWithConn builds a Transactor around an already-open conn, skipping the
// real serial Open call. Used by tests.
func newWithConn(c conn, timeouts Timeouts) *Transactor {
	return &Transactor{timeouts: timeouts, port: c}
}

// Open opens the serial link, waits for the board's post-open reset, and
// flushes both buffers, as required before the first Handshake attempt.
func (t *Transactor) Open() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, err := serialport.Open(t.portName, t.baud)
	if err != nil {
		return ErrIO
	}
	t.port = p

	time.Sleep(t.resetDelay)
	_ = t.port.Flush()
	return nil
}

// Close closes the serial link.
func (t *Transactor) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.port = nil
	return err
}

// Handshake sends the identity exchange (cmd 'I', cval=666, arg=1) and
// succeeds iff the board echoes 666. It retries up to attempts times with a
// fresh timeout per attempt and a 500ms gap between failures.
func (t *Transactor) Handshake(attempts int) error {
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		reply, err := t.transact('I', 666, 1, t.timeouts.Handshake)
		if err == nil && reply == HandshakeOK {
			return nil
		}
		if err == nil {
			err = ErrIO
		}
		lastErr = err
		if i < attempts-1 {
			time.Sleep(500 * time.Millisecond)
		}
	}
	return lastErr
}

// DigitalWrite commands pin to state (Low, High, or Invert) and returns true
// if the board acknowledged ON (3333), false if it acknowledged OFF (4444).
func (t *Transactor) DigitalWrite(pin, state int) (bool, error) {
	reply, err := t.transact('P', pin, state, t.timeouts.Write)
	if err != nil {
		return false, err
	}
	return reply == WriteOn, nil
}

// DigitalRead reads pin and returns true for HIGH, false for LOW.
func (t *Transactor) DigitalRead(pin int) (bool, error) {
	reply, err := t.transact('S', pin, 0, t.timeouts.Read)
	if err != nil {
		return false, err
	}
	return reply == ReadHigh, nil
}

// AnalogRead reads channel ch, returning a value in [0, 1023].
func (t *Transactor) AnalogRead(ch int) (int, error) {
	return t.transact('A', ch, 0, t.timeouts.Read)
}

// transact sends one five-byte frame and reads the two-byte reply, holding
// the Transactor's lock for its entire duration.
func (t *Transactor) transact(cmd byte, cval, arg int, timeout time.Duration) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port == nil {
		return 0, ErrNotOpen
	}

	frame := [5]byte{
		StartFlag,
		cmd,
		byte((cval >> 8) & 0xFF),
		byte(cval & 0xFF),
		byte(arg & 0xFF),
	}

	// Discard stale bytes left over from a prior timeout before sending.
	_ = t.port.FlushInput()

	if _, err := t.port.Write(frame[:]); err != nil {
		return 0, ErrIO
	}

	var reply [2]byte
	if err := t.port.ReadFull(reply[:], timeout); err != nil {
		if errors.Is(err, serialport.ErrTimeout) {
			return 0, ErrTimeout
		}
		return 0, ErrIO
	}

	return int(reply[0])<<8 | int(reply[1]), nil
}
