// Package watchdog tickles a hardware watchdog over its own independent
// serial port. It shares neither the lock nor the port of the board
// Transactor.
package watchdog

import (
	"log"
	"sync"
	"time"

	"github.com/hudrolax/arduino-bridge/internal/serialport"
)

// ping is the literal two-byte sequence the watchdog expects.
var ping = []byte{'~', 'U'}

// conn is the subset of *serialport.Port the Ticker needs. It exists so
// tests can substitute a fake link instead of a real watchdog.
type conn interface {
	Write(data []byte) (int, error)
	Flush() error
	Close() error
}

// Ticker owns the watchdog serial port and writes ping every interval until
// Stop is called. A write failure is logged; the ticker keeps trying.
type Ticker struct {
	portName string
	baud     int
	interval time.Duration

	mu     sync.Mutex
	port   conn
	stopCh chan struct{}
	done   chan struct{}
}

// New builds a Ticker for portName at baud, pinging every interval.
func New(portName string, baud int, interval time.Duration) *Ticker {
	return &Ticker{portName: portName, baud: baud, interval: interval}
}

// newWithConn builds a Ticker around an already-open conn, skipping the real
// serial Open call. Used by tests.
func newWithConn(c conn, interval time.Duration) *Ticker {
	t := &Ticker{interval: interval, port: c, stopCh: make(chan struct{}), done: make(chan struct{})}
	go t.run()
	return t
}

// Start opens the port and begins the ping loop in a background goroutine.
func (t *Ticker) Start() error {
	p, err := serialport.Open(t.portName, t.baud)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.port = p
	t.mu.Unlock()

	t.stopCh = make(chan struct{})
	t.done = make(chan struct{})
	go t.run()
	return nil
}

func (t *Ticker) run() {
	defer close(t.done)
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.stopCh:
			return
		case <-ticker.C:
			t.mu.Lock()
			p := t.port
			t.mu.Unlock()
			if p == nil {
				continue
			}
			if _, err := p.Write(ping); err != nil {
				log.Printf("watchdog: write failed: %v", err)
				continue
			}
			if err := p.Flush(); err != nil {
				log.Printf("watchdog: flush failed: %v", err)
			}
		}
	}
}

// Stop signals the ping loop to exit, waits for it, and closes the port.
func (t *Ticker) Stop() error {
	if t.stopCh != nil {
		close(t.stopCh)
		<-t.done
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.port = nil
	return err
}
