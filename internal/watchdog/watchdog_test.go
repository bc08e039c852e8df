package watchdog

import (
	"sync"
	"testing"
	"time"
)

type fakeConn struct {
	mu     sync.Mutex
	writes [][]byte
	closed bool
}

func (f *fakeConn) Write(data []byte) (int, error) {
	f.mu.Lock()
	f.writes = append(f.writes, append([]byte(nil), data...))
	f.mu.Unlock()
	return len(data), nil
}

func (f *fakeConn) Flush() error { return nil }

func (f *fakeConn) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

func TestTicker_WritesPingPeriodically(t *testing.T) {
	fc := &fakeConn{}
	tk := newWithConn(fc, 5*time.Millisecond)
	defer tk.Stop()

	deadline := time.Now().Add(200 * time.Millisecond)
	for fc.writeCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if fc.writeCount() < 2 {
		t.Fatalf("got %d writes, want at least 2", fc.writeCount())
	}

	fc.mu.Lock()
	first := fc.writes[0]
	fc.mu.Unlock()
	if string(first) != string(ping) {
		t.Errorf("wrote %q, want %q", first, ping)
	}
}

func TestTicker_StopClosesPort(t *testing.T) {
	fc := &fakeConn{}
	tk := newWithConn(fc, time.Millisecond)

	if err := tk.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !fc.closed {
		t.Error("Stop did not close the port")
	}
}
