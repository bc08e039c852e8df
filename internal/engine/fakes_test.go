package engine

import (
	"sync"

	"github.com/hudrolax/arduino-bridge/internal/broker"
)

// fakeTransactor is a scripted board: DigitalRead/AnalogRead answer from
// maps that tests can mutate between polls, DigitalWrite echoes the
// requested level back as the board's acknowledgement.
type fakeTransactor struct {
	mu sync.Mutex

	sValues map[int]bool
	aValues map[int]int

	writeErr     error
	readErr      error
	analogErr    error
	handshakeErr error

	writes []writeCall
}

type writeCall struct {
	pin, state int
}

func newFakeTransactor() *fakeTransactor {
	return &fakeTransactor{sValues: map[int]bool{}, aValues: map[int]int{}}
}

func (f *fakeTransactor) Open() error  { return nil }
func (f *fakeTransactor) Close() error { return nil }

func (f *fakeTransactor) Handshake(attempts int) error {
	return f.handshakeErr
}

func (f *fakeTransactor) DigitalWrite(pin, state int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return false, f.writeErr
	}
	f.writes = append(f.writes, writeCall{pin: pin, state: state})
	on := state == 1 // transactor.High
	return on, nil
}

func (f *fakeTransactor) DigitalRead(pin int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return false, f.readErr
	}
	return f.sValues[pin], nil
}

func (f *fakeTransactor) AnalogRead(ch int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.analogErr != nil {
		return 0, f.analogErr
	}
	return f.aValues[ch], nil
}

func (f *fakeTransactor) setS(pin int, v bool) {
	f.mu.Lock()
	f.sValues[pin] = v
	f.mu.Unlock()
}

func (f *fakeTransactor) setA(ch int, v int) {
	f.mu.Lock()
	f.aValues[ch] = v
	f.mu.Unlock()
}

func (f *fakeTransactor) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

func (f *fakeTransactor) lastWrite() writeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.writes) == 0 {
		return writeCall{-1, -1}
	}
	return f.writes[len(f.writes)-1]
}

// fakeBroker is an in-memory broker: Publish records every call (or fails,
// if publishErr is set), Connect/Disconnect count their invocations.
type fakeBroker struct {
	mu sync.Mutex

	publishErr  error
	connectErr  error
	published   []publishCall
	connectN    int
	disconnectN int
	inbound     chan broker.Message

	// onPublish, if set, runs synchronously inside Publish before it
	// records the call — tests use it to observe ordering against a
	// collaborator (e.g. the state store) as of the moment of publish.
	onPublish func(topic string, payload []byte)
}

type publishCall struct {
	topic   string
	payload string
	qos     byte
	retain  bool
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{inbound: make(chan broker.Message, 16)}
}

func (f *fakeBroker) Connect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectN++
	return f.connectErr
}

func (f *fakeBroker) Disconnect() {
	f.mu.Lock()
	f.disconnectN++
	f.mu.Unlock()
}

func (f *fakeBroker) Publish(topic string, payload []byte, qos byte, retain bool) error {
	if f.onPublish != nil {
		f.onPublish(topic, payload)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, publishCall{topic: topic, payload: string(payload), qos: qos, retain: retain})
	return nil
}

func (f *fakeBroker) Subscribe(pattern string) error { return nil }

func (f *fakeBroker) Messages() <-chan broker.Message { return f.inbound }

func (f *fakeBroker) disconnectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnectN
}

func (f *fakeBroker) publishedTopics() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.published))
	for i, p := range f.published {
		out[i] = p.topic
	}
	return out
}

func (f *fakeBroker) lastPayloadFor(topic string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.published) - 1; i >= 0; i-- {
		if f.published[i].topic == topic {
			return f.published[i].payload, true
		}
	}
	return "", false
}

// fakeWatchdog satisfies Watchdog trivially.
type fakeWatchdog struct {
	startErr error
	stopErr  error
	started  int
	stopped  int
}

func (f *fakeWatchdog) Start() error {
	f.started++
	return f.startErr
}

func (f *fakeWatchdog) Stop() error {
	f.stopped++
	return f.stopErr
}
