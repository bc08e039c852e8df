// Package engine implements the runtime that ties the transactor, broker,
// and watchdog together: the concurrent poll/command loops, the broker
// online/offline state machine, failsafe mirroring, and restore-on-start.
package engine

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hudrolax/arduino-bridge/internal/broker"
	"github.com/hudrolax/arduino-bridge/internal/config"
	"github.com/hudrolax/arduino-bridge/internal/discovery"
	"github.com/hudrolax/arduino-bridge/internal/failsafe"
	"github.com/hudrolax/arduino-bridge/internal/pins"
	"github.com/hudrolax/arduino-bridge/internal/statestore"
	"github.com/hudrolax/arduino-bridge/internal/transactor"
	"github.com/hudrolax/arduino-bridge/internal/watchdog"
)

// Reserved process exit codes for unrecoverable hardware faults.
const (
	ExitHandshakeFailed  = 2
	ExitCommandFatal     = 3
	ExitDigitalPollFatal = 4
	ExitAnalogPollFatal  = 5
)

// Watchdog is the capability the Engine needs from the watchdog ticker.
type Watchdog interface {
	Start() error
	Stop() error
}

// Snapshot is a point-in-time read of the Engine's in-memory caches, used by
// the admin HTTP surface.
type Snapshot struct {
	Online bool
	S      map[int]bool
	P      map[int]bool
	A      map[int]int
}

// Engine owns the Transactor, Broker, Watchdog, and the three long-running
// loops. In-memory state (Input/Output/AnalogState, BrokerMode) is mutated
// only from within the Engine's own goroutines. Those loops run
// concurrently, so the mutex below guards every read and write of that
// state, both between the loops and for Snapshot (called from the admin
// HTTP goroutine).
type Engine struct {
	cfg          config.Config
	txr          transactor.Interface
	brk          broker.Interface
	wd           Watchdog
	statePath    string
	failsafePath string

	mu        sync.RWMutex
	sState    map[int]bool
	pState    map[int]bool
	aState    map[int]int
	online    bool
	failsafeM failsafe.Map

	cancel context.CancelFunc
	group  *errgroup.Group
	done   chan struct{}
}

// New builds an Engine from cfg and its collaborators. Collaborators are
// passed in (rather than constructed here) so tests can substitute fakes,
// and so Reload can start the new Engine on collaborators the caller built
// for the new config. The state and failsafe paths come from cfg.
func New(cfg config.Config, txr transactor.Interface, brk broker.Interface, wd Watchdog) *Engine {
	return &Engine{
		cfg:          cfg,
		txr:          txr,
		brk:          brk,
		wd:           wd,
		statePath:    cfg.Paths.StatePath,
		failsafePath: cfg.Paths.FailsafePath,
		sState:       map[int]bool{},
		pState:       map[int]bool{},
		aState:       map[int]int{},
	}
}

// Start runs the startup sequence and launches the three long-running loops. It blocks until startup completes; the loops continue
// in the background until Stop is called.
func (e *Engine) Start(ctx context.Context) error {
	e.failsafeM = failsafe.Load(e.failsafePath)
	log.Printf("engine: failsafe map loaded: %v", e.failsafeM)

	if err := e.brk.Connect(); err != nil {
		return fmt.Errorf("engine: broker connect: %w", err)
	}
	e.setOnline(true)

	if err := e.txr.Open(); err != nil {
		return fmt.Errorf("engine: transactor open: %w", err)
	}
	if err := e.txr.Handshake(e.cfg.Retry.HandshakeAttempts); err != nil {
		log.Printf("engine: handshake failed: %v", err)
		os.Exit(ExitHandshakeFailed)
	}

	if err := e.wd.Start(); err != nil {
		log.Printf("engine: watchdog start failed: %v", err)
	}

	e.restorePins()
	e.publishDiscovery()
	e.publishAllStates(true)

	base := strings.TrimRight(e.cfg.MQTT.BaseTopic, "/")
	if err := e.brk.Subscribe(base + "/+/set"); err != nil {
		log.Printf("engine: subscribe failed: %v", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	group, gctx := errgroup.WithContext(runCtx)
	e.group = group
	e.done = make(chan struct{})

	group.Go(func() error { e.commandsLoop(gctx); return nil })
	group.Go(func() error { e.digitalPollLoop(gctx); return nil })
	group.Go(func() error { e.analogPollLoop(gctx); return nil })

	go func() {
		_ = group.Wait()
		close(e.done)
	}()

	log.Printf("engine: started")
	return nil
}

// Stop cancels all loops, waits for them to drain, then closes the broker,
// transactor, and watchdog in that order.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	if e.done != nil {
		<-e.done
	}
	e.brk.Disconnect()
	e.setOnline(false)
	if err := e.txr.Close(); err != nil {
		log.Printf("engine: transactor close: %v", err)
	}
	if err := e.wd.Stop(); err != nil {
		log.Printf("engine: watchdog stop: %v", err)
	}
	log.Printf("engine: stopped")
}

// Config returns the Config snapshot the Engine was built or reloaded with.
func (e *Engine) Config() config.Config {
	return e.cfg
}

// Snapshot returns a copy of the Engine's current caches.
func (e *Engine) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := Snapshot{Online: e.online, S: map[int]bool{}, P: map[int]bool{}, A: map[int]int{}}
	for k, v := range e.sState {
		out.S[k] = v
	}
	for k, v := range e.pState {
		out.P[k] = v
	}
	for k, v := range e.aState {
		out.A[k] = v
	}
	return out
}

func (e *Engine) setOnline(v bool) {
	e.mu.Lock()
	e.online = v
	e.mu.Unlock()
}

func (e *Engine) isOnline() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.online
}

func (e *Engine) setP(pin int, v bool) {
	e.mu.Lock()
	e.pState[pin] = v
	e.mu.Unlock()
}

func (e *Engine) getP(pin int) (bool, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.pState[pin]
	return v, ok
}

func (e *Engine) setS(pin int, v bool) (prev bool, known bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	prev, known = e.sState[pin]
	e.sState[pin] = v
	return prev, known
}

func (e *Engine) setA(ch int, v int) (prev int, known bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	prev, known = e.aState[ch]
	e.aState[ch] = v
	return prev, known
}

func onOff(v bool) string {
	if v {
		return "ON"
	}
	return "OFF"
}

func (e *Engine) topic(suffix string) string {
	return strings.TrimRight(e.cfg.MQTT.BaseTopic, "/") + "/" + suffix
}

// safePublish publishes only while online; a publish failure transitions the
// Engine to Offline.
func (e *Engine) safePublish(topic string, payload []byte, qos byte, retain bool) {
	if !e.isOnline() {
		return
	}
	if err := e.brk.Publish(topic, payload, qos, retain); err != nil {
		log.Printf("engine: publish %s failed, going offline: %v", topic, err)
		e.goOffline()
	}
}

func (e *Engine) goOffline() {
	e.mu.Lock()
	wasOnline := e.online
	e.online = false
	e.mu.Unlock()
	if wasOnline {
		e.brk.Disconnect()
	}
}

func (e *Engine) persistOutputs() {
	e.mu.RLock()
	snap := make(map[int]bool, len(e.pState))
	for k, v := range e.pState {
		snap[k] = v
	}
	e.mu.RUnlock()
	if err := statestore.Save(e.statePath, snap); err != nil {
		log.Printf("engine: persist output state failed: %v", err)
	}
}

func (e *Engine) restorePins() {
	saved := statestore.Load(e.statePath)
	if len(saved) == 0 {
		log.Printf("engine: no saved output state at %s", e.statePath)
		return
	}
	for pin, state := range saved {
		if !pins.IsP(pin) {
			continue
		}
		arg := transactor.Low
		if state {
			arg = transactor.High
		}
		on, err := e.txr.DigitalWrite(pin, arg)
		if err != nil {
			log.Printf("engine: restore P%d failed: %v", pin, err)
			continue
		}
		e.setP(pin, on)
		e.persistOutputs()
		e.safePublish(e.topic(fmt.Sprintf("P%d/state", pin)), []byte(onOff(on)), 1, true)
	}
}

func (e *Engine) deviceBlock() discovery.DeviceBlock {
	return discovery.DeviceBlock{
		Name:         e.cfg.Device.Name,
		Manufacturer: e.cfg.Device.Manufacturer,
		Model:        e.cfg.Device.Model,
		Identifiers:  e.cfg.Device.Identifiers,
	}
}

func (e *Engine) publishDiscovery() {
	dev := e.deviceBlock()
	prefix := e.cfg.MQTT.DiscoveryPrefix
	base := strings.TrimRight(e.cfg.MQTT.BaseTopic, "/")
	retain := e.cfg.MQTT.RetainDiscovery

	for _, n := range pins.S {
		entry := discovery.BinarySensor(prefix, base, dev, n)
		e.safePublish(entry.Topic, entry.Payload, 1, retain)
	}
	for _, n := range pins.P {
		entry := discovery.Switch(prefix, base, dev, n)
		e.safePublish(entry.Topic, entry.Payload, 1, retain)
	}
	for i, ch := range pins.A {
		if !e.cfg.Inputs.AnalogEnabled[i] {
			continue
		}
		entry := discovery.AnalogSensor(prefix, base, dev, ch)
		e.safePublish(entry.Topic, entry.Payload, 1, retain)
	}
}

func (e *Engine) publishAllStates(retain bool) {
	for _, pin := range pins.S {
		high, err := e.txr.DigitalRead(pin)
		if err != nil {
			log.Printf("engine: initial S%d read failed: %v", pin, err)
			continue
		}
		e.setS(pin, high)
		e.safePublish(e.topic(fmt.Sprintf("S%d/state", pin)), []byte(onOff(high)), 1, retain)
	}
	for _, pin := range pins.P {
		if v, ok := e.getP(pin); ok {
			e.safePublish(e.topic(fmt.Sprintf("P%d/state", pin)), []byte(onOff(v)), 1, retain)
		}
	}
	for i, ch := range pins.A {
		if !e.cfg.Inputs.AnalogEnabled[i] {
			continue
		}
		v, err := e.txr.AnalogRead(ch)
		if err != nil {
			log.Printf("engine: initial A%d read failed: %v", ch, err)
			continue
		}
		e.setA(ch, v)
		e.safePublish(e.topic(fmt.Sprintf("A%d/state", ch)), []byte(strconv.Itoa(v)), 0, retain)
	}
}

// commandsLoop consumes inbound broker messages matching <base>/P<n>/set,
// and blocks on reconnect attempts while Offline instead of spinning.
func (e *Engine) commandsLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if !e.isOnline() {
			if !e.reconnect(ctx) {
				return
			}
			continue
		}
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-e.brk.Messages():
			if !ok {
				return
			}
			e.handleCommand(msg.Topic, msg.Payload)
		}
	}
}

func (e *Engine) handleCommand(topic string, payload []byte) {
	base := strings.TrimRight(e.cfg.MQTT.BaseTopic, "/")
	prefix := base + "/"
	if !strings.HasPrefix(topic, prefix) {
		return
	}
	rel := topic[len(prefix):]
	parts := strings.SplitN(rel, "/", 2)
	if len(parts) != 2 || !strings.HasPrefix(parts[0], "P") || parts[1] != "set" {
		log.Printf("engine: dropping unknown topic %s", topic)
		return
	}

	pin, err := strconv.Atoi(parts[0][1:])
	if err != nil || !pins.IsP(pin) {
		log.Printf("engine: command for unknown P-pin: %s", topic)
		return
	}

	stateCode, ok := parseCommand(string(payload))
	if !ok {
		log.Printf("engine: ignoring malformed payload %q for %s", payload, topic)
		return
	}

	on, err := e.txr.DigitalWrite(pin, stateCode)
	if err != nil {
		log.Printf("engine: command write P%d failed: %v", pin, err)
		if e.cfg.CommandFaultFatal {
			os.Exit(ExitCommandFatal)
		}
		return
	}
	e.setP(pin, on)
	// Persist before publish: a retained state publish must never be visible
	// to subscribers before the write it describes has survived a crash.
	e.persistOutputs()
	e.safePublish(e.topic(fmt.Sprintf("P%d/state", pin)), []byte(onOff(on)), 1, true)
}

// parseCommand interprets a P<n>/set payload into a digital-write arg code.
func parseCommand(payload string) (int, bool) {
	s := strings.TrimSpace(payload)
	if strings.EqualFold(s, "TOGGLE") {
		return transactor.Invert, true
	}
	switch strings.ToLower(s) {
	case "1", "on", "true", "high":
		return transactor.High, true
	case "0", "off", "false", "low":
		return transactor.Low, true
	default:
		return 0, false
	}
}

// digitalPollLoop sweeps S_PINS at the configured cadence, publishing on
// change only, and mirrors through the failsafe map while Offline.
func (e *Engine) digitalPollLoop(ctx context.Context) {
	period := e.cfg.DigitalPeriod()
	for {
		start := time.Now()
		for _, pin := range pins.S {
			if ctx.Err() != nil {
				return
			}
			high, err := e.txr.DigitalRead(pin)
			if err != nil {
				log.Printf("engine: digital poll fatal on S%d: %v", pin, err)
				os.Exit(ExitDigitalPollFatal)
			}
			prev, known := e.setS(pin, high)
			if known && prev == high {
				continue
			}
			e.safePublish(e.topic(fmt.Sprintf("S%d/state", pin)), []byte(onOff(high)), 1, true)

			if !e.isOnline() {
				e.mirrorFailsafe(pin, high)
			}
		}
		elapsed := time.Since(start)
		sleep := period - elapsed
		if sleep < 0 {
			sleep = 0
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(sleep):
		}
	}
}

// mirrorFailsafe implements the offline failsafe rule: a transition on input
// s whose failsafe map entry p does not already match the new value is
// written once to p.
func (e *Engine) mirrorFailsafe(s int, value bool) {
	p, ok := e.failsafeM[s]
	if !ok {
		return
	}
	if cur, known := e.getP(p); known && cur == value {
		return
	}
	arg := transactor.Low
	if value {
		arg = transactor.High
	}
	on, err := e.txr.DigitalWrite(p, arg)
	if err != nil {
		log.Printf("engine: failsafe write P%d from S%d failed: %v", p, s, err)
		return
	}
	e.setP(p, on)
	e.persistOutputs()
}

// analogPollLoop reads enabled A_CHANS at the configured cadence, publishing
// only when the value first appears or moves by at least the threshold.
func (e *Engine) analogPollLoop(ctx context.Context) {
	period := e.cfg.AnalogPeriod()
	threshold := e.cfg.Polling.AnalogThreshold
	if threshold < 0 {
		threshold = 0
	}
	for {
		for i, ch := range pins.A {
			if ctx.Err() != nil {
				return
			}
			if !e.cfg.Inputs.AnalogEnabled[i] {
				continue
			}
			v, err := e.txr.AnalogRead(ch)
			if err != nil {
				log.Printf("engine: analog poll fatal on A%d: %v", ch, err)
				os.Exit(ExitAnalogPollFatal)
			}
			prev, known := e.setA(ch, v)
			delta := v - prev
			if delta < 0 {
				delta = -delta
			}
			if known && delta < threshold {
				continue
			}
			e.safePublish(e.topic(fmt.Sprintf("A%d/state", ch)), []byte(strconv.Itoa(v)), 0, true)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(period):
		}
	}
}

// reconnect retries the broker connection with capped exponential backoff,
// starting at 1s and doubling to a 30s cap, until it succeeds or ctx is
// cancelled. On success it resubscribes, republishes discovery, and
// republishes the full retained snapshot.
func (e *Engine) reconnect(ctx context.Context) bool {
	backoff := time.Second
	const backoffCap = 30 * time.Second
	for {
		if ctx.Err() != nil {
			return false
		}
		if err := e.brk.Connect(); err != nil {
			log.Printf("engine: reconnect failed: %v", err)
		} else {
			e.setOnline(true)
			base := strings.TrimRight(e.cfg.MQTT.BaseTopic, "/")
			if err := e.brk.Subscribe(base + "/+/set"); err != nil {
				log.Printf("engine: resubscribe failed: %v", err)
			}
			e.publishDiscovery()
			e.publishAllStates(true)
			log.Printf("engine: reconnected, leaving failsafe")
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > backoffCap {
			backoff = backoffCap
		}
	}
}

// Reload stops the Engine, replaces its config-derived collaborators, and
// starts again. State store and failsafe file remain the source of truth
// across reload.
func Reload(ctx context.Context, old *Engine, cfg config.Config, txr transactor.Interface, brk broker.Interface, wd Watchdog) (*Engine, error) {
	old.Stop()
	next := New(cfg, txr, brk, wd)
	if err := next.Start(ctx); err != nil {
		return nil, err
	}
	return next, nil
}
