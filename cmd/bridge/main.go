// Command bridge runs the serial-to-MQTT bridge: it loads config, opens the
// board and watchdog serial links, connects to the broker, and runs the
// Engine until SIGINT/SIGTERM. SIGHUP triggers a live config reload.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hudrolax/arduino-bridge/internal/adminhttp"
	"github.com/hudrolax/arduino-bridge/internal/broker"
	"github.com/hudrolax/arduino-bridge/internal/config"
	"github.com/hudrolax/arduino-bridge/internal/engine"
	"github.com/hudrolax/arduino-bridge/internal/transactor"
	"github.com/hudrolax/arduino-bridge/internal/watchdog"
)

// engineHolder forwards adminhttp's StatusProvider calls to whichever Engine
// is current, so a SIGHUP reload is visible to the admin surface without
// restarting it.
type engineHolder struct {
	mu  sync.RWMutex
	eng *engine.Engine
}

func (h *engineHolder) set(e *engine.Engine) {
	h.mu.Lock()
	h.eng = e
	h.mu.Unlock()
}

func (h *engineHolder) get() *engine.Engine {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.eng
}

func (h *engineHolder) Config() config.Config     { return h.get().Config() }
func (h *engineHolder) Snapshot() engine.Snapshot { return h.get().Snapshot() }

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfgPath := config.Path()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("bridge: config: %v", err)
	}
	if y, err := yaml.Marshal(cfg); err == nil {
		log.Printf("bridge: starting with config:\n%s", string(y))
	} else {
		log.Printf("bridge: starting with config: %+v", cfg)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigc := make(chan os.Signal, 2)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	eng, err := buildAndStart(ctx, cfg)
	if err != nil {
		log.Fatalf("bridge: start: %v", err)
	}
	holder := &engineHolder{eng: eng}

	admin := adminhttp.New(":8080", holder, func() error {
		return reload(ctx, cfgPath, holder)
	})
	admin.Start()

	for sig := range sigc {
		switch sig {
		case syscall.SIGHUP:
			if err := reload(ctx, cfgPath, holder); err != nil {
				log.Printf("bridge: reload failed: %v", err)
			}
		case syscall.SIGINT, syscall.SIGTERM:
			log.Printf("bridge: shutting down on %s", sig)
			_ = admin.Stop()
			holder.get().Stop()
			return
		}
	}
}

// buildCollaborators constructs the Transactor, Broker, and Watchdog for cfg.
func buildCollaborators(cfg config.Config) (*transactor.Transactor, *broker.Session, *watchdog.Ticker) {
	txr := transactor.New(cfg.Serial.ArduinoPort, cfg.Serial.ArduinoBaud, transactor.Timeouts{
		Handshake: cfg.HandshakeTimeout(),
		Write:     500 * time.Millisecond,
		Read:      300 * time.Millisecond,
	})
	brk := broker.New(broker.Options{
		Host:              cfg.MQTT.Host,
		Port:              cfg.MQTT.Port,
		Username:          cfg.MQTT.Username,
		Password:          cfg.MQTT.Password,
		ClientID:          cfg.MQTT.ClientID,
		AvailabilityTopic: cfg.MQTT.BaseTopic + "/availability",
		KeepAlive:         time.Duration(cfg.MQTT.KeepAliveSecs) * time.Second,
		ConnectTimeout:    time.Duration(cfg.MQTT.ConnectTimeoutMs) * time.Millisecond,
	})
	wd := watchdog.New(cfg.Serial.WatchdogPort, cfg.Serial.WatchdogBaud, time.Duration(cfg.Polling.WatchdogIntervalS)*time.Second)
	return txr, brk, wd
}

// buildAndStart builds fresh collaborators for cfg and starts a new Engine.
func buildAndStart(ctx context.Context, cfg config.Config) (*engine.Engine, error) {
	txr, brk, wd := buildCollaborators(cfg)
	eng := engine.New(cfg, txr, brk, wd)
	if err := eng.Start(ctx); err != nil {
		return nil, err
	}
	return eng, nil
}

// reload re-reads cfgPath and swaps holder's Engine for a freshly started
// one built against the new config.
func reload(ctx context.Context, cfgPath string, holder *engineHolder) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	log.Printf("bridge: reloading config from %s", cfgPath)

	txr, brk, wd := buildCollaborators(cfg)
	next, err := engine.Reload(ctx, holder.get(), cfg, txr, brk, wd)
	if err != nil {
		return err
	}
	holder.set(next)
	return nil
}
