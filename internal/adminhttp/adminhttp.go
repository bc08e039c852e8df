// Package adminhttp serves a minimal status/reload/live-snapshot surface:
// enough for an operator or dashboard to read the bridge's state and
// trigger a config reload without a full configuration-editing admin page.
package adminhttp

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hudrolax/arduino-bridge/internal/config"
	"github.com/hudrolax/arduino-bridge/internal/engine"
)

// StatusProvider supplies the current config and engine snapshot.
type StatusProvider interface {
	Config() config.Config
	Snapshot() engine.Snapshot
}

// Server is a small net/http server: one goroutine, best-effort
// ListenAndServe.
type Server struct {
	addr     string
	provider StatusProvider
	reload   func() error

	upgrader websocket.Upgrader
	httpSrv  *http.Server
}

// New builds a Server listening on addr. reload is invoked by POST /reload.
func New(addr string, provider StatusProvider, reload func() error) *Server {
	return &Server{
		addr:     addr,
		provider: provider,
		reload:   reload,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Start launches the HTTP server in a background goroutine and returns
// immediately; serve errors are logged, not returned.
func (s *Server) Start() {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/reload", s.handleReload)
	mux.HandleFunc("/ws", s.handleWS)

	s.httpSrv = &http.Server{Addr: s.addr, Handler: mux}
	go func() {
		log.Printf("adminhttp: listening on %s", s.addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("adminhttp: serve error: %v", err)
		}
	}()
}

// Stop shuts the HTTP server down.
func (s *Server) Stop() error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Close()
}

type statusResponse struct {
	MQTT struct {
		Host      string `json:"host"`
		Port      int    `json:"port"`
		BaseTopic string `json:"base_topic"`
	} `json:"mqtt"`
	Serial struct {
		ArduinoPort  string `json:"arduino_port"`
		WatchdogPort string `json:"watchdog_port"`
	} `json:"serial"`
	Polling struct {
		DigitalHz        int `json:"digital_hz"`
		AnalogIntervalMs int `json:"analog_interval_ms"`
		AnalogThreshold  int `json:"analog_threshold"`
	} `json:"polling"`
	Paths struct {
		StatePath string `json:"state_path"`
	} `json:"paths"`
	Online bool         `json:"online"`
	S      map[int]bool `json:"s"`
	P      map[int]bool `json:"p"`
	A      map[int]int  `json:"a"`
}

func (s *Server) buildStatus() statusResponse {
	cfg := s.provider.Config()
	snap := s.provider.Snapshot()

	var resp statusResponse
	resp.MQTT.Host = cfg.MQTT.Host
	resp.MQTT.Port = cfg.MQTT.Port
	resp.MQTT.BaseTopic = cfg.MQTT.BaseTopic
	resp.Serial.ArduinoPort = cfg.Serial.ArduinoPort
	resp.Serial.WatchdogPort = cfg.Serial.WatchdogPort
	resp.Polling.DigitalHz = cfg.Polling.DigitalHz
	resp.Polling.AnalogIntervalMs = cfg.Polling.AnalogIntervalMs
	resp.Polling.AnalogThreshold = cfg.Polling.AnalogThreshold
	resp.Paths.StatePath = cfg.Paths.StatePath
	resp.Online = snap.Online
	resp.S = snap.S
	resp.P = snap.P
	resp.A = snap.A
	return resp
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.buildStatus()); err != nil {
		log.Printf("adminhttp: encode status failed: %v", err)
	}
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := s.reload(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleWS pushes one status frame per digital poll period until the client
// disconnects.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("adminhttp: websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	var writeMu sync.Mutex
	ticker := time.NewTicker(s.provider.Config().DigitalPeriod())
	defer ticker.Stop()

	for range ticker.C {
		writeMu.Lock()
		err := conn.WriteJSON(s.buildStatus())
		writeMu.Unlock()
		if err != nil {
			return
		}
	}
}
