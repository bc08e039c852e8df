// Package config loads and defaults the bridge's configuration snapshot.
package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPathEnv names the environment variable that overrides the config
// file location.
const DefaultPathEnv = "BRIDGE_CONFIG"

// DefaultPath is used when DefaultPathEnv is unset.
const DefaultPath = "/data/config.yaml"

// PinCount is the number of analog channels the board exposes (A0..A15).
const PinCount = 16

// Device identifies the physical board for home-automation discovery.
type Device struct {
	Name         string   `yaml:"name"`
	Manufacturer string   `yaml:"manufacturer"`
	Model        string   `yaml:"model"`
	Identifiers  []string `yaml:"identifiers"`
}

// MQTT holds broker connection settings.
type MQTT struct {
	Host             string `yaml:"host"`
	Port             int    `yaml:"port"`
	Username         string `yaml:"username"`
	Password         string `yaml:"password"`
	ClientID         string `yaml:"client_id"`
	BaseTopic        string `yaml:"base_topic"`
	DiscoveryPrefix  string `yaml:"discovery_prefix"`
	RetainDiscovery  bool   `yaml:"retain_discovery"`
	KeepAliveSecs    int    `yaml:"keepalive_secs"`
	ConnectTimeoutMs int    `yaml:"connect_timeout_ms"`
}

// SerialPorts names the two serial links: the board and the watchdog.
type SerialPorts struct {
	ArduinoPort  string `yaml:"arduino_port"`
	ArduinoBaud  int    `yaml:"arduino_baud"`
	WatchdogPort string `yaml:"watchdog_port"`
	WatchdogBaud int    `yaml:"watchdog_baud"`
}

// Polling holds cadences for the digital and analog poll loops.
type Polling struct {
	DigitalHz         int `yaml:"digital_hz"`
	AnalogIntervalMs  int `yaml:"analog_interval_ms"`
	AnalogThreshold   int `yaml:"analog_threshold"`
	WatchdogIntervalS int `yaml:"watchdog_interval_secs"`
}

// Paths locates the on-disk state store and the failsafe map file.
type Paths struct {
	StatePath    string `yaml:"state_path"`
	FailsafePath string `yaml:"failsafe_path"`
}

// Retry configures the handshake retry policy.
type Retry struct {
	HandshakeAttempts  int `yaml:"handshake_attempts"`
	HandshakeTimeoutMs int `yaml:"handshake_timeout_ms"`
}

// Inputs holds per-channel enable flags for analog reads.
type Inputs struct {
	AnalogEnabled [PinCount]bool `yaml:"-"`
	// AnalogEnabledList is the YAML-facing representation; indices not
	// present default to enabled so existing configs need not list all 16.
	AnalogEnabledList []bool `yaml:"analog_enabled"`
}

// Config is an immutable configuration snapshot. A reload produces a new
// Config value; nothing mutates an existing one in place.
type Config struct {
	Device            Device      `yaml:"device"`
	MQTT              MQTT        `yaml:"mqtt"`
	Serial            SerialPorts `yaml:"serial"`
	Polling           Polling     `yaml:"polling"`
	Paths             Paths       `yaml:"paths"`
	Retry             Retry       `yaml:"retry"`
	Inputs            Inputs      `yaml:"inputs"`
	CommandFaultFatal bool        `yaml:"command_fault_fatal"`
}

// HandshakeTimeout returns the configured handshake timeout as a Duration.
func (c Config) HandshakeTimeout() time.Duration {
	return time.Duration(c.Retry.HandshakeTimeoutMs) * time.Millisecond
}

// DigitalPeriod returns the target sweep period for the digital poll loop.
func (c Config) DigitalPeriod() time.Duration {
	hz := c.Polling.DigitalHz
	if hz < 1 {
		hz = 1
	}
	return time.Second / time.Duration(hz)
}

// AnalogPeriod returns the analog poll loop period, floored at 50ms.
func (c Config) AnalogPeriod() time.Duration {
	ms := c.Polling.AnalogIntervalMs
	if ms < 50 {
		ms = 50
	}
	return time.Duration(ms) * time.Millisecond
}

func defaultConfig() Config {
	cfg := Config{
		Device: Device{
			Name:         "jarvis_arduino",
			Manufacturer: "Hudrolax",
			Model:        "JA01",
			Identifiers:  []string{"ja01-arduino-7573532333035190B061"},
		},
		MQTT: MQTT{
			Host:             "localhost",
			Port:             1883,
			ClientID:         "arduino-bridge",
			BaseTopic:        "home/jarvis_arduino",
			DiscoveryPrefix:  "homeassistant",
			RetainDiscovery:  true,
			KeepAliveSecs:    15,
			ConnectTimeoutMs: 5000,
		},
		Serial: SerialPorts{
			ArduinoPort:  "/dev/ttyACM1",
			ArduinoBaud:  57600,
			WatchdogPort: "/dev/ttyACM0",
			WatchdogBaud: 9600,
		},
		Polling: Polling{
			DigitalHz:         50,
			AnalogIntervalMs:  1000,
			AnalogThreshold:   5,
			WatchdogIntervalS: 3,
		},
		Paths: Paths{
			StatePath:    "/data/state.json",
			FailsafePath: "/data/failsafe.yaml",
		},
		Retry: Retry{
			HandshakeAttempts:  3,
			HandshakeTimeoutMs: 2500,
		},
		CommandFaultFatal: false,
	}
	for i := range cfg.Inputs.AnalogEnabled {
		cfg.Inputs.AnalogEnabled[i] = true
	}
	return cfg
}

// Path resolves the config file location from the environment.
func Path() string {
	if p := os.Getenv(DefaultPathEnv); p != "" {
		return p
	}
	return DefaultPath
}

// Load reads the config file at path, applying defaults for anything unset.
// If the file does not exist, a default Config is written to path (when
// possible) and returned so a fresh install starts with a usable file.
func Load(path string) (Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		if saveErr := Save(cfg, path); saveErr != nil {
			// A failed write-back is not fatal: run with defaults in memory.
			return cfg, nil
		}
		return cfg, nil
	}
	if err != nil {
		return Config{}, err
	}

	raw := defaultConfig()
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, err
	}
	applyAnalogEnabledList(&raw)
	return raw, nil
}

func applyAnalogEnabledList(cfg *Config) {
	if len(cfg.Inputs.AnalogEnabledList) == 0 {
		for i := range cfg.Inputs.AnalogEnabled {
			cfg.Inputs.AnalogEnabled[i] = true
		}
		return
	}
	for i := range cfg.Inputs.AnalogEnabled {
		if i < len(cfg.Inputs.AnalogEnabledList) {
			cfg.Inputs.AnalogEnabled[i] = cfg.Inputs.AnalogEnabledList[i]
		} else {
			cfg.Inputs.AnalogEnabled[i] = true
		}
	}
}

// Save atomically writes cfg to path as YAML, creating the parent directory
// if needed.
func Save(cfg Config, path string) error {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	out := cfg
	out.Inputs.AnalogEnabledList = out.Inputs.AnalogEnabled[:]

	data, err := yaml.Marshal(out)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".tmp_config_*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
