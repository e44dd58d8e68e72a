// Package config loads the static YAML configuration: the MQTT broker
// connection, the arbitrator's tunables, the wired-sensor poll defaults, and
// the HTTP listen address.
package config

import (
	"io"

	"gopkg.in/yaml.v2"
)

// MQTTConfig describes the broker connection and client identity used by
// the ingestion router (C8).
type MQTTConfig struct {
	Broker     string `yaml:"broker"`
	ClientID   string `yaml:"client_id"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	KeepAlive  uint16 `yaml:"keepalive_seconds"`
}

// Configured reports whether enough is set to attempt a connection.
func (c MQTTConfig) Configured() bool {
	return c.Broker != ""
}

// ArbitratorConfig carries the two bounded knobs the priority arbitrator
// (C7) accepts at construction time.
type ArbitratorConfig struct {
	StaleSeconds     int `yaml:"stale_seconds"`
	MaxTrackedSensors int `yaml:"max_tracked_sensors"`
}

// PollingConfig tunes the local wired-sensor sweep (C9).
type PollingConfig struct {
	DefaultIntervalSeconds int `yaml:"default_interval_seconds"`
	BackoffBaseSeconds     int `yaml:"backoff_base_seconds"`
	BackoffCapSeconds      int `yaml:"backoff_cap_seconds"`
}

// HTTPConfig configures the status/health surface (§4.14).
type HTTPConfig struct {
	Address string `yaml:"address"`
}

// Config is the top-level configuration document.
type Config struct {
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Arbitrator ArbitratorConfig `yaml:"arbitrator"`
	Polling    PollingConfig    `yaml:"polling"`
	HTTP       HTTPConfig       `yaml:"http"`
	LogLevel   string           `yaml:"log_level"`
}

// Default returns the configuration the spec's bounds default to when no
// file is supplied.
func Default() Config {
	return Config{
		MQTT: MQTTConfig{
			ClientID:  "sensorcore",
			KeepAlive: 30,
		},
		Arbitrator: ArbitratorConfig{
			StaleSeconds:      180,
			MaxTrackedSensors: 500,
		},
		Polling: PollingConfig{
			DefaultIntervalSeconds: 30,
			BackoffBaseSeconds:     5,
			BackoffCapSeconds:      600,
		},
		HTTP: HTTPConfig{
			Address: ":8080",
		},
		LogLevel: "info",
	}
}

// New reads and parses a YAML configuration document, starting from
// Default() so an omitted section keeps its default values.
func New(r io.ReadCloser) (*Config, error) {
	defer r.Close()

	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
