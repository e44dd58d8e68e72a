package config

import (
	"io"
	"strings"
	"testing"

	"github.com/matryer/is"
)

func TestDefaultBounds(t *testing.T) {
	is := is.New(t)

	cfg := Default()

	is.Equal(cfg.Arbitrator.StaleSeconds, 180)
	is.Equal(cfg.Arbitrator.MaxTrackedSensors, 500)
	is.Equal(cfg.Polling.BackoffCapSeconds, 600)
	is.True(!cfg.MQTT.Configured())
}

func TestNewOverridesOnlySpecifiedFields(t *testing.T) {
	is := is.New(t)

	doc := `
mqtt:
  broker: tcp://broker.local:1883
arbitrator:
  stale_seconds: 60
`
	cfg, err := New(io.NopCloser(strings.NewReader(doc)))
	is.NoErr(err)

	is.Equal(cfg.MQTT.Broker, "tcp://broker.local:1883")
	is.True(cfg.MQTT.Configured())
	is.Equal(cfg.Arbitrator.StaleSeconds, 60)
	// untouched sections keep their defaults
	is.Equal(cfg.Arbitrator.MaxTrackedSensors, 500)
	is.Equal(cfg.Polling.DefaultIntervalSeconds, 30)
	is.Equal(cfg.HTTP.Address, ":8080")
}

func TestNewRejectsMalformedYAML(t *testing.T) {
	is := is.New(t)

	_, err := New(io.NopCloser(strings.NewReader("not: [valid: yaml")))
	is.True(err != nil)
}
