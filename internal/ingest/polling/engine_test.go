package polling

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/matryer/is"
	"github.com/rs/zerolog"

	"github.com/sysgrow/sensorcore/internal/arbitrator"
	"github.com/sysgrow/sensorcore/internal/broadcast"
	"github.com/sysgrow/sensorcore/internal/eventbus"
	"github.com/sysgrow/sensorcore/internal/registry"
	"github.com/sysgrow/sensorcore/pkg/sensors"
)

func wiredTestSensor() sensors.Sensor {
	return sensors.Sensor{
		ID:       1,
		UnitID:   1,
		Name:     "soil-1",
		Category: sensors.CategoryPlant,
		Protocol: sensors.ProtocolI2C,
		Config:   sensors.Config{PrimaryMetrics: []sensors.Metric{sensors.MetricSoilMoisture}},
	}
}

func newTestEngine(reader Reader) (*Engine, *registry.Registry) {
	reg := registry.New()
	arb := arbitrator.New(180, 500)
	bc := broadcast.New()
	bus := eventbus.New(context.Background())
	cfg := Config{Interval: time.Hour, BackoffBase: 5 * time.Second, BackoffCap: 600 * time.Second}
	return New(cfg, reg, arb, reader, bc, bus), reg
}

func TestPollOneRecordsSuccess(t *testing.T) {
	is := is.New(t)

	reader := ReaderFunc(func(sensor sensors.Sensor) (map[string]any, error) {
		return map[string]any{"moisture": 42.0}, nil
	})
	e, reg := newTestEngine(reader)
	reg.Register(wiredTestSensor())

	logger := zerolog.Nop()
	e.pollOne(context.Background(), wiredTestSensor(), logger)

	statuses := e.Status()
	is.Equal(len(statuses), 1)
	is.Equal(statuses[0].Status, sensors.HealthHealthy)
	is.Equal(statuses[0].FailureCount, 0)
}

func TestPollOneRecordsFailureAndEntersBackoff(t *testing.T) {
	is := is.New(t)

	reader := ReaderFunc(func(sensor sensors.Sensor) (map[string]any, error) {
		return nil, errors.New("i2c timeout")
	})
	e, _ := newTestEngine(reader)

	logger := zerolog.Nop()
	e.pollOne(context.Background(), wiredTestSensor(), logger)

	statuses := e.Status()
	is.Equal(len(statuses), 1)
	is.Equal(statuses[0].Status, sensors.HealthUnhealthy)
	is.Equal(statuses[0].FailureCount, 1)
	is.Equal(statuses[0].LastError, "i2c timeout")
}

func TestPollOneSkipsReadWhileInBackoff(t *testing.T) {
	is := is.New(t)

	attempts := 0
	reader := ReaderFunc(func(sensor sensors.Sensor) (map[string]any, error) {
		attempts++
		return nil, errors.New("i2c timeout")
	})
	e, _ := newTestEngine(reader)
	logger := zerolog.Nop()

	e.pollOne(context.Background(), wiredTestSensor(), logger)
	e.pollOne(context.Background(), wiredTestSensor(), logger)

	is.Equal(attempts, 1)
}

func TestPollOneTreatsEmptyDataAsFailure(t *testing.T) {
	is := is.New(t)

	reader := ReaderFunc(func(sensor sensors.Sensor) (map[string]any, error) {
		return map[string]any{}, nil
	})
	e, _ := newTestEngine(reader)
	logger := zerolog.Nop()

	e.pollOne(context.Background(), wiredTestSensor(), logger)

	statuses := e.Status()
	is.Equal(statuses[0].LastError, errNoData.Error())
}

func TestEngineStartStopSweepsAtLeastOnce(t *testing.T) {
	is := is.New(t)

	reads := 0
	reader := ReaderFunc(func(sensor sensors.Sensor) (map[string]any, error) {
		reads++
		return map[string]any{"moisture": 42.0}, nil
	})
	e, reg := newTestEngine(reader)
	reg.Register(wiredTestSensor())

	e.Start(context.Background())
	time.Sleep(20 * time.Millisecond)
	e.Stop()

	is.True(reads >= 1)
}
