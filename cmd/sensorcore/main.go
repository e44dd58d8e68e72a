package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/sysgrow/sensorcore/internal/arbitrator"
	"github.com/sysgrow/sensorcore/internal/broadcast"
	"github.com/sysgrow/sensorcore/internal/config"
	"github.com/sysgrow/sensorcore/internal/eventbus"
	"github.com/sysgrow/sensorcore/internal/httpapi"
	"github.com/sysgrow/sensorcore/internal/ingest/mqttrouter"
	"github.com/sysgrow/sensorcore/internal/ingest/polling"
	"github.com/sysgrow/sensorcore/internal/logging"
	"github.com/sysgrow/sensorcore/internal/registry"
	"github.com/sysgrow/sensorcore/pkg/sensors"
)

const serviceName = "sensorcore"
const serviceVersion = "0.1.0"

var configPath string

func main() {
	ctx, logger := logging.NewLogger(context.Background(), serviceName, serviceVersion)

	flag.StringVar(&configPath, "config", "/opt/sensorcore/config.yaml", "Path to the YAML configuration file")
	flag.Parse()

	cfg := loadConfigOrDefault(logger)

	reg := registry.New()
	arb := arbitrator.New(cfg.Arbitrator.StaleSeconds, cfg.Arbitrator.MaxTrackedSensors)
	bc := broadcast.New()
	defer bc.Shutdown()
	bus := eventbus.New(ctx)

	if cfg.MQTT.Configured() {
		router := mqttrouter.New(cfg.MQTT, reg, arb, bc, bus)
		if err := router.Start(ctx); err != nil {
			logger.Error().Err(err).Msg("mqtt router failed to start; continuing without wireless ingestion")
		} else {
			defer router.Stop(context.Background())
		}
	}

	pollingCfg := polling.Config{
		Interval:    secondsOrDefault(cfg.Polling.DefaultIntervalSeconds, polling.DefaultConfig().Interval),
		BackoffBase: secondsOrDefault(cfg.Polling.BackoffBaseSeconds, polling.DefaultConfig().BackoffBase),
		BackoffCap:  secondsOrDefault(cfg.Polling.BackoffCapSeconds, polling.DefaultConfig().BackoffCap),
	}
	poller := polling.New(pollingCfg, reg, arb, unimplementedReader{}, bc, bus)
	poller.Start(ctx)
	defer poller.Stop()

	r := chi.NewRouter()
	httpapi.RegisterHandlers(logger, r, reg, arb, poller, bc)

	logger.Info().Str("address", cfg.HTTP.Address).Msg("listening")
	if err := http.ListenAndServe(cfg.HTTP.Address, r); err != nil {
		logger.Fatal().Err(err).Msg("failed to start http server")
	}
}

func loadConfigOrDefault(logger zerolog.Logger) config.Config {
	f, err := os.Open(configPath)
	if err != nil {
		logger.Info().Str("path", configPath).Msg("no config file found, using defaults")
		return config.Default()
	}

	cfg, err := config.New(f)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to parse configuration file")
	}
	return *cfg
}

func secondsOrDefault(seconds int, fallback time.Duration) time.Duration {
	if seconds <= 0 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}

// unimplementedReader is wired until a concrete GPIO/I2C/ADC/SPI/OneWire
// driver is selected; every wired sensor simply fails its poll and enters
// backoff rather than panicking the process.
type unimplementedReader struct{}

func (unimplementedReader) Read(sensor sensors.Sensor) (map[string]any, error) {
	return nil, fmt.Errorf("no hardware driver wired for protocol %q", sensor.Protocol)
}
