// Package polling implements C9: the local polling engine that sweeps
// wired sensors (GPIO/I2C/ADC/SPI/OneWire) on a single background worker,
// tracking per-sensor health with exponential backoff after consecutive
// read failures.
package polling

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sysgrow/sensorcore/internal/arbitrator"
	"github.com/sysgrow/sensorcore/internal/broadcast"
	"github.com/sysgrow/sensorcore/internal/eventbus"
	"github.com/sysgrow/sensorcore/internal/logging"
	"github.com/sysgrow/sensorcore/internal/pipeline"
	"github.com/sysgrow/sensorcore/internal/registry"
	"github.com/sysgrow/sensorcore/pkg/sensors"
)

var errNoData = errors.New("no data returned from hardware layer")

// Config tunes the sweep interval and the backoff schedule applied after
// consecutive read failures.
type Config struct {
	Interval     time.Duration
	BackoffBase  time.Duration
	BackoffCap   time.Duration
}

// DefaultConfig mirrors the bounds a wired sensor poll loop runs at absent
// other configuration.
func DefaultConfig() Config {
	return Config{
		Interval:    30 * time.Second,
		BackoffBase: 5 * time.Second,
		BackoffCap:  600 * time.Second,
	}
}

// Engine sweeps every wired sensor in the registry once per interval,
// driving successful reads through the processing pipeline.
type Engine struct {
	cfg        Config
	registry   *registry.Registry
	arbitrator *arbitrator.Arbitrator
	reader     Reader
	broadcaster broadcast.Broadcaster
	bus        *eventbus.Bus

	mu     sync.Mutex
	health map[int]*health

	done chan struct{}
	stop chan struct{}
}

func New(cfg Config, reg *registry.Registry, arb *arbitrator.Arbitrator, reader Reader, bc broadcast.Broadcaster, bus *eventbus.Bus) *Engine {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultConfig().BackoffBase
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = DefaultConfig().BackoffCap
	}
	return &Engine{
		cfg:         cfg,
		registry:    reg,
		arbitrator:  arb,
		reader:      reader,
		broadcaster: bc,
		bus:         bus,
		health:      map[int]*health{},
		done:        make(chan struct{}),
		stop:        make(chan struct{}),
	}
}

// Start launches the single background worker. Safe to call once; call
// Stop to end the sweep and release the worker goroutine.
func (e *Engine) Start(ctx context.Context) {
	go e.run(ctx)
}

// Stop signals the worker to exit and blocks until it does.
func (e *Engine) Stop() {
	close(e.stop)
	<-e.done
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.done)

	logger := logging.GetLoggerFromContext(ctx)
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	e.sweep(ctx, logger)

	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			e.sweep(ctx, logger)
		}
	}
}

func (e *Engine) sweep(ctx context.Context, logger zerolog.Logger) {
	for _, sensor := range e.registry.Wired() {
		select {
		case <-e.stop:
			return
		default:
		}
		e.pollOne(ctx, sensor, logger)
	}
}

func (e *Engine) pollOne(ctx context.Context, sensor sensors.Sensor, logger zerolog.Logger) {
	h := e.healthFor(sensor.ID)
	now := time.Now()
	if h.inBackoff(now) {
		return
	}

	raw, err := e.reader.Read(sensor)
	if err != nil {
		e.handleFailure(h, sensor, err, logger)
		return
	}
	if len(raw) == 0 {
		e.handleFailure(h, sensor, errNoData, logger)
		return
	}

	p := pipeline.New(sensor, e.arbitrator, e.registry.Resolve)
	values := sensors.FromJSON(raw)

	reading, err := p.Process(ctx, values)
	if err != nil {
		e.handleFailure(h, sensor, err, logger)
		return
	}

	prepared, ok := p.BuildPayloads(reading)
	if ok {
		for _, event := range prepared.ControllerEvents {
			e.bus.Publish(event.Name, event.Payload)
		}
		if err := e.broadcaster.PublishDeviceReading(prepared.UnitID, prepared.DevicePayload); err != nil {
			logger.Warn().Err(err).Int("sensor_id", sensor.ID).Msg("device reading broadcast failed")
		}
		if prepared.DashboardSnapshot != nil {
			if err := e.broadcaster.PublishDashboardSnapshot(prepared.UnitID, prepared.DashboardSnapshot); err != nil {
				logger.Warn().Err(err).Int("sensor_id", sensor.ID).Msg("dashboard snapshot broadcast failed")
			}
		}
	}

	e.mu.Lock()
	h.recordSuccess(now)
	e.mu.Unlock()
}

func (e *Engine) handleFailure(h *health, sensor sensors.Sensor, err error, logger zerolog.Logger) {
	e.mu.Lock()
	count, delay := h.recordFailure(time.Now(), err)
	e.mu.Unlock()

	if count == 1 || count%10 == 0 {
		logger.Warn().
			Int("sensor_id", sensor.ID).
			Int("failure_count", count).
			Dur("backoff", delay).
			Err(err).
			Msg("wired sensor failing consistently")
	}
}

func (e *Engine) healthFor(sensorID int) *health {
	e.mu.Lock()
	defer e.mu.Unlock()
	h, ok := e.health[sensorID]
	if !ok {
		h = &health{
			SensorID: sensorID,
			Status:   sensors.HealthUnknown,
			backoff:  newBackoffTimer(e.cfg.BackoffBase, e.cfg.BackoffCap),
		}
		e.health[sensorID] = h
	}
	return h
}

// Status returns a point-in-time snapshot of every sensor the engine has
// ever attempted to poll.
func (e *Engine) Status() []Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Snapshot, 0, len(e.health))
	for _, h := range e.health {
		out = append(out, h.snapshot())
	}
	return out
}
