package polling

import (
	"time"

	"github.com/sysgrow/sensorcore/pkg/sensors"
)

// health tracks one wired sensor's operational state across poll cycles:
// its exponential-backoff schedule after consecutive failures, and the
// fields surfaced by the status endpoint.
type health struct {
	SensorID     int
	Status       sensors.HealthState
	LastSeen     time.Time
	FailureCount int
	LastError    string
	backoffUntil time.Time
	backoff      backoffTimer
}

// Snapshot is the read-only view of a sensor's health for callers outside
// the engine (the status endpoint).
type Snapshot struct {
	SensorID     int
	Status       sensors.HealthState
	LastSeen     time.Time
	FailureCount int
	LastError    string
}

func (h *health) snapshot() Snapshot {
	return Snapshot{
		SensorID:     h.SensorID,
		Status:       h.Status,
		LastSeen:     h.LastSeen,
		FailureCount: h.FailureCount,
		LastError:    h.LastError,
	}
}

func (h *health) inBackoff(now time.Time) bool {
	return !h.backoffUntil.IsZero() && now.Before(h.backoffUntil)
}

func (h *health) recordSuccess(now time.Time) {
	h.Status = sensors.HealthHealthy
	h.LastSeen = now
	h.FailureCount = 0
	h.LastError = ""
	h.backoffUntil = time.Time{}
	h.backoff.Reset()
}

// recordFailure advances the backoff schedule and reports the new failure
// count and computed delay so the caller can decide whether this failure
// crosses the logging threshold (first failure, then every 10th).
func (h *health) recordFailure(now time.Time, err error) (failureCount int, delay time.Duration) {
	h.Status = sensors.HealthUnhealthy
	h.FailureCount++
	h.LastError = err.Error()
	delay = h.backoff.NextBackOff()
	h.backoffUntil = now.Add(delay)
	return h.FailureCount, delay
}
