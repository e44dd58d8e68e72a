package polling

import (
	"errors"
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/sysgrow/sensorcore/pkg/sensors"
)

func newTestHealth() *health {
	return &health{
		SensorID: 1,
		Status:   sensors.HealthUnknown,
		backoff:  newBackoffTimer(5*time.Second, 600*time.Second),
	}
}

func TestHealthRecordFailureEntersBackoff(t *testing.T) {
	is := is.New(t)

	h := newTestHealth()
	now := time.Now()

	count, delay := h.recordFailure(now, errors.New("read timeout"))
	is.Equal(count, 1)
	is.Equal(delay, 5*time.Second)
	is.Equal(h.Status, sensors.HealthUnhealthy)
	is.Equal(h.LastError, "read timeout")
	is.True(h.inBackoff(now.Add(time.Second)))
	is.True(!h.inBackoff(now.Add(6*time.Second)))
}

func TestHealthRecordFailureAdvancesBackoffEachCall(t *testing.T) {
	is := is.New(t)

	h := newTestHealth()
	now := time.Now()

	h.recordFailure(now, errors.New("e1"))
	count, delay := h.recordFailure(now, errors.New("e2"))

	is.Equal(count, 2)
	is.Equal(delay, 10*time.Second)
}

func TestHealthRecordSuccessClearsState(t *testing.T) {
	is := is.New(t)

	h := newTestHealth()
	now := time.Now()
	h.recordFailure(now, errors.New("boom"))

	h.recordSuccess(now.Add(time.Minute))

	is.Equal(h.Status, sensors.HealthHealthy)
	is.Equal(h.FailureCount, 0)
	is.Equal(h.LastError, "")
	is.True(!h.inBackoff(now.Add(time.Minute)))
}

func TestHealthSnapshotReflectsState(t *testing.T) {
	is := is.New(t)

	h := newTestHealth()
	now := time.Now()
	h.recordFailure(now, errors.New("boom"))

	snap := h.snapshot()
	is.Equal(snap.SensorID, 1)
	is.Equal(snap.Status, sensors.HealthUnhealthy)
	is.Equal(snap.FailureCount, 1)
	is.Equal(snap.LastError, "boom")
}
