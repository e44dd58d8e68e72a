package arbitrator

import (
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/sysgrow/sensorcore/pkg/sensors"
)

func envSensor(id int, primary ...sensors.Metric) sensors.Sensor {
	return sensors.Sensor{
		ID:       id,
		UnitID:   1,
		Name:     "env",
		Category: sensors.CategoryEnvironmental,
		Protocol: sensors.ProtocolI2C,
		Config:   sensors.Config{PrimaryMetrics: primary},
	}
}

func reading(unitID int, data map[sensors.Metric]sensors.Value) sensors.Reading {
	return sensors.Reading{
		UnitID:    unitID,
		Timestamp: time.Now(),
		Data:      data,
		Status:    sensors.StatusSuccess,
	}
}

func TestIngestElectsDeclaredPrimaryFirst(t *testing.T) {
	is := is.New(t)

	a := New(180, 500)
	s1 := envSensor(1, sensors.MetricTemperature)
	resolver := func(id int) (sensors.Sensor, bool) {
		return envSensor(id, sensors.MetricTemperature), true
	}

	snap := a.Ingest(s1, reading(1, map[sensors.Metric]sensors.Value{
		sensors.MetricTemperature: sensors.NumberValue(21.0),
	}), resolver)

	is.True(snap != nil)
	primary, ok := a.GetPrimarySensor(1, sensors.MetricTemperature)
	is.True(ok)
	is.Equal(primary, 1)
}

func TestIngestPrefersDeclaredPrimaryOverNonPrimary(t *testing.T) {
	is := is.New(t)

	a := New(180, 500)
	resolver := func(id int) (sensors.Sensor, bool) {
		switch id {
		case 1:
			return envSensor(1), true
		case 2:
			return envSensor(2, sensors.MetricTemperature), true
		}
		return sensors.Sensor{}, false
	}

	a.Ingest(envSensor(1), reading(1, map[sensors.Metric]sensors.Value{
		sensors.MetricTemperature: sensors.NumberValue(20.0),
	}), resolver)
	a.Ingest(envSensor(2, sensors.MetricTemperature), reading(1, map[sensors.Metric]sensors.Value{
		sensors.MetricTemperature: sensors.NumberValue(22.0),
	}), resolver)

	primary, ok := a.GetPrimarySensor(1, sensors.MetricTemperature)
	is.True(ok)
	is.Equal(primary, 2)
}

func TestManualPriorityOverridesAutoPriority(t *testing.T) {
	is := is.New(t)

	a := New(180, 500)
	resolver := func(id int) (sensors.Sensor, bool) {
		return envSensor(id), true
	}

	a.Ingest(envSensor(1), reading(1, map[sensors.Metric]sensors.Value{
		sensors.MetricTemperature: sensors.NumberValue(20.0),
	}), resolver)

	a.SetManualPriority(2, 1, nil)
	a.Ingest(envSensor(2), reading(1, map[sensors.Metric]sensors.Value{
		sensors.MetricTemperature: sensors.NumberValue(25.0),
	}), resolver)

	primary, ok := a.GetPrimarySensor(1, sensors.MetricTemperature)
	is.True(ok)
	is.Equal(primary, 2)
}

func TestGetStatsReflectsTrackedState(t *testing.T) {
	is := is.New(t)

	a := New(180, 500)
	a.Ingest(envSensor(1, sensors.MetricTemperature), reading(1, map[sensors.Metric]sensors.Value{
		sensors.MetricTemperature: sensors.NumberValue(20.0),
	}), nil)

	stats := a.GetStats()
	is.Equal(stats.IngestCount, 1)
	is.Equal(stats.TrackedSensors, 1)
	is.Equal(stats.TrackedUnits, 1)
	is.Equal(stats.PrimarySelections, 1)
}

func TestOutOfRangeConstructorArgumentsPanic(t *testing.T) {
	is := is.New(t)

	defer func() {
		r := recover()
		is.True(r != nil)
	}()
	New(1, 500)
}

func TestBuildSnapshotForUnitServesCacheWithinTTL(t *testing.T) {
	is := is.New(t)

	a := New(180, 500)
	resolver := func(id int) (sensors.Sensor, bool) {
		return envSensor(id, sensors.MetricTemperature), true
	}
	a.Ingest(envSensor(1, sensors.MetricTemperature), reading(1, map[sensors.Metric]sensors.Value{
		sensors.MetricTemperature: sensors.NumberValue(20.0),
	}), resolver)

	snap1 := a.BuildSnapshotForUnit(1, resolver, true)
	snap2 := a.BuildSnapshotForUnit(1, resolver, true)
	is.True(snap1 != nil)
	is.True(snap2 != nil)

	stats := a.GetStats()
	is.True(stats.CacheHits >= 1)
}
