package pipeline

import (
	"context"
	"testing"

	"github.com/matryer/is"

	"github.com/sysgrow/sensorcore/internal/arbitrator"
	"github.com/sysgrow/sensorcore/pkg/sensors"
)

func testSensor() sensors.Sensor {
	return sensors.Sensor{
		ID:       1,
		UnitID:   1,
		Name:     "env-1",
		Category: sensors.CategoryEnvironmental,
		Protocol: sensors.ProtocolI2C,
		Config:   sensors.Config{PrimaryMetrics: []sensors.Metric{sensors.MetricTemperature}},
	}
}

func TestProcessBuildsAReadingFromRawPayload(t *testing.T) {
	is := is.New(t)

	arb := arbitrator.New(180, 500)
	p := New(testSensor(), arb, nil)

	raw := sensors.FromJSON(map[string]any{
		"temp_c": 22.0,
		"rh":     55.0,
	})

	reading, err := p.Process(context.Background(), raw)
	is.NoErr(err)
	is.Equal(reading.Status, sensors.StatusSuccess)

	f, ok := reading.Data[sensors.MetricTemperature].Float()
	is.True(ok)
	is.Equal(f, 22.0)
}

func TestProcessRejectsErrorField(t *testing.T) {
	is := is.New(t)

	arb := arbitrator.New(180, 500)
	p := New(testSensor(), arb, nil)

	raw := sensors.FromJSON(map[string]any{"error": "sensor fault"})

	_, err := p.Process(context.Background(), raw)
	is.True(err != nil)
}

func TestBuildPayloadsDropsReadingWithoutUnitID(t *testing.T) {
	is := is.New(t)

	sensor := testSensor()
	sensor.UnitID = 0
	arb := arbitrator.New(180, 500)
	p := New(sensor, arb, nil)

	raw := sensors.FromJSON(map[string]any{"temp_c": 22.0})
	reading, err := p.Process(context.Background(), raw)
	is.NoErr(err)

	_, ok := p.BuildPayloads(reading)
	is.True(!ok)
}

func TestBuildPayloadsEmitsTemperatureEventForPrimarySensor(t *testing.T) {
	is := is.New(t)

	arb := arbitrator.New(180, 500)
	resolver := func(id int) (sensors.Sensor, bool) {
		if id == 1 {
			return testSensor(), true
		}
		return sensors.Sensor{}, false
	}
	p := New(testSensor(), arb, resolver)

	raw := sensors.FromJSON(map[string]any{"temp_c": 22.0, "rh": 55.0})
	reading, err := p.Process(context.Background(), raw)
	is.NoErr(err)

	prepared, ok := p.BuildPayloads(reading)
	is.True(ok)
	is.Equal(prepared.UnitID, 1)
	is.True(prepared.DashboardSnapshot != nil)

	foundTempEvent := false
	for _, ev := range prepared.ControllerEvents {
		if ev.Name == "sensor.temperature_update" {
			foundTempEvent = true
		}
	}
	is.True(foundTempEvent)
}

func TestBuildPayloadsSkipsNonPrimarySensorTemperatureEvent(t *testing.T) {
	is := is.New(t)

	sensor := testSensor()
	sensor.Config.PrimaryMetrics = nil
	arb := arbitrator.New(180, 500)

	// A different sensor (id 2) is declared primary for temperature first.
	primarySensor := testSensor()
	primarySensor.ID = 2
	resolver := func(id int) (sensors.Sensor, bool) {
		switch id {
		case 1:
			return sensor, true
		case 2:
			return primarySensor, true
		}
		return sensors.Sensor{}, false
	}
	pPrimary := New(primarySensor, arb, resolver)
	r1, _ := pPrimary.Process(context.Background(), sensors.FromJSON(map[string]any{"temp_c": 20.0}))
	pPrimary.BuildPayloads(r1)

	p := New(sensor, arb, resolver)
	reading, _ := p.Process(context.Background(), sensors.FromJSON(map[string]any{"temp_c": 21.0}))
	prepared, ok := p.BuildPayloads(reading)
	is.True(ok)

	for _, ev := range prepared.ControllerEvents {
		is.True(ev.Name != "sensor.temperature_update")
	}
}
