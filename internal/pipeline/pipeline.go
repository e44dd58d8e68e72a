// Package pipeline implements C6: the orchestrator chaining canonicalize ->
// validate -> calibrate -> transform -> enrich, and assembling the payloads
// fed to the broadcast surface and the internal event bus.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/sysgrow/sensorcore/internal/arbitrator"
	"github.com/sysgrow/sensorcore/internal/pipeline/calibrate"
	"github.com/sysgrow/sensorcore/internal/pipeline/canon"
	"github.com/sysgrow/sensorcore/internal/pipeline/enrich"
	"github.com/sysgrow/sensorcore/internal/pipeline/transform"
	"github.com/sysgrow/sensorcore/internal/pipeline/validate"
	"github.com/sysgrow/sensorcore/pkg/sensors"
)

// metaKeys are the fields the canonicalizer preserves verbatim rather than
// aliasing/flattening, and which never end up in a device payload's numeric
// readings map.
var metaKeys = map[string]struct{}{
	"battery":         {},
	"linkquality":     {},
	"report_interval": {},
}

// ControllerEvent is one (name, payload) pair destined for the internal
// event bus (C12).
type ControllerEvent struct {
	Name    string
	Payload map[string]any
}

// DevicePayload is the full per-sensor reading payload destined for the
// broadcast surface's device namespace.
type DevicePayload struct {
	SchemaVersion      int
	SensorID           int
	UnitID             int
	SensorName         string
	SensorType         string
	Readings           map[sensors.Metric]float64
	Units              map[sensors.Metric]string
	Status             string
	Timestamp          time.Time
	Battery            *int
	PowerSource        string
	Linkquality        *int
	QualityScore       *float64
	IsAnomaly          bool
	AnomalyReason      string
	CalibrationApplied bool
}

// PreparedPayloads is the result of running one reading through the full
// pipeline: the always-present device payload, an optional dashboard
// snapshot, and the controller events to fan out over the event bus.
type PreparedPayloads struct {
	UnitID            int
	DevicePayload     DevicePayload
	DashboardSnapshot *arbitrator.DashboardSnapshot
	ControllerEvents  []ControllerEvent
}

// Pipeline chains the processing stages for one sensor.
type Pipeline struct {
	Sensor      sensors.Sensor
	Canon       *canon.Canonicalizer
	Validator   *validate.Validator
	Arbitrator  *arbitrator.Arbitrator
	ResolveSensor arbitrator.ResolveSensorFunc
}

// New builds a Pipeline for sensor, wiring a category-appropriate validator
// and a canonicalizer that preserves the meta keys in metaKeys.
func New(sensor sensors.Sensor, arb *arbitrator.Arbitrator, resolve arbitrator.ResolveSensorFunc) *Pipeline {
	c := canon.New()
	for k := range metaKeys {
		c.MetaKeys[k] = struct{}{}
	}
	return &Pipeline{
		Sensor:        sensor,
		Canon:         c,
		Validator:     validate.New(sensor.Category),
		Arbitrator:    arb,
		ResolveSensor: resolve,
	}
}

// Process runs the full pipeline over raw and returns the resulting
// reading. A critical validation failure is returned as an error; the
// caller must drop the reading rather than emit it.
func (p *Pipeline) Process(ctx context.Context, raw map[string]sensors.Value) (sensors.Reading, error) {
	sanitized := p.Canon.Canonicalize(raw)

	result := p.Validator.Validate(sanitized)
	if !result.Valid() {
		return sensors.Reading{}, result.Err()
	}

	calibrated := calibrate.Apply(ctx, sanitized, p.Sensor.Calibration)

	reading := transform.New(p.Sensor).Transform(calibrated)
	reading = enrich.Enrich(reading)

	return reading, nil
}

// BuildPayloads constructs the device payload, dashboard snapshot, and
// controller events for reading. It returns (zero, false) when the reading
// carries no valid unit_id, sensor_id, or numeric data — a signal to the
// caller to drop it entirely rather than emit an empty payload.
func (p *Pipeline) BuildPayloads(reading sensors.Reading) (PreparedPayloads, bool) {
	if reading.UnitID <= 0 || reading.SensorID <= 0 {
		return PreparedPayloads{}, false
	}

	numeric := numericReadings(reading.Data)
	if len(numeric) == 0 {
		return PreparedPayloads{}, false
	}

	device := p.buildDevicePayload(reading, numeric)

	var snapshot *arbitrator.DashboardSnapshot
	if p.Arbitrator != nil {
		snapshot = p.Arbitrator.Ingest(p.Sensor, reading, p.ResolveSensor)
	}

	events := p.buildControllerEvents(reading)

	return PreparedPayloads{
		UnitID:            reading.UnitID,
		DevicePayload:     device,
		DashboardSnapshot: snapshot,
		ControllerEvents:  events,
	}, true
}

func numericReadings(data map[sensors.Metric]sensors.Value) map[sensors.Metric]float64 {
	out := map[sensors.Metric]float64{}
	for k, v := range data {
		if sensors.IsMetaKey(k) {
			continue
		}
		if num, ok := v.Float(); ok {
			out[k] = num
		}
	}
	return out
}

func (p *Pipeline) buildDevicePayload(reading sensors.Reading, numeric map[sensors.Metric]float64) DevicePayload {
	units := make(map[sensors.Metric]string, len(numeric))
	for k := range numeric {
		units[k] = sensors.UnitFor(k)
	}

	var battery, linkquality *int
	if v, ok := reading.Data[sensors.Metric(sensors.MetaBattery)]; ok {
		if n, ok := v.Float(); ok {
			b := int(n)
			battery = &b
		}
	}
	if v, ok := reading.Data[sensors.Metric(sensors.MetaLinkquality)]; ok {
		if n, ok := v.Float(); ok {
			l := int(n)
			linkquality = &l
		}
	}

	powerSource := "mains"
	if battery != nil {
		powerSource = "battery"
	}

	return DevicePayload{
		SchemaVersion:      1,
		SensorID:           reading.SensorID,
		UnitID:             reading.UnitID,
		SensorName:         reading.SensorName,
		SensorType:         reading.Category,
		Readings:           numeric,
		Units:              units,
		Status:             string(reading.Status),
		Timestamp:          reading.Timestamp,
		Battery:            battery,
		PowerSource:        powerSource,
		Linkquality:        linkquality,
		QualityScore:       reading.QualityScore,
		IsAnomaly:          reading.IsAnomaly,
		AnomalyReason:      reading.AnomalyReason,
		CalibrationApplied: reading.CalibrationApplied,
	}
}

// isPrimary reports whether this sensor is (or would be) the primary for
// metric on this reading's unit: if a primary is already selected, it must
// match this sensor; if none is selected yet, the sensor's own declared
// primary_metrics decide (first-sensor-wins fallback).
func (p *Pipeline) isPrimary(unitID int, sensorID int, metric sensors.Metric) bool {
	if p.Arbitrator == nil {
		return true
	}
	if primary, ok := p.Arbitrator.GetPrimarySensor(unitID, metric); ok {
		return primary == sensorID
	}
	return p.Arbitrator.IsPrimaryMetric(p.Sensor, metric)
}

// buildControllerEvents mirrors the original fan-out rule: temperature and
// CO2 updates piggyback humidity/VOC respectively when both are present and
// primary-gated; pH and EC publish per-sensor with no primary gating at all.
func (p *Pipeline) buildControllerEvents(reading sensors.Reading) []ControllerEvent {
	data := reading.Data
	base := map[string]any{
		"unit_id":   reading.UnitID,
		"sensor_id": reading.SensorID,
		"timestamp": reading.Timestamp.Format(time.RFC3339),
	}

	var events []ControllerEvent

	copyBase := func() map[string]any {
		m := make(map[string]any, len(base)+2)
		for k, v := range base {
			m[k] = v
		}
		return m
	}

	temp, hasTemp := numVal(data, sensors.MetricTemperature)
	hum, hasHum := numVal(data, sensors.MetricHumidity)
	if hasTemp && p.isPrimary(reading.UnitID, reading.SensorID, sensors.MetricTemperature) {
		payload := copyBase()
		payload["temperature"] = temp
		if hasHum {
			payload["humidity"] = hum
		}
		if vpd, ok := numVal(data, sensors.MetricVPD); ok {
			payload["vpd"] = vpd
		}
		if dew, ok := numVal(data, sensors.MetricDewPoint); ok {
			payload["dew_point"] = dew
		}
		if heat, ok := numVal(data, sensors.MetricHeatIndex); ok {
			payload["heat_index"] = heat
		}
		events = append(events, ControllerEvent{Name: "sensor.temperature_update", Payload: payload})
	} else if hasHum && p.isPrimary(reading.UnitID, reading.SensorID, sensors.MetricHumidity) {
		payload := copyBase()
		payload["humidity"] = hum
		events = append(events, ControllerEvent{Name: "sensor.humidity_update", Payload: payload})
	}

	if soil, ok := numVal(data, sensors.MetricSoilMoisture); ok {
		payload := copyBase()
		payload["soil_moisture"] = soil
		events = append(events, ControllerEvent{Name: "sensor.soil_moisture_update", Payload: payload})
	}

	co2, hasCO2 := numVal(data, sensors.MetricCO2)
	voc, hasVOC := numVal(data, sensors.MetricVOC)
	if hasCO2 && p.isPrimary(reading.UnitID, reading.SensorID, sensors.MetricCO2) {
		payload := copyBase()
		payload["co2"] = co2
		if hasVOC {
			payload["voc"] = voc
		}
		events = append(events, ControllerEvent{Name: "sensor.co2_update", Payload: payload})
	} else if hasVOC && p.isPrimary(reading.UnitID, reading.SensorID, sensors.MetricVOC) {
		payload := copyBase()
		payload["voc"] = voc
		events = append(events, ControllerEvent{Name: "sensor.voc_update", Payload: payload})
	}

	if lux, ok := numVal(data, sensors.MetricLux); ok && p.isPrimary(reading.UnitID, reading.SensorID, sensors.MetricLux) {
		payload := copyBase()
		payload["lux"] = lux
		events = append(events, ControllerEvent{Name: "sensor.light_update", Payload: payload})
	}

	if pressure, ok := numVal(data, sensors.MetricPressure); ok && p.isPrimary(reading.UnitID, reading.SensorID, sensors.MetricPressure) {
		payload := copyBase()
		payload["pressure"] = pressure
		events = append(events, ControllerEvent{Name: "sensor.pressure_update", Payload: payload})
	}

	if ph, ok := numVal(data, sensors.MetricPH); ok {
		payload := copyBase()
		payload["ph"] = ph
		events = append(events, ControllerEvent{Name: "sensor.ph_update", Payload: payload})
	}

	if ec, ok := numVal(data, sensors.MetricEC); ok {
		payload := copyBase()
		payload["ec"] = ec
		events = append(events, ControllerEvent{Name: "sensor.ec_update", Payload: payload})
	}

	return events
}

func numVal(data map[sensors.Metric]sensors.Value, metric sensors.Metric) (float64, bool) {
	v, ok := data[metric]
	if !ok {
		return 0, false
	}
	return v.Float()
}

// ProcessorError wraps a stage failure so callers can distinguish a dropped
// reading from a programming error.
type ProcessorError struct {
	Stage string
	Err   error
}

func (e *ProcessorError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *ProcessorError) Unwrap() error { return e.Err }
