// Package transform implements C4: turning validated, calibrated data into
// an immutable sensors.Reading, including status derivation.
package transform

import (
	"time"

	"github.com/sysgrow/sensorcore/pkg/sensors"
)

// Transformer builds readings for one sensor.
type Transformer struct {
	Sensor sensors.Sensor
}

func New(sensor sensors.Sensor) *Transformer {
	return &Transformer{Sensor: sensor}
}

// Transform builds a Reading from data. Status is derived in a fixed
// precedence: error field, then mock marker, then low-battery or
// weak-signal warning, else success.
func (t *Transformer) Transform(data map[sensors.Metric]sensors.Value) sensors.Reading {
	return sensors.Reading{
		SensorID:           t.Sensor.ID,
		UnitID:             t.Sensor.UnitID,
		Category:           string(t.Sensor.Category),
		SensorName:         t.Sensor.Name,
		Data:               data,
		Timestamp:          time.Now(),
		Status:             determineStatus(data),
		CalibrationApplied: t.Sensor.Calibration != nil,
	}
}

func determineStatus(data map[sensors.Metric]sensors.Value) sensors.Status {
	if _, ok := data["error"]; ok {
		return sensors.StatusError
	}

	if status, ok := data["status"]; ok && status.Kind == sensors.KindString && status.String == "MOCK" {
		return sensors.StatusMock
	}

	if battery, ok := data[sensors.Metric(sensors.MetaBattery)]; ok {
		if v, isNum := battery.Float(); isNum && v < 20 {
			return sensors.StatusWarning
		}
	}

	if lq, ok := data[sensors.Metric(sensors.MetaLinkquality)]; ok {
		if v, isNum := lq.Float(); isNum && v < 50 {
			return sensors.StatusWarning
		}
	}

	return sensors.StatusSuccess
}
