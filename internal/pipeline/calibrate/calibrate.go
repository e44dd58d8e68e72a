// Package calibrate implements C3: applying a sensor's per-metric
// calibration record to the numeric values already present in a
// canonicalized reading.
package calibrate

import (
	"context"

	"github.com/sysgrow/sensorcore/internal/logging"
	"github.com/sysgrow/sensorcore/pkg/sensors"
)

// calibratable is the set of metrics calibration ever touches. Anything
// outside this set passes through untouched even if the sensor carries a
// calibration record.
var calibratable = map[sensors.Metric]struct{}{
	sensors.MetricTemperature:  {},
	sensors.MetricHumidity:     {},
	sensors.MetricSoilMoisture: {},
	sensors.MetricLux:          {},
	sensors.MetricCO2:          {},
	sensors.MetricVOC:          {},
	sensors.MetricPressure:     {},
	sensors.MetricPH:           {},
	sensors.MetricEC:           {},
	sensors.MetricAirQuality:   {},
}

// Apply runs cal.Apply over every calibratable numeric metric in data,
// returning a new map. A metric whose calibration fails (missing
// parameters) keeps its raw value and is logged rather than aborting the
// reading.
func Apply(ctx context.Context, data map[sensors.Metric]sensors.Value, cal *sensors.CalibrationRecord) map[sensors.Metric]sensors.Value {
	if cal == nil {
		return data
	}

	out := make(map[sensors.Metric]sensors.Value, len(data))
	for k, v := range data {
		out[k] = v
	}

	logger := logging.GetLoggerFromContext(ctx)

	for metric := range calibratable {
		v, ok := out[metric]
		if !ok || v.Kind != sensors.KindNumber {
			continue
		}

		calibrated, err := cal.Apply(v.Number)
		if err != nil {
			logger.Error().Err(err).Str("metric", string(metric)).Int("sensor_id", cal.SensorID).Msg("calibration failed, keeping raw value")
			continue
		}

		out[metric] = sensors.NumberValue(calibrated)
	}

	return out
}
