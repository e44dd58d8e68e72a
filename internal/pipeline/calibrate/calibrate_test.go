package calibrate

import (
	"context"
	"testing"

	"github.com/matryer/is"

	"github.com/sysgrow/sensorcore/pkg/sensors"
)

func ptr(f float64) *float64 { return &f }

func TestApplyReturnsDataUnchangedWithNilCalibration(t *testing.T) {
	is := is.New(t)

	data := map[sensors.Metric]sensors.Value{sensors.MetricTemperature: sensors.NumberValue(20.0)}
	out := Apply(context.Background(), data, nil)

	f, _ := out[sensors.MetricTemperature].Float()
	is.Equal(f, 20.0)
}

func TestApplyCalibratesTemperature(t *testing.T) {
	is := is.New(t)

	cal := &sensors.CalibrationRecord{Type: sensors.CalibrationLinear, Slope: ptr(1.0), Offset: ptr(2.0)}
	data := map[sensors.Metric]sensors.Value{sensors.MetricTemperature: sensors.NumberValue(20.0)}

	out := Apply(context.Background(), data, cal)
	f, _ := out[sensors.MetricTemperature].Float()
	is.Equal(f, 22.0)
}

func TestApplyLeavesNonCalibratableMetricsAlone(t *testing.T) {
	is := is.New(t)

	cal := &sensors.CalibrationRecord{Type: sensors.CalibrationLinear, Slope: ptr(2.0), Offset: ptr(0.0)}
	data := map[sensors.Metric]sensors.Value{"battery": sensors.NumberValue(90.0)}

	out := Apply(context.Background(), data, cal)
	f, _ := out["battery"].Float()
	is.Equal(f, 90.0)
}

func TestApplyKeepsRawValueWhenCalibrationFails(t *testing.T) {
	is := is.New(t)

	cal := &sensors.CalibrationRecord{Type: sensors.CalibrationLinear}
	data := map[sensors.Metric]sensors.Value{sensors.MetricTemperature: sensors.NumberValue(20.0)}

	out := Apply(context.Background(), data, cal)
	f, _ := out[sensors.MetricTemperature].Float()
	is.Equal(f, 20.0)
}

func TestApplySkipsNonNumericValues(t *testing.T) {
	is := is.New(t)

	cal := &sensors.CalibrationRecord{Type: sensors.CalibrationLinear, Slope: ptr(2.0), Offset: ptr(0.0)}
	data := map[sensors.Metric]sensors.Value{sensors.MetricTemperature: sensors.StringValue("n/a")}

	out := Apply(context.Background(), data, cal)
	is.Equal(out[sensors.MetricTemperature].AsString(), "n/a")
}
