package validate

import (
	"testing"

	"github.com/matryer/is"

	"github.com/sysgrow/sensorcore/pkg/sensors"
)

func TestValidateAcceptsInRangeEnvironmentalReading(t *testing.T) {
	is := is.New(t)

	v := New(sensors.CategoryEnvironmental)
	res := v.Validate(map[sensors.Metric]sensors.Value{
		sensors.MetricTemperature: sensors.NumberValue(22.0),
		sensors.MetricHumidity:    sensors.NumberValue(55.0),
	})

	is.True(res.Valid())
	is.Equal(len(res.Warnings), 0)
	is.NoErr(res.Err())
}

func TestValidateWarnsOnOutOfRangeNonCriticalRule(t *testing.T) {
	is := is.New(t)

	v := New(sensors.CategoryEnvironmental)
	res := v.Validate(map[sensors.Metric]sensors.Value{
		sensors.MetricTemperature: sensors.NumberValue(200.0),
	})

	is.True(res.Valid())
	is.Equal(len(res.Warnings), 1)
}

func TestValidateErrorsOnErrorField(t *testing.T) {
	is := is.New(t)

	v := New(sensors.CategoryEnvironmental)
	res := v.Validate(map[sensors.Metric]sensors.Value{
		"error": sensors.StringValue("sensor fault"),
	})

	is.True(!res.Valid())
	is.True(res.Err() != nil)
}

func TestValidateWarnsOnNonNumericMetric(t *testing.T) {
	is := is.New(t)

	v := New(sensors.CategoryEnvironmental)
	res := v.Validate(map[sensors.Metric]sensors.Value{
		sensors.MetricTemperature: sensors.StringValue("warm"),
	})

	is.True(res.Valid())
	is.Equal(len(res.Warnings), 1)
}

func TestValidateIgnoresAbsentMetrics(t *testing.T) {
	is := is.New(t)

	v := New(sensors.CategoryPlant)
	res := v.Validate(map[sensors.Metric]sensors.Value{
		sensors.MetricSoilMoisture: sensors.NumberValue(40.0),
	})

	is.True(res.Valid())
	is.Equal(len(res.Warnings), 0)
}

func TestValidatePlantCategoryChecksSoilMoistureBounds(t *testing.T) {
	is := is.New(t)

	v := New(sensors.CategoryPlant)
	res := v.Validate(map[sensors.Metric]sensors.Value{
		sensors.MetricSoilMoisture: sensors.NumberValue(150.0),
	})

	is.Equal(len(res.Warnings), 1)
}
