// Package enrich implements C5: deriving psychrometric metrics from
// temperature and humidity, and scoring reading quality.
package enrich

import (
	"math"

	"github.com/sysgrow/sensorcore/pkg/sensors"
)

// Enrich returns a new reading with derived metrics (VPD, dew point, heat
// index) filled in when temperature and humidity are both present, and a
// quality score attached. Readings already in error status pass through
// unchanged: there is nothing to derive from data that failed validation.
func Enrich(reading sensors.Reading) sensors.Reading {
	if reading.Status == sensors.StatusError {
		return reading
	}

	data := make(map[sensors.Metric]sensors.Value, len(reading.Data)+3)
	for k, v := range reading.Data {
		data[k] = v
	}

	tempVal, hasTemp := data[sensors.MetricTemperature]
	humVal, hasHumidity := data[sensors.MetricHumidity]

	if hasTemp && hasHumidity {
		temp, tOK := tempVal.Float()
		hum, hOK := humVal.Float()
		if tOK && hOK {
			vpd := VPDkPa(temp, hum)
			data[sensors.MetricVPD] = sensors.NumberValue(vpd)

			dew := DewPointC(temp, hum)
			data[sensors.MetricDewPoint] = sensors.NumberValue(dew)

			heat := HeatIndexC(temp, hum)
			data[sensors.MetricHeatIndex] = sensors.NumberValue(heat)
		}
	}

	score := qualityScore(data)

	out := reading.WithData(data)
	out.QualityScore = &score
	return out
}

// VPDkPa computes vapor pressure deficit in kPa from temperature (°C) and
// relative humidity (%) using the Magnus-Tetens saturation vapor pressure
// approximation.
func VPDkPa(tempC, humidityPct float64) float64 {
	svp := saturationVaporPressureKPa(tempC)
	avp := svp * (humidityPct / 100.0)
	vpd := svp - avp
	if vpd < 0 {
		vpd = 0
	}
	return round3(vpd)
}

func saturationVaporPressureKPa(tempC float64) float64 {
	return 0.6108 * math.Exp((17.27*tempC)/(tempC+237.3))
}

// DewPointC computes dew point in °C from temperature (°C) and relative
// humidity (%) via the Magnus-Tetens inversion.
func DewPointC(tempC, humidityPct float64) float64 {
	const a = 17.27
	const b = 237.3

	if humidityPct <= 0 {
		humidityPct = 0.01
	}

	alpha := (a*tempC)/(b+tempC) + math.Log(humidityPct/100.0)
	dew := (b * alpha) / (a - alpha)
	return round3(dew)
}

// HeatIndexC computes the NOAA/NWS Rothfusz regression heat index,
// converting to/from Fahrenheit internally since the regression's
// coefficients are defined in that unit. Below 27°C (80°F) the plain air
// temperature is returned, matching the NWS guidance that the regression is
// unreliable outside its fitted range.
func HeatIndexC(tempC, humidityPct float64) float64 {
	tempF := tempC*9/5 + 32

	if tempF < 80 {
		return round3(tempC)
	}

	t := tempF
	r := humidityPct

	hi := -42.379 + 2.04901523*t + 10.14333127*r -
		0.22475541*t*r - 0.00683783*t*t - 0.05481717*r*r +
		0.00122874*t*t*r + 0.00085282*t*r*r - 0.00000199*t*t*r*r

	return round3((hi - 32) * 5 / 9)
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// expectedFields returns which of temperature, humidity, soil_moisture, lux,
// co2 and voc are present in data. No metric is added for a missing sibling,
// so every expected field is present and the completeness factor in
// qualityScore is always 1.
func expectedFields(data map[sensors.Metric]sensors.Value) []sensors.Metric {
	var expected []sensors.Metric

	if _, ok := data[sensors.MetricTemperature]; ok {
		expected = append(expected, sensors.MetricTemperature)
	}
	if _, ok := data[sensors.MetricHumidity]; ok {
		expected = append(expected, sensors.MetricHumidity)
	}
	if _, ok := data[sensors.MetricSoilMoisture]; ok {
		expected = append(expected, sensors.MetricSoilMoisture)
	}
	if _, ok := data[sensors.MetricLux]; ok {
		expected = append(expected, sensors.MetricLux)
	}
	if _, ok := data[sensors.MetricCO2]; ok {
		expected = append(expected, sensors.MetricCO2)
	}
	if _, ok := data[sensors.MetricVOC]; ok {
		expected = append(expected, sensors.MetricVOC)
	}

	return expected
}

// qualityScore scores a reading 0.0-1.0: completeness against
// expectedFields, penalized for low battery, weak signal, and the presence
// of an error field.
func qualityScore(data map[sensors.Metric]sensors.Value) float64 {
	score := 1.0

	expected := expectedFields(data)
	if len(expected) > 0 {
		present := 0
		for _, f := range expected {
			if _, ok := data[f]; ok {
				present++
			}
		}
		score *= float64(present) / float64(len(expected))
	}

	if battery, ok := data[sensors.Metric(sensors.MetaBattery)]; ok {
		if v, numOK := battery.Float(); numOK {
			switch {
			case v < 20:
				score *= 0.7
			case v < 50:
				score *= 0.9
			}
		}
	}

	if lq, ok := data[sensors.Metric(sensors.MetaLinkquality)]; ok {
		if v, numOK := lq.Float(); numOK {
			switch {
			case v < 50:
				score *= 0.7
			case v < 100:
				score *= 0.9
			}
		}
	}

	if _, ok := data["error"]; ok {
		score *= 0.3
	}

	return round3(score)
}
