// Package canon implements C1: field canonicalization. It maps the many
// alias spellings a wire payload may use for a given reading onto the
// closed metric vocabulary in pkg/sensors, and flattens the occasional
// nested-object shape ({"lux": {"value": 100}}) down to a scalar.
package canon

import (
	"strings"

	"github.com/sysgrow/sensorcore/pkg/sensors"
)

// aliases maps an incoming field spelling to its canonical metric. Lookups
// are case-sensitive on purpose: several aliases only differ by case from
// their canonical form ("CO2" vs "co2"), so normalizing case before the
// lookup would make them collide. Canonicalize lowercases only after
// the alias lookup has failed.
var aliases = map[string]sensors.Metric{
	"temp":             sensors.MetricTemperature,
	"temp_c":           sensors.MetricTemperature,
	"Temperature":      sensors.MetricTemperature,
	"humidity_percent": sensors.MetricHumidity,
	"relative_humidity": sensors.MetricHumidity,
	"Humidity":         sensors.MetricHumidity,
	"rh":               sensors.MetricHumidity,
	"moisture":         sensors.MetricSoilMoisture,
	"moisture_level":   sensors.MetricSoilMoisture,
	"Soil Moisture":    sensors.MetricSoilMoisture,
	"co2_ppm":          sensors.MetricCO2,
	"CO2":              sensors.MetricCO2,
	"eco2":             sensors.MetricCO2,
	"tvoc":             sensors.MetricVOC,
	"VOC":              sensors.MetricVOC,
	"voc_ppb":          sensors.MetricVOC,
	"Formaldehyde":     sensors.MetricVOC,
	"light":            sensors.MetricLux,
	"light_lux":        sensors.MetricLux,
	"light_level":      sensors.MetricLux,
	"light_intensity":  sensors.MetricLux,
	"illuminance":      sensors.MetricLux,
	"illuminance_lux":  sensors.MetricLux,
	"Lux":              sensors.MetricLux,
	"smoke_ppm":        sensors.MetricSmoke,
	"smoke_level":      sensors.MetricSmoke,
	"pressure_hpa":     sensors.MetricPressure,
	"ec_us_cm":         sensors.MetricEC,
	"aqi":              sensors.MetricAirQuality,
	"battery_percent":  sensors.Metric(sensors.MetaBattery),
	"Battery":          sensors.Metric(sensors.MetaBattery),
	"link_quality":     sensors.Metric(sensors.MetaLinkquality),
	"rssi":             sensors.Metric(sensors.MetaLinkquality),
}

// standardField resolves field to a canonical metric name. Unrecognized
// fields pass through unchanged (lowercased) so the validator can still
// reject or accept them by their own rules rather than canon silently
// dropping data it doesn't recognize.
func standardField(field string) sensors.Metric {
	if m, ok := aliases[field]; ok {
		return m
	}
	return sensors.Metric(strings.ToLower(field))
}

// Canonicalizer flattens and renames a raw decoded payload into canonical
// metric keys.
type Canonicalizer struct {
	// MetaKeys are field names preserved verbatim (after lowercasing) rather
	// than run through the alias table and nested-value flattening.
	// pipeline.New fills in the fixed meta-key set (battery, linkquality,
	// report_interval) so things like a raw "report_interval" survive
	// untouched.
	MetaKeys map[string]struct{}
}

func New() *Canonicalizer {
	return &Canonicalizer{MetaKeys: map[string]struct{}{}}
}

// Canonicalize standardizes raw's keys. Non-object values pass straight
// into sanitized under their resolved key; object values are flattened by
// preferring (in order) a "value" key, then "<standard>_value", then
// "<raw>_value"; if none are present the object is kept nested so the
// validator can still inspect it.
func (c *Canonicalizer) Canonicalize(raw map[string]sensors.Value) map[sensors.Metric]sensors.Value {
	sanitized := make(map[sensors.Metric]sensors.Value, len(raw))

	for k, v := range raw {
		rawKey := strings.TrimSpace(k)
		normalizedKey := strings.ToLower(rawKey)

		if _, isMeta := c.MetaKeys[normalizedKey]; isMeta {
			sanitized[sensors.Metric(normalizedKey)] = v
			continue
		}

		stdKey := sensors.Metric(strings.ToLower(string(standardField(rawKey))))

		if v.Kind == sensors.KindObject {
			if sub, ok := flattenNested(v.Object, string(stdKey), rawKey); ok {
				sanitized[stdKey] = sub
				continue
			}
			sanitized[stdKey] = v
			continue
		}

		sanitized[stdKey] = v
	}

	return sanitized
}

func flattenNested(obj map[string]sensors.Value, stdKey, rawKey string) (sensors.Value, bool) {
	if v, ok := obj["value"]; ok {
		return v, true
	}
	if v, ok := obj[stdKey+"_value"]; ok {
		return v, true
	}
	if v, ok := obj[rawKey+"_value"]; ok {
		return v, true
	}
	return sensors.Value{}, false
}
