package sensors

// Metric is a canonical metric name in the closed vocabulary. The
// canonicalizer also produces Metric values outside this file's constants:
// a key with no alias match is passed through lowercased rather than
// dropped.
type Metric string

const (
	MetricTemperature  Metric = "temperature"
	MetricHumidity     Metric = "humidity"
	MetricSoilMoisture Metric = "soil_moisture"
	MetricCO2          Metric = "co2"
	MetricVOC          Metric = "voc"
	MetricAirQuality   Metric = "air_quality"
	MetricEC           Metric = "ec"
	MetricPH           Metric = "ph"
	MetricSmoke        Metric = "smoke"
	MetricPressure     Metric = "pressure"
	MetricLux          Metric = "lux"
	MetricFullSpectrum Metric = "full_spectrum"
	MetricInfrared     Metric = "infrared"
	MetricVisible      Metric = "visible"
	MetricBattery      Metric = "battery"
	MetricLinkquality  Metric = "linkquality"

	// Derived metrics, added only by the enricher.
	MetricVPD        Metric = "vpd"
	MetricDewPoint   Metric = "dew_point"
	MetricHeatIndex  Metric = "heat_index"
)

// MetaKey is a field carried through the pipeline that is not itself a
// metric: it never appears in the numeric readings map of a device payload,
// and is excluded from dashboard-vocabulary election.
type MetaKey string

const (
	MetaBattery        MetaKey = "battery"
	MetaLinkquality    MetaKey = "linkquality"
	MetaReportInterval MetaKey = "report_interval"
)

var metaKeys = map[Metric]struct{}{
	Metric(MetaBattery):        {},
	Metric(MetaLinkquality):    {},
	Metric(MetaReportInterval): {},
}

// IsMetaKey reports whether m names a meta field rather than a metric.
func IsMetaKey(m Metric) bool {
	_, ok := metaKeys[m]
	return ok
}

// vocabulary is the closed set of canonical metrics, including meta keys
// but excluding derived metrics (those are added only by the enricher).
// InVocabulary checks keys against it; the canonicalizer does not filter
// on it.
var vocabulary = map[Metric]struct{}{
	MetricTemperature:  {},
	MetricHumidity:     {},
	MetricSoilMoisture: {},
	MetricCO2:          {},
	MetricVOC:          {},
	MetricAirQuality:   {},
	MetricEC:           {},
	MetricPH:           {},
	MetricSmoke:        {},
	MetricPressure:     {},
	MetricLux:          {},
	MetricFullSpectrum: {},
	MetricInfrared:     {},
	MetricVisible:      {},
	Metric(MetaBattery):        {},
	Metric(MetaLinkquality):    {},
	Metric(MetaReportInterval): {},
}

var derivedMetrics = map[Metric]struct{}{
	MetricVPD:       {},
	MetricDewPoint:  {},
	MetricHeatIndex: {},
}

// InVocabulary reports whether m is a recognized canonical metric, meta key,
// or derived metric — the full round-trip-accepted key set (invariant 4).
func InVocabulary(m Metric) bool {
	if _, ok := vocabulary[m]; ok {
		return true
	}
	_, ok := derivedMetrics[m]
	return ok
}

// DashboardMetrics is the subset of canonical metrics considered for
// per-unit dashboard snapshot assembly. Meta keys and derived metrics never
// appear here; the snapshot adds derived metrics separately.
var DashboardMetrics = []Metric{
	MetricTemperature,
	MetricHumidity,
	MetricSoilMoisture,
	MetricCO2,
	MetricVOC,
	MetricAirQuality,
	MetricEC,
	MetricPH,
	MetricSmoke,
	MetricPressure,
	MetricLux,
	MetricFullSpectrum,
	MetricInfrared,
	MetricVisible,
}

func IsDashboardMetric(m Metric) bool {
	for _, d := range DashboardMetrics {
		if d == m {
			return true
		}
	}
	return false
}

// AirMetrics is the set of metrics that prefer an environmental sensor in
// the auto-priority fallback when no sensor declares a primary_metrics set.
var AirMetrics = map[Metric]struct{}{
	MetricTemperature: {},
	MetricHumidity:    {},
	MetricPressure:    {},
	MetricCO2:         {},
	MetricVOC:         {},
	MetricAirQuality:  {},
}

// UnitFor returns the wire unit string for a canonical (or derived) metric,
// matching the fixed table in the outbound payload schema.
func UnitFor(m Metric) string {
	switch m {
	case MetricTemperature, MetricDewPoint, MetricHeatIndex:
		return "°C"
	case MetricHumidity, MetricSoilMoisture:
		return "%"
	case MetricPressure:
		return "hPa"
	case MetricCO2:
		return "ppm"
	case MetricVOC:
		return "ppb"
	case MetricLux:
		return "lx"
	case MetricEC:
		return "mS/cm"
	case MetricPH:
		return ""
	case MetricVPD:
		return "kPa"
	case Metric(MetaBattery):
		return "%"
	case Metric(MetaLinkquality):
		return "lqi"
	default:
		return ""
	}
}
