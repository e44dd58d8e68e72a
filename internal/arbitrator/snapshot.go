package arbitrator

import (
	"math"
	"sort"
	"time"

	"github.com/samber/lo"

	"github.com/sysgrow/sensorcore/internal/pipeline/enrich"
	"github.com/sysgrow/sensorcore/pkg/sensors"
)

// Source describes which sensor a dashboard metric's value came from.
type Source struct {
	SensorID     int
	SensorName   string
	SensorType   string
	Protocol     string
	Battery      *int
	PowerSource  string
	Linkquality  *int
	QualityScore *float64
	Status       string
	IsAnomaly    bool
}

// MetricSnapshot is one metric's entry in a DashboardSnapshot.
type MetricSnapshot struct {
	Value      float64
	Unit       string
	Trend      string
	TrendDelta *float64
	Source     Source
}

// DashboardSnapshot is the best-available-reading view for one unit,
// across every dashboard metric with fresh data.
type DashboardSnapshot struct {
	SchemaVersion int
	UnitID        int
	Timestamp     time.Time
	Metrics       map[sensors.Metric]MetricSnapshot
}

// buildSnapshot assembles a fresh snapshot for unitID. Caller holds a.mu.
func (a *Arbitrator) buildSnapshot(unitID int, resolve ResolveSensorFunc) *DashboardSnapshot {
	metrics := map[sensors.Metric]MetricSnapshot{}

	sortedMetrics := append([]sensors.Metric(nil), sensors.DashboardMetrics...)
	sort.Slice(sortedMetrics, func(i, j int) bool { return sortedMetrics[i] < sortedMetrics[j] })

	for _, metric := range sortedMetrics {
		switch metric {
		case sensors.MetricSoilMoisture:
			a.addSoilMoistureAggregate(unitID, metrics)
		case sensors.MetricLux:
			a.addLuxMetric(unitID, metrics, resolve)
		default:
			a.addStandardMetric(unitID, metric, metrics, resolve)
		}
	}

	a.fillDerivedMetrics(unitID, metrics)

	if len(metrics) == 0 {
		return nil
	}

	return &DashboardSnapshot{
		SchemaVersion: 1,
		UnitID:        unitID,
		Timestamp:     time.Now(),
		Metrics:       metrics,
	}
}

func coerceList(v sensors.Value) ([]map[string]sensors.Value, bool) {
	if v.Kind != sensors.KindObjectList {
		return nil, false
	}
	return v.List, true
}

// addSoilMoistureAggregate averages soil_moisture across every sensor on the
// unit seen within MaxStaleSeconds (not the configured stale_seconds),
// accepting both the flat-value and list-of-channel-dicts payload shapes.
func (a *Arbitrator) addSoilMoistureAggregate(unitID int, metrics map[sensors.Metric]MetricSnapshot) {
	var values []float64

	for sid := range a.unitSensors[unitID] {
		last, ok := a.lastSeen[sid]
		if !ok || time.Since(last) > time.Duration(MaxStaleSeconds)*time.Second {
			continue
		}

		reading, ok := a.lastReadings[sid]
		if !ok {
			continue
		}

		val, present := reading.Data[sensors.MetricSoilMoisture]
		if !present {
			continue
		}

		if num, isNum := val.Float(); isNum {
			values = append(values, num)
			continue
		}

		if list, isList := coerceList(val); isList {
			for _, item := range list {
				if pv, ok := item["moisture_percentage"]; ok {
					if num, isNum := pv.Float(); isNum {
						values = append(values, num)
						continue
					}
				}
				if pv, ok := item["value"]; ok {
					if num, isNum := pv.Float(); isNum {
						values = append(values, num)
					}
				}
			}
		}
	}

	if len(values) == 0 {
		return
	}

	sum := 0.0
	for _, v := range values {
		sum += v
	}
	avg := sum / float64(len(values))

	trendDir, trendDelta := a.computeTrend(unitID, sensors.MetricSoilMoisture, avg)

	metrics[sensors.MetricSoilMoisture] = MetricSnapshot{
		Value:      round1(avg),
		Unit:       sensors.UnitFor(sensors.MetricSoilMoisture),
		Trend:      trendDir,
		TrendDelta: trendDelta,
		Source: Source{
			SensorID:    0,
			SensorName:  "Soil Moisture (avg)",
			SensorType:  "aggregate",
			PowerSource: "unknown",
			Status:      "success",
		},
	}
}

// addLuxMetric uses an extended freshness window (MaxStaleSeconds) since
// light sensors may report infrequently, and falls back to any lux-bearing
// sensor on the unit if no primary is yet selected.
func (a *Arbitrator) addLuxMetric(unitID int, metrics map[sensors.Metric]MetricSnapshot, resolve ResolveSensorFunc) {
	key := unitMetricKey{unitID, sensors.MetricLux}
	sid, hasPrimary := a.primarySensors[key]

	if !hasPrimary {
		for candidate := range a.unitSensors[unitID] {
			if reading, ok := a.lastReadings[candidate]; ok {
				if _, ok := reading.Data[sensors.MetricLux]; ok {
					sid = candidate
					a.primarySensors[key] = sid
					hasPrimary = true
					break
				}
			}
		}
	}
	if !hasPrimary {
		return
	}

	last, hasLast := a.lastSeen[sid]
	reading, hasReading := a.lastReadings[sid]
	age := time.Duration(1<<62 - 1)
	if hasLast {
		age = time.Since(last)
	}
	if !hasReading || age > time.Duration(MaxStaleSeconds)*time.Second {
		return
	}

	val, ok := getMetricValue(reading.Data, sensors.MetricLux)
	if !ok {
		return
	}

	sensor, resolved := resolveOrZero(resolve, sid)
	if !resolved {
		return
	}

	trendDir, trendDelta := a.computeTrend(unitID, sensors.MetricLux, val)

	metrics[sensors.MetricLux] = MetricSnapshot{
		Value:      val,
		Unit:       sensors.UnitFor(sensors.MetricLux),
		Trend:      trendDir,
		TrendDelta: trendDelta,
		Source:     buildSource(sid, sensor, reading),
	}
}

func (a *Arbitrator) addStandardMetric(unitID int, metric sensors.Metric, metrics map[sensors.Metric]MetricSnapshot, resolve ResolveSensorFunc) {
	sid, ok := a.selectBestSensor(unitID, metric, resolve)
	if !ok || a.isStale(sid) {
		return
	}

	reading, ok := a.lastReadings[sid]
	if !ok {
		return
	}

	val, ok := getMetricValue(reading.Data, metric)
	if !ok {
		return
	}

	sensor, resolved := resolveOrZero(resolve, sid)
	if !resolved {
		return
	}

	trendDir, trendDelta := a.computeTrend(unitID, metric, val)

	metrics[metric] = MetricSnapshot{
		Value:      val,
		Unit:       sensors.UnitFor(metric),
		Trend:      trendDir,
		TrendDelta: trendDelta,
		Source:     buildSource(sid, sensor, reading),
	}
}

// selectBestSensor returns the current primary if it's fresh and still has
// data for metric; otherwise partitions all non-stale candidates into
// metric-is-primary vs metric-is-secondary, preferring the former, and
// picks the lowest (priority, age, -quality) tuple. The winner becomes the
// new cached primary.
func (a *Arbitrator) selectBestSensor(unitID int, metric sensors.Metric, resolve ResolveSensorFunc) (int, bool) {
	key := unitMetricKey{unitID, metric}

	if primary, ok := a.primarySensors[key]; ok && !a.isStale(primary) {
		if reading, ok := a.lastReadings[primary]; ok {
			if _, hasVal := getMetricValue(reading.Data, metric); hasVal {
				return primary, true
			}
		}
	}

	var candidates []int
	for sid := range a.unitSensors[unitID] {
		if a.isStale(sid) {
			continue
		}
		reading, ok := a.lastReadings[sid]
		if !ok {
			continue
		}
		if _, hasVal := getMetricValue(reading.Data, metric); !hasVal {
			continue
		}
		candidates = append(candidates, sid)
	}
	if len(candidates) == 0 {
		return 0, false
	}

	resolved := map[int]sensors.Sensor{}
	resolvedOK := map[int]bool{}
	for _, sid := range candidates {
		sensor, ok := resolveOrZero(resolve, sid)
		resolved[sid] = sensor
		resolvedOK[sid] = ok
	}

	primaryCandidates := lo.Filter(candidates, func(sid int, _ int) bool {
		return resolvedOK[sid] && resolved[sid].Config.DeclaresPrimary(metric)
	})

	preferred := primaryCandidates
	if len(preferred) == 0 {
		preferred = candidates
	}

	refNow := time.Now()
	type scored struct {
		sid     int
		pr      int
		age     float64
		negQual float64
	}
	scoredList := lo.Map(preferred, func(sid int, _ int) scored {
		pr := 30
		if resolvedOK[sid] {
			pr = a.priorityFor(resolved[sid], metric)
		}
		last, ok := a.lastSeen[sid]
		age := refNow.Sub(time.Unix(0, 0)).Seconds()
		if ok {
			age = refNow.Sub(last).Seconds()
		}
		qv := 0.0
		if reading, ok := a.lastReadings[sid]; ok && reading.QualityScore != nil {
			qv = *reading.QualityScore
		}
		return scored{sid: sid, pr: pr, age: age, negQual: -qv}
	})

	best := lo.MinBy(scoredList, func(item, min scored) bool {
		if item.pr != min.pr {
			return item.pr < min.pr
		}
		if item.age != min.age {
			return item.age < min.age
		}
		return item.negQual < min.negQual
	}).sid
	a.primarySensors[key] = best
	return best, true
}

// fillDerivedMetrics adds vpd/dew_point/heat_index to metrics, computed
// from whatever temperature and humidity snapshot entries are already
// present, only when the derived key isn't already there.
func (a *Arbitrator) fillDerivedMetrics(unitID int, metrics map[sensors.Metric]MetricSnapshot) {
	tempEntry, hasTemp := metrics[sensors.MetricTemperature]
	humEntry, hasHumidity := metrics[sensors.MetricHumidity]
	if !hasTemp || !hasHumidity {
		return
	}

	derivedSource := Source{
		SensorID:    0,
		SensorName:  "Computed",
		SensorType:  "derived",
		PowerSource: "unknown",
		Status:      "success",
	}

	type derivedDef struct {
		metric sensors.Metric
		value  float64
	}
	defs := []derivedDef{
		{sensors.MetricVPD, enrich.VPDkPa(tempEntry.Value, humEntry.Value)},
		{sensors.MetricDewPoint, enrich.DewPointC(tempEntry.Value, humEntry.Value)},
		{sensors.MetricHeatIndex, enrich.HeatIndexC(tempEntry.Value, humEntry.Value)},
	}

	for _, d := range defs {
		if _, exists := metrics[d.metric]; exists {
			continue
		}
		trendDir, trendDelta := a.computeTrend(unitID, d.metric, d.value)
		metrics[d.metric] = MetricSnapshot{
			Value:      d.value,
			Unit:       sensors.UnitFor(d.metric),
			Trend:      trendDir,
			TrendDelta: trendDelta,
			Source:     derivedSource,
		}
	}
}

func resolveOrZero(resolve ResolveSensorFunc, sid int) (sensors.Sensor, bool) {
	if resolve == nil {
		return sensors.Sensor{}, false
	}
	return resolve(sid)
}

func buildSource(sid int, sensor sensors.Sensor, reading sensors.Reading) Source {
	var battery, linkquality *int
	if v, ok := getMetricValue(reading.Data, sensors.Metric(sensors.MetaBattery)); ok {
		b := int(v)
		battery = &b
	}
	if v, ok := getMetricValue(reading.Data, sensors.Metric(sensors.MetaLinkquality)); ok {
		l := int(v)
		linkquality = &l
	}

	powerSource := "mains"
	if battery != nil {
		powerSource = "battery"
	}

	return Source{
		SensorID:     sid,
		SensorName:   sensor.Name,
		SensorType:   string(sensor.Category),
		Protocol:     sensors.NormalizeProtocol(string(sensor.Protocol)),
		Battery:      battery,
		PowerSource:  powerSource,
		Linkquality:  linkquality,
		QualityScore: reading.QualityScore,
		Status:       string(reading.Status),
		IsAnomaly:    reading.IsAnomaly,
	}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
