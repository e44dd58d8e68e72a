// Package arbitrator implements C7: per-(unit,metric) primary sensor
// election, staleness tracking, and dashboard snapshot assembly.
//
// An Arbitrator instance is the single authority for "which sensor speaks
// for this metric on this unit right now". It is fed by Ingest on every
// processed reading and queried either synchronously (the return value of
// Ingest) or asynchronously via BuildSnapshotForUnit, which serves a cached
// snapshot when one is fresh enough.
package arbitrator

import (
	"math"
	"sync"
	"time"

	"github.com/sysgrow/sensorcore/pkg/sensors"
)

const (
	MinStaleSeconds    = 10
	MaxStaleSeconds    = 3600
	MinTrackedSensors  = 10
	MaxTrackedSensors  = 10000
	snapshotCacheTTL   = time.Duration(MinStaleSeconds) * time.Second
	trendStableThreshold = 0.1
)

// ResolveSensorFunc resolves a sensor_id to its current Sensor, used so the
// arbitrator never owns the registry itself.
type ResolveSensorFunc func(sensorID int) (sensors.Sensor, bool)

// ManualPriority is a user-configured priority override for a sensor.
type ManualPriority struct {
	SensorID     int
	Priority     int
	ReadingTypes map[sensors.Metric]struct{} // empty means "all metrics"
}

type unitMetricKey struct {
	UnitID int
	Metric sensors.Metric
}

type cachedSnapshot struct {
	snapshot *DashboardSnapshot
	at       time.Time
}

// Stats are observability counters exposed for the health/stats HTTP surface.
type Stats struct {
	IngestCount      int
	PrimaryChanges   int
	Evictions        int
	CacheHits        int
	CacheMisses      int
	TrackedSensors   int
	TrackedUnits     int
	PrimarySelections int
	ManualOverrides  int
	CachedSnapshots  int
}

// Arbitrator holds all election and staleness state. Zero value is not
// usable; construct with New.
type Arbitrator struct {
	mu sync.Mutex

	staleSeconds    int
	maxTracked      int

	lastSeen     map[int]time.Time
	lastReadings map[int]sensors.Reading

	unitSensors map[int]map[int]struct{}

	primarySensors map[unitMetricKey]int
	previousValues map[unitMetricKey]float64

	manual map[int]ManualPriority

	snapshotCache map[int]cachedSnapshot

	stats Stats
}

// New constructs an Arbitrator. staleSeconds and maxTrackedSensors must lie
// within [MinStaleSeconds,MaxStaleSeconds] and
// [MinTrackedSensors,MaxTrackedSensors] respectively; out-of-range values
// panic since they can only come from static configuration, never from
// sensor input.
func New(staleSeconds, maxTrackedSensors int) *Arbitrator {
	if staleSeconds < MinStaleSeconds || staleSeconds > MaxStaleSeconds {
		panic("arbitrator: stale_seconds out of range")
	}
	if maxTrackedSensors < MinTrackedSensors || maxTrackedSensors > MaxTrackedSensors {
		panic("arbitrator: max_tracked_sensors out of range")
	}

	return &Arbitrator{
		staleSeconds:   staleSeconds,
		maxTracked:     maxTrackedSensors,
		lastSeen:       map[int]time.Time{},
		lastReadings:   map[int]sensors.Reading{},
		unitSensors:    map[int]map[int]struct{}{},
		primarySensors: map[unitMetricKey]int{},
		previousValues: map[unitMetricKey]float64{},
		manual:         map[int]ManualPriority{},
		snapshotCache:  map[int]cachedSnapshot{},
	}
}

// SetManualPriority installs (or replaces) a priority override for sensorID.
// An empty readingTypes set means "applies to all dashboard metrics". Any
// primary selections for the affected metrics are cleared so the next
// ingest or snapshot request recomputes them.
func (a *Arbitrator) SetManualPriority(sensorID, priority int, readingTypes map[sensors.Metric]struct{}) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.manual[sensorID] = ManualPriority{SensorID: sensorID, Priority: priority, ReadingTypes: readingTypes}

	var toClear []sensors.Metric
	if len(readingTypes) > 0 {
		for m := range readingTypes {
			toClear = append(toClear, m)
		}
	} else {
		toClear = append(toClear, sensors.DashboardMetrics...)
	}

	clearSet := make(map[sensors.Metric]struct{}, len(toClear))
	for _, m := range toClear {
		clearSet[m] = struct{}{}
	}
	for k := range a.primarySensors {
		if _, ok := clearSet[k.Metric]; ok {
			delete(a.primarySensors, k)
		}
	}
}

// ClearManualPriority removes sensorID's override, if any, and clears the
// primary selections for the metrics that override covered.
func (a *Arbitrator) ClearManualPriority(sensorID int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	cfg, ok := a.manual[sensorID]
	if !ok {
		return
	}
	delete(a.manual, sensorID)
	for k := range a.primarySensors {
		if _, hit := cfg.ReadingTypes[k.Metric]; hit || len(cfg.ReadingTypes) == 0 {
			delete(a.primarySensors, k)
		}
	}
}

// Ingest records a new reading for sensor and returns a freshly built
// dashboard snapshot for its unit (nil if nothing is available).
func (a *Arbitrator) Ingest(sensor sensors.Sensor, reading sensors.Reading, resolve ResolveSensorFunc) *DashboardSnapshot {
	unitID := reading.UnitID
	sensorID := sensor.ID
	if unitID <= 0 || sensorID <= 0 {
		return nil
	}

	a.mu.Lock()

	now := time.Now()
	a.lastSeen[sensorID] = now
	a.lastReadings[sensorID] = reading

	if a.unitSensors[unitID] == nil {
		a.unitSensors[unitID] = map[int]struct{}{}
	}
	a.unitSensors[unitID][sensorID] = struct{}{}

	if len(a.lastReadings) > a.maxTracked {
		a.evictStaleEntries()
	}

	a.considerPrimary(sensor, reading, resolve)
	snapshot := a.buildSnapshot(unitID, resolve)

	a.stats.IngestCount++
	if snapshot != nil {
		a.snapshotCache[unitID] = cachedSnapshot{snapshot: snapshot, at: now}
	}

	a.mu.Unlock()
	return snapshot
}

// BuildSnapshotForUnit returns the current snapshot for unitID, serving the
// cache when it's fresher than the fixed 10-second TTL and useCache is true.
func (a *Arbitrator) BuildSnapshotForUnit(unitID int, resolve ResolveSensorFunc, useCache bool) *DashboardSnapshot {
	if unitID <= 0 {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if useCache {
		if cached, ok := a.snapshotCache[unitID]; ok {
			if time.Since(cached.at) < snapshotCacheTTL {
				a.stats.CacheHits++
				return cached.snapshot
			}
		}
	}

	a.stats.CacheMisses++
	snapshot := a.buildSnapshot(unitID, resolve)
	if snapshot != nil {
		a.snapshotCache[unitID] = cachedSnapshot{snapshot: snapshot, at: time.Now()}
	}
	return snapshot
}

// GetPrimarySensor returns the current primary sensor id for (unitID,
// metric), and whether one is selected.
func (a *Arbitrator) GetPrimarySensor(unitID int, metric sensors.Metric) (int, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	id, ok := a.primarySensors[unitMetricKey{unitID, metric}]
	return id, ok
}

// IsPrimaryMetric reports whether sensor declares metric in its
// primary_metrics configuration.
func (a *Arbitrator) IsPrimaryMetric(sensor sensors.Sensor, metric sensors.Metric) bool {
	return sensor.Config.DeclaresPrimary(metric)
}

// GetSensorLastSeen returns when sensorID was last seen.
func (a *Arbitrator) GetSensorLastSeen(sensorID int) (time.Time, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok := a.lastSeen[sensorID]
	return t, ok
}

// GetStats returns a snapshot of observability counters.
func (a *Arbitrator) GetStats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.stats
	s.TrackedSensors = len(a.lastReadings)
	s.TrackedUnits = len(a.unitSensors)
	s.PrimarySelections = len(a.primarySensors)
	s.ManualOverrides = len(a.manual)
	s.CachedSnapshots = len(a.snapshotCache)
	return s
}

// ClearCache drops all primary selections and cached snapshots so the next
// ingest or snapshot request re-elects; used after sensor configuration
// changes.
func (a *Arbitrator) ClearCache() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.primarySensors = map[unitMetricKey]int{}
	a.snapshotCache = map[int]cachedSnapshot{}
}

func (a *Arbitrator) isStale(sensorID int) bool {
	last, ok := a.lastSeen[sensorID]
	if !ok {
		return true
	}
	return time.Since(last) > time.Duration(a.staleSeconds)*time.Second
}

func getMetricValue(data map[sensors.Metric]sensors.Value, metric sensors.Metric) (float64, bool) {
	v, ok := data[metric]
	if !ok {
		return 0, false
	}
	return v.Float()
}

// evictStaleEntries drops tracking state for sensors untouched past
// 2*staleSeconds, except soil_moisture/lux sensors which get a reprieve up
// to MaxStaleSeconds since they report infrequently. Caller holds a.mu.
func (a *Arbitrator) evictStaleEntries() {
	evictionThreshold := time.Duration(a.staleSeconds*2) * time.Second
	now := time.Now()
	var staleIDs []int

	for sensorID, last := range a.lastSeen {
		age := now.Sub(last)
		if age <= evictionThreshold {
			continue
		}

		if age <= time.Duration(MaxStaleSeconds)*time.Second {
			reading, ok := a.lastReadings[sensorID]
			if ok {
				_, hasSoil := reading.Data[sensors.MetricSoilMoisture]
				_, hasLux := reading.Data[sensors.MetricLux]
				if hasSoil || hasLux {
					continue
				}
			}
		}

		staleIDs = append(staleIDs, sensorID)
	}

	staleSet := make(map[int]struct{}, len(staleIDs))
	for _, id := range staleIDs {
		staleSet[id] = struct{}{}
		delete(a.lastSeen, id)
		delete(a.lastReadings, id)
		delete(a.manual, id)
		for _, set := range a.unitSensors {
			delete(set, id)
		}
	}

	for uid, set := range a.unitSensors {
		if len(set) == 0 {
			delete(a.unitSensors, uid)
		}
	}

	affectedUnits := map[int]struct{}{}
	for k, sid := range a.primarySensors {
		if _, ok := staleSet[sid]; ok {
			delete(a.primarySensors, k)
			affectedUnits[k.UnitID] = struct{}{}
		}
	}
	for uid := range affectedUnits {
		delete(a.snapshotCache, uid)
	}

	if len(staleIDs) > 0 {
		a.stats.Evictions += len(staleIDs)
	}
}

func (a *Arbitrator) manualPriorityFor(sensorID int, metric sensors.Metric) (int, bool) {
	cfg, ok := a.manual[sensorID]
	if !ok {
		return 0, false
	}
	if len(cfg.ReadingTypes) == 0 {
		return cfg.Priority, true
	}
	if _, ok := cfg.ReadingTypes[metric]; ok {
		return cfg.Priority, true
	}
	return 0, false
}

// autoPriority computes automatic priority: 10 if metric is declared
// primary, 50 if the sensor declares other primaries but not this one, else
// a compatibility fallback preferring environmental sensors for air metrics
// and plant sensors for soil_moisture.
func autoPriority(sensor sensors.Sensor, metric sensors.Metric) int {
	primary := sensor.Config.PrimaryMetricSet()

	if _, ok := primary[metric]; ok {
		return 10
	}
	if len(primary) > 0 {
		return 50
	}

	if _, isAir := sensors.AirMetrics[metric]; isAir {
		if sensor.IsEnvironmental() {
			return 20
		}
		return 40
	}
	if metric == sensors.MetricSoilMoisture {
		if sensor.IsPlant() {
			return 20
		}
		return 40
	}

	return 50
}

func (a *Arbitrator) priorityFor(sensor sensors.Sensor, metric sensors.Metric) int {
	if pr, ok := a.manualPriorityFor(sensor.ID, metric); ok {
		return pr
	}
	return autoPriority(sensor, metric)
}

// considerPrimary runs the replacement ladder for every dashboard metric
// present in reading.Data. Caller holds a.mu.
func (a *Arbitrator) considerPrimary(sensor sensors.Sensor, reading sensors.Reading, resolve ResolveSensorFunc) {
	unitID := reading.UnitID
	if unitID <= 0 {
		return
	}
	sensorID := sensor.ID

	for metric, val := range reading.Data {
		if !sensors.IsDashboardMetric(metric) || sensors.IsMetaKey(metric) {
			continue
		}
		if val.Kind == sensors.KindObject {
			continue
		}

		key := unitMetricKey{unitID, metric}
		currentID, hasCurrent := a.primarySensors[key]

		if !hasCurrent {
			if sensor.Config.DeclaresPrimary(metric) {
				a.primarySensors[key] = sensorID
				a.stats.PrimaryChanges++
			}
			continue
		}

		if currentID == sensorID {
			continue
		}

		if a.isStale(currentID) && !a.isStale(sensorID) {
			a.primarySensors[key] = sensorID
			a.stats.PrimaryChanges++
			continue
		}

		currentSensor, resolved := sensors.Sensor{}, false
		if resolve != nil {
			currentSensor, resolved = resolve(currentID)
		}
		if !resolved {
			a.primarySensors[key] = sensorID
			a.stats.PrimaryChanges++
			continue
		}

		newIsPrimary := sensor.Config.DeclaresPrimary(metric)
		curIsPrimary := currentSensor.Config.DeclaresPrimary(metric)

		if newIsPrimary && !curIsPrimary {
			a.primarySensors[key] = sensorID
			a.stats.PrimaryChanges++
			continue
		}

		newPr := a.priorityFor(sensor, metric)
		curPr := a.priorityFor(currentSensor, metric)
		if newPr < curPr {
			a.primarySensors[key] = sensorID
			a.stats.PrimaryChanges++
		}
	}
}

// computeTrend compares currentValue against the stored previous value for
// (unitID, metric), then updates the stored value. Caller holds a.mu.
func (a *Arbitrator) computeTrend(unitID int, metric sensors.Metric, currentValue float64) (string, *float64) {
	key := unitMetricKey{unitID, metric}
	previous, had := a.previousValues[key]
	a.previousValues[key] = currentValue

	if !had {
		return "unknown", nil
	}

	delta := currentValue - previous
	rounded := round3(delta)

	absDelta := delta
	if absDelta < 0 {
		absDelta = -absDelta
	}

	switch {
	case absDelta <= trendStableThreshold:
		return "stable", &rounded
	case delta > 0:
		return "rising", &rounded
	default:
		return "falling", &rounded
	}
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
