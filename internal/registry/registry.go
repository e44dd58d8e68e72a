// Package registry implements C10: the in-memory sensor registry. It holds
// the canonical sensor_id -> Sensor map plus reverse indices by category and
// by protocol grouping (wired vs. wireless), and a friendly-name index used
// by the MQTT router's identity resolution.
package registry

import (
	"strings"
	"sync"

	"github.com/sysgrow/sensorcore/pkg/sensors"
)

// ChangeEvent names the two registry mutations downstream caches subscribe
// to for invalidation (the MQTT router's friendly-name cache, the
// arbitrator's primary-selection cache).
type ChangeEvent string

const (
	EventSensorCreated ChangeEvent = "sensor-created"
	EventSensorDeleted ChangeEvent = "sensor-deleted"
)

// ChangeListener is notified on every register/unregister. Implementations
// must not block: it is called after the registry's lock is released, but
// synchronously on the registering goroutine.
type ChangeListener func(event ChangeEvent, sensor sensors.Sensor)

// Registry is the authoritative in-memory sensor map. All mutations are
// protected by a re-entrant-equivalent mutex — Go's sync.RWMutex isn't
// re-entrant, so internal helpers that need the lock held are written as
// unexported *Locked variants called only while already holding it.
type Registry struct {
	mu sync.RWMutex

	byID         map[int]sensors.Sensor
	byCategory   map[sensors.Category]map[int]struct{}
	wired        map[int]struct{}
	wireless     map[int]struct{}
	byFriendly   map[string]int // lowercased friendly_name -> sensor_id

	listeners []ChangeListener
}

func New() *Registry {
	return &Registry{
		byID:       map[int]sensors.Sensor{},
		byCategory: map[sensors.Category]map[int]struct{}{},
		wired:      map[int]struct{}{},
		wireless:   map[int]struct{}{},
		byFriendly: map[string]int{},
	}
}

// Subscribe registers l to be called on every register/unregister.
func (r *Registry) Subscribe(l ChangeListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

// Register adds or replaces sensor. Registration is idempotent on the same
// id: re-registering rebuilds that sensor's index entries and friendly-name
// mapping, then notifies listeners.
func (r *Registry) Register(sensor sensors.Sensor) bool {
	r.mu.Lock()

	r.removeFromIndicesLocked(sensor.ID)
	r.byID[sensor.ID] = sensor
	r.addToIndicesLocked(sensor)

	listeners := append([]ChangeListener(nil), r.listeners...)
	r.mu.Unlock()

	for _, l := range listeners {
		l(EventSensorCreated, sensor)
	}
	return true
}

// Unregister removes sensorID from the registry. Returns false if it wasn't
// present.
func (r *Registry) Unregister(sensorID int) bool {
	r.mu.Lock()

	sensor, ok := r.byID[sensorID]
	if !ok {
		r.mu.Unlock()
		return false
	}

	r.removeFromIndicesLocked(sensorID)
	delete(r.byID, sensorID)

	listeners := append([]ChangeListener(nil), r.listeners...)
	r.mu.Unlock()

	for _, l := range listeners {
		l(EventSensorDeleted, sensor)
	}
	return true
}

func (r *Registry) addToIndicesLocked(sensor sensors.Sensor) {
	if r.byCategory[sensor.Category] == nil {
		r.byCategory[sensor.Category] = map[int]struct{}{}
	}
	r.byCategory[sensor.Category][sensor.ID] = struct{}{}

	if sensor.IsLocal() {
		r.wired[sensor.ID] = struct{}{}
	} else {
		r.wireless[sensor.ID] = struct{}{}
	}

	if name := strings.ToLower(strings.TrimSpace(sensor.Config.FriendlyName)); name != "" {
		r.byFriendly[name] = sensor.ID
	}
}

func (r *Registry) removeFromIndicesLocked(sensorID int) {
	old, ok := r.byID[sensorID]
	if !ok {
		return
	}
	if set := r.byCategory[old.Category]; set != nil {
		delete(set, sensorID)
	}
	delete(r.wired, sensorID)
	delete(r.wireless, sensorID)
	if name := strings.ToLower(strings.TrimSpace(old.Config.FriendlyName)); name != "" {
		if r.byFriendly[name] == sensorID {
			delete(r.byFriendly, name)
		}
	}
}

// Get returns the sensor by id.
func (r *Registry) Get(sensorID int) (sensors.Sensor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[sensorID]
	return s, ok
}

// GetByFriendlyName resolves a Zigbee2MQTT or sysgrow friendly name,
// case-insensitively, against Config.FriendlyName and then against
// Config.ExtraConfig["friendly_name"].
func (r *Registry) GetByFriendlyName(name string) (sensors.Sensor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	key := strings.ToLower(strings.TrimSpace(name))
	id, ok := r.byFriendly[key]
	if !ok {
		if key != "" {
			for _, s := range r.byID {
				if strings.ToLower(strings.TrimSpace(s.Config.ExtraConfig["friendly_name"])) == key {
					return s, true
				}
			}
		}
		return sensors.Sensor{}, false
	}
	s, ok := r.byID[id]
	return s, ok
}

// ByCategory returns every sensor in category.
func (r *Registry) ByCategory(category sensors.Category) []sensors.Sensor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]sensors.Sensor, 0, len(r.byCategory[category]))
	for id := range r.byCategory[category] {
		out = append(out, r.byID[id])
	}
	return out
}

// Wired returns every sensor the polling engine should sweep.
func (r *Registry) Wired() []sensors.Sensor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]sensors.Sensor, 0, len(r.wired))
	for id := range r.wired {
		out = append(out, r.byID[id])
	}
	return out
}

// All returns every registered sensor.
func (r *Registry) All() []sensors.Sensor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]sensors.Sensor, 0, len(r.byID))
	for _, s := range r.byID {
		out = append(out, s)
	}
	return out
}

// Resolve adapts Get to arbitrator.ResolveSensorFunc's signature.
func (r *Registry) Resolve(sensorID int) (sensors.Sensor, bool) {
	return r.Get(sensorID)
}
