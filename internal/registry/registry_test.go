package registry

import (
	"testing"

	"github.com/matryer/is"

	"github.com/sysgrow/sensorcore/pkg/sensors"
)

func wiredSensor(id int, friendly string) sensors.Sensor {
	return sensors.Sensor{
		ID:       id,
		UnitID:   1,
		Name:     "soil-1",
		Category: sensors.CategoryPlant,
		Protocol: sensors.ProtocolI2C,
		Config:   sensors.Config{FriendlyName: friendly},
	}
}

func TestRegisterAndGet(t *testing.T) {
	is := is.New(t)

	r := New()
	r.Register(wiredSensor(1, "sysgrow-AABB"))

	s, ok := r.Get(1)
	is.True(ok)
	is.Equal(s.Name, "soil-1")

	_, ok = r.Get(2)
	is.True(!ok)
}

func TestGetByFriendlyNameIsCaseInsensitive(t *testing.T) {
	is := is.New(t)

	r := New()
	r.Register(wiredSensor(1, "sysgrow-AABB"))

	s, ok := r.GetByFriendlyName("SYSGROW-aabb")
	is.True(ok)
	is.Equal(s.ID, 1)
}

func TestWiredReturnsOnlyLocalProtocolSensors(t *testing.T) {
	is := is.New(t)

	r := New()
	r.Register(wiredSensor(1, "soil-1"))
	wireless := wiredSensor(2, "zigbee-device")
	wireless.Protocol = sensors.ProtocolZigbee2MQTT
	r.Register(wireless)

	wired := r.Wired()
	is.Equal(len(wired), 1)
	is.Equal(wired[0].ID, 1)
}

func TestUnregisterRemovesFromAllIndices(t *testing.T) {
	is := is.New(t)

	r := New()
	r.Register(wiredSensor(1, "sysgrow-AABB"))

	ok := r.Unregister(1)
	is.True(ok)

	_, ok = r.Get(1)
	is.True(!ok)
	_, ok = r.GetByFriendlyName("sysgrow-AABB")
	is.True(!ok)
	is.Equal(len(r.Wired()), 0)

	is.True(!r.Unregister(1))
}

func TestSubscribeNotifiesOnRegisterAndUnregister(t *testing.T) {
	is := is.New(t)

	r := New()
	var events []ChangeEvent
	r.Subscribe(func(event ChangeEvent, sensor sensors.Sensor) {
		events = append(events, event)
	})

	r.Register(wiredSensor(1, "sysgrow-AABB"))
	r.Unregister(1)

	is.Equal(len(events), 2)
	is.Equal(events[0], EventSensorCreated)
	is.Equal(events[1], EventSensorDeleted)
}

func TestReRegisterReplacesFriendlyNameMapping(t *testing.T) {
	is := is.New(t)

	r := New()
	r.Register(wiredSensor(1, "old-name"))
	r.Register(wiredSensor(1, "new-name"))

	_, ok := r.GetByFriendlyName("old-name")
	is.True(!ok)
	s, ok := r.GetByFriendlyName("new-name")
	is.True(ok)
	is.Equal(s.ID, 1)
}
