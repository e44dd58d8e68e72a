package mqttrouter

import (
	"context"
	"testing"

	"github.com/matryer/is"

	"github.com/sysgrow/sensorcore/internal/arbitrator"
	"github.com/sysgrow/sensorcore/internal/broadcast"
	"github.com/sysgrow/sensorcore/internal/config"
	"github.com/sysgrow/sensorcore/internal/eventbus"
	"github.com/sysgrow/sensorcore/internal/registry"
	"github.com/sysgrow/sensorcore/pkg/sensors"
)

func newTestRouter() (*Router, *registry.Registry) {
	reg := registry.New()
	arb := arbitrator.New(180, 500)
	bus := eventbus.New(context.Background())
	bc := broadcast.New()
	return New(config.MQTTConfig{}, reg, arb, bc, bus), reg
}

func TestResolveRegisteredSensorCachesHits(t *testing.T) {
	is := is.New(t)

	r, reg := newTestRouter()
	reg.Register(sensors.Sensor{ID: 5, UnitID: 1, Protocol: sensors.ProtocolZigbee2MQTT, Config: sensors.Config{FriendlyName: "sysgrow-aabb"}})

	s, ok := r.resolveRegisteredSensor("sysgrow-aabb")
	is.True(ok)
	is.Equal(s.ID, 5)

	id, cached := r.friendlyNames.Get("sysgrow-aabb")
	is.True(cached)
	is.Equal(id, 5)
}

func TestResolveRegisteredSensorUnknownName(t *testing.T) {
	is := is.New(t)

	r, _ := newTestRouter()
	_, ok := r.resolveRegisteredSensor("unknown-device")
	is.True(!ok)
}

func TestResolveSensorByMACMatchesUppercaseSuffix(t *testing.T) {
	is := is.New(t)

	r, reg := newTestRouter()
	reg.Register(sensors.Sensor{ID: 9, UnitID: 1, Protocol: sensors.ProtocolZigbee2MQTT, Config: sensors.Config{FriendlyName: "sysgrow-AABBCCDD"}})

	s, ok := r.resolveSensorByMAC("11:22:AA:BB:CC:DD")
	is.True(ok)
	is.Equal(s.ID, 9)
}

func TestResolveSensorByMACMatchesLowercaseRegisteredName(t *testing.T) {
	is := is.New(t)

	r, reg := newTestRouter()
	reg.Register(sensors.Sensor{ID: 9, UnitID: 1, Protocol: sensors.ProtocolZigbee2MQTT, Config: sensors.Config{FriendlyName: "sysgrow-aabbccdd"}})

	s, ok := r.resolveSensorByMAC("11:22:AA:BB:CC:DD")
	is.True(ok)
	is.Equal(s.ID, 9)
}

func TestResolveSensorByMACEmptyReturnsFalse(t *testing.T) {
	is := is.New(t)

	r, _ := newTestRouter()
	_, ok := r.resolveSensorByMAC("")
	is.True(!ok)
}

func TestRegistryChangeClearsFriendlyNameCache(t *testing.T) {
	is := is.New(t)

	r, reg := newTestRouter()
	reg.Register(sensors.Sensor{ID: 5, UnitID: 1, Protocol: sensors.ProtocolZigbee2MQTT, Config: sensors.Config{FriendlyName: "sysgrow-aabb"}})
	r.resolveRegisteredSensor("sysgrow-aabb")

	_, cached := r.friendlyNames.Get("sysgrow-aabb")
	is.True(cached)

	reg.Register(sensors.Sensor{ID: 6, UnitID: 1, Protocol: sensors.ProtocolZigbee2MQTT, Config: sensors.Config{FriendlyName: "sysgrow-ccdd"}})

	_, cached = r.friendlyNames.Get("sysgrow-aabb")
	is.True(!cached)
}
