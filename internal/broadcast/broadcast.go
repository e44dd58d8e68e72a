// Package broadcast implements C11: the external, best-effort broadcast
// surface. Consumers subscribe per growth unit (channel "unit_<id>"); a
// slow or disconnected consumer never blocks ingestion — SendMessage on the
// underlying SSE server is fire-and-forget.
package broadcast

import (
	"encoding/json"
	"strconv"

	gosse "github.com/alexandrevicenzi/go-sse"
)

// unregisteredChannel carries discovery payloads for sensors that reported
// in but have no unit yet, so it isn't room-addressable like the per-unit
// channels.
const unregisteredChannel = "unregistered"

// Broadcaster publishes device readings and dashboard snapshots to
// room-addressable SSE channels.
type Broadcaster interface {
	Server() *gosse.Server
	Shutdown()
	PublishDeviceReading(unitID int, data any) error
	PublishDashboardSnapshot(unitID int, data any) error
	PublishUnregisteredSensor(data any) error
}

type broadcaster struct {
	s *gosse.Server
}

// New constructs a Broadcaster backed by an in-process go-sse server.
func New() Broadcaster {
	return &broadcaster{s: gosse.NewServer(&gosse.Options{})}
}

func (b *broadcaster) Server() *gosse.Server { return b.s }

func (b *broadcaster) Shutdown() { b.s.Shutdown() }

func (b *broadcaster) PublishDeviceReading(unitID int, data any) error {
	return b.publish(channelFor(unitID), "device_reading", data)
}

func (b *broadcaster) PublishDashboardSnapshot(unitID int, data any) error {
	return b.publish(channelFor(unitID), "dashboard_snapshot", data)
}

func (b *broadcaster) PublishUnregisteredSensor(data any) error {
	return b.publish(unregisteredChannel, "unregistered_sensor", data)
}

func (b *broadcaster) publish(channel, event string, data any) error {
	encoded, err := json.Marshal(data)
	if err != nil {
		return err
	}
	message := gosse.NewMessage("", string(encoded), event)
	b.s.SendMessage(channel, message)
	return nil
}

func channelFor(unitID int) string {
	return "unit_" + strconv.Itoa(unitID)
}
