package broadcast

import (
	"testing"

	"github.com/matryer/is"
)

func TestPublishMethodsSucceedWithNoSubscribers(t *testing.T) {
	is := is.New(t)

	b := New()
	defer b.Shutdown()

	is.NoErr(b.PublishDeviceReading(1, map[string]any{"temperature": 21.0}))
	is.NoErr(b.PublishDashboardSnapshot(1, map[string]any{"metrics": map[string]any{}}))
	is.NoErr(b.PublishUnregisteredSensor(map[string]any{"friendly_name": "sysgrow-aabb"}))
}

func TestServerIsNotNil(t *testing.T) {
	is := is.New(t)

	b := New()
	defer b.Shutdown()

	is.True(b.Server() != nil)
}

func TestChannelForFormatsUnitID(t *testing.T) {
	is := is.New(t)
	is.Equal(channelFor(42), "unit_42")
}
