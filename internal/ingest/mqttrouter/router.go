// Package mqttrouter implements C8: the MQTT ingestion router. It dispatches
// two topic dialects onto the processing pipeline — Zigbee2MQTT-style
// (`zigbee2mqtt/...`, dropping unregistered devices) and the proprietary
// `sysgrow/...` namespace (triggering discovery broadcasts for unregistered
// devices and falling back to MAC-address friendly-name resolution) — and
// fans prepared payloads out to the broadcast surface and the event bus.
package mqttrouter

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/rs/zerolog"

	"github.com/sysgrow/sensorcore/internal/arbitrator"
	"github.com/sysgrow/sensorcore/internal/broadcast"
	"github.com/sysgrow/sensorcore/internal/config"
	"github.com/sysgrow/sensorcore/internal/eventbus"
	"github.com/sysgrow/sensorcore/internal/logging"
	"github.com/sysgrow/sensorcore/internal/pipeline"
	"github.com/sysgrow/sensorcore/internal/registry"
	"github.com/sysgrow/sensorcore/pkg/sensors"
)

const (
	friendlyNameCacheTTL  = 300 * time.Second
	friendlyNameCacheSize = 256

	// unmappedLogCooldown throttles "unregistered device" warnings for a
	// chatty device to once per window instead of once per message.
	unmappedLogCooldown = 10 * time.Minute
)

// topicSubscriptions are the topic filters subscribed (at QoS 0) on every
// connect.
var topicSubscriptions = []string{
	"zigbee2mqtt/+",
	"zigbee2mqtt/+/availability",
	"zigbee2mqtt/bridge/#",
	"sysgrow/+",
	"sysgrow/+/availability",
	"sysgrow/bridge/#",
}

// Router subscribes to the sensor topic namespaces, resolves inbound
// messages to a registered sensor, and drives them through the processing
// pipeline.
type Router struct {
	cfg        config.MQTTConfig
	registry   *registry.Registry
	arbitrator *arbitrator.Arbitrator
	broadcaster broadcast.Broadcaster
	bus        *eventbus.Bus

	cm *autopaho.ConnectionManager

	friendlyNames *nameCache

	mu                  sync.Mutex
	unmappedLastLogged  map[string]time.Time
}

// New builds a Router. Sensor config changes (registration/unregistration)
// invalidate the friendly-name cache and the arbitrator's primary-selection
// cache so the next message re-resolves identity and re-elects a primary.
func New(cfg config.MQTTConfig, reg *registry.Registry, arb *arbitrator.Arbitrator, bc broadcast.Broadcaster, bus *eventbus.Bus) *Router {
	r := &Router{
		cfg:                cfg,
		registry:           reg,
		arbitrator:         arb,
		broadcaster:        bc,
		bus:                bus,
		friendlyNames:      newNameCache(friendlyNameCacheTTL, friendlyNameCacheSize),
		unmappedLastLogged: map[string]time.Time{},
	}
	reg.Subscribe(func(event registry.ChangeEvent, sensor sensors.Sensor) {
		r.friendlyNames.Clear()
		arb.ClearCache()
	})
	return r
}

// Start connects to the configured broker and subscribes to the sensor
// topic namespaces. It returns once the initial connection attempt
// completes (successfully or not — autopaho retries in the background);
// message handling continues for the lifetime of ctx.
func (r *Router) Start(ctx context.Context) error {
	logger := logging.GetLoggerFromContext(ctx)

	brokerURL, err := url.Parse(r.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker url: %w", err)
	}

	keepAlive := r.cfg.KeepAlive
	if keepAlive == 0 {
		keepAlive = 30
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       keepAlive,
		ConnectUsername: r.cfg.Username,
		ConnectPassword: []byte(r.cfg.Password),
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			logger.Info().Str("broker", r.cfg.Broker).Msg("mqtt connected to broker")
			subCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			r.subscribe(subCtx, cm, logger)
		},
		OnConnectError: func(err error) {
			logger.Warn().Err(err).Msg("mqtt connection error")
		},
		ClientConfig: paho.ClientConfig{
			ClientID: r.cfg.ClientID,
		},
	}

	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	r.cm = cm

	cm.AddOnPublishReceived(func(pr autopaho.PublishReceived) (bool, error) {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error().Interface("panic", rec).Str("topic", pr.Packet.Topic).Msg("mqtt message handler panicked")
				}
			}()
			r.onMessage(ctx, pr.Packet.Topic, pr.Packet.Payload)
		}()
		return true, nil
	})

	connCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		logger.Warn().Err(err).Msg("mqtt initial connection timed out, will retry in background")
	}

	return nil
}

// Stop disconnects from the broker. Safe to call even if Start never
// completed a connection.
func (r *Router) Stop(ctx context.Context) error {
	if r.cm == nil {
		return nil
	}
	return r.cm.Disconnect(ctx)
}

func (r *Router) subscribe(ctx context.Context, cm *autopaho.ConnectionManager, logger zerolog.Logger) {
	opts := make([]paho.SubscribeOptions, 0, len(topicSubscriptions))
	for _, t := range topicSubscriptions {
		opts = append(opts, paho.SubscribeOptions{Topic: t, QoS: 0})
	}
	if _, err := cm.Subscribe(ctx, &paho.Subscribe{Subscriptions: opts}); err != nil {
		logger.Error().Err(err).Strs("topics", topicSubscriptions).Msg("mqtt subscribe failed")
	} else {
		logger.Info().Strs("topics", topicSubscriptions).Msg("mqtt subscribed to topics")
	}
}

// onMessage dispatches one inbound publish by topic prefix.
func (r *Router) onMessage(ctx context.Context, topic string, payload []byte) {
	logger := logging.GetLoggerFromContext(ctx)

	switch {
	case strings.HasPrefix(topic, "zigbee2mqtt/"):
		r.handleZigbee(ctx, topic, payload)
	case strings.HasPrefix(topic, "sysgrow/"):
		r.handleSysgrow(ctx, topic, payload)
	default:
		logger.Warn().Str("topic", topic).Msg("unroutable mqtt topic")
	}
}

// --- Zigbee2MQTT dialect ---

func (r *Router) handleZigbee(ctx context.Context, topic string, payload []byte) {
	logger := logging.GetLoggerFromContext(ctx)
	parts := strings.Split(topic, "/")

	if len(parts) == 3 && parts[2] == "availability" {
		r.handleAvailability(parts[1], payload, "zigbee2mqtt")
		return
	}

	friendlyName := strings.TrimSpace(parts[len(parts)-1])
	if friendlyName == "bridge" {
		return
	}

	data, ok := parseJSON(payload, logger, "zigbee2mqtt", friendlyName)
	if !ok {
		return
	}

	sensor, ok := r.resolveRegisteredSensor(friendlyName)
	if !ok {
		r.logUnregistered(friendlyName, logger)
		return
	}
	if sensor.UnitID <= 0 {
		logger.Warn().Str("friendly_name", friendlyName).Msg("dropped zigbee reading: no valid unit_id")
		return
	}

	r.ingestRegistered(ctx, sensor, data)
}

// --- sysgrow dialect ---

func (r *Router) handleSysgrow(ctx context.Context, topic string, payload []byte) {
	logger := logging.GetLoggerFromContext(ctx)
	parts := strings.Split(topic, "/")

	if len(parts) >= 2 && parts[1] == "bridge" {
		r.handleSysgrowBridge(ctx, parts, payload)
		return
	}

	if len(parts) == 3 && parts[2] == "availability" {
		r.handleAvailability(parts[1], payload, "sysgrow")
		return
	}

	if len(parts) != 2 {
		return
	}

	friendlyName := parts[1]
	data, ok := parseJSON(payload, logger, "sysgrow", friendlyName)
	if !ok {
		return
	}

	sensor, ok := r.resolveRegisteredSensor(friendlyName)
	if !ok {
		if mac, hasMAC := data["mac_address"].(string); hasMAC && mac != "" {
			sensor, ok = r.resolveSensorByMAC(mac)
		}
	}

	if !ok {
		r.emitUnregisteredSysgrow(friendlyName, data, logger)
		return
	}

	if sensor.UnitID <= 0 {
		logger.Warn().Str("friendly_name", friendlyName).Msg("dropped sysgrow reading: no valid unit_id")
		return
	}

	r.ingestRegistered(ctx, sensor, data)
}

func (r *Router) handleSysgrowBridge(ctx context.Context, parts []string, payload []byte) {
	logger := logging.GetLoggerFromContext(ctx)
	if len(parts) < 3 {
		return
	}
	subtopic := strings.Join(parts[2:], "/")

	data, ok := parseJSON(payload, logger, "sysgrow_bridge", subtopic)
	if !ok {
		return
	}

	switch {
	case subtopic == "info":
		devices, _ := data["devices"].([]any)
		r.bus.Publish("bridge.info", map[string]any{
			"devices":     devices,
			"device_count": len(devices),
		})
	case subtopic == "health":
		logger.Info().Interface("status", data["status"]).Msg("sysgrow bridge health")
		r.bus.Publish("bridge.health", data)
	case strings.HasPrefix(subtopic, "response/"):
		command := strings.TrimPrefix(subtopic, "response/")
		r.bus.Publish("bridge.command_response", map[string]any{
			"command":  command,
			"response": data,
		})
	}
}

func (r *Router) handleAvailability(friendlyName string, payload []byte, source string) {
	status := strings.ToLower(strings.TrimSpace(string(payload)))
	if strings.HasPrefix(status, "{") {
		return
	}
	online := status == "online"
	r.bus.Publish("device.availability_changed", map[string]any{
		"friendly_name": friendlyName,
		"source":        source,
		"online":        online,
	})
}

// --- Identity resolution ---

func (r *Router) resolveRegisteredSensor(friendlyName string) (sensors.Sensor, bool) {
	if friendlyName == "" {
		return sensors.Sensor{}, false
	}

	if id, ok := r.friendlyNames.Get(friendlyName); ok {
		if s, ok := r.registry.Get(id); ok {
			return s, true
		}
		r.friendlyNames.Invalidate(friendlyName)
	}

	s, ok := r.registry.GetByFriendlyName(friendlyName)
	if !ok {
		return sensors.Sensor{}, false
	}
	r.friendlyNames.Set(friendlyName, s.ID)
	return s, true
}

// resolveSensorByMAC tries the fixed set of friendly-name spellings a
// sysgrow device's MAC address might be registered under.
func (r *Router) resolveSensorByMAC(mac string) (sensors.Sensor, bool) {
	if mac == "" {
		return sensors.Sensor{}, false
	}

	macClean := strings.ToUpper(strings.ReplaceAll(mac, ":", ""))
	suffix := macClean
	if len(suffix) > 8 {
		suffix = suffix[len(suffix)-8:]
	}

	candidates := []string{
		fmt.Sprintf("sysgrow-%s", suffix),
		fmt.Sprintf("sysgrow-%s", strings.ToLower(suffix)),
		strings.ReplaceAll(mac, ":", "-"),
		mac,
	}

	for _, name := range candidates {
		if s, ok := r.resolveRegisteredSensor(name); ok {
			return s, true
		}
	}
	return sensors.Sensor{}, false
}

func (r *Router) logUnregistered(friendlyName string, logger zerolog.Logger) {
	r.mu.Lock()
	last, seen := r.unmappedLastLogged[friendlyName]
	now := time.Now()
	if seen && now.Sub(last) < unmappedLogCooldown {
		r.mu.Unlock()
		return
	}
	r.unmappedLastLogged[friendlyName] = now
	r.mu.Unlock()

	logger.Warn().Str("friendly_name", friendlyName).Msg("unregistered zigbee device detected")
}

// --- Discovery ---

// unregisteredSensorPayload is broadcast when a sysgrow device with no
// registry entry (by friendly name or MAC) reports in.
type unregisteredSensorPayload struct {
	SchemaVersion        int            `json:"schema_version"`
	UnitID               int            `json:"unit_id"`
	PublisherID          string         `json:"publisher_id"`
	Topic                string         `json:"topic"`
	FriendlyName         string         `json:"friendly_name"`
	Registered           bool           `json:"registered"`
	Timestamp            time.Time      `json:"timestamp"`
	RawData              map[string]any `json:"raw_data"`
	SuggestedSensorType  string         `json:"suggested_sensor_type,omitempty"`
	DetectedCapabilities []string       `json:"detected_capabilities,omitempty"`
}

func (r *Router) emitUnregisteredSysgrow(friendlyName string, data map[string]any, logger zerolog.Logger) {
	r.mu.Lock()
	last, seen := r.unmappedLastLogged[friendlyName]
	now := time.Now()
	shouldLog := !seen || now.Sub(last) >= unmappedLogCooldown
	if shouldLog {
		r.unmappedLastLogged[friendlyName] = now
	}
	r.mu.Unlock()

	if shouldLog {
		logger.Info().Str("friendly_name", friendlyName).Interface("device_type", data["device_type"]).Msg("discovered unregistered sysgrow device")
	}

	var capabilities []string
	for key, capability := range map[string]string{
		"temperature": "temperature",
		"humidity":    "humidity",
		"co2":         "co2",
		"air_quality": "air_quality",
		"voc":         "voc",
		"lux":         "light",
		"smoke":       "smoke",
	} {
		if _, ok := data[key]; ok {
			capabilities = append(capabilities, capability)
		}
	}

	suggestedType, _ := data["device_type"].(string)

	payload := unregisteredSensorPayload{
		SchemaVersion:        1,
		UnitID:               0,
		PublisherID:          fmt.Sprintf("sysgrow:%s", friendlyName),
		Topic:                fmt.Sprintf("sysgrow/%s", friendlyName),
		FriendlyName:         friendlyName,
		Registered:           false,
		Timestamp:            time.Now().UTC(),
		RawData:              data,
		SuggestedSensorType:  suggestedType,
		DetectedCapabilities: capabilities,
	}

	if err := r.broadcaster.PublishUnregisteredSensor(payload); err != nil {
		logger.Error().Err(err).Str("friendly_name", friendlyName).Msg("failed to emit sysgrow discovery payload")
	}
}

// --- Pipeline orchestration ---

func (r *Router) ingestRegistered(ctx context.Context, sensor sensors.Sensor, raw map[string]any) {
	logger := logging.GetLoggerFromContext(ctx)

	values := sensors.FromJSON(raw)
	p := pipeline.New(sensor, r.arbitrator, r.registry.Resolve)

	reading, err := p.Process(ctx, values)
	if err != nil {
		logger.Warn().Err(err).Int("sensor_id", sensor.ID).Msg("reading failed validation")
		return
	}

	prepared, ok := p.BuildPayloads(reading)
	if !ok {
		return
	}

	for _, event := range prepared.ControllerEvents {
		r.bus.Publish(event.Name, event.Payload)
	}

	if err := r.broadcaster.PublishDeviceReading(prepared.UnitID, prepared.DevicePayload); err != nil {
		logger.Warn().Err(err).Int("unit_id", prepared.UnitID).Msg("device reading broadcast failed")
	}
	if prepared.DashboardSnapshot != nil {
		if err := r.broadcaster.PublishDashboardSnapshot(prepared.UnitID, prepared.DashboardSnapshot); err != nil {
			logger.Warn().Err(err).Int("unit_id", prepared.UnitID).Msg("dashboard snapshot broadcast failed")
		}
	}
}

func parseJSON(payload []byte, logger zerolog.Logger, source, identity string) (map[string]any, bool) {
	var data map[string]any
	if err := json.Unmarshal(payload, &data); err != nil {
		logger.Error().Err(err).Str("source", source).Str("identity", identity).Msg("invalid json payload")
		return nil, false
	}
	return data, true
}
