// Package router classifies inbound broker messages and dispatches them:
// rule-management topics mutate the rule store, config responses update the
// device-config cache, and sensor readings flow to the time-series pipeline
// and the rule engine. Malformed messages are logged and discarded; nothing
// that arrives on the wire can kill the router.
package router

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"time"

	"iot-systemv1/internal/broker"
	"iot-systemv1/internal/devcfg"
	"iot-systemv1/internal/model"
	"iot-systemv1/internal/rules"
)

// CallbackTopic is where rule listings are published in response to rules/get.
const CallbackTopic = "callback/rules"

// Publisher is the outbound slice of the broker client.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// Router wires the classification logic to its downstream components.
type Router struct {
	store  *rules.Store
	engine *rules.Engine
	cache  *devcfg.Cache
	pub    Publisher

	// readings receives every decoded reading for the storage fan-out.
	// Send is non-blocking: persistence never stalls evaluation.
	readings chan<- model.Reading

	// now stamps readings. Tests inject a fake.
	now func() time.Time

	// Optional hooks for metrics.
	OnReading      func()
	OnMalformed    func()
	OnReadingDrop  func()
	OnRuleMutation func(op string)
	OnEvalDone     func(d time.Duration)
}

// New creates a Router.
func New(store *rules.Store, engine *rules.Engine, cache *devcfg.Cache, pub Publisher, readings chan<- model.Reading) *Router {
	return &Router{
		store:    store,
		engine:   engine,
		cache:    cache,
		pub:      pub,
		readings: readings,
		now:      time.Now,
	}
}

// SetClock overrides the time source. Tests only.
func (rt *Router) SetClock(now func() time.Time) { rt.now = now }

// Run consumes broker messages until ctx is cancelled or the channel closes.
// A single consumer goroutine preserves broker delivery order end to end.
func (rt *Router) Run(ctx context.Context, msgs <-chan broker.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			rt.Handle(msg.Topic, msg.Payload)
		}
	}
}

// Handle classifies one message by its topic parts and dispatches it.
func (rt *Router) Handle(topic string, payload []byte) {
	parts := strings.Split(topic, "/")

	switch {
	case parts[0] == "rules" && len(parts) == 2:
		rt.handleRuleOp(parts[1], payload)

	case len(parts) == 5 && parts[1] == "settings" && parts[2] == "sensors" &&
		parts[3] == "get" && parts[4] == "response":
		rt.handleConfigResponse(parts[0], payload)

	case len(parts) == 4 && parts[1] == "sensors" && parts[3] == "data":
		rt.handleSensorData(parts[0], parts[2], payload)

	default:
		log.Printf("[router] unhandled topic %s", topic)
	}
}

func (rt *Router) handleRuleOp(op string, payload []byte) {
	if op == "get" {
		rt.publishRules()
		return
	}

	var rule model.Rule
	if err := json.Unmarshal(payload, &rule); err != nil {
		rt.malformed("rules/"+op, err)
		return
	}

	var err error
	switch op {
	case "add":
		err = rt.store.Create(&rule)
	case "update":
		err = rt.store.Update(&rule)
	case "delete":
		err = rt.store.Delete(rule.ID)
	default:
		log.Printf("[router] unknown rule op %q", op)
		return
	}
	if err != nil {
		log.Printf("[router] rules/%s rejected: %v", op, err)
		return
	}
	if rt.OnRuleMutation != nil {
		rt.OnRuleMutation(op)
	}
}

// publishRules answers rules/get with the authoritative current set, so a
// client that mutates then lists observes its own write.
func (rt *Router) publishRules() {
	list := rt.store.List()
	body, err := json.Marshal(map[string]any{"rules": list})
	if err != nil {
		log.Printf("[router] marshal rule list: %v", err)
		return
	}
	if err := rt.pub.Publish(CallbackTopic, body); err != nil {
		log.Printf("[router] publish rule list: %v", err)
	}
}

func (rt *Router) handleConfigResponse(deviceID string, payload []byte) {
	var body struct {
		Sensors []model.SensorConfig `json:"sensors"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		rt.malformed(deviceID+"/settings/sensors/get/response", err)
		return
	}
	rt.cache.Update(deviceID, body.Sensors)
}

// handleSensorData decodes a reading and dispatches it to persistence and
// evaluation, in that order. Both paths are non-blocking with respect to
// broker intake: the storage send drops on a full channel and evaluation is
// bounded by the rule count.
func (rt *Router) handleSensorData(topicDevice, topicSensor string, payload []byte) {
	var body map[string]any
	if err := json.Unmarshal(payload, &body); err != nil {
		rt.malformed(topicDevice+"/sensors/"+topicSensor+"/data", err)
		return
	}

	deviceID := stringField(body, "device_id", topicDevice)
	sensorID := stringField(body, "sensor_id", topicSensor)
	tipo, ok := typeField(body)
	if !ok {
		log.Printf("[router] reading %s/%s missing type, discarded", deviceID, sensorID)
		if rt.OnMalformed != nil {
			rt.OnMalformed()
		}
		return
	}

	var value any
	if tipo.IsActuator() {
		value, ok = actuatorScalar(body, tipo)
		if !ok {
			log.Printf("[router] actuator reading %s/%s carries no state, discarded", deviceID, sensorID)
			if rt.OnMalformed != nil {
				rt.OnMalformed()
			}
			return
		}
		// Opportunistic cache update so toggles work without a config fetch.
		rt.cache.ObserveActuator(deviceID, sensorID, tipo, value)
	} else {
		values, isMap := body["values"].(map[string]any)
		if !isMap {
			log.Printf("[router] reading %s/%s values is not an object, discarded", deviceID, sensorID)
			if rt.OnMalformed != nil {
				rt.OnMalformed()
			}
			return
		}
		value = values
	}

	reading := model.Reading{
		DeviceID:   deviceID,
		SensorID:   sensorID,
		Type:       tipo,
		Value:      value,
		ReceivedAt: rt.now(),
	}
	if rt.OnReading != nil {
		rt.OnReading()
	}

	select {
	case rt.readings <- reading:
	default:
		if rt.OnReadingDrop != nil {
			rt.OnReadingDrop()
		} else {
			log.Printf("[router] readings channel full, dropping %s", reading.Key())
		}
	}

	start := time.Now()
	rt.engine.Evaluate(deviceID, sensorID, value)
	if rt.OnEvalDone != nil {
		rt.OnEvalDone(time.Since(start))
	}
}

func (rt *Router) malformed(topic string, err error) {
	log.Printf("[router] malformed payload on %s: %v", topic, err)
	if rt.OnMalformed != nil {
		rt.OnMalformed()
	}
}

func stringField(body map[string]any, key, fallback string) string {
	if s, ok := body[key].(string); ok && s != "" {
		return s
	}
	return fallback
}

// typeField reads the sensor type from "type" or the legacy "tipo" key.
func typeField(body map[string]any) (model.SensorType, bool) {
	for _, key := range []string{"type", "tipo"} {
		if v, ok := body[key]; ok {
			f, err := model.ToFloat(v)
			if err != nil {
				return 0, false
			}
			return model.SensorType(int(f)), true
		}
	}
	return 0, false
}

// actuatorScalar reduces an actuator report to its single state value:
// legacy atributo1 first, then the type's state field inside values.
func actuatorScalar(body map[string]any, tipo model.SensorType) (any, bool) {
	// Both spellings of the legacy key appear in the field.
	for _, key := range []string{"atributo1", "atribute1"} {
		if v, ok := body[key]; ok {
			return v, true
		}
	}
	if values, ok := body["values"].(map[string]any); ok {
		if v, ok := values[tipo.StateField()]; ok {
			return v, true
		}
	}
	return nil, false
}
