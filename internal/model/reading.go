package model

import (
	"encoding/json"
	"time"
)

// Reading is one decoded sensor message. Value is either a map of field name
// to scalar (multi-field sensors like DHT11) or a single scalar (actuator
// reports, keypad keys). Readings live only for the span of one ingest cycle.
type Reading struct {
	DeviceID   string     `json:"device_id"`
	SensorID   string     `json:"sensor_id"`
	Type       SensorType `json:"type"`
	Value      any        `json:"values"`
	ReceivedAt time.Time  `json:"received_at"`
}

// Key returns "device/sensor" for logging and cache keys.
func (r Reading) Key() string {
	return r.DeviceID + "/" + r.SensorID
}

// Fields returns the value as a field map, or nil if it is a single scalar.
func (r Reading) Fields() map[string]any {
	m, _ := r.Value.(map[string]any)
	return m
}

// JSON serializes the reading; marshal errors cannot occur for decoded input.
func (r Reading) JSON() []byte {
	b, _ := json.Marshal(r)
	return b
}
