// Package devcfg caches the last known sensor/actuator configuration of every
// device, keyed by device id and sensor id. The command dispatcher reads it to
// build well-formed actuator descriptors; the router feeds it from config
// responses and, opportunistically, from actuator readings.
package devcfg

import (
	"log"
	"sync"

	"iot-systemv1/internal/model"
)

// Cache is the in-memory config mirror. All methods are safe for concurrent
// use; critical sections are short.
type Cache struct {
	mu      sync.Mutex
	devices map[string]map[string]model.SensorConfig
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{devices: make(map[string]map[string]model.SensorConfig)}
}

// Update applies a config response: every descriptor replaces any prior entry
// for its (device, sensor) wholesale. Descriptors without an id are skipped.
func (c *Cache) Update(deviceID string, cfgs []model.SensorConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sensors := c.devices[deviceID]
	if sensors == nil {
		sensors = make(map[string]model.SensorConfig)
		c.devices[deviceID] = sensors
	}
	n := 0
	for _, cfg := range cfgs {
		if cfg.ID == "" {
			continue
		}
		sensors[cfg.ID] = cfg.Clone()
		n++
	}
	log.Printf("[devcfg] cached %d sensor configs for %s", n, deviceID)
}

// ObserveActuator upserts a minimal entry from an actuator reading, so toggle
// actions resolve sensibly even before an explicit config fetch. An existing
// entry keeps its descriptor fields; only the state attribute moves.
func (c *Cache) ObserveActuator(deviceID, sensorID string, tipo model.SensorType, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sensors := c.devices[deviceID]
	if sensors == nil {
		sensors = make(map[string]model.SensorConfig)
		c.devices[deviceID] = sensors
	}
	cfg, ok := sensors[sensorID]
	if !ok {
		cfg = model.SensorConfig{ID: sensorID, Tipo: tipo}
	}
	cfg.Atributo1 = value
	sensors[sensorID] = cfg
}

// SetAttribute records the attribute value just commanded, keeping consecutive
// toggles alternating. Creates a minimal entry when the sensor is unknown.
func (c *Cache) SetAttribute(deviceID, sensorID string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sensors := c.devices[deviceID]
	if sensors == nil {
		sensors = make(map[string]model.SensorConfig)
		c.devices[deviceID] = sensors
	}
	cfg, ok := sensors[sensorID]
	if !ok {
		cfg = model.SensorConfig{ID: sensorID}
	}
	cfg.Atributo1 = value
	sensors[sensorID] = cfg
}

// Get returns a copy of the cached config for (device, sensor).
func (c *Cache) Get(deviceID, sensorID string) (model.SensorConfig, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cfg, ok := c.devices[deviceID][sensorID]
	if !ok {
		return model.SensorConfig{}, false
	}
	return cfg.Clone(), true
}

// Reset drops every cached entry for a device (explicit device reset).
func (c *Cache) Reset(deviceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.devices, deviceID)
}

// Len returns the total number of cached sensor entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, sensors := range c.devices {
		n += len(sensors)
	}
	return n
}
