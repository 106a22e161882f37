// Package command issues actuator commands through the edge-facing HTTP API
// and owns the timed-pulse lifecycle. Every operation runs on its own
// goroutine: a slow or failed HTTP call never blocks rule evaluation.
package command

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"iot-systemv1/internal/model"
)

const (
	defaultTimeout = 5 * time.Second
	defaultGrace   = 3 * time.Second
)

// ConfigSource is the slice of the device-config cache the dispatcher needs.
type ConfigSource interface {
	Get(deviceID, sensorID string) (model.SensorConfig, bool)
	SetAttribute(deviceID, sensorID string, value any)
}

// Command records one issued actuator command for the journal and live feed.
type Command struct {
	DeviceID   string    `json:"device_id"`
	ActuatorID string    `json:"actuator_id"`
	Value      any       `json:"value"`
	Toggle     bool      `json:"toggle,omitempty"`
	IssuedAt   time.Time `json:"issued_at"`
	OK         bool      `json:"ok"`
}

// Journal persists issued commands. Best effort; errors are logged only.
type Journal interface {
	Record(cmd Command) error
}

// Config holds dispatcher settings.
type Config struct {
	// APIBase is the edge-facing API root, e.g. "http://localhost:5000".
	APIBase string
	// Timeout bounds each HTTP call. Defaults to 5s.
	Timeout time.Duration
	// Grace bounds how long Close waits for in-flight pulses. Defaults to 3s.
	Grace time.Duration
}

// Dispatcher implements the rules.ActionSink against the HTTP command surface.
type Dispatcher struct {
	cfg     Config
	client  *http.Client
	cache   ConfigSource
	journal Journal // may be nil

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// after is the pulse timer source. Tests inject a fake.
	after func(d time.Duration) <-chan time.Time

	// Optional hooks for metrics and the live feed.
	OnCommand    func(cmd Command)
	OnPulseStart func()
	OnPulseEnd   func()
}

// New creates a Dispatcher. Close must be called on shutdown so in-flight
// pulses are cancelled deterministically.
func New(cfg Config, cache ConfigSource, journal Journal) *Dispatcher {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Grace == 0 {
		cfg.Grace = defaultGrace
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		cache:   cache,
		journal: journal,
		ctx:     ctx,
		cancel:  cancel,
		after:   time.After,
	}
}

// Issue sends one actuator command asynchronously. With toggle set the value
// is derived from the cached attribute: falsy (or missing) flips on.
func (d *Dispatcher) Issue(deviceID, actuatorID string, value any, toggle bool) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.send(deviceID, actuatorID, value, toggle)
	}()
}

// Pulse commits value now and 0 after the given number of seconds. The wait
// is cancellable: a pulse cut short by shutdown emits no off-command.
func (d *Dispatcher) Pulse(deviceID, actuatorID string, value any, seconds float64) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if d.OnPulseStart != nil {
			d.OnPulseStart()
		}
		if d.OnPulseEnd != nil {
			defer d.OnPulseEnd()
		}

		d.send(deviceID, actuatorID, value, false)

		select {
		case <-d.ctx.Done():
			log.Printf("[command] pulse %s/%s cancelled, off-command skipped", deviceID, actuatorID)
			return
		case <-d.after(time.Duration(seconds * float64(time.Second))):
		}
		d.send(deviceID, actuatorID, 0, false)
	}()
}

// Close stops accepting pulse completions and waits up to the grace period
// for in-flight commands.
func (d *Dispatcher) Close() {
	d.cancel()
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d.cfg.Grace):
		log.Printf("[command] shutdown grace expired with commands in flight")
	}
}

// send builds the descriptor and POSTs it. Failures are logged and discarded.
func (d *Dispatcher) send(deviceID, actuatorID string, value any, toggle bool) {
	cfg, cached := d.cache.Get(deviceID, actuatorID)
	if toggle {
		if cached && model.Truthy(cfg.Atributo1) {
			value = 0
		} else {
			value = 1
		}
	}
	// Remember what we just commanded so the next toggle flips.
	d.cache.SetAttribute(deviceID, actuatorID, value)

	desc := descriptor{ID: actuatorID, Atributo1: value}
	if cached {
		desc.Desc = cfg.Desc
		tipo := cfg.Tipo
		desc.Tipo = &tipo
		desc.Pinos = cfg.Pinos
	}

	err := d.post(deviceID, desc)
	cmd := Command{
		DeviceID:   deviceID,
		ActuatorID: actuatorID,
		Value:      value,
		Toggle:     toggle,
		IssuedAt:   time.Now().UTC(),
		OK:         err == nil,
	}
	if err != nil {
		log.Printf("[command] %s/%s=%v failed: %v", deviceID, actuatorID, value, err)
	} else {
		log.Printf("[command] %s/%s=%v ok", deviceID, actuatorID, value)
	}

	if d.journal != nil {
		if jerr := d.journal.Record(cmd); jerr != nil {
			log.Printf("[command] journal: %v", jerr)
		}
	}
	if d.OnCommand != nil {
		d.OnCommand(cmd)
	}
}

// descriptor is the actuator entry inside the {"sensors":[...]} command body.
// A cache miss produces the minimal {id, atributo1} form.
type descriptor struct {
	ID        string            `json:"id"`
	Desc      string            `json:"desc,omitempty"`
	Tipo      *model.SensorType `json:"tipo,omitempty"`
	Pinos     []int             `json:"pinos,omitempty"`
	Atributo1 any               `json:"atributo1"`
}

func (d *Dispatcher) post(deviceID string, desc descriptor) error {
	body, err := json.Marshal(map[string]any{"sensors": []descriptor{desc}})
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}

	// The request carries its own deadline rather than d.ctx: a command
	// already on the wire at shutdown finishes inside the grace period
	// instead of being torn mid-flight.
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.Timeout)
	defer cancel()

	url := fmt.Sprintf("%s/%s/settings/sensors/set", d.cfg.APIBase, deviceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
