// Package tsdb converts decoded readings into InfluxDB points and writes them
// asynchronously. Writes are fire-and-forget: a transient TSDB failure logs
// and continues, it never blocks ingestion or suppresses rule evaluation.
package tsdb

import (
	"context"
	"fmt"
	"log"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"iot-systemv1/internal/model"
)

// PointSink is the slice of the influx async write API the writer uses.
// Tests inject a recording fake.
type PointSink interface {
	WritePoint(point *write.Point)
	Flush()
}

// WriterConfig configures the InfluxDB writer.
type WriterConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// Writer consumes readings from a channel and emits one point per field.
type Writer struct {
	client influxdb2.Client // nil when constructed around an injected sink
	sink   PointSink

	// Optional hooks for metrics.
	OnWrite     func(points int)
	OnWriteErr  func()
	OnFieldDrop func()
}

// New connects to InfluxDB and verifies it with a ping. A failed ping is a
// fatal startup condition for the caller to act on.
func New(cfg WriterConfig) (*Writer, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ok, err := client.Ping(ctx)
	if err != nil || !ok {
		client.Close()
		return nil, fmt.Errorf("tsdb ping %s: %w", cfg.URL, err)
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)
	w := &Writer{
		client: client,
		sink:   writeAPI,
	}
	go w.drainErrors(writeAPI.Errors())
	log.Printf("[tsdb] connected to %s (bucket %s)", cfg.URL, cfg.Bucket)
	return w, nil
}

func (w *Writer) drainErrors(errCh <-chan error) {
	for err := range errCh {
		log.Printf("[tsdb] async write error: %v", err)
		if w.OnWriteErr != nil {
			w.OnWriteErr()
		}
	}
}

// Run consumes readings until ctx is cancelled or the channel closes.
func (w *Writer) Run(ctx context.Context, readings <-chan model.Reading) {
	for {
		select {
		case <-ctx.Done():
			w.sink.Flush()
			return
		case r, ok := <-readings:
			if !ok {
				w.sink.Flush()
				return
			}
			w.Write(r)
		}
	}
}

// Write emits the point(s) for one reading. Actuator readings produce a
// single float value point; field-map readings produce one point per field,
// tagged with the field name.
func (w *Writer) Write(r model.Reading) {
	measurement := "sensor_" + r.SensorID
	tags := map[string]string{
		"device_id":      r.DeviceID,
		"sensor_type":    r.Type.String(),
		"sensor_type_id": model.Itoa(int(r.Type)),
	}

	if r.Type.IsActuator() {
		f, err := model.ToFloat(r.Value)
		if err != nil {
			log.Printf("[tsdb] %s: actuator value %v not numeric, dropped", r.Key(), r.Value)
			if w.OnFieldDrop != nil {
				w.OnFieldDrop()
			}
			return
		}
		p := influxdb2.NewPoint(measurement, tags, map[string]any{"value": f}, r.ReceivedAt)
		w.sink.WritePoint(p)
		if w.OnWrite != nil {
			w.OnWrite(1)
		}
		return
	}

	fields := r.Fields()
	if fields == nil {
		// Single-scalar non-actuator reading (e.g. a keypad key).
		fields = map[string]any{"value": r.Value}
	}

	written := 0
	for name, v := range fields {
		fieldTags := map[string]string{
			"device_id":      tags["device_id"],
			"sensor_type":    tags["sensor_type"],
			"sensor_type_id": tags["sensor_type_id"],
			"field":          name,
		}

		var stored any
		if r.Type.IsStringValued() {
			stored = model.ToString(v)
		} else {
			f, err := model.ToFloat(v)
			if err != nil {
				log.Printf("[tsdb] %s: field %s=%v not numeric, dropped", r.Key(), name, v)
				if w.OnFieldDrop != nil {
					w.OnFieldDrop()
				}
				continue
			}
			stored = f
		}

		p := influxdb2.NewPoint(measurement, fieldTags, map[string]any{name: stored}, r.ReceivedAt)
		w.sink.WritePoint(p)
		written++
	}
	if written > 0 && w.OnWrite != nil {
		w.OnWrite(written)
	}
}

// Close flushes buffered points and releases the client.
func (w *Writer) Close() {
	w.sink.Flush()
	if w.client != nil {
		w.client.Close()
	}
}
