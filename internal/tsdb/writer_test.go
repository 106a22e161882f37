package tsdb

import (
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"iot-systemv1/internal/model"
)

// fakeSink records written points instead of talking to InfluxDB.
type fakeSink struct {
	points  []*write.Point
	flushed int
}

func (f *fakeSink) WritePoint(p *write.Point) { f.points = append(f.points, p) }
func (f *fakeSink) Flush()                    { f.flushed++ }

func fieldValue(p *write.Point, key string) (any, bool) {
	for _, f := range p.FieldList() {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

func tagValue(p *write.Point, key string) string {
	for _, t := range p.TagList() {
		if t.Key == key {
			return t.Value
		}
	}
	return ""
}

func TestWriter_MultiFieldReading(t *testing.T) {
	sink := &fakeSink{}
	w := &Writer{sink: sink}

	w.Write(model.Reading{
		DeviceID:   "devA",
		SensorID:   "dht11-1",
		Type:       model.TypeDHT11,
		Value:      map[string]any{"temperature": 28.5, "humidity": 55.0},
		ReceivedAt: time.Now(),
	})

	if len(sink.points) != 2 {
		t.Fatalf("expected one point per field, got %d", len(sink.points))
	}
	for _, p := range sink.points {
		if p.Name() != "sensor_dht11-1" {
			t.Errorf("measurement = %s, want sensor_dht11-1", p.Name())
		}
		if tagValue(p, "device_id") != "devA" {
			t.Errorf("missing device_id tag")
		}
		if tagValue(p, "sensor_type") != "DHT11" {
			t.Errorf("sensor_type tag = %s", tagValue(p, "sensor_type"))
		}
		field := tagValue(p, "field")
		v, ok := fieldValue(p, field)
		if !ok {
			t.Fatalf("point field %q not present", field)
		}
		if _, isFloat := v.(float64); !isFloat {
			t.Errorf("field %s stored as %T, want float64", field, v)
		}
	}
}

func TestWriter_ActuatorReadingIsSingleValuePoint(t *testing.T) {
	sink := &fakeSink{}
	w := &Writer{sink: sink}

	w.Write(model.Reading{
		DeviceID:   "devA",
		SensorID:   "relay1",
		Type:       model.TypeRelay,
		Value:      1.0,
		ReceivedAt: time.Now(),
	})

	if len(sink.points) != 1 {
		t.Fatalf("expected 1 point, got %d", len(sink.points))
	}
	v, ok := fieldValue(sink.points[0], "value")
	if !ok || v != any(1.0) {
		t.Fatalf("actuator point value = %v ok=%v", v, ok)
	}
}

func TestWriter_StringValuedSensorStoredAsString(t *testing.T) {
	sink := &fakeSink{}
	w := &Writer{sink: sink}

	// Keypad digits arrive as json float64 but must persist as "1234".
	w.Write(model.Reading{
		DeviceID:   "devA",
		SensorID:   "keypad1",
		Type:       model.TypeKeypad4x4,
		Value:      map[string]any{"input": 1234.0},
		ReceivedAt: time.Now(),
	})

	if len(sink.points) != 1 {
		t.Fatalf("expected 1 point, got %d", len(sink.points))
	}
	v, _ := fieldValue(sink.points[0], "input")
	if v != any("1234") {
		t.Fatalf("keypad value stored as %v (%T), want string 1234", v, v)
	}
}

func TestWriter_NonNumericFieldDropped(t *testing.T) {
	sink := &fakeSink{}
	drops := 0
	w := &Writer{sink: sink}
	w.OnFieldDrop = func() { drops++ }

	w.Write(model.Reading{
		DeviceID:   "devA",
		SensorID:   "dht11-1",
		Type:       model.TypeDHT11,
		Value:      map[string]any{"temperature": 28.5, "status": "warming-up"},
		ReceivedAt: time.Now(),
	})

	if len(sink.points) != 1 {
		t.Fatalf("expected only the numeric field, got %d points", len(sink.points))
	}
	if drops != 1 {
		t.Fatalf("expected 1 field drop, got %d", drops)
	}
}

func TestWriter_ScalarNonActuatorBecomesValueField(t *testing.T) {
	sink := &fakeSink{}
	w := &Writer{sink: sink}

	w.Write(model.Reading{
		DeviceID:   "devA",
		SensorID:   "ds18b20-1",
		Type:       model.TypeDS18B20,
		Value:      22.75,
		ReceivedAt: time.Now(),
	})

	if len(sink.points) != 1 {
		t.Fatalf("expected 1 point, got %d", len(sink.points))
	}
	if _, ok := fieldValue(sink.points[0], "value"); !ok {
		t.Fatal("scalar reading should store under the value field")
	}
}
