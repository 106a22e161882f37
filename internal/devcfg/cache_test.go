package devcfg

import (
	"testing"

	"iot-systemv1/internal/model"
)

func TestCache_UpdateAndGet(t *testing.T) {
	c := New()
	c.Update("devA", []model.SensorConfig{
		{ID: "relay1", Desc: "pump", Tipo: model.TypeRelay, Pinos: []int{16}, Atributo1: 0},
		{ID: "", Desc: "skipped"},
	})

	cfg, ok := c.Get("devA", "relay1")
	if !ok || cfg.Desc != "pump" || cfg.Tipo != model.TypeRelay {
		t.Fatalf("unexpected cached config %+v ok=%v", cfg, ok)
	}
	if c.Len() != 1 {
		t.Fatalf("descriptor without id must be skipped, len=%d", c.Len())
	}
	if _, ok := c.Get("devA", "missing"); ok {
		t.Fatal("unknown sensor must miss")
	}
}

func TestCache_ObserveActuatorKeepsDescriptor(t *testing.T) {
	c := New()
	c.Update("devA", []model.SensorConfig{
		{ID: "relay1", Desc: "pump", Tipo: model.TypeRelay, Pinos: []int{16}, Atributo1: 0},
	})

	// A reading moves only the state attribute.
	c.ObserveActuator("devA", "relay1", model.TypeRelay, 1)
	cfg, _ := c.Get("devA", "relay1")
	if cfg.Desc != "pump" || len(cfg.Pinos) != 1 {
		t.Fatalf("observe clobbered descriptor fields: %+v", cfg)
	}
	if cfg.Atributo1 != any(1) {
		t.Fatalf("attribute not updated: %v", cfg.Atributo1)
	}

	// Unknown actuator yields a minimal entry.
	c.ObserveActuator("devA", "sg90-1", model.TypeSG90, 90.0)
	cfg, ok := c.Get("devA", "sg90-1")
	if !ok || cfg.Tipo != model.TypeSG90 || cfg.Atributo1 != any(90.0) {
		t.Fatalf("minimal entry wrong: %+v ok=%v", cfg, ok)
	}
}

func TestCache_SetAttributeAndReset(t *testing.T) {
	c := New()
	c.SetAttribute("devA", "relay1", 1)
	cfg, ok := c.Get("devA", "relay1")
	if !ok || cfg.Atributo1 != any(1) {
		t.Fatalf("set attribute on unknown sensor should create entry: %+v", cfg)
	}

	c.Reset("devA")
	if _, ok := c.Get("devA", "relay1"); ok {
		t.Fatal("reset must drop the device")
	}
	if c.Len() != 0 {
		t.Fatalf("len after reset = %d", c.Len())
	}
}
