package rules

import (
	"path/filepath"
	"testing"
	"time"

	"iot-systemv1/internal/model"
)

type sinkCall struct {
	deviceID   string
	actuatorID string
	value      any
	toggle     bool
	pulse      bool
	seconds    float64
}

// fakeSink records every action the engine fires.
type fakeSink struct {
	calls []sinkCall
}

func (f *fakeSink) Issue(deviceID, actuatorID string, value any, toggle bool) {
	f.calls = append(f.calls, sinkCall{deviceID: deviceID, actuatorID: actuatorID, value: value, toggle: toggle})
}

func (f *fakeSink) Pulse(deviceID, actuatorID string, value any, seconds float64) {
	f.calls = append(f.calls, sinkCall{deviceID: deviceID, actuatorID: actuatorID, value: value, pulse: true, seconds: seconds})
}

// fakeClock is a settable time source shared by store and engine.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestEngine(t *testing.T) (*Engine, *Store, *fakeSink, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	store := NewStore(filepath.Join(t.TempDir(), "rules.json"))
	store.SetClock(clock.now)
	sink := &fakeSink{}
	engine := NewEngine(store, sink)
	engine.SetClock(clock.now)
	return engine, store, sink, clock
}

func limitRule(id string, holdSec float64) *model.Rule {
	return &model.Rule{
		ID: id,
		Condition: []*model.Condition{{
			Tipo:      model.CondLimit,
			DeviceID:  "devA",
			SensorID:  "temp1",
			Measure:   "temperature",
			Operator:  model.OpGT,
			Threshold: 30.0,
			HoldSec:   holdSec,
		}},
		Then: []model.Action{{DeviceID: "devA", ActuatorID: "relay1", Value: 1}},
		Else: []model.Action{{DeviceID: "devA", ActuatorID: "relay1", Value: 0}},
	}
}

func TestEngine_ThresholdTransition(t *testing.T) {
	engine, store, sink, _ := newTestEngine(t)
	if err := store.Create(limitRule("R1", 0)); err != nil {
		t.Fatalf("create: %v", err)
	}

	engine.Evaluate("devA", "temp1", map[string]any{"temperature": 31.0})
	if len(sink.calls) != 1 {
		t.Fatalf("expected 1 action after first breach, got %d", len(sink.calls))
	}
	if c := sink.calls[0]; c.actuatorID != "relay1" || c.value != any(1) {
		t.Fatalf("unexpected action %+v", c)
	}

	// Same verdict again: no new action.
	engine.Evaluate("devA", "temp1", map[string]any{"temperature": 35.0})
	if len(sink.calls) != 1 {
		t.Fatalf("expected no action on repeated verdict, got %d", len(sink.calls))
	}

	// Falling below fires the else branch exactly once.
	engine.Evaluate("devA", "temp1", map[string]any{"temperature": 20.0})
	if len(sink.calls) != 2 {
		t.Fatalf("expected else action on verdict flip, got %d calls", len(sink.calls))
	}
	if c := sink.calls[1]; c.value != any(0) {
		t.Fatalf("else action should carry value 0, got %+v", c)
	}
	engine.Evaluate("devA", "temp1", map[string]any{"temperature": 19.0})
	if len(sink.calls) != 2 {
		t.Fatalf("expected no action on repeated false verdict, got %d", len(sink.calls))
	}
}

func TestEngine_DwellDelaysTrigger(t *testing.T) {
	engine, store, sink, clock := newTestEngine(t)
	if err := store.Create(limitRule("R1", 5)); err != nil {
		t.Fatalf("create: %v", err)
	}

	// Breach at t0: predicate flips true but dwell not met.
	engine.Evaluate("devA", "temp1", map[string]any{"temperature": 31.0})
	for _, c := range sink.calls {
		if c.value == any(1) {
			t.Fatalf("then action fired before dwell elapsed: %+v", c)
		}
	}
	fired := len(sink.calls)

	// Still breached 6s later: dwell satisfied, then fires once.
	clock.advance(6 * time.Second)
	engine.Evaluate("devA", "temp1", map[string]any{"temperature": 31.0})
	if len(sink.calls) != fired+1 {
		t.Fatalf("expected exactly one then action after dwell, got %d new", len(sink.calls)-fired)
	}
	if c := sink.calls[len(sink.calls)-1]; c.value != any(1) {
		t.Fatalf("expected then value 1, got %+v", c)
	}

	// A dip below restamps: the next breach starts the dwell over.
	clock.advance(time.Second)
	engine.Evaluate("devA", "temp1", map[string]any{"temperature": 20.0})
	clock.advance(time.Second)
	fired = len(sink.calls)
	engine.Evaluate("devA", "temp1", map[string]any{"temperature": 31.0})
	for _, c := range sink.calls[fired:] {
		if c.value == any(1) {
			t.Fatalf("dwell was not restarted after predicate flip")
		}
	}
}

func TestEngine_PasswordMatch(t *testing.T) {
	engine, store, sink, _ := newTestEngine(t)
	rule := &model.Rule{
		ID: "R3",
		Condition: []*model.Condition{{
			Tipo:     model.CondPassword,
			DeviceID: "devA",
			SensorID: "keypad1",
			Password: "1234",
		}},
		Then: []model.Action{{DeviceID: "devA", ActuatorID: "door1", Value: 1}},
		Else: []model.Action{{DeviceID: "devA", ActuatorID: "door1", Value: 0}},
	}
	if err := store.Create(rule); err != nil {
		t.Fatalf("create: %v", err)
	}

	engine.Evaluate("devA", "keypad1", map[string]any{"input": "1234"})
	if len(sink.calls) != 1 || sink.calls[0].value != any(1) {
		t.Fatalf("expected one door=1 action, got %+v", sink.calls)
	}

	// Same password again: verdict unchanged, no action.
	engine.Evaluate("devA", "keypad1", map[string]any{"input": "1234"})
	if len(sink.calls) != 1 {
		t.Fatalf("repeated match must not re-fire, got %d calls", len(sink.calls))
	}

	// Wrong password flips the verdict: else fires.
	engine.Evaluate("devA", "keypad1", map[string]any{"input": "0000"})
	if len(sink.calls) != 2 || sink.calls[1].value != any(0) {
		t.Fatalf("expected door=0 from else, got %+v", sink.calls)
	}
}

func TestEngine_NumericPasswordStringifies(t *testing.T) {
	engine, store, sink, _ := newTestEngine(t)
	rule := &model.Rule{
		ID: "R3",
		Condition: []*model.Condition{{
			Tipo:     model.CondPassword,
			DeviceID: "devA",
			SensorID: "keypad1",
			Password: "1234",
		}},
		Then: []model.Action{{DeviceID: "devA", ActuatorID: "door1", Value: 1}},
	}
	if err := store.Create(rule); err != nil {
		t.Fatalf("create: %v", err)
	}

	// JSON decodes digits as float64; 1234.0 must still match "1234".
	engine.Evaluate("devA", "keypad1", map[string]any{"input": 1234.0})
	if len(sink.calls) != 1 {
		t.Fatalf("numeric keypad input should match string password, got %d calls", len(sink.calls))
	}
}

func TestEngine_PulseAndToggleActions(t *testing.T) {
	engine, store, sink, _ := newTestEngine(t)
	rule := limitRule("R1", 0)
	rule.Then = []model.Action{
		{DeviceID: "devA", ActuatorID: "buzzer1", Value: 1, PulseSec: 3},
		{DeviceID: "devA", ActuatorID: "relay1", Mode: model.ModeToggle},
	}
	rule.Else = nil
	if err := store.Create(rule); err != nil {
		t.Fatalf("create: %v", err)
	}

	engine.Evaluate("devA", "temp1", map[string]any{"temperature": 31.0})
	if len(sink.calls) != 2 {
		t.Fatalf("expected 2 actions, got %d", len(sink.calls))
	}
	if c := sink.calls[0]; !c.pulse || c.seconds != 3 {
		t.Fatalf("expected pulse of 3s, got %+v", c)
	}
	if c := sink.calls[1]; c.pulse || !c.toggle {
		t.Fatalf("expected toggle issue, got %+v", c)
	}
}

func TestEngine_IrrelevantRuleSkipped(t *testing.T) {
	engine, store, sink, _ := newTestEngine(t)
	if err := store.Create(limitRule("R1", 0)); err != nil {
		t.Fatalf("create: %v", err)
	}

	evaluated := 0
	engine.OnEvaluated = func() { evaluated++ }

	// Reading from an unrelated sensor must not touch the rule.
	engine.Evaluate("devB", "other", map[string]any{"temperature": 99.0})
	if evaluated != 0 || len(sink.calls) != 0 {
		t.Fatalf("irrelevant reading evaluated a rule (evals=%d calls=%d)", evaluated, len(sink.calls))
	}
}

func TestEngine_StringThresholdEquality(t *testing.T) {
	engine, store, sink, _ := newTestEngine(t)
	rule := &model.Rule{
		ID: "R5",
		Condition: []*model.Condition{{
			Tipo:      model.CondLimit,
			DeviceID:  "devA",
			SensorID:  "keypad1",
			Measure:   "input",
			Operator:  model.OpEQ,
			Threshold: "A",
		}},
		Then: []model.Action{{DeviceID: "devA", ActuatorID: "relay1", Value: 1}},
	}
	if err := store.Create(rule); err != nil {
		t.Fatalf("create: %v", err)
	}

	engine.Evaluate("devA", "keypad1", map[string]any{"input": "A"})
	if len(sink.calls) != 1 {
		t.Fatalf("string equality should match, got %d calls", len(sink.calls))
	}
}

func TestEngine_StringThresholdRelationalIsFalse(t *testing.T) {
	engine, store, sink, _ := newTestEngine(t)
	rule := &model.Rule{
		ID: "R6",
		Condition: []*model.Condition{{
			Tipo:      model.CondLimit,
			DeviceID:  "devA",
			SensorID:  "keypad1",
			Measure:   "input",
			Operator:  model.OpGT,
			Threshold: "A",
		}},
		Then: []model.Action{{DeviceID: "devA", ActuatorID: "relay1", Value: 1}},
	}
	if err := store.Create(rule); err != nil {
		t.Fatalf("create: %v", err)
	}

	engine.Evaluate("devA", "keypad1", map[string]any{"input": "B"})
	for _, c := range sink.calls {
		if c.value == any(1) {
			t.Fatalf("relational operator on string threshold must evaluate false")
		}
	}
}

func TestEngine_ConjunctionAcrossConditions(t *testing.T) {
	engine, store, sink, _ := newTestEngine(t)
	rule := &model.Rule{
		ID: "R7",
		Condition: []*model.Condition{
			{
				Tipo: model.CondLimit, DeviceID: "devA", SensorID: "temp1",
				Measure: "temperature", Operator: model.OpGT, Threshold: 30.0,
			},
			{
				Tipo: model.CondLimit, DeviceID: "devA", SensorID: "temp1",
				Measure: "humidity", Operator: model.OpLT, Threshold: 40.0,
			},
		},
		Then: []model.Action{{DeviceID: "devA", ActuatorID: "relay1", Value: 1}},
	}
	if err := store.Create(rule); err != nil {
		t.Fatalf("create: %v", err)
	}

	// One condition satisfied, one not: verdict false.
	engine.Evaluate("devA", "temp1", map[string]any{"temperature": 35.0, "humidity": 60.0})
	for _, c := range sink.calls {
		if c.value == any(1) {
			t.Fatalf("verdict must be the conjunction of all relevant conditions")
		}
	}

	// Both satisfied: verdict flips true.
	fired := len(sink.calls)
	engine.Evaluate("devA", "temp1", map[string]any{"temperature": 35.0, "humidity": 30.0})
	if len(sink.calls) != fired+1 {
		t.Fatalf("expected then action once both conditions hold")
	}
}
