package rules

import (
	"log"
	"time"

	"iot-systemv1/internal/model"
)

// ActionSink receives the actuator commands a rule transition produces. Both
// calls must return promptly; the HTTP work happens on the sink's own
// goroutines.
type ActionSink interface {
	// Issue commits value (or the toggled state when toggle is set) once.
	Issue(deviceID, actuatorID string, value any, toggle bool)
	// Pulse commits value now and 0 after seconds.
	Pulse(deviceID, actuatorID string, value any, seconds float64)
}

// Engine evaluates every rule against each inbound reading. It mutates the
// per-condition temporal state and the per-rule trigger state under the
// store's mutex, so evaluation and rule management never interleave.
type Engine struct {
	store *Store
	sink  ActionSink

	// now is the monotonic clock for dwell checks. Tests inject a fake.
	now func() time.Time

	// Optional hooks for metrics.
	OnEvaluated  func()
	OnTransition func(ruleID string, active bool)
}

// NewEngine creates an Engine bound to a store and an action sink.
func NewEngine(store *Store, sink ActionSink) *Engine {
	return &Engine{
		store: store,
		sink:  sink,
		now:   time.Now,
	}
}

// SetClock overrides the time source. Tests only.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// Evaluate runs every rule against one reading. A rule with no condition on
// (deviceID, sensorID) is skipped entirely; for the rest, the verdict is the
// conjunction of its relevant conditions, and actions fire only when the
// verdict differs from the last one that fired.
func (e *Engine) Evaluate(deviceID, sensorID string, value any) {
	now := e.now()

	e.store.mu.Lock()
	defer e.store.mu.Unlock()

	for _, rule := range e.store.rules {
		relevant := false
		verdict := true
		for _, c := range rule.Condition {
			if c.DeviceID != deviceID || c.SensorID != sensorID {
				continue
			}
			relevant = true
			if !e.evalCondition(rule.ID, c, value, now) {
				verdict = false
				break
			}
		}
		if !relevant {
			continue
		}
		if e.OnEvaluated != nil {
			e.OnEvaluated()
		}

		prev := rule.LastTriggered
		if prev != nil && *prev == verdict {
			continue // no transition, no actions
		}
		v := verdict
		rule.LastTriggered = &v

		actions := rule.Then
		if !verdict {
			actions = rule.Else
		}
		log.Printf("[engine] rule %s -> %v (%d actions)", rule.ID, verdict, len(actions))
		if e.OnTransition != nil {
			e.OnTransition(rule.ID, verdict)
		}
		e.fire(actions)
	}
}

// evalCondition reports whether one relevant condition is satisfied by the
// incoming value, updating its temporal state as a side effect.
func (e *Engine) evalCondition(ruleID string, c *model.Condition, value any, now time.Time) bool {
	switch c.Tipo {
	case model.CondLimit:
		return e.evalLimit(ruleID, c, value, now)
	case model.CondPassword:
		return evalPassword(c, value)
	default:
		log.Printf("[engine] rule %s: unknown condition type %q", ruleID, c.Tipo)
		return false
	}
}

// evalLimit compares the resolved scalar against the threshold, restamps
// StateSince on a predicate flip, and applies the dwell requirement.
func (e *Engine) evalLimit(ruleID string, c *model.Condition, value any, now time.Time) bool {
	x, ok := resolveScalar(value, c.Measure)
	if !ok {
		log.Printf("[engine] rule %s: measure %q not found in reading", ruleID, c.Measure)
		return false
	}

	p, err := compare(c.Operator, x, c.Threshold)
	if err != nil {
		log.Printf("[engine] rule %s: %v", ruleID, err)
		return false
	}

	if p != c.LastState {
		c.LastState = p
		c.StateSince = now
	}

	if c.HoldSec == 0 {
		return p
	}
	dwell := time.Duration(c.HoldSec * float64(time.Second))
	return p && now.Sub(c.StateSince) >= dwell
}

// evalPassword matches the incoming value (values.input for a field map)
// verbatim against the expected password. No time component.
func evalPassword(c *model.Condition, value any) bool {
	if m, ok := value.(map[string]any); ok {
		value = m["input"]
	}
	return model.ToString(value) == c.Password
}

// resolveScalar extracts the value a limit condition compares: a field lookup
// for map readings, the scalar itself otherwise.
func resolveScalar(value any, measure string) (any, bool) {
	m, ok := value.(map[string]any)
	if !ok {
		return value, true
	}
	v, ok := m[measure]
	return v, ok
}

// compare applies one of the closed operator set. A string threshold is
// compared by string (in)equality; relational operators on strings are a rule
// authoring error and evaluate false.
func compare(op string, x, threshold any) (bool, error) {
	if ts, ok := threshold.(string); ok {
		xs := model.ToString(x)
		switch op {
		case model.OpEQ:
			return xs == ts, nil
		case model.OpNE:
			return xs != ts, nil
		case model.OpLT, model.OpLE, model.OpGT, model.OpGE:
			return false, nil
		default:
			return false, unknownOp(op)
		}
	}

	xf, err := model.ToFloat(x)
	if err != nil {
		return false, err
	}
	tf, err := model.ToFloat(threshold)
	if err != nil {
		return false, err
	}

	switch op {
	case model.OpLT:
		return xf < tf, nil
	case model.OpLE:
		return xf <= tf, nil
	case model.OpGT:
		return xf > tf, nil
	case model.OpGE:
		return xf >= tf, nil
	case model.OpEQ:
		return xf == tf, nil
	case model.OpNE:
		return xf != tf, nil
	default:
		return false, unknownOp(op)
	}
}

type opError string

func (e opError) Error() string { return "unknown operator " + string(e) }

func unknownOp(op string) error { return opError(op) }

// fire hands each action to the sink. Pulsed actions run on the sink's own
// goroutine so evaluation returns promptly.
func (e *Engine) fire(actions []model.Action) {
	for _, a := range actions {
		if a.PulseSec > 0 {
			e.sink.Pulse(a.DeviceID, a.ActuatorID, a.Value, a.PulseSec)
			continue
		}
		e.sink.Issue(a.DeviceID, a.ActuatorID, a.Value, a.Mode == model.ModeToggle)
	}
}
