package model

import (
	"encoding/json"
	"time"
)

// Condition kinds on the wire ("tipo").
const (
	CondLimit    = "limite"
	CondPassword = "senha"
)

// Comparison operator tokens accepted by limit conditions. The set is closed;
// anything else fails validation.
const (
	OpLT = "<"
	OpLE = "<="
	OpGT = ">"
	OpGE = ">="
	OpEQ = "=="
	OpNE = "!="
)

// Action modes ("modo"). An empty mode means set.
const (
	ModeSet    = "set"
	ModeToggle = "toggle"
)

// Condition is one sub-predicate of a rule, scoped to a single sensor.
// Tipo selects the variant: a limit threshold (optionally with a dwell time)
// or a password match.
type Condition struct {
	Tipo     string `json:"tipo"`
	DeviceID string `json:"id_device"`
	SensorID string `json:"id_sensor"`

	// Limit fields. Threshold is numeric or string; a string threshold is
	// compared by string equality. HoldSec of 0 means fire immediately.
	Measure   string  `json:"medida,omitempty"`
	Operator  string  `json:"operador,omitempty"`
	Threshold any     `json:"valor_limite,omitempty"`
	HoldSec   float64 `json:"tempo,omitempty"`

	// Password field.
	Password string `json:"senha,omitempty"`

	// Engine-private temporal state. Never serialized: the disk snapshot and
	// rules/get both carry rule definitions only.
	LastState  bool      `json:"-"`
	StateSince time.Time `json:"-"`
}

// Action is a desired actuator state change. PulseSec > 0 means commit Value
// now and 0 after PulseSec seconds.
type Action struct {
	DeviceID   string  `json:"id_device"`
	ActuatorID string  `json:"id_atuador"`
	Value      any     `json:"valor"`
	PulseSec   float64 `json:"tempo"`
	Mode       string  `json:"modo,omitempty"`
}

// Rule pairs an ordered condition list with then/else action lists. Actions
// fire only on a change of the rule's overall verdict.
type Rule struct {
	ID        string       `json:"id_regra"`
	Condition []*Condition `json:"condicao"`
	Then      []Action     `json:"entao,omitempty"`
	Else      []Action     `json:"senao,omitempty"`

	// LastTriggered is nil until the engine has observed a verdict.
	LastTriggered *bool `json:"-"`
}

// Clone returns a deep copy safe to hand outside the store lock.
func (r *Rule) Clone() *Rule {
	cp := &Rule{
		ID:   r.ID,
		Then: append([]Action(nil), r.Then...),
		Else: append([]Action(nil), r.Else...),
	}
	if r.Condition != nil {
		cp.Condition = make([]*Condition, len(r.Condition))
		for i, c := range r.Condition {
			cc := *c
			cp.Condition[i] = &cc
		}
	}
	if r.LastTriggered != nil {
		v := *r.LastTriggered
		cp.LastTriggered = &v
	}
	return cp
}

// ResetState reinitializes all engine-private state, as on create/update.
func (r *Rule) ResetState(now time.Time) {
	r.LastTriggered = nil
	for _, c := range r.Condition {
		c.LastState = false
		c.StateSince = now
	}
}

// JSON serializes the rule definition (private state excluded by tags).
func (r *Rule) JSON() []byte {
	b, _ := json.Marshal(r)
	return b
}
