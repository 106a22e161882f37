package model

import "testing"

func TestToFloat(t *testing.T) {
	cases := []struct {
		in   any
		want float64
		ok   bool
	}{
		{28.5, 28.5, true},
		{int(3), 3, true},
		{int64(7), 7, true},
		{"12.25", 12.25, true},
		{"-4", -4, true},
		{true, 1, true},
		{false, 0, true},
		{"abc", 0, false},
		{nil, 0, false},
		{map[string]any{}, 0, false},
	}
	for _, tc := range cases {
		got, err := ToFloat(tc.in)
		if tc.ok && (err != nil || got != tc.want) {
			t.Errorf("ToFloat(%v) = %v, %v; want %v", tc.in, got, err, tc.want)
		}
		if !tc.ok && err == nil {
			t.Errorf("ToFloat(%v) should fail", tc.in)
		}
	}
}

func TestToString_IntegralFloatHasNoDecimal(t *testing.T) {
	// JSON decodes keypad digits to float64; they must round-trip as digits.
	if got := ToString(1234.0); got != "1234" {
		t.Errorf("ToString(1234.0) = %q, want 1234", got)
	}
	if got := ToString(12.5); got != "12.5" {
		t.Errorf("ToString(12.5) = %q, want 12.5", got)
	}
	if got := ToString("abc"); got != "abc" {
		t.Errorf("ToString(abc) = %q", got)
	}
	if got := ToString(nil); got != "" {
		t.Errorf("ToString(nil) = %q, want empty", got)
	}
	if got := ToString(true); got != "true" {
		t.Errorf("ToString(true) = %q", got)
	}
}

func TestTruthy(t *testing.T) {
	falsy := []any{nil, 0, 0.0, false, "", "0"}
	for _, v := range falsy {
		if Truthy(v) {
			t.Errorf("Truthy(%v) should be false", v)
		}
	}
	truthy := []any{1, 90.0, true, "1", "on"}
	for _, v := range truthy {
		if !Truthy(v) {
			t.Errorf("Truthy(%v) should be true", v)
		}
	}
}

func TestSensorTypeSets(t *testing.T) {
	if !TypeSG90.IsActuator() || !TypeRelay.IsActuator() {
		t.Error("SG90 and RELAY are actuators")
	}
	if TypeDHT11.IsActuator() {
		t.Error("DHT11 is not an actuator")
	}
	if !TypeKeypad4x4.IsStringValued() || TypeDS18B20.IsStringValued() {
		t.Error("only the keypad is string-valued")
	}
	if TypeSG90.StateField() != "angle" || TypeRelay.StateField() != "state" {
		t.Error("actuator state fields are angle/state")
	}
	if SensorType(42).String() != "UNKNOWN_42" {
		t.Errorf("unknown type name: %s", SensorType(42))
	}
}
