package model

// SensorType is the numeric sensor/actuator type id carried on the wire as
// "tipo" (or "type"). The ids match the device firmware enumeration.
type SensorType int

const (
	TypeMPU SensorType = iota
	TypeDS18B20
	TypeHCSR04
	TypeAPDS9960
	TypeSG90
	TypeRelay
	TypeJoystick
	TypeKeypad4x4
	TypeEncoder
	TypeDHT11
)

var typeNames = map[SensorType]string{
	TypeMPU:       "MPU",
	TypeDS18B20:   "DS18B20",
	TypeHCSR04:    "HC-SR04",
	TypeAPDS9960:  "APDS9960",
	TypeSG90:      "SG90",
	TypeRelay:     "RELAY",
	TypeJoystick:  "JOYSTICK",
	TypeKeypad4x4: "KEYPAD_4x4",
	TypeEncoder:   "ENCODER",
	TypeDHT11:     "DHT11",
}

// String returns the firmware name for the type, or "UNKNOWN_<n>".
func (t SensorType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return "UNKNOWN_" + Itoa(int(t))
}

// IsActuator reports whether readings of this type describe an actuator state
// rather than a measurement.
func (t SensorType) IsActuator() bool {
	return t == TypeSG90 || t == TypeRelay
}

// IsStringValued reports whether values of this type are stored as strings
// (keypads emit key sequences, not numbers).
func (t SensorType) IsStringValued() bool {
	return t == TypeKeypad4x4
}

// StateField returns the values key an actuator of this type reports its
// scalar under. Empty for non-actuators.
func (t SensorType) StateField() string {
	switch t {
	case TypeSG90:
		return "angle"
	case TypeRelay:
		return "state"
	default:
		return ""
	}
}
