package model

// SensorConfig mirrors the descriptor a device reports for one of its sensors
// or actuators, and the shape the edge API expects back when setting one.
type SensorConfig struct {
	ID        string     `json:"id"`
	Desc      string     `json:"desc,omitempty"`
	Tipo      SensorType `json:"tipo"`
	Pinos     []int      `json:"pinos,omitempty"`
	Atributo1 any        `json:"atributo1,omitempty"`
}

// Clone returns a copy with its own pin slice.
func (c SensorConfig) Clone() SensorConfig {
	cp := c
	cp.Pinos = append([]int(nil), c.Pinos...)
	return cp
}
