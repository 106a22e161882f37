package model

import (
	"fmt"
	"strconv"
)

// Itoa is a minimal int-to-string converter for hot-path usage.
// Avoids importing strconv to eliminate unnecessary overhead.
func Itoa(n int) string {
	if n == 0 {
		return "0"
	}
	buf := [20]byte{}
	i := len(buf)
	neg := n < 0
	if neg {
		n = -n
	}
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// ToFloat coerces a decoded JSON scalar to float64. Strings are parsed;
// booleans map to 0/1.
func ToFloat(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, fmt.Errorf("not numeric: %q", t)
		}
		return f, nil
	case bool:
		if t {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("not numeric: %T", v)
	}
}

// ToString coerces a decoded JSON scalar to its string form. Integral floats
// print without a decimal point so keypad input like 1234 round-trips through
// the json float64 decode.
func ToString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		if t {
			return "true"
		}
		return "false"
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

// Truthy reports whether a scalar reads as "on": nil, 0, false, "" and "0"
// are falsy, everything else truthy. Used to resolve toggle actions.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != "" && t != "0"
	default:
		f, err := ToFloat(v)
		if err != nil {
			return true
		}
		return f != 0
	}
}
