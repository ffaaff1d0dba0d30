package state

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Coerce converts a command value to the node type. Command values
// arrive as JSON-decoded scalars or raw strings from MQTT and HTTP.
func Coerce(t Type, val any) (any, error) {
	switch t {
	case TypeBoolean:
		switch v := val.(type) {
		case bool:
			return v, nil
		case float64:
			return v != 0, nil
		case int:
			return v != 0, nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return nil, ErrTypeMismatch
			}
			return b, nil
		}
	case TypeNumber:
		switch v := val.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		case bool:
			if v {
				return float64(1), nil
			}
			return float64(0), nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return nil, ErrTypeMismatch
			}
			return f, nil
		}
	case TypeString:
		if s, ok := val.(string); ok {
			return s, nil
		}
		return fmt.Sprint(val), nil
	case TypeJSON:
		if s, ok := val.(string); ok {
			return s, nil
		}
		b, err := json.Marshal(val)
		if err != nil {
			return nil, ErrTypeMismatch
		}
		return string(b), nil
	case TypeMixed:
		return val, nil
	}
	return nil, ErrTypeMismatch
}
