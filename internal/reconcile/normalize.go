package reconcile

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/nuki-gateway/internal/state"
)

var (
	errNotNormalisable = errors.New("value does not match field type")
	errMalformedPath   = errors.New("malformed field path")
)

// TimestampLayout is the vendor-style UTC timestamp written to date nodes.
const TimestampLayout = "2006-01-02T15:04:05+00:00"

// FormatTimestamp formats t the way date nodes store it.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// flatten walks a payload and writes every leaf into out under its
// dotted path. Fields the table marks as JSON are kept whole and skipped
// fields are dropped. Arrays of scalars are joined with ","; arrays
// holding objects are stored as JSON.
func flatten(table Table, prefix string, v map[string]any, out map[string]any) {
	for k, val := range v {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		f := table[key]
		switch f.Shape {
		case ShapeSkip:
			continue
		case ShapeJSON:
			out[key] = val
			continue
		}

		switch typed := val.(type) {
		case map[string]any:
			flatten(table, key, typed, out)
		case []any:
			out[key] = joinArray(typed)
		default:
			out[key] = val
		}
	}
}

func joinArray(arr []any) any {
	parts := make([]string, 0, len(arr))
	for _, elem := range arr {
		switch e := elem.(type) {
		case map[string]any, []any:
			b, err := json.Marshal(arr)
			if err != nil {
				return ""
			}
			return string(b)
		case string:
			parts = append(parts, e)
		case float64:
			parts = append(parts, strconv.FormatFloat(e, 'f', -1, 64))
		default:
			parts = append(parts, fmt.Sprint(e))
		}
	}
	return strings.Join(parts, ",")
}

// normalised is a flattened payload mapped onto target node paths.
type normalised struct {
	values map[string]any
	metas  map[string]state.Meta
}

// normalise maps flattened source fields through a table. Fields that
// fail are reported through drop and left out.
func normalise(table Table, flat map[string]any, drop func(key string, err error)) normalised {
	n := normalised{values: make(map[string]any, len(flat)), metas: make(map[string]state.Meta, len(flat))}

	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if err := checkPath(key); err != nil {
			drop(key, err)
			continue
		}
		f, known := table[key]
		if !known {
			f = Field{Type: inferType(flat[key]), Role: "state"}
		}
		target := f.Target
		if target == "" {
			target = key
		}

		v, err := normaliseValue(f, flat[key])
		if err != nil {
			drop(key, err)
			continue
		}
		n.values[target] = v
		n.metas[target] = f.meta(target)
	}
	return n
}

func (n normalised) set(target string, v any, f Field) {
	n.values[target] = v
	n.metas[target] = f.meta(target)
}

func checkPath(key string) error {
	for _, seg := range strings.Split(key, ".") {
		if seg == "" || strings.ContainsAny(seg, " */#+?[]") {
			return fmt.Errorf("%w: %q", errMalformedPath, key)
		}
	}
	return nil
}

func inferType(v any) state.Type {
	switch v.(type) {
	case bool:
		return state.TypeBoolean
	case float64, float32, int, int64, uint32, uint64:
		return state.TypeNumber
	case string:
		return state.TypeString
	default:
		return state.TypeMixed
	}
}

func normaliseValue(f Field, v any) (any, error) {
	if f.Shape == ShapeJSON {
		if s, ok := v.(string); ok {
			return s, nil
		}
		b, err := json.Marshal(v)
		if err != nil {
			return nil, errNotNormalisable
		}
		return string(b), nil
	}

	switch f.Type {
	case state.TypeBoolean:
		return normaliseBool(f, v)
	case state.TypeNumber:
		if n, ok := toFloat(v); ok {
			return n, nil
		}
		switch t := v.(type) {
		case bool:
			if t {
				return float64(1), nil
			}
			return float64(0), nil
		case string:
			n, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
			if err != nil {
				return nil, errNotNormalisable
			}
			return n, nil
		}
		return nil, errNotNormalisable
	case state.TypeString:
		switch t := v.(type) {
		case string:
			return t, nil
		case float64:
			return strconv.FormatFloat(t, 'f', -1, 64), nil
		case nil:
			return "", nil
		default:
			return fmt.Sprint(t), nil
		}
	default:
		return v, nil
	}
}

// normaliseBool accepts booleans, 0/1 style numbers, "true"/"false" and
// enumeration names. With a truth table, numbers and names are looked
// up in it rather than compared against zero.
func normaliseBool(f Field, v any) (any, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		if b, err := strconv.ParseBool(strings.TrimSpace(t)); err == nil {
			return b, nil
		}
		code, ok := enumCode(f.States, t)
		if !ok {
			return nil, errNotNormalisable
		}
		return truth(f, code), nil
	}
	if n, ok := toFloat(v); ok {
		if n != math.Trunc(n) {
			return nil, errNotNormalisable
		}
		return truth(f, int(n)), nil
	}
	return nil, errNotNormalisable
}

func truth(f Field, code int) bool {
	if f.Truth != nil {
		return f.Truth[code]
	}
	return code != 0
}

// enumCode finds the value of an enumeration name. Case and the
// underscore/space distinction are ignored.
func enumCode(states map[int]string, name string) (int, bool) {
	want := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(name), "_", " "))
	for code, n := range states {
		if strings.ToUpper(n) == want {
			return code, true
		}
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func toInt(v any) (int, bool) {
	if s, ok := v.(string); ok {
		n, err := strconv.Atoi(strings.TrimSpace(s))
		return n, err == nil
	}
	f, ok := toFloat(v)
	if !ok || f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}

func toUint64(v any) (uint64, bool) {
	if s, ok := v.(string); ok {
		n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
		return n, err == nil
	}
	f, ok := toFloat(v)
	if !ok || f < 0 || f != math.Trunc(f) {
		return 0, false
	}
	return uint64(f), true
}
