package canonical

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/gowebpki/jcs"
)

// V1 is the first canonical encoding.
//
// Normalization rules:
//   - nil values, empty strings, zero times, and empty maps or slices are dropped,
//     so an absent field and an empty field encode identically
//   - time.Time values become UTC RFC 3339 strings with nanosecond precision
//   - fmt.Stringer values (closed enums) become their string form
//   - nested maps and slices are normalized recursively
//
// The normalized value is marshalled to JSON and canonicalised according to
// RFC 8785 (sorted keys, fixed number formatting, no insignificant whitespace).
// Integers above 2^53 cannot round-trip through JSON storage and must be
// carried as strings.
type V1 struct{}

// Version implements Encoder.
func (V1) Version() int { return 1 }

// Normalize implements Encoder.
func (V1) Normalize(fields map[string]any) (map[string]any, error) {
	out, _, err := normalizeMap(fields)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

// Encode implements Encoder.
func (v V1) Encode(fields map[string]any) ([]byte, error) {
	n, err := v.Normalize(fields)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize payload: %w", err)
	}
	return out, nil
}

func normalizeMap(m map[string]any) (map[string]any, bool, error) {
	if len(m) == 0 {
		return nil, false, nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		nv, keep, err := normalizeValue(v)
		if err != nil {
			return nil, false, fmt.Errorf("field %q: %w", k, err)
		}
		if keep {
			out[k] = nv
		}
	}
	if len(out) == 0 {
		return nil, false, nil
	}
	return out, true, nil
}

func normalizeSlice(s []any) ([]any, bool, error) {
	if len(s) == 0 {
		return nil, false, nil
	}
	out := make([]any, len(s))
	for i, v := range s {
		nv, keep, err := normalizeValue(v)
		if err != nil {
			return nil, false, fmt.Errorf("index %d: %w", i, err)
		}
		// Positions inside a slice are significant, so dropped values stay as null.
		if keep {
			out[i] = nv
		}
	}
	return out, true, nil
}

func normalizeValue(v any) (any, bool, error) {
	switch t := v.(type) {
	case nil:
		return nil, false, nil
	case string:
		return t, t != "", nil
	case bool:
		return t, true, nil
	case int:
		return int64(t), true, nil
	case int8:
		return int64(t), true, nil
	case int16:
		return int64(t), true, nil
	case int32:
		return int64(t), true, nil
	case int64:
		return t, true, nil
	case uint:
		return uint64(t), true, nil
	case uint8:
		return uint64(t), true, nil
	case uint16:
		return uint64(t), true, nil
	case uint32:
		return uint64(t), true, nil
	case uint64:
		return t, true, nil
	case float32:
		return normalizeFloat(float64(t))
	case float64:
		return normalizeFloat(t)
	case time.Time:
		if t.IsZero() {
			return nil, false, nil
		}
		return t.UTC().Format(time.RFC3339Nano), true, nil
	case *time.Time:
		if t == nil {
			return nil, false, nil
		}
		return normalizeValue(*t)
	case map[string]any:
		return normalizeMap(t)
	case map[string]string:
		m := make(map[string]any, len(t))
		for k, s := range t {
			m[k] = s
		}
		return normalizeMap(m)
	case []any:
		return normalizeSlice(t)
	case []string:
		s := make([]any, len(t))
		for i, e := range t {
			s[i] = e
		}
		return normalizeSlice(s)
	case fmt.Stringer:
		s := t.String()
		return s, s != "", nil
	default:
		return nil, false, fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
	}
}

func normalizeFloat(f float64) (any, bool, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, false, fmt.Errorf("%w: non-finite number", ErrUnsupportedValue)
	}
	return f, true, nil
}
