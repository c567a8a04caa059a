package models

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

// Attributes is a record's key/value payload. Values are restricted to the JSON
// variant: nil, string, bool, int64, float64, map[string]any and []any, with the
// same restriction applied recursively. Use CoerceValue to bring driver values in.
type Attributes map[string]any

// NewAttributes coerces every value of m into the attribute variant.
func NewAttributes(m map[string]any) Attributes {
	out := make(Attributes, len(m))
	for k, v := range m {
		out[k] = CoerceValue(v)
	}
	return out
}

// Clone returns a shallow copy with room for extra keys.
func (a Attributes) Clone(extra int) Attributes {
	out := make(Attributes, len(a)+extra)
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Keys returns the attribute names in sorted order.
func (a Attributes) Keys() []string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Validate reports the first value (by sorted key path) outside the variant.
func (a Attributes) Validate() error {
	return validateMap("", a)
}

func validateMap(prefix string, m map[string]any) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := validateValue(prefix+k, m[k]); err != nil {
			return err
		}
	}
	return nil
}

func validateValue(path string, v any) error {
	switch val := v.(type) {
	case nil, string, bool, int64:
		return nil
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return fmt.Errorf("attribute %q: non-finite number", path)
		}
		return nil
	case map[string]any:
		return validateMap(path+".", val)
	case Attributes:
		return validateMap(path+".", val)
	case []any:
		for i, item := range val {
			if err := validateValue(fmt.Sprintf("%s[%d]", path, i), item); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("attribute %q: unsupported value type %T", path, v)
	}
}

// CoerceValue converts a value read from a driver or decoded from JSON into the
// attribute variant. Types with no natural JSON form degrade to their string form.
func CoerceValue(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		return val
	case bool:
		return val
	case int:
		return int64(val)
	case int8:
		return int64(val)
	case int16:
		return int64(val)
	case int32:
		return int64(val)
	case int64:
		return val
	case uint8:
		return int64(val)
	case uint16:
		return int64(val)
	case uint32:
		return int64(val)
	case uint:
		if uint64(val) > math.MaxInt64 {
			return fmt.Sprint(val)
		}
		return int64(val)
	case uint64:
		if val > math.MaxInt64 {
			return fmt.Sprint(val)
		}
		return int64(val)
	case float32:
		return coerceFloat(float64(val))
	case float64:
		return coerceFloat(val)
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		// Integers beyond int64 keep their exact decimal text.
		if isIntegerLiteral(val.String()) {
			return val.String()
		}
		if f, err := val.Float64(); err == nil {
			return coerceFloat(f)
		}
		return val.String()
	case []byte:
		return string(val)
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case uuid.UUID:
		return val.String()
	case [16]byte:
		return uuid.UUID(val).String()
	case pgtype.Numeric:
		if !val.Valid {
			return nil
		}
		if val.NaN || val.InfinityModifier != pgtype.Finite {
			return nil
		}
		if val.Exp >= 0 && val.Int != nil {
			return coerceInteger(val.Int, val.Exp)
		}
		f, err := val.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return coerceFloat(f.Float64)
	case Attributes:
		return map[string]any(NewAttributes(val))
	case map[string]any:
		return map[string]any(NewAttributes(val))
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = CoerceValue(item)
		}
		return out
	case []string:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = item
		}
		return out
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}

// coerceInteger returns digits * 10^exp as int64 when it fits, else as exact decimal text.
func coerceInteger(digits *big.Int, exp int32) any {
	n := new(big.Int).Set(digits)
	if exp > 0 {
		n.Mul(n, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(exp)), nil))
	}
	if n.IsInt64() {
		return n.Int64()
	}
	return n.String()
}

func isIntegerLiteral(s string) bool {
	s = strings.TrimPrefix(s, "-")
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func coerceFloat(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return f
}
