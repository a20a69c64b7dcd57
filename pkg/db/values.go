package db

import (
	"fmt"
	"math/big"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

// normalize maps driver-specific cell values onto the small set of Go types
// the rest of the module understands: nil, string, bool, time.Time, and the
// built-in numeric types.
func normalize(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case string, bool, time.Time,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return x
	case []byte:
		return string(x)
	case [16]byte:
		return uuid.UUID(x).String()
	case uuid.UUID:
		return x.String()
	case pgtype.Numeric:
		f, err := x.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	case *big.Int:
		if x == nil {
			return nil
		}
		f, _ := new(big.Float).SetInt(x).Float64()
		return f
	case interface{ Float64() (float64, bool) }:
		f, _ := x.Float64()
		return f
	case interface{ Float64() float64 }:
		return x.Float64()
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		return normalize(rv.Elem().Interface())
	}
	if s, ok := v.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%v", v)
}

func normalizeRow(values []any) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = normalize(v)
	}
	return out
}
