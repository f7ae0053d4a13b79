package codec

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"reflect"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/tiendc/go-deepcopy"

	"github.com/roach88/odatalink/internal/edm"
	"github.com/roach88/odatalink/internal/errs"
)

// Encode converts a canonical value into its JSON wire form for p.
//
// Timestamps keep their offset (RFC 3339), decimals travel as JSON numbers,
// guids as strings and enums by member name.
func Encode(v any, p edm.Property) (any, error) {
	if v == nil {
		return nil, nil
	}
	if p.Collection {
		items, ok := v.([]any)
		if !ok {
			return nil, mismatch(p, v)
		}
		elem := p
		elem.Collection = false
		out := make([]any, len(items))
		for i, item := range items {
			w, err := Encode(item, elem)
			if err != nil {
				return nil, fmt.Errorf("%s[%d]: %w", p.Name, i, err)
			}
			out[i] = w
		}
		return out, nil
	}

	switch x := v.(type) {
	case edm.EnumValue:
		return x.Member, nil
	case *apd.Decimal:
		return json.Number(x.Text('f')), nil
	case uuid.UUID:
		return x.String(), nil
	case []byte:
		return base64.StdEncoding.EncodeToString(x), nil
	case time.Time:
		if p.Type == edm.Date {
			return x.Format(DateLayout), nil
		}
		return x.Format(time.RFC3339Nano), nil
	case time.Duration:
		if p.Type == edm.TimeOfDay {
			return FormatTimeOfDay(x), nil
		}
		return FormatDuration(x), nil
	case bool, string, int64, float64, map[string]any:
		return x, nil
	}
	return nil, errs.InvalidValue(p.Name, "cannot encode %T", v)
}

// FormatTimeOfDay renders an offset since midnight as hh:mm:ss[.fffffffff].
func FormatTimeOfDay(d time.Duration) string {
	t := time.Date(0, 1, 1, 0, 0, 0, 0, time.UTC).Add(d)
	return t.Format(TimeOfDayLayout)
}

// Equal compares two canonical values.
//
// Timestamps compare by instant, decimals numerically, byte slices and JSON
// trees by content.
func Equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch x := a.(type) {
	case time.Time:
		y, ok := b.(time.Time)
		return ok && x.Equal(y)
	case *apd.Decimal:
		y, ok := b.(*apd.Decimal)
		return ok && x.Cmp(y) == 0
	case []byte:
		y, ok := b.([]byte)
		return ok && bytes.Equal(x, y)
	case []any:
		y, ok := b.([]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !Equal(x[i], y[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		y, ok := b.(map[string]any)
		return ok && reflect.DeepEqual(x, y)
	}
	return a == b
}

// Clone returns a copy of a canonical value that shares no mutable state
// with the original.
func Clone(v any) any {
	switch x := v.(type) {
	case *apd.Decimal:
		return new(apd.Decimal).Set(x)
	case []byte:
		return bytes.Clone(x)
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = Clone(item)
		}
		return out
	case map[string]any:
		return CloneTree(x)
	}
	return v
}

// CloneTree deep-copies a decoded JSON object.
func CloneTree(tree map[string]any) map[string]any {
	if tree == nil {
		return nil
	}
	var out map[string]any
	if err := deepcopy.Copy(&out, &tree); err != nil {
		// JSON trees hold only maps, slices and scalars; copying cannot fail.
		panic(fmt.Sprintf("codec: clone JSON tree: %v", err))
	}
	return out
}
