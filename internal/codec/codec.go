// Package codec converts property values between their wire (JSON) form and
// the canonical Go values entity instances hold.
//
// Canonical representations per declared type:
//
//	Edm.Boolean                      bool
//	Edm.Byte/SByte/Int16/Int32/Int64 int64
//	Edm.Single/Double                float64
//	Edm.Decimal                      *apd.Decimal
//	Edm.String                       string
//	Edm.Guid                         uuid.UUID
//	Edm.DateTimeOffset               time.Time
//	Edm.Date                         time.Time (midnight UTC)
//	Edm.TimeOfDay                    time.Duration since midnight
//	Edm.Duration                     time.Duration
//	Edm.Binary                       []byte
//	enum                             edm.EnumValue
//	complex                          map[string]any (JSON tree)
//	collection                       []any of the element representation
//
// Decode accepts wire values (json.Number, strings for temporal, decimal
// and IEEE754-compatible integer types) and serves the materializer.
// Coerce is stricter: it accepts native Go values only, plus strings where a
// string is the natural Go spelling (enum member names, guids), and serves
// entity mutation and filter literals.
package codec

import (
	"encoding/base64"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/roach88/odatalink/internal/edm"
	"github.com/roach88/odatalink/internal/errs"
)

// EnumResolver looks up enum types by name. *edm.Registry implements it.
type EnumResolver interface {
	Enum(name string) (*edm.EnumType, bool)
}

// Wire formats for temporal types.
const (
	DateLayout      = "2006-01-02"
	TimeOfDayLayout = "15:04:05.999999999"
)

// Coerce converts a native Go value into the canonical representation for p.
//
// nil passes through unchanged; nullability is the caller's concern.
// A value that does not fit the declared type yields an INVALID_VALUE error
// naming the property.
func Coerce(v any, p edm.Property, enums EnumResolver) (any, error) {
	return converter{enums: enums}.convert(v, p)
}

// Decode converts a JSON-decoded wire value into the canonical
// representation for p.
func Decode(raw any, p edm.Property, enums EnumResolver) (any, error) {
	return converter{enums: enums, wire: true}.convert(raw, p)
}

type converter struct {
	enums EnumResolver
	wire  bool
}

func (c converter) convert(v any, p edm.Property) (any, error) {
	if v == nil {
		return nil, nil
	}
	if p.Collection {
		return c.collection(v, p)
	}
	return c.single(v, p)
}

func (c converter) collection(v any, p edm.Property) (any, error) {
	items, ok := v.([]any)
	if !ok {
		return nil, mismatch(p, v)
	}
	elem := p
	elem.Collection = false
	out := make([]any, len(items))
	for i, item := range items {
		cv, err := c.single(item, elem)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", p.Name, i, err)
		}
		out[i] = cv
	}
	return out, nil
}

func (c converter) single(v any, p edm.Property) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch p.Kind {
	case edm.KindEnum:
		return c.enum(v, p)
	case edm.KindComplex:
		m, ok := v.(map[string]any)
		if !ok {
			return nil, mismatch(p, v)
		}
		return m, nil
	case edm.KindNavigation:
		return nil, errs.InvalidValue(p.Name, "navigation property cannot hold a scalar value")
	case edm.KindPrimitive:
		return c.primitive(v, p)
	default:
		return Infer(v), nil
	}
}

func (c converter) primitive(v any, p edm.Property) (any, error) {
	switch p.Type {
	case edm.Boolean:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case edm.Byte, edm.SByte, edm.Int16, edm.Int32, edm.Int64:
		n, ok := c.int64(v)
		if !ok {
			break
		}
		if lo, hi := intRange(p.Type); n < lo || n > hi {
			return nil, errs.InvalidValue(p.Name, "%d out of range for %s", n, p.Type)
		}
		return n, nil
	case edm.Single, edm.Double:
		if f, ok := c.float64(v); ok {
			return f, nil
		}
	case edm.Decimal:
		if d, ok := c.decimal(v); ok {
			return d, nil
		}
	case edm.String:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case edm.Guid:
		switch g := v.(type) {
		case uuid.UUID:
			return g, nil
		case string:
			id, err := uuid.Parse(g)
			if err != nil {
				return nil, errs.InvalidValue(p.Name, "invalid guid %q", g)
			}
			return id, nil
		}
	case edm.DateTimeOffset:
		switch t := v.(type) {
		case time.Time:
			return t, nil
		case string:
			if c.wire {
				return parseDateTime(p, t)
			}
		}
	case edm.Date:
		switch t := v.(type) {
		case time.Time:
			y, m, d := t.Date()
			return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
		case string:
			if !c.wire {
				break
			}
			parsed, err := time.Parse(DateLayout, t)
			if err != nil {
				return nil, errs.InvalidValue(p.Name, "invalid date %q", t)
			}
			return parsed, nil
		}
	case edm.TimeOfDay:
		switch t := v.(type) {
		case time.Duration:
			return t, nil
		case time.Time:
			midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
			return t.Sub(midnight), nil
		case string:
			if !c.wire {
				break
			}
			parsed, err := time.Parse(TimeOfDayLayout, t)
			if err != nil {
				return nil, errs.InvalidValue(p.Name, "invalid time of day %q", t)
			}
			return time.Duration(parsed.Hour())*time.Hour +
				time.Duration(parsed.Minute())*time.Minute +
				time.Duration(parsed.Second())*time.Second +
				time.Duration(parsed.Nanosecond()), nil
		}
	case edm.Duration:
		switch d := v.(type) {
		case time.Duration:
			return d, nil
		case string:
			if !c.wire {
				break
			}
			parsed, err := ParseDuration(d)
			if err != nil {
				return nil, errs.InvalidValue(p.Name, "%v", err)
			}
			return parsed, nil
		}
	case edm.Binary:
		switch b := v.(type) {
		case []byte:
			return b, nil
		case string:
			if !c.wire {
				break
			}
			raw, err := base64.StdEncoding.DecodeString(b)
			if err != nil {
				raw, err = base64.URLEncoding.DecodeString(b)
			}
			if err != nil {
				return nil, errs.InvalidValue(p.Name, "invalid base64 binary")
			}
			return raw, nil
		}
	}
	return nil, mismatch(p, v)
}

func parseDateTime(p edm.Property, s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	// Offset-less timestamps are taken as UTC.
	if t, err := time.Parse("2006-01-02T15:04:05.999999999", s); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, errs.InvalidValue(p.Name, "invalid datetime %q", s)
}

func (c converter) enum(v any, p edm.Property) (any, error) {
	var et *edm.EnumType
	if c.enums != nil {
		et, _ = c.enums.Enum(p.Type)
	}

	switch e := v.(type) {
	case edm.EnumValue:
		if et != nil {
			if _, ok := et.Member(e.Member); !ok {
				return nil, errs.InvalidValue(p.Name, "%s has no member %q", p.Type, e.Member)
			}
			return et.Value(e.Member)
		}
		return e, nil
	case string:
		// Flags enums arrive as comma-separated member lists; keep the raw text.
		if et == nil || (et.IsFlags && strings.Contains(e, ",")) {
			return edm.EnumValue{Type: p.Type, Member: e}, nil
		}
		if val, err := et.Value(e); err == nil {
			return val, nil
		}
		// Some services send the underlying value as a string.
		if n, err := strconv.ParseInt(e, 10, 64); err == nil {
			if m, ok := et.MemberByValue(n); ok {
				return edm.EnumValue{Type: et.FullName(), Member: m.Name, Value: m.Value}, nil
			}
		}
		return nil, errs.InvalidValue(p.Name, "%s has no member %q", p.Type, e)
	default:
		n, ok := c.int64(v)
		if !ok {
			return nil, mismatch(p, v)
		}
		if et == nil {
			return edm.EnumValue{Type: p.Type, Member: strconv.FormatInt(n, 10), Value: n}, nil
		}
		m, found := et.MemberByValue(n)
		if !found {
			return nil, errs.InvalidValue(p.Name, "%s has no member with value %d", p.Type, n)
		}
		return edm.EnumValue{Type: et.FullName(), Member: m.Name, Value: m.Value}, nil
	}
}

// Infer returns the canonical representation of an untyped value: integers
// widen to int64, floats to float64, JSON numbers to int64 or float64.
func Infer(v any) any {
	switch x := v.(type) {
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return string(x)
	case float32:
		return float64(x)
	case apd.Decimal:
		return &x
	}
	if n, ok := toInt64(v); ok {
		return n
	}
	return v
}

func mismatch(p edm.Property, v any) error {
	if p.Collection {
		return errs.InvalidValue(p.Name, "expected Collection(%s), got %T", p.Type, v)
	}
	return errs.InvalidValue(p.Name, "expected %s, got %T", p.Type, v)
}

func intRange(typ string) (int64, int64) {
	switch typ {
	case edm.Byte:
		return 0, math.MaxUint8
	case edm.SByte:
		return math.MinInt8, math.MaxInt8
	case edm.Int16:
		return math.MinInt16, math.MaxInt16
	case edm.Int32:
		return math.MinInt32, math.MaxInt32
	default:
		return math.MinInt64, math.MaxInt64
	}
}

// toInt64 widens native Go integers.
func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), uint64(n) <= math.MaxInt64
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), n <= math.MaxInt64
	}
	return 0, false
}

func (c converter) int64(v any) (int64, bool) {
	if n, ok := toInt64(v); ok {
		return n, true
	}
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case float64:
		// Decoders without UseNumber produce float64 for every number.
		if c.wire && n == math.Trunc(n) && math.Abs(n) < 1<<53 {
			return int64(n), true
		}
	case string:
		// IEEE754Compatible services send 64-bit integers as strings.
		if c.wire {
			i, err := strconv.ParseInt(n, 10, 64)
			return i, err == nil
		}
	}
	return 0, false
}

func (c converter) float64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		if !c.wire {
			return 0, false
		}
		switch n {
		case "INF":
			return math.Inf(1), true
		case "-INF":
			return math.Inf(-1), true
		case "NaN":
			return math.NaN(), true
		}
		return 0, false
	}
	if i, ok := toInt64(v); ok {
		return float64(i), true
	}
	return 0, false
}

func (c converter) decimal(v any) (*apd.Decimal, bool) {
	switch n := v.(type) {
	case *apd.Decimal:
		if n == nil {
			return nil, false
		}
		return n, true
	case apd.Decimal:
		return &n, true
	case json.Number:
		d, _, err := apd.NewFromString(string(n))
		return d, err == nil
	case string:
		if !c.wire {
			return nil, false
		}
		d, _, err := apd.NewFromString(n)
		return d, err == nil
	case float64:
		d := new(apd.Decimal)
		if _, err := d.SetFloat64(n); err != nil {
			return nil, false
		}
		return d, true
	case float32:
		d := new(apd.Decimal)
		if _, err := d.SetFloat64(float64(n)); err != nil {
			return nil, false
		}
		return d, true
	}
	if i, ok := toInt64(v); ok {
		return apd.New(i, 0), true
	}
	return nil, false
}
