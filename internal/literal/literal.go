// Package literal renders Go values as protocol literals for $filter
// expressions and entity key segments.
//
// Rendering is type-directed: the declared type of the compared property
// decides the spelling. Values are first normalized through package codec, so
// a literal that does not fit the property type is rejected before anything
// is rendered.
package literal

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/odatalink/internal/codec"
	"github.com/roach88/odatalink/internal/edm"
	"github.com/roach88/odatalink/internal/errs"
)

// Dialect selects the literal grammar of a protocol version.
type Dialect string

const (
	// V4 is the default grammar: bare guids and timestamps, Ns.Enum'Member'.
	V4 Dialect = "v4"

	// V3 prefixes and suffixes typed literals: guid'...', datetimeoffset'...',
	// 1.5M, 2.0d, 10L.
	V3 Dialect = "v3"
)

// ParseDialect parses "v4" or "v3"; the empty string selects V4.
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(s) {
	case "", "v4", "4", "4.0":
		return V4, nil
	case "v3", "3", "3.0":
		return V3, nil
	}
	return "", fmt.Errorf("unknown protocol dialect %q", s)
}

// Format renders v as a literal compared against property p.
//
// A zero Property means the type is unknown; the spelling then follows the
// Go type of v. nil renders as null.
func Format(v any, p edm.Property, enums codec.EnumResolver, d Dialect) (string, error) {
	if v == nil {
		return "null", nil
	}
	if p.Type == "" {
		return formatCanonical(codec.Infer(v), p, d)
	}

	single := p
	single.Collection = false
	cv, err := codec.Coerce(v, single, enums)
	if err != nil {
		return "", err
	}
	return formatCanonical(cv, single, d)
}

// FormatList renders values as a parenthesized list for the in operator.
func FormatList(values []any, p edm.Property, enums codec.EnumResolver, d Dialect) (string, error) {
	parts := make([]string, len(values))
	for i, v := range values {
		s, err := Format(v, p, enums, d)
		if err != nil {
			return "", err
		}
		parts[i] = s
	}
	return "(" + strings.Join(parts, ",") + ")", nil
}

// Quote renders s as a string literal: single quotes, embedded quotes doubled,
// NFC normalized.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(norm.NFC.String(s), "'", "''") + "'"
}

func formatCanonical(v any, p edm.Property, d Dialect) (string, error) {
	switch x := v.(type) {
	case string:
		return Quote(x), nil
	case bool:
		return strconv.FormatBool(x), nil
	case int64:
		s := strconv.FormatInt(x, 10)
		switch {
		case d == V3 && p.Type == edm.Int64:
			s += "L"
		case d == V3 && p.Type == edm.Decimal:
			s += "M"
		case d == V3 && p.Type == edm.Double:
			s += "d"
		}
		return s, nil
	case float64:
		return formatFloat(x, p, d)
	case *apd.Decimal:
		s := x.Text('f')
		if d == V3 {
			s += "M"
		}
		return s, nil
	case uuid.UUID:
		if d == V3 {
			return "guid'" + x.String() + "'", nil
		}
		return x.String(), nil
	case time.Time:
		return formatTime(x, p, d), nil
	case time.Duration:
		if p.Type == edm.TimeOfDay {
			if d == V3 {
				return "time'" + codec.FormatDuration(x) + "'", nil
			}
			return codec.FormatTimeOfDay(x), nil
		}
		if d == V3 {
			return "time'" + codec.FormatDuration(x) + "'", nil
		}
		return "duration'" + codec.FormatDuration(x) + "'", nil
	case []byte:
		if d == V3 {
			return "X'" + strings.ToUpper(hex.EncodeToString(x)) + "'", nil
		}
		return "binary'" + base64.URLEncoding.EncodeToString(x) + "'", nil
	case edm.EnumValue:
		typ := x.Type
		if typ == "" {
			typ = p.Type
		}
		return typ + Quote(x.Member), nil
	}
	return "", errs.InvalidValue(p.Name, "no literal form for %T", v)
}

func formatFloat(f float64, p edm.Property, d Dialect) (string, error) {
	switch {
	case math.IsInf(f, 1):
		return "INF", nil
	case math.IsInf(f, -1):
		return "-INF", nil
	case math.IsNaN(f):
		return "NaN", nil
	}

	if p.Type == edm.Decimal {
		s := strconv.FormatFloat(f, 'f', -1, 64)
		if d == V3 {
			s += "M"
		}
		return s, nil
	}

	s := strconv.FormatFloat(f, 'g', -1, 64)
	if d == V3 {
		if p.Type == edm.Single {
			s += "f"
		} else {
			s += "d"
		}
	}
	return s, nil
}

func formatTime(t time.Time, p edm.Property, d Dialect) string {
	if p.Type == edm.Date {
		if d == V3 {
			return "datetime'" + t.Format("2006-01-02") + "T00:00:00'"
		}
		return t.Format(codec.DateLayout)
	}
	s := t.UTC().Format(time.RFC3339Nano)
	if d == V3 {
		return "datetimeoffset'" + s + "'"
	}
	return s
}

// KeySegment renders the key predicate addressing one entity:
// (10248) for a single key, (OrderID=10248,ProductID=11) for composite keys.
//
// value reports the current value of a key property; a missing or nil key
// yields an INVALID_VALUE error.
func KeySegment(keys []edm.Property, value func(name string) (any, bool), enums codec.EnumResolver, d Dialect) (string, error) {
	if len(keys) == 0 {
		return "", errs.InvalidValue("", "entity type has no key")
	}

	parts := make([]string, len(keys))
	for i, k := range keys {
		v, ok := value(k.Name)
		if !ok || v == nil {
			return "", errs.InvalidValue(k.Name, "key property has no value")
		}
		s, err := Format(v, k, enums, d)
		if err != nil {
			return "", err
		}
		if len(keys) == 1 {
			return "(" + s + ")", nil
		}
		parts[i] = k.Name + "=" + s
	}
	return "(" + strings.Join(parts, ",") + ")", nil
}
