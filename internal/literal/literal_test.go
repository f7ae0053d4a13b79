package literal

import (
	"math"
	"testing"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/odatalink/internal/edm"
	"github.com/roach88/odatalink/internal/errs"
)

func TestFormat(t *testing.T) {
	stamp := time.Date(1996, 7, 4, 2, 0, 0, 0, time.FixedZone("CEST", 2*3600))
	id := uuid.MustParse("0f8fad5b-d9cb-469f-a165-70867728950e")
	dec, _, err := apd.NewFromString("32.38")
	require.NoError(t, err)

	tests := []struct {
		name    string
		v       any
		prop    edm.Property
		dialect Dialect
		want    string
	}{
		{"string", "Berlin", edm.Prim("ShipCity", edm.String), V4, "'Berlin'"},
		{"quote doubling", "O'Brien", edm.Prim("Name", edm.String), V4, "'O''Brien'"},
		{"nfc", "Café", edm.Prim("Name", edm.String), V4, "'Café'"},
		{"null", nil, edm.Prim("ShipCity", edm.String), V4, "null"},
		{"int", 10248, edm.Prim("OrderID", edm.Int32), V4, "10248"},
		{"int64 v3", int64(10), edm.Prim("N", edm.Int64), V3, "10L"},
		{"bool", true, edm.Prim("Active", edm.Boolean), V4, "true"},
		{"double", 2.5, edm.Prim("D", edm.Double), V4, "2.5"},
		{"double v3", 2.5, edm.Prim("D", edm.Double), V3, "2.5d"},
		{"single v3", float32(0.5), edm.Prim("D", edm.Single), V3, "0.5f"},
		{"int into double v3", 2, edm.Prim("D", edm.Double), V3, "2d"},
		{"decimal", dec, edm.Prim("Freight", edm.Decimal), V4, "32.38"},
		{"decimal v3", dec, edm.Prim("Freight", edm.Decimal), V3, "32.38M"},
		{"float into decimal", 1.25, edm.Prim("Freight", edm.Decimal), V4, "1.25"},
		{"guid", id, edm.Prim("G", edm.Guid), V4, "0f8fad5b-d9cb-469f-a165-70867728950e"},
		{"guid from string", id.String(), edm.Prim("G", edm.Guid), V4, "0f8fad5b-d9cb-469f-a165-70867728950e"},
		{"guid v3", id, edm.Prim("G", edm.Guid), V3, "guid'0f8fad5b-d9cb-469f-a165-70867728950e'"},
		{"datetimeoffset is utc", stamp, edm.Prim("OrderDate", edm.DateTimeOffset), V4, "1996-07-04T00:00:00Z"},
		{"datetimeoffset v3", stamp, edm.Prim("OrderDate", edm.DateTimeOffset), V3, "datetimeoffset'1996-07-04T00:00:00Z'"},
		{"date", stamp, edm.Prim("HireDate", edm.Date), V4, "1996-07-04"},
		{"date v3", stamp, edm.Prim("HireDate", edm.Date), V3, "datetime'1996-07-04T00:00:00'"},
		{"duration", 90 * time.Minute, edm.Prim("D", edm.Duration), V4, "duration'PT1H30M'"},
		{"time of day", 9 * time.Hour, edm.Prim("D", edm.TimeOfDay), V4, "09:00:00"},
		{"binary", []byte{0xfb, 0xff}, edm.Prim("B", edm.Binary), V4, "binary'-_8='"},
		{"binary v3", []byte{0xfb, 0xff}, edm.Prim("B", edm.Binary), V3, "X'FBFF'"},
		{"enum by name", "High", edm.EnumProp("Priority", "NW.Priority"), V4, "NW.Priority'High'"},
		{"enum value", edm.EnumValue{Type: "NW.Priority", Member: "Low"}, edm.EnumProp("Priority", "NW.Priority"), V4, "NW.Priority'Low'"},
		{"untyped string", "x", edm.Property{}, V4, "'x'"},
		{"untyped int", int8(3), edm.Property{}, V4, "3"},
		{"infinity", math.Inf(1), edm.Prim("D", edm.Double), V4, "INF"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Format(tt.v, tt.prop, nil, tt.dialect)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatTypeMismatch(t *testing.T) {
	tests := []struct {
		name string
		v    any
		prop edm.Property
	}{
		{"int against string", 5, edm.Prim("ShipCity", edm.String)},
		{"string against int", "5", edm.Prim("OrderID", edm.Int32)},
		{"string against datetime", "1996-07-04", edm.Prim("OrderDate", edm.DateTimeOffset)},
		{"bad guid", "not-a-guid", edm.Prim("G", edm.Guid)},
		{"bool against decimal", true, edm.Prim("Freight", edm.Decimal)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Format(tt.v, tt.prop, nil, V4)
			require.Error(t, err)
			assert.True(t, errs.IsInvalidValue(err))
		})
	}
}

func TestFormatList(t *testing.T) {
	got, err := FormatList([]any{"Berlin", "Oslo"}, edm.Prim("ShipCity", edm.String), nil, V4)
	require.NoError(t, err)
	assert.Equal(t, "('Berlin','Oslo')", got)

	_, err = FormatList([]any{"Berlin", 3}, edm.Prim("ShipCity", edm.String), nil, V4)
	assert.Error(t, err)
}

func TestKeySegment(t *testing.T) {
	values := map[string]any{"OrderID": int64(10248), "ProductID": int64(11), "CustomerID": "ALFKI"}
	lookup := func(name string) (any, bool) {
		v, ok := values[name]
		return v, ok
	}

	single, err := KeySegment([]edm.Property{edm.Prim("OrderID", edm.Int32, edm.AsKey())}, lookup, nil, V4)
	require.NoError(t, err)
	assert.Equal(t, "(10248)", single)

	str, err := KeySegment([]edm.Property{edm.Prim("CustomerID", edm.String, edm.AsKey())}, lookup, nil, V4)
	require.NoError(t, err)
	assert.Equal(t, "('ALFKI')", str)

	composite, err := KeySegment([]edm.Property{
		edm.Prim("OrderID", edm.Int32, edm.AsKey()),
		edm.Prim("ProductID", edm.Int32, edm.AsKey()),
	}, lookup, nil, V4)
	require.NoError(t, err)
	assert.Equal(t, "(OrderID=10248,ProductID=11)", composite)

	_, err = KeySegment([]edm.Property{edm.Prim("Missing", edm.Int32, edm.AsKey())}, lookup, nil, V4)
	assert.True(t, errs.IsInvalidValue(err))

	_, err = KeySegment(nil, lookup, nil, V4)
	assert.Error(t, err)
}

func TestParseDialect(t *testing.T) {
	d, err := ParseDialect("")
	require.NoError(t, err)
	assert.Equal(t, V4, d)

	d, err = ParseDialect("V3")
	require.NoError(t, err)
	assert.Equal(t, V3, d)

	_, err = ParseDialect("v2")
	assert.Error(t, err)
}
