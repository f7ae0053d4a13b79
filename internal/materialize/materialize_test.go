package materialize

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/odatalink/internal/edm"
	"github.com/roach88/odatalink/internal/entity"
	"github.com/roach88/odatalink/internal/errs"
	"github.com/roach88/odatalink/internal/testutil"
)

func decode(t *testing.T, body string) map[string]any {
	t.Helper()
	dec := json.NewDecoder(bytes.NewReader([]byte(body)))
	dec.UseNumber()
	var out map[string]any
	require.NoError(t, dec.Decode(&out))
	return out
}

const orderJSON = `{
	"@odata.context": "http://northwind.test/svc/$metadata#Orders/$entity",
	"@odata.etag": "W/\"42\"",
	"OrderID": 10248,
	"CustomerID": "VINET",
	"OrderDate": "1996-07-04T00:00:00Z",
	"ShippedDate": null,
	"Freight": 32.38,
	"ShipCity": "Reims",
	"Priority": "High",
	"TrackingID": "0f8fad5b-d9cb-469f-a165-70867728950e",
	"Employee@odata.navigationLink": "Orders(10248)/Employee",
	"LegacyCode": "X-1"
}`

func TestMaterializeCoercesValues(t *testing.T) {
	reg := testutil.NorthwindRegistry(t)
	m := New(reg)
	order := testutil.MustType(t, reg, "Order")

	e, err := m.Materialize(decode(t, orderJSON), order, Options{})
	require.NoError(t, err)

	assert.Equal(t, entity.StateLoaded, e.State())
	assert.Equal(t, int64(10248), e.Value("OrderID"))
	assert.Equal(t, time.Date(1996, 7, 4, 0, 0, 0, 0, time.UTC), e.Value("OrderDate"))
	assert.Nil(t, e.Value("ShippedDate"))
	assert.True(t, e.Has("ShippedDate"))

	freight, ok := e.Value("Freight").(*apd.Decimal)
	require.True(t, ok)
	assert.Equal(t, "32.38", freight.Text('f'))

	assert.Equal(t, edm.EnumValue{Type: "NorthwindModel.Priority", Member: "High", Value: 2}, e.Value("Priority"))
	assert.Equal(t, uuid.MustParse("0f8fad5b-d9cb-469f-a165-70867728950e"), e.Value("TrackingID"))

	assert.Equal(t, `W/"42"`, e.ETag())
	assert.Equal(t, map[string]any{"LegacyCode": "X-1"}, e.Extra())
	assert.False(t, e.NavigationLoaded("Employee"))
	assert.Empty(t, e.Changes())
}

func TestMaterializeMissingRequired(t *testing.T) {
	reg := testutil.NorthwindRegistry(t)
	m := New(reg)
	employee := testutil.MustType(t, reg, "Employee")

	_, err := m.Materialize(decode(t, `{"EmployeeID": 1, "FirstName": "Nancy"}`), employee, Options{})
	require.Error(t, err)
	assert.True(t, errs.IsMaterialization(err))

	// Only selected properties are required.
	e, err := m.Materialize(decode(t, `{"EmployeeID": 1, "FirstName": "Nancy"}`), employee, Options{Select: []string{"EmployeeID", "FirstName"}})
	require.NoError(t, err)
	assert.Equal(t, "Nancy", e.Value("FirstName"))
	assert.False(t, e.Has("LastName"))
}

func TestMaterializeRejectsBadValues(t *testing.T) {
	reg := testutil.NorthwindRegistry(t)
	m := New(reg)
	order := testutil.MustType(t, reg, "Order")

	tests := []struct {
		name string
		body string
	}{
		{"unparseable date", `{"OrderID": 1, "OrderDate": "yesterday"}`},
		{"unknown enum member", `{"OrderID": 1, "Priority": "Urgent"}`},
		{"null key", `{"OrderID": null}`},
		{"string for int", `{"OrderID": "ten"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Materialize(decode(t, tt.body), order, Options{})
			require.Error(t, err)
			assert.True(t, errs.IsMaterialization(err), "got %v", err)
		})
	}
}

func TestMaterializeExpandedNavigation(t *testing.T) {
	reg := testutil.NorthwindRegistry(t)
	m := New(reg)
	order := testutil.MustType(t, reg, "Order")

	raw := decode(t, `{
		"OrderID": 10248,
		"Employee": {"EmployeeID": 5, "FirstName": "Steven", "LastName": "Buchanan"},
		"Customer": null,
		"Order_Details": [
			{"OrderID": 10248, "ProductID": 11, "UnitPrice": 14, "Quantity": 12, "Discount": 0},
			{"OrderID": 10248, "ProductID": 42, "UnitPrice": 9.8, "Quantity": 10, "Discount": 0}
		]
	}`)

	e, err := m.Materialize(raw, order, Options{})
	require.NoError(t, err)

	ctx := context.Background()
	emp, err := e.Related(ctx, "Employee")
	require.NoError(t, err)
	require.NotNil(t, emp)
	assert.Equal(t, "Buchanan", emp.Value("LastName"))
	assert.Equal(t, entity.StateLoaded, emp.State())

	cust, err := e.Related(ctx, "Customer")
	require.NoError(t, err)
	assert.Nil(t, cust)

	details, err := e.RelatedSet(ctx, "Order_Details")
	require.NoError(t, err)
	require.Len(t, details, 2)
	assert.Equal(t, int64(42), details[1].Value("ProductID"))
}

func TestMaterializeVerboseJSON(t *testing.T) {
	reg := testutil.NorthwindRegistry(t)
	m := New(reg)
	order := testutil.MustType(t, reg, "Order")

	raw := decode(t, `{
		"__metadata": {"uri": "Orders(1)", "etag": "W/\"7\""},
		"OrderID": 1,
		"Employee": {"__deferred": {"uri": "Orders(1)/Employee"}},
		"Order_Details": {"results": [{"OrderID": 1, "ProductID": 2, "UnitPrice": "1.5", "Quantity": 1, "Discount": 0}]}
	}`)

	e, err := m.Materialize(raw, order, Options{})
	require.NoError(t, err)
	assert.Equal(t, `W/"7"`, e.ETag())
	assert.False(t, e.NavigationLoaded("Employee"))
	assert.True(t, e.NavigationLoaded("Order_Details"))
	assert.Empty(t, e.Extra())
}

func TestMaterializeAllPolicy(t *testing.T) {
	reg := testutil.NorthwindRegistry(t)
	var logs bytes.Buffer
	m := New(reg, WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))
	order := testutil.MustType(t, reg, "Order")

	raws := []map[string]any{
		decode(t, `{"OrderID": 1}`),
		decode(t, `{"OrderID": 2, "OrderDate": "not a date"}`),
		decode(t, `{"OrderID": 3}`),
	}

	_, err := m.MaterializeAll(raws, order, Options{})
	require.Error(t, err)
	assert.True(t, errs.IsMaterialization(err))

	got, err := m.MaterializeAll(raws, order, Options{SkipInvalid: true})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(3), got[1].Value("OrderID"))
	assert.Contains(t, logs.String(), "skipping invalid record")
}
