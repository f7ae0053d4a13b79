package harness

import (
	"testing"

	"github.com/cockroachdb/apd/v3"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requests(urls ...string) []TraceEvent {
	var trace []TraceEvent
	for i, u := range urls {
		trace = append(trace, TraceEvent{Seq: i + 1, Type: EventRequest, Method: "GET", URL: u})
	}
	return trace
}

func TestMatchValue(t *testing.T) {
	tests := []struct {
		name     string
		expected any
		actual   any
		want     bool
	}{
		{"int and number", 10248, json.Number("10248"), true},
		{"int and int64", 5, int64(5), true},
		{"float and decimal text", 32.38, json.Number("32.380"), true},
		{"float and decimal", 1.5, apd.New(15, -1), true},
		{"different numbers", 1, json.Number("2"), false},
		{"number and string", 1, "1", false},
		{"strings", "Berlin", "Berlin", true},
		{"bools", true, false, false},
		{"nil", nil, nil, true},
		{"nil and value", nil, "x", false},
		{"map subset", map[string]any{"LastName": "Davolio"}, map[string]any{"LastName": "Davolio", "EmployeeID": int64(1)}, true},
		{"map missing field", map[string]any{"City": "Seattle"}, map[string]any{"LastName": "Davolio"}, false},
		{"list of maps", []any{map[string]any{"ProductID": 11}}, []map[string]any{{"ProductID": int64(11), "Quantity": int64(12)}}, true},
		{"list length", []any{1, 2}, []any{json.Number("1")}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, matchValue(tt.expected, tt.actual))
		})
	}
}

func TestAssertRequestSent(t *testing.T) {
	trace := requests("Orders?$filter=ShipCity%20eq%20%27Berlin%27")

	assert.NoError(t, assertRequestSent(trace, Assertion{URL: "Orders?$filter=ShipCity eq 'Berlin'"}))
	assert.NoError(t, assertRequestSent(trace, Assertion{Method: "get", URL: "/Orders?$filter=ShipCity eq 'Berlin'"}))

	err := assertRequestSent(trace, Assertion{Method: "DELETE", URL: "Orders(1)"})
	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, AssertRequestSent, ae.Type)
	assert.Equal(t, "DELETE Orders(1)", ae.Expected)
	assert.Contains(t, err.Error(), "[1] GET Orders?$filter=ShipCity eq 'Berlin'")
}

func TestAssertRequestOrder(t *testing.T) {
	trace := requests("Orders", "Employees(1)", "Orders(2)")

	assert.NoError(t, assertRequestOrder(trace, Assertion{URLs: []string{"Orders", "Orders(2)"}}))

	err := assertRequestOrder(trace, Assertion{URLs: []string{"Orders(2)", "Employees(1)"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Orders(2) (seq 3) should be before Employees(1) (seq 2)")

	err = assertRequestOrder(trace, Assertion{URLs: []string{"Orders", "Customers"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing request: Customers")
}

func TestAssertRequestCount(t *testing.T) {
	trace := requests("Orders", "Orders", "Employees")
	trace = append(trace, TraceEvent{Seq: 4, Type: EventOutcome})

	assert.NoError(t, assertRequestCount(trace, Assertion{Count: 3}))
	assert.NoError(t, assertRequestCount(trace, Assertion{URL: "Orders", Count: 2}))
	assert.NoError(t, assertRequestCount(trace, Assertion{Method: "PATCH", Count: 0}))

	err := assertRequestCount(trace, Assertion{URL: "Employees", Count: 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Expected: 2 x any Employees")
	assert.Contains(t, err.Error(), "Actual: 1 requests")
}

func TestAssertRequestBody(t *testing.T) {
	trace := []TraceEvent{
		{Seq: 1, Type: EventRequest, Method: "PATCH", URL: "Orders(1)", Body: map[string]any{"ShipCity": "Lyon"}},
		{Seq: 2, Type: EventRequest, Method: "PATCH", URL: "Orders(1)", Body: map[string]any{"Freight": json.Number("1.5")}},
	}

	assert.NoError(t, assertRequestBody(trace, Assertion{Method: "PATCH", URL: "Orders(1)", Body: map[string]any{"Freight": 1.5}}))

	err := assertRequestBody(trace, Assertion{URL: "Orders(1)", Body: map[string]any{"ShipCity": "Reims"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `body {"Freight":1.5}`)

	err = assertRequestBody(trace, Assertion{URL: "Orders(2)", Body: map[string]any{"ShipCity": "Lyon"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no matching request")
}

func TestEvaluateAssertions(t *testing.T) {
	result := NewResult()
	result.add(TraceEvent{Type: EventRequest, Method: "GET", URL: "Orders"})

	failures := EvaluateAssertions(result, []Assertion{
		{Type: AssertRequestSent, URL: "Orders"},
		{Type: AssertRequestCount, Count: 5},
		{Type: "bogus"},
	})
	require.Len(t, failures, 2)
	assert.Contains(t, failures[0], "assertions[1]")
	assert.Contains(t, failures[1], `assertions[2]: unknown assertion type "bogus"`)
}

func TestCheckExpect(t *testing.T) {
	total := int64(4)
	out := outcome{hasRows: true, rows: []map[string]any{{"OrderID": int64(1)}}, total: &total}

	assert.Empty(t, checkExpect(Step{}, out, nil))
	assert.Empty(t, checkExpect(Step{Expect: &Expect{Rows: intp(1), Total: &total}}, out, nil))
	assert.Equal(t, []string{"expected 3 rows, got 1"}, checkExpect(Step{Expect: &Expect{Rows: intp(3)}}, out, nil))
	assert.Equal(t,
		[]string{`results[0]: field "OrderID" = 1, want 2`},
		checkExpect(Step{Expect: &Expect{Results: []map[string]any{{"OrderID": 2}}}}, out, nil))
}
