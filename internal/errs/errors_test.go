package errs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorPredicates(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"invalid expression", InvalidExpression("ShipCity", "unknown field"), IsInvalidExpression},
		{"invalid query", InvalidQuery("limit", "negative"), IsInvalidQuery},
		{"materialization", Materialization("OrderID", "missing"), IsMaterialization},
		{"invalid value", InvalidValue("Freight", "bad type"), IsInvalidValue},
		{"invalid state", InvalidState("deleted"), IsInvalidState},
		{"invalid schema", InvalidSchema("OrderID", "nullable key"), IsInvalidSchema},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.check(tt.err))
			assert.True(t, tt.check(fmt.Errorf("wrapped: %w", tt.err)))
			assert.False(t, tt.check(errors.New("plain")))
		})
	}

	assert.False(t, IsInvalidQuery(InvalidExpression("x", "y")))
}

func TestErrorMessage(t *testing.T) {
	err := InvalidExpression("ShipCity", "cannot compare %s with %s", "Edm.String", "int")
	assert.Equal(t, "INVALID_EXPRESSION: cannot compare Edm.String with int (field=ShipCity)", err.Error())

	cause := errors.New("boom")
	wrapped := &Error{Code: ErrCodeMaterialization, Message: "decode", Err: cause}
	assert.Equal(t, "MATERIALIZATION: decode: boom", wrapped.Error())
	assert.ErrorIs(t, wrapped, cause)
}

func TestTransportError(t *testing.T) {
	te := &TransportError{Method: "GET", URL: "http://svc/Orders", StatusCode: 404, Code: "NotFound", Message: "no such set"}
	assert.Equal(t, "transport: GET http://svc/Orders: 404 NotFound: no such set", te.Error())
	assert.True(t, IsTransport(fmt.Errorf("ctx: %w", te)))
	assert.Equal(t, 404, StatusCode(te))
	assert.Equal(t, 0, StatusCode(errors.New("x")))

	noResponse := &TransportError{Method: "GET", URL: "http://svc", Err: errors.New("dial tcp: refused")}
	assert.Contains(t, noResponse.Error(), "dial tcp: refused")
}

func TestAsConcurrency(t *testing.T) {
	te := &TransportError{Method: "PATCH", URL: "http://svc/Orders(1)", StatusCode: http.StatusPreconditionFailed}

	err := AsConcurrency(te, "Orders(1)", `W/"1"`)
	require.True(t, IsConcurrency(err))
	assert.True(t, IsTransport(err))

	var ce *ConcurrencyError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, `W/"1"`, ce.ETag)

	other := &TransportError{StatusCode: 500}
	assert.Same(t, other, AsConcurrency(other, "Orders(1)", "").(*TransportError))
}
