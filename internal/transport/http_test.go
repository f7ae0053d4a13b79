package transport

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/h2non/gock"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/odatalink/internal/errs"
)

const base = "http://northwind.test"

func newTransport(t *testing.T, opts ...Option) *HTTP {
	t.Helper()
	tr := NewHTTP(opts...)
	gock.InterceptClient(tr.Client())
	t.Cleanup(func() {
		gock.RestoreClient(tr.Client())
		gock.Off()
	})
	return tr
}

func TestGet(t *testing.T) {
	tr := newTransport(t, WithHeader("X-Tenant", "acme"), WithBearer(StaticToken("secret")))

	gock.New(base).
		Get("/svc/Orders").
		MatchHeader("Accept", "application/json").
		MatchHeader("X-Tenant", "acme").
		MatchHeader("Authorization", "^Bearer secret$").
		Reply(200).
		JSON(map[string]any{"value": []any{}})

	body, err := tr.Get(context.Background(), base+"/svc/Orders")
	require.NoError(t, err)
	assert.JSONEq(t, `{"value": []}`, string(body))
	assert.True(t, gock.IsDone())
}

func TestPatchSendsIfMatch(t *testing.T) {
	tr := newTransport(t)

	gock.New(base).
		Patch("/svc/Orders(10248)").
		MatchHeader("If-Match", `W/"1"`).
		MatchHeader("Content-Type", "application/json").
		JSON(map[string]any{"ShipCity": "Lyon"}).
		Reply(204)

	body, err := tr.Patch(context.Background(), base+"/svc/Orders(10248)", []byte(`{"ShipCity":"Lyon"}`), `W/"1"`)
	require.NoError(t, err)
	assert.Empty(t, body)
	assert.True(t, gock.IsDone())
}

func TestPostAndDelete(t *testing.T) {
	tr := newTransport(t)

	gock.New(base).
		Post("/svc/Customers").
		JSON(map[string]any{"CustomerID": "ALFKI"}).
		Reply(201).
		JSON(map[string]any{"CustomerID": "ALFKI", "CompanyName": "Alfreds"})
	gock.New(base).
		Delete("/svc/Customers('ALFKI')").
		Reply(204)

	ctx := context.Background()
	body, err := tr.Post(ctx, base+"/svc/Customers", []byte(`{"CustomerID":"ALFKI"}`))
	require.NoError(t, err)
	assert.Contains(t, string(body), "Alfreds")

	require.NoError(t, tr.Delete(ctx, base+"/svc/Customers('ALFKI')", ""))
	assert.True(t, gock.IsDone())
}

func TestErrorBody(t *testing.T) {
	tr := newTransport(t)

	gock.New(base).
		Get("/svc/Products").
		Reply(400).
		JSON(map[string]any{"error": map[string]any{
			"code":       "0451",
			"message":    "Testing error message handling",
			"innererror": map[string]any{"message": "Detailed messages here"},
		}})

	_, err := tr.Get(context.Background(), base+"/svc/Products")
	require.Error(t, err)

	var te *errs.TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 400, te.StatusCode)
	assert.Equal(t, "0451", te.Code)
	assert.Equal(t, "Testing error message handling", te.Message)
	assert.Equal(t, "Detailed messages here", te.DetailedMessage)
	assert.Contains(t, err.Error(), "Detailed messages here")
	assert.NotEmpty(t, te.Body)
}

func TestErrorBodyWithDetails(t *testing.T) {
	tr := newTransport(t)

	gock.New(base).
		Post("/svc/Products").
		Reply(400).
		JSON(map[string]any{"error": map[string]any{
			"code":    "3000",
			"message": "Error creating entity",
			"details": []any{map[string]any{"code": "3008", "message": "TEST name already exists"}},
		}})

	_, err := tr.Post(context.Background(), base+"/svc/Products", []byte(`{}`))

	var te *errs.TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "3000", te.Code)
	assert.Equal(t, "Error creating entity", te.Message)
	assert.Equal(t, "(3008): TEST name already exists", te.DetailedMessage)
}

func TestVerboseErrorBody(t *testing.T) {
	tr := newTransport(t)

	gock.New(base).
		Get("/svc/Orders").
		Reply(404).
		JSON(map[string]any{"odata.error": map[string]any{
			"code":    "",
			"message": map[string]any{"lang": "en-US", "value": "Resource not found"},
		}})

	_, err := tr.Get(context.Background(), base+"/svc/Orders")
	var te *errs.TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "Resource not found", te.Message)
	assert.Equal(t, http.StatusNotFound, errs.StatusCode(err))
}

func TestNonJSONErrorBody(t *testing.T) {
	tr := newTransport(t)

	gock.New(base).
		Get("/svc/Orders").
		Reply(502).
		BodyString("<html>bad gateway</html>")

	_, err := tr.Get(context.Background(), base+"/svc/Orders")
	var te *errs.TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "Bad Gateway", te.Message)
	assert.Equal(t, "<html>bad gateway</html>", string(te.Body))
}

func TestGzipResponse(t *testing.T) {
	tr := newTransport(t)

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(`{"value":[{"OrderID":1}]}`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	gock.New(base).
		Get("/svc/Orders").
		MatchHeader("Accept-Encoding", "gzip").
		Reply(200).
		SetHeader("Content-Encoding", "gzip").
		Body(bytes.NewReader(buf.Bytes()))

	body, err := tr.Get(context.Background(), base+"/svc/Orders")
	require.NoError(t, err)
	assert.JSONEq(t, `{"value":[{"OrderID":1}]}`, string(body))
}

func TestTokenFailure(t *testing.T) {
	tr := newTransport(t, WithBearer(TokenFunc(func(context.Context) (string, error) {
		return "", errors.New("expired")
	})))

	_, err := tr.Get(context.Background(), base+"/svc/Orders")
	require.Error(t, err)
	assert.True(t, errs.IsTransport(err))
	assert.Contains(t, err.Error(), "expired")
}

func TestConnectionFailure(t *testing.T) {
	tr := newTransport(t)
	gock.New(base).
		Get("/svc/Orders").
		ReplyError(errors.New("connection refused"))

	_, err := tr.Get(context.Background(), base+"/svc/Orders")
	require.Error(t, err)
	assert.True(t, errs.IsTransport(err))
	assert.Zero(t, errs.StatusCode(err))
}
