package cli

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/odatalink/internal/errs"
)

func TestFormatterEnvelope(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, f.Success(CountResult{Set: "Orders", Count: 830}))
	var ok struct {
		Status string      `json:"status"`
		Data   CountResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &ok))
	assert.Equal(t, "ok", ok.Status)
	assert.Equal(t, CountResult{Set: "Orders", Count: 830}, ok.Data)

	buf.Reset()
	require.NoError(t, f.Error(ErrCodeQuery, "negative $top", map[string]string{"field": "$top"}))
	var failed CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &failed))
	assert.Equal(t, "error", failed.Status)
	assert.Nil(t, failed.Data)
	require.NotNil(t, failed.Error)
	assert.Equal(t, ErrCodeQuery, failed.Error.Code)
	assert.Equal(t, "negative $top", failed.Error.Message)
	assert.Equal(t, map[string]any{"field": "$top"}, failed.Error.Details)
}

func TestFormatterText(t *testing.T) {
	tests := []struct {
		name    string
		verbose bool
		write   func(f *OutputFormatter) error
		want    []string
		absent  []string
	}{
		{
			name:  "success uses String",
			write: func(f *OutputFormatter) error { return f.Success(CountResult{Set: "Orders", Count: 830}) },
			want:  []string{"830\n"},
		},
		{
			name:   "error hides details",
			write:  func(f *OutputFormatter) error { return f.Error(ErrCodeTransport, "service said no", "status 500") },
			want:   []string{"Error [E301]: service said no"},
			absent: []string{"Details:"},
		},
		{
			name:    "verbose error shows details",
			verbose: true,
			write:   func(f *OutputFormatter) error { return f.Error(ErrCodeTransport, "service said no", "status 500") },
			want:    []string{"Error [E301]", "Details: status 500"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			f := &OutputFormatter{Format: "text", Writer: buf, Verbose: tt.verbose}
			require.NoError(t, tt.write(f))
			for _, w := range tt.want {
				assert.Contains(t, buf.String(), w)
			}
			for _, a := range tt.absent {
				assert.NotContains(t, buf.String(), a)
			}
		})
	}
}

func TestVerboseLog(t *testing.T) {
	out, diag := &bytes.Buffer{}, &bytes.Buffer{}
	f := &OutputFormatter{Format: "json", Writer: out, ErrWriter: diag, Verbose: true}
	f.VerboseLog("GET %s", "Orders")
	assert.Empty(t, out.String(), "diagnostics stay off the JSON stream")
	assert.Equal(t, "GET Orders\n", diag.String())

	quiet := &OutputFormatter{Format: "text", Writer: out}
	quiet.VerboseLog("GET %s", "Orders")
	assert.Empty(t, out.String())
	assert.Equal(t, out, quiet.GetErrWriter())
}


func TestErrorCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"transport", &errs.TransportError{Method: "GET", URL: "u", StatusCode: 500}, ErrCodeTransport},
		{"concurrency", errs.AsConcurrency(&errs.TransportError{StatusCode: 412}, "Orders(1)", `W/"1"`), ErrCodeConcurrency},
		{"schema", errs.InvalidSchema("Order", "no key"), ErrCodeSchema},
		{"expression", errs.InvalidExpression("ShipCity", "bad operand"), ErrCodeExpression},
		{"query", errs.InvalidQuery("$top", "negative"), ErrCodeQuery},
		{"materialize", errs.Materialization("OrderID", "missing"), ErrCodeMaterialize},
		{"value", errs.InvalidValue("Freight", "not a number"), ErrCodeInvalidValue},
		{"wrapped", fmt.Errorf("load: %w", errs.InvalidQuery("$skip", "negative")), ErrCodeQuery},
		{"other", errors.New("boom"), ErrCodeGeneric},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errorCode(tt.err))
		})
	}
}

func TestReportTransportDetails(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	err := formatter.Report(&errs.TransportError{
		Method:     "GET",
		URL:        "http://northwind.test/svc/Orders",
		StatusCode: 404,
		Code:       "NotFound",
		Message:    "Resource not found",
	})
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string `json:"status"`
		Error  struct {
			Code    string         `json:"code"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, ErrCodeTransport, resp.Error.Code)
	assert.Equal(t, "NotFound", resp.Error.Details["code"])
	assert.EqualValues(t, 404, resp.Error.Details["status"])
}

func TestReportKeepsExitCode(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	err := formatter.Report(NewExitError(ExitCommandError, "no service URL"))
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, buf.String(), "Error [E002]: no service URL")
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
	assert.Equal(t, ExitCommandError, GetExitCode(fmt.Errorf("ctx: %w", NewExitError(ExitCommandError, "bad"))))
}
