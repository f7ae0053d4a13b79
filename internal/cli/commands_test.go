package cli

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/h2non/gock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const northwindHost = "http://northwind.test"

const berlinOrders = `{
  "@odata.context": "http://northwind.test/svc/$metadata#Orders",
  "value": [
    {"OrderID": 10248, "CustomerID": "VINET", "OrderDate": "1996-07-04T00:00:00Z",
     "Freight": 32.38, "ShipCity": "Berlin", "Priority": "Normal"},
    {"OrderID": 10249, "CustomerID": "TOMSP", "OrderDate": "1996-07-05T00:00:00Z",
     "Freight": 11.61, "ShipCity": "Berlin", "Priority": "High"}
  ]
}`

// schemaConfig points the CLI at the test service with the hand-written
// Northwind definitions, so no $metadata request is made.
func schemaConfig(t *testing.T) string {
	t.Helper()
	dir, err := filepath.Abs(northwindSchemaDir)
	require.NoError(t, err)
	return writeConfig(t, fmt.Sprintf("service:\n  url: %s/svc/\nschema: %s\n", northwindHost, dir))
}

// reflectConfig points the CLI at the test service with a schema cache.
func reflectConfig(t *testing.T) (config, cache string) {
	t.Helper()
	cache = filepath.Join(t.TempDir(), "cache", "schemas.db")
	return writeConfig(t, fmt.Sprintf("service:\n  url: %s/svc\ncache:\n  path: %s\n", northwindHost, cache)), cache
}

func metadataFixture(t *testing.T) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join("..", "metadata", "testdata", "northwind-v4.xml"))
	require.NoError(t, err)
	return string(b)
}

func TestQueryCommand(t *testing.T) {
	defer gock.Off()
	gock.New(northwindHost).
		Get("/svc/Orders").
		MatchParam("$filter", "^ShipCity eq 'Berlin'$").
		MatchParam("$top", "^2$").
		Reply(200).
		JSON(berlinOrders)

	stdout, _, err := execute(t, "--config", schemaConfig(t),
		"query", "Orders", "--where", "ShipCity=Berlin", "--top", "2")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"OrderID":10248`)
	assert.Contains(t, lines[0], `"ShipCity":"Berlin"`)
	assert.Contains(t, lines[1], `"Priority":"High"`)
	assert.True(t, gock.IsDone())
}

func TestQueryCommandJSON(t *testing.T) {
	defer gock.Off()
	gock.New(northwindHost).
		Get("/svc/Orders").
		MatchParam("$count", "^true$").
		Reply(200).
		JSON(strings.Replace(berlinOrders, `"value"`, `"@odata.count": 2, "value"`, 1))

	stdout, _, err := execute(t, "--config", schemaConfig(t), "--format", "json",
		"query", "Orders", "--count")
	require.NoError(t, err)

	var resp struct {
		Status string `json:"status"`
		Data   struct {
			URL     string           `json:"url"`
			Count   int64            `json:"count"`
			Results []map[string]any `json:"results"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, int64(2), resp.Data.Count)
	require.Len(t, resp.Data.Results, 2)
	assert.Equal(t, "TOMSP", resp.Data.Results[1]["CustomerID"])
}

func TestQueryCommandDryRun(t *testing.T) {
	stdout, _, err := execute(t, "--config", schemaConfig(t),
		"query", "Orders",
		"--where", "ShipCity=Berlin",
		"--where", "OrderID>10248",
		"--orderby", "OrderDate desc",
		"--top", "5",
		"--dry-run")
	require.NoError(t, err)

	u, err := url.PathUnescape(strings.TrimSpace(stdout))
	require.NoError(t, err)
	assert.Equal(t, northwindHost+"/svc/Orders?$filter=(ShipCity eq 'Berlin') and (OrderID gt 10248)&$orderby=OrderDate desc&$top=5", u)
}

func TestQueryCommandRejects(t *testing.T) {
	tests := []struct {
		name string
		args []string
		code string
	}{
		{"bad condition", []string{"--where", "ShipCity~Berlin"}, ErrCodeQuery},
		{"unknown property", []string{"--where", "Nope=1"}, ErrCodeExpression},
		{"bad value", []string{"--where", "OrderID=abc"}, ErrCodeInvalidValue},
		{"bad direction", []string{"--orderby", "OrderDate sideways"}, ErrCodeQuery},
		{"negative top", []string{"--top=-5"}, ErrCodeQuery},
	}

	cfg := schemaConfig(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"--config", cfg, "query", "Orders", "--dry-run"}, tt.args...)
			stdout, _, err := execute(t, args...)
			require.Error(t, err)
			assert.Equal(t, ExitFailure, GetExitCode(err))
			assert.Contains(t, stdout, "Error ["+tt.code+"]")
		})
	}
}

func TestQueryUnknownSet(t *testing.T) {
	stdout, _, err := execute(t, "--config", schemaConfig(t), "query", "Invoices")
	require.Error(t, err)
	assert.Contains(t, stdout, "Error [E201]")
}

func TestCountCommand(t *testing.T) {
	defer gock.Off()
	gock.New(northwindHost).
		Get(`/svc/Orders/\$count`).
		MatchParam("$filter", "^ShipCity eq 'Berlin'$").
		Reply(200).
		BodyString("2")

	stdout, _, err := execute(t, "--config", schemaConfig(t), "count", "Orders", "-w", "ShipCity=Berlin")
	require.NoError(t, err)
	assert.Equal(t, "2\n", stdout)
}

func TestCountCommandTransportError(t *testing.T) {
	defer gock.Off()
	gock.New(northwindHost).
		Get(`/svc/Orders/\$count`).
		Reply(500).
		JSON(`{"error": {"code": "Internal", "message": "database offline"}}`)

	stdout, _, err := execute(t, "--config", schemaConfig(t), "count", "Orders")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, stdout, "Error [E301]")
}

func TestReflectUsesCache(t *testing.T) {
	defer gock.Off()
	gock.New(northwindHost).
		Get(`/svc/\$metadata`).
		Reply(200).
		BodyString(metadataFixture(t))

	cfg, _ := reflectConfig(t)

	stdout, _, err := execute(t, "--config", cfg, "--format", "json", "reflect")
	require.NoError(t, err)
	var resp struct {
		Data ReflectResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, northwindHost+"/svc/", resp.Data.URL)
	assert.Equal(t, "v4", resp.Data.Dialect)
	assert.Equal(t, "NorthwindModel", resp.Data.Namespace)
	assert.Equal(t, []string{"Order.ShipLocation"}, resp.Data.Skipped)
	assert.True(t, gock.IsDone())

	// The second run is answered by the cache; an unexpected request
	// would find no mock.
	stdout, _, err = execute(t, "--config", cfg, "reflect")
	require.NoError(t, err)
	assert.Contains(t, stdout, "namespace NorthwindModel")
	assert.Contains(t, stdout, "Orders")
}

func TestReflectWritesSchema(t *testing.T) {
	defer gock.Off()
	gock.New(northwindHost).
		Get(`/svc/\$metadata`).
		Reply(200).
		BodyString(metadataFixture(t))

	out := filepath.Join(t.TempDir(), "northwind.json")
	stdout, _, err := execute(t, "--url", northwindHost+"/svc/", "reflect", "--output", out)
	require.NoError(t, err)
	assert.Contains(t, stdout, "schema written to "+out)

	schema, err := readSchema(out)
	require.NoError(t, err)
	assert.Equal(t, "NorthwindModel", schema.Namespace)
	assert.NotEmpty(t, schema.EntityTypes)

	code, _, err := execute(t, "generate", "--from", out, "-p", "model")
	require.NoError(t, err)
	assert.Contains(t, code, "package model")
	assert.Contains(t, code, "func Schema() *edm.Schema")
}

func TestReflectFailure(t *testing.T) {
	defer gock.Off()
	gock.New(northwindHost).
		Get(`/svc/\$metadata`).
		Reply(401).
		JSON(`{"error": {"code": "Unauthorized", "message": "token expired"}}`)

	stdout, _, err := execute(t, "--url", northwindHost+"/svc/", "reflect")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, stdout, "Error [E301]")
}

func TestGenerateFromDefinitions(t *testing.T) {
	stdout, _, err := execute(t, "generate", "--from", northwindSchemaDir)
	require.NoError(t, err)
	assert.Contains(t, stdout, "// Code generated by odatalink generate. DO NOT EDIT.")
	assert.Contains(t, stdout, "package northwindmodel")
	assert.Contains(t, stdout, "type Order struct")
}

func TestGenerateToFile(t *testing.T) {
	out := filepath.Join(t.TempDir(), "model", "northwind_gen.go")
	stdout, _, err := execute(t, "--format", "json", "generate", "--from", northwindSchemaDir, "-o", out)
	require.NoError(t, err)

	var resp struct {
		Data GenerateResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, out, resp.Data.Output)
	assert.Equal(t, "northwindmodel", resp.Data.Package)
	assert.Equal(t, 3, resp.Data.Types)
	assert.Empty(t, resp.Data.Code)

	written, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Len(t, written, resp.Data.Bytes)
}

func TestGenerateFromConfig(t *testing.T) {
	stdout, _, err := execute(t, "--config", schemaConfig(t), "generate", "-p", "northwind")
	require.NoError(t, err)
	assert.Contains(t, stdout, "package northwind")
}

func TestGenerateMissingSource(t *testing.T) {
	_, _, err := execute(t, "generate", "--from", filepath.Join(t.TempDir(), "nothing.json"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestCacheCommands(t *testing.T) {
	defer gock.Off()
	gock.New(northwindHost).
		Get(`/svc/\$metadata`).
		Reply(200).
		BodyString(metadataFixture(t))

	cfg, cache := reflectConfig(t)
	_, _, err := execute(t, "--config", cfg, "reflect")
	require.NoError(t, err)

	stdout, _, err := execute(t, "--config", cfg, "--format", "json", "cache", "list")
	require.NoError(t, err)
	var list struct {
		Data CacheListResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &list))
	assert.Equal(t, cache, list.Data.Path)
	require.Len(t, list.Data.Entries, 1)
	assert.Equal(t, northwindHost+"/svc/", list.Data.Entries[0].URL)
	assert.Equal(t, "4.0.0", list.Data.Entries[0].Version)
	assert.NotEmpty(t, list.Data.Entries[0].Fingerprint)

	stdout, _, err = execute(t, "--config", cfg, "cache", "invalidate")
	require.NoError(t, err)
	assert.Contains(t, stdout, "removed "+northwindHost+"/svc/")

	stdout, _, err = execute(t, "--config", cfg, "cache", "invalidate", northwindHost+"/svc")
	require.NoError(t, err)
	assert.Contains(t, stdout, "was not cached")

	stdout, _, err = execute(t, "--config", cfg, "cache", "list")
	require.NoError(t, err)
	assert.Contains(t, stdout, "no cached schemas")
}

func TestCacheWithoutPath(t *testing.T) {
	stdout, _, err := execute(t, "cache", "list")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, stdout, "no schema cache")
}
