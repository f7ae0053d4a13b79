package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/odatalink/internal/literal"
	"github.com/roach88/odatalink/internal/tracker"
)

const sample = `
service:
  url: http://northwind.test/svc/
  dialect: v3
  timeout: 5s
  token_env: NW_TOKEN
  headers:
    X-Tenant: ${TENANT}
schema: schema
cache:
  path: /tmp/schemas.db
flags:
  skip_null_properties: true
  bind_requires_slash: true
  omit_null: [ShippedDate, Freight]
`

func TestParse(t *testing.T) {
	cfg, err := Parse(strings.NewReader(sample))
	require.NoError(t, err)

	assert.Equal(t, "http://northwind.test/svc/", cfg.Service.URL)
	assert.Equal(t, literal.V3, cfg.Dialect())
	assert.Equal(t, 5*time.Second, cfg.Service.Timeout)
	assert.Equal(t, "NW_TOKEN", cfg.Service.TokenEnv)
	assert.Equal(t, map[string]string{"X-Tenant": "${TENANT}"}, cfg.Service.Headers)
	assert.Equal(t, "/tmp/schemas.db", cfg.Cache.Path)
	assert.Equal(t, tracker.Flags{
		SkipNullProperties: true,
		BindRequiresSlash:  true,
		OmitNull:           []string{"ShippedDate", "Freight"},
	}, cfg.Flags)
}

func TestParseEmptyGivesDefaults(t *testing.T) {
	cfg, err := Parse(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, literal.Dialect(""), cfg.Dialect())
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"unknown key", "service:\n  uri: http://x/\n", "field uri not found"},
		{"relative url", "service:\n  url: /svc\n", "not an absolute URL"},
		{"bad dialect", "service:\n  dialect: v2\n", "service.dialect"},
		{"negative timeout", "service:\n  timeout: -1s\n", "timeout must not be negative"},
		{"bad duration", "service:\n  timeout: soon\n", "parse config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadResolvesSchemaDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "odatalink.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "schema"), cfg.Schema)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestTransportOptions(t *testing.T) {
	cfg, err := Parse(strings.NewReader(sample))
	require.NoError(t, err)

	env := map[string]string{"NW_TOKEN": "secret", "TENANT": "acme"}
	opts, err := cfg.TransportOptions(func(k string) string { return env[k] })
	require.NoError(t, err)
	// timeout, one header, bearer
	assert.Len(t, opts, 3)

	_, err = cfg.TransportOptions(func(string) string { return "" })
	assert.EqualError(t, err, "token variable NW_TOKEN is not set")
}

func TestMarshalRoundTrip(t *testing.T) {
	cfg, err := Parse(strings.NewReader(sample))
	require.NoError(t, err)

	out, err := cfg.Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(out), "timeout: 5s")

	back, err := Parse(strings.NewReader(string(out)))
	require.NoError(t, err)
	assert.Equal(t, cfg, back)
}
