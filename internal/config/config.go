// Package config reads the YAML configuration of the odatalink CLI.
//
//	service:
//	  url: https://services.odata.org/V4/Northwind/Northwind.svc/
//	  dialect: v4
//	  timeout: 30s
//	  token_env: NORTHWIND_TOKEN
//	  headers:
//	    X-Tenant: acme
//	schema: ./schema          # optional hand-written CUE definitions
//	cache:
//	  path: ~/.cache/odatalink/schemas.db
//	flags:
//	  skip_null_properties: false
//	  omit_null: [ShippedDate]
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/odatalink/internal/literal"
	"github.com/roach88/odatalink/internal/tracker"
	"github.com/roach88/odatalink/internal/transport"
)

// Config is the CLI configuration.
type Config struct {
	Service Service       `yaml:"service"`
	Schema  string        `yaml:"schema,omitempty"`
	Cache   Cache         `yaml:"cache,omitempty"`
	Flags   tracker.Flags `yaml:"flags,omitempty"`
}

// Service describes the endpoint.
type Service struct {
	URL      string            `yaml:"url"`
	Dialect  string            `yaml:"dialect,omitempty"`
	Timeout  time.Duration     `yaml:"timeout,omitempty"`
	TokenEnv string            `yaml:"token_env,omitempty"`
	Headers  map[string]string `yaml:"headers,omitempty"`
}

// Cache locates the schema cache. An empty path disables it.
type Cache struct {
	Path string `yaml:"path,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{Service: Service{Timeout: transport.DefaultTimeout}}
}

// Load reads and validates the file at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	cfg, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if cfg.Schema != "" && !filepath.IsAbs(cfg.Schema) {
		cfg.Schema = filepath.Join(filepath.Dir(path), cfg.Schema)
	}
	return cfg, nil
}

// Parse decodes a configuration document. Unknown keys are rejected.
func Parse(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := Default()
	if len(bytes.TrimSpace(data)) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field values. A missing service URL is allowed here;
// commands that talk to the service check it themselves.
func (c *Config) Validate() error {
	var problems []error
	if c.Service.URL != "" {
		u, err := url.Parse(c.Service.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			problems = append(problems, fmt.Errorf("service.url %q is not an absolute URL", c.Service.URL))
		}
	}
	if _, err := literal.ParseDialect(c.Service.Dialect); err != nil {
		problems = append(problems, fmt.Errorf("service.dialect: %w", err))
	}
	if c.Service.Timeout < 0 {
		problems = append(problems, fmt.Errorf("service.timeout must not be negative"))
	}
	for k := range c.Service.Headers {
		if strings.TrimSpace(k) == "" {
			problems = append(problems, fmt.Errorf("service.headers: empty header name"))
		}
	}
	return errors.Join(problems...)
}

// Dialect returns the configured dialect, or "" when the service decides.
func (c *Config) Dialect() literal.Dialect {
	if c.Service.Dialect == "" {
		return ""
	}
	d, _ := literal.ParseDialect(c.Service.Dialect)
	return d
}

// TransportOptions builds the HTTP transport options of the configuration.
// The bearer token is read from the environment through getenv; a named
// but unset variable is an error.
func (c *Config) TransportOptions(getenv func(string) string) ([]transport.Option, error) {
	opts := []transport.Option{transport.WithTimeout(c.Service.Timeout)}
	for k, v := range c.Service.Headers {
		opts = append(opts, transport.WithHeader(k, os.Expand(v, getenv)))
	}
	if c.Service.TokenEnv != "" {
		tok := getenv(c.Service.TokenEnv)
		if tok == "" {
			return nil, fmt.Errorf("token variable %s is not set", c.Service.TokenEnv)
		}
		opts = append(opts, transport.WithBearer(transport.StaticToken(tok)))
	}
	return opts, nil
}

// Marshal renders c as YAML.
func (c *Config) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
