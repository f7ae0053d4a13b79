package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/odatalink/internal/config"
	"github.com/roach88/odatalink/internal/schemacache"
	"github.com/roach88/odatalink/internal/schemadef"
	"github.com/roach88/odatalink/internal/service"
	"github.com/roach88/odatalink/internal/transport"
)

func (o *RootOptions) getenv(key string) string {
	if o.Getenv != nil {
		return o.Getenv(key)
	}
	return os.Getenv(key)
}

// loadConfig reads --config, if given, and applies --url.
func (o *RootOptions) loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if o.Config != "" {
		var err error
		if cfg, err = config.Load(o.Config); err != nil {
			return nil, WrapExitError(ExitCommandError, "load configuration", err)
		}
	}
	if o.URL != "" {
		cfg.Service.URL = o.URL
		if err := cfg.Validate(); err != nil {
			return nil, WrapExitError(ExitCommandError, "invalid --url", err)
		}
	}
	return cfg, nil
}

// connectMode selects where the schema of a connected service comes from.
type connectMode int

const (
	// schemaFromConfig uses hand-written definitions when the configuration
	// names them and reflection otherwise.
	schemaFromConfig connectMode = iota
	// schemaReflect always reflects, through the cache when one is set.
	schemaReflect
	// schemaRefresh reflects from the service and rewrites the cache.
	schemaRefresh
)

// connect builds a Service from the configuration. The returned function
// releases the schema cache.
func (o *RootOptions) connect(cmd *cobra.Command, cfg *config.Config, mode connectMode) (*service.Service, func(), error) {
	noop := func() {}
	if cfg.Service.URL == "" {
		return nil, noop, NewExitError(ExitCommandError, "no service URL: set service.url in the configuration or pass --url")
	}

	logger := o.logger(cmd)
	topts, err := cfg.TransportOptions(o.getenv)
	if err != nil {
		return nil, noop, WrapExitError(ExitCommandError, "configure transport", err)
	}
	topts = append(topts, transport.WithLogger(logger))

	sopts := []service.Option{
		service.WithTransport(transport.NewHTTP(topts...)),
		service.WithLogger(logger),
		service.WithFlags(cfg.Flags),
	}
	if d := cfg.Dialect(); d != "" {
		sopts = append(sopts, service.WithDialect(d))
	}

	release := noop
	if cfg.Schema != "" && mode == schemaFromConfig {
		schema, err := schemadef.Load(cfg.Schema)
		if err != nil {
			return nil, noop, err
		}
		sopts = append(sopts, service.WithSchema(schema))
	} else {
		sopts = append(sopts, service.WithReflection())
		if mode == schemaRefresh {
			sopts = append(sopts, service.WithRefresh())
		}
		if cfg.Cache.Path != "" {
			store, err := openCache(cfg)
			if err != nil {
				return nil, noop, err
			}
			release = func() { store.Close() }
			sopts = append(sopts, service.WithSchemaCache(store))
		}
	}

	svc, err := service.New(cmd.Context(), cfg.Service.URL, sopts...)
	if err != nil {
		release()
		return nil, noop, err
	}
	return svc, release, nil
}

// openCache opens the schema cache named by the configuration.
func openCache(cfg *config.Config) (*schemacache.Store, error) {
	if cfg.Cache.Path == "" {
		return nil, NewExitError(ExitCommandError, "no schema cache: set cache.path in the configuration")
	}
	path, err := expandHome(cfg.Cache.Path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "locate schema cache", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, WrapExitError(ExitCommandError, "create cache directory", err)
	}
	store, err := schemacache.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "open schema cache", err)
	}
	return store, nil
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
