// Package materialize turns decoded JSON records into entity instances.
package materialize

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/roach88/odatalink/internal/codec"
	"github.com/roach88/odatalink/internal/edm"
	"github.com/roach88/odatalink/internal/entity"
	"github.com/roach88/odatalink/internal/errs"
)

// Materializer builds entities from raw records using the registry for
// navigation targets and enum lookup.
type Materializer struct {
	registry *edm.Registry
	logger   *slog.Logger
}

// Option configures a Materializer.
type Option func(*Materializer)

// WithLogger sets the logger used for skipped records.
func WithLogger(l *slog.Logger) Option {
	return func(m *Materializer) {
		if l != nil {
			m.logger = l
		}
	}
}

// New returns a Materializer over reg.
func New(reg *edm.Registry, opts ...Option) *Materializer {
	m := &Materializer{registry: reg, logger: slog.Default()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Options describe the request a record came from.
type Options struct {
	// Select lists the top-level properties the request selected. When
	// empty every non-nullable property without a default is required.
	Select []string

	// Loader is attached to every materialized entity, expanded ones
	// included, for on-demand navigation.
	Loader entity.NavLoader

	// SkipInvalid makes MaterializeAll log and drop records that fail
	// instead of failing the whole batch.
	SkipInvalid bool
}

// Materialize builds one entity of type et from raw.
//
// Declared properties are decoded through package codec. Fields the type
// does not declare are kept untyped in the entity's extra fields; control
// information (@odata.*, odata.*, __metadata) is dropped except for the
// etag. Navigation properties present in raw were expanded by the request
// and go into the navigation cache.
func (m *Materializer) Materialize(raw map[string]any, et *edm.EntityType, opts Options) (*entity.Entity, error) {
	if raw == nil {
		return nil, errs.Materialization("", "%s record is null", et.Name())
	}

	values := make(map[string]any, len(raw))
	var extra map[string]any
	etag := etagOf(raw)

	for name, rv := range raw {
		if isControl(name) {
			continue
		}
		p, ok := et.Property(name)
		if !ok {
			if extra == nil {
				extra = make(map[string]any)
			}
			extra[name] = rv
			continue
		}
		if p.IsNavigation() {
			continue
		}
		if rv == nil && !p.Nullable {
			return nil, errs.Materialization(name, "%s.%s is null but not nullable", et.Name(), name)
		}
		v, err := codec.Decode(rv, p, m.registry)
		if err != nil {
			return nil, &errs.Error{
				Code:    errs.ErrCodeMaterialization,
				Message: fmt.Sprintf("%s.%s: unparseable value", et.Name(), name),
				Field:   name,
				Err:     err,
			}
		}
		values[name] = v
	}

	if err := checkRequired(et, values, opts.Select); err != nil {
		return nil, err
	}

	e := entity.Load(et, m.registry, values, entity.LoadOptions{
		Extra:  extra,
		ETag:   etag,
		Loader: opts.Loader,
	})

	for _, p := range et.Navigations() {
		rv, ok := raw[p.Name]
		if !ok {
			continue
		}
		related, expanded, err := m.navigation(rv, p, opts.Loader)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", et.Name(), p.Name, err)
		}
		if !expanded {
			continue
		}
		if err := e.CacheNavigation(p.Name, related); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// MaterializeAll builds one entity per record. A failing record fails the
// batch unless opts.SkipInvalid is set, in which case it is logged at Warn
// and left out.
func (m *Materializer) MaterializeAll(raws []map[string]any, et *edm.EntityType, opts Options) ([]*entity.Entity, error) {
	out := make([]*entity.Entity, 0, len(raws))
	for i, raw := range raws {
		e, err := m.Materialize(raw, et, opts)
		if err != nil {
			if opts.SkipInvalid && errs.IsMaterialization(err) {
				m.logger.Warn("skipping invalid record",
					"type", et.Name(),
					"index", i,
					"error", err,
				)
				continue
			}
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		out = append(out, e)
	}
	return out, nil
}

// navigation materializes an expanded navigation value. A deferred link
// (v2 __deferred) reports expanded=false.
func (m *Materializer) navigation(rv any, p edm.Property, loader entity.NavLoader) ([]*entity.Entity, bool, error) {
	target, ok := m.registry.Target(p)
	if !ok {
		return nil, false, errs.Materialization(p.Name, "navigation target %s is not registered", p.Type)
	}
	nested := Options{Loader: loader}

	switch v := rv.(type) {
	case nil:
		return nil, true, nil
	case []any:
		out := make([]*entity.Entity, 0, len(v))
		for i, item := range v {
			obj, ok := item.(map[string]any)
			if !ok {
				return nil, false, errs.Materialization(p.Name, "item %d is %T, not an object", i, item)
			}
			e, err := m.Materialize(obj, target, nested)
			if err != nil {
				return nil, false, err
			}
			out = append(out, e)
		}
		return out, true, nil
	case map[string]any:
		if _, deferred := v["__deferred"]; deferred {
			return nil, false, nil
		}
		if results, ok := v["results"].([]any); ok && p.Collection {
			return m.navigation(results, p, loader)
		}
		if p.Collection {
			return nil, false, errs.Materialization(p.Name, "collection navigation is an object")
		}
		e, err := m.Materialize(v, target, nested)
		if err != nil {
			return nil, false, err
		}
		return []*entity.Entity{e}, true, nil
	default:
		return nil, false, errs.Materialization(p.Name, "unexpected %T for navigation", rv)
	}
}

func checkRequired(et *edm.EntityType, values map[string]any, selected []string) error {
	for _, p := range et.Structural() {
		if p.Nullable || p.HasDefault() {
			continue
		}
		if len(selected) > 0 && !slices.Contains(selected, p.Name) {
			continue
		}
		if _, ok := values[p.Name]; !ok {
			return errs.Materialization(p.Name, "%s record has no value for required property %s", et.Name(), p.Name)
		}
	}
	return nil
}

// isControl reports whether a record key carries protocol control
// information rather than data.
func isControl(name string) bool {
	return strings.Contains(name, "@") ||
		strings.HasPrefix(name, "odata.") ||
		name == "__metadata"
}

func etagOf(raw map[string]any) string {
	for _, k := range []string{"@odata.etag", "odata.etag"} {
		if s, ok := raw[k].(string); ok {
			return s
		}
	}
	if meta, ok := raw["__metadata"].(map[string]any); ok {
		if s, ok := meta["etag"].(string); ok {
			return s
		}
	}
	return ""
}
