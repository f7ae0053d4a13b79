package query

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/roach88/odatalink/internal/codec"
	"github.com/roach88/odatalink/internal/edm"
	"github.com/roach88/odatalink/internal/entity"
	"github.com/roach88/odatalink/internal/errs"
	"github.com/roach88/odatalink/internal/filter"
	"github.com/roach88/odatalink/internal/literal"
	"github.com/roach88/odatalink/internal/materialize"
	"github.com/roach88/odatalink/internal/transport"
)

// Session binds queries to one service endpoint: its base URL, transport,
// registry and dialect. It also loads unexpanded navigation properties for
// the entities it materializes.
//
// A Session holds no mutable state after construction and may be shared.
type Session struct {
	base         string
	transport    transport.Transport
	registry     *edm.Registry
	dialect      literal.Dialect
	compiler     *filter.Compiler
	materializer *materialize.Materializer
	logger       *slog.Logger
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithDialect selects the protocol dialect. The default is literal.V4.
func WithDialect(d literal.Dialect) SessionOption {
	return func(s *Session) { s.dialect = d }
}

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) SessionOption {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSession creates a Session for the service rooted at baseURL.
func NewSession(baseURL string, t transport.Transport, reg *edm.Registry, opts ...SessionOption) *Session {
	s := &Session{
		base:      strings.TrimRight(baseURL, "/") + "/",
		transport: t,
		registry:  reg,
		dialect:   literal.V4,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.compiler = filter.NewCompiler(reg, filter.WithDialect(s.dialect))
	s.materializer = materialize.New(reg, materialize.WithLogger(s.logger))
	return s
}

// Base returns the service root URL with a trailing slash.
func (s *Session) Base() string { return s.base }

// Dialect returns the protocol dialect.
func (s *Session) Dialect() literal.Dialect { return s.dialect }

// Registry returns the type registry.
func (s *Session) Registry() *edm.Registry { return s.registry }

// Transport returns the transport.
func (s *Session) Transport() transport.Transport { return s.transport }

// Compiler returns the filter compiler.
func (s *Session) Compiler() *filter.Compiler { return s.compiler }

// Logger returns the session logger.
func (s *Session) Logger() *slog.Logger { return s.logger }

// From starts a query over the entity set of et.
func (s *Session) From(et *edm.EntityType) Query {
	q := Query{s: s, et: et}
	if et == nil {
		q.err = errs.InvalidQuery("", "no entity type")
	} else if et.EntitySet() == "" {
		q.err = errs.InvalidQuery("", "%s is not exposed through an entity set", et.Name())
	}
	return q
}

// EntityURL returns the absolute URL addressing e.
func (s *Session) EntityURL(e *entity.Entity) (string, error) {
	id, err := e.ID(s.dialect)
	if err != nil {
		return "", err
	}
	return s.base + id, nil
}

// Resolve makes ref absolute against the service root.
func (s *Session) Resolve(ref string) (string, error) {
	base, err := url.Parse(s.base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("parse %q: %w", ref, err)
	}
	return base.ResolveReference(u).String(), nil
}

// Materialize builds an entity from a decoded record, attaching the session
// as its navigation loader.
func (s *Session) Materialize(raw map[string]any, et *edm.EntityType, sel []string) (*entity.Entity, error) {
	return s.materializer.Materialize(raw, et, materialize.Options{Select: sel, Loader: s})
}

// Fetch reads the single entity at url.
func (s *Session) Fetch(ctx context.Context, url string, et *edm.EntityType, sel []string) (*entity.Entity, error) {
	body, err := s.transport.Get(ctx, url)
	if err != nil {
		return nil, err
	}
	raw, err := decodeEntity(body)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	return s.Materialize(raw, et, sel)
}

// LoadNavigation implements entity.NavLoader: it reads Entity(key)/Nav.
func (s *Session) LoadNavigation(ctx context.Context, e *entity.Entity, prop edm.Property) ([]*entity.Entity, error) {
	target, ok := s.registry.Target(prop)
	if !ok {
		return nil, errs.InvalidState("navigation target %s is not registered", prop.Type)
	}
	owner, err := s.EntityURL(e)
	if err != nil {
		return nil, err
	}
	u := owner + "/" + prop.Name

	s.logger.Debug("loading navigation",
		"type", e.Type().Name(),
		"property", prop.Name,
		"url", u,
	)

	if !prop.Collection {
		body, err := s.transport.Get(ctx, u)
		if err != nil {
			if errs.StatusCode(err) == 404 || errs.StatusCode(err) == 204 {
				return nil, nil
			}
			return nil, err
		}
		raw, err := decodeEntity(body)
		if err != nil || raw == nil {
			return nil, err
		}
		related, err := s.Materialize(raw, target, nil)
		if err != nil {
			return nil, err
		}
		return []*entity.Entity{related}, nil
	}

	var out []*entity.Entity
	for page, err := range s.pages(ctx, u, target, pageOptions{}) {
		if err != nil {
			return nil, err
		}
		out = append(out, page.Entities...)
	}
	return out, nil
}

// DecodeRecord decodes a single-entity response body into canonical values
// for the structural properties of et it carries, plus the etag. An empty
// body yields no values.
func (s *Session) DecodeRecord(body []byte, et *edm.EntityType) (map[string]any, string, error) {
	raw, err := decodeEntity(body)
	if err != nil || raw == nil {
		return nil, "", err
	}
	values := make(map[string]any, len(raw))
	for _, p := range et.Structural() {
		rv, ok := raw[p.Name]
		if !ok {
			continue
		}
		v, err := codec.Decode(rv, p, s.registry)
		if err != nil {
			return nil, "", &errs.Error{
				Code:    errs.ErrCodeMaterialization,
				Message: fmt.Sprintf("%s.%s: unparseable value", et.Name(), p.Name),
				Field:   p.Name,
				Err:     err,
			}
		}
		values[p.Name] = v
	}
	return values, etagOf(raw), nil
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
