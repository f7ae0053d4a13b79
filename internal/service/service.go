// Package service is the entry point for one remote endpoint. A Service owns
// the type registry of the endpoint, optionally filled by reflecting its
// $metadata document, and hands out queries, new entities and a change
// tracker bound to it.
//
//	svc, err := service.New(ctx, "https://host/odata/", service.WithReflection())
//	orders, err := svc.Query("Orders")
//	list, err := orders.Filter(...).All(ctx)
//
// Entities are bound to the Service that produced them and cannot be saved
// through another one.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/roach88/odatalink/internal/edm"
	"github.com/roach88/odatalink/internal/entity"
	"github.com/roach88/odatalink/internal/errs"
	"github.com/roach88/odatalink/internal/literal"
	"github.com/roach88/odatalink/internal/metadata"
	"github.com/roach88/odatalink/internal/query"
	"github.com/roach88/odatalink/internal/schemacache"
	"github.com/roach88/odatalink/internal/tracker"
	"github.com/roach88/odatalink/internal/transport"
)

// Service is a connected endpoint.
type Service struct {
	url       string
	transport transport.Transport
	registry  *edm.Registry
	session   *query.Session
	tracker   *tracker.Tracker
	doc       *metadata.Document
	version   string
	logger    *slog.Logger
}

type options struct {
	transport transport.Transport
	registry  *edm.Registry
	schema    *edm.Schema
	reflect   bool
	cache     *schemacache.Store
	refresh   bool
	logger    *slog.Logger
	flags     tracker.Flags
	dialect   literal.Dialect
}

// Option configures a Service.
type Option func(*options)

// WithTransport replaces the default HTTP transport.
func WithTransport(t transport.Transport) Option {
	return func(o *options) { o.transport = t }
}

// WithRegistry uses reg instead of a fresh registry.
func WithRegistry(reg *edm.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// WithSchema loads hand-written definitions into the registry. Reflection
// replaces them when both are configured.
func WithSchema(s *edm.Schema) Option {
	return func(o *options) { o.schema = s }
}

// WithReflection reads the $metadata document of the endpoint at
// construction and registers every type it declares.
func WithReflection() Option {
	return func(o *options) { o.reflect = true }
}

// WithSchemaCache serves reflection from store when it holds a document for
// the endpoint, and records freshly reflected documents in it.
func WithSchemaCache(store *schemacache.Store) Option {
	return func(o *options) { o.cache = store }
}

// WithRefresh bypasses the schema cache on read; the reflected document
// still replaces the cached one.
func WithRefresh() Option {
	return func(o *options) { o.refresh = true }
}

// WithLogger sets the logger shared by the session and tracker.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithFlags sets the server quirks honored by write payloads.
func WithFlags(f tracker.Flags) Option {
	return func(o *options) { o.flags = f }
}

// WithDialect forces the literal grammar. Without it the dialect follows
// the reflected protocol version, or V4.
func WithDialect(d literal.Dialect) Option {
	return func(o *options) { o.dialect = d }
}

// New connects to the endpoint at url. Only reflection touches the
// network; without WithReflection New never makes a request.
func New(ctx context.Context, url string, opts ...Option) (*Service, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errs.InvalidState("service url is empty")
	}
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.transport == nil {
		o.transport = transport.NewHTTP(transport.WithLogger(o.logger))
	}
	if o.registry == nil {
		o.registry = edm.NewRegistry()
	}

	s := &Service{
		url:       strings.TrimRight(url, "/") + "/",
		transport: o.transport,
		registry:  o.registry,
		logger:    o.logger,
	}

	if o.schema != nil && !o.reflect {
		if err := s.registry.Load(o.schema); err != nil {
			return nil, fmt.Errorf("load schema %s: %w", o.schema.Namespace, err)
		}
	}

	dialect := literal.V4
	if o.reflect {
		d, err := s.reflect(ctx, o)
		if err != nil {
			return nil, err
		}
		dialect = d
	}
	if o.dialect != "" {
		dialect = o.dialect
	}

	s.session = query.NewSession(s.url, s.transport, s.registry,
		query.WithDialect(dialect),
		query.WithLogger(s.logger),
	)
	s.tracker = tracker.New(s.session, tracker.WithFlags(o.flags))

	s.logger.Debug("service ready",
		"url", s.url,
		"dialect", dialect,
		"types", s.registry.Len(),
	)
	return s, nil
}

// reflect fills the registry from the schema cache or the $metadata
// document and returns the dialect of the endpoint.
func (s *Service) reflect(ctx context.Context, o options) (literal.Dialect, error) {
	if o.cache != nil && !o.refresh {
		entry, found, err := o.cache.Load(ctx, s.url)
		if err != nil {
			return "", fmt.Errorf("read schema cache: %w", err)
		}
		if found {
			v, err := metadata.ParseVersion(entry.Version)
			if err != nil {
				return "", err
			}
			if err := s.registry.Load(entry.Schema); err != nil {
				return "", fmt.Errorf("load cached schema: %w", err)
			}
			s.version = entry.Version
			s.logger.Debug("schema served from cache",
				"url", s.url,
				"fingerprint", entry.Fingerprint,
				"cached_at", entry.CachedAt,
			)
			return metadata.DialectFor(v), nil
		}
	}

	doc, err := metadata.Reflect(ctx, s.transport, s.url)
	if err != nil {
		return "", err
	}
	for _, skipped := range doc.Skipped {
		s.logger.Warn("property type not supported; skipped", "property", skipped)
	}
	if err := s.registry.Load(doc.Schema); err != nil {
		return "", fmt.Errorf("load reflected schema: %w", err)
	}
	s.doc = doc
	s.version = doc.Version.String()

	if o.cache != nil {
		entry, err := o.cache.Save(ctx, s.url, s.version, doc.Schema)
		if err != nil {
			return "", fmt.Errorf("write schema cache: %w", err)
		}
		s.logger.Debug("schema cached", "url", s.url, "fingerprint", entry.Fingerprint)
	}
	return doc.Dialect, nil
}

// URL returns the service root with a trailing slash.
func (s *Service) URL() string { return s.url }

// Registry returns the type registry.
func (s *Service) Registry() *edm.Registry { return s.registry }

// Session returns the query session.
func (s *Service) Session() *query.Session { return s.session }

// Dialect returns the literal grammar in use.
func (s *Service) Dialect() literal.Dialect { return s.session.Dialect() }

// Document returns the reflected metadata document, or nil when the schema
// came from the cache or from hand-written definitions.
func (s *Service) Document() *metadata.Document { return s.doc }

// Version returns the protocol version of the reflected schema, or "".
func (s *Service) Version() string { return s.version }

// Tracker returns the unit of work of the service.
func (s *Service) Tracker() *tracker.Tracker { return s.tracker }

// EntityType looks up an entity type by short or qualified name, or by the
// name of its entity set.
func (s *Service) EntityType(name string) (*edm.EntityType, error) {
	if et, ok := s.registry.EntityType(name); ok {
		return et, nil
	}
	if et, ok := s.registry.EntitySet(name); ok {
		return et, nil
	}
	return nil, errs.InvalidQuery("", "unknown entity type or set %s", name)
}

// From starts a query over the entity set of et.
func (s *Service) From(et *edm.EntityType) query.Query {
	return s.session.From(et)
}

// Query starts a query over the named entity type or set.
func (s *Service) Query(name string) (query.Query, error) {
	et, err := s.EntityType(name)
	if err != nil {
		return query.Query{}, err
	}
	return s.session.From(et), nil
}

// NewEntity creates an unsaved instance of the named entity type. It is not
// registered with the tracker; pass it to Save or Tracker().Add.
func (s *Service) NewEntity(name string) (*entity.Entity, error) {
	et, err := s.EntityType(name)
	if err != nil {
		return nil, err
	}
	return entity.Create(et, s.registry), nil
}

// Save inserts a new entity or writes the changes of a loaded one.
func (s *Service) Save(ctx context.Context, e *entity.Entity) error {
	return s.tracker.Save(ctx, e)
}

// Delete removes e from the service.
func (s *Service) Delete(ctx context.Context, e *entity.Entity) error {
	return s.tracker.Delete(ctx, e)
}

// SaveChanges flushes every change registered with the tracker.
func (s *Service) SaveChanges(ctx context.Context) error {
	return s.tracker.SaveChanges(ctx)
}

// IsSaved reports whether e matches what the service last returned for it.
func (s *Service) IsSaved(e *entity.Entity) bool {
	return e.Is(entity.StateLoaded) && !e.Modified()
}

// String identifies the service in logs.
func (s *Service) String() string {
	return "odata service at " + s.url
}
