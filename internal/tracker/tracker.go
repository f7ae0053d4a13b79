// Package tracker persists local entity changes: inserts for new entities,
// minimal PATCH updates computed from the snapshot diff, and deletes.
//
// A Tracker is a unit of work. Entities are registered with Add, Track or
// MarkDeleted and flushed in registration order by SaveChanges; Save and
// Delete act on a single entity immediately.
//
// A Tracker is not safe for concurrent use.
package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/goccy/go-json"

	"github.com/roach88/odatalink/internal/entity"
	"github.com/roach88/odatalink/internal/errs"
	"github.com/roach88/odatalink/internal/query"
)

// Kind is the kind of a pending change.
type Kind string

const (
	KindInsert Kind = "insert"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
)

// Change is one pending write.
type Change struct {
	Kind   Kind
	Entity *entity.Entity

	// URL is the entity set for inserts and the entity for updates and
	// deletes.
	URL string

	// Payload is the request body; nil for deletes.
	Payload map[string]any
}

// Tracker records entities and writes their changes through a session.
type Tracker struct {
	sess   *query.Session
	flags  Flags
	logger *slog.Logger

	entries []*entity.Entity
	deletes map[*entity.Entity]bool
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithFlags sets the payload flags.
func WithFlags(f Flags) Option {
	return func(t *Tracker) { t.flags = f }
}

// WithLogger sets the tracker logger. The session logger is the default.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) {
		if l != nil {
			t.logger = l
		}
	}
}

// New creates a Tracker writing through sess.
func New(sess *query.Session, opts ...Option) *Tracker {
	t := &Tracker{
		sess:    sess,
		logger:  sess.Logger(),
		deletes: make(map[*entity.Entity]bool),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Flags returns the payload flags.
func (t *Tracker) Flags() Flags { return t.flags }

// Add registers a new entity for insertion.
func (t *Tracker) Add(e *entity.Entity) error {
	if !e.Is(entity.StateNew) {
		return errs.InvalidState("only new entities can be added, %s is %s", e.Type().Name(), e.State())
	}
	t.register(e)
	return nil
}

// Track registers a loaded entity so that its changes are written by
// SaveChanges.
func (t *Tracker) Track(e *entity.Entity) error {
	if !e.Is(entity.StateLoaded) && !e.Is(entity.StateDirty) {
		return errs.InvalidState("only loaded entities can be tracked, %s is %s", e.Type().Name(), e.State())
	}
	t.register(e)
	return nil
}

// MarkDeleted schedules e for deletion. A new entity that was added and
// never saved is simply forgotten.
func (t *Tracker) MarkDeleted(e *entity.Entity) error {
	if e.Is(entity.StateNew) {
		t.entries = slices.DeleteFunc(t.entries, func(x *entity.Entity) bool { return x == e })
		return nil
	}
	if !e.Is(entity.StateLoaded) && !e.Is(entity.StateDirty) {
		return errs.InvalidState("cannot delete %s in state %s", e.Type().Name(), e.State())
	}
	t.register(e)
	t.deletes[e] = true
	return nil
}

func (t *Tracker) register(e *entity.Entity) {
	if !slices.Contains(t.entries, e) {
		t.entries = append(t.entries, e)
	}
}

// Pending returns the change set in registration order. Unmodified
// entities contribute nothing.
func (t *Tracker) Pending() ([]Change, error) {
	var out []Change
	for _, e := range t.entries {
		c, ok, err := t.change(e)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (t *Tracker) change(e *entity.Entity) (Change, bool, error) {
	d := t.sess.Dialect()
	switch {
	case t.deletes[e] && !e.Is(entity.StateDeleted):
		u, err := t.sess.EntityURL(e)
		if err != nil {
			return Change{}, false, err
		}
		return Change{Kind: KindDelete, Entity: e, URL: u}, true, nil

	case e.Is(entity.StateNew):
		payload, err := insertPayload(e, t.flags, d)
		if err != nil {
			return Change{}, false, err
		}
		return Change{Kind: KindInsert, Entity: e, URL: t.setURL(e), Payload: payload}, true, nil

	case e.Is(entity.StateLoaded), e.Is(entity.StateDirty):
		payload, err := updatePayload(e, t.flags, d)
		if err != nil || len(payload) == 0 {
			return Change{}, false, err
		}
		u, err := t.sess.EntityURL(e)
		if err != nil {
			return Change{}, false, err
		}
		return Change{Kind: KindUpdate, Entity: e, URL: u, Payload: payload}, true, nil
	}
	return Change{}, false, nil
}

func (t *Tracker) setURL(e *entity.Entity) string {
	return t.sess.Base() + e.Type().EntitySet()
}

// SaveChanges writes every pending change in registration order and stops
// at the first failure.
func (t *Tracker) SaveChanges(ctx context.Context) error {
	for _, e := range t.entries {
		var err error
		switch {
		case t.deletes[e]:
			if e.Is(entity.StateDeleted) {
				continue
			}
			err = t.Delete(ctx, e)
		case e.Is(entity.StateNew), e.Is(entity.StateLoaded), e.Is(entity.StateDirty):
			err = t.Save(ctx, e)
		default:
			continue
		}
		if err != nil {
			return err
		}
	}
	t.entries = slices.DeleteFunc(t.entries, func(e *entity.Entity) bool {
		if e.Is(entity.StateDeleted) {
			delete(t.deletes, e)
			return true
		}
		return false
	})
	return nil
}

// Save writes e: a POST of every non-computed value when it is new, or a
// PATCH of the changed fields when it was loaded. A loaded entity without
// changes issues no request.
//
// On failure the entity returns to the state it had before the call and
// keeps its local values. A 412 response is reported as a
// *errs.ConcurrencyError.
func (t *Tracker) Save(ctx context.Context, e *entity.Entity) error {
	switch e.State() {
	case entity.StateNew:
		return t.insert(ctx, e)
	case entity.StateLoaded, entity.StateDirty:
		return t.update(ctx, e)
	default:
		return errs.InvalidState("cannot save %s in state %s", e.Type().Name(), e.State())
	}
}

func (t *Tracker) insert(ctx context.Context, e *entity.Entity) error {
	payload, err := insertPayload(e, t.flags, t.sess.Dialect())
	if err != nil {
		return err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", e.Type().Name(), err)
	}
	if err := e.BeginSave(); err != nil {
		return err
	}

	u := t.setURL(e)
	t.logger.Debug("inserting entity", "type", e.Type().Name(), "url", u)
	resp, err := t.sess.Transport().Post(ctx, u, body)
	if err != nil {
		e.FailSave(err)
		return err
	}
	if err := t.absorb(e, resp); err != nil {
		e.FailSave(err)
		return err
	}
	if err := e.CompleteSave(); err != nil {
		return err
	}
	t.logger.Info("entity inserted", "type", e.Type().Name(), "fields", len(payload))
	return nil
}

func (t *Tracker) update(ctx context.Context, e *entity.Entity) error {
	payload, err := updatePayload(e, t.flags, t.sess.Dialect())
	if err != nil {
		return err
	}
	if len(payload) == 0 {
		if e.Is(entity.StateDirty) && !e.Modified() {
			return e.MarkClean()
		}
		return nil
	}
	u, err := t.sess.EntityURL(e)
	if err != nil {
		return err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", e.Type().Name(), err)
	}
	if err := e.BeginSave(); err != nil {
		return err
	}

	etag := e.ETag()
	t.logger.Debug("patching entity", "type", e.Type().Name(), "url", u, "fields", len(payload))
	resp, err := t.sess.Transport().Patch(ctx, u, body, etag)
	if err != nil {
		err = errs.AsConcurrency(err, u, etag)
		e.FailSave(err)
		return err
	}
	if err := t.absorb(e, resp); err != nil {
		e.FailSave(err)
		return err
	}
	if err := e.CompleteSave(); err != nil {
		return err
	}
	t.logger.Info("entity updated", "type", e.Type().Name(), "url", u)

	if t.flags.RefreshAfterSave {
		if err := t.refresh(ctx, e, u); err != nil {
			return fmt.Errorf("refresh after save: %w", err)
		}
	}
	return nil
}

// absorb merges a write response, when the service sent one, into e.
func (t *Tracker) absorb(e *entity.Entity, resp []byte) error {
	values, etag, err := t.sess.DecodeRecord(resp, e.Type())
	if err != nil {
		return err
	}
	e.Absorb(values, etag)
	return nil
}

func (t *Tracker) refresh(ctx context.Context, e *entity.Entity, u string) error {
	resp, err := t.sess.Transport().Get(ctx, u)
	if err != nil {
		return err
	}
	values, etag, err := t.sess.DecodeRecord(resp, e.Type())
	if err != nil {
		return err
	}
	return e.Refresh(values, nil, etag)
}

// Delete removes e from the service. The etag, when known, is sent in
// If-Match; a 412 response is reported as a *errs.ConcurrencyError.
func (t *Tracker) Delete(ctx context.Context, e *entity.Entity) error {
	u, err := t.sess.EntityURL(e)
	if err != nil {
		return err
	}
	if err := e.BeginDelete(); err != nil {
		return err
	}

	etag := e.ETag()
	t.logger.Debug("deleting entity", "type", e.Type().Name(), "url", u)
	if err := t.sess.Transport().Delete(ctx, u, etag); err != nil {
		err = errs.AsConcurrency(err, u, etag)
		e.FailDelete(err)
		return err
	}
	if err := e.CompleteDelete(); err != nil {
		return err
	}
	t.logger.Info("entity deleted", "type", e.Type().Name(), "url", u)
	return nil
}
