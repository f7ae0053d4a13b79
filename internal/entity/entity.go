// Package entity holds entity instances: typed property values, the
// snapshot taken at load or save time, and the lifecycle state machine.
//
// An Entity is not safe for concurrent use. It is owned by the caller that
// fetched or created it.
package entity

import (
	"maps"
	"slices"

	"github.com/looplab/fsm"

	"github.com/roach88/odatalink/internal/codec"
	"github.com/roach88/odatalink/internal/edm"
	"github.com/roach88/odatalink/internal/errs"
	"github.com/roach88/odatalink/internal/literal"
)

// Entity is one instance of an entity type.
type Entity struct {
	typ   *edm.EntityType
	enums codec.EnumResolver

	values   map[string]any
	snapshot map[string]any
	extra    map[string]any
	etag     string

	nav       map[string][]*Entity
	binds     map[string][]*Entity
	bindOrder []string
	loader    NavLoader

	machine *fsm.FSM
	prior   State
	lastErr error
}

// LoadOptions carries the server-side parts of a fetched record.
type LoadOptions struct {
	// Extra holds fields the schema does not declare.
	Extra map[string]any

	// ETag is the version tag of the record, if the service sent one.
	ETag string

	// Loader fetches unexpanded navigation properties on demand.
	Loader NavLoader
}

func newEntity(et *edm.EntityType, enums codec.EnumResolver) *Entity {
	return &Entity{
		typ:     et,
		enums:   enums,
		values:  make(map[string]any),
		nav:     make(map[string][]*Entity),
		machine: newMachine(et.Name()),
	}
}

// Create returns a new, not yet persisted instance of et.
// Properties with a declared default start with that value.
func Create(et *edm.EntityType, enums codec.EnumResolver) *Entity {
	e := newEntity(et, enums)
	for _, p := range et.Structural() {
		if !p.HasDefault() {
			continue
		}
		if v, err := codec.Decode(p.Default, p, enums); err == nil && v != nil {
			e.values[p.Name] = v
		}
	}
	_ = e.transition(EventCreate)
	return e
}

// Load returns a loaded instance holding values, which must already be in
// canonical form (see package codec). The snapshot is a deep copy of values.
func Load(et *edm.EntityType, enums codec.EnumResolver, values map[string]any, opts LoadOptions) *Entity {
	e := newEntity(et, enums)
	maps.Copy(e.values, values)
	e.extra = maps.Clone(opts.Extra)
	e.etag = opts.ETag
	e.loader = opts.Loader
	e.takeSnapshot()
	_ = e.transition(EventLoad)
	return e
}

// Type returns the entity type.
func (e *Entity) Type() *edm.EntityType { return e.typ }

// ETag returns the version tag sent with the record, or "".
func (e *Entity) ETag() string { return e.etag }

// Get returns the value of a structural property and whether it is loaded.
func (e *Entity) Get(name string) (any, bool) {
	v, ok := e.values[name]
	return v, ok
}

// Value returns the value of a structural property, or nil.
func (e *Entity) Value(name string) any {
	return e.values[name]
}

// Has reports whether a value is present for name.
func (e *Entity) Has(name string) bool {
	_, ok := e.values[name]
	return ok
}

// Values returns a copy of the loaded values.
func (e *Entity) Values() map[string]any {
	return maps.Clone(e.values)
}

// Fields returns the names of the loaded properties in declaration order.
func (e *Entity) Fields() []string {
	var names []string
	for _, p := range e.typ.Structural() {
		if _, ok := e.values[p.Name]; ok {
			names = append(names, p.Name)
		}
	}
	return names
}

// Extra returns a copy of the fields the schema does not declare.
func (e *Entity) Extra() map[string]any {
	return maps.Clone(e.extra)
}

// Set assigns a structural property.
//
// The value is converted to the property's canonical form; a value of the
// wrong type, nil for a non-nullable property, a computed property, or a key
// of a persisted entity yields INVALID_VALUE. Assigning a property that was
// not loaded (excluded by $select) yields INVALID_STATE. A loaded entity
// becomes dirty.
func (e *Entity) Set(name string, v any) error {
	if err := e.checkMutable(); err != nil {
		return err
	}

	p, ok := e.typ.Property(name)
	if !ok {
		return errs.InvalidValue(name, "%s has no property %q", e.typ.Name(), name)
	}
	if p.IsNavigation() {
		return errs.InvalidValue(name, "use SetRelated for navigation properties")
	}
	if p.Computed {
		return errs.InvalidValue(name, "computed property is read-only")
	}
	if v == nil && !p.Nullable {
		return errs.InvalidValue(name, "property is not nullable")
	}

	persisted := !e.Is(StateNew)
	if persisted {
		if _, loaded := e.values[name]; !loaded {
			return errs.InvalidState("%s.%s was not loaded and cannot be assigned", e.typ.Name(), name)
		}
		if p.Key {
			return errs.InvalidValue(name, "key of a persisted entity cannot change")
		}
	}

	cv, err := codec.Coerce(v, p, e.enums)
	if err != nil {
		return err
	}
	e.values[name] = cv
	return e.markDirty()
}

// markDirty fires mutate for a loaded entity. New and dirty entities keep
// their state.
func (e *Entity) markDirty() error {
	if !e.Is(StateLoaded) {
		return nil
	}
	return e.transition(EventMutate)
}

func (e *Entity) checkMutable() error {
	switch e.State() {
	case StateNew, StateLoaded, StateDirty:
		return nil
	default:
		return errs.InvalidState("%s cannot be modified in state %s", e.typ.Name(), e.State())
	}
}

// Key returns the key values in key declaration order.
func (e *Entity) Key() []any {
	keys := e.typ.KeyNames()
	out := make([]any, len(keys))
	for i, k := range keys {
		out[i] = e.values[k]
	}
	return out
}

// ID returns the canonical address of the entity: Orders(10248), or
// Order_Details(OrderID=10248,ProductID=11) for composite keys.
func (e *Entity) ID(d literal.Dialect) (string, error) {
	set := e.typ.EntitySet()
	if set == "" {
		return "", errs.InvalidState("%s is not exposed through an entity set", e.typ.Name())
	}
	seg, err := literal.KeySegment(e.typ.Keys(), e.Get, e.enums, d)
	if err != nil {
		return "", err
	}
	return set + seg, nil
}

// Refresh replaces the loaded values with a fresh server record and takes
// a new snapshot. Pending navigation bindings are kept.
func (e *Entity) Refresh(values map[string]any, extra map[string]any, etag string) error {
	maps.Copy(e.values, values)
	if extra != nil {
		e.extra = maps.Clone(extra)
	}
	if etag != "" {
		e.etag = etag
	}
	if e.Is(StateLoaded) || e.Is(StateDirty) {
		e.takeSnapshot()
		return e.transition(EventRefresh)
	}
	return nil
}

// Absorb merges values returned by the service while the entity is being
// saved (server-assigned keys, computed properties, a new etag). It does not
// touch the snapshot; CompleteSave does.
func (e *Entity) Absorb(values map[string]any, etag string) {
	maps.Copy(e.values, values)
	if etag != "" {
		e.etag = etag
	}
}

func (e *Entity) takeSnapshot() {
	e.snapshot = make(map[string]any, len(e.values))
	for k, v := range e.values {
		e.snapshot[k] = codec.Clone(v)
	}
}

// Snapshot returns a copy of the values as of the last load or save.
func (e *Entity) Snapshot() map[string]any {
	out := make(map[string]any, len(e.snapshot))
	for k, v := range e.snapshot {
		out[k] = codec.Clone(v)
	}
	return out
}

// Bindings returns the pending navigation bindings in assignment order.
func (e *Entity) Bindings() []Binding {
	out := make([]Binding, 0, len(e.bindOrder))
	for _, name := range e.bindOrder {
		b := Binding{Name: name}
		if p, _ := e.typ.Property(name); p.Collection {
			b.Targets = slices.Clone(e.binds[name])
		} else {
			b.Target = e.binds[name][0]
		}
		out = append(out, b)
	}
	return out
}

// Binding is a pending assignment of related entities to a navigation
// property. Target is set for single-valued navigation, Targets for
// collections.
type Binding struct {
	Name    string
	Target  *Entity
	Targets []*Entity
}

// Collection reports whether the binding is sent as a list.
func (b Binding) Collection() bool {
	return b.Targets != nil
}

// NavigationNames returns the navigation properties with cached values,
// in declaration order.
func (e *Entity) NavigationNames() []string {
	var names []string
	for _, p := range e.typ.Navigations() {
		if _, ok := e.nav[p.Name]; ok {
			names = append(names, p.Name)
		}
	}
	return slices.Clip(names)
}
