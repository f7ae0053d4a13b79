package edm

import (
	"slices"
	"sync"

	"github.com/roach88/odatalink/internal/errs"
)

// Registry maps type names and entity-set names to definitions for one
// service.
//
// Lookups accept either the short name ("Order") or the namespace-qualified
// name ("NorthwindModel.Order"). The registry is read-mostly: Load and
// Invalidate take the write lock, every lookup takes the read lock, so
// concurrent readers are safe.
type Registry struct {
	mu    sync.RWMutex
	state registryState
}

type registryState struct {
	namespace string
	entities  map[string]*EntityType
	sets      map[string]*EntityType
	enums     map[string]*EnumType
	complexes map[string]*ComplexType

	// declaration order, for deterministic iteration
	entityOrder  []*EntityType
	enumOrder    []*EnumType
	complexOrder []*ComplexType
}

func newRegistryState() registryState {
	return registryState{
		entities:  make(map[string]*EntityType),
		sets:      make(map[string]*EntityType),
		enums:     make(map[string]*EnumType),
		complexes: make(map[string]*ComplexType),
	}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{state: newRegistryState()}
}

// NewRegistryFromSchema creates a registry loaded with s.
func NewRegistryFromSchema(s *Schema) (*Registry, error) {
	r := NewRegistry()
	if err := r.Load(s); err != nil {
		return nil, err
	}
	return r, nil
}

// Load replaces the registry contents with the definitions in s.
//
// Loading is all-or-nothing: the schema is validated completely
// (duplicate names, navigation targets, enum and complex references)
// before the registry is swapped.
func (r *Registry) Load(s *Schema) error {
	st := newRegistryState()
	st.namespace = s.Namespace

	for i := range s.Enums {
		e := s.Enums[i]
		e.Members = slices.Clone(e.Members)
		if err := st.addEnum(&e); err != nil {
			return err
		}
	}
	for i := range s.ComplexTypes {
		c := s.ComplexTypes[i]
		c.Properties = slices.Clone(c.Properties)
		if err := st.addComplex(&c); err != nil {
			return err
		}
	}
	for _, def := range s.EntityTypes {
		et, err := NewEntityType(def)
		if err != nil {
			return err
		}
		if err := st.addEntity(et); err != nil {
			return err
		}
	}
	if err := st.resolve(); err != nil {
		return err
	}

	r.mu.Lock()
	r.state = st
	r.mu.Unlock()
	return nil
}

// Register adds entity types to the registry.
// Navigation targets must already be registered or be part of the same call.
func (r *Registry) Register(types ...*EntityType) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.state.clone()
	for _, et := range types {
		if err := st.addEntity(et); err != nil {
			return err
		}
	}
	if err := st.resolve(); err != nil {
		return err
	}
	r.state = st
	return nil
}

// RegisterEnum adds an enum type to the registry.
func (r *Registry) RegisterEnum(e *EnumType) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.state.clone()
	if err := st.addEnum(e); err != nil {
		return err
	}
	r.state = st
	return nil
}

// RegisterComplex adds a complex type to the registry.
func (r *Registry) RegisterComplex(c *ComplexType) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.state.clone()
	if err := st.addComplex(c); err != nil {
		return err
	}
	r.state = st
	return nil
}

// Invalidate drops every definition. Used before re-reflecting a service.
func (r *Registry) Invalidate() {
	r.mu.Lock()
	r.state = newRegistryState()
	r.mu.Unlock()
}

// Len returns the number of registered entity types.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.state.entityOrder)
}

// EntityType looks up an entity type by short or qualified name.
func (r *Registry) EntityType(name string) (*EntityType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	et, ok := r.state.entities[name]
	return et, ok
}

// EntitySet looks up the entity type exposed by the named entity set.
func (r *Registry) EntitySet(name string) (*EntityType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	et, ok := r.state.sets[name]
	return et, ok
}

// Enum looks up an enum type by short or qualified name.
func (r *Registry) Enum(name string) (*EnumType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.state.enums[name]
	return e, ok
}

// Complex looks up a complex type by short or qualified name.
func (r *Registry) Complex(name string) (*ComplexType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.state.complexes[name]
	return c, ok
}

// Target resolves the entity type a navigation property points to.
func (r *Registry) Target(p Property) (*EntityType, bool) {
	if !p.IsNavigation() {
		return nil, false
	}
	return r.EntityType(p.Type)
}

// EntityTypes returns all entity types in registration order.
func (r *Registry) EntityTypes() []*EntityType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.state.entityOrder)
}

// Schema returns the neutral description of the registry contents.
func (r *Registry) Schema() *Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := &Schema{Namespace: r.state.namespace}
	for _, et := range r.state.entityOrder {
		s.EntityTypes = append(s.EntityTypes, et.Def())
	}
	for _, e := range r.state.enumOrder {
		cp := *e
		cp.Members = slices.Clone(e.Members)
		s.Enums = append(s.Enums, cp)
	}
	for _, c := range r.state.complexOrder {
		cp := *c
		cp.Properties = slices.Clone(c.Properties)
		s.ComplexTypes = append(s.ComplexTypes, cp)
	}
	return s
}

func (st registryState) clone() registryState {
	cp := registryState{
		namespace:    st.namespace,
		entities:     make(map[string]*EntityType, len(st.entities)),
		sets:         make(map[string]*EntityType, len(st.sets)),
		enums:        make(map[string]*EnumType, len(st.enums)),
		complexes:    make(map[string]*ComplexType, len(st.complexes)),
		entityOrder:  slices.Clone(st.entityOrder),
		enumOrder:    slices.Clone(st.enumOrder),
		complexOrder: slices.Clone(st.complexOrder),
	}
	for k, v := range st.entities {
		cp.entities[k] = v
	}
	for k, v := range st.sets {
		cp.sets[k] = v
	}
	for k, v := range st.enums {
		cp.enums[k] = v
	}
	for k, v := range st.complexes {
		cp.complexes[k] = v
	}
	return cp
}

func (st *registryState) addEntity(et *EntityType) error {
	if _, dup := st.entities[et.FullName()]; dup {
		return errs.InvalidSchema(et.Name(), "entity type %s already registered", et.FullName())
	}
	if set := et.EntitySet(); set != "" {
		if _, dup := st.sets[set]; dup {
			return errs.InvalidSchema(et.Name(), "entity set %s already registered", set)
		}
		st.sets[set] = et
	}
	st.entities[et.FullName()] = et
	if _, taken := st.entities[et.Name()]; !taken {
		st.entities[et.Name()] = et
	}
	st.entityOrder = append(st.entityOrder, et)
	return nil
}

func (st *registryState) addEnum(e *EnumType) error {
	if e.Name == "" {
		return errs.InvalidSchema("", "enum type name is empty")
	}
	if _, dup := st.enums[e.FullName()]; dup {
		return errs.InvalidSchema(e.Name, "enum type %s already registered", e.FullName())
	}
	seen := make(map[string]bool, len(e.Members))
	for _, m := range e.Members {
		if seen[m.Name] {
			return errs.InvalidSchema(m.Name, "duplicate member on enum %s", e.FullName())
		}
		seen[m.Name] = true
	}
	st.enums[e.FullName()] = e
	if _, taken := st.enums[e.Name]; !taken {
		st.enums[e.Name] = e
	}
	st.enumOrder = append(st.enumOrder, e)
	return nil
}

func (st *registryState) addComplex(c *ComplexType) error {
	if c.Name == "" {
		return errs.InvalidSchema("", "complex type name is empty")
	}
	if _, dup := st.complexes[c.FullName()]; dup {
		return errs.InvalidSchema(c.Name, "complex type %s already registered", c.FullName())
	}
	st.complexes[c.FullName()] = c
	if _, taken := st.complexes[c.Name]; !taken {
		st.complexes[c.Name] = c
	}
	st.complexOrder = append(st.complexOrder, c)
	return nil
}

// resolve checks that every type reference points at a registered type.
func (st *registryState) resolve() error {
	check := func(owner string, p Property) error {
		switch p.Kind {
		case KindNavigation:
			if _, ok := st.entities[p.Type]; !ok {
				return errs.InvalidSchema(p.Name, "navigation target %s of %s is not registered", p.Type, owner)
			}
		case KindEnum:
			if _, ok := st.enums[p.Type]; !ok {
				return errs.InvalidSchema(p.Name, "enum type %s of %s is not registered", p.Type, owner)
			}
		case KindComplex:
			if _, ok := st.complexes[p.Type]; !ok {
				return errs.InvalidSchema(p.Name, "complex type %s of %s is not registered", p.Type, owner)
			}
		}
		return nil
	}

	for _, et := range st.entityOrder {
		for _, p := range et.def.Properties {
			if err := check(et.Name(), p); err != nil {
				return err
			}
		}
	}
	for _, c := range st.complexOrder {
		for _, p := range c.Properties {
			if p.IsNavigation() {
				return errs.InvalidSchema(p.Name, "complex type %s cannot hold navigation properties", c.Name)
			}
			if err := check(c.Name, p); err != nil {
				return err
			}
		}
	}
	return nil
}
