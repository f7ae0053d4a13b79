package entity

import (
	"context"
	"fmt"
	"slices"

	"github.com/roach88/odatalink/internal/edm"
	"github.com/roach88/odatalink/internal/errs"
)

// NavLoader fetches the related entities behind an unexpanded navigation
// property.
type NavLoader interface {
	LoadNavigation(ctx context.Context, e *Entity, prop edm.Property) ([]*Entity, error)
}

// NavLoaderFunc adapts a function to NavLoader.
type NavLoaderFunc func(ctx context.Context, e *Entity, prop edm.Property) ([]*Entity, error)

func (f NavLoaderFunc) LoadNavigation(ctx context.Context, e *Entity, prop edm.Property) ([]*Entity, error) {
	return f(ctx, e, prop)
}

// SetLoader replaces the navigation loader.
func (e *Entity) SetLoader(l NavLoader) { e.loader = l }

// CacheNavigation stores related entities for a navigation property, as
// delivered by $expand. A nil slice records an empty relation.
func (e *Entity) CacheNavigation(name string, related []*Entity) error {
	p, err := e.navigation(name)
	if err != nil {
		return err
	}
	if !p.Collection && len(related) > 1 {
		return errs.Materialization(name, "single-valued navigation received %d entities", len(related))
	}
	e.nav[name] = slices.Clip(related)
	return nil
}

// NavigationLoaded reports whether the related entities for name are cached.
func (e *Entity) NavigationLoaded(name string) bool {
	_, ok := e.nav[name]
	return ok
}

// Related returns the entity behind a single-valued navigation property, or
// nil when there is none. Unexpanded navigation is fetched through the
// loader on first access and cached on the instance.
func (e *Entity) Related(ctx context.Context, name string) (*Entity, error) {
	p, err := e.navigation(name)
	if err != nil {
		return nil, err
	}
	if p.Collection {
		return nil, errs.InvalidValue(name, "collection navigation; use RelatedSet")
	}
	if bound, ok := e.binds[name]; ok {
		return bound[0], nil
	}
	related, err := e.fetch(ctx, p)
	if err != nil || len(related) == 0 {
		return nil, err
	}
	return related[0], nil
}

// RelatedSet returns the entities behind a collection navigation property,
// fetching and caching them on first access.
func (e *Entity) RelatedSet(ctx context.Context, name string) ([]*Entity, error) {
	p, err := e.navigation(name)
	if err != nil {
		return nil, err
	}
	if !p.Collection {
		return nil, errs.InvalidValue(name, "single-valued navigation; use Related")
	}
	related, err := e.fetch(ctx, p)
	if err != nil {
		return nil, err
	}
	return slices.Clone(related), nil
}

func (e *Entity) fetch(ctx context.Context, p edm.Property) ([]*Entity, error) {
	if cached, ok := e.nav[p.Name]; ok {
		return cached, nil
	}
	if e.Is(StateNew) || e.Is(StateTransient) {
		return nil, nil
	}
	if e.loader == nil {
		return nil, errs.InvalidState("%s.%s is not expanded and no loader is attached", e.typ.Name(), p.Name)
	}
	related, err := e.loader.LoadNavigation(ctx, e, p)
	if err != nil {
		return nil, fmt.Errorf("load %s.%s: %w", e.typ.Name(), p.Name, err)
	}
	e.nav[p.Name] = related
	return related, nil
}

// SetRelated binds a related entity to a single-valued navigation property.
// The binding is sent as Nav@odata.bind on the next save. The target must
// be addressable, so it cannot be new.
func (e *Entity) SetRelated(name string, target *Entity) error {
	p, err := e.bindable(name, target)
	if err != nil {
		return err
	}
	if p.Collection {
		return errs.InvalidValue(name, "collection navigation; use AddRelated")
	}
	e.bind(name, []*Entity{target})
	e.nav[name] = []*Entity{target}
	return e.markDirty()
}

// AddRelated binds one more entity to a collection navigation property. All
// entities added since the last save are sent together as a list in
// Nav@odata.bind. Adding the same entity twice has no effect.
func (e *Entity) AddRelated(name string, target *Entity) error {
	p, err := e.bindable(name, target)
	if err != nil {
		return err
	}
	if !p.Collection {
		return errs.InvalidValue(name, "single-valued navigation; use SetRelated")
	}
	if slices.Contains(e.binds[name], target) {
		return nil
	}
	e.bind(name, append(e.binds[name], target))
	if cached, ok := e.nav[name]; (ok || e.Is(StateNew)) && !slices.Contains(cached, target) {
		e.nav[name] = append(slices.Clip(cached), target)
	}
	return e.markDirty()
}

func (e *Entity) bindable(name string, target *Entity) (edm.Property, error) {
	if err := e.checkMutable(); err != nil {
		return edm.Property{}, err
	}
	p, err := e.navigation(name)
	if err != nil {
		return edm.Property{}, err
	}
	if target == nil {
		return edm.Property{}, errs.InvalidValue(name, "bind target is nil")
	}
	if target.typ.FullName() != p.Type && target.typ.Name() != edm.ShortName(p.Type) {
		return edm.Property{}, errs.InvalidValue(name, "expects %s, got %s", p.Type, target.typ.FullName())
	}
	if target.Is(StateNew) || target.Is(StateTransient) {
		return edm.Property{}, errs.InvalidState("bind target %s has not been saved", target.typ.Name())
	}
	return p, nil
}

func (e *Entity) bind(name string, targets []*Entity) {
	if e.binds == nil {
		e.binds = make(map[string][]*Entity)
	}
	if _, ok := e.binds[name]; !ok {
		e.bindOrder = append(e.bindOrder, name)
	}
	e.binds[name] = targets
}

func (e *Entity) navigation(name string) (edm.Property, error) {
	p, ok := e.typ.Property(name)
	if !ok {
		return edm.Property{}, errs.InvalidValue(name, "%s has no property %q", e.typ.Name(), name)
	}
	if !p.IsNavigation() {
		return edm.Property{}, errs.InvalidValue(name, "%s is not a navigation property", name)
	}
	return p, nil
}
