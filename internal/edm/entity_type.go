package edm

import (
	"slices"

	"github.com/roach88/odatalink/internal/errs"
)

// EntityType is the validated, immutable form of an EntityTypeDef.
//
// Properties keep their declaration order; every accessor returns copies so
// callers cannot mutate a registered type.
type EntityType struct {
	def   EntityTypeDef
	index map[string]int
	keys  []int
}

// NewEntityType validates def and builds an EntityType.
//
// Returns an INVALID_SCHEMA error when property names repeat, a key property
// is nullable, multi-valued or not primitive, or an addressable type (one
// with an entity set) has no key.
func NewEntityType(def EntityTypeDef) (*EntityType, error) {
	if def.Name == "" {
		return nil, errs.InvalidSchema("", "entity type name is empty")
	}

	et := &EntityType{
		def:   cloneDef(def),
		index: make(map[string]int, len(def.Properties)),
	}

	for i, p := range et.def.Properties {
		if p.Name == "" {
			return nil, errs.InvalidSchema(def.Name, "property %d has no name", i)
		}
		if _, dup := et.index[p.Name]; dup {
			return nil, errs.InvalidSchema(p.Name, "duplicate property on %s", def.Name)
		}
		if err := checkProperty(def.Name, p); err != nil {
			return nil, err
		}
		et.index[p.Name] = i
		if p.Key {
			et.keys = append(et.keys, i)
		}
	}

	for _, p := range et.def.Properties {
		if err := et.checkForeignKey(p); err != nil {
			return nil, err
		}
	}

	if def.EntitySet != "" && len(et.keys) == 0 {
		return nil, errs.InvalidSchema(def.Name, "entity set %s requires a key", def.EntitySet)
	}

	return et, nil
}

// MustEntityType is like NewEntityType but panics on error.
// Intended for generated schema code.
func MustEntityType(def EntityTypeDef) *EntityType {
	et, err := NewEntityType(def)
	if err != nil {
		panic(err)
	}
	return et
}

func checkProperty(owner string, p Property) error {
	switch p.Kind {
	case KindPrimitive:
		if !IsPrimitive(p.Type) {
			return errs.InvalidSchema(p.Name, "unknown primitive type %q on %s", p.Type, owner)
		}
	case KindEnum, KindComplex, KindNavigation:
		if p.Type == "" {
			return errs.InvalidSchema(p.Name, "%s property on %s has no type", p.Kind, owner)
		}
	default:
		return errs.InvalidSchema(p.Name, "unknown property kind %q on %s", p.Kind, owner)
	}

	if p.Key {
		if p.Nullable {
			return errs.InvalidSchema(p.Name, "key property of %s cannot be nullable", owner)
		}
		if p.Collection {
			return errs.InvalidSchema(p.Name, "key property of %s cannot be a collection", owner)
		}
		if p.Kind != KindPrimitive && p.Kind != KindEnum {
			return errs.InvalidSchema(p.Name, "key property of %s must be primitive", owner)
		}
	}
	return nil
}

func (et *EntityType) checkForeignKey(p Property) error {
	if p.ForeignKey == "" {
		return nil
	}
	if p.Kind != KindNavigation || p.Collection {
		return errs.InvalidSchema(p.Name, "foreign key on %s requires a single-valued navigation", et.def.Name)
	}
	i, ok := et.index[p.ForeignKey]
	if !ok {
		return errs.InvalidSchema(p.Name, "foreign key %s is not a property of %s", p.ForeignKey, et.def.Name)
	}
	if fk := et.def.Properties[i]; fk.Kind != KindPrimitive || fk.Collection {
		return errs.InvalidSchema(p.Name, "foreign key %s of %s must be a primitive property", p.ForeignKey, et.def.Name)
	}
	return nil
}

func cloneDef(def EntityTypeDef) EntityTypeDef {
	def.Properties = slices.Clone(def.Properties)
	return def
}

// Name returns the short type name.
func (et *EntityType) Name() string { return et.def.Name }

// Namespace returns the schema namespace.
func (et *EntityType) Namespace() string { return et.def.Namespace }

// FullName returns the namespace-qualified type name.
func (et *EntityType) FullName() string { return qualify(et.def.Namespace, et.def.Name) }

// EntitySet returns the entity set exposing this type, or "".
func (et *EntityType) EntitySet() string { return et.def.EntitySet }

// Def returns a copy of the definition the type was built from.
func (et *EntityType) Def() EntityTypeDef { return cloneDef(et.def) }

// Properties returns all properties in declaration order.
func (et *EntityType) Properties() []Property {
	return slices.Clone(et.def.Properties)
}

// Property looks up a property by name.
func (et *EntityType) Property(name string) (Property, bool) {
	i, ok := et.index[name]
	if !ok {
		return Property{}, false
	}
	return et.def.Properties[i], true
}

// HasProperty reports whether name is declared on the type.
func (et *EntityType) HasProperty(name string) bool {
	_, ok := et.index[name]
	return ok
}

// Keys returns the key properties in declaration order.
func (et *EntityType) Keys() []Property {
	keys := make([]Property, len(et.keys))
	for i, idx := range et.keys {
		keys[i] = et.def.Properties[idx]
	}
	return keys
}

// KeyNames returns the names of the key properties in declaration order.
func (et *EntityType) KeyNames() []string {
	names := make([]string, len(et.keys))
	for i, idx := range et.keys {
		names[i] = et.def.Properties[idx].Name
	}
	return names
}

// Navigations returns the navigation properties in declaration order.
func (et *EntityType) Navigations() []Property {
	var navs []Property
	for _, p := range et.def.Properties {
		if p.IsNavigation() {
			navs = append(navs, p)
		}
	}
	return navs
}

// Structural returns the non-navigation properties in declaration order.
func (et *EntityType) Structural() []Property {
	var props []Property
	for _, p := range et.def.Properties {
		if !p.IsNavigation() {
			props = append(props, p)
		}
	}
	return props
}
