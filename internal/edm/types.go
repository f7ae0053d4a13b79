package edm

import (
	"fmt"
	"strings"
)

// Primitive type names.
const (
	Binary         = "Edm.Binary"
	Boolean        = "Edm.Boolean"
	Byte           = "Edm.Byte"
	SByte          = "Edm.SByte"
	Int16          = "Edm.Int16"
	Int32          = "Edm.Int32"
	Int64          = "Edm.Int64"
	Single         = "Edm.Single"
	Double         = "Edm.Double"
	Decimal        = "Edm.Decimal"
	String         = "Edm.String"
	Guid           = "Edm.Guid"
	Date           = "Edm.Date"
	DateTimeOffset = "Edm.DateTimeOffset"
	TimeOfDay      = "Edm.TimeOfDay"
	Duration       = "Edm.Duration"
)

// IsPrimitive reports whether typ names a primitive type.
func IsPrimitive(typ string) bool {
	switch typ {
	case Binary, Boolean, Byte, SByte, Int16, Int32, Int64, Single, Double,
		Decimal, String, Guid, Date, DateTimeOffset, TimeOfDay, Duration:
		return true
	}
	return false
}

// IsIntegral reports whether typ is one of the integer types.
func IsIntegral(typ string) bool {
	switch typ {
	case Byte, SByte, Int16, Int32, Int64:
		return true
	}
	return false
}

// IsNumeric reports whether typ is an integer, floating or decimal type.
func IsNumeric(typ string) bool {
	return IsIntegral(typ) || typ == Single || typ == Double || typ == Decimal
}

// Kind classifies a property.
type Kind string

const (
	KindPrimitive  Kind = "primitive"
	KindEnum       Kind = "enum"
	KindComplex    Kind = "complex"
	KindNavigation Kind = "navigation"
)

// Property describes one property of an entity or complex type.
type Property struct {
	Name string `json:"name" yaml:"name"`
	Kind Kind   `json:"kind" yaml:"kind"`

	// Type is the primitive type name for primitives, the qualified type
	// name for enums and complex types, and the target entity type name
	// for navigation properties.
	Type string `json:"type" yaml:"type"`

	Collection bool `json:"collection,omitempty" yaml:"collection,omitempty"`
	Key        bool `json:"key,omitempty" yaml:"key,omitempty"`
	Nullable   bool `json:"nullable,omitempty" yaml:"nullable,omitempty"`
	Computed   bool `json:"computed,omitempty" yaml:"computed,omitempty"`

	// Default is the wire value assumed when a record omits the property.
	Default any `json:"default,omitempty" yaml:"default,omitempty"`

	// ForeignKey names the structural property of the owning type that
	// holds the key of a single-valued navigation target.
	ForeignKey string `json:"foreign_key,omitempty" yaml:"foreign_key,omitempty"`
}

// IsNavigation reports whether p refers to related entities.
func (p Property) IsNavigation() bool {
	return p.Kind == KindNavigation
}

// HasDefault reports whether p declares a default value.
func (p Property) HasDefault() bool {
	return p.Default != nil
}

// String renders the property as "Name Type", with Collection(...) for collections.
func (p Property) String() string {
	if p.Collection {
		return fmt.Sprintf("%s Collection(%s)", p.Name, p.Type)
	}
	return fmt.Sprintf("%s %s", p.Name, p.Type)
}

// PropertyOption adjusts a Property built by Prim, EnumProp, ComplexProp or Nav.
type PropertyOption func(*Property)

// AsKey marks the property as part of the entity key.
func AsKey() PropertyOption {
	return func(p *Property) { p.Key = true }
}

// AsNullable marks the property as nullable.
func AsNullable() PropertyOption {
	return func(p *Property) { p.Nullable = true }
}

// AsComputed marks the property as server-computed; it is never sent on writes.
func AsComputed() PropertyOption {
	return func(p *Property) { p.Computed = true }
}

// AsCollection marks the property as multi-valued.
func AsCollection() PropertyOption {
	return func(p *Property) { p.Collection = true }
}

// WithDefault sets the wire value assumed when a record omits the property.
func WithDefault(v any) PropertyOption {
	return func(p *Property) { p.Default = v }
}

// WithForeignKey names the property holding the key of a navigation target.
func WithForeignKey(name string) PropertyOption {
	return func(p *Property) { p.ForeignKey = name }
}

func build(name string, kind Kind, typ string, opts []PropertyOption) Property {
	p := Property{Name: name, Kind: kind, Type: typ}
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

// Prim builds a primitive property.
func Prim(name, typ string, opts ...PropertyOption) Property {
	return build(name, KindPrimitive, typ, opts)
}

// EnumProp builds an enum-typed property.
func EnumProp(name, enumType string, opts ...PropertyOption) Property {
	return build(name, KindEnum, enumType, opts)
}

// ComplexProp builds a complex-typed property.
func ComplexProp(name, complexType string, opts ...PropertyOption) Property {
	return build(name, KindComplex, complexType, opts)
}

// Nav builds a navigation property to the named entity type.
// Navigation properties are always nullable.
func Nav(name, target string, opts ...PropertyOption) Property {
	p := build(name, KindNavigation, target, opts)
	p.Nullable = true
	return p
}

// EntityTypeDef is the serializable definition of an entity type.
type EntityTypeDef struct {
	Name       string     `json:"name" yaml:"name"`
	Namespace  string     `json:"namespace,omitempty" yaml:"namespace,omitempty"`
	EntitySet  string     `json:"entity_set,omitempty" yaml:"entity_set,omitempty"`
	Properties []Property `json:"properties" yaml:"properties"`
}

// EnumMember is one named value of an enum type.
type EnumMember struct {
	Name  string `json:"name" yaml:"name"`
	Value int64  `json:"value" yaml:"value"`
}

// EnumType is a closed set of named integral values.
type EnumType struct {
	Name      string       `json:"name" yaml:"name"`
	Namespace string       `json:"namespace,omitempty" yaml:"namespace,omitempty"`
	Members   []EnumMember `json:"members" yaml:"members"`
	IsFlags   bool         `json:"is_flags,omitempty" yaml:"is_flags,omitempty"`
}

// FullName returns the namespace-qualified name.
func (e *EnumType) FullName() string {
	return qualify(e.Namespace, e.Name)
}

// Member looks up a member by name.
func (e *EnumType) Member(name string) (EnumMember, bool) {
	for _, m := range e.Members {
		if m.Name == name {
			return m, true
		}
	}
	return EnumMember{}, false
}

// MemberByValue looks up a member by its integral value.
func (e *EnumType) MemberByValue(v int64) (EnumMember, bool) {
	for _, m := range e.Members {
		if m.Value == v {
			return m, true
		}
	}
	return EnumMember{}, false
}

// Value builds the EnumValue for the named member.
func (e *EnumType) Value(member string) (EnumValue, error) {
	m, ok := e.Member(member)
	if !ok {
		return EnumValue{}, fmt.Errorf("enum %s has no member %q", e.FullName(), member)
	}
	return EnumValue{Type: e.FullName(), Member: m.Name, Value: m.Value}, nil
}

// EnumValue is a materialized enum member.
type EnumValue struct {
	Type   string
	Member string
	Value  int64
}

// String returns the member name.
func (v EnumValue) String() string {
	return v.Member
}

// ComplexType is a structured, keyless value type.
type ComplexType struct {
	Name       string     `json:"name" yaml:"name"`
	Namespace  string     `json:"namespace,omitempty" yaml:"namespace,omitempty"`
	Properties []Property `json:"properties" yaml:"properties"`
}

// FullName returns the namespace-qualified name.
func (c *ComplexType) FullName() string {
	return qualify(c.Namespace, c.Name)
}

// Property looks up a property by name.
func (c *ComplexType) Property(name string) (Property, bool) {
	for _, p := range c.Properties {
		if p.Name == name {
			return p, true
		}
	}
	return Property{}, false
}

// Schema is the neutral description of a service's data model.
type Schema struct {
	Namespace    string          `json:"namespace" yaml:"namespace"`
	EntityTypes  []EntityTypeDef `json:"entity_types" yaml:"entity_types"`
	Enums        []EnumType      `json:"enums,omitempty" yaml:"enums,omitempty"`
	ComplexTypes []ComplexType   `json:"complex_types,omitempty" yaml:"complex_types,omitempty"`
}

func qualify(namespace, name string) string {
	if namespace == "" {
		return name
	}
	return namespace + "." + name
}

// ShortName strips the namespace from a qualified type name.
func ShortName(qualified string) string {
	if i := strings.LastIndex(qualified, "."); i >= 0 {
		return qualified[i+1:]
	}
	return qualified
}
