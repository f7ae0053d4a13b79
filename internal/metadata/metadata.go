// Package metadata reads a service's CSDL $metadata document into the
// neutral schema form of package edm.
//
// Both the v4 document shape (typed NavigationProperty, Core.Computed
// annotations) and the v2/v3 shape (associations, StoreGeneratedPattern)
// are understood. Types the client cannot represent, such as geography
// and stream properties, are left out and listed in Document.Skipped.
package metadata

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/goccy/go-json"

	"github.com/roach88/odatalink/internal/edm"
	"github.com/roach88/odatalink/internal/errs"
	"github.com/roach88/odatalink/internal/literal"
)

// Document is a parsed metadata document.
type Document struct {
	// Version is the protocol version the service speaks.
	Version *semver.Version

	// Dialect is the literal grammar that goes with Version.
	Dialect literal.Dialect

	Schema *edm.Schema

	// Skipped lists "Type.Property" entries whose type is not supported.
	Skipped []string
}

// v4 is the first protocol version with the v4 literal grammar.
var v4 = semver.MustParse("4.0")

// Parse reads a CSDL document and returns its schema.
func Parse(r io.Reader) (*edm.Schema, error) {
	doc, err := ParseDocument(r)
	if err != nil {
		return nil, err
	}
	return doc.Schema, nil
}

// ParseDocument reads a CSDL document.
func ParseDocument(r io.Reader) (*Document, error) {
	var x xmlEdmx
	if err := xml.NewDecoder(r).Decode(&x); err != nil {
		return nil, errs.InvalidSchema("", "parse metadata: %v", err)
	}
	if len(x.DataServices.Schemas) == 0 {
		return nil, errs.InvalidSchema("", "metadata document has no schema")
	}

	version, err := protocolVersion(x)
	if err != nil {
		return nil, err
	}
	p := newParser(x.DataServices.Schemas)
	schema, err := p.schema()
	if err != nil {
		return nil, err
	}
	return &Document{
		Version: version,
		Dialect: DialectFor(version),
		Schema:  schema,
		Skipped: p.skipped,
	}, nil
}

// DialectFor returns the literal grammar of a protocol version.
func DialectFor(v *semver.Version) literal.Dialect {
	if v == nil || !v.LessThan(v4) {
		return literal.V4
	}
	return literal.V3
}

// ParseVersion parses a protocol version such as "4.0" or "3.0".
func ParseVersion(s string) (*semver.Version, error) {
	v, err := semver.NewVersion(s)
	if err != nil {
		return nil, errs.InvalidSchema("Version", "invalid protocol version %q: %v", s, err)
	}
	return v, nil
}

// protocolVersion reads the edmx Version of a v4 document, or the
// DataServiceVersion of an older one.
func protocolVersion(x xmlEdmx) (*semver.Version, error) {
	raw := x.Version
	if ds := x.DataServices.DataServiceVersion; ds != "" {
		if v, err := semver.NewVersion(raw); err != nil || v.LessThan(v4) {
			raw = ds
		}
	}
	if raw == "" {
		return nil, errs.InvalidSchema("Version", "metadata document has no version")
	}
	return ParseVersion(raw)
}

type qualifiedEntity struct {
	namespace string
	def       xmlEntityType
}

type qualifiedComplex struct {
	namespace string
	def       xmlComplexType
}

type parser struct {
	schemas []xmlSchema
	aliases map[string]string

	entities     map[string]qualifiedEntity
	complexes    map[string]qualifiedComplex
	enums        map[string]bool
	associations map[string]xmlAssociation
	sets         map[string]string
	computed     map[string]bool

	skipped []string
}

func newParser(schemas []xmlSchema) *parser {
	p := &parser{
		schemas:      schemas,
		aliases:      make(map[string]string),
		entities:     make(map[string]qualifiedEntity),
		complexes:    make(map[string]qualifiedComplex),
		enums:        make(map[string]bool),
		associations: make(map[string]xmlAssociation),
		sets:         make(map[string]string),
		computed:     make(map[string]bool),
	}
	for _, s := range schemas {
		if s.Alias != "" {
			p.aliases[s.Alias] = s.Namespace
		}
	}
	for _, s := range schemas {
		for _, et := range s.EntityTypes {
			p.entities[s.Namespace+"."+et.Name] = qualifiedEntity{s.Namespace, et}
		}
		for _, ct := range s.ComplexTypes {
			p.complexes[s.Namespace+"."+ct.Name] = qualifiedComplex{s.Namespace, ct}
		}
		for _, en := range s.EnumTypes {
			p.enums[s.Namespace+"."+en.Name] = true
		}
		for _, a := range s.Associations {
			p.associations[s.Namespace+"."+a.Name] = a
		}
		for _, c := range s.Containers {
			for _, set := range c.EntitySets {
				typ := p.qualify(set.EntityType)
				if _, dup := p.sets[typ]; !dup {
					p.sets[typ] = set.Name
				}
			}
		}
		for _, a := range s.Annotations {
			if hasComputed(a.Annotations) {
				p.computed[p.qualify(a.Target)] = true
			}
		}
	}
	return p
}

// qualify replaces a schema alias prefix with the namespace it stands for.
func (p *parser) qualify(name string) string {
	if i := strings.Index(name, "."); i > 0 {
		if ns, ok := p.aliases[name[:i]]; ok {
			return ns + name[i:]
		}
	}
	return name
}

func (p *parser) schema() (*edm.Schema, error) {
	out := &edm.Schema{}
	for _, s := range p.schemas {
		if out.Namespace == "" && (len(s.EntityTypes) > 0 || len(s.ComplexTypes) > 0) {
			out.Namespace = s.Namespace
		}
		for _, en := range s.EnumTypes {
			e, err := enumType(s.Namespace, en)
			if err != nil {
				return nil, err
			}
			out.Enums = append(out.Enums, e)
		}
		for _, ct := range s.ComplexTypes {
			props, err := p.complexProperties(s.Namespace+"."+ct.Name, 0)
			if err != nil {
				return nil, err
			}
			out.ComplexTypes = append(out.ComplexTypes, edm.ComplexType{
				Name:       ct.Name,
				Namespace:  s.Namespace,
				Properties: props,
			})
		}
		for _, et := range s.EntityTypes {
			def, err := p.entityType(s.Namespace, et)
			if err != nil {
				return nil, err
			}
			out.EntityTypes = append(out.EntityTypes, def)
		}
	}
	return out, nil
}

func enumType(namespace string, x xmlEnumType) (edm.EnumType, error) {
	e := edm.EnumType{Name: x.Name, Namespace: namespace, IsFlags: x.IsFlags == "true"}
	next := int64(0)
	for _, m := range x.Members {
		v := next
		if m.Value != "" {
			n, err := strconv.ParseInt(m.Value, 10, 64)
			if err != nil {
				return edm.EnumType{}, errs.InvalidSchema(x.Name, "member %s has invalid value %q", m.Name, m.Value)
			}
			v = n
		}
		e.Members = append(e.Members, edm.EnumMember{Name: m.Name, Value: v})
		next = v + 1
	}
	return e, nil
}

// maxDepth bounds BaseType chains.
const maxDepth = 32

func (p *parser) entityType(namespace string, x xmlEntityType) (edm.EntityTypeDef, error) {
	full := namespace + "." + x.Name
	props, err := p.entityProperties(full, 0)
	if err != nil {
		return edm.EntityTypeDef{}, err
	}
	return edm.EntityTypeDef{
		Name:       x.Name,
		Namespace:  namespace,
		EntitySet:  p.sets[full],
		Properties: props,
	}, nil
}

// entityProperties flattens the BaseType chain: inherited properties come
// first, keys are taken from the type that declares them.
func (p *parser) entityProperties(full string, depth int) ([]edm.Property, error) {
	if depth > maxDepth {
		return nil, errs.InvalidSchema(full, "base type chain too deep")
	}
	q, ok := p.entities[full]
	if !ok {
		return nil, errs.InvalidSchema(full, "unknown entity type")
	}

	var props []edm.Property
	if q.def.BaseType != "" {
		inherited, err := p.entityProperties(p.qualify(q.def.BaseType), depth+1)
		if err != nil {
			return nil, err
		}
		props = inherited
	}

	keys := make(map[string]bool, len(q.def.Key))
	for _, k := range q.def.Key {
		keys[k.Name] = true
	}
	for _, xp := range q.def.Properties {
		prop, ok, err := p.property(full, xp)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if keys[prop.Name] {
			prop.Key = true
			prop.Nullable = false
		}
		props = append(props, prop)
	}
	for _, xn := range q.def.Navigation {
		nav, err := p.navigation(full, xn)
		if err != nil {
			return nil, err
		}
		props = append(props, nav)
	}
	return props, nil
}

func (p *parser) complexProperties(full string, depth int) ([]edm.Property, error) {
	if depth > maxDepth {
		return nil, errs.InvalidSchema(full, "base type chain too deep")
	}
	q, ok := p.complexes[full]
	if !ok {
		return nil, errs.InvalidSchema(full, "unknown complex type")
	}
	var props []edm.Property
	if q.def.BaseType != "" {
		inherited, err := p.complexProperties(p.qualify(q.def.BaseType), depth+1)
		if err != nil {
			return nil, err
		}
		props = inherited
	}
	for _, xp := range q.def.Properties {
		prop, ok, err := p.property(full, xp)
		if err != nil {
			return nil, err
		}
		if ok {
			props = append(props, prop)
		}
	}
	return props, nil
}

// property converts a structural property. ok is false for types the
// client does not support.
func (p *parser) property(owner string, x xmlProperty) (edm.Property, bool, error) {
	typ, collection := unwrapCollection(x.Type)
	typ = p.qualify(typ)

	prop := edm.Property{
		Name:       x.Name,
		Type:       typ,
		Collection: collection,
		Nullable:   x.Nullable != "false",
		Computed: hasComputed(x.Annotations) ||
			p.computed[owner+"/"+x.Name] ||
			x.StoreGeneratedPattern == "Identity" ||
			x.StoreGeneratedPattern == "Computed",
	}

	switch {
	case p.enums[typ]:
		prop.Kind = edm.KindEnum
	case p.complexes[typ].def.Name != "":
		prop.Kind = edm.KindComplex
	default:
		mapped, ok := primitive(typ)
		if !ok {
			p.skipped = append(p.skipped, edm.ShortName(owner)+"."+x.Name)
			return edm.Property{}, false, nil
		}
		prop.Kind = edm.KindPrimitive
		prop.Type = mapped
	}

	if x.DefaultValue != "" {
		prop.Default = defaultValue(prop, x.DefaultValue)
	}
	return prop, true, nil
}

// primitive maps a CSDL primitive type to the supported set. The v2/v3
// Edm.DateTime and Edm.Time types map onto their v4 successors.
func primitive(typ string) (string, bool) {
	switch typ {
	case "Edm.DateTime":
		return edm.DateTimeOffset, true
	case "Edm.Time":
		return edm.Duration, true
	}
	return typ, edm.IsPrimitive(typ)
}

// defaultValue converts a DefaultValue attribute to the wire form the codec
// decodes.
func defaultValue(p edm.Property, raw string) any {
	switch {
	case p.Kind == edm.KindPrimitive && edm.IsNumeric(p.Type):
		return json.Number(raw)
	case p.Type == edm.Boolean:
		return raw == "true"
	}
	return raw
}

func (p *parser) navigation(owner string, x xmlNavigation) (edm.Property, error) {
	if x.Type != "" {
		typ, collection := unwrapCollection(x.Type)
		typ = p.qualify(typ)
		if _, ok := p.entities[typ]; !ok {
			return edm.Property{}, errs.InvalidSchema(x.Name, "%s: navigation target %s is not declared", owner, typ)
		}
		nav := edm.Nav(x.Name, typ)
		nav.Collection = collection
		if len(x.Constraints) == 1 && !collection {
			nav.ForeignKey = x.Constraints[0].Property
		}
		return nav, nil
	}

	assoc, ok := p.associations[p.qualify(x.Relationship)]
	if !ok {
		return edm.Property{}, errs.InvalidSchema(x.Name, "%s: unknown association %s", owner, x.Relationship)
	}
	for _, end := range assoc.Ends {
		if end.Role != x.ToRole {
			continue
		}
		nav := edm.Nav(x.Name, p.qualify(end.Type))
		nav.Collection = end.Multiplicity == "*"
		if c := assoc.Constraint; c != nil && !nav.Collection && c.Principal.Role == x.ToRole && len(c.Dependent.Refs) == 1 {
			nav.ForeignKey = c.Dependent.Refs[0].Name
		}
		return nav, nil
	}
	return edm.Property{}, errs.InvalidSchema(x.Name, "%s: association %s has no role %s", owner, x.Relationship, x.ToRole)
}

func unwrapCollection(typ string) (string, bool) {
	if inner, ok := strings.CutPrefix(typ, "Collection("); ok {
		return strings.TrimSuffix(inner, ")"), true
	}
	return typ, false
}

func hasComputed(as []xmlAnnotation) bool {
	for _, a := range as {
		if strings.HasSuffix(a.Term, "Core.Computed") || strings.HasSuffix(a.Term, "Core.V1.Computed") {
			return a.Bool != "false"
		}
	}
	return false
}

// String summarizes the document.
func (d *Document) String() string {
	return fmt.Sprintf("%s (protocol %s, %d entity types)", d.Schema.Namespace, d.Version, len(d.Schema.EntityTypes))
}
