// Package schemadef compiles hand-written CUE schema definitions into the
// neutral schema form of package edm.
//
// A definition file looks like:
//
//	namespace: "NorthwindModel"
//
//	enum: Priority: members: {Low: 0, Normal: 1, High: 2}
//
//	complex: Address: {
//		Street: {type: "Edm.String", nullable: true}
//		City:   {type: "Edm.String", nullable: true}
//	}
//
//	entity: Order: {
//		set: "Orders"
//		properties: {
//			OrderID:       {type: "Edm.Int32", key: true, computed: true}
//			ShipCity:      {type: "Edm.String", nullable: true}
//			Freight:       "Edm.Decimal"
//			Priority:      {enum: "Priority", default: "Normal"}
//			EmployeeID:    {type: "Edm.Int32", nullable: true}
//			Employee:      {nav: "Employee", foreign_key: "EmployeeID"}
//			Order_Details: {nav: "Order_Detail", collection: true}
//		}
//	}
//
// A property given as a bare string is a non-nullable primitive of that
// type. Enum, complex and navigation references without a namespace are
// qualified with the file's namespace. Field order is declaration order.
package schemadef

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"github.com/goccy/go-json"

	"github.com/roach88/odatalink/internal/edm"
	"github.com/roach88/odatalink/internal/errs"
)

// Compile converts a CUE value holding a schema definition into an
// edm.Schema.
func Compile(v cue.Value) (*edm.Schema, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	nsVal := v.LookupPath(cue.ParsePath("namespace"))
	if !nsVal.Exists() {
		return nil, &CompileError{Field: "namespace", Message: "namespace is required", Pos: v.Pos()}
	}
	ns, err := nsVal.String()
	if err != nil {
		return nil, formatCUEError(err)
	}

	c := compiler{namespace: ns}
	schema := &edm.Schema{Namespace: ns}

	if schema.Enums, err = c.enums(v.LookupPath(cue.ParsePath("enum"))); err != nil {
		return nil, err
	}
	if schema.ComplexTypes, err = c.complexes(v.LookupPath(cue.ParsePath("complex"))); err != nil {
		return nil, err
	}
	if schema.EntityTypes, err = c.entities(v.LookupPath(cue.ParsePath("entity"))); err != nil {
		return nil, err
	}
	if len(schema.EntityTypes) == 0 {
		return nil, &CompileError{Field: "entity", Message: "at least one entity type is required", Pos: v.Pos()}
	}
	return schema, nil
}

type compiler struct {
	namespace string
}

func (c compiler) qualify(name string) string {
	if strings.Contains(name, ".") {
		return name
	}
	return c.namespace + "." + name
}

func (c compiler) enums(v cue.Value) ([]edm.EnumType, error) {
	if !v.Exists() {
		return nil, nil
	}
	iter, err := v.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var out []edm.EnumType
	for iter.Next() {
		name := iter.Label()
		ev := iter.Value()
		e := edm.EnumType{Name: name, Namespace: c.namespace}

		if f := ev.LookupPath(cue.ParsePath("flags")); f.Exists() {
			if e.IsFlags, err = f.Bool(); err != nil {
				return nil, formatCUEError(err)
			}
		}

		members := ev.LookupPath(cue.ParsePath("members"))
		if !members.Exists() {
			return nil, &CompileError{
				Field:   fmt.Sprintf("enum.%s.members", name),
				Message: "enum members are required",
				Pos:     ev.Pos(),
			}
		}
		mIter, err := members.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for mIter.Next() {
			n, err := mIter.Value().Int64()
			if err != nil {
				return nil, formatCUEError(err)
			}
			e.Members = append(e.Members, edm.EnumMember{Name: mIter.Label(), Value: n})
		}
		out = append(out, e)
	}
	return out, nil
}

func (c compiler) complexes(v cue.Value) ([]edm.ComplexType, error) {
	if !v.Exists() {
		return nil, nil
	}
	iter, err := v.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var out []edm.ComplexType
	for iter.Next() {
		name := iter.Label()
		props, err := c.properties("complex."+name, iter.Value())
		if err != nil {
			return nil, err
		}
		out = append(out, edm.ComplexType{Name: name, Namespace: c.namespace, Properties: props})
	}
	return out, nil
}

func (c compiler) entities(v cue.Value) ([]edm.EntityTypeDef, error) {
	if !v.Exists() {
		return nil, nil
	}
	iter, err := v.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var out []edm.EntityTypeDef
	for iter.Next() {
		name := iter.Label()
		ev := iter.Value()
		def := edm.EntityTypeDef{Name: name, Namespace: c.namespace}

		if s := ev.LookupPath(cue.ParsePath("set")); s.Exists() {
			if def.EntitySet, err = s.String(); err != nil {
				return nil, formatCUEError(err)
			}
		}

		propsVal := ev.LookupPath(cue.ParsePath("properties"))
		if !propsVal.Exists() {
			return nil, &CompileError{
				Field:   fmt.Sprintf("entity.%s.properties", name),
				Message: "entity properties are required",
				Pos:     ev.Pos(),
			}
		}
		if def.Properties, err = c.properties("entity."+name, propsVal); err != nil {
			return nil, err
		}
		out = append(out, def)
	}
	return out, nil
}

func (c compiler) properties(owner string, v cue.Value) ([]edm.Property, error) {
	iter, err := v.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []edm.Property
	for iter.Next() {
		p, err := c.property(owner, iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// property accepts either a bare primitive type name or a struct with
// exactly one of type, enum, complex or nav plus optional flags.
func (c compiler) property(owner, name string, v cue.Value) (edm.Property, error) {
	field := owner + "." + name

	if s, err := v.String(); err == nil {
		if !edm.IsPrimitive(s) {
			return edm.Property{}, &CompileError{Field: field, Message: fmt.Sprintf("unknown primitive type %q", s), Pos: v.Pos()}
		}
		return edm.Prim(name, s), nil
	}
	if v.IncompleteKind() != cue.StructKind {
		return edm.Property{}, &CompileError{
			Field:   field,
			Message: fmt.Sprintf("property must be a type name or struct, got %v", v.IncompleteKind()),
			Pos:     v.Pos(),
		}
	}

	p := edm.Property{Name: name}
	kinds := 0
	for _, k := range []struct {
		label string
		kind  edm.Kind
	}{
		{"type", edm.KindPrimitive},
		{"enum", edm.KindEnum},
		{"complex", edm.KindComplex},
		{"nav", edm.KindNavigation},
	} {
		tv := v.LookupPath(cue.ParsePath(k.label))
		if !tv.Exists() {
			continue
		}
		typ, err := tv.String()
		if err != nil {
			return edm.Property{}, formatCUEError(err)
		}
		kinds++
		p.Kind = k.kind
		if k.kind == edm.KindPrimitive {
			p.Type = typ
		} else {
			p.Type = c.qualify(typ)
		}
	}
	if kinds != 1 {
		return edm.Property{}, &CompileError{
			Field:   field,
			Message: "property needs exactly one of type, enum, complex or nav",
			Pos:     v.Pos(),
		}
	}
	if p.Kind == edm.KindPrimitive && !edm.IsPrimitive(p.Type) {
		return edm.Property{}, &CompileError{Field: field, Message: fmt.Sprintf("unknown primitive type %q", p.Type), Pos: v.Pos()}
	}

	for label, dst := range map[string]*bool{
		"key":        &p.Key,
		"nullable":   &p.Nullable,
		"computed":   &p.Computed,
		"collection": &p.Collection,
	} {
		fv := v.LookupPath(cue.ParsePath(label))
		if !fv.Exists() {
			continue
		}
		b, err := fv.Bool()
		if err != nil {
			return edm.Property{}, formatCUEError(err)
		}
		*dst = b
	}
	if p.IsNavigation() {
		p.Nullable = true
	}

	if fv := v.LookupPath(cue.ParsePath("foreign_key")); fv.Exists() {
		if !p.IsNavigation() {
			return edm.Property{}, &CompileError{Field: field, Message: "foreign_key applies to navigation properties only", Pos: fv.Pos()}
		}
		fk, err := fv.String()
		if err != nil {
			return edm.Property{}, formatCUEError(err)
		}
		p.ForeignKey = fk
	}

	if dv := v.LookupPath(cue.ParsePath("default")); dv.Exists() {
		d, err := defaultValue(dv)
		if err != nil {
			return edm.Property{}, err
		}
		p.Default = d
	}
	return p, nil
}

// defaultValue converts a concrete CUE value to the JSON wire form the
// codec decodes. Numbers keep their literal spelling.
func defaultValue(v cue.Value) (any, error) {
	switch v.Kind() {
	case cue.StringKind:
		return v.String()
	case cue.BoolKind:
		return v.Bool()
	case cue.IntKind, cue.FloatKind, cue.NumberKind:
		b, err := v.MarshalJSON()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return json.Number(b), nil
	}
	return nil, &CompileError{
		Field:   "default",
		Message: fmt.Sprintf("default must be a concrete string, number or bool, got %v", v.Kind()),
		Pos:     v.Pos(),
	}
}

// CompileError is a definition error with its source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Unwrap exposes the error as INVALID_SCHEMA.
func (e *CompileError) Unwrap() error {
	return errs.InvalidSchema(e.Field, "%s", e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	list := errors.Errors(err)
	if len(list) == 0 {
		return err
	}
	first := list[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return &CompileError{Field: "cue", Message: first.Error()}
}
