package expr

import (
	"slices"
	"strings"

	"github.com/roach88/odatalink/internal/edm"
)

// Handle references a property of an entity type, optionally through a
// chain of navigation or complex properties.
//
// A Handle is stateless: it names a path, it does not hold values. Handles
// are normally generated alongside the schema; Field builds one by hand.
//
//	expr.Field(OrderType, "Employee").Field("City")   // Employee/City
type Handle struct {
	root *edm.EntityType
	path []string
}

func (Handle) operand() {}

// Field returns a handle for the named property of et.
func Field(et *edm.EntityType, name string) Handle {
	return Handle{root: et, path: []string{name}}
}

// Path returns a handle for a multi-segment property path rooted at et.
func Path(et *edm.EntityType, segments ...string) Handle {
	return Handle{root: et, path: slices.Clone(segments)}
}

// Field extends the path with a property of the type h refers to.
func (h Handle) Field(name string) Handle {
	return Handle{root: h.root, path: append(slices.Clip(h.path), name)}
}

// Root returns the entity type the path starts at.
func (h Handle) Root() *edm.EntityType { return h.root }

// Segments returns a copy of the path segments.
func (h Handle) Segments() []string { return slices.Clone(h.path) }

// Name returns the last path segment.
func (h Handle) Name() string {
	if len(h.path) == 0 {
		return ""
	}
	return h.path[len(h.path)-1]
}

// String returns the path joined with '/'.
func (h Handle) String() string {
	return strings.Join(h.path, "/")
}

// IsZero reports whether h was never initialized.
func (h Handle) IsZero() bool {
	return h.root == nil && len(h.path) == 0
}

// Eq builds "h eq v". v may be a Go value or another Operand.
func (h Handle) Eq(v any) Node { return compare(h, OpEq, v) }

// Ne builds "h ne v".
func (h Handle) Ne(v any) Node { return compare(h, OpNe, v) }

// Gt builds "h gt v".
func (h Handle) Gt(v any) Node { return compare(h, OpGt, v) }

// Ge builds "h ge v".
func (h Handle) Ge(v any) Node { return compare(h, OpGe, v) }

// Lt builds "h lt v".
func (h Handle) Lt(v any) Node { return compare(h, OpLt, v) }

// Le builds "h le v".
func (h Handle) Le(v any) Node { return compare(h, OpLe, v) }

// In builds "h in (v1,v2,...)".
func (h Handle) In(values ...any) Node {
	return Comparison{Op: OpIn, Left: h, Right: Literal{Value: slices.Clone(values)}}
}

// IsNull builds "h eq null".
func (h Handle) IsNull() Node { return compare(h, OpEq, nil) }

// NotNull builds "h ne null".
func (h Handle) NotNull() Node { return compare(h, OpNe, nil) }

// Contains builds "contains(h, v)".
func (h Handle) Contains(v any) Node { return call("contains", h, v) }

// StartsWith builds "startswith(h, v)".
func (h Handle) StartsWith(v any) Node { return call("startswith", h, v) }

// EndsWith builds "endswith(h, v)".
func (h Handle) EndsWith(v any) Node { return call("endswith", h, v) }

// Lacks builds "not (contains(h, v))".
func (h Handle) Lacks(v any) Node { return Not(call("contains", h, v)) }

// ToLower returns the value function tolower(h).
func (h Handle) ToLower() Call { return Call{Name: "tolower", Args: []Operand{h}} }

// ToUpper returns the value function toupper(h).
func (h Handle) ToUpper() Call { return Call{Name: "toupper", Args: []Operand{h}} }

// Trim returns the value function trim(h).
func (h Handle) Trim() Call { return Call{Name: "trim", Args: []Operand{h}} }

// Length returns the value function length(h).
func (h Handle) Length() Call { return Call{Name: "length", Args: []Operand{h}} }

// Year returns the value function year(h).
func (h Handle) Year() Call { return Call{Name: "year", Args: []Operand{h}} }

// Month returns the value function month(h).
func (h Handle) Month() Call { return Call{Name: "month", Args: []Operand{h}} }

// Day returns the value function day(h).
func (h Handle) Day() Call { return Call{Name: "day", Args: []Operand{h}} }

// Round returns the value function round(h).
func (h Handle) Round() Call { return Call{Name: "round", Args: []Operand{h}} }

// Floor returns the value function floor(h).
func (h Handle) Floor() Call { return Call{Name: "floor", Args: []Operand{h}} }

// Ceiling returns the value function ceiling(h).
func (h Handle) Ceiling() Call { return Call{Name: "ceiling", Args: []Operand{h}} }

// Any builds "h/any(v: pred)" for a collection navigation. pred is built
// from handles rooted at the navigation target.
func (h Handle) Any(pred Node) Node { return lambda(LambdaAny, h, pred) }

// All builds "h/all(v: pred)".
func (h Handle) All(pred Node) Node { return lambda(LambdaAll, h, pred) }

// Asc orders ascending by h.
func (h Handle) Asc() OrderKey { return OrderKey{Handle: h} }

// Desc orders descending by h.
func (h Handle) Desc() OrderKey { return OrderKey{Handle: h, Desc: true} }

// Eq builds "c eq v" for a value function.
func (c Call) Eq(v any) Node { return compare(c, OpEq, v) }

// Ne builds "c ne v".
func (c Call) Ne(v any) Node { return compare(c, OpNe, v) }

// Gt builds "c gt v".
func (c Call) Gt(v any) Node { return compare(c, OpGt, v) }

// Ge builds "c ge v".
func (c Call) Ge(v any) Node { return compare(c, OpGe, v) }

// Lt builds "c lt v".
func (c Call) Lt(v any) Node { return compare(c, OpLt, v) }

// Le builds "c le v".
func (c Call) Le(v any) Node { return compare(c, OpLe, v) }

// Contains builds "contains(c, v)".
func (c Call) Contains(v any) Node { return call("contains", c, v) }

// StartsWith builds "startswith(c, v)".
func (c Call) StartsWith(v any) Node { return call("startswith", c, v) }

// EndsWith builds "endswith(c, v)".
func (c Call) EndsWith(v any) Node { return call("endswith", c, v) }

func compare(left Operand, op Op, v any) Node {
	return Comparison{Op: op, Left: left, Right: operandOf(v)}
}

func call(name string, subject Operand, v any) Node {
	return Call{Name: name, Args: []Operand{subject, operandOf(v)}}
}

func lambda(op LambdaOp, h Handle, pred Node) Node {
	return Lambda{Op: op, Path: h, Var: strings.ToLower(h.Name()), Predicate: pred}
}

// OrderKey is one $orderby entry.
type OrderKey struct {
	Handle Handle
	Desc   bool
}

// Direction returns "asc" or "desc".
func (k OrderKey) Direction() string {
	if k.Desc {
		return "desc"
	}
	return "asc"
}
