package filter

import (
	"strings"

	"github.com/roach88/odatalink/internal/edm"
	"github.com/roach88/odatalink/internal/errs"
	"github.com/roach88/odatalink/internal/expr"
)

// argKind constrains a function argument.
type argKind int

const (
	argString argKind = iota
	argTemporal
	argNumeric
)

type function struct {
	args []argKind
	// result is the returned type; "" means the type of the first argument.
	result string
}

// Boolean functions usable as predicates.
var predicates = map[string]function{
	"contains":   {args: []argKind{argString, argString}, result: edm.Boolean},
	"startswith": {args: []argKind{argString, argString}, result: edm.Boolean},
	"endswith":   {args: []argKind{argString, argString}, result: edm.Boolean},
}

// Value functions usable as operands.
var values = map[string]function{
	"tolower": {args: []argKind{argString}, result: edm.String},
	"toupper": {args: []argKind{argString}, result: edm.String},
	"trim":    {args: []argKind{argString}, result: edm.String},
	"length":  {args: []argKind{argString}, result: edm.Int32},
	"year":    {args: []argKind{argTemporal}, result: edm.Int32},
	"month":   {args: []argKind{argTemporal}, result: edm.Int32},
	"day":     {args: []argKind{argTemporal}, result: edm.Int32},
	"hour":    {args: []argKind{argTemporal}, result: edm.Int32},
	"minute":  {args: []argKind{argTemporal}, result: edm.Int32},
	"second":  {args: []argKind{argTemporal}, result: edm.Int32},
	"round":   {args: []argKind{argNumeric}},
	"floor":   {args: []argKind{argNumeric}},
	"ceiling": {args: []argKind{argNumeric}},
}

func (c *Compiler) compileBoolCall(call expr.Call, scopes []scope) (string, error) {
	fn, ok := predicates[call.Name]
	if !ok {
		return "", errs.InvalidExpression("", "%s is not a boolean function", call.Name)
	}
	s, _, err := c.compileCall(call, fn, scopes)
	return s, err
}

func (c *Compiler) compileValueCall(call expr.Call, scopes []scope) (string, edm.Property, error) {
	fn, ok := values[call.Name]
	if !ok {
		return "", edm.Property{}, errs.InvalidExpression("", "%s is not a value function", call.Name)
	}
	return c.compileCall(call, fn, scopes)
}

// compileCall renders name(arg1, arg2) and checks argument types. The first
// argument is the subject; literal arguments render against the type the
// function expects.
func (c *Compiler) compileCall(call expr.Call, fn function, scopes []scope) (string, edm.Property, error) {
	if len(call.Args) != len(fn.args) {
		return "", edm.Property{}, errs.InvalidExpression("", "%s takes %d arguments, got %d", call.Name, len(fn.args), len(call.Args))
	}

	parts := make([]string, len(call.Args))
	var subject edm.Property
	for i, arg := range call.Args {
		if lit, ok := arg.(expr.Literal); ok {
			s, err := c.renderLiteral(lit, expected(fn.args[i], subject))
			if err != nil {
				return "", edm.Property{}, err
			}
			parts[i] = s
			continue
		}

		s, typ, err := c.compileTypedOperand(arg, scopes)
		if err != nil {
			return "", edm.Property{}, err
		}
		if err := checkArg(call.Name, fn.args[i], typ); err != nil {
			return "", edm.Property{}, err
		}
		if i == 0 {
			subject = typ
		}
		parts[i] = s
	}

	result := edm.Property{Name: subject.Name, Kind: edm.KindPrimitive, Type: fn.result}
	if fn.result == "" {
		result.Type = subject.Type
	}
	return call.Name + "(" + strings.Join(parts, ", ") + ")", result, nil
}

func expected(kind argKind, subject edm.Property) edm.Property {
	switch kind {
	case argString:
		return edm.Property{Name: subject.Name, Kind: edm.KindPrimitive, Type: edm.String}
	default:
		return subject
	}
}

func checkArg(fn string, kind argKind, p edm.Property) error {
	if p.Type == "" {
		return nil
	}
	if p.Collection || p.Kind != edm.KindPrimitive {
		return errs.InvalidExpression(p.Name, "%s expects a primitive argument, got %s", fn, p.Kind)
	}
	ok := false
	switch kind {
	case argString:
		ok = p.Type == edm.String
	case argTemporal:
		ok = p.Type == edm.DateTimeOffset || p.Type == edm.Date || p.Type == edm.TimeOfDay
	case argNumeric:
		ok = p.Type == edm.Decimal || p.Type == edm.Double || p.Type == edm.Single
	}
	if !ok {
		return errs.InvalidExpression(p.Name, "%s cannot be applied to %s", fn, p.Type)
	}
	return nil
}

// CompileOrderBy renders sort keys as "A asc,B desc".
//
// Keys may reach through single-valued navigation properties. Ordering by a
// navigation, complex or collection property is an INVALID_QUERY error.
func (c *Compiler) CompileOrderBy(keys []expr.OrderKey, et *edm.EntityType) (string, error) {
	parts := make([]string, len(keys))
	for i, k := range keys {
		res, err := c.Resolve(k.Handle, et)
		if err != nil {
			return "", err
		}
		for _, seg := range res.Segments {
			if seg.Collection {
				return "", errs.InvalidQuery(res.Path, "cannot order by a collection")
			}
		}
		if res.Property.IsNavigation() || res.Property.Kind == edm.KindComplex {
			return "", errs.InvalidQuery(res.Path, "cannot order by %s property", res.Property.Kind)
		}
		parts[i] = res.Path + " " + k.Direction()
	}
	return strings.Join(parts, ","), nil
}
