// Package filter compiles expression trees into the $filter and $orderby
// grammar of the service protocol.
//
// Compilation is a pure function of (expression, entity type, dialect):
// the same inputs always produce byte-identical output. Every field
// reference is validated against the registry along its navigation chain and
// every literal is checked against the type of the property it meets.
package filter

import (
	"fmt"
	"strings"

	"github.com/roach88/odatalink/internal/edm"
	"github.com/roach88/odatalink/internal/errs"
	"github.com/roach88/odatalink/internal/expr"
	"github.com/roach88/odatalink/internal/literal"
)

// Compiler renders expression trees for one service.
//
// Thread-safety: a Compiler holds no mutable state; it is safe for
// concurrent use as long as the registry is.
type Compiler struct {
	registry *edm.Registry
	dialect  literal.Dialect
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithDialect selects the literal grammar. The default is literal.V4.
func WithDialect(d literal.Dialect) Option {
	return func(c *Compiler) { c.dialect = d }
}

// NewCompiler creates a Compiler resolving types through reg.
func NewCompiler(reg *edm.Registry, opts ...Option) *Compiler {
	c := &Compiler{registry: reg, dialect: literal.V4}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dialect returns the literal grammar in use.
func (c *Compiler) Dialect() literal.Dialect {
	return c.dialect
}

// Registry returns the registry used for type resolution.
func (c *Compiler) Registry() *edm.Registry {
	return c.registry
}

// scope binds handles rooted at an entity type to a path prefix. The query
// root has an empty prefix; each lambda pushes its range variable.
type scope struct {
	root   *edm.EntityType
	prefix string
}

// Compile renders n as a $filter expression over et.
//
// Returns an INVALID_EXPRESSION error for unknown fields, literals that do
// not fit the compared property, handles rooted at an unrelated type and
// unsupported functions.
func (c *Compiler) Compile(n expr.Node, et *edm.EntityType) (string, error) {
	if n == nil {
		return "", errs.InvalidExpression("", "cannot compile nil expression")
	}
	if et == nil {
		return "", errs.InvalidExpression("", "no entity type to compile against")
	}
	return c.compileNode(n, []scope{{root: et}})
}

func (c *Compiler) compileNode(n expr.Node, scopes []scope) (string, error) {
	switch node := n.(type) {
	case expr.Comparison:
		return c.compileComparison(node, scopes)
	case *expr.Comparison:
		return c.compileComparison(*node, scopes)
	case expr.Combinator:
		return c.compileCombinator(node, scopes)
	case *expr.Combinator:
		return c.compileCombinator(*node, scopes)
	case expr.Call:
		return c.compileBoolCall(node, scopes)
	case *expr.Call:
		return c.compileBoolCall(*node, scopes)
	case expr.Lambda:
		return c.compileLambda(node, scopes)
	case *expr.Lambda:
		return c.compileLambda(*node, scopes)
	default:
		return "", errs.InvalidExpression("", "unsupported expression node %T", n)
	}
}

// compileCombinator parenthesizes every child: (a) and (b), not (a).
func (c *Compiler) compileCombinator(node expr.Combinator, scopes []scope) (string, error) {
	switch node.Op {
	case expr.LogicNot:
		if len(node.Children) != 1 {
			return "", errs.InvalidExpression("", "not takes exactly one operand, got %d", len(node.Children))
		}
		inner, err := c.compileNode(node.Children[0], scopes)
		if err != nil {
			return "", err
		}
		return "not (" + inner + ")", nil

	case expr.LogicAnd, expr.LogicOr:
		if len(node.Children) < 2 {
			return "", errs.InvalidExpression("", "%s needs at least two operands, got %d", node.Op, len(node.Children))
		}
		parts := make([]string, len(node.Children))
		for i, child := range node.Children {
			s, err := c.compileNode(child, scopes)
			if err != nil {
				return "", err
			}
			parts[i] = "(" + s + ")"
		}
		return strings.Join(parts, " "+string(node.Op)+" "), nil

	default:
		return "", errs.InvalidExpression("", "unknown combinator %q", node.Op)
	}
}

func (c *Compiler) compileComparison(node expr.Comparison, scopes []scope) (string, error) {
	if !validOp(node.Op) {
		return "", errs.InvalidExpression("", "unknown comparison operator %q", node.Op)
	}

	// Resolve the typed side first so the other side's literal can be
	// rendered against it.
	left, leftType, err := c.compileTypedOperand(node.Left, scopes)
	if err != nil {
		return "", err
	}
	right, rightType, err := c.compileTypedOperand(node.Right, scopes)
	if err != nil {
		return "", err
	}

	if node.Op == expr.OpIn {
		values, ok := inValues(node.Right)
		if !ok {
			return "", errs.InvalidExpression(leftType.Name, "in requires a list of literal values")
		}
		if err := checkComparable(leftType, true); err != nil {
			return "", err
		}
		list, err := literal.FormatList(values, leftType, c.registry, c.dialect)
		if err != nil {
			return "", wrapLiteral(leftType.Name, err)
		}
		return left + " in " + list, nil
	}

	leftNull := isNullLiteral(node.Left)
	rightNull := isNullLiteral(node.Right)

	if _, isLit := node.Left.(expr.Literal); isLit {
		left, err = c.renderLiteral(node.Left.(expr.Literal), rightType)
		if err != nil {
			return "", err
		}
	}
	if _, isLit := node.Right.(expr.Literal); isLit {
		right, err = c.renderLiteral(node.Right.(expr.Literal), leftType)
		if err != nil {
			return "", err
		}
	}

	if err := checkComparable(leftType, rightNull); err != nil {
		return "", err
	}
	if err := checkComparable(rightType, leftNull); err != nil {
		return "", err
	}
	if leftType.Type != "" && rightType.Type != "" && !compatible(leftType, rightType) {
		return "", errs.InvalidExpression(leftType.Name, "cannot compare %s with %s", leftType.Type, rightType.Type)
	}

	return left + " " + string(node.Op) + " " + right, nil
}

// compileTypedOperand renders handles and function calls. Literals are
// rendered later, once the type of the other side is known.
func (c *Compiler) compileTypedOperand(op expr.Operand, scopes []scope) (string, edm.Property, error) {
	switch o := op.(type) {
	case expr.Handle:
		return c.compileHandle(o, scopes)
	case expr.Call:
		return c.compileValueCall(o, scopes)
	case *expr.Call:
		return c.compileValueCall(*o, scopes)
	case expr.Literal:
		return "", edm.Property{}, nil
	case nil:
		return "", edm.Property{}, errs.InvalidExpression("", "missing operand")
	default:
		return "", edm.Property{}, errs.InvalidExpression("", "unsupported operand %T", op)
	}
}

func (c *Compiler) renderLiteral(lit expr.Literal, against edm.Property) (string, error) {
	s, err := literal.Format(lit.Value, against, c.registry, c.dialect)
	if err != nil {
		return "", wrapLiteral(against.Name, err)
	}
	return s, nil
}

func (c *Compiler) compileHandle(h expr.Handle, scopes []scope) (string, edm.Property, error) {
	prefix, root, err := bindScope(h, scopes)
	if err != nil {
		return "", edm.Property{}, err
	}
	res, err := c.resolve(h, root)
	if err != nil {
		return "", edm.Property{}, err
	}
	for _, seg := range res.Segments[:len(res.Segments)-1] {
		if seg.Collection {
			return "", edm.Property{}, errs.InvalidExpression(h.String(),
				"%s is a collection; use Any or All to filter through it", seg.Name)
		}
	}
	return prefix + res.Path, res.Property, nil
}

// bindScope finds the innermost scope the handle's root belongs to. Inside
// a lambda, handles rooted at the query type refer to the outer instance
// through $it.
func bindScope(h expr.Handle, scopes []scope) (string, *edm.EntityType, error) {
	if h.Root() == nil {
		return "", nil, errs.InvalidExpression(h.String(), "handle has no entity type")
	}
	for i := len(scopes) - 1; i >= 0; i-- {
		if sameType(scopes[i].root, h.Root()) {
			switch {
			case scopes[i].prefix != "":
				return scopes[i].prefix + "/", scopes[i].root, nil
			case len(scopes) > 1:
				return "$it/", scopes[i].root, nil
			default:
				return "", scopes[i].root, nil
			}
		}
	}
	return "", nil, errs.InvalidExpression(h.String(), "field of %s used in expression over %s",
		h.Root().Name(), scopes[len(scopes)-1].root.Name())
}

func (c *Compiler) compileLambda(node expr.Lambda, scopes []scope) (string, error) {
	if node.Op != expr.LambdaAny && node.Op != expr.LambdaAll {
		return "", errs.InvalidExpression(node.Path.String(), "unknown lambda operator %q", node.Op)
	}

	prefix, root, err := bindScope(node.Path, scopes)
	if err != nil {
		return "", err
	}
	res, err := c.resolve(node.Path, root)
	if err != nil {
		return "", err
	}
	if !res.Property.IsNavigation() || !res.Property.Collection {
		return "", errs.InvalidExpression(node.Path.String(), "%s requires a collection navigation property", node.Op)
	}
	target, ok := c.registry.Target(res.Property)
	if !ok {
		return "", errs.InvalidExpression(node.Path.String(), "navigation target %s is not registered", res.Property.Type)
	}

	path := prefix + res.Path
	if node.Predicate == nil {
		if node.Op == expr.LambdaAll {
			return "", errs.InvalidExpression(node.Path.String(), "all requires a predicate")
		}
		return path + "/any()", nil
	}

	variable := node.Var
	if variable == "" {
		variable = strings.ToLower(res.Property.Name)
	}
	inner, err := c.compileNode(node.Predicate, append(scopes, scope{root: target, prefix: variable}))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s(%s: %s)", path, node.Op, variable, inner), nil
}

func validOp(op expr.Op) bool {
	switch op {
	case expr.OpEq, expr.OpNe, expr.OpGt, expr.OpGe, expr.OpLt, expr.OpLe, expr.OpIn:
		return true
	}
	return false
}

func isNullLiteral(op expr.Operand) bool {
	lit, ok := op.(expr.Literal)
	return ok && lit.Value == nil
}

func inValues(op expr.Operand) ([]any, bool) {
	lit, ok := op.(expr.Literal)
	if !ok {
		return nil, false
	}
	values, ok := lit.Value.([]any)
	return values, ok
}

// checkComparable rejects comparisons of navigation, complex and collection
// properties, except against null for single-valued ones.
func checkComparable(p edm.Property, otherIsNull bool) error {
	if p.Type == "" {
		return nil
	}
	if p.Collection {
		return errs.InvalidExpression(p.Name, "collection property cannot be compared; use Any or All")
	}
	if (p.IsNavigation() || p.Kind == edm.KindComplex) && !otherIsNull {
		return errs.InvalidExpression(p.Name, "%s property can only be compared with null", p.Kind)
	}
	return nil
}

func compatible(a, b edm.Property) bool {
	if a.Type == b.Type {
		return true
	}
	if a.Kind == edm.KindPrimitive && b.Kind == edm.KindPrimitive && edm.IsNumeric(a.Type) && edm.IsNumeric(b.Type) {
		return true
	}
	temporal := func(t string) bool { return t == edm.Date || t == edm.DateTimeOffset }
	return temporal(a.Type) && temporal(b.Type)
}

func sameType(a, b *edm.EntityType) bool {
	return a == b || (a != nil && b != nil && a.FullName() == b.FullName())
}

func wrapLiteral(field string, err error) error {
	return &errs.Error{
		Code:    errs.ErrCodeInvalidExpression,
		Field:   field,
		Message: "literal does not fit the compared property",
		Err:     err,
	}
}
