// Package expr builds immutable filter expression trees.
//
// Expressions are built from property handles:
//
//	city := expr.Field(OrderType, "ShipCity")
//	n := expr.And(city.Eq("Berlin"), expr.Field(OrderType, "Freight").Gt(10))
//
// Trees carry no back references and are never mutated after
// construction, so they can be shared between queries freely. Rendering
// into the wire grammar is the job of package filter.
package expr

// Node is a boolean expression.
//
// This is a sealed interface - only types in this package implement it.
// The marker method enables exhaustive type switches in the compiler.
//
// Node types:
//   - Comparison: <operand> <op> <operand>
//   - Combinator: and / or / not over child nodes
//   - Call: boolean function such as contains(Name, 'x')
//   - Lambda: any/all over a collection navigation
type Node interface {
	exprNode()
}

// Operand is a value position in a comparison or function call.
//
// This is a sealed interface. Operand types:
//   - Handle: a property path
//   - Literal: a Go value rendered according to the compared property type
//   - Call: a value function such as tolower(Name)
type Operand interface {
	operand()
}

// Op is a comparison operator.
type Op string

const (
	OpEq Op = "eq"
	OpNe Op = "ne"
	OpGt Op = "gt"
	OpGe Op = "ge"
	OpLt Op = "lt"
	OpLe Op = "le"
	OpIn Op = "in"
)

// Comparison compares two operands.
//
// Semantics:
//
//	<left> <op> <right>
//
// Example:
//
//	Comparison{Op: OpEq, Left: Field(OrderType, "ShipCity"), Right: Literal{Value: "Berlin"}}
//
// renders as
//
//	ShipCity eq 'Berlin'
//
// A Literal with a nil Value renders as null. For OpIn the right side is a
// Literal holding a []any.
type Comparison struct {
	Op    Op
	Left  Operand
	Right Operand
}

func (Comparison) exprNode() {}

// Logic is a boolean combinator.
type Logic string

const (
	LogicAnd Logic = "and"
	LogicOr  Logic = "or"
	LogicNot Logic = "not"
)

// Combinator joins child nodes.
//
// And and Or always hold exactly two children; longer chains nest to the
// left, so And(a, b, c) is Combinator{and, [Combinator{and, [a, b]}, c]}.
// Not holds one child. Every child renders parenthesized:
//
//	(a) and (b)
//	not (a)
type Combinator struct {
	Op       Logic
	Children []Node
}

func (Combinator) exprNode() {}

// Call is a function application. It is both a Node (for boolean functions
// such as contains) and an Operand (for value functions such as tolower).
type Call struct {
	Name string
	Args []Operand
}

func (Call) exprNode() {}
func (Call) operand()  {}

// Literal is a constant value. Its rendering depends on the type of the
// property it is compared with.
type Literal struct {
	Value any
}

func (Literal) operand() {}

// LambdaOp is a collection quantifier.
type LambdaOp string

const (
	LambdaAny LambdaOp = "any"
	LambdaAll LambdaOp = "all"
)

// Lambda quantifies a predicate over a collection navigation.
//
// Semantics:
//
//	<path>/any(<var>: <predicate>)
//
// Handles inside Predicate are rooted at the navigation target type and
// render prefixed with Var:
//
//	Order_Details/any(order_details: order_details/Quantity gt 5)
type Lambda struct {
	Op        LambdaOp
	Path      Handle
	Var       string
	Predicate Node
}

func (Lambda) exprNode() {}

// And conjoins nodes left-associatively. Nil nodes are skipped; with a
// single non-nil node that node is returned unchanged, and with none the
// result is nil.
func And(nodes ...Node) Node {
	return fold(LogicAnd, nodes)
}

// Or disjoins nodes left-associatively, with the same nil handling as And.
func Or(nodes ...Node) Node {
	return fold(LogicOr, nodes)
}

// Not negates n.
func Not(n Node) Node {
	return Combinator{Op: LogicNot, Children: []Node{n}}
}

func fold(op Logic, nodes []Node) Node {
	var acc Node
	for _, n := range nodes {
		switch {
		case n == nil:
			continue
		case acc == nil:
			acc = n
		default:
			acc = Combinator{Op: op, Children: []Node{acc, n}}
		}
	}
	return acc
}

func operandOf(v any) Operand {
	if op, ok := v.(Operand); ok {
		return op
	}
	return Literal{Value: v}
}
