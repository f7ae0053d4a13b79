package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/odatalink/internal/edm"
)

var orderType = edm.MustEntityType(edm.EntityTypeDef{
	Name: "Order", Namespace: "Test", EntitySet: "Orders",
	Properties: []edm.Property{
		edm.Prim("OrderID", edm.Int32, edm.AsKey()),
		edm.Prim("ShipCity", edm.String, edm.AsNullable()),
		edm.Nav("Employee", "Test.Employee"),
		edm.Nav("Order_Details", "Test.Order_Detail", edm.AsCollection()),
	},
})

func TestComparisonBuilders(t *testing.T) {
	city := Field(orderType, "ShipCity")

	assert.Equal(t, Comparison{Op: OpEq, Left: city, Right: Literal{Value: "Berlin"}}, city.Eq("Berlin"))
	assert.Equal(t, Comparison{Op: OpEq, Left: city, Right: Literal{}}, city.IsNull())
	assert.Equal(t, Comparison{Op: OpNe, Left: city, Right: Literal{}}, city.NotNull())
	assert.Equal(t, Comparison{Op: OpIn, Left: city, Right: Literal{Value: []any{"a", "b"}}}, city.In("a", "b"))

	other := Field(orderType, "OrderID")
	got := city.Gt(other).(Comparison)
	assert.Equal(t, other, got.Right, "handles stay operands, not literals")
}

func TestStringPredicates(t *testing.T) {
	city := Field(orderType, "ShipCity")

	assert.Equal(t, Call{Name: "contains", Args: []Operand{city, Literal{Value: "er"}}}, city.Contains("er"))
	assert.Equal(t, Call{Name: "startswith", Args: []Operand{city, Literal{Value: "B"}}}, city.StartsWith("B"))
	assert.Equal(t, Call{Name: "endswith", Args: []Operand{city, Literal{Value: "n"}}}, city.EndsWith("n"))
	assert.Equal(t, Not(city.Contains("x")), city.Lacks("x"))

	lower := city.ToLower()
	assert.Equal(t, Comparison{Op: OpEq, Left: lower, Right: Literal{Value: "berlin"}}, lower.Eq("berlin"))
}

func TestAndFoldsLeft(t *testing.T) {
	city := Field(orderType, "ShipCity")
	a, b, c := city.Eq("a"), city.Eq("b"), city.Eq("c")

	got := And(a, b, c)
	want := Combinator{Op: LogicAnd, Children: []Node{
		Combinator{Op: LogicAnd, Children: []Node{a, b}},
		c,
	}}
	assert.Equal(t, want, got)

	assert.Equal(t, a, And(nil, a, nil))
	assert.Nil(t, Or())
}

func TestTreesAreShareable(t *testing.T) {
	city := Field(orderType, "ShipCity")
	base := And(city.Eq("a"), city.Eq("b"))

	left := And(base, city.Eq("c"))
	right := Or(base, city.Eq("d"))

	require.Equal(t, And(city.Eq("a"), city.Eq("b")), base)
	assert.NotEqual(t, left, right)
}

func TestHandlePaths(t *testing.T) {
	emp := Field(orderType, "Employee")
	city := emp.Field("City")
	zip := emp.Field("Zip")

	assert.Equal(t, "Employee/City", city.String())
	assert.Equal(t, "Employee/Zip", zip.String())
	assert.Equal(t, "City", city.Name())
	assert.Same(t, orderType, city.Root())
	assert.Equal(t, []string{"Employee"}, emp.Segments())

	segs := city.Segments()
	segs[0] = "changed"
	assert.Equal(t, "Employee/City", city.String())

	assert.True(t, Handle{}.IsZero())
	assert.False(t, emp.IsZero())
	assert.Equal(t, "Order_Details/Quantity", Path(orderType, "Order_Details", "Quantity").String())
}

func TestLambda(t *testing.T) {
	details := Field(orderType, "Order_Details")
	pred := Field(orderType, "OrderID").Gt(1)

	got := details.Any(pred).(Lambda)
	assert.Equal(t, LambdaAny, got.Op)
	assert.Equal(t, "order_details", got.Var)
	assert.Equal(t, pred, got.Predicate)
	assert.Equal(t, LambdaAll, details.All(nil).(Lambda).Op)
}

func TestOrderKeys(t *testing.T) {
	city := Field(orderType, "ShipCity")
	assert.Equal(t, "asc", city.Asc().Direction())
	assert.Equal(t, "desc", city.Desc().Direction())
	assert.Equal(t, city, city.Desc().Handle)
}
