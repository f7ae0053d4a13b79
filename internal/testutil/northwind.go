package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/odatalink/internal/edm"
)

// NorthwindURL is the service root used by fixtures.
const NorthwindURL = "http://northwind.test/svc/"

// NorthwindSchema returns a trimmed Northwind model:
//
//	Order        (OrderID)            -> Employee, Order_Details, Customer
//	Order_Detail (OrderID, ProductID) -> Order
//	Employee     (EmployeeID)         -> Orders
//	Customer     (CustomerID)         -> Orders
//
// plus the Priority enum and the Address complex type.
func NorthwindSchema() *edm.Schema {
	const ns = "NorthwindModel"
	return &edm.Schema{
		Namespace: ns,
		Enums: []edm.EnumType{{
			Name: "Priority", Namespace: ns,
			Members: []edm.EnumMember{
				{Name: "Low", Value: 0},
				{Name: "Normal", Value: 1},
				{Name: "High", Value: 2},
			},
		}},
		ComplexTypes: []edm.ComplexType{{
			Name: "Address", Namespace: ns,
			Properties: []edm.Property{
				edm.Prim("Street", edm.String, edm.AsNullable()),
				edm.Prim("City", edm.String, edm.AsNullable()),
				edm.Prim("PostalCode", edm.String, edm.AsNullable()),
			},
		}},
		EntityTypes: []edm.EntityTypeDef{
			{
				Name: "Order", Namespace: ns, EntitySet: "Orders",
				Properties: []edm.Property{
					edm.Prim("OrderID", edm.Int32, edm.AsKey(), edm.AsComputed()),
					edm.Prim("CustomerID", edm.String, edm.AsNullable()),
					edm.Prim("EmployeeID", edm.Int32, edm.AsNullable()),
					edm.Prim("OrderDate", edm.DateTimeOffset, edm.AsNullable()),
					edm.Prim("ShippedDate", edm.DateTimeOffset, edm.AsNullable()),
					edm.Prim("Freight", edm.Decimal, edm.AsNullable()),
					edm.Prim("ShipCity", edm.String, edm.AsNullable()),
					edm.Prim("ShipCountry", edm.String, edm.AsNullable()),
					edm.EnumProp("Priority", ns+".Priority", edm.WithDefault("Normal")),
					edm.Prim("TrackingID", edm.Guid, edm.AsNullable()),
					edm.Nav("Employee", ns+".Employee", edm.WithForeignKey("EmployeeID")),
					edm.Nav("Customer", ns+".Customer", edm.WithForeignKey("CustomerID")),
					edm.Nav("Order_Details", ns+".Order_Detail", edm.AsCollection()),
				},
			},
			{
				Name: "Order_Detail", Namespace: ns, EntitySet: "Order_Details",
				Properties: []edm.Property{
					edm.Prim("OrderID", edm.Int32, edm.AsKey()),
					edm.Prim("ProductID", edm.Int32, edm.AsKey()),
					edm.Prim("UnitPrice", edm.Decimal),
					edm.Prim("Quantity", edm.Int16),
					edm.Prim("Discount", edm.Single),
					edm.Nav("Order", ns+".Order"),
				},
			},
			{
				Name: "Employee", Namespace: ns, EntitySet: "Employees",
				Properties: []edm.Property{
					edm.Prim("EmployeeID", edm.Int32, edm.AsKey(), edm.AsComputed()),
					edm.Prim("FirstName", edm.String),
					edm.Prim("LastName", edm.String),
					edm.Prim("City", edm.String, edm.AsNullable()),
					edm.Prim("HireDate", edm.Date, edm.AsNullable()),
					edm.ComplexProp("HomeAddress", ns+".Address", edm.AsNullable()),
					edm.Prim("Nicknames", edm.String, edm.AsCollection(), edm.AsNullable()),
					edm.Nav("Orders", ns+".Order", edm.AsCollection()),
				},
			},
			{
				Name: "Customer", Namespace: ns, EntitySet: "Customers",
				Properties: []edm.Property{
					edm.Prim("CustomerID", edm.String, edm.AsKey()),
					edm.Prim("CompanyName", edm.String),
					edm.Prim("Active", edm.Boolean, edm.WithDefault(true)),
					edm.Nav("Orders", ns+".Order", edm.AsCollection()),
				},
			},
		},
	}
}

// NorthwindRegistry returns a registry loaded with NorthwindSchema.
func NorthwindRegistry(t testing.TB) *edm.Registry {
	t.Helper()
	reg, err := edm.NewRegistryFromSchema(NorthwindSchema())
	require.NoError(t, err)
	return reg
}

// MustType looks up an entity type, failing the test when it is missing.
func MustType(t testing.TB, reg *edm.Registry, name string) *edm.EntityType {
	t.Helper()
	et, ok := reg.EntityType(name)
	require.True(t, ok, "entity type %s not registered", name)
	return et
}
