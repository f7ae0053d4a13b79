package edm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/odatalink/internal/errs"
)

func TestNewEntityType(t *testing.T) {
	et, err := NewEntityType(EntityTypeDef{
		Name: "Order_Detail", Namespace: "NorthwindModel", EntitySet: "Order_Details",
		Properties: []Property{
			Prim("OrderID", Int32, AsKey()),
			Prim("ProductID", Int32, AsKey()),
			Prim("Quantity", Int16),
			Nav("Order", "Order"),
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "NorthwindModel.Order_Detail", et.FullName())
	assert.Equal(t, []string{"OrderID", "ProductID"}, et.KeyNames())
	assert.Len(t, et.Navigations(), 1)
	assert.Len(t, et.Structural(), 3)

	nav, ok := et.Property("Order")
	require.True(t, ok)
	assert.True(t, nav.Nullable, "navigation properties are nullable")
	assert.False(t, et.HasProperty("Missing"))
}

func TestNewEntityTypeCopiesDefinition(t *testing.T) {
	props := []Property{Prim("ID", Int32, AsKey())}
	et, err := NewEntityType(EntityTypeDef{Name: "Thing", Properties: props})
	require.NoError(t, err)

	props[0].Name = "Changed"
	got := et.Properties()
	got[0].Name = "AlsoChanged"

	assert.Equal(t, "ID", et.Properties()[0].Name)
}

func TestNewEntityTypeRejects(t *testing.T) {
	tests := []struct {
		name string
		def  EntityTypeDef
	}{
		{"empty name", EntityTypeDef{}},
		{"duplicate property", EntityTypeDef{Name: "A", Properties: []Property{Prim("X", String), Prim("X", Int32)}}},
		{"unknown primitive", EntityTypeDef{Name: "A", Properties: []Property{Prim("X", "Edm.Nope")}}},
		{"nullable key", EntityTypeDef{Name: "A", Properties: []Property{Prim("X", Int32, AsKey(), AsNullable())}}},
		{"collection key", EntityTypeDef{Name: "A", Properties: []Property{Prim("X", Int32, AsKey(), AsCollection())}}},
		{"navigation key", EntityTypeDef{Name: "A", Properties: []Property{{Name: "X", Kind: KindNavigation, Type: "B", Key: true}}}},
		{"set without key", EntityTypeDef{Name: "A", EntitySet: "As", Properties: []Property{Prim("X", Int32)}}},
		{"unknown kind", EntityTypeDef{Name: "A", Properties: []Property{{Name: "X", Kind: "weird", Type: String}}}},
		{"missing foreign key", EntityTypeDef{Name: "A", Properties: []Property{Nav("B", "B", WithForeignKey("BID"))}}},
		{"foreign key on collection", EntityTypeDef{Name: "A", Properties: []Property{Prim("BID", Int32), Nav("B", "B", AsCollection(), WithForeignKey("BID"))}}},
		{"foreign key on primitive", EntityTypeDef{Name: "A", Properties: []Property{Prim("BID", Int32), Prim("X", Int32, WithForeignKey("BID"))}}},
		{"foreign key to complex", EntityTypeDef{Name: "A", Properties: []Property{ComplexProp("BID", "C"), Nav("B", "B", WithForeignKey("BID"))}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEntityType(tt.def)
			require.Error(t, err)
			assert.True(t, errs.IsInvalidSchema(err))
		})
	}

	assert.Panics(t, func() { MustEntityType(EntityTypeDef{}) })
}

func TestTypeClassification(t *testing.T) {
	assert.True(t, IsPrimitive(Guid))
	assert.False(t, IsPrimitive("NorthwindModel.Order"))
	assert.True(t, IsIntegral(Byte))
	assert.False(t, IsIntegral(Double))
	assert.True(t, IsNumeric(Decimal))
	assert.False(t, IsNumeric(String))
	assert.Equal(t, "Order", ShortName("NorthwindModel.Order"))
	assert.Equal(t, "Order", ShortName("Order"))
	assert.Equal(t, "Lines Collection(Edm.String)", Prim("Lines", String, AsCollection()).String())
}
