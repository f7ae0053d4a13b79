package entity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/odatalink/internal/edm"
	"github.com/roach88/odatalink/internal/errs"
	"github.com/roach88/odatalink/internal/literal"
	"github.com/roach88/odatalink/internal/testutil"
)

func loadOrder(t *testing.T, reg *edm.Registry, opts LoadOptions) *Entity {
	t.Helper()
	freight, _, err := apd.NewFromString("32.38")
	require.NoError(t, err)
	return Load(testutil.MustType(t, reg, "Order"), reg, map[string]any{
		"OrderID":     int64(10248),
		"ShipCity":    "Reims",
		"ShipCountry": "France",
		"ShippedDate": nil,
		"OrderDate":   time.Date(1996, 7, 4, 0, 0, 0, 0, time.UTC),
		"Freight":     freight,
		"Priority":    edm.EnumValue{Type: "NorthwindModel.Priority", Member: "Normal", Value: 1},
	}, opts)
}

func TestLoadedEntityHasNoChanges(t *testing.T) {
	reg := testutil.NorthwindRegistry(t)
	e := loadOrder(t, reg, LoadOptions{ETag: `W/"1"`})

	assert.Equal(t, StateLoaded, e.State())
	assert.Empty(t, e.Changes())
	assert.False(t, e.Modified())
	assert.Equal(t, `W/"1"`, e.ETag())
}

func TestSetMarksDirtyAndDiffs(t *testing.T) {
	reg := testutil.NorthwindRegistry(t)
	e := loadOrder(t, reg, LoadOptions{})

	shipped := time.Date(1996, 7, 16, 0, 0, 0, 0, time.UTC)
	require.NoError(t, e.Set("ShippedDate", shipped))
	assert.Equal(t, StateDirty, e.State())

	require.NoError(t, e.Set("ShippedDate", shipped.Add(time.Hour)))
	assert.Equal(t, StateDirty, e.State())

	changes := e.Changes()
	require.Len(t, changes, 1)
	assert.Equal(t, "ShippedDate", changes[0].Name)
	assert.Nil(t, changes[0].Old)
	assert.Equal(t, shipped.Add(time.Hour), changes[0].New)

	// The snapshot is untouched by mutation.
	assert.Nil(t, e.Snapshot()["ShippedDate"])
}

func TestSetBackToOriginalValueHasNoChanges(t *testing.T) {
	reg := testutil.NorthwindRegistry(t)
	e := loadOrder(t, reg, LoadOptions{})

	require.NoError(t, e.Set("ShipCity", "Lyon"))
	require.NoError(t, e.Set("ShipCity", "Reims"))
	assert.Equal(t, StateDirty, e.State())
	assert.Empty(t, e.Changes())

	require.NoError(t, e.MarkClean())
	assert.Equal(t, StateLoaded, e.State())
}

func TestDecimalComparesNumerically(t *testing.T) {
	reg := testutil.NorthwindRegistry(t)
	e := loadOrder(t, reg, LoadOptions{})

	same, _, err := apd.NewFromString("32.380")
	require.NoError(t, err)
	require.NoError(t, e.Set("Freight", same))
	assert.Empty(t, e.Changes())
}

func TestSetRejects(t *testing.T) {
	reg := testutil.NorthwindRegistry(t)

	tests := []struct {
		name  string
		field string
		value any
		check func(error) bool
	}{
		{"unknown property", "Nope", 1, errs.IsInvalidValue},
		{"navigation", "Employee", nil, errs.IsInvalidValue},
		{"computed key", "OrderID", int64(1), errs.IsInvalidValue},
		{"wrong type", "ShipCity", 42, errs.IsInvalidValue},
		{"unknown enum member", "Priority", "Urgent", errs.IsInvalidValue},
		{"nil for non-nullable", "Priority", nil, errs.IsInvalidValue},
		{"not loaded", "TrackingID", nil, errs.IsInvalidState},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := loadOrder(t, reg, LoadOptions{})
			err := e.Set(tt.field, tt.value)
			require.Error(t, err)
			assert.True(t, tt.check(err), "got %v", err)
			assert.Equal(t, StateLoaded, e.State())
		})
	}
}

func TestSetKeyOfPersistedEntity(t *testing.T) {
	reg := testutil.NorthwindRegistry(t)
	detail := Load(testutil.MustType(t, reg, "Order_Detail"), reg, map[string]any{
		"OrderID": int64(1), "ProductID": int64(2), "Quantity": int64(3),
	}, LoadOptions{})

	err := detail.Set("ProductID", int64(9))
	assert.True(t, errs.IsInvalidValue(err))
}

func TestCreateAppliesDefaults(t *testing.T) {
	reg := testutil.NorthwindRegistry(t)
	e := Create(testutil.MustType(t, reg, "Order"), reg)

	assert.Equal(t, StateNew, e.State())
	assert.True(t, e.Modified())
	assert.Equal(t, edm.EnumValue{Type: "NorthwindModel.Priority", Member: "Normal", Value: 1}, e.Value("Priority"))

	require.NoError(t, e.Set("ShipCity", "Berlin"))
	assert.Equal(t, StateNew, e.State())
	assert.Equal(t, []string{"ShipCity", "Priority"}, e.Fields())
}

func TestSaveLifecycle(t *testing.T) {
	reg := testutil.NorthwindRegistry(t)
	e := loadOrder(t, reg, LoadOptions{})
	require.NoError(t, e.Set("ShipCity", "Lyon"))

	require.NoError(t, e.BeginSave())
	assert.Equal(t, StateSaving, e.State())
	assert.True(t, errs.IsInvalidState(e.Set("ShipCity", "Paris")))

	e.Absorb(map[string]any{"ShipCity": "LYON"}, `W/"2"`)
	require.NoError(t, e.CompleteSave())

	assert.Equal(t, StateLoaded, e.State())
	assert.Equal(t, "LYON", e.Snapshot()["ShipCity"])
	assert.Equal(t, `W/"2"`, e.ETag())
	assert.Empty(t, e.Changes())
	assert.NoError(t, e.Err())
}

func TestFailedSaveRestoresPriorState(t *testing.T) {
	reg := testutil.NorthwindRegistry(t)
	e := loadOrder(t, reg, LoadOptions{})
	require.NoError(t, e.Set("ShipCity", "Lyon"))

	require.NoError(t, e.BeginSave())
	boom := errors.New("boom")
	e.FailSave(boom)

	assert.Equal(t, StateDirty, e.State())
	assert.Equal(t, "Lyon", e.Value("ShipCity"))
	assert.ErrorIs(t, e.Err(), boom)
	require.Len(t, e.Changes(), 1)

	created := Create(testutil.MustType(t, reg, "Order"), reg)
	require.NoError(t, created.BeginSave())
	created.FailSave(boom)
	assert.Equal(t, StateNew, created.State())
}

func TestInvalidTransitions(t *testing.T) {
	reg := testutil.NorthwindRegistry(t)
	e := loadOrder(t, reg, LoadOptions{})

	assert.True(t, errs.IsInvalidState(e.BeginSave()), "a clean loaded entity has nothing to save")
	assert.True(t, errs.IsInvalidState(e.CompleteDelete()))

	created := Create(testutil.MustType(t, reg, "Order"), reg)
	assert.True(t, errs.IsInvalidState(created.BeginDelete()))
}

func TestDeleteLifecycle(t *testing.T) {
	reg := testutil.NorthwindRegistry(t)
	e := loadOrder(t, reg, LoadOptions{})

	require.NoError(t, e.BeginDelete())
	assert.Equal(t, StateDeleting, e.State())
	e.FailDelete(errors.New("nope"))
	assert.Equal(t, StateLoaded, e.State())

	require.NoError(t, e.BeginDelete())
	require.NoError(t, e.CompleteDelete())
	assert.Equal(t, StateDeleted, e.State())
	assert.True(t, errs.IsInvalidState(e.Set("ShipCity", "x")))
}

func TestID(t *testing.T) {
	reg := testutil.NorthwindRegistry(t)
	e := loadOrder(t, reg, LoadOptions{})

	id, err := e.ID(literal.V4)
	require.NoError(t, err)
	assert.Equal(t, "Orders(10248)", id)

	detail := Load(testutil.MustType(t, reg, "Order_Detail"), reg, map[string]any{
		"OrderID": int64(10248), "ProductID": int64(11),
	}, LoadOptions{})
	id, err = detail.ID(literal.V4)
	require.NoError(t, err)
	assert.Equal(t, "Order_Details(OrderID=10248,ProductID=11)", id)

	customer := Load(testutil.MustType(t, reg, "Customer"), reg, map[string]any{"CustomerID": "ALFKI"}, LoadOptions{})
	id, err = customer.ID(literal.V4)
	require.NoError(t, err)
	assert.Equal(t, "Customers('ALFKI')", id)
}

type countingLoader struct {
	calls   int
	related []*Entity
}

func (l *countingLoader) LoadNavigation(_ context.Context, _ *Entity, _ edm.Property) ([]*Entity, error) {
	l.calls++
	return l.related, nil
}

func TestRelatedIsFetchedOnce(t *testing.T) {
	reg := testutil.NorthwindRegistry(t)
	employee := Load(testutil.MustType(t, reg, "Employee"), reg, map[string]any{
		"EmployeeID": int64(5), "FirstName": "Steven", "LastName": "Buchanan",
	}, LoadOptions{})
	loader := &countingLoader{related: []*Entity{employee}}
	order := loadOrder(t, reg, LoadOptions{Loader: loader})

	ctx := context.Background()
	first, err := order.Related(ctx, "Employee")
	require.NoError(t, err)
	second, err := order.Related(ctx, "Employee")
	require.NoError(t, err)

	assert.Same(t, employee, first)
	assert.Same(t, first, second)
	assert.Equal(t, 1, loader.calls)
	assert.True(t, order.NavigationLoaded("Employee"))
}

func TestRelatedSetAndEmptyRelation(t *testing.T) {
	reg := testutil.NorthwindRegistry(t)
	loader := &countingLoader{}
	order := loadOrder(t, reg, LoadOptions{Loader: loader})
	ctx := context.Background()

	details, err := order.RelatedSet(ctx, "Order_Details")
	require.NoError(t, err)
	assert.Empty(t, details)

	_, err = order.RelatedSet(ctx, "Order_Details")
	require.NoError(t, err)
	assert.Equal(t, 1, loader.calls)

	_, err = order.Related(ctx, "Order_Details")
	assert.True(t, errs.IsInvalidValue(err))
	_, err = order.RelatedSet(ctx, "Employee")
	assert.True(t, errs.IsInvalidValue(err))
}

func TestRelatedFromExpansionSkipsLoader(t *testing.T) {
	reg := testutil.NorthwindRegistry(t)
	loader := &countingLoader{}
	order := loadOrder(t, reg, LoadOptions{Loader: loader})
	require.NoError(t, order.CacheNavigation("Employee", nil))

	got, err := order.Related(context.Background(), "Employee")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Zero(t, loader.calls)
}

func TestRelatedWithoutLoader(t *testing.T) {
	reg := testutil.NorthwindRegistry(t)
	order := loadOrder(t, reg, LoadOptions{})

	_, err := order.Related(context.Background(), "Employee")
	assert.True(t, errs.IsInvalidState(err))
}

func TestRelatedLoaderError(t *testing.T) {
	reg := testutil.NorthwindRegistry(t)
	boom := errors.New("offline")
	order := loadOrder(t, reg, LoadOptions{Loader: NavLoaderFunc(func(context.Context, *Entity, edm.Property) ([]*Entity, error) {
		return nil, boom
	})})

	_, err := order.Related(context.Background(), "Employee")
	assert.ErrorIs(t, err, boom)
	assert.False(t, order.NavigationLoaded("Employee"))
}

func TestSetRelated(t *testing.T) {
	reg := testutil.NorthwindRegistry(t)
	order := loadOrder(t, reg, LoadOptions{})
	employee := Load(testutil.MustType(t, reg, "Employee"), reg, map[string]any{"EmployeeID": int64(3)}, LoadOptions{})

	require.NoError(t, order.SetRelated("Employee", employee))
	assert.Equal(t, StateDirty, order.State())
	assert.True(t, order.Modified())
	assert.Empty(t, order.Changes())
	assert.Equal(t, []Binding{{Name: "Employee", Target: employee}}, order.Bindings())

	got, err := order.Related(context.Background(), "Employee")
	require.NoError(t, err)
	assert.Same(t, employee, got)

	require.NoError(t, order.BeginSave())
	require.NoError(t, order.CompleteSave())
	assert.Empty(t, order.Bindings())
}

func TestSetRelatedRejects(t *testing.T) {
	reg := testutil.NorthwindRegistry(t)
	order := loadOrder(t, reg, LoadOptions{})
	customer := Load(testutil.MustType(t, reg, "Customer"), reg, map[string]any{"CustomerID": "ALFKI"}, LoadOptions{})
	fresh := Create(testutil.MustType(t, reg, "Employee"), reg)

	assert.True(t, errs.IsInvalidValue(order.SetRelated("Employee", customer)))
	assert.True(t, errs.IsInvalidValue(order.SetRelated("Order_Details", customer)))
	assert.True(t, errs.IsInvalidValue(order.SetRelated("ShipCity", customer)))
	assert.True(t, errs.IsInvalidState(order.SetRelated("Employee", fresh)))
	assert.Equal(t, StateLoaded, order.State())
}

func TestAddRelated(t *testing.T) {
	reg := testutil.NorthwindRegistry(t)
	employee := Load(testutil.MustType(t, reg, "Employee"), reg, map[string]any{"EmployeeID": int64(3)}, LoadOptions{})
	first := loadOrder(t, reg, LoadOptions{})
	second := Load(testutil.MustType(t, reg, "Order"), reg, map[string]any{"OrderID": int64(10249)}, LoadOptions{})

	require.NoError(t, employee.AddRelated("Orders", first))
	require.NoError(t, employee.AddRelated("Orders", second))
	require.NoError(t, employee.AddRelated("Orders", first))

	assert.Equal(t, StateDirty, employee.State())
	assert.True(t, employee.Modified())
	assert.False(t, employee.NavigationLoaded("Orders"))
	bindings := employee.Bindings()
	require.Len(t, bindings, 1)
	assert.True(t, bindings[0].Collection())
	assert.Equal(t, []*Entity{first, second}, bindings[0].Targets)

	require.NoError(t, employee.BeginSave())
	require.NoError(t, employee.CompleteSave())
	assert.Empty(t, employee.Bindings())
}

func TestAddRelatedOnNewEntityCaches(t *testing.T) {
	reg := testutil.NorthwindRegistry(t)
	employee := Create(testutil.MustType(t, reg, "Employee"), reg)
	order := loadOrder(t, reg, LoadOptions{})

	require.NoError(t, employee.AddRelated("Orders", order))

	got, err := employee.RelatedSet(context.Background(), "Orders")
	require.NoError(t, err)
	assert.Equal(t, []*Entity{order}, got)
}

func TestAddRelatedRejects(t *testing.T) {
	reg := testutil.NorthwindRegistry(t)
	employee := Load(testutil.MustType(t, reg, "Employee"), reg, map[string]any{"EmployeeID": int64(3)}, LoadOptions{})
	order := loadOrder(t, reg, LoadOptions{})
	customer := Load(testutil.MustType(t, reg, "Customer"), reg, map[string]any{"CustomerID": "ALFKI"}, LoadOptions{})

	assert.True(t, errs.IsInvalidValue(employee.AddRelated("Orders", customer)))
	assert.True(t, errs.IsInvalidValue(employee.AddRelated("Orders", nil)))
	assert.True(t, errs.IsInvalidValue(order.AddRelated("Employee", employee)))
	assert.True(t, errs.IsInvalidValue(employee.SetRelated("Orders", order)))
	assert.True(t, errs.IsInvalidState(employee.AddRelated("Orders", Create(testutil.MustType(t, reg, "Order"), reg))))
	assert.Equal(t, StateLoaded, employee.State())
	assert.Equal(t, StateLoaded, order.State())
}

func TestRefresh(t *testing.T) {
	reg := testutil.NorthwindRegistry(t)
	e := loadOrder(t, reg, LoadOptions{})
	require.NoError(t, e.Set("ShipCity", "Lyon"))

	require.NoError(t, e.Refresh(map[string]any{"ShipCity": "Paris"}, nil, `W/"9"`))
	assert.Equal(t, StateLoaded, e.State())
	assert.Equal(t, "Paris", e.Value("ShipCity"))
	assert.Empty(t, e.Changes())
	assert.Equal(t, `W/"9"`, e.ETag())
}
