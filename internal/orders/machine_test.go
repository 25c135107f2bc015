package orders

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pos-engine/internal/catalog"
	"pos-engine/internal/clock"
	"pos-engine/internal/kvstore"
	"pos-engine/internal/ledger"
	"pos-engine/internal/models"
	"pos-engine/internal/notify"
	"pos-engine/internal/sequence"
)

type fixture struct {
	machine *Machine
	ledger  *ledger.Ledger
	catalog *catalog.KVCatalog
	clock   *clock.Fixed
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := kvstore.NewMemory()
	cat := catalog.NewKVCatalog(store)
	clk := clock.NewFixed(time.Date(2024, 6, 1, 18, 0, 0, 0, time.UTC))
	ldg := ledger.New(store, cat, clk)
	seq := sequence.New(store, notify.NewNoop(), clk, "actor-test")

	require.NoError(t, cat.PutProduct(context.Background(), models.Product{
		ID:    "p1",
		Name:  "espresso",
		Price: decimal.NewFromInt(3),
		Stock: 10,
	}))
	require.NoError(t, cat.PutProduct(context.Background(), models.Product{
		ID:    "p2",
		Name:  "croissant",
		Price: decimal.RequireFromString("2.50"),
		Stock: 4,
	}))

	return &fixture{
		machine: NewMachine(store, ldg, seq, cat, nil, clk, "actor-test"),
		ledger:  ldg,
		catalog: cat,
		clock:   clk,
	}
}

func (f *fixture) table(t *testing.T) *models.Order {
	t.Helper()
	table, err := f.machine.CreateTable(context.Background(), "window seat")
	require.NoError(t, err)
	return table
}

func assertFree(t *testing.T, o *models.Order) {
	t.Helper()
	assert.Equal(t, models.OrderStatusFree, o.Status)
	assert.Equal(t, 0, o.OrderNumber)
	assert.Empty(t, o.Items)
	assert.Empty(t, o.OwnerActorID)
}

func TestFirstItemOccupiesAndIssuesNumber(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	table := f.table(t)

	assertFree(t, table)

	got, ok, err := f.machine.AddItem(ctx, table.ID, "p1", 2)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, models.OrderStatusOccupied, got.Status)
	assert.Greater(t, got.OrderNumber, 0)
	assert.Equal(t, "actor-test", got.OwnerActorID)
	require.Len(t, got.Items, 1)
	assert.Equal(t, 2, got.Items[0].Quantity)
	assert.True(t, got.Items[0].LineTotal.Equal(decimal.NewFromInt(6)))
}

func TestRemovingLastItemReturnsToFree(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	table := f.table(t)

	got, ok, err := f.machine.AddItem(ctx, table.ID, "p1", 2)
	require.NoError(t, err)
	require.True(t, ok)
	require.Greater(t, got.OrderNumber, 0)

	got, err = f.machine.RemoveItem(ctx, table.ID, got.Items[0].ID)
	require.NoError(t, err)
	assertFree(t, got)

	// The ledger hold went with it.
	available, err := f.ledger.Available(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 10, available)
}

func TestAddItemInsufficientStock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	table := f.table(t)

	_, ok, err := f.machine.AddItem(ctx, table.ID, "p2", 5)
	require.NoError(t, err)
	assert.False(t, ok)

	// Refused reservation leaves the table untouched.
	got, err := f.machine.GetTable(ctx, table.ID)
	require.NoError(t, err)
	assertFree(t, got)
}

func TestAddItemMergesSameProduct(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	table := f.table(t)

	_, ok, err := f.machine.AddItem(ctx, table.ID, "p1", 2)
	require.NoError(t, err)
	require.True(t, ok)

	got, ok, err := f.machine.AddItem(ctx, table.ID, "p1", 3)
	require.NoError(t, err)
	require.True(t, ok)

	require.Len(t, got.Items, 1)
	assert.Equal(t, 5, got.Items[0].Quantity)
	assert.True(t, got.Items[0].LineTotal.Equal(decimal.NewFromInt(15)))

	reserved, err := f.ledger.Reserved(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 5, reserved)
}

func TestSecondItemKeepsOrderNumber(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	table := f.table(t)

	first, ok, err := f.machine.AddItem(ctx, table.ID, "p1", 1)
	require.NoError(t, err)
	require.True(t, ok)

	second, ok, err := f.machine.AddItem(ctx, table.ID, "p2", 1)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, first.OrderNumber, second.OrderNumber)
	assert.Len(t, second.Items, 2)
}

func TestKitchenTransitions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	table := f.table(t)

	_, ok, err := f.machine.AddItem(ctx, table.ID, "p1", 1)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := f.machine.MarkPreparing(ctx, table.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPreparing, got.Status)

	// No ledger effect: stock is already held.
	reserved, err := f.ledger.Reserved(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, reserved)

	got, err = f.machine.MarkReady(ctx, table.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusReady, got.Status)

	// Preparing is only reachable from Occupied.
	_, err = f.machine.MarkPreparing(ctx, table.ID)
	assert.Error(t, err)
}

func TestFinalizeConsumesStockAndResets(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	table := f.table(t)

	_, ok, err := f.machine.AddItem(ctx, table.ID, "p1", 3)
	require.NoError(t, err)
	require.True(t, ok)

	finalized, err := f.machine.Finalize(ctx, table.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusFinalized, finalized.Status)
	assert.Len(t, finalized.Items, 1)

	stock, err := f.catalog.GetStock(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 7, stock)

	got, err := f.machine.GetTable(ctx, table.ID)
	require.NoError(t, err)
	assertFree(t, got)

	reserved, err := f.ledger.Reserved(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 0, reserved)
}

func TestCancelReleasesWithoutConsuming(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	table := f.table(t)

	_, ok, err := f.machine.AddItem(ctx, table.ID, "p1", 3)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, f.machine.Cancel(ctx, table.ID, "guest left"))

	// Stock is untouched, holds are gone.
	stock, err := f.catalog.GetStock(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 10, stock)

	available, err := f.ledger.Available(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 10, available)

	got, err := f.machine.GetTable(ctx, table.ID)
	require.NoError(t, err)
	assertFree(t, got)
}

func TestStatusItemsNumberStayConsistent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	table := f.table(t)

	check := func() {
		got, err := f.machine.GetTable(ctx, table.ID)
		require.NoError(t, err)
		free := got.Status == models.OrderStatusFree
		assert.Equal(t, free, len(got.Items) == 0)
		assert.Equal(t, free, got.OrderNumber == 0)
	}

	check()
	got, ok, err := f.machine.AddItem(ctx, table.ID, "p1", 1)
	require.NoError(t, err)
	require.True(t, ok)
	check()
	_, ok, err = f.machine.AddItem(ctx, table.ID, "p2", 1)
	require.NoError(t, err)
	require.True(t, ok)
	check()
	_, err = f.machine.RemoveItem(ctx, table.ID, got.Items[0].ID)
	require.NoError(t, err)
	check()
	require.NoError(t, f.machine.Cancel(ctx, table.ID, "test"))
	check()
}

func TestDeleteTableRequiresFree(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	table := f.table(t)

	_, ok, err := f.machine.AddItem(ctx, table.ID, "p1", 1)
	require.NoError(t, err)
	require.True(t, ok)

	assert.ErrorIs(t, f.machine.DeleteTable(ctx, table.ID), ErrTableNotFree)

	require.NoError(t, f.machine.Cancel(ctx, table.ID, "closing"))
	require.NoError(t, f.machine.DeleteTable(ctx, table.ID))

	_, err = f.machine.GetTable(ctx, table.ID)
	assert.ErrorIs(t, err, ErrTableNotFound)
}
