package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pos-engine/internal/catalog"
	"pos-engine/internal/clock"
	"pos-engine/internal/kvstore"
	"pos-engine/internal/models"
)

func newTestLedger(t *testing.T, stock int) (*Ledger, *catalog.KVCatalog, *clock.Fixed) {
	t.Helper()

	store := kvstore.NewMemory()
	cat := catalog.NewKVCatalog(store)
	clk := clock.NewFixed(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))

	require.NoError(t, cat.PutProduct(context.Background(), models.Product{
		ID:    "p1",
		Name:  "espresso",
		Stock: stock,
	}))

	return New(store, cat, clk), cat, clk
}

func TestReserveInsufficientStockIsRejected(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newTestLedger(t, 5)

	ok, err := l.Reserve(ctx, "p1", 3, models.ReservationKindCart, "")
	require.NoError(t, err)
	assert.True(t, ok)

	available, err := l.Available(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 2, available)

	// Second reservation would exceed stock: rejected with no side effect.
	ok, err = l.Reserve(ctx, "p1", 3, models.ReservationKindCart, "")
	require.NoError(t, err)
	assert.False(t, ok)

	available, err = l.Available(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 2, available)
}

func TestNoOversellUnderMixedOperations(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newTestLedger(t, 10)

	ok, err := l.Reserve(ctx, "p1", 4, models.ReservationKindTable, "t1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = l.Reserve(ctx, "p1", 4, models.ReservationKindCart, "")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = l.Reserve(ctx, "p1", 4, models.ReservationKindTable, "t2")
	require.NoError(t, err)
	assert.False(t, ok)

	reserved, err := l.Reserved(ctx, "p1")
	require.NoError(t, err)
	assert.LessOrEqual(t, reserved, 10)

	require.NoError(t, l.Release(ctx, "p1", 4, models.ReservationKindCart, ""))

	ok, err = l.Reserve(ctx, "p1", 4, models.ReservationKindTable, "t2")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReleaseClampsAtZero(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newTestLedger(t, 5)

	ok, err := l.Reserve(ctx, "p1", 2, models.ReservationKindCart, "")
	require.NoError(t, err)
	require.True(t, ok)

	// Releasing far more than reserved is a clamped no-op past zero.
	require.NoError(t, l.Release(ctx, "p1", 100, models.ReservationKindCart, ""))

	reserved, err := l.Reserved(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 0, reserved)

	available, err := l.Available(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 5, available)
}

func TestReleaseOnlyMatchesKindAndTable(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newTestLedger(t, 10)

	_, err := l.Reserve(ctx, "p1", 3, models.ReservationKindTable, "t1")
	require.NoError(t, err)
	_, err = l.Reserve(ctx, "p1", 3, models.ReservationKindTable, "t2")
	require.NoError(t, err)

	require.NoError(t, l.Release(ctx, "p1", 3, models.ReservationKindTable, "t1"))

	reserved, err := l.Reserved(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 3, reserved)
}

func TestConfirmConsumptionDecrementsStock(t *testing.T) {
	ctx := context.Background()
	l, cat, _ := newTestLedger(t, 5)

	ok, err := l.Reserve(ctx, "p1", 3, models.ReservationKindTable, "t1")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, l.ConfirmConsumption(ctx, "p1", 3, "t1"))

	stock, err := cat.GetStock(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 2, stock)

	reserved, err := l.Reserved(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 0, reserved)

	available, err := l.Available(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 2, available)
}

func TestConfirmConsumptionPartial(t *testing.T) {
	ctx := context.Background()
	l, cat, _ := newTestLedger(t, 10)

	ok, err := l.Reserve(ctx, "p1", 5, models.ReservationKindTable, "t1")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, l.ConfirmConsumption(ctx, "p1", 2, "t1"))

	stock, err := cat.GetStock(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 8, stock)

	// The unconsumed remainder is still held.
	reserved, err := l.Reserved(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 3, reserved)
}

func TestReserveAloneNeverTouchesStock(t *testing.T) {
	ctx := context.Background()
	l, cat, _ := newTestLedger(t, 5)

	_, err := l.Reserve(ctx, "p1", 5, models.ReservationKindCart, "")
	require.NoError(t, err)

	stock, err := cat.GetStock(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 5, stock)
}

func TestCartReservationsExpire(t *testing.T) {
	ctx := context.Background()
	l, _, clk := newTestLedger(t, 5)

	ok, err := l.Reserve(ctx, "p1", 5, models.ReservationKindCart, "")
	require.NoError(t, err)
	require.True(t, ok)

	available, err := l.Available(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, 0, available)

	clk.Advance(DefaultCartTTL + time.Minute)

	dropped, err := l.ExpireStale(ctx)
	require.NoError(t, err)
	require.Len(t, dropped, 1)
	assert.Equal(t, "p1", dropped[0].ProductID)
	assert.Equal(t, 5, dropped[0].Quantity)

	available, err = l.Available(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 5, available)
}

func TestTableReservationsNeverExpire(t *testing.T) {
	ctx := context.Background()
	l, _, clk := newTestLedger(t, 5)

	ok, err := l.Reserve(ctx, "p1", 5, models.ReservationKindTable, "t1")
	require.NoError(t, err)
	require.True(t, ok)

	// An open tab may legitimately sit for hours.
	clk.Advance(12 * time.Hour)

	dropped, err := l.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Empty(t, dropped)

	reserved, err := l.Reserved(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 5, reserved)
}

func TestExpiryRunsBeforeReserve(t *testing.T) {
	ctx := context.Background()
	l, _, clk := newTestLedger(t, 5)

	ok, err := l.Reserve(ctx, "p1", 5, models.ReservationKindCart, "")
	require.NoError(t, err)
	require.True(t, ok)

	clk.Advance(DefaultCartTTL + time.Minute)

	// The stale hold must not block a new reservation.
	ok, err = l.Reserve(ctx, "p1", 5, models.ReservationKindCart, "")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCorruptLedgerTreatedAsEmpty(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemory()
	cat := catalog.NewKVCatalog(store)
	clk := clock.NewFixed(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	l := New(store, cat, clk)

	require.NoError(t, cat.PutProduct(ctx, models.Product{ID: "p1", Stock: 5}))
	require.NoError(t, store.Set(ctx, kvstore.KeyReservationLedger, []byte("{not json")))

	available, err := l.Available(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 5, available)

	ok, err := l.Reserve(ctx, "p1", 2, models.ReservationKindCart, "")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReserveNonPositiveQuantity(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newTestLedger(t, 5)

	ok, err := l.Reserve(ctx, "p1", 0, models.ReservationKindCart, "")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = l.Reserve(ctx, "p1", -3, models.ReservationKindCart, "")
	require.NoError(t, err)
	assert.False(t, ok)
}
