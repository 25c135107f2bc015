package catalog

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pos-engine/internal/kvstore"
	"pos-engine/internal/models"
)

func TestPutAndGet(t *testing.T) {
	ctx := context.Background()
	cat := NewKVCatalog(kvstore.NewMemory())

	require.NoError(t, cat.PutProduct(ctx, models.Product{
		ID:    "p1",
		Name:  "espresso",
		Price: decimal.RequireFromString("3.20"),
		Stock: 12,
	}))

	stock, err := cat.GetStock(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 12, stock)

	p, err := cat.GetProduct(ctx, "p1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.True(t, p.Price.Equal(decimal.RequireFromString("3.20")))
}

func TestUnknownProduct(t *testing.T) {
	ctx := context.Background()
	cat := NewKVCatalog(kvstore.NewMemory())

	stock, err := cat.GetStock(ctx, "nope")
	require.NoError(t, err)
	assert.Equal(t, 0, stock)

	p, err := cat.GetProduct(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestAdjustStockClampsAtZero(t *testing.T) {
	ctx := context.Background()
	cat := NewKVCatalog(kvstore.NewMemory())

	require.NoError(t, cat.PutProduct(ctx, models.Product{ID: "p1", Stock: 3}))

	require.NoError(t, cat.AdjustStock(ctx, "p1", -5))

	stock, err := cat.GetStock(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 0, stock)

	require.NoError(t, cat.AdjustStock(ctx, "p1", 2))
	stock, err = cat.GetStock(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 2, stock)
}

func TestCorruptCatalogTreatedAsEmpty(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemory()
	cat := NewKVCatalog(store)

	require.NoError(t, store.Set(ctx, kvstore.KeyProductCatalog, []byte("][")))

	stock, err := cat.GetStock(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 0, stock)

	// Writes recover the key.
	require.NoError(t, cat.PutProduct(ctx, models.Product{ID: "p1", Stock: 4}))
	stock, err = cat.GetStock(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 4, stock)
}
