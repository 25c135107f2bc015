package catalog

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"pos-engine/internal/kvstore"
	"pos-engine/internal/models"
	"pos-engine/internal/util"
)

// ProductCatalog is the stock view the reservation ledger consumes. The
// catalog itself (CRUD, pricing screens) lives elsewhere; the engine only
// reads stock and writes deltas on confirmed consumption.
type ProductCatalog interface {
	GetStock(ctx context.Context, productID string) (int, error)
	AdjustStock(ctx context.Context, productID string, delta int) error
	GetProduct(ctx context.Context, productID string) (*models.Product, error)
}

// KVCatalog stores the product list as JSON under one key of the shared
// store, the same way the other engine state is kept.
type KVCatalog struct {
	store  kvstore.Store
	logger *zap.Logger
}

// NewKVCatalog creates a catalog backed by store.
func NewKVCatalog(store kvstore.Store) *KVCatalog {
	return &KVCatalog{
		store:  store,
		logger: util.GetLogger(),
	}
}

func (c *KVCatalog) load(ctx context.Context) map[string]models.Product {
	raw, err := c.store.Get(ctx, kvstore.KeyProductCatalog)
	if err != nil {
		return map[string]models.Product{}
	}

	var products map[string]models.Product
	if err := json.Unmarshal(raw, &products); err != nil {
		// Corrupt catalog data is treated as empty, never fatal.
		c.logger.Warn("Corrupt product catalog, treating as empty", zap.Error(err))
		return map[string]models.Product{}
	}
	return products
}

// GetStock returns the on-hand quantity for a product, 0 for unknown ids.
func (c *KVCatalog) GetStock(ctx context.Context, productID string) (int, error) {
	products := c.load(ctx)
	return products[productID].Stock, nil
}

// GetProduct returns the full product record, or nil for unknown ids.
func (c *KVCatalog) GetProduct(ctx context.Context, productID string) (*models.Product, error) {
	products := c.load(ctx)
	p, ok := products[productID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// AdjustStock applies delta to a product's on-hand quantity, clamped at 0.
func (c *KVCatalog) AdjustStock(ctx context.Context, productID string, delta int) error {
	return c.store.Update(ctx, kvstore.KeyProductCatalog, func(current []byte) ([]byte, error) {
		products := map[string]models.Product{}
		if current != nil {
			if err := json.Unmarshal(current, &products); err != nil {
				products = map[string]models.Product{}
			}
		}

		p := products[productID]
		p.ID = productID
		p.Stock += delta
		if p.Stock < 0 {
			p.Stock = 0
		}
		p.UpdatedAt = time.Now()
		products[productID] = p

		return json.Marshal(products)
	})
}

// PutProduct inserts or replaces a product record. Used by wiring and
// tests; the real catalog screens own this data.
func (c *KVCatalog) PutProduct(ctx context.Context, product models.Product) error {
	return c.store.Update(ctx, kvstore.KeyProductCatalog, func(current []byte) ([]byte, error) {
		products := map[string]models.Product{}
		if current != nil {
			if err := json.Unmarshal(current, &products); err != nil {
				products = map[string]models.Product{}
			}
		}
		products[product.ID] = product
		return json.Marshal(products)
	})
}
