package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/3mmar0/Flash-Sale-api/internal/domain"
)

const (
	productTTL   = 300 * time.Second
	availableTTL = 60 * time.Second
)

// ProductCache serves read-only display paths with bounded staleness.
// Both keys for a product are invalidated together by any stock- or
// hold-affecting mutation; write paths never read through it.
type ProductCache struct {
	store Store
}

func NewProductCache(store Store) *ProductCache {
	return &ProductCache{store: store}
}

func productKey(productID string) string {
	return fmt.Sprintf("product:%s", productID)
}

func availableKey(productID string) string {
	return fmt.Sprintf("product_available_stock:%s", productID)
}

func (c *ProductCache) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	raw, found, err := c.store.Get(ctx, productKey(productID))
	if err != nil || !found {
		return nil, err
	}
	var p domain.Product
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		// A corrupt entry is treated as a miss; the caller refills it.
		return nil, nil
	}
	return &p, nil
}

func (c *ProductCache) SetProduct(ctx context.Context, product domain.Product) error {
	raw, err := json.Marshal(product)
	if err != nil {
		return fmt.Errorf("marshal product: %w", err)
	}
	return c.store.Set(ctx, productKey(product.ID), string(raw), productTTL)
}

func (c *ProductCache) GetAvailable(ctx context.Context, productID string) (int, bool, error) {
	raw, found, err := c.store.Get(ctx, availableKey(productID))
	if err != nil || !found {
		return 0, false, err
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, nil
	}
	return n, true, nil
}

func (c *ProductCache) SetAvailable(ctx context.Context, productID string, available int) error {
	return c.store.Set(ctx, availableKey(productID), strconv.Itoa(available), availableTTL)
}

func (c *ProductCache) Invalidate(ctx context.Context, productID string) error {
	return c.store.Delete(ctx, productKey(productID), availableKey(productID))
}
