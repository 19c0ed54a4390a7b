package app

import (
	"context"
	"log/slog"

	"github.com/3mmar0/Flash-Sale-api/internal/clock"
	"github.com/3mmar0/Flash-Sale-api/internal/domain"
)

type StockRepository interface {
	CreateProduct(ctx context.Context, product domain.Product) error
	GetProduct(ctx context.Context, productID string) (domain.Product, error)
	ListProducts(ctx context.Context) ([]domain.Product, error)
	SumActiveHolds(ctx context.Context, productID string) (int, error)
}

// ProductCache is the injected KV collaborator for display reads.
type ProductCache interface {
	GetProduct(ctx context.Context, productID string) (*domain.Product, error)
	SetProduct(ctx context.Context, product domain.Product) error
	GetAvailable(ctx context.Context, productID string) (int, bool, error)
	SetAvailable(ctx context.Context, productID string, available int) error
	Invalidate(ctx context.Context, productID string) error
}

// StockService is the stock ledger: the authoritative availability
// computation for write paths and the cache-backed accessors for display.
type StockService struct {
	repo   StockRepository
	cache  ProductCache
	clock  clock.Clock
	logger *slog.Logger
}

func NewStockService(repo StockRepository, cache ProductCache, clk clock.Clock, logger *slog.Logger) *StockService {
	return &StockService{
		repo:   repo,
		cache:  cache,
		clock:  clk,
		logger: logger,
	}
}

// AvailableUncached is the authoritative computation: stock minus active
// hold quantity, clamped at zero. Write paths that gate on availability
// must call it inside a transaction that holds the product row lock, never
// the cached accessor.
func (s *StockService) AvailableUncached(ctx context.Context, product domain.Product) (int, error) {
	activeQty, err := s.repo.SumActiveHolds(ctx, product.ID)
	if err != nil {
		return 0, err
	}
	return domain.AvailableStock(product.Stock, activeQty), nil
}

// Available serves display reads from the cache with a bounded staleness
// window, recomputing on miss.
func (s *StockService) Available(ctx context.Context, productID string) (int, error) {
	if cached, found, err := s.cache.GetAvailable(ctx, productID); err == nil && found {
		return cached, nil
	} else if err != nil {
		s.logger.Warn("availability cache read failed", "product_id", productID, "error", err.Error())
	}

	product, err := s.repo.GetProduct(ctx, productID)
	if err != nil {
		return 0, err
	}
	available, err := s.AvailableUncached(ctx, product)
	if err != nil {
		return 0, err
	}
	if err := s.cache.SetAvailable(ctx, productID, available); err != nil {
		s.logger.Warn("availability cache write failed", "product_id", productID, "error", err.Error())
	}
	return available, nil
}

// GetProduct is the cache-backed product read for display paths.
func (s *StockService) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	if cached, err := s.cache.GetProduct(ctx, productID); err == nil && cached != nil {
		return *cached, nil
	} else if err != nil {
		s.logger.Warn("product cache read failed", "product_id", productID, "error", err.Error())
	}

	product, err := s.repo.GetProduct(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	if err := s.cache.SetProduct(ctx, product); err != nil {
		s.logger.Warn("product cache write failed", "product_id", productID, "error", err.Error())
	}
	return product, nil
}

func (s *StockService) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

type CreateProductInput struct {
	Name  string
	Price float64
	Stock int
}

func (s *StockService) CreateProduct(ctx context.Context, in CreateProductInput) (domain.Product, error) {
	if in.Name == "" {
		return domain.Product{}, domain.ErrProductNameRequired
	}
	if in.Stock < 0 {
		return domain.Product{}, domain.ErrInvalidStock
	}

	product := domain.Product{
		ID:        newID(),
		Name:      in.Name,
		Price:     in.Price,
		Stock:     in.Stock,
		CreatedAt: s.clock.Now(),
	}
	if err := s.repo.CreateProduct(ctx, product); err != nil {
		return domain.Product{}, err
	}
	return product, nil
}

// Invalidate drops both cache keys for a product. Every operation that
// changes a product's stock or active-hold set calls this. A cache failure
// is logged, not surfaced: staleness is bounded by the key TTLs.
func (s *StockService) Invalidate(ctx context.Context, productID string) {
	if err := s.cache.Invalidate(ctx, productID); err != nil {
		s.logger.Warn("cache invalidation failed", "product_id", productID, "error", err.Error())
	}
}
