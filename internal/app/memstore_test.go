package app

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/3mmar0/Flash-Sale-api/internal/domain"
)

// memStore is an in-memory stand-in for the Postgres repositories. Its
// WithTx serializes on one mutex, which models the row-lock serialization
// the real store provides tightly enough for the service-level properties
// under test (oversell prevention, idempotence, dominance), and restores a
// snapshot when the transaction function fails, which models rollback.
type memStore struct {
	mu       sync.Mutex
	products map[string]*domain.Product
	holds    map[string]*domain.Hold
	orders   map[string]*domain.Order
	events   map[string]*domain.PaymentEvent
}

func newMemStore() *memStore {
	return &memStore{
		products: make(map[string]*domain.Product),
		holds:    make(map[string]*domain.Hold),
		orders:   make(map[string]*domain.Order),
		events:   make(map[string]*domain.PaymentEvent),
	}
}

type memTxKey struct{}

func (m *memStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memTxKey{}) != nil {
		return fn(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	err := fn(context.WithValue(ctx, memTxKey{}, true))
	if err != nil {
		m.restore(snap)
	}
	return err
}

// InTx reports whether ctx already carries an open transaction.
func (m *memStore) InTx(ctx context.Context) bool {
	return ctx.Value(memTxKey{}) != nil
}

type memSnapshot struct {
	products map[string]domain.Product
	holds    map[string]domain.Hold
	orders   map[string]domain.Order
	events   map[string]domain.PaymentEvent
}

func (m *memStore) snapshot() memSnapshot {
	snap := memSnapshot{
		products: make(map[string]domain.Product, len(m.products)),
		holds:    make(map[string]domain.Hold, len(m.holds)),
		orders:   make(map[string]domain.Order, len(m.orders)),
		events:   make(map[string]domain.PaymentEvent, len(m.events)),
	}
	for k, v := range m.products {
		snap.products[k] = *v
	}
	for k, v := range m.holds {
		snap.holds[k] = *v
	}
	for k, v := range m.orders {
		snap.orders[k] = *v
	}
	for k, v := range m.events {
		snap.events[k] = *v
	}
	return snap
}

func (m *memStore) restore(snap memSnapshot) {
	m.products = make(map[string]*domain.Product, len(snap.products))
	m.holds = make(map[string]*domain.Hold, len(snap.holds))
	m.orders = make(map[string]*domain.Order, len(snap.orders))
	m.events = make(map[string]*domain.PaymentEvent, len(snap.events))
	for k, v := range snap.products {
		cp := v
		m.products[k] = &cp
	}
	for k, v := range snap.holds {
		cp := v
		m.holds[k] = &cp
	}
	for k, v := range snap.orders {
		cp := v
		m.orders[k] = &cp
	}
	for k, v := range snap.events {
		cp := v
		m.events[k] = &cp
	}
}

func (m *memStore) addProduct(p domain.Product) {
	cp := p
	m.products[p.ID] = &cp
}

func (m *memStore) addHold(h domain.Hold) {
	cp := h
	m.holds[h.ID] = &cp
}

func (m *memStore) addOrder(o domain.Order) {
	cp := o
	m.orders[o.ID] = &cp
}

func (m *memStore) addEvent(e domain.PaymentEvent) {
	cp := e
	m.events[e.IdempotencyKey] = &cp
}

// StockRepository

func (m *memStore) CreateProduct(_ context.Context, product domain.Product) error {
	m.addProduct(product)
	return nil
}

func (m *memStore) GetProduct(_ context.Context, productID string) (domain.Product, error) {
	p, ok := m.products[productID]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return *p, nil
}

func (m *memStore) ListProducts(_ context.Context) ([]domain.Product, error) {
	out := make([]domain.Product, 0, len(m.products))
	for _, p := range m.products {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memStore) SumActiveHolds(_ context.Context, productID string) (int, error) {
	total := 0
	for _, h := range m.holds {
		if h.ProductID == productID && h.Status == domain.HoldStatusActive {
			total += h.Qty
		}
	}
	return total, nil
}

// HoldRepository

func (m *memStore) GetProductForUpdate(ctx context.Context, productID string) (domain.Product, error) {
	return m.GetProduct(ctx, productID)
}

func (m *memStore) CreateHold(_ context.Context, hold domain.Hold) error {
	m.addHold(hold)
	return nil
}

func (m *memStore) GetHold(_ context.Context, holdID string) (domain.Hold, error) {
	h, ok := m.holds[holdID]
	if !ok {
		return domain.Hold{}, domain.ErrHoldNotFound
	}
	return *h, nil
}

func (m *memStore) GetHoldForUpdate(ctx context.Context, holdID string) (domain.Hold, error) {
	return m.GetHold(ctx, holdID)
}

func (m *memStore) UpdateHoldStatus(_ context.Context, holdID string, status domain.HoldStatus) error {
	h, ok := m.holds[holdID]
	if !ok {
		return domain.ErrHoldNotFound
	}
	h.Status = status
	return nil
}

func (m *memStore) ListDueHolds(_ context.Context, now time.Time, afterID string, limit int) ([]domain.Hold, error) {
	var due []domain.Hold
	for _, h := range m.holds {
		if h.Status == domain.HoldStatusActive && !h.ExpiresAt.After(now) && h.ID > afterID {
			due = append(due, *h)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ID < due[j].ID })
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (m *memStore) ListHolds(_ context.Context) ([]domain.Hold, error) {
	out := make([]domain.Hold, 0, len(m.holds))
	for _, h := range m.holds {
		out = append(out, *h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// OrderRepository

func (m *memStore) GetOrderByHoldID(_ context.Context, holdID string) (*domain.Order, error) {
	for _, o := range m.orders {
		if o.HoldID == holdID {
			cp := *o
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) CreateOrder(ctx context.Context, order domain.Order) error {
	if existing, _ := m.GetOrderByHoldID(ctx, order.HoldID); existing != nil {
		return &domain.InvalidHoldError{Reason: "already used"}
	}
	m.addOrder(order)
	return nil
}

func (m *memStore) GetOrder(_ context.Context, orderID string) (domain.Order, error) {
	o, ok := m.orders[orderID]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return *o, nil
}

func (m *memStore) ListOrders(_ context.Context) ([]domain.Order, error) {
	out := make([]domain.Order, 0, len(m.orders))
	for _, o := range m.orders {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// PaymentRepository

func (m *memStore) FindEventByKeyForUpdate(ctx context.Context, key string) (*domain.PaymentEvent, error) {
	return m.FindEventByKey(ctx, key)
}

func (m *memStore) FindEventByKey(_ context.Context, key string) (*domain.PaymentEvent, error) {
	e, ok := m.events[key]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (m *memStore) CreateEvent(_ context.Context, event domain.PaymentEvent) error {
	if _, exists := m.events[event.IdempotencyKey]; exists {
		return domain.ErrDuplicateEvent
	}
	m.addEvent(event)
	return nil
}

func (m *memStore) MarkEventApplied(_ context.Context, eventID string, at time.Time) error {
	for _, e := range m.events {
		if e.ID == eventID {
			stamped := at
			e.ProcessedAt = &stamped
			return nil
		}
	}
	return domain.ErrOrderNotFound
}

func (m *memStore) ListUnappliedEventsByOrder(_ context.Context, orderID string) ([]domain.PaymentEvent, error) {
	var out []domain.PaymentEvent
	for _, e := range m.events {
		if e.OrderID == orderID && e.Status == domain.PaymentEventProcessed && e.ProcessedAt == nil {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memStore) GetOrderForUpdate(_ context.Context, orderID string) (*domain.Order, error) {
	o, ok := m.orders[orderID]
	if !ok {
		return nil, nil
	}
	cp := *o
	return &cp, nil
}

func (m *memStore) UpdateOrderStatus(_ context.Context, orderID string, status domain.OrderStatus, paymentReference string) error {
	o, ok := m.orders[orderID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	o.Status = status
	if paymentReference != "" {
		o.PaymentReference = paymentReference
	}
	return nil
}

func (m *memStore) DecrementStock(_ context.Context, productID string, qty int) error {
	p, ok := m.products[productID]
	if !ok {
		return domain.ErrProductNotFound
	}
	p.Stock -= qty
	return nil
}

// fakeCache records invalidations and serves nothing, so every read falls
// through to the store.
type fakeCache struct {
	mu            sync.Mutex
	invalidations map[string]int
	available     map[string]int
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		invalidations: make(map[string]int),
		available:     make(map[string]int),
	}
}

func (c *fakeCache) GetProduct(context.Context, string) (*domain.Product, error) {
	return nil, nil
}

func (c *fakeCache) SetProduct(context.Context, domain.Product) error { return nil }

func (c *fakeCache) GetAvailable(_ context.Context, productID string) (int, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.available[productID]
	return n, ok, nil
}

func (c *fakeCache) SetAvailable(_ context.Context, productID string, available int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.available[productID] = available
	return nil
}

func (c *fakeCache) Invalidate(_ context.Context, productID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidations[productID]++
	delete(c.available, productID)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// world wires the real services over one shared memStore.
type world struct {
	store    *memStore
	cache    *fakeCache
	clock    *fixedClock
	stock    *StockService
	holds    *HoldService
	orders   *OrderService
	payments *PaymentService
}

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fixedClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fixedClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newWorld(now time.Time, opts ...HoldServiceOption) *world {
	store := newMemStore()
	cch := newFakeCache()
	clk := &fixedClock{now: now.UTC()}
	logger := testLogger()

	stock := NewStockService(store, cch, clk, logger)
	holds := NewHoldService(store, stock, clk, logger, opts...)
	payments := NewPaymentService(store, holds, stock, clk, logger)
	orders := NewOrderService(store, holds, payments, stock, clk, logger)

	return &world{
		store:    store,
		cache:    cch,
		clock:    clk,
		stock:    stock,
		holds:    holds,
		orders:   orders,
		payments: payments,
	}
}
