package core

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"portioncore/internal/infra/persistence/memory"
	"portioncore/pkg/domain"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// testClock is a settable clock shared by the service and its memory store.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock { return &testClock{now: fixedNow} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	svc   *Service
	store *memory.Store
	clock *testClock
}

func newFixture(t *testing.T, opts ...Option) fixture {
	t.Helper()
	clock := newTestClock()
	store := memory.NewStore(clock.Now)
	svc := NewService(store, append([]Option{WithClock(clock)}, opts...)...)
	return fixture{svc: svc, store: store, clock: clock}
}

func intPtr(v int) *int { return &v }

func pizzaItem() domain.FractionalItem {
	return domain.FractionalItem{
		Base:                  domain.Base{ID: "item-pizza"},
		Name:                  "Pizza",
		Category:              "Food",
		BaseUnit:              "pie",
		SupportsFractional:    true,
		AvailablePortions:     []domain.PortionSize{{ID: "slice-8", Name: "Slice", PortionsPerWhole: 8}},
		AllowAutoConversion:   true,
		WastePercentage:       decimal.NewFromInt(5),
		BaseCostPerUnit:       decimal.NewFromInt(16),
		ConversionCostPerUnit: decimal.NewFromFloat(0.5),
	}
}

func mustCreateItem(t *testing.T, svc *Service, item domain.FractionalItem) domain.FractionalItem {
	t.Helper()
	created, err := svc.CreateItem(context.Background(), item)
	if err != nil {
		t.Fatalf("create item %s: %v", item.ID, err)
	}
	return created
}

func mustCreateStock(t *testing.T, svc *Service, stock domain.FractionalStock) domain.FractionalStock {
	t.Helper()
	created, err := svc.CreateStock(context.Background(), stock)
	if err != nil {
		t.Fatalf("create stock %s: %v", stock.ID, err)
	}
	return created
}

// seedPizza creates the pizza item and a stock at loc-1 with the given quantities.
func seedPizza(t *testing.T, svc *Service, whole, portions int) domain.FractionalStock {
	t.Helper()
	mustCreateItem(t, svc, pizzaItem())
	return mustCreateStock(t, svc, domain.FractionalStock{
		Base:                   domain.Base{ID: "stock-1"},
		ItemID:                 "item-pizza",
		LocationID:             "loc-1",
		WholeUnitsAvailable:    whole,
		TotalPortionsAvailable: portions,
	})
}

func mustGetStock(t *testing.T, store domain.PersistentStore, id string) domain.FractionalStock {
	t.Helper()
	stock, ok := store.GetStock(id)
	if !ok {
		t.Fatalf("stock %s not found", id)
	}
	return stock
}

// sequentialIDs returns a deterministic id generator.
func sequentialIDs(prefix string) func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

// failingStore wraps a store and rejects transactions while fail is set.
type failingStore struct {
	*memory.Store
	mu   sync.Mutex
	fail error
}

func (f *failingStore) setFail(err error) {
	f.mu.Lock()
	f.fail = err
	f.mu.Unlock()
}

func (f *failingStore) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) error {
	f.mu.Lock()
	err := f.fail
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.Store.RunInTransaction(ctx, fn)
}
