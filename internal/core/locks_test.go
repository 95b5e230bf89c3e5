package core

import (
	"context"
	"sync"
	"testing"
)

func TestStockLocksSerializeAndRelease(t *testing.T) {
	locks := newStockLocks()
	var mu sync.Mutex
	active, peak := 0, 0
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.lock("stock-1")
			mu.Lock()
			active++
			if active > peak {
				peak = active
			}
			mu.Unlock()
			mu.Lock()
			active--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()
	if peak != 1 {
		t.Fatalf("expected one holder at a time, saw %d", peak)
	}
	if held := locks.held(); held != 0 {
		t.Fatalf("expected lock table empty, got %d", held)
	}
}

func TestStockLocksIndependentIDs(t *testing.T) {
	locks := newStockLocks()
	a := locks.lock("a")
	b := locks.lock("b")
	if locks.held() != 2 {
		t.Fatalf("expected two held ids, got %d", locks.held())
	}
	a()
	b()
	if locks.held() != 0 {
		t.Fatalf("expected lock table empty, got %d", locks.held())
	}
}

func TestConcurrentSplitsNeverOverdraw(t *testing.T) {
	f := newFixture(t, WithIDGenerator(sequentialIDs("id")))
	seedPizza(t, f.svc, 10, 0)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.SplitItem(context.Background(), "stock-1", 1, "slice-8", "cook", ""); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if succeeded != 10 {
		t.Fatalf("expected exactly 10 successful splits, got %d", succeeded)
	}
	stock := mustGetStock(t, f.store, "stock-1")
	if stock.WholeUnitsAvailable != 0 || stock.TotalPortionsAvailable != 70 || len(stock.ConversionsApplied) != 10 {
		t.Fatalf("unexpected stock after concurrent splits %+v", stock)
	}
	if f.svc.locks.held() != 0 {
		t.Fatalf("expected locks released, got %d", f.svc.locks.held())
	}
}
