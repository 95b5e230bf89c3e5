package domain

import (
	"context"
	"time"
)

// TransactionView provides read-only access to snapshot data.
type TransactionView interface {
	FindStock(id string) (FractionalStock, bool)
	FindItem(id string) (FractionalItem, bool)
	// ListStocks returns stocks at locationID, or every stock when it is empty.
	ListStocks(locationID string) []FractionalStock
	// ListActiveStocks returns every stock not in CONSUMED state.
	ListActiveStocks() []FractionalStock
	ListItems() []FractionalItem
	ListAlerts(locationID string) []InventoryAlert
	ListAlertsForStock(stockID string) []InventoryAlert
	ListRecommendations(locationID string) []ConversionRecommendation
	ListConversions(locationID string) []ConversionRecord
	ListConversionRules() []ConversionRule
}

// Transaction exposes the domain operations that a persistence implementation
// must support within an atomic scope.
type Transaction interface {
	Snapshot() TransactionView
	FindStock(id string) (FractionalStock, bool)
	FindItem(id string) (FractionalItem, bool)
	CreateItem(FractionalItem) (FractionalItem, error)
	CreateStock(FractionalStock) (FractionalStock, error)
	// UpdateStock merges patch into the stored record.
	UpdateStock(id string, patch StockPatch) (FractionalStock, error)
	// ApplyConversion stores record and moves the stock to its after-snapshot.
	ApplyConversion(stockID string, record ConversionRecord) (FractionalStock, error)
	LogOperation(InventoryOperation) error
	// ReplaceAlerts discards the stock's alerts and stores the given set.
	ReplaceAlerts(stockID string, alerts []InventoryAlert) error
	// ReplaceRecommendations discards the stock's recommendations and stores the given set.
	ReplaceRecommendations(stockID string, recs []ConversionRecommendation) error
	PutConversionRule(ConversionRule) (ConversionRule, error)
	DeleteConversionRule(id string) error
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) error
	View(ctx context.Context, fn func(TransactionView) error) error
	GetStock(id string) (FractionalStock, bool)
	GetItem(id string) (FractionalItem, bool)
	ListStocks(locationID string) []FractionalStock
}

// AnalyticsStore answers the ledger queries used by inventory metrics. An
// empty locationID spans every location.
type AnalyticsStore interface {
	DailyConversions(ctx context.Context, locationID string, asOf time.Time) (int, error)
	QualityDegradationRate(ctx context.Context, locationID string, asOf time.Time) (float64, error)
	TurnoverRate(ctx context.Context, locationID string, asOf time.Time) (float64, error)
	StockoutEvents(ctx context.Context, locationID string) (int, error)
	ConversionBacklog(ctx context.Context, locationID string) (int, error)
	ConversionRecommendations(ctx context.Context, locationID string) ([]ConversionRecommendation, error)
}
