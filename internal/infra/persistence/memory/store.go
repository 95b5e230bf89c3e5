// Package memory provides an in-memory implementation of the inventory
// persistence store used for tests and ephemeral environments.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"portioncore/pkg/domain"
)

// Compile-time contract assertions ensuring memory.Store adheres to the domain persistence interfaces.
var (
	_ domain.PersistentStore = (*Store)(nil)
	_ domain.AnalyticsStore  = (*Store)(nil)
)

type (
	// FractionalItem aliases domain.FractionalItem.
	FractionalItem = domain.FractionalItem
	// FractionalStock aliases domain.FractionalStock.
	FractionalStock = domain.FractionalStock
	// ConversionRecord aliases domain.ConversionRecord.
	ConversionRecord = domain.ConversionRecord
	// InventoryAlert aliases domain.InventoryAlert.
	InventoryAlert = domain.InventoryAlert
	// ConversionRecommendation aliases domain.ConversionRecommendation.
	ConversionRecommendation = domain.ConversionRecommendation
	// InventoryOperation aliases domain.InventoryOperation.
	InventoryOperation = domain.InventoryOperation
	// ConversionRule aliases domain.ConversionRule.
	ConversionRule = domain.ConversionRule
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

type memoryState struct {
	items           map[string]FractionalItem
	stocks          map[string]FractionalStock
	conversions     map[string]ConversionRecord
	operations      []InventoryOperation
	alerts          map[string][]InventoryAlert
	recommendations map[string][]ConversionRecommendation
	rules           map[string]ConversionRule
}

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Items           map[string]FractionalItem             `json:"items"`
	Stocks          map[string]FractionalStock            `json:"stocks"`
	Conversions     map[string]ConversionRecord           `json:"conversions"`
	Operations      []InventoryOperation                  `json:"operations"`
	Alerts          map[string][]InventoryAlert           `json:"alerts"`
	Recommendations map[string][]ConversionRecommendation `json:"recommendations"`
	Rules           map[string]ConversionRule             `json:"rules"`
}

func newMemoryState() memoryState {
	return memoryState{
		items:           make(map[string]FractionalItem),
		stocks:          make(map[string]FractionalStock),
		conversions:     make(map[string]ConversionRecord),
		alerts:          make(map[string][]InventoryAlert),
		recommendations: make(map[string][]ConversionRecommendation),
		rules:           make(map[string]ConversionRule),
	}
}

func (s memoryState) clone() memoryState {
	cloned := newMemoryState()
	for k, v := range s.items {
		cloned.items[k] = cloneItem(v)
	}
	for k, v := range s.stocks {
		cloned.stocks[k] = cloneStock(v)
	}
	for k, v := range s.conversions {
		cloned.conversions[k] = cloneConversion(v)
	}
	cloned.operations = make([]InventoryOperation, len(s.operations), len(s.operations)+1)
	for i, op := range s.operations {
		cloned.operations[i] = cloneOperation(op)
	}
	for k, v := range s.alerts {
		cloned.alerts[k] = cloneAlerts(v)
	}
	for k, v := range s.recommendations {
		cloned.recommendations[k] = append([]ConversionRecommendation(nil), v...)
	}
	for k, v := range s.rules {
		cloned.rules[k] = cloneRule(v)
	}
	return cloned
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	c := state.clone()
	return Snapshot{
		Items:           c.items,
		Stocks:          c.stocks,
		Conversions:     c.conversions,
		Operations:      c.operations,
		Alerts:          c.alerts,
		Recommendations: c.recommendations,
		Rules:           c.rules,
	}
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	s = migrateSnapshot(s)
	src := memoryState{
		items:           s.Items,
		stocks:          s.Stocks,
		conversions:     s.Conversions,
		operations:      s.Operations,
		alerts:          s.Alerts,
		recommendations: s.Recommendations,
		rules:           s.Rules,
	}
	return src.clone()
}

// migrateSnapshot fills buckets missing from older or partial snapshots.
func migrateSnapshot(snapshot Snapshot) Snapshot {
	if snapshot.Items == nil {
		snapshot.Items = map[string]FractionalItem{}
	}
	if snapshot.Stocks == nil {
		snapshot.Stocks = map[string]FractionalStock{}
	}
	if snapshot.Conversions == nil {
		snapshot.Conversions = map[string]ConversionRecord{}
	}
	if snapshot.Alerts == nil {
		snapshot.Alerts = map[string][]InventoryAlert{}
	}
	if snapshot.Recommendations == nil {
		snapshot.Recommendations = map[string][]ConversionRecommendation{}
	}
	if snapshot.Rules == nil {
		snapshot.Rules = map[string]ConversionRule{}
	}
	for id, stock := range snapshot.Stocks {
		if stock.ConversionsApplied == nil {
			stock.ConversionsApplied = []string{}
		}
		if stock.QualityGrade == "" {
			stock.QualityGrade = domain.GradeExcellent
		}
		if stock.CurrentState == "" {
			stock.CurrentState = domain.StateRaw
		}
		snapshot.Stocks[id] = stock
	}
	return snapshot
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}

func cloneItem(i FractionalItem) FractionalItem {
	cp := i
	cp.AvailablePortions = append([]domain.PortionSize(nil), i.AvailablePortions...)
	cp.ShelfLifeHours = cloneInt(i.ShelfLifeHours)
	cp.MaxQualityHours = cloneInt(i.MaxQualityHours)
	return cp
}

func cloneStock(s FractionalStock) FractionalStock {
	cp := s
	cp.ConversionsApplied = append([]string{}, s.ConversionsApplied...)
	cp.PreparedAt = cloneTime(s.PreparedAt)
	cp.ExpiresAt = cloneTime(s.ExpiresAt)
	cp.StateTransitionDate = cloneTime(s.StateTransitionDate)
	cp.LastQualityCheck = cloneTime(s.LastQualityCheck)
	return cp
}

func cloneConversion(r ConversionRecord) ConversionRecord {
	cp := r
	cp.SourceStockIDs = append([]string(nil), r.SourceStockIDs...)
	cp.TargetStockIDs = append([]string(nil), r.TargetStockIDs...)
	return cp
}

func cloneOperation(op InventoryOperation) InventoryOperation {
	cp := op
	if op.Conversion != nil {
		rec := cloneConversion(*op.Conversion)
		cp.Conversion = &rec
	}
	return cp
}

func cloneAlerts(alerts []InventoryAlert) []InventoryAlert {
	out := make([]InventoryAlert, len(alerts))
	for i, a := range alerts {
		a.RecommendedActions = append([]domain.RecommendedAction(nil), a.RecommendedActions...)
		out[i] = a
	}
	return out
}

func cloneRule(r ConversionRule) ConversionRule {
	cp := r
	cp.ItemIDs = append([]string(nil), r.ItemIDs...)
	return cp
}

// Store provides an in-memory transactional store for the inventory domain.
type Store struct {
	mu    sync.RWMutex
	state memoryState
	nowFn func() time.Time
}

// NewStore constructs an empty in-memory store. A nil nowFn uses the UTC wall clock.
func NewStore(nowFn func() time.Time) *Store {
	if nowFn == nil {
		nowFn = func() time.Time { return time.Now().UTC() }
	}
	return &Store{
		state: newMemoryState(),
		nowFn: nowFn,
	}
}

func (s *Store) newID() string {
	return uuid.NewString()
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(snapshot)
}

// NowFunc returns the time provider used by the in-memory store.
func (s *Store) NowFunc() func() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowFn
}

type transaction struct {
	store   *Store
	state   memoryState
	now     time.Time
	touched map[string]struct{}
}

type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

// RunInTransaction executes fn within a transactional copy of the store state.
// The copy replaces the committed state only when fn succeeds and every
// touched stock still satisfies its invariants.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		store:   s,
		state:   s.state.clone(),
		now:     s.nowFn(),
		touched: make(map[string]struct{}),
	}
	if err := fn(tx); err != nil {
		return err
	}
	for id := range tx.touched {
		stock, ok := tx.state.stocks[id]
		if !ok {
			continue
		}
		if err := stock.Validate(); err != nil {
			return fmt.Errorf("commit rejected: %w", err)
		}
	}
	s.state = tx.state
	return nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(ctx context.Context, fn func(TransactionView) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	snapshot := s.state.clone()
	s.mu.RUnlock()
	return fn(newTransactionView(&snapshot))
}

func (v transactionView) FindStock(id string) (FractionalStock, bool) {
	st, ok := v.state.stocks[id]
	if !ok {
		return FractionalStock{}, false
	}
	return cloneStock(st), true
}

func (v transactionView) FindItem(id string) (FractionalItem, bool) {
	it, ok := v.state.items[id]
	if !ok {
		return FractionalItem{}, false
	}
	return cloneItem(it), true
}

func (v transactionView) ListStocks(locationID string) []FractionalStock {
	return listStocks(v.state, func(st FractionalStock) bool {
		return locationID == "" || st.LocationID == locationID
	})
}

func (v transactionView) ListActiveStocks() []FractionalStock {
	return listStocks(v.state, FractionalStock.Active)
}

func (v transactionView) ListItems() []FractionalItem {
	out := make([]FractionalItem, 0, len(v.state.items))
	for _, it := range v.state.items {
		out = append(out, cloneItem(it))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (v transactionView) ListAlerts(locationID string) []InventoryAlert {
	var out []InventoryAlert
	for _, alerts := range v.state.alerts {
		for _, a := range alerts {
			if a.IsActive && (locationID == "" || a.LocationID == locationID) {
				out = append(out, a)
			}
		}
	}
	out = cloneAlerts(out)
	domain.SortAlerts(out)
	return out
}

func (v transactionView) ListAlertsForStock(stockID string) []InventoryAlert {
	out := cloneAlerts(v.state.alerts[stockID])
	domain.SortAlerts(out)
	return out
}

func (v transactionView) ListRecommendations(locationID string) []ConversionRecommendation {
	return listRecommendations(v.state, locationID, "")
}

func (v transactionView) ListConversions(locationID string) []ConversionRecord {
	out := make([]ConversionRecord, 0, len(v.state.conversions))
	for _, rec := range v.state.conversions {
		if locationID == "" || rec.LocationID == locationID {
			out = append(out, cloneConversion(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PerformedAt.Equal(out[j].PerformedAt) {
			return out[i].PerformedAt.Before(out[j].PerformedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (v transactionView) ListConversionRules() []ConversionRule {
	out := make([]ConversionRule, 0, len(v.state.rules))
	for _, r := range v.state.rules {
		out = append(out, cloneRule(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func listStocks(state *memoryState, keep func(FractionalStock) bool) []FractionalStock {
	out := make([]FractionalStock, 0, len(state.stocks))
	for _, st := range state.stocks {
		if keep(st) {
			out = append(out, cloneStock(st))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func listRecommendations(state *memoryState, locationID string, status domain.RecommendationStatus) []ConversionRecommendation {
	var out []ConversionRecommendation
	for _, recs := range state.recommendations {
		for _, r := range recs {
			if locationID != "" && r.LocationID != locationID {
				continue
			}
			if status != "" && r.Status != status {
				continue
			}
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].RecommendedAt.Equal(out[j].RecommendedAt) {
			return out[i].RecommendedAt.Before(out[j].RecommendedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

// FindStock exposes stock lookup within the transaction scope.
func (tx *transaction) FindStock(id string) (FractionalStock, bool) {
	return tx.Snapshot().FindStock(id)
}

// FindItem exposes item lookup within the transaction scope.
func (tx *transaction) FindItem(id string) (FractionalItem, bool) {
	return tx.Snapshot().FindItem(id)
}

// CreateItem stores a new catalog item within the transaction.
func (tx *transaction) CreateItem(item FractionalItem) (FractionalItem, error) {
	if item.ID == "" {
		item.ID = tx.store.newID()
	}
	if _, exists := tx.state.items[item.ID]; exists {
		return FractionalItem{}, fmt.Errorf("item %q already exists", item.ID)
	}
	if err := item.Validate(); err != nil {
		return FractionalItem{}, err
	}
	item.CreatedAt = tx.now
	item.UpdatedAt = tx.now
	tx.state.items[item.ID] = cloneItem(item)
	return cloneItem(item), nil
}

// CreateStock stores a new stock record for an existing item.
func (tx *transaction) CreateStock(stock FractionalStock) (FractionalStock, error) {
	if stock.ID == "" {
		stock.ID = tx.store.newID()
	}
	if _, exists := tx.state.stocks[stock.ID]; exists {
		return FractionalStock{}, fmt.Errorf("stock %q already exists", stock.ID)
	}
	item, ok := tx.state.items[stock.ItemID]
	if !ok {
		return FractionalStock{}, domain.NotFoundError{Entity: domain.EntityItem, ID: stock.ItemID}
	}
	if stock.PreparedAt != nil && stock.ExpiresAt == nil && item.ShelfLifeHours != nil {
		expires := stock.PreparedAt.Add(time.Duration(*item.ShelfLifeHours) * time.Hour)
		stock.ExpiresAt = &expires
	}
	if stock.CurrentState == "" {
		stock.CurrentState = domain.StateRaw
	}
	if stock.QualityGrade == "" {
		stock.QualityGrade = domain.GradeExcellent
	}
	if stock.OriginalWholeUnits == 0 {
		stock.OriginalWholeUnits = stock.WholeUnitsAvailable
	}
	if stock.OriginalTotalPortions == 0 {
		stock.OriginalTotalPortions = stock.TotalPortionsAvailable
	}
	if stock.ConversionsApplied == nil {
		stock.ConversionsApplied = []string{}
	}
	if err := stock.Validate(); err != nil {
		return FractionalStock{}, err
	}
	stock.CreatedAt = tx.now
	stock.UpdatedAt = tx.now
	tx.state.stocks[stock.ID] = cloneStock(stock)
	tx.touched[stock.ID] = struct{}{}
	return cloneStock(stock), nil
}

// UpdateStock merges patch into the stored stock.
func (tx *transaction) UpdateStock(id string, patch domain.StockPatch) (FractionalStock, error) {
	current, ok := tx.state.stocks[id]
	if !ok {
		return FractionalStock{}, domain.NotFoundError{Entity: domain.EntityStock, ID: id}
	}
	current = cloneStock(current)
	patch.Apply(&current)
	if err := current.Validate(); err != nil {
		return FractionalStock{}, err
	}
	current.UpdatedAt = tx.now
	tx.state.stocks[id] = current
	tx.touched[id] = struct{}{}
	return cloneStock(current), nil
}

// ApplyConversion stores record and moves the stock to its after-snapshot.
func (tx *transaction) ApplyConversion(stockID string, record ConversionRecord) (FractionalStock, error) {
	current, ok := tx.state.stocks[stockID]
	if !ok {
		return FractionalStock{}, domain.NotFoundError{Entity: domain.EntityStock, ID: stockID}
	}
	if record.ID == "" {
		record.ID = tx.store.newID()
	}
	if _, exists := tx.state.conversions[record.ID]; exists {
		return FractionalStock{}, fmt.Errorf("conversion %q already exists", record.ID)
	}
	if record.StockID != "" && record.StockID != stockID {
		return FractionalStock{}, fmt.Errorf("conversion %q belongs to stock %q, not %q", record.ID, record.StockID, stockID)
	}
	record.StockID = stockID
	current = cloneStock(current)
	current.ApplyConversion(record)
	if err := current.Validate(); err != nil {
		return FractionalStock{}, err
	}
	current.UpdatedAt = tx.now
	tx.state.stocks[stockID] = current
	tx.state.conversions[record.ID] = cloneConversion(record)
	tx.touched[stockID] = struct{}{}
	return cloneStock(current), nil
}

// LogOperation appends an entry to the operation ledger.
func (tx *transaction) LogOperation(op InventoryOperation) error {
	if op.ID == "" {
		op.ID = tx.store.newID()
	}
	if op.PerformedAt.IsZero() {
		op.PerformedAt = tx.now
	}
	tx.state.operations = append(tx.state.operations, cloneOperation(op))
	return nil
}

// ReplaceAlerts discards every alert for stockID and stores alerts in their place.
func (tx *transaction) ReplaceAlerts(stockID string, alerts []InventoryAlert) error {
	if len(alerts) == 0 {
		delete(tx.state.alerts, stockID)
		return nil
	}
	next := cloneAlerts(alerts)
	for i := range next {
		if next[i].ID == "" {
			next[i].ID = tx.store.newID()
		}
		if next[i].StockID != stockID {
			return fmt.Errorf("alert %q belongs to stock %q, not %q", next[i].ID, next[i].StockID, stockID)
		}
	}
	tx.state.alerts[stockID] = next
	return nil
}

// ReplaceRecommendations discards every recommendation for stockID and stores recs in their place.
func (tx *transaction) ReplaceRecommendations(stockID string, recs []ConversionRecommendation) error {
	if len(recs) == 0 {
		delete(tx.state.recommendations, stockID)
		return nil
	}
	next := append([]ConversionRecommendation(nil), recs...)
	for i := range next {
		if next[i].ID == "" {
			next[i].ID = tx.store.newID()
		}
		if next[i].StockID != stockID {
			return fmt.Errorf("recommendation %q belongs to stock %q, not %q", next[i].ID, next[i].StockID, stockID)
		}
	}
	tx.state.recommendations[stockID] = next
	return nil
}

// PutConversionRule creates or replaces an automatic conversion rule.
func (tx *transaction) PutConversionRule(rule ConversionRule) (ConversionRule, error) {
	if err := rule.Validate(); err != nil {
		return ConversionRule{}, err
	}
	if rule.ID == "" {
		rule.ID = tx.store.newID()
	}
	if existing, ok := tx.state.rules[rule.ID]; ok {
		rule.CreatedAt = existing.CreatedAt
	} else {
		rule.CreatedAt = tx.now
	}
	rule.UpdatedAt = tx.now
	tx.state.rules[rule.ID] = cloneRule(rule)
	return cloneRule(rule), nil
}

// DeleteConversionRule removes an automatic conversion rule.
func (tx *transaction) DeleteConversionRule(id string) error {
	if _, ok := tx.state.rules[id]; !ok {
		return domain.NotFoundError{Entity: domain.EntityConversionRule, ID: id}
	}
	delete(tx.state.rules, id)
	return nil
}

// GetStock returns a stock by id.
func (s *Store) GetStock(id string) (FractionalStock, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newTransactionView(&s.state).FindStock(id)
}

// GetItem returns a catalog item by id.
func (s *Store) GetItem(id string) (FractionalItem, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newTransactionView(&s.state).FindItem(id)
}

// ListStocks returns stocks at locationID, or every stock when it is empty.
func (s *Store) ListStocks(locationID string) []FractionalStock {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newTransactionView(&s.state).ListStocks(locationID)
}
