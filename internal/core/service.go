package core

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"portioncore/internal/infra/persistence/memory"
	"portioncore/pkg/domain"
)

// Service operation names. They double as metric and audit operation keys.
const (
	opCreateItem           = "create_item"
	opCreateStock          = "create_stock"
	opPutConversionRule    = "put_conversion_rule"
	opDeleteConversionRule = "delete_conversion_rule"
	opSplitItem            = "split_item"
	opCombinePortions      = "combine_portions"
	opPrepareItems         = "prepare_items"
	opUpdateQuality        = "update_quality_grade"
	opSweepQuality         = "sweep_quality"
	opEvaluateAlerts       = "evaluate_alerts"
	opActiveAlerts         = "active_alerts"
	opCalculateMetrics     = "calculate_inventory_metrics"
	opReservePortions      = "reserve_portions"
	opReleaseReservation   = "release_reservation"
	opConsumePortions      = "consume_portions"
	opAutoConversions      = "process_automatic_conversions"
)

type operationMetadata struct {
	entity domain.EntityType
	action domain.Action
}

// operationCatalog maps mutating operations onto audit metadata. Read-only
// operations are traced and measured but not audited.
var operationCatalog = map[string]operationMetadata{
	opCreateItem:           {entity: domain.EntityItem, action: domain.ActionCreate},
	opCreateStock:          {entity: domain.EntityStock, action: domain.ActionCreate},
	opPutConversionRule:    {entity: domain.EntityConversionRule, action: domain.ActionUpdate},
	opDeleteConversionRule: {entity: domain.EntityConversionRule, action: domain.ActionDelete},
	opSplitItem:            {entity: domain.EntityStock, action: domain.ActionUpdate},
	opCombinePortions:      {entity: domain.EntityStock, action: domain.ActionUpdate},
	opPrepareItems:         {entity: domain.EntityStock, action: domain.ActionUpdate},
	opUpdateQuality:        {entity: domain.EntityStock, action: domain.ActionUpdate},
	opEvaluateAlerts:       {entity: domain.EntityAlert, action: domain.ActionUpdate},
	opReservePortions:      {entity: domain.EntityStock, action: domain.ActionUpdate},
	opReleaseReservation:   {entity: domain.EntityStock, action: domain.ActionUpdate},
	opConsumePortions:      {entity: domain.EntityStock, action: domain.ActionUpdate},
}

// Service is the fractional inventory engine. It owns no global state; every
// collaborator is injected through NewService.
type Service struct {
	store         domain.PersistentStore
	engine        *domain.RulesEngine
	alertPolicy   AlertPolicy
	qualityPolicy QualityPolicy
	detector      OpportunityDetector

	logger  Logger
	audit   AuditRecorder
	metrics MetricsRecorder
	tracer  Tracer
	clock   Clock
	newID   func() string

	locks         *stockLocks
	alertFailures atomic.Uint64
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the structured logger.
func WithLogger(logger Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithAuditRecorder sets the audit sink for mutating operations.
func WithAuditRecorder(recorder AuditRecorder) Option {
	return func(s *Service) {
		if recorder != nil {
			s.audit = recorder
		}
	}
}

// WithMetricsRecorder sets the per-operation metrics sink.
func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(s *Service) {
		if recorder != nil {
			s.metrics = recorder
		}
	}
}

// WithTracer sets the span factory.
func WithTracer(tracer Tracer) Option {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithClock overrides the time source. Without it the service uses the store's
// NowFunc when it exposes one, else UTC wall time.
func WithClock(clock Clock) Option {
	return func(s *Service) {
		s.clock = clock
	}
}

// WithRulesEngine replaces the built-in alert rules.
func WithRulesEngine(engine *domain.RulesEngine) Option {
	return func(s *Service) {
		s.engine = engine
	}
}

// WithAlertPolicy tunes the built-in alert thresholds.
func WithAlertPolicy(policy AlertPolicy) Option {
	return func(s *Service) {
		s.alertPolicy = policy
	}
}

// WithQualityPolicy tunes the quality decay ratios.
func WithQualityPolicy(policy QualityPolicy) Option {
	return func(s *Service) {
		s.qualityPolicy = policy
	}
}

// WithOpportunityDetector replaces the demand detector behind the
// conversion_recommended rule.
func WithOpportunityDetector(detector OpportunityDetector) Option {
	return func(s *Service) {
		if detector != nil {
			s.detector = detector
		}
	}
}

// WithIDGenerator overrides record id generation.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) {
		if fn != nil {
			s.newID = fn
		}
	}
}

type nowFuncProvider interface {
	NowFunc() func() time.Time
}

// NewService constructs a service backed by the supplied store.
func NewService(store domain.PersistentStore, opts ...Option) *Service {
	svc := newService(opts)
	svc.store = store
	if svc.clock == nil {
		if provider, ok := store.(nowFuncProvider); ok {
			if fn := provider.NowFunc(); fn != nil {
				svc.clock = ClockFunc(fn)
			}
		}
	}
	if svc.clock == nil {
		svc.clock = ClockFunc(func() time.Time { return time.Now().UTC() })
	}
	return svc
}

// NewInMemoryService creates a service over a fresh memory store that shares
// the service clock.
func NewInMemoryService(opts ...Option) *Service {
	svc := newService(opts)
	if svc.clock == nil {
		svc.clock = ClockFunc(func() time.Time { return time.Now().UTC() })
	}
	svc.store = memory.NewStore(svc.clock.Now)
	return svc
}

func newService(opts []Option) *Service {
	svc := &Service{
		alertPolicy:   DefaultAlertPolicy(),
		qualityPolicy: DefaultQualityPolicy(),
		logger:        noopLogger{},
		audit:         noopAuditRecorder{},
		metrics:       noopMetricsRecorder{},
		tracer:        noopTracer{},
		newID:         uuid.NewString,
		locks:         newStockLocks(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	if svc.detector == nil {
		svc.detector = NewDemandDetector(DefaultDemandPattern())
	}
	if svc.engine == nil {
		svc.engine = NewDefaultRulesEngine(svc.alertPolicy, svc.detector)
	}
	return svc
}

// Store returns the underlying storage implementation.
func (s *Service) Store() domain.PersistentStore {
	return s.store
}

// RulesEngine returns the alert rules engine in use.
func (s *Service) RulesEngine() *domain.RulesEngine {
	return s.engine
}

// AlertEvaluationFailures counts alert passes that failed after a committed
// mutation.
func (s *Service) AlertEvaluationFailures() uint64 {
	return s.alertFailures.Load()
}

func (s *Service) now() time.Time {
	return s.clock.Now()
}

type stockIDKey struct{}

func withStockID(ctx context.Context, stockID string) context.Context {
	if stockID == "" {
		return ctx
	}
	return context.WithValue(ctx, stockIDKey{}, stockID)
}

// StockIDFromContext returns the stock id the current operation works on.
func StockIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(stockIDKey{}).(string)
	return id
}

// auditInfo is filled by an operation body and read once it returns.
type auditInfo struct {
	entityID string
	actor    string
	details  map[string]string
}

func (a *auditInfo) set(key, value string) {
	if a.details == nil {
		a.details = make(map[string]string)
	}
	a.details[key] = value
}

// run wraps an operation with tracing, metrics, logging and auditing.
func (s *Service) run(ctx context.Context, op string, info *auditInfo, fn func(context.Context) error) error {
	if info == nil {
		info = &auditInfo{}
	}
	ctx = withStockID(ctx, info.entityID)
	ctx, span := s.tracer.Start(ctx, op)
	start := time.Now()
	err := fn(ctx)
	duration := time.Since(start)
	span.End(err)
	s.metrics.Observe(ctx, op, err == nil, duration)
	if err != nil {
		var opErr *domain.OperationError
		if errors.As(err, &opErr) {
			s.logger.Warn("operation rejected", "operation", op, "entity_id", info.entityID, "error", err)
		} else {
			s.logger.Error("operation failed", "operation", op, "entity_id", info.entityID, "error", err)
		}
		s.recordAudit(ctx, op, info, AuditStatusError, err, duration)
		return err
	}
	s.logger.Debug("operation completed", "operation", op, "entity_id", info.entityID, "duration", duration)
	s.recordAudit(ctx, op, info, AuditStatusSuccess, nil, duration)
	return nil
}

func (s *Service) recordAudit(ctx context.Context, op string, info *auditInfo, status AuditStatus, err error, duration time.Duration) {
	meta, ok := operationCatalog[op]
	if !ok {
		return
	}
	entry := AuditEntry{
		Operation: op,
		Entity:    meta.entity,
		Action:    meta.action,
		EntityID:  info.entityID,
		Actor:     info.actor,
		Status:    status,
		Details:   info.details,
		Duration:  duration,
		Timestamp: s.now(),
	}
	if err != nil {
		entry.Error = err.Error()
	}
	s.audit.Record(ctx, entry)
}

// mutateStock runs fn in a store transaction while holding the stock lock.
func (s *Service) mutateStock(ctx context.Context, stockID string, fn func(tx domain.Transaction, now time.Time) error) error {
	unlock := s.locks.lock(stockID)
	defer unlock()
	now := s.now()
	return s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		return fn(tx, now)
	})
}

// refreshAlerts re-evaluates alerts after a committed mutation. Failures are
// logged and counted, never returned.
func (s *Service) refreshAlerts(ctx context.Context, stockID string) {
	if _, err := s.EvaluateAlertsForStock(ctx, stockID); err != nil {
		s.alertFailures.Add(1)
		s.logger.Warn("alert evaluation failed", "stock_id", stockID, "error", err)
	}
}

func requirePositive(op, stockID string, n int) error {
	if n <= 0 {
		return domain.NewOperationError(op, stockID, domain.ErrInvalidQuantity, "quantity must be positive, got %d", n)
	}
	return nil
}

func loadStockAndItem(tx domain.Transaction, op, stockID string) (domain.FractionalStock, domain.FractionalItem, error) {
	stock, ok := tx.FindStock(stockID)
	if !ok {
		return domain.FractionalStock{}, domain.FractionalItem{}, &domain.OperationError{Op: op, StockID: stockID, Kind: domain.NotFoundError{Entity: domain.EntityStock, ID: stockID}}
	}
	item, ok := tx.FindItem(stock.ItemID)
	if !ok {
		return domain.FractionalStock{}, domain.FractionalItem{}, &domain.OperationError{Op: op, StockID: stockID, Kind: domain.NotFoundError{Entity: domain.EntityItem, ID: stock.ItemID}}
	}
	return stock, item, nil
}

// CreateItem registers a catalog item.
func (s *Service) CreateItem(ctx context.Context, item domain.FractionalItem) (domain.FractionalItem, error) {
	info := &auditInfo{entityID: item.ID}
	var created domain.FractionalItem
	err := s.run(ctx, opCreateItem, info, func(ctx context.Context) error {
		return s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			var err error
			created, err = tx.CreateItem(item)
			if err != nil {
				return fmt.Errorf("create item: %w", err)
			}
			info.entityID = created.ID
			return nil
		})
	})
	return created, err
}

// CreateStock registers a stock record for an existing item and evaluates its
// initial alerts.
func (s *Service) CreateStock(ctx context.Context, stock domain.FractionalStock) (domain.FractionalStock, error) {
	info := &auditInfo{entityID: stock.ID}
	var created domain.FractionalStock
	err := s.run(ctx, opCreateStock, info, func(ctx context.Context) error {
		err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			var err error
			created, err = tx.CreateStock(stock)
			if err != nil {
				return fmt.Errorf("create stock: %w", err)
			}
			info.entityID = created.ID
			return nil
		})
		if err != nil {
			return err
		}
		s.refreshAlerts(ctx, created.ID)
		return nil
	})
	return created, err
}

// PutConversionRule creates or replaces an automatic conversion rule.
func (s *Service) PutConversionRule(ctx context.Context, rule domain.ConversionRule) (domain.ConversionRule, error) {
	info := &auditInfo{entityID: rule.ID}
	var saved domain.ConversionRule
	err := s.run(ctx, opPutConversionRule, info, func(ctx context.Context) error {
		return s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			var err error
			saved, err = tx.PutConversionRule(rule)
			if err != nil {
				return fmt.Errorf("put conversion rule: %w", err)
			}
			info.entityID = saved.ID
			return nil
		})
	})
	return saved, err
}

// DeleteConversionRule removes an automatic conversion rule.
func (s *Service) DeleteConversionRule(ctx context.Context, id string) error {
	return s.run(ctx, opDeleteConversionRule, &auditInfo{entityID: id}, func(ctx context.Context) error {
		return s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			return tx.DeleteConversionRule(id)
		})
	})
}
