// Package domain defines the fractional inventory entities, value types, and
// alert rule primitives used by portioncore.
package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in audit entries and persistence buckets.
const (
	// EntityItem identifies a fractional item catalog definition.
	EntityItem EntityType = "fractional_item"
	// EntityStock identifies a fractional stock record.
	EntityStock EntityType = "fractional_stock"
	// EntityConversion identifies an immutable conversion record.
	EntityConversion EntityType = "conversion_record"
	// EntityAlert identifies an inventory alert.
	EntityAlert EntityType = "inventory_alert"
	// EntityRecommendation identifies a conversion recommendation.
	EntityRecommendation EntityType = "conversion_recommendation"
	// EntityOperation identifies an inventory operation ledger entry.
	EntityOperation EntityType = "inventory_operation"
	// EntityConversionRule identifies an automatic conversion rule.
	EntityConversionRule EntityType = "conversion_rule"
)

// Action captures the type of change performed on an entity.
type Action string

const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// ItemState is the lifecycle state of a stock record.
type ItemState string

// Stock lifecycle states. CONSUMED and EXPIRED are terminal.
const (
	StateRaw       ItemState = "RAW"
	StatePrepared  ItemState = "PREPARED"
	StatePortioned ItemState = "PORTIONED"
	StateConsumed  ItemState = "CONSUMED"
	StateExpired   ItemState = "EXPIRED"
)

// Valid reports whether s is one of the defined lifecycle states.
func (s ItemState) Valid() bool {
	switch s {
	case StateRaw, StatePrepared, StatePortioned, StateConsumed, StateExpired:
		return true
	}
	return false
}

// QualityGrade is an ordinal freshness indicator.
type QualityGrade string

// Quality grades ordered best to worst.
const (
	GradeExcellent QualityGrade = "EXCELLENT"
	GradeGood      QualityGrade = "GOOD"
	GradeFair      QualityGrade = "FAIR"
	GradePoor      QualityGrade = "POOR"
	GradeExpired   QualityGrade = "EXPIRED"
)

// Rank maps the grade onto 5 (EXCELLENT) through 1 (EXPIRED). Unknown grades rank 0.
func (g QualityGrade) Rank() int {
	switch g {
	case GradeExcellent:
		return 5
	case GradeGood:
		return 4
	case GradeFair:
		return 3
	case GradePoor:
		return 2
	case GradeExpired:
		return 1
	}
	return 0
}

// WorseThan reports whether g ranks strictly below other.
func (g QualityGrade) WorseThan(other QualityGrade) bool {
	return g.Rank() < other.Rank()
}

// ConversionType enumerates the unit conversions the engine performs.
type ConversionType string

const (
	ConversionSplit   ConversionType = "SPLIT"
	ConversionCombine ConversionType = "COMBINE"
	ConversionPrepare ConversionType = "PREPARE"
)

// AlertType classifies inventory alerts.
type AlertType string

const (
	AlertPortionLow            AlertType = "PORTION_LOW"
	AlertQualityDegrading      AlertType = "QUALITY_DEGRADING"
	AlertExpiringSoon          AlertType = "EXPIRING_SOON"
	AlertConversionRecommended AlertType = "CONVERSION_RECOMMENDED"
)

// AlertSeverity captures alert urgency.
type AlertSeverity string

const (
	SeverityLow      AlertSeverity = "LOW"
	SeverityMedium   AlertSeverity = "MEDIUM"
	SeverityHigh     AlertSeverity = "HIGH"
	SeverityCritical AlertSeverity = "CRITICAL"
)

// Rank orders severities, CRITICAL highest.
func (s AlertSeverity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

// OperationType enumerates the entries written to the operation ledger.
type OperationType string

const (
	OperationConversion     OperationType = "CONVERSION"
	OperationQualityUpdate  OperationType = "QUALITY_UPDATE"
	OperationReservation    OperationType = "RESERVATION"
	OperationRelease        OperationType = "RELEASE"
	OperationConsumption    OperationType = "CONSUMPTION"
	OperationAutoConversion OperationType = "AUTO_CONVERSION"
)

// TriggeredBySystem marks alerts and recommendations raised by the engine itself.
const TriggeredBySystem = "SYSTEM"

var hundred = decimal.NewFromInt(100)

// Base contains common fields for all domain records.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PortionSize describes how many portions a single whole unit yields.
type PortionSize struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	PortionsPerWhole int    `json:"portions_per_whole"`
}

// FractionalItem is an immutable catalog definition for an item that can be
// held as whole units, prepared units, or portions.
type FractionalItem struct {
	Base
	Code                  string          `json:"code"`
	Name                  string          `json:"name"`
	Category              string          `json:"category"`
	BaseUnit              string          `json:"base_unit"`
	SupportsFractional    bool            `json:"supports_fractional"`
	AllowPartialSales     bool            `json:"allow_partial_sales"`
	TrackPortions         bool            `json:"track_portions"`
	AvailablePortions     []PortionSize   `json:"available_portions"`
	DefaultPortionID      string          `json:"default_portion_id,omitempty"`
	ShelfLifeHours        *int            `json:"shelf_life_hours,omitempty"`
	MaxQualityHours       *int            `json:"max_quality_hours,omitempty"`
	AllowAutoConversion   bool            `json:"allow_auto_conversion"`
	WastePercentage       decimal.Decimal `json:"waste_percentage"`
	BaseCostPerUnit       decimal.Decimal `json:"base_cost_per_unit"`
	ConversionCostPerUnit decimal.Decimal `json:"conversion_cost_per_unit"`
}

// Validate checks the catalog invariants of the item definition.
func (i FractionalItem) Validate() error {
	if i.WastePercentage.IsNegative() || i.WastePercentage.GreaterThan(hundred) {
		return fmt.Errorf("%w: item %q waste percentage %s outside [0,100]", ErrConfiguration, i.ID, i.WastePercentage)
	}
	seen := make(map[string]struct{}, len(i.AvailablePortions))
	for _, p := range i.AvailablePortions {
		if p.PortionsPerWhole < 1 {
			return fmt.Errorf("%w: portion %q must yield at least one portion per whole", ErrConfiguration, p.ID)
		}
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("%w: duplicate portion size %q", ErrConfiguration, p.ID)
		}
		seen[p.ID] = struct{}{}
	}
	if i.DefaultPortionID != "" {
		if _, ok := i.FindPortion(i.DefaultPortionID); !ok {
			return fmt.Errorf("%w: default portion %q is not an available portion", ErrConfiguration, i.DefaultPortionID)
		}
	}
	if i.ShelfLifeHours != nil && *i.ShelfLifeHours < 0 {
		return fmt.Errorf("%w: negative shelf life", ErrConfiguration)
	}
	if i.MaxQualityHours != nil && *i.MaxQualityHours <= 0 {
		return fmt.Errorf("%w: max quality hours must be positive", ErrConfiguration)
	}
	return nil
}

// FindPortion looks up a configured portion size by id.
func (i FractionalItem) FindPortion(id string) (PortionSize, bool) {
	for _, p := range i.AvailablePortions {
		if p.ID == id {
			return p, true
		}
	}
	return PortionSize{}, false
}

// DefaultPortion resolves the default portion size, falling back to the first
// available one.
func (i FractionalItem) DefaultPortion() (PortionSize, bool) {
	if i.DefaultPortionID != "" {
		if p, ok := i.FindPortion(i.DefaultPortionID); ok {
			return p, true
		}
	}
	if len(i.AvailablePortions) == 0 {
		return PortionSize{}, false
	}
	return i.AvailablePortions[0], true
}

// AveragePortionsPerWhole is the mean PortionsPerWhole across available portions,
// zero when none are configured.
func (i FractionalItem) AveragePortionsPerWhole() decimal.Decimal {
	if len(i.AvailablePortions) == 0 {
		return decimal.Zero
	}
	total := 0
	for _, p := range i.AvailablePortions {
		total += p.PortionsPerWhole
	}
	return decimal.NewFromInt(int64(total)).Div(decimal.NewFromInt(int64(len(i.AvailablePortions))))
}

// WasteFraction returns WastePercentage/100.
func (i FractionalItem) WasteFraction() decimal.Decimal {
	return i.WastePercentage.Div(hundred)
}

// FractionalStock is the mutable inventory record for one item at one location.
type FractionalStock struct {
	Base
	ItemID                   string          `json:"item_id"`
	LocationID               string          `json:"location_id"`
	CurrentState             ItemState       `json:"current_state"`
	QualityGrade             QualityGrade    `json:"quality_grade"`
	WholeUnitsAvailable      int             `json:"whole_units_available"`
	PartialQuantityAvailable decimal.Decimal `json:"partial_quantity_available"`
	TotalPortionsAvailable   int             `json:"total_portions_available"`
	ReservedPortions         int             `json:"reserved_portions"`
	OriginalWholeUnits       int             `json:"original_whole_units"`
	OriginalTotalPortions    int             `json:"original_total_portions"`
	ConversionsApplied       []string        `json:"conversions_applied"`
	TotalWasteGenerated      decimal.Decimal `json:"total_waste_generated"`
	PreparedAt               *time.Time      `json:"prepared_at,omitempty"`
	ExpiresAt                *time.Time      `json:"expires_at,omitempty"`
	StateTransitionDate      *time.Time      `json:"state_transition_date,omitempty"`
	LastQualityCheck         *time.Time      `json:"last_quality_check,omitempty"`
	QualityNotes             string          `json:"quality_notes,omitempty"`
}

// Validate checks quantity and state invariants.
func (s FractionalStock) Validate() error {
	switch {
	case s.WholeUnitsAvailable < 0:
		return fmt.Errorf("stock %q: negative whole units %d", s.ID, s.WholeUnitsAvailable)
	case s.PartialQuantityAvailable.IsNegative():
		return fmt.Errorf("stock %q: negative partial quantity %s", s.ID, s.PartialQuantityAvailable)
	case s.TotalPortionsAvailable < 0:
		return fmt.Errorf("stock %q: negative portions %d", s.ID, s.TotalPortionsAvailable)
	case s.ReservedPortions < 0 || s.ReservedPortions > s.TotalPortionsAvailable:
		return fmt.Errorf("stock %q: reserved portions %d outside [0,%d]", s.ID, s.ReservedPortions, s.TotalPortionsAvailable)
	case s.TotalWasteGenerated.IsNegative():
		return fmt.Errorf("stock %q: negative waste total", s.ID)
	case !s.CurrentState.Valid():
		return fmt.Errorf("stock %q: unknown state %q", s.ID, s.CurrentState)
	case s.QualityGrade.Rank() == 0:
		return fmt.Errorf("stock %q: unknown quality grade %q", s.ID, s.QualityGrade)
	}
	return nil
}

// Active reports whether the stock still participates in sweeps.
func (s FractionalStock) Active() bool {
	return s.CurrentState != StateConsumed
}

// AvailablePortions returns the unreserved portion count.
func (s FractionalStock) AvailablePortions() int {
	return s.TotalPortionsAvailable - s.ReservedPortions
}

// Empty reports whether no whole, partial or portion quantity remains.
func (s FractionalStock) Empty() bool {
	return s.WholeUnitsAvailable == 0 && s.PartialQuantityAvailable.IsZero() && s.TotalPortionsAvailable == 0
}

// ApplyConversion moves the stock to the after-snapshot of record, accumulates
// its waste and appends the record id to the conversion log.
func (s *FractionalStock) ApplyConversion(record ConversionRecord) {
	s.WholeUnitsAvailable = record.AfterWholeUnits
	s.PartialQuantityAvailable = record.AfterPartialQuantity
	s.TotalPortionsAvailable = record.AfterTotalPortions
	if s.CurrentState != record.ToState {
		at := record.PerformedAt
		s.StateTransitionDate = &at
	}
	s.CurrentState = record.ToState
	s.TotalWasteGenerated = s.TotalWasteGenerated.Add(record.WasteGenerated)
	s.ConversionsApplied = append(s.ConversionsApplied, record.ID)
}

// StockPatch is a partial update of a stock record. Nil fields are left untouched.
type StockPatch struct {
	CurrentState             *ItemState
	QualityGrade             *QualityGrade
	WholeUnitsAvailable      *int
	PartialQuantityAvailable *decimal.Decimal
	TotalPortionsAvailable   *int
	ReservedPortions         *int
	PreparedAt               *time.Time
	ExpiresAt                *time.Time
	StateTransitionDate      *time.Time
	LastQualityCheck         *time.Time
	QualityNotes             *string
}

// Apply merges the non-nil fields of p into stock.
func (p StockPatch) Apply(stock *FractionalStock) {
	if p.CurrentState != nil {
		stock.CurrentState = *p.CurrentState
	}
	if p.QualityGrade != nil {
		stock.QualityGrade = *p.QualityGrade
	}
	if p.WholeUnitsAvailable != nil {
		stock.WholeUnitsAvailable = *p.WholeUnitsAvailable
	}
	if p.PartialQuantityAvailable != nil {
		stock.PartialQuantityAvailable = *p.PartialQuantityAvailable
	}
	if p.TotalPortionsAvailable != nil {
		stock.TotalPortionsAvailable = *p.TotalPortionsAvailable
	}
	if p.ReservedPortions != nil {
		stock.ReservedPortions = *p.ReservedPortions
	}
	if p.PreparedAt != nil {
		t := *p.PreparedAt
		stock.PreparedAt = &t
	}
	if p.ExpiresAt != nil {
		t := *p.ExpiresAt
		stock.ExpiresAt = &t
	}
	if p.StateTransitionDate != nil {
		t := *p.StateTransitionDate
		stock.StateTransitionDate = &t
	}
	if p.LastQualityCheck != nil {
		t := *p.LastQualityCheck
		stock.LastQualityCheck = &t
	}
	if p.QualityNotes != nil {
		stock.QualityNotes = *p.QualityNotes
	}
}

// ConversionRecord is the immutable ledger entry written once per conversion.
type ConversionRecord struct {
	ID                    string          `json:"id"`
	StockID               string          `json:"stock_id"`
	ItemID                string          `json:"item_id"`
	LocationID            string          `json:"location_id"`
	ConversionType        ConversionType  `json:"conversion_type"`
	FromState             ItemState       `json:"from_state"`
	ToState               ItemState       `json:"to_state"`
	QuantityConverted     int             `json:"quantity_converted"`
	PortionSizeID         string          `json:"portion_size_id,omitempty"`
	PortionsPerWhole      int             `json:"portions_per_whole,omitempty"`
	BeforeWholeUnits      int             `json:"before_whole_units"`
	AfterWholeUnits       int             `json:"after_whole_units"`
	BeforePartialQuantity decimal.Decimal `json:"before_partial_quantity"`
	AfterPartialQuantity  decimal.Decimal `json:"after_partial_quantity"`
	BeforeTotalPortions   int             `json:"before_total_portions"`
	AfterTotalPortions    int             `json:"after_total_portions"`
	WasteGenerated        decimal.Decimal `json:"waste_generated"`
	ConversionEfficiency  float64         `json:"conversion_efficiency"`
	ConversionCost        decimal.Decimal `json:"conversion_cost"`
	PerformedBy           string          `json:"performed_by"`
	PerformedAt           time.Time       `json:"performed_at"`
	Reason                string          `json:"reason,omitempty"`
	Notes                 string          `json:"notes,omitempty"`
	SourceStockIDs        []string        `json:"source_stock_ids,omitempty"`
	TargetStockIDs        []string        `json:"target_stock_ids,omitempty"`
}

// InputWholeUnits expresses the converted quantity in whole units. Combine
// inputs are portions and are divided by PortionsPerWhole.
func (r ConversionRecord) InputWholeUnits() decimal.Decimal {
	qty := decimal.NewFromInt(int64(r.QuantityConverted))
	if r.ConversionType == ConversionCombine {
		if r.PortionsPerWhole < 1 {
			return decimal.Zero
		}
		return qty.Div(decimal.NewFromInt(int64(r.PortionsPerWhole)))
	}
	return qty
}

// WasteWholeUnits expresses WasteGenerated in whole units. Combine waste is
// accounted in portions.
func (r ConversionRecord) WasteWholeUnits() decimal.Decimal {
	if r.ConversionType == ConversionCombine {
		if r.PortionsPerWhole < 1 {
			return decimal.Zero
		}
		return r.WasteGenerated.Div(decimal.NewFromInt(int64(r.PortionsPerWhole)))
	}
	return r.WasteGenerated
}

// RecommendedAction is a suggested remediation attached to an alert.
type RecommendedAction struct {
	Action          string `json:"action"`
	Priority        int    `json:"priority"`
	Description     string `json:"description"`
	EstimatedImpact string `json:"estimated_impact,omitempty"`
}

// InventoryAlert is regenerated on every evaluation pass for a stock.
type InventoryAlert struct {
	ID                 string              `json:"id"`
	Type               AlertType           `json:"type"`
	Severity           AlertSeverity       `json:"severity"`
	StockID            string              `json:"stock_id"`
	ItemID             string              `json:"item_id"`
	LocationID         string              `json:"location_id"`
	Title              string              `json:"title"`
	Message            string              `json:"message"`
	RecommendedActions []RecommendedAction `json:"recommended_actions"`
	Rule               string              `json:"rule"`
	TriggeredAt        time.Time           `json:"triggered_at"`
	TriggeredBy        string              `json:"triggered_by"`
	IsActive           bool                `json:"is_active"`
}

// RecommendationStatus tracks the lifecycle of a conversion recommendation.
type RecommendationStatus string

const (
	RecommendationPending  RecommendationStatus = "PENDING"
	RecommendationExecuted RecommendationStatus = "EXECUTED"
)

// ConversionRecommendation is a standing suggestion to convert stock ahead of demand.
type ConversionRecommendation struct {
	ID                    string               `json:"id"`
	StockID               string               `json:"stock_id"`
	ItemID                string               `json:"item_id"`
	LocationID            string               `json:"location_id"`
	RecommendationType    string               `json:"recommendation_type"`
	Priority              AlertSeverity        `json:"priority"`
	FromState             ItemState            `json:"from_state"`
	ToState               ItemState            `json:"to_state"`
	RecommendedWholeUnits int                  `json:"recommended_whole_units"`
	PortionSizeID         string               `json:"portion_size_id,omitempty"`
	Reason                string               `json:"reason"`
	EstimatedWaste        decimal.Decimal      `json:"estimated_waste"`
	EstimatedCost         decimal.Decimal      `json:"estimated_cost"`
	EstimatedRevenue      decimal.Decimal      `json:"estimated_revenue"`
	RecommendedBy         string               `json:"recommended_by"`
	RecommendedAt         time.Time            `json:"recommended_at"`
	OptimalExecutionTime  time.Time            `json:"optimal_execution_time"`
	Status                RecommendationStatus `json:"status"`
}

// InventoryOperation is an entry in the append-only operation ledger.
type InventoryOperation struct {
	ID          string            `json:"id"`
	Type        OperationType     `json:"type"`
	StockID     string            `json:"stock_id"`
	ItemID      string            `json:"item_id"`
	LocationID  string            `json:"location_id"`
	PerformedBy string            `json:"performed_by"`
	PerformedAt time.Time         `json:"performed_at"`
	Conversion  *ConversionRecord `json:"conversion,omitempty"`
	QualityFrom QualityGrade      `json:"quality_from,omitempty"`
	QualityTo   QualityGrade      `json:"quality_to,omitempty"`
	Portions    int               `json:"portions,omitempty"`
	StockedOut  bool              `json:"stocked_out,omitempty"`
	Notes       string            `json:"notes,omitempty"`
}

// ConversionRule configures an automatic split for stocks running low on portions.
type ConversionRule struct {
	Base
	Name              string    `json:"name"`
	SourceState       ItemState `json:"source_state"`
	ItemIDs           []string  `json:"item_ids,omitempty"`
	AutoTrigger       bool      `json:"auto_trigger"`
	PortionThreshold  int       `json:"portion_threshold"`
	WholeUnitsToSplit int       `json:"whole_units_to_split"`
	PortionSizeID     string    `json:"portion_size_id,omitempty"`
}

// Matches reports whether the rule applies to the given stock.
func (r ConversionRule) Matches(stock FractionalStock) bool {
	if !r.AutoTrigger || stock.CurrentState != r.SourceState {
		return false
	}
	if len(r.ItemIDs) == 0 {
		return true
	}
	for _, id := range r.ItemIDs {
		if id == stock.ItemID {
			return true
		}
	}
	return false
}

// Validate checks rule parameters.
func (r ConversionRule) Validate() error {
	if r.WholeUnitsToSplit < 1 {
		return fmt.Errorf("%w: rule %q must split at least one whole unit", ErrConfiguration, r.Name)
	}
	if r.PortionThreshold < 0 {
		return fmt.Errorf("%w: rule %q has negative portion threshold", ErrConfiguration, r.Name)
	}
	if !r.SourceState.Valid() {
		return fmt.Errorf("%w: rule %q has unknown source state %q", ErrConfiguration, r.Name, r.SourceState)
	}
	return nil
}

// FractionalInventoryMetrics aggregates stock across a location or the whole fleet.
type FractionalInventoryMetrics struct {
	LocationID             string                     `json:"location_id,omitempty"`
	TotalWholeUnits        int                        `json:"total_whole_units"`
	TotalPortionsAvailable int                        `json:"total_portions_available"`
	TotalReservedPortions  int                        `json:"total_reserved_portions"`
	TotalValueOnHand       decimal.Decimal            `json:"total_value_on_hand"`
	DailyConversions       int                        `json:"daily_conversions"`
	ConversionEfficiency   float64                    `json:"conversion_efficiency"`
	WastePercentage        decimal.Decimal            `json:"waste_percentage"`
	AverageQualityGrade    float64                    `json:"average_quality_grade"`
	ItemsNearExpiry        int                        `json:"items_near_expiry"`
	QualityDegradationRate float64                    `json:"quality_degradation_rate"`
	TurnoverRate           float64                    `json:"turnover_rate"`
	StockoutEvents         int                        `json:"stockout_events"`
	ConversionBacklog      int                        `json:"conversion_backlog"`
	ActiveAlerts           []InventoryAlert           `json:"active_alerts"`
	RecommendedConversions []ConversionRecommendation `json:"recommended_conversions"`
	CalculatedAt           time.Time                  `json:"calculated_at"`
}
