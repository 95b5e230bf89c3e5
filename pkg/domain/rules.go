package domain

import (
	"context"
	"sort"
	"time"
)

// AlertInput is the evaluation context handed to every alert rule.
type AlertInput struct {
	Stock FractionalStock
	Item  FractionalItem
	Now   time.Time
	View  TransactionView
}

// AlertRule derives alerts and recommendations for a single stock.
type AlertRule interface {
	Name() string
	Evaluate(ctx context.Context, in AlertInput) (Result, error)
}

// Result aggregates the output of the alert rules.
type Result struct {
	Alerts          []InventoryAlert
	Recommendations []ConversionRecommendation
}

// Merge appends alerts and recommendations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Alerts) > 0 {
		r.Alerts = append(r.Alerts, other.Alerts...)
	}
	if len(other.Recommendations) > 0 {
		r.Recommendations = append(r.Recommendations, other.Recommendations...)
	}
}

// HasType returns true if the result contains an alert of type t.
func (r Result) HasType(t AlertType) bool {
	for _, a := range r.Alerts {
		if a.Type == t {
			return true
		}
	}
	return false
}

// RulesEngine orchestrates alert rule evaluation.
type RulesEngine struct {
	rules []AlertRule
}

// NewRulesEngine constructs an engine instance.
func NewRulesEngine() *RulesEngine {
	return &RulesEngine{}
}

// Register appends a rule to the engine.
func (e *RulesEngine) Register(rule AlertRule) {
	e.rules = append(e.rules, rule)
}

// RuleNames lists registered rules in evaluation order.
func (e *RulesEngine) RuleNames() []string {
	names := make([]string, 0, len(e.rules))
	for _, r := range e.rules {
		names = append(names, r.Name())
	}
	return names
}

// Evaluate executes all registered rules and aggregates their results. The
// first rule error aborts evaluation.
func (e *RulesEngine) Evaluate(ctx context.Context, in AlertInput) (Result, error) {
	var combined Result
	for _, rule := range e.rules {
		res, err := rule.Evaluate(ctx, in)
		if err != nil {
			return Result{}, err
		}
		for i := range res.Alerts {
			if res.Alerts[i].Rule == "" {
				res.Alerts[i].Rule = rule.Name()
			}
			SortActions(res.Alerts[i].RecommendedActions)
		}
		combined.Merge(res)
	}
	return combined, nil
}

// SortActions orders recommended actions by ascending priority.
func SortActions(actions []RecommendedAction) {
	sort.SliceStable(actions, func(i, j int) bool { return actions[i].Priority < actions[j].Priority })
}

// SortAlerts orders alerts by descending severity, then most recent first, then id.
func SortAlerts(alerts []InventoryAlert) {
	sort.SliceStable(alerts, func(i, j int) bool {
		a, b := alerts[i], alerts[j]
		if a.Severity.Rank() != b.Severity.Rank() {
			return a.Severity.Rank() > b.Severity.Rank()
		}
		if !a.TriggeredAt.Equal(b.TriggeredAt) {
			return a.TriggeredAt.After(b.TriggeredAt)
		}
		return a.ID < b.ID
	})
}
