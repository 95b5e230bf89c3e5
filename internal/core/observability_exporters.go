package core

import (
	"context"
	"encoding/json"
	"expvar"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// exporterSeq numbers anonymous expvar exports; expvar panics on a reused name.
var exporterSeq uint64

// opTally accumulates the outcomes of one service operation.
type opTally struct {
	totalMS  float64
	success  int64
	failures int64
}

// ExpvarMetricsRecorder keeps running latency totals and outcome counts per
// operation and exposes them as a single expvar variable, so /debug/vars
// shows them beside the Prometheus series.
type ExpvarMetricsRecorder struct {
	name string

	mu      sync.Mutex
	tallies map[string]*opTally
}

// ExpvarMetricsSnapshot is a point-in-time copy of an ExpvarMetricsRecorder.
// Results maps operation to "success"/"error" counts.
type ExpvarMetricsSnapshot struct {
	DurationsMS map[string]float64          `json:"durations_ms_total"`
	Results     map[string]map[string]int64 `json:"results_total"`
	RecordedAt  time.Time                   `json:"recorded_at"`
}

// NewExpvarMetricsRecorder registers a recorder under name, or under a fresh
// portioncore_service_metrics_N name when name is empty.
func NewExpvarMetricsRecorder(name string) *ExpvarMetricsRecorder {
	if name == "" {
		name = fmt.Sprintf("portioncore_service_metrics_%d", atomic.AddUint64(&exporterSeq, 1))
	}
	r := &ExpvarMetricsRecorder{name: name, tallies: make(map[string]*opTally)}
	expvar.Publish(name, expvar.Func(func() any { return r.Snapshot() }))
	return r
}

// Name is the expvar key the recorder was published under.
func (r *ExpvarMetricsRecorder) Name() string { return r.name }

// Observe adds one outcome for operation. Unnamed operations are dropped.
func (r *ExpvarMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tallies[operation]
	if !ok {
		t = &opTally{}
		r.tallies[operation] = t
	}
	t.totalMS += duration.Seconds() * 1000
	if success {
		t.success++
	} else {
		t.failures++
	}
}

// Snapshot copies the current tallies.
func (r *ExpvarMetricsRecorder) Snapshot() ExpvarMetricsSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := ExpvarMetricsSnapshot{
		DurationsMS: make(map[string]float64, len(r.tallies)),
		Results:     make(map[string]map[string]int64, len(r.tallies)),
		RecordedAt:  time.Now().UTC(),
	}
	for op, t := range r.tallies {
		snap.DurationsMS[op] = t.totalMS
		counts := make(map[string]int64, 2)
		if t.success > 0 {
			counts["success"] = t.success
		}
		if t.failures > 0 {
			counts["error"] = t.failures
		}
		snap.Results[op] = counts
	}
	return snap
}

// JSONTraceEntry is one finished span.
type JSONTraceEntry struct {
	Operation  string    `json:"operation"`
	StockID    string    `json:"stock_id,omitempty"`
	Status     string    `json:"status"`
	DurationMS float64   `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
}

const defaultTraceRetention = 1024

// JSONTraceTracer writes each finished span as a JSON line and keeps the
// newest spans in memory.
type JSONTraceTracer struct {
	mu      sync.Mutex
	enc     *json.Encoder
	limit   int
	entries []JSONTraceEntry
}

// NewJSONTracer returns a tracer writing to w. A nil w only keeps spans in
// memory, up to the last 1024.
func NewJSONTracer(w io.Writer) *JSONTraceTracer {
	t := &JSONTraceTracer{limit: defaultTraceRetention}
	if w != nil {
		t.enc = json.NewEncoder(w)
	}
	return t
}

// Entries returns the retained spans, oldest first.
func (t *JSONTraceTracer) Entries() []JSONTraceEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]JSONTraceEntry(nil), t.entries...)
}

// Start opens a span tagged with the stock id carried by ctx, if any.
func (t *JSONTraceTracer) Start(ctx context.Context, operation string) (context.Context, TraceSpan) {
	return ctx, &jsonTraceSpan{
		tracer: t,
		entry: JSONTraceEntry{
			Operation: operation,
			StockID:   StockIDFromContext(ctx),
			StartedAt: time.Now().UTC(),
		},
	}
}

func (t *JSONTraceTracer) record(entry JSONTraceEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, entry)
	if over := len(t.entries) - t.limit; t.limit > 0 && over > 0 {
		t.entries = append([]JSONTraceEntry(nil), t.entries[over:]...)
	}
	if t.enc != nil {
		_ = t.enc.Encode(entry)
	}
}

type jsonTraceSpan struct {
	tracer *JSONTraceTracer
	entry  JSONTraceEntry
}

func (s *jsonTraceSpan) End(err error) {
	e := s.entry
	e.EndedAt = time.Now().UTC()
	e.DurationMS = e.EndedAt.Sub(e.StartedAt).Seconds() * 1000
	e.Status = "success"
	if err != nil {
		e.Status = "error"
		e.Error = err.Error()
	}
	s.tracer.record(e)
}
