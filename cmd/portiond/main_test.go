package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"portioncore/internal/config"
	"portioncore/pkg/domain"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Storage.Driver = "memory"
	cfg.Blob.Driver = "memory"
	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.LogLevel = "debug"
	return cfg
}

func newTestDaemon(t *testing.T, cfg config.Config) (*daemon, *bytes.Buffer) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	var logs bytes.Buffer
	d, err := newDaemon(context.Background(), cfg, &logs)
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}
	t.Cleanup(d.close)
	return d, &logs
}

func seed(t *testing.T, d *daemon) {
	t.Helper()
	ctx := context.Background()
	if _, err := d.svc.CreateItem(ctx, domain.FractionalItem{
		Base:                domain.Base{ID: "item-pizza"},
		Name:                "Pizza",
		Category:            "Food",
		BaseUnit:            "pie",
		SupportsFractional:  true,
		AvailablePortions:   []domain.PortionSize{{ID: "slice-8", Name: "Slice", PortionsPerWhole: 8}},
		AllowAutoConversion: true,
		BaseCostPerUnit:     decimal.NewFromInt(16),
	}); err != nil {
		t.Fatalf("create item: %v", err)
	}
	for _, loc := range []string{"loc-1", "loc-2"} {
		if _, err := d.svc.CreateStock(ctx, domain.FractionalStock{
			Base:                domain.Base{ID: "stock-" + loc},
			ItemID:              "item-pizza",
			LocationID:          loc,
			WholeUnitsAvailable: 2,
		}); err != nil {
			t.Fatalf("create stock: %v", err)
		}
	}
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestMaintainPublishesInventoryGauges(t *testing.T) {
	d, _ := newTestDaemon(t, testConfig())
	seed(t, d)
	d.maintain(context.Background())

	rec := get(t, d.router(), "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		`portioncore_inventory_whole_units{location="all"} 4`,
		`portioncore_inventory_whole_units{location="loc-1"} 2`,
		`portioncore_inventory_whole_units{location="loc-2"} 2`,
		`portioncore_operations_total{operation="sweep_quality",status="success"} 1`,
		`portioncore_alert_evaluation_failures_total 0`,
		`portioncore_audit_write_failures_total 0`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in metrics output:\n%s", want, body)
		}
	}
	if got := d.locations(); len(got) != 2 || got[0] != "loc-1" || got[1] != "loc-2" {
		t.Fatalf("unexpected locations %v", got)
	}
}

func TestMaintainArchivesAudit(t *testing.T) {
	d, _ := newTestDaemon(t, testConfig())
	seed(t, d)
	entries, err := d.archive.Entries(context.Background(), "stock-loc-1")
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if len(entries) == 0 || entries[0].Operation == "" {
		t.Fatalf("expected archived entries for stock-loc-1, got %+v", entries)
	}
}

func TestAuditDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Audit.Enabled = false
	d, _ := newTestDaemon(t, cfg)
	if d.archive != nil {
		t.Fatalf("expected no archive when audit disabled")
	}
	if strings.Contains(get(t, d.router(), "/metrics").Body.String(), "audit_write_failures_total") {
		t.Fatalf("expected no audit gauge when audit disabled")
	}
}

func TestHealthzAndExpvar(t *testing.T) {
	d, logs := newTestDaemon(t, testConfig())
	rec := get(t, d.router(), "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body["status"] != "ok" {
		t.Fatalf("unexpected healthz body %s", rec.Body.String())
	}
	if vars := get(t, d.router(), "/debug/vars"); vars.Code != http.StatusOK || !strings.Contains(vars.Body.String(), "portioncore_service_metrics_") {
		t.Fatalf("expected expvar recorder published, got %d", vars.Code)
	}
	if !strings.Contains(logs.String(), `"msg":"portiond ready"`) {
		t.Fatalf("expected JSON startup log, got %s", logs.String())
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "portiond.yaml")
	yaml := "http_addr: 127.0.0.1:0\nstorage:\n  driver: memory\nblob:\n  driver: memory\nsweep_interval: 1h\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	done := make(chan error, 1)
	var logs bytes.Buffer
	go func() { done <- run(ctx, path, &logs) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not stop after cancel")
	}
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "portiond.yaml")
	if err := os.WriteFile(path, []byte("storage:\n  driver: mongo\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if err := run(context.Background(), path, &bytes.Buffer{}); err == nil {
		t.Fatalf("expected invalid config error")
	}
}

func TestRunExitsWhenListenerFails(t *testing.T) {
	held, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("hold port: %v", err)
	}
	defer held.Close()

	path := filepath.Join(t.TempDir(), "portiond.yaml")
	yaml := "http_addr: " + held.Addr().String() + "\nstorage:\n  driver: memory\nblob:\n  driver: memory\nsweep_interval: 1h\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	done := make(chan error, 1)
	var logs bytes.Buffer
	go func() { done <- run(ctx, path, &logs) }()
	select {
	case err := <-done:
		if err == nil || !strings.Contains(err.Error(), "serve ops endpoints") {
			t.Fatalf("expected listener error, got %v", err)
		}
		if ctx.Err() != nil {
			t.Fatalf("run returned only after its context ended")
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("run kept going after the ops listener failed")
	}
}
