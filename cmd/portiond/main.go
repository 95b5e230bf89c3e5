// Command portiond runs the fractional inventory engine as a daemon: it opens
// the configured store and audit archive, periodically sweeps quality grades
// and applies automatic conversions, and serves /metrics, /healthz and
// /debug/vars.
package main

import (
	"context"
	"errors"
	"expvar"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"portioncore/internal/blob"
	"portioncore/internal/config"
	"portioncore/internal/core"
	"portioncore/internal/infra/audit"
	"portioncore/internal/infra/metrics"
)

const shutdownTimeout = 10 * time.Second

var configFile = flag.String("config", "", "Path to YAML configuration file")

func main() {
	flag.Parse()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, *configFile, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "portiond: %v\n", err)
		os.Exit(1)
	}
}

// daemon bundles the wired collaborators.
type daemon struct {
	cfg      config.Config
	logger   *slog.Logger
	svc      *core.Service
	recorder *metrics.Recorder
	archive  *audit.Archive
	closers  []io.Closer
}

func run(ctx context.Context, path string, logOut io.Writer) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	d, err := newDaemon(ctx, cfg, logOut)
	if err != nil {
		return err
	}
	defer d.close()

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           d.router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		d.logger.Info("serving ops endpoints", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	listenErr := d.loop(ctx, serveErr)

	d.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown ops server: %w", err)
	}
	if listenErr != nil {
		return fmt.Errorf("serve ops endpoints: %w", listenErr)
	}
	return <-serveErr
}

func newDaemon(ctx context.Context, cfg config.Config, logOut io.Writer) (*daemon, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{Level: level}))
	d := &daemon{cfg: cfg, logger: logger, recorder: metrics.NewRecorder()}

	store, err := core.OpenPersistentStore(ctx, cfg.StorageConfig())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if c, ok := store.(io.Closer); ok {
		d.closers = append(d.closers, c)
	}

	opts := []core.Option{
		core.WithLogger(logger),
		core.WithMetricsRecorder(fanout{d.recorder, core.NewExpvarMetricsRecorder("")}),
		core.WithAlertPolicy(cfg.AlertPolicy()),
		core.WithQualityPolicy(cfg.QualityPolicy()),
	}
	if cfg.Audit.Enabled {
		blobs, err := blob.Open(ctx, cfg.BlobConfig())
		if err != nil {
			d.close()
			return nil, fmt.Errorf("open blob store: %w", err)
		}
		d.archive, err = audit.NewArchive(blobs, audit.WithCodec(audit.Codec(cfg.Audit.Codec)), audit.WithLogger(logger))
		if err != nil {
			d.close()
			return nil, err
		}
		opts = append(opts, core.WithAuditRecorder(d.archive))
		if err := d.recorder.RegisterCounterFunc("audit_write_failures_total", "Audit entries that could not be archived.", func() float64 {
			return float64(d.archive.Failures())
		}); err != nil {
			d.close()
			return nil, err
		}
	}
	d.svc = core.NewService(store, opts...)
	if err := d.recorder.RegisterCounterFunc("alert_evaluation_failures_total", "Alert passes that failed after a committed mutation.", func() float64 {
		return float64(d.svc.AlertEvaluationFailures())
	}); err != nil {
		d.close()
		return nil, err
	}
	logger.Info("portiond ready",
		"storage", cfg.Storage.Driver,
		"audit", cfg.Audit.Enabled,
		"blob", cfg.Blob.Driver,
		"sweep_interval", cfg.SweepInterval,
	)
	return d, nil
}

func (d *daemon) close() {
	for _, c := range d.closers {
		if err := c.Close(); err != nil {
			d.logger.Warn("close failed", "error", err)
		}
	}
	d.closers = nil
}

func (d *daemon) router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/metrics", gin.WrapH(d.recorder.Handler()))
	router.GET("/debug/vars", gin.WrapH(expvar.Handler()))
	router.GET("/healthz", func(c *gin.Context) {
		if err := d.svc.Store().View(c.Request.Context(), func(core.TransactionView) error { return nil }); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return router
}

// loop runs maintenance passes until ctx ends or the ops listener fails,
// returning the listener error in the latter case.
func (d *daemon) loop(ctx context.Context, serveErr <-chan error) error {
	ticker := time.NewTicker(d.cfg.SweepInterval)
	defer ticker.Stop()
	d.maintain(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-serveErr:
			if !ok {
				return nil
			}
			d.logger.Error("ops listener stopped", "err", err)
			return err
		case <-ticker.C:
			d.maintain(ctx)
		}
	}
}

// maintain runs one quality sweep and automatic conversion pass, then
// refreshes the inventory gauges.
func (d *daemon) maintain(ctx context.Context) {
	report, err := d.svc.SweepQuality(ctx, d.cfg.Actor)
	if err != nil {
		d.logger.Error("quality sweep failed", "error", err)
	} else {
		for stockID, ferr := range report.Failures {
			d.logger.Warn("quality sweep skipped stock", "stock_id", stockID, "error", ferr)
		}
		d.logger.Debug("quality sweep done", "checked", report.Checked, "changed", len(report.Changes))
	}

	records, err := d.svc.ProcessAutomaticConversions(ctx)
	if err != nil {
		d.logger.Error("automatic conversions failed", "error", err)
	} else if len(records) > 0 {
		d.logger.Info("automatic conversions applied", "count", len(records))
	}

	for _, loc := range append([]string{""}, d.locations()...) {
		m, err := d.svc.CalculateInventoryMetrics(ctx, loc)
		if err != nil {
			d.logger.Warn("inventory metrics failed", "location_id", loc, "error", err)
			continue
		}
		d.recorder.ObserveInventory(m)
	}
}

func (d *daemon) locations() []string {
	seen := make(map[string]struct{})
	for _, stock := range d.svc.Store().ListStocks("") {
		if stock.LocationID != "" {
			seen[stock.LocationID] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for loc := range seen {
		out = append(out, loc)
	}
	sort.Strings(out)
	return out
}

// fanout forwards each observation to every recorder.
type fanout []core.MetricsRecorder

func (f fanout) Observe(ctx context.Context, operation string, success bool, duration time.Duration) {
	for _, r := range f {
		r.Observe(ctx, operation, success, duration)
	}
}
