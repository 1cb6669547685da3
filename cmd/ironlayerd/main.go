// Command ironlayerd runs the IronLayer control plane: the HTTP API,
// the metering flush loop and the reconciliation scheduler. All wiring
// happens here; packages never reach for globals.
package main

import (
	"context"
	"crypto/ed25519"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/Masterminds/semver/v3"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/ironlayer/ironlayer/pkg/api"
	"github.com/ironlayer/ironlayer/pkg/artifacts"
	"github.com/ironlayer/ironlayer/pkg/auth"
	"github.com/ironlayer/ironlayer/pkg/billing"
	"github.com/ironlayer/ironlayer/pkg/config"
	"github.com/ironlayer/ironlayer/pkg/executor"
	"github.com/ironlayer/ironlayer/pkg/license"
	"github.com/ironlayer/ironlayer/pkg/metering"
	"github.com/ironlayer/ironlayer/pkg/observability"
	"github.com/ironlayer/ironlayer/pkg/plans"
	"github.com/ironlayer/ironlayer/pkg/quota"
	"github.com/ironlayer/ironlayer/pkg/reconcile"
	"github.com/ironlayer/ironlayer/pkg/repository"
	"github.com/ironlayer/ironlayer/pkg/revocation"
)

func main() {
	if err := run(); err != nil {
		slog.Error("ironlayerd failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("ironlayerd starting", "auth_mode", string(cfg.AuthMode), "port", cfg.Port)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	obs, err := observability.New(ctx, &observability.Config{
		ServiceName:  "ironlayer",
		Environment:  cfg.Environment,
		OTLPEndpoint: cfg.OTLPEndpoint,
		SampleRate:   1.0,
		BatchTimeout: 5 * time.Second,
		Enabled:      cfg.OTLPEnabled,
		Insecure:     cfg.Environment == "development",
	})
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = obs.Shutdown(shutdownCtx)
	}()

	db, dialect, err := openDatabase(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	if err := repository.Migrate(ctx, db, dialect); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	logger.Info("database ready", "dialect", string(dialect))

	// Revocation is consulted on every token validation and fails
	// closed when the store is down.
	revStore := revocation.NewPostgresStore(db)
	if err := revStore.Init(ctx); err != nil {
		return fmt.Errorf("init revocation store: %w", err)
	}
	revCache := revocation.NewCache(revStore, revocation.WithLogger(logger))

	access, err := auth.NewManager(cfg.AuthMode, cfg.JWTSecret, "ironlayer",
		auth.WithTTL(cfg.TokenTTL),
		auth.WithRevocations(revocationAdapter{cache: revCache}))
	if err != nil {
		return fmt.Errorf("init access token manager: %w", err)
	}
	refresh, err := auth.NewManager(cfg.AuthMode, cfg.JWTSecret, "ironlayer",
		auth.WithTTL(cfg.RefreshTokenTTL))
	if err != nil {
		return fmt.Errorf("init refresh token manager: %w", err)
	}

	quotaSvc := quota.NewService(db, repository.NewTenantSource(db, dialect),
		quota.WithAdvisoryLocks(dialect == repository.DialectPostgres),
		quota.WithLogger(logger))

	collector := metering.NewCollector(metering.NewPostgresSink(db))
	collector.StartBackgroundFlush()
	defer collector.StopBackgroundFlush()
	logger.Info("metering collector started")

	// The warehouse backend is an external collaborator; without one
	// configured, runs complete in-process for local development.
	exec := executor.NewFake()
	logger.Warn("no execution backend configured, using in-memory executor")

	archive, err := artifacts.NewArchiveFromEnv(ctx)
	if err != nil {
		return fmt.Errorf("init log archive: %w", err)
	}

	reconciler := &tenantReconciler{
		db:      db,
		dialect: dialect,
		exec:    exec,
		archive: archive,
		obs:     obs,
		logger:  logger,
	}
	scheduleStore := repository.NewScheduleSource(db, dialect)
	if cfg.SchedulesFile != "" {
		seeds, err := reconcile.LoadScheduleFile(cfg.SchedulesFile)
		if err != nil {
			return fmt.Errorf("load schedules file: %w", err)
		}
		for _, sched := range seeds {
			if err := scheduleStore.SaveSchedule(ctx, sched); err != nil {
				return fmt.Errorf("seed schedule %s: %w", sched.ID, err)
			}
		}
		logger.Info("reconciliation schedules seeded",
			"file", cfg.SchedulesFile, "count", len(seeds))
	}
	scheduler := reconcile.NewScheduler(scheduleStore,
		func(ctx context.Context, sched reconcile.Schedule) error {
			_, err := reconciler.Reconcile(ctx, sched.TenantID)
			return err
		},
		reconcile.WithSchedulerLogger(logger))
	scheduler.Start()
	defer scheduler.Stop()

	opts := []api.ServerOption{
		api.WithServerLogger(logger),
		api.WithReconciler(reconciler),
		api.WithRefreshTTL(cfg.RefreshTokenTTL),
	}
	if cfg.InsecureCookies {
		opts = append(opts, api.WithInsecureCookies())
	}
	if dialect == repository.DialectPostgres {
		opts = append(opts, api.WithIdempotencyStore(
			api.NewPostgresIdempotencyStore(db, dialect, 24*time.Hour, logger)))
	}
	if cfg.MinClientVersion != "" {
		minVersion, err := semver.NewVersion(strings.TrimPrefix(cfg.MinClientVersion, "v"))
		if err != nil {
			return fmt.Errorf("parse MIN_CLIENT_VERSION: %w", err)
		}
		opts = append(opts, api.WithMinClientVersion(minVersion))
	}
	if policy, err := plans.NewAutoApprovePolicy(cfg.AutoApprovePolicy); err != nil {
		return fmt.Errorf("compile auto-approve policy: %w", err)
	} else if policy != nil {
		opts = append(opts, api.WithAutoApprovePolicy(policy))
	}
	if cfg.StripeWebhookSecret != "" {
		processor := billing.NewProcessor(&api.BillingStore{DB: db, Dialect: dialect}, logger)
		opts = append(opts, api.WithWebhook(
			api.NewWebhookHandler(processor, cfg.StripeWebhookSecret, logger)))
		logger.Info("billing webhooks enabled")
	}
	if cfg.AdvisoryURL != "" {
		opts = append(opts, api.WithAdvisory(api.NewAdvisoryClient(cfg.AdvisoryURL, cfg.AdvisoryAPIKey)))
		logger.Info("ai advisory enabled", "url", cfg.AdvisoryURL)
	}
	if cfg.LicenseFile != "" {
		gate, err := loadLicenseGate(cfg, db, dialect)
		if err != nil {
			return fmt.Errorf("load license: %w", err)
		}
		opts = append(opts, api.WithLicenseGate(gate))
		logger.Info("license loaded", "file", cfg.LicenseFile)
	}

	server := api.NewServer(db, dialect, access, refresh, auth.NewLoginLimiter(),
		quotaSvc, exec, collector, opts...)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}

	flushCtx, cancelFlush := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelFlush()
	collector.Flush(flushCtx)
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN", "WARNING":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// openDatabase connects to Postgres when DATABASE_URL points at one.
// With no DATABASE_URL, or a sqlite:// URL, it falls back to an
// embedded SQLite file for local development.
func openDatabase(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sql.DB, repository.Dialect, error) {
	if os.Getenv("DATABASE_URL") == "" || strings.HasPrefix(cfg.DatabaseURL, "sqlite://") {
		path := strings.TrimPrefix(cfg.DatabaseURL, "sqlite://")
		if !strings.HasPrefix(cfg.DatabaseURL, "sqlite://") {
			path = filepath.Join("data", "ironlayer.db")
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, "", fmt.Errorf("ensure data dir: %w", err)
		}
		db, err := sql.Open("sqlite", path)
		if err != nil {
			return nil, "", fmt.Errorf("open sqlite: %w", err)
		}
		// modernc sqlite needs a single writer.
		db.SetMaxOpenConns(1)
		logger.Info("lite mode: using embedded sqlite", "path", path)
		return db, repository.DialectSQLite, nil
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, "", fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, "", fmt.Errorf("ping postgres: %w", err)
	}
	return db, repository.DialectPostgres, nil
}

func loadLicenseGate(cfg *config.Config, db *sql.DB, dialect repository.Dialect) (*license.Gate, error) {
	data, err := os.ReadFile(cfg.LicenseFile)
	if err != nil {
		return nil, err
	}
	var pubKey ed25519.PublicKey
	if cfg.LicensePublicKey != "" {
		raw, err := base64.StdEncoding.DecodeString(cfg.LicensePublicKey)
		if err != nil {
			return nil, fmt.Errorf("decode LICENSE_PUBLIC_KEY: %w", err)
		}
		if len(raw) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("LICENSE_PUBLIC_KEY must be %d bytes, got %d", ed25519.PublicKeySize, len(raw))
		}
		pubKey = ed25519.PublicKey(raw)
	}
	mgr := license.NewManager(pubKey)
	lic, err := mgr.Load(data)
	if err != nil {
		return nil, err
	}
	if err := mgr.Verify(lic); err != nil {
		return nil, err
	}
	return license.NewGate(mgr, lic, repository.NewMeterUsage(db, dialect)), nil
}

// revocationAdapter bridges the cache's fail-closed bool answer to the
// token manager's checker contract.
type revocationAdapter struct {
	cache *revocation.Cache
}

func (a revocationAdapter) IsRevoked(ctx context.Context, jti string) (bool, error) {
	return a.cache.IsRevoked(ctx, jti), nil
}

// tenantReconciler builds a per-tenant reconciliation pass on demand.
// Both the manual trigger endpoint and the cron scheduler use it.
type tenantReconciler struct {
	db      *sql.DB
	dialect repository.Dialect
	exec    executor.Executor
	archive artifacts.Archive
	obs     *observability.Provider
	logger  *slog.Logger
}

func (r *tenantReconciler) Reconcile(ctx context.Context, tenantID string) (int, error) {
	repos, err := repository.New(r.db, r.dialect, tenantID)
	if err != nil {
		return 0, err
	}
	svc := reconcile.NewService(r.exec, repos.Runs, repos.Checks,
		reconcile.WithServiceLogger(r.logger),
		reconcile.WithLogArchival(r.exec, r.archive, repos.Runs))
	found, err := svc.Reconcile(ctx, tenantID)
	r.obs.DiscrepanciesFound(ctx, tenantID, int64(found))
	return found, err
}
