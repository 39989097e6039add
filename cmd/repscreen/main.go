package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	sqliteadapter "github.com/repscreen/repscreen/internal/adapter/driven/sqlite"
	"github.com/repscreen/repscreen/internal/adapter/driven/virustotal"
	httphandler "github.com/repscreen/repscreen/internal/adapter/driving/http"
	"github.com/repscreen/repscreen/internal/application"
	"github.com/repscreen/repscreen/internal/config"
	"github.com/repscreen/repscreen/internal/domain/model"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration (fail fast on malformed env vars).
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"vendor_url", cfg.VendorBaseURL,
		"owner", cfg.Owner,
	)

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Open database (dual reader/writer with WAL mode).
	db, err := sqliteadapter.NewDB(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()
	slog.Info("database opened", "path", cfg.DBPath)

	// 4. Run migrations on writer connection.
	if err := sqliteadapter.RunMigrations(db.Writer); err != nil {
		return err
	}
	slog.Info("migrations complete")

	// 5. Wire the usage store and seed credentials from the environment.
	usageStore := sqliteadapter.NewUsageRepo(db, cfg.SecretKey)
	if !cfg.HasSecretKey() {
		slog.Warn("no secret key configured, credential registration disabled until REPSCREEN_SECRET_KEY is set")
	}
	for _, key := range cfg.SeedKeys {
		if err := usageStore.AddCredential(ctx, model.Credential{Value: key, Owner: cfg.Owner}); err != nil {
			return err
		}
	}
	if len(cfg.SeedKeys) > 0 {
		slog.Info("seed credentials registered", "count", len(cfg.SeedKeys))
	}

	// 6. Select the initial active credential from the pool.
	active, err := initialCredential(ctx, usageStore, cfg)
	if err != nil {
		return err
	}
	provider := application.NewCredentialProvider(active)
	if active == "" {
		slog.Info("no credential configured, scans disabled until a credential is registered")
	} else {
		slog.Info("active credential selected", "credential", model.CredentialDigest(active)[:8])
	}

	// 7. Start the rotator so the active credential swaps before hitting the cap.
	rotator := application.NewRotator(usageStore, provider, cfg.Owner)
	go rotator.Start(ctx)

	// 8. Create the vendor lookup client and the scan orchestrator.
	lookupClient := virustotal.NewClient(cfg.VendorBaseURL, cfg.LookupTimeout)
	governor := application.NewGovernor()
	scanSvc := application.NewScanService(usageStore, lookupClient, provider, governor)

	// 9. Create HTTP handler and register API routes.
	apiHandler := httphandler.NewHandler(usageStore, scanSvc, provider, rotator, cfg.Owner, slog.Default())
	handler := httphandler.NewServeMux(apiHandler, slog.Default())

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
		}
	}()

	slog.Info("repscreen started", "listen_addr", cfg.ListenAddr)

	// 10. Wait for shutdown signal.
	<-ctx.Done()
	slog.Info("shutting down")

	// 11. Graceful shutdown with 10s timeout for HTTP server drain.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

// initialCredential picks the starting credential from the owner's pool,
// applying the same load-shedding policy the rotator uses. An empty pool (or
// a missing secret key) yields no credential rather than an error; scans stay
// disabled until one is registered.
func initialCredential(ctx context.Context, store *sqliteadapter.UsageRepo, cfg *config.Config) (string, error) {
	if !cfg.HasSecretKey() {
		return "", nil
	}

	pool, err := store.ListForOwner(ctx, cfg.Owner)
	if err != nil {
		return "", err
	}
	if len(pool) == 0 {
		return "", nil
	}

	usage := make(map[string]int, len(pool))
	for _, cred := range pool {
		count, err := store.Usage(ctx, cred.Value)
		if err != nil {
			count = application.HardDailyCap
		}
		usage[cred.Value] = count
	}

	active, err := application.SelectCredential(pool, usage)
	if errors.Is(err, application.ErrNoAvailableCredential) {
		slog.Warn("every credential in the pool is near the daily cap")
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return active, nil
}
