// Package main is the entry point for the just-logging server binary.
// It dispatches three subcommands — serve, migrate, and version — via a simple
// switch on os.Args so the binary's full CLI surface is readable in one place
// without requiring a cobra dependency. The serve command runs auto-migration on
// startup so freshly deployed containers never need a separate migration step.
package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/just-logging/just-logging/internal/api"
	"github.com/just-logging/just-logging/internal/auth"
	"github.com/just-logging/just-logging/internal/config"
	"github.com/just-logging/just-logging/internal/db"
	"github.com/just-logging/just-logging/internal/db/models"
	"github.com/just-logging/just-logging/internal/db/repositories"
	"github.com/just-logging/just-logging/internal/telemetry"
)

const version = "0.1.0"

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v\n", err)
	}
}

func run() error {
	command := "serve"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	configPath := os.Getenv("CONFIG_PATH")

	switch command {
	case "serve":
		return serve(configPath)
	case "migrate":
		if len(os.Args) < 3 {
			return fmt.Errorf("usage: %s migrate <up|down>", os.Args[0])
		}
		return runMigrations(configPath, os.Args[2])
	case "version":
		fmt.Printf("just-logging v%s\n", version)
		return nil
	default:
		return fmt.Errorf("unknown command: %s\nAvailable commands: serve, migrate, version", command)
	}
}

func serve(configPath string) error {
	// Load config with a file watcher so logging level changes take effect
	// without a restart. Structural settings (ports, database path) still
	// require one.
	cfg, err := config.LoadAndWatch(configPath, func(next *config.Config) {
		telemetry.SetLevel(next.Logging.Level)
		slog.Info("configuration reloaded", "log_level", next.Logging.Level)
	})
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialise structured logger as early as possible so all subsequent log
	// output uses the configured format (json / text) and level.
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := auth.InitJWTSecret(cfg.Auth.JWTSecret); err != nil {
		return fmt.Errorf("security configuration error: %w", err)
	}

	database, err := db.Connect(cfg.Database.Path, cfg.Database.MaxConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()
	slog.Info("database opened", "path", cfg.Database.Path)

	// Begin exporting DB pool statistics to Prometheus.
	telemetry.StartDBStatsCollector(database)

	// Run migrations automatically on startup
	if err := db.RunMigrations(database, "up"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	schemaVersion, dirty, err := db.GetMigrationVersion(database)
	if err != nil {
		slog.Warn("failed to read migration version", "error", err)
	} else {
		slog.Info("database schema ready", "version", schemaVersion, "dirty", dirty)
	}

	sqlxDB := sqlx.NewDb(database, "sqlite")

	// First-boot seeding: an admin account to log in with, a default
	// retention policy per environment and tier, and a default app with an
	// ingestion key so logs can flow immediately.
	if err := seedBootstrapAdmin(sqlxDB, cfg); err != nil {
		return fmt.Errorf("failed to seed admin user: %w", err)
	}
	if err := seedDefaultRetention(sqlxDB); err != nil {
		return fmt.Errorf("failed to seed retention defaults: %w", err)
	}
	if err := seedDefaultApp(sqlxDB, cfg); err != nil {
		return fmt.Errorf("failed to seed default app: %w", err)
	}

	// Start Prometheus metrics endpoint on a dedicated port so it is not
	// reachable through the public API ingress path.
	if cfg.Telemetry.Metrics.Enabled {
		metricsAddr := fmt.Sprintf(":%d", cfg.Telemetry.Metrics.PrometheusPort)
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			slog.Info("starting Prometheus metrics server", "addr", metricsAddr)
			srv := &http.Server{
				Addr:         metricsAddr,
				Handler:      mux,
				ReadTimeout:  10 * time.Second,
				WriteTimeout: 10 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("metrics server error", "error", err)
			}
		}()
	}

	// Create router
	router, bgServices := api.NewRouter(cfg, sqlxDB)

	// The write timeout must outlive SSE streaming connections, which hold
	// the response open indefinitely; rely on client disconnect instead.
	server := &http.Server{
		Addr:        cfg.Server.GetAddress(),
		Handler:     router,
		ReadTimeout: cfg.Server.ReadTimeout,
	}

	go func() {
		slog.Info("starting server", "addr", cfg.Server.GetAddress(), "base_url", cfg.Server.BaseURL)

		var err error
		if cfg.Security.TLS.Enabled {
			slog.Info("TLS enabled", "cert", cfg.Security.TLS.CertFile, "key", cfg.Security.TLS.KeyFile)
			err = server.ListenAndServeTLS(cfg.Security.TLS.CertFile, cfg.Security.TLS.KeyFile)
		} else {
			err = server.ListenAndServe()
		}

		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	// Stop background jobs after the listener closes so in-flight requests
	// can still enqueue; the ingest writer flushes its queue during stop.
	bgServices.Shutdown()

	slog.Info("server stopped gracefully")
	return nil
}

// seedBootstrapAdmin creates the initial admin account when the web_users
// table is empty. The password comes from auth.bootstrap_admin_password; when
// unset a random one is generated and printed once so a fresh install is
// never reachable with a known default credential.
func seedBootstrapAdmin(sqlxDB *sqlx.DB, cfg *config.Config) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	userRepo := repositories.NewUserRepository(sqlxDB)
	count, err := userRepo.CountUsers(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	password := cfg.Auth.BootstrapAdminPassword
	generated := false
	if password == "" {
		raw := make([]byte, 18)
		if _, err := rand.Read(raw); err != nil {
			return err
		}
		password = base64.RawURLEncoding.EncodeToString(raw)
		generated = true
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}

	admin := &models.WebUser{
		Username:     "admin",
		PasswordHash: hash,
		Role:         models.RoleAdmin,
		IsActive:     true,
	}
	if err := userRepo.CreateUser(ctx, admin); err != nil {
		return err
	}

	if generated {
		// Printed to stdout, not the structured log, so it does not end up
		// in shipped log output.
		fmt.Printf("Created initial admin user %q with password: %s\n", admin.Username, password)
		fmt.Println("Change it immediately via POST /api/auth/change-password.")
	} else {
		slog.Info("created initial admin user", "username", admin.Username)
	}
	return nil
}

// defaultRetentionDays drives the first-boot environment policies: high
// severity logs are kept longest, low severity shortest.
var defaultRetentionDays = map[models.Tier]int{
	models.TierHigh:   90,
	models.TierMedium: 30,
	models.TierLow:    7,
}

// seedDefaultRetention installs time-based environment policies on first
// boot so retention works out of the box. Operators can edit or delete them
// through the API afterwards; the seed never runs again once any
// environment policy exists.
func seedDefaultRetention(sqlxDB *sqlx.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	retentionRepo := repositories.NewRetentionRepository(sqlxDB)
	count, err := retentionRepo.CountEnvironmentPolicies(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	environments := []models.Environment{models.EnvProduction, models.EnvStaging, models.EnvDevelopment}
	for _, env := range environments {
		for tier, days := range defaultRetentionDays {
			d := days
			policy := &models.EnvironmentRetentionPolicy{
				Environment:   env,
				PriorityTier:  tier,
				RetentionType: models.RetentionTimeBased,
				RetentionDays: &d,
				Enabled:       true,
			}
			if err := retentionRepo.UpsertEnvironmentPolicy(ctx, policy); err != nil {
				return err
			}
		}
	}
	slog.Info("seeded default environment retention policies")
	return nil
}

// seedDefaultApp registers a "default" app with one ingestion key when the
// apps table is empty, so a fresh install can ship logs without touching the
// admin API first. The key is printed once to stdout like the generated
// admin password; rotate it once real apps exist.
func seedDefaultApp(sqlxDB *sqlx.DB, cfg *config.Config) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	appRepo := repositories.NewAppRepository(sqlxDB)
	count, err := appRepo.CountApps(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	app := &models.App{Name: "default", Environment: models.EnvDevelopment}
	if err := appRepo.CreateApp(ctx, app); err != nil {
		return err
	}

	key, err := auth.GenerateAPIKey(cfg.Auth.APIKeyPrefix)
	if err != nil {
		return err
	}
	apiKey := &models.APIKey{Key: key, AppID: app.ID}
	if err := repositories.NewAPIKeyRepository(sqlxDB).CreateKey(ctx, apiKey); err != nil {
		return err
	}

	fmt.Printf("Created default app with API key: %s\n", key)
	return nil
}

func runMigrations(configPath, direction string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	database, err := db.Connect(cfg.Database.Path, cfg.Database.MaxConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	if err := db.RunMigrations(database, direction); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	schemaVersion, dirty, err := db.GetMigrationVersion(database)
	if err != nil {
		return fmt.Errorf("failed to read migration version: %w", err)
	}
	fmt.Printf("Schema version: %d (dirty: %v)\n", schemaVersion, dirty)
	return nil
}
