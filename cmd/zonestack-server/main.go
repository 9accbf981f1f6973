package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/zonestack/server/internal/api"
	"github.com/zonestack/server/internal/auth"
	"github.com/zonestack/server/internal/cache"
	"github.com/zonestack/server/internal/config"
	"github.com/zonestack/server/internal/database"
	"github.com/zonestack/server/internal/metrics"
	"github.com/zonestack/server/internal/templates"
)

const shutdownTimeout = 15 * time.Second

// main starts the zonestack editing server: the stack HTTP API, the editor
// WebSocket, metrics and health checks.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	closeLog := setupLogging(cfg.Logging)
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := openDatabase(ctx, &cfg.Database)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Printf("Failed to close database: %v", err)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector, err := metrics.NewCollector(registry)
	if err != nil {
		log.Fatalf("Failed to register metrics: %v", err)
	}

	redisClient := cache.OpenRedis(&cfg.Redis)
	stackCache := cache.NewStackCache(redisClient, cfg.Redis.TTL, collector)
	defer func() {
		if err := stackCache.Close(); err != nil {
			log.Printf("Failed to close stack cache: %v", err)
		}
	}()
	var denylist auth.Denylist
	if redisClient != nil {
		denylist = cache.NewTokenDenylist(redisClient)
		log.Printf("Stack cache and token denylist using Redis at %s", cfg.Redis.Addr())
	} else {
		log.Printf("REDIS_HOST not set: stack cache disabled, revoked tokens kept in memory")
	}

	var templateSource api.TemplateSource
	templateClient := templates.NewClient(cfg)
	if cfg.Templates.BaseURL != "" {
		templateSource = templateClient
	}

	service := api.NewStackService(database.NewStackStorage(db), stackCache, templateSource, cfg, collector)
	wsHandlers := api.NewWebSocketHandlers(service, cfg, collector)
	go wsHandlers.Run(ctx)

	authHandlers := api.NewAuthHandlers(db, cfg, denylist)

	mux := http.NewServeMux()
	api.SetupAuthRoutes(mux, authHandlers)
	api.SetupStackRoutes(mux, service, authHandlers.AuthMiddleware)
	api.SetupAdminRoutes(mux, service, authHandlers)
	api.SetupConfigRoutes(mux, cfg.Editor)
	mux.HandleFunc("/ws/edit", wsHandlers.HandleWebSocket)
	mux.Handle("/metrics", collector.Handler())
	mux.HandleFunc("/health", healthHandler(db, stackCache, templateClient, cfg.Templates.BaseURL != ""))

	if cfg.Server.IsDevelopment() {
		log.Printf("Development mode: allowing origins %v", cfg.Server.AllowedOrigins)
	}
	handler := api.CORSMiddleware(cfg.Server.AllowedOrigins)(api.SecurityHeadersMiddleware(mux))

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Printf("zonestack server starting on %s (environment=%s)", server.Addr, cfg.Server.Environment)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			log.Fatalf("Server failed to start: %v", err)
		}
	case <-ctx.Done():
		log.Printf("Shutdown signal received, draining connections")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Graceful shutdown failed: %v", err)
	}
	log.Printf("zonestack server stopped")
}

func openDatabase(ctx context.Context, cfg *config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DatabaseURL())
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := database.EnsureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// setupLogging mirrors the log to LOG_OUTPUT_PATH when set. The returned
// function closes the file.
func setupLogging(cfg config.LoggingConfig) func() {
	if cfg.Level == "debug" {
		log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	}
	if cfg.OutputPath == "" {
		return func() {}
	}

	f, err := os.OpenFile(cfg.OutputPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		log.Printf("Failed to open log file %s, logging to stderr only: %v", cfg.OutputPath, err)
		return func() {}
	}
	log.SetOutput(io.MultiWriter(os.Stderr, f))
	return func() {
		if err := f.Close(); err != nil {
			log.Printf("Failed to close log file: %v", err)
		}
	}
}

type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

// healthHandler reports the status of the database, the stack cache and the
// template service. The server is unhealthy only when the database is down.
func healthHandler(db *sql.DB, stackCache *cache.StackCache, tmpl healthChecker, templatesEnabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		checks := map[string]string{"database": "ok", "cache": "disabled", "templates": "disabled"}
		status := http.StatusOK
		if err := db.PingContext(ctx); err != nil {
			checks["database"] = err.Error()
			status = http.StatusServiceUnavailable
		}
		if stackCache.Enabled() {
			checks["cache"] = "ok"
			if err := stackCache.Ping(ctx); err != nil {
				checks["cache"] = err.Error()
			}
		}
		if templatesEnabled {
			checks["templates"] = "ok"
			if err := tmpl.HealthCheck(ctx); err != nil {
				checks["templates"] = err.Error()
			}
		}

		overall := "ok"
		if status != http.StatusOK {
			overall = "unavailable"
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if err := json.NewEncoder(w).Encode(map[string]interface{}{
			"status":  overall,
			"service": "zonestack-server",
			"checks":  checks,
		}); err != nil {
			log.Printf("Failed to encode health response: %v", err)
		}
	}
}
