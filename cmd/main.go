package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/kkkkikiki/fomo/internal/allocator"
	"github.com/kkkkikiki/fomo/internal/api"
	"github.com/kkkkikiki/fomo/internal/codegen"
	"github.com/kkkkikiki/fomo/internal/config"
	"github.com/kkkkikiki/fomo/internal/database"
	"github.com/kkkkikiki/fomo/internal/distlock"
	"github.com/kkkkikiki/fomo/internal/eligibility"
	"github.com/kkkkikiki/fomo/internal/issuer"
	"github.com/kkkkikiki/fomo/internal/logger"
	"github.com/kkkkikiki/fomo/internal/notify"
	"github.com/kkkkikiki/fomo/internal/ratelimit"
	"github.com/kkkkikiki/fomo/internal/service"
	"github.com/kkkkikiki/fomo/internal/verification"
	"github.com/kkkkikiki/fomo/internal/worker"
)

const maintenanceLockTTL = 10 * time.Minute

func main() {
	ctx := context.Background()

	// Load configuration from environment variables
	cfg, err := config.Load(ctx)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger.SetLevel(cfg.App.LogLevel)
	if cfg.App.Debug {
		logger.SetDefault(logger.New(os.Stderr, false))
	}
	logger.Info("starting fomo claim service", "environment", cfg.App.Environment)

	if err := cfg.App.CheckSecrets(); err != nil {
		log.Fatalf("Refusing to start: %v", err)
	}
	if cfg.App.AdminToken == "" {
		logger.Warn("admin token not set, admin procedures are open")
	}
	if cfg.App.CodeSecret == config.DefaultCodeSecret {
		logger.Warn("using the default code secret, issued codes are predictable")
	}

	rules, err := config.LoadRules(cfg.App.RulesFile)
	if err != nil {
		log.Fatalf("Failed to load rules: %v", err)
	}

	// Initialize database connections
	db, err := database.NewDB(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("error closing database connections", "error", err)
		}
	}()

	if cfg.Database.Migrate {
		if err := database.Migrate(ctx, db.Postgres); err != nil {
			log.Fatalf("Failed to migrate database: %v", err)
		}
	}

	checker, err := eligibility.NewChecker(rules)
	if err != nil {
		log.Fatalf("Failed to build eligibility rules: %v", err)
	}
	codes, err := codegen.NewGenerator(cfg.App.CodeSecret)
	if err != nil {
		log.Fatalf("Failed to build code generator: %v", err)
	}
	iss, err := issuer.New(cfg.Issuer)
	if err != nil {
		log.Fatalf("Failed to build coupon issuer: %v", err)
	}
	notifier, err := notify.New(ctx, cfg.Notify, cfg.Claim.VerificationTTL)
	if err != nil {
		log.Fatalf("Failed to build notifier: %v", err)
	}

	alloc := allocator.NewAllocator(db.Postgres, checker, codes, cfg.Claim.VerificationTTL)
	flow := verification.NewManager(db.Postgres, iss, notifier)

	scheduler := worker.NewScheduler(flow,
		distlock.New(db.Redis, db.Postgres, "fomo:maintenance", maintenanceLockTTL),
		worker.Options{
			Interval:       cfg.Claim.SweepInterval,
			ReissueBatch:   cfg.Claim.ReissueBatch,
			TokenRetention: cfg.Claim.TokenRetention,
		},
	)
	if err := scheduler.Start(); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}
	defer scheduler.Stop()

	claimServer := service.NewClaimServer(db.Postgres, service.Dependencies{
		Checker:     checker,
		Allocator:   alloc,
		Flow:        flow,
		Limiter:     ratelimit.New(db.Redis, cfg.Claim.RateLimit, cfg.Claim.RateWindow),
		Maintenance: scheduler,
		AdminToken:  cfg.App.AdminToken,
	})

	router := api.NewRouter(claimServer, db.Postgres, api.Options{
		CORSOrigins: cfg.App.CORSOrigins,
		AdminToken:  cfg.App.AdminToken,
		ShopURL:     cfg.Notify.ShopURL,
	})

	// Create server with configuration optimized for high concurrency
	server := &http.Server{
		Addr:           cfg.Server.GetServerAddr(),
		ReadTimeout:    time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1MB
		// Use h2c so we can serve HTTP/2 without TLS
		Handler: h2c.NewHandler(router, &http2.Server{
			MaxConcurrentStreams: 1000,
		}),
	}

	go func() {
		logger.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	logger.Info("server exited gracefully")
}
