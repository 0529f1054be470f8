package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"marketscout/internal/agent"
	"marketscout/internal/aggregator"
	"marketscout/internal/cache"
	"marketscout/internal/config"
	"marketscout/internal/database"
	"marketscout/internal/digest"
	"marketscout/internal/handlers"
	"marketscout/internal/ledger"
	"marketscout/internal/mailer"
	"marketscout/internal/metrics"
	"marketscout/internal/provider"
	"marketscout/internal/repository"
	"marketscout/internal/scheduler"
	"marketscout/internal/token"
)

func main() {
	// Configure logging
	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetLevel(logrus.InfoLevel)

	logrus.Info("Starting MarketScout Agent")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		logrus.Fatalf("Configuration validation failed: %v", err)
	}

	// A provider with incomplete credentials is disabled, not fatal
	for _, msg := range cfg.DemoteMisconfigured() {
		logrus.Warn(msg)
	}

	// Initialize database
	db, err := database.Init(cfg.Database)
	if err != nil {
		logrus.Fatalf("Failed to initialize database: %v", err)
	}
	repo := repository.New(db)

	// Initialize metrics
	m := metrics.NewMetrics()

	// Initialize provider clients
	tokens := token.NewCache()
	providers := buildProviders(cfg, tokens)
	if len(providers) == 0 {
		logrus.Warn("No providers enabled; searches will return no items")
	}

	// Initialize aggregation with the shared result cache
	results := cache.New()
	agg := aggregator.New(providers, results, cfg.Agent.CacheTTL, cfg.Agent.ProviderTimeout)

	// Initialize the seen ledger
	seen := ledger.New(repo, cfg.Agent.Cooldown)

	// Initialize digest dispatch
	sender, err := buildMailer(cfg)
	if err != nil {
		logrus.Fatalf("Failed to create mailer: %v", err)
	}
	dispatcher := digest.NewDispatcher(sender)

	// Initialize the run controller
	ag := agent.New(repo, agg, seen, dispatcher, m, agent.Options{
		MinJobInterval: cfg.Agent.MinJobInterval,
		MaxDigestItems: cfg.Agent.MaxDigestItems,
		PageSize:       cfg.Agent.PageSize,
	})

	// Initialize scheduler
	sched := scheduler.NewScheduler(&cfg.Scheduler, ag)

	// Initialize HTTP handlers
	h := handlers.NewHandlers(db, repo, ag, sched, providers, cfg.Agent.TriggerToken)

	// Setup HTTP server
	router := setupRouter(h)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start scheduler
	if err := sched.Start(); err != nil {
		logrus.Fatalf("Failed to start scheduler: %v", err)
	}

	// Start HTTP server in a goroutine
	go func() {
		logrus.Infof("Starting HTTP server on port %s", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("HTTP server error: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down server...")

	// Create shutdown context with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Stop scheduler
	if err := sched.Stop(); err != nil {
		logrus.Errorf("Failed to stop scheduler: %v", err)
	}

	// Wait for in-flight runs to finish
	sched.Wait()

	// Shutdown HTTP server
	if err := server.Shutdown(ctx); err != nil {
		logrus.Errorf("HTTP server shutdown error: %v", err)
	}

	logrus.Info("Server stopped gracefully")
}

// buildProviders creates a client for every enabled provider. Slice order is
// the merge precedence during aggregation.
func buildProviders(cfg *config.Config, tokens *token.Cache) []provider.Client {
	var providers []provider.Client
	limit := cfg.Agent.PageSize

	if cfg.Providers.Ebay.Enabled {
		providers = append(providers, provider.NewEbay(cfg.Providers.Ebay, tokens, limit))
		logrus.Info("eBay provider enabled")
	}
	if cfg.Providers.Amazon.Enabled {
		providers = append(providers, provider.NewAmazon(cfg.Providers.Amazon, limit))
		logrus.Info("Amazon provider enabled")
	}
	if cfg.Providers.Kleinanzeigen.Enabled {
		providers = append(providers, provider.NewKleinanzeigen(cfg.Providers.Kleinanzeigen, limit))
		logrus.Info("Kleinanzeigen provider enabled")
	}

	return providers
}

// buildMailer selects the digest dispatch backend.
func buildMailer(cfg *config.Config) (digest.Mailer, error) {
	switch cfg.Mail.Backend {
	case "gmail":
		logrus.Info("Using Gmail API for digest dispatch")
		g := cfg.Mail.Gmail
		return mailer.NewGmailMailer(g.ClientID, g.ClientSecret, g.RefreshToken, g.UserEmail)
	case "smtp":
		logrus.Info("Using SMTP for digest dispatch")
		return mailer.NewSMTPMailer(cfg.Mail.SMTP), nil
	default:
		return nil, fmt.Errorf("unknown mail backend %q", cfg.Mail.Backend)
	}
}

// setupRouter sets up the HTTP router with middleware
func setupRouter(h *handlers.Handlers) *gin.Engine {
	// Set Gin mode
	gin.SetMode(gin.ReleaseMode)

	// Create router
	router := gin.New()

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(loggerMiddleware())

	// Setup routes
	h.SetupRoutes(router)

	return router
}

// loggerMiddleware adds logging middleware
func loggerMiddleware() gin.HandlerFunc {
	return gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\" %s\"\n",
			param.ClientIP,
			param.TimeStamp.Format(time.RFC1123),
			param.Method,
			param.Path,
			param.Request.Proto,
			param.StatusCode,
			param.Latency,
			param.Request.UserAgent(),
			param.ErrorMessage,
		)
	})
}
