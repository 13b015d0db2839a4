package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"search-market-agent/internal/auth"
	"search-market-agent/internal/blockchain"
	"search-market-agent/internal/config"
	"search-market-agent/internal/database"
	"search-market-agent/internal/handlers"
	"search-market-agent/internal/jobs"
	"search-market-agent/internal/logger"
	"search-market-agent/internal/reporting"
	"search-market-agent/internal/repository"
	"search-market-agent/internal/search"
	"search-market-agent/internal/services"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zl, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer zl.Sync() //nolint:errcheck

	reporter := reporting.New(cfg.App.BugsnagAPIKey, cfg.App.Environment, zl.Named("reporter"))

	// Connect to database
	db, err := database.Connect(cfg, zl)
	if err != nil {
		zl.Fatal("failed to connect to database", zap.Error(err))
	}
	defer database.Close(db) //nolint:errcheck

	// Run migrations
	if err := database.AutoMigrate(db, zl); err != nil {
		zl.Fatal("failed to run migrations", zap.Error(err))
	}

	wallet, err := blockchain.LoadWallet(cfg.Solana.FeePayerPrivateKey)
	if err != nil {
		zl.Fatal("failed to load fee payer", zap.Error(err))
	}
	if cfg.Solana.FeePayerPrivateKey == "" {
		zl.Warn("FEE_PAYER_PRIVATE_KEY not set, using an ephemeral wallet", zap.Stringer("wallet", wallet.PublicKey()))
	}

	// Initialize Solana clients
	solanaClient := blockchain.NewSolanaClient(cfg.Solana.Endpoint, wallet, cfg.Solana.ConfirmTimeout, zl.Named("rpc"))
	airdropClient := solanaClient
	if cfg.Solana.AirdropEndpoint != cfg.Solana.Endpoint {
		airdropClient = blockchain.NewSolanaClient(cfg.Solana.AirdropEndpoint, wallet, cfg.Solana.ConfirmTimeout, zl.Named("airdrop"))
	}
	program := blockchain.NewMarketProgram(cfg.Solana.ProgramID)

	// Initialize repository and services
	settlementRepo := repository.NewSettlementRepository(db)
	searchClient := search.NewClient(cfg.Search.Endpoint, cfg.Search.SubscriptionKey, cfg.Search.MaxResults)
	resolver := services.NewMarketResolver(searchClient, zl.Named("resolver"))
	ladder := services.NewPriceLadder(cfg.Order.BasePrice, cfg.Order.PriceStep, cfg.Order.LamportsPerToken)
	sequencer := services.NewSettlementSequencer(solanaClient, program, settlementRepo, ladder, zl.Named("sequencer"))
	funder := services.NewFundingService(
		airdropClient,
		wallet.PublicKey(),
		cfg.Solana.AirdropEnabled,
		cfg.Solana.AirdropThreshold,
		cfg.Solana.AirdropAmount,
		zl.Named("funder"),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := funder.EnsureFunded(ctx); err != nil {
		zl.Warn("initial airdrop top-up failed", zap.Error(err))
	}

	// Start background jobs
	wsEndpoint := cfg.Solana.SubscriptionEndpoint()
	subscribe := func(ctx context.Context) (jobs.NotificationStream, error) {
		sub, err := blockchain.SubscribeProgram(ctx, wsEndpoint, cfg.Solana.ProgramID)
		if err != nil {
			return nil, err
		}
		return sub, nil
	}
	watcher := jobs.NewMarketWatcher(subscribe, resolver, sequencer, funder, reporter, zl.Named("watcher"))
	resumer := jobs.NewSettlementResumer(settlementRepo, sequencer, reporter, zl.Named("resumer"))

	go resumer.Start(ctx)
	go watcher.Start(ctx)
	if cfg.App.SweepOnStart {
		if err := watcher.Sweep(ctx, solanaClient, cfg.Solana.ProgramID); err != nil {
			zl.Error("initial sweep failed", zap.Error(err))
		}
	}

	// Set up Gin router
	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	router.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Authorization", "Accept"},
		ExposeHeaders:   []string{"Content-Length"},
		MaxAge:          12 * time.Hour,
	}))

	httpLog := zl.Named("http")
	settlementHandler := handlers.NewSettlementHandler(settlementRepo, resumer, httpLog)
	diagnosticsHandler := handlers.NewDiagnosticsHandler(func(ctx context.Context) *blockchain.DiagnosticResult {
		return blockchain.RunDiagnostics(ctx, solanaClient, cfg.Solana.ProgramID, httpLog)
	})

	router.Any("/", handlers.Liveness)
	router.GET("/health", handlers.Health)

	api := router.Group("/api")
	{
		api.GET("/diagnostics", diagnosticsHandler.GetDiagnostics)
		api.GET("/settlements", settlementHandler.GetSettlements)
		api.GET("/settlements/stats", settlementHandler.GetSettlementStats)
		api.GET("/settlements/:id", settlementHandler.GetSettlement)
	}

	// Admin routes are only mounted when tokens can be verified
	if cfg.App.AdminJWTSecret != "" {
		tokens, err := auth.NewTokenManager(cfg.App.AdminJWTSecret)
		if err != nil {
			zl.Fatal("failed to initialize admin tokens", zap.Error(err))
		}
		admin := router.Group("/api/admin")
		admin.Use(tokens.AdminMiddleware(httpLog))
		{
			admin.POST("/settlements/:id/retry", settlementHandler.RetrySettlement)
		}
	} else {
		zl.Info("ADMIN_JWT_SECRET not set, admin routes disabled")
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	// Start server in a goroutine
	go func() {
		zl.Info("server starting",
			zap.String("port", cfg.Server.Port),
			zap.Stringer("program", cfg.Solana.ProgramID),
			zap.Stringer("fee_payer", wallet.PublicKey()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	<-ctx.Done()
	zl.Info("shutting down")

	// Graceful shutdown with 5 second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Error("server forced to shutdown", zap.Error(err))
	}

	// In-flight settlements stop at their next step boundary
	watcher.Wait()
	resumer.Wait()

	zl.Info("server exited")
}
