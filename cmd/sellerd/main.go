package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/pysugar/sellerops/internal/auth/token"
	"github.com/pysugar/sellerops/internal/config"
	"github.com/pysugar/sellerops/internal/db"
	"github.com/pysugar/sellerops/internal/logging"
	"github.com/pysugar/sellerops/internal/proxy/handlers"
	"github.com/pysugar/sellerops/internal/proxy/middleware"
	"github.com/pysugar/sellerops/internal/upstream"
	"github.com/pysugar/sellerops/internal/version"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load(os.Getenv("SELLEROPS_CONFIG"))
	if err != nil {
		// No logger yet; zap's example logger keeps the line structured.
		zap.NewExample().Fatal("load config", zap.Error(err))
	}

	logger := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database
	database, err := db.InitDB(cfg.Database.Path, logger.Named("gorm"))
	if err != nil {
		logger.Fatal("initialize database", zap.Error(err))
	}
	store := db.NewAccountStore(database)

	// Upstream client cache and executor
	cache := upstream.NewClientCache(cfg.Cache.TTL,
		upstream.WithSweepInterval(cfg.Cache.SweepInterval),
		upstream.WithCacheLogger(logger.Named("cache")),
	)
	cache.Start(ctx)
	defer cache.Stop()
	executor := upstream.NewExecutor(store, cache, upstream.NewClientFactory(cfg.Upstream.BaseURL, cfg.Upstream.Timeout))

	// Token manager
	evaluator := token.Evaluator{RefreshWindow: cfg.Token.RefreshWindow}
	tokenManager := token.NewManager(
		store,
		token.CredentialChain{Default: token.OAuthCredentials{
			ClientID:     cfg.OAuth.ClientID,
			ClientSecret: cfg.OAuth.ClientSecret,
		}},
		token.NewOAuthRefresher(cfg.Upstream.TokenURL, cfg.Upstream.Timeout),
		cache,
		token.WithRefreshWindow(cfg.Token.RefreshWindow),
		token.WithLogger(logger.Named("token")),
	)
	if cfg.Token.RefreshInterval > 0 {
		tokenManager.StartRefreshLoop(ctx, cfg.Token.RefreshInterval)
	}

	ownerTokens := middleware.NewOwnerTokens(cfg.Auth.JWTSecret, cfg.Auth.Issuer)

	// Create router
	r := chi.NewRouter()
	r.Use(logging.RequestLogger(logger))
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", handlers.HealthHandler(database))

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.OwnerAuth(ownerTokens))

		r.Get("/accounts", handlers.AccountsAPIHandler(store, evaluator))
		r.Post("/accounts", handlers.ConnectAccountHandler(tokenManager, evaluator))

		r.Route("/accounts/{"+middleware.AccountParam+"}", func(r chi.Router) {
			r.Get("/", handlers.AccountHandler(store, evaluator))
			r.Post("/pause", handlers.PauseAccountHandler(tokenManager, evaluator))
			r.Post("/resume", handlers.ResumeAccountHandler(tokenManager, evaluator))
			r.Post("/disconnect", handlers.DisconnectAccountHandler(tokenManager, evaluator))
			r.Post("/refresh", handlers.RefreshAccountHandler(tokenManager, evaluator))

			// Everything below talks to the marketplace API.
			r.Group(func(r chi.Router) {
				r.Use(middleware.AccountGuard(tokenManager))
				r.Get("/me", handlers.MeHandler(executor))
				r.Get("/orders", handlers.SearchOrdersHandler(executor))
				r.Get("/orders/{id}", handlers.OrderHandler(executor))
				r.Get("/items/{id}", handlers.ItemHandler(executor))
				r.Get("/claims/{id}", handlers.ClaimHandler(executor))
				r.Get("/shipments/{id}", handlers.ShipmentHandler(executor))
				r.Get("/payments/{id}", handlers.PaymentHandler(executor))
			})
		})
	})

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", zap.Error(err))
		}
	}()

	logger.Info("sellerops starting",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("addr", cfg.Addr()),
		zap.String("api_base_url", cfg.Upstream.BaseURL),
		zap.Duration("refresh_window", cfg.Token.RefreshWindow),
		zap.Duration("client_cache_ttl", cfg.Cache.TTL),
	)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server failed", zap.Error(err))
	}
}
