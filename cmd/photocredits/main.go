// Package main запускает HTTP-сервер сервиса фотокредитов.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/photo-credits/internal/config"
	"github.com/mmeshcher/photo-credits/internal/gateway"
	"github.com/mmeshcher/photo-credits/internal/generation"
	"github.com/mmeshcher/photo-credits/internal/handler"
	"github.com/mmeshcher/photo-credits/internal/middleware"
	"github.com/mmeshcher/photo-credits/internal/repository"
	"github.com/mmeshcher/photo-credits/internal/service"
	"github.com/mmeshcher/photo-credits/internal/session"
	"github.com/mmeshcher/photo-credits/internal/signature"
	"github.com/mmeshcher/photo-credits/internal/storage"
)

func main() {
	cfg, err := config.Parse()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, _ := zap.NewProduction()
	if !cfg.Production() {
		logger, _ = zap.NewDevelopment()
	}
	defer logger.Sync()

	sugar := logger.Sugar()

	verifier, err := signature.NewVerifier(cfg.GatewayKeySecret)
	if err != nil {
		sugar.Fatalw("signature verifier initialization error", "error", err.Error())
	}

	gate, err := session.NewGate(cfg.SessionSecret, cfg.Production())
	if err != nil {
		sugar.Fatalw("session gate initialization error", "error", err.Error())
	}

	repo, err := openRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	blobs, err := storage.NewFS(cfg.UploadsDir)
	if err != nil {
		sugar.Fatalw("storage initialization error", "error", err.Error())
	}

	var orderCreator service.OrderCreator
	if cfg.GatewayAddress != "" {
		orderCreator = gateway.NewClient(cfg.GatewayAddress, cfg.GatewayKeyID, cfg.GatewayKeySecret, logger)
	}

	var generator service.Generator
	if cfg.GenerationAddress != "" {
		generator = generation.NewClient(cfg.GenerationAddress, cfg.GenerationAPIKey)
	}

	opts := service.Options{StoreTimeout: cfg.StoreTimeout}
	orders := service.NewOrderService(repo, verifier, orderCreator, logger, opts)
	quota := service.NewQuotaService(repo, logger, opts)
	uploads := service.NewUploadService(quota, blobs, generator, logger)

	limiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, logger)
	h := handler.NewHandler(orders, quota, uploads, gate, limiter, cfg.TrustProxyHeaders, logger)

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		limiter.Run(ctx, 10*time.Minute)
		return nil
	})

	g.Go(func() error {
		sugar.Infow("starting photo credits server",
			"addr", cfg.RunAddress,
			"store", storeKind(cfg.DatabaseURI),
			"gateway", cfg.GatewayAddress != "",
			"generation", cfg.GenerationAddress != "",
			"trust_proxy_headers", cfg.TrustProxyHeaders,
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}

func openRepository(dsn string) (service.Repository, error) {
	if dsn == "" {
		return repository.NewMemoryRepository(), nil
	}
	repo, err := repository.NewPostgresRepository(dsn)
	if err != nil {
		return nil, err
	}
	return repo, nil
}

func storeKind(dsn string) string {
	if dsn == "" {
		return "memory"
	}
	return "postgres"
}
