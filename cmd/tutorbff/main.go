package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"tutorbff/internal/config"
	"tutorbff/internal/logger"
	"tutorbff/internal/routing"
	"tutorbff/internal/storage"
	"tutorbff/pkg/backend"
	"tutorbff/pkg/bff"
	"tutorbff/pkg/handlers"
	"tutorbff/pkg/middleware"
	"tutorbff/pkg/session"
)

func main() {
	cfg, err := config.Load() // load env vars from .env
	if err != nil {
		log.Fatal(err)
	}

	logger := logger.Load(cfg.Env, cfg.LogLevel)
	if err := cfg.Validate(logger); err != nil {
		logger.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(ctx, cfg, logger)
	if err != nil {
		logger.Error("cannot open session store", slog.Any("error", err))
		os.Exit(1)
	}
	defer store.Close(context.Background())

	go storage.RunSweeper(ctx, store.Store, cfg.SweepInterval, logger)

	client := backend.NewClient(cfg.BackendURL, logger,
		backend.WithHTTPClient(backend.NewHTTPClient(cfg.BackendIdleConn)),
		backend.WithTimeout(cfg.BackendTimeout),
		backend.WithCredentialMode(backend.CredentialMode(cfg.BackendAuthMode)),
	)

	skew := cfg.RefreshSkew
	if !cfg.ProactiveRefresh {
		skew = 0
	}
	service := bff.NewService(store.Store, client, logger,
		bff.WithSessionTTL(cfg.SessionTTL),
		bff.WithProactiveRefresh(skew),
		bff.WithCoalescing(cfg.RefreshCoalesce),
	)

	cookie := session.Cookie{Name: cfg.CookieName, Domain: cfg.CookieDomain, Secure: cfg.Production()}
	handler := handlers.NewHandler(service, cookie, logger,
		handlers.WithSiteURL(cfg.SiteURL),
		handlers.WithMaxBodyBytes(cfg.MaxBodyBytes),
	)

	r := routing.NewRouter(handler, cfg.StaticDir, middleware.DefaultGateConfig(cfg.CookieName, cfg.SiteURL), logger)
	if err := routing.StartServer(ctx, cfg.Addr, r, logger); err != nil {
		logger.Error("server failed", slog.Any("error", err))
		os.Exit(1)
	}
}
