package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"budgetly/internal/auth"
	"budgetly/internal/backend"
	"budgetly/internal/cli"
	apphttp "budgetly/internal/http"
	"budgetly/internal/log"
	"budgetly/internal/services"
	"budgetly/internal/session"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(log.ComponentApp)
	cfg := cli.LoadAndValidateConfig(logger)

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", log.FieldError, err)
		os.Exit(1)
	}
	res, err := backend.NewFactory(logger).CreateBackend(context.Background(), backendCfg)
	if err != nil {
		logger.Error("Failed to initialize backend", log.FieldError, err, "backend", cfg.DataBackend)
		os.Exit(1)
	}
	st := res.Store

	monthly := services.NewMonthlyResolver(st, logger)
	seeder := services.NewSeeder(st, logger)
	deps := apphttp.Deps{
		Auth: auth.NewService(st, auth.Credentials{
			Username: cfg.AdminUsername,
			Password: cfg.AdminPassword,
		}, auth.WithLogger(logger)),
		Users:        services.NewUserService(st),
		Categories:   services.NewCategoryService(st, seeder, res.Publisher(), logger),
		Monthly:      monthly,
		Transactions: services.NewTransactionService(st, monthly, res.Publisher(), logger),
		Store:        st,
	}

	sessions := session.NewManager(session.Options{
		Capacity: cfg.SessionCapacity,
		TTL:      cfg.SessionTTL,
		Secure:   cfg.SecureCookies,
		Logger:   logger,
	})

	srv, err := apphttp.NewServer(":"+cfg.Port, deps, apphttp.Options{
		Sessions:        sessions,
		PageSize:        cfg.PageSize,
		HistoryPageSize: cfg.HistoryPageSize,
		Debounce:        cfg.SearchDebounce,
		RequestTimeout:  cfg.RequestTimeout,
		LoginRateLimit:  cfg.LoginRateLimit,
		TrustedProxies:  cfg.TrustedProxies,
		Logger:          logger,
	})
	if err != nil {
		logger.Error("Failed to configure server", log.FieldError, err)
		_ = res.Cleanup()
		os.Exit(1)
	}

	// Configure server timeouts and limits
	srv.ReadTimeout = 15 * time.Second
	srv.WriteTimeout = 2*cfg.RequestTimeout + 5*time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		if err := res.Cleanup(); err != nil {
			logger.Error("Backend cleanup error", log.FieldError, err)
		}
	})

	logger.Info("Starting budgetly server",
		log.FieldOperation, log.OpStartup,
		"port", cfg.Port,
		"backend", cfg.DataBackend,
		"events", res.AMQP != nil)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
		_ = res.Cleanup()
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
