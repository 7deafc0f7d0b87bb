package main

import (
	"context"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/fieldops/fieldops/internal/app"
	"github.com/fieldops/fieldops/internal/auth"
	"github.com/fieldops/fieldops/internal/missions"
	"github.com/fieldops/fieldops/internal/rbac"
	"github.com/fieldops/fieldops/internal/roles"
	"github.com/fieldops/fieldops/internal/shared"
	"github.com/fieldops/fieldops/internal/users"
	"github.com/fieldops/fieldops/jobs"
)

func runServer(parent context.Context) error {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return nil
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := openInfra(ctx)
	if err != nil {
		slog.Default().Error("bootstrap", slog.Any("error", err))
		return exitWith(1)
	}
	defer deps.Close()
	cfg, logger := deps.cfg, deps.logger

	rbacService := deps.rbac.Service
	if deps.rbac.Bus != nil {
		if err := deps.rbac.Bus.Listen(ctx, rbacService); err != nil {
			logger.Error("subscribe rbac invalidations", slog.Any("error", err))
			return exitWith(1)
		}
	}
	rbacMiddleware := deps.rbac.Middleware(logger)

	sessionManager := shared.NewSessionManager(deps.redis, "fieldops_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)

	authService := auth.NewService(auth.NewRepository(deps.pool))
	authHandler := auth.NewHandler(logger, authService, sessionManager, csrfManager)

	rolesService := roles.NewService(roles.NewRepository(deps.pool), rbacService)
	rolesHandler := roles.NewHandler(logger, rolesService, rbacMiddleware)

	usersService := users.NewService(users.NewRepository(deps.pool), rbacService)
	usersHandler := users.NewHandler(logger, usersService, rbacMiddleware)

	missionsService := missions.NewService(missions.NewRepository(deps.pool))
	missionsHandler := missions.NewHandler(logger, missionsService, rbacMiddleware)

	permissionsHandler := rbac.NewPermissionsHandler(logger, rbacService, deps.rbac.Store, rbacMiddleware)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		SessionManager:     sessionManager,
		CSRFManager:        csrfManager,
		AuthHandler:        authHandler,
		RolesHandler:       rolesHandler,
		UsersHandler:       usersHandler,
		MissionsHandler:    missionsHandler,
		PermissionsHandler: permissionsHandler,
		JobHandler:         jobHandler,
		RBACMiddleware:     rbacMiddleware,
		Metrics:            deps.metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
	return nil
}
