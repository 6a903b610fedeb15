// Package main запускает HTTP-сервер сервиса лояльности.
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

	"github.com/mmeshcher/loyalty-system/internal/authclient"
	"github.com/mmeshcher/loyalty-system/internal/config"
	"github.com/mmeshcher/loyalty-system/internal/handler"
	"github.com/mmeshcher/loyalty-system/internal/middleware"
	"github.com/mmeshcher/loyalty-system/internal/notify"
	"github.com/mmeshcher/loyalty-system/internal/redemption"
	"github.com/mmeshcher/loyalty-system/internal/repository"
	"github.com/mmeshcher/loyalty-system/internal/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	// Отсутствие адресов внешних систем не мешает запуску:
	// соответствующие запросы будут завершаться ошибкой.
	for _, name := range cfg.MissingCollaborators() {
		sugar.Warnw("collaborator not configured, requests will fail", "name", name)
	}

	var repo service.Repository
	if cfg.DatabaseURI != "" {
		pg, err := repository.NewPostgresRepository(cfg.DatabaseURI)
		if err != nil {
			sugar.Fatalw("database initialization error", "error", err.Error())
		}
		repo = pg
	}

	var auth service.AuthProvider
	if cfg.AuthServiceAddress != "" {
		auth = authclient.NewClient(cfg.AuthServiceAddress)
	}

	var redeemer service.Redeemer
	if cfg.RedeemServiceAddress != "" {
		redeemer = redemption.NewClient(cfg.RedeemServiceAddress)
	}

	svc := service.NewService(repo, auth, redeemer, logger)
	defer svc.Close()

	sessions := middleware.NewSessionManager(cfg.SessionSecret)
	notifications := notify.NewQueue()

	h := handler.NewHandler(svc, logger, sessions, notifications)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting loyalty server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
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
