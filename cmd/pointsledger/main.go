// Package main запускает HTTP-сервер журнала баллов.
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

	"github.com/mmeshcher/pointsledger/internal/config"
	"github.com/mmeshcher/pointsledger/internal/handler"
	"github.com/mmeshcher/pointsledger/internal/logo"
	"github.com/mmeshcher/pointsledger/internal/middleware"
	"github.com/mmeshcher/pointsledger/internal/model"
	"github.com/mmeshcher/pointsledger/internal/repository"
	"github.com/mmeshcher/pointsledger/internal/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	policy, err := buildPolicy(cfg)
	if err != nil {
		sugar.Fatalw("ledger policy error", "error", err.Error())
	}

	var store service.Store
	if cfg.DatabaseURI != "" {
		repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
		if err != nil {
			sugar.Fatalw("database initialization error", "error", err.Error())
		}
		store = repo
	} else {
		sugar.Warn("DATABASE_URI is empty, balances are kept in memory and lost on restart")
		store = repository.NewMemoryRepository()
	}

	svc := service.NewService(store, policy, logger)
	defer svc.Close()

	if cfg.VerifyLogo {
		svc.SetLogoVerifier(logo.NewClient(logger))
	}

	if cfg.JWTSecret == "" {
		sugar.Warn("JWT_SECRET is empty, issued tokens will not survive a restart")
	}
	authMiddleware := middleware.NewAuthMiddleware(cfg.JWTSecret, cfg.TokenTTL)
	h := handler.NewHandler(svc, logger, authMiddleware)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sugar.Infow("starting points ledger server",
			"addr", cfg.RunAddress,
			"overdraft", policy.AllowOverdraft,
			"creditPolicy", cfg.BetCreditPolicy,
		)
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

// buildPolicy переводит строковые настройки в правила журнала.
func buildPolicy(cfg *config.Config) (service.Policy, error) {
	policy := service.DefaultPolicy()
	policy.AllowOverdraft = cfg.AllowOverdraft

	individual, err := model.ParsePoints(cfg.IndividualAnalysisCost)
	if err != nil {
		return policy, fmt.Errorf("individual analysis cost: %w", err)
	}
	group, err := model.ParsePoints(cfg.GroupAnalysisCost)
	if err != nil {
		return policy, fmt.Errorf("group analysis cost: %w", err)
	}
	if individual <= 0 || group <= 0 {
		return policy, fmt.Errorf("analysis costs must be positive")
	}
	policy.IndividualAnalysisCost = individual
	policy.GroupAnalysisCost = group

	if cfg.BetCreditPolicy == config.CreditPolicyFixed {
		credit, err := model.ParsePoints(cfg.BetFixedCredit)
		if err != nil {
			return policy, fmt.Errorf("bet fixed credit: %w", err)
		}
		if credit <= 0 {
			return policy, fmt.Errorf("bet fixed credit must be positive, got %s", credit)
		}
		policy.Credit = service.FixedCredit(credit)
	}

	return policy, nil
}
