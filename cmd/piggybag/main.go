// Package main запускает HTTP-сервер сервиса PiggyBag.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/piggybag/internal/config"
	"github.com/mmeshcher/piggybag/internal/events"
	"github.com/mmeshcher/piggybag/internal/handler"
	"github.com/mmeshcher/piggybag/internal/lease"
	"github.com/mmeshcher/piggybag/internal/logger"
	"github.com/mmeshcher/piggybag/internal/middleware"
	"github.com/mmeshcher/piggybag/internal/payment"
	"github.com/mmeshcher/piggybag/internal/payment/evm"
	"github.com/mmeshcher/piggybag/internal/payment/signer"
	"github.com/mmeshcher/piggybag/internal/repository"
	"github.com/mmeshcher/piggybag/internal/service"
)

func main() {
	bootstrap, _ := zap.NewProduction()

	cfg, err := config.Parse()
	if err != nil {
		bootstrap.Sugar().Fatalw("configuration error", "error", err.Error())
	}

	log, err := logger.New(logger.Config{Level: cfg.LogLevel, File: cfg.LogFile})
	if err != nil {
		bootstrap.Sugar().Fatalw("logger initialization error", "error", err.Error())
	}
	defer log.Sync()

	sugar := log.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}

	opts := []service.Option{service.WithLogger(log)}

	if cfg.RedisURL != "" {
		rdb, err := newRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			sugar.Fatalw("redis initialization error", "error", err.Error())
		}
		defer rdb.Close()

		opts = append(opts,
			service.WithLocker(lease.NewRedisLocker(rdb, cfg.LeaseTTL)),
			service.WithPublisher(events.NewRedisPublisher(rdb, log)),
		)
	} else {
		sugar.Warnw("redis is not configured, distribution leases are process-local")
		opts = append(opts, service.WithLocker(lease.NewLocalLocker(cfg.LeaseTTL)))
	}

	var chain *evm.Client
	if cfg.ChainRPCURL != "" {
		chain, err = evm.Dial(ctx, cfg.ChainRPCURL, cfg.ChainPrivateKey, cfg.ChainConfirmations)
		if err != nil {
			sugar.Fatalw("chain client initialization error", "error", err.Error())
		}
		opts = append(opts, service.WithVerifier(chain))
	}

	var wallet hotWallet
	if chain != nil && cfg.ChainPrivateKey != "" {
		wallet = chain
	}
	payer := selectPayer(cfg, wallet, log)

	svc := service.NewService(repo, payer, opts...)
	defer svc.Close()

	if cfg.AuthSecret == "" {
		sugar.Warnw("AUTH_SECRET is empty, mutating endpoints will reject every request")
	}
	h := handler.NewHandler(svc, log, middleware.NewWalletAuth(cfg.AuthSecret))

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sugar.Infow("starting piggybag server", "addr", cfg.RunAddress)
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

// hotWallet платит с собственного ключа сервиса.
type hotWallet interface {
	service.Payer
	Address() string
}

// selectPayer выбирает исполнителя выплат: сервис подписи, горячий кошелёк или заглушку.
func selectPayer(cfg *config.Config, wallet hotWallet, log *zap.Logger) service.Payer {
	sugar := log.Sugar()

	switch {
	case cfg.SignerAddress != "":
		sugar.Infow("payouts go through remote signer", "addr", cfg.SignerAddress)
		return signer.NewClient(cfg.SignerAddress, 0)
	case wallet != nil:
		sugar.Infow("payouts are signed by hot wallet", "wallet", wallet.Address())
		sugar.Warnw("hot wallet pays only rewards of projects created by this wallet, other creators need SIGNER_ADDRESS",
			"wallet", wallet.Address())
		return wallet
	default:
		sugar.Warnw("no payment backend configured, reward distribution is disabled")
		return payment.Unconfigured{}
	}
}

func newRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}
