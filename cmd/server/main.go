package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/richardliu001/quickpay/internal/bank"
	"github.com/richardliu001/quickpay/internal/cache"
	"github.com/richardliu001/quickpay/internal/config"
	"github.com/richardliu001/quickpay/internal/logger"
	"github.com/richardliu001/quickpay/internal/repo"
	"github.com/richardliu001/quickpay/internal/service"
	httptransport "github.com/richardliu001/quickpay/internal/transport/http"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/postgres"
)

func main() {
	// 1. load config
	cfg, err := config.Load(config.Path())
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	// 2. init logger
	log, err := logger.NewLogger(cfg.Log)
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	// 3. postgres
	gdb, err := repo.Open(postgres.Open(cfg.Postgres.DSN), true)
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}
	if sqlDB, err := gdb.DB(); err == nil {
		sqlDB.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
	}
	if err := repo.Migrate(gdb); err != nil {
		log.Fatalf("auto-migrate: %v", err)
	}

	// 4. redis; the service keeps working without it
	var c *cache.Cache
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			log.Warnw("redis unavailable, caching disabled until it recovers", "addr", cfg.Redis.Addr, "error", err)
		}
		c = cache.New(rdb)
	}

	// 5. repo & services; events leave through the outbox poller
	repository := repo.NewRepository(gdb, nil, log)
	wallets := service.NewWalletService(repository, c, log)
	gateway := bank.NewClient(cfg.Bank.URL, cfg.Bank.Timeout, bank.CallbackPolicy{
		Development:  cfg.Server.Development(),
		AllowedHosts: cfg.Bank.AllowedCallbackHosts,
	})
	if cfg.Bank.URL == "" {
		log.Warn("bank url not configured; confirmed payments will fail")
	}
	platform, err := repository.EnsurePlatformMerchant(context.Background(), cfg.TopUp.MerchantName)
	if err != nil {
		log.Fatalf("ensure top-up merchant: %v", err)
	}
	payments := service.NewPaymentService(repository, wallets, gateway, c, service.PaymentOptions{
		CallbackURL:     cfg.CallbackURL(),
		IdempotencyTTL:  cfg.Idempotency.TTL,
		TopUpMerchantID: platform.ID,
	}, log)
	transfers := service.NewTransferService(repository, wallets, log)

	// 6. gin router
	if !cfg.Server.Development() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := httptransport.NewRouter(httptransport.Services{
		Payments:  payments,
		Wallets:   wallets,
		Transfers: transfers,
		Merchants: repository,
	}, httptransport.Options{
		RateLimit:     cfg.RateLimit,
		WebhookSecret: cfg.Bank.WebhookSecret,
	}, log)

	// 7. serve until signalled
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Infof("quickpay listening on %s (env=%s)", srv.Addr, cfg.Server.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shCtx)
	})
	if err := g.Wait(); err != nil {
		log.Fatalf("server: %v", err)
	}
}
