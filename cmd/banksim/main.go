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

	"github.com/gin-gonic/gin"
	"github.com/richardliu001/quickpay/internal/bank"
	"github.com/richardliu001/quickpay/internal/banksim"
	"github.com/richardliu001/quickpay/internal/config"
	"github.com/richardliu001/quickpay/internal/logger"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load(config.Path())
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}
	log, err := logger.NewLogger(cfg.Log)
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	if !cfg.Server.Development() {
		gin.SetMode(gin.ReleaseMode)
	}
	sim := banksim.New(banksim.Config{
		SuccessRate:     cfg.Simulator.SuccessRate,
		MinDelay:        cfg.Simulator.MinDelay,
		MaxDelay:        cfg.Simulator.MaxDelay,
		CallbackTimeout: cfg.Simulator.CallbackTimeout,
		Secret:          cfg.Bank.WebhookSecret,
		Policy: bank.CallbackPolicy{
			Development:  cfg.Server.Development(),
			AllowedHosts: cfg.Bank.AllowedCallbackHosts,
		},
	}, log)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Simulator.Port),
		Handler:           sim.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Infow("bank simulator listening", "addr", srv.Addr,
			"success_rate", cfg.Simulator.SuccessRate,
			"min_delay", cfg.Simulator.MinDelay, "max_delay", cfg.Simulator.MaxDelay)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shCtx)
		sim.Close()
		return err
	})
	if err := g.Wait(); err != nil {
		log.Fatalf("bank simulator: %v", err)
	}
}
