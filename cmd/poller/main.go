package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/richardliu001/quickpay/internal/config"
	"github.com/richardliu001/quickpay/internal/logger"
	"github.com/richardliu001/quickpay/internal/repo"
	"github.com/richardliu001/quickpay/internal/service"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"

	"github.com/segmentio/kafka-go"
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

	gdb, err := repo.Open(postgres.Open(cfg.Postgres.DSN), true)
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}

	kw := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Kafka.Brokers...),
		Topic:    cfg.Kafka.Topic,
		Balancer: &kafka.LeastBytes{},
	}
	defer kw.Close()

	repository := repo.NewRepository(gdb, kw, log)
	// wallet side effects never run here; the sweep only fails intents
	payments := service.NewPaymentService(repository, nil, nil, nil, service.PaymentOptions{}, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	var sweep <-chan time.Time
	if cfg.Reconcile.ProcessingTimeout > 0 {
		t := time.NewTicker(cfg.Reconcile.Interval)
		defer t.Stop()
		sweep = t.C
		log.Infow("stale processing sweep enabled", "timeout", cfg.Reconcile.ProcessingTimeout)
	}

	log.Info("quickpay-poller started")
	for {
		select {
		case <-ctx.Done():
			log.Info("quickpay-poller stopped")
			return
		case <-ticker.C:
			relay(ctx, repository, log)
		case <-sweep:
			reason := fmt.Sprintf("bank callback not received within %s", cfg.Reconcile.ProcessingTimeout)
			cutoff := time.Now().Add(-cfg.Reconcile.ProcessingTimeout)
			n, err := payments.ExpireStale(ctx, cutoff, cfg.Reconcile.Batch, reason)
			if err != nil {
				log.Errorf("expire stale intents: %v", err)
			}
			if n > 0 {
				log.Infof("expired %d stale intents", n)
			}
		}
	}
}

// relay publishes pending outbox rows and marks each one once Kafka has it.
func relay(ctx context.Context, r *repo.Repository, log *zap.SugaredLogger) {
	events, err := r.PollOutbox(ctx, 100)
	if err != nil {
		log.Errorf("poll outbox: %v", err)
		return
	}
	for _, evt := range events {
		if err := r.PublishEvent(ctx, evt); err != nil {
			log.Errorf("publish id=%d: %v", evt.ID, err)
			continue
		}
		if err := r.MarkOutboxProcessed(ctx, evt.ID); err != nil {
			log.Errorf("mark processed id=%d: %v", evt.ID, err)
		} else {
			log.Infof("event %d (%s) sent", evt.ID, evt.EventType)
		}
	}
}
