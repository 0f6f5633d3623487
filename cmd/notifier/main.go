package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ariefcatur/agrimanager-orders/internal/config"
	kafkax "github.com/ariefcatur/agrimanager-orders/internal/kafka"
	"github.com/ariefcatur/agrimanager-orders/internal/notifier"
	"github.com/ariefcatur/agrimanager-orders/internal/orders"
	"github.com/ariefcatur/agrimanager-orders/internal/redisx"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("service", "notifier")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	svc := &notifier.Service{
		Dedup:    redisx.NewCache(rdb, log),
		Notifier: &notifier.LogNotifier{Log: log},
		Log:      log,
	}

	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.NotifierGroup, orders.AllTopics, cfg.NotifierWorkers, log)
	log.Info("notifier consuming", "group", cfg.NotifierGroup, "topics", orders.AllTopics, "workers", cfg.NotifierWorkers)
	if err := cons.Start(ctx, svc.HandleMessage); err != nil {
		log.Error("consumer stopped", "error", err)
		os.Exit(1)
	}
	log.Info("notifier stopped")
}
