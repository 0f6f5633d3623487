package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ariefcatur/agrimanager-orders/internal/auth"
	"github.com/ariefcatur/agrimanager-orders/internal/config"
	"github.com/ariefcatur/agrimanager-orders/internal/httpx"
	kafkax "github.com/ariefcatur/agrimanager-orders/internal/kafka"
	"github.com/ariefcatur/agrimanager-orders/internal/orders"
	"github.com/ariefcatur/agrimanager-orders/internal/postgres"
	"github.com/ariefcatur/agrimanager-orders/internal/redisx"
	"github.com/ariefcatur/agrimanager-orders/internal/stripex"
	"github.com/ariefcatur/agrimanager-orders/internal/telemetry"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := newLogger(cfg.LogLevel)
	slog.SetDefault(log)

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if err := run(cfg, log); err != nil {
		log.Error("api stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.ServiceName, cfg.TracingExporter, cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		return err
	}
	defer db.Close()
	if cfg.MigrateOnStart {
		if err := postgres.Migrate(ctx, db, "up"); err != nil {
			return err
		}
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producer
	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024, log)
	prod.Start()

	repo := &orders.Repo{DB: db}
	cache := redisx.NewCache(rdb, log)
	coord := &orders.Coordinator{
		Store: repo,
		Payments: stripex.New(stripex.Config{
			SecretKey:     cfg.StripeSecretKey,
			WebhookSecret: cfg.StripeWebhookSecret,
			HTTPTimeout:   cfg.PaymentTimeout,
		}),
		Events: &orders.KafkaPublisher{Producer: prod},
		Cache:  cache,
		Log:    log,
		Checkout: orders.CheckoutConfig{
			BaseURL:  cfg.PublicBaseURL,
			Currency: cfg.Currency,
			Timeout:  cfg.PaymentTimeout,
		},
		Service: cfg.ServiceName,
	}
	catalog := &orders.Catalog{Store: repo, Log: log}
	verifier := auth.NewJWTVerifier(cfg.JWTSecret, cfg.JWTIssuer)

	router := httpx.NewRouter(cfg.RequestTimeout)
	(&httpx.ProductsHandler{Products: catalog, Auth: verifier}).Register(router)
	(&httpx.OrdersHandler{Orders: coord, Auth: verifier}).Register(router)
	(&httpx.WebhookHandler{Webhooks: coord, Log: log}).Register(router)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           otelhttp.NewHandler(router, "http.server"),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	err = g.Wait()

	// requests are drained; flush what they published
	prod.Close()
	prod.WaitClosed()
	return err
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
