package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/nazeru/tx-lab-marketplace-go/internal/config"
	"github.com/nazeru/tx-lab-marketplace-go/internal/order/app"
	"github.com/nazeru/tx-lab-marketplace-go/internal/order/httpapi"
	"github.com/nazeru/tx-lab-marketplace-go/internal/order/store"
	"github.com/nazeru/tx-lab-marketplace-go/internal/order/store/memstore"
	"github.com/nazeru/tx-lab-marketplace-go/internal/order/store/pgstore"
	"github.com/nazeru/tx-lab-marketplace-go/pkg/kafka"
	"github.com/nazeru/tx-lab-marketplace-go/pkg/logging"
	"github.com/nazeru/tx-lab-marketplace-go/pkg/metrics"
	"github.com/nazeru/tx-lab-marketplace-go/pkg/outbox"
	"github.com/nazeru/tx-lab-marketplace-go/pkg/tracing"
)

const serviceName = "order-service"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger, err := logging.New(serviceName, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, serviceName, cfg.OtelEndpoint)
	if err != nil {
		logger.Fatal("tracing setup failed", zap.Error(err))
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	st, catalog, source, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		logger.Fatal("store setup failed", zap.Error(err), zap.String("store", cfg.Store))
	}
	defer closeStore()

	reg := prometheus.DefaultRegisterer
	orderMetrics := metrics.NewOrderMetrics(reg)
	svc := app.New(app.Deps{
		Store:   st,
		Catalog: catalog,
		Policy:  cfg.StatusPolicy,
		Logger:  logger,
		Metrics: orderMetrics,
	})

	kc := kafka.NewClient(cfg.KafkaBrokers)
	if kc.Enabled() {
		pub := kafka.NewPublisher(kc)
		defer func() { _ = pub.Close() }()
		relay := &outbox.Relay{
			Source:    source,
			Publisher: pub,
			Logger:    logger.Named("outbox"),
			Interval:  cfg.OutboxPoll,
			Batch:     cfg.OutboxBatch,
			Published: orderMetrics.OutboxPublished,
		}
		go func() { _ = relay.Run(ctx) }()
	} else {
		logger.Warn("KAFKA_BROKERS not set, outbox events stay unpublished")
	}

	handler := httpapi.NewRouter(svc, httpapi.Options{
		Logger:         logger.Named("http"),
		Metrics:        metrics.NewServerMetrics(reg, "order_service"),
		MetricsHandler: metrics.Handler(nil),
		Timeout:        cfg.RequestTimeout,
	})
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("listening",
			zap.String("addr", srv.Addr),
			zap.String("store", cfg.Store),
			zap.String("status_policy", cfg.StatusPolicy.String()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func openStore(ctx context.Context, cfg config.Config) (store.Store, app.Catalog, outbox.Source, func(), error) {
	if cfg.Store == config.StoreMemory {
		mem := memstore.New(memstore.WithTopic(cfg.KafkaTopic))
		return mem, mem, mem, func() {}, nil
	}

	pool, err := pgstore.Open(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	pg := pgstore.New(pool, cfg.KafkaTopic)
	mctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := pg.Migrate(mctx); err != nil {
		pool.Close()
		return nil, nil, nil, nil, err
	}
	return pg, pg, pg.Outbox(), pool.Close, nil
}
