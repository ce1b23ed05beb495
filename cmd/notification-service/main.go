package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/nazeru/tx-lab-marketplace-go/internal/notify"
	"github.com/nazeru/tx-lab-marketplace-go/pkg/contracts"
	"github.com/nazeru/tx-lab-marketplace-go/pkg/kafka"
	"github.com/nazeru/tx-lab-marketplace-go/pkg/logging"
	"github.com/nazeru/tx-lab-marketplace-go/pkg/metrics"
)

const serviceName = "notification-service"

type cfg struct {
	Port         string
	DatabaseURL  string
	KafkaBrokers string
	Topic        string
	GroupID      string
	LogLevel     string
}

func readCfg() cfg {
	return cfg{
		Port:         getenv("PORT", "8080"),
		DatabaseURL:  getenv("DATABASE_URL", ""),
		KafkaBrokers: getenv("KAFKA_BROKERS", ""),
		Topic:        getenv("KAFKA_TOPIC", contracts.TopicOrders),
		GroupID:      getenv("KAFKA_GROUP_ID", serviceName),
		LogLevel:     getenv("LOG_LEVEL", "info"),
	}
}

func main() {
	cfg := readCfg()
	logger, err := logging.New(serviceName, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		inbox notify.Inbox = notify.NewMemInbox()
		ping               = func(context.Context) error { return nil }
	)
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("db connect failed", zap.Error(err))
		}
		defer pool.Close()
		pg := notify.NewPgInbox(pool)
		mctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		err = pg.Migrate(mctx)
		cancel()
		if err != nil {
			logger.Fatal("inbox migration failed", zap.Error(err))
		}
		inbox, ping = pg, pg.Ping
	} else {
		logger.Warn("DATABASE_URL not set, deduplicating in memory")
	}

	reg := prometheus.DefaultRegisterer
	srvMetrics := metrics.NewServerMetrics(reg, "notification_service")
	handled := notify.NewHandledCounter(reg)

	kc := kafka.NewClient(cfg.KafkaBrokers)
	if kc.Enabled() {
		reader := kc.NewReader(cfg.Topic, cfg.GroupID)
		defer reader.Close()
		consumer := &notify.Consumer{Reader: reader, Inbox: inbox, Logger: logger.Named("consumer"), Handled: handled}
		go func() { _ = consumer.Run(ctx) }()
	} else {
		logger.Warn("KAFKA_BROKERS not set, no events will be consumed")
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		code, body := http.StatusOK, "ok"
		if err := ping(r.Context()); err != nil {
			code, body = http.StatusServiceUnavailable, "db_error"
		}
		writeJSON(w, code, map[string]any{"status": body})
		srvMetrics.Requests.WithLabelValues("health", strconv.Itoa(code)).Inc()
		srvMetrics.LatencyMS.WithLabelValues("health").Observe(float64(time.Since(start).Milliseconds()))
	})
	r.Handle("/metrics", metrics.Handler(nil))

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("listening", zap.String("addr", srv.Addr), zap.String("topic", cfg.Topic))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(sctx)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func getenv(k, def string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	return v
}
