package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/nazeru/tx-lab-marketplace-go/internal/order/reconcile"
	"github.com/nazeru/tx-lab-marketplace-go/pkg/contracts"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	Port           string
	Store          string
	DatabaseURL    string
	DBMaxConns     int32
	KafkaBrokers   string
	KafkaTopic     string
	OutboxPoll     time.Duration
	OutboxBatch    int
	RequestTimeout time.Duration
	StatusPolicy   reconcile.Policy
	LogLevel       string
	OtelEndpoint   string
}

// Load reads the order-service configuration from the environment.
func Load() (Config, error) {
	c := Config{
		Port:         getenv("PORT", "8080"),
		Store:        strings.ToLower(getenv("STORE", StorePostgres)),
		DatabaseURL:  getenv("DATABASE_URL", ""),
		KafkaBrokers: getenv("KAFKA_BROKERS", ""),
		KafkaTopic:   getenv("KAFKA_TOPIC", contracts.TopicOrders),
		LogLevel:     getenv("LOG_LEVEL", "info"),
		OtelEndpoint: getenv("OTEL_ENDPOINT", ""),
	}

	switch c.Store {
	case StorePostgres:
		if c.DatabaseURL == "" {
			return Config{}, errors.New("DATABASE_URL is required when STORE=postgres")
		}
	case StoreMemory:
	default:
		return Config{}, fmt.Errorf("STORE must be %s or %s, got %q", StorePostgres, StoreMemory, c.Store)
	}

	var err error
	if c.StatusPolicy, err = reconcile.ParsePolicy(strings.ToLower(getenv("STATUS_POLICY", "permissive"))); err != nil {
		return Config{}, err
	}

	maxConns, err := intenv("DB_MAX_CONNS", 20)
	if err != nil {
		return Config{}, err
	}
	c.DBMaxConns = int32(maxConns)

	pollMS, err := intenv("OUTBOX_POLL_MS", 500)
	if err != nil {
		return Config{}, err
	}
	c.OutboxPoll = time.Duration(pollMS) * time.Millisecond

	if c.OutboxBatch, err = intenv("OUTBOX_BATCH", 100); err != nil {
		return Config{}, err
	}

	toutMS, err := intenv("REQUEST_TIMEOUT_MS", 2500)
	if err != nil {
		return Config{}, err
	}
	c.RequestTimeout = time.Duration(toutMS) * time.Millisecond

	return c, nil
}

func getenv(k, def string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	return v
}

func intenv(k string, def int) (int, error) {
	v := getenv(k, "")
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", k, v)
	}
	return n, nil
}
