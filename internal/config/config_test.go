package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nazeru/tx-lab-marketplace-go/internal/order/reconcile"
	"github.com/nazeru/tx-lab-marketplace-go/pkg/contracts"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORE", "memory")

	c, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", c.Port)
	assert.Equal(t, StoreMemory, c.Store)
	assert.Equal(t, contracts.TopicOrders, c.KafkaTopic)
	assert.Equal(t, reconcile.Permissive, c.StatusPolicy)
	assert.Equal(t, 2500*time.Millisecond, c.RequestTimeout)
	assert.Equal(t, 500*time.Millisecond, c.OutboxPoll)
	assert.Equal(t, 100, c.OutboxBatch)
	assert.Equal(t, int32(20), c.DBMaxConns)
}

func TestLoadPostgresRequiresURL(t *testing.T) {
	t.Setenv("STORE", "postgres")
	t.Setenv("DATABASE_URL", "")

	_, err := Load()
	assert.ErrorContains(t, err, "DATABASE_URL")
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORE", "postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/txlab")
	t.Setenv("STATUS_POLICY", "Forward")
	t.Setenv("REQUEST_TIMEOUT_MS", "100")
	t.Setenv("DB_MAX_CONNS", "5")

	c, err := Load()
	require.NoError(t, err)

	assert.Equal(t, reconcile.Forward, c.StatusPolicy)
	assert.Equal(t, 100*time.Millisecond, c.RequestTimeout)
	assert.Equal(t, int32(5), c.DBMaxConns)
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"STORE":          "redis",
		"STATUS_POLICY":  "strict",
		"OUTBOX_BATCH":   "-1",
		"OUTBOX_POLL_MS": "soon",
	}
	for k, v := range cases {
		t.Run(k, func(t *testing.T) {
			t.Setenv("STORE", "memory")
			t.Setenv(k, v)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
