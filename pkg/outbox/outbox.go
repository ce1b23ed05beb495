package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nazeru/tx-lab-marketplace-go/pkg/contracts"
)

type Record struct {
	ID        int64           `json:"id"`
	EventID   string          `json:"event_id"`
	Topic     string          `json:"topic"`
	Key       string          `json:"key"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	SentAt    *time.Time      `json:"sent_at"`
}

// Execer is satisfied by *pgxpool.Pool and pgx.Tx, so rows can be written
// inside the caller's transaction.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type Querier interface {
	Execer
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// NewRecord encodes evt for topic, keyed by order id so all events of one
// order land on the same partition.
func NewRecord(topic string, evt contracts.Event) (Record, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return Record{}, err
	}
	return Record{
		EventID:   evt.EventID,
		Topic:     topic,
		Key:       evt.OrderID,
		Payload:   data,
		CreatedAt: evt.CreatedAt,
	}, nil
}

func Insert(ctx context.Context, db Execer, rec Record) error {
	_, err := db.Exec(ctx, `INSERT INTO outbox(event_id, topic, key, payload) VALUES ($1, $2, $3, $4)`,
		rec.EventID, rec.Topic, rec.Key, []byte(rec.Payload))
	return err
}

func MarkSent(ctx context.Context, db Execer, id int64) error {
	_, err := db.Exec(ctx, `UPDATE outbox SET sent_at=now() WHERE id=$1`, id)
	return err
}

func FetchPending(ctx context.Context, db Querier, limit int) ([]Record, error) {
	rows, err := db.Query(ctx, `SELECT id, event_id, topic, key, payload, created_at, sent_at FROM outbox WHERE sent_at IS NULL ORDER BY id LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.EventID, &rec.Topic, &rec.Key, &rec.Payload, &rec.CreatedAt, &rec.SentAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// PoolSource reads pending rows straight from Postgres.
type PoolSource struct {
	Pool *pgxpool.Pool
}

func (s PoolSource) FetchPending(ctx context.Context, limit int) ([]Record, error) {
	return FetchPending(ctx, s.Pool, limit)
}

func (s PoolSource) MarkSent(ctx context.Context, id int64) error {
	return MarkSent(ctx, s.Pool, id)
}
