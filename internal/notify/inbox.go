package notify

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Inbox records handled events so redelivered messages are not notified
// twice.
type Inbox interface {
	// Save stores the notifications of eventID. It reports false when the
	// event was already handled.
	Save(ctx context.Context, eventID string, notes []Notification) (bool, error)
}

type MemInbox struct {
	mu    sync.Mutex
	seen  map[string]bool
	notes []Notification
}

func NewMemInbox() *MemInbox {
	return &MemInbox{seen: map[string]bool{}}
}

func (m *MemInbox) Save(_ context.Context, eventID string, notes []Notification) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen[eventID] {
		return false, nil
	}
	m.seen[eventID] = true
	m.notes = append(m.notes, notes...)
	return true, nil
}

// Notifications returns a copy of everything saved so far.
func (m *MemInbox) Notifications() []Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Notification(nil), m.notes...)
}

type PgInbox struct {
	pool *pgxpool.Pool
}

func NewPgInbox(pool *pgxpool.Pool) *PgInbox {
	return &PgInbox{pool: pool}
}

func (p *PgInbox) Migrate(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS inbox (
	event_id    TEXT PRIMARY KEY,
	received_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS notifications (
	id         BIGSERIAL PRIMARY KEY,
	event_id   TEXT NOT NULL REFERENCES inbox(event_id),
	order_id   TEXT NOT NULL,
	audience   TEXT NOT NULL,
	recipient  TEXT NOT NULL,
	message    TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS notifications_recipient_idx ON notifications(recipient, created_at DESC);`)
	return err
}

func (p *PgInbox) Save(ctx context.Context, eventID string, notes []Notification) (bool, error) {
	fresh := false
	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `INSERT INTO inbox(event_id) VALUES ($1) ON CONFLICT (event_id) DO NOTHING`, eventID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		fresh = true
		for _, n := range notes {
			if _, err := tx.Exec(ctx, `INSERT INTO notifications(event_id, order_id, audience, recipient, message)
				VALUES ($1, $2, $3, $4, $5)`, eventID, n.OrderID, string(n.Audience), n.Recipient, n.Message); err != nil {
				return err
			}
		}
		return nil
	})
	return fresh, err
}

func (p *PgInbox) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}
