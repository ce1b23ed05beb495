package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/nazeru/tx-lab-marketplace-go/pkg/contracts"
	"github.com/nazeru/tx-lab-marketplace-go/pkg/logging"
)

// MessageReader is the part of *kafka.Reader the consumer needs.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

type Consumer struct {
	Reader  MessageReader
	Inbox   Inbox
	Logger  *zap.Logger
	Backoff time.Duration
	// Handled counts messages by outcome: notified, duplicate, skipped.
	Handled *prometheus.CounterVec
}

func NewHandledCounter(reg prometheus.Registerer) *prometheus.CounterVec {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "txlab",
		Name:      "notification_events_total",
		Help:      "Order events consumed by outcome.",
	}, []string{"outcome"})
	reg.MustRegister(c)
	return c
}

// Run consumes until ctx is done. A message is committed only after its
// notifications are stored; a failed save is retried.
func (c *Consumer) Run(ctx context.Context) error {
	logger := c.logger()
	for {
		msg, err := c.Reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Warn("kafka fetch failed", zap.Error(err))
			if !c.sleep(ctx) {
				return ctx.Err()
			}
			continue
		}

		for {
			err = c.Handle(ctx, msg.Value)
			if err == nil {
				break
			}
			logger.Error("notification save failed", zap.Error(err), zap.Int64("offset", msg.Offset))
			if !c.sleep(ctx) {
				return ctx.Err()
			}
		}
		if err := c.Reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			logger.Warn("kafka commit failed", zap.Error(err), zap.Int64("offset", msg.Offset))
		}
	}
}

// Handle decodes and stores one message. Undecodable messages are skipped
// rather than retried.
func (c *Consumer) Handle(ctx context.Context, value []byte) error {
	var evt contracts.Event
	if err := json.Unmarshal(value, &evt); err != nil || evt.EventID == "" {
		c.logger().Warn("event skipped", zap.Error(err))
		c.count("skipped")
		return nil
	}

	notes := Render(evt)
	fresh, err := c.Inbox.Save(ctx, evt.EventID, notes)
	if err != nil {
		return err
	}
	if !fresh {
		c.count("duplicate")
		return nil
	}
	c.count("notified")
	for _, n := range notes {
		logging.Log(c.logger(), "notification emitted", logging.Fields{
			OrderID: n.OrderID,
			EventID: n.EventID,
			Step:    evt.Type,
			Status:  string(n.Audience) + ":" + n.Recipient,
		})
	}
	return nil
}

func (c *Consumer) sleep(ctx context.Context) bool {
	d := c.Backoff
	if d <= 0 {
		d = 2 * time.Second
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (c *Consumer) count(outcome string) {
	if c.Handled != nil {
		c.Handled.WithLabelValues(outcome).Inc()
	}
}

func (c *Consumer) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}
