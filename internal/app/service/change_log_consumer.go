package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sifan077/PowerCMS/internal/app/model"
	apprepository "github.com/sifan077/PowerCMS/internal/app/repository"
	"go.uber.org/zap"
)

// ChangeLogConsumer persists change log entries from JetStream to Postgres.
type ChangeLogConsumer struct {
	js     nats.JetStreamContext
	logger *zap.Logger
	repo   apprepository.ChangeLogRepository
	done   chan struct{}
}

// NewChangeLogConsumer creates a new change log consumer.
func NewChangeLogConsumer(js nats.JetStreamContext, logger *zap.Logger, repo apprepository.ChangeLogRepository) *ChangeLogConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChangeLogConsumer{js: js, logger: logger, repo: repo, done: make(chan struct{})}
}

// Start ensures the stream and durable consumer exist and begins consuming
// until ctx is cancelled.
func (c *ChangeLogConsumer) Start(ctx context.Context) error {
	if err := EnsureChangeStream(c.js); err != nil {
		return err
	}

	if _, err := c.js.ConsumerInfo(model.ChangeStreamName, model.ChangeConsumerName); err != nil {
		_, err = c.js.AddConsumer(model.ChangeStreamName, &nats.ConsumerConfig{
			Durable:   model.ChangeConsumerName,
			AckPolicy: nats.AckExplicitPolicy,
		})
		if err != nil {
			return fmt.Errorf("failed to create consumer: %w", err)
		}
	}

	sub, err := c.js.PullSubscribe("", model.ChangeConsumerName, nats.Bind(model.ChangeStreamName, model.ChangeConsumerName))
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	go c.consume(ctx, sub)
	return nil
}

// Done is closed once the consume loop has exited.
func (c *ChangeLogConsumer) Done() <-chan struct{} {
	return c.done
}

func (c *ChangeLogConsumer) consume(ctx context.Context, sub *nats.Subscription) {
	defer close(c.done)
	defer func() { _ = sub.Unsubscribe() }()

	for {
		if ctx.Err() != nil {
			c.logger.Info("change log consumer stopped")
			return
		}

		msgs, err := sub.Fetch(model.ChangeFetchBatch, nats.MaxWait(model.ChangeFetchMaxWaitSec*time.Second))
		if err != nil && !errors.Is(err, nats.ErrTimeout) && !errors.Is(err, context.DeadlineExceeded) {
			c.logger.Error("failed to fetch messages", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}

		for _, msg := range msgs {
			c.handle(ctx, msg)
		}
	}
}

func (c *ChangeLogConsumer) handle(ctx context.Context, msg *nats.Msg) {
	var m changeMessage
	if err := json.Unmarshal(msg.Data, &m); err != nil {
		c.logger.Error("failed to unmarshal change message", zap.Error(err))
		// Redelivery cannot fix a malformed payload.
		_ = msg.Term()
		return
	}

	entry := ChangeLogEntry(m.ID, m.Event)
	if err := c.repo.Create(ctx, &entry); err != nil {
		c.logger.Error("failed to store change log entry",
			zap.String("id", entry.ID),
			zap.String("resource", entry.ResourceType),
			zap.String("record_id", entry.RecordID),
			zap.Error(err))
		_ = msg.Nak()
		return
	}

	c.logger.Debug("change log entry stored",
		zap.String("id", entry.ID),
		zap.String("resource", entry.ResourceType),
		zap.String("record_id", entry.RecordID),
		zap.String("reason", entry.Reason),
	)
	_ = msg.Ack()
}

// ChangeLogEntry maps a change event onto its persisted row.
func ChangeLogEntry(id string, event model.ChangeEvent) model.ChangeLog {
	entry := model.ChangeLog{
		ID:           id,
		ResourceType: event.ResourceType,
		RecordID:     event.ID,
		Type:         event.Type,
		Reason:       event.Reason,
		Origin:       event.Origin,
		OccurredAt:   event.At,
	}
	if event.Record != nil {
		entry.Enable = event.Record.Enable
		entry.AutoEnable = event.Record.AutoEnable
		entry.Pinned = event.Record.Pinned
	}
	return entry
}
