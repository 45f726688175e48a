package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/sifan077/PowerCMS/internal/app/model"
	promx "github.com/sifan077/PowerCMS/internal/infra/prometheus"
	"go.uber.org/zap"
)

// changeMessage is the JetStream payload of one change log entry.
type changeMessage struct {
	ID    string            `json:"id"`
	Event model.ChangeEvent `json:"event"`
}

const (
	defaultChangeQueue   = 1024
	changePublishTimeout = 5 * time.Second
)

// ChangePublisher publishes change events to the CONTENT_CHANGES stream from a
// single background worker, so callers never wait for a PubAck.
type ChangePublisher struct {
	js     nats.JetStreamContext
	logger *zap.Logger
	origin string

	mu     sync.Mutex
	closed bool
	queue  chan model.ChangeEvent
	done   chan struct{}
}

// NewChangePublisher creates a change log publisher stamping events with origin
// and starts its worker. Close stops it.
func NewChangePublisher(js nats.JetStreamContext, logger *zap.Logger, origin string) *ChangePublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &ChangePublisher{
		js:     js,
		logger: logger,
		origin: origin,
		queue:  make(chan model.ChangeEvent, defaultChangeQueue),
		done:   make(chan struct{}),
	}
	go p.run()
	return p
}

// Publish queues event for the change log. A full queue drops the entry; the
// change itself has already been persisted.
func (p *ChangePublisher) Publish(_ context.Context, event model.ChangeEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.queue <- event:
	default:
		promx.OutboundDropped.WithLabelValues("changelog", event.ResourceType).Inc()
		p.logger.Warn("change log queue full, dropping entry",
			zap.String("resource", event.ResourceType),
			zap.String("id", event.ID),
		)
	}
}

// Close stops accepting events and waits up to one publish timeout for the
// queue to drain.
func (p *ChangePublisher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	select {
	case <-p.done:
	case <-time.After(changePublishTimeout):
		p.logger.Warn("change log queue not drained before close")
	}
}

func (p *ChangePublisher) run() {
	defer close(p.done)
	for event := range p.queue {
		ctx, cancel := context.WithTimeout(context.Background(), changePublishTimeout)
		err := p.publish(ctx, event)
		cancel()
		if err != nil {
			p.logger.Warn("failed to publish change log entry",
				zap.String("resource", event.ResourceType),
				zap.String("id", event.ID),
				zap.Error(err),
			)
		}
	}
}

func (p *ChangePublisher) publish(ctx context.Context, event model.ChangeEvent) error {
	if event.Origin == "" {
		event.Origin = p.origin
	}
	msg := changeMessage{ID: uuid.New().String(), Event: event}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode change message: %w", err)
	}

	_, err = p.js.Publish(model.ChangeSubjectPrefix+event.ResourceType, data,
		nats.MsgId(msg.ID),
		nats.Context(ctx),
	)
	return err
}

// EnsureChangeStream creates the change log stream when it does not exist yet.
func EnsureChangeStream(js nats.JetStreamContext) error {
	if _, err := js.StreamInfo(model.ChangeStreamName); err == nil {
		return nil
	}
	_, err := js.AddStream(&nats.StreamConfig{
		Name:     model.ChangeStreamName,
		Subjects: []string{model.ChangeStreamSubjects},
		MaxBytes: model.ChangeStreamMaxBytes,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}
