// Package notify fans change events out to connected observers. Each resource
// type has its own subscriber set; a Relay optionally carries events between
// instances sharing the same store.
package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sifan077/PowerCMS/internal/app/model"
	promx "github.com/sifan077/PowerCMS/internal/infra/prometheus"
	"go.uber.org/zap"
)

const (
	defaultBufferSize = 64
	// Outbound relay messages waiting for the broker.
	defaultRelayQueue   = 1024
	relayPublishTimeout = 5 * time.Second
)

// Publisher is the sending side of the hub as seen by the content service.
type Publisher interface {
	Publish(ctx context.Context, event model.ChangeEvent)
}

// Subscription is one observer of a resource type's change stream. C is closed
// when the subscription is removed, either explicitly or because the observer
// fell behind.
type Subscription struct {
	resource string
	ch       chan []byte
	once     sync.Once
}

// C returns the channel of serialized events.
func (s *Subscription) C() <-chan []byte {
	return s.ch
}

// Resource returns the resource type the subscription observes.
func (s *Subscription) Resource() string {
	return s.resource
}

func (s *Subscription) close() {
	s.once.Do(func() { close(s.ch) })
}

// Deps groups the hub's collaborators.
type Deps struct {
	// InstanceID stamps locally originated events.
	InstanceID string
	BufferSize int
	Relay      Relay
	// RelayQueue bounds relay messages not yet handed to the broker.
	RelayQueue int
	Logger     *zap.Logger
}

type outbound struct {
	resource string
	id       string
	payload  []byte
}

// Hub is a per-resource-type broadcast list.
type Hub struct {
	mu         sync.Mutex
	subs       map[string]map[*Subscription]struct{}
	bufferSize int
	instanceID string
	relay      Relay
	logger     *zap.Logger
	closed     bool

	outbox    chan outbound
	forwarded chan struct{}
}

// NewHub builds an empty hub.
func NewHub(deps Deps) *Hub {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	size := deps.BufferSize
	if size <= 0 {
		size = defaultBufferSize
	}
	h := &Hub{
		subs:       make(map[string]map[*Subscription]struct{}),
		bufferSize: size,
		instanceID: deps.InstanceID,
		relay:      deps.Relay,
		logger:     logger,
	}
	if h.relay != nil {
		queue := deps.RelayQueue
		if queue <= 0 {
			queue = defaultRelayQueue
		}
		h.outbox = make(chan outbound, queue)
		h.forwarded = make(chan struct{})
		go h.forward()
	}
	return h
}

// Subscribe registers a new observer of resource. Events published before the
// call are never delivered to it.
func (h *Hub) Subscribe(resource string) *Subscription {
	sub := &Subscription{resource: resource, ch: make(chan []byte, h.bufferSize)}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		sub.close()
		return sub
	}
	set, ok := h.subs[resource]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[resource] = set
	}
	set[sub] = struct{}{}
	promx.NotifySubscribers.WithLabelValues(resource).Inc()
	return sub
}

// Unsubscribe removes sub. It is safe to call more than once.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	h.removeLocked(sub)
	h.mu.Unlock()
}

// Count returns the number of observers of resource.
func (h *Hub) Count(resource string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[resource])
}

// Publish delivers event to local observers and queues it for the relay.
// It never waits on the network: an observer whose buffer is full is dropped,
// and so is a relay message when the relay queue is full.
func (h *Hub) Publish(_ context.Context, event model.ChangeEvent) {
	if event.Origin == "" {
		event.Origin = h.instanceID
	}
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("failed to encode change event",
			zap.String("resource", event.ResourceType),
			zap.String("id", event.ID),
			zap.Error(err),
		)
		return
	}

	h.deliver(event.ResourceType, payload)
	promx.NotifyEvents.WithLabelValues(event.ResourceType, event.Type).Inc()

	if h.relay != nil {
		h.enqueue(outbound{resource: event.ResourceType, id: event.ID, payload: payload})
	}
}

func (h *Hub) enqueue(msg outbound) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	select {
	case h.outbox <- msg:
	default:
		promx.OutboundDropped.WithLabelValues("relay", msg.resource).Inc()
		h.logger.Warn("relay queue full, dropping change event",
			zap.String("resource", msg.resource),
			zap.String("id", msg.id),
		)
	}
}

// forward hands queued events to the relay one at a time, preserving order.
func (h *Hub) forward() {
	defer close(h.forwarded)
	for msg := range h.outbox {
		ctx, cancel := context.WithTimeout(context.Background(), relayPublishTimeout)
		err := h.relay.Publish(ctx, msg.payload)
		cancel()
		if err != nil {
			h.logger.Warn("failed to relay change event",
				zap.String("resource", msg.resource),
				zap.String("id", msg.id),
				zap.Error(err),
			)
		}
	}
}

// Run consumes the relay until ctx is cancelled. Events this instance
// originated are skipped since they were already delivered locally.
func (h *Hub) Run(ctx context.Context) error {
	if h.relay == nil {
		<-ctx.Done()
		return nil
	}
	return h.relay.Subscribe(ctx, h.receiveRemote)
}

func (h *Hub) receiveRemote(payload []byte) {
	var event model.ChangeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		h.logger.Warn("discarding malformed relay message", zap.Error(err))
		return
	}
	if event.Origin != "" && event.Origin == h.instanceID {
		return
	}
	h.deliver(event.ResourceType, payload)
}

func (h *Hub) deliver(resource string, payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subs[resource] {
		select {
		case sub.ch <- payload:
		default:
			h.removeLocked(sub)
			promx.NotifyDropped.WithLabelValues(resource).Inc()
			h.logger.Warn("dropped slow subscriber", zap.String("resource", resource))
		}
	}
}

// Close removes every observer, flushes queued relay messages for at most one
// publish timeout and closes the relay. Calls after the first are no-ops.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	for _, set := range h.subs {
		for sub := range set {
			h.removeLocked(sub)
		}
	}
	h.closed = true
	if h.outbox != nil {
		close(h.outbox)
	}
	h.mu.Unlock()

	if h.relay == nil {
		return nil
	}
	select {
	case <-h.forwarded:
	case <-time.After(relayPublishTimeout):
		h.logger.Warn("relay queue not drained before close")
	}
	return h.relay.Close()
}

func (h *Hub) removeLocked(sub *Subscription) {
	set, ok := h.subs[sub.resource]
	if !ok {
		return
	}
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(h.subs, sub.resource)
	}
	sub.close()
	promx.NotifySubscribers.WithLabelValues(sub.resource).Dec()
}

// Multi fans one event out to several publishers.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, event model.ChangeEvent) {
	for _, p := range m {
		if p != nil {
			p.Publish(ctx, event)
		}
	}
}
