package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sifan077/PowerCMS/internal/app/model"
	"github.com/sifan077/PowerCMS/internal/app/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stalledRelay never answers until release is closed, like a broker that is
// reconnecting.
type stalledRelay struct {
	release chan struct{}
}

func (r *stalledRelay) Publish(ctx context.Context, _ []byte) error {
	select {
	case <-r.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *stalledRelay) Subscribe(ctx context.Context, _ func([]byte)) error {
	<-ctx.Done()
	return nil
}

func (r *stalledRelay) Close() error { return nil }

// stalledJetStream blocks Publish until release is closed and records subjects.
type stalledJetStream struct {
	nats.JetStreamContext
	release  chan struct{}
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
}

func (js *stalledJetStream) Publish(subj string, data []byte, _ ...nats.PubOpt) (*nats.PubAck, error) {
	<-js.release
	js.mu.Lock()
	defer js.mu.Unlock()
	js.subjects = append(js.subjects, subj)
	js.payloads = append(js.payloads, data)
	return &nats.PubAck{Stream: model.ChangeStreamName}, nil
}

func (js *stalledJetStream) published() []string {
	js.mu.Lock()
	defer js.mu.Unlock()
	return append([]string(nil), js.subjects...)
}

func TestContentService_StalledBrokerDoesNotHoldResourceLock(t *testing.T) {
	relay := &stalledRelay{release: make(chan struct{})}
	hub := notify.NewHub(notify.Deps{InstanceID: "a", Relay: relay})
	js := &stalledJetStream{release: make(chan struct{})}
	changes := NewChangePublisher(js, nil, "a")

	svc := NewContentService(ContentDeps{
		Store:     newMemoryStore(),
		Publisher: notify.Multi{hub, changes},
		Now:       func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) },
	})
	sub := hub.Subscribe(resource)

	done := make(chan error, 1)
	go func() {
		_, err := svc.Create(context.Background(), resource, RecordInput{Title: ptr("breaking")})
		if err == nil {
			_, err = svc.List(context.Background(), resource, ListQuery{IncludeDisabled: true})
		}
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("content operations blocked on the broker")
	}

	select {
	case <-sub.C():
	default:
		t.Fatal("local subscriber should be notified without waiting for the broker")
	}

	close(relay.release)
	close(js.release)
	changes.Close()
	require.NoError(t, hub.Close())
	assert.Equal(t, []string{model.ChangeSubjectPrefix + resource}, js.published())
}

func TestChangePublisher_PreservesOrderAndStampsOrigin(t *testing.T) {
	js := &stalledJetStream{release: make(chan struct{})}
	close(js.release)
	p := NewChangePublisher(js, nil, "node-1")

	for _, id := range []string{"1", "2", "3"} {
		p.Publish(context.Background(), model.NewChangeEvent(model.EventUpdate, "banners", model.ReasonPin, model.Record{ID: id}, time.Now()))
	}
	p.Close()
	p.Publish(context.Background(), model.NewChangeEvent(model.EventUpdate, "banners", model.ReasonPin, model.Record{ID: "late"}, time.Now()))
	p.Close()

	js.mu.Lock()
	defer js.mu.Unlock()
	require.Len(t, js.payloads, 3)
	for i, id := range []string{"1", "2", "3"} {
		var msg changeMessage
		require.NoError(t, json.Unmarshal(js.payloads[i], &msg))
		assert.Equal(t, id, msg.Event.ID)
		assert.Equal(t, "node-1", msg.Event.Origin)
		assert.NotEmpty(t, msg.ID)
	}
}
