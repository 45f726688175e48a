package notify

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/sifan077/PowerCMS/internal/app/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRelay struct {
	mu        sync.Mutex
	published [][]byte
	incoming  chan []byte
}

func newFakeRelay() *fakeRelay {
	return &fakeRelay{incoming: make(chan []byte, 4)}
}

func (f *fakeRelay) Publish(_ context.Context, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, payload)
	return nil
}

func (f *fakeRelay) Subscribe(ctx context.Context, handle func([]byte)) error {
	for {
		select {
		case p := <-f.incoming:
			handle(p)
		case <-ctx.Done():
			return nil
		}
	}
}

func (f *fakeRelay) Close() error { return nil }

func (f *fakeRelay) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

func event(resource, id string) model.ChangeEvent {
	rec := model.Record{ID: id, Title: "t"}
	return model.NewChangeEvent(model.EventUpdate, resource, model.ReasonEdit, rec, time.Now())
}

func decode(t *testing.T, payload []byte) model.ChangeEvent {
	t.Helper()
	var ev model.ChangeEvent
	require.NoError(t, json.Unmarshal(payload, &ev))
	return ev
}

func TestHub_DeliversOnlyToResourceSubscribers(t *testing.T) {
	hub := NewHub(Deps{InstanceID: "a"})
	news := hub.Subscribe("announcements")
	banners := hub.Subscribe("banners")

	hub.Publish(context.Background(), event("announcements", "1"))

	select {
	case payload := <-news.C():
		ev := decode(t, payload)
		assert.Equal(t, "1", ev.ID)
		assert.Equal(t, "a", ev.Origin)
		assert.Equal(t, model.EventUpdate, ev.Type)
	default:
		t.Fatal("expected event for announcements subscriber")
	}

	select {
	case <-banners.C():
		t.Fatal("banners subscriber must not receive announcements events")
	default:
	}
}

func TestHub_PreservesOrderPerSubscriber(t *testing.T) {
	hub := NewHub(Deps{})
	sub := hub.Subscribe("videos")

	for _, id := range []string{"1", "2", "3"} {
		hub.Publish(context.Background(), event("videos", id))
	}
	for _, id := range []string{"1", "2", "3"} {
		assert.Equal(t, id, decode(t, <-sub.C()).ID)
	}
}

func TestHub_UnsubscribeClosesChannel(t *testing.T) {
	hub := NewHub(Deps{})
	sub := hub.Subscribe("reports")
	require.Equal(t, 1, hub.Count("reports"))

	hub.Unsubscribe(sub)
	hub.Unsubscribe(sub)

	_, ok := <-sub.C()
	assert.False(t, ok)
	assert.Equal(t, 0, hub.Count("reports"))
}

func TestHub_DropsSlowSubscriberWithoutBlockingOthers(t *testing.T) {
	hub := NewHub(Deps{BufferSize: 1})
	slow := hub.Subscribe("products")
	fast := hub.Subscribe("products")

	hub.Publish(context.Background(), event("products", "1"))
	<-fast.C()
	hub.Publish(context.Background(), event("products", "2"))

	assert.Equal(t, "2", decode(t, <-fast.C()).ID)
	assert.Equal(t, 1, hub.Count("products"))

	// The slow subscriber keeps its buffered event, then sees the close.
	assert.Equal(t, "1", decode(t, <-slow.C()).ID)
	_, ok := <-slow.C()
	assert.False(t, ok)
}

func TestHub_LateSubscriberGetsNoBacklog(t *testing.T) {
	hub := NewHub(Deps{})
	hub.Publish(context.Background(), event("banners", "1"))

	sub := hub.Subscribe("banners")
	select {
	case <-sub.C():
		t.Fatal("unexpected replay")
	default:
	}
}

func TestHub_RelaySkipsOwnEvents(t *testing.T) {
	relay := newFakeRelay()
	hub := NewHub(Deps{InstanceID: "a", Relay: relay})
	sub := hub.Subscribe("announcements")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = hub.Run(ctx)
		close(done)
	}()

	hub.Publish(ctx, event("announcements", "local"))
	require.Eventually(t, func() bool { return relay.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "local", decode(t, <-sub.C()).ID)

	own := event("announcements", "echo")
	own.Origin = "a"
	ownPayload, _ := json.Marshal(own)
	relay.incoming <- ownPayload

	remote := event("announcements", "remote")
	remote.Origin = "b"
	remotePayload, _ := json.Marshal(remote)
	relay.incoming <- remotePayload

	select {
	case payload := <-sub.C():
		assert.Equal(t, "remote", decode(t, payload).ID)
	case <-time.After(2 * time.Second):
		t.Fatal("remote event not delivered")
	}

	cancel()
	<-done
}

// blockingRelay holds every Publish until release is closed.
type blockingRelay struct {
	fakeRelay
	entered chan struct{}
	release chan struct{}
}

func newBlockingRelay() *blockingRelay {
	return &blockingRelay{
		fakeRelay: fakeRelay{incoming: make(chan []byte)},
		entered:   make(chan struct{}, 16),
		release:   make(chan struct{}),
	}
}

func (b *blockingRelay) Publish(ctx context.Context, payload []byte) error {
	b.entered <- struct{}{}
	select {
	case <-b.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return b.fakeRelay.Publish(ctx, payload)
}

func TestHub_SlowRelayDoesNotBlockPublish(t *testing.T) {
	relay := newBlockingRelay()
	hub := NewHub(Deps{InstanceID: "a", Relay: relay, RelayQueue: 1})
	sub := hub.Subscribe("banners")

	published := make(chan struct{})
	go func() {
		for _, id := range []string{"1", "2", "3", "4"} {
			hub.Publish(context.Background(), event("banners", id))
		}
		close(published)
	}()

	select {
	case <-published:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish waited on the relay")
	}
	for _, id := range []string{"1", "2", "3", "4"} {
		assert.Equal(t, id, decode(t, <-sub.C()).ID)
	}

	<-relay.entered
	close(relay.release)
	require.NoError(t, hub.Close())
	// One in flight plus one queued; the rest were dropped.
	assert.LessOrEqual(t, relay.count(), 2)
	assert.GreaterOrEqual(t, relay.count(), 1)
	require.NoError(t, hub.Close())
}

func TestHub_CloseEndsSubscriptions(t *testing.T) {
	hub := NewHub(Deps{})
	sub := hub.Subscribe("videos")
	require.NoError(t, hub.Close())

	_, ok := <-sub.C()
	assert.False(t, ok)

	late := hub.Subscribe("videos")
	_, ok = <-late.C()
	assert.False(t, ok)
}

func TestMulti_PublishesToAll(t *testing.T) {
	a := NewHub(Deps{})
	b := NewHub(Deps{})
	sa := a.Subscribe("banners")
	sb := b.Subscribe("banners")

	Multi{a, nil, b}.Publish(context.Background(), event("banners", "9"))
	assert.Equal(t, "9", decode(t, <-sa.C()).ID)
	assert.Equal(t, "9", decode(t, <-sb.C()).ID)
}

func TestNewRelay(t *testing.T) {
	r, err := NewRelay("none", "", nil, nil)
	require.NoError(t, err)
	assert.Nil(t, r)

	_, err = NewRelay("redis", "", nil, nil)
	assert.Error(t, err)

	_, err = NewRelay("kafka", "", nil, nil)
	assert.Error(t, err)

	assert.Equal(t, "content.changes", natsSubject("content:changes"))
}

func TestHub_RelayCarriesEventsBetweenInstances(t *testing.T) {
	relayA, relayB := newFakeRelay(), newFakeRelay()
	hubA := NewHub(Deps{InstanceID: "a", Relay: relayA})
	hubB := NewHub(Deps{InstanceID: "b", Relay: relayB})
	t.Cleanup(func() {
		_ = hubA.Close()
		_ = hubB.Close()
	})
	sub := hubB.Subscribe("banners")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hubB.Run(ctx) }()

	on := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	rec := model.Record{ID: "7", Title: "summer", TimeOn: on, TimeOff: model.OpenEnded, Enable: true, Fields: map[string]string{"link": "/sale"}}
	sent := model.NewChangeEvent(model.EventUpdate, "banners", model.ReasonSweep, rec, on)
	hubA.Publish(ctx, sent)

	require.Eventually(t, func() bool { return relayA.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	relayA.mu.Lock()
	relayB.incoming <- relayA.published[0]
	relayA.mu.Unlock()

	select {
	case payload := <-sub.C():
		got := decode(t, payload)
		assert.Equal(t, "a", got.Origin)
		assert.Equal(t, sent.Type, got.Type)
		assert.Equal(t, sent.ResourceType, got.ResourceType)
		assert.Equal(t, sent.ID, got.ID)
		assert.Equal(t, sent.Reason, got.Reason)
		assert.True(t, sent.At.Equal(got.At))
		require.NotNil(t, got.Record)
		assert.Equal(t, "summer", got.Record.Title)
		assert.True(t, got.Record.TimeOff.Equal(model.OpenEnded))
		assert.Equal(t, "/sale", got.Record.Fields["link"])
	case <-time.After(2 * time.Second):
		t.Fatal("relayed event not delivered")
	}
}
