package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sifan077/PowerCMS/internal/app/model"
	"github.com/sifan077/PowerCMS/internal/app/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingStore struct {
	*memoryStore
	failFor string
}

func (f *failingStore) LoadAll(ctx context.Context, rt model.ResourceType) ([]model.Record, error) {
	if rt.Name == f.failFor {
		return nil, repository.ErrMalformedCollection
	}
	return f.memoryStore.LoadAll(ctx, rt)
}

func TestPublishScheduler_RunOnceContinuesAfterFailure(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	store := &failingStore{memoryStore: newMemoryStore(), failFor: "announcements"}
	expired := model.Record{ID: "1", Title: "x", TimeOn: now.Add(-time.Hour), TimeOff: now.Add(-time.Minute), Enable: true}
	due := model.Record{ID: "2", Title: "y", TimeOn: now.Add(-time.Minute), TimeOff: now.Add(time.Hour), AutoEnable: true}
	store.data["banners"] = []model.Record{expired}
	store.data["videos"] = []model.Record{due}

	events := &recordingPublisher{}
	content := NewContentService(ContentDeps{
		Store:     store,
		Publisher: events,
		Now:       func() time.Time { return now },
	})
	sched, err := NewPublishScheduler(PublishSchedulerDeps{
		Content: content,
		Now:     func() time.Time { return now },
	})
	require.NoError(t, err)

	assert.Equal(t, 2, sched.RunOnce(context.Background()))
	assert.Equal(t, 2, events.count())
	assert.False(t, store.data["banners"][0].Enable)
	assert.True(t, store.data["videos"][0].Enable)

	// Idempotent with no time advance.
	assert.Equal(t, 0, sched.RunOnce(context.Background()))
	assert.Equal(t, 2, events.count())
}

func TestPublishScheduler_StartRunsInitialSweep(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	store := newMemoryStore()
	store.data["reports"] = []model.Record{{
		ID: "1", Title: "r", TimeOn: now.Add(-time.Minute), TimeOff: now.Add(time.Hour), AutoEnable: true,
	}}
	content := NewContentService(ContentDeps{Store: store, Now: func() time.Time { return now }})

	sched, err := NewPublishScheduler(PublishSchedulerDeps{
		Content: content,
		Spec:    "@every 1h",
		Now:     func() time.Time { return now },
	})
	require.NoError(t, err)
	require.NoError(t, sched.Start(context.Background()))
	defer sched.Stop()

	rec, err := content.Get(context.Background(), "reports", "1")
	require.NoError(t, err)
	assert.True(t, rec.Enable)
}

func TestValidateSweepSpec(t *testing.T) {
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

	assert.NoError(t, ValidateSweepSpec(parser, "@every 1m"))
	assert.NoError(t, ValidateSweepSpec(parser, "* * * * *"))
	assert.NoError(t, ValidateSweepSpec(parser, "*/10 * * * * *"))

	err := ValidateSweepSpec(parser, "@every 500ms")
	assert.True(t, errors.Is(err, ErrSweepSpec))

	err = ValidateSweepSpec(parser, "not a schedule")
	assert.True(t, errors.Is(err, ErrSweepSpec))

	_, err = NewPublishScheduler(PublishSchedulerDeps{Spec: "bogus"})
	assert.True(t, errors.Is(err, ErrSweepSpec))
}
