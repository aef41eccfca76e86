package recovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altafino/thread-archiver/internal/digest"
	"github.com/altafino/thread-archiver/internal/logger"
	"github.com/altafino/thread-archiver/internal/mailbox"
	"github.com/altafino/thread-archiver/internal/models"
	"github.com/altafino/thread-archiver/internal/state"
)

var labels = state.NewLabels("archiver")

func newService(p *mailbox.MemoryProvider, cfg Config, opts ...Option) *Service {
	return New(p, state.NewMachine(p, labels, false), cfg, logger.Discard(), opts...)
}

func withLabels(id string, names ...string) models.WorkItem {
	item := models.WorkItem{ID: id, Subject: "subject " + id}
	for _, n := range names {
		item.Labels = append(item.Labels, models.Label{Name: n})
	}
	return item
}

func TestResetStuckItemsPagesThroughAll(t *testing.T) {
	p := mailbox.NewMemoryProvider()
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		p.AddThread(withLabels(id, mailbox.LabelInbox, labels.Processing))
	}
	p.AddThread(withLabels("done", labels.Archived))

	res, err := newService(p, Config{PageSize: 2}).ResetStuckItems(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 5, res.Changed)
	assert.Empty(t, res.Failed)
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		item, _, _ := p.Thread(id)
		assert.False(t, item.HasLabel(labels.Processing), id)
		assert.True(t, item.HasLabel(mailbox.LabelInbox), id)
	}
	done, _, _ := p.Thread("done")
	assert.True(t, done.HasLabel(labels.Archived))
}

func TestResetStuckItemsTerminatesOnFailures(t *testing.T) {
	p := mailbox.NewMemoryProvider()
	for _, id := range []string{"a", "b", "c"} {
		p.AddThread(withLabels(id, labels.Processing))
	}
	p.Inject(mailbox.OpRemoveLabel, errors.New("backend unavailable"))

	res, err := newService(p, Config{PageSize: 2}).ResetStuckItems(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, res.Changed)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, res.Failed)
}

func TestResetStuckItemsSearchError(t *testing.T) {
	p := mailbox.NewMemoryProvider()
	p.Inject(mailbox.OpSearch, errors.New("backend unavailable"))

	_, err := newService(p, Config{}).ResetStuckItems(context.Background())
	assert.Error(t, err)
}

func TestRestoreFromTrash(t *testing.T) {
	ctx := context.Background()
	p := mailbox.NewMemoryProvider()

	p.AddThread(withLabels("orig1", labels.Archived))
	require.NoError(t, p.TrashThread(ctx, "orig1"))
	p.AddThread(withLabels("orig2", labels.Skipped))
	require.NoError(t, p.TrashThread(ctx, "orig2"))

	d := withLabels("digest1", mailbox.LabelInbox, labels.Digest)
	d.Messages = []models.Message{{ID: "m1", PlainBody: "Archived thread\n\n" + digest.SourceToken("orig1") + "\n"}}
	p.AddThread(d)
	other := withLabels("digest2", labels.Digest)
	other.Messages = []models.Message{{ID: "m2", PlainBody: digest.SourceToken("elsewhere") + "\n"}}
	p.AddThread(other)

	res, err := newService(p, Config{}).RestoreFromTrash(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Changed)
	assert.Equal(t, 1, res.Digests)

	item, trashed, _ := p.Thread("orig1")
	assert.False(t, trashed)
	assert.False(t, item.HasLabel(labels.Archived))
	assert.True(t, item.HasLabel(labels.Skipped))

	_, trashed, _ = p.Thread("orig2")
	assert.True(t, trashed, "only archived originals are restored")

	_, trashed, _ = p.Thread("digest1")
	assert.True(t, trashed)
	_, trashed, _ = p.Thread("digest2")
	assert.False(t, trashed)
}

func TestRestoreKeepsOriginalMarkedWhenLabelFails(t *testing.T) {
	ctx := context.Background()
	p := mailbox.NewMemoryProvider()
	p.AddThread(withLabels("orig1", labels.Archived))
	require.NoError(t, p.TrashThread(ctx, "orig1"))
	p.Inject(mailbox.OpAddLabel, errors.New("backend unavailable"))

	res, err := newService(p, Config{}).RestoreFromTrash(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"orig1"}, res.Failed)
	item, _, _ := p.Thread("orig1")
	assert.True(t, item.HasLabel(labels.Archived), "original must never look eligible")
}

func TestCleanupOrphanedDrafts(t *testing.T) {
	ctx := context.Background()
	p := mailbox.NewMemoryProvider()
	base := time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)

	p.SetClock(func() time.Time { return base })
	_, err := p.CreateDraft(ctx, mailbox.DraftSpec{Subject: "[Archived] old digest"})
	require.NoError(t, err)
	_, err = p.CreateDraft(ctx, mailbox.DraftSpec{Subject: "personal note"})
	require.NoError(t, err)

	p.SetClock(func() time.Time { return base.Add(50 * time.Minute) })
	_, err = p.CreateDraft(ctx, mailbox.DraftSpec{Subject: "[Archived] in flight"})
	require.NoError(t, err)

	now := func() time.Time { return base.Add(90 * time.Minute) }
	svc := newService(p, Config{OrphanDraftAge: time.Hour, SubjectPrefix: "[Archived] "}, WithClock(now))

	res, err := svc.CleanupOrphanedDrafts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Changed)

	drafts, err := p.ListDrafts(ctx, 0)
	require.NoError(t, err)
	var subjects []string
	for _, d := range drafts {
		subjects = append(subjects, d.Subject)
	}
	assert.ElementsMatch(t, []string{"personal note", "[Archived] in flight"}, subjects)
}

func TestCleanupOrphanedDraftsRequiresPrefix(t *testing.T) {
	_, err := newService(mailbox.NewMemoryProvider(), Config{}).CleanupOrphanedDrafts(context.Background())
	assert.ErrorIs(t, err, ErrNoSubjectPrefix)
}
