package state

import (
	"context"
	"errors"
	"testing"

	"github.com/altafino/thread-archiver/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransitionTable(t *testing.T) {
	allowed := map[[2]State]bool{
		{Eligible, Processing}: true,
		{Processing, Archived}: true,
		{Processing, Skipped}:  true,
		{Processing, Errored}:  true,
		{Processing, Eligible}: true,
	}
	all := []State{Eligible, Processing, Archived, Skipped, Errored}
	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, allowed[[2]State{from, to}], CanTransition(from, to), "%s -> %s", from, to)
		}
	}

	err := ValidateTransition(Archived, Eligible)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestFromLabels(t *testing.T) {
	l := NewLabels("archiver")

	s, err := l.FromLabels([]string{"INBOX", "work"})
	require.NoError(t, err)
	assert.Equal(t, Eligible, s)

	s, err = l.FromLabels([]string{l.Processing})
	require.NoError(t, err)
	assert.Equal(t, Processing, s)

	s, err = l.FromLabels([]string{l.Processing, l.Archived})
	require.NoError(t, err)
	assert.Equal(t, Archived, s)

	_, err = l.FromLabels([]string{l.Archived, l.Errored})
	assert.ErrorIs(t, err, ErrConflictingLabels)
}

type recordingStore struct {
	ops        []string
	failAdd    string
	failRemove string
}

func (r *recordingStore) GetOrCreateLabel(_ context.Context, name string) (models.Label, error) {
	return models.Label{ID: "id:" + name, Name: name}, nil
}

func (r *recordingStore) AddLabel(_ context.Context, threadID string, l models.Label) error {
	if l.Name == r.failAdd {
		return errors.New("label api down")
	}
	r.ops = append(r.ops, "add "+l.Name)
	return nil
}

func (r *recordingStore) RemoveLabel(_ context.Context, threadID string, l models.Label) error {
	if l.Name == r.failRemove {
		return errors.New("label api down")
	}
	r.ops = append(r.ops, "remove "+l.Name)
	return nil
}

func TestMachineClaimAndFinish(t *testing.T) {
	store := &recordingStore{}
	labels := NewLabels("arch")
	m := NewMachine(store, labels, false)
	ctx := context.Background()

	item := &models.WorkItem{ID: "t1", Labels: []models.Label{{Name: "INBOX", System: true}}}
	require.NoError(t, m.Claim(ctx, item))
	require.NoError(t, m.Finish(ctx, item, Archived))

	assert.Equal(t, []string{"add arch/processing", "add arch/archived", "remove arch/processing"}, store.ops)
	s, err := m.Current(*item)
	require.NoError(t, err)
	assert.Equal(t, Archived, s)
}

func TestMachineClaimRefusesClaimedItem(t *testing.T) {
	labels := NewLabels("arch")
	m := NewMachine(&recordingStore{}, labels, false)

	item := &models.WorkItem{ID: "t1", Labels: []models.Label{{Name: labels.Processing}}}
	assert.ErrorIs(t, m.Claim(context.Background(), item), ErrAlreadyClaimed)

	item = &models.WorkItem{ID: "t2", Labels: []models.Label{{Name: labels.Skipped}}}
	assert.ErrorIs(t, m.Claim(context.Background(), item), ErrAlreadyClaimed)
}

func TestMachineFinishKeepsMarkerWhenTerminalLabelFails(t *testing.T) {
	labels := NewLabels("arch")
	store := &recordingStore{failAdd: labels.Errored}
	m := NewMachine(store, labels, false)
	ctx := context.Background()

	item := &models.WorkItem{ID: "t1"}
	require.NoError(t, m.Claim(ctx, item))
	require.Error(t, m.Finish(ctx, item, Errored))

	assert.True(t, item.HasLabel(labels.Processing))
	assert.NotContains(t, store.ops, "remove arch/processing")
}

func TestMachineFinishRefusesSecondTerminalLabel(t *testing.T) {
	labels := NewLabels("arch")
	store := &recordingStore{failRemove: labels.Processing}
	m := NewMachine(store, labels, false)
	ctx := context.Background()

	item := &models.WorkItem{ID: "t1"}
	require.NoError(t, m.Claim(ctx, item))
	require.Error(t, m.Finish(ctx, item, Archived))
	assert.True(t, item.HasLabel(labels.Archived))
	assert.True(t, item.HasLabel(labels.Processing))

	assert.ErrorIs(t, m.Finish(ctx, item, Errored), ErrAlreadyTerminal)
	assert.ErrorIs(t, m.Finish(ctx, item, Eligible), ErrAlreadyTerminal)
	assert.NotContains(t, store.ops, "add arch/errored")

	store.failRemove = ""
	require.NoError(t, m.Finish(ctx, item, Archived))
	assert.False(t, item.HasLabel(labels.Processing))
	assert.Equal(t, 1, count(store.ops, "add arch/archived"))
	s, err := m.Current(*item)
	require.NoError(t, err)
	assert.Equal(t, Archived, s)
}

func count(ops []string, op string) int {
	n := 0
	for _, o := range ops {
		if o == op {
			n++
		}
	}
	return n
}

func TestMachineResetAndInvalidFinish(t *testing.T) {
	labels := NewLabels("arch")
	store := &recordingStore{}
	m := NewMachine(store, labels, false)
	ctx := context.Background()

	item := &models.WorkItem{ID: "t1"}
	require.NoError(t, m.Claim(ctx, item))
	require.NoError(t, m.Finish(ctx, item, Eligible))
	assert.False(t, item.HasLabel(labels.Processing))

	assert.ErrorIs(t, m.Finish(ctx, item, Processing), ErrInvalidTransition)
}

func TestReadOnlyMachineTouchesNothing(t *testing.T) {
	store := &recordingStore{}
	m := NewMachine(store, NewLabels("arch"), true)
	ctx := context.Background()

	item := &models.WorkItem{ID: "t1"}
	require.NoError(t, m.Claim(ctx, item))
	require.NoError(t, m.Finish(ctx, item, Skipped))
	assert.Empty(t, store.ops)
}

func TestLabelsOwns(t *testing.T) {
	l := NewLabels("archiver")
	assert.True(t, l.Owns(l.Digest))
	assert.True(t, l.Owns("archiver/anything"))
	assert.False(t, l.Owns("archiver"))
	assert.False(t, l.Owns("work/archiver"))
}
