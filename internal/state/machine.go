package state

import (
	"context"
	"fmt"
	"sync"

	"github.com/altafino/thread-archiver/internal/models"
)

// LabelStore is the part of the mailbox the machine needs.
type LabelStore interface {
	GetOrCreateLabel(ctx context.Context, name string) (models.Label, error)
	AddLabel(ctx context.Context, threadID string, label models.Label) error
	RemoveLabel(ctx context.Context, threadID string, label models.Label) error
}

// Machine applies validated transitions to items through their labels.
// A read-only machine validates but never touches the mailbox.
type Machine struct {
	store    LabelStore
	labels   Labels
	readOnly bool

	mu    sync.Mutex
	cache map[string]models.Label
}

func NewMachine(store LabelStore, labels Labels, readOnly bool) *Machine {
	return &Machine{
		store:    store,
		labels:   labels,
		readOnly: readOnly,
		cache:    make(map[string]models.Label),
	}
}

func (m *Machine) Labels() Labels {
	return m.labels
}

// Current derives the item's state from its labels.
func (m *Machine) Current(item models.WorkItem) (State, error) {
	names := make([]string, 0, len(item.Labels))
	for _, l := range item.Labels {
		names = append(names, l.Name)
	}
	return m.labels.FromLabels(names)
}

// Claim moves an eligible item to processing. It returns ErrAlreadyClaimed
// when the item carries the processing marker or a terminal label.
func (m *Machine) Claim(ctx context.Context, item *models.WorkItem) error {
	current, err := m.Current(*item)
	if err != nil {
		return err
	}
	if current != Eligible {
		return fmt.Errorf("%w: %s is %s", ErrAlreadyClaimed, item.ID, current)
	}
	if err := ValidateTransition(Eligible, Processing); err != nil {
		return err
	}
	return m.add(ctx, item, m.labels.Processing)
}

// Finish moves a processing item to to. Terminal labels are added before the
// processing marker is removed, so an interruption never leaves the item
// looking eligible. An item that already carries a terminal label only has
// its processing marker removed when to matches it, and is refused
// otherwise.
func (m *Machine) Finish(ctx context.Context, item *models.WorkItem, to State) error {
	if err := ValidateTransition(Processing, to); err != nil {
		return err
	}
	current, err := m.Current(*item)
	if err != nil {
		return err
	}
	if current.Terminal() {
		if current != to {
			return fmt.Errorf("%w: %s is %s, cannot become %s", ErrAlreadyTerminal, item.ID, current, to)
		}
		return m.remove(ctx, item, m.labels.Processing)
	}
	if to.Terminal() {
		if err := m.add(ctx, item, m.labels.For(to)); err != nil {
			return err
		}
	}
	return m.remove(ctx, item, m.labels.Processing)
}

// Release drops the processing marker from a thread regardless of its
// in-memory view. Used by recovery.
func (m *Machine) Release(ctx context.Context, threadID string) error {
	item := &models.WorkItem{ID: threadID}
	return m.remove(ctx, item, m.labels.Processing)
}

// Label resolves (and creates if needed) a label by name.
func (m *Machine) Label(ctx context.Context, name string) (models.Label, error) {
	m.mu.Lock()
	l, ok := m.cache[name]
	m.mu.Unlock()
	if ok {
		return l, nil
	}

	l, err := m.store.GetOrCreateLabel(ctx, name)
	if err != nil {
		return models.Label{}, fmt.Errorf("failed to resolve label %s: %w", name, err)
	}

	m.mu.Lock()
	m.cache[name] = l
	m.mu.Unlock()
	return l, nil
}

func (m *Machine) add(ctx context.Context, item *models.WorkItem, name string) error {
	if !m.readOnly {
		l, err := m.Label(ctx, name)
		if err != nil {
			return err
		}
		if err := m.store.AddLabel(ctx, item.ID, l); err != nil {
			return fmt.Errorf("failed to add label %s to %s: %w", name, item.ID, err)
		}
	}
	if !item.HasLabel(name) {
		item.Labels = append(item.Labels, models.Label{Name: name})
	}
	return nil
}

func (m *Machine) remove(ctx context.Context, item *models.WorkItem, name string) error {
	if !m.readOnly {
		l, err := m.Label(ctx, name)
		if err != nil {
			return err
		}
		if err := m.store.RemoveLabel(ctx, item.ID, l); err != nil {
			return fmt.Errorf("failed to remove label %s from %s: %w", name, item.ID, err)
		}
	}
	kept := item.Labels[:0]
	for _, l := range item.Labels {
		if l.Name != name {
			kept = append(kept, l)
		}
	}
	item.Labels = kept
	return nil
}
