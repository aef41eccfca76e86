package mailbox

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/altafino/thread-archiver/internal/models"
)

// Operation names accepted by MemoryProvider.Inject.
const (
	OpSearch         = "search"
	OpThreadMessages = "thread_messages"
	OpAddLabel       = "add_label"
	OpRemoveLabel    = "remove_label"
	OpTrash          = "trash"
	OpCreateDraft    = "create_draft"
	OpSendDraft      = "send_draft"
	OpLocate         = "locate"
)

type memThread struct {
	id       string
	subject  string
	labels   map[string]bool
	messages []models.Message
	trashed  bool
}

type memDraft struct {
	id        string
	spec      DraftSpec
	createdAt time.Time
}

// MemoryProvider is an in-process mailbox. It backs tests and sandbox runs
// and supports fault injection per operation.
type MemoryProvider struct {
	mu      sync.Mutex
	threads map[string]*memThread
	order   []string
	labels  map[string]models.Label
	drafts  map[string]*memDraft
	faults  map[string]error
	seq     int
	now     func() time.Time

	// LoseSentThreads makes ThreadForMessage report sent messages as missing.
	LoseSentThreads bool
}

func NewMemoryProvider() *MemoryProvider {
	p := &MemoryProvider{
		threads: make(map[string]*memThread),
		labels:  make(map[string]models.Label),
		drafts:  make(map[string]*memDraft),
		faults:  make(map[string]error),
		now:     time.Now,
	}
	for _, name := range []string{LabelInbox, LabelUnread, LabelSent} {
		p.labels[name] = models.Label{ID: name, Name: name, System: true}
	}
	return p
}

// Inject makes every call of op fail with err until cleared with a nil err.
func (p *MemoryProvider) Inject(op string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		delete(p.faults, op)
		return
	}
	p.faults[op] = err
}

func (p *MemoryProvider) fault(op string) error {
	return p.faults[op]
}

// AddThread stores a thread. Unknown label names are created as user labels.
func (p *MemoryProvider) AddThread(item models.WorkItem) {
	p.mu.Lock()
	defer p.mu.Unlock()

	t := &memThread{
		id:       item.ID,
		subject:  item.Subject,
		labels:   make(map[string]bool),
		messages: append([]models.Message(nil), item.Messages...),
	}
	for _, l := range item.Labels {
		p.ensureLabel(l.Name)
		t.labels[l.Name] = true
	}
	if _, ok := p.threads[item.ID]; !ok {
		p.order = append(p.order, item.ID)
	}
	p.threads[item.ID] = t
}

// Thread returns the current view of a thread and whether it is in trash.
func (p *MemoryProvider) Thread(id string) (models.WorkItem, bool, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.threads[id]
	if !ok {
		return models.WorkItem{}, false, false
	}
	return p.view(t, true), t.trashed, true
}

// ThreadIDs lists every thread in insertion order, trashed ones included.
func (p *MemoryProvider) ThreadIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.order...)
}

func (p *MemoryProvider) DraftCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.drafts)
}

func (p *MemoryProvider) ensureLabel(name string) models.Label {
	if l, ok := p.labels[name]; ok {
		return l
	}
	p.seq++
	l := models.Label{ID: fmt.Sprintf("Label_%d", p.seq), Name: name}
	p.labels[name] = l
	return l
}

func (p *MemoryProvider) view(t *memThread, withMessages bool) models.WorkItem {
	item := models.WorkItem{ID: t.id, Subject: t.subject}
	names := make([]string, 0, len(t.labels))
	for name := range t.labels {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		item.Labels = append(item.Labels, p.labels[name])
	}
	if withMessages {
		item.Messages = append([]models.Message(nil), t.messages...)
	}
	return item
}

func (p *MemoryProvider) matches(t *memThread, q Query) bool {
	if t.trashed != q.InTrash {
		return false
	}
	for _, l := range q.Include {
		if !t.labels[l] {
			return false
		}
	}
	for _, l := range q.Exclude {
		if t.labels[l] {
			return false
		}
	}
	if q.LargerThan > 0 && !hasAttachment(t, q.LargerThan) {
		return false
	}
	for _, term := range strings.Fields(strings.ToLower(q.Text)) {
		if !matchTerm(t, term) {
			return false
		}
	}
	return true
}

func hasAttachment(t *memThread, minSize int64) bool {
	for _, m := range t.messages {
		for _, a := range m.Attachments {
			if a.Size >= minSize {
				return true
			}
		}
	}
	return false
}

// matchTerm understands has:attachment, ignores other operators and
// otherwise matches whole words of the subject and bodies.
func matchTerm(t *memThread, term string) bool {
	if term == "has:attachment" {
		return hasAttachment(t, 1)
	}
	if strings.HasPrefix(term, "in:") || strings.HasPrefix(term, "older_than:") || strings.HasPrefix(term, "newer_than:") {
		return true
	}
	words := strings.Fields(strings.ToLower(t.subject))
	for _, m := range t.messages {
		words = append(words, strings.Fields(strings.ToLower(m.Subject+" "+m.PlainBody))...)
	}
	for _, w := range words {
		if w == term {
			return true
		}
	}
	return false
}

func (p *MemoryProvider) SearchThreads(_ context.Context, q Query, offset, limit int) ([]models.WorkItem, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fault(OpSearch); err != nil {
		return nil, err
	}

	var out []models.WorkItem
	skipped := 0
	for _, id := range p.order {
		t := p.threads[id]
		if !p.matches(t, q) {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, p.view(t, false))
	}
	return out, nil
}

func (p *MemoryProvider) HasThreads(ctx context.Context, q Query) (bool, error) {
	items, err := p.SearchThreads(ctx, q, 0, 1)
	if err != nil {
		return false, err
	}
	return len(items) > 0, nil
}

func (p *MemoryProvider) ThreadMessages(_ context.Context, threadID string) ([]models.Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fault(OpThreadMessages); err != nil {
		return nil, err
	}
	t, ok := p.threads[threadID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrThreadNotFound, threadID)
	}
	return append([]models.Message(nil), t.messages...), nil
}

func (p *MemoryProvider) GetOrCreateLabel(_ context.Context, name string) (models.Label, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ensureLabel(name), nil
}

func (p *MemoryProvider) thread(id string) (*memThread, error) {
	t, ok := p.threads[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrThreadNotFound, id)
	}
	return t, nil
}

func (p *MemoryProvider) AddLabel(_ context.Context, threadID string, label models.Label) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fault(OpAddLabel); err != nil {
		return err
	}
	t, err := p.thread(threadID)
	if err != nil {
		return err
	}
	p.ensureLabel(label.Name)
	t.labels[label.Name] = true
	return nil
}

func (p *MemoryProvider) RemoveLabel(_ context.Context, threadID string, label models.Label) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fault(OpRemoveLabel); err != nil {
		return err
	}
	t, err := p.thread(threadID)
	if err != nil {
		return err
	}
	delete(t.labels, label.Name)
	return nil
}

func (p *MemoryProvider) TrashThread(_ context.Context, threadID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fault(OpTrash); err != nil {
		return err
	}
	t, err := p.thread(threadID)
	if err != nil {
		return err
	}
	t.trashed = true
	return nil
}

func (p *MemoryProvider) UntrashThread(_ context.Context, threadID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, err := p.thread(threadID)
	if err != nil {
		return err
	}
	t.trashed = false
	return nil
}

func (p *MemoryProvider) ArchiveThread(_ context.Context, threadID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, err := p.thread(threadID)
	if err != nil {
		return err
	}
	delete(t.labels, LabelInbox)
	return nil
}

func (p *MemoryProvider) MarkThreadRead(_ context.Context, threadID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, err := p.thread(threadID)
	if err != nil {
		return err
	}
	delete(t.labels, LabelUnread)
	return nil
}

func (p *MemoryProvider) CreateDraft(_ context.Context, spec DraftSpec) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fault(OpCreateDraft); err != nil {
		return "", err
	}
	p.seq++
	id := fmt.Sprintf("draft-%d", p.seq)
	p.drafts[id] = &memDraft{id: id, spec: spec, createdAt: p.now()}
	return id, nil
}

// SendDraft delivers the draft to the sender's own mailbox as a new unread
// inbox thread.
func (p *MemoryProvider) SendDraft(_ context.Context, draftID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fault(OpSendDraft); err != nil {
		return "", err
	}
	d, ok := p.drafts[draftID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrDraftNotFound, draftID)
	}
	delete(p.drafts, draftID)

	p.seq++
	threadID := fmt.Sprintf("thread-%d", p.seq)
	msgID := fmt.Sprintf("msg-%d", p.seq)
	p.threads[threadID] = &memThread{
		id:      threadID,
		subject: d.spec.Subject,
		labels:  map[string]bool{LabelInbox: true, LabelUnread: true, LabelSent: true},
		messages: []models.Message{{
			ID:        msgID,
			From:      d.spec.From,
			To:        d.spec.To,
			Date:      p.now(),
			Subject:   d.spec.Subject,
			PlainBody: d.spec.Text,
			HTMLBody:  d.spec.HTML,
		}},
	}
	p.order = append(p.order, threadID)
	return msgID, nil
}

func (p *MemoryProvider) ThreadForMessage(_ context.Context, messageID string) (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fault(OpLocate); err != nil {
		return "", false, err
	}
	if p.LoseSentThreads {
		return "", false, nil
	}
	for _, id := range p.order {
		for _, m := range p.threads[id].messages {
			if m.ID == messageID {
				return id, true, nil
			}
		}
	}
	return "", false, nil
}

func (p *MemoryProvider) DiscardDraft(_ context.Context, draftID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.drafts[draftID]; !ok {
		return fmt.Errorf("%w: %s", ErrDraftNotFound, draftID)
	}
	delete(p.drafts, draftID)
	return nil
}

func (p *MemoryProvider) ListDrafts(_ context.Context, limit int) ([]models.DraftInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.DraftInfo, 0, len(p.drafts))
	for _, d := range p.drafts {
		out = append(out, models.DraftInfo{ID: d.id, Subject: d.spec.Subject, CreatedAt: d.createdAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SetClock replaces the time source used for draft and message timestamps.
func (p *MemoryProvider) SetClock(now func() time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now = now
}
