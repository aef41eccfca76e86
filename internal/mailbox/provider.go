// Package mailbox is the mail provider boundary: a searchable, labelable
// thread store with drafts. Gmail and an in-memory store implement it.
package mailbox

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/altafino/thread-archiver/internal/models"
)

// System label names shared by every provider.
const (
	LabelInbox  = "INBOX"
	LabelUnread = "UNREAD"
	LabelSent   = "SENT"
)

var (
	ErrThreadNotFound = errors.New("thread not found")
	ErrDraftNotFound  = errors.New("draft not found")
)

// Query selects threads. Include and Exclude hold label names.
type Query struct {
	Text       string
	Include    []string
	Exclude    []string
	LargerThan int64
	InTrash    bool
}

// String renders the query in Gmail search syntax.
func (q Query) String() string {
	var parts []string
	if t := strings.TrimSpace(q.Text); t != "" {
		parts = append(parts, t)
	}
	for _, l := range q.Include {
		parts = append(parts, "label:"+searchLabel(l))
	}
	for _, l := range q.Exclude {
		parts = append(parts, "-label:"+searchLabel(l))
	}
	if q.LargerThan > 0 {
		parts = append(parts, "larger:"+strconv.FormatInt(q.LargerThan, 10))
	}
	if q.InTrash {
		parts = append(parts, "in:trash")
	}
	return strings.Join(parts, " ")
}

// Gmail search matches nested and spaced label names with dashes.
var labelReplacer = strings.NewReplacer(" ", "-", "/", "-")

func searchLabel(name string) string {
	return strings.ToLower(labelReplacer.Replace(name))
}

// DraftSpec is an outgoing message before it is sent.
type DraftSpec struct {
	From    string
	To      string
	Subject string
	Text    string
	HTML    string
}

// Provider is everything the engine and recovery need from the mail system.
type Provider interface {
	SearchThreads(ctx context.Context, q Query, offset, limit int) ([]models.WorkItem, error)
	// HasThreads is a cheap existence check for q.
	HasThreads(ctx context.Context, q Query) (bool, error)
	ThreadMessages(ctx context.Context, threadID string) ([]models.Message, error)

	GetOrCreateLabel(ctx context.Context, name string) (models.Label, error)
	AddLabel(ctx context.Context, threadID string, label models.Label) error
	RemoveLabel(ctx context.Context, threadID string, label models.Label) error

	TrashThread(ctx context.Context, threadID string) error
	UntrashThread(ctx context.Context, threadID string) error
	ArchiveThread(ctx context.Context, threadID string) error
	MarkThreadRead(ctx context.Context, threadID string) error

	CreateDraft(ctx context.Context, spec DraftSpec) (string, error)
	// SendDraft returns the id of the sent message.
	SendDraft(ctx context.Context, draftID string) (string, error)
	// ThreadForMessage locates the thread holding a sent message.
	ThreadForMessage(ctx context.Context, messageID string) (string, bool, error)
	DiscardDraft(ctx context.Context, draftID string) error
	ListDrafts(ctx context.Context, limit int) ([]models.DraftInfo, error)
}
