package mailbox

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/jhillyerd/enmime"
	gm "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/altafino/thread-archiver/internal/models"
)

// Scopes required by GmailProvider.
var GmailScopes = []string{gm.GmailModifyScope, gm.GmailComposeScope}

const maxPageSize = 500

// GmailProvider implements Provider on the Gmail REST API. Messages are
// fetched in raw form and parsed with enmime; drafts are built with the
// enmime builder.
type GmailProvider struct {
	svc    *gm.Service
	user   string
	logger *slog.Logger

	mu     sync.Mutex
	byName map[string]models.Label
	byID   map[string]models.Label
}

// NewGmailService creates the API client from client options such as
// option.WithTokenSource.
func NewGmailService(ctx context.Context, opts ...option.ClientOption) (*gm.Service, error) {
	svc, err := gm.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}
	return svc, nil
}

func NewGmailProvider(svc *gm.Service, user string, logger *slog.Logger) *GmailProvider {
	if user == "" {
		user = "me"
	}
	return &GmailProvider{
		svc:    svc,
		user:   user,
		logger: logger,
	}
}

// Address returns the mailbox's primary email address.
func (g *GmailProvider) Address(ctx context.Context) (string, error) {
	profile, err := g.svc.Users.GetProfile(g.user).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to read Gmail profile: %w", err)
	}
	return profile.EmailAddress, nil
}

func (g *GmailProvider) loadLabels(ctx context.Context) error {
	g.mu.Lock()
	loaded := g.byID != nil
	g.mu.Unlock()
	if loaded {
		return nil
	}

	resp, err := g.svc.Users.Labels.List(g.user).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to list labels: %w", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.byName = make(map[string]models.Label, len(resp.Labels))
	g.byID = make(map[string]models.Label, len(resp.Labels))
	for _, l := range resp.Labels {
		g.remember(l)
	}
	return nil
}

func (g *GmailProvider) remember(l *gm.Label) models.Label {
	label := models.Label{ID: l.Id, Name: l.Name, System: l.Type == "system"}
	g.byName[l.Name] = label
	g.byID[l.Id] = label
	return label
}

func (g *GmailProvider) labelByID(id string) models.Label {
	g.mu.Lock()
	defer g.mu.Unlock()
	if l, ok := g.byID[id]; ok {
		return l
	}
	// Unknown ids are system categories created after the cache was loaded.
	return models.Label{ID: id, Name: id, System: true}
}

func (g *GmailProvider) GetOrCreateLabel(ctx context.Context, name string) (models.Label, error) {
	if err := g.loadLabels(ctx); err != nil {
		return models.Label{}, err
	}

	g.mu.Lock()
	l, ok := g.byName[name]
	g.mu.Unlock()
	if ok {
		return l, nil
	}

	created, err := g.svc.Users.Labels.Create(g.user, &gm.Label{
		Name:                  name,
		LabelListVisibility:   "labelShow",
		MessageListVisibility: "show",
	}).Context(ctx).Do()
	if err != nil {
		return models.Label{}, fmt.Errorf("failed to create label %s: %w", name, err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	return g.remember(created), nil
}

func (g *GmailProvider) SearchThreads(ctx context.Context, q Query, offset, limit int) ([]models.WorkItem, error) {
	if err := g.loadLabels(ctx); err != nil {
		return nil, err
	}

	want := offset + limit
	var ids []string
	pageToken := ""
	for len(ids) < want {
		call := g.svc.Users.Threads.List(g.user).
			Q(q.String()).
			MaxResults(int64(min(want-len(ids), maxPageSize))).
			Context(ctx)
		if q.InTrash {
			call = call.IncludeSpamTrash(true)
		}
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("failed to search threads: %w", err)
		}
		for _, t := range resp.Threads {
			ids = append(ids, t.Id)
		}
		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}

	if offset >= len(ids) {
		return nil, nil
	}
	ids = ids[offset:min(len(ids), want)]

	items := make([]models.WorkItem, 0, len(ids))
	for _, id := range ids {
		item, err := g.threadSummary(ctx, id)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func (g *GmailProvider) threadSummary(ctx context.Context, id string) (models.WorkItem, error) {
	t, err := g.svc.Users.Threads.Get(g.user, id).
		Format("metadata").
		MetadataHeaders("Subject").
		Context(ctx).
		Do()
	if err != nil {
		return models.WorkItem{}, fmt.Errorf("failed to get thread %s: %w", id, err)
	}

	item := models.WorkItem{ID: t.Id}
	seen := make(map[string]bool)
	for i, m := range t.Messages {
		if i == 0 && m.Payload != nil {
			for _, h := range m.Payload.Headers {
				if strings.EqualFold(h.Name, "Subject") {
					item.Subject = h.Value
				}
			}
		}
		for _, lid := range m.LabelIds {
			if !seen[lid] {
				seen[lid] = true
				item.Labels = append(item.Labels, g.labelByID(lid))
			}
		}
	}
	return item, nil
}

func (g *GmailProvider) HasThreads(ctx context.Context, q Query) (bool, error) {
	call := g.svc.Users.Threads.List(g.user).Q(q.String()).MaxResults(1).Context(ctx)
	if q.InTrash {
		call = call.IncludeSpamTrash(true)
	}
	resp, err := call.Do()
	if err != nil {
		return false, fmt.Errorf("failed to check for threads: %w", err)
	}
	return len(resp.Threads) > 0, nil
}

func (g *GmailProvider) ThreadMessages(ctx context.Context, threadID string) ([]models.Message, error) {
	t, err := g.svc.Users.Threads.Get(g.user, threadID).Format("minimal").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get thread %s: %w", threadID, err)
	}

	msgs := make([]models.Message, 0, len(t.Messages))
	for _, ref := range t.Messages {
		raw, err := g.svc.Users.Messages.Get(g.user, ref.Id).Format("raw").Context(ctx).Do()
		if err != nil {
			return nil, fmt.Errorf("failed to get message %s: %w", ref.Id, err)
		}
		msg, err := parseRaw(raw.Id, raw.Raw, raw.InternalDate)
		if err != nil {
			return nil, fmt.Errorf("failed to parse message %s: %w", ref.Id, err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

func decodeRaw(raw string) ([]byte, error) {
	data, err := base64.URLEncoding.DecodeString(raw)
	if err == nil {
		return data, nil
	}
	return base64.RawURLEncoding.DecodeString(raw)
}

// parseRaw turns an RFC 5322 message into the domain model.
func parseRaw(id, raw string, internalDate int64) (models.Message, error) {
	data, err := decodeRaw(raw)
	if err != nil {
		return models.Message{}, fmt.Errorf("failed to decode raw message: %w", err)
	}
	env, err := enmime.ReadEnvelope(bytes.NewReader(data))
	if err != nil {
		return models.Message{}, fmt.Errorf("failed to read envelope: %w", err)
	}

	msg := models.Message{
		ID:        id,
		From:      env.GetHeader("From"),
		To:        env.GetHeader("To"),
		Cc:        env.GetHeader("Cc"),
		Subject:   env.GetHeader("Subject"),
		PlainBody: env.Text,
		HTMLBody:  env.HTML,
	}
	if d, err := mail.ParseDate(env.GetHeader("Date")); err == nil {
		msg.Date = d
	} else if internalDate > 0 {
		msg.Date = time.UnixMilli(internalDate)
	}

	for _, p := range env.Attachments {
		name := p.FileName
		if name == "" {
			name = "attachment"
		}
		msg.Attachments = append(msg.Attachments, models.NewAttachment(name, p.ContentType, p.Content))
	}
	return msg, nil
}

func (g *GmailProvider) modify(ctx context.Context, threadID string, req *gm.ModifyThreadRequest) error {
	_, err := g.svc.Users.Threads.Modify(g.user, threadID, req).Context(ctx).Do()
	return err
}

func (g *GmailProvider) AddLabel(ctx context.Context, threadID string, label models.Label) error {
	if err := g.modify(ctx, threadID, &gm.ModifyThreadRequest{AddLabelIds: []string{label.ID}}); err != nil {
		return fmt.Errorf("failed to add label %s: %w", label.Name, err)
	}
	return nil
}

func (g *GmailProvider) RemoveLabel(ctx context.Context, threadID string, label models.Label) error {
	if err := g.modify(ctx, threadID, &gm.ModifyThreadRequest{RemoveLabelIds: []string{label.ID}}); err != nil {
		return fmt.Errorf("failed to remove label %s: %w", label.Name, err)
	}
	return nil
}

func (g *GmailProvider) ArchiveThread(ctx context.Context, threadID string) error {
	if err := g.modify(ctx, threadID, &gm.ModifyThreadRequest{RemoveLabelIds: []string{LabelInbox}}); err != nil {
		return fmt.Errorf("failed to archive thread %s: %w", threadID, err)
	}
	return nil
}

func (g *GmailProvider) MarkThreadRead(ctx context.Context, threadID string) error {
	if err := g.modify(ctx, threadID, &gm.ModifyThreadRequest{RemoveLabelIds: []string{LabelUnread}}); err != nil {
		return fmt.Errorf("failed to mark thread %s read: %w", threadID, err)
	}
	return nil
}

func (g *GmailProvider) TrashThread(ctx context.Context, threadID string) error {
	if _, err := g.svc.Users.Threads.Trash(g.user, threadID).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to trash thread %s: %w", threadID, err)
	}
	return nil
}

func (g *GmailProvider) UntrashThread(ctx context.Context, threadID string) error {
	if _, err := g.svc.Users.Threads.Untrash(g.user, threadID).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to untrash thread %s: %w", threadID, err)
	}
	return nil
}

// buildRaw encodes a draft as a multipart/alternative message.
func buildRaw(spec DraftSpec) (string, error) {
	from, err := mail.ParseAddress(spec.From)
	if err != nil {
		return "", fmt.Errorf("invalid sender %q: %w", spec.From, err)
	}
	to := from
	if spec.To != "" {
		if to, err = mail.ParseAddress(spec.To); err != nil {
			return "", fmt.Errorf("invalid recipient %q: %w", spec.To, err)
		}
	}

	b := enmime.Builder().
		From(from.Name, from.Address).
		To(to.Name, to.Address).
		Subject(spec.Subject).
		Text([]byte(spec.Text))
	if spec.HTML != "" {
		b = b.HTML([]byte(spec.HTML))
	}

	part, err := b.Build()
	if err != nil {
		return "", fmt.Errorf("failed to build message: %w", err)
	}
	var buf bytes.Buffer
	if err := part.Encode(&buf); err != nil {
		return "", fmt.Errorf("failed to encode message: %w", err)
	}
	return base64.URLEncoding.EncodeToString(buf.Bytes()), nil
}

func (g *GmailProvider) CreateDraft(ctx context.Context, spec DraftSpec) (string, error) {
	raw, err := buildRaw(spec)
	if err != nil {
		return "", err
	}
	d, err := g.svc.Users.Drafts.Create(g.user, &gm.Draft{Message: &gm.Message{Raw: raw}}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to create draft: %w", err)
	}
	return d.Id, nil
}

func (g *GmailProvider) SendDraft(ctx context.Context, draftID string) (string, error) {
	msg, err := g.svc.Users.Drafts.Send(g.user, &gm.Draft{Id: draftID}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to send draft %s: %w", draftID, err)
	}
	return msg.Id, nil
}

func (g *GmailProvider) ThreadForMessage(ctx context.Context, messageID string) (string, bool, error) {
	msg, err := g.svc.Users.Messages.Get(g.user, messageID).Format("minimal").Context(ctx).Do()
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to locate message %s: %w", messageID, err)
	}
	if msg.ThreadId == "" {
		return "", false, nil
	}
	return msg.ThreadId, true, nil
}

func (g *GmailProvider) DiscardDraft(ctx context.Context, draftID string) error {
	if err := g.svc.Users.Drafts.Delete(g.user, draftID).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to delete draft %s: %w", draftID, err)
	}
	return nil
}

func (g *GmailProvider) ListDrafts(ctx context.Context, limit int) ([]models.DraftInfo, error) {
	call := g.svc.Users.Drafts.List(g.user).Context(ctx)
	if limit > 0 {
		call = call.MaxResults(int64(limit))
	}
	resp, err := call.Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list drafts: %w", err)
	}

	out := make([]models.DraftInfo, 0, len(resp.Drafts))
	for _, d := range resp.Drafts {
		full, err := g.svc.Users.Drafts.Get(g.user, d.Id).Format("metadata").Context(ctx).Do()
		if err != nil {
			g.logger.Warn("failed to read draft", "draft_id", d.Id, "error", err)
			continue
		}
		info := models.DraftInfo{ID: d.Id}
		if full.Message != nil {
			info.CreatedAt = time.UnixMilli(full.Message.InternalDate)
			if full.Message.Payload != nil {
				for _, h := range full.Message.Payload.Headers {
					if strings.EqualFold(h.Name, "Subject") {
						info.Subject = h.Value
					}
				}
			}
		}
		out = append(out, info)
	}
	return out, nil
}
