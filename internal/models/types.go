package models

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Label is a mailbox label as seen on a thread. System labels belong to the
// provider (INBOX, UNREAD, ...) and are never carried onto a digest.
type Label struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	System bool   `json:"system"`
}

// WorkItem is one candidate thread. Messages are loaded on demand.
type WorkItem struct {
	ID       string    `json:"id"`
	Subject  string    `json:"subject"`
	Labels   []Label   `json:"labels"`
	Messages []Message `json:"messages,omitempty"`
}

// HasLabel reports whether the item carries a label with the given name.
func (w WorkItem) HasLabel(name string) bool {
	for _, l := range w.Labels {
		if l.Name == name {
			return true
		}
	}
	return false
}

type Message struct {
	ID          string       `json:"id"`
	From        string       `json:"from"`
	To          string       `json:"to"`
	Cc          string       `json:"cc,omitempty"`
	Date        time.Time    `json:"date"`
	Subject     string       `json:"subject"`
	PlainBody   string       `json:"plain_body"`
	HTMLBody    string       `json:"html_body"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

type Attachment struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	Hash        string `json:"hash"`
	Data        []byte `json:"-"`
}

// NewAttachment builds an attachment and computes its content hash.
func NewAttachment(name, contentType string, data []byte) Attachment {
	sum := sha256.Sum256(data)
	return Attachment{
		Name:        name,
		ContentType: contentType,
		Size:        int64(len(data)),
		Hash:        hex.EncodeToString(sum[:]),
		Data:        data,
	}
}

type LinkKind string

const (
	LinkShare       LinkKind = "share"
	LinkDirect      LinkKind = "direct"
	LinkPlaceholder LinkKind = "placeholder"
)

// ArchivedFile is an attachment that now lives in external storage.
type ArchivedFile struct {
	Name      string   `json:"name"`
	Size      int64    `json:"size"`
	Hash      string   `json:"hash"`
	Link      string   `json:"link"`
	LinkKind  LinkKind `json:"link_kind"`
	Duplicate bool     `json:"duplicate"`
}

// DigestArtifact replaces an archived thread.
type DigestArtifact struct {
	Subject      string         `json:"subject"`
	HTMLBody     string         `json:"html_body"`
	TextBody     string         `json:"text_body"`
	Files        []ArchivedFile `json:"files"`
	Labels       []string       `json:"labels"`
	SourceItemID string         `json:"source_item_id"`
	TestMode     bool           `json:"test_mode"`
}

type DraftInfo struct {
	ID        string    `json:"id"`
	Subject   string    `json:"subject"`
	CreatedAt time.Time `json:"created_at"`
}
