// Package storage holds the external backends archived attachments are
// uploaded to.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/api/option"
)

var (
	ErrShareUnsupported = errors.New("share links are not available for this backend")
	ErrEmptyObjectName  = errors.New("object name cannot be empty")
)

// Metadata describes the attachment being uploaded.
type Metadata struct {
	ItemID      string
	MessageID   string
	ContentType string
	Hash        string
	Date        time.Time
}

// UploadResult identifies an uploaded object within its backend.
type UploadResult struct {
	ID       string
	Name     string
	Size     int64
	Location string
	Reused   bool
}

// Backend uploads objects and produces links to them. UploadFile must be
// idempotent for a given name.
type Backend interface {
	UploadFile(ctx context.Context, name string, content []byte, meta Metadata) (UploadResult, error)
	CreateShareLink(ctx context.Context, res UploadResult) (string, error)
	CreateDirectLink(ctx context.Context, res UploadResult) (string, error)
}

// StorageType represents the type of storage backend
type StorageType string

const (
	StorageTypeFile   StorageType = "file"
	StorageTypeGDrive StorageType = "gdrive"
)

// StorageConfig holds configuration for creating storage instances
type StorageConfig struct {
	Type            StorageType
	FolderPath      string // may contain {YYYY} {MM} {DD}
	CredentialsFile string // Google Drive service account JSON
	ParentFolderID  string // Google Drive folder files are stored under
	ShareWithAnyone bool
	FilePath        string // local root for the file backend
	PublicBaseURL   string // file backend share links
}

// NewStorage creates a new storage instance based on the configuration.
// clientOpts are passed to the Drive client when no credentials file is set.
func NewStorage(ctx context.Context, config StorageConfig, logger *slog.Logger, clientOpts ...option.ClientOption) (Backend, error) {
	switch config.Type {
	case StorageTypeFile:
		return NewFileStorage(config.FilePath, config.PublicBaseURL, logger)
	case StorageTypeGDrive:
		if config.CredentialsFile != "" {
			clientOpts = []option.ClientOption{option.WithCredentialsFile(config.CredentialsFile)}
		}
		return NewGDriveStorage(ctx, logger, config, clientOpts...)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", config.Type)
	}
}

// ExpandFolderPath replaces date placeholders in a folder path.
func ExpandFolderPath(path string, t time.Time) string {
	if !strings.Contains(path, "{") {
		return path
	}
	return strings.NewReplacer(
		"{YYYY}", t.Format("2006"),
		"{YY}", t.Format("06"),
		"{MM}", t.Format("01"),
		"{DD}", t.Format("02"),
	).Replace(path)
}
