// Package upload moves attachment payloads into external storage, consulting
// the dedup index first and pacing request bursts.
package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/altafino/thread-archiver/internal/dedup"
	"github.com/altafino/thread-archiver/internal/failure"
	"github.com/altafino/thread-archiver/internal/models"
	"github.com/altafino/thread-archiver/internal/storage"
)

// DryRunScheme prefixes placeholder links produced in dry-run mode.
const DryRunScheme = "dry-run://"

// Counters receives upload outcomes.
type Counters interface {
	AddUpload(ctx context.Context, bytes int64)
	IncDuplicate(ctx context.Context)
}

type Config struct {
	NamingPattern string
	DryRun        bool
	BurstSize     int
	BurstPause    time.Duration
}

// Request is one attachment to archive.
type Request struct {
	ItemID     string
	MessageID  string
	Date       time.Time
	Attachment models.Attachment
}

type Orchestrator struct {
	backend  storage.Backend
	index    *dedup.Index
	counters Counters
	cfg      Config
	logger   *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
	uploads  int
}

type Option func(*Orchestrator)

// WithSleeper replaces the pause used between upload bursts.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) { o.sleep = sleep }
}

// New creates an orchestrator. backend may be nil in dry-run mode.
func New(backend storage.Backend, index *dedup.Index, counters Counters, cfg Config, logger *slog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		backend:  backend,
		index:    index,
		counters: counters,
		cfg:      cfg,
		logger:   logger,
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Archive returns a link to the attachment's archived copy, uploading it
// unless either dedup tier already knows the content.
func (o *Orchestrator) Archive(ctx context.Context, scope *dedup.ThreadScope, req Request) (models.ArchivedFile, error) {
	att := req.Attachment
	file := models.ArchivedFile{
		Name: att.Name,
		Size: att.Size,
		Hash: att.Hash,
	}

	if hit, ok := o.index.Lookup(ctx, scope, att.Hash); ok {
		o.logger.Debug("attachment already archived",
			"item_id", req.ItemID,
			"name", att.Name,
			"tier", hit.Tier,
		)
		o.counters.IncDuplicate(ctx)
		file.Link = hit.Link
		file.LinkKind = models.LinkShare
		file.Duplicate = true
		return file, nil
	}

	name := storage.ObjectName(o.cfg.NamingPattern, req.MessageID, att.Hash, att.Name, req.Date)

	if o.cfg.DryRun {
		file.Link = DryRunScheme + name
		file.LinkKind = models.LinkPlaceholder
		o.logger.Info("dry run, skipping upload", "item_id", req.ItemID, "name", name, "size", att.Size)
	} else {
		link, kind, err := o.upload(ctx, name, req)
		if err != nil {
			return models.ArchivedFile{}, err
		}
		file.Link = link
		file.LinkKind = kind
	}

	o.counters.AddUpload(ctx, att.Size)

	if err := o.index.Record(ctx, scope, att.Hash, req.ItemID, file.Link); err != nil {
		o.logger.Warn("failed to record dedup entry", "item_id", req.ItemID, "hash", att.Hash, "error", err)
	}

	return file, nil
}

func (o *Orchestrator) upload(ctx context.Context, name string, req Request) (string, models.LinkKind, error) {
	if o.backend == nil {
		return "", "", failure.AsPermanent(errors.New("no storage backend configured"))
	}

	res, err := o.backend.UploadFile(ctx, name, req.Attachment.Data, storage.Metadata{
		ItemID:      req.ItemID,
		MessageID:   req.MessageID,
		ContentType: req.Attachment.ContentType,
		Hash:        req.Attachment.Hash,
		Date:        req.Date,
	})
	if err != nil {
		return "", "", classifyUploadError(fmt.Errorf("failed to upload %s: %w", name, err))
	}

	o.logger.Info("attachment uploaded",
		"item_id", req.ItemID,
		"name", name,
		"size", res.Size,
		"reused", res.Reused,
	)

	if err := o.pace(ctx); err != nil {
		return "", "", err
	}

	link, err := o.backend.CreateShareLink(ctx, res)
	if err == nil {
		return link, models.LinkShare, nil
	}
	o.logger.Warn("share link failed, falling back to direct link", "item_id", req.ItemID, "name", name, "error", err)

	link, err = o.backend.CreateDirectLink(ctx, res)
	if err != nil {
		return "", "", classifyUploadError(fmt.Errorf("failed to create link for %s: %w", name, err))
	}
	return link, models.LinkDirect, nil
}

func (o *Orchestrator) pace(ctx context.Context) error {
	o.uploads++
	if o.cfg.BurstSize <= 0 || o.cfg.BurstPause <= 0 || o.uploads%o.cfg.BurstSize != 0 {
		return nil
	}
	o.logger.Debug("pausing after upload burst", "uploads", o.uploads, "pause", o.cfg.BurstPause)
	return o.sleep(ctx, o.cfg.BurstPause)
}

// Upload failures are permanent for the item unless the backend reported
// throttling.
func classifyUploadError(err error) error {
	if failure.Classify(err).StopsBatch() {
		return err
	}
	return failure.AsPermanent(err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
