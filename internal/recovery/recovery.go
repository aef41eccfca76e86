// Package recovery holds the operator repairs: releasing items stuck in
// processing, undoing archives found in trash and discarding drafts left
// behind by interrupted sends.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/altafino/thread-archiver/internal/digest"
	"github.com/altafino/thread-archiver/internal/mailbox"
	"github.com/altafino/thread-archiver/internal/models"
	"github.com/altafino/thread-archiver/internal/state"
)

// ErrNoSubjectPrefix guards draft cleanup against matching every draft.
var ErrNoSubjectPrefix = errors.New("digest subject prefix is empty")

type Config struct {
	PageSize       int
	OrphanDraftAge time.Duration
	SubjectPrefix  string
}

// Result counts what a recovery operation changed.
type Result struct {
	Changed int      `json:"changed"`
	Digests int      `json:"digests,omitempty"`
	Failed  []string `json:"failed,omitempty"`
}

type Service struct {
	provider mailbox.Provider
	machine  *state.Machine
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(provider mailbox.Provider, machine *state.Machine, cfg Config, logger *slog.Logger, opts ...Option) *Service {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	s := &Service{
		provider: provider,
		machine:  machine,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ResetStuckItems removes the processing marker from every thread carrying
// it. Released threads drop out of the query, so each page is read from the
// start, skipping only the ones that failed.
func (s *Service) ResetStuckItems(ctx context.Context) (Result, error) {
	var res Result
	q := mailbox.Query{Include: []string{s.machine.Labels().Processing}}

	for {
		page, err := s.provider.SearchThreads(ctx, q, len(res.Failed), s.cfg.PageSize)
		if err != nil {
			return res, fmt.Errorf("failed to search stuck items: %w", err)
		}
		if len(page) == 0 {
			break
		}
		for _, item := range page {
			if err := s.machine.Release(ctx, item.ID); err != nil {
				s.logger.Error("failed to release stuck item", "item_id", item.ID, "error", err)
				res.Failed = append(res.Failed, item.ID)
				continue
			}
			res.Changed++
			s.logger.Info("released stuck item", "item_id", item.ID, "subject", item.Subject)
		}
		if len(page) < s.cfg.PageSize {
			break
		}
	}

	s.logger.Info("stuck item reset finished", "released", res.Changed, "failed", len(res.Failed))
	return res, nil
}

// RestoreFromTrash brings archived originals back from trash, marks them
// skipped so the next batch leaves them alone, and trashes their digests.
func (s *Service) RestoreFromTrash(ctx context.Context) (Result, error) {
	var res Result
	labels := s.machine.Labels()
	q := mailbox.Query{Include: []string{labels.Archived}, InTrash: true}

	archived, err := s.machine.Label(ctx, labels.Archived)
	if err != nil {
		return res, err
	}
	skipped, err := s.machine.Label(ctx, labels.Skipped)
	if err != nil {
		return res, err
	}

	for {
		page, err := s.provider.SearchThreads(ctx, q, len(res.Failed), s.cfg.PageSize)
		if err != nil {
			return res, fmt.Errorf("failed to search trashed originals: %w", err)
		}
		if len(page) == 0 {
			break
		}
		for _, item := range page {
			logger := s.logger.With("item_id", item.ID)
			if err := s.restore(ctx, item.ID, archived, skipped); err != nil {
				logger.Error("failed to restore original", "error", err)
				res.Failed = append(res.Failed, item.ID)
				continue
			}
			res.Changed++

			n, err := s.trashDigests(ctx, item.ID)
			res.Digests += n
			if err != nil {
				logger.Warn("failed to trash digest of restored original", "error", err)
				continue
			}
			logger.Info("restored original", "subject", item.Subject, "digests_trashed", n)
		}
		if len(page) < s.cfg.PageSize {
			break
		}
	}

	s.logger.Info("restore from trash finished",
		"restored", res.Changed,
		"digests_trashed", res.Digests,
		"failed", len(res.Failed))
	return res, nil
}

// Skipped is added before archived is removed so an interruption never
// leaves the original eligible.
func (s *Service) restore(ctx context.Context, id string, archived, skipped models.Label) error {
	if err := s.provider.UntrashThread(ctx, id); err != nil {
		return fmt.Errorf("failed to untrash: %w", err)
	}
	if err := s.provider.AddLabel(ctx, id, skipped); err != nil {
		return fmt.Errorf("failed to add skipped label: %w", err)
	}
	if err := s.provider.RemoveLabel(ctx, id, archived); err != nil {
		return fmt.Errorf("failed to remove archived label: %w", err)
	}
	return nil
}

func (s *Service) trashDigests(ctx context.Context, sourceID string) (int, error) {
	q := mailbox.Query{
		Include: []string{s.machine.Labels().Digest},
		Text:    digest.SourceToken(sourceID),
	}
	digests, err := s.provider.SearchThreads(ctx, q, 0, s.cfg.PageSize)
	if err != nil {
		return 0, fmt.Errorf("failed to search digests: %w", err)
	}
	n := 0
	for _, d := range digests {
		if err := s.provider.TrashThread(ctx, d.ID); err != nil {
			return n, fmt.Errorf("failed to trash digest %s: %w", d.ID, err)
		}
		n++
	}
	return n, nil
}

// CleanupOrphanedDrafts discards digest drafts older than the configured
// age. Younger drafts may belong to a send in flight.
func (s *Service) CleanupOrphanedDrafts(ctx context.Context) (Result, error) {
	var res Result
	if s.cfg.SubjectPrefix == "" {
		return res, ErrNoSubjectPrefix
	}

	drafts, err := s.provider.ListDrafts(ctx, 0)
	if err != nil {
		return res, fmt.Errorf("failed to list drafts: %w", err)
	}

	cutoff := s.now().Add(-s.cfg.OrphanDraftAge)
	for _, d := range drafts {
		if !strings.HasPrefix(d.Subject, s.cfg.SubjectPrefix) || d.CreatedAt.After(cutoff) {
			continue
		}
		if err := s.provider.DiscardDraft(ctx, d.ID); err != nil {
			s.logger.Error("failed to discard orphaned draft", "draft_id", d.ID, "error", err)
			res.Failed = append(res.Failed, d.ID)
			continue
		}
		res.Changed++
		s.logger.Info("discarded orphaned draft", "draft_id", d.ID, "subject", d.Subject, "created_at", d.CreatedAt)
	}

	s.logger.Info("orphaned draft cleanup finished", "discarded", res.Changed, "failed", len(res.Failed))
	return res, nil
}
