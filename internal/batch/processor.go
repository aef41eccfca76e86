package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/altafino/thread-archiver/internal/dedup"
	"github.com/altafino/thread-archiver/internal/digest"
	"github.com/altafino/thread-archiver/internal/errorlog"
	"github.com/altafino/thread-archiver/internal/extract"
	"github.com/altafino/thread-archiver/internal/failure"
	"github.com/altafino/thread-archiver/internal/mailbox"
	"github.com/altafino/thread-archiver/internal/metrics"
	"github.com/altafino/thread-archiver/internal/models"
	"github.com/altafino/thread-archiver/internal/state"
	"github.com/altafino/thread-archiver/internal/upload"
)

// ErrDigestNotLocated means a digest was sent but its thread could not be
// found, so the original must stay in place.
var ErrDigestNotLocated = errors.New("sent digest could not be located")

// Uploader archives one attachment.
type Uploader interface {
	Archive(ctx context.Context, scope *dedup.ThreadScope, req upload.Request) (models.ArchivedFile, error)
}

// ItemCounters receives per-item outcomes.
type ItemCounters interface {
	IncProcessed(ctx context.Context)
	IncSkipped(ctx context.Context)
	IncErrored(ctx context.Context)
	IncTruncationWarning(ctx context.Context)
}

// Journal persists item failures for operators.
type Journal interface {
	Record(e errorlog.ItemError)
}

type ProcessorConfig struct {
	Sender            string
	MinAttachmentSize int64
	DryRun            bool
}

type Processor struct {
	provider    mailbox.Provider
	machine     *state.Machine
	transformer extract.Transformer
	gate        metrics.Gate
	uploader    Uploader
	composer    *digest.Composer
	counters    ItemCounters
	journal     Journal
	cfg         ProcessorConfig
	logger      *slog.Logger
}

// Deps groups the collaborators of a Processor.
type Deps struct {
	Provider    mailbox.Provider
	Machine     *state.Machine
	Transformer extract.Transformer
	Gate        metrics.Gate
	Uploader    Uploader
	Composer    *digest.Composer
	Counters    ItemCounters
	Journal     Journal
}

func NewProcessor(deps Deps, cfg ProcessorConfig, logger *slog.Logger) *Processor {
	return &Processor{
		provider:    deps.Provider,
		machine:     deps.Machine,
		transformer: deps.Transformer,
		gate:        deps.Gate,
		uploader:    deps.Uploader,
		composer:    deps.Composer,
		counters:    deps.Counters,
		journal:     deps.Journal,
		cfg:         cfg,
		logger:      logger,
	}
}

// ItemOptions tune a single Process call.
type ItemOptions struct {
	RunID    string
	TestMode bool
}

// Process drives one item to a terminal state, a reset, or a batch stop.
// It never panics on collaborator failures.
func (p *Processor) Process(ctx context.Context, item models.WorkItem, opts ItemOptions) Outcome {
	logger := p.logger.With("item_id", item.ID, "run_id", opts.RunID)

	if err := p.machine.Claim(ctx, &item); err != nil {
		if errors.Is(err, state.ErrAlreadyClaimed) {
			logger.Info("item already claimed, skipping", "reason", err)
			current, _ := p.machine.Current(item)
			return Outcome{Action: Continue, State: current}
		}
		return p.fail(ctx, logger, &item, opts, StageClaim, err)
	}

	logger.Debug("item claimed", "subject", item.Subject)
	out, stage, err := p.archive(ctx, logger, &item, opts)
	if err != nil {
		return p.fail(ctx, logger, &item, opts, stage, err)
	}
	return out
}

func (p *Processor) archive(ctx context.Context, logger *slog.Logger, item *models.WorkItem, opts ItemOptions) (Outcome, string, error) {
	msgs, err := p.provider.ThreadMessages(ctx, item.ID)
	if err != nil {
		return Outcome{}, StageFetch, err
	}

	contents, stats := p.transformer.TransformAll(msgs)
	verdict := p.gate.Evaluate(stats)
	switch verdict.Level {
	case metrics.GateBlock:
		return Outcome{}, StageSafety, failure.AsPermanent(verdict.Err())
	case metrics.GateWarn:
		logger.Warn("thread content heavily truncated",
			"ratio", verdict.Ratio,
			"truncated_chars", stats.TruncatedChars,
			"original_chars", stats.OriginalChars)
		p.counters.IncTruncationWarning(ctx)
	}
	if stats.MalformedImages > 0 {
		logger.Warn("kept malformed inline images", "count", stats.MalformedImages)
	}

	var reqs []upload.Request
	for _, m := range msgs {
		for _, a := range m.Attachments {
			if a.Size > p.cfg.MinAttachmentSize {
				reqs = append(reqs, upload.Request{ItemID: item.ID, MessageID: m.ID, Date: m.Date, Attachment: a})
			}
		}
	}

	if len(reqs) == 0 {
		if err := p.settle(ctx, logger, item, state.Skipped); err != nil {
			return Outcome{}, StageFinalize, err
		}
		p.counters.IncSkipped(ctx)
		logger.Info("no attachments above threshold, item skipped", "min_size", p.cfg.MinAttachmentSize)
		return Outcome{Action: Continue, State: state.Skipped}, "", nil
	}

	scope := dedup.NewThreadScope()
	files := make([]models.ArchivedFile, 0, len(reqs))
	for _, req := range reqs {
		f, err := p.uploader.Archive(ctx, scope, req)
		if err != nil {
			return Outcome{}, StageUpload, err
		}
		files = append(files, f)
	}

	art, err := p.composer.Compose(*item, contents, files, opts.TestMode)
	if err != nil {
		return Outcome{}, StageCompose, failure.AsPermanent(err)
	}

	if p.cfg.DryRun {
		logger.Info("dry run, digest not sent and original kept",
			"subject", art.Subject,
			"files", len(files))
		if err := p.settle(ctx, logger, item, state.Archived); err != nil {
			return Outcome{}, StageFinalize, err
		}
		p.counters.IncProcessed(ctx)
		return Outcome{Action: Continue, State: state.Archived, Files: len(files)}, "", nil
	}

	digestThread, stage, err := p.deliver(ctx, logger, art)
	if err != nil {
		return Outcome{}, stage, err
	}
	p.decorate(ctx, logger, *item, digestThread, art)

	// The digest exists and is located; a failed transition here must not
	// lead to a retry that would send a second digest.
	if err := p.settle(ctx, logger, item, state.Archived); err != nil {
		return Outcome{}, StageFinalize, failure.AsPermanent(fmt.Errorf("failed to mark archived: %w", err))
	}

	if err := p.provider.TrashThread(ctx, item.ID); err != nil {
		logger.Error("failed to trash archived original", "error", err)
	}

	p.counters.IncProcessed(ctx)
	logger.Info("item archived",
		"files", len(files),
		"digest_thread", digestThread,
		"subject", art.Subject)
	return Outcome{Action: Continue, State: state.Archived, Files: len(files)}, "", nil
}

// deliver sends the digest and returns the thread it landed in.
func (p *Processor) deliver(ctx context.Context, logger *slog.Logger, art models.DigestArtifact) (string, string, error) {
	draftID, err := p.provider.CreateDraft(ctx, mailbox.DraftSpec{
		From:    p.cfg.Sender,
		To:      p.cfg.Sender,
		Subject: art.Subject,
		Text:    art.TextBody,
		HTML:    art.HTMLBody,
	})
	if err != nil {
		return "", StageDraft, err
	}

	msgID, err := p.provider.SendDraft(ctx, draftID)
	if err != nil {
		if derr := p.provider.DiscardDraft(ctx, draftID); derr != nil {
			logger.Warn("failed to discard unsent draft", "draft_id", draftID, "error", derr)
		}
		return "", StageSend, err
	}

	threadID, found, err := p.provider.ThreadForMessage(ctx, msgID)
	if err != nil {
		return "", StageLocate, failure.AsPermanent(fmt.Errorf("%w: %v", ErrDigestNotLocated, err))
	}
	if !found {
		return "", StageLocate, failure.AsPermanent(fmt.Errorf("%w: message %s", ErrDigestNotLocated, msgID))
	}
	return threadID, "", nil
}

// decorate labels the digest and sets its read and inbox state. Failures are
// logged only; the digest is already durable.
func (p *Processor) decorate(ctx context.Context, logger *slog.Logger, item models.WorkItem, threadID string, art models.DigestArtifact) {
	names := append([]string{p.machine.Labels().Digest}, art.Labels...)
	if art.TestMode {
		names = append(names, p.machine.Labels().TestMode)
	}
	for _, name := range names {
		l, err := p.machine.Label(ctx, name)
		if err == nil {
			err = p.provider.AddLabel(ctx, threadID, l)
		}
		if err != nil {
			logger.Warn("failed to label digest", "label", name, "digest_thread", threadID, "error", err)
		}
	}

	if err := p.provider.MarkThreadRead(ctx, threadID); err != nil {
		logger.Warn("failed to mark digest read", "digest_thread", threadID, "error", err)
	}
	if !item.HasLabel(mailbox.LabelInbox) {
		if err := p.provider.ArchiveThread(ctx, threadID); err != nil {
			logger.Warn("failed to archive digest", "digest_thread", threadID, "error", err)
		}
	}
}

// settle moves item to the terminal state to. Once that label is on the
// item, a failure to drop the processing marker is logged and the item
// counts as settled.
func (p *Processor) settle(ctx context.Context, logger *slog.Logger, item *models.WorkItem, to state.State) error {
	err := p.machine.Finish(ctx, item, to)
	if err == nil {
		return nil
	}
	if current, cerr := p.machine.Current(*item); cerr == nil && current == to {
		logger.Error("failed to clear processing marker", "state", to.String(), "error", err)
		return nil
	}
	return err
}

// fail classifies err and applies the matching transition.
func (p *Processor) fail(ctx context.Context, logger *slog.Logger, item *models.WorkItem, opts ItemOptions, stage string, err error) Outcome {
	kind := failure.Classify(err)
	logger.Error("item failed", "stage", stage, "kind", kind.String(), "error", err)
	p.journal.Record(errorlog.ItemError{
		RunID:   opts.RunID,
		ItemID:  item.ID,
		Subject: item.Subject,
		Stage:   stage,
		Kind:    kind.String(),
		Message: err.Error(),
	})

	out := Outcome{Action: Continue, Kind: kind, Stage: stage, Err: err}

	// The terminal label already landed and only the processing marker is
	// left; the item keeps its state and never gains a second terminal label.
	if current, cerr := p.machine.Current(*item); cerr == nil && current.Terminal() {
		out.State = current
		if terr := p.machine.Finish(ctx, item, current); terr != nil {
			logger.Error("failed to clear processing marker", "state", current.String(), "error", terr)
		}
		return out
	}

	switch kind {
	case failure.RateLimit, failure.Quota:
		out.Action = StopBatch
		out.State = state.Processing
	case failure.Permanent:
		out.State = state.Errored
		if terr := p.machine.Finish(ctx, item, state.Errored); terr != nil {
			logger.Error("failed to mark item errored", "error", terr)
			out.State = state.Processing
		}
		p.counters.IncErrored(ctx)
	default:
		out.State = state.Eligible
		if terr := p.machine.Finish(ctx, item, state.Eligible); terr != nil {
			logger.Error("failed to reset item", "error", terr)
			out.State = state.Processing
		}
	}
	return out
}
