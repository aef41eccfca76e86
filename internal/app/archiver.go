package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/altafino/thread-archiver/internal/batch"
	"github.com/altafino/thread-archiver/internal/database"
	"github.com/altafino/thread-archiver/internal/dedup"
	"github.com/altafino/thread-archiver/internal/digest"
	"github.com/altafino/thread-archiver/internal/errorlog"
	"github.com/altafino/thread-archiver/internal/extract"
	"github.com/altafino/thread-archiver/internal/mailbox"
	"github.com/altafino/thread-archiver/internal/metrics"
	"github.com/altafino/thread-archiver/internal/oauth2"
	"github.com/altafino/thread-archiver/internal/recovery"
	"github.com/altafino/thread-archiver/internal/state"
	"github.com/altafino/thread-archiver/internal/storage"
	"github.com/altafino/thread-archiver/internal/types"
	"github.com/altafino/thread-archiver/internal/upload"
)

// Archiver is every component of one configuration, wired together.
type Archiver struct {
	Config   *types.Config
	Provider mailbox.Provider
	Runner   *batch.Runner
	Recovery *recovery.Service
	Metrics  *metrics.Recorder
	Journal  *errorlog.Manager

	db     *sqlx.DB
	logger *slog.Logger
}

type options struct {
	provider  mailbox.Provider
	backend   storage.Backend
	registry  prometheus.Registerer
	continuer batch.Continuer
}

type Option func(*options)

// WithProvider replaces the mailbox the configuration names.
func WithProvider(p mailbox.Provider) Option {
	return func(o *options) { o.provider = p }
}

// WithBackend replaces the storage backend the configuration names.
func WithBackend(b storage.Backend) Option {
	return func(o *options) { o.backend = b }
}

// WithRegisterer mirrors counters to Prometheus, labelled with the config id.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registry = reg }
}

// WithContinuer lets batches schedule their own follow-ups.
func WithContinuer(c batch.Continuer) Option {
	return func(o *options) { o.continuer = c }
}

type addresser interface {
	Address(ctx context.Context) (string, error)
}

// Build opens the database and constructs the archiver for cfg. In dry-run
// mode the dedup index is kept in memory and the mailbox is never written.
func Build(ctx context.Context, cfg *types.Config, logger *slog.Logger, opts ...Option) (*Archiver, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	logger = logger.With("config_id", cfg.Meta.ID)
	dryRun := cfg.Upload.DryRun

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a := &Archiver{Config: cfg, db: db, logger: logger}
	fail := func(err error) (*Archiver, error) {
		a.Close()
		return nil, err
	}

	var clientOpts []option.ClientOption
	if o.provider == nil && cfg.Mailbox.Provider == "gmail" {
		ts, err := tokenSource(ctx, cfg, logger)
		if err != nil {
			return fail(err)
		}
		clientOpts = append(clientOpts, option.WithTokenSource(ts))
	}

	provider := o.provider
	if provider == nil {
		provider, err = newProvider(ctx, cfg, logger, clientOpts)
		if err != nil {
			return fail(err)
		}
	}
	a.Provider = provider

	sender := cfg.Mailbox.Sender
	if sender == "" {
		ad, ok := provider.(addresser)
		if !ok {
			return fail(errors.New("mailbox.sender is required for this provider"))
		}
		if sender, err = ad.Address(ctx); err != nil {
			return fail(err)
		}
	}

	index, err := newDedupIndex(cfg, db, logger)
	if err != nil {
		return fail(err)
	}

	backend := o.backend
	if backend == nil && !dryRun {
		backend, err = storage.NewStorage(ctx, storage.StorageConfig{
			Type:            storage.StorageType(cfg.Storage.Type),
			FolderPath:      cfg.Storage.GDrive.FolderPath,
			CredentialsFile: cfg.Storage.GDrive.CredentialsFile,
			ParentFolderID:  cfg.Storage.GDrive.ParentFolderID,
			ShareWithAnyone: cfg.Storage.GDrive.ShareWithAnyone,
			FilePath:        cfg.Storage.File.Path,
			PublicBaseURL:   cfg.Storage.File.PublicBaseURL,
		}, logger, clientOpts...)
		if err != nil {
			return fail(fmt.Errorf("failed to create storage backend: %w", err))
		}
	}

	var reg prometheus.Registerer
	if o.registry != nil {
		reg = prometheus.WrapRegistererWith(prometheus.Labels{"config_id": cfg.Meta.ID}, o.registry)
	}
	a.Metrics = metrics.NewRecorder(metrics.NewSQLStore(db), logger, reg)

	a.Journal, err = errorlog.NewManager(cfg, logger)
	if err != nil {
		return fail(fmt.Errorf("failed to create error journal: %w", err))
	}

	labels := state.NewLabels(cfg.Selection.LabelPrefix)
	machine := state.NewMachine(provider, labels, dryRun)

	uploader := upload.New(backend, index, a.Metrics, upload.Config{
		NamingPattern: cfg.Storage.NamingPattern,
		DryRun:        dryRun,
		BurstSize:     cfg.Upload.BurstSize,
		BurstPause:    cfg.Upload.BurstPause,
	}, logger)

	processor := batch.NewProcessor(batch.Deps{
		Provider: provider,
		Machine:  machine,
		Transformer: extract.Transformer{
			MaxBodyChars:        cfg.Extract.MaxBodyChars,
			InlineImageMaxBytes: cfg.Extract.InlineImageMaxBytes,
		},
		Gate: metrics.Gate{
			WarnRatio: cfg.Safety.TruncationWarnRatio,
			MaxRatio:  cfg.Safety.TruncationMaxRatio,
		},
		Uploader: uploader,
		Composer: digest.NewComposer(cfg.Digest.SubjectPrefix, cfg.Digest.MaxSubjectLength, labels),
		Counters: a.Metrics,
		Journal:  a.Journal,
	}, batch.ProcessorConfig{
		Sender:            sender,
		MinAttachmentSize: cfg.Selection.MinAttachmentSize,
		DryRun:            dryRun,
	}, logger)

	runnerOpts := []batch.RunnerOption{batch.WithDedupIndex(index)}
	if !dryRun {
		runnerOpts = append(runnerOpts, batch.WithHoldStore(batch.NewSQLHoldStore(db)))
	}
	if o.continuer != nil {
		runnerOpts = append(runnerOpts, batch.WithContinuer(o.continuer))
	}
	a.Runner = batch.NewRunner(processor, provider, machine, a.Metrics, batch.RunnerConfig{
		ConfigID:          cfg.Meta.ID,
		Query:             mailbox.Query{Text: cfg.Selection.Query, LargerThan: cfg.Selection.MinAttachmentSize},
		MaxItems:          cfg.Batch.MaxItems,
		TimeBudget:        cfg.Batch.TimeBudget,
		ContinuationDelay: cfg.Batch.ContinuationDelay,
		RateLimitCooldown: cfg.Batch.RateLimitCooldown,
		QuotaCooldown:     cfg.Batch.QuotaCooldown,
	}, logger, runnerOpts...)

	a.Recovery = recovery.New(provider, state.NewMachine(provider, labels, false), recovery.Config{
		PageSize:       cfg.Recovery.PageSize,
		OrphanDraftAge: cfg.Recovery.OrphanDraftAge,
		SubjectPrefix:  cfg.Digest.SubjectPrefix,
	}, logger)

	logger.Info("archiver ready",
		"mailbox", cfg.Mailbox.Provider,
		"storage", cfg.Storage.Type,
		"dedup", cfg.Dedup.StorageType,
		"dry_run", dryRun)
	return a, nil
}

// Close releases the database, the error journal and the Prometheus
// collectors.
func (a *Archiver) Close() error {
	if a.Metrics != nil {
		a.Metrics.Unregister()
	}
	var errs []error
	if a.Journal != nil {
		errs = append(errs, a.Journal.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	return errors.Join(errs...)
}

// Ping checks the database connection.
func (a *Archiver) Ping(ctx context.Context) error {
	return a.db.PingContext(ctx)
}

func openDatabase(ctx context.Context, cfg *types.Config) (*sqlx.DB, error) {
	dsn := cfg.Database.DSN
	if cfg.Database.Driver == "sqlite" && dsn != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	return database.Open(ctx, cfg.Database.Driver, dsn)
}

// Dry runs keep dedup entries in memory so nothing durable refers to
// placeholder links.
func newDedupIndex(cfg *types.Config, db *sqlx.DB, logger *slog.Logger) (*dedup.Index, error) {
	kind := cfg.Dedup.StorageType
	if cfg.Upload.DryRun {
		kind = "memory"
	}
	store, err := dedup.NewStore(kind, cfg.Dedup.StoragePath, cfg.Dedup.MaxRetention, db)
	if err != nil {
		return nil, fmt.Errorf("failed to create dedup store: %w", err)
	}
	ttl := cfg.Dedup.Retention
	if cfg.Upload.DryRun {
		ttl = min(ttl, store.MaxTTL())
	}
	return dedup.NewIndex(store, ttl, logger)
}

// Scopes requested for the shared Gmail and Drive token.
func Scopes() []string {
	return append(append([]string(nil), mailbox.GmailScopes...), drive.DriveFileScope)
}

func tokenSource(ctx context.Context, cfg *types.Config, logger *slog.Logger) (*oauth2.TokenManager, error) {
	conf, err := oauth2.GoogleConfig(cfg, Scopes()...)
	if err != nil {
		return nil, err
	}
	store, err := oauth2.NewTokenStore(cfg.OAuth2.TokenStore, cfg.OAuth2.TokenPath)
	if err != nil {
		return nil, err
	}
	return oauth2.NewTokenManager(ctx, conf, store, oauth2.AccountID(cfg.Meta.ID, cfg.Mailbox.User), logger)
}

func newProvider(ctx context.Context, cfg *types.Config, logger *slog.Logger, clientOpts []option.ClientOption) (mailbox.Provider, error) {
	switch cfg.Mailbox.Provider {
	case "gmail":
		svc, err := mailbox.NewGmailService(ctx, clientOpts...)
		if err != nil {
			return nil, err
		}
		return mailbox.NewGmailProvider(svc, cfg.Mailbox.User, logger), nil
	case "memory":
		logger.Warn("using in-memory mailbox, nothing will reach a real account")
		return mailbox.NewMemoryProvider(), nil
	default:
		return nil, fmt.Errorf("unsupported mailbox provider: %s", cfg.Mailbox.Provider)
	}
}
