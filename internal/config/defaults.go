package config

import (
	"time"

	"github.com/altafino/thread-archiver/internal/types"
)

// Defaults returns the values used for every field a config file leaves at
// its zero value. Boolean switches default to false so files can turn them
// off explicitly.
func Defaults() *types.Config {
	cfg := &types.Config{}

	cfg.Mailbox.Provider = "gmail"
	cfg.Mailbox.User = "me"

	cfg.OAuth2.TokenStore = "file"
	cfg.OAuth2.TokenPath = "./tokens"
	cfg.OAuth2.RedirectURL = "http://localhost:8085/oauth/callback"

	cfg.Selection.Query = "has:attachment"
	cfg.Selection.MinAttachmentSize = 100 * 1024
	cfg.Selection.LabelPrefix = "archiver"

	cfg.Storage.Type = "file"
	cfg.Storage.File.Path = "./archive"
	cfg.Storage.GDrive.FolderPath = "archiver/{YYYY}/{MM}"

	cfg.Upload.BurstSize = 10
	cfg.Upload.BurstPause = 2 * time.Second

	cfg.Dedup.StorageType = "database"
	cfg.Dedup.StoragePath = "./data"
	cfg.Dedup.Retention = 6 * time.Hour
	cfg.Dedup.MaxRetention = 7 * 24 * time.Hour

	cfg.Extract.MaxBodyChars = 20000
	cfg.Extract.InlineImageMaxBytes = 50 * 1024

	cfg.Digest.SubjectPrefix = "[Archived] "
	cfg.Digest.MaxSubjectLength = 250

	cfg.Safety.TruncationWarnRatio = 0.2
	cfg.Safety.TruncationMaxRatio = 0.5

	cfg.Batch.MaxItems = 50
	cfg.Batch.TimeBudget = 5 * time.Minute
	cfg.Batch.ContinuationDelay = time.Minute
	cfg.Batch.RateLimitCooldown = 15 * time.Minute
	cfg.Batch.QuotaCooldown = 24 * time.Hour

	cfg.Recovery.PageSize = 100
	cfg.Recovery.OrphanDraftAge = time.Hour

	cfg.Database.Driver = "sqlite"
	cfg.Database.DSN = "./data/archiver.db"

	cfg.ErrorLogging.StoragePath = "./data/errors"
	cfg.ErrorLogging.RetentionDays = 30

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "text"

	cfg.Monitoring.MetricsPort = 9090
	cfg.Monitoring.MetricsPath = "/metrics"

	cfg.Scheduling.FrequencyEvery = "hour"
	cfg.Scheduling.FrequencyAmount = 1

	return cfg
}
