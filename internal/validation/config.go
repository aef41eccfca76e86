package validation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/altafino/thread-archiver/internal/dedup"
	"github.com/altafino/thread-archiver/internal/types"
	"github.com/robfig/cron/v3"
)

// ErrRetentionCeiling marks a dedup retention longer than the store allows.
// Callers treat it as fatal.
var ErrRetentionCeiling = errors.New("dedup retention exceeds store ceiling")

// ValidateConfig performs validation on a single configuration
func ValidateConfig(cfg *types.Config) error {
	if err := validateMeta(cfg); err != nil {
		return fmt.Errorf("meta validation failed: %w", err)
	}

	if err := validateMailbox(cfg); err != nil {
		return fmt.Errorf("mailbox validation failed: %w", err)
	}

	if err := validateStorage(cfg); err != nil {
		return fmt.Errorf("storage validation failed: %w", err)
	}

	if err := validateDedup(cfg); err != nil {
		return fmt.Errorf("dedup validation failed: %w", err)
	}

	if err := validateProcessing(cfg); err != nil {
		return fmt.Errorf("processing validation failed: %w", err)
	}

	if err := validateBatch(cfg); err != nil {
		return fmt.Errorf("batch validation failed: %w", err)
	}

	if err := validateDatabase(cfg); err != nil {
		return fmt.Errorf("database validation failed: %w", err)
	}

	if err := validateLogging(cfg); err != nil {
		return fmt.Errorf("logging validation failed: %w", err)
	}

	if err := validateScheduling(cfg); err != nil {
		return fmt.Errorf("scheduling validation failed: %w", err)
	}

	return nil
}

func validateMeta(cfg *types.Config) error {
	if cfg.Meta.ID == "" {
		return fmt.Errorf("meta.id is required")
	}

	if !isValidID(cfg.Meta.ID) {
		return fmt.Errorf("meta.id contains invalid characters (use only alphanumeric, dash, underscore)")
	}

	return nil
}

func validateMailbox(cfg *types.Config) error {
	switch cfg.Mailbox.Provider {
	case "gmail":
		if cfg.OAuth2.CredentialsFile == "" && (cfg.OAuth2.ClientID == "" || cfg.OAuth2.ClientSecret == "") {
			return fmt.Errorf("oauth2.client_id and oauth2.client_secret (or oauth2.credentials_file) are required for gmail")
		}
	case "memory":
		if cfg.Mailbox.Sender == "" {
			return fmt.Errorf("mailbox.sender is required for the memory provider")
		}
	default:
		return fmt.Errorf("mailbox.provider must be one of: gmail, memory")
	}

	switch cfg.OAuth2.TokenStore {
	case "file", "keyring":
	default:
		return fmt.Errorf("oauth2.token_store must be one of: file, keyring")
	}

	if cfg.Selection.LabelPrefix == "" || strings.ContainsAny(cfg.Selection.LabelPrefix, " \t") {
		return fmt.Errorf("selection.label_prefix must be non-empty and contain no whitespace")
	}

	if cfg.Selection.MinAttachmentSize <= 0 {
		return fmt.Errorf("selection.min_attachment_size must be positive")
	}

	return nil
}

func validateStorage(cfg *types.Config) error {
	switch cfg.Storage.Type {
	case "file":
		if cfg.Storage.File.Path == "" {
			return fmt.Errorf("storage.file.path is required when type is 'file'")
		}
	case "gdrive":
		if cfg.Storage.GDrive.CredentialsFile == "" && cfg.Mailbox.Provider != "gmail" {
			return fmt.Errorf("storage.gdrive.credentials_file is required unless the gmail oauth2 token is shared")
		}
	default:
		return fmt.Errorf("storage.type must be one of: file, gdrive")
	}

	if p := cfg.Storage.NamingPattern; p != "" {
		if !strings.Contains(p, "{message_id}") || !strings.Contains(p, "{hash}") {
			return fmt.Errorf("storage.naming_pattern must contain {message_id} and {hash}")
		}
	}

	if cfg.Upload.BurstSize < 0 || cfg.Upload.BurstPause < 0 {
		return fmt.Errorf("upload.burst_size and upload.burst_pause must not be negative")
	}

	return nil
}

func validateDedup(cfg *types.Config) error {
	switch cfg.Dedup.StorageType {
	case "database", "memory":
	case "file":
		if cfg.Dedup.StoragePath == "" {
			return fmt.Errorf("dedup.storage_path is required when storage_type is 'file'")
		}
	default:
		return fmt.Errorf("dedup.storage_type must be one of: database, file, memory")
	}

	if cfg.Dedup.Retention <= 0 {
		return fmt.Errorf("dedup.retention must be positive")
	}

	ceiling := dedup.Ceiling(cfg.Dedup.StorageType, cfg.Dedup.MaxRetention)
	if cfg.Dedup.Retention > ceiling {
		return fmt.Errorf("%w: %s > %s", ErrRetentionCeiling, cfg.Dedup.Retention, ceiling)
	}

	return nil
}

func validateProcessing(cfg *types.Config) error {
	if cfg.Extract.MaxBodyChars <= 0 {
		return fmt.Errorf("extract.max_body_chars must be positive")
	}

	if cfg.Extract.InlineImageMaxBytes <= 0 {
		return fmt.Errorf("extract.inline_image_max_bytes must be positive")
	}

	if cfg.Digest.MaxSubjectLength <= len([]rune(cfg.Digest.SubjectPrefix))+3 {
		return fmt.Errorf("digest.max_subject_length must leave room for the subject prefix")
	}

	warn, maxRatio := cfg.Safety.TruncationWarnRatio, cfg.Safety.TruncationMaxRatio
	if maxRatio <= 0 || maxRatio > 1 {
		return fmt.Errorf("safety.truncation_max_ratio must be in (0, 1]")
	}
	if warn < 0 || warn > maxRatio {
		return fmt.Errorf("safety.truncation_warn_ratio must be between 0 and truncation_max_ratio")
	}

	return nil
}

func validateBatch(cfg *types.Config) error {
	if cfg.Batch.MaxItems < 1 {
		return fmt.Errorf("batch.max_items must be greater than 0")
	}

	if cfg.Batch.TimeBudget <= 0 {
		return fmt.Errorf("batch.time_budget must be positive")
	}

	if cfg.Batch.ContinuationDelay <= 0 || cfg.Batch.RateLimitCooldown <= 0 || cfg.Batch.QuotaCooldown <= 0 {
		return fmt.Errorf("batch continuation delays and cooldowns must be positive")
	}

	if cfg.Batch.QuotaCooldown < cfg.Batch.RateLimitCooldown {
		return fmt.Errorf("batch.quota_cooldown must not be shorter than batch.rate_limit_cooldown")
	}

	return nil
}

func validateDatabase(cfg *types.Config) error {
	switch cfg.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("database.driver must be one of: sqlite, postgres")
	}

	if cfg.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	return nil
}

func validateLogging(cfg *types.Config) error {
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if !validLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}

	validFormats := map[string]bool{
		"text": true,
		"json": true,
		"dev":  true,
	}

	if !validFormats[cfg.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: text, json, dev")
	}

	return nil
}

func validateScheduling(cfg *types.Config) error {
	if !cfg.Scheduling.Enabled {
		return nil // Skip validation if scheduling is disabled
	}

	if cfg.Scheduling.Cron != "" {
		if _, err := cron.ParseStandard(cfg.Scheduling.Cron); err != nil {
			return fmt.Errorf("scheduling.cron is invalid: %w", err)
		}
		return nil
	}

	validFrequencies := map[string]bool{
		"minute": true,
		"hour":   true,
		"day":    true,
		"week":   true,
	}

	if !validFrequencies[cfg.Scheduling.FrequencyEvery] {
		return fmt.Errorf("scheduling.frequency_every must be one of: minute, hour, day, week")
	}

	if cfg.Scheduling.FrequencyAmount < 1 {
		return fmt.Errorf("scheduling.frequency_amount must be greater than 0")
	}

	switch cfg.Scheduling.FrequencyEvery {
	case "minute":
		if cfg.Scheduling.FrequencyAmount > 60 {
			return fmt.Errorf("scheduling.frequency_amount must not exceed 60 for minute frequency")
		}
	case "hour":
		if cfg.Scheduling.FrequencyAmount > 24 {
			return fmt.Errorf("scheduling.frequency_amount must not exceed 24 for hour frequency")
		}
	case "day":
		if cfg.Scheduling.FrequencyAmount > 31 {
			return fmt.Errorf("scheduling.frequency_amount must not exceed 31 for day frequency")
		}
	case "week":
		if cfg.Scheduling.FrequencyAmount > 52 {
			return fmt.Errorf("scheduling.frequency_amount must not exceed 52 for week frequency")
		}
	}

	return nil
}

func isValidID(id string) bool {
	for _, r := range id {
		if !isValidIDChar(r) {
			return false
		}
	}
	return true
}

func isValidIDChar(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9') ||
		r == '-' ||
		r == '_'
}
