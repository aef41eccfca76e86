package types

import "time"

// Config represents the application configuration
type Config struct {
	// Meta information for the configuration
	Meta struct {
		ID          string `yaml:"id"`
		Name        string `yaml:"name"`
		Description string `yaml:"description,omitempty"`
		Enabled     bool   `yaml:"enabled"`
		Template    string `yaml:"template,omitempty"` // Name of the template to use
	} `yaml:"meta"`

	Mailbox struct {
		Provider string `yaml:"provider"` // gmail, memory
		User     string `yaml:"user"`
		Sender   string `yaml:"sender"` // digest recipient, defaults to the account address
	} `yaml:"mailbox"`

	OAuth2 struct {
		ClientID        string `yaml:"client_id"`
		ClientSecret    string `yaml:"client_secret"`
		CredentialsFile string `yaml:"credentials_file"`
		RedirectURL     string `yaml:"redirect_url"`
		TokenStore      string `yaml:"token_store"` // file, keyring
		TokenPath       string `yaml:"token_path"`
	} `yaml:"oauth2"`

	Selection struct {
		Query             string `yaml:"query"`
		MinAttachmentSize int64  `yaml:"min_attachment_size"`
		LabelPrefix       string `yaml:"label_prefix"`
	} `yaml:"selection"`

	Storage struct {
		Type          string `yaml:"type"` // file, gdrive
		NamingPattern string `yaml:"naming_pattern"`
		File          struct {
			Path          string `yaml:"path"`
			PublicBaseURL string `yaml:"public_base_url"`
		} `yaml:"file"`
		GDrive struct {
			CredentialsFile string `yaml:"credentials_file"`
			ParentFolderID  string `yaml:"parent_folder_id"`
			FolderPath      string `yaml:"folder_path"`
			ShareWithAnyone bool   `yaml:"share_with_anyone"`
		} `yaml:"gdrive"`
	} `yaml:"storage"`

	Upload struct {
		DryRun     bool          `yaml:"dry_run"`
		BurstSize  int           `yaml:"burst_size"`
		BurstPause time.Duration `yaml:"burst_pause"`
	} `yaml:"upload"`

	Dedup struct {
		StorageType  string        `yaml:"storage_type"` // database, file, memory
		StoragePath  string        `yaml:"storage_path"`
		Retention    time.Duration `yaml:"retention"`
		MaxRetention time.Duration `yaml:"max_retention"`
	} `yaml:"dedup"`

	Extract struct {
		MaxBodyChars        int   `yaml:"max_body_chars"`
		InlineImageMaxBytes int64 `yaml:"inline_image_max_bytes"`
	} `yaml:"extract"`

	Digest struct {
		SubjectPrefix    string `yaml:"subject_prefix"`
		MaxSubjectLength int    `yaml:"max_subject_length"`
	} `yaml:"digest"`

	Safety struct {
		TruncationWarnRatio float64 `yaml:"truncation_warn_ratio"`
		TruncationMaxRatio  float64 `yaml:"truncation_max_ratio"`
	} `yaml:"safety"`

	Batch struct {
		MaxItems          int           `yaml:"max_items"`
		TimeBudget        time.Duration `yaml:"time_budget"`
		ContinuationDelay time.Duration `yaml:"continuation_delay"`
		RateLimitCooldown time.Duration `yaml:"rate_limit_cooldown"`
		QuotaCooldown     time.Duration `yaml:"quota_cooldown"`
	} `yaml:"batch"`

	Recovery struct {
		PageSize       int           `yaml:"page_size"`
		OrphanDraftAge time.Duration `yaml:"orphan_draft_age"`
	} `yaml:"recovery"`

	Database struct {
		Driver string `yaml:"driver"` // sqlite, postgres
		DSN    string `yaml:"dsn"`
	} `yaml:"database"`

	ErrorLogging struct {
		Enabled       bool   `yaml:"enabled"`
		StoragePath   string `yaml:"storage_path"`
		RetentionDays int    `yaml:"retention_days"`
	} `yaml:"error_logging"`

	Logging struct {
		Level         string `yaml:"level"`
		Format        string `yaml:"format"` // text, json, dev
		IncludeCaller bool   `yaml:"include_caller"`
	} `yaml:"logging"`

	Monitoring struct {
		MetricsEnabled bool   `yaml:"metrics_enabled"`
		MetricsPort    int    `yaml:"metrics_port"`
		MetricsPath    string `yaml:"metrics_path"`
	} `yaml:"monitoring"`

	Scheduling struct {
		Enabled         bool   `yaml:"enabled"`
		FrequencyEvery  string `yaml:"frequency_every"` // minute, hour, day, week
		FrequencyAmount int    `yaml:"frequency_amount"`
		Cron            string `yaml:"cron"` // overrides frequency when set
		StartNow        bool   `yaml:"start_now"`
	} `yaml:"scheduling"`
}
