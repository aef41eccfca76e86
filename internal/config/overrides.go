package config

import (
	"github.com/altafino/thread-archiver/internal/types"
	"github.com/spf13/viper"
)

// Override keys understood by ApplyOverrides. The CLI binds its flags to
// these keys and viper also resolves them from ARCHIVER_* env vars.
const (
	KeyLogLevel   = "logging.level"
	KeyLogFormat  = "logging.format"
	KeyDryRun     = "upload.dry_run"
	KeyMaxItems   = "batch.max_items"
	KeyTimeBudget = "batch.time_budget"
)

// ApplyOverrides copies every key explicitly set in v onto cfg.
func ApplyOverrides(cfg *types.Config, v *viper.Viper) {
	if v == nil {
		return
	}
	if v.IsSet(KeyLogLevel) && v.GetString(KeyLogLevel) != "" {
		cfg.Logging.Level = v.GetString(KeyLogLevel)
	}
	if v.IsSet(KeyLogFormat) && v.GetString(KeyLogFormat) != "" {
		cfg.Logging.Format = v.GetString(KeyLogFormat)
	}
	if v.IsSet(KeyDryRun) && v.GetBool(KeyDryRun) {
		cfg.Upload.DryRun = true
	}
	if v.IsSet(KeyMaxItems) && v.GetInt(KeyMaxItems) > 0 {
		cfg.Batch.MaxItems = v.GetInt(KeyMaxItems)
	}
	if v.IsSet(KeyTimeBudget) && v.GetDuration(KeyTimeBudget) > 0 {
		cfg.Batch.TimeBudget = v.GetDuration(KeyTimeBudget)
	}
}
