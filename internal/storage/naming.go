package storage

import (
	"path/filepath"
	"strings"
	"time"
)

// DefaultNamingPattern embeds the message id and a content hash prefix so a
// retried upload of the same payload lands on the same name.
const DefaultNamingPattern = "{message_id}_{hash}_{filename}"

const hashPrefixLen = 16

// ObjectName builds the storage name for an attachment. pattern may be empty.
func ObjectName(pattern, messageID, hash, original string, date time.Time) string {
	if pattern == "" {
		pattern = DefaultNamingPattern
	}

	name := SanitizeFilename(original)
	if name == "" {
		name = "attachment"
	}
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)

	short := hash
	if len(short) > hashPrefixLen {
		short = short[:hashPrefixLen]
	}

	result := strings.NewReplacer(
		"{message_id}", SanitizeFilename(messageID),
		"{hash}", short,
		"{filename}", base,
		"{ext}", strings.TrimPrefix(ext, "."),
		"{date}", date.UTC().Format("2006-01-02"),
	).Replace(pattern)

	if !strings.Contains(pattern, "{ext}") && !strings.HasSuffix(result, ext) {
		result += ext
	}

	return result
}

// SanitizeFilename strips path components and characters that break
// filesystems or Drive queries.
func SanitizeFilename(filename string) string {
	filename = strings.ReplaceAll(filename, "\\", "/")
	filename = filepath.Base(filename)
	if filename == "." || filename == "/" {
		return ""
	}

	replacer := strings.NewReplacer(
		"/", "_",
		":", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"'", "_",
		"<", "_",
		">", "_",
		"|", "_",
		";", "_",
		"&", "_",
		"$", "_",
		"#", "_",
		"%", "_",
		"@", "_",
		"!", "_",
		"`", "_",
		"~", "_",
		"^", "_",
		"{", "_",
		"}", "_",
		"\r", "",
		"\n", "",
		"\t", " ",
	)
	filename = strings.TrimSpace(replacer.Replace(filename))

	// Collapse runs of spaces
	filename = strings.Join(strings.Fields(filename), " ")
	return filename
}
