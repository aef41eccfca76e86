package extract

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"

	"github.com/jhillyerd/enmime/mediatype"
)

// Matches an <img> tag whose src is a base64 data URI. Group 1 is the media
// type (with parameters), group 2 the payload.
var dataImagePattern = regexp.MustCompile(`(?is)<img\b[^>]*?\bsrc\s*=\s*["']data:([^;,"']*(?:;[^;,"']+)*?);base64,([^"']*)["'][^>]*>`)

// ImageStats reports what ReplaceInlineImages did.
type ImageStats struct {
	Replaced  int
	Malformed int
}

// ReplaceInlineImages swaps every embedded data-URI image larger than maxBytes
// (decoded) for a short placeholder. Images that fail to decode are left as
// they are and counted as malformed.
func ReplaceInlineImages(html string, maxBytes int64) (string, ImageStats) {
	var stats ImageStats
	if maxBytes <= 0 || !strings.Contains(html, "data:") {
		return html, stats
	}

	out := dataImagePattern.ReplaceAllStringFunc(html, func(tag string) string {
		m := dataImagePattern.FindStringSubmatch(tag)
		if m == nil {
			return tag
		}

		size, err := decodedSize(m[2])
		if err != nil {
			stats.Malformed++
			return tag
		}
		if size <= maxBytes {
			return tag
		}

		stats.Replaced++
		return ImagePlaceholder(imageType(m[1]), size)
	})
	return out, stats
}

// ImagePlaceholder is the text left where an oversized image was removed.
func ImagePlaceholder(mediaType string, size int64) string {
	return fmt.Sprintf("[inline image removed: %s, %s]", mediaType, FormatSize(size))
}

func decodedSize(payload string) (int64, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, payload)
	if cleaned == "" {
		return 0, fmt.Errorf("empty image payload")
	}

	data, err := base64.StdEncoding.DecodeString(cleaned)
	if err != nil {
		// Some senders drop the padding.
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(cleaned, "="))
		if err != nil {
			return 0, fmt.Errorf("failed to decode image payload: %w", err)
		}
	}
	return int64(len(data)), nil
}

func imageType(raw string) string {
	mtype, _, _, err := mediatype.Parse(raw)
	if err != nil || mtype == "" {
		return "image"
	}
	return mtype
}

// FormatSize renders a byte count with a binary unit.
func FormatSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}
