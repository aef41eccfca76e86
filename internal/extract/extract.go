// Package extract turns provider messages into the normalized, bounded form
// rendered into digests.
package extract

import (
	"fmt"
	"sort"
	"unicode/utf8"

	"github.com/altafino/thread-archiver/internal/models"
)

// Content is the normalized form of one message.
type Content struct {
	MessageID string
	From      string
	To        string
	Cc        string
	Date      string
	Subject   string
	Plain     string
	HTML      string
}

// Stats accumulates what the transform removed. Character counts are in
// runes over both body variants.
type Stats struct {
	OriginalChars   int
	TruncatedChars  int
	ImagesReplaced  int
	MalformedImages int
}

// Add folds other into s.
func (s *Stats) Add(other Stats) {
	s.OriginalChars += other.OriginalChars
	s.TruncatedChars += other.TruncatedChars
	s.ImagesReplaced += other.ImagesReplaced
	s.MalformedImages += other.MalformedImages
}

// TruncatedRatio is the fraction of original content removed by truncation.
func (s Stats) TruncatedRatio() float64 {
	if s.OriginalChars == 0 {
		return 0
	}
	return float64(s.TruncatedChars) / float64(s.OriginalChars)
}

type Transformer struct {
	MaxBodyChars        int
	InlineImageMaxBytes int64
}

const dateLayout = "Mon, 02 Jan 2006 15:04 MST"

// Transform normalizes one message.
func (t Transformer) Transform(msg models.Message) (Content, Stats) {
	var stats Stats

	html, images := ReplaceInlineImages(msg.HTMLBody, t.InlineImageMaxBytes)
	stats.ImagesReplaced = images.Replaced
	stats.MalformedImages = images.Malformed

	plain, plainStats := t.truncate(msg.PlainBody)
	html, htmlStats := t.truncate(html)
	stats.OriginalChars = plainStats.OriginalChars + htmlStats.OriginalChars
	stats.TruncatedChars = plainStats.TruncatedChars + htmlStats.TruncatedChars

	var date string
	if !msg.Date.IsZero() {
		date = msg.Date.Format(dateLayout)
	}

	return Content{
		MessageID: msg.ID,
		From:      msg.From,
		To:        msg.To,
		Cc:        msg.Cc,
		Date:      date,
		Subject:   msg.Subject,
		Plain:     plain,
		HTML:      html,
	}, stats
}

// TransformAll orders messages chronologically and transforms each,
// returning the combined stats.
func (t Transformer) TransformAll(msgs []models.Message) ([]Content, Stats) {
	ordered := make([]models.Message, len(msgs))
	copy(ordered, msgs)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Date.Before(ordered[j].Date)
	})

	var total Stats
	contents := make([]Content, 0, len(ordered))
	for _, msg := range ordered {
		c, s := t.Transform(msg)
		contents = append(contents, c)
		total.Add(s)
	}
	return contents, total
}

func (t Transformer) truncate(body string) (string, Stats) {
	n := utf8.RuneCountInString(body)
	stats := Stats{OriginalChars: n}
	if t.MaxBodyChars <= 0 || n <= t.MaxBodyChars {
		return body, stats
	}

	removed := n - t.MaxBodyChars
	stats.TruncatedChars = removed
	return string([]rune(body)[:t.MaxBodyChars]) + TruncationMarker(removed), stats
}

// TruncationMarker is appended to a body cut down to the size limit.
func TruncationMarker(removed int) string {
	return fmt.Sprintf("\n[%d characters truncated]", removed)
}
