package extract

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/altafino/thread-archiver/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func imgTag(payload []byte) string {
	return `<p>before</p><img alt="x" src="data:image/png;base64,` + base64.StdEncoding.EncodeToString(payload) + `"><p>after</p>`
}

func TestTransformTruncatesBothBodiesIndependently(t *testing.T) {
	tr := Transformer{MaxBodyChars: 10, InlineImageMaxBytes: 1024}
	msg := models.Message{
		ID:        "m1",
		PlainBody: strings.Repeat("a", 25),
		HTMLBody:  strings.Repeat("b", 8),
	}

	c, stats := tr.Transform(msg)

	assert.Equal(t, strings.Repeat("a", 10)+"\n[15 characters truncated]", c.Plain)
	assert.Equal(t, strings.Repeat("b", 8), c.HTML)
	assert.Equal(t, 33, stats.OriginalChars)
	assert.Equal(t, 15, stats.TruncatedChars)
}

func TestTransformCountsRunesNotBytes(t *testing.T) {
	tr := Transformer{MaxBodyChars: 3}
	c, stats := tr.Transform(models.Message{PlainBody: "ääääää"})

	assert.True(t, strings.HasPrefix(c.Plain, "äää\n"))
	assert.Equal(t, 3, stats.TruncatedChars)
	assert.Equal(t, 6, stats.OriginalChars)
}

func TestReplaceInlineImages(t *testing.T) {
	small := imgTag(make([]byte, 10))
	out, stats := ReplaceInlineImages(small, 100)
	assert.Equal(t, small, out)
	assert.Zero(t, stats.Replaced)

	large := imgTag(make([]byte, 2048))
	out, stats = ReplaceInlineImages(large, 100)
	assert.Equal(t, "<p>before</p>[inline image removed: image/png, 2.0 KB]<p>after</p>", out)
	assert.Equal(t, 1, stats.Replaced)
}

func TestReplaceInlineImagesToleratesMalformedPayload(t *testing.T) {
	html := `<img src="data:image/gif;base64,@@@not-base64@@@">` + imgTag(make([]byte, 500))

	out, stats := ReplaceInlineImages(html, 100)

	assert.Equal(t, 1, stats.Malformed)
	assert.Equal(t, 1, stats.Replaced)
	assert.Contains(t, out, "@@@not-base64@@@")
	assert.Contains(t, out, "[inline image removed: image/png, 500 B]")
}

func TestTransformAllOrdersChronologicallyAndSumsStats(t *testing.T) {
	tr := Transformer{MaxBodyChars: 4}
	t0 := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	msgs := []models.Message{
		{ID: "late", Date: t0.Add(time.Hour), PlainBody: "123456"},
		{ID: "early", Date: t0, PlainBody: "12345678"},
	}

	contents, stats := tr.TransformAll(msgs)

	require.Len(t, contents, 2)
	assert.Equal(t, "early", contents[0].MessageID)
	assert.Equal(t, "late", contents[1].MessageID)
	assert.Equal(t, 14, stats.OriginalChars)
	assert.Equal(t, 6, stats.TruncatedChars)
	assert.InDelta(t, 6.0/14.0, stats.TruncatedRatio(), 1e-9)
	assert.Equal(t, "late", msgs[0].ID, "input slice must not be reordered")
}

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "999 B", FormatSize(999))
	assert.Equal(t, "1.5 KB", FormatSize(1536))
	assert.Equal(t, "5.0 MB", FormatSize(5*1024*1024))
}
