package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/altafino/thread-archiver/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day = time.Date(2024, 7, 9, 8, 30, 0, 0, time.UTC)

func TestObjectName(t *testing.T) {
	hash := strings.Repeat("ab", 32)

	assert.Equal(t, "msg-1_abababababababab_report.pdf", ObjectName("", "msg-1", hash, "report.pdf", day))
	assert.Equal(t, "msg-1_abababababababab_evil.sh", ObjectName("", "msg-1", hash, "../../evil.sh", day))
	assert.Equal(t, "2024-07-09-msg-1-abababababababab.pdf", ObjectName("{date}-{message_id}-{hash}.{ext}", "msg-1", hash, "report.pdf", day))
	assert.Equal(t, "m_abababababababab_attachment", ObjectName("", "m", hash, "", day))
}

func TestObjectNameIsDeterministic(t *testing.T) {
	a := ObjectName("", "id", "0123456789abcdef0123", "f.txt", day)
	b := ObjectName("", "id", "0123456789abcdef0123", "f.txt", day)
	c := ObjectName("", "id", "fedcba9876543210aaaa", "f.txt", day)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "a_b_c.txt", SanitizeFilename("a:b?c.txt"))
	assert.Equal(t, "file.txt", SanitizeFilename(`C:\Users\me\file.txt`))
	assert.Equal(t, "two words.pdf", SanitizeFilename("  two   words.pdf "))
	assert.Equal(t, "", SanitizeFilename(""))
}

func TestExpandFolderPath(t *testing.T) {
	assert.Equal(t, "archiver/2024/07", ExpandFolderPath("archiver/{YYYY}/{MM}", day))
	assert.Equal(t, "plain", ExpandFolderPath("plain", day))
}

func TestFileStorageUploadAndLinks(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	fs, err := NewFileStorage(root, "https://files.example.com/archive/", logger.Discard())
	require.NoError(t, err)

	res, err := fs.UploadFile(ctx, "m1_hash_report final.pdf", []byte("pdf-bytes"), Metadata{Date: day})
	require.NoError(t, err)
	assert.False(t, res.Reused)

	data, err := os.ReadFile(filepath.Join(root, "2024", "07", "m1_hash_report final.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "pdf-bytes", string(data))

	share, err := fs.CreateShareLink(ctx, res)
	require.NoError(t, err)
	assert.Equal(t, "https://files.example.com/archive/2024/07/m1_hash_report%20final.pdf", share)

	direct, err := fs.CreateDirectLink(ctx, res)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(direct, "file://"))

	again, err := fs.UploadFile(ctx, "m1_hash_report final.pdf", []byte("pdf-bytes"), Metadata{Date: day})
	require.NoError(t, err)
	assert.True(t, again.Reused)
}

func TestFileStorageShareUnsupportedWithoutBaseURL(t *testing.T) {
	fs, err := NewFileStorage(t.TempDir(), "", logger.Discard())
	require.NoError(t, err)

	_, err = fs.CreateShareLink(context.Background(), UploadResult{ID: "x"})
	assert.ErrorIs(t, err, ErrShareUnsupported)

	_, err = fs.UploadFile(context.Background(), "", []byte("x"), Metadata{})
	assert.ErrorIs(t, err, ErrEmptyObjectName)
}

func TestNewStorageRejectsUnknownType(t *testing.T) {
	_, err := NewStorage(context.Background(), StorageConfig{Type: "s3"}, logger.Discard())
	assert.ErrorContains(t, err, "unsupported storage type")
}
