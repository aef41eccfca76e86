package upload

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/altafino/thread-archiver/internal/dedup"
	"github.com/altafino/thread-archiver/internal/failure"
	"github.com/altafino/thread-archiver/internal/logger"
	"github.com/altafino/thread-archiver/internal/models"
	"github.com/altafino/thread-archiver/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
)

type fakeBackend struct {
	mu         sync.Mutex
	uploads    []string
	uploadErr  error
	shareErr   error
	directErr  error
	shareCalls int
}

func (f *fakeBackend) UploadFile(_ context.Context, name string, content []byte, _ storage.Metadata) (storage.UploadResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploadErr != nil {
		return storage.UploadResult{}, f.uploadErr
	}
	f.uploads = append(f.uploads, name)
	return storage.UploadResult{ID: "id-" + name, Name: name, Size: int64(len(content))}, nil
}

func (f *fakeBackend) CreateShareLink(_ context.Context, res storage.UploadResult) (string, error) {
	f.shareCalls++
	if f.shareErr != nil {
		return "", f.shareErr
	}
	return "https://share/" + res.ID, nil
}

func (f *fakeBackend) CreateDirectLink(_ context.Context, res storage.UploadResult) (string, error) {
	if f.directErr != nil {
		return "", f.directErr
	}
	return "https://direct/" + res.ID, nil
}

type counters struct {
	files, bytes, dups int64
}

func (c *counters) AddUpload(_ context.Context, n int64) { c.files++; c.bytes += n }
func (c *counters) IncDuplicate(context.Context)         { c.dups++ }

func newIndex(t *testing.T) *dedup.Index {
	t.Helper()
	idx, err := dedup.NewIndex(dedup.NewMemoryStore(), time.Hour, logger.Discard())
	require.NoError(t, err)
	return idx
}

func request(itemID, msgID string, data string) Request {
	return Request{
		ItemID:     itemID,
		MessageID:  msgID,
		Date:       time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		Attachment: models.NewAttachment("file.bin", "application/octet-stream", []byte(data)),
	}
}

func TestArchiveUploadsAndShares(t *testing.T) {
	backend := &fakeBackend{}
	c := &counters{}
	o := New(backend, newIndex(t), c, Config{}, logger.Discard())

	file, err := o.Archive(context.Background(), dedup.NewThreadScope(), request("t1", "m1", "payload"))
	require.NoError(t, err)

	require.Len(t, backend.uploads, 1)
	assert.Contains(t, backend.uploads[0], "m1_")
	assert.Equal(t, models.LinkShare, file.LinkKind)
	assert.Equal(t, "https://share/id-"+backend.uploads[0], file.Link)
	assert.EqualValues(t, 1, c.files)
	assert.EqualValues(t, 7, c.bytes)
}

func TestArchiveFallsBackToDirectLink(t *testing.T) {
	backend := &fakeBackend{shareErr: errors.New("sharing disabled by admin")}
	o := New(backend, newIndex(t), &counters{}, Config{}, logger.Discard())

	file, err := o.Archive(context.Background(), nil, request("t1", "m1", "payload"))
	require.NoError(t, err)
	assert.Equal(t, models.LinkDirect, file.LinkKind)
	assert.Contains(t, file.Link, "https://direct/")
}

func TestArchiveUploadFailureIsPermanent(t *testing.T) {
	backend := &fakeBackend{uploadErr: errors.New("folder missing")}
	c := &counters{}
	o := New(backend, newIndex(t), c, Config{}, logger.Discard())

	_, err := o.Archive(context.Background(), nil, request("t1", "m1", "payload"))
	require.Error(t, err)
	assert.Equal(t, failure.Permanent, failure.Classify(err))
	assert.Zero(t, c.files)
}

func TestArchiveUploadThrottleKeepsRateLimitKind(t *testing.T) {
	backend := &fakeBackend{uploadErr: &googleapi.Error{Code: 429, Message: "User rate limit exceeded"}}
	o := New(backend, newIndex(t), &counters{}, Config{}, logger.Discard())

	_, err := o.Archive(context.Background(), nil, request("t1", "m1", "payload"))
	assert.Equal(t, failure.RateLimit, failure.Classify(err))
}

func TestArchiveDeduplicatesAcrossItems(t *testing.T) {
	backend := &fakeBackend{}
	c := &counters{}
	o := New(backend, newIndex(t), c, Config{}, logger.Discard())
	ctx := context.Background()

	first, err := o.Archive(ctx, dedup.NewThreadScope(), request("t1", "m1", "same bytes"))
	require.NoError(t, err)
	second, err := o.Archive(ctx, dedup.NewThreadScope(), request("t2", "m2", "same bytes"))
	require.NoError(t, err)

	assert.Len(t, backend.uploads, 1)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Link, second.Link)
	assert.EqualValues(t, 1, c.dups)
	assert.EqualValues(t, 1, c.files)
}

func TestArchiveDryRunMakesNoBackendCalls(t *testing.T) {
	c := &counters{}
	o := New(nil, newIndex(t), c, Config{DryRun: true}, logger.Discard())

	file, err := o.Archive(context.Background(), nil, request("t1", "m1", "payload"))
	require.NoError(t, err)
	assert.Equal(t, models.LinkPlaceholder, file.LinkKind)
	assert.Contains(t, file.Link, DryRunScheme+"m1_")
	assert.EqualValues(t, 1, c.files)
}

func TestArchivePausesAfterBurst(t *testing.T) {
	var pauses []time.Duration
	sleeper := func(_ context.Context, d time.Duration) error {
		pauses = append(pauses, d)
		return nil
	}
	o := New(&fakeBackend{}, newIndex(t), &counters{}, Config{BurstSize: 2, BurstPause: time.Second}, logger.Discard(), WithSleeper(sleeper))

	for i, payload := range []string{"a", "b", "c", "d", "e"} {
		_, err := o.Archive(context.Background(), nil, request("t", "m"+string(rune('0'+i)), payload))
		require.NoError(t, err)
	}

	assert.Equal(t, []time.Duration{time.Second, time.Second}, pauses)
}
