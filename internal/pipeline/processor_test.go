package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KenjiPcx/magneto/internal/blob"
	"github.com/KenjiPcx/magneto/internal/reconstruct"
	"github.com/KenjiPcx/magneto/internal/store"
)

var sampleStream = []byte(`[
	{"timestamp": 1000, "scrollY": 0, "scrollPercentage": 0, "viewportHeight": 800, "documentHeight": 4000},
	{"timestamp": 3000, "scrollY": 1600, "scrollPercentage": 50, "viewportHeight": 800, "documentHeight": 4000}
]`)

type fixture struct {
	mem       *store.Memory
	blobs     *blob.Memory
	processor *Processor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := store.NewMemory()
	blobs := blob.NewMemory()
	processor := NewProcessor(mem, mem, blobs, reconstruct.DefaultConfig(), func() time.Time {
		return time.UnixMilli(1_700_000_000_000)
	})
	return &fixture{mem: mem, blobs: blobs, processor: processor}
}

func (f *fixture) seedRecording(t *testing.T, status store.RecordingStatus, payload []byte) Job {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, f.mem.CreateSession(ctx, store.Session{
		ID:           "sess-1",
		DocumentID:   "doc-1",
		BrowserID:    "b1",
		StartTime:    time.UnixMilli(1000),
		HasRecording: true,
	}))

	ref := "rec-blob"
	if payload != nil {
		require.NoError(t, f.blobs.Put(ctx, ref, payload))
	}
	require.NoError(t, f.mem.CreateRecording(ctx, store.Recording{
		ID:         "rec-1",
		SessionID:  "sess-1",
		DocumentID: "doc-1",
		BlobRef:    ref,
		Status:     status,
	}))

	return Job{
		SessionID:   "sess-1",
		DocumentID:  "doc-1",
		RecordingID: "rec-1",
		BlobRef:     ref,
	}
}

func TestProcess_RecordingEndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := f.seedRecording(t, store.StatusCompleted, sampleStream)

	require.NoError(t, f.processor.Process(ctx, job))

	rec, err := f.mem.RecordingByID(ctx, "rec-1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusAnalyzed, rec.Status)

	sess, err := f.mem.SessionByID(ctx, "sess-1")
	require.NoError(t, err)
	assert.True(t, sess.Processed)

	rows, err := f.mem.EngagementByDocument(ctx, "doc-1", time.Time{})
	require.NoError(t, err)
	assert.NotEmpty(t, rows)

	metrics, err := f.mem.MetricsByDocument(ctx, "doc-1", time.Time{})
	require.NoError(t, err)
	require.Len(t, metrics, 1)
	assert.Equal(t, int32(50), metrics[0].ScrollDepth)
	assert.Equal(t, int64(2000), metrics[0].TotalDuration)
}

func TestProcess_LeaseRejectsSecondClaim(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := f.seedRecording(t, store.StatusCompleted, sampleStream)

	require.NoError(t, f.processor.Process(ctx, job))

	// The recording is analyzed; a redelivered job is a clean no-op.
	require.NoError(t, f.processor.Process(ctx, job))

	metrics, err := f.mem.MetricsByDocument(ctx, "doc-1", time.Time{})
	require.NoError(t, err)
	assert.Len(t, metrics, 1, "derived rows must not be written twice")
}

func TestProcess_MissingBlobFailsRecording(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := f.seedRecording(t, store.StatusCompleted, nil)

	err := f.processor.Process(ctx, job)
	require.Error(t, err)

	rec, rerr := f.mem.RecordingByID(ctx, "rec-1")
	require.NoError(t, rerr)
	assert.Equal(t, store.StatusFailed, rec.Status)
}

func TestProcess_CorruptStreamFailsRecording(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := f.seedRecording(t, store.StatusCompleted, []byte(`{"not": "an array"`))

	require.Error(t, f.processor.Process(ctx, job))

	rec, err := f.mem.RecordingByID(ctx, "rec-1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, rec.Status)
}

func TestProcess_ScrollOnlyJobHasNoLease(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.mem.CreateSession(ctx, store.Session{
		ID:         "sess-2",
		DocumentID: "doc-1",
		BrowserID:  "b1",
		StartTime:  time.UnixMilli(1000),
	}))
	require.NoError(t, f.blobs.Put(ctx, "scroll-blob", sampleStream))

	err := f.processor.Process(ctx, Job{
		SessionID:  "sess-2",
		DocumentID: "doc-1",
		BlobRef:    "scroll-blob",
	})
	require.NoError(t, err)

	sess, err := f.mem.SessionByID(ctx, "sess-2")
	require.NoError(t, err)
	assert.True(t, sess.Processed)
}

func TestRetry_ReprocessesFailedRecording(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := f.seedRecording(t, store.StatusCompleted, nil)

	// First pass fails: the blob is missing.
	require.Error(t, f.processor.Process(ctx, job))

	// Operator uploads the payload and retries.
	require.NoError(t, f.blobs.Put(ctx, job.BlobRef, sampleStream))
	require.NoError(t, f.processor.Retry(ctx, "rec-1", Inline{Processor: f.processor}))

	rec, err := f.mem.RecordingByID(ctx, "rec-1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusAnalyzed, rec.Status)
}

func TestRetry_OnlyFailedIsRetryable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedRecording(t, store.StatusCompleted, sampleStream)

	err := f.processor.Retry(ctx, "rec-1", Inline{Processor: f.processor})
	assert.ErrorIs(t, err, store.ErrNotClaimable)
}
