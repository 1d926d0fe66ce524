package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusTransitions(t *testing.T) {
	assert.True(t, StatusRecording.CanTransition(StatusCompleted))
	assert.True(t, StatusCompleted.CanTransition(StatusProcessing))
	assert.True(t, StatusProcessing.CanTransition(StatusAnalyzed))
	assert.True(t, StatusProcessing.CanTransition(StatusFailed))
	assert.True(t, StatusFailed.CanTransition(StatusCompleted))

	assert.False(t, StatusCompleted.CanTransition(StatusAnalyzed))
	assert.False(t, StatusAnalyzed.CanTransition(StatusProcessing))
	assert.False(t, StatusRecording.CanTransition(StatusProcessing))

	assert.True(t, StatusAnalyzed.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.False(t, StatusProcessing.Terminal())
}

func seedRecording(t *testing.T, m *Memory, status RecordingStatus) {
	t.Helper()
	require.NoError(t, m.CreateRecording(context.Background(), Recording{
		ID:        "rec-1",
		SessionID: "sess-1",
		Status:    status,
	}))
}

func TestMemory_ClaimLease(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	seedRecording(t, m, StatusCompleted)

	require.NoError(t, m.ClaimRecording(ctx, "rec-1"))

	// Second claim loses.
	assert.ErrorIs(t, m.ClaimRecording(ctx, "rec-1"), ErrNotClaimable)

	require.NoError(t, m.FinishRecording(ctx, "rec-1", StatusAnalyzed))
	rec, err := m.RecordingByID(ctx, "rec-1")
	require.NoError(t, err)
	assert.Equal(t, StatusAnalyzed, rec.Status)
}

func TestMemory_FinishRequiresProcessing(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	seedRecording(t, m, StatusCompleted)

	assert.ErrorIs(t, m.FinishRecording(ctx, "rec-1", StatusAnalyzed), ErrNotClaimable)
	assert.ErrorIs(t, m.FinishRecording(ctx, "rec-1", StatusCompleted), ErrNotClaimable)
}

func TestMemory_RetryOnlyFromFailed(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	seedRecording(t, m, StatusFailed)

	require.NoError(t, m.RetryRecording(ctx, "rec-1"))
	rec, err := m.RecordingByID(ctx, "rec-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, rec.Status)

	assert.ErrorIs(t, m.RetryRecording(ctx, "rec-1"), ErrNotClaimable)
}

func TestMemory_CompleteRecording(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Now()

	_, err := m.CompleteRecording(ctx, "sess-1", "ref", RecordingMetadata{}, now)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	seedRecording(t, m, StatusRecording)
	rec, err := m.CompleteRecording(ctx, "sess-1", "ref", RecordingMetadata{EventCount: 7}, now)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, rec.Status)
	assert.Equal(t, "ref", rec.BlobRef)
	assert.Equal(t, 7, rec.Metadata.EventCount)

	_, err = m.CompleteRecording(ctx, "sess-1", "ref", RecordingMetadata{}, now)
	assert.ErrorIs(t, err, ErrNotClaimable)
}

func TestMemory_SessionQueries(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	base := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)

	for i, s := range []Session{
		{ID: "s1", DocumentID: "doc-1", BrowserID: "b1", StartTime: base},
		{ID: "s2", DocumentID: "doc-1", BrowserID: "b2", StartTime: base.AddDate(0, 0, 2)},
		{ID: "s3", DocumentID: "doc-2", BrowserID: "b1", StartTime: base.AddDate(0, 0, 4)},
	} {
		require.NoError(t, m.CreateSession(ctx, s), "seed %d", i)
	}

	byDoc, err := m.SessionsByDocument(ctx, "doc-1", base.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, byDoc, 1)
	assert.Equal(t, "s2", byDoc[0].ID)

	byVisitor, err := m.SessionsByVisitor(ctx, "b1")
	require.NoError(t, err)
	require.Len(t, byVisitor, 2)
	assert.Equal(t, "s1", byVisitor[0].ID, "visitor sessions come oldest first")

	all, err := m.SessionsSince(ctx, base)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestMemory_CreateSessionIdempotent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.CreateSession(ctx, Session{ID: "s1", DocumentID: "doc-1", MaxScrollPct: 10}))
	require.NoError(t, m.CreateSession(ctx, Session{ID: "s1", DocumentID: "doc-1", MaxScrollPct: 99}))

	s, err := m.SessionByID(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 10, s.MaxScrollPct, "replayed create must not overwrite")
}

func TestMemory_MarkSessionProcessedOnce(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.CreateSession(ctx, Session{ID: "s1"}))

	require.NoError(t, m.MarkSessionProcessed(ctx, "s1"))
	require.NoError(t, m.MarkSessionProcessed(ctx, "s1"))

	s, err := m.SessionByID(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, s.Processed)
}
