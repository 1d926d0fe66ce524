package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KenjiPcx/magneto/internal/store"
)

func TestEngagementScore(t *testing.T) {
	assert.Equal(t, 0, EngagementScore(0, 0))
	// 50*0.6 + (120/60)*4 = 38
	assert.Equal(t, 38, EngagementScore(50, 120))
	// Duration saturates at ten minutes.
	assert.Equal(t, 70, EngagementScore(50, 600))
	assert.Equal(t, 70, EngagementScore(50, 6000))
	// Capped at 100.
	assert.Equal(t, 100, EngagementScore(100, 100_000))
}

func TestEngagementScore_Monotonic(t *testing.T) {
	prev := -1
	for scroll := 0; scroll <= 100; scroll += 10 {
		score := EngagementScore(float64(scroll), 60)
		assert.GreaterOrEqual(t, score, prev)
		prev = score
	}
	prev = -1
	for dur := 0; dur <= 1200; dur += 60 {
		score := EngagementScore(50, float64(dur))
		assert.GreaterOrEqual(t, score, prev)
		prev = score
	}
}

func TestReadingPattern(t *testing.T) {
	assert.Equal(t, PatternBounce, ReadingPattern(10, 5))
	assert.Equal(t, PatternSkimming, ReadingPattern(90, 3))  // 30 pct/s
	assert.Equal(t, PatternCareful, ReadingPattern(80, 120)) // 0.67 pct/s
	assert.Equal(t, PatternNormal, ReadingPattern(50, 10))   // 5 pct/s

	// A 5-second full scroll is skimming, not a bounce.
	assert.Equal(t, PatternSkimming, ReadingPattern(100, 4))
}

func sessionAt(docID string, scrollPct int, durationSec int64, start time.Time) store.Session {
	return store.Session{
		ID:           "s-" + start.Format("150405"),
		DocumentID:   docID,
		BrowserID:    "b1",
		StartTime:    start,
		DurationSec:  durationSec,
		MaxScrollPct: scrollPct,
	}
}

func TestInterestLevel(t *testing.T) {
	now := time.Now()

	assert.Equal(t, InterestLow, InterestLevel(nil))
	assert.Equal(t, InterestLow, InterestLevel([]store.Session{
		sessionAt("d", 30, 20, now),
	}))

	// One deep read is High regardless of the rest.
	assert.Equal(t, InterestHigh, InterestLevel([]store.Session{
		sessionAt("d", 30, 20, now),
		sessionAt("d", 80, 180, now),
	}))

	// Returning visitor without a deep read is Medium.
	assert.Equal(t, InterestMedium, InterestLevel([]store.Session{
		sessionAt("d", 30, 20, now),
		sessionAt("d", 40, 30, now),
	}))

	// Single visit with strong scroll depth is Medium.
	assert.Equal(t, InterestMedium, InterestLevel([]store.Session{
		sessionAt("d", 60, 30, now),
	}))
}

func TestEngagementTrend(t *testing.T) {
	now := time.Now()

	assert.Equal(t, TrendStable, EngagementTrend(nil))
	assert.Equal(t, TrendStable, EngagementTrend([]store.Session{
		sessionAt("d", 50, 60, now),
	}))

	improving := []store.Session{
		sessionAt("d", 20, 30, now.Add(-3*time.Hour)),
		sessionAt("d", 25, 30, now.Add(-2*time.Hour)),
		sessionAt("d", 70, 60, now.Add(-time.Hour)),
		sessionAt("d", 80, 60, now),
	}
	assert.Equal(t, TrendImproving, EngagementTrend(improving))

	declining := []store.Session{
		sessionAt("d", 80, 60, now.Add(-3*time.Hour)),
		sessionAt("d", 70, 60, now.Add(-2*time.Hour)),
		sessionAt("d", 20, 30, now.Add(-time.Hour)),
		sessionAt("d", 25, 30, now),
	}
	assert.Equal(t, TrendDeclining, EngagementTrend(declining))

	// Order in the slice must not matter.
	shuffled := []store.Session{improving[2], improving[0], improving[3], improving[1]}
	assert.Equal(t, TrendImproving, EngagementTrend(shuffled))
}

func TestActivityPattern(t *testing.T) {
	day := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)
	at := func(hour int) store.Session {
		return sessionAt("d", 50, 60, day.Add(time.Duration(hour)*time.Hour))
	}

	assert.Equal(t, ActivityBusinessHours, ActivityPattern([]store.Session{at(10), at(14)}))
	assert.Equal(t, ActivityEvening, ActivityPattern([]store.Session{at(19), at(20), at(10)}))
	assert.Equal(t, ActivityEarlyMorning, ActivityPattern([]store.Session{at(6)}))
	assert.Equal(t, ActivityLateNight, ActivityPattern([]store.Session{at(2)}))
}

func TestVisitorProfiles(t *testing.T) {
	now := time.Now()
	mk := func(browserID, docID string, scrollPct int, durationSec int64, start time.Time) store.Session {
		s := sessionAt(docID, scrollPct, durationSec, start)
		s.BrowserID = browserID
		return s
	}

	sessions := []store.Session{
		mk("b1", "doc-1", 80, 200, now.Add(-2*time.Hour)),
		mk("b1", "doc-2", 90, 300, now.Add(-time.Hour)),
		mk("b2", "doc-1", 20, 10, now),
	}

	profiles := VisitorProfiles(sessions, 1)
	require.Len(t, profiles, 2)

	// Strongest engagement first.
	top := profiles[0]
	assert.Equal(t, "b1", top.BrowserID)
	assert.Equal(t, 2, top.TotalSessions)
	assert.Equal(t, 2, top.DocumentsViewed)
	assert.Equal(t, InterestHigh, top.InterestLevel)
	assert.Greater(t, top.EngagementScore, profiles[1].EngagementScore)
	require.Len(t, top.Documents, 2)
	// Most recently visited document first.
	assert.Equal(t, "doc-2", top.Documents[0].DocumentID)

	// minSessions filters drive-by visitors.
	filtered := VisitorProfiles(sessions, 2)
	require.Len(t, filtered, 1)
	assert.Equal(t, "b1", filtered[0].BrowserID)
}

func TestVisitorHistory(t *testing.T) {
	now := time.Now()
	sessions := []store.Session{
		sessionAt("doc-1", 80, 200, now.Add(-48*time.Hour)),
		sessionAt("doc-1", 85, 150, now.Add(-24*time.Hour)),
		sessionAt("doc-1", 20, 15, now),
	}
	for i := range sessions {
		sessions[i].BrowserID = "b1"
	}

	h := VisitorHistory("b1", sessions)
	assert.Equal(t, 3, h.TotalSessions)
	require.Len(t, h.Documents, 1)

	doc := h.Documents[0]
	assert.Equal(t, 2, doc.DeepReads)     // scroll > 70
	assert.Equal(t, 2, doc.ThoroughReads) // deep and > 2 minutes
	assert.Equal(t, 1, doc.QuickScans)    // under 30s
	assert.True(t, doc.ReturningReader)
	assert.Equal(t, sessions[0].StartTime.UnixMilli(), doc.FirstVisit)
	assert.Equal(t, sessions[2].StartTime.UnixMilli(), doc.LastVisit)
}

func TestVisitorHistory_UnknownVisitor(t *testing.T) {
	h := VisitorHistory("ghost", nil)
	assert.Equal(t, "ghost", h.BrowserID)
	assert.Zero(t, h.TotalSessions)
	assert.Equal(t, InterestLow, h.InterestLevel)
	assert.Equal(t, TrendStable, h.EngagementTrend)
	assert.Empty(t, h.Documents)
}

func TestCountRecordingStatuses(t *testing.T) {
	recs := []store.Recording{
		{Status: store.StatusRecording},
		{Status: store.StatusCompleted},
		{Status: store.StatusProcessing},
		{Status: store.StatusAnalyzed},
		{Status: store.StatusAnalyzed},
		{Status: store.StatusFailed},
	}

	c := CountRecordingStatuses(recs)
	assert.Equal(t, 6, c.Total)
	assert.Equal(t, 1, c.Recording)
	assert.Equal(t, 1, c.Completed)
	assert.Equal(t, 1, c.Processing)
	assert.Equal(t, 2, c.Analyzed)
	assert.Equal(t, 1, c.Failed)
}
