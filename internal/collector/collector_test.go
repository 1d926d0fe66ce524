package collector

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KenjiPcx/magneto/internal/event"
)

// fakeClock is a manually advanced clock for deterministic trackers.
type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestIdentify_MintsAndPersists(t *testing.T) {
	storage := MemoryStorage{}
	clock := newFakeClock()

	first := Identify(storage, clock.Now)
	require.NotEmpty(t, first.BrowserID)
	assert.True(t, strings.HasPrefix(first.BrowserID, "browser_"))

	parts := strings.Split(first.BrowserID, "_")
	require.Len(t, parts, 3)
	assert.Len(t, parts[2], 9)

	// Same storage returns the same id, even later.
	clock.Advance(time.Hour)
	second := Identify(storage, clock.Now)
	assert.Equal(t, first.BrowserID, second.BrowserID)
}

func TestIdentify_WithUser(t *testing.T) {
	v := Identify(MemoryStorage{}, nil).WithUser("user-42")
	assert.Equal(t, "user-42", v.UserID)
}

func TestScrollPercentage(t *testing.T) {
	assert.Equal(t, 0, ScrollPercentage(0, 800, 4000))
	assert.Equal(t, 50, ScrollPercentage(1600, 800, 4000))
	assert.Equal(t, 100, ScrollPercentage(3200, 800, 4000))
	assert.Equal(t, 100, ScrollPercentage(9999, 800, 4000))

	// A document that fits the viewport has been fully seen.
	assert.Equal(t, 100, ScrollPercentage(0, 800, 600))
	assert.Equal(t, 100, ScrollPercentage(0, 800, 800))
}

func newTestTracker(clock *fakeClock) *Tracker {
	return BeginSession("doc-1",
		VisitorIdentity{BrowserID: "browser_1_abc"},
		PageContext{UserAgent: "test-agent", ViewportWidth: 1280, ViewportHeight: 800},
		TrackerConfig{Clock: clock.Now},
	)
}

func TestTracker_ThrottlesScrollSamples(t *testing.T) {
	clock := newFakeClock()
	tr := newTestTracker(clock)

	tr.OnScroll(0, 800, 4000)
	clock.Advance(50 * time.Millisecond) // inside throttle window
	tr.OnScroll(400, 800, 4000)
	clock.Advance(100 * time.Millisecond)
	tr.OnScroll(800, 800, 4000)

	summary, err := tr.EndSession()
	require.NoError(t, err)
	assert.Len(t, summary.ScrollEvents, 2)
	assert.Equal(t, 25, summary.MaxScrollPercentage)
}

func TestTracker_DropsSamplesWhileHidden(t *testing.T) {
	clock := newFakeClock()
	tr := newTestTracker(clock)

	tr.OnScroll(0, 800, 4000)
	tr.OnVisibilityChange(false)
	clock.Advance(time.Second)
	tr.OnScroll(1600, 800, 4000)
	tr.OnVisibilityChange(true)

	summary, err := tr.EndSession()
	require.NoError(t, err)
	assert.Len(t, summary.ScrollEvents, 1)
	assert.Equal(t, 0, summary.MaxScrollPercentage)
}

func TestTracker_ActiveTimeExcludesHidden(t *testing.T) {
	clock := newFakeClock()
	tr := newTestTracker(clock)

	clock.Advance(10 * time.Second)
	tr.OnVisibilityChange(false)
	clock.Advance(30 * time.Second)
	tr.OnVisibilityChange(true)
	clock.Advance(5 * time.Second)

	assert.Equal(t, 15*time.Second, tr.ActiveTime())

	summary, err := tr.EndSession()
	require.NoError(t, err)
	assert.Equal(t, int64(15), summary.Duration)
}

func TestTracker_ActiveTimeCeiling(t *testing.T) {
	clock := newFakeClock()
	tr := newTestTracker(clock)

	clock.Advance(2 * time.Minute)
	assert.Equal(t, DefaultActiveLimit, tr.ActiveTime())
	assert.True(t, tr.Expired())

	// Samples past the ceiling are dropped.
	tr.OnScroll(100, 800, 4000)
	summary, err := tr.EndSession()
	require.NoError(t, err)
	assert.Empty(t, summary.ScrollEvents)
	assert.Equal(t, int64(90), summary.Duration)
}

func TestTracker_EndSessionIdempotent(t *testing.T) {
	clock := newFakeClock()
	tr := newTestTracker(clock)

	_, err := tr.EndSession()
	require.NoError(t, err)

	_, err = tr.EndSession()
	assert.ErrorIs(t, err, ErrTrackerStopped)
}

func TestTracker_SummaryWireFields(t *testing.T) {
	clock := newFakeClock()
	tr := BeginSession("doc-7",
		VisitorIdentity{BrowserID: "browser_1_abc", UserID: "u-1"},
		PageContext{UserAgent: "agent", Referrer: "https://ref.example", ViewportWidth: 390, ViewportHeight: 844},
		TrackerConfig{Clock: clock.Now},
	)
	start := clock.Now().UnixMilli()
	clock.Advance(20 * time.Second)

	summary, err := tr.EndSession()
	require.NoError(t, err)

	assert.Equal(t, tr.SessionID(), summary.SessionID)
	assert.True(t, strings.HasPrefix(summary.SessionID, "session_"))
	assert.Equal(t, "doc-7", summary.DocumentID)
	assert.Equal(t, "browser_1_abc", summary.BrowserID)
	assert.Equal(t, "u-1", summary.UserID)
	assert.Equal(t, start, summary.StartTime)
	assert.Equal(t, start+20_000, summary.EndTime)
	assert.Equal(t, Viewport{Width: 390, Height: 844}, summary.Viewport)
}

type stubSource struct {
	fail bool
	emit func(event.Event)
	stop bool
}

func (s *stubSource) Start(emit func(event.Event)) (func(), error) {
	if s.fail {
		return nil, assert.AnError
	}
	s.emit = emit
	return func() { s.stop = true }, nil
}

func TestRecorder_CapturesAndStops(t *testing.T) {
	clock := newFakeClock()
	rec := NewRecorder("session_1_abc", clock.Now, 0)
	src := &stubSource{}

	require.NoError(t, rec.Start(src))
	assert.True(t, rec.Recording())

	src.emit(event.Event{Kind: event.Scroll, Timestamp: clock.Now().UnixMilli()})
	clock.Advance(3 * time.Second)
	src.emit(event.Event{Kind: event.MouseMove, Timestamp: clock.Now().UnixMilli()})

	recording, err := rec.Stop()
	require.NoError(t, err)
	assert.True(t, src.stop, "capture source should be stopped")
	assert.Equal(t, "session_1_abc", recording.SessionID)
	assert.Equal(t, 2, recording.EventCount)
	assert.Equal(t, int64(3000), recording.DurationMs)

	// Events after stop are dropped.
	src.emit(event.Event{Kind: event.Scroll})
	assert.Len(t, rec.events, 2)

	_, err = rec.Stop()
	assert.ErrorIs(t, err, ErrTrackerStopped)
}

func TestRecorder_SourceFailureDegrades(t *testing.T) {
	rec := NewRecorder("session_1_abc", nil, 0)
	err := rec.Start(&stubSource{fail: true})
	assert.ErrorIs(t, err, ErrRecorderUnavailable)
	assert.False(t, rec.Recording())

	// A failed recorder stays down.
	require.NoError(t, rec.Start(&stubSource{}))
	assert.False(t, rec.Recording())
}

func TestRecorder_Expires(t *testing.T) {
	clock := newFakeClock()
	rec := NewRecorder("session_1_abc", clock.Now, 0)
	require.NoError(t, rec.Start(&stubSource{}))

	clock.Advance(DefaultRecordLimit - time.Second)
	assert.False(t, rec.Expired())
	clock.Advance(2 * time.Second)
	assert.True(t, rec.Expired())
}
