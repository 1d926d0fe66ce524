package collector

import (
	"errors"
	"math"
	"time"

	"github.com/KenjiPcx/magneto/internal/event"
)

// ErrTrackerStopped is returned by EndSession after the first flush.
var ErrTrackerStopped = errors.New("collector: tracker already stopped")

// DefaultScrollThrottle is the minimum gap between recorded scroll
// samples.
const DefaultScrollThrottle = 100 * time.Millisecond

// DefaultActiveLimit caps active tracking time in scroll-only mode.
const DefaultActiveLimit = 90 * time.Second

// PageContext describes the visit being tracked.
type PageContext struct {
	UserAgent      string
	Referrer       string
	ViewportWidth  int
	ViewportHeight int
}

// Viewport mirrors the submission payload's viewport object.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// SessionSummary is the flush payload for a scroll-only session. Field
// names are the wire contract with the ingestion gateway.
type SessionSummary struct {
	SessionID           string               `json:"sessionId"`
	DocumentID          string               `json:"documentId"`
	BrowserID           string               `json:"browserId"`
	UserID              string               `json:"userId,omitempty"`
	StartTime           int64                `json:"startTime"`
	EndTime             int64                `json:"endTime"`
	Duration            int64                `json:"duration"` // active seconds
	MaxScrollPercentage int                  `json:"maxScrollPercentage"`
	UserAgent           string               `json:"userAgent"`
	Referrer            string               `json:"referrer,omitempty"`
	Viewport            Viewport             `json:"viewport"`
	ScrollEvents        []event.ScrollSample `json:"scrollEvents"`
}

// TrackerConfig tunes a tracker. Zero values take the defaults.
type TrackerConfig struct {
	ScrollThrottle time.Duration
	ActiveLimit    time.Duration
	Clock          func() time.Time
}

func (c TrackerConfig) withDefaults() TrackerConfig {
	if c.ScrollThrottle == 0 {
		c.ScrollThrottle = DefaultScrollThrottle
	}
	if c.ActiveLimit == 0 {
		c.ActiveLimit = DefaultActiveLimit
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return c
}

// Tracker accumulates one session's scroll samples and visibility-aware
// active time. It is single-goroutine by design, mirroring the
// event-driven client timeline; independent sessions get independent
// trackers.
type Tracker struct {
	cfg TrackerConfig

	sessionID  string
	documentID string
	visitor    VisitorIdentity
	page       PageContext

	startTime      time.Time
	pausedTotal    time.Duration
	pauseStart     time.Time // zero when visible
	lastSampleAt   time.Time
	maxScrollPct   int
	samples        []event.ScrollSample
	stopped        bool
	limitExhausted bool
}

// BeginSession mints a session id and starts tracking immediately. The
// tab is assumed visible; call OnVisibilityChange(false) first if not.
func BeginSession(documentID string, visitor VisitorIdentity, page PageContext, cfg TrackerConfig) *Tracker {
	cfg = cfg.withDefaults()
	return &Tracker{
		cfg:        cfg,
		sessionID:  mintID("session", cfg.Clock),
		documentID: documentID,
		visitor:    visitor,
		page:       page,
		startTime:  cfg.Clock(),
	}
}

// SessionID returns the minted session id.
func (t *Tracker) SessionID() string { return t.sessionID }

// ScrollPercentage computes how far down the page a scroll position is,
// clamped to [0,100]. A document that fits entirely in the viewport
// reads as 100: the reader has seen all of it.
func ScrollPercentage(scrollY, viewportHeight, documentHeight float64) int {
	scrollable := documentHeight - viewportHeight
	if scrollable <= 0 {
		return 100
	}
	pct := int(math.Round(scrollY / scrollable * 100))
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// OnScroll records a throttled scroll sample. Samples are dropped while
// the tab is hidden, after the tracker stopped, and inside the throttle
// window.
func (t *Tracker) OnScroll(scrollY, viewportHeight, documentHeight float64) {
	if t.stopped || t.hidden() {
		return
	}
	if t.expired() {
		t.limitExhausted = true
		return
	}

	now := t.cfg.Clock()
	if !t.lastSampleAt.IsZero() && now.Sub(t.lastSampleAt) < t.cfg.ScrollThrottle {
		return
	}
	t.lastSampleAt = now

	pct := ScrollPercentage(scrollY, viewportHeight, documentHeight)
	if pct > t.maxScrollPct {
		t.maxScrollPct = pct
	}
	t.samples = append(t.samples, event.ScrollSample{
		Timestamp:        now.UnixMilli(),
		ScrollY:          scrollY,
		ScrollPercentage: float64(pct),
		ViewportHeight:   viewportHeight,
		DocumentHeight:   documentHeight,
	})
}

// OnVisibilityChange opens or closes a pause interval. Time while the
// tab is hidden never counts as active.
func (t *Tracker) OnVisibilityChange(visible bool) {
	if t.stopped {
		return
	}
	now := t.cfg.Clock()
	if visible {
		if !t.pauseStart.IsZero() {
			t.pausedTotal += now.Sub(t.pauseStart)
			t.pauseStart = time.Time{}
		}
	} else if t.pauseStart.IsZero() {
		t.pauseStart = now
	}
}

func (t *Tracker) hidden() bool { return !t.pauseStart.IsZero() }

// ActiveTime returns visible wall-clock time so far, capped at the
// configured ceiling.
func (t *Tracker) ActiveTime() time.Duration {
	now := t.cfg.Clock()
	elapsed := now.Sub(t.startTime) - t.pausedTotal
	if t.hidden() {
		elapsed -= now.Sub(t.pauseStart)
	}
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed > t.cfg.ActiveLimit {
		return t.cfg.ActiveLimit
	}
	return elapsed
}

func (t *Tracker) expired() bool {
	return t.ActiveTime() >= t.cfg.ActiveLimit
}

// Expired reports whether the active-time ceiling has been reached; the
// caller should flush via EndSession. The ceiling is cooperative: the
// tracker stops itself, nothing cancels it from outside.
func (t *Tracker) Expired() bool {
	return !t.stopped && t.expired()
}

// EndSession flushes exactly once, whether triggered by explicit stop,
// page unload, or the active-time ceiling. Subsequent calls return
// ErrTrackerStopped so a summary is never double-submitted.
func (t *Tracker) EndSession() (SessionSummary, error) {
	if t.stopped {
		return SessionSummary{}, ErrTrackerStopped
	}
	t.stopped = true

	active := t.ActiveTime()
	now := t.cfg.Clock()

	return SessionSummary{
		SessionID:           t.sessionID,
		DocumentID:          t.documentID,
		BrowserID:           t.visitor.BrowserID,
		UserID:              t.visitor.UserID,
		StartTime:           t.startTime.UnixMilli(),
		EndTime:             now.UnixMilli(),
		Duration:            int64(math.Round(active.Seconds())),
		MaxScrollPercentage: t.maxScrollPct,
		UserAgent:           t.page.UserAgent,
		Referrer:            t.page.Referrer,
		Viewport:            Viewport{Width: t.page.ViewportWidth, Height: t.page.ViewportHeight},
		ScrollEvents:        t.samples,
	}, nil
}
