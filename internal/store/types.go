package store

import (
	"errors"
	"time"
)

// ErrSessionNotFound reports a finalize or lookup against a session id
// that was never created. Client error, not retryable.
var ErrSessionNotFound = errors.New("store: session not found")

// ErrNotClaimable reports a status transition attempted from the wrong
// state, including a second concurrent claim of the same recording.
var ErrNotClaimable = errors.New("store: recording not claimable")

// RecordingStatus is the processing state machine attached to a
// session's raw recording.
type RecordingStatus string

const (
	StatusRecording  RecordingStatus = "recording"
	StatusCompleted  RecordingStatus = "completed"
	StatusProcessing RecordingStatus = "processing"
	StatusAnalyzed   RecordingStatus = "analyzed"
	StatusFailed     RecordingStatus = "failed"
)

// CanTransition reports whether to is a legal next state. The only
// re-entry is failed -> completed, used by explicit retry.
func (s RecordingStatus) CanTransition(to RecordingStatus) bool {
	switch s {
	case StatusRecording:
		return to == StatusCompleted || to == StatusFailed
	case StatusCompleted:
		return to == StatusProcessing
	case StatusProcessing:
		return to == StatusAnalyzed || to == StatusFailed
	case StatusFailed:
		return to == StatusCompleted
	}
	return false
}

// Terminal reports whether the status ends the pipeline (absent an
// explicit retry).
func (s RecordingStatus) Terminal() bool {
	return s == StatusAnalyzed || s == StatusFailed
}

// Session is one visit to one document by one visitor.
type Session struct {
	ID             string
	DocumentID     string
	BrowserID      string
	UserID         string
	StartTime      time.Time
	EndTime        *time.Time
	DurationSec    int64 // active seconds reported by the collector
	MaxScrollPct   int
	UserAgent      string
	Referrer       string
	ViewportWidth  int
	ViewportHeight int
	DeviceType     string
	Country        string
	City           string
	HasRecording   bool
	Processed      bool
}

// RecordingMetadata travels with a recording row.
type RecordingMetadata struct {
	UserAgent  string
	Referrer   string
	StartTime  time.Time
	EndTime    time.Time
	DurationMs int64
	EventCount int
}

// Recording is a session's raw interaction capture plus its pipeline
// state.
type Recording struct {
	ID         string
	SessionID  string
	DocumentID string
	UserID     string
	BlobRef    string
	Status     RecordingStatus
	Metadata   RecordingMetadata
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// EngagementRow is one session's derived attention record for one
// paragraph, written once by reconstruction and append-only thereafter.
type EngagementRow struct {
	DocumentID   string
	SessionID    string
	ParagraphID  string
	TotalDwellMs int64
	ViewCount    int32
	HoverMs      int64
	ClickCount   int32
	ScrollPasses int32
	ProcessedAt  time.Time
}

// MetricsRow is one session's derived session-level metrics.
type MetricsRow struct {
	DocumentID    string
	SessionID     string
	TotalDuration int64 // ms
	ScrollDepth   int32
	ClickCount    int32
	IdleMs        int64
	ActiveMs      int64
	ProcessedAt   time.Time
}
