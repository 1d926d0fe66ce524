package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is an in-process store implementing the same method set as
// Postgres and ClickHouse combined. It backs tests and the inline
// single-binary mode; the lease semantics match the SQL versions.
type Memory struct {
	mu         sync.Mutex
	sessions   map[string]Session
	recordings map[string]Recording // by recording id
	bySession  map[string]string    // session id -> recording id
	engagement []EngagementRow
	metrics    []MetricsRow
}

func NewMemory() *Memory {
	return &Memory{
		sessions:   make(map[string]Session),
		recordings: make(map[string]Recording),
		bySession:  make(map[string]string),
	}
}

func (m *Memory) CreateSession(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; ok {
		return nil
	}
	m.sessions[s.ID] = s
	return nil
}

func (m *Memory) FinalizeSession(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.sessions[s.ID]; ok {
		prev.EndTime = s.EndTime
		prev.DurationSec = s.DurationSec
		prev.MaxScrollPct = s.MaxScrollPct
		prev.DeviceType = s.DeviceType
		prev.Country = s.Country
		prev.City = s.City
		m.sessions[s.ID] = prev
		return nil
	}
	m.sessions[s.ID] = s
	return nil
}

func (m *Memory) SessionByID(_ context.Context, id string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return s, nil
}

func (m *Memory) SessionsByDocument(_ context.Context, documentID string, since time.Time) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Session
	for _, s := range m.sessions {
		if s.DocumentID == documentID && !s.StartTime.Before(since) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	return out, nil
}

func (m *Memory) SessionsByVisitor(_ context.Context, browserID string) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Session
	for _, s := range m.sessions {
		if s.BrowserID == browserID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (m *Memory) SessionsSince(_ context.Context, since time.Time) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Session
	for _, s := range m.sessions {
		if !s.StartTime.Before(since) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	return out, nil
}

func (m *Memory) MarkSessionProcessed(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok && !s.Processed {
		s.Processed = true
		m.sessions[id] = s
	}
	return nil
}

func (m *Memory) CreateRecording(_ context.Context, r Recording) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordings[r.ID] = r
	m.bySession[r.SessionID] = r.ID
	return nil
}

func (m *Memory) CompleteRecording(_ context.Context, sessionID, blobRef string, meta RecordingMetadata, now time.Time) (Recording, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.bySession[sessionID]
	if !ok {
		return Recording{}, ErrSessionNotFound
	}
	r := m.recordings[id]
	if r.Status != StatusRecording {
		return Recording{}, ErrNotClaimable
	}
	r.Status = StatusCompleted
	r.BlobRef = blobRef
	r.Metadata = meta
	r.UpdatedAt = now
	m.recordings[id] = r
	return r, nil
}

func (m *Memory) ClaimRecording(_ context.Context, id string) error {
	return m.transition(id, StatusCompleted, StatusProcessing)
}

func (m *Memory) FinishRecording(_ context.Context, id string, status RecordingStatus) error {
	if status != StatusAnalyzed && status != StatusFailed {
		return ErrNotClaimable
	}
	return m.transition(id, StatusProcessing, status)
}

func (m *Memory) RetryRecording(_ context.Context, id string) error {
	return m.transition(id, StatusFailed, StatusCompleted)
}

func (m *Memory) transition(id string, from, to RecordingStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.recordings[id]
	if !ok || r.Status != from {
		return ErrNotClaimable
	}
	r.Status = to
	r.UpdatedAt = time.Now()
	m.recordings[id] = r
	return nil
}

func (m *Memory) RecordingByID(_ context.Context, id string) (Recording, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.recordings[id]
	if !ok {
		return Recording{}, ErrSessionNotFound
	}
	return r, nil
}

func (m *Memory) RecordingBySession(_ context.Context, sessionID string) (Recording, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.bySession[sessionID]
	if !ok {
		return Recording{}, ErrSessionNotFound
	}
	return m.recordings[id], nil
}

func (m *Memory) RecordingsByDocument(_ context.Context, documentID string) ([]Recording, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Recording
	for _, r := range m.recordings {
		if r.DocumentID == documentID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) InsertEngagement(_ context.Context, rows []EngagementRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.engagement = append(m.engagement, rows...)
	return nil
}

func (m *Memory) InsertMetrics(_ context.Context, row MetricsRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics = append(m.metrics, row)
	return nil
}

func (m *Memory) EngagementByDocument(_ context.Context, documentID string, since time.Time) ([]EngagementRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []EngagementRow
	for _, r := range m.engagement {
		if r.DocumentID == documentID && !r.ProcessedAt.Before(since) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *Memory) MetricsByDocument(_ context.Context, documentID string, since time.Time) ([]MetricsRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []MetricsRow
	for _, r := range m.metrics {
		if r.DocumentID == documentID && !r.ProcessedAt.Before(since) {
			out = append(out, r)
		}
	}
	return out, nil
}
