package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/KenjiPcx/magneto/internal/store"
)

// SessionSource provides stored sessions for aggregation.
type SessionSource interface {
	SessionsByDocument(ctx context.Context, documentID string, since time.Time) ([]store.Session, error)
	SessionsByVisitor(ctx context.Context, browserID string) ([]store.Session, error)
	SessionsSince(ctx context.Context, since time.Time) ([]store.Session, error)
}

// EngagementSource provides reconstructed per-paragraph rows.
type EngagementSource interface {
	EngagementByDocument(ctx context.Context, documentID string, since time.Time) ([]store.EngagementRow, error)
}

// RecordingSource provides recording rows for status reporting.
type RecordingSource interface {
	RecordingsByDocument(ctx context.Context, documentID string) ([]store.Recording, error)
}

// Service answers analytics queries by recomputing over the stores on
// every call, with an optional Redis snapshot cache in front. The cache
// only ever serves copies of computed payloads; it is never the source
// of truth, and cache failures fall through to recomputation.
type Service struct {
	sessions   SessionSource
	engagement EngagementSource
	recordings RecordingSource
	cache      *redis.Client
	ttl        time.Duration
	now        func() time.Time
}

// NewService wires the query service. cache may be nil to disable
// snapshot caching; clock may be nil to use wall time.
func NewService(sessions SessionSource, engagement EngagementSource, recordings RecordingSource, cache *redis.Client, ttl time.Duration, clock func() time.Time) *Service {
	if clock == nil {
		clock = time.Now
	}
	if ttl == 0 {
		ttl = time.Minute
	}
	return &Service{
		sessions:   sessions,
		engagement: engagement,
		recordings: recordings,
		cache:      cache,
		ttl:        ttl,
		now:        clock,
	}
}

// DocumentAnalytics computes the dashboard payload for one document
// over the trailing rangeDays days.
func (s *Service) DocumentAnalytics(ctx context.Context, documentID string, rangeDays int) (DocumentAnalytics, error) {
	key := fmt.Sprintf("analytics:doc:%s:%d", documentID, rangeDays)
	var cached DocumentAnalytics
	if s.fromCache(ctx, key, &cached) {
		return cached, nil
	}

	sessions, err := s.sessions.SessionsByDocument(ctx, documentID, s.cutoff(rangeDays))
	if err != nil {
		return DocumentAnalytics{}, fmt.Errorf("load sessions: %w", err)
	}
	out := ComputeDocumentAnalytics(sessions, s.now())
	s.toCache(ctx, key, out)
	return out, nil
}

// DocumentHeatmap computes the paragraph heatmap for one document over
// the trailing rangeDays days.
func (s *Service) DocumentHeatmap(ctx context.Context, documentID string, rangeDays int) (Heatmap, error) {
	key := fmt.Sprintf("analytics:heatmap:%s:%d", documentID, rangeDays)
	var cached Heatmap
	if s.fromCache(ctx, key, &cached) {
		return cached, nil
	}

	rows, err := s.engagement.EngagementByDocument(ctx, documentID, s.cutoff(rangeDays))
	if err != nil {
		return Heatmap{}, fmt.Errorf("load engagement: %w", err)
	}
	out := ComputeHeatmap(rows)
	s.toCache(ctx, key, out)
	return out, nil
}

// DocumentRecordings reports recording status counts for one document.
func (s *Service) DocumentRecordings(ctx context.Context, documentID string) (RecordingStatusCounts, error) {
	recs, err := s.recordings.RecordingsByDocument(ctx, documentID)
	if err != nil {
		return RecordingStatusCounts{}, fmt.Errorf("load recordings: %w", err)
	}
	return CountRecordingStatuses(recs), nil
}

// Profiles computes visitor profiles across all documents over the
// trailing rangeDays days.
func (s *Service) Profiles(ctx context.Context, rangeDays, minSessions int) ([]VisitorProfile, error) {
	key := fmt.Sprintf("analytics:profiles:%d:%d", rangeDays, minSessions)
	var cached []VisitorProfile
	if s.fromCache(ctx, key, &cached) {
		return cached, nil
	}

	sessions, err := s.sessions.SessionsSince(ctx, s.cutoff(rangeDays))
	if err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}
	out := VisitorProfiles(sessions, minSessions)
	s.toCache(ctx, key, out)
	return out, nil
}

// History computes one visitor's full reading history.
func (s *Service) History(ctx context.Context, browserID string) (VisitorProfile, error) {
	sessions, err := s.sessions.SessionsByVisitor(ctx, browserID)
	if err != nil {
		return VisitorProfile{}, fmt.Errorf("load sessions: %w", err)
	}
	return VisitorHistory(browserID, sessions), nil
}

func (s *Service) cutoff(rangeDays int) time.Time {
	if rangeDays <= 0 {
		rangeDays = 30
	}
	return s.now().AddDate(0, 0, -rangeDays)
}

func (s *Service) fromCache(ctx context.Context, key string, dst any) bool {
	if s.cache == nil {
		return false
	}
	raw, err := s.cache.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Warn().Err(err).Str("key", key).Msg("Analytics cache read failed")
		}
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Analytics cache entry corrupt")
		return false
	}
	return true
}

func (s *Service) toCache(ctx context.Context, key string, v any) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, raw, s.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Analytics cache write failed")
	}
}
