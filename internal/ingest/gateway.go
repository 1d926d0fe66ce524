// Package ingest is the write-side gateway: it validates and enriches
// client payloads, persists sessions and recordings, parks raw streams
// in blob storage and enqueues processing jobs.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/KenjiPcx/magneto/internal/blob"
	"github.com/KenjiPcx/magneto/internal/collector"
	"github.com/KenjiPcx/magneto/internal/pipeline"
	"github.com/KenjiPcx/magneto/internal/store"
)

// ErrInvalidPayload marks client payloads that fail validation. Not
// retryable.
var ErrInvalidPayload = errors.New("ingest: invalid payload")

// SessionStore is the transactional surface the gateway needs.
type SessionStore interface {
	CreateSession(ctx context.Context, s store.Session) error
	FinalizeSession(ctx context.Context, s store.Session) error
	SessionByID(ctx context.Context, id string) (store.Session, error)
	CreateRecording(ctx context.Context, r store.Recording) error
	CompleteRecording(ctx context.Context, sessionID, blobRef string, meta store.RecordingMetadata, now time.Time) (store.Recording, error)
}

// BeginSessionRequest opens a recording-mode session at visit start.
type BeginSessionRequest struct {
	SessionID  string `json:"sessionId"`
	DocumentID string `json:"documentId"`
	BrowserID  string `json:"browserId"`
	UserID     string `json:"userId,omitempty"`
	StartTime  int64  `json:"startTime"`
	UserAgent  string `json:"userAgent"`
	Referrer   string `json:"referrer,omitempty"`

	Viewport collector.Viewport `json:"viewport"`
}

// CompleteRecordingRequest finalizes an uploaded recording.
type CompleteRecordingRequest struct {
	SessionID  string `json:"sessionId"`
	BlobRef    string `json:"blobRef"`
	EndTime    int64  `json:"endTime"`
	DurationMs int64  `json:"duration"`
	EventCount int    `json:"eventCount"`
}

// Gateway implements the ingestion operations.
type Gateway struct {
	sessions  SessionStore
	blobs     blob.Store
	scheduler pipeline.Scheduler
	enricher  *Enricher
	now       func() time.Time
}

func NewGateway(sessions SessionStore, blobs blob.Store, scheduler pipeline.Scheduler, enricher *Enricher, clock func() time.Time) *Gateway {
	if clock == nil {
		clock = time.Now
	}
	return &Gateway{
		sessions:  sessions,
		blobs:     blobs,
		scheduler: scheduler,
		enricher:  enricher,
		now:       clock,
	}
}

// SubmitScrollSession ingests a finished scroll-only session: session
// row, raw samples to blob storage, one processing job. The samples
// travel as canonical event JSON so the processor needs no special
// casing per mode.
func (g *Gateway) SubmitScrollSession(ctx context.Context, sub collector.SessionSummary, clientIP string) (string, error) {
	if err := validateSummary(sub); err != nil {
		return "", err
	}

	enriched := g.enricher.Enrich(sub.UserAgent, sub.Viewport.Width, clientIP)
	end := time.UnixMilli(sub.EndTime)

	err := g.sessions.FinalizeSession(ctx, store.Session{
		ID:             sub.SessionID,
		DocumentID:     sub.DocumentID,
		BrowserID:      sub.BrowserID,
		UserID:         sub.UserID,
		StartTime:      time.UnixMilli(sub.StartTime),
		EndTime:        &end,
		DurationSec:    sub.Duration,
		MaxScrollPct:   sub.MaxScrollPercentage,
		UserAgent:      sub.UserAgent,
		Referrer:       sub.Referrer,
		ViewportWidth:  sub.Viewport.Width,
		ViewportHeight: sub.Viewport.Height,
		DeviceType:     enriched.DeviceType,
		Country:        enriched.Country,
		City:           enriched.City,
	})
	if err != nil {
		return "", fmt.Errorf("persist session: %w", err)
	}

	if len(sub.ScrollEvents) == 0 {
		return sub.SessionID, nil
	}

	target, err := g.blobs.CreateUploadTarget(ctx)
	if err != nil {
		return "", fmt.Errorf("create blob target: %w", err)
	}
	raw, err := json.Marshal(sub.ScrollEvents)
	if err != nil {
		return "", fmt.Errorf("encode samples: %w", err)
	}
	if err := g.blobs.Put(ctx, target.Ref, raw); err != nil {
		return "", fmt.Errorf("store samples: %w", err)
	}

	err = g.scheduler.Enqueue(ctx, pipeline.Job{
		SessionID:  sub.SessionID,
		DocumentID: sub.DocumentID,
		BlobRef:    target.Ref,
	})
	if err != nil {
		return "", fmt.Errorf("enqueue job: %w", err)
	}

	log.Info().
		Str("session_id", sub.SessionID).
		Str("document_id", sub.DocumentID).
		Int("scroll_events", len(sub.ScrollEvents)).
		Msg("Scroll session ingested")
	return sub.SessionID, nil
}

// BeginSession creates the session and its recording row at visit
// start. Replays of the same session id are no-ops.
func (g *Gateway) BeginSession(ctx context.Context, req BeginSessionRequest) error {
	if req.SessionID == "" || req.DocumentID == "" || req.BrowserID == "" {
		return fmt.Errorf("%w: sessionId, documentId and browserId are required", ErrInvalidPayload)
	}

	enriched := g.enricher.Enrich(req.UserAgent, req.Viewport.Width, "")
	now := g.now()
	start := now
	if req.StartTime > 0 {
		start = time.UnixMilli(req.StartTime)
	}

	err := g.sessions.CreateSession(ctx, store.Session{
		ID:             req.SessionID,
		DocumentID:     req.DocumentID,
		BrowserID:      req.BrowserID,
		UserID:         req.UserID,
		StartTime:      start,
		UserAgent:      req.UserAgent,
		Referrer:       req.Referrer,
		ViewportWidth:  req.Viewport.Width,
		ViewportHeight: req.Viewport.Height,
		DeviceType:     enriched.DeviceType,
		HasRecording:   true,
	})
	if err != nil {
		return fmt.Errorf("persist session: %w", err)
	}

	err = g.sessions.CreateRecording(ctx, store.Recording{
		ID:         uuid.NewString(),
		SessionID:  req.SessionID,
		DocumentID: req.DocumentID,
		UserID:     req.UserID,
		Status:     store.StatusRecording,
		Metadata: store.RecordingMetadata{
			UserAgent: req.UserAgent,
			Referrer:  req.Referrer,
			StartTime: start,
		},
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return fmt.Errorf("persist recording: %w", err)
	}
	return nil
}

// CreateUploadTarget mints a blob destination for the recording
// payload.
func (g *Gateway) CreateUploadTarget(ctx context.Context) (blob.UploadTarget, error) {
	return g.blobs.CreateUploadTarget(ctx)
}

// CompleteRecording binds an uploaded payload to its session, moves the
// recording to completed and enqueues processing exactly once. An
// unknown session is the client's error; storage failures propagate so
// the client retries.
func (g *Gateway) CompleteRecording(ctx context.Context, req CompleteRecordingRequest) (string, error) {
	if req.SessionID == "" || req.BlobRef == "" {
		return "", fmt.Errorf("%w: sessionId and blobRef are required", ErrInvalidPayload)
	}

	sess, err := g.sessions.SessionByID(ctx, req.SessionID)
	if err != nil {
		return "", err
	}

	now := g.now()
	end := now
	if req.EndTime > 0 {
		end = time.UnixMilli(req.EndTime)
	}

	rec, err := g.sessions.CompleteRecording(ctx, req.SessionID, req.BlobRef, store.RecordingMetadata{
		UserAgent:  sess.UserAgent,
		Referrer:   sess.Referrer,
		StartTime:  sess.StartTime,
		EndTime:    end,
		DurationMs: req.DurationMs,
		EventCount: req.EventCount,
	}, now)
	if err != nil {
		return "", fmt.Errorf("complete recording: %w", err)
	}

	err = g.scheduler.Enqueue(ctx, pipeline.Job{
		SessionID:   req.SessionID,
		DocumentID:  sess.DocumentID,
		RecordingID: rec.ID,
		BlobRef:     req.BlobRef,
	})
	if err != nil {
		return "", fmt.Errorf("enqueue job: %w", err)
	}

	log.Info().
		Str("session_id", req.SessionID).
		Str("recording_id", rec.ID).
		Int("event_count", req.EventCount).
		Msg("Recording completed")
	return rec.ID, nil
}

func validateSummary(sub collector.SessionSummary) error {
	switch {
	case sub.SessionID == "":
		return fmt.Errorf("%w: sessionId is required", ErrInvalidPayload)
	case sub.DocumentID == "":
		return fmt.Errorf("%w: documentId is required", ErrInvalidPayload)
	case sub.BrowserID == "":
		return fmt.Errorf("%w: browserId is required", ErrInvalidPayload)
	case sub.StartTime <= 0 || sub.EndTime < sub.StartTime:
		return fmt.Errorf("%w: invalid session interval", ErrInvalidPayload)
	case sub.MaxScrollPercentage < 0 || sub.MaxScrollPercentage > 100:
		return fmt.Errorf("%w: maxScrollPercentage out of range", ErrInvalidPayload)
	case sub.Duration < 0:
		return fmt.Errorf("%w: negative duration", ErrInvalidPayload)
	}
	return nil
}
