package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/KenjiPcx/magneto/internal/blob"
	"github.com/KenjiPcx/magneto/internal/event"
	"github.com/KenjiPcx/magneto/internal/reconstruct"
	"github.com/KenjiPcx/magneto/internal/store"
)

// SessionStore is the transactional surface the processor needs.
type SessionStore interface {
	MarkSessionProcessed(ctx context.Context, id string) error
	ClaimRecording(ctx context.Context, id string) error
	FinishRecording(ctx context.Context, id string, status store.RecordingStatus) error
	RetryRecording(ctx context.Context, id string) error
	RecordingByID(ctx context.Context, id string) (store.Recording, error)
}

// DerivedStore receives the reconstruction output.
type DerivedStore interface {
	InsertEngagement(ctx context.Context, rows []store.EngagementRow) error
	InsertMetrics(ctx context.Context, row store.MetricsRow) error
}

// Processor executes jobs end to end. One failed session never affects
// the others: every error path settles that recording as failed and
// returns.
type Processor struct {
	sessions SessionStore
	derived  DerivedStore
	blobs    blob.Store
	cfg      reconstruct.Config
	now      func() time.Time
}

func NewProcessor(sessions SessionStore, derived DerivedStore, blobs blob.Store, cfg reconstruct.Config, clock func() time.Time) *Processor {
	if clock == nil {
		clock = time.Now
	}
	return &Processor{
		sessions: sessions,
		derived:  derived,
		blobs:    blobs,
		cfg:      cfg,
		now:      clock,
	}
}

// Process runs one job. For recordings it first takes the processing
// lease; losing the lease is a clean no-op, not an error worth paging
// over.
func (p *Processor) Process(ctx context.Context, job Job) error {
	logger := log.With().
		Str("session_id", job.SessionID).
		Str("document_id", job.DocumentID).
		Logger()

	if job.RecordingID != "" {
		if err := p.sessions.ClaimRecording(ctx, job.RecordingID); err != nil {
			if errors.Is(err, store.ErrNotClaimable) {
				logger.Debug().Str("recording_id", job.RecordingID).Msg("Recording already claimed, skipping")
				return nil
			}
			return fmt.Errorf("claim recording %s: %w", job.RecordingID, err)
		}
	}

	if err := p.reconstruct(ctx, job); err != nil {
		logger.Error().Err(err).Str("recording_id", job.RecordingID).Msg("Session processing failed")
		if job.RecordingID != "" {
			if ferr := p.sessions.FinishRecording(ctx, job.RecordingID, store.StatusFailed); ferr != nil {
				logger.Error().Err(ferr).Msg("Failed to settle recording as failed")
			}
		}
		return err
	}

	if job.RecordingID != "" {
		if err := p.sessions.FinishRecording(ctx, job.RecordingID, store.StatusAnalyzed); err != nil {
			return fmt.Errorf("settle recording %s: %w", job.RecordingID, err)
		}
	}
	logger.Info().Msg("Session processed")
	return nil
}

func (p *Processor) reconstruct(ctx context.Context, job Job) error {
	raw, err := p.blobs.Get(ctx, job.BlobRef)
	if err != nil {
		return fmt.Errorf("fetch blob %s: %w", job.BlobRef, err)
	}

	events, err := event.DecodeStream(raw)
	if err != nil {
		return fmt.Errorf("decode stream: %w", err)
	}

	result := reconstruct.Run(events, p.cfg)
	now := p.now()

	rows := make([]store.EngagementRow, 0, len(result.ParagraphEngagement))
	for _, pe := range result.ParagraphEngagement {
		rows = append(rows, store.EngagementRow{
			DocumentID:   job.DocumentID,
			SessionID:    job.SessionID,
			ParagraphID:  pe.ParagraphID,
			TotalDwellMs: pe.TotalDwellTime,
			ViewCount:    int32(pe.ViewCount),
			HoverMs:      pe.HoverTime,
			ClickCount:   int32(pe.ClickCount),
			ScrollPasses: int32(pe.ScrollPasses),
			ProcessedAt:  now,
		})
	}
	if err := p.derived.InsertEngagement(ctx, rows); err != nil {
		return fmt.Errorf("insert engagement: %w", err)
	}

	err = p.derived.InsertMetrics(ctx, store.MetricsRow{
		DocumentID:    job.DocumentID,
		SessionID:     job.SessionID,
		TotalDuration: result.SessionMetrics.TotalDuration,
		ScrollDepth:   int32(result.SessionMetrics.ScrollDepth),
		ClickCount:    int32(result.SessionMetrics.ClickCount),
		IdleMs:        result.SessionMetrics.IdleTime,
		ActiveMs:      result.SessionMetrics.ActiveTime,
		ProcessedAt:   now,
	})
	if err != nil {
		return fmt.Errorf("insert metrics: %w", err)
	}

	if err := p.sessions.MarkSessionProcessed(ctx, job.SessionID); err != nil {
		return fmt.Errorf("mark session processed: %w", err)
	}
	return nil
}

// Retry re-queues a failed recording and enqueues it again. Only the
// failed state is retryable.
func (p *Processor) Retry(ctx context.Context, recordingID string, scheduler Scheduler) error {
	if err := p.sessions.RetryRecording(ctx, recordingID); err != nil {
		return err
	}
	rec, err := p.sessions.RecordingByID(ctx, recordingID)
	if err != nil {
		return err
	}
	return scheduler.Enqueue(ctx, Job{
		SessionID:   rec.SessionID,
		DocumentID:  rec.DocumentID,
		RecordingID: rec.ID,
		BlobRef:     rec.BlobRef,
	})
}

// Inline is a Scheduler that processes synchronously. Enqueue returns
// the processing result directly.
type Inline struct {
	Processor *Processor
}

func (i Inline) Enqueue(ctx context.Context, job Job) error {
	return i.Processor.Process(ctx, job)
}
