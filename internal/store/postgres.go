package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/KenjiPcx/magneto/internal/config"
)

// Postgres holds the transactional tables: sessions and recordings.
// Status transitions on recordings are single guarded UPDATEs, so two
// workers racing for the same recording resolve at the database without
// any external lock.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, cfg config.PostgresConfig) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Postgres{pool: pool}, nil
}

// CreateSession inserts a new session row. Replaying the same session
// id is a no-op, so client retries stay idempotent.
func (p *Postgres) CreateSession(ctx context.Context, s Session) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO sessions (
			id, document_id, browser_id, user_id,
			start_time, end_time, duration_sec, max_scroll_pct,
			user_agent, referrer, viewport_width, viewport_height,
			device_type, country, city, has_recording, processed
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (id) DO NOTHING
	`,
		s.ID, s.DocumentID, s.BrowserID, nullable(s.UserID),
		s.StartTime, s.EndTime, s.DurationSec, s.MaxScrollPct,
		s.UserAgent, s.Referrer, s.ViewportWidth, s.ViewportHeight,
		s.DeviceType, s.Country, s.City, s.HasRecording, s.Processed,
	)
	return err
}

// FinalizeSession upserts a completed session. Used by the scroll-only
// submission path, where create and finalize arrive as one payload.
func (p *Postgres) FinalizeSession(ctx context.Context, s Session) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO sessions (
			id, document_id, browser_id, user_id,
			start_time, end_time, duration_sec, max_scroll_pct,
			user_agent, referrer, viewport_width, viewport_height,
			device_type, country, city, has_recording, processed
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (id) DO UPDATE SET
			end_time = EXCLUDED.end_time,
			duration_sec = EXCLUDED.duration_sec,
			max_scroll_pct = EXCLUDED.max_scroll_pct,
			device_type = EXCLUDED.device_type,
			country = EXCLUDED.country,
			city = EXCLUDED.city
	`,
		s.ID, s.DocumentID, s.BrowserID, nullable(s.UserID),
		s.StartTime, s.EndTime, s.DurationSec, s.MaxScrollPct,
		s.UserAgent, s.Referrer, s.ViewportWidth, s.ViewportHeight,
		s.DeviceType, s.Country, s.City, s.HasRecording, s.Processed,
	)
	return err
}

// SessionByID fetches one session; ErrSessionNotFound when absent.
func (p *Postgres) SessionByID(ctx context.Context, id string) (Session, error) {
	row := p.pool.QueryRow(ctx, selectSessions+` WHERE id = $1`, id)
	s, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, ErrSessionNotFound
	}
	return s, err
}

// SessionsByDocument returns a document's sessions since the cutoff,
// newest first.
func (p *Postgres) SessionsByDocument(ctx context.Context, documentID string, since time.Time) ([]Session, error) {
	rows, err := p.pool.Query(ctx,
		selectSessions+` WHERE document_id = $1 AND start_time >= $2 ORDER BY start_time DESC`,
		documentID, since)
	if err != nil {
		return nil, err
	}
	return scanSessions(rows)
}

// SessionsByVisitor returns every session for one browser id, oldest
// first for trend analysis.
func (p *Postgres) SessionsByVisitor(ctx context.Context, browserID string) ([]Session, error) {
	rows, err := p.pool.Query(ctx,
		selectSessions+` WHERE browser_id = $1 ORDER BY start_time ASC`,
		browserID)
	if err != nil {
		return nil, err
	}
	return scanSessions(rows)
}

// SessionsSince returns all sessions since the cutoff across documents.
func (p *Postgres) SessionsSince(ctx context.Context, since time.Time) ([]Session, error) {
	rows, err := p.pool.Query(ctx,
		selectSessions+` WHERE start_time >= $1 ORDER BY start_time DESC`,
		since)
	if err != nil {
		return nil, err
	}
	return scanSessions(rows)
}

// MarkSessionProcessed flips the processed flag once. Re-marking an
// already processed session is a no-op.
func (p *Postgres) MarkSessionProcessed(ctx context.Context, id string) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE sessions SET processed = TRUE WHERE id = $1 AND processed = FALSE`, id)
	return err
}

// CreateRecording inserts the recording row minted at session begin.
func (p *Postgres) CreateRecording(ctx context.Context, r Recording) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO recordings (
			id, session_id, document_id, user_id, blob_ref, status,
			user_agent, referrer, start_time, end_time, duration_ms, event_count,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`,
		r.ID, r.SessionID, r.DocumentID, nullable(r.UserID), r.BlobRef, r.Status,
		r.Metadata.UserAgent, r.Metadata.Referrer, r.Metadata.StartTime, r.Metadata.EndTime,
		r.Metadata.DurationMs, r.Metadata.EventCount,
		r.CreatedAt, r.UpdatedAt,
	)
	return err
}

// CompleteRecording attaches the uploaded blob and metadata and moves
// recording -> completed. Zero rows means the recording was not in the
// recording state.
func (p *Postgres) CompleteRecording(ctx context.Context, sessionID, blobRef string, meta RecordingMetadata, now time.Time) (Recording, error) {
	tag, err := p.pool.Exec(ctx, `
		UPDATE recordings SET
			status = $2, blob_ref = $3,
			user_agent = $4, referrer = $5,
			start_time = $6, end_time = $7,
			duration_ms = $8, event_count = $9,
			updated_at = $10
		WHERE session_id = $1 AND status = $11
	`,
		sessionID, StatusCompleted, blobRef,
		meta.UserAgent, meta.Referrer,
		meta.StartTime, meta.EndTime,
		meta.DurationMs, meta.EventCount,
		now, StatusRecording,
	)
	if err != nil {
		return Recording{}, err
	}
	if tag.RowsAffected() == 0 {
		return Recording{}, ErrNotClaimable
	}
	return p.RecordingBySession(ctx, sessionID)
}

// ClaimRecording is the processing lease: exactly one caller wins the
// completed -> processing transition; everyone else gets
// ErrNotClaimable.
func (p *Postgres) ClaimRecording(ctx context.Context, id string) error {
	return p.transition(ctx, id, StatusCompleted, StatusProcessing)
}

// FinishRecording settles a claimed recording as analyzed or failed.
func (p *Postgres) FinishRecording(ctx context.Context, id string, status RecordingStatus) error {
	if status != StatusAnalyzed && status != StatusFailed {
		return ErrNotClaimable
	}
	return p.transition(ctx, id, StatusProcessing, status)
}

// RetryRecording re-queues a failed recording. This is the only path
// back into the pipeline; nothing retries automatically.
func (p *Postgres) RetryRecording(ctx context.Context, id string) error {
	return p.transition(ctx, id, StatusFailed, StatusCompleted)
}

func (p *Postgres) transition(ctx context.Context, id string, from, to RecordingStatus) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE recordings SET status = $2, updated_at = NOW() WHERE id = $1 AND status = $3`,
		id, to, from)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotClaimable
	}
	return nil
}

// RecordingByID fetches one recording row.
func (p *Postgres) RecordingByID(ctx context.Context, id string) (Recording, error) {
	row := p.pool.QueryRow(ctx, selectRecordings+` WHERE id = $1`, id)
	r, err := scanRecording(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Recording{}, ErrSessionNotFound
	}
	return r, err
}

// RecordingBySession fetches the recording attached to a session.
func (p *Postgres) RecordingBySession(ctx context.Context, sessionID string) (Recording, error) {
	row := p.pool.QueryRow(ctx, selectRecordings+` WHERE session_id = $1`, sessionID)
	r, err := scanRecording(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Recording{}, ErrSessionNotFound
	}
	return r, err
}

// RecordingsByDocument lists a document's recordings, newest first.
func (p *Postgres) RecordingsByDocument(ctx context.Context, documentID string) ([]Recording, error) {
	rows, err := p.pool.Query(ctx,
		selectRecordings+` WHERE document_id = $1 ORDER BY created_at DESC`,
		documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Recording
	for rows.Next() {
		r, err := scanRecording(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *Postgres) Close() {
	p.pool.Close()
}

const selectSessions = `
	SELECT id, document_id, browser_id, COALESCE(user_id, ''),
	       start_time, end_time, duration_sec, max_scroll_pct,
	       user_agent, referrer, viewport_width, viewport_height,
	       device_type, country, city, has_recording, processed
	FROM sessions`

const selectRecordings = `
	SELECT id, session_id, document_id, COALESCE(user_id, ''), blob_ref, status,
	       user_agent, referrer, start_time, end_time, duration_ms, event_count,
	       created_at, updated_at
	FROM recordings`

func scanSession(row pgx.Row) (Session, error) {
	var s Session
	err := row.Scan(
		&s.ID, &s.DocumentID, &s.BrowserID, &s.UserID,
		&s.StartTime, &s.EndTime, &s.DurationSec, &s.MaxScrollPct,
		&s.UserAgent, &s.Referrer, &s.ViewportWidth, &s.ViewportHeight,
		&s.DeviceType, &s.Country, &s.City, &s.HasRecording, &s.Processed,
	)
	return s, err
}

func scanSessions(rows pgx.Rows) ([]Session, error) {
	defer rows.Close()
	var out []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanRecording(row pgx.Row) (Recording, error) {
	var r Recording
	err := row.Scan(
		&r.ID, &r.SessionID, &r.DocumentID, &r.UserID, &r.BlobRef, &r.Status,
		&r.Metadata.UserAgent, &r.Metadata.Referrer,
		&r.Metadata.StartTime, &r.Metadata.EndTime,
		&r.Metadata.DurationMs, &r.Metadata.EventCount,
		&r.CreatedAt, &r.UpdatedAt,
	)
	return r, err
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
