package store

import (
	"context"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/KenjiPcx/magneto/internal/config"
)

// ClickHouse holds the analytical tables: paragraph_engagement and
// session_metrics. Both are append-only; reconstruction writes each
// session's derived rows exactly once.
type ClickHouse struct {
	conn driver.Conn
}

func NewClickHouse(cfg config.ClickHouseConfig) (*ClickHouse, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		MaxOpenConns: cfg.MaxOpenConns,
		MaxIdleConns: cfg.MaxIdleConns,
	})
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, err
	}

	return &ClickHouse{conn: conn}, nil
}

// InsertEngagement batch-writes one session's per-paragraph rows.
func (c *ClickHouse) InsertEngagement(ctx context.Context, rows []EngagementRow) error {
	if len(rows) == 0 {
		return nil
	}

	batch, err := c.conn.PrepareBatch(ctx, `
		INSERT INTO paragraph_engagement (
			document_id, session_id, paragraph_id,
			total_dwell_ms, view_count, hover_ms,
			click_count, scroll_passes, processed_at
		)
	`)
	if err != nil {
		return err
	}

	for _, r := range rows {
		err := batch.Append(
			r.DocumentID, r.SessionID, r.ParagraphID,
			r.TotalDwellMs, r.ViewCount, r.HoverMs,
			r.ClickCount, r.ScrollPasses, r.ProcessedAt,
		)
		if err != nil {
			return err
		}
	}

	return batch.Send()
}

// InsertMetrics writes one session's derived metrics row.
func (c *ClickHouse) InsertMetrics(ctx context.Context, row MetricsRow) error {
	return c.conn.Exec(ctx, `
		INSERT INTO session_metrics (
			document_id, session_id,
			total_duration_ms, scroll_depth, click_count,
			idle_ms, active_ms, processed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		row.DocumentID, row.SessionID,
		row.TotalDuration, row.ScrollDepth, row.ClickCount,
		row.IdleMs, row.ActiveMs, row.ProcessedAt,
	)
}

// EngagementByDocument reads every engagement row for a document since
// the cutoff, for heatmap aggregation.
func (c *ClickHouse) EngagementByDocument(ctx context.Context, documentID string, since time.Time) ([]EngagementRow, error) {
	rows, err := c.conn.Query(ctx, `
		SELECT document_id, session_id, paragraph_id,
		       total_dwell_ms, view_count, hover_ms,
		       click_count, scroll_passes, processed_at
		FROM paragraph_engagement
		WHERE document_id = ? AND processed_at >= ?
	`, documentID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EngagementRow
	for rows.Next() {
		var r EngagementRow
		err := rows.Scan(
			&r.DocumentID, &r.SessionID, &r.ParagraphID,
			&r.TotalDwellMs, &r.ViewCount, &r.HoverMs,
			&r.ClickCount, &r.ScrollPasses, &r.ProcessedAt,
		)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// MetricsByDocument reads the derived session metrics for a document
// since the cutoff.
func (c *ClickHouse) MetricsByDocument(ctx context.Context, documentID string, since time.Time) ([]MetricsRow, error) {
	rows, err := c.conn.Query(ctx, `
		SELECT document_id, session_id,
		       total_duration_ms, scroll_depth, click_count,
		       idle_ms, active_ms, processed_at
		FROM session_metrics
		WHERE document_id = ? AND processed_at >= ?
	`, documentID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MetricsRow
	for rows.Next() {
		var r MetricsRow
		err := rows.Scan(
			&r.DocumentID, &r.SessionID,
			&r.TotalDuration, &r.ScrollDepth, &r.ClickCount,
			&r.IdleMs, &r.ActiveMs, &r.ProcessedAt,
		)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (c *ClickHouse) Close() error {
	return c.conn.Close()
}
