package store

import (
	"context"
	"database/sql"
	"fmt"
)

// InsertRun records the start of a run.
func (s *Store) InsertRun(ctx context.Context, r *Run) error {
	if r.Status == "" {
		r.Status = RunRunning
	}
	if r.Kind == "" {
		r.Kind = KindLive
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO runs (id, kind, trigger_kind, page_url, extension, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Kind, r.Trigger, r.PageURL, r.Extension, r.Status, formatTime(r.StartedAt.UTC()),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// FinishRun stores the final counters and status of a run.
func (s *Store) FinishRun(ctx context.Context, r *Run) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE runs SET status = ?, links = ?, inserted = ?, duplicates = ?,
		not_found = ?, failed = ?, error_message = ?, finished_at = ?
		WHERE id = ?`,
		r.Status, r.Links, r.Inserted, r.Duplicates, r.NotFound, r.Failed,
		r.ErrorMessage, formatTimePtr(r.FinishedAt), r.ID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// ListRuns returns runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, kind, trigger_kind, page_url, extension, status, links, inserted,
		duplicates, not_found, failed, error_message, started_at, finished_at
		FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var result []*Run
	for rows.Next() {
		var (
			r        Run
			started  string
			finished sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Kind, &r.Trigger, &r.PageURL, &r.Extension, &r.Status,
			&r.Links, &r.Inserted, &r.Duplicates, &r.NotFound, &r.Failed,
			&r.ErrorMessage, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if r.StartedAt, err = parseTime(started); err != nil {
			return nil, fmt.Errorf("started_at: %w", err)
		}
		if r.FinishedAt, err = parseTimePtr(finished); err != nil {
			return nil, fmt.Errorf("finished_at: %w", err)
		}
		result = append(result, &r)
	}
	return result, rows.Err()
}
