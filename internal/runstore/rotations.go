package runstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"pipettor/internal/rotation"
)

var _ rotation.Store = (*Store)(nil)

// Last returns the most recent rotation record.
func (s *Store) Last(ctx context.Context) (rotation.Record, bool, error) {
	var (
		position int
		recorded sql.NullString
	)
	err := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT position, recorded_at FROM rotations ORDER BY id DESC LIMIT 1`,
	).Scan(&position, &recorded)
	if errors.Is(err, sql.ErrNoRows) {
		return rotation.Record{}, false, nil
	}
	if err != nil {
		return rotation.Record{}, false, fmt.Errorf("last rotation: %w", err)
	}
	return rotation.Record{Timestamp: parseTime(recorded), Index: position}, true, nil
}

// Append records a rotation that is not tied to a stored run.
func (s *Store) Append(ctx context.Context, rec rotation.Record) error {
	return s.AppendForRun(ctx, "", rec)
}

// AppendForRun records the rotation index a run used.
func (s *Store) AppendForRun(ctx context.Context, runID string, rec rotation.Record) error {
	if rec.Index < 0 {
		return fmt.Errorf("%w: %d", rotation.ErrInvalidIndex, rec.Index)
	}
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	if err := s.execWithoutResultRetry(ctx,
		`INSERT INTO rotations (run_id, position, recorded_at) VALUES (?, ?, ?)`,
		nullableString(runID), rec.Index, ts.UTC().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("insert rotation: %w", err)
	}
	return nil
}

// Rotations returns up to limit records, newest first. A limit <= 0 returns all.
func (s *Store) Rotations(ctx context.Context, limit int) ([]rotation.Record, error) {
	query := `SELECT position, recorded_at FROM rotations ORDER BY id DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list rotations: %w", err)
	}
	defer rows.Close()

	var out []rotation.Record
	for rows.Next() {
		var (
			position int
			recorded sql.NullString
		)
		if err := rows.Scan(&position, &recorded); err != nil {
			return nil, fmt.Errorf("scan rotation: %w", err)
		}
		out = append(out, rotation.Record{Timestamp: parseTime(recorded), Index: position})
	}
	return out, rows.Err()
}
