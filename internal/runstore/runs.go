package runstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const runColumns = "id, protocol, protocol_path, status, dry_run, steps_total, steps_done, command_count, rotation_index, error_message, created_at, updated_at, finished_at"

// NewRun describes a run about to start.
type NewRun struct {
	Protocol     string
	ProtocolPath string
	DryRun       bool
	StepsTotal   int
}

// CreateRun inserts a running row with a fresh identifier.
func (s *Store) CreateRun(ctx context.Context, in NewRun) (*Run, error) {
	if strings.TrimSpace(in.Protocol) == "" {
		return nil, errors.New("protocol name is required")
	}
	id := uuid.NewString()
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)

	if err := s.execWithoutResultRetry(
		ctx,
		`INSERT INTO runs (
            id, protocol, protocol_path, status, dry_run, steps_total,
            steps_done, command_count, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, 0, 0, ?, ?)`,
		id,
		in.Protocol,
		nullableString(in.ProtocolPath),
		StatusRunning,
		boolToInt(in.DryRun),
		in.StepsTotal,
		timestamp,
		timestamp,
	); err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	return s.GetRun(ctx, id)
}

// UpdateProgress records how many steps of a running protocol have completed.
func (s *Store) UpdateProgress(ctx context.Context, id string, stepsDone int) error {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE runs SET steps_done = ?, updated_at = ? WHERE id = ? AND status = ?`,
		stepsDone,
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
		StatusRunning,
	)
	if err != nil {
		return fmt.Errorf("update run progress: %w", err)
	}
	return requireRow(res, id)
}

// FinishRun marks the run completed, or failed when out.Err is set.
func (s *Store) FinishRun(ctx context.Context, id string, out Outcome) error {
	status := StatusCompleted
	message := ""
	if out.Err != nil {
		status = StatusFailed
		message = out.Err.Error()
	}
	now := time.Now().UTC()
	res, err := s.execWithRetry(
		ctx,
		`UPDATE runs
         SET status = ?, steps_done = ?, command_count = ?, rotation_index = ?,
             error_message = ?, updated_at = ?, finished_at = ?
         WHERE id = ?`,
		status,
		out.StepsDone,
		out.CommandCount,
		nullableInt(out.Rotation),
		nullableString(message),
		now.Format(time.RFC3339Nano),
		nullableTime(&now),
		id,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return requireRow(res, id)
}

// GetRun fetches a run by its full identifier or a unique prefix of it.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: empty id", ErrRunNotFound)
	}
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT `+runColumns+` FROM runs WHERE id = ? OR id LIKE ? ESCAPE '\' ORDER BY id LIMIT 2`,
		id, escapeLike(id)+"%",
	)
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	defer rows.Close()

	var found []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if run.ID == id {
			return run, nil
		}
		found = append(found, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	switch len(found) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	case 1:
		return found[0], nil
	default:
		return nil, fmt.Errorf("run id prefix %q is ambiguous", id)
	}
}

// ListRuns returns the most recent runs, newest first. A limit <= 0 returns all.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY rowid DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func scanRun(scanner interface{ Scan(dest ...any) error }) (*Run, error) {
	var (
		run          Run
		protocolPath sql.NullString
		status       string
		dryRun       int
		rotation     sql.NullInt64
		errorMessage sql.NullString
		createdRaw   sql.NullString
		updatedRaw   sql.NullString
		finishedRaw  sql.NullString
	)
	if err := scanner.Scan(
		&run.ID,
		&run.Protocol,
		&protocolPath,
		&status,
		&dryRun,
		&run.StepsTotal,
		&run.StepsDone,
		&run.CommandCount,
		&rotation,
		&errorMessage,
		&createdRaw,
		&updatedRaw,
		&finishedRaw,
	); err != nil {
		return nil, err
	}
	run.ProtocolPath = protocolPath.String
	run.Status = Status(status)
	run.DryRun = dryRun != 0
	if rotation.Valid {
		idx := int(rotation.Int64)
		run.Rotation = &idx
	}
	run.ErrorMessage = errorMessage.String
	run.CreatedAt = parseTime(createdRaw)
	run.UpdatedAt = parseTime(updatedRaw)
	run.FinishedAt = parseOptionalTime(finishedRaw)
	return &run, nil
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

func escapeLike(value string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(value)
}
