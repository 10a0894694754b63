package runstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// RecordVessels appends ledger entries for one run in a single transaction.
func (s *Store) RecordVessels(ctx context.Context, entries []VesselEntry) error {
	if len(entries) == 0 {
		return nil
	}
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin ledger tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		now := time.Now().UTC().Format(time.RFC3339Nano)
		for _, e := range entries {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO vessel_ledger (run_id, step, reagent, vessel, drawn, remaining, depleted, recorded_at)
                 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				e.RunID, e.Step, e.Reagent, e.Vessel, e.Drawn, e.Remaining, boolToInt(e.Depleted), now,
			); err != nil {
				return fmt.Errorf("insert ledger entry: %w", err)
			}
		}
		return tx.Commit()
	})
}

// Ledger returns a run's entries in the order they were recorded.
func (s *Store) Ledger(ctx context.Context, runID string) ([]VesselEntry, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT run_id, step, reagent, vessel, drawn, remaining, depleted, recorded_at
         FROM vessel_ledger WHERE run_id = ? ORDER BY id`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	var entries []VesselEntry
	for rows.Next() {
		var (
			e        VesselEntry
			depleted int
			recorded sql.NullString
		)
		if err := rows.Scan(&e.RunID, &e.Step, &e.Reagent, &e.Vessel, &e.Drawn, &e.Remaining, &depleted, &recorded); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		e.Depleted = depleted != 0
		e.Recorded = parseTime(recorded)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
