package logging

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// #region log-checkpoint
// LogCheckpoint writes a checkpoint entry to the checkpoint_log table and
// returns its id.
func LogCheckpoint(db *sql.DB, entry CheckpointEntry) (string, error) {
	if entry.CheckpointID == "" {
		entry.CheckpointID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := db.Exec(
		`INSERT INTO checkpoint_log (checkpoint_id, base, phase, iterations, samples_total, efficiency, mode, kernel_type, note, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.CheckpointID,
		entry.Base,
		entry.Phase,
		entry.Iterations,
		entry.SamplesTotal,
		entry.Efficiency,
		entry.Mode,
		nullIfEmpty(entry.KernelType),
		nullIfEmpty(entry.Note),
		entry.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", fmt.Errorf("log checkpoint: %w", err)
	}
	return entry.CheckpointID, nil
}

// #endregion log-checkpoint

// #region list-checkpoints
// ListCheckpoints returns the entries for base, oldest first.
func ListCheckpoints(db *sql.DB, base string) ([]CheckpointEntry, error) {
	rows, err := db.Query(
		`SELECT checkpoint_id, base, phase, iterations, samples_total, efficiency, mode, kernel_type, note, created_at
		 FROM checkpoint_log WHERE base = ? ORDER BY created_at, rowid`, base,
	)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []CheckpointEntry
	for rows.Next() {
		var e CheckpointEntry
		var kernelType, note sql.NullString
		var createdStr string
		if err := rows.Scan(&e.CheckpointID, &e.Base, &e.Phase, &e.Iterations, &e.SamplesTotal,
			&e.Efficiency, &e.Mode, &kernelType, &note, &createdStr); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		e.KernelType = kernelType.String
		e.Note = note.String
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		out = append(out, e)
	}
	return out, rows.Err()
}

// #endregion list-checkpoints

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers
