package database

import (
	"context"
	"fmt"

	"github.com/dialflow/dialflow/internal/database/models"
)

// callEventRepo implements CallEventRepository.
type callEventRepo struct {
	db *DB
}

// NewCallEventRepository creates a new CallEventRepository.
func NewCallEventRepository(db *DB) CallEventRepository {
	return &callEventRepo{db: db}
}

// Create appends an audit record for a processed callback.
func (r *callEventRepo) Create(ctx context.Context, rec *models.CallEventRecord) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO call_events (call_id, event_kind, digit, reason, result_state, created_at)
		 VALUES (?, ?, ?, ?, ?, datetime('now'))`,
		rec.CallID, rec.EventKind, rec.Digit, rec.Reason, rec.ResultState,
	)
	if err != nil {
		return fmt.Errorf("inserting call event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}
	rec.ID = id
	return nil
}

// ListByCallID returns all audit records for a call in insertion order.
func (r *callEventRepo) ListByCallID(ctx context.Context, callID string) ([]models.CallEventRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, call_id, event_kind, digit, reason, result_state, created_at
		 FROM call_events WHERE call_id = ? ORDER BY id`, callID)
	if err != nil {
		return nil, fmt.Errorf("querying call events: %w", err)
	}
	defer rows.Close()

	var records []models.CallEventRecord
	for rows.Next() {
		var rec models.CallEventRecord
		if err := rows.Scan(&rec.ID, &rec.CallID, &rec.EventKind, &rec.Digit,
			&rec.Reason, &rec.ResultState, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning call event row: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
