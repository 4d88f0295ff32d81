package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/dialflow/dialflow/internal/database/models"
)

// callSessionRepo implements CallSessionRepository on SQLite.
type callSessionRepo struct {
	db *DB
}

// NewCallSessionRepository creates a new CallSessionRepository.
func NewCallSessionRepository(db *DB) CallSessionRepository {
	return &callSessionRepo{db: db}
}

const callSessionColumns = `id, call_id, provider_call_id, campaign_id, phone_number,
	 customer_name, callback_url, state, last_digit, invalid_attempts, failure_reason,
	 version, created_at, updated_at`

// Create inserts a new call session. The stored version starts at 1.
func (r *callSessionRepo) Create(ctx context.Context, s *models.CallSession) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO call_sessions (call_id, provider_call_id, campaign_id, phone_number,
		 customer_name, callback_url, state, last_digit, invalid_attempts, failure_reason,
		 version, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, datetime('now'), datetime('now'))`,
		s.CallID, s.ProviderCallID, s.CampaignID, s.PhoneNumber,
		s.CustomerName, s.CallbackURL, s.State, s.LastDigit, s.InvalidAttempts, s.FailureReason,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicateCallID
		}
		return fmt.Errorf("inserting call session: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}
	s.ID = id
	s.Version = 1
	return nil
}

// GetByCallID returns a session by its call identifier, or nil if absent.
func (r *callSessionRepo) GetByCallID(ctx context.Context, callID string) (*models.CallSession, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT `+callSessionColumns+` FROM call_sessions WHERE call_id = ?`, callID,
	))
}

// GetByProviderCallID returns a session by the provider-assigned identifier,
// or nil if absent.
func (r *callSessionRepo) GetByProviderCallID(ctx context.Context, providerCallID string) (*models.CallSession, error) {
	if providerCallID == "" {
		return nil, nil
	}
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT `+callSessionColumns+` FROM call_sessions WHERE provider_call_id = ?`, providerCallID,
	))
}

// CompareAndSwap updates the session guarded by its version. Zero rows
// affected means another transition won the race.
func (r *callSessionRepo) CompareAndSwap(ctx context.Context, s *models.CallSession) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE call_sessions SET provider_call_id = ?, state = ?, last_digit = ?,
		 invalid_attempts = ?, failure_reason = ?, version = version + 1,
		 updated_at = datetime('now')
		 WHERE call_id = ? AND version = ?`,
		s.ProviderCallID, s.State, s.LastDigit,
		s.InvalidAttempts, s.FailureReason,
		s.CallID, s.Version,
	)
	if err != nil {
		return fmt.Errorf("updating call session: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if affected == 0 {
		return ErrConflict
	}

	s.Version++
	return nil
}

// List returns sessions newest first, with the total count for pagination.
func (r *callSessionRepo) List(ctx context.Context, filter CallSessionListFilter) ([]models.CallSession, int, error) {
	conds := []string{}
	args := []any{}
	if filter.State != "" {
		conds = append(conds, "state = ?")
		args = append(args, filter.State)
	}
	if filter.CampaignID != "" {
		conds = append(conds, "campaign_id = ?")
		args = append(args, filter.CampaignID)
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM call_sessions`+where, args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting call sessions: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+callSessionColumns+` FROM call_sessions`+where+
			` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("querying call sessions: %w", err)
	}
	defer rows.Close()

	sessions, err := r.scanRows(rows)
	if err != nil {
		return nil, 0, err
	}
	return sessions, total, nil
}

// ListActiveOlderThan returns non-terminal sessions not updated since cutoff.
func (r *callSessionRepo) ListActiveOlderThan(ctx context.Context, activeStates []string, cutoff time.Time) ([]models.CallSession, error) {
	if len(activeStates) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(activeStates))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, 0, len(activeStates)+1)
	for _, st := range activeStates {
		args = append(args, st)
	}
	args = append(args, cutoff.UTC().Format("2006-01-02 15:04:05"))

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+callSessionColumns+` FROM call_sessions
		 WHERE state IN (`+placeholders+`) AND updated_at < ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying stale call sessions: %w", err)
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// CountByState returns session counts grouped by state.
func (r *callSessionRepo) CountByState(ctx context.Context) (map[string]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT state, COUNT(*) FROM call_sessions GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("counting call sessions by state: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var state string
		var count int64
		if err := rows.Scan(&state, &count); err != nil {
			return nil, fmt.Errorf("scanning state count: %w", err)
		}
		counts[state] = count
	}
	return counts, rows.Err()
}

// CountByStateForCampaign returns session counts for one campaign grouped by
// state.
func (r *callSessionRepo) CountByStateForCampaign(ctx context.Context, campaignID string) (map[string]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT state, COUNT(*) FROM call_sessions WHERE campaign_id = ? GROUP BY state`,
		campaignID)
	if err != nil {
		return nil, fmt.Errorf("counting campaign sessions by state: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var state string
		var count int64
		if err := rows.Scan(&state, &count); err != nil {
			return nil, fmt.Errorf("scanning state count: %w", err)
		}
		counts[state] = count
	}
	return counts, rows.Err()
}

func (r *callSessionRepo) scanOne(row *sql.Row) (*models.CallSession, error) {
	var s models.CallSession
	err := row.Scan(&s.ID, &s.CallID, &s.ProviderCallID, &s.CampaignID, &s.PhoneNumber,
		&s.CustomerName, &s.CallbackURL, &s.State, &s.LastDigit, &s.InvalidAttempts,
		&s.FailureReason, &s.Version, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning call session: %w", err)
	}
	return &s, nil
}

func (r *callSessionRepo) scanRows(rows *sql.Rows) ([]models.CallSession, error) {
	var sessions []models.CallSession
	for rows.Next() {
		var s models.CallSession
		if err := rows.Scan(&s.ID, &s.CallID, &s.ProviderCallID, &s.CampaignID, &s.PhoneNumber,
			&s.CustomerName, &s.CallbackURL, &s.State, &s.LastDigit, &s.InvalidAttempts,
			&s.FailureReason, &s.Version, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning call session row: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}
