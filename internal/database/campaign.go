package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/dialflow/dialflow/internal/database/models"
)

// campaignRepo implements CampaignRepository on SQLite.
type campaignRepo struct {
	db *DB
}

// NewCampaignRepository creates a new CampaignRepository.
func NewCampaignRepository(db *DB) CampaignRepository {
	return &campaignRepo{db: db}
}

const campaignColumns = `id, campaign_id, name, description, language, active, created_at, updated_at`

// Create inserts a new campaign.
func (r *campaignRepo) Create(ctx context.Context, c *models.Campaign) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO campaigns (campaign_id, name, description, language, active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, datetime('now'), datetime('now'))`,
		c.CampaignID, c.Name, c.Description, c.Language, c.Active,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicateCampaignID
		}
		return fmt.Errorf("inserting campaign: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}
	c.ID = id
	return nil
}

// GetByCampaignID returns a campaign by its identifier, or nil if absent.
func (r *campaignRepo) GetByCampaignID(ctx context.Context, campaignID string) (*models.Campaign, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE campaign_id = ?`, campaignID,
	)

	var c models.Campaign
	err := row.Scan(&c.ID, &c.CampaignID, &c.Name, &c.Description, &c.Language,
		&c.Active, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning campaign: %w", err)
	}
	return &c, nil
}

// List returns all campaigns, newest first.
func (r *campaignRepo) List(ctx context.Context) ([]models.Campaign, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+campaignColumns+` FROM campaigns ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("querying campaigns: %w", err)
	}
	defer rows.Close()

	var campaigns []models.Campaign
	for rows.Next() {
		var c models.Campaign
		if err := rows.Scan(&c.ID, &c.CampaignID, &c.Name, &c.Description, &c.Language,
			&c.Active, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning campaign row: %w", err)
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

// Update persists the mutable campaign fields.
func (r *campaignRepo) Update(ctx context.Context, c *models.Campaign) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE campaigns SET name = ?, description = ?, language = ?, active = ?,
		 updated_at = datetime('now')
		 WHERE campaign_id = ?`,
		c.Name, c.Description, c.Language, c.Active, c.CampaignID,
	)
	if err != nil {
		return fmt.Errorf("updating campaign: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if affected == 0 {
		return ErrCampaignNotFound
	}
	return nil
}

// Delete removes a campaign. The campaign's call sessions are kept; they keep
// their campaign_id as a historical reference.
func (r *campaignRepo) Delete(ctx context.Context, campaignID string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM campaigns WHERE campaign_id = ?`, campaignID,
	)
	if err != nil {
		return fmt.Errorf("deleting campaign: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if affected == 0 {
		return ErrCampaignNotFound
	}
	return nil
}
