package database

import (
	"context"
	"errors"
	"time"

	"github.com/dialflow/dialflow/internal/database/models"
)

// ErrConflict is returned by CompareAndSwap when the stored session version
// no longer matches the caller's snapshot (a concurrent transition won).
var ErrConflict = errors.New("session version conflict")

// ErrDuplicateCallID is returned by Create when a session with the same
// call_id already exists.
var ErrDuplicateCallID = errors.New("call id already exists")

// ErrDuplicateCampaignID is returned by the campaign Create when a campaign
// with the same campaign_id already exists.
var ErrDuplicateCampaignID = errors.New("campaign id already exists")

// ErrCampaignNotFound is returned by campaign Update and Delete when no row
// matches the campaign_id.
var ErrCampaignNotFound = errors.New("campaign not found")

// CallSessionListFilter specifies filtering and pagination for session list queries.
type CallSessionListFilter struct {
	Limit      int
	Offset     int
	State      string // exact state name, or "" for all
	CampaignID string // owning campaign, or "" for all
}

// CallSessionRepository manages call session records. Sessions are never
// deleted by the service; retention is an external policy.
type CallSessionRepository interface {
	Create(ctx context.Context, s *models.CallSession) error
	GetByCallID(ctx context.Context, callID string) (*models.CallSession, error)
	GetByProviderCallID(ctx context.Context, providerCallID string) (*models.CallSession, error)

	// CompareAndSwap persists the session if and only if the stored version
	// equals s.Version. On success the stored version is incremented and
	// s.Version is updated to match. Returns ErrConflict on a lost race.
	CompareAndSwap(ctx context.Context, s *models.CallSession) error

	List(ctx context.Context, filter CallSessionListFilter) ([]models.CallSession, int, error)

	// ListActiveOlderThan returns sessions in a non-terminal state whose last
	// update is before the cutoff. Used by the timeout watchdog.
	ListActiveOlderThan(ctx context.Context, activeStates []string, cutoff time.Time) ([]models.CallSession, error)

	CountByState(ctx context.Context) (map[string]int64, error)

	// CountByStateForCampaign returns state counts limited to one campaign.
	CountByStateForCampaign(ctx context.Context, campaignID string) (map[string]int64, error)
}

// CampaignRepository manages campaign records for bulk calling.
type CampaignRepository interface {
	Create(ctx context.Context, c *models.Campaign) error
	GetByCampaignID(ctx context.Context, campaignID string) (*models.Campaign, error)
	List(ctx context.Context) ([]models.Campaign, error)
	Update(ctx context.Context, c *models.Campaign) error
	Delete(ctx context.Context, campaignID string) error
}

// CallEventRepository manages the append-only callback audit log.
type CallEventRepository interface {
	Create(ctx context.Context, rec *models.CallEventRecord) error
	ListByCallID(ctx context.Context, callID string) ([]models.CallEventRecord, error)
}
