package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"

	"github.com/dialflow/dialflow/internal/database"
	"github.com/dialflow/dialflow/internal/database/models"
	"github.com/dialflow/dialflow/internal/telephony"
	"github.com/google/uuid"
)

// ErrInvalidPhoneNumber is returned when the destination is not E.164 shaped.
var ErrInvalidPhoneNumber = errors.New("invalid phone number")

// ErrInitiationFailure is returned when the provider rejects the outbound call.
var ErrInitiationFailure = errors.New("call initiation failed")

// E.164: leading + followed by 8-15 digits.
var phoneNumberRe = regexp.MustCompile(`^\+[0-9]{8,15}$`)

// Initiator creates call sessions and hands the actual dialing to the
// telephony client. The session row is created before the outbound request so
// a provider failure leaves a Failed record rather than nothing; the provider
// call identifier is adopted once the request succeeds.
type Initiator struct {
	sessions  database.CallSessionRepository
	client    telephony.Client
	publicURL string
	logger    *slog.Logger
}

// NewInitiator creates a call initiator. publicURL is the externally
// reachable base URL the provider uses to fetch voice instructions and post
// status callbacks.
func NewInitiator(
	sessions database.CallSessionRepository,
	client telephony.Client,
	publicURL string,
	logger *slog.Logger,
) *Initiator {
	return &Initiator{
		sessions:  sessions,
		client:    client,
		publicURL: publicURL,
		logger:    logger.With("subsystem", "initiator"),
	}
}

// InitiateRequest carries everything needed to start one outbound call.
// CampaignID and CustomerName are set for bulk campaign calls and empty for
// one-off calls.
type InitiateRequest struct {
	PhoneNumber  string
	CallbackURL  string
	CampaignID   string
	CustomerName string
}

// Initiate validates the destination, creates a session in Initiated state,
// and places the outbound call. callbackURL optionally overrides the default
// status-callback endpoint.
func (i *Initiator) Initiate(ctx context.Context, phoneNumber, callbackURL string) (*models.CallSession, error) {
	return i.InitiateCall(ctx, InitiateRequest{PhoneNumber: phoneNumber, CallbackURL: callbackURL})
}

// InitiateCall is the full-form Initiate used by bulk campaign dialing.
func (i *Initiator) InitiateCall(ctx context.Context, req InitiateRequest) (*models.CallSession, error) {
	phoneNumber, callbackURL := req.PhoneNumber, req.CallbackURL
	if !phoneNumberRe.MatchString(phoneNumber) {
		return nil, fmt.Errorf("%w: %q must be + followed by 8-15 digits", ErrInvalidPhoneNumber, phoneNumber)
	}

	sess := &models.CallSession{
		CallID:       uuid.NewString(),
		CampaignID:   req.CampaignID,
		PhoneNumber:  phoneNumber,
		CustomerName: req.CustomerName,
		CallbackURL:  callbackURL,
		State:        string(StateInitiated),
	}
	if err := i.sessions.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	voiceURL := i.webhookURL("/api/v1/twiml/welcome", sess.CallID)
	statusURL := callbackURL
	if statusURL == "" {
		statusURL = i.webhookURL("/api/v1/twiml/status", sess.CallID)
	}

	providerID, err := i.client.PlaceCall(ctx, phoneNumber, voiceURL, statusURL)
	if err != nil {
		i.failSession(ctx, sess, err)
		return nil, fmt.Errorf("%w: %v", ErrInitiationFailure, err)
	}

	if err := i.recordProviderCallID(ctx, sess, providerID); err != nil {
		// The call is already in flight; without the provider id stored, later
		// CallSid lookups for this session cannot resolve, so this only gives
		// up when the store itself is failing.
		i.logger.Warn("failed to record provider call id",
			"call_id", sess.CallID,
			"provider_call_id", providerID,
			"error", err,
		)
	}

	i.logger.Info("call initiated",
		"call_id", sess.CallID,
		"provider_call_id", providerID,
		"phone_number", phoneNumber,
	)

	return sess, nil
}

// recordProviderCallID persists the provider call id after a successful dial
// request. A conflict means an early callback already advanced the session;
// the winner's state is re-read and kept, with only the provider id layered
// on top, so CallSid resolution keeps working for the rest of the call.
func (i *Initiator) recordProviderCallID(ctx context.Context, sess *models.CallSession, providerID string) error {
	for attempt := 0; attempt < casRetries; attempt++ {
		sess.ProviderCallID = providerID
		err := i.sessions.CompareAndSwap(ctx, sess)
		if err == nil {
			return nil
		}
		if !errors.Is(err, database.ErrConflict) {
			return err
		}

		fresh, getErr := i.sessions.GetByCallID(ctx, sess.CallID)
		if getErr != nil {
			return getErr
		}
		if fresh == nil {
			return fmt.Errorf("session %s disappeared during initiation", sess.CallID)
		}
		*sess = *fresh
	}
	return database.ErrConflict
}

// failSession moves a freshly created session to Failed after a provider
// rejection so it is not orphaned in Initiated.
func (i *Initiator) failSession(ctx context.Context, sess *models.CallSession, cause error) {
	sess.State = string(StateFailed)
	sess.FailureReason = fmt.Sprintf("initiation failed: %v", cause)
	if err := i.sessions.CompareAndSwap(ctx, sess); err != nil {
		i.logger.Error("failed to mark session failed",
			"call_id", sess.CallID,
			"error", err,
		)
	}
	i.logger.Warn("call initiation failed",
		"call_id", sess.CallID,
		"phone_number", sess.PhoneNumber,
		"error", cause,
	)
}

// webhookURL builds a provider-facing URL carrying the session's call id.
func (i *Initiator) webhookURL(path, callID string) string {
	return fmt.Sprintf("%s%s?call_id=%s", i.publicURL, path, url.QueryEscape(callID))
}
