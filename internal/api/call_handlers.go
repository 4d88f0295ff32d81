package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/dialflow/dialflow/internal/call"
	"github.com/dialflow/dialflow/internal/database"
	"github.com/dialflow/dialflow/internal/database/models"
	"github.com/go-chi/chi/v5"
)

// initiateCallRequest is the JSON request body for starting an outbound call.
type initiateCallRequest struct {
	PhoneNumber string `json:"phone_number"`
	CallbackURL string `json:"callback_url"`
}

// callResponse is the JSON representation of a call session.
type callResponse struct {
	CallID          string `json:"call_id"`
	ProviderCallID  string `json:"provider_call_id,omitempty"`
	CampaignID      string `json:"campaign_id,omitempty"`
	PhoneNumber     string `json:"phone_number"`
	CustomerName    string `json:"customer_name,omitempty"`
	State           string `json:"state"`
	LastDigit       string `json:"last_digit,omitempty"`
	InvalidAttempts int    `json:"invalid_attempts,omitempty"`
	FailureReason   string `json:"failure_reason,omitempty"`
	CreatedAt       string `json:"created_at"`
	UpdatedAt       string `json:"updated_at"`
}

// callEventResponse is the JSON representation of one audit log entry.
type callEventResponse struct {
	EventKind   string `json:"event_kind"`
	Digit       string `json:"digit,omitempty"`
	Reason      string `json:"reason,omitempty"`
	ResultState string `json:"result_state"`
	CreatedAt   string `json:"created_at"`
}

// toCallResponse converts a models.CallSession to the API response.
func toCallResponse(s *models.CallSession) callResponse {
	return callResponse{
		CallID:          s.CallID,
		ProviderCallID:  s.ProviderCallID,
		CampaignID:      s.CampaignID,
		PhoneNumber:     s.PhoneNumber,
		CustomerName:    s.CustomerName,
		State:           s.State,
		LastDigit:       s.LastDigit,
		InvalidAttempts: s.InvalidAttempts,
		FailureReason:   s.FailureReason,
		CreatedAt:       s.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       s.UpdatedAt.Format(time.RFC3339),
	}
}

// handleInitiateCall starts an outbound call to the requested number.
func (s *Server) handleInitiateCall(w http.ResponseWriter, r *http.Request) {
	if s.initiator == nil {
		writeError(w, http.StatusServiceUnavailable, "telephony provider not configured")
		return
	}

	var req initiateCallRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	sess, err := s.initiator.Initiate(r.Context(), req.PhoneNumber, req.CallbackURL)
	switch {
	case errors.Is(err, call.ErrInvalidPhoneNumber):
		writeError(w, http.StatusBadRequest, "phone_number must be E.164 (+ followed by 8-15 digits)")
		return
	case errors.Is(err, call.ErrInitiationFailure):
		writeError(w, http.StatusBadGateway, "call initiation failed")
		return
	case err != nil:
		slog.Error("initiate call: unexpected failure", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusCreated, toCallResponse(sess))
}

// handleListCalls returns a page of call sessions, optionally filtered by state.
func (s *Server) handleListCalls(w http.ResponseWriter, r *http.Request) {
	pg, errMsg := parsePagination(r)
	if errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	filter := database.CallSessionListFilter{
		Limit:  pg.Limit,
		Offset: pg.Offset,
		State:  r.URL.Query().Get("state"),
	}

	sessions, total, err := s.sessions.List(r.Context(), filter)
	if err != nil {
		slog.Error("list calls: failed to query", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	items := make([]callResponse, len(sessions))
	for i := range sessions {
		items[i] = toCallResponse(&sessions[i])
	}

	writeJSON(w, http.StatusOK, PaginatedResponse{
		Items:  items,
		Total:  total,
		Limit:  pg.Limit,
		Offset: pg.Offset,
	})
}

// handleGetCall returns a single call session by its call id.
func (s *Server) handleGetCall(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "callID")

	sess, err := s.sessions.GetByCallID(r.Context(), callID)
	if err != nil {
		slog.Error("get call: failed to query", "error", err, "call_id", callID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if sess == nil {
		writeError(w, http.StatusNotFound, "call not found")
		return
	}

	writeJSON(w, http.StatusOK, toCallResponse(sess))
}

// handleListCallEvents returns the audit log for a call session.
func (s *Server) handleListCallEvents(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "callID")

	sess, err := s.sessions.GetByCallID(r.Context(), callID)
	if err != nil {
		slog.Error("list call events: failed to query session", "error", err, "call_id", callID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if sess == nil {
		writeError(w, http.StatusNotFound, "call not found")
		return
	}

	recs, err := s.events.ListByCallID(r.Context(), callID)
	if err != nil {
		slog.Error("list call events: failed to query events", "error", err, "call_id", callID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	items := make([]callEventResponse, len(recs))
	for i, rec := range recs {
		items[i] = callEventResponse{
			EventKind:   rec.EventKind,
			Digit:       rec.Digit,
			Reason:      rec.Reason,
			ResultState: rec.ResultState,
			CreatedAt:   rec.CreatedAt.Format(time.RFC3339),
		}
	}

	writeJSON(w, http.StatusOK, items)
}

// ivrConfigResponse describes the active menu.
type ivrConfigResponse struct {
	IntroText      string                    `json:"intro_text"`
	Actions        []ivrConfigActionResponse `json:"actions"`
	EndMessage     string                    `json:"end_message"`
	NoMatchMessage string                    `json:"no_match_message"`
}

type ivrConfigActionResponse struct {
	Key         string `json:"key"`
	Message     string `json:"message"`
	Description string `json:"description,omitempty"`
	Terminal    bool   `json:"terminal"`
	ForwardTo   string `json:"forward_to,omitempty"`
}

// handleGetIVRConfig returns the menu the server is currently running with.
func (s *Server) handleGetIVRConfig(w http.ResponseWriter, r *http.Request) {
	resp := ivrConfigResponse{
		IntroText:      s.menu.IntroText,
		EndMessage:     s.menu.EndMessage,
		NoMatchMessage: s.menu.NoMatchMessage,
		Actions:        make([]ivrConfigActionResponse, len(s.menu.Actions)),
	}
	for i, a := range s.menu.Actions {
		resp.Actions[i] = ivrConfigActionResponse{
			Key:         a.Key,
			Message:     a.Message,
			Description: a.Description,
			Terminal:    a.Terminal,
			ForwardTo:   a.ForwardTo,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
