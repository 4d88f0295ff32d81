package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/dialflow/dialflow/internal/call"
	"github.com/dialflow/dialflow/internal/database"
	"github.com/dialflow/dialflow/internal/database/models"
	"github.com/dialflow/dialflow/internal/ivr"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// createCampaignRequest is the JSON body for creating a campaign.
type createCampaignRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Language    string `json:"language"`
}

// updateCampaignRequest patches a campaign; absent fields are left unchanged.
type updateCampaignRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Language    *string `json:"language"`
	Active      *bool   `json:"active"`
}

// campaignResponse is the JSON representation of a campaign.
type campaignResponse struct {
	CampaignID  string `json:"campaign_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Language    string `json:"language"`
	Active      bool   `json:"active"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

func toCampaignResponse(c *models.Campaign) campaignResponse {
	return campaignResponse{
		CampaignID:  c.CampaignID,
		Name:        c.Name,
		Description: c.Description,
		Language:    c.Language,
		Active:      c.Active,
		CreatedAt:   c.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   c.UpdatedAt.Format(time.RFC3339),
	}
}

// handleCreateCampaign creates a campaign for bulk calling.
func (s *Server) handleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req createCampaignRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.Language == "" {
		req.Language = "en"
	}
	if !ivr.LanguageSupported(req.Language) {
		writeError(w, http.StatusBadRequest, "unsupported language "+req.Language)
		return
	}

	c := &models.Campaign{
		CampaignID:  uuid.NewString(),
		Name:        req.Name,
		Description: req.Description,
		Language:    req.Language,
		Active:      true,
	}
	if err := s.campaigns.Create(r.Context(), c); err != nil {
		slog.Error("create campaign: failed to insert", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	// Re-read for the store-assigned timestamps.
	stored, err := s.campaigns.GetByCampaignID(r.Context(), c.CampaignID)
	if err != nil || stored == nil {
		writeJSON(w, http.StatusCreated, toCampaignResponse(c))
		return
	}
	writeJSON(w, http.StatusCreated, toCampaignResponse(stored))
}

// handleListCampaigns returns all campaigns.
func (s *Server) handleListCampaigns(w http.ResponseWriter, r *http.Request) {
	campaigns, err := s.campaigns.List(r.Context())
	if err != nil {
		slog.Error("list campaigns: failed to query", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	items := make([]campaignResponse, len(campaigns))
	for i := range campaigns {
		items[i] = toCampaignResponse(&campaigns[i])
	}
	writeJSON(w, http.StatusOK, items)
}

// handleGetCampaign returns a single campaign by its id.
func (s *Server) handleGetCampaign(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "campaignID")

	c, err := s.campaigns.GetByCampaignID(r.Context(), campaignID)
	if err != nil {
		slog.Error("get campaign: failed to query", "error", err, "campaign_id", campaignID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if c == nil {
		writeError(w, http.StatusNotFound, "campaign not found")
		return
	}
	writeJSON(w, http.StatusOK, toCampaignResponse(c))
}

// handleUpdateCampaign applies a partial update to a campaign.
func (s *Server) handleUpdateCampaign(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "campaignID")

	var req updateCampaignRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	c, err := s.campaigns.GetByCampaignID(r.Context(), campaignID)
	if err != nil {
		slog.Error("update campaign: failed to query", "error", err, "campaign_id", campaignID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if c == nil {
		writeError(w, http.StatusNotFound, "campaign not found")
		return
	}

	if req.Name != nil {
		if *req.Name == "" {
			writeError(w, http.StatusBadRequest, "name must not be empty")
			return
		}
		c.Name = *req.Name
	}
	if req.Description != nil {
		c.Description = *req.Description
	}
	if req.Language != nil {
		if !ivr.LanguageSupported(*req.Language) {
			writeError(w, http.StatusBadRequest, "unsupported language "+*req.Language)
			return
		}
		c.Language = *req.Language
	}
	if req.Active != nil {
		c.Active = *req.Active
	}

	if err := s.campaigns.Update(r.Context(), c); err != nil {
		if errors.Is(err, database.ErrCampaignNotFound) {
			writeError(w, http.StatusNotFound, "campaign not found")
			return
		}
		slog.Error("update campaign: failed to persist", "error", err, "campaign_id", campaignID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, toCampaignResponse(c))
}

// handleDeleteCampaign removes a campaign. Its call sessions are kept.
func (s *Server) handleDeleteCampaign(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "campaignID")

	if err := s.campaigns.Delete(r.Context(), campaignID); err != nil {
		if errors.Is(err, database.ErrCampaignNotFound) {
			writeError(w, http.StatusNotFound, "campaign not found")
			return
		}
		slog.Error("delete campaign: failed", "error", err, "campaign_id", campaignID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "campaign deleted"})
}

// campaignCallsResponse is the calls page plus the campaign's state rollup.
type campaignCallsResponse struct {
	Calls PaginatedResponse     `json:"calls"`
	Stats campaignStatsResponse `json:"stats"`
}

type campaignStatsResponse struct {
	Total     int64 `json:"total"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// handleListCampaignCalls returns the campaign's call sessions with counts.
func (s *Server) handleListCampaignCalls(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "campaignID")

	c, err := s.campaigns.GetByCampaignID(r.Context(), campaignID)
	if err != nil {
		slog.Error("list campaign calls: failed to query campaign", "error", err, "campaign_id", campaignID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if c == nil {
		writeError(w, http.StatusNotFound, "campaign not found")
		return
	}

	pg, errMsg := parsePagination(r)
	if errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	sessions, total, err := s.sessions.List(r.Context(), database.CallSessionListFilter{
		Limit:      pg.Limit,
		Offset:     pg.Offset,
		CampaignID: campaignID,
	})
	if err != nil {
		slog.Error("list campaign calls: failed to query sessions", "error", err, "campaign_id", campaignID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	counts, err := s.sessions.CountByStateForCampaign(r.Context(), campaignID)
	if err != nil {
		slog.Error("list campaign calls: failed to count", "error", err, "campaign_id", campaignID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	stats := campaignStatsResponse{
		Completed: counts[string(call.StateCompleted)],
		Failed:    counts[string(call.StateFailed)],
	}
	for _, st := range call.ActiveStates() {
		stats.Active += counts[st]
	}
	for _, n := range counts {
		stats.Total += n
	}

	items := make([]callResponse, len(sessions))
	for i := range sessions {
		items[i] = toCallResponse(&sessions[i])
	}

	writeJSON(w, http.StatusOK, campaignCallsResponse{
		Calls: PaginatedResponse{
			Items:  items,
			Total:  total,
			Limit:  pg.Limit,
			Offset: pg.Offset,
		},
		Stats: stats,
	})
}

// bulkCallContact is one destination in a bulk call request.
type bulkCallContact struct {
	PhoneNumber string `json:"phone_number"`
	Name        string `json:"name,omitempty"`
}

// bulkCallRequest starts one call per contact under a campaign.
type bulkCallRequest struct {
	CampaignID string            `json:"campaign_id"`
	Contacts   []bulkCallContact `json:"contacts"`
}

// bulkCallResponse summarizes a bulk initiation run.
type bulkCallResponse struct {
	SuccessCount int      `json:"success_count"`
	FailCount    int      `json:"fail_count"`
	CallIDs      []string `json:"call_ids"`
}

// handleBulkInitiateCalls places one outbound call per contact. Individual
// failures do not abort the run; they are counted and the loop continues.
func (s *Server) handleBulkInitiateCalls(w http.ResponseWriter, r *http.Request) {
	if s.initiator == nil {
		writeError(w, http.StatusServiceUnavailable, "telephony provider not configured")
		return
	}

	var req bulkCallRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if req.CampaignID == "" {
		writeError(w, http.StatusBadRequest, "campaign_id is required")
		return
	}
	if len(req.Contacts) == 0 {
		writeError(w, http.StatusBadRequest, "contacts must not be empty")
		return
	}

	c, err := s.campaigns.GetByCampaignID(r.Context(), req.CampaignID)
	if err != nil {
		slog.Error("bulk initiate: failed to query campaign", "error", err, "campaign_id", req.CampaignID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if c == nil {
		writeError(w, http.StatusNotFound, "campaign not found")
		return
	}
	if !c.Active {
		writeError(w, http.StatusBadRequest, "campaign is not active")
		return
	}

	resp := bulkCallResponse{CallIDs: []string{}}
	for _, contact := range req.Contacts {
		sess, err := s.initiator.InitiateCall(r.Context(), call.InitiateRequest{
			PhoneNumber:  contact.PhoneNumber,
			CampaignID:   c.CampaignID,
			CustomerName: contact.Name,
		})
		if err != nil {
			slog.Warn("bulk initiate: call failed",
				"campaign_id", c.CampaignID,
				"phone_number", contact.PhoneNumber,
				"error", err,
			)
			resp.FailCount++
			continue
		}
		resp.SuccessCount++
		resp.CallIDs = append(resp.CallIDs, sess.CallID)
	}

	writeJSON(w, http.StatusOK, resp)
}

// languagesResponse lists the language codes prompts can be spoken in.
type languagesResponse struct {
	Languages []string `json:"languages"`
}

// handleListLanguages returns the supported prompt languages.
func (s *Server) handleListLanguages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, languagesResponse{Languages: ivr.SupportedLanguages()})
}
