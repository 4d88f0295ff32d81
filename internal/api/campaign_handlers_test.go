package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dialflow/dialflow/internal/call"
	"github.com/dialflow/dialflow/internal/database/models"
)

func TestHandleCreateCampaign(t *testing.T) {
	ts := newTestServer(t, nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/campaigns/",
		strings.NewReader(`{"name": "Renewal reminders", "language": "es"}`))
	ts.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", w.Code, w.Body.String())
	}
	data := decodeData(t, w.Body.Bytes())
	if data["name"] != "Renewal reminders" || data["language"] != "es" {
		t.Errorf("body = %s", w.Body.String())
	}
	if data["active"] != true {
		t.Errorf("active = %v, want true", data["active"])
	}
	if data["campaign_id"] == "" || data["campaign_id"] == nil {
		t.Error("missing campaign_id")
	}
}

func TestHandleCreateCampaignValidation(t *testing.T) {
	ts := newTestServer(t, nil)

	for _, body := range []string{
		`{"language": "es"}`,
		`{"name": "No such tongue", "language": "xx"}`,
		`not json`,
	} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/campaigns/", strings.NewReader(body))
		ts.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Errorf("POST %s status = %d, want 400", body, w.Code)
		}
	}
}

func TestHandleCampaignLifecycle(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.seedCampaign(t, "en", true)

	// Read it back.
	w := httptest.NewRecorder()
	ts.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/campaigns/camp-1", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d: %s", w.Code, w.Body.String())
	}
	if data := decodeData(t, w.Body.Bytes()); data["name"] != "Renewal reminders" {
		t.Errorf("body = %s", w.Body.String())
	}

	// Partial update: deactivate and switch language, name untouched.
	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/api/v1/campaigns/camp-1",
		strings.NewReader(`{"active": false, "language": "hi"}`))
	ts.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("update status = %d: %s", w.Code, w.Body.String())
	}
	data := decodeData(t, w.Body.Bytes())
	if data["active"] != false || data["language"] != "hi" || data["name"] != "Renewal reminders" {
		t.Errorf("body = %s", w.Body.String())
	}

	// Unsupported language rejected without touching the record.
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPut, "/api/v1/campaigns/camp-1",
		strings.NewReader(`{"language": "xx"}`))
	ts.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad language status = %d, want 400", w.Code)
	}

	// List sees the campaign.
	w = httptest.NewRecorder()
	ts.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/campaigns/", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d: %s", w.Code, w.Body.String())
	}
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decoding list: %v", err)
	}
	if items, ok := env.Data.([]any); !ok || len(items) != 1 {
		t.Errorf("list = %v, want 1 campaign", env.Data)
	}

	// Delete, then reads answer 404.
	w = httptest.NewRecorder()
	ts.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/v1/campaigns/camp-1", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("delete status = %d: %s", w.Code, w.Body.String())
	}
	w = httptest.NewRecorder()
	ts.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/campaigns/camp-1", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", w.Code)
	}
	w = httptest.NewRecorder()
	ts.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/v1/campaigns/camp-1", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("double delete status = %d, want 404", w.Code)
	}
}

func TestHandleBulkInitiateCalls(t *testing.T) {
	ts := newTestServer(t, &stubDialer{})
	ts.seedCampaign(t, "en", true)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/calls/bulk",
		strings.NewReader(`{"campaign_id": "camp-1", "contacts": [
			{"phone_number": "+919876543210", "name": "Asha"},
			{"phone_number": "not-a-number"}
		]}`))
	ts.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	data := decodeData(t, w.Body.Bytes())
	if data["success_count"] != float64(1) || data["fail_count"] != float64(1) {
		t.Errorf("counts = %v/%v, want 1/1", data["success_count"], data["fail_count"])
	}
	callIDs, ok := data["call_ids"].([]any)
	if !ok || len(callIDs) != 1 {
		t.Fatalf("call_ids = %v, want 1 entry", data["call_ids"])
	}

	// The created session carries the campaign attribution.
	sess, _ := ts.repo.GetByCallID(context.Background(), callIDs[0].(string))
	if sess == nil {
		t.Fatal("bulk session not stored")
	}
	if sess.CampaignID != "camp-1" || sess.CustomerName != "Asha" {
		t.Errorf("session = %+v", sess)
	}
}

func TestHandleBulkInitiateCallsRejections(t *testing.T) {
	ts := newTestServer(t, &stubDialer{})
	ts.seedCampaign(t, "en", true)

	post := func(body string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/calls/bulk", strings.NewReader(body))
		ts.ServeHTTP(w, req)
		return w
	}

	if w := post(`{"contacts": [{"phone_number": "+919876543210"}]}`); w.Code != http.StatusBadRequest {
		t.Errorf("missing campaign_id status = %d, want 400", w.Code)
	}
	if w := post(`{"campaign_id": "camp-1", "contacts": []}`); w.Code != http.StatusBadRequest {
		t.Errorf("empty contacts status = %d, want 400", w.Code)
	}
	if w := post(`{"campaign_id": "missing", "contacts": [{"phone_number": "+919876543210"}]}`); w.Code != http.StatusNotFound {
		t.Errorf("unknown campaign status = %d, want 404", w.Code)
	}

	// Inactive campaigns stop taking new calls.
	c, _ := ts.campaigns.GetByCampaignID(context.Background(), "camp-1")
	c.Active = false
	if err := ts.campaigns.Update(context.Background(), c); err != nil {
		t.Fatalf("deactivating campaign: %v", err)
	}
	if w := post(`{"campaign_id": "camp-1", "contacts": [{"phone_number": "+919876543210"}]}`); w.Code != http.StatusBadRequest {
		t.Errorf("inactive campaign status = %d, want 400", w.Code)
	}
}

func TestHandleBulkInitiateCallsNotConfigured(t *testing.T) {
	ts := newTestServer(t, nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/calls/bulk",
		strings.NewReader(`{"campaign_id": "camp-1", "contacts": [{"phone_number": "+919876543210"}]}`))
	ts.ServeHTTP(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestHandleListCampaignCalls(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.seedCampaign(t, "en", true)

	seed := func(callID, state string, campaignID string) {
		sess := &models.CallSession{
			CallID:      callID,
			CampaignID:  campaignID,
			PhoneNumber: "+919876543210",
			State:       state,
		}
		if err := ts.repo.Create(context.Background(), sess); err != nil {
			t.Fatalf("seeding session %s: %v", callID, err)
		}
	}
	seed("camp-call-1", string(call.StateMenuPlaying), "camp-1")
	seed("camp-call-2", string(call.StateCompleted), "camp-1")
	seed("camp-call-3", string(call.StateFailed), "camp-1")
	seed("other-call", string(call.StateCompleted), "")

	w := httptest.NewRecorder()
	ts.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/campaigns/camp-1/calls", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}

	data := decodeData(t, w.Body.Bytes())
	stats, ok := data["stats"].(map[string]any)
	if !ok {
		t.Fatalf("stats = %v", data["stats"])
	}
	if stats["total"] != float64(3) || stats["active"] != float64(1) ||
		stats["completed"] != float64(1) || stats["failed"] != float64(1) {
		t.Errorf("stats = %v", stats)
	}

	calls, ok := data["calls"].(map[string]any)
	if !ok || calls["total"] != float64(3) {
		t.Errorf("calls = %v", data["calls"])
	}

	w = httptest.NewRecorder()
	ts.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/campaigns/missing/calls", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown campaign status = %d, want 404", w.Code)
	}
}

func TestHandleListLanguages(t *testing.T) {
	ts := newTestServer(t, nil)

	w := httptest.NewRecorder()
	ts.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/config/languages", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	data := decodeData(t, w.Body.Bytes())
	langs, ok := data["languages"].([]any)
	if !ok || len(langs) == 0 {
		t.Fatalf("languages = %v", data["languages"])
	}
	found := false
	for _, l := range langs {
		if l == "hi" {
			found = true
		}
	}
	if !found {
		t.Errorf("languages = %v, want hi included", langs)
	}
}

func TestTwiMLSpeaksCampaignLanguage(t *testing.T) {
	ts := newTestServer(t, nil)
	c := ts.seedCampaign(t, "es", true)

	sess := &models.CallSession{
		CallID:      "call-es",
		CampaignID:  c.CampaignID,
		PhoneNumber: "+34911234567",
		State:       string(call.StateRinging),
	}
	if err := ts.repo.Create(context.Background(), sess); err != nil {
		t.Fatalf("seeding session: %v", err)
	}

	w := httptest.NewRecorder()
	ts.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/twiml/welcome?call_id=call-es", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if body := w.Body.String(); !strings.Contains(body, `language="es-ES"`) {
		t.Errorf("document not spoken in campaign language:\n%s", body)
	}
}

func TestTwiMLDefaultLanguageWithoutCampaign(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.seed(t, call.StateRinging)

	w := httptest.NewRecorder()
	ts.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/twiml/welcome?call_id=call-1", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if body := w.Body.String(); !strings.Contains(body, `language="en-US"`) {
		t.Errorf("document not spoken in default language:\n%s", body)
	}
}
