package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/dialflow/dialflow/internal/call"
)

// callbackRequest is the JSON body of a provider-agnostic lifecycle event.
type callbackRequest struct {
	CallID    string `json:"call_id"`
	EventType string `json:"event_type"`
	Digit     string `json:"digit,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// callbackResponse reports the session after the event was applied.
type callbackResponse struct {
	CallID string `json:"call_id"`
	State  string `json:"state"`
	Effect string `json:"effect"`
	NoOp   bool   `json:"no_op,omitempty"`
}

// handleIVRCallback applies a lifecycle event to its session. An event kind
// that is incompatible with the current state answers 200 with no_op set:
// providers redeliver and reorder callbacks, and a 4xx would only make them
// retry harder.
func (s *Server) handleIVRCallback(w http.ResponseWriter, r *http.Request) {
	var req callbackRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	ev := call.Event{
		CallID:    req.CallID,
		Kind:      call.EventKind(req.EventType),
		Digit:     req.Digit,
		Reason:    req.Reason,
		Timestamp: time.Now(),
	}
	if req.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339, req.Timestamp); err == nil {
			ev.Timestamp = ts
		}
	}

	res, err := s.dispatcher.Handle(r.Context(), ev)
	if err != nil {
		var ite *call.IllegalTransitionError
		switch {
		case errors.As(err, &ite):
			writeJSON(w, http.StatusOK, callbackResponse{
				CallID: req.CallID,
				State:  res.Session.State,
				Effect: string(res.Effect.Kind),
				NoOp:   true,
			})
			return
		case errors.Is(err, call.ErrMalformedEvent):
			writeError(w, http.StatusBadRequest, err.Error())
			return
		case errors.Is(err, call.ErrUnknownSession):
			writeError(w, http.StatusNotFound, "unknown call session")
			return
		case errors.Is(err, call.ErrStoreUnavailable):
			slog.Error("ivr callback: store unavailable", "call_id", req.CallID, "error", err)
			writeError(w, http.StatusServiceUnavailable, "session store unavailable")
			return
		default:
			slog.Error("ivr callback: unexpected failure", "call_id", req.CallID, "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
	}

	writeJSON(w, http.StatusOK, callbackResponse{
		CallID: res.Session.CallID,
		State:  res.Session.State,
		Effect: string(res.Effect.Kind),
	})
}
