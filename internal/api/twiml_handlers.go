package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/dialflow/dialflow/internal/call"
	"github.com/dialflow/dialflow/internal/database/models"
	"github.com/dialflow/dialflow/internal/ivr"
	"github.com/dialflow/dialflow/internal/twiml"
)

// ttsVoice is the voice used for all spoken prompts. The locale varies per
// call: campaign calls speak in the campaign's language, everything else uses
// the menu's.
const ttsVoice = "alice"

// gatherTimeoutSeconds is how long the provider waits for a digit before
// falling through the Gather verb.
const gatherTimeoutSeconds = 5

// handleTwiMLWelcome is fetched by the provider when the callee answers. It
// marks the session answered and returns the menu document.
func (s *Server) handleTwiMLWelcome(w http.ResponseWriter, r *http.Request) {
	callID := r.URL.Query().Get("call_id")
	if callID == "" {
		writeError(w, http.StatusBadRequest, "call_id is required")
		return
	}

	res, err := s.dispatcher.Handle(r.Context(), call.Event{
		CallID:    callID,
		Kind:      call.EventCallAnswered,
		Timestamp: time.Now(),
	})
	if err != nil {
		var ite *call.IllegalTransitionError
		if errors.As(err, &ite) {
			// The provider re-fetched the document (or the status callback
			// already marked the call answered). Replay the menu rather than
			// failing the live call.
			s.writeTwiML(w, s.menuDocument(callID, s.localeForCallID(r.Context(), callID), s.menu.IntroText))
			return
		}
		s.twimlDispatchError(w, callID, err)
		return
	}

	s.writeTwiML(w, s.effectDocument(callID, s.localeFor(r.Context(), &res.Session), res.Effect))
}

// handleTwiMLInput receives the gathered digit and returns the next document.
func (s *Server) handleTwiMLInput(w http.ResponseWriter, r *http.Request) {
	callID := r.URL.Query().Get("call_id")
	if callID == "" {
		writeError(w, http.StatusBadRequest, "call_id is required")
		return
	}
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form body")
		return
	}

	digit := r.PostFormValue("Digits")
	if digit == "" {
		// Gather timed out without input; replay the menu.
		s.writeTwiML(w, s.menuDocument(callID, s.localeForCallID(r.Context(), callID), s.menu.NoMatchMessage))
		return
	}

	res, err := s.dispatcher.Handle(r.Context(), call.Event{
		CallID:    callID,
		Kind:      call.EventDigitPressed,
		Digit:     digit,
		Timestamp: time.Now(),
	})
	if err != nil {
		var ite *call.IllegalTransitionError
		if errors.As(err, &ite) {
			// A digit after the call wound down; just hang up politely.
			s.writeTwiML(w, twiml.Response{Verbs: []any{twiml.Hangup{}}})
			return
		}
		if errors.Is(err, call.ErrMalformedEvent) {
			s.writeTwiML(w, s.menuDocument(callID, s.localeForCallID(r.Context(), callID), s.menu.NoMatchMessage))
			return
		}
		s.twimlDispatchError(w, callID, err)
		return
	}

	s.writeTwiML(w, s.effectDocument(callID, s.localeFor(r.Context(), &res.Session), res.Effect))
}

// twilioEventKinds maps Twilio CallStatus values to lifecycle events. Statuses
// with no entry (queued, initiated) carry no state change and are ignored.
var twilioEventKinds = map[string]call.EventKind{
	"ringing":     call.EventCallRinging,
	"in-progress": call.EventCallAnswered,
	"answered":    call.EventCallAnswered,
	"completed":   call.EventCallCompleted,
	"busy":        call.EventCallFailed,
	"no-answer":   call.EventCallFailed,
	"failed":      call.EventCallFailed,
	"canceled":    call.EventCallFailed,
}

// handleTwiMLStatus receives Twilio status callbacks (form encoded) and maps
// them onto lifecycle events. It always answers 2xx for recognized sessions:
// Twilio retries non-2xx responses and the dispatcher already tolerates
// duplicates.
func (s *Server) handleTwiMLStatus(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form body")
		return
	}

	callID := r.URL.Query().Get("call_id")
	if callID == "" {
		// Fall back to resolving the provider's call SID.
		sid := r.PostFormValue("CallSid")
		if sid == "" {
			writeError(w, http.StatusBadRequest, "call_id or CallSid is required")
			return
		}
		sess, err := s.sessions.GetByProviderCallID(r.Context(), sid)
		if err != nil {
			slog.Error("status callback: failed to resolve call sid", "call_sid", sid, "error", err)
			writeError(w, http.StatusServiceUnavailable, "session store unavailable")
			return
		}
		if sess == nil {
			writeError(w, http.StatusNotFound, "unknown call session")
			return
		}
		callID = sess.CallID
	}

	status := r.PostFormValue("CallStatus")
	kind, ok := twilioEventKinds[status]
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	ev := call.Event{CallID: callID, Kind: kind, Timestamp: time.Now()}
	if kind == call.EventCallFailed {
		ev.Reason = fmt.Sprintf("provider status %s", status)
	}

	// A completed status for a call still in the menu means the callee hung
	// up mid-menu; the session is left to the timeout watchdog rather than
	// guessing a terminal state here.
	_, err := s.dispatcher.Handle(r.Context(), ev)
	if err != nil {
		var ite *call.IllegalTransitionError
		if errors.As(err, &ite) {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if errors.Is(err, call.ErrUnknownSession) {
			writeError(w, http.StatusNotFound, "unknown call session")
			return
		}
		slog.Error("status callback: dispatch failed", "call_id", callID, "status", status, "error", err)
		writeError(w, http.StatusServiceUnavailable, "session store unavailable")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// localeFor picks the TTS locale for a session: the owning campaign's
// language when the session belongs to one, otherwise the menu's.
func (s *Server) localeFor(ctx context.Context, sess *models.CallSession) string {
	if sess != nil && sess.CampaignID != "" {
		c, err := s.campaigns.GetByCampaignID(ctx, sess.CampaignID)
		if err == nil && c != nil {
			return ivr.Locale(c.Language)
		}
	}
	return s.menu.Locale()
}

// localeForCallID is localeFor on paths that only have the call id at hand.
// Lookup failures fall back to the menu locale; a prompt in the default
// language beats no prompt at all.
func (s *Server) localeForCallID(ctx context.Context, callID string) string {
	sess, err := s.sessions.GetByCallID(ctx, callID)
	if err != nil || sess == nil {
		return s.menu.Locale()
	}
	return s.localeFor(ctx, sess)
}

// effectDocument renders a transition effect as a TwiML document.
func (s *Server) effectDocument(callID, locale string, effect call.Effect) twiml.Response {
	switch effect.Kind {
	case call.EffectPlayMenu:
		return s.menuDocument(callID, locale, effect.Message)

	case call.EffectPlayAction:
		if effect.ForwardTo != "" {
			return twiml.Response{Verbs: []any{
				s.say(locale, effect.Message),
				twiml.Dial{Number: effect.ForwardTo},
			}}
		}
		return s.menuDocument(callID, locale, effect.Message)

	case call.EffectNoMatch:
		return s.menuDocument(callID, locale, effect.Message)

	case call.EffectPlayEnd:
		return twiml.Response{Verbs: []any{
			s.say(locale, effect.Message),
			twiml.Hangup{},
		}}

	case call.EffectFinalize, call.EffectFinalizeFailure:
		return twiml.Response{Verbs: []any{twiml.Hangup{}}}

	default:
		return twiml.Response{}
	}
}

// menuDocument speaks lead (intro, action response, or no-match notice) and
// then gathers a single digit over the menu prompt. Falling through the
// gather redirects back to the welcome document so the menu replays.
func (s *Server) menuDocument(callID, locale, lead string) twiml.Response {
	verbs := []any{}
	if lead != "" {
		verbs = append(verbs, s.say(locale, lead))
	}
	verbs = append(verbs,
		twiml.Gather{
			Action:    s.webhookPath("/api/v1/twiml/handle-input", callID),
			Method:    http.MethodPost,
			NumDigits: 1,
			Timeout:   gatherTimeoutSeconds,
			Verbs:     []any{s.say(locale, s.menu.MenuText())},
		},
		twiml.Redirect{
			Method: http.MethodPost,
			URL:    s.webhookPath("/api/v1/twiml/welcome", callID),
		},
	)
	return twiml.Response{Verbs: verbs}
}

func (s *Server) say(locale, text string) twiml.Say {
	return twiml.Say{Voice: ttsVoice, Language: locale, Text: text}
}

// webhookPath builds a relative document URL carrying the call id.
func (s *Server) webhookPath(path, callID string) string {
	return fmt.Sprintf("%s?call_id=%s", path, url.QueryEscape(callID))
}

// writeTwiML serializes and writes a TwiML document.
func (s *Server) writeTwiML(w http.ResponseWriter, doc twiml.Response) {
	body, err := twiml.Render(doc)
	if err != nil {
		slog.Error("failed to render twiml", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(body)) //nolint:errcheck
}

// twimlDispatchError maps dispatcher failures on document endpoints. The
// provider only understands TwiML or HTTP status codes here, so errors come
// back as plain statuses.
func (s *Server) twimlDispatchError(w http.ResponseWriter, callID string, err error) {
	switch {
	case errors.Is(err, call.ErrUnknownSession):
		writeError(w, http.StatusNotFound, "unknown call session")
	case errors.Is(err, call.ErrMalformedEvent):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error("twiml endpoint: dispatch failed", "call_id", callID, "error", err)
		writeError(w, http.StatusServiceUnavailable, "session store unavailable")
	}
}
