package call

import (
	"fmt"
	"time"

	"github.com/dialflow/dialflow/internal/ivr"
)

// State is the lifecycle state of a call session.
type State string

const (
	StateInitiated   State = "initiated"
	StateRinging     State = "ringing"
	StateMenuPlaying State = "menu_playing"
	// StateAwaitingDigit is part of the documented lifecycle but is never
	// entered under the current rules: menu playback and digit collection are
	// collapsed into StateMenuPlaying. Digit events are accepted from both.
	StateAwaitingDigit State = "awaiting_digit"
	StateCompleting    State = "completing"
	StateCompleted     State = "completed"
	StateFailed        State = "failed"
)

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// ActiveStates returns the non-terminal states as strings, for store queries.
func ActiveStates() []string {
	return []string{
		string(StateInitiated),
		string(StateRinging),
		string(StateMenuPlaying),
		string(StateAwaitingDigit),
		string(StateCompleting),
	}
}

// EventKind identifies a callback event reported by the telephony provider.
type EventKind string

const (
	EventCallRinging   EventKind = "call_ringing"
	EventCallAnswered  EventKind = "call_answered"
	EventDigitPressed  EventKind = "digit_pressed"
	EventCallCompleted EventKind = "call_completed"
	EventCallFailed    EventKind = "call_failed"
)

// KnownEventKind reports whether k is a recognized event kind.
func KnownEventKind(k EventKind) bool {
	switch k {
	case EventCallRinging, EventCallAnswered, EventDigitPressed, EventCallCompleted, EventCallFailed:
		return true
	}
	return false
}

// Event is a single immutable callback delivered by the transport layer.
// Events may arrive duplicated or out of order.
type Event struct {
	CallID    string
	Kind      EventKind
	Digit     string // required for digit_pressed
	Reason    string // optional failure reason for call_failed
	Timestamp time.Time
}

// EffectKind identifies the side effect the transport layer must render back
// to the provider after a transition.
type EffectKind string

const (
	// EffectNone means continue without a new prompt.
	EffectNone EffectKind = "none"
	// EffectPlayMenu plays the intro followed by the menu prompt.
	EffectPlayMenu EffectKind = "play_menu"
	// EffectPlayAction plays an action message; the menu replays afterwards.
	EffectPlayAction EffectKind = "play_action"
	// EffectNoMatch plays the no-match notice and replays the menu.
	EffectNoMatch EffectKind = "no_match"
	// EffectPlayEnd plays the end message and hangs up.
	EffectPlayEnd EffectKind = "play_end"
	// EffectFinalize records completion; nothing is played.
	EffectFinalize EffectKind = "finalize"
	// EffectFinalizeFailure records failure with its reason; nothing is played.
	EffectFinalizeFailure EffectKind = "finalize_failure"
)

// Effect describes what the transport should render to the provider.
type Effect struct {
	Kind       EffectKind
	Message    string // spoken text for play effects, failure reason for finalize_failure
	ReplayMenu bool   // replay the menu prompt after Message
	Hangup     bool   // hang up after Message
	ForwardTo  string // dial target for forwarding actions
}

// Snapshot is the read-only view of a session the machine transitions from.
type Snapshot struct {
	State           State
	LastDigit       string
	InvalidAttempts int
	FailureReason   string
}

// Transition is a proposed state change. The machine never mutates a session;
// the dispatcher applies the transition through the store.
type Transition struct {
	Next            State
	Effect          Effect
	LastDigit       string
	InvalidAttempts int
	FailureReason   string

	// NoOp is set when the event was a duplicate delivery against a terminal
	// or already-current state; nothing needs to be persisted.
	NoOp bool
}

// IllegalTransitionError reports an event kind incompatible with the current
// state. It carries both for diagnostics; the session is left unchanged.
type IllegalTransitionError struct {
	State State
	Event Event
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal transition: event %s in state %s (call %s)", e.Event.Kind, e.State, e.Event.CallID)
}

// Machine is the pure call state machine. It holds only immutable menu
// configuration and is safe for concurrent use without synchronization.
type Machine struct {
	menu *ivr.Menu

	// maxInvalidAttempts bounds consecutive unmapped digits before the call
	// is wound down with the end message. Zero means unlimited.
	maxInvalidAttempts int
}

// NewMachine creates a state machine over the given menu.
func NewMachine(menu *ivr.Menu, maxInvalidAttempts int) *Machine {
	return &Machine{menu: menu, maxInvalidAttempts: maxInvalidAttempts}
}

// Menu returns the menu configuration the machine was built with.
func (m *Machine) Menu() *ivr.Menu {
	return m.menu
}

// Transition computes the next state and effect for an event against the
// current session snapshot. Events against a terminal state are accepted
// idempotently: the already-recorded terminal state and effect are returned
// as a no-op, tolerating duplicate or delayed callback delivery.
func (m *Machine) Transition(cur Snapshot, ev Event) (Transition, error) {
	if cur.State.Terminal() {
		return m.terminalReplay(cur), nil
	}

	// A failure event terminates the call from any non-terminal state,
	// including synthetic failures injected by the timeout watchdog.
	if ev.Kind == EventCallFailed {
		reason := ev.Reason
		if reason == "" {
			reason = "provider reported failure"
		}
		return Transition{
			Next:          StateFailed,
			Effect:        Effect{Kind: EffectFinalizeFailure, Message: reason, Hangup: true},
			LastDigit:     cur.LastDigit,
			FailureReason: reason,
		}, nil
	}

	switch ev.Kind {
	case EventCallRinging:
		switch cur.State {
		case StateInitiated:
			return Transition{Next: StateRinging, Effect: Effect{Kind: EffectNone}}, nil
		case StateRinging:
			// Duplicate ringing callback; nothing to do.
			return Transition{Next: StateRinging, Effect: Effect{Kind: EffectNone}, NoOp: true}, nil
		}

	case EventCallAnswered:
		// The ringing callback may be lost or arrive late, so answered is
		// legal straight from Initiated as well.
		if cur.State == StateInitiated || cur.State == StateRinging {
			return Transition{
				Next: StateMenuPlaying,
				Effect: Effect{
					Kind:       EffectPlayMenu,
					Message:    m.menu.IntroText,
					ReplayMenu: true,
				},
			}, nil
		}

	case EventDigitPressed:
		if cur.State == StateMenuPlaying || cur.State == StateAwaitingDigit {
			return m.digitTransition(cur, ev), nil
		}

	case EventCallCompleted:
		if cur.State == StateCompleting {
			return Transition{
				Next:      StateCompleted,
				Effect:    Effect{Kind: EffectFinalize, Hangup: true},
				LastDigit: cur.LastDigit,
			}, nil
		}
	}

	return Transition{}, &IllegalTransitionError{State: cur.State, Event: ev}
}

// digitTransition resolves a pressed digit against the menu.
func (m *Machine) digitTransition(cur Snapshot, ev Event) Transition {
	action := m.menu.ActionForKey(ev.Digit)
	if action == nil {
		// Invalid input is expected protocol noise, never a fatal error.
		attempts := cur.InvalidAttempts + 1
		if m.maxInvalidAttempts > 0 && attempts >= m.maxInvalidAttempts {
			return Transition{
				Next:            StateCompleting,
				Effect:          Effect{Kind: EffectPlayEnd, Message: m.menu.EndMessage, Hangup: true},
				LastDigit:       ev.Digit,
				InvalidAttempts: attempts,
			}
		}
		return Transition{
			Next: cur.State,
			Effect: Effect{
				Kind:       EffectNoMatch,
				Message:    m.menu.NoMatchMessage,
				ReplayMenu: true,
			},
			LastDigit:       ev.Digit,
			InvalidAttempts: attempts,
		}
	}

	if action.Terminal {
		return Transition{
			Next:      StateCompleting,
			Effect:    Effect{Kind: EffectPlayEnd, Message: m.menu.EndMessage, Hangup: true},
			LastDigit: ev.Digit,
		}
	}

	message := action.Description
	if message == "" {
		message = action.Message
	}
	return Transition{
		Next: StateMenuPlaying,
		Effect: Effect{
			Kind:       EffectPlayAction,
			Message:    message,
			ReplayMenu: true,
			ForwardTo:  action.ForwardTo,
		},
		LastDigit: ev.Digit,
	}
}

// terminalReplay returns the recorded terminal outcome without changing the
// session: once a call is Completed or Failed, nothing moves it.
func (m *Machine) terminalReplay(cur Snapshot) Transition {
	effect := Effect{Kind: EffectFinalize, Hangup: true}
	if cur.State == StateFailed {
		effect = Effect{Kind: EffectFinalizeFailure, Message: cur.FailureReason, Hangup: true}
	}
	return Transition{
		Next:            cur.State,
		Effect:          effect,
		LastDigit:       cur.LastDigit,
		InvalidAttempts: cur.InvalidAttempts,
		FailureReason:   cur.FailureReason,
		NoOp:            true,
	}
}
