package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dialflow/dialflow/internal/database"
	"github.com/dialflow/dialflow/internal/database/models"
)

// ErrUnknownSession is returned when an event references no known call.
var ErrUnknownSession = errors.New("unknown call session")

// ErrMalformedEvent is returned when an event fails shape validation.
var ErrMalformedEvent = errors.New("malformed event")

// ErrStoreUnavailable is returned when the session store fails, or when the
// compare-and-swap retry budget is exhausted.
var ErrStoreUnavailable = errors.New("session store unavailable")

// casRetries bounds local retries after a lost compare-and-swap race.
const casRetries = 3

// DispatchResult is the outcome of a processed callback: the effect for the
// transport layer to render, and a snapshot of the session after (or, for
// rejected events, before) the transition.
type DispatchResult struct {
	Effect  Effect
	Session models.CallSession
}

// Dispatcher validates callback events against their session, delegates to
// the state machine, and persists the winning transition.
type Dispatcher struct {
	sessions database.CallSessionRepository
	events   database.CallEventRepository
	machine  *Machine
	logger   *slog.Logger
}

// NewDispatcher creates a callback dispatcher. The events repository may be
// nil to disable the audit log.
func NewDispatcher(
	sessions database.CallSessionRepository,
	events database.CallEventRepository,
	machine *Machine,
	logger *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		sessions: sessions,
		events:   events,
		machine:  machine,
		logger:   logger.With("subsystem", "dispatcher"),
	}
}

// Handle processes a single callback event. Duplicate deliveries against a
// terminal session resolve to a no-op result, never an error. An event kind
// incompatible with the current state returns the unchanged session snapshot
// alongside an IllegalTransitionError so the transport can answer the
// provider with a no-op instead of a spurious failure.
func (d *Dispatcher) Handle(ctx context.Context, ev Event) (*DispatchResult, error) {
	if err := validateEvent(ev); err != nil {
		return nil, err
	}

	for attempt := 0; attempt < casRetries; attempt++ {
		sess, err := d.sessions.GetByCallID(ctx, ev.CallID)
		if err != nil {
			return nil, fmt.Errorf("%w: loading session %s: %v", ErrStoreUnavailable, ev.CallID, err)
		}
		if sess == nil {
			return nil, fmt.Errorf("%w: %s", ErrUnknownSession, ev.CallID)
		}

		snap := Snapshot{
			State:           State(sess.State),
			LastDigit:       sess.LastDigit,
			InvalidAttempts: sess.InvalidAttempts,
			FailureReason:   sess.FailureReason,
		}

		tr, err := d.machine.Transition(snap, ev)
		if err != nil {
			var ite *IllegalTransitionError
			if errors.As(err, &ite) {
				d.logger.Warn("rejected callback event",
					"call_id", ev.CallID,
					"event", ev.Kind,
					"state", sess.State,
				)
				return &DispatchResult{Effect: Effect{Kind: EffectNone}, Session: *sess}, err
			}
			return nil, err
		}

		if tr.NoOp {
			d.logger.Debug("duplicate callback event, no-op",
				"call_id", ev.CallID,
				"event", ev.Kind,
				"state", sess.State,
			)
			return &DispatchResult{Effect: tr.Effect, Session: *sess}, nil
		}

		updated := *sess
		updated.State = string(tr.Next)
		updated.LastDigit = tr.LastDigit
		updated.InvalidAttempts = tr.InvalidAttempts
		updated.FailureReason = tr.FailureReason

		if err := d.sessions.CompareAndSwap(ctx, &updated); err != nil {
			if errors.Is(err, database.ErrConflict) {
				d.logger.Debug("lost transition race, retrying",
					"call_id", ev.CallID,
					"event", ev.Kind,
					"attempt", attempt+1,
				)
				continue
			}
			return nil, fmt.Errorf("%w: persisting session %s: %v", ErrStoreUnavailable, ev.CallID, err)
		}

		d.recordEvent(ctx, ev, updated.State)

		d.logger.Info("callback event processed",
			"call_id", ev.CallID,
			"event", ev.Kind,
			"from", sess.State,
			"to", updated.State,
			"effect", tr.Effect.Kind,
		)

		return &DispatchResult{Effect: tr.Effect, Session: updated}, nil
	}

	return nil, fmt.Errorf("%w: transition for %s lost %d compare-and-swap races", ErrStoreUnavailable, ev.CallID, casRetries)
}

// validateEvent checks the semantic shape of a decoded event. Wire parsing is
// the transport's concern.
func validateEvent(ev Event) error {
	if ev.CallID == "" {
		return fmt.Errorf("%w: missing call_id", ErrMalformedEvent)
	}
	if !KnownEventKind(ev.Kind) {
		return fmt.Errorf("%w: unknown event kind %q", ErrMalformedEvent, ev.Kind)
	}
	if ev.Kind == EventDigitPressed {
		if len(ev.Digit) != 1 || ev.Digit[0] < '0' || ev.Digit[0] > '9' {
			return fmt.Errorf("%w: digit_pressed requires a single digit, got %q", ErrMalformedEvent, ev.Digit)
		}
	}
	return nil
}

// recordEvent appends an audit row. Failures are logged, not surfaced: the
// transition already won and the provider must get its response.
func (d *Dispatcher) recordEvent(ctx context.Context, ev Event, resultState string) {
	if d.events == nil {
		return
	}
	rec := &models.CallEventRecord{
		CallID:      ev.CallID,
		EventKind:   string(ev.Kind),
		Digit:       ev.Digit,
		Reason:      ev.Reason,
		ResultState: resultState,
	}
	if err := d.events.Create(ctx, rec); err != nil {
		d.logger.Error("failed to record call event",
			"call_id", ev.CallID,
			"event", ev.Kind,
			"error", err,
		)
	}
}
