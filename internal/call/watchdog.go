package call

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dialflow/dialflow/internal/database"
)

// Watchdog force-fails sessions stuck in a non-terminal state. The provider
// occasionally drops a final callback; without this sweep such sessions would
// sit in MenuPlaying forever. Termination goes through the dispatcher as a
// synthetic call_failed event, so there is a single consistent path to
// Failed regardless of source.
type Watchdog struct {
	sessions   database.CallSessionRepository
	dispatcher *Dispatcher
	timeout    time.Duration
	interval   time.Duration
	logger     *slog.Logger
}

// NewWatchdog creates a session timeout watchdog. timeout is how long a
// session may go without an update before being failed; interval is the
// sweep period.
func NewWatchdog(
	sessions database.CallSessionRepository,
	dispatcher *Dispatcher,
	timeout time.Duration,
	interval time.Duration,
	logger *slog.Logger,
) *Watchdog {
	return &Watchdog{
		sessions:   sessions,
		dispatcher: dispatcher,
		timeout:    timeout,
		interval:   interval,
		logger:     logger.With("subsystem", "watchdog"),
	}
}

// Run sweeps periodically until the context is cancelled.
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("session watchdog started",
		"timeout", w.timeout,
		"interval", w.interval,
	)

	for {
		select {
		case <-ticker.C:
			w.Sweep(ctx)
		case <-ctx.Done():
			w.logger.Info("session watchdog stopped")
			return
		}
	}
}

// Sweep fails all sessions that have been inactive past the timeout and
// returns how many were terminated.
func (w *Watchdog) Sweep(ctx context.Context) int {
	cutoff := time.Now().Add(-w.timeout)

	stale, err := w.sessions.ListActiveOlderThan(ctx, ActiveStates(), cutoff)
	if err != nil {
		w.logger.Error("failed to list stale sessions", "error", err)
		return 0
	}

	failed := 0
	for _, sess := range stale {
		ev := Event{
			CallID:    sess.CallID,
			Kind:      EventCallFailed,
			Reason:    "session timed out",
			Timestamp: time.Now(),
		}

		if _, err := w.dispatcher.Handle(ctx, ev); err != nil {
			// A concurrent real callback may have finished the call first;
			// that is the desired outcome, not a watchdog failure.
			var ite *IllegalTransitionError
			if errors.As(err, &ite) {
				continue
			}
			w.logger.Error("failed to time out session",
				"call_id", sess.CallID,
				"error", err,
			)
			continue
		}

		failed++
		w.logger.Info("session timed out",
			"call_id", sess.CallID,
			"previous_state", sess.State,
		)
	}

	return failed
}
