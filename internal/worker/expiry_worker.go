package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session-engine/internal/service"
)

type activeSessionLister interface {
	ListActive(ctx context.Context) ([]string, error)
}

type expirySweeper interface {
	FinalizeExpired(ctx context.Context, sessionID string) (*service.BatchResult, error)
}

// ExpiryWorker finalizes attempts whose time ran out while the student was
// away, so grades do not wait for the next request on that attempt.
type ExpiryWorker struct {
	sessions activeSessionLister
	attempts expirySweeper
	interval time.Duration
	log      zerolog.Logger
}

func NewExpiryWorker(sessions activeSessionLister, attempts expirySweeper, interval time.Duration, log zerolog.Logger) *ExpiryWorker {
	return &ExpiryWorker{
		sessions: sessions,
		attempts: attempts,
		interval: interval,
		log:      log.With().Str("component", "expiry_worker").Logger(),
	}
}

// Start sweeps every interval until ctx is cancelled.
func (w *ExpiryWorker) Start(ctx context.Context) {
	if w.interval <= 0 {
		w.log.Info().Msg("ExpiryWorker disabled")
		return
	}
	w.log.Info().Dur("interval", w.interval).Msg("ExpiryWorker started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("ExpiryWorker stopped")
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep runs one pass over every active session.
func (w *ExpiryWorker) Sweep(ctx context.Context) {
	ids, err := w.sessions.ListActive(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("List active sessions failed")
		return
	}
	for _, id := range ids {
		res, err := w.attempts.FinalizeExpired(ctx, id)
		if err != nil {
			w.log.Error().Err(err).Str("session_id", id).Msg("Expiry sweep failed")
			continue
		}
		if len(res.Finalized) > 0 || len(res.Failures) > 0 {
			w.log.Info().
				Str("session_id", id).
				Int("finalized", len(res.Finalized)).
				Int("failures", len(res.Failures)).
				Msg("Expired attempts finalized")
		}
	}
}
