package transcript

import (
	"context"
	"log/slog"
	"time"

	"github.com/parleylabs/parley-core/internal/conversation"
	"github.com/parleylabs/parley-core/internal/turn"
)

const recordTimeout = 2 * time.Second

// Recorder adapts the Store to the turn observer interface. Store failures
// are logged and swallowed; the turn must never notice.
type Recorder struct {
	store *Store
	log   *slog.Logger
}

func NewRecorder(store *Store, log *slog.Logger) *Recorder {
	return &Recorder{store: store, log: log.With(slog.String("component", "transcript"))}
}

func (r *Recorder) OnUtterance(ctx context.Context, sessionID string, role conversation.Role, text string) {
	// A canceled session context must not lose the final utterances.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := r.store.RecordUtterance(writeCtx, sessionID, string(role), text); err != nil {
		r.log.Warn("failed to record utterance",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()))
	}
}

func (r *Recorder) OnStateChange(context.Context, string, string, turn.State) {}
