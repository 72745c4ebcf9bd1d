package bus

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/parleylabs/parley-core/internal/conversation"
	"github.com/parleylabs/parley-core/internal/protocol"
	"github.com/parleylabs/parley-core/internal/turn"
)

// Tap broadcasts committed transcripts and turn lifecycle transitions.
type Tap struct {
	client *Client
	log    *slog.Logger
	clock  func() time.Time
}

func NewTap(client *Client, log *slog.Logger) *Tap {
	return &Tap{
		client: client,
		log:    log.With(slog.String("component", "bus-tap")),
		clock:  time.Now,
	}
}

func (t *Tap) OnUtterance(_ context.Context, sessionID string, role conversation.Role, text string) {
	subject := protocol.SubjectTranscriptUser
	if role == conversation.RoleAssistant {
		subject = protocol.SubjectTranscriptAssistant
	}
	t.publish(subject, protocol.Transcript{
		SessionID: sessionID,
		Role:      string(role),
		Text:      text,
		Timestamp: t.clock().UTC(),
	})
}

func (t *Tap) OnStateChange(_ context.Context, sessionID, turnID string, state turn.State) {
	t.publish(protocol.SubjectTurnStatus, protocol.TurnStatus{
		SessionID: sessionID,
		TurnID:    turnID,
		State:     state.String(),
		Timestamp: t.clock().UTC(),
	})
}

func (t *Tap) publish(subject string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		t.log.Error("encode bus payload", slog.String("error", err.Error()))
		return
	}
	if err := t.client.Publish(subject, data); err != nil {
		t.log.Warn("bus publish failed",
			slog.String("subject", subject),
			slog.String("error", err.Error()))
	}
}
