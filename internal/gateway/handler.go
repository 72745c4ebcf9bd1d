package gateway

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/parleylabs/parley-core/internal/config"
	"github.com/parleylabs/parley-core/internal/llm"
	"github.com/parleylabs/parley-core/internal/protocol"
	"github.com/parleylabs/parley-core/internal/stt"
	"github.com/parleylabs/parley-core/internal/tts"
	"github.com/parleylabs/parley-core/internal/turn"
)

// Handler upgrades /ws/chat connections and runs one conversation per
// connection until the client goes away.
type Handler struct {
	chat      config.ChatConfig
	sttGw     *stt.Gateway
	replies   *llm.ReplyGenerator
	synth     tts.Synthesizer
	registry  *Registry
	observers []turn.Observer
	log       *slog.Logger
}

func NewHandler(chat config.ChatConfig, sttGw *stt.Gateway, replies *llm.ReplyGenerator, synth tts.Synthesizer, registry *Registry, log *slog.Logger, observers ...turn.Observer) *Handler {
	return &Handler{
		chat:      chat,
		sttGw:     sttGw,
		replies:   replies,
		synth:     synth,
		registry:  registry,
		observers: observers,
		log:       log.With(slog.String("component", "gateway")),
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}

	sessionID := uuid.NewString()
	sess := NewSession(sessionID, conn)
	defer sess.Close()

	if h.chat.MaxUtteranceBytes > 0 {
		conn.SetReadLimit(h.chat.MaxUtteranceBytes)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// Shutdown cancels the context; closing the conn is what actually
	// unblocks the read loop.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	unregister := h.registry.Register(sessionID, Handle{Cancel: cancel})
	defer unregister()

	log := h.log.With(slog.String("session_id", sessionID))
	log.Info("session opened", slog.String("remote", r.RemoteAddr))

	orch := turn.NewOrchestrator(sessionID, h.chat, h.sttGw, h.replies, h.synth, h.log, h.observers...)
	h.readLoop(ctx, orch, sess, conn, log)

	log.Info("session closed", slog.Int("history_len", orch.History().Len()))
}

func (h *Handler) readLoop(ctx context.Context, orch *turn.Orchestrator, sess *Session, conn *websocket.Conn, log *slog.Logger) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				log.Warn("read failed", slog.String("error", err.Error()))
			}
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			if len(data) == 0 {
				continue
			}
			if err := orch.HandleUtterance(ctx, data, sess); err != nil {
				// Transport error or cancellation; either way the client
				// is unreachable.
				if ctx.Err() == nil {
					log.Warn("turn abandoned", slog.String("error", err.Error()))
				}
				return
			}
		case websocket.TextMessage:
			msg, err := protocol.DecodeClientMessage(data)
			if err != nil {
				log.Debug("rejected client frame", slog.String("error", err.Error()))
				if err := sess.Event(protocol.ErrorEvent("malformed message")); err != nil {
					return
				}
				continue
			}
			if msg.Type == protocol.ClientPing {
				if err := sess.Event(protocol.Pong()); err != nil {
					return
				}
			}
		default:
			// Control frames are handled by gorilla; anything else is
			// ignored.
		}
	}
}
