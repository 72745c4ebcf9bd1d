package turn

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/parleylabs/parley-core/internal/config"
	"github.com/parleylabs/parley-core/internal/conversation"
	"github.com/parleylabs/parley-core/internal/llm"
	"github.com/parleylabs/parley-core/internal/protocol"
	"github.com/parleylabs/parley-core/internal/stt"
	"github.com/parleylabs/parley-core/internal/tts"
)

const (
	msgCouldNotUnderstand = "could not understand audio"
	msgTurnInProgress     = "turn in progress"
	msgSynthesisFailed    = "speech synthesis failed"
)

// Sink delivers events and audio to the client. A non-nil error means the
// client is unreachable and the turn must be abandoned.
type Sink interface {
	Event(ev protocol.ServerEvent) error
	Audio(chunk []byte) error
}

// Observer watches committed turn activity. Implementations must be cheap
// and must never fail the turn.
type Observer interface {
	OnUtterance(ctx context.Context, sessionID string, role conversation.Role, text string)
	OnStateChange(ctx context.Context, sessionID, turnID string, state State)
}

// Orchestrator owns one conversation and drives STT, reply generation and
// speech synthesis for each utterance. It is driven from a single reader
// goroutine per session; the state word exists to reject audio that arrives
// while a turn is in flight, not to serialize callers.
type Orchestrator struct {
	sessionID string
	cfg       config.ChatConfig
	sttGw     *stt.Gateway
	replies   *llm.ReplyGenerator
	synth     tts.Synthesizer
	history   *conversation.History
	state     atomic.Int32
	log       *slog.Logger
	observers []Observer
	metrics   *turnMetrics
}

func NewOrchestrator(sessionID string, cfg config.ChatConfig, sttGw *stt.Gateway, replies *llm.ReplyGenerator, synth tts.Synthesizer, log *slog.Logger, observers ...Observer) *Orchestrator {
	return &Orchestrator{
		sessionID: sessionID,
		cfg:       cfg,
		sttGw:     sttGw,
		replies:   replies,
		synth:     synth,
		history:   conversation.NewHistory(),
		log:       log.With(slog.String("component", "turn"), slog.String("session_id", sessionID)),
		observers: observers,
		metrics:   newTurnMetrics(),
	}
}

func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

func (o *Orchestrator) History() *conversation.History {
	return o.history
}

// HandleUtterance runs one full turn over a complete utterance recording.
// Collaborator failures are converted into exactly one client-visible event
// and never returned; the only non-nil results are transport errors from the
// sink or context cancellation, both of which mean the session is over.
func (o *Orchestrator) HandleUtterance(ctx context.Context, audio []byte, sink Sink) error {
	if !o.state.CompareAndSwap(int32(StateIdle), int32(StateAwaitingTranscription)) {
		return sink.Event(protocol.ErrorEvent(msgTurnInProgress))
	}
	turnID := uuid.NewString()
	defer o.setState(ctx, turnID, StateIdle)
	o.notifyState(ctx, turnID, StateAwaitingTranscription)

	text, err := o.transcribe(ctx, audio)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		o.metrics.recordTurn(ctx, "transcription_failed")
		return sink.Event(protocol.ErrorEvent(msgCouldNotUnderstand))
	}
	if text == "" {
		o.metrics.recordTurn(ctx, "no_speech")
		return sink.Event(protocol.ErrorEvent(msgCouldNotUnderstand))
	}

	if err := sink.Event(protocol.Transcription(text, string(conversation.RoleUser))); err != nil {
		return err
	}
	if err := o.history.AppendUser(text); err != nil {
		o.log.Error("user utterance rejected by history", slog.String("error", err.Error()))
		o.metrics.recordTurn(ctx, "history_conflict")
		return sink.Event(protocol.ErrorEvent(msgTurnInProgress))
	}
	o.notifyUtterance(ctx, conversation.RoleUser, text)

	o.setState(ctx, turnID, StateThinking)
	if err := sink.Event(protocol.Status(protocol.StatusThinking)); err != nil {
		return err
	}

	reply, err := o.generate(ctx, sink)
	if err != nil {
		return err
	}

	o.setState(ctx, turnID, StateSpeaking)
	if err := sink.Event(protocol.Status(protocol.StatusSpeaking)); err != nil {
		return err
	}

	if err := o.speak(ctx, reply, sink); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if transportErr, ok := err.(*sinkError); ok {
			return transportErr.err
		}
		o.log.Warn("synthesis failed", slog.String("error", err.Error()))
		o.metrics.recordTurn(ctx, "synthesis_failed")
		// The textual reply already reached the client, so it is committed
		// even though audio did not complete; this keeps history alternation
		// intact for the next turn.
		o.commitAssistant(ctx, reply)
		return sink.Event(protocol.ErrorEvent(msgSynthesisFailed))
	}

	o.commitAssistant(ctx, reply)
	if err := sink.Event(protocol.ResponseDone()); err != nil {
		return err
	}
	if err := sink.Event(protocol.Status(protocol.StatusListening)); err != nil {
		return err
	}
	o.metrics.recordTurn(ctx, "ok")
	return nil
}

func (o *Orchestrator) transcribe(ctx context.Context, audio []byte) (string, error) {
	sttCtx, cancel := context.WithTimeout(ctx, time.Duration(o.cfg.STTTimeoutMS)*time.Millisecond)
	defer cancel()
	start := time.Now()
	defer o.metrics.recordStage(ctx, "stt", start)
	return o.sttGw.Transcribe(sttCtx, audio)
}

// generate streams reply fragments to the client while accumulating the
// full reply. The accumulator is scratch state; nothing reaches history
// until the turn commits. The reply generator applies the LLM stage timeout
// itself, converting a slow provider into the fallback reply.
func (o *Orchestrator) generate(ctx context.Context, sink Sink) (string, error) {
	start := time.Now()
	defer o.metrics.recordStage(ctx, "llm", start)

	var accumulated strings.Builder
	err := o.replies.Stream(ctx, o.history.Snapshot(), func(fragment string) error {
		accumulated.WriteString(fragment)
		return sink.Event(protocol.TextDelta(fragment))
	})
	if err != nil {
		return "", err
	}

	reply := accumulated.String()
	if strings.TrimSpace(reply) == "" {
		// A stream can succeed having produced nothing. Left alone, the
		// empty reply fails synthesis, nothing is committed, and history
		// ends on a user entry that blocks every later turn. Substitute
		// the fallback so the turn commits and alternation holds.
		o.log.Warn("empty reply from generator, using fallback")
		reply = o.cfg.FallbackReply
		if err := sink.Event(protocol.TextDelta(reply)); err != nil {
			return "", err
		}
	}
	return reply, nil
}

// sinkError wraps a transport failure raised while forwarding audio, so the
// caller can tell it apart from a synthesis failure.
type sinkError struct {
	err error
}

func (e *sinkError) Error() string { return e.err.Error() }
func (e *sinkError) Unwrap() error { return e.err }

func (o *Orchestrator) speak(ctx context.Context, text string, sink Sink) error {
	ttsCtx, cancel := context.WithTimeout(ctx, time.Duration(o.cfg.TTSTimeoutMS)*time.Millisecond)
	defer cancel()
	start := time.Now()
	defer o.metrics.recordStage(ctx, "tts", start)

	chunks, errs := o.synth.Synthesize(ttsCtx, tts.Request{Text: text})
	for chunks != nil || errs != nil {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			if err := sink.Audio(chunk.PCM); err != nil {
				cancel()
				drain(chunks, errs)
				return &sinkError{err: err}
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				cancel()
				drain(chunks, errs)
				return err
			}
		case <-ctx.Done():
			drain(chunks, errs)
			return ctx.Err()
		}
	}
	return nil
}

// drain lets the synthesizer goroutine finish after an early exit so it can
// release its provider session.
func drain(chunks <-chan tts.Chunk, errs <-chan error) {
	go func() {
		for chunks != nil || errs != nil {
			select {
			case _, ok := <-chunks:
				if !ok {
					chunks = nil
				}
			case _, ok := <-errs:
				if !ok {
					errs = nil
				}
			}
		}
	}()
}

func (o *Orchestrator) commitAssistant(ctx context.Context, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	if err := o.history.AppendAssistant(text); err != nil {
		o.log.Error("assistant reply rejected by history", slog.String("error", err.Error()))
		return
	}
	o.notifyUtterance(ctx, conversation.RoleAssistant, text)
}

func (o *Orchestrator) setState(ctx context.Context, turnID string, s State) {
	o.state.Store(int32(s))
	o.notifyState(ctx, turnID, s)
}

func (o *Orchestrator) notifyState(ctx context.Context, turnID string, s State) {
	for _, obs := range o.observers {
		obs.OnStateChange(ctx, o.sessionID, turnID, s)
	}
}

func (o *Orchestrator) notifyUtterance(ctx context.Context, role conversation.Role, text string) {
	for _, obs := range o.observers {
		obs.OnUtterance(ctx, o.sessionID, role, text)
	}
}
