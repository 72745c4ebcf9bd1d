package llm

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/parleylabs/parley-core/internal/config"
	"github.com/parleylabs/parley-core/internal/conversation"
)

// ReplyGenerator turns conversation history into an ordered stream of reply
// fragments. Provider failures never escape it: on any failure, including
// mid-stream or the stage timeout, it emits the configured fallback fragment
// once and reports success, so a broken model never strands a turn. Errors
// returned by the emit callback itself (client gone) and cancellation of the
// caller's context do propagate.
type ReplyGenerator struct {
	gen      Generator
	cfg      config.LLMConfig
	persona  string
	fallback string
	timeout  time.Duration
	log      *slog.Logger
}

func NewReplyGenerator(gen Generator, cfg config.LLMConfig, chat config.ChatConfig, log *slog.Logger) *ReplyGenerator {
	return &ReplyGenerator{
		gen:      gen,
		cfg:      cfg,
		persona:  chat.Persona,
		fallback: chat.FallbackReply,
		timeout:  time.Duration(chat.LLMTimeoutMS) * time.Millisecond,
		log:      log.With(slog.String("component", "reply-generator")),
	}
}

// emitFailure marks errors raised by the emit callback so they are not
// mistaken for provider failures.
type emitFailure struct {
	err error
}

func (e *emitFailure) Error() string { return e.err.Error() }
func (e *emitFailure) Unwrap() error { return e.err }

// Stream generates a reply over history, invoking emit for each fragment in
// production order. The persona is injected as a leading system message when
// the history lacks one; the injection is never persisted by the caller's
// history. The stage timeout is applied here, on a child context, so a slow
// provider becomes a fallback reply rather than an error on ctx itself.
func (r *ReplyGenerator) Stream(ctx context.Context, history []conversation.Utterance, emit func(fragment string) error) error {
	messages := history
	if len(messages) == 0 || messages[0].Role != conversation.RoleSystem {
		withPersona := make([]conversation.Utterance, 0, len(messages)+1)
		withPersona = append(withPersona, conversation.Utterance{Role: conversation.RoleSystem, Content: r.persona})
		messages = append(withPersona, messages...)
	}

	stageCtx := ctx
	cancel := func() {}
	if r.timeout > 0 {
		stageCtx, cancel = context.WithTimeout(ctx, r.timeout)
	}
	defer cancel()

	err := r.gen.Generate(stageCtx, requestFromConfig(r.cfg, messages), func(chunk Chunk) error {
		if chunk.Content == "" {
			return nil
		}
		if err := emit(chunk.Content); err != nil {
			return &emitFailure{err: err}
		}
		return nil
	})
	if err == nil {
		return nil
	}

	var ef *emitFailure
	if errors.As(err, &ef) {
		return ef.err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	r.log.Warn("reply generation failed, using fallback", slog.String("error", err.Error()))
	return emit(r.fallback)
}
