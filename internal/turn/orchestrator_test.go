package turn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/parleylabs/parley-core/internal/config"
	"github.com/parleylabs/parley-core/internal/conversation"
	"github.com/parleylabs/parley-core/internal/llm"
	"github.com/parleylabs/parley-core/internal/protocol"
	"github.com/parleylabs/parley-core/internal/stt"
	"github.com/parleylabs/parley-core/internal/tts"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testChatConfig() config.ChatConfig {
	return config.ChatConfig{
		Persona:       "You are an interviewer.",
		FallbackReply: "I'm sorry, I'm having trouble thinking right now.",
		STTTimeoutMS:  5000,
		LLMTimeoutMS:  5000,
		TTSTimeoutMS:  5000,
	}
}

type fakeRecognizer struct {
	text   string
	err    error
	called int
}

func (f *fakeRecognizer) Transcribe(context.Context, []byte) (stt.Result, error) {
	f.called++
	return stt.Result{Text: f.text}, f.err
}

type fakeGenerator struct {
	fragments []string
	failAfter int // fail after this many fragments; -1 means never
	called    int
}

func (f *fakeGenerator) Generate(_ context.Context, _ llm.Request, consumer func(llm.Chunk) error) error {
	f.called++
	for i, frag := range f.fragments {
		if f.failAfter >= 0 && i == f.failAfter {
			return errors.New("provider failure")
		}
		if err := consumer(llm.Chunk{Content: frag}); err != nil {
			return err
		}
	}
	if f.failAfter >= 0 && f.failAfter >= len(f.fragments) {
		return errors.New("provider failure")
	}
	return consumer(llm.Chunk{Done: true})
}

type failingSynth struct{}

func (failingSynth) Synthesize(_ context.Context, req tts.Request) (<-chan tts.Chunk, <-chan error) {
	chunks := make(chan tts.Chunk, 1)
	errs := make(chan error, 1)
	if strings.TrimSpace(req.Text) == "" {
		errs <- tts.ErrEmptyText
	} else {
		chunks <- tts.Chunk{PCM: make([]byte, 8)}
		errs <- errors.New("provider unreachable")
	}
	close(chunks)
	close(errs)
	return chunks, errs
}

// frame records one outbound item, either an event or an audio chunk.
type frame struct {
	event *protocol.ServerEvent
	audio []byte
}

type recordingSink struct {
	frames  []frame
	failOn  string // event type that triggers a send error
	sendErr error
}

func (s *recordingSink) Event(ev protocol.ServerEvent) error {
	if s.failOn != "" && ev.Type == s.failOn {
		return s.sendErr
	}
	s.frames = append(s.frames, frame{event: &ev})
	return nil
}

func (s *recordingSink) Audio(chunk []byte) error {
	s.frames = append(s.frames, frame{audio: chunk})
	return nil
}

func (s *recordingSink) kinds() []string {
	out := make([]string, 0, len(s.frames))
	for _, f := range s.frames {
		if f.event != nil {
			out = append(out, f.event.Type)
		} else {
			out = append(out, "audio")
		}
	}
	return out
}

func (s *recordingSink) deltas() string {
	var sb strings.Builder
	for _, f := range s.frames {
		if f.event != nil && f.event.Type == protocol.EventTextDelta {
			sb.WriteString(f.event.Delta)
		}
	}
	return sb.String()
}

func newTestOrchestrator(rec stt.Recognizer, gen llm.Generator, synth tts.Synthesizer, observers ...Observer) *Orchestrator {
	log := discardLogger()
	chat := testChatConfig()
	return NewOrchestrator(
		"session-1",
		chat,
		stt.NewGateway(rec, log),
		llm.NewReplyGenerator(gen, config.LLMConfig{}, chat, log),
		synth,
		log,
		observers...,
	)
}

func TestHappyPathEventOrder(t *testing.T) {
	gen := &fakeGenerator{fragments: []string{"My name ", "is Ada."}, failAfter: -1}
	o := newTestOrchestrator(&fakeRecognizer{text: "What is your name?"}, gen, tts.NewMockSynth(16000, 1))
	sink := &recordingSink{}

	if err := o.HandleUtterance(context.Background(), []byte{1, 2, 3}, sink); err != nil {
		t.Fatalf("turn failed: %v", err)
	}

	want := []string{
		protocol.EventTranscription,
		protocol.EventStatus, // thinking
		protocol.EventTextDelta,
		protocol.EventTextDelta,
		protocol.EventStatus, // speaking
		"audio",
		"audio",
		protocol.EventResponseDone,
		protocol.EventStatus, // listening
	}
	got := sink.kinds()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("event order mismatch:\n got %v\nwant %v", got, want)
	}

	first := sink.frames[0].event
	if first.Text != "What is your name?" || first.Role != "user" {
		t.Fatalf("unexpected transcription frame: %+v", first)
	}
	statuses := []string{}
	for _, f := range sink.frames {
		if f.event != nil && f.event.Type == protocol.EventStatus {
			statuses = append(statuses, f.event.Status)
		}
	}
	if fmt.Sprint(statuses) != fmt.Sprint([]string{"thinking", "speaking", "listening"}) {
		t.Fatalf("unexpected status sequence %v", statuses)
	}

	snap := o.History().Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(snap))
	}
	if snap[0].Role != conversation.RoleUser || snap[1].Role != conversation.RoleAssistant {
		t.Fatalf("unexpected roles %v", snap)
	}
	if sink.deltas() != snap[1].Content {
		t.Fatalf("delta concatenation %q != committed reply %q", sink.deltas(), snap[1].Content)
	}
	if o.State() != StateIdle {
		t.Fatalf("expected idle state, got %v", o.State())
	}
}

func TestSilentAudioShortCircuits(t *testing.T) {
	gen := &fakeGenerator{fragments: []string{"never"}, failAfter: -1}
	o := newTestOrchestrator(&fakeRecognizer{text: "   "}, gen, tts.NewMockSynth(16000, 1))
	sink := &recordingSink{}

	if err := o.HandleUtterance(context.Background(), []byte{1}, sink); err != nil {
		t.Fatalf("turn failed: %v", err)
	}
	if len(sink.frames) != 1 || sink.frames[0].event.Type != protocol.EventError {
		t.Fatalf("expected exactly one error event, got %v", sink.kinds())
	}
	if sink.frames[0].event.Message != "could not understand audio" {
		t.Fatalf("unexpected message %q", sink.frames[0].event.Message)
	}
	if o.History().Len() != 0 {
		t.Fatal("silent audio must not mutate history")
	}
	if gen.called != 0 {
		t.Fatal("reply generator must not run for silent audio")
	}
	if o.State() != StateIdle {
		t.Fatalf("expected idle state, got %v", o.State())
	}
}

func TestProviderErrorLooksLikeSilence(t *testing.T) {
	o := newTestOrchestrator(&fakeRecognizer{err: errors.New("asr down")}, &fakeGenerator{failAfter: -1}, tts.NewMockSynth(16000, 1))
	sink := &recordingSink{}

	if err := o.HandleUtterance(context.Background(), []byte{1}, sink); err != nil {
		t.Fatalf("turn failed: %v", err)
	}
	if len(sink.frames) != 1 || sink.frames[0].event.Message != "could not understand audio" {
		t.Fatalf("expected single could-not-understand error, got %v", sink.frames)
	}
	if o.History().Len() != 0 {
		t.Fatal("failed transcription must not mutate history")
	}
}

func TestBusyTurnRejected(t *testing.T) {
	o := newTestOrchestrator(&fakeRecognizer{text: "hi"}, &fakeGenerator{failAfter: -1}, tts.NewMockSynth(16000, 1))
	o.state.Store(int32(StateThinking))
	sink := &recordingSink{}

	if err := o.HandleUtterance(context.Background(), []byte{1}, sink); err != nil {
		t.Fatalf("turn failed: %v", err)
	}
	if len(sink.frames) != 1 || sink.frames[0].event.Message != "turn in progress" {
		t.Fatalf("expected turn-in-progress rejection, got %v", sink.frames)
	}
	if o.State() != StateThinking {
		t.Fatal("rejection must not disturb the in-flight turn state")
	}
}

func TestGeneratorFailureFallsBackAndCompletes(t *testing.T) {
	gen := &fakeGenerator{failAfter: 0}
	o := newTestOrchestrator(&fakeRecognizer{text: "hello"}, gen, tts.NewMockSynth(16000, 1))
	sink := &recordingSink{}

	if err := o.HandleUtterance(context.Background(), []byte{1}, sink); err != nil {
		t.Fatalf("turn failed: %v", err)
	}

	fallback := testChatConfig().FallbackReply
	if sink.deltas() != fallback {
		t.Fatalf("expected only fallback delta, got %q", sink.deltas())
	}
	kinds := sink.kinds()
	if kinds[len(kinds)-2] != protocol.EventResponseDone {
		t.Fatalf("expected turn to complete normally, got %v", kinds)
	}
	snap := o.History().Snapshot()
	if len(snap) != 2 || snap[1].Content != fallback {
		t.Fatalf("expected fallback committed as assistant reply, got %v", snap)
	}
}

func TestSynthesisFailureEndsTurnWithError(t *testing.T) {
	gen := &fakeGenerator{fragments: []string{"Here is my reply."}, failAfter: -1}
	o := newTestOrchestrator(&fakeRecognizer{text: "hello"}, gen, failingSynth{})
	sink := &recordingSink{}

	if err := o.HandleUtterance(context.Background(), []byte{1}, sink); err != nil {
		t.Fatalf("turn failed: %v", err)
	}

	kinds := sink.kinds()
	last := sink.frames[len(sink.frames)-1].event
	if last == nil || last.Type != protocol.EventError || last.Message != "speech synthesis failed" {
		t.Fatalf("expected trailing synthesis error, got %v", kinds)
	}
	for _, k := range kinds {
		if k == protocol.EventResponseDone {
			t.Fatalf("response_done must not follow a failed synthesis: %v", kinds)
		}
	}
	// The textual reply reached the client, so it stays in history.
	snap := o.History().Snapshot()
	if len(snap) != 2 || snap[1].Content != "Here is my reply." {
		t.Fatalf("expected reply committed, got %v", snap)
	}
	if o.State() != StateIdle {
		t.Fatalf("expected idle state, got %v", o.State())
	}
}

func TestAudioNeverPrecedesSpeakingStatus(t *testing.T) {
	gen := &fakeGenerator{fragments: []string{"Reply."}, failAfter: -1}
	o := newTestOrchestrator(&fakeRecognizer{text: "hello"}, gen, tts.NewMockSynth(16000, 1))
	sink := &recordingSink{}

	if err := o.HandleUtterance(context.Background(), []byte{1}, sink); err != nil {
		t.Fatalf("turn failed: %v", err)
	}

	sawSpeaking := false
	doneAfterAudio := false
	audioSeen := 0
	for _, f := range sink.frames {
		switch {
		case f.audio != nil:
			if !sawSpeaking {
				t.Fatal("audio emitted before speaking status")
			}
			audioSeen++
		case f.event.Type == protocol.EventStatus && f.event.Status == protocol.StatusSpeaking:
			sawSpeaking = true
		case f.event.Type == protocol.EventResponseDone:
			doneAfterAudio = audioSeen > 0
		}
	}
	if !doneAfterAudio {
		t.Fatal("response_done must follow the audio stream")
	}
}

func TestHistoryGrowsTwoPerTurn(t *testing.T) {
	gen := &fakeGenerator{fragments: []string{"Sure."}, failAfter: -1}
	o := newTestOrchestrator(&fakeRecognizer{text: "hello"}, gen, tts.NewMockSynth(16000, 1))

	for i := 0; i < 3; i++ {
		if err := o.HandleUtterance(context.Background(), []byte{1}, &recordingSink{}); err != nil {
			t.Fatalf("turn %d failed: %v", i, err)
		}
	}
	snap := o.History().Snapshot()
	if len(snap) != 6 {
		t.Fatalf("expected 6 entries after 3 turns, got %d", len(snap))
	}
	for i, u := range snap {
		wantRole := conversation.RoleUser
		if i%2 == 1 {
			wantRole = conversation.RoleAssistant
		}
		if u.Role != wantRole {
			t.Fatalf("entry %d role %q, want %q", i, u.Role, wantRole)
		}
	}
}

type captureObserver struct {
	utterances []string
	states     []string
}

func (c *captureObserver) OnUtterance(_ context.Context, _ string, role conversation.Role, text string) {
	c.utterances = append(c.utterances, string(role)+":"+text)
}

func (c *captureObserver) OnStateChange(_ context.Context, _, _ string, state State) {
	c.states = append(c.states, state.String())
}

func TestObserversSeeCommittedUtterances(t *testing.T) {
	obs := &captureObserver{}
	gen := &fakeGenerator{fragments: []string{"Hi!"}, failAfter: -1}
	o := newTestOrchestrator(&fakeRecognizer{text: "hello"}, gen, tts.NewMockSynth(16000, 1), obs)

	if err := o.HandleUtterance(context.Background(), []byte{1}, &recordingSink{}); err != nil {
		t.Fatalf("turn failed: %v", err)
	}
	if len(obs.utterances) != 2 || obs.utterances[0] != "user:hello" || obs.utterances[1] != "assistant:Hi!" {
		t.Fatalf("unexpected observed utterances %v", obs.utterances)
	}
	if len(obs.states) == 0 || obs.states[len(obs.states)-1] != "idle" {
		t.Fatalf("expected final idle state notification, got %v", obs.states)
	}
}

func TestTransportErrorAbandonsTurn(t *testing.T) {
	gen := &fakeGenerator{fragments: []string{"Hi!"}, failAfter: -1}
	o := newTestOrchestrator(&fakeRecognizer{text: "hello"}, gen, tts.NewMockSynth(16000, 1))

	wantErr := errors.New("connection closed")
	sink := &recordingSink{failOn: protocol.EventStatus, sendErr: wantErr}
	if err := o.HandleUtterance(context.Background(), []byte{1}, sink); !errors.Is(err, wantErr) {
		t.Fatalf("expected transport error to propagate, got %v", err)
	}
	if o.State() != StateIdle {
		t.Fatalf("expected idle state after abandon, got %v", o.State())
	}
}

type stalledGenerator struct{}

func (stalledGenerator) Generate(ctx context.Context, _ llm.Request, _ func(llm.Chunk) error) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestStalledGeneratorFallsBackWithinTurn(t *testing.T) {
	log := discardLogger()
	chat := testChatConfig()
	chat.LLMTimeoutMS = 30
	o := NewOrchestrator(
		"session-1",
		chat,
		stt.NewGateway(&fakeRecognizer{text: "hello"}, log),
		llm.NewReplyGenerator(stalledGenerator{}, config.LLMConfig{}, chat, log),
		tts.NewMockSynth(16000, 1),
		log,
	)
	sink := &recordingSink{}

	if err := o.HandleUtterance(context.Background(), []byte{1}, sink); err != nil {
		t.Fatalf("stalled generator must not end the session: %v", err)
	}
	if sink.deltas() != chat.FallbackReply {
		t.Fatalf("expected fallback delta, got %q", sink.deltas())
	}
	kinds := sink.kinds()
	if kinds[len(kinds)-2] != protocol.EventResponseDone {
		t.Fatalf("expected turn to complete normally, got %v", kinds)
	}
	snap := o.History().Snapshot()
	if len(snap) != 2 || snap[1].Content != chat.FallbackReply {
		t.Fatalf("expected fallback committed, got %v", snap)
	}
	if o.State() != StateIdle {
		t.Fatalf("expected idle state, got %v", o.State())
	}
}

func TestEmptyReplyDoesNotStrandSession(t *testing.T) {
	gen := &fakeGenerator{failAfter: -1} // succeeds without producing fragments
	o := newTestOrchestrator(&fakeRecognizer{text: "hello"}, gen, tts.NewMockSynth(16000, 1))
	fallback := testChatConfig().FallbackReply

	for i := 0; i < 2; i++ {
		sink := &recordingSink{}
		if err := o.HandleUtterance(context.Background(), []byte{1}, sink); err != nil {
			t.Fatalf("turn %d failed: %v", i, err)
		}
		for _, f := range sink.frames {
			if f.event != nil && f.event.Type == protocol.EventError {
				t.Fatalf("turn %d emitted an error event: %+v", i, f.event)
			}
		}
		if sink.deltas() != fallback {
			t.Fatalf("turn %d expected fallback delta, got %q", i, sink.deltas())
		}
		kinds := sink.kinds()
		if kinds[len(kinds)-2] != protocol.EventResponseDone {
			t.Fatalf("turn %d did not complete: %v", i, kinds)
		}
	}

	snap := o.History().Snapshot()
	if len(snap) != 4 {
		t.Fatalf("expected 4 history entries after 2 turns, got %d", len(snap))
	}
	if snap[1].Content != fallback || snap[3].Content != fallback {
		t.Fatalf("expected fallback committed each turn, got %v", snap)
	}
}
