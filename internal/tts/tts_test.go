package tts

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/parleylabs/parley-core/internal/config"
)

func TestEmptyTextRejectedBeforeDispatch(t *testing.T) {
	synth := NewMockSynth(16000, 1)
	chunks, errs := synth.Synthesize(context.Background(), Request{Text: "   "})

	select {
	case err := <-errs:
		if !errors.Is(err, ErrEmptyText) {
			t.Fatalf("expected ErrEmptyText, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for error")
	}
	if _, ok := <-chunks; ok {
		t.Fatal("expected no chunks for empty text")
	}
}

func TestWebsocketEmptyTextNeverDials(t *testing.T) {
	dialed := false
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		dialed = true
	}))
	defer srv.Close()

	synth := NewWebsocketSynth(config.TTSConfig{Endpoint: "ws" + strings.TrimPrefix(srv.URL, "http"), SampleRate: 32000, Channels: 1})
	_, errs := synth.Synthesize(context.Background(), Request{Text: ""})
	if err := <-errs; !errors.Is(err, ErrEmptyText) {
		t.Fatalf("expected ErrEmptyText, got %v", err)
	}
	if dialed {
		t.Fatal("empty text must be rejected before any provider call")
	}
}

func TestMockChunksInOrder(t *testing.T) {
	synth := NewMockSynth(16000, 1)
	chunks, errs := synth.Synthesize(context.Background(), Request{Text: "hello"})

	var got []Chunk
	for chunk := range chunks {
		got = append(got, chunk)
	}
	if err := <-errs; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(got))
	}
	if got[0].Sequence != 0 || got[1].Sequence != 1 || !got[1].Final {
		t.Fatalf("unexpected chunk order: %+v", got)
	}
}

func TestCollect(t *testing.T) {
	pcm, err := Collect(context.Background(), NewMockSynth(16000, 1), Request{Text: "hello"})
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(pcm) != 128 {
		t.Fatalf("expected 128 bytes, got %d", len(pcm))
	}
}

func TestWebsocketSynth(t *testing.T) {
	upgrader := websocket.Upgrader{}
	audio := [][]byte{make([]byte, 32), make([]byte, 48)}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		send := func(v any) {
			data, _ := json.Marshal(v)
			conn.WriteMessage(websocket.TextMessage, data)
		}

		send(map[string]any{"event": "connected_success"})

		var start map[string]any
		if err := conn.ReadJSON(&start); err != nil || start["event"] != "task_start" {
			t.Errorf("expected task_start, got %v (%v)", start, err)
			return
		}
		send(map[string]any{"event": "task_started"})

		var cont map[string]any
		if err := conn.ReadJSON(&cont); err != nil || cont["event"] != "task_continue" {
			t.Errorf("expected task_continue, got %v (%v)", cont, err)
			return
		}
		if cont["text"] != "Nice to meet you." {
			t.Errorf("unexpected text %v", cont["text"])
		}

		send(map[string]any{"data": map[string]any{"audio": hex.EncodeToString(audio[0])}})
		send(map[string]any{"data": map[string]any{"audio": hex.EncodeToString(audio[1])}, "is_final": true})

		var finish map[string]any
		_ = conn.ReadJSON(&finish)
	}))
	defer srv.Close()

	synth := NewWebsocketSynth(config.TTSConfig{
		Endpoint:   "ws" + strings.TrimPrefix(srv.URL, "http"),
		Voice:      "narrator",
		SampleRate: 32000,
		Channels:   1,
	})
	pcm, err := Collect(context.Background(), synth, Request{Text: "Nice to meet you."})
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(pcm) != 80 {
		t.Fatalf("expected 80 bytes, got %d", len(pcm))
	}
}

func TestWebsocketSynthRejectedSession(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		data, _ := json.Marshal(map[string]any{"event": "quota_exceeded"})
		conn.WriteMessage(websocket.TextMessage, data)
	}))
	defer srv.Close()

	synth := NewWebsocketSynth(config.TTSConfig{Endpoint: "ws" + strings.TrimPrefix(srv.URL, "http"), SampleRate: 32000, Channels: 1})
	if _, err := Collect(context.Background(), synth, Request{Text: "hi"}); err == nil {
		t.Fatal("expected error for rejected session")
	}
}
