package stt

import (
	"context"
	"log/slog"
	"strings"
)

// Gateway wraps a Recognizer for the turn orchestrator. A provider failure
// and a "no speech detected" result lead to the same client-visible outcome,
// but the gateway keeps them apart so they are logged distinctly.
type Gateway struct {
	rec Recognizer
	log *slog.Logger
}

func NewGateway(rec Recognizer, log *slog.Logger) *Gateway {
	return &Gateway{rec: rec, log: log.With(slog.String("component", "stt-gateway"))}
}

// Transcribe returns the recognized utterance text. Empty text with a nil
// error means nothing intelligible was detected.
func (g *Gateway) Transcribe(ctx context.Context, pcm []byte) (string, error) {
	result, err := g.rec.Transcribe(ctx, pcm)
	if err != nil {
		g.log.Warn("transcription provider failed", slog.String("error", err.Error()))
		return "", err
	}
	text := strings.TrimSpace(result.Text)
	if text == "" {
		g.log.Info("no speech detected", slog.Int("audio_bytes", len(pcm)))
	}
	return text, nil
}
