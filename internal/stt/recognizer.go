package stt

import (
	"context"
	"fmt"

	"github.com/parleylabs/parley-core/internal/config"
)

// Result captures recognizer output. An empty Text with a nil error means
// no intelligible speech was detected, which is not a failure.
type Result struct {
	Text       string
	Confidence float64
}

// Recognizer abstracts STT backends. The pcm payload is one complete
// utterance recording, s16le at the configured sample rate.
type Recognizer interface {
	Transcribe(ctx context.Context, pcm []byte) (Result, error)
}

// New builds a recognizer for the configured mode.
func New(cfg config.STTConfig) (Recognizer, error) {
	switch cfg.Mode {
	case "mock":
		return NewMockRecognizer(), nil
	case "exec":
		return NewExecRecognizer(cfg)
	case "http":
		return NewHTTPRecognizer(cfg), nil
	default:
		return nil, fmt.Errorf("unknown stt mode %q", cfg.Mode)
	}
}
