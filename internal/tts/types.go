package tts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/parleylabs/parley-core/internal/config"
)

// ErrEmptyText is reported before any provider dispatch when the input text
// is empty or whitespace.
var ErrEmptyText = errors.New("tts: input text is empty")

// Request contains parameters to synthesize speech.
type Request struct {
	Text  string
	Voice string
}

// Chunk contains PCM data.
type Chunk struct {
	Sequence   int
	SampleRate int
	Channels   int
	PCM        []byte
	Final      bool
}

// Synthesizer is the contract for producing audio. Chunks arrive in
// generation order; both channels are closed when synthesis ends. Any
// provider session opened for a request is closed before the channels are.
type Synthesizer interface {
	Synthesize(ctx context.Context, req Request) (<-chan Chunk, <-chan error)
}

// New builds a synthesizer for the configured mode.
func New(cfg config.TTSConfig) (Synthesizer, error) {
	switch cfg.Mode {
	case "mock":
		return NewMockSynth(cfg.SampleRate, cfg.Channels), nil
	case "exec":
		return NewExecSynth(cfg.Command, cfg.SampleRate, cfg.Channels)
	case "websocket":
		return NewWebsocketSynth(cfg), nil
	default:
		return nil, fmt.Errorf("unknown tts mode %q", cfg.Mode)
	}
}

// failNow returns closed channels carrying a single pre-dispatch error.
func failNow(err error) (<-chan Chunk, <-chan error) {
	chunks := make(chan Chunk)
	errs := make(chan error, 1)
	errs <- err
	close(chunks)
	close(errs)
	return chunks, errs
}

func emptyText(text string) bool {
	return strings.TrimSpace(text) == ""
}
