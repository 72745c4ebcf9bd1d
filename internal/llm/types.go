package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/parleylabs/parley-core/internal/config"
	"github.com/parleylabs/parley-core/internal/conversation"
)

// Request describes a chat completion over ordered conversation history.
type Request struct {
	Messages    []conversation.Utterance
	Model       string
	MaxTokens   int
	Temperature float64
}

// Chunk represents streamed model output.
type Chunk struct {
	Content string
	Done    bool
	Latency time.Duration
}

// Generator defines a pluggable LLM backend. Chunks are delivered to the
// consumer in production order; a consumer error aborts generation.
type Generator interface {
	Generate(ctx context.Context, req Request, consumer func(Chunk) error) error
}

// New builds a generator for the configured mode.
func New(cfg config.LLMConfig) (Generator, error) {
	switch cfg.Mode {
	case "mock":
		return NewMockGenerator(), nil
	case "ollama":
		return NewOllamaGenerator(cfg.Endpoint, cfg.Model), nil
	case "exec":
		return NewExecGenerator(cfg.Command)
	default:
		return nil, fmt.Errorf("unknown llm mode %q", cfg.Mode)
	}
}

func requestFromConfig(cfg config.LLMConfig, messages []conversation.Utterance) Request {
	return Request{
		Messages:    messages,
		Model:       cfg.Model,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
	}
}
