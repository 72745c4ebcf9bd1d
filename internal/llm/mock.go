package llm

import (
	"context"
	"strings"
	"time"
)

type mockGenerator struct{}

func NewMockGenerator() Generator { return &mockGenerator{} }

func (m *mockGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(20 * time.Millisecond):
	}
	prompt := ""
	if len(req.Messages) > 0 {
		prompt = req.Messages[len(req.Messages)-1].Content
	}
	content := "[mock reply to " + strings.TrimSpace(prompt) + "]"
	if err := consumer(Chunk{Content: content, Latency: 20 * time.Millisecond}); err != nil {
		return err
	}
	return consumer(Chunk{Done: true})
}
