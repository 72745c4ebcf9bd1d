package tts

import (
	"context"
	"time"
)

type mockSynth struct {
	sampleRate int
	channels   int
}

func NewMockSynth(sampleRate, channels int) Synthesizer {
	return &mockSynth{sampleRate: sampleRate, channels: channels}
}

func (m *mockSynth) Synthesize(ctx context.Context, req Request) (<-chan Chunk, <-chan error) {
	if emptyText(req.Text) {
		return failNow(ErrEmptyText)
	}
	chunks := make(chan Chunk, 2)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		select {
		case <-ctx.Done():
			errs <- ctx.Err()
			return
		case <-time.After(10 * time.Millisecond):
		}
		// Two tiny chunks so callers exercise ordering.
		chunks <- Chunk{
			Sequence:   0,
			SampleRate: m.sampleRate,
			Channels:   m.channels,
			PCM:        make([]byte, 64),
		}
		chunks <- Chunk{
			Sequence:   1,
			SampleRate: m.sampleRate,
			Channels:   m.channels,
			PCM:        make([]byte, 64),
			Final:      true,
		}
	}()
	return chunks, errs
}
