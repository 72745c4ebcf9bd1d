package tts

import "context"

// Collect drains a synthesis into one contiguous PCM buffer. Used by the
// batch speech endpoint, where latency does not matter.
func Collect(ctx context.Context, synth Synthesizer, req Request) ([]byte, error) {
	chunks, errs := synth.Synthesize(ctx, req)
	var pcm []byte
	for chunks != nil || errs != nil {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			pcm = append(pcm, chunk.PCM...)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				return nil, err
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return pcm, nil
}
