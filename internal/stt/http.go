package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/parleylabs/parley-core/internal/config"
)

type httpRecognizer struct {
	cfg    config.STTConfig
	client *http.Client
}

type httpResponse struct {
	Sentences []struct {
		Text string `json:"text"`
	} `json:"sentences"`
}

// NewHTTPRecognizer talks to a paraformer-style REST endpoint that accepts a
// WAV upload and returns sentence-segmented text.
func NewHTTPRecognizer(cfg config.STTConfig) Recognizer {
	return &httpRecognizer{cfg: cfg, client: http.DefaultClient}
}

func (r *httpRecognizer) Transcribe(ctx context.Context, pcm []byte) (Result, error) {
	path, cleanup, err := writeTempWAV(pcm, r.cfg.SampleRate, r.cfg.Channels)
	if err != nil {
		return Result{}, err
	}
	defer cleanup()

	file, err := os.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("open wav: %w", err)
	}
	defer file.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.Endpoint, file)
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "audio/wav")
	if r.cfg.Language != "" {
		q := req.URL.Query()
		q.Set("language", r.cfg.Language)
		req.URL.RawQuery = q.Encode()
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("stt request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return Result{}, fmt.Errorf("stt endpoint returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var decoded httpResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Result{}, fmt.Errorf("decode stt response: %w", err)
	}
	var sb strings.Builder
	for _, s := range decoded.Sentences {
		sb.WriteString(s.Text)
	}
	return Result{Text: sb.String()}, nil
}
