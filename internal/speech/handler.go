// Package speech serves the batch text-to-audio endpoint. Unlike the live
// chat path it is stateless request/response: synthesize the whole text,
// return the audio in one payload with an estimated subtitle timeline.
package speech

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/parleylabs/parley-core/internal/config"
	"github.com/parleylabs/parley-core/internal/subtitle"
	"github.com/parleylabs/parley-core/internal/tts"
)

const (
	FormatPCM = "pcm"
	FormatWAV = "wav"
)

type request struct {
	Text   string `json:"text"`
	Voice  string `json:"voice,omitempty"`
	Format string `json:"format,omitempty"`
}

type response struct {
	Audio      string           `json:"audio"`
	Format     string           `json:"format"`
	SampleRate int              `json:"sample_rate"`
	Channels   int              `json:"channels"`
	Duration   float64          `json:"duration_seconds"`
	Subtitles  []subtitle.Entry `json:"subtitles"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handler serves POST /v1/speech.
type Handler struct {
	synth tts.Synthesizer
	cfg   config.TTSConfig
	log   *slog.Logger
}

func NewHandler(synth tts.Synthesizer, cfg config.TTSConfig, log *slog.Logger) *Handler {
	return &Handler{
		synth: synth,
		cfg:   cfg,
		log:   log.With(slog.String("component", "speech")),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	format := req.Format
	if format == "" {
		format = FormatPCM
	}
	if format != FormatPCM && format != FormatWAV {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported format %q", format))
		return
	}

	pcm, err := tts.Collect(r.Context(), h.synth, tts.Request{Text: req.Text, Voice: req.Voice})
	if err != nil {
		if errors.Is(err, tts.ErrEmptyText) {
			writeError(w, http.StatusBadRequest, "text is required")
			return
		}
		h.log.Warn("batch synthesis failed", slog.String("error", err.Error()))
		writeError(w, http.StatusBadGateway, "speech synthesis failed")
		return
	}
	if len(pcm) == 0 {
		writeError(w, http.StatusBadGateway, "synthesizer produced no audio")
		return
	}

	sampleRate := h.cfg.SampleRate
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	channels := h.cfg.Channels
	if channels <= 0 {
		channels = 1
	}
	duration := pcmDuration(len(pcm), sampleRate, channels)

	payload := pcm
	if format == FormatWAV {
		payload, err = encodeWAV(pcm, sampleRate, channels)
		if err != nil {
			h.log.Error("wav encode failed", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "audio encoding failed")
			return
		}
	}

	resp := response{
		Audio:      base64.StdEncoding.EncodeToString(payload),
		Format:     format,
		SampleRate: sampleRate,
		Channels:   channels,
		Duration:   duration,
		Subtitles:  subtitle.Timeline(req.Text, duration),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// pcmDuration is for 16-bit little-endian samples, the only format the
// synthesizer backends produce.
func pcmDuration(byteLen, sampleRate, channels int) float64 {
	return float64(byteLen) / float64(sampleRate*channels*2)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: message})
}

// encodeWAV wraps raw PCM in a WAV container. The wav encoder needs a
// seekable writer to backfill lengths, so this goes through a temp file.
func encodeWAV(pcm []byte, sampleRate, channels int) ([]byte, error) {
	file, err := os.CreateTemp("", "parley_speech_*.wav")
	if err != nil {
		return nil, fmt.Errorf("temp file: %w", err)
	}
	path := file.Name()
	defer os.Remove(path)

	if err := writePCMToWav(file, pcm, sampleRate, channels); err != nil {
		file.Close()
		return nil, err
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("close wav: %w", err)
	}
	return os.ReadFile(path)
}
