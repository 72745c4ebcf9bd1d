package tts

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/parleylabs/parley-core/internal/config"
)

// websocketSynth speaks the t2a websocket protocol: a handshake, a task
// lifecycle (task_start / task_continue / task_finish) and hex-encoded audio
// frames until the server marks the result final. One provider session is
// opened per request and always closed before the channels are.
type websocketSynth struct {
	cfg config.TTSConfig
}

func NewWebsocketSynth(cfg config.TTSConfig) Synthesizer {
	return &websocketSynth{cfg: cfg}
}

type wsTaskStart struct {
	Event        string         `json:"event"`
	Model        string         `json:"model"`
	VoiceSetting wsVoiceSetting `json:"voice_setting"`
	AudioSetting wsAudioSetting `json:"audio_setting"`
}

type wsVoiceSetting struct {
	VoiceID string  `json:"voice_id"`
	Speed   float64 `json:"speed"`
	Volume  float64 `json:"vol"`
	Pitch   int     `json:"pitch"`
}

type wsAudioSetting struct {
	SampleRate int    `json:"sample_rate"`
	Format     string `json:"format"`
	Channel    int    `json:"channel"`
}

type wsServerMessage struct {
	Event string `json:"event"`
	Data  struct {
		Audio string `json:"audio"`
	} `json:"data"`
	IsFinal bool `json:"is_final"`
}

func (s *websocketSynth) Synthesize(ctx context.Context, req Request) (<-chan Chunk, <-chan error) {
	if emptyText(req.Text) {
		return failNow(ErrEmptyText)
	}

	chunks := make(chan Chunk)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)

		header := http.Header{}
		if s.cfg.APIKey != "" {
			header.Set("Authorization", "Bearer "+s.cfg.APIKey)
		}
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.cfg.Endpoint, header)
		if err != nil {
			errs <- fmt.Errorf("dial tts endpoint: %w", err)
			return
		}
		defer conn.Close()

		// Unblock pending reads when the caller goes away.
		stop := context.AfterFunc(ctx, func() { conn.Close() })
		defer stop()

		var handshake wsServerMessage
		if err := conn.ReadJSON(&handshake); err != nil {
			errs <- fmt.Errorf("read tts handshake: %w", err)
			return
		}
		if handshake.Event != "connected_success" {
			errs <- fmt.Errorf("tts session rejected: %q", handshake.Event)
			return
		}

		voice := req.Voice
		if voice == "" {
			voice = s.cfg.Voice
		}
		start := wsTaskStart{
			Event: "task_start",
			Model: s.cfg.Model,
			VoiceSetting: wsVoiceSetting{
				VoiceID: voice,
				Speed:   1,
				Volume:  1,
			},
			AudioSetting: wsAudioSetting{
				SampleRate: s.cfg.SampleRate,
				Format:     "pcm",
				Channel:    s.cfg.Channels,
			},
		}
		if err := conn.WriteJSON(start); err != nil {
			errs <- fmt.Errorf("start tts task: %w", err)
			return
		}
		var started wsServerMessage
		if err := conn.ReadJSON(&started); err != nil {
			errs <- fmt.Errorf("read tts task status: %w", err)
			return
		}
		if started.Event != "task_started" {
			errs <- fmt.Errorf("tts task did not start: %q", started.Event)
			return
		}

		if err := conn.WriteJSON(map[string]string{"event": "task_continue", "text": req.Text}); err != nil {
			errs <- fmt.Errorf("send tts text: %w", err)
			return
		}

		sequence := 0
		for {
			var msg wsServerMessage
			if err := conn.ReadJSON(&msg); err != nil {
				if ctx.Err() != nil {
					errs <- ctx.Err()
				} else {
					errs <- fmt.Errorf("read tts audio: %w", err)
				}
				return
			}
			if msg.Data.Audio != "" {
				pcm, err := hex.DecodeString(msg.Data.Audio)
				if err != nil {
					errs <- fmt.Errorf("decode tts audio: %w", err)
					return
				}
				select {
				case chunks <- Chunk{
					Sequence:   sequence,
					SampleRate: s.cfg.SampleRate,
					Channels:   s.cfg.Channels,
					PCM:        pcm,
					Final:      msg.IsFinal,
				}:
				case <-ctx.Done():
					errs <- ctx.Err()
					return
				}
				sequence++
			}
			if msg.IsFinal {
				break
			}
		}

		_ = conn.WriteJSON(map[string]string{"event": "task_finish"})
	}()
	return chunks, errs
}
