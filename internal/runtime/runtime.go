// Package runtime wires the conversation service together: providers,
// gateway, batch speech endpoint, transcript store, bus tap and telemetry,
// behind one HTTP server with a graceful drain path.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/parleylabs/parley-core/internal/bus"
	"github.com/parleylabs/parley-core/internal/config"
	"github.com/parleylabs/parley-core/internal/gateway"
	"github.com/parleylabs/parley-core/internal/llm"
	"github.com/parleylabs/parley-core/internal/speech"
	"github.com/parleylabs/parley-core/internal/stt"
	"github.com/parleylabs/parley-core/internal/transcript"
	"github.com/parleylabs/parley-core/internal/tts"
	"github.com/parleylabs/parley-core/internal/turn"
)

const drainTimeout = 10 * time.Second

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	registry    *gateway.Registry
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:      cfg,
		logger:   logger,
		registry: gateway.NewRegistry(),
	}
}

// Start runs the service until ctx is canceled, then drains live sessions
// and shuts everything down.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	recognizer, err := stt.New(r.cfg.STT)
	if err != nil {
		return fmt.Errorf("init stt: %w", err)
	}
	generator, err := llm.New(r.cfg.LLM)
	if err != nil {
		return fmt.Errorf("init llm: %w", err)
	}
	synth, err := tts.New(r.cfg.TTS)
	if err != nil {
		return fmt.Errorf("init tts: %w", err)
	}

	store, err := transcript.Open(ctx, r.cfg.Transcript, r.logger)
	if err != nil {
		return fmt.Errorf("open transcript store: %w", err)
	}
	defer store.Close()

	var observers []turn.Observer
	observers = append(observers, transcript.NewRecorder(store, r.logger))

	var busClient *bus.Client
	if r.cfg.Bus.Enabled {
		embedded, err := bus.StartEmbedded(r.cfg.Bus, r.logger)
		if err != nil {
			return fmt.Errorf("start embedded bus: %w", err)
		}
		defer embedded.Shutdown()

		busCfg := r.cfg.Bus
		if embedded != nil {
			busCfg.Servers = []string{embedded.ClientURL()}
		}
		busClient, err = bus.Connect(ctx, busCfg, r.logger)
		if err != nil {
			return fmt.Errorf("connect bus: %w", err)
		}
		defer busClient.Close()
		observers = append(observers, bus.NewTap(busClient, r.logger))
	}

	replies := llm.NewReplyGenerator(generator, r.cfg.LLM, r.cfg.Chat, r.logger)
	sttGateway := stt.NewGateway(recognizer, r.logger)
	chatHandler := gateway.NewHandler(r.cfg.Chat, sttGateway, replies, synth, r.registry, r.logger, observers...)
	speechHandler := speech.NewHandler(synth, r.cfg.TTS, r.logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	mux.Handle("/ws/chat", chatHandler)
	mux.Handle("/v1/speech", speechHandler)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
			cancel()
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.String("stt_mode", r.cfg.STT.Mode),
		slog.String("llm_mode", r.cfg.LLM.Mode),
		slog.String("tts_mode", r.cfg.TTS.Mode))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), drainTimeout)
	defer cancelShutdown()

	canceled := r.registry.CancelAll()
	if canceled > 0 {
		r.logger.Info("canceling live sessions", slog.Int("count", canceled))
	}
	if !r.registry.Wait(shutdownCtx) {
		r.logger.Warn("sessions did not drain before timeout")
	}

	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
