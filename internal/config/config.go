package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	ServiceName string           `yaml:"service_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	Chat        ChatConfig       `yaml:"chat"`
	STT         STTConfig        `yaml:"stt"`
	LLM         LLMConfig        `yaml:"llm"`
	TTS         TTSConfig        `yaml:"tts"`
	Transcript  TranscriptConfig `yaml:"transcript"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

// ChatConfig controls the per-session turn orchestrator.
type ChatConfig struct {
	Persona           string `yaml:"persona"`
	FallbackReply     string `yaml:"fallback_reply"`
	STTTimeoutMS      int    `yaml:"stt_timeout_ms"`
	LLMTimeoutMS      int    `yaml:"llm_timeout_ms"`
	TTSTimeoutMS      int    `yaml:"tts_timeout_ms"`
	MaxUtteranceBytes int64  `yaml:"max_utterance_bytes"`
}

type STTConfig struct {
	Mode       string `yaml:"mode"` // mock, exec, http
	Command    string `yaml:"command"`
	Endpoint   string `yaml:"endpoint"`
	ModelPath  string `yaml:"model_path"`
	Language   string `yaml:"language"`
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
}

type LLMConfig struct {
	Mode        string  `yaml:"mode"` // mock, ollama, exec
	Endpoint    string  `yaml:"endpoint"`
	Command     string  `yaml:"command"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

type TTSConfig struct {
	Mode       string `yaml:"mode"` // mock, exec, websocket
	Command    string `yaml:"command"`
	Endpoint   string `yaml:"endpoint"`
	APIKey     string `yaml:"api_key"`
	Model      string `yaml:"model"`
	Voice      string `yaml:"voice"`
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
}

type TranscriptConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

func Default() Config {
	return Config{
		ServiceName: "parleyd",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8000,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Chat: ChatConfig{
			Persona:           "You are a speaking practice interviewer. Conduct a natural conversation, ask one question at a time, and keep your responses concise and natural.",
			FallbackReply:     "I'm sorry, I'm having trouble thinking right now.",
			STTTimeoutMS:      30000,
			LLMTimeoutMS:      60000,
			TTSTimeoutMS:      45000,
			MaxUtteranceBytes: 8 << 20,
		},
		STT: STTConfig{
			Mode:       "mock",
			SampleRate: 16000,
			Channels:   1,
		},
		LLM: LLMConfig{
			Mode:        "mock",
			Endpoint:    "http://localhost:11434",
			Model:       "llama3.2:latest",
			MaxTokens:   1024,
			Temperature: 0.7,
		},
		TTS: TTSConfig{
			Mode:       "mock",
			Voice:      "en-US-narrator",
			SampleRate: 32000,
			Channels:   1,
		},
		Transcript: TranscriptConfig{
			Path:          "./data/parley-transcripts.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.ServiceName, "PARLEY_SERVICE_NAME")
	overrideString(&cfg.Environment, "PARLEY_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "PARLEY_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "PARLEY_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "PARLEY_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "PARLEY_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "PARLEY_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Bus.Enabled, "PARLEY_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "PARLEY_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "PARLEY_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "PARLEY_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "PARLEY_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "PARLEY_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "PARLEY_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "PARLEY_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "PARLEY_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Chat.Persona, "PARLEY_CHAT_PERSONA")
	overrideString(&cfg.Chat.FallbackReply, "PARLEY_CHAT_FALLBACK_REPLY")
	overrideInt(&cfg.Chat.STTTimeoutMS, "PARLEY_CHAT_STT_TIMEOUT_MS")
	overrideInt(&cfg.Chat.LLMTimeoutMS, "PARLEY_CHAT_LLM_TIMEOUT_MS")
	overrideInt(&cfg.Chat.TTSTimeoutMS, "PARLEY_CHAT_TTS_TIMEOUT_MS")
	overrideInt64(&cfg.Chat.MaxUtteranceBytes, "PARLEY_CHAT_MAX_UTTERANCE_BYTES")
	overrideString(&cfg.STT.Mode, "PARLEY_STT_MODE")
	overrideString(&cfg.STT.Command, "PARLEY_STT_COMMAND")
	overrideString(&cfg.STT.Endpoint, "PARLEY_STT_ENDPOINT")
	overrideString(&cfg.STT.ModelPath, "PARLEY_STT_MODEL_PATH")
	overrideString(&cfg.STT.Language, "PARLEY_STT_LANGUAGE")
	overrideInt(&cfg.STT.SampleRate, "PARLEY_STT_SAMPLE_RATE")
	overrideInt(&cfg.STT.Channels, "PARLEY_STT_CHANNELS")
	overrideString(&cfg.LLM.Mode, "PARLEY_LLM_MODE")
	overrideString(&cfg.LLM.Endpoint, "PARLEY_LLM_ENDPOINT")
	overrideString(&cfg.LLM.Command, "PARLEY_LLM_COMMAND")
	overrideString(&cfg.LLM.Model, "PARLEY_LLM_MODEL")
	overrideInt(&cfg.LLM.MaxTokens, "PARLEY_LLM_MAX_TOKENS")
	overrideFloat(&cfg.LLM.Temperature, "PARLEY_LLM_TEMPERATURE")
	overrideString(&cfg.TTS.Mode, "PARLEY_TTS_MODE")
	overrideString(&cfg.TTS.Command, "PARLEY_TTS_COMMAND")
	overrideString(&cfg.TTS.Endpoint, "PARLEY_TTS_ENDPOINT")
	overrideString(&cfg.TTS.APIKey, "PARLEY_TTS_API_KEY")
	overrideString(&cfg.TTS.Model, "PARLEY_TTS_MODEL")
	overrideString(&cfg.TTS.Voice, "PARLEY_TTS_VOICE")
	overrideInt(&cfg.TTS.SampleRate, "PARLEY_TTS_SAMPLE_RATE")
	overrideInt(&cfg.TTS.Channels, "PARLEY_TTS_CHANNELS")
	overrideString(&cfg.Transcript.Path, "PARLEY_TRANSCRIPT_PATH")
	overrideString(&cfg.Transcript.RetentionMode, "PARLEY_TRANSCRIPT_RETENTION_MODE")
	overrideInt(&cfg.Transcript.RetentionDays, "PARLEY_TRANSCRIPT_RETENTION_DAYS")
	overrideInt(&cfg.Transcript.MaxSessions, "PARLEY_TRANSCRIPT_MAX_SESSIONS")
	overrideBool(&cfg.Transcript.VacuumOnStart, "PARLEY_TRANSCRIPT_VACUUM_ON_START")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideInt64(target *int64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.ServiceName == "" {
		return errors.New("service_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if strings.TrimSpace(cfg.Chat.Persona) == "" {
		return errors.New("chat.persona must not be empty")
	}
	if strings.TrimSpace(cfg.Chat.FallbackReply) == "" {
		return errors.New("chat.fallback_reply must not be empty")
	}
	if cfg.Chat.STTTimeoutMS <= 0 || cfg.Chat.LLMTimeoutMS <= 0 || cfg.Chat.TTSTimeoutMS <= 0 {
		return errors.New("chat stage timeouts must be positive")
	}
	if cfg.Chat.MaxUtteranceBytes <= 0 {
		return errors.New("chat.max_utterance_bytes must be positive")
	}
	switch cfg.STT.Mode {
	case "mock", "exec", "http":
	default:
		return errors.New("stt.mode must be one of mock|exec|http")
	}
	if cfg.STT.Mode == "exec" && cfg.STT.Command == "" {
		return errors.New("stt.command must be set when mode=exec")
	}
	if cfg.STT.Mode == "http" && cfg.STT.Endpoint == "" {
		return errors.New("stt.endpoint must be set when mode=http")
	}
	if cfg.STT.SampleRate <= 0 {
		return errors.New("stt.sample_rate must be positive")
	}
	if cfg.STT.Channels <= 0 {
		return errors.New("stt.channels must be positive")
	}
	switch cfg.LLM.Mode {
	case "mock", "ollama", "exec":
	default:
		return errors.New("llm.mode must be one of mock|ollama|exec")
	}
	if cfg.LLM.Mode == "ollama" && cfg.LLM.Endpoint == "" {
		return errors.New("llm.endpoint must be set when mode=ollama")
	}
	if cfg.LLM.Mode == "exec" && cfg.LLM.Command == "" {
		return errors.New("llm.command must be set when mode=exec")
	}
	if cfg.LLM.MaxTokens < 0 {
		return errors.New("llm.max_tokens must be >= 0")
	}
	switch cfg.TTS.Mode {
	case "mock", "exec", "websocket":
	default:
		return errors.New("tts.mode must be one of mock|exec|websocket")
	}
	if cfg.TTS.Mode == "exec" && cfg.TTS.Command == "" {
		return errors.New("tts.command must be set when mode=exec")
	}
	if cfg.TTS.Mode == "websocket" && cfg.TTS.Endpoint == "" {
		return errors.New("tts.endpoint must be set when mode=websocket")
	}
	if cfg.TTS.SampleRate <= 0 {
		return errors.New("tts.sample_rate must be positive")
	}
	if cfg.TTS.Channels <= 0 {
		return errors.New("tts.channels must be positive")
	}
	if cfg.Transcript.Path == "" {
		return errors.New("transcript.path must not be empty")
	}
	switch cfg.Transcript.RetentionMode {
	case "ephemeral", "session", "persistent":
	default:
		return errors.New("transcript.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.Transcript.RetentionDays < 0 {
		return errors.New("transcript.retention_days must be >= 0")
	}
	return nil
}
