// Package config loads service configuration.
//
// Precedence: defaults, then the YAML file, then VOICEFLOW_* environment
// variables.
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("voiceflow.yaml").
//	    Load()
package config

import (
	"fmt"
	"time"

	"github.com/creastat/voiceflow"
)

// DefaultEnvPrefix prefixes every environment override.
const DefaultEnvPrefix = "VOICEFLOW"

// Config is the full service configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server" env:"SERVER"`
	Pipeline PipelineConfig `yaml:"pipeline" env:"PIPELINE"`
	History  HistoryConfig  `yaml:"history" env:"HISTORY"`
	Redis    RedisConfig    `yaml:"redis" env:"REDIS"`
	Qdrant   QdrantConfig   `yaml:"qdrant" env:"QDRANT"`
	OpenAI   OpenAIConfig   `yaml:"openai" env:"OPENAI"`
	Supabase SupabaseConfig `yaml:"supabase" env:"SUPABASE"`
	Audio    AudioConfig    `yaml:"audio" env:"AUDIO"`
	Log      LogConfig      `yaml:"log" env:"LOG"`
	Metrics  MetricsConfig  `yaml:"metrics" env:"METRICS"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string        `yaml:"addr" env:"ADDR"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// PipelineConfig tunes sessions and the default agent profile.
type PipelineConfig struct {
	FlushThreshold    int           `yaml:"flush_threshold" env:"FLUSH_THRESHOLD"`
	HistoryCap        int           `yaml:"history_cap" env:"HISTORY_CAP"`
	IdleTimeout       time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
	MailboxSize       int           `yaml:"mailbox_size" env:"MAILBOX_SIZE"`
	GenerationTimeout time.Duration `yaml:"generation_timeout" env:"GENERATION_TIMEOUT"`
	SystemPrompt      string        `yaml:"system_prompt" env:"SYSTEM_PROMPT"`
	TopK              int           `yaml:"top_k" env:"TOP_K"`
	MinScore          float32       `yaml:"min_score" env:"MIN_SCORE"`
	TokenLimit        int           `yaml:"token_limit" env:"TOKEN_LIMIT"`
	MaxResponseTokens int           `yaml:"max_response_tokens" env:"MAX_RESPONSE_TOKENS"`
}

// HistoryConfig selects the history store.
type HistoryConfig struct {
	// Driver is "memory" or "redis".
	Driver string        `yaml:"driver" env:"DRIVER"`
	TTL    time.Duration `yaml:"ttl" env:"TTL"`
}

// RedisConfig configures the Redis connection.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"ADDR"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
}

// QdrantConfig configures the document index. An empty URL disables retrieval.
type QdrantConfig struct {
	URL        string `yaml:"url" env:"URL"`
	APIKey     string `yaml:"api_key" env:"API_KEY"`
	Collection string `yaml:"collection" env:"COLLECTION"`
}

// OpenAIConfig configures the speech, embedding and chat engines.
type OpenAIConfig struct {
	APIKey              string  `yaml:"api_key" env:"API_KEY"`
	BaseURL             string  `yaml:"base_url" env:"BASE_URL"`
	ChatModel           string  `yaml:"chat_model" env:"CHAT_MODEL"`
	Temperature         float32 `yaml:"temperature" env:"TEMPERATURE"`
	EmbeddingModel      string  `yaml:"embedding_model" env:"EMBEDDING_MODEL"`
	EmbeddingDimensions int     `yaml:"embedding_dimensions" env:"EMBEDDING_DIMENSIONS"`
	TranscriptionModel  string  `yaml:"transcription_model" env:"TRANSCRIPTION_MODEL"`
	Language            string  `yaml:"language" env:"LANGUAGE"`
	SpeechModel         string  `yaml:"speech_model" env:"SPEECH_MODEL"`
	Voice               string  `yaml:"voice" env:"VOICE"`
}

// SupabaseConfig configures the agent directory. An empty URL uses the
// default profile for every agent.
type SupabaseConfig struct {
	URL      string        `yaml:"url" env:"URL"`
	APIKey   string        `yaml:"api_key" env:"API_KEY"`
	CacheTTL time.Duration `yaml:"cache_ttl" env:"CACHE_TTL"`
}

// AudioConfig configures inbound audio decoding.
type AudioConfig struct {
	// FFmpegPath is the transcoder binary; empty disables container decoding.
	FFmpegPath string `yaml:"ffmpeg_path" env:"FFMPEG_PATH"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level       string   `yaml:"level" env:"LEVEL"`
	Format      string   `yaml:"format" env:"FORMAT"`
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Pipeline: PipelineConfig{
			FlushThreshold:    32000,
			HistoryCap:        voiceflow.DefaultHistoryCap,
			IdleTimeout:       60 * time.Second,
			MailboxSize:       256,
			GenerationTimeout: 30 * time.Second,
			TopK:              5,
			TokenLimit:        voiceflow.DefaultTokenLimit,
			MaxResponseTokens: 300,
		},
		History: HistoryConfig{
			Driver: "memory",
			TTL:    24 * time.Hour,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Qdrant: QdrantConfig{
			Collection: "documents",
		},
		OpenAI: OpenAIConfig{
			ChatModel:          "gpt-4o-mini",
			Temperature:        0.3,
			EmbeddingModel:     "text-embedding-3-small",
			TranscriptionModel: "whisper-1",
			SpeechModel:        "tts-1",
			Voice:              "alloy",
		},
		Supabase: SupabaseConfig{
			CacheTTL: 5 * time.Minute,
		},
		Audio: AudioConfig{
			FFmpegPath: "ffmpeg",
		},
		Log: LogConfig{
			Level:       "info",
			Format:      "json",
			OutputPaths: []string{"stdout"},
		},
		Metrics: MetricsConfig{
			Namespace: "voiceflow",
		},
	}
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("%w: server.addr is required", voiceflow.ErrInvalidConfig)
	}
	if c.Pipeline.FlushThreshold <= 0 {
		return fmt.Errorf("%w: pipeline.flush_threshold must be positive", voiceflow.ErrInvalidConfig)
	}
	if c.Pipeline.HistoryCap <= 0 {
		return fmt.Errorf("%w: pipeline.history_cap must be positive", voiceflow.ErrInvalidConfig)
	}
	if c.Pipeline.TokenLimit <= 0 {
		return fmt.Errorf("%w: pipeline.token_limit must be positive", voiceflow.ErrInvalidConfig)
	}
	switch c.History.Driver {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("%w: redis.addr is required for the redis history driver", voiceflow.ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: history.driver %q", voiceflow.ErrInvalidStoreType, c.History.Driver)
	}
	if c.Qdrant.URL != "" && c.Qdrant.Collection == "" {
		return fmt.Errorf("%w: qdrant.collection is required", voiceflow.ErrInvalidConfig)
	}
	if c.Supabase.URL != "" && c.Supabase.APIKey == "" {
		return fmt.Errorf("%w: supabase.api_key is required", voiceflow.ErrInvalidConfig)
	}
	return nil
}
