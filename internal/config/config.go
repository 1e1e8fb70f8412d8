package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// STT backends
const (
	BackendMock     = "mock"
	BackendWhisper  = "whisper"
	BackendDeepgram = "deepgram"
)

// Transcript store backends
const (
	StoreFile     = "file"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Config holds all configuration for the call transcriber service
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Public base URL for this service (e.g. https://xxx.ngrok-free.dev when behind ngrok).
	// Used to build the stream and recording callback URLs handed to the vendor.
	// Optional; if unset, URLs are derived from the request host.
	PublicURL string `envconfig:"PUBLIC_URL" default:""`

	// gRPC health server port; empty disables it
	GRPCHealthPort string `envconfig:"GRPC_HEALTH_PORT" default:""`

	// Speech recognition backend: mock, whisper, deepgram
	STTBackend string `envconfig:"STT_BACKEND" default:"mock"`

	// Deepgram STT API configuration
	DeepgramAPIKey   string `envconfig:"DEEPGRAM_API_KEY" default:""`
	DeepgramModel    string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"` // nova-2, enhanced, base
	DeepgramLanguage string `envconfig:"DEEPGRAM_LANGUAGE" default:"en"`  // Language code (en, es, fr, etc.)

	// OpenAI Whisper configuration
	OpenAIAPIKey string `envconfig:"OPENAI_API_KEY" default:""`
	WhisperModel string `envconfig:"WHISPER_MODEL" default:"whisper-1"`

	// Utterance segmentation
	VADEnergyThreshold  float64 `envconfig:"VAD_ENERGY_THRESHOLD" default:"500.0"` // RMS energy threshold for VAD
	VADSilenceFrames    int     `envconfig:"VAD_SILENCE_FRAMES" default:"10"`      // Frames of silence to mark speech end
	MaxUtteranceSeconds int     `envconfig:"MAX_UTTERANCE_SECONDS" default:"30"`   // Forces a boundary; 0 disables
	PartialEveryFrames  int     `envconfig:"PARTIAL_EVERY_FRAMES" default:"0"`     // Speech frames between partials; 0 disables

	// Recorded-call pipeline
	OfflineChunkMs   int    `envconfig:"OFFLINE_CHUNK_MS" default:"500"`
	RecordingTempDir string `envconfig:"RECORDING_TEMP_DIR" default:""`  // Empty means os.TempDir()
	DownloadTimeout  int    `envconfig:"DOWNLOAD_TIMEOUT" default:"0"`   // Seconds; 0 means none
	JobMaxConcurrent int    `envconfig:"JOB_MAX_CONCURRENT" default:"0"` // 0 means unbounded

	// Transcript storage: file, sqlite, postgres
	TranscriptStore string `envconfig:"TRANSCRIPT_STORE" default:"file"`
	TranscriptDir   string `envconfig:"TRANSCRIPT_DIR" default:"."`
	SQLitePath      string `envconfig:"SQLITE_PATH" default:"transcripts.db"`
	DatabaseURL     string `envconfig:"DATABASE_URL" default:""`

	// Segment events
	KafkaEnabled      bool     `envconfig:"KAFKA_ENABLED" default:"false"`
	KafkaBrokers      []string `envconfig:"KAFKA_BROKERS" default:"localhost:9092"`
	KafkaTopicPartial string   `envconfig:"KAFKA_TOPIC_PARTIAL" default:"transcripts.partial"`
	KafkaTopicFinal   string   `envconfig:"KAFKA_TOPIC_FINAL" default:"transcripts.final"`

	// Recording archive (S3 compatible); empty endpoint disables it
	S3Endpoint  string `envconfig:"S3_ENDPOINT" default:""`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY" default:""`
	S3SecretKey string `envconfig:"S3_SECRET_KEY" default:""`
	S3Bucket    string `envconfig:"S3_BUCKET" default:"call-recordings"`
	S3Region    string `envconfig:"S3_REGION" default:""`
	S3Secure    bool   `envconfig:"S3_SECURE" default:"true"`

	// Telephony vendors
	TwilioAccountSID string `envconfig:"TWILIO_ACCOUNT_SID" default:""`
	TwilioAuthToken  string `envconfig:"TWILIO_AUTH_TOKEN" default:""`
	EnableXAppID     string `envconfig:"ENABLEX_APP_ID" default:""`
	EnableXAppKey    string `envconfig:"ENABLEX_APP_KEY" default:""`

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`             // Maximum retry attempts
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"`        // Initial backoff in milliseconds
	ReconnectMaxAttempts       int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"5"`         // Maximum reconnection attempts
	ReconnectBackoff           int `envconfig:"RECONNECT_BACKOFF" default:"1000"`           // Reconnection backoff in milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	cfg.STTBackend = strings.ToLower(strings.TrimSpace(cfg.STTBackend))
	cfg.TranscriptStore = strings.ToLower(strings.TrimSpace(cfg.TranscriptStore))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks backend specific required keys
func (c *Config) Validate() error {
	switch c.STTBackend {
	case BackendMock:
	case BackendWhisper:
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required for STT_BACKEND=whisper")
		}
	case BackendDeepgram:
		if c.DeepgramAPIKey == "" {
			return fmt.Errorf("DEEPGRAM_API_KEY is required for STT_BACKEND=deepgram")
		}
	default:
		return fmt.Errorf("unknown STT_BACKEND %q", c.STTBackend)
	}

	switch c.TranscriptStore {
	case StoreFile:
		if c.TranscriptDir == "" {
			return fmt.Errorf("TRANSCRIPT_DIR is required for TRANSCRIPT_STORE=file")
		}
	case StoreSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required for TRANSCRIPT_STORE=sqlite")
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for TRANSCRIPT_STORE=postgres")
		}
	default:
		return fmt.Errorf("unknown TRANSCRIPT_STORE %q", c.TranscriptStore)
	}

	if c.OfflineChunkMs <= 0 {
		return fmt.Errorf("OFFLINE_CHUNK_MS must be positive, got %d", c.OfflineChunkMs)
	}
	if c.VADSilenceFrames <= 0 {
		return fmt.Errorf("VAD_SILENCE_FRAMES must be positive, got %d", c.VADSilenceFrames)
	}
	if c.JobMaxConcurrent < 0 {
		return fmt.Errorf("JOB_MAX_CONCURRENT must not be negative, got %d", c.JobMaxConcurrent)
	}
	if c.KafkaEnabled && len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required when KAFKA_ENABLED=true")
	}
	if c.S3Endpoint != "" && (c.S3AccessKey == "" || c.S3SecretKey == "") {
		return fmt.Errorf("S3_ACCESS_KEY and S3_SECRET_KEY are required when S3_ENDPOINT is set")
	}
	return nil
}

// OfflineChunk returns the offline read chunk as a duration
func (c *Config) OfflineChunk() time.Duration {
	return time.Duration(c.OfflineChunkMs) * time.Millisecond
}

// MaxUtterance returns the forced utterance boundary, 0 when disabled
func (c *Config) MaxUtterance() time.Duration {
	return time.Duration(c.MaxUtteranceSeconds) * time.Second
}

// DownloadTimeoutDuration returns the recording download timeout, 0 when none
func (c *Config) DownloadTimeoutDuration() time.Duration {
	return time.Duration(c.DownloadTimeout) * time.Second
}

// CircuitBreakerReset returns the breaker reset timeout as a duration
func (c *Config) CircuitBreakerReset() time.Duration {
	return time.Duration(c.CircuitBreakerResetTimeout) * time.Second
}

// RetryBackoff returns the initial retry backoff as a duration
func (c *Config) RetryBackoff() time.Duration {
	return time.Duration(c.RetryInitialBackoff) * time.Millisecond
}

// ReconnectBackoffDuration returns the reconnect backoff as a duration
func (c *Config) ReconnectBackoffDuration() time.Duration {
	return time.Duration(c.ReconnectBackoff) * time.Millisecond
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
