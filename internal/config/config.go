package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the transcription pipeline service
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Redis (rate-limit windows, session persistence)
	RedisAddr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	// Transcription backend (whisper-style HTTP endpoint)
	BackendURL     string `envconfig:"BACKEND_URL" required:"true"`
	BackendAPIKey  string `envconfig:"BACKEND_API_KEY" default:""`
	BackendTimeout int    `envconfig:"BACKEND_TIMEOUT" default:"30"` // seconds

	// Audio normalization bounds
	AudioMaxBytes   int     `envconfig:"AUDIO_MAX_BYTES" default:"1048576"` // 1 MiB per chunk
	AudioMinBytes   int     `envconfig:"AUDIO_MIN_BYTES" default:"64"`
	AudioMinSeconds float64 `envconfig:"AUDIO_MIN_SECONDS" default:"0.05"` // emergency decode floor

	// Speech activity gate
	GateConfidenceThreshold float64 `envconfig:"GATE_CONFIDENCE_THRESHOLD" default:"0.35"`
	GateEnergyFloor         float64 `envconfig:"GATE_ENERGY_FLOOR" default:"250.0"` // per-frame RMS floor
	GateAbsoluteEnergy      float64 `envconfig:"GATE_ABSOLUTE_ENERGY" default:"120.0"`
	GateMinZCR              float64 `envconfig:"GATE_MIN_ZCR" default:"0.02"`
	GateMaxZCR              float64 `envconfig:"GATE_MAX_ZCR" default:"0.35"`

	// Rate limiting
	RateBurstLimit         int `envconfig:"RATE_BURST_LIMIT" default:"10"`
	RateBurstWindow        int `envconfig:"RATE_BURST_WINDOW" default:"1"` // seconds
	RateStandardLimit      int `envconfig:"RATE_STANDARD_LIMIT" default:"100"`
	RateStandardWindow     int `envconfig:"RATE_STANDARD_WINDOW" default:"60"` // seconds
	RateTranscriptionLimit int `envconfig:"RATE_TRANSCRIPTION_LIMIT" default:"60"`
	RateViolationThreshold int `envconfig:"RATE_VIOLATION_THRESHOLD" default:"5"`
	RatePenaltyBase        int `envconfig:"RATE_PENALTY_BASE" default:"5"`  // seconds
	RatePenaltyCap         int `envconfig:"RATE_PENALTY_CAP" default:"300"` // seconds

	// Circuit breaker
	BreakerMaxFailures  int `envconfig:"BREAKER_MAX_FAILURES" default:"5"`
	BreakerResetTimeout int `envconfig:"BREAKER_RESET_TIMEOUT" default:"30"` // seconds

	// Retry policy for transient backend failures
	RetryMaxAttempts    int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`
	RetryInitialBackoff int `envconfig:"RETRY_INITIAL_BACKOFF" default:"1000"` // milliseconds
	RetryMaxBackoff     int `envconfig:"RETRY_MAX_BACKOFF" default:"8000"`     // milliseconds

	// Dedup & quality filtering
	FilterMinConfidence      float64 `envconfig:"FILTER_MIN_CONFIDENCE" default:"0.40"`
	DedupWindowSize          int     `envconfig:"DEDUP_WINDOW_SIZE" default:"16"`
	DedupSimilarityThreshold float64 `envconfig:"DEDUP_SIMILARITY_THRESHOLD" default:"0.90"`
	RepetitionRunLength      int     `envconfig:"REPETITION_RUN_LENGTH" default:"3"`

	// Session lifecycle
	SessionTTL             int `envconfig:"SESSION_TTL" default:"900"`              // seconds, persistence TTL
	SessionInactivityLimit int `envconfig:"SESSION_INACTIVITY_LIMIT" default:"300"` // seconds
	SessionSweepInterval   int `envconfig:"SESSION_SWEEP_INTERVAL" default:"30"`    // seconds
	ConnectionStalenessTTL int `envconfig:"CONNECTION_STALENESS_TTL" default:"45"`  // seconds
	SessionQueueDepth      int `envconfig:"SESSION_QUEUE_DEPTH" default:"32"`

	// QA engine
	QASampleWindow   int `envconfig:"QA_SAMPLE_WINDOW" default:"1000"`
	QAReportInterval int `envconfig:"QA_REPORT_INTERVAL" default:"60"` // seconds, 0 disables the push loop

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

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks cross-field constraints envconfig cannot express
func (c *Config) Validate() error {
	if c.BackendURL == "" {
		return fmt.Errorf("BACKEND_URL is required")
	}
	if c.AudioMinBytes >= c.AudioMaxBytes {
		return fmt.Errorf("AUDIO_MIN_BYTES (%d) must be below AUDIO_MAX_BYTES (%d)", c.AudioMinBytes, c.AudioMaxBytes)
	}
	if c.GateMinZCR >= c.GateMaxZCR {
		return fmt.Errorf("GATE_MIN_ZCR must be below GATE_MAX_ZCR")
	}
	if c.DedupWindowSize <= 0 {
		return fmt.Errorf("DEDUP_WINDOW_SIZE must be positive")
	}
	if c.SessionQueueDepth <= 0 {
		return fmt.Errorf("SESSION_QUEUE_DEPTH must be positive")
	}
	return nil
}

// BackendTimeoutDuration returns the backend call timeout as a duration
func (c *Config) BackendTimeoutDuration() time.Duration {
	return time.Duration(c.BackendTimeout) * time.Second
}

// SessionTTLDuration returns the session persistence TTL as a duration
func (c *Config) SessionTTLDuration() time.Duration {
	return time.Duration(c.SessionTTL) * time.Second
}
