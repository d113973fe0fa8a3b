package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the recognition gateway service
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// DashScope streaming ASR configuration.
	// The API key is deliberately not required at startup: a missing
	// credential is reported per start request, not as a boot failure.
	DashScopeAPIKey  string `envconfig:"DASHSCOPE_API_KEY" default:""`
	DashScopeWSURL   string `envconfig:"DASHSCOPE_WS_URL" default:"wss://dashscope.aliyuncs.com/api-ws/v1/inference"`
	RecognitionModel string `envconfig:"RECOGNITION_MODEL" default:"paraformer-realtime-v2"`
	AudioFormat      string `envconfig:"AUDIO_FORMAT" default:"pcm"`
	SampleRate       int    `envconfig:"SAMPLE_RATE" default:"16000"` // 16kHz mono

	// Hot words configuration file (word/weight vocabulary hints)
	HotWordsFile string `envconfig:"HOT_WORDS_FILE" default:"hot_words.json"`

	// Session lifecycle configuration
	StopGraceMs int `envconfig:"STOP_GRACE_MS" default:"3000"` // Grace period awaiting provider close confirmation

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery

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

	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("SAMPLE_RATE must be positive, got %d", cfg.SampleRate)
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

	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("SAMPLE_RATE must be positive, got %d", cfg.SampleRate)
	}

	return &cfg, nil
}

// HasCredential reports whether a provider credential is configured.
func (c *Config) HasCredential() bool {
	return c.DashScopeAPIKey != ""
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
