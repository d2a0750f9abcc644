package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

var (
	ErrMissingBaseURL     = errors.New("LLM_BASE_URL is required")
	ErrMissingModel       = errors.New("LLM_MODEL is required")
	ErrInvalidTemperature = errors.New("LLM_TEMPERATURE must be within [0, 2]")
	ErrInvalidAttempts    = errors.New("LLM_MAX_ATTEMPTS must be positive")
)

const (
	DefaultBaseURL   = "https://dashscope.aliyuncs.com/compatible-mode/v1"
	DefaultModel     = "qwen3-max"
	MaxOutputTokens  = 16384
	defaultTemp      = 0.6
	defaultTimeoutMS = 20000
)

type Config struct {
	LLM     LLMConfig
	Retry   RetryConfig
	Log     LogConfig
	Metrics MetricsConfig
}

type LLMConfig struct {
	// APIKeys is the credential pool in configured order.
	APIKeys         []string
	BaseURL         string
	Model           string
	Temperature     float64
	MaxOutputTokens int
	Stream          bool
}

type RetryConfig struct {
	Timeout     time.Duration
	BackoffStep time.Duration
	MaxAttempts int
	IdleTimeout time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

type MetricsConfig struct {
	// Addr is where /metrics is served. Empty disables the endpoint.
	Addr string
}

// Defaults returns the built-in configuration before any file or
// environment overrides.
func Defaults() *Config {
	return &Config{
		LLM: LLMConfig{
			BaseURL:         DefaultBaseURL,
			Model:           DefaultModel,
			Temperature:     defaultTemp,
			MaxOutputTokens: MaxOutputTokens,
			Stream:          true,
		},
		Retry: RetryConfig{
			Timeout:     defaultTimeoutMS * time.Millisecond,
			BackoffStep: 20 * time.Second,
			MaxAttempts: 3,
			IdleTimeout: 15 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile layers an optional YAML file and then the environment over
// Defaults. An empty path skips the file.
func LoadFile(path string) (*Config, error) {
	cfg := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := applyYAML(cfg, data); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}
	applyEnv(cfg)
	cfg.LLM.MaxOutputTokens = ClampOutputTokens(cfg.LLM.MaxOutputTokens)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.LLM.APIKeys = ParseKeys(
		os.Getenv("LLM_API_KEYS"),
		os.Getenv("LLM_API_KEY"),
		os.Getenv("DASHSCOPE_API_KEY"),
		strings.Join(cfg.LLM.APIKeys, ","),
	)
	cfg.LLM.BaseURL = getEnvOrDefault("LLM_BASE_URL", cfg.LLM.BaseURL)
	cfg.LLM.Model = getEnvOrDefault("LLM_MODEL", cfg.LLM.Model)
	cfg.LLM.Temperature = getEnvFloatOrDefault("LLM_TEMPERATURE", cfg.LLM.Temperature)
	cfg.LLM.MaxOutputTokens = getEnvIntOrDefault("LLM_MAX_OUTPUT_TOKENS", cfg.LLM.MaxOutputTokens)
	cfg.LLM.Stream = getEnvBoolOrDefault("LLM_STREAM", cfg.LLM.Stream)

	cfg.Retry.Timeout = getEnvMillisOrDefault("LLM_TIMEOUT_MS", cfg.Retry.Timeout)
	cfg.Retry.BackoffStep = getEnvMillisOrDefault("LLM_BACKOFF_STEP_MS", cfg.Retry.BackoffStep)
	cfg.Retry.MaxAttempts = getEnvIntOrDefault("LLM_MAX_ATTEMPTS", cfg.Retry.MaxAttempts)
	cfg.Retry.IdleTimeout = getEnvMillisOrDefault("LLM_IDLE_TIMEOUT_MS", cfg.Retry.IdleTimeout)

	cfg.Log.Level = getEnvOrDefault("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnvOrDefault("LOG_FORMAT", cfg.Log.Format)
	cfg.Metrics.Addr = getEnvOrDefault("METRICS_ADDR", cfg.Metrics.Addr)
}

// Validate checks everything except the key set; an empty pool is reported
// at generation time.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.LLM.BaseURL) == "" {
		return ErrMissingBaseURL
	}
	if strings.TrimSpace(c.LLM.Model) == "" {
		return ErrMissingModel
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return ErrInvalidTemperature
	}
	if c.Retry.MaxAttempts <= 0 {
		return ErrInvalidAttempts
	}
	return nil
}

// ParseKeys merges comma separated key lists, dropping blanks and duplicates
// while keeping first-seen order.
func ParseKeys(sources ...string) []string {
	seen := make(map[string]struct{})
	var keys []string
	for _, src := range sources {
		for _, k := range strings.Split(src, ",") {
			k = strings.TrimSpace(k)
			if k == "" {
				continue
			}
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	return keys
}

// ClampOutputTokens caps n at the provider ceiling. The ceiling is also the
// default for non-positive values.
func ClampOutputTokens(n int) int {
	if n <= 0 || n > MaxOutputTokens {
		return MaxOutputTokens
	}
	return n
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvMillisOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if ms, err := strconv.Atoi(value); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
