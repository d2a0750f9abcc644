package config

import (
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig mirrors the YAML layout. Pointers tell "unset" apart from an
// explicit zero.
type fileConfig struct {
	LLM struct {
		APIKeys         []string `yaml:"api_keys"`
		BaseURL         string   `yaml:"base_url"`
		Model           string   `yaml:"model"`
		Temperature     *float64 `yaml:"temperature"`
		MaxOutputTokens int      `yaml:"max_output_tokens"`
		Stream          *bool    `yaml:"stream"`
	} `yaml:"llm"`
	Retry struct {
		TimeoutMS     int  `yaml:"timeout_ms"`
		BackoffStepMS *int `yaml:"backoff_step_ms"`
		MaxAttempts   int  `yaml:"max_attempts"`
		IdleTimeoutMS *int `yaml:"idle_timeout_ms"`
	} `yaml:"retry"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Metrics struct {
		Addr string `yaml:"addr"`
	} `yaml:"metrics"`
}

func applyYAML(cfg *Config, data []byte) error {
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return err
	}

	if len(fc.LLM.APIKeys) > 0 {
		cfg.LLM.APIKeys = ParseKeys(fc.LLM.APIKeys...)
	}
	if fc.LLM.BaseURL != "" {
		cfg.LLM.BaseURL = fc.LLM.BaseURL
	}
	if fc.LLM.Model != "" {
		cfg.LLM.Model = fc.LLM.Model
	}
	if fc.LLM.Temperature != nil {
		cfg.LLM.Temperature = *fc.LLM.Temperature
	}
	if fc.LLM.MaxOutputTokens != 0 {
		cfg.LLM.MaxOutputTokens = fc.LLM.MaxOutputTokens
	}
	if fc.LLM.Stream != nil {
		cfg.LLM.Stream = *fc.LLM.Stream
	}

	if fc.Retry.TimeoutMS > 0 {
		cfg.Retry.Timeout = time.Duration(fc.Retry.TimeoutMS) * time.Millisecond
	}
	if fc.Retry.BackoffStepMS != nil {
		cfg.Retry.BackoffStep = time.Duration(*fc.Retry.BackoffStepMS) * time.Millisecond
	}
	if fc.Retry.MaxAttempts != 0 {
		cfg.Retry.MaxAttempts = fc.Retry.MaxAttempts
	}
	if fc.Retry.IdleTimeoutMS != nil {
		cfg.Retry.IdleTimeout = time.Duration(*fc.Retry.IdleTimeoutMS) * time.Millisecond
	}

	if fc.Log.Level != "" {
		cfg.Log.Level = fc.Log.Level
	}
	if fc.Log.Format != "" {
		cfg.Log.Format = fc.Log.Format
	}
	if fc.Metrics.Addr != "" {
		cfg.Metrics.Addr = fc.Metrics.Addr
	}
	return nil
}
