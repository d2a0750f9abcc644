package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

const sampleYAML = `
llm:
  api_keys: [file-a, file-b, file-a]
  model: qwen-plus
  temperature: 0
  max_output_tokens: 4096
  stream: false
retry:
  timeout_ms: 5000
  backoff_step_ms: 0
  max_attempts: 2
  idle_timeout_ms: 0
log:
  level: debug
metrics:
  addr: ":9100"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "genstream.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	clearEnvVars()
	defer clearEnvVars()

	cfg, err := LoadFile(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}

	if want := []string{"file-a", "file-b"}; !reflect.DeepEqual(cfg.LLM.APIKeys, want) {
		t.Errorf("LLM.APIKeys = %v, want %v", cfg.LLM.APIKeys, want)
	}
	if cfg.LLM.Model != "qwen-plus" {
		t.Errorf("LLM.Model = %v", cfg.LLM.Model)
	}
	if cfg.LLM.Temperature != 0 {
		t.Errorf("LLM.Temperature = %v, want explicit 0", cfg.LLM.Temperature)
	}
	if cfg.LLM.MaxOutputTokens != 4096 {
		t.Errorf("LLM.MaxOutputTokens = %v", cfg.LLM.MaxOutputTokens)
	}
	if cfg.LLM.Stream {
		t.Error("LLM.Stream = true, want false")
	}
	if cfg.LLM.BaseURL != DefaultBaseURL {
		t.Errorf("LLM.BaseURL = %v, want default", cfg.LLM.BaseURL)
	}
	if cfg.Retry.Timeout != 5*time.Second || cfg.Retry.BackoffStep != 0 || cfg.Retry.IdleTimeout != 0 {
		t.Errorf("Retry = %+v", cfg.Retry)
	}
	if cfg.Retry.MaxAttempts != 2 {
		t.Errorf("Retry.MaxAttempts = %v", cfg.Retry.MaxAttempts)
	}
	if cfg.Log.Level != "debug" || cfg.Metrics.Addr != ":9100" {
		t.Errorf("Log = %+v, Metrics = %+v", cfg.Log, cfg.Metrics)
	}
}

func TestLoadFile_EnvWins(t *testing.T) {
	clearEnvVars()
	os.Setenv("LLM_MODEL", "qwen-max")
	os.Setenv("LLM_API_KEY", "env-key")
	defer clearEnvVars()

	cfg, err := LoadFile(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if cfg.LLM.Model != "qwen-max" {
		t.Errorf("LLM.Model = %v, want qwen-max", cfg.LLM.Model)
	}
	if want := []string{"env-key", "file-a", "file-b"}; !reflect.DeepEqual(cfg.LLM.APIKeys, want) {
		t.Errorf("LLM.APIKeys = %v, want %v", cfg.LLM.APIKeys, want)
	}
}

func TestLoadFile_Errors(t *testing.T) {
	clearEnvVars()
	defer clearEnvVars()

	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("LoadFile(missing) error = %v", err)
	}
	if _, err := LoadFile(writeConfig(t, "llm: [unclosed")); err == nil {
		t.Error("LoadFile(invalid yaml) expected error")
	}
	if _, err := LoadFile(writeConfig(t, "llm:\n  temperature: 5\n")); err != ErrInvalidTemperature {
		t.Errorf("LoadFile(temperature 5) error = %v, want %v", err, ErrInvalidTemperature)
	}
}
