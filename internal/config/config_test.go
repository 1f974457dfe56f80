package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.TTS.MaxChars != 4500 {
		t.Fatalf("expected default max chars 4500, got %d", cfg.TTS.MaxChars)
	}
	if cfg.TTS.SilenceMS != 500 {
		t.Fatalf("expected default silence 500ms, got %d", cfg.TTS.SilenceMS)
	}
	if cfg.TTS.FailedChunkPolicy != "skip" {
		t.Fatalf("expected skip policy, got %q", cfg.TTS.FailedChunkPolicy)
	}
	if cfg.TTS.Voice != "" {
		t.Fatalf("expected no default voice so providers pick their own, got %q", cfg.TTS.Voice)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LOQA_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("LOQA_BUS_USERNAME", "alice")
	t.Setenv("LOQA_BUS_PASSWORD", "secret")
	t.Setenv("LOQA_BUS_TLS_INSECURE", "true")
	t.Setenv("LOQA_BUS_CONNECT_TIMEOUT_MS", "5000")
	t.Setenv("LOQA_STORE_PATH", "./tmp.db")
	t.Setenv("LOQA_STORE_RETENTION_DAYS", "7")
	t.Setenv("LOQA_STORE_MAX_NARRATIONS", "123")
	t.Setenv("LOQA_STORE_VACUUM_ON_START", "true")
	t.Setenv("LOQA_TTS_MODE", "google")
	t.Setenv("LOQA_TTS_API_KEY", "key-123")
	t.Setenv("LOQA_TTS_SPEAKING_RATE", "1.25")
	t.Setenv("LOQA_TTS_MAX_CONCURRENCY", "3")
	t.Setenv("LOQA_TTS_FAILED_CHUNK_POLICY", "gap")
	t.Setenv("LOQA_LLM_MODE", "openai")
	t.Setenv("LOQA_LLM_MODEL", "gemini-2.5-flash")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if !cfg.Bus.TLSInsecure {
		t.Fatal("expected tls insecure override true")
	}
	if cfg.Bus.ConnectTimeout != 5000 {
		t.Fatalf("expected timeout 5000, got %d", cfg.Bus.ConnectTimeout)
	}
	if cfg.Store.Path != "./tmp.db" {
		t.Fatalf("expected store path override")
	}
	if cfg.Store.RetentionDays != 7 {
		t.Fatalf("expected store retention days override")
	}
	if cfg.Store.MaxNarrations != 123 {
		t.Fatalf("expected store max narrations override")
	}
	if !cfg.Store.VacuumOnStart {
		t.Fatalf("expected store vacuum flag override")
	}
	if cfg.TTS.Mode != "google" || cfg.TTS.APIKey != "key-123" {
		t.Fatalf("expected tts provider override, got %q/%q", cfg.TTS.Mode, cfg.TTS.APIKey)
	}
	if cfg.TTS.SpeakingRate != 1.25 {
		t.Fatalf("expected speaking rate 1.25, got %v", cfg.TTS.SpeakingRate)
	}
	if cfg.TTS.Concurrency != 3 {
		t.Fatalf("expected concurrency 3, got %d", cfg.TTS.Concurrency)
	}
	if cfg.TTS.FailedChunkPolicy != "gap" {
		t.Fatalf("expected gap policy")
	}
	if cfg.LLM.Mode != "openai" || cfg.LLM.Model != "gemini-2.5-flash" {
		t.Fatalf("expected llm override, got %q/%q", cfg.LLM.Mode, cfg.LLM.Model)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "digest.yaml")
	data := []byte(`
runtime_name: test-digest
tts:
  mode: exec
  command: "tts-cli --format mp3"
  encoding: wav
  max_chars: 1000
feeds:
  refresh_interval_ms: 0
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RuntimeName != "test-digest" {
		t.Fatalf("unexpected runtime name %q", cfg.RuntimeName)
	}
	if cfg.TTS.Mode != "exec" || cfg.TTS.Command != "tts-cli --format mp3" {
		t.Fatalf("unexpected tts config %+v", cfg.TTS)
	}
	if cfg.TTS.Encoding != "wav" || cfg.TTS.MaxChars != 1000 {
		t.Fatalf("unexpected encoding/max chars %q/%d", cfg.TTS.Encoding, cfg.TTS.MaxChars)
	}
	if cfg.TTS.SilenceMS != 500 {
		t.Fatalf("expected untouched default silence, got %d", cfg.TTS.SilenceMS)
	}
	if cfg.Feeds.RefreshIntervalMS != 0 {
		t.Fatalf("expected refresh disabled")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(*Config){
		"tts mode":       func(c *Config) { c.TTS.Mode = "carrier-pigeon" },
		"exec command":   func(c *Config) { c.TTS.Mode = "exec"; c.TTS.Command = "" },
		"encoding":       func(c *Config) { c.TTS.Encoding = "flac" },
		"elevenlabs wav": func(c *Config) { c.TTS.Mode = "elevenlabs"; c.TTS.Encoding = "wav" },
		"policy":         func(c *Config) { c.TTS.FailedChunkPolicy = "retry" },
		"max chars":      func(c *Config) { c.TTS.MaxChars = 0 },
		"concurrency":    func(c *Config) { c.TTS.Concurrency = 0 },
		"llm mode":       func(c *Config) { c.LLM.Mode = "oracle" },
		"store path":     func(c *Config) { c.Store.Path = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			if err := validate(cfg); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
