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
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	Store       StoreConfig     `yaml:"store"`
	Feeds       FeedsConfig     `yaml:"feeds"`
	Scraper     ScraperConfig   `yaml:"scraper"`
	LLM         LLMConfig       `yaml:"llm"`
	TTS         TTSConfig       `yaml:"tts"`
	Digest      DigestConfig    `yaml:"digest"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type StoreConfig struct {
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
	MaxNarrations int    `yaml:"max_narrations"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type FeedsConfig struct {
	RefreshIntervalMS int    `yaml:"refresh_interval_ms"`
	FetchTimeoutMS    int    `yaml:"fetch_timeout_ms"`
	UserAgent         string `yaml:"user_agent"`
	ArticleLimit      int    `yaml:"article_limit"`
}

type ScraperConfig struct {
	TimeoutMS   int    `yaml:"timeout_ms"`
	MinLength   int    `yaml:"min_length"`
	UserAgent   string `yaml:"user_agent"`
	Concurrency int    `yaml:"max_concurrency"`
}

type LLMConfig struct {
	Mode        string  `yaml:"mode"` // mock, ollama, exec, openai
	Endpoint    string  `yaml:"endpoint"`
	Command     string  `yaml:"command"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	TimeoutMS   int     `yaml:"timeout_ms"`
}

type TTSConfig struct {
	Enabled           bool    `yaml:"enabled"`
	Mode              string  `yaml:"mode"` // mock, exec, google, elevenlabs
	Command           string  `yaml:"command"`
	Endpoint          string  `yaml:"endpoint"`
	APIKey            string  `yaml:"api_key"`
	CredentialsFile   string  `yaml:"credentials_file"`
	Model             string  `yaml:"model"`
	Voice             string  `yaml:"voice"`
	Language          string  `yaml:"language"`
	SpeakingRate      float64 `yaml:"speaking_rate"`
	Pitch             float64 `yaml:"pitch"`
	Encoding          string  `yaml:"encoding"` // mp3, wav
	MaxChars          int     `yaml:"max_chars"`
	SilenceMS         int     `yaml:"silence_ms"`
	FailedChunkPolicy string  `yaml:"failed_chunk_policy"` // skip, gap
	GapMS             int     `yaml:"gap_ms"`
	Concurrency       int     `yaml:"max_concurrency"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	ChunkTimeoutMS    int     `yaml:"chunk_timeout_ms"`
	WriteTimeoutMS    int     `yaml:"write_timeout_ms"`
	OutputDir         string  `yaml:"output_dir"`
}

type DigestConfig struct {
	Enabled     bool   `yaml:"enabled"`
	MaxArticles int    `yaml:"max_articles"`
	Focus       string `yaml:"focus"`
	TimeoutMS   int    `yaml:"timeout_ms"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-digest",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Enabled:        true,
			Embedded:       true,
			Host:           "127.0.0.1",
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Store: StoreConfig{
			Path:          "./data/loqa-digest.db",
			RetentionDays: 30,
			MaxNarrations: 200,
		},
		Feeds: FeedsConfig{
			RefreshIntervalMS: 30 * 60 * 1000,
			FetchTimeoutMS:    15000,
			UserAgent:         "loqa-digest/0.1",
			ArticleLimit:      50,
		},
		Scraper: ScraperConfig{
			TimeoutMS:   30000,
			MinLength:   100,
			UserAgent:   "Mozilla/5.0 (compatible; loqa-digest/0.1)",
			Concurrency: 4,
		},
		LLM: LLMConfig{
			Mode:        "mock",
			Endpoint:    "http://localhost:11434",
			Model:       "llama3.2:latest",
			MaxTokens:   1024,
			Temperature: 0.3,
			TimeoutMS:   120000,
		},
		TTS: TTSConfig{
			Enabled:           true,
			Mode:              "mock",
			Voice:             "",
			Language:          "en-US",
			SpeakingRate:      1.0,
			Encoding:          "mp3",
			MaxChars:          4500,
			SilenceMS:         500,
			FailedChunkPolicy: "skip",
			GapMS:             1000,
			Concurrency:       1,
			ChunkTimeoutMS:    60000,
			WriteTimeoutMS:    10000,
			OutputDir:         "./data/audio",
		},
		Digest: DigestConfig{
			Enabled:     true,
			MaxArticles: 20,
			TimeoutMS:   300000,
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
	overrideString(&cfg.RuntimeName, "LOQA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "LOQA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LOQA_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "LOQA_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Enabled, "LOQA_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "LOQA_BUS_EMBEDDED")
	overrideString(&cfg.Bus.Host, "LOQA_BUS_HOST")
	overrideInt(&cfg.Bus.Port, "LOQA_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "LOQA_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Store.Path, "LOQA_STORE_PATH")
	overrideInt(&cfg.Store.RetentionDays, "LOQA_STORE_RETENTION_DAYS")
	overrideInt(&cfg.Store.MaxNarrations, "LOQA_STORE_MAX_NARRATIONS")
	overrideBool(&cfg.Store.VacuumOnStart, "LOQA_STORE_VACUUM_ON_START")
	overrideInt(&cfg.Feeds.RefreshIntervalMS, "LOQA_FEEDS_REFRESH_INTERVAL_MS")
	overrideInt(&cfg.Feeds.FetchTimeoutMS, "LOQA_FEEDS_FETCH_TIMEOUT_MS")
	overrideString(&cfg.Feeds.UserAgent, "LOQA_FEEDS_USER_AGENT")
	overrideInt(&cfg.Feeds.ArticleLimit, "LOQA_FEEDS_ARTICLE_LIMIT")
	overrideInt(&cfg.Scraper.TimeoutMS, "LOQA_SCRAPER_TIMEOUT_MS")
	overrideInt(&cfg.Scraper.MinLength, "LOQA_SCRAPER_MIN_LENGTH")
	overrideString(&cfg.Scraper.UserAgent, "LOQA_SCRAPER_USER_AGENT")
	overrideInt(&cfg.Scraper.Concurrency, "LOQA_SCRAPER_MAX_CONCURRENCY")
	overrideString(&cfg.LLM.Mode, "LOQA_LLM_MODE")
	overrideString(&cfg.LLM.Endpoint, "LOQA_LLM_ENDPOINT")
	overrideString(&cfg.LLM.Command, "LOQA_LLM_COMMAND")
	overrideString(&cfg.LLM.APIKey, "LOQA_LLM_API_KEY")
	overrideString(&cfg.LLM.Model, "LOQA_LLM_MODEL")
	overrideInt(&cfg.LLM.MaxTokens, "LOQA_LLM_MAX_TOKENS")
	overrideFloat(&cfg.LLM.Temperature, "LOQA_LLM_TEMPERATURE")
	overrideInt(&cfg.LLM.TimeoutMS, "LOQA_LLM_TIMEOUT_MS")
	overrideBool(&cfg.TTS.Enabled, "LOQA_TTS_ENABLED")
	overrideString(&cfg.TTS.Mode, "LOQA_TTS_MODE")
	overrideString(&cfg.TTS.Command, "LOQA_TTS_COMMAND")
	overrideString(&cfg.TTS.Endpoint, "LOQA_TTS_ENDPOINT")
	overrideString(&cfg.TTS.APIKey, "LOQA_TTS_API_KEY")
	overrideString(&cfg.TTS.CredentialsFile, "LOQA_TTS_CREDENTIALS_FILE")
	overrideString(&cfg.TTS.Model, "LOQA_TTS_MODEL")
	overrideString(&cfg.TTS.Voice, "LOQA_TTS_VOICE")
	overrideString(&cfg.TTS.Language, "LOQA_TTS_LANGUAGE")
	overrideFloat(&cfg.TTS.SpeakingRate, "LOQA_TTS_SPEAKING_RATE")
	overrideFloat(&cfg.TTS.Pitch, "LOQA_TTS_PITCH")
	overrideString(&cfg.TTS.Encoding, "LOQA_TTS_ENCODING")
	overrideInt(&cfg.TTS.MaxChars, "LOQA_TTS_MAX_CHARS")
	overrideInt(&cfg.TTS.SilenceMS, "LOQA_TTS_SILENCE_MS")
	overrideString(&cfg.TTS.FailedChunkPolicy, "LOQA_TTS_FAILED_CHUNK_POLICY")
	overrideInt(&cfg.TTS.GapMS, "LOQA_TTS_GAP_MS")
	overrideInt(&cfg.TTS.Concurrency, "LOQA_TTS_MAX_CONCURRENCY")
	overrideFloat(&cfg.TTS.RequestsPerSecond, "LOQA_TTS_REQUESTS_PER_SECOND")
	overrideInt(&cfg.TTS.ChunkTimeoutMS, "LOQA_TTS_CHUNK_TIMEOUT_MS")
	overrideInt(&cfg.TTS.WriteTimeoutMS, "LOQA_TTS_WRITE_TIMEOUT_MS")
	overrideString(&cfg.TTS.OutputDir, "LOQA_TTS_OUTPUT_DIR")
	overrideBool(&cfg.Digest.Enabled, "LOQA_DIGEST_ENABLED")
	overrideInt(&cfg.Digest.MaxArticles, "LOQA_DIGEST_MAX_ARTICLES")
	overrideString(&cfg.Digest.Focus, "LOQA_DIGEST_FOCUS")
	overrideInt(&cfg.Digest.TimeoutMS, "LOQA_DIGEST_TIMEOUT_MS")
}

// override replaces *target with the parsed value of envKey when the
// variable is set and parses cleanly.
func override[T any](target *T, envKey string, parse func(string) (T, error)) {
	value, ok := os.LookupEnv(envKey)
	if !ok {
		return
	}
	if parsed, err := parse(strings.TrimSpace(value)); err == nil {
		*target = parsed
	}
}

func overrideString(target *string, envKey string) {
	override(target, envKey, func(s string) (string, error) {
		if s == "" {
			return "", errors.New("empty")
		}
		return s, nil
	})
}

func overrideInt(target *int, envKey string)   { override(target, envKey, strconv.Atoi) }
func overrideBool(target *bool, envKey string) { override(target, envKey, strconv.ParseBool) }

func overrideFloat(target *float64, envKey string) {
	override(target, envKey, func(s string) (float64, error) { return strconv.ParseFloat(s, 64) })
}

func overrideStringSlice(target *[]string, envKey string) {
	override(target, envKey, func(s string) ([]string, error) {
		var out []string
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		if len(out) == 0 {
			return nil, errors.New("empty")
		}
		return out, nil
	})
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			// -1 asks the embedded server for a random port.
			if cfg.Bus.Port != -1 && (cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535) {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Store.Path == "" {
		return errors.New("store.path must not be empty")
	}
	if cfg.Store.RetentionDays < 0 {
		return errors.New("store.retention_days must be >= 0")
	}
	if cfg.Store.MaxNarrations < 0 {
		return errors.New("store.max_narrations must be >= 0")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.Feeds.RefreshIntervalMS < 0 {
		return errors.New("feeds.refresh_interval_ms must be >= 0")
	}
	if cfg.Feeds.FetchTimeoutMS <= 0 {
		return errors.New("feeds.fetch_timeout_ms must be positive")
	}
	if cfg.Scraper.TimeoutMS <= 0 {
		return errors.New("scraper.timeout_ms must be positive")
	}
	if cfg.Scraper.Concurrency <= 0 {
		return errors.New("scraper.max_concurrency must be >= 1")
	}
	switch cfg.LLM.Mode {
	case "mock", "ollama", "exec", "openai":
	default:
		return errors.New("llm.mode must be one of mock|ollama|exec|openai")
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
	if cfg.TTS.Enabled {
		switch cfg.TTS.Mode {
		case "mock", "exec", "google", "elevenlabs":
		default:
			return errors.New("tts.mode must be one of mock|exec|google|elevenlabs")
		}
		if cfg.TTS.Mode == "exec" && cfg.TTS.Command == "" {
			return errors.New("tts.command must be set when mode=exec")
		}
		switch cfg.TTS.Encoding {
		case "mp3", "wav":
		default:
			return errors.New("tts.encoding must be one of mp3|wav")
		}
		if cfg.TTS.Mode == "elevenlabs" && cfg.TTS.Encoding != "mp3" {
			return errors.New("tts.encoding must be mp3 when mode=elevenlabs")
		}
		switch cfg.TTS.FailedChunkPolicy {
		case "skip", "gap":
		default:
			return errors.New("tts.failed_chunk_policy must be one of skip|gap")
		}
		if cfg.TTS.MaxChars <= 0 {
			return errors.New("tts.max_chars must be positive")
		}
		if cfg.TTS.SilenceMS < 0 || cfg.TTS.GapMS < 0 {
			return errors.New("tts.silence_ms and tts.gap_ms must be >= 0")
		}
		if cfg.TTS.Concurrency <= 0 {
			return errors.New("tts.max_concurrency must be >= 1")
		}
		if cfg.TTS.RequestsPerSecond < 0 {
			return errors.New("tts.requests_per_second must be >= 0")
		}
		if cfg.TTS.SpeakingRate <= 0 {
			return errors.New("tts.speaking_rate must be positive")
		}
		if cfg.TTS.OutputDir == "" {
			return errors.New("tts.output_dir must not be empty")
		}
	}
	if cfg.Digest.Enabled && cfg.Digest.MaxArticles <= 0 {
		return errors.New("digest.max_articles must be >= 1")
	}
	return nil
}
