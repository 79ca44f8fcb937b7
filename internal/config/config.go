// Package config provides application configuration with multi-source priority.
//
// Sources (highest to lowest):
//  1. Environment variables (runtime override)
//  2. Config file (~/.aula/config.yaml, or ./config.yaml)
//  3. Default values
//
// Categories:
//   - AI: provider, model, embedder
//   - Retrieval: top-k, minimum similarity score, chunking
//   - Memory: summary trigger, retained turns, session eviction
//   - Pipeline: answer length budget, per-message deadline
//   - Storage: PostgreSQL connection (pgvector index)
//   - Telegram: bot token, poll timeout
//
// Secrets (bot token, database password) are masked in MarshalJSON and
// String; validation is fail-fast with sentinel errors for errors.Is().
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrMissingTelegramToken indicates the Telegram bot token is not set.
	ErrMissingTelegramToken = errors.New("missing Telegram bot token")

	// ErrMissingAPIKey indicates the model provider API key is not set.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidModelName indicates the model name is empty or malformed.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidTopK indicates the retrieval top-k is out of range.
	ErrInvalidTopK = errors.New("invalid retrieval top-k")

	// ErrInvalidMinScore indicates the similarity score floor is out of range.
	ErrInvalidMinScore = errors.New("invalid minimum similarity score")

	// ErrInvalidChunking indicates chunk size/overlap are inconsistent.
	ErrInvalidChunking = errors.New("invalid chunking configuration")

	// ErrInvalidAnswerBudget indicates the answer sentence budget is out of range.
	ErrInvalidAnswerBudget = errors.New("invalid answer sentence budget")

	// ErrInvalidMemoryBudget indicates the history summary settings are inconsistent.
	ErrInvalidMemoryBudget = errors.New("invalid memory budget")

	// ErrInvalidTimeout indicates the pipeline deadline is out of range.
	ErrInvalidTimeout = errors.New("invalid pipeline timeout")

	// ErrInvalidPostgres indicates the PostgreSQL settings are incomplete.
	ErrInvalidPostgres = errors.New("invalid PostgreSQL configuration")
)

// Default model identifiers for the Gemini provider.
const (
	DefaultModel         = "gemini-2.5-flash"
	DefaultEmbedderModel = "gemini-embedding-001"
)

// Config stores application configuration.
// SECURITY: sensitive fields are masked in MarshalJSON; update it when
// adding new secrets.
type Config struct {
	// AI provider and model configuration
	Provider      string `mapstructure:"provider" json:"provider"` // "gemini" (default) or "ollama"
	ModelName     string `mapstructure:"model_name" json:"model_name"`
	EmbedderModel string `mapstructure:"embedder_model" json:"embedder_model"`
	OllamaHost    string `mapstructure:"ollama_host" json:"ollama_host"`

	// Retrieval configuration
	TopK         int     `mapstructure:"top_k" json:"top_k"`
	MinScore     float32 `mapstructure:"min_score" json:"min_score"`
	ChunkSize    int     `mapstructure:"chunk_size" json:"chunk_size"`
	ChunkOverlap int     `mapstructure:"chunk_overlap" json:"chunk_overlap"`

	// Conversation memory configuration
	SummaryTriggerTokens int `mapstructure:"summary_trigger_tokens" json:"summary_trigger_tokens"`
	RecentTurnsKept      int `mapstructure:"recent_turns_kept" json:"recent_turns_kept"`
	MaxSessions          int `mapstructure:"max_sessions" json:"max_sessions"`

	// Pipeline configuration
	MaxAnswerSentences int           `mapstructure:"max_answer_sentences" json:"max_answer_sentences"`
	PipelineTimeout    time.Duration `mapstructure:"pipeline_timeout" json:"pipeline_timeout"`

	// Storage configuration
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Telegram transport configuration
	TelegramToken   string `mapstructure:"telegram_token" json:"telegram_token"` // SENSITIVE
	PollTimeoutSecs int    `mapstructure:"poll_timeout_secs" json:"poll_timeout_secs"`

	// Logging
	LogJSON  bool   `mapstructure:"log_json" json:"log_json"`
	LogLevel string `mapstructure:"log_level" json:"log_level"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > defaults.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".aula")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is fine: defaults plus env cover everything.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	// AI defaults
	viper.SetDefault("provider", "gemini")
	viper.SetDefault("model_name", DefaultModel)
	viper.SetDefault("embedder_model", DefaultEmbedderModel)
	viper.SetDefault("ollama_host", "http://localhost:11434")

	// Retrieval defaults (chunking matches the ingestion pipeline the
	// course documents were originally indexed with)
	viper.SetDefault("top_k", 3)
	viper.SetDefault("min_score", 0.3)
	viper.SetDefault("chunk_size", 800)
	viper.SetDefault("chunk_overlap", 100)

	// Memory defaults
	viper.SetDefault("summary_trigger_tokens", 2000)
	viper.SetDefault("recent_turns_kept", 6)
	viper.SetDefault("max_sessions", 1000)

	// Pipeline defaults
	viper.SetDefault("max_answer_sentences", 8)
	viper.SetDefault("pipeline_timeout", 60*time.Second)

	// PostgreSQL defaults for local development
	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "aula")
	viper.SetDefault("postgres_password", "aula_dev_password")
	viper.SetDefault("postgres_db_name", "aula")
	viper.SetDefault("postgres_ssl_mode", "disable")

	// Telegram defaults
	viper.SetDefault("poll_timeout_secs", 30)

	// Logging defaults
	viper.SetDefault("log_json", false)
	viper.SetDefault("log_level", "info")
}

// bindEnvVariables binds environment variables explicitly.
// GEMINI_API_KEY is read directly by the Genkit plugin, not via Viper;
// Validate() only checks its presence.
func bindEnvVariables() {
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("telegram_token", "TELEGRAM_BOT_TOKEN")
	mustBind("provider", "AULA_PROVIDER")
	mustBind("model_name", "AULA_MODEL_NAME")
	mustBind("embedder_model", "AULA_EMBEDDER_MODEL")
	mustBind("ollama_host", "AULA_OLLAMA_HOST")
	mustBind("log_level", "AULA_LOG_LEVEL")
}

// parseDatabaseURL overrides the individual PostgreSQL fields from
// DATABASE_URL when set. Highest priority for storage configuration.
func (c *Config) parseDatabaseURL() error {
	raw := os.Getenv("DATABASE_URL")
	if raw == "" {
		return nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parsing URL: %w", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	c.PostgresHost = u.Hostname()
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("parsing port: %w", err)
		}
		c.PostgresPort = port
	}
	if u.User != nil {
		c.PostgresUser = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			c.PostgresPassword = pw
		}
	}
	if db := strings.TrimPrefix(u.Path, "/"); db != "" {
		c.PostgresDBName = db
	}
	if mode := u.Query().Get("sslmode"); mode != "" {
		c.PostgresSSLMode = mode
	}
	return nil
}

// PostgresURL returns the connection string in URL form, as required by
// golang-migrate.
func (c *Config) PostgresURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(c.PostgresUser),
		url.QueryEscape(c.PostgresPassword),
		c.PostgresHost,
		c.PostgresPort,
		c.PostgresDBName,
		c.PostgresSSLMode,
	)
}

// FullModelName returns the provider-qualified model name for Genkit.
// If ModelName already contains a "/", it is returned as-is.
func (c *Config) FullModelName() string {
	if strings.Contains(c.ModelName, "/") {
		return c.ModelName
	}
	if c.Provider == "ollama" {
		return "ollama/" + c.ModelName
	}
	return "googleai/" + c.ModelName
}

// PollTimeout returns the Telegram long-poll timeout as a duration.
func (c *Config) PollTimeout() time.Duration {
	return time.Duration(c.PollTimeoutSecs) * time.Second
}

// maskedValue replaces secrets in serialized output. Full-width blocks
// avoid accidental substring matches against real secret characters.
const maskedValue = "████████"

// maskSecret masks a secret for safe logging. Short secrets are fully
// masked; longer ones keep the first and last two characters for debugging.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with sensitive field masking.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	a.TelegramToken = maskSecret(a.TelegramToken)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
