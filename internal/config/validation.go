package config

import (
	"fmt"
	"os"
	"time"
)

// Validate checks all configuration values and fails fast on the first
// inconsistency. Called from Load; exported for tests and for callers that
// build a Config by hand.
func (c *Config) Validate() error {
	if c.ModelName == "" {
		return fmt.Errorf("%w: model name is empty", ErrInvalidModelName)
	}
	if c.EmbedderModel == "" {
		return fmt.Errorf("%w: embedder model is empty", ErrInvalidModelName)
	}

	if c.Provider == "gemini" && os.Getenv("GEMINI_API_KEY") == "" {
		return fmt.Errorf("%w: GEMINI_API_KEY is not set", ErrMissingAPIKey)
	}

	if c.TopK < 1 || c.TopK > 20 {
		return fmt.Errorf("%w: %d (must be 1-20)", ErrInvalidTopK, c.TopK)
	}
	if c.MinScore < 0 || c.MinScore > 1 {
		return fmt.Errorf("%w: %g (must be 0-1)", ErrInvalidMinScore, c.MinScore)
	}
	if c.ChunkSize < 100 || c.ChunkSize > 8000 {
		return fmt.Errorf("%w: chunk_size %d (must be 100-8000)", ErrInvalidChunking, c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: chunk_overlap %d (must be 0 <= overlap < chunk_size)", ErrInvalidChunking, c.ChunkOverlap)
	}

	if c.MaxAnswerSentences < 1 || c.MaxAnswerSentences > 50 {
		return fmt.Errorf("%w: %d (must be 1-50)", ErrInvalidAnswerBudget, c.MaxAnswerSentences)
	}

	if c.SummaryTriggerTokens < 200 {
		return fmt.Errorf("%w: summary_trigger_tokens %d (must be >= 200)", ErrInvalidMemoryBudget, c.SummaryTriggerTokens)
	}
	if c.RecentTurnsKept < 2 {
		return fmt.Errorf("%w: recent_turns_kept %d (must be >= 2)", ErrInvalidMemoryBudget, c.RecentTurnsKept)
	}
	if c.MaxSessions < 1 {
		return fmt.Errorf("%w: max_sessions %d (must be >= 1)", ErrInvalidMemoryBudget, c.MaxSessions)
	}

	if c.PipelineTimeout < time.Second || c.PipelineTimeout > 10*time.Minute {
		return fmt.Errorf("%w: %s (must be 1s-10m)", ErrInvalidTimeout, c.PipelineTimeout)
	}

	if c.PostgresHost == "" || c.PostgresUser == "" || c.PostgresDBName == "" {
		return fmt.Errorf("%w: host, user and db name are required", ErrInvalidPostgres)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidPostgres, c.PostgresPort)
	}
	switch c.PostgresSSLMode {
	case "disable", "allow", "prefer", "require", "verify-ca", "verify-full":
	default:
		return fmt.Errorf("%w: unknown ssl mode %q", ErrInvalidPostgres, c.PostgresSSLMode)
	}

	return nil
}

// ValidateForServe additionally requires the Telegram token, which only the
// serve command needs (ask/index run without the transport).
func (c *Config) ValidateForServe() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.TelegramToken == "" {
		return fmt.Errorf("%w: set TELEGRAM_BOT_TOKEN", ErrMissingTelegramToken)
	}
	if c.PollTimeoutSecs < 1 || c.PollTimeoutSecs > 60 {
		return fmt.Errorf("%w: poll_timeout_secs %d (must be 1-60)", ErrInvalidTimeout, c.PollTimeoutSecs)
	}
	return nil
}
