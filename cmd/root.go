// Package cmd implements the aula command-line interface.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aulabot/aula/internal/config"
	"github.com/aulabot/aula/internal/log"
)

var rootCmd = &cobra.Command{
	Use:   "aula",
	Short: "aula is a Telegram study assistant with document-grounded answers",
	Long: `aula answers questions over indexed course material.

It rewrites follow-up questions into standalone queries, searches a
pgvector index for relevant document chunks, and generates answers that
cite their sources.

Run "aula serve" to start the Telegram bot, "aula index" to ingest
documents, or "aula ask" to query from the terminal.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig loads configuration and builds the application logger.
func loadConfig() (*config.Config, log.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("loading configuration: %w", err)
	}
	logger := log.New(log.Config{
		Level: log.ParseLevel(cfg.LogLevel),
		JSON:  cfg.LogJSON,
	})
	return cfg, logger, nil
}
