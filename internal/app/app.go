// Package app initializes and wires the application components: Genkit,
// the PostgreSQL pool, the knowledge store, the session store, the answer
// pipeline and the Telegram bot.
package app

import (
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aulabot/aula/internal/config"
	"github.com/aulabot/aula/internal/knowledge"
	"github.com/aulabot/aula/internal/llm"
	"github.com/aulabot/aula/internal/pipeline"
	"github.com/aulabot/aula/internal/session"
	"github.com/aulabot/aula/internal/telegram"
)

// App is the application container. Fields are populated by Setup.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Genkit   *genkit.Genkit
	Embedder ai.Embedder
	DBPool   *pgxpool.Pool

	LLM       *llm.Client
	Knowledge *knowledge.Store
	Indexer   *knowledge.Indexer
	Sessions  *session.Store
	Pipeline  *pipeline.Pipeline
}

// Close releases held resources. Safe to call on a partially built App.
func (a *App) Close() {
	if a.DBPool != nil {
		a.DBPool.Close()
		a.Logger.Info("database pool closed")
	}
}

// NewBot creates the Telegram bot on top of the wired pipeline. Separate
// from Setup so the index and ask commands can build an App without a bot
// token.
func (a *App) NewBot() (*telegram.Bot, error) {
	client, err := telegram.NewClient(a.Config.TelegramToken)
	if err != nil {
		return nil, err
	}
	return telegram.New(telegram.Config{
		Client:      client,
		Answerer:    a.Pipeline,
		Sources:     a.Knowledge,
		PollTimeout: a.Config.PollTimeout(),
		Logger:      a.Logger,
	})
}
