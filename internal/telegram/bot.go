package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/aulabot/aula/internal/knowledge"
	"github.com/aulabot/aula/internal/pipeline"
)

// Answerer runs the question pipeline for one inbound message.
type Answerer interface {
	HandleMessage(ctx context.Context, userID, question string) (pipeline.Result, error)
	Reset(userID string)
}

// SourceLister reports what material is indexed, for the /sources command.
type SourceLister interface {
	ListSources(ctx context.Context) ([]knowledge.SourceInfo, error)
}

// User-facing failure messages, keyed by pipeline failure kind. Short and
// non-technical; raw errors stay in the logs.
var failureMessages = map[pipeline.FailureKind]string{
	pipeline.KindTimeout:    "That took too long to answer. Please try again.",
	pipeline.KindRetrieval:  "I'm temporarily unable to search the documents. Please try again in a moment.",
	pipeline.KindGeneration: "I couldn't generate an answer right now. Please try again in a moment.",
	pipeline.KindInternal:   "Something went wrong on my side. Please try again.",
}

const welcomeMessage = `Hi! I answer questions about the indexed course material.

Ask me anything, or use:
/sources - list the indexed documents
/clear - forget our conversation
/help - show this message`

// Config contains the required parameters for the bot.
type Config struct {
	Client      *Client
	Answerer    Answerer
	Sources     SourceLister
	PollTimeout time.Duration
	Logger      *slog.Logger
}

// Bot receives Telegram messages and replies with pipeline answers.
//
// Each message is handled in its own goroutine so one user's slow run
// never blocks polling or other users; per-user ordering is the
// pipeline's responsibility.
type Bot struct {
	client      *Client
	answerer    Answerer
	sources     SourceLister
	pollTimeout time.Duration
	logger      *slog.Logger

	offset int64
}

// New creates a Bot.
func New(cfg Config) (*Bot, error) {
	if cfg.Client == nil {
		return nil, errors.New("telegram client is required")
	}
	if cfg.Answerer == nil {
		return nil, errors.New("answerer is required")
	}
	if cfg.PollTimeout <= 0 {
		return nil, errors.New("poll timeout must be positive")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Bot{
		client:      cfg.Client,
		answerer:    cfg.Answerer,
		sources:     cfg.Sources,
		pollTimeout: cfg.PollTimeout,
		logger:      logger,
	}, nil
}

// Run polls for updates until ctx is canceled. Poll errors are logged and
// retried with a short pause; only context cancellation stops the loop.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Info("bot polling started", "poll_timeout", b.pollTimeout)

	for {
		updates, err := b.client.GetUpdates(ctx, b.offset, b.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				b.logger.Info("bot polling stopped")
				return ctx.Err()
			}
			b.logger.Error("poll failed", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(3 * time.Second):
			}
			continue
		}

		for _, u := range updates {
			if u.ID >= b.offset {
				b.offset = u.ID + 1
			}
			if u.Message == nil || u.Message.From == nil {
				continue
			}
			msg := *u.Message
			go b.handle(ctx, msg)
		}
	}
}

// handle dispatches one inbound message.
func (b *Bot) handle(ctx context.Context, msg Message) {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	if strings.HasPrefix(text, "/") {
		b.handleCommand(ctx, msg, text)
		return
	}
	b.handleQuestion(ctx, msg, text)
}

func (b *Bot) handleCommand(ctx context.Context, msg Message, text string) {
	cmd, _, _ := strings.Cut(text, " ")
	// Commands in groups arrive as /cmd@botname.
	cmd, _, _ = strings.Cut(cmd, "@")

	switch cmd {
	case "/start", "/help":
		b.reply(ctx, msg.Chat.ID, welcomeMessage)
	case "/clear":
		b.answerer.Reset(userKey(msg))
		b.reply(ctx, msg.Chat.ID, "Conversation cleared. Ask me anything.")
	case "/sources":
		b.reply(ctx, msg.Chat.ID, b.sourcesMessage(ctx))
	default:
		b.reply(ctx, msg.Chat.ID, "Unknown command. Use /help to see what I can do.")
	}
}

func (b *Bot) handleQuestion(ctx context.Context, msg Message, text string) {
	userID := userKey(msg)
	if err := b.client.SendTyping(ctx, msg.Chat.ID); err != nil {
		b.logger.Debug("typing indicator failed", "error", err)
	}

	res, err := b.answerer.HandleMessage(ctx, userID, text)
	if err != nil {
		kind := pipeline.Classify(err)
		b.logger.Error("message handling failed", "user", userID, "kind", kind, "error", err)
		b.reply(ctx, msg.Chat.ID, failureMessages[kind])
		return
	}

	b.reply(ctx, msg.Chat.ID, formatAnswer(res))
}

func (b *Bot) sourcesMessage(ctx context.Context) string {
	if b.sources == nil {
		return "Source listing is not available."
	}
	infos, err := b.sources.ListSources(ctx)
	if err != nil {
		b.logger.Error("listing sources failed", "error", err)
		return "I couldn't list the indexed documents right now."
	}
	if len(infos) == 0 {
		return "No documents are indexed yet."
	}

	var sb strings.Builder
	sb.WriteString("Indexed documents:\n")
	for _, si := range infos {
		fmt.Fprintf(&sb, "- %s (%d chunks)\n", si.Source, si.Chunks)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	if err := b.client.SendMessage(ctx, chatID, text); err != nil {
		b.logger.Error("reply failed", "chat", chatID, "error", err)
	}
}

// formatAnswer appends the cited sources to the answer text.
func formatAnswer(res pipeline.Result) string {
	if len(res.CitedSources) == 0 {
		return res.Answer
	}
	return res.Answer + "\n\nSources: " + strings.Join(res.CitedSources, ", ")
}

// userKey derives the conversation key from the sender. Distinct senders
// get distinct conversations even inside a shared group chat.
func userKey(msg Message) string {
	return strconv.FormatInt(msg.From.ID, 10)
}
