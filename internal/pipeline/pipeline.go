// Package pipeline implements the history-aware answer pipeline: rewriting
// a follow-up question into a standalone query, retrieving evidence for it,
// and synthesizing a grounded answer.
//
// One HandleMessage call runs the whole state machine for one inbound
// message. Runs for the same user are serialized; runs for distinct users
// proceed in parallel. The conversation commit (question turn plus answer
// turn) is all-or-nothing: a run that fails or times out leaves the user's
// session exactly as it found it.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"

	"github.com/aulabot/aula/internal/knowledge"
	"github.com/aulabot/aula/internal/session"
)

// State names one phase of a pipeline run. Exposed for logging.
type State string

// Pipeline run states, in order of traversal.
const (
	StateIdle            State = "idle"
	StateContextualizing State = "contextualizing"
	StateRetrieving      State = "retrieving"
	StateSynthesizing    State = "synthesizing"
	StateCommitted       State = "committed"
	StateFailed          State = "failed"
)

// Generator produces text from a system instruction, prior conversation
// messages and the current user text.
type Generator interface {
	Generate(ctx context.Context, system string, history []*ai.Message, userText string) (string, error)
}

// Searcher returns the k most relevant evidence fragments for a query,
// ordered by descending score. Read-only; may return an empty slice.
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]knowledge.Fragment, error)
}

// SessionStore owns per-user conversation state.
type SessionStore interface {
	Get(userID string) session.Session
	Append(userID string, question, answer session.Turn)
	Trim(ctx context.Context, userID string) error
	Clear(userID string)
}

// trimTimeout bounds the post-commit summarization call, which runs on a
// detached context so a nearly exhausted request deadline cannot starve it.
const trimTimeout = 30 * time.Second

// Config contains the required parameters for the pipeline.
type Config struct {
	Generator Generator
	Searcher  Searcher
	Sessions  SessionStore

	TopK               int           // fragments retrieved per run
	MaxAnswerSentences int           // answer length budget passed to the model
	Timeout            time.Duration // overall deadline per run

	Logger *slog.Logger
}

// Pipeline orchestrates contextualization, retrieval and synthesis for
// inbound messages. Safe for concurrent use.
type Pipeline struct {
	generator Generator
	searcher  Searcher
	sessions  SessionStore

	topK         int
	maxSentences int
	timeout      time.Duration

	locks  *userLocks
	logger *slog.Logger
}

// New creates a Pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Generator == nil {
		return nil, errors.New("generator is required")
	}
	if cfg.Searcher == nil {
		return nil, errors.New("searcher is required")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("session store is required")
	}
	if cfg.TopK <= 0 {
		return nil, errors.New("top k must be positive")
	}
	if cfg.MaxAnswerSentences <= 0 {
		return nil, errors.New("answer sentence budget must be positive")
	}
	if cfg.Timeout <= 0 {
		return nil, errors.New("timeout must be positive")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Pipeline{
		generator:    cfg.Generator,
		searcher:     cfg.Searcher,
		sessions:     cfg.Sessions,
		topK:         cfg.TopK,
		maxSentences: cfg.MaxAnswerSentences,
		timeout:      cfg.Timeout,
		locks:        newUserLocks(),
		logger:       logger,
	}, nil
}

// HandleMessage runs the full pipeline for one inbound message and commits
// the resulting exchange to the user's session.
//
// Not idempotent: every successful call appends history. Callers must not
// retry after success; retrying after a Timeout failure is safe because
// nothing was committed.
func (p *Pipeline) HandleMessage(ctx context.Context, userID, question string) (Result, error) {
	question = strings.TrimSpace(question)
	if userID == "" || question == "" {
		return Result{}, errors.New("user id and question must be non-empty")
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	// The user's lock covers the whole run, so same-user messages cannot
	// interleave reads and commits. Other users are unaffected.
	p.locks.lock(userID)
	defer p.locks.unlock(userID)

	start := time.Now()
	st := p.step(userID, StateIdle, StateContextualizing)
	sess := p.sessions.Get(userID)

	standalone := p.contextualize(ctx, question, sess)

	st = p.step(userID, st, StateRetrieving)
	fragments, err := p.searcher.Search(ctx, standalone, p.topK)
	if err != nil {
		return Result{}, p.fail(ctx, userID, st, ErrRetrievalUnavailable, err)
	}

	st = p.step(userID, st, StateSynthesizing)
	answer, cited, err := p.synthesize(ctx, question, sess, fragments)
	if err != nil {
		return Result{}, p.fail(ctx, userID, st, ErrGenerationUnavailable, err)
	}

	p.sessions.Append(userID,
		session.NewTurn(session.RoleUser, question),
		session.NewTurn(session.RoleAssistant, answer),
	)
	st = p.step(userID, st, StateCommitted)

	p.logger.Info("pipeline run committed",
		"user", userID,
		"fragments", len(fragments),
		"cited", len(cited),
		"elapsed", time.Since(start),
	)

	// Trimming happens after commit on a detached context; a failure here
	// only delays summarization until a later run.
	trimCtx, trimCancel := context.WithTimeout(context.WithoutCancel(ctx), trimTimeout)
	defer trimCancel()
	if err := p.sessions.Trim(trimCtx, userID); err != nil {
		p.logger.Warn("session trim failed", "user", userID, "error", err)
	}

	return Result{
		Answer:              answer,
		CitedSources:        cited,
		ContextualizedQuery: standalone,
	}, nil
}

// Reset clears a user's conversation after any in-flight run for that user
// finishes.
func (p *Pipeline) Reset(userID string) {
	p.locks.lock(userID)
	defer p.locks.unlock(userID)
	p.sessions.Clear(userID)
}

// step logs a state transition and returns the new state.
func (p *Pipeline) step(userID string, from, to State) State {
	p.logger.Debug("pipeline transition", "user", userID, "from", from, "to", to)
	return to
}

// fail maps a stage error to the surfaced failure, preferring Timeout when
// the run's deadline is the underlying cause. Nothing has been committed at
// any failure point.
func (p *Pipeline) fail(ctx context.Context, userID string, from State, sentinel, cause error) error {
	p.step(userID, from, StateFailed)
	if ctx.Err() != nil {
		p.logger.Warn("pipeline run timed out", "user", userID, "stage", from)
		return fmt.Errorf("%w: %s stage: %v", ErrTimeout, from, cause)
	}
	p.logger.Error("pipeline run failed", "user", userID, "stage", from, "error", cause)
	return fmt.Errorf("%w: %v", sentinel, cause)
}
