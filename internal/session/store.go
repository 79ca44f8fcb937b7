package session

import (
	"container/list"
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Summarizer collapses a rendered conversation transcript into a short
// factual summary. Implemented by the application's model caller; defined
// here on the consumer side.
type Summarizer interface {
	Summarize(ctx context.Context, transcript string) (string, error)
}

// Config holds store settings.
type Config struct {
	// SummaryTriggerTokens is the estimated-token threshold above which
	// Trim collapses old turns into the running summary.
	SummaryTriggerTokens int

	// RecentTurnsKept is the number of most recent turns retained
	// verbatim after a trim.
	RecentTurnsKept int

	// MaxSessions bounds the number of concurrently tracked users. When
	// exceeded, the least recently active user's session is evicted.
	MaxSessions int
}

// Store keeps conversation sessions in process memory, keyed by user
// identifier, with create-on-first-use and LRU eviction of inactive users.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*entry
	lru      *list.List // front = most recently active; values are user IDs

	cfg        Config
	summarizer Summarizer
	logger     *slog.Logger
}

type entry struct {
	turns   []Turn
	summary string
	elem    *list.Element
}

// NewStore creates a Store. summarizer may be nil, in which case Trim is a
// no-op beyond the budget check (useful in tests).
func NewStore(cfg Config, summarizer Summarizer, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		sessions:   make(map[string]*entry),
		lru:        list.New(),
		cfg:        cfg,
		summarizer: summarizer,
		logger:     logger,
	}
}

// Get returns a snapshot of the user's session, creating an empty one on
// first use.
func (s *Store) Get(userID string) Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.touch(userID)
	return snapshot(e)
}

// Append atomically records exactly one exchange: the user's question
// followed by the assistant's answer.
func (s *Store) Append(userID string, question, answer Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.touch(userID)
	e.turns = append(e.turns, question, answer)
	s.logger.Debug("appended exchange", "user", userID, "turns", len(e.turns))
}

// Clear drops all turns and the summary for a user, leaving a fresh empty
// session. Only ever triggered by an explicit external request.
func (s *Store) Clear(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[userID]
	if !ok {
		return
	}
	e.turns = nil
	e.summary = ""
	s.logger.Info("cleared session", "user", userID)
}

// Trim collapses the oldest turns into the running summary when the
// session's estimated size exceeds the configured budget. The most recent
// turns stay verbatim; everything older (including any previous summary)
// is folded into one new summary via a single model call.
//
// On summarizer failure the session is left unchanged and the error is
// returned; the caller decides whether that is fatal.
func (s *Store) Trim(ctx context.Context, userID string) error {
	s.mu.Lock()
	e, ok := s.sessions[userID]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	snap := snapshot(e)
	s.mu.Unlock()

	if snap.tokenEstimate() <= s.cfg.SummaryTriggerTokens {
		return nil
	}
	keep := s.cfg.RecentTurnsKept
	if len(snap.Turns) <= keep {
		return nil
	}
	if s.summarizer == nil {
		return nil
	}

	old := snap.Turns[:len(snap.Turns)-keep]
	transcript := renderTranscript(snap.Summary, old)

	// The model call happens outside the store lock; same-user mutation is
	// excluded by the orchestrator's per-user serialization.
	summary, err := s.summarizer.Summarize(ctx, transcript)
	if err != nil {
		return fmt.Errorf("summarizing %d old turns: %w", len(old), err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok = s.sessions[userID]
	if !ok {
		return nil
	}
	if len(e.turns) < len(snap.Turns) {
		// Session was cleared while summarizing; drop the stale summary.
		return nil
	}
	appended := e.turns[len(snap.Turns):]
	e.turns = append(append([]Turn{}, snap.Turns[len(snap.Turns)-keep:]...), appended...)
	e.summary = summary

	s.logger.Info("trimmed session",
		"user", userID,
		"summarized_turns", len(old),
		"kept_turns", len(e.turns),
	)
	return nil
}

// touch returns the entry for userID, creating it if absent, marks it most
// recently active, and evicts the coldest session when over capacity.
// Caller must hold s.mu.
func (s *Store) touch(userID string) *entry {
	e, ok := s.sessions[userID]
	if !ok {
		e = &entry{}
		e.elem = s.lru.PushFront(userID)
		s.sessions[userID] = e
		s.evictLocked()
	} else {
		s.lru.MoveToFront(e.elem)
	}
	return e
}

// evictLocked removes least recently active sessions while over capacity.
// Caller must hold s.mu.
func (s *Store) evictLocked() {
	for s.cfg.MaxSessions > 0 && len(s.sessions) > s.cfg.MaxSessions {
		back := s.lru.Back()
		if back == nil {
			return
		}
		victim := back.Value.(string)
		s.lru.Remove(back)
		delete(s.sessions, victim)
		s.logger.Debug("evicted inactive session", "user", victim)
	}
}

func snapshot(e *entry) Session {
	turns := make([]Turn, len(e.turns))
	copy(turns, e.turns)
	return Session{Turns: turns, Summary: e.summary}
}

// renderTranscript formats old turns (and any prior summary) for the
// summarizer. Long turns are truncated; the summary only needs the facts,
// not the prose.
func renderTranscript(priorSummary string, old []Turn) string {
	const perTurnLimit = 400

	var b []byte
	if priorSummary != "" {
		b = append(b, "EARLIER SUMMARY: "...)
		b = append(b, priorSummary...)
		b = append(b, '\n')
	}
	for _, t := range old {
		text := t.Text
		if len(text) > perTurnLimit {
			text = text[:perTurnLimit] + "..."
		}
		switch t.Role {
		case RoleUser:
			b = append(b, "USER: "...)
		case RoleAssistant:
			b = append(b, "ASSISTANT: "...)
		}
		b = append(b, text...)
		b = append(b, '\n')
	}
	return string(b)
}
