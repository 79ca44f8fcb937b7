// Package session owns per-user conversation state.
//
// A Session is the ordered turn log for one user identifier, plus an
// optional running summary produced when the log grows past a token budget.
// The Store hands out snapshot copies; callers never share slices with the
// store's internal state.
//
// Thread safety: Store operations are individually atomic. Serializing a
// whole pipeline run for one user is the orchestrator's job, not the
// store's.
package session

import (
	"strings"
	"time"
)

// Role identifies who produced a turn.
type Role string

// Valid turn roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one utterance in a conversation. Immutable once created.
type Turn struct {
	Role Role
	Text string
	At   time.Time
}

// NewTurn creates a turn stamped with the current wall-clock time.
func NewTurn(role Role, text string) Turn {
	return Turn{Role: role, Text: text, At: time.Now()}
}

// Session is a snapshot of one user's conversation state.
//
// Invariant: Turns are insertion-ordered. Summary, when non-empty,
// semantically subsumes every turn older than the retained window and is
// never contradicted by the retained turns.
type Session struct {
	Turns   []Turn
	Summary string
}

// Empty reports whether the session has neither turns nor a summary.
func (s Session) Empty() bool {
	return len(s.Turns) == 0 && s.Summary == ""
}

// estimateTokens approximates the token count of text. One word is counted
// as 1.3 tokens, which tracks common BPE vocabularies closely enough for a
// trim threshold.
func estimateTokens(text string) int {
	words := len(strings.Fields(text))
	return int(float64(words) * 1.3)
}

// tokenEstimate sums the estimated tokens of all turns plus the summary.
func (s Session) tokenEstimate() int {
	total := estimateTokens(s.Summary)
	for _, t := range s.Turns {
		total += estimateTokens(t.Text)
	}
	return total
}
