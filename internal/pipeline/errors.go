package pipeline

import (
	"context"
	"errors"
)

// Sentinel failures surfaced to the transport layer. Contextualization
// failures are absorbed locally (fallback to the original question) and
// never appear here.
var (
	// ErrRetrievalUnavailable indicates the similarity index could not be
	// searched. Answering without retrieval would be ungrounded, so the run
	// fails instead.
	ErrRetrievalUnavailable = errors.New("document search unavailable")

	// ErrGenerationUnavailable indicates the synthesis model call failed.
	// Never replaced by a canned answer.
	ErrGenerationUnavailable = errors.New("answer generation unavailable")

	// ErrTimeout indicates the run exceeded its deadline before commit. No
	// turns were appended; the caller may retry.
	ErrTimeout = errors.New("pipeline deadline exceeded")
)

// FailureKind is the coarse error category exposed to the transport layer,
// which maps it to a short user-facing message.
type FailureKind string

const (
	KindNone       FailureKind = ""
	KindTimeout    FailureKind = "Timeout"
	KindRetrieval  FailureKind = "RetrievalUnavailable"
	KindGeneration FailureKind = "GenerationUnavailable"
	KindInternal   FailureKind = "Internal"
)

// Classify maps an error from HandleMessage to its FailureKind.
func Classify(err error) FailureKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, ErrRetrievalUnavailable):
		return KindRetrieval
	case errors.Is(err, ErrGenerationUnavailable):
		return KindGeneration
	default:
		return KindInternal
	}
}
