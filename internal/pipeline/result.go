package pipeline

// Result is the outcome of one successful pipeline run.
type Result struct {
	// Answer is the final natural-language reply, including the explicit
	// insufficient-information reply when the evidence did not cover the
	// question.
	Answer string

	// CitedSources holds the distinct source identifiers the answer drew
	// on, deduplicated, order-insensitive. Always a subset of the sources
	// of the fragments retrieved for this run. Empty for refusals.
	CitedSources []string

	// ContextualizedQuery is the standalone form of the question that was
	// used for retrieval. Exposed for observability; equals the original
	// question on the first turn or after a rewrite fallback.
	ContextualizedQuery string
}
