package pipeline

import (
	"fmt"
	"strings"

	"github.com/aulabot/aula/internal/knowledge"
)

// contextualizeInstruction asks the model to resolve references against the
// conversation, not to answer. The Contextualizer returns the model's
// output verbatim; answer-shaped output is a quality defect caught in
// evaluation, not corrected at runtime.
const contextualizeInstruction = `Given the conversation so far and the latest user question, rewrite the question so it is fully self-contained and understandable without the conversation.
Resolve pronouns and vague references ("it", "he", "that project") to the concrete names they refer to.
Do NOT answer the question. Output only the rewritten question.
If the question is already self-contained, return it unchanged.`

// refusalAnswer is the fixed insufficient-information reply. Produced
// without a model call when there is no evidence at all.
const refusalAnswer = "I don't have enough information in the indexed documents to answer that. " +
	"Try rephrasing the question, or ask about a topic covered by the uploaded material."

// answerInstruction builds the synthesis system prompt. Evidence fragments
// are labeled [S1]..[Sn] so the model can cite them; the markers are parsed
// out of the reply afterwards.
func answerInstruction(maxSentences int) string {
	return fmt.Sprintf(`You are a study assistant. Answer the user's question using ONLY the evidence excerpts below and the conversation so far.
Every factual claim must come from the evidence. After each claim, cite the excerpt it came from using its [S#] marker.
If the evidence does not contain the answer, say so plainly instead of guessing.
Stay consistent with the conversation: if something was already clarified, do not contradict it.
Answer in at most %d sentences.`, maxSentences)
}

// renderEvidence formats fragments as a labeled block appended to the
// synthesis prompt. Label order matches fragment order, so [S1] is the
// highest-scoring excerpt.
func renderEvidence(fragments []knowledge.Fragment) string {
	var b strings.Builder
	b.WriteString("Evidence excerpts:\n")
	for i, f := range fragments {
		fmt.Fprintf(&b, "[S%d] (from %s)\n%s\n\n", i+1, f.SourceID, f.Content)
	}
	return b.String()
}
