package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/aulabot/aula/internal/knowledge"
	"github.com/aulabot/aula/internal/session"
)

// synthesize produces the final answer from the original question (as
// typed, not the rewritten form), the conversation and the retrieved
// evidence. With no evidence at all it returns the fixed refusal without a
// model call; there is nothing to ground an answer in.
func (p *Pipeline) synthesize(ctx context.Context, question string, sess session.Session, fragments []knowledge.Fragment) (string, []string, error) {
	if len(fragments) == 0 {
		return refusalAnswer, nil, nil
	}

	system := answerInstruction(p.maxSentences) + "\n\n" + renderEvidence(fragments)
	if sess.Summary != "" {
		system += "Summary of the earlier conversation:\n" + sess.Summary + "\n"
	}

	raw, err := p.generator.Generate(ctx, system, turnMessages(sess.Turns), question)
	if err != nil {
		return "", nil, fmt.Errorf("synthesizing answer: %w", err)
	}

	answer, cited := extractCitations(raw, fragments)
	return answer, cited, nil
}

// citationMarker matches the [S#] labels the synthesis prompt asks for.
var citationMarker = regexp.MustCompile(`\s*\[S(\d+)\]`)

// extractCitations parses [S#] markers out of the model's reply, maps them
// to the source identifiers of the supplied fragments, and strips them from
// the user-visible text. Out-of-range markers are dropped, so the cited set
// is always a subset of the fragments' sources. When the reply carries no
// markers every retrieved source is credited; the model was shown nothing
// else to draw on.
func extractCitations(raw string, fragments []knowledge.Fragment) (string, []string) {
	seen := make(map[string]bool)
	var cited []string
	add := func(source string) {
		if !seen[source] {
			seen[source] = true
			cited = append(cited, source)
		}
	}

	marked := false
	for _, m := range citationMarker.FindAllStringSubmatch(raw, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 || n > len(fragments) {
			continue
		}
		marked = true
		add(fragments[n-1].SourceID)
	}
	if !marked {
		for _, f := range fragments {
			add(f.SourceID)
		}
	}
	sort.Strings(cited)

	answer := strings.TrimSpace(citationMarker.ReplaceAllString(raw, ""))
	return answer, cited
}
