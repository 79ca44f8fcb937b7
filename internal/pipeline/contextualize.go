package pipeline

import (
	"context"

	"github.com/firebase/genkit/go/ai"

	"github.com/aulabot/aula/internal/session"
)

// contextualize rewrites question into a standalone query using the
// conversation. Two guarantees:
//
//   - Empty history is an identity short-circuit: the question comes back
//     unchanged with no model call, so first-turn messages pay no rewrite
//     latency.
//   - A failed rewrite degrades to the original question instead of
//     failing the run; retrieval quality suffers but the pipeline proceeds.
func (p *Pipeline) contextualize(ctx context.Context, question string, sess session.Session) string {
	if sess.Empty() {
		return question
	}

	system := contextualizeInstruction
	if sess.Summary != "" {
		system += "\n\nSummary of the earlier conversation:\n" + sess.Summary
	}

	rewritten, err := p.generator.Generate(ctx, system, turnMessages(sess.Turns), question)
	if err != nil {
		p.logger.Warn("contextualization degraded to original question", "error", err)
		return question
	}
	return rewritten
}

// turnMessages converts session turns to model messages, preserving order.
func turnMessages(turns []session.Turn) []*ai.Message {
	messages := make([]*ai.Message, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case session.RoleUser:
			messages = append(messages, ai.NewUserMessage(ai.NewTextPart(t.Text)))
		case session.RoleAssistant:
			messages = append(messages, ai.NewModelMessage(ai.NewTextPart(t.Text)))
		}
	}
	return messages
}
