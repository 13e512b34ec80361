package pipeline

import (
	"fmt"
	"strings"

	"github.com/futuresys/introbot/internal/knowledge"
)

// systemPrompt fixes the assistant's behavior. The refusal sentence is exact
// so downstream consumers can detect unanswerable questions reliably.
const systemPrompt = `You are the company's assistant. Answer questions about the company using only the reference context and the conversation history provided with each question.

Rules:
- Ground every statement in the reference context. Do not invent facts.
- If the context does not contain the answer, reply exactly: "I'm sorry, I cannot confirm that information."
- Answer directly. Do not open with filler such as "Great question" or remarks about being an AI.`

// noneToken marks an empty context or history section so the model never
// mistakes absence for an instruction to improvise.
const noneToken = "(none)"

// buildUserPrompt renders the retrieved passages, bounded history, and
// question into the user message. Passages are numbered [1], [2], ... in the
// given order and separated by blank lines.
func buildUserPrompt(question string, passages []knowledge.Candidate, history []Turn) string {
	var b strings.Builder

	b.WriteString("Reference context:\n")
	if len(passages) == 0 {
		b.WriteString(noneToken)
		b.WriteByte('\n')
	} else {
		for i, c := range passages {
			if i > 0 {
				b.WriteByte('\n')
			}
			fmt.Fprintf(&b, "[%d] %s\n", i+1, c.Passage.Content)
		}
	}

	b.WriteString("\nConversation history:\n")
	if len(history) == 0 {
		b.WriteString(noneToken)
		b.WriteByte('\n')
	} else {
		for _, turn := range history {
			fmt.Fprintf(&b, "User: %s\nAssistant: %s\n", turn.User, turn.Assistant)
		}
	}

	fmt.Fprintf(&b, "\nQuestion: %s", question)
	return b.String()
}
