package generation

import (
	"fmt"
	"strings"

	"github.com/corterra/answerd/internal/retrieval"
	"github.com/corterra/answerd/internal/textutil"
)

// BuildContext assembles the grounding context block from ranked passages.
// Passages are taken in rank order and included whole while they fit. A
// passage that exceeds the remaining budget on its own is tail-truncated
// rather than dropped, so the top-ranked chunk always reaches the prompt;
// later passages that no longer fit whole are skipped.
func BuildContext(passages []retrieval.Passage, tokenBudget int) string {
	if tokenBudget <= 0 {
		tokenBudget = 2048
	}
	var b strings.Builder
	used := 0
	first := true
	for _, p := range passages {
		header := fmt.Sprintf("[source:%s chunk:%d]", p.SourceID, p.ChunkIndex)
		headerCost := textutil.CountTokens(header)
		text := p.Text
		cost := headerCost + textutil.CountTokens(text)
		if used+cost > tokenBudget {
			if !first || headerCost >= tokenBudget {
				continue
			}
			text = textutil.TruncateTokens(p.Text, tokenBudget-headerCost)
			cost = headerCost + textutil.CountTokens(text)
		}
		if !first {
			b.WriteString("\n---\n")
		}
		b.WriteString(header)
		b.WriteString("\n")
		b.WriteString(text)
		used += cost
		first = false
	}
	return b.String()
}

// BuildPrompt wraps the context block and question into the generation prompt.
func BuildPrompt(query string, passages []retrieval.Passage, tokenBudget int) string {
	ctx := BuildContext(passages, tokenBudget)
	var b strings.Builder
	b.WriteString("Answer the question using only the context below. ")
	b.WriteString("If the context does not contain the answer, say so.\n\n")
	b.WriteString("Context:\n")
	b.WriteString(ctx)
	b.WriteString("\n\nQuestion: ")
	b.WriteString(query)
	b.WriteString("\nAnswer:")
	return b.String()
}
