package expert

import (
	"fmt"
	"strings"

	"github.com/draftforge/manuscript-cli/internal/model"
)

const outlineSystem = `You are a manuscript architect. Given raw source
material, produce a short structural outline: the sections a rigorous
write-up of this material should contain, one line per section. Output
plain text only.`

const extractSystem = `You extract factual relations from documents.
Return ONLY a JSON array. Each element has keys: "subject", "predicate",
"object", "page" (integer, 1-based), "quote" (the exact supporting
sentence), "confidence" (0.0-1.0). Use UPPER_SNAKE_CASE predicates.
Do not include any prose outside the JSON array.`

const draftSystem = `You are a technical writer. Draft manuscript prose
that follows the given outline and asserts only the provided claims.
Cite claims inline using square brackets containing the claim subject,
like [claim: X]. Keep a neutral, precise register. Output plain text.`

const reframeSystem = `A draft has irreconcilable source conflicts after
multiple revision attempts. Propose a reframed version that presents the
disagreement between sources explicitly instead of resolving it. Keep
the cited evidence. Output the reframed draft as plain text.`

const rewriteSystem = `Rewrite the given sentence to follow the guidance
while preserving every factual assertion, number, and citation marker
exactly. Output only the rewritten sentence.`

func draftPrompt(outline string, claims []model.Claim) string {
	var b strings.Builder
	b.WriteString("Outline:\n")
	b.WriteString(outline)
	b.WriteString("\n\nClaims:\n")
	for _, c := range claims {
		fmt.Fprintf(&b, "- (%s, %s, %s) confidence=%.2f", c.Subject, c.Predicate, c.Object, c.Confidence)
		if c.SourceAnchor != nil {
			fmt.Fprintf(&b, " [doc %s p.%d]", c.SourceAnchor.DocID, c.SourceAnchor.PageNumber)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func reframePrompt(draft string, report *model.ConflictReport) string {
	var b strings.Builder
	b.WriteString("Draft:\n")
	b.WriteString(draft)
	if report != nil && len(report.ConflictItems) > 0 {
		b.WriteString("\n\nUnresolved conflicts:\n")
		for _, item := range report.ConflictItems {
			fmt.Fprintf(&b, "- [%s] %s\n", item.ConflictType, item.Summary)
		}
	}
	return b.String()
}
