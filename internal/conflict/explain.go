package conflict

import (
	"fmt"
	"strings"

	"github.com/draftforge/manuscript-cli/internal/model"
)

// excerptLen is how much claim text explanation templates quote.
const excerptLen = 60

// Explanations are built from fixed templates only. This function must
// never call an external model; detection stays deterministic.

// explainContradiction renders the CONTRADICTION template for a group of
// claims sharing (subject, predicate) but disagreeing on object.
func explainContradiction(claims []model.Claim) string {
	if len(claims) == 0 {
		return ""
	}
	subject := strings.TrimSpace(claims[0].Subject)
	predicate := strings.TrimSpace(claims[0].Predicate)

	parts := make([]string, 0, len(claims))
	for _, c := range claims {
		parts = append(parts, fmt.Sprintf("page %s states %q", pageLabel(c), c.Excerpt(excerptLen)))
	}
	return fmt.Sprintf("Sources disagree on (%s, %s): %s.", subject, predicate, strings.Join(parts, " but "))
}

// explainMissingEvidence renders the MISSING_EVIDENCE template for a
// claim that carries no source anchor.
func explainMissingEvidence(c model.Claim) string {
	return fmt.Sprintf("Claim %q (page %s) has no locatable evidence anchor.", c.Excerpt(excerptLen), pageLabel(c))
}

// explainAmbiguous renders the AMBIGUOUS template for a low-confidence
// claim.
func explainAmbiguous(c model.Claim) string {
	return fmt.Sprintf("Claim %q (page %s) was extracted with low confidence %.2f.", c.Excerpt(excerptLen), pageLabel(c), c.Confidence)
}

// pageLabel is the page number of the claim's anchor, or "unknown" when
// it has none.
func pageLabel(c model.Claim) string {
	if c.SourceAnchor == nil {
		return "unknown"
	}
	return fmt.Sprintf("%d", c.SourceAnchor.PageNumber)
}
