package expert

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/draftforge/manuscript-cli/internal/model"
)

type rawClaim struct {
	Subject    string  `json:"subject"`
	Predicate  string  `json:"predicate"`
	Object     string  `json:"object"`
	Page       int     `json:"page"`
	Quote      string  `json:"quote"`
	Confidence float64 `json:"confidence"`
}

// parseClaims decodes the extraction response into validated claims.
// Individual malformed entries are skipped; a response that is not a
// JSON array at all is an error.
func parseClaims(raw, docID, fileHash string) ([]model.Claim, error) {
	body := stripFences(raw)

	var entries []rawClaim
	if err := json.Unmarshal([]byte(body), &entries); err != nil {
		return nil, eris.Wrap(err, "expert: decode extraction response")
	}

	claims := make([]model.Claim, 0, len(entries))
	for _, e := range entries {
		page := e.Page
		if page < 1 {
			page = 1
		}
		c, err := model.NewClaim(e.Subject, e.Predicate, e.Object, fileHash, page, e.Confidence)
		if err != nil {
			zap.L().Debug("skipping malformed extracted claim", zap.Error(err))
			continue
		}
		if e.Quote != "" {
			anchor, err := model.NewSourceAnchor(docID, page, nil, nil, e.Quote)
			if err == nil {
				c.SourceAnchor = anchor
			}
		}
		claims = append(claims, *c)
	}
	return claims, nil
}

// stripFences removes a markdown code fence around a JSON payload, if
// present, and trims to the outermost array brackets.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}
	if start := strings.Index(s, "["); start >= 0 {
		if end := strings.LastIndex(s, "]"); end > start {
			return s[start : end+1]
		}
	}
	return s
}
