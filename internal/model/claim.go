package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
)

var validate = validator.New()

// SourceAnchor locates the evidence behind a claim inside a source
// document. At least one of BBox/Span/Snippet must be present; an anchor
// with no locatable evidence is rejected at construction.
type SourceAnchor struct {
	DocID      string    `json:"doc_id" validate:"required"`
	PageNumber int       `json:"page_number" validate:"gte=1"`
	BBox       []float64 `json:"bbox,omitempty" validate:"omitempty,len=4"`
	Span       []int     `json:"span,omitempty" validate:"omitempty,len=2"`
	Snippet    string    `json:"snippet,omitempty"`
}

// NewSourceAnchor validates and constructs a SourceAnchor.
func NewSourceAnchor(docID string, page int, bbox []float64, span []int, snippet string) (*SourceAnchor, error) {
	a := &SourceAnchor{
		DocID:      docID,
		PageNumber: page,
		BBox:       bbox,
		Span:       span,
		Snippet:    snippet,
	}
	if err := validate.Struct(a); err != nil {
		return nil, eris.Wrap(err, "model: invalid source anchor")
	}
	if len(a.BBox) == 0 && len(a.Span) == 0 && a.Snippet == "" {
		return nil, eris.New("model: source anchor has no locatable evidence (need bbox, span, or snippet)")
	}
	return a, nil
}

// Claim is a single extracted (subject, predicate, object) fact with
// confidence and provenance. Immutable once created.
type Claim struct {
	ClaimID      string        `json:"claim_id" validate:"required"`
	Subject      string        `json:"subject" validate:"required"`
	Predicate    string        `json:"predicate" validate:"required"`
	Object       string        `json:"object" validate:"required"`
	Confidence   float64       `json:"confidence" validate:"gte=0,lte=1"`
	SourceAnchor *SourceAnchor `json:"source_anchor,omitempty"`
	RQHits       []string      `json:"rq_hits,omitempty"`
}

// NewClaim constructs a Claim with a deterministic id derived from its
// identity tuple. Identical inputs always yield the same id, which is
// what deduplicates claims across repeated extraction attempts.
func NewClaim(subject, predicate, object, fileHash string, page int, confidence float64) (*Claim, error) {
	c := &Claim{
		ClaimID:    ClaimID(subject, predicate, object, fileHash, page),
		Subject:    subject,
		Predicate:  predicate,
		Object:     object,
		Confidence: confidence,
	}
	if err := validate.Struct(c); err != nil {
		return nil, eris.Wrap(err, "model: invalid claim")
	}
	return c, nil
}

// ClaimID is the deterministic hash of (subject, predicate, object,
// file_hash, page).
func ClaimID(subject, predicate, object, fileHash string, page int) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x1f%s\x1f%s\x1f%s\x1f%d",
		NormalizeTerm(subject), NormalizeTerm(predicate), NormalizeTerm(object), fileHash, page)
	return hex.EncodeToString(h.Sum(nil))
}

// NormalizeTerm trims and lowercases a claim term for comparison and
// hashing.
func NormalizeTerm(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Page returns the anchored page number or 0 when the claim carries no
// anchor.
func (c *Claim) Page() int {
	if c.SourceAnchor == nil {
		return 0
	}
	return c.SourceAnchor.PageNumber
}

// Excerpt returns the first n characters of the claim rendered as text,
// used by explanation templates.
func (c *Claim) Excerpt(n int) string {
	text := fmt.Sprintf("%s %s %s", c.Subject, c.Predicate, c.Object)
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n])
}
