package conflict

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/draftforge/manuscript-cli/internal/model"
)

// canonicalAnchor is the hash-stable form of a source anchor.
type canonicalAnchor struct {
	DocID   string    `json:"doc_id"`
	Page    int       `json:"page"`
	BBox    []float64 `json:"bbox,omitempty"`
	Span    []int     `json:"span,omitempty"`
	Snippet string    `json:"snippet,omitempty"`
}

// canonicalItem is the hash-stable form of a conflict item: strings
// normalized, anchors sorted, no confidence jitter-prone float fields
// beyond the declared ones.
type canonicalItem struct {
	ConflictType     string            `json:"conflict_type"`
	Severity         string            `json:"severity"`
	Summary          string            `json:"summary"`
	EvidenceAnchors  []canonicalAnchor `json:"evidence_anchors"`
	Contradicts      []string          `json:"contradicts,omitempty"`
	Assumptions      []string          `json:"assumptions,omitempty"`
	SuggestedActions []string          `json:"suggested_actions,omitempty"`
	Confidence       float64           `json:"confidence"`
}

// ReportHash computes the order-independent digest over a set of
// conflict items: normalize every string, sort each item's anchors by
// (doc_id, page, bbox), sort items by their serialized form, then
// SHA-256 the canonical JSON encoding. Reordering the same items always
// yields the same hash, which is how a persisting conflict is recognized
// across revisions.
func ReportHash(items []model.ConflictItem) string {
	serialized := make([]string, 0, len(items))
	for _, item := range items {
		c := canonicalize(item)
		data, err := json.Marshal(c)
		if err != nil {
			// canonicalItem contains only marshalable fields; this is a
			// programming error if it ever fires.
			panic(fmt.Sprintf("conflict: canonical marshal: %v", err))
		}
		serialized = append(serialized, string(data))
	}
	sort.Strings(serialized)

	payload, _ := json.Marshal(serialized)
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func canonicalize(item model.ConflictItem) canonicalItem {
	anchors := make([]canonicalAnchor, 0, len(item.EvidenceAnchors))
	for _, a := range item.EvidenceAnchors {
		anchors = append(anchors, canonicalAnchor{
			DocID:   norm(a.DocID),
			Page:    a.PageNumber,
			BBox:    a.BBox,
			Span:    a.Span,
			Snippet: norm(a.Snippet),
		})
	}
	sort.Slice(anchors, func(i, j int) bool {
		if anchors[i].DocID != anchors[j].DocID {
			return anchors[i].DocID < anchors[j].DocID
		}
		if anchors[i].Page != anchors[j].Page {
			return anchors[i].Page < anchors[j].Page
		}
		return fmt.Sprint(anchors[i].BBox) < fmt.Sprint(anchors[j].BBox)
	})

	return canonicalItem{
		ConflictType:     norm(string(item.ConflictType)),
		Severity:         norm(string(item.Severity)),
		Summary:          norm(item.Summary),
		EvidenceAnchors:  anchors,
		Contradicts:      normAll(item.Contradicts),
		Assumptions:      normAll(item.Assumptions),
		SuggestedActions: normAll(item.SuggestedActions),
		Confidence:       item.Confidence,
	}
}

func norm(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func normAll(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = norm(s)
	}
	sort.Strings(out)
	return out
}
