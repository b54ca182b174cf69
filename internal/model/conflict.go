package model

// ConflictType classifies a detected conflict.
type ConflictType string

const (
	ConflictContradiction   ConflictType = "CONTRADICTION"
	ConflictMissingEvidence ConflictType = "MISSING_EVIDENCE"
	ConflictAmbiguous       ConflictType = "AMBIGUOUS"
)

// ConflictSeverity grades how blocking a conflict is.
type ConflictSeverity string

const (
	SeverityLow    ConflictSeverity = "low"
	SeverityMedium ConflictSeverity = "medium"
	SeverityHigh   ConflictSeverity = "high"
)

// ConflictItem is a single detected conflict with its evidence and a
// template-generated explanation.
type ConflictItem struct {
	ConflictID       string           `json:"conflict_id"`
	ConflictType     ConflictType     `json:"conflict_type"`
	Severity         ConflictSeverity `json:"severity"`
	Summary          string           `json:"summary"`
	EvidenceAnchors  []SourceAnchor   `json:"evidence_anchors"`
	Contradicts      []string         `json:"contradicts,omitempty"`
	Assumptions      []string         `json:"assumptions,omitempty"`
	SuggestedActions []string         `json:"suggested_actions,omitempty"`
	Confidence       float64          `json:"confidence"`
}

// ConflictReport aggregates one critic pass. Never mutated after the
// hash is computed; a correction must produce a new report.
type ConflictReport struct {
	ConflictItems       []ConflictItem `json:"conflict_items"`
	ConflictHash        string         `json:"conflict_hash"`
	Deadlock            bool           `json:"deadlock"`
	RecommendedNextStep string         `json:"recommended_next_step"`
}

// HasConflicts reports whether any conflict items were detected.
func (r *ConflictReport) HasConflicts() bool {
	return r != nil && len(r.ConflictItems) > 0
}
