// Package conflict derives contradictions between extracted claims and
// produces deterministic, hashable conflict reports. Detection is rule
// based only: two claims contradict when they share a normalized
// (subject, predicate) pair but differ in object. No semantic or model
// judgment is involved, so the same claim set always produces the same
// report.
package conflict

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/draftforge/manuscript-cli/internal/model"
)

// ClaimLoader loads the claims produced for a run from the claim store,
// scoped by project, ingestion, and job.
type ClaimLoader interface {
	LoadClaims(ctx context.Context, projectID, ingestionID, jobID string) ([]model.Claim, error)
}

// Config tunes the detector's rigor policy.
type Config struct {
	// ConservativeReviewThreshold forces needs-human-review in
	// conservative rigor once the conflict count exceeds it.
	ConservativeReviewThreshold int
	// AmbiguityFloor marks claims extracted below this confidence as
	// AMBIGUOUS.
	AmbiguityFloor float64
}

// DefaultConfig returns the detector defaults.
func DefaultConfig() Config {
	return Config{
		ConservativeReviewThreshold: 5,
		AmbiguityFloor:              0.3,
	}
}

// Scope identifies which claims to vet.
type Scope struct {
	ProjectID   string
	IngestionID string
	JobID       string
}

// Outcome is one critic pass: the immutable report plus the derived
// routing signals.
type Outcome struct {
	Report           *model.ConflictReport
	Status           model.CriticStatus
	NeedsHumanReview bool
}

// Detector derives conflict reports from stored claims.
type Detector struct {
	claims ClaimLoader
	cfg    Config
}

// NewDetector builds a detector over a claim loader.
func NewDetector(claims ClaimLoader, cfg Config) *Detector {
	if cfg.ConservativeReviewThreshold <= 0 {
		cfg.ConservativeReviewThreshold = DefaultConfig().ConservativeReviewThreshold
	}
	if cfg.AmbiguityFloor <= 0 {
		cfg.AmbiguityFloor = DefaultConfig().AmbiguityFloor
	}
	return &Detector{claims: claims, cfg: cfg}
}

// Detect loads the scoped claims and produces the conflict report for
// one critic pass. revisionCount is the run's current retry count; the
// deadlock signal derives from it together with the failing status.
func (d *Detector) Detect(ctx context.Context, scope Scope, revisionCount int, rigor model.Rigor) (*Outcome, error) {
	claims, err := d.claims.LoadClaims(ctx, scope.ProjectID, scope.IngestionID, scope.JobID)
	if err != nil {
		return nil, eris.Wrap(err, "conflict: load claims")
	}

	items := detectItems(claims, d.cfg.AmbiguityFloor)

	contradictions := 0
	for _, it := range items {
		if it.ConflictType == model.ConflictContradiction {
			contradictions++
		}
	}

	status := model.CriticStatusPass
	if contradictions > 0 {
		status = model.CriticStatusFail
	}

	deadlock := status == model.CriticStatusFail && revisionCount >= model.MaxRevisions

	report := &model.ConflictReport{
		ConflictItems:       items,
		ConflictHash:        ReportHash(items),
		Deadlock:            deadlock,
		RecommendedNextStep: nextStep(status, deadlock),
	}

	needsReview := deadlock
	if rigor == model.RigorConservative && len(items) > d.cfg.ConservativeReviewThreshold {
		needsReview = true
	}

	zap.L().Info("conflict: critic pass complete",
		zap.String("project_id", scope.ProjectID),
		zap.String("job_id", scope.JobID),
		zap.Int("claims", len(claims)),
		zap.Int("conflicts", len(items)),
		zap.Int("contradictions", contradictions),
		zap.String("status", string(status)),
		zap.Bool("deadlock", deadlock),
	)

	return &Outcome{Report: report, Status: status, NeedsHumanReview: needsReview}, nil
}

func nextStep(status model.CriticStatus, deadlock bool) string {
	switch {
	case deadlock:
		return "human_review"
	case status == model.CriticStatusFail:
		return "retry_extraction"
	default:
		return "proceed"
	}
}

// detectItems applies the contradiction rule plus the advisory
// missing-evidence and ambiguity checks.
func detectItems(claims []model.Claim, ambiguityFloor float64) []model.ConflictItem {
	var items []model.ConflictItem

	// Group by normalized (subject, predicate).
	type groupKey struct{ subject, predicate string }
	groups := make(map[groupKey][]model.Claim)
	var keys []groupKey
	for _, c := range claims {
		k := groupKey{model.NormalizeTerm(c.Subject), model.NormalizeTerm(c.Predicate)}
		if _, seen := groups[k]; !seen {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], c)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].subject != keys[j].subject {
			return keys[i].subject < keys[j].subject
		}
		return keys[i].predicate < keys[j].predicate
	})

	for _, k := range keys {
		group := groups[k]
		objects := distinctObjects(group)
		if len(objects) < 2 {
			continue
		}
		items = append(items, contradictionItem(group))
	}

	for _, c := range claims {
		if c.SourceAnchor == nil {
			items = append(items, model.ConflictItem{
				ConflictType:     model.ConflictMissingEvidence,
				Severity:         model.SeverityMedium,
				Summary:          explainMissingEvidence(c),
				EvidenceAnchors:  []model.SourceAnchor{syntheticAnchor(c)},
				Contradicts:      []string{c.ClaimID},
				SuggestedActions: []string{"re-extract with source anchoring enabled"},
				Confidence:       c.Confidence,
			})
			continue
		}
		if c.Confidence < ambiguityFloor {
			items = append(items, model.ConflictItem{
				ConflictType:     model.ConflictAmbiguous,
				Severity:         model.SeverityLow,
				Summary:          explainAmbiguous(c),
				EvidenceAnchors:  []model.SourceAnchor{*c.SourceAnchor},
				Contradicts:      []string{c.ClaimID},
				SuggestedActions: []string{"confirm against source document"},
				Confidence:       c.Confidence,
			})
		}
	}

	for i := range items {
		items[i].ConflictID = itemID(items[i])
	}
	return items
}

func contradictionItem(group []model.Claim) model.ConflictItem {
	anchors := make([]model.SourceAnchor, 0, len(group))
	ids := make([]string, 0, len(group))
	minConf := 1.0
	for _, c := range group {
		if c.SourceAnchor != nil {
			anchors = append(anchors, *c.SourceAnchor)
		} else {
			anchors = append(anchors, syntheticAnchor(c))
		}
		ids = append(ids, c.ClaimID)
		if c.Confidence < minConf {
			minConf = c.Confidence
		}
	}
	sort.Strings(ids)

	return model.ConflictItem{
		ConflictType:    model.ConflictContradiction,
		Severity:        model.SeverityHigh,
		Summary:         explainContradiction(group),
		EvidenceAnchors: anchors,
		Contradicts:     ids,
		SuggestedActions: []string{
			"re-extract the disputed relation",
			"verify the cited pages against the source document",
		},
		Confidence: minConf,
	}
}

func distinctObjects(group []model.Claim) map[string]struct{} {
	objects := make(map[string]struct{}, len(group))
	for _, c := range group {
		objects[model.NormalizeTerm(c.Object)] = struct{}{}
	}
	return objects
}

// syntheticAnchor stands in for a claim with no provenance so the
// evidence-anchors invariant (at least one anchor per item) holds.
func syntheticAnchor(c model.Claim) model.SourceAnchor {
	return model.SourceAnchor{
		DocID:      "unknown",
		PageNumber: 1,
		Snippet:    c.Excerpt(excerptLen),
	}
}

// itemID is the deterministic id of a conflict item, derived from its
// canonical serialization.
func itemID(item model.ConflictItem) string {
	data, _ := json.Marshal(canonicalize(item))
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
