package conflict

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftforge/manuscript-cli/internal/model"
)

type stubLoader struct {
	claims []model.Claim
	err    error
	calls  int
}

func (s *stubLoader) LoadClaims(_ context.Context, _, _, _ string) ([]model.Claim, error) {
	s.calls++
	return s.claims, s.err
}

func anchoredClaim(t *testing.T, subject, predicate, object string, page int, confidence float64) model.Claim {
	t.Helper()
	anchor, err := model.NewSourceAnchor("doc1", page, nil, nil, subject+" "+predicate+" "+object)
	require.NoError(t, err)
	c, err := model.NewClaim(subject, predicate, object, "fh1", page, confidence)
	require.NoError(t, err)
	c.SourceAnchor = anchor
	return *c
}

func TestDetect_ContradictionScenario(t *testing.T) {
	loader := &stubLoader{claims: []model.Claim{
		anchoredClaim(t, "X", "IMPACTS", "Y", 1, 0.9),
		anchoredClaim(t, "X", "IMPACTS", "Z", 2, 0.8),
	}}
	d := NewDetector(loader, DefaultConfig())

	out, err := d.Detect(context.Background(), Scope{ProjectID: "p1", JobID: "j1"}, 0, model.RigorExploratory)
	require.NoError(t, err)

	require.Len(t, out.Report.ConflictItems, 1)
	item := out.Report.ConflictItems[0]
	assert.Equal(t, model.ConflictContradiction, item.ConflictType)
	assert.Len(t, item.EvidenceAnchors, 2)

	pages := []int{item.EvidenceAnchors[0].PageNumber, item.EvidenceAnchors[1].PageNumber}
	assert.ElementsMatch(t, []int{1, 2}, pages)

	assert.NotEmpty(t, item.Summary)
	assert.Contains(t, item.Summary, "page 1")
	assert.Contains(t, item.Summary, "page 2")

	assert.Equal(t, model.CriticStatusFail, out.Status)
	assert.False(t, out.Report.Deadlock)
	assert.Equal(t, "retry_extraction", out.Report.RecommendedNextStep)
}

func TestDetect_NoContradictionPasses(t *testing.T) {
	loader := &stubLoader{claims: []model.Claim{
		anchoredClaim(t, "X", "IMPACTS", "Y", 1, 0.9),
		anchoredClaim(t, "X", "REDUCES", "Z", 2, 0.8),
		anchoredClaim(t, "W", "IMPACTS", "Y", 3, 0.7),
	}}
	d := NewDetector(loader, DefaultConfig())

	out, err := d.Detect(context.Background(), Scope{ProjectID: "p1"}, 0, model.RigorExploratory)
	require.NoError(t, err)

	assert.Equal(t, model.CriticStatusPass, out.Status)
	assert.Empty(t, out.Report.ConflictItems)
	assert.Equal(t, "proceed", out.Report.RecommendedNextStep)
}

func TestDetect_SameObjectDifferentCaseIsNotAConflict(t *testing.T) {
	loader := &stubLoader{claims: []model.Claim{
		anchoredClaim(t, "X", "IMPACTS", "Revenue", 1, 0.9),
		anchoredClaim(t, "x", "impacts", " REVENUE ", 2, 0.8),
	}}
	d := NewDetector(loader, DefaultConfig())

	out, err := d.Detect(context.Background(), Scope{}, 0, model.RigorExploratory)
	require.NoError(t, err)
	assert.Equal(t, model.CriticStatusPass, out.Status)
}

func TestDetect_DeadlockAtExhaustedBudget(t *testing.T) {
	loader := &stubLoader{claims: []model.Claim{
		anchoredClaim(t, "X", "IMPACTS", "Y", 1, 0.9),
		anchoredClaim(t, "X", "IMPACTS", "Z", 2, 0.8),
	}}
	d := NewDetector(loader, DefaultConfig())

	for _, revisions := range []int{0, 1, 2} {
		out, err := d.Detect(context.Background(), Scope{}, revisions, model.RigorExploratory)
		require.NoError(t, err)
		assert.False(t, out.Report.Deadlock, "revision %d must not deadlock", revisions)
	}

	out, err := d.Detect(context.Background(), Scope{}, 3, model.RigorExploratory)
	require.NoError(t, err)
	assert.True(t, out.Report.Deadlock)
	assert.Equal(t, "human_review", out.Report.RecommendedNextStep)
	assert.True(t, out.NeedsHumanReview)
}

func TestDetect_NoDeadlockWhenPassing(t *testing.T) {
	loader := &stubLoader{claims: []model.Claim{
		anchoredClaim(t, "X", "IMPACTS", "Y", 1, 0.9),
	}}
	d := NewDetector(loader, DefaultConfig())

	out, err := d.Detect(context.Background(), Scope{}, 5, model.RigorExploratory)
	require.NoError(t, err)
	assert.False(t, out.Report.Deadlock)
}

func TestDetect_ConservativeReviewThreshold(t *testing.T) {
	// Six distinct contradictions exceed the threshold of five.
	var claims []model.Claim
	subjects := []string{"A", "B", "C", "D", "E", "F"}
	for i, s := range subjects {
		claims = append(claims,
			anchoredClaim(t, s, "IMPACTS", "Y", i*2+1, 0.9),
			anchoredClaim(t, s, "IMPACTS", "Z", i*2+2, 0.9),
		)
	}
	d := NewDetector(&stubLoader{claims: claims}, DefaultConfig())

	conservative, err := d.Detect(context.Background(), Scope{}, 0, model.RigorConservative)
	require.NoError(t, err)
	assert.True(t, conservative.NeedsHumanReview)

	exploratory, err := d.Detect(context.Background(), Scope{}, 0, model.RigorExploratory)
	require.NoError(t, err)
	assert.False(t, exploratory.NeedsHumanReview)
}

func TestDetect_MissingEvidence(t *testing.T) {
	c, err := model.NewClaim("X", "IMPACTS", "Y", "fh1", 1, 0.9)
	require.NoError(t, err)

	d := NewDetector(&stubLoader{claims: []model.Claim{*c}}, DefaultConfig())
	out, err := d.Detect(context.Background(), Scope{}, 0, model.RigorExploratory)
	require.NoError(t, err)

	require.Len(t, out.Report.ConflictItems, 1)
	item := out.Report.ConflictItems[0]
	assert.Equal(t, model.ConflictMissingEvidence, item.ConflictType)
	require.NotEmpty(t, item.EvidenceAnchors)
	assert.Contains(t, item.Summary, "unknown")
	// Missing evidence alone does not fail the critic.
	assert.Equal(t, model.CriticStatusPass, out.Status)
}

func TestDetect_AmbiguousLowConfidence(t *testing.T) {
	d := NewDetector(&stubLoader{claims: []model.Claim{
		anchoredClaim(t, "X", "IMPACTS", "Y", 1, 0.1),
	}}, DefaultConfig())

	out, err := d.Detect(context.Background(), Scope{}, 0, model.RigorExploratory)
	require.NoError(t, err)

	require.Len(t, out.Report.ConflictItems, 1)
	assert.Equal(t, model.ConflictAmbiguous, out.Report.ConflictItems[0].ConflictType)
	assert.Equal(t, model.CriticStatusPass, out.Status)
}

func TestDetect_DeterministicAcrossCalls(t *testing.T) {
	loader := &stubLoader{claims: []model.Claim{
		anchoredClaim(t, "X", "IMPACTS", "Y", 1, 0.9),
		anchoredClaim(t, "X", "IMPACTS", "Z", 2, 0.8),
		anchoredClaim(t, "Q", "OWNS", "R", 3, 0.2),
	}}
	d := NewDetector(loader, DefaultConfig())

	first, err := d.Detect(context.Background(), Scope{}, 0, model.RigorExploratory)
	require.NoError(t, err)
	second, err := d.Detect(context.Background(), Scope{}, 0, model.RigorExploratory)
	require.NoError(t, err)

	assert.Equal(t, first.Report.ConflictHash, second.Report.ConflictHash)
	assert.Equal(t, first.Report.ConflictItems, second.Report.ConflictItems)
}
