package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftforge/manuscript-cli/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func testRun(threadID string) *model.PipelineRun {
	return &model.PipelineRun{
		JobID:     "job-" + threadID,
		ThreadID:  threadID,
		ProjectID: "proj-1",
		Phase:     model.PhaseMapping,
		Stage:     model.StageCartographer,
		Rigor:     model.RigorExploratory,
	}
}

func TestSQLite_SaveAndLoadCheckpoint(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	run := testRun("t1")
	run.RevisionCount = 2
	require.NoError(t, s.SaveCheckpoint(ctx, run))

	got, err := s.LoadCheckpoint(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "t1", got.ThreadID)
	assert.Equal(t, model.StageCartographer, got.Stage)
	assert.Equal(t, 2, got.RevisionCount)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestSQLite_CheckpointUpsertKeepsOneRowPerThread(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	run := testRun("t1")
	require.NoError(t, s.SaveCheckpoint(ctx, run))

	run.Stage = model.StageCritic
	run.Phase = model.PhaseVetting
	require.NoError(t, s.SaveCheckpoint(ctx, run))

	got, err := s.LoadCheckpoint(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, model.StageCritic, got.Stage)

	runs, err := s.ListCheckpoints(ctx, CheckpointFilter{ProjectID: "proj-1"})
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestSQLite_LoadCheckpointNotFound(t *testing.T) {
	s := newTestSQLiteStore(t)

	_, err := s.LoadCheckpoint(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_ThreadIsolation(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	a := testRun("t1")
	b := testRun("t2")
	b.Stage = model.StageSaver
	require.NoError(t, s.SaveCheckpoint(ctx, a))
	require.NoError(t, s.SaveCheckpoint(ctx, b))

	gotA, err := s.LoadCheckpoint(ctx, "t1")
	require.NoError(t, err)
	gotB, err := s.LoadCheckpoint(ctx, "t2")
	require.NoError(t, err)
	assert.Equal(t, model.StageCartographer, gotA.Stage)
	assert.Equal(t, model.StageSaver, gotB.Stage)
}

func TestSQLite_ListCheckpointsFilters(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	r1 := testRun("t1")
	r2 := testRun("t2")
	r2.Phase = model.PhaseDone
	r3 := testRun("t3")
	r3.ProjectID = "proj-2"
	for _, r := range []*model.PipelineRun{r1, r2, r3} {
		require.NoError(t, s.SaveCheckpoint(ctx, r))
	}

	byProject, err := s.ListCheckpoints(ctx, CheckpointFilter{ProjectID: "proj-1"})
	require.NoError(t, err)
	assert.Len(t, byProject, 2)

	byPhase, err := s.ListCheckpoints(ctx, CheckpointFilter{Phase: model.PhaseDone})
	require.NoError(t, err)
	require.Len(t, byPhase, 1)
	assert.Equal(t, "t2", byPhase[0].ThreadID)

	limited, err := s.ListCheckpoints(ctx, CheckpointFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestSQLite_CancelledColumnOverridesSnapshot(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveCheckpoint(ctx, testRun("t1")))
	require.NoError(t, s.MarkCancelled(ctx, "t1"))

	cancelled, err := s.IsCancelled(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, cancelled)

	// The snapshot JSON predates the cancellation; LoadCheckpoint must
	// still report the run as cancelled.
	got, err := s.LoadCheckpoint(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, got.Cancelled)
}

func TestSQLite_MarkCancelledMissingThread(t *testing.T) {
	s := newTestSQLiteStore(t)
	err := s.MarkCancelled(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_SaveClaimsDeduplicates(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	c1, err := model.NewClaim("X", "IMPACTS", "Y", "fh1", 1, 0.9)
	require.NoError(t, err)
	c2, err := model.NewClaim("X", "IMPACTS", "Z", "fh1", 2, 0.8)
	require.NoError(t, err)

	claims := []model.Claim{*c1, *c2}
	require.NoError(t, s.SaveClaims(ctx, "proj-1", "ing-1", "job-1", claims))
	// A retried extraction re-saves the same deterministic ids.
	require.NoError(t, s.SaveClaims(ctx, "proj-1", "ing-1", "job-1", claims))

	got, err := s.LoadClaims(ctx, "proj-1", "ing-1", "job-1")
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestSQLite_LoadClaimsScoped(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	c1, err := model.NewClaim("X", "IMPACTS", "Y", "fh1", 1, 0.9)
	require.NoError(t, err)
	c2, err := model.NewClaim("Q", "OWNS", "R", "fh2", 3, 0.7)
	require.NoError(t, err)

	require.NoError(t, s.SaveClaims(ctx, "proj-1", "ing-1", "job-1", []model.Claim{*c1}))
	require.NoError(t, s.SaveClaims(ctx, "proj-1", "ing-2", "job-2", []model.Claim{*c2}))

	got, err := s.LoadClaims(ctx, "proj-1", "ing-1", "job-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, c1.ClaimID, got[0].ClaimID)

	all, err := s.LoadClaims(ctx, "proj-1", "", "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSQLite_SaveManuscript(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	blocks := []model.ManuscriptBlock{
		{ID: "b1", Kind: "prose", Text: "The findings indicate steady growth."},
		{ID: "b2", Kind: "table", Table: &model.Table{
			ID:   "tbl1",
			Rows: []map[string]string{{"metric": "revenue", "value": "1.23"}},
		}},
	}
	require.NoError(t, s.SaveManuscript(ctx, "t1", blocks))
}
