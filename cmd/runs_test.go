package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/draftforge/manuscript-cli/internal/model"
)

func TestFormatRunsList(t *testing.T) {
	now := time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC)
	runs := []model.PipelineRun{
		{
			ThreadID:      "abc12345-6789-0000-0000-000000000000",
			ProjectID:     "proj-1",
			Phase:         model.PhaseDone,
			Stage:         model.StageSaver,
			CriticStatus:  model.CriticStatusPass,
			RevisionCount: 1,
			UpdatedAt:     now,
		},
		{
			ThreadID:     "def12345-6789-0000-0000-000000000000",
			ProjectID:    "proj-2",
			Phase:        model.PhaseVetting,
			Stage:        model.StageCritic,
			CriticStatus: model.CriticStatusFail,
			UpdatedAt:    now.Add(-time.Hour),
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)

	output := buf.String()
	assert.Contains(t, output, "THREAD")
	assert.Contains(t, output, "PHASE")
	assert.Contains(t, output, "abc12345")
	assert.Contains(t, output, "proj-1")
	assert.Contains(t, output, "saver")
	assert.Contains(t, output, "critic")
	assert.Contains(t, output, "2026-03-10 14:30")
}

func TestRunFlags(t *testing.T) {
	assert.Equal(t, "", runFlags(model.PipelineRun{}))
	assert.Equal(t, "cancelled", runFlags(model.PipelineRun{Cancelled: true, NeedsSignoff: true}))
	assert.Equal(t, "needs-signoff", runFlags(model.PipelineRun{NeedsSignoff: true}))
	assert.Equal(t, "failed", runFlags(model.PipelineRun{ForcedFailure: true}))
	assert.Equal(t, "review", runFlags(model.PipelineRun{NeedsHumanReview: true}))
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abc12345", truncateID("abc12345-6789"))
	assert.Equal(t, "short", truncateID("short"))
}
