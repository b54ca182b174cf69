// Package store persists pipeline checkpoints, extracted claims, and
// governed manuscripts. Checkpoints are keyed by thread id; no run can
// observe or mutate another run's checkpoint.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/draftforge/manuscript-cli/internal/model"
)

// ErrNotFound is returned when no checkpoint exists for a thread id.
var ErrNotFound = eris.New("store: not found")

// CheckpointFilter specifies criteria for listing checkpoints.
type CheckpointFilter struct {
	ProjectID string
	Phase     model.Phase
	Limit     int
	Offset    int
}

// CheckpointStore persists full pipeline-run snapshots keyed by thread
// id. The engine writes one after every successful stage.
type CheckpointStore interface {
	SaveCheckpoint(ctx context.Context, run *model.PipelineRun) error
	LoadCheckpoint(ctx context.Context, threadID string) (*model.PipelineRun, error)
	ListCheckpoints(ctx context.Context, filter CheckpointFilter) ([]model.PipelineRun, error)

	// MarkCancelled flags a run for cancellation; the engine observes the
	// flag at the next checkpoint boundary.
	MarkCancelled(ctx context.Context, threadID string) error
	IsCancelled(ctx context.Context, threadID string) (bool, error)
}

// ClaimStore persists extracted claims scoped by project, ingestion and
// job. Claim ids are deterministic, so re-saving after a repeated
// extraction attempt deduplicates.
type ClaimStore interface {
	SaveClaims(ctx context.Context, projectID, ingestionID, jobID string, claims []model.Claim) error
	LoadClaims(ctx context.Context, projectID, ingestionID, jobID string) ([]model.Claim, error)
}

// ManuscriptStore persists governed manuscript blocks at the saver
// stage.
type ManuscriptStore interface {
	SaveManuscript(ctx context.Context, threadID string, blocks []model.ManuscriptBlock) error
}

// Store is the full persistence surface of the pipeline.
type Store interface {
	CheckpointStore
	ClaimStore
	ManuscriptStore

	Migrate(ctx context.Context) error
	Close() error
}
