// Package engine sequences the document-to-manuscript pipeline: it owns
// the stage state machine, the revision budget, checkpoint/resume, the
// human-interrupt protocol, and the governance gates that block
// advancement.
package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/draftforge/manuscript-cli/internal/conflict"
	"github.com/draftforge/manuscript-cli/internal/model"
	"github.com/draftforge/manuscript-cli/internal/store"
	"github.com/draftforge/manuscript-cli/internal/tone"
)

// Expert is the model-backed collaborator the stages call. Failures are
// handled stage-locally: extraction errors become zero triples, drafting
// errors force the run to cleanup.
type Expert interface {
	Outline(ctx context.Context, sourceText string) (string, error)
	ExtractClaims(ctx context.Context, docID, fileHash, sourceText string) ([]model.Claim, error)
	Draft(ctx context.Context, outline string, claims []model.Claim) (string, error)
	ProposeReframe(ctx context.Context, draft string, report *model.ConflictReport) (string, error)
}

// Notifier delivers a pending reframe proposal to a human reviewer. A
// delivery failure never cancels the suspension: the run still persists
// with needs_signoff set.
type Notifier interface {
	NotifyReview(ctx context.Context, run *model.PipelineRun, proposal *model.ReframeProposal) error
}

// Engine drives pipeline runs. One Engine serves many concurrent runs;
// runs share nothing but the store.
type Engine struct {
	store    store.Store
	expert   Expert
	detector *conflict.Detector
	tone     *tone.Governor
	contract model.PrecisionContract
	notifier Notifier
}

// New assembles an engine. notifier may be nil.
func New(st store.Store, ex Expert, det *conflict.Detector, tg *tone.Governor, contract model.PrecisionContract, notifier Notifier) *Engine {
	return &Engine{
		store:    st,
		expert:   ex,
		detector: det,
		tone:     tg,
		contract: contract,
		notifier: notifier,
	}
}

// NewRunParams describes a run submission.
type NewRunParams struct {
	ProjectID   string
	IngestionID string
	DocID       string
	SourceText  string
	Tables      []model.Table
	Rigor       model.Rigor
}

// Run creates a fresh pipeline run and executes it to a terminal stage
// or a suspension point.
func (e *Engine) Run(ctx context.Context, params NewRunParams) (*model.PipelineRun, error) {
	if params.SourceText == "" {
		return nil, eris.New("engine: empty source text")
	}
	if params.Rigor == "" {
		params.Rigor = model.RigorExploratory
	}

	sum := sha256.Sum256([]byte(params.SourceText))
	docID := params.DocID
	if docID == "" {
		docID = uuid.New().String()
	}

	run := &model.PipelineRun{
		JobID:        uuid.New().String(),
		ThreadID:     uuid.New().String(),
		ProjectID:    params.ProjectID,
		IngestionID:  params.IngestionID,
		Phase:        model.PhaseIngesting,
		Stage:        model.StageVision,
		Rigor:        params.Rigor,
		SourceText:   params.SourceText,
		DocID:        docID,
		FileHash:     hex.EncodeToString(sum[:]),
		Tables:       params.Tables,
		CriticStatus: model.CriticStatusUnknown,
	}

	if err := e.store.SaveCheckpoint(ctx, run); err != nil {
		return nil, eris.Wrap(err, "engine: initial checkpoint")
	}
	return e.Execute(ctx, run)
}

// Execute advances a run until it reaches a terminal stage or suspends
// for human review. The checkpoint is written only after a stage returns
// successfully, so a crash mid-stage never corrupts resumable state.
func (e *Engine) Execute(ctx context.Context, run *model.PipelineRun) (*model.PipelineRun, error) {
	log := zap.L().With(
		zap.String("thread_id", run.ThreadID),
		zap.String("project_id", run.ProjectID),
	)

	for {
		if e.cancelled(ctx, run.ThreadID) {
			return e.cleanup(ctx, run, "run cancelled")
		}

		log.Info("executing stage",
			zap.String("stage", string(run.Stage)),
			zap.String("phase", string(run.Phase)),
			zap.Int("revision_count", run.RevisionCount),
		)

		suspended, err := e.runStage(ctx, run)
		if err != nil {
			return nil, eris.Wrapf(err, "engine: stage %s", run.Stage)
		}

		// A cancellation that landed while the stage was in flight
		// discards the stage's result.
		if e.cancelled(ctx, run.ThreadID) {
			if prev, loadErr := e.store.LoadCheckpoint(ctx, run.ThreadID); loadErr == nil {
				run = prev
			}
			return e.cleanup(ctx, run, "run cancelled")
		}

		if err := e.store.SaveCheckpoint(ctx, run); err != nil {
			return nil, eris.Wrap(err, "engine: checkpoint")
		}

		if suspended {
			log.Info("run suspended awaiting human decision",
				zap.String("proposal_id", run.PendingProposal.ProposalID))
			return run, nil
		}
		if run.Stage.Terminal() {
			log.Info("run reached terminal stage",
				zap.String("stage", string(run.Stage)),
				zap.Bool("forced_failure", run.ForcedFailure))
			return run, nil
		}

		next := NextStage(run)
		if run.Stage == model.StageCritic && next == model.StageCartographer {
			run.RevisionCount++
		}
		run.Stage = next
		run.Phase = model.PhaseFor(next)
	}
}

// Resume re-hydrates a suspended run, applies the human decision, and
// continues from the reframing exit transition.
func (e *Engine) Resume(ctx context.Context, threadID string, decision model.HumanDecision) (*model.PipelineRun, error) {
	run, err := e.store.LoadCheckpoint(ctx, threadID)
	if err != nil {
		return nil, eris.Wrapf(err, "engine: resume %s", threadID)
	}
	if run.Cancelled {
		return e.cleanup(ctx, run, "run cancelled")
	}
	if run.PendingProposal == nil || run.Stage != model.StageReframing {
		return nil, eris.Errorf("engine: run %s is not suspended for review", threadID)
	}

	if decision.Approved {
		draft := run.PendingProposal.Draft
		if decision.EditedContent != "" {
			draft = decision.EditedContent
		}
		run.Draft = draft
		run.ManuscriptBlocks = proseBlocks(draft)
		run.NeedsSignoff = false
	} else {
		run.Fail("reframing proposal rejected by reviewer")
	}

	next := NextStage(run)
	run.PendingProposal = nil
	run.Stage = next
	run.Phase = model.PhaseFor(next)

	return e.Execute(ctx, run)
}

// Cancel marks a run cancelled. The flag takes effect at the next
// checkpoint boundary; an in-flight stage is not interrupted.
func (e *Engine) Cancel(ctx context.Context, threadID string) error {
	return eris.Wrapf(e.store.MarkCancelled(ctx, threadID), "engine: cancel %s", threadID)
}

func (e *Engine) cancelled(ctx context.Context, threadID string) bool {
	cancelled, err := e.store.IsCancelled(ctx, threadID)
	if err != nil {
		return false
	}
	return cancelled
}

// cleanup forces a run through failure_cleanup and checkpoints the
// terminal state.
func (e *Engine) cleanup(ctx context.Context, run *model.PipelineRun, reason string) (*model.PipelineRun, error) {
	run.Fail(reason)
	run.Stage = model.StageFailureCleanup
	run.Phase = model.PhaseFor(run.Stage)

	if _, err := e.runStage(ctx, run); err != nil {
		return nil, eris.Wrap(err, "engine: failure cleanup")
	}
	if err := e.store.SaveCheckpoint(ctx, run); err != nil {
		return nil, eris.Wrap(err, "engine: checkpoint after cleanup")
	}
	return run, nil
}
