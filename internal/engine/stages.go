package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/draftforge/manuscript-cli/internal/conflict"
	"github.com/draftforge/manuscript-cli/internal/model"
	"github.com/draftforge/manuscript-cli/internal/tone"
)

// runStage executes the run's current stage. It returns suspended=true
// when the run parked at the reframing human-decision point. Stage
// errors propagate without a checkpoint write.
func (e *Engine) runStage(ctx context.Context, run *model.PipelineRun) (bool, error) {
	switch run.Stage {
	case model.StageVision:
		return false, e.stageVision(ctx, run)
	case model.StageCartographer:
		return false, e.stageCartographer(ctx, run)
	case model.StageLeadCounsel:
		return false, e.stageLeadCounsel(run)
	case model.StageLogician:
		return false, e.stageLogician(run)
	case model.StageCritic:
		return false, e.stageCritic(ctx, run)
	case model.StageReframing:
		return true, e.stageReframing(ctx, run)
	case model.StageSynthesizer:
		return false, e.stageSynthesizer(ctx, run)
	case model.StageToneGuard:
		return false, e.stageToneGuard(ctx, run)
	case model.StageArtifactRegistry, model.StageToneValidator:
		return false, e.applyGates(ctx, run)
	case model.StageSaver:
		return false, e.stageSaver(ctx, run)
	case model.StageFailureCleanup:
		return false, e.stageFailureCleanup(run)
	}
	return false, eris.Errorf("engine: unknown stage %q", run.Stage)
}

// stageVision produces the structural outline. An outline failure is
// degraded, not fatal: drafting can still work from the claims alone.
func (e *Engine) stageVision(ctx context.Context, run *model.PipelineRun) error {
	outline, err := e.expert.Outline(ctx, run.SourceText)
	if err != nil {
		zap.L().Warn("vision: outline unavailable, continuing without one",
			zap.String("thread_id", run.ThreadID),
			zap.Error(err),
		)
		outline = ""
	}
	run.Outline = outline
	return nil
}

// stageCartographer extracts relation triples. Extraction failures are
// treated as zero triples, never propagated: the router then sends the
// run to the critic, which records the empty result as a failing pass.
func (e *Engine) stageCartographer(ctx context.Context, run *model.PipelineRun) error {
	claims, err := e.expert.ExtractClaims(ctx, run.DocID, run.FileHash, run.SourceText)
	if err != nil {
		zap.L().Warn("cartographer: extraction failed, treating as zero triples",
			zap.String("thread_id", run.ThreadID),
			zap.Error(err),
		)
		claims = nil
	}
	run.Claims = claims

	if len(claims) > 0 {
		if err := e.store.SaveClaims(ctx, run.ProjectID, run.IngestionID, run.JobID, claims); err != nil {
			return eris.Wrap(err, "engine: persist claims")
		}
	}
	return nil
}

// stageLeadCounsel decides whether the claim set warrants the detailed
// symbolic checking pass. Low-confidence claims and duplicate identity
// tuples both trigger it.
func (e *Engine) stageLeadCounsel(run *model.PipelineRun) error {
	seen := make(map[string]struct{}, len(run.Claims))
	needs := false
	for _, c := range run.Claims {
		if c.Confidence < 0.5 {
			needs = true
		}
		if _, dup := seen[c.ClaimID]; dup {
			needs = true
		}
		seen[c.ClaimID] = struct{}{}
	}
	run.NeedsLogician = needs
	return nil
}

// stageLogician deduplicates claims by identity tuple, keeping the
// highest-confidence instance of each.
func (e *Engine) stageLogician(run *model.PipelineRun) error {
	best := make(map[string]model.Claim, len(run.Claims))
	order := make([]string, 0, len(run.Claims))
	for _, c := range run.Claims {
		prev, ok := best[c.ClaimID]
		if !ok {
			order = append(order, c.ClaimID)
			best[c.ClaimID] = c
			continue
		}
		if c.Confidence > prev.Confidence {
			best[c.ClaimID] = c
		}
	}

	deduped := make([]model.Claim, 0, len(best))
	for _, id := range order {
		deduped = append(deduped, best[id])
	}
	run.Claims = deduped
	return nil
}

// stageCritic runs contradiction detection over the persisted claims.
func (e *Engine) stageCritic(ctx context.Context, run *model.PipelineRun) error {
	scope := conflict.Scope{
		ProjectID:   run.ProjectID,
		IngestionID: run.IngestionID,
		JobID:       run.JobID,
	}
	out, err := e.detector.Detect(ctx, scope, run.RevisionCount, run.Rigor)
	if err != nil {
		return eris.Wrap(err, "engine: conflict detection")
	}

	run.Conflicts = out.Report
	run.CriticStatus = out.Status
	run.ConflictDetected = len(out.Report.ConflictItems) > 0
	if out.NeedsHumanReview {
		run.NeedsHumanReview = true
	}
	// An empty claim set can never pass the critic: there is nothing to
	// synthesize from.
	if run.TripleCount() == 0 {
		run.CriticStatus = model.CriticStatusFail
	}
	run.PromptManifest.Record("conflict", run.Rigor, run.CriticStatus == model.CriticStatusPass, len(out.Report.ConflictItems))
	return nil
}

// stageReframing builds the human-review proposal and suspends the run.
// Neither a proposal-drafting failure nor a notification failure cancels
// the suspension; the run always persists with needs_signoff set.
func (e *Engine) stageReframing(ctx context.Context, run *model.PipelineRun) error {
	draft, err := e.expert.ProposeReframe(ctx, run.Draft, run.Conflicts)
	if err != nil {
		zap.L().Warn("reframing: proposal drafting failed, surfacing original draft",
			zap.String("thread_id", run.ThreadID),
			zap.Error(err),
		)
		draft = run.Draft
	}

	proposal := &model.ReframeProposal{
		ProposalID:   uuid.New().String(),
		Summary:      reframeSummary(run),
		Draft:        draft,
		NeedsSignoff: true,
		CreatedAt:    time.Now().UTC(),
	}
	if run.Conflicts != nil {
		proposal.ConflictHash = run.Conflicts.ConflictHash
	}

	run.PendingProposal = proposal
	run.NeedsSignoff = true
	run.NeedsHumanReview = true

	if e.notifier != nil {
		if err := e.notifier.NotifyReview(ctx, run, proposal); err != nil {
			zap.L().Warn("reframing: review notification failed, run remains suspended",
				zap.String("thread_id", run.ThreadID),
				zap.String("proposal_id", proposal.ProposalID),
				zap.Error(err),
			)
		}
	}
	return nil
}

func reframeSummary(run *model.PipelineRun) string {
	if run.Conflicts == nil || len(run.Conflicts.ConflictItems) == 0 {
		return fmt.Sprintf("run exhausted its revision budget after %d revisions", run.RevisionCount)
	}
	return fmt.Sprintf("%d unresolved conflicts after %d revisions; proposal reframes the disagreement",
		len(run.Conflicts.ConflictItems), run.RevisionCount)
}

// stageSynthesizer drafts manuscript prose. A drafting failure forces
// the run to cleanup with the cause recorded.
func (e *Engine) stageSynthesizer(ctx context.Context, run *model.PipelineRun) error {
	draft, err := e.expert.Draft(ctx, run.Outline, run.Claims)
	if err != nil {
		zap.L().Warn("synthesizer: drafting failed",
			zap.String("thread_id", run.ThreadID),
			zap.Error(err),
		)
		run.Fail(fmt.Sprintf("synthesizer: drafting failed: %v", err))
		return nil
	}

	run.Draft = draft
	run.ManuscriptBlocks = proseBlocks(draft)
	for i := range run.Tables {
		run.ManuscriptBlocks = append(run.ManuscriptBlocks, model.ManuscriptBlock{
			ID:    uuid.New().String(),
			Kind:  "table",
			Table: &run.Tables[i],
		})
	}
	return nil
}

// stageToneGuard governs the draft. Non-convergence in conservative
// rigor is fatal for the run; any other rewrite error aborts the
// invocation so it can be retried from the last checkpoint.
func (e *Engine) stageToneGuard(ctx context.Context, run *model.PipelineRun) error {
	governed, flags, err := e.tone.Govern(ctx, run.Draft, run.Rigor)
	if err != nil {
		if eris.Is(err, tone.ErrNonConvergent) {
			run.ToneFlags = flags
			run.PromptManifest.Record("tone_guard", run.Rigor, false, len(flags))
			run.Fail(fmt.Sprintf("tone_guard: %v", err))
			return nil
		}
		return eris.Wrap(err, "engine: tone governance")
	}

	run.Draft = governed
	run.ToneFlags = flags
	run.PromptManifest.Record("tone_guard", run.Rigor, true, len(flags))

	// The governed text replaces the drafted prose blocks.
	replaceProse(run, governed)
	return nil
}

// stageSaver persists the governed manuscript and finishes the run.
func (e *Engine) stageSaver(ctx context.Context, run *model.PipelineRun) error {
	if len(run.ManuscriptBlocks) == 0 && run.Draft != "" {
		run.ManuscriptBlocks = proseBlocks(run.Draft)
	}
	if err := e.store.SaveManuscript(ctx, run.ThreadID, run.ManuscriptBlocks); err != nil {
		return eris.Wrap(err, "engine: save manuscript")
	}
	run.Phase = model.PhaseDone
	return nil
}

// stageFailureCleanup records the terminal failure state so a reviewer
// can act without re-running the pipeline.
func (e *Engine) stageFailureCleanup(run *model.PipelineRun) error {
	if run.FailureReason == "" {
		switch {
		case run.Conflicts != nil && run.Conflicts.Deadlock:
			run.FailureReason = "revision budget exhausted with unresolved conflicts"
		case run.CriticStatus == model.CriticStatusFail:
			run.FailureReason = "critic did not pass"
		default:
			run.FailureReason = "run failed"
		}
	}
	run.Phase = model.PhaseDone

	zap.L().Info("run cleaned up",
		zap.String("thread_id", run.ThreadID),
		zap.String("reason", run.FailureReason),
		zap.Bool("needs_human_review", run.NeedsHumanReview),
		zap.Int("conflict_items", conflictCount(run)),
	)
	return nil
}

func conflictCount(run *model.PipelineRun) int {
	if run.Conflicts == nil {
		return 0
	}
	return len(run.Conflicts.ConflictItems)
}

// proseBlocks splits drafted text into one block per paragraph.
func proseBlocks(draft string) []model.ManuscriptBlock {
	var blocks []model.ManuscriptBlock
	for _, para := range strings.Split(draft, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		blocks = append(blocks, model.ManuscriptBlock{
			ID:   uuid.New().String(),
			Kind: "prose",
			Text: para,
		})
	}
	return blocks
}

// replaceProse swaps the prose blocks for the governed text, keeping
// table blocks in place.
func replaceProse(run *model.PipelineRun, governed string) {
	var tables []model.ManuscriptBlock
	for _, b := range run.ManuscriptBlocks {
		if b.Kind == "table" {
			tables = append(tables, b)
		}
	}
	run.ManuscriptBlocks = append(proseBlocks(governed), tables...)
}
