package engine

import (
	"context"
	"fmt"

	"github.com/draftforge/manuscript-cli/internal/model"
	"github.com/draftforge/manuscript-cli/internal/precision"
)

// gate is one governance check. Gates run in a fixed order within their
// stage; each returns whether the run passed and how many flags it
// raised. In conservative rigor a failed gate is fatal for the run.
type gate struct {
	name  string
	stage model.Stage
	run   func(ctx context.Context, run *model.PipelineRun) (ok bool, flags int)
}

// gates is the fixed, ordered list of governance gates. The artifact
// registry checks evidence anchors then numeric precision; the tone
// validator re-lints the final text independently.
func (e *Engine) gates() []gate {
	return []gate{
		{name: "anchors", stage: model.StageArtifactRegistry, run: e.anchorGate},
		{name: "precision", stage: model.StageArtifactRegistry, run: e.precisionGate},
		{name: "tone", stage: model.StageToneValidator, run: e.toneGate},
	}
}

// applyGates runs every gate registered for the run's current stage, in
// order, recording each outcome in the prompt manifest.
func (e *Engine) applyGates(ctx context.Context, run *model.PipelineRun) error {
	for _, g := range e.gates() {
		if g.stage != run.Stage {
			continue
		}
		ok, flags := g.run(ctx, run)
		run.PromptManifest.Record(g.name, run.Rigor, ok, flags)

		if !ok && run.Rigor == model.RigorConservative {
			run.Fail(fmt.Sprintf("%s gate failed with %d flags", g.name, flags))
		}
	}
	return nil
}

// anchorGate requires every claim to carry locatable evidence.
func (e *Engine) anchorGate(_ context.Context, run *model.PipelineRun) (bool, int) {
	missing := 0
	for _, c := range run.Claims {
		if c.SourceAnchor == nil {
			missing++
		}
	}
	return missing == 0, missing
}

// precisionGate governs every table block under the run's contract. The
// governed table replaces the original; re-running the gate on governed
// output produces no further changes.
func (e *Engine) precisionGate(_ context.Context, run *model.PipelineRun) (bool, int) {
	var flags []model.PrecisionFlag
	for i, b := range run.ManuscriptBlocks {
		if b.Kind != "table" || b.Table == nil {
			continue
		}
		res := precision.Apply(*b.Table, e.contract, run.Rigor)
		governed := res.Table
		run.ManuscriptBlocks[i].Table = &governed
		flags = append(flags, res.Flags...)
	}
	run.PrecisionFlags = flags
	return len(flags) == 0, len(flags)
}

// toneGate re-lints the final governed text. After a convergent
// tone_guard pass this finds no fail findings; any that appear mean the
// text changed since governance and the run must not persist it.
func (e *Engine) toneGate(_ context.Context, run *model.PipelineRun) (bool, int) {
	flags := e.tone.Lint(run.Draft)
	failCount := 0
	for _, f := range flags {
		if f.Severity == model.ToneSeverityFail {
			failCount++
		}
	}
	run.ToneFlags = flags
	return failCount == 0, failCount
}
