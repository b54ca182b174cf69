package engine

import (
	"github.com/draftforge/manuscript-cli/internal/model"
)

// CriticRoute is the three-way routing decision after a critic pass.
type CriticRoute string

const (
	RoutePass   CriticRoute = "pass"
	RouteRetry  CriticRoute = "retry"
	RouteManual CriticRoute = "manual"
)

// RouteCritic decides the critic exit. Retry is available only while the
// revision budget lasts; a forced failure or an exhausted budget routes
// to manual handling regardless of status.
func RouteCritic(run *model.PipelineRun) CriticRoute {
	if run.ForcedFailure {
		return RouteManual
	}
	if run.CriticStatus == model.CriticStatusPass {
		return RoutePass
	}
	if run.RevisionCount < model.MaxRevisions {
		return RouteRetry
	}
	return RouteManual
}

// NextStage computes the transition out of the run's current stage. It
// is a pure function of run state; calling it twice on the same state
// yields the same stage.
//
// A manual critic exit splits two ways: a deadlocked run (still-failing
// critic with the budget exhausted) suspends for human review at
// reframing, while a forced failure goes straight to cleanup.
func NextStage(run *model.PipelineRun) model.Stage {
	switch run.Stage {
	case model.StageVision:
		return model.StageCartographer

	case model.StageCartographer:
		if run.ForcedFailure {
			return model.StageFailureCleanup
		}
		if run.TripleCount() > 0 {
			return model.StageLeadCounsel
		}
		return model.StageCritic

	case model.StageLeadCounsel:
		if run.NeedsLogician {
			return model.StageLogician
		}
		return model.StageCritic

	case model.StageLogician:
		return model.StageCritic

	case model.StageCritic:
		switch RouteCritic(run) {
		case RoutePass:
			return model.StageSynthesizer
		case RouteRetry:
			return model.StageCartographer
		default:
			if !run.ForcedFailure && run.Conflicts != nil && run.Conflicts.Deadlock {
				return model.StageReframing
			}
			return model.StageFailureCleanup
		}

	case model.StageReframing:
		if run.NeedsSignoff {
			return model.StageFailureCleanup
		}
		return model.StageSaver

	case model.StageSynthesizer:
		if run.ForcedFailure {
			return model.StageFailureCleanup
		}
		return model.StageToneGuard

	case model.StageToneGuard:
		if run.ForcedFailure {
			return model.StageFailureCleanup
		}
		return model.StageArtifactRegistry

	case model.StageArtifactRegistry:
		if run.ForcedFailure {
			return model.StageFailureCleanup
		}
		return model.StageToneValidator

	case model.StageToneValidator:
		if run.ForcedFailure {
			return model.StageFailureCleanup
		}
		return model.StageSaver
	}

	return model.StageFailureCleanup
}
