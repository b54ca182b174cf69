package model

import (
	"time"
)

// Phase represents the coarse lifecycle state of a pipeline run.
type Phase string

const (
	PhaseIngesting    Phase = "ingesting"
	PhaseMapping      Phase = "mapping"
	PhaseVetting      Phase = "vetting"
	PhaseSynthesizing Phase = "synthesizing"
	PhasePersisting   Phase = "persisting"
	PhaseDone         Phase = "done"
)

// Stage names the pipeline stages executed within phases. Saver and
// FailureCleanup are terminal.
type Stage string

const (
	StageVision           Stage = "vision"
	StageCartographer     Stage = "cartographer"
	StageLeadCounsel      Stage = "lead_counsel"
	StageLogician         Stage = "logician"
	StageCritic           Stage = "critic"
	StageReframing        Stage = "reframing"
	StageSynthesizer      Stage = "synthesizer"
	StageToneGuard        Stage = "tone_guard"
	StageArtifactRegistry Stage = "artifact_registry"
	StageToneValidator    Stage = "tone_validator"
	StageSaver            Stage = "saver"
	StageFailureCleanup   Stage = "failure_cleanup"
)

// Terminal reports whether the stage ends the run.
func (s Stage) Terminal() bool {
	return s == StageSaver || s == StageFailureCleanup
}

// PhaseFor maps a stage to its lifecycle phase.
func PhaseFor(s Stage) Phase {
	switch s {
	case StageVision:
		return PhaseIngesting
	case StageCartographer, StageLeadCounsel, StageLogician:
		return PhaseMapping
	case StageCritic:
		return PhaseVetting
	case StageSynthesizer, StageReframing:
		return PhaseSynthesizing
	case StageToneGuard, StageArtifactRegistry, StageToneValidator:
		return PhasePersisting
	default:
		return PhaseDone
	}
}

// CriticStatus is the outcome of the most recent critic pass.
type CriticStatus string

const (
	CriticStatusUnknown CriticStatus = "unknown"
	CriticStatusPass    CriticStatus = "pass"
	CriticStatusFail    CriticStatus = "fail"
)

// Rigor selects the governance mode for a run. Conservative gates block
// advancement; exploratory governance is advisory only.
type Rigor string

const (
	RigorConservative Rigor = "conservative"
	RigorExploratory  Rigor = "exploratory"
)

// MaxRevisions is the retry budget for the critic loop. Once
// RevisionCount reaches this value the critic routes to manual handling.
const MaxRevisions = 3

// ManuscriptBlock is a governed unit of drafted prose.
type ManuscriptBlock struct {
	ID        string   `json:"id"`
	Kind      string   `json:"kind"` // "prose" or "table"
	Text      string   `json:"text,omitempty"`
	Table     *Table   `json:"table,omitempty"`
	Citations []string `json:"citations,omitempty"`
}

// Table is tabular data keyed column -> value per row.
type Table struct {
	ID   string              `json:"id"`
	Rows []map[string]string `json:"rows"`
}

// ManifestEntry records a single governance pass over the run.
type ManifestEntry struct {
	Gate   string    `json:"gate"`
	Rigor  Rigor     `json:"rigor"`
	Passed bool      `json:"passed"`
	Flags  int       `json:"flags"`
	At     time.Time `json:"at"`
}

// PromptManifest records which governance passes ran and their outcomes.
type PromptManifest struct {
	Entries []ManifestEntry `json:"entries"`
}

// Record appends a governance pass to the manifest.
func (m *PromptManifest) Record(gate string, rigor Rigor, passed bool, flags int) {
	m.Entries = append(m.Entries, ManifestEntry{
		Gate:   gate,
		Rigor:  rigor,
		Passed: passed,
		Flags:  flags,
		At:     time.Now().UTC(),
	})
}

// ReframeProposal is the human-review payload produced when a deadlocked
// run suspends at the reframing stage.
type ReframeProposal struct {
	ProposalID    string          `json:"proposal_id"`
	Summary       string          `json:"summary"`
	Draft         string          `json:"draft"`
	ConflictHash  string          `json:"conflict_hash,omitempty"`
	NeedsSignoff  bool            `json:"needs_signoff"`
	CreatedAt     time.Time       `json:"created_at"`
}

// HumanDecision is the externally supplied verdict that resumes a
// suspended run.
type HumanDecision struct {
	Approved      bool   `json:"approved"`
	EditedContent string `json:"edited_content,omitempty"`
}

// PipelineRun is the full mutable state of one pipeline execution. It is
// exclusively owned by its checkpoint record; runs never share state.
type PipelineRun struct {
	JobID     string `json:"job_id"`
	ThreadID  string `json:"thread_id"`
	ProjectID string `json:"project_id"`

	Phase Phase `json:"phase"`
	Stage Stage `json:"stage"`

	Rigor       Rigor  `json:"rigor"`
	SourceText  string `json:"source_text"`
	IngestionID string `json:"ingestion_id,omitempty"`

	// DocID and FileHash identify the submitted source document; claim
	// ids derive from FileHash.
	DocID    string `json:"doc_id"`
	FileHash string `json:"file_hash"`

	// Outline is the structural brief produced by the vision stage.
	Outline string `json:"outline,omitempty"`

	// Tables are submitted alongside the source text and governed at the
	// artifact registry stage.
	Tables []Table `json:"tables,omitempty"`

	RevisionCount    int          `json:"revision_count"`
	CriticStatus     CriticStatus `json:"critic_status"`
	NeedsHumanReview bool         `json:"needs_human_review"`
	NeedsSignoff     bool         `json:"needs_signoff"`
	ConflictDetected bool         `json:"conflict_detected"`

	// ForcedFailure short-circuits routing to failure_cleanup. Any stage
	// may set it; FailureReason carries the human-readable cause.
	ForcedFailure bool   `json:"forced_failure"`
	FailureReason string `json:"failure_reason,omitempty"`

	// NeedsLogician is set by lead_counsel when the claim set warrants a
	// detailed symbolic checking pass.
	NeedsLogician bool `json:"needs_logician"`

	Claims           []Claim           `json:"claims,omitempty"`
	Conflicts        *ConflictReport   `json:"conflicts,omitempty"`
	Draft            string            `json:"draft,omitempty"`
	ManuscriptBlocks []ManuscriptBlock `json:"manuscript_blocks,omitempty"`
	PromptManifest   PromptManifest    `json:"prompt_manifest"`

	PrecisionFlags []PrecisionFlag `json:"precision_flags,omitempty"`
	ToneFlags      []ToneFlag      `json:"tone_flags,omitempty"`

	PendingProposal *ReframeProposal `json:"pending_proposal,omitempty"`

	Cancelled bool      `json:"cancelled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TripleCount returns the number of extracted relation triples held by
// the run. Routing after cartographer depends on this.
func (r *PipelineRun) TripleCount() int {
	return len(r.Claims)
}

// Fail marks the run failed with a reason. The first reason wins; later
// calls only append detail if none was recorded.
func (r *PipelineRun) Fail(reason string) {
	r.ForcedFailure = true
	if r.FailureReason == "" {
		r.FailureReason = reason
	}
}
