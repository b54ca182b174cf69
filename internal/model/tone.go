package model

// ToneSeverity grades a banned-term finding. Hard findings block in
// conservative rigor; soft findings only warn.
type ToneSeverity string

const (
	ToneSeverityFail ToneSeverity = "fail"
	ToneSeverityWarn ToneSeverity = "warn"
)

// ToneFlag is a single lint finding against the tone policy. Locations
// are byte offsets into the linted text.
type ToneFlag struct {
	Word       string       `json:"word"`
	Severity   ToneSeverity `json:"severity"`
	Locations  []int        `json:"locations"`
	Suggestion string       `json:"suggestion,omitempty"`
	Category   string       `json:"category,omitempty"`
}
