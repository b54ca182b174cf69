package model

// RoundingRule selects the rounding behavior for numeric clamping.
type RoundingRule string

const (
	RoundHalfUp  RoundingRule = "half_up"
	RoundBankers RoundingRule = "bankers"
)

// ConsistencyRule selects whether decimal places must agree per column.
type ConsistencyRule string

const (
	ConsistencyPerColumn ConsistencyRule = "per_column"
	ConsistencyNone      ConsistencyRule = "none"
)

// PrecisionContract is the numeric-precision policy applied to tables.
type PrecisionContract struct {
	MaxSigFigs      int             `json:"max_sig_figs" yaml:"max_sig_figs" mapstructure:"max_sig_figs"`
	MaxDecimals     int             `json:"max_decimals" yaml:"max_decimals" mapstructure:"max_decimals"`
	RoundingRule    RoundingRule    `json:"rounding_rule" yaml:"rounding_rule" mapstructure:"rounding_rule"`
	ConsistencyRule ConsistencyRule `json:"consistency_rule" yaml:"consistency_rule" mapstructure:"consistency_rule"`
}

// PrecisionIssue names a precision contract violation.
type PrecisionIssue string

const (
	IssueExcessivePrecision   PrecisionIssue = "EXCESSIVE_PRECISION"
	IssueInconsistentDecimals PrecisionIssue = "INCONSISTENT_DECIMALS"
)

// PrecisionFlag marks a contract violation in one table column.
type PrecisionFlag struct {
	TableID string         `json:"table_id"`
	Column  string         `json:"column"`
	Issue   PrecisionIssue `json:"issue"`
	Details string         `json:"details"`
}
