// Package precision enforces a numeric-precision contract on tabular
// data. The governor is a pure function: it never raises on bad input,
// it only rewrites values and emits advisory flags. Re-running it on its
// own output is a no-op.
package precision

import (
	"fmt"
	"math/big"
	"regexp"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/draftforge/manuscript-cli/internal/model"
)

// numericPattern accepts plain and scientific-notation decimals after
// thousands separators have been stripped. Percent signs, units, and any
// alphabetic character other than the exponent marker disqualify a cell.
var numericPattern = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// Result is the outcome of governing one table.
type Result struct {
	Table    model.Table
	Flags    []model.PrecisionFlag
	Warnings []string
}

// Apply governs a table under the given contract and rigor level. Cells
// are rewritten in place on a copy; the input table is not mutated.
func Apply(table model.Table, contract model.PrecisionContract, rigor model.Rigor) Result {
	res := Result{
		Table: model.Table{ID: table.ID, Rows: make([]map[string]string, len(table.Rows))},
	}

	// First-seen raw decimal count per column, for per_column consistency.
	firstDecimals := make(map[string]int)

	for i, row := range table.Rows {
		out := make(map[string]string, len(row))
		for _, col := range sortedColumns(row) {
			raw := row[col]
			cell, flags, warn := governCell(table.ID, col, raw, contract, rigor, firstDecimals)
			out[col] = cell
			res.Flags = append(res.Flags, flags...)
			if warn != "" {
				res.Warnings = append(res.Warnings, warn)
			}
		}
		res.Table.Rows[i] = out
	}

	return res
}

func governCell(tableID, col, raw string, contract model.PrecisionContract, rigor model.Rigor, firstDecimals map[string]int) (string, []model.PrecisionFlag, string) {
	normalized, ok := normalizeNumeric(raw)
	if !ok {
		// Non-numeric cells pass through unmodified.
		var warn string
		if rigor == model.RigorConservative {
			warn = fmt.Sprintf("table %s column %s: non-numeric cell %q left ungoverned", tableID, col, raw)
		}
		return raw, nil, warn
	}

	d, err := decimal.NewFromString(normalized)
	if err != nil {
		var warn string
		if rigor == model.RigorConservative {
			warn = fmt.Sprintf("table %s column %s: unparseable numeric cell %q", tableID, col, raw)
		}
		return raw, nil, warn
	}

	rawDec := rawDecimalPlaces(d)

	var flags []model.PrecisionFlag

	// Per-column decimal consistency is judged on the raw representation,
	// before any rewriting.
	if contract.ConsistencyRule == model.ConsistencyPerColumn {
		if seen, ok := firstDecimals[col]; !ok {
			firstDecimals[col] = rawDec
		} else if seen != rawDec {
			flags = append(flags, model.PrecisionFlag{
				TableID: tableID,
				Column:  col,
				Issue:   model.IssueInconsistentDecimals,
				Details: fmt.Sprintf("value %q has %d decimal places, column established %d", raw, rawDec, seen),
			})
		}
	}

	// Already-governed values are left untouched so the governor is
	// idempotent on its own output.
	if rawDec == contract.MaxDecimals && roundTo(d, int32(contract.MaxDecimals), contract.RoundingRule).Equal(d) {
		if sigFigs(d) > contract.MaxSigFigs {
			flags = append(flags, model.PrecisionFlag{
				TableID: tableID,
				Column:  col,
				Issue:   model.IssueExcessivePrecision,
				Details: fmt.Sprintf("value %q carries %d significant figures, contract allows %d", raw, sigFigs(d), contract.MaxSigFigs),
			})
		}
		return normalized, flags, ""
	}

	clamped := clampSigFigs(d, contract.MaxSigFigs, contract.RoundingRule)
	clamped = roundTo(clamped, int32(contract.MaxDecimals), contract.RoundingRule)

	outDec := rawDec
	if outDec > contract.MaxDecimals {
		outDec = contract.MaxDecimals
	}
	rewritten := clamped.StringFixed(int32(outDec))

	if rewritten != raw || sigFigs(clamped) > contract.MaxSigFigs {
		flags = append(flags, model.PrecisionFlag{
			TableID: tableID,
			Column:  col,
			Issue:   model.IssueExcessivePrecision,
			Details: fmt.Sprintf("value %q rewritten to %q (max %d sig figs, %d decimals)", raw, rewritten, contract.MaxSigFigs, contract.MaxDecimals),
		})
	}

	return rewritten, flags, ""
}

// normalizeNumeric strips thousands separators and surrounding space,
// then reports whether the remainder is a bare numeric literal. Values
// with units, percent signs, or stray letters are rejected.
func normalizeNumeric(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", false
	}
	s = strings.ReplaceAll(s, ",", "")
	if !numericPattern.MatchString(s) {
		return "", false
	}
	return s, true
}

// rawDecimalPlaces returns the number of digits after the decimal point
// in the value's exact representation.
func rawDecimalPlaces(d decimal.Decimal) int {
	if d.Exponent() >= 0 {
		return 0
	}
	return int(-d.Exponent())
}

// sigFigs counts significant figures of the value itself: coefficient
// digits with trailing zeros stripped.
func sigFigs(d decimal.Decimal) int {
	if d.IsZero() {
		return 1
	}
	s := new(big.Int).Abs(d.Coefficient()).String()
	s = strings.TrimRight(s, "0")
	if s == "" {
		return 1
	}
	return len(s)
}

// clampSigFigs rounds d so it carries at most sig significant figures.
func clampSigFigs(d decimal.Decimal, sig int, rule model.RoundingRule) decimal.Decimal {
	if sig <= 0 || d.IsZero() || sigFigs(d) <= sig {
		return d
	}
	// Order of magnitude: 10^n <= |d| < 10^(n+1).
	magnitude := int(d.NumDigits()) + int(d.Exponent()) - 1
	places := int32(sig - 1 - magnitude)
	return roundTo(d, places, rule)
}

func roundTo(d decimal.Decimal, places int32, rule model.RoundingRule) decimal.Decimal {
	if rule == model.RoundBankers {
		return d.RoundBank(places)
	}
	return d.Round(places)
}

func sortedColumns(row map[string]string) []string {
	cols := make([]string, 0, len(row))
	for c := range row {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}
