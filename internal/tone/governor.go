// Package tone lints manuscript text against a banned-term policy and,
// in conservative rigor, drives a bounded rewrite-and-relint loop
// through an external text-rewrite collaborator. Linting itself is
// purely regex based and never calls a model.
package tone

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/draftforge/manuscript-cli/internal/model"
)

// ErrNonConvergent is returned when fail-severity findings survive the
// rewrite loop. The governor never silently accepts failing text.
var ErrNonConvergent = eris.New("tone: rewrite did not converge, fail findings remain")

// TextRewriter rewrites one sentence, guided by a replacement
// suggestion. The implementation is an external collaborator.
type TextRewriter interface {
	Rewrite(ctx context.Context, sentence, suggestion string) (string, error)
}

// citationPattern matches bracketed citation markers, which must survive
// rewrites verbatim.
var citationPattern = regexp.MustCompile(`\[[^\[\]]*\]`)

// sentencePattern finds sentence boundaries: a terminator followed by
// whitespace or end of text.
var sentencePattern = regexp.MustCompile(`[^.!?]*[.!?]+(?:\s+|$)|[^.!?]+$`)

// maxRewritePasses bounds the rewrite-and-relint loop.
const maxRewritePasses = 2

// Governor applies the tone policy.
type Governor struct {
	policy   Policy
	re       *regexp.Regexp
	lookup   map[string]Term
	rewriter TextRewriter
}

// NewGovernor builds a governor from a policy and rewrite collaborator.
// The rewriter may be nil for lint-only use.
func NewGovernor(policy Policy, rewriter TextRewriter) *Governor {
	re, lookup := policy.compile()
	return &Governor{policy: policy, re: re, lookup: lookup, rewriter: rewriter}
}

// Lint scans text against the policy. One flag is produced per distinct
// term, carrying the byte offset of every match. Lint never invokes an
// external model.
func (g *Governor) Lint(text string) []model.ToneFlag {
	if g.re == nil || text == "" {
		return nil
	}

	byWord := make(map[string]*model.ToneFlag)
	for _, loc := range g.re.FindAllStringIndex(text, -1) {
		word := strings.ToLower(text[loc[0]:loc[1]])
		term, ok := g.lookup[word]
		if !ok {
			continue
		}
		flag, seen := byWord[word]
		if !seen {
			severity, _ := normalizeSeverity(term.Severity)
			flag = &model.ToneFlag{
				Word:       word,
				Severity:   severity,
				Suggestion: term.Suggestion,
				Category:   term.Category,
			}
			byWord[word] = flag
		}
		flag.Locations = append(flag.Locations, loc[0])
	}

	flags := make([]model.ToneFlag, 0, len(byWord))
	for _, f := range byWord {
		flags = append(flags, *f)
	}
	sort.Slice(flags, func(i, j int) bool { return flags[i].Word < flags[j].Word })
	return flags
}

// Govern lints text and, in conservative rigor, rewrites sentences with
// fail-severity findings until the text passes or the pass budget runs
// out. Exploratory rigor records findings but never blocks and never
// rewrites. The convergence invariant: Govern either returns text with
// zero fail findings or an error wrapping ErrNonConvergent.
func (g *Governor) Govern(ctx context.Context, text string, rigor model.Rigor) (string, []model.ToneFlag, error) {
	flags := g.Lint(text)

	if rigor != model.RigorConservative {
		return text, flags, nil
	}
	if !hasFail(flags) {
		return text, flags, nil
	}
	if g.rewriter == nil {
		return text, flags, eris.Wrap(ErrNonConvergent, "tone: no rewriter configured")
	}

	current := text
	for pass := 0; pass < maxRewritePasses; pass++ {
		rewritten, err := g.rewritePass(ctx, current, flags)
		if err != nil {
			return current, flags, err
		}
		current = rewritten
		flags = g.Lint(current)
		if !hasFail(flags) {
			return current, flags, nil
		}
		zap.L().Warn("tone: fail findings remain after rewrite pass",
			zap.Int("pass", pass+1),
			zap.Int("flags", len(flags)),
		)
	}

	return current, flags, eris.Wrapf(ErrNonConvergent, "tone: %d fail findings after %d passes", countFail(flags), maxRewritePasses)
}

// rewritePass rewrites every sentence overlapping a fail-severity match.
// Citation markers are split out first so the rewriter never sees them
// and they are reassembled verbatim.
func (g *Governor) rewritePass(ctx context.Context, text string, flags []model.ToneFlag) (string, error) {
	failOffsets := failLocations(flags)
	if len(failOffsets) == 0 {
		return text, nil
	}

	var out strings.Builder
	for _, span := range sentenceSpans(text) {
		sentence := text[span[0]:span[1]]
		if !overlapsAny(span[0], span[1], failOffsets) {
			out.WriteString(sentence)
			continue
		}
		rewritten, err := g.rewriteSentence(ctx, sentence)
		if err != nil {
			return "", err
		}
		out.WriteString(rewritten)
	}
	return out.String(), nil
}

// sentenceSpans splits text into contiguous sentence spans covering every
// byte. The terminator pattern alone cannot match spans holding an inline
// period with no trailing whitespace (decimals, versions, abbreviations);
// those gaps are folded into the following sentence so governing never
// drops text.
func sentenceSpans(text string) [][2]int {
	var spans [][2]int
	last := 0
	for _, loc := range sentencePattern.FindAllStringIndex(text, -1) {
		start := loc[0]
		if start > last {
			start = last
		}
		spans = append(spans, [2]int{start, loc[1]})
		last = loc[1]
	}
	if last < len(text) {
		spans = append(spans, [2]int{last, len(text)})
	}
	return spans
}

// rewriteSentence rewrites the non-citation segments of one sentence.
func (g *Governor) rewriteSentence(ctx context.Context, sentence string) (string, error) {
	var out strings.Builder
	last := 0
	citations := citationPattern.FindAllStringIndex(sentence, -1)

	segments := make([][2]int, 0, len(citations)*2+1)
	for _, c := range citations {
		if c[0] > last {
			segments = append(segments, [2]int{last, c[0]})
		}
		last = c[1]
	}
	if last < len(sentence) {
		segments = append(segments, [2]int{last, len(sentence)})
	}

	pos := 0
	for _, seg := range segments {
		// Citations between segments pass through verbatim.
		if seg[0] > pos {
			out.WriteString(sentence[pos:seg[0]])
		}
		part := sentence[seg[0]:seg[1]]
		if g.re != nil && g.re.MatchString(part) {
			rewritten, err := g.rewriter.Rewrite(ctx, part, g.suggestionFor(part))
			if err != nil {
				return "", eris.Wrap(err, "tone: rewrite sentence")
			}
			out.WriteString(rewritten)
		} else {
			out.WriteString(part)
		}
		pos = seg[1]
	}
	if pos < len(sentence) {
		out.WriteString(sentence[pos:])
	}
	return out.String(), nil
}

// suggestionFor builds the rewrite guidance for a text segment from the
// fail-severity terms it contains.
func (g *Governor) suggestionFor(segment string) string {
	var hints []string
	for _, match := range g.re.FindAllString(segment, -1) {
		term, ok := g.lookup[strings.ToLower(match)]
		if !ok {
			continue
		}
		if sev, _ := normalizeSeverity(term.Severity); sev != model.ToneSeverityFail {
			continue
		}
		if term.Suggestion != "" {
			hints = append(hints, fmt.Sprintf("replace %q with %q", strings.ToLower(match), term.Suggestion))
		} else {
			hints = append(hints, fmt.Sprintf("remove %q", strings.ToLower(match)))
		}
	}
	return strings.Join(hints, "; ")
}

func hasFail(flags []model.ToneFlag) bool {
	return countFail(flags) > 0
}

func countFail(flags []model.ToneFlag) int {
	n := 0
	for _, f := range flags {
		if f.Severity == model.ToneSeverityFail {
			n++
		}
	}
	return n
}

// failLocations collects the byte offsets of fail-severity matches.
func failLocations(flags []model.ToneFlag) []int {
	var offs []int
	for _, f := range flags {
		if f.Severity == model.ToneSeverityFail {
			offs = append(offs, f.Locations...)
		}
	}
	sort.Ints(offs)
	return offs
}

// overlapsAny reports whether any offset falls inside [start, end).
func overlapsAny(start, end int, offsets []int) bool {
	for _, o := range offsets {
		if o >= start && o < end {
			return true
		}
	}
	return false
}
