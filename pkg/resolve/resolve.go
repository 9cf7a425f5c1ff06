// Package resolve repairs the numbering of an extracted catalog.
// OCR-damaged transcripts produce duplicate numbers, stray numbers
// that belong to a neighboring section, and gaps. The resolver applies
// a deterministic cross-section policy: move a question when it
// plausibly belongs next door, renumber a duplicate when it does not,
// and report what remains as diagnostics. Questions are never dropped
// and missing numbers are never fabricated.
package resolve

import (
	"github.com/coolbeans/kakomon/pkg/exam"
)

// Numbering thresholds. A number this far ahead of the running counter
// likely leaked in from the following section; a number this far
// behind likely belongs to the previous one. Heuristic values carried
// from field experience with OCR transcripts, tunable per corpus.
const (
	DefaultGapAhead  = 15
	DefaultGapBehind = 5
)

// tailFit bounds how far past the previous section's maximum a number
// may land and still count as that section's tail.
const tailFit = 3

// Resolver repairs question numbering across sections. State is
// scoped to a single Resolve call, so one Resolver may serve many
// documents sequentially; use separate instances for parallel runs on
// distinct catalogs only because catalogs are mutated in place.
type Resolver struct {
	gapAhead  int
	gapBehind int
}

// Option adjusts resolver thresholds.
type Option func(*Resolver)

// WithGapAhead sets the forward-move threshold.
func WithGapAhead(n int) Option {
	return func(r *Resolver) { r.gapAhead = n }
}

// WithGapBehind sets the backward-move threshold.
func WithGapBehind(n int) Option {
	return func(r *Resolver) { r.gapBehind = n }
}

// NewResolver returns a Resolver with default thresholds.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{gapAhead: DefaultGapAhead, gapBehind: DefaultGapBehind}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve walks sections in document order and repairs their
// numbering in place. After it returns, no section contains two
// questions with the same normalized number. Residual gaps are
// recorded as diagnostics on the catalog.
func (r *Resolver) Resolve(c *exam.Catalog) {
	for i := range c.Sections {
		r.resolveSection(c, i)
	}
	r.reportGaps(c)
}

func (r *Resolver) resolveSection(c *exam.Catalog, i int) {
	sec := c.Sections[i]
	var next, prev *exam.Section
	if i+1 < len(c.Sections) {
		next = c.Sections[i+1]
	}
	if i > 0 {
		prev = c.Sections[i-1]
	}

	kept := sec.Questions[:0:0]
	var forward []*exam.Question
	seen := make(map[int]bool)
	expected := 1

	for _, q := range sec.Questions {
		n := q.NormalizedNumber
		switch {
		case n <= 0:
			// Normalization found no number. Slot the question in at
			// the running counter so it cannot collide with another
			// unnumbered question.
			n = expected
			c.Diagnose(exam.StageResolve, sec.Number, n,
				"question without a usable number assigned %d", n)
			q.NormalizedNumber = n
			q.Status = exam.StatusUnresolved
			seen[n] = true
			expected = n + 1
			kept = append(kept, q)

		case seen[n]:
			// Duplicate. Prefer handing it to the following section
			// when its number fills a hole there; the usual cause is
			// a section boundary detected a few questions too late.
			if next != nil && fitsSequence(next, n) {
				c.Diagnose(exam.StageResolve, sec.Number, n,
					"duplicate number %d moved to 大問%d", n, next.Number)
				moveTo(q, next, n)
				forward = append(forward, q)
				continue
			}
			newN := expected
			for seen[newN] {
				newN++
			}
			c.Diagnose(exam.StageResolve, sec.Number, n,
				"duplicate number %d renumbered to %d", n, newN)
			q.NormalizedNumber = newN
			q.Status = exam.StatusDuplicateResolved
			seen[newN] = true
			if newN >= expected {
				expected = newN + 1
			}
			kept = append(kept, q)

		case next != nil && n > expected+r.gapAhead && fitsSequence(next, n):
			c.Diagnose(exam.StageResolve, sec.Number, n,
				"number %d far ahead of expected %d, moved to 大問%d", n, expected, next.Number)
			moveTo(q, next, n)
			forward = append(forward, q)

		case prev != nil && n > 0 && n < expected-r.gapBehind &&
			n > prev.MaxNumber() && n <= prev.MaxNumber()+tailFit:
			c.Diagnose(exam.StageResolve, sec.Number, n,
				"number %d far behind expected %d, moved to tail of 大問%d", n, expected, prev.Number)
			moveTo(q, prev, n)
			prev.Questions = append(prev.Questions, q)

		default:
			if n > 0 && n < expected-1 && !seen[n] {
				// Fills an earlier gap out of document order. Keep it,
				// but leave a trace for the report reader.
				c.Diagnose(exam.StageResolve, sec.Number, n,
					"number %d appears after %d, out of order", n, expected-1)
			}
			if n > 0 {
				seen[n] = true
				if n >= expected {
					expected = n + 1
				}
			}
			kept = append(kept, q)
		}
	}

	sec.Questions = kept
	if len(forward) > 0 {
		// Forward-moved questions precede the next section's own
		// questions in the source text, so they go to its head.
		next.Questions = append(forward, next.Questions...)
	}
}

// fitsSequence reports whether number n plugs into the section's
// numbering: not already present, and not far beyond its maximum.
func fitsSequence(s *exam.Section, n int) bool {
	if len(s.Questions) == 0 {
		return false
	}
	return !s.HasNumber(n) && n <= s.MaxNumber()+tailFit
}

func moveTo(q *exam.Question, dst *exam.Section, n int) {
	q.SectionNumber = dst.Number
	q.NormalizedNumber = n
	q.Status = exam.StatusReassigned
}

func (r *Resolver) reportGaps(c *exam.Catalog) {
	for _, sec := range c.Sections {
		present := make(map[int]bool)
		for _, q := range sec.Questions {
			present[q.NormalizedNumber] = true
		}
		for n := 1; n <= sec.MaxNumber(); n++ {
			if !present[n] {
				c.Diagnose(exam.StageResolve, sec.Number, n, "number %d missing", n)
			}
		}
	}
}
