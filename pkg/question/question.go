// Package question finds minor-question spans inside one section.
//
// Markers come in families with different reliability: 問N outranks
// parenthesized and circled markers, which outrank roman numerals. A
// span runs from its marker to the next marker of equal or higher
// priority. A marker alone is not enough: the opening of the span must
// contain an instruction verb (答えなさい, 説明しなさい, …), which
// filters dates and other OCR fragments that merely look like markers.
package question

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/coolbeans/kakomon/pkg/exam"
)

// Family is one marker-glyph family with its detection pattern and
// priority (lower value = higher priority).
type Family struct {
	Name     exam.MarkerFamily
	Priority int
	re       *regexp.Regexp
}

// DefaultFamilies returns the built-in marker families in priority order.
func DefaultFamilies() []Family {
	return []Family{
		{exam.MarkerDigit, 1, regexp.MustCompile(`(?:問|設問)[ 　]*[0-9０-９]{1,2}`)},
		{exam.MarkerKanji, 1, regexp.MustCompile(`(?:問|設問)[ 　]*[一二三四五六七八九十]{1,3}`)},
		{exam.MarkerParen, 2, regexp.MustCompile(`[（(](?:[0-9０-９]{1,2}|[ア-コあ-こa-hA-H])[）)]`)},
		{exam.MarkerCircle, 2, regexp.MustCompile(`[①-⑳]`)},
		{exam.MarkerRoman, 3, regexp.MustCompile(`[ⅠⅡⅢⅣⅤⅥⅦⅧⅨⅩ]`)},
	}
}

// instructionVerbs are phrases that mark an actual question. At least one
// must appear near the start of a span for the span to count.
var instructionVerbs = regexp.MustCompile(
	`答えなさい|答えよ|答えること|記号で答え|説明しなさい|説明せよ|` +
		`選びなさい|選べ|書きなさい|述べなさい|述べよ|並べかえ|並べ替え|あてはまるもの`)

// Extractor finds question spans inside a section.
type Extractor struct {
	families   []Family
	minSpan    int // minimum span length in runes
	verbWindow int // leading runes searched for an instruction verb
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithMinSpan sets the minimum accepted span length in runes. Default 10.
func WithMinSpan(n int) Option {
	return func(e *Extractor) { e.minSpan = n }
}

// WithVerbWindow sets how many leading runes are searched for an
// instruction verb. Default 100.
func WithVerbWindow(n int) Option {
	return func(e *Extractor) { e.verbWindow = n }
}

// NewExtractor creates an Extractor with the built-in marker families.
func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{
		families:   DefaultFamilies(),
		minSpan:    10,
		verbWindow: 100,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type marker struct {
	pos      int // byte offset within the section text
	end      int
	literal  string
	family   exam.MarkerFamily
	priority int
}

// Extract returns the ordered raw question list for one section. The
// section's span selects its slice of doc; question spans use absolute
// offsets into doc. Rejected marker candidates are reported as
// diagnostics, never silently dropped.
func (e *Extractor) Extract(sec *exam.Section, doc string) ([]*exam.Question, []exam.Diagnostic) {
	text := doc[sec.Span.Start:sec.Span.End]
	markers := e.findMarkers(text)
	markers = bestFamily(markers)

	var questions []*exam.Question
	var diags []exam.Diagnostic
	for i, m := range markers {
		end := len(text)
		for _, next := range markers[i+1:] {
			if next.priority <= m.priority {
				end = next.pos
				break
			}
		}
		span := text[m.pos:end]

		if !e.hasInstructionVerb(span) {
			diags = append(diags, exam.Diagnostic{
				Stage:   exam.StageQuestion,
				Section: sec.Number,
				Message: "marker without instruction verb excluded: " + truncate(span, 30),
			})
			continue
		}
		if len([]rune(span)) < e.minSpan {
			diags = append(diags, exam.Diagnostic{
				Stage:   exam.StageQuestion,
				Section: sec.Number,
				Message: "span below minimum length excluded: " + truncate(span, 30),
			})
			continue
		}

		q := &exam.Question{
			SectionNumber: sec.Number,
			RawMarker:     m.literal,
			MarkerFamily:  m.family,
			TextSpan: exam.Span{
				Start: sec.Span.Start + m.pos,
				End:   sec.Span.Start + end,
			},
			Text:   strings.TrimSpace(span),
			Status: exam.StatusNormal,
		}
		q.ChoiceCount = ChoiceCount(span)
		q.CharLimit = ParseCharLimit(span)
		questions = append(questions, q)
	}
	return questions, diags
}

// findMarkers collects marker matches of all families, ordered by
// position. When families match overlapping regions the higher-priority
// family wins.
func (e *Extractor) findMarkers(text string) []marker {
	var markers []marker
	for _, f := range e.families {
		for _, loc := range f.re.FindAllStringIndex(text, -1) {
			markers = append(markers, marker{
				pos:      loc[0],
				end:      loc[1],
				literal:  text[loc[0]:loc[1]],
				family:   f.Name,
				priority: f.Priority,
			})
		}
	}
	sort.Slice(markers, func(i, j int) bool {
		if markers[i].pos != markers[j].pos {
			return markers[i].pos < markers[j].pos
		}
		return markers[i].priority < markers[j].priority
	})

	var result []marker
	for _, m := range markers {
		if len(result) > 0 && m.pos < result[len(result)-1].end {
			continue
		}
		result = append(result, m)
	}
	return result
}

// bestFamily keeps only markers of the highest-priority family present.
// Secondary families number choices and sub-items when 問N markers exist;
// they start questions only in sections that have no better convention.
func bestFamily(markers []marker) []marker {
	best := 0
	for _, m := range markers {
		if best == 0 || m.priority < best {
			best = m.priority
		}
	}
	var kept []marker
	for _, m := range markers {
		if m.priority == best {
			kept = append(kept, m)
		}
	}
	return kept
}

func (e *Extractor) hasInstructionVerb(span string) bool {
	runes := []rune(span)
	if len(runes) > e.verbWindow {
		span = string(runes[:e.verbWindow])
	}
	return instructionVerbs.MatchString(span)
}

var (
	katakanaChoiceRe = regexp.MustCompile(`[ア-ン][ 　]*[\.。、．]`)
	alphabetChoiceRe = regexp.MustCompile(`[A-H][ 　]*[\.。、．]`)
	circledChoiceRe  = regexp.MustCompile(`[①-⑩]`)
)

// ChoiceCount counts the listed choices of a question, trying glyph
// families in the order the originals use them. 0 means no choice list.
func ChoiceCount(text string) int {
	if n := len(katakanaChoiceRe.FindAllString(text, -1)); n > 0 {
		return n
	}
	if n := len(alphabetChoiceRe.FindAllString(text, -1)); n > 0 {
		return n
	}
	return len(circledChoiceRe.FindAllString(text, -1))
}

var (
	limitWithinRe  = regexp.MustCompile(`([0-9０-９]+)字以内`)
	limitAboutRe   = regexp.MustCompile(`([0-9０-９]+)字程度`)
	limitRangeRe   = regexp.MustCompile(`([0-9０-９]+)字(?:〜|～|から)([0-9０-９]+)字`)
	fullWidthDigit = strings.NewReplacer(
		"０", "0", "１", "1", "２", "2", "３", "3", "４", "4",
		"５", "5", "６", "6", "７", "7", "８", "8", "９", "9")
)

// ParseCharLimit extracts a written-answer character budget such as
// 「50字以内」 or 「40字〜60字」. Nil when the question states none.
func ParseCharLimit(text string) *exam.CharLimit {
	if m := limitRangeRe.FindStringSubmatch(text); m != nil {
		lo, hi := atoi(m[1]), atoi(m[2])
		return &exam.CharLimit{Min: lo, Max: hi}
	}
	if m := limitWithinRe.FindStringSubmatch(text); m != nil {
		return &exam.CharLimit{Min: 0, Max: atoi(m[1])}
	}
	if m := limitAboutRe.FindStringSubmatch(text); m != nil {
		n := atoi(m[1])
		return &exam.CharLimit{Min: n * 8 / 10, Max: n * 12 / 10}
	}
	return nil
}

func atoi(s string) int {
	n, _ := strconv.Atoi(fullWidthDigit.Replace(s))
	return n
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}
