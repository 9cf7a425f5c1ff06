// Package section finds major-question (大問) spans in raw transcript text.
//
// Lead-in phrases such as 「1 次の文章を読み…」 introduce each section.
// Patterns are ranked: specific lead-ins outrank the generic 次の/下記の
// family, which outranks a bare digit on its own line. Overlapping matches
// on the same digit region keep only the highest-ranked pattern, and when
// too few sections remain the whole document becomes a single section so
// the pipeline never fails outright.
package section

import (
	"regexp"
	"sort"
	"strings"

	"github.com/coolbeans/kakomon/pkg/exam"
	"github.com/coolbeans/kakomon/pkg/number"
)

// numClass matches a section number token in any glyph family the
// normalizer understands.
const numClass = `([0-9０-９一二三四五六七八九十]+)`

// Pattern is one ranked lead-in pattern.
type Pattern struct {
	Name string
	Rank int
	re   *regexp.Regexp
}

// DefaultPatterns returns the built-in lead-in patterns in rank order.
func DefaultPatterns() []Pattern {
	compile := func(name string, rank int, expr string) Pattern {
		return Pattern{Name: name, Rank: rank, re: regexp.MustCompile(`(?m)^[ 　\t]*` + expr)}
	}
	return []Pattern{
		compile("next-passage", 10, numClass+`[、，.．]?[ 　]*次の文章を読[みん]`),
		compile("next-timeline", 9, numClass+`[、，.．]?[ 　]*次の年表を見て`),
		compile("next-table", 9, numClass+`[、，.．]?[ 　]*次の表[はを]`),
		compile("next-generic", 8, numClass+`[、，.．]?[ 　]*(?:次の|下記の|以下の)`),
		compile("bare-digit-line", 3, numClass+`[ 　\t]*$`),
	}
}

// noisePatterns mark answer-sheet regions that must never start a section.
var noisePatterns = []*regexp.Regexp{
	regexp.MustCompile(`解答用紙`),
	regexp.MustCompile(`採点欄`),
	regexp.MustCompile(`受験番号`),
	regexp.MustCompile(`氏\s*名`),
	regexp.MustCompile(`得\s*点`),
}

// smallQuestionIndicators disqualify a bare-digit candidate whose
// surrounding context looks like a minor question, not a section start.
var smallQuestionIndicators = []*regexp.Regexp{
	regexp.MustCompile(`下線部`),
	regexp.MustCompile(`傍線部`),
	regexp.MustCompile(`空らん|空欄`),
}

// Match is one lead-in match before span assembly.
type Match struct {
	Pos     int
	End     int
	Literal string
	Number  int
	Rank    int
	Pattern string
}

// Detector finds section boundaries in a document.
type Detector struct {
	patterns    []Pattern
	minSections int
}

// Option configures a Detector.
type Option func(*Detector)

// WithMinSections sets the minimum detected-section count below which the
// whole document collapses into a single section. Default 2.
func WithMinSections(n int) Option {
	return func(d *Detector) { d.minSections = n }
}

// WithPatterns replaces the built-in lead-in patterns.
func WithPatterns(patterns []Pattern) Option {
	return func(d *Detector) { d.patterns = patterns }
}

// NewDetector creates a Detector with the built-in patterns.
func NewDetector(opts ...Option) *Detector {
	d := &Detector{
		patterns:    DefaultPatterns(),
		minSections: 2,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Detect returns ordered, non-overlapping section spans covering text.
// The result always contains at least one section for non-empty input.
func (d *Detector) Detect(text string) ([]*exam.Section, []exam.Diagnostic) {
	var diags []exam.Diagnostic

	matches := d.findMatches(text)
	matches = resolveOverlaps(matches)
	matches, noiseDiags := dropNoise(text, matches)
	diags = append(diags, noiseDiags...)
	matches, contDiags := filterContinuity(matches)
	diags = append(diags, contDiags...)

	if len(matches) < d.minSections {
		diags = append(diags, exam.Diagnostic{
			Stage:   exam.StageSection,
			Message: "lead-in matches below minimum, treating document as a single section",
		})
		return []*exam.Section{singleSection(text, matches)}, diags
	}

	sections := make([]*exam.Section, 0, len(matches))
	for i, m := range matches {
		end := len(text)
		if i+1 < len(matches) {
			end = matches[i+1].Pos
		}
		sections = append(sections, &exam.Section{
			Number: m.Number,
			Title:  lineAt(text, m.Pos),
			Span:   exam.Span{Start: m.Pos, End: end},
			Source: ParseSource(text[m.Pos:end]),
		})
	}
	return sections, diags
}

func (d *Detector) findMatches(text string) []Match {
	var matches []Match
	for _, p := range d.patterns {
		for _, loc := range p.re.FindAllStringSubmatchIndex(text, -1) {
			literal := text[loc[0]:loc[1]]
			token := text[loc[2]:loc[3]]
			matches = append(matches, Match{
				Pos:     loc[0],
				End:     loc[1],
				Literal: strings.TrimSpace(literal),
				Number:  number.Normalize(token).Normalized,
				Rank:    p.Rank,
				Pattern: p.Name,
			})
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Pos != matches[j].Pos {
			return matches[i].Pos < matches[j].Pos
		}
		return matches[i].Rank > matches[j].Rank
	})
	return matches
}

// dropNoise removes matches that sit on an answer-sheet line or, for the
// low-confidence bare-digit pattern, inside minor-question context.
func dropNoise(text string, matches []Match) ([]Match, []exam.Diagnostic) {
	var kept []Match
	var diags []exam.Diagnostic
	for _, m := range matches {
		line := lineAt(text, m.Pos)
		if isNoiseLine(line) {
			diags = append(diags, exam.Diagnostic{
				Stage:   exam.StageSection,
				Message: "lead-in candidate dropped on answer-sheet line: " + truncate(line, 40),
			})
			continue
		}
		if m.Pattern == "bare-digit-line" && inSmallQuestionContext(text, m) {
			continue
		}
		kept = append(kept, m)
	}
	return kept, diags
}

func isNoiseLine(line string) bool {
	for _, re := range noisePatterns {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

func inSmallQuestionContext(text string, m Match) bool {
	start := m.Pos - 50
	if start < 0 {
		start = 0
	}
	end := m.End + 100
	if end > len(text) {
		end = len(text)
	}
	context := text[start:end]
	for _, re := range smallQuestionIndicators {
		if re.MatchString(context) {
			return true
		}
	}
	return false
}

// resolveOverlaps keeps the highest-ranked match per digit region. Two
// matches share a region when their spans overlap. Matches are already
// ordered by position with higher ranks first at equal positions.
func resolveOverlaps(matches []Match) []Match {
	var result []Match
	for _, m := range matches {
		if len(result) > 0 {
			prev := &result[len(result)-1]
			if m.Pos < prev.End {
				if m.Rank > prev.Rank {
					*prev = m
				}
				continue
			}
		}
		result = append(result, m)
	}
	return result
}

// filterContinuity drops low-confidence matches whose number runs
// backwards, and fills in numbers the normalizer could not parse.
// Forward jumps are tolerated: a skipped section number is an OCR gap,
// not proof the candidate is wrong.
func filterContinuity(matches []Match) ([]Match, []exam.Diagnostic) {
	var kept []Match
	var diags []exam.Diagnostic
	prev := 0
	for _, m := range matches {
		if m.Number == 0 {
			m.Number = prev + 1
			diags = append(diags, exam.Diagnostic{
				Stage:   exam.StageSection,
				Section: m.Number,
				Message: "unparseable section number, assigned next in sequence",
			})
		}
		if m.Number <= prev && m.Rank < 8 {
			diags = append(diags, exam.Diagnostic{
				Stage:   exam.StageSection,
				Message: "low-confidence lead-in with non-increasing number dropped: " + truncate(m.Literal, 40),
			})
			continue
		}
		kept = append(kept, m)
		prev = m.Number
	}
	return kept, diags
}

// singleSection wraps the whole document in section 1. The first surviving
// match, if any, still contributes the provisional title.
func singleSection(text string, matches []Match) *exam.Section {
	title := "全体"
	if len(matches) > 0 {
		title = lineAt(text, matches[0].Pos)
	}
	return &exam.Section{
		Number: 1,
		Title:  title,
		Span:   exam.Span{Start: 0, End: len(text)},
		Source: ParseSource(text),
	}
}

// Citation forms found at passage tails, most specific first.
var (
	// （新美南吉『ごんぎつね』による）
	citeAuthorTitleRe = regexp.MustCompile(`[（(]([^（）『』\n]{1,20})『([^』\n]+)』[^（）\n]*による[）)]`)
	// （新美南吉の文による）
	citeAuthorProseRe = regexp.MustCompile(`[（(]([^（）\n]{1,20})の文による[）)]`)
	// 出典：新美南吉『ごんぎつね』
	citeSourceLineRe = regexp.MustCompile(`出典[:：]([^\n]+)`)

	citeTitleRe     = regexp.MustCompile(`『([^』\n]+)』`)
	citePublisherRe = regexp.MustCompile(`[（(]([^（）\n]+社)[）)]`)
	citeYearRe      = regexp.MustCompile(`(?:19|20)[0-9]{2}年`)
)

// ParseSource extracts the passage citation from a section's text,
// e.g. （新美南吉『ごんぎつね』による）. Publisher and year are pulled
// out of the matched citation when present. Returns nil when the text
// carries no citation.
func ParseSource(text string) *exam.SourceInfo {
	var src *exam.SourceInfo
	switch {
	case citeAuthorTitleRe.MatchString(text):
		m := citeAuthorTitleRe.FindStringSubmatch(text)
		src = &exam.SourceInfo{
			Author: strings.TrimSpace(m[1]),
			Title:  m[2],
			Raw:    m[0],
		}
	case citeAuthorProseRe.MatchString(text):
		m := citeAuthorProseRe.FindStringSubmatch(text)
		src = &exam.SourceInfo{
			Author: strings.TrimSpace(m[1]),
			Raw:    m[0],
		}
	case citeSourceLineRe.MatchString(text):
		m := citeSourceLineRe.FindStringSubmatch(text)
		src = &exam.SourceInfo{Raw: strings.TrimSpace(m[0])}
		if t := citeTitleRe.FindStringSubmatch(m[1]); t != nil {
			src.Title = t[1]
		}
	default:
		return nil
	}
	if m := citePublisherRe.FindStringSubmatch(src.Raw); m != nil {
		src.Publisher = m[1]
	}
	if m := citeYearRe.FindString(src.Raw); m != "" {
		src.Year = m
	}
	return src
}

// lineAt returns the trimmed line of text containing byte offset pos.
func lineAt(text string, pos int) string {
	start := strings.LastIndexByte(text[:pos], '\n') + 1
	end := strings.IndexByte(text[pos:], '\n')
	if end == -1 {
		end = len(text)
	} else {
		end += pos
	}
	return strings.TrimSpace(text[start:end])
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}
