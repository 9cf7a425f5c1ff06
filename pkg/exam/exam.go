// Package exam defines the structured catalog produced by the analysis
// pipeline: sections (major questions), the questions nested inside them,
// and the diagnostics accumulated while repairing noisy OCR input.
package exam

import (
	"fmt"
	"sort"
)

// Field is the subject-matter category assigned to a section or question.
// The values are the labels used in the canonical report, so they must
// stay stable across releases.
type Field string

const (
	FieldGeography Field = "地理"
	FieldHistory   Field = "歴史"
	FieldCivics    Field = "公民"
	FieldMixed     Field = "総合"
)

// Valid reports whether f is one of the known field labels.
func (f Field) Valid() bool {
	switch f {
	case FieldGeography, FieldHistory, FieldCivics, FieldMixed:
		return true
	}
	return false
}

// MarkerFamily identifies the glyph convention used to number a question.
// Distinct families may co-occur within one document.
type MarkerFamily string

const (
	MarkerKanji  MarkerFamily = "kanji-numeral"      // 問一, 問二
	MarkerDigit  MarkerFamily = "digit"              // 問1, 問２
	MarkerParen  MarkerFamily = "parenthesized"      // (1), (ア)
	MarkerCircle MarkerFamily = "circled-number"     // ①, ②
	MarkerRoman  MarkerFamily = "roman-numeral"      // Ⅰ, Ⅱ
)

// QuestionStatus records how a question survived the repair passes.
type QuestionStatus string

const (
	StatusNormal            QuestionStatus = "normal"
	StatusDuplicateResolved QuestionStatus = "duplicate-resolved"
	StatusReassigned        QuestionStatus = "reassigned"
	StatusFragment          QuestionStatus = "fragment"
	StatusUnresolved        QuestionStatus = "unresolved"
)

// Correction records the strongest fix applied while normalizing a
// raw number token.
type Correction string

const (
	CorrectionNone  Correction = "none"
	CorrectionOCR   Correction = "ocr-fix"
	CorrectionRoman Correction = "roman-fix"
	CorrectionWidth Correction = "width-fix"
)

// Provenance tags which part of the question text a theme came from.
type Provenance string

const (
	ProvenanceLead     Provenance = "lead"
	ProvenanceQuestion Provenance = "question"
	ProvenanceChoices  Provenance = "choices"
	ProvenanceNone     Provenance = "none"
)

// Span is a half-open byte range [Start, End) into the source text.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns the byte length of the span.
func (s Span) Len() int { return s.End - s.Start }

// Contains reports whether the byte offset pos falls inside the span.
func (s Span) Contains(pos int) bool { return pos >= s.Start && pos < s.End }

// Overlaps reports whether two spans share any byte.
func (s Span) Overlaps(o Span) bool { return s.Start < o.End && o.Start < s.End }

// NumberToken is the result of normalizing a raw question or section
// number token.
type NumberToken struct {
	Raw        string     `json:"raw"`
	Normalized int        `json:"normalized"`
	Correction Correction `json:"correction"`
}

// Theme is a short phrase summarizing a question's subject matter,
// together with the confidence of the extraction and the part of the
// question text it was taken from.
type Theme struct {
	Text       string     `json:"text,omitempty"`
	Confidence float64    `json:"confidence"`
	Provenance Provenance `json:"provenance"`
	Field      Field      `json:"field,omitempty"`
}

// IsZero reports whether no theme was extracted.
func (t Theme) IsZero() bool { return t.Text == "" }

// SourceInfo is a citation parsed from a passage tail, e.g.
// （新美南吉『ごんぎつね』による）.
type SourceInfo struct {
	Author    string `json:"author,omitempty"`
	Title     string `json:"title,omitempty"`
	Publisher string `json:"publisher,omitempty"`
	Year      string `json:"year,omitempty"`
	Raw       string `json:"raw,omitempty"`
}

// Question is a single numbered sub-item within a section.
type Question struct {
	SectionNumber    int            `json:"section_number"`
	RawMarker        string         `json:"raw_marker"`
	NormalizedNumber int            `json:"normalized_number"`
	MarkerFamily     MarkerFamily   `json:"marker_family"`
	TextSpan         Span           `json:"text_span"`
	Text             string         `json:"text,omitempty"`
	Theme            Theme          `json:"theme"`
	Field            Field          `json:"field,omitempty"`
	Status           QuestionStatus `json:"status"`
	Keywords         []string       `json:"keywords,omitempty"`

	// ChoiceCount is the number of listed choices, 0 when none were found.
	ChoiceCount int `json:"choice_count,omitempty"`
	// CharLimit is the [min, max] character budget of a written answer,
	// nil when the question does not state one.
	CharLimit *CharLimit `json:"char_limit,omitempty"`
}

// CharLimit is a character-count constraint on a written answer.
type CharLimit struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// Label returns the canonical question label, e.g. "大問1-問3".
func (q *Question) Label() string {
	return fmt.Sprintf("大問%d-問%d", q.SectionNumber, q.NormalizedNumber)
}

// Section is a top-level numbered grouping of questions, introduced by a
// lead-in phrase referencing a passage, table, chart, or timeline.
type Section struct {
	Number    int         `json:"number"`
	Title     string      `json:"title,omitempty"`
	Span      Span        `json:"span"`
	Field     Field       `json:"field,omitempty"`
	Questions []*Question `json:"questions"`
	Source    *SourceInfo `json:"source,omitempty"`
}

// MaxNumber returns the highest normalized question number in the
// section, 0 when the section is empty.
func (s *Section) MaxNumber() int {
	max := 0
	for _, q := range s.Questions {
		if q.NormalizedNumber > max {
			max = q.NormalizedNumber
		}
	}
	return max
}

// Numbers returns the normalized question numbers in document order.
func (s *Section) Numbers() []int {
	nums := make([]int, len(s.Questions))
	for i, q := range s.Questions {
		nums[i] = q.NormalizedNumber
	}
	return nums
}

// HasNumber reports whether a question with normalized number n exists
// in the section.
func (s *Section) HasNumber(n int) bool {
	for _, q := range s.Questions {
		if q.NormalizedNumber == n {
			return true
		}
	}
	return false
}

// SortQuestions orders the questions by normalized number, keeping
// document order among equal numbers.
func (s *Section) SortQuestions() {
	sort.SliceStable(s.Questions, func(i, j int) bool {
		return s.Questions[i].NormalizedNumber < s.Questions[j].NormalizedNumber
	})
}

// Stage identifies the pipeline stage a diagnostic originated from.
type Stage string

const (
	StageSection  Stage = "section"
	StageQuestion Stage = "question"
	StageNumber   Stage = "number"
	StageResolve  Stage = "resolve"
	StageField    Stage = "field"
	StageTheme    Stage = "theme"
	StageGateway  Stage = "gateway"
)

// Diagnostic is a single "what was fixed or could not be fixed" entry.
// Diagnostics are data returned with the catalog, not log side effects,
// so tests can assert on them.
type Diagnostic struct {
	Stage    Stage  `json:"stage"`
	Section  int    `json:"section,omitempty"`
	Question int    `json:"question,omitempty"`
	Message  string `json:"message"`
}

func (d Diagnostic) String() string {
	switch {
	case d.Section > 0 && d.Question > 0:
		return fmt.Sprintf("[%s] 大問%d-問%d: %s", d.Stage, d.Section, d.Question, d.Message)
	case d.Section > 0:
		return fmt.Sprintf("[%s] 大問%d: %s", d.Stage, d.Section, d.Message)
	default:
		return fmt.Sprintf("[%s] %s", d.Stage, d.Message)
	}
}

// Catalog is the final structured output of the pipeline.
type Catalog struct {
	Sections    []*Section   `json:"sections"`
	Diagnostics []Diagnostic `json:"diagnostics,omitempty"`
}

// TotalQuestions returns the number of questions across all sections.
func (c *Catalog) TotalQuestions() int {
	n := 0
	for _, s := range c.Sections {
		n += len(s.Questions)
	}
	return n
}

// Diagnose appends a diagnostic entry to the catalog.
func (c *Catalog) Diagnose(stage Stage, section, question int, format string, args ...any) {
	c.Diagnostics = append(c.Diagnostics, Diagnostic{
		Stage:    stage,
		Section:  section,
		Question: question,
		Message:  fmt.Sprintf(format, args...),
	})
}

// FieldStats is the per-field question distribution of a catalog.
type FieldStats struct {
	Counts map[Field]int     `json:"counts"`
	Ratios map[Field]float64 `json:"ratios"`
	Total  int               `json:"total"`
}

// Stats computes the per-field distribution over all questions.
func (c *Catalog) Stats() FieldStats {
	stats := FieldStats{
		Counts: make(map[Field]int),
		Ratios: make(map[Field]float64),
	}
	for _, s := range c.Sections {
		for _, q := range s.Questions {
			f := q.Field
			if !f.Valid() {
				f = FieldMixed
			}
			stats.Counts[f]++
			stats.Total++
		}
	}
	if stats.Total > 0 {
		for f, n := range stats.Counts {
			stats.Ratios[f] = float64(n) / float64(stats.Total)
		}
	}
	return stats
}
