// Package rules holds per-document correction tables. Some transcripts
// deviate from the general heuristics in ways only a human can name:
// a section header the detector cannot see, a marker OCR mangles the
// same way every time, a recurring noise line. Instead of bespoke code
// branches per exam, those corrections live in YAML tables keyed by a
// document fingerprint and are applied around the generic pipeline.
package rules

import (
	"fmt"
	"hash/fnv"
	"os"
	"strings"
	"unicode"

	"golang.org/x/text/width"
	"gopkg.in/yaml.v3"

	"github.com/coolbeans/kakomon/pkg/exam"
)

// ForceBoundary starts a new section at the first occurrence of a
// literal the detector misses.
type ForceBoundary struct {
	Literal string `yaml:"literal"`
}

// RemapMarker rewrites a raw marker the OCR mangles consistently. The
// replacement is space-padded to the original's byte length so offsets
// computed before and after the rewrite agree.
type RemapMarker struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// DropSpan blanks a known noise literal before extraction.
type DropSpan struct {
	Literal string `yaml:"literal"`
}

// FieldOverride pins a section's field regardless of keyword scoring.
type FieldOverride struct {
	Section int        `yaml:"section"`
	Field   exam.Field `yaml:"field"`
}

// Table is one document's correction set.
type Table struct {
	Name            string          `yaml:"name"`
	Fingerprint     string          `yaml:"fingerprint"`
	ForceBoundaries []ForceBoundary `yaml:"force_boundaries,omitempty"`
	RemapMarkers    []RemapMarker   `yaml:"remap_markers,omitempty"`
	DropSpans       []DropSpan      `yaml:"drop_spans,omitempty"`
	FieldOverrides  []FieldOverride `yaml:"field_overrides,omitempty"`
}

// ValidationError is one schema problem in a rule table.
type ValidationError struct {
	Field   string
	Message string
	Value   interface{}
}

func (e ValidationError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors collects all schema problems found in one pass.
type ValidationErrors []ValidationError

func (errs ValidationErrors) Error() string {
	if len(errs) == 0 {
		return "no errors"
	}
	if len(errs) == 1 {
		return errs[0].Error()
	}
	messages := make([]string, len(errs))
	for i, err := range errs {
		messages[i] = err.Error()
	}
	return fmt.Sprintf("%d validation errors:\n  - %s", len(errs), strings.Join(messages, "\n  - "))
}

// fingerprintPrefix is how many normalized runes of the document feed
// the fingerprint. Long enough to tell exams apart, short enough that
// OCR noise later in the document does not change the key.
const fingerprintPrefix = 512

// Fingerprint returns the document key for rule lookup: FNV-64a over
// the first 512 width-folded, whitespace-stripped runes, in hex.
func Fingerprint(doc string) string {
	folded := width.Fold.String(doc)
	runes := make([]rune, 0, fingerprintPrefix)
	for _, r := range folded {
		if unicode.IsSpace(r) {
			continue
		}
		runes = append(runes, r)
		if len(runes) == fingerprintPrefix {
			break
		}
	}
	h := fnv.New64a()
	h.Write([]byte(string(runes)))
	return fmt.Sprintf("%016x", h.Sum64())
}

// Set is a collection of tables indexed by fingerprint.
type Set struct {
	tables []Table
	byKey  map[string]int
}

// ParseSet decodes and validates a YAML rule file holding a list of
// tables. All schema problems are reported together.
func ParseSet(data []byte) (*Set, error) {
	var tables []Table
	if err := yaml.Unmarshal(data, &tables); err != nil {
		return nil, fmt.Errorf("parsing rule tables: %w", err)
	}
	var errs ValidationErrors
	byKey := make(map[string]int, len(tables))
	for i, t := range tables {
		prefix := fmt.Sprintf("tables[%d]", i)
		if t.Name == "" {
			errs = append(errs, ValidationError{Field: prefix + ".name", Message: "required field is missing"})
		}
		if len(t.Fingerprint) != 16 || strings.Trim(t.Fingerprint, "0123456789abcdef") != "" {
			errs = append(errs, ValidationError{Field: prefix + ".fingerprint", Message: "must be 16 lowercase hex characters", Value: t.Fingerprint})
		} else if prev, dup := byKey[t.Fingerprint]; dup {
			errs = append(errs, ValidationError{Field: prefix + ".fingerprint", Message: fmt.Sprintf("duplicates tables[%d]", prev), Value: t.Fingerprint})
		} else {
			byKey[t.Fingerprint] = i
		}
		for j, fb := range t.ForceBoundaries {
			if fb.Literal == "" {
				errs = append(errs, ValidationError{Field: fmt.Sprintf("%s.force_boundaries[%d].literal", prefix, j), Message: "required field is missing"})
			}
		}
		for j, rm := range t.RemapMarkers {
			field := fmt.Sprintf("%s.remap_markers[%d]", prefix, j)
			if rm.From == "" || rm.To == "" {
				errs = append(errs, ValidationError{Field: field, Message: "from and to are required"})
				continue
			}
			if len(rm.To) > len(rm.From) {
				errs = append(errs, ValidationError{Field: field + ".to", Message: "must not be longer than from in bytes", Value: rm.To})
			}
		}
		for j, ds := range t.DropSpans {
			if ds.Literal == "" {
				errs = append(errs, ValidationError{Field: fmt.Sprintf("%s.drop_spans[%d].literal", prefix, j), Message: "required field is missing"})
			}
		}
		for j, fo := range t.FieldOverrides {
			field := fmt.Sprintf("%s.field_overrides[%d]", prefix, j)
			if fo.Section < 1 {
				errs = append(errs, ValidationError{Field: field + ".section", Message: "must be at least 1", Value: fo.Section})
			}
			if !fo.Field.Valid() {
				errs = append(errs, ValidationError{Field: field + ".field", Message: "unknown field", Value: string(fo.Field)})
			}
		}
	}
	if len(errs) > 0 {
		return nil, errs
	}
	return &Set{tables: tables, byKey: byKey}, nil
}

// Load reads a rule file from disk.
func Load(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rule file: %w", err)
	}
	return ParseSet(data)
}

// Tables returns the tables in file order.
func (s *Set) Tables() []Table {
	return s.tables
}

// Lookup returns the table matching the document's fingerprint.
func (s *Set) Lookup(doc string) (Table, bool) {
	if s == nil {
		return Table{}, false
	}
	i, ok := s.byKey[Fingerprint(doc)]
	if !ok {
		return Table{}, false
	}
	return s.tables[i], true
}

// ApplyText performs the text-level corrections: marker remaps and
// noise drops. Replacements are padded with spaces so the result has
// the same byte length as the input, keeping spans computed on either
// side comparable. Returns the corrected text and a note per applied
// correction.
func (t Table) ApplyText(doc string) (string, []string) {
	var notes []string
	for _, rm := range t.RemapMarkers {
		n := strings.Count(doc, rm.From)
		if n == 0 {
			continue
		}
		doc = strings.ReplaceAll(doc, rm.From, rm.To+strings.Repeat(" ", len(rm.From)-len(rm.To)))
		notes = append(notes, fmt.Sprintf("remapped marker %q to %q (%d occurrences)", rm.From, rm.To, n))
	}
	for _, ds := range t.DropSpans {
		n := strings.Count(doc, ds.Literal)
		if n == 0 {
			continue
		}
		doc = strings.ReplaceAll(doc, ds.Literal, strings.Repeat(" ", len(ds.Literal)))
		notes = append(notes, fmt.Sprintf("dropped noise span %q (%d occurrences)", ds.Literal, n))
	}
	return doc, notes
}

// ForceSections splits detected sections at each forced boundary
// literal that is not already a section start, then renumbers the
// sections sequentially. Questions are not touched; this runs before
// extraction.
func (t Table) ForceSections(doc string, sections []*exam.Section) ([]*exam.Section, []string) {
	var notes []string
	for _, fb := range t.ForceBoundaries {
		off := strings.Index(doc, fb.Literal)
		if off < 0 {
			continue
		}
		idx := -1
		for i, sec := range sections {
			if sec.Span.Start == off {
				idx = -1
				break
			}
			if sec.Span.Contains(off) {
				idx = i
			}
		}
		if idx < 0 {
			continue
		}
		old := sections[idx]
		forced := &exam.Section{
			Title: lineAt(doc, off),
			Span:  exam.Span{Start: off, End: old.Span.End},
		}
		old.Span.End = off
		rest := append([]*exam.Section{forced}, sections[idx+1:]...)
		sections = append(sections[:idx+1], rest...)
		notes = append(notes, fmt.Sprintf("forced section boundary at %q", fb.Literal))
	}
	for i, sec := range sections {
		sec.Number = i + 1
	}
	return sections, notes
}

// OverrideFields pins section fields after classification and records
// a diagnostic per override.
func (t Table) OverrideFields(c *exam.Catalog) {
	for _, fo := range t.FieldOverrides {
		for _, sec := range c.Sections {
			if sec.Number != fo.Section || sec.Field == fo.Field {
				continue
			}
			c.Diagnose(exam.StageField, sec.Number, 0,
				"field overridden by rule table: %s → %s", sec.Field, fo.Field)
			sec.Field = fo.Field
			for _, q := range sec.Questions {
				q.Field = fo.Field
			}
		}
	}
}

// Empty reports whether the table carries no corrections.
func (t Table) Empty() bool {
	return len(t.ForceBoundaries) == 0 && len(t.RemapMarkers) == 0 &&
		len(t.DropSpans) == 0 && len(t.FieldOverrides) == 0
}

func lineAt(doc string, off int) string {
	start := strings.LastIndexByte(doc[:off], '\n') + 1
	end := strings.IndexByte(doc[off:], '\n')
	if end < 0 {
		end = len(doc)
	} else {
		end += off
	}
	return strings.TrimSpace(doc[start:end])
}
