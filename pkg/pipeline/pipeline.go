// Package pipeline wires the extraction stages into one synchronous
// run: section detection, per-document rule corrections, question
// extraction, number normalization, cross-section resolution, field
// classification, theme extraction, and the optional external
// validation call. An Analyzer holds no per-document state, so one
// instance may serve sequential runs; independent documents can be
// processed in parallel by separate instances.
package pipeline

import (
	"context"
	"log/slog"
	"strings"

	"github.com/coolbeans/kakomon/pkg/exam"
	"github.com/coolbeans/kakomon/pkg/field"
	"github.com/coolbeans/kakomon/pkg/gateway"
	"github.com/coolbeans/kakomon/pkg/number"
	"github.com/coolbeans/kakomon/pkg/question"
	"github.com/coolbeans/kakomon/pkg/resolve"
	"github.com/coolbeans/kakomon/pkg/rules"
	"github.com/coolbeans/kakomon/pkg/section"
	"github.com/coolbeans/kakomon/pkg/theme"
)

// maxKeywords bounds the keyword suffix on report lines.
const maxKeywords = 3

// Analyzer runs the full analysis pipeline over one transcript.
type Analyzer struct {
	detector   *section.Detector
	extractor  *question.Extractor
	classifier *field.Classifier
	themes     *theme.Extractor
	resolver   *resolve.Resolver
	gateway    *gateway.Gateway
	rules      *rules.Set
	logger     *slog.Logger
}

// Option replaces one stage of the pipeline.
type Option func(*Analyzer)

// WithDetector replaces the section detector.
func WithDetector(d *section.Detector) Option {
	return func(a *Analyzer) { a.detector = d }
}

// WithExtractor replaces the question extractor.
func WithExtractor(e *question.Extractor) Option {
	return func(a *Analyzer) { a.extractor = e }
}

// WithClassifier replaces the field classifier.
func WithClassifier(c *field.Classifier) Option {
	return func(a *Analyzer) { a.classifier = c }
}

// WithThemeExtractor replaces the theme extractor.
func WithThemeExtractor(t *theme.Extractor) Option {
	return func(a *Analyzer) { a.themes = t }
}

// WithResolver replaces the numbering resolver.
func WithResolver(r *resolve.Resolver) Option {
	return func(a *Analyzer) { a.resolver = r }
}

// WithGateway enables the external validation call.
func WithGateway(g *gateway.Gateway) Option {
	return func(a *Analyzer) { a.gateway = g }
}

// WithRules enables per-document correction tables.
func WithRules(s *rules.Set) Option {
	return func(a *Analyzer) { a.rules = s }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Analyzer) { a.logger = l }
}

// New builds an Analyzer with default stages.
func New(opts ...Option) *Analyzer {
	a := &Analyzer{
		detector:   section.NewDetector(),
		extractor:  question.NewExtractor(),
		classifier: field.DefaultClassifier(),
		themes:     theme.DefaultExtractor(),
		resolver:   resolve.NewResolver(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze runs the pipeline over one transcript. It always returns a
// catalog; malformed input degrades into diagnostics, never an error.
// Only the optional gateway call blocks on I/O, bounded by ctx.
func (a *Analyzer) Analyze(ctx context.Context, doc string) *exam.Catalog {
	c := &exam.Catalog{}
	if strings.TrimSpace(doc) == "" {
		c.Sections = []*exam.Section{{Number: 1}}
		return c
	}

	table, hasRules := rules.Table{}, false
	if a.rules != nil {
		table, hasRules = a.rules.Lookup(doc)
		if hasRules {
			var notes []string
			doc, notes = table.ApplyText(doc)
			for _, note := range notes {
				c.Diagnose(exam.StageSection, 0, 0, "rule table %q: %s", table.Name, note)
			}
		}
	}

	secs, diags := a.detector.Detect(doc)
	c.Diagnostics = append(c.Diagnostics, diags...)
	if hasRules {
		var notes []string
		secs, notes = table.ForceSections(doc, secs)
		for _, note := range notes {
			c.Diagnose(exam.StageSection, 0, 0, "rule table %q: %s", table.Name, note)
		}
		if len(notes) > 0 {
			// Splits moved span ends, so passage citations may now sit
			// in a different section.
			for _, sec := range secs {
				sec.Source = section.ParseSource(doc[sec.Span.Start:sec.Span.End])
			}
		}
	}
	c.Sections = secs

	for _, sec := range c.Sections {
		qs, diags := a.extractor.Extract(sec, doc)
		sec.Questions = qs
		c.Diagnostics = append(c.Diagnostics, diags...)
		a.normalizeNumbers(c, sec)
	}

	a.resolver.Resolve(c)
	for _, sec := range c.Sections {
		sec.SortQuestions()
	}

	a.classify(doc, c)
	a.extractThemes(c)
	if hasRules {
		table.OverrideFields(c)
	}

	if a.gateway != nil {
		a.gateway.Validate(ctx, c)
		for _, sec := range c.Sections {
			sec.SortQuestions()
		}
	}

	a.logger.Info("analysis complete",
		"sections", len(c.Sections),
		"questions", c.TotalQuestions(),
		"diagnostics", len(c.Diagnostics))
	return c
}

// normalizeNumbers converts raw markers to integers. A marker that
// yields no number keeps the question alive under a sequential number
// and a diagnostic.
func (a *Analyzer) normalizeNumbers(c *exam.Catalog, sec *exam.Section) {
	for i, q := range sec.Questions {
		tok := number.Normalize(q.RawMarker)
		n := tok.Normalized
		if tok.Correction != exam.CorrectionNone {
			c.Diagnose(exam.StageNumber, sec.Number, n,
				"marker %q corrected to %q (%s)", tok.Raw, number.Canonical(q.RawMarker), tok.Correction)
		}
		if n == 0 {
			n = i + 1
			q.Status = exam.StatusUnresolved
			c.Diagnose(exam.StageNumber, sec.Number, n,
				"marker %q yields no number, assigned position %d", q.RawMarker, n)
		}
		q.NormalizedNumber = n
	}
}

// classify assigns fields from keyword scores. A question whose own
// text scores as mixed inherits its section's field.
func (a *Analyzer) classify(doc string, c *exam.Catalog) {
	for _, sec := range c.Sections {
		if sec.Span.End > sec.Span.Start {
			sec.Field = a.classifier.Classify(doc[sec.Span.Start:sec.Span.End]).Field
		} else {
			sec.Field = exam.FieldMixed
		}
		for _, q := range sec.Questions {
			r := a.classifier.Classify(q.Text)
			if r.Field == exam.FieldMixed && sec.Field != exam.FieldMixed {
				q.Field = sec.Field
			} else {
				q.Field = r.Field
			}
		}
	}
}

func (a *Analyzer) extractThemes(c *exam.Catalog) {
	for _, sec := range c.Sections {
		for _, q := range sec.Questions {
			q.Theme = a.themes.Extract(q.Text)
			q.Keywords = a.themes.Keywords(q.Text, maxKeywords)
		}
	}
}
