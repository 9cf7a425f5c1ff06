// Package field classifies text into subject-matter categories by
// scoring weighted keyword patterns. Classification is deterministic and
// stateless; text that matches nothing is 総合, never an error.
package field

import (
	"embed"
	"fmt"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/coolbeans/kakomon/pkg/exam"
)

//go:embed catalog.yaml
var defaultCatalogFS embed.FS

// Keyword is one scored pattern in a field catalog.
type Keyword struct {
	Pattern string  `yaml:"pattern"`
	Weight  float64 `yaml:"weight"`
}

// Catalog maps a field label to its weighted keyword list. Catalogs are
// data, not code: they load from YAML so the rules can evolve without
// touching the pipeline.
type Catalog map[exam.Field][]Keyword

// ParseCatalog decodes a YAML field catalog.
func ParseCatalog(data []byte) (Catalog, error) {
	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("parsing field catalog: %w", err)
	}
	for f := range cat {
		if !f.Valid() || f == exam.FieldMixed {
			return nil, fmt.Errorf("parsing field catalog: unknown field %q", f)
		}
	}
	return cat, nil
}

// DefaultCatalog returns the compiled-in catalog.
func DefaultCatalog() Catalog {
	data, err := defaultCatalogFS.ReadFile("catalog.yaml")
	if err != nil {
		panic("field: embedded catalog missing: " + err.Error())
	}
	cat, err := ParseCatalog(data)
	if err != nil {
		panic("field: embedded catalog invalid: " + err.Error())
	}
	return cat
}

type weightedPattern struct {
	re     *regexp.Regexp
	weight float64
}

// Classifier scores text against a compiled catalog.
type Classifier struct {
	patterns map[exam.Field][]weightedPattern
}

// NewClassifier compiles a catalog into a Classifier.
func NewClassifier(cat Catalog) (*Classifier, error) {
	c := &Classifier{patterns: make(map[exam.Field][]weightedPattern, len(cat))}
	for f, keywords := range cat {
		for _, kw := range keywords {
			re, err := regexp.Compile(kw.Pattern)
			if err != nil {
				return nil, fmt.Errorf("compiling %s pattern %q: %w", f, kw.Pattern, err)
			}
			if kw.Weight <= 0 {
				return nil, fmt.Errorf("%s pattern %q: weight must be positive", f, kw.Pattern)
			}
			c.patterns[f] = append(c.patterns[f], weightedPattern{re: re, weight: kw.Weight})
		}
	}
	return c, nil
}

// DefaultClassifier returns a Classifier over the compiled-in catalog.
func DefaultClassifier() *Classifier {
	c, err := NewClassifier(DefaultCatalog())
	if err != nil {
		panic("field: embedded catalog failed to compile: " + err.Error())
	}
	return c
}

// Result is the outcome of one classification.
type Result struct {
	Field      exam.Field
	Confidence float64
	Scores     map[exam.Field]float64
}

// Classify scores text against every field's keyword list. The field
// with the highest score wins; all-zero scores yield 総合 with zero
// confidence. Confidence is the winner's share of the total score.
func (c *Classifier) Classify(text string) Result {
	scores := make(map[exam.Field]float64, len(c.patterns))
	total := 0.0
	for f, patterns := range c.patterns {
		score := 0.0
		for _, p := range patterns {
			if p.re.MatchString(text) {
				score += p.weight
			}
		}
		scores[f] = score
		total += score
	}

	best := exam.FieldMixed
	bestScore := 0.0
	for _, f := range []exam.Field{exam.FieldGeography, exam.FieldHistory, exam.FieldCivics} {
		if scores[f] > bestScore {
			best = f
			bestScore = scores[f]
		}
	}
	if bestScore == 0 {
		return Result{Field: exam.FieldMixed, Confidence: 0, Scores: scores}
	}
	return Result{Field: best, Confidence: bestScore / total, Scores: scores}
}
