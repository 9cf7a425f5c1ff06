// Package theme guesses a short topical label for each extracted
// question. Candidates are drawn from the question text in priority
// order: a curated keyword catalog, term clusters, proper-noun
// suffixes, the 「Xについて」 construction, and finally the choice
// list. Extraction is best-effort; a question with no recognizable
// topic keeps a zero theme.
package theme

import (
	_ "embed"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/coolbeans/kakomon/pkg/exam"
)

//go:embed catalog.yaml
var defaultCatalogYAML []byte

// KeywordEntry maps a regular expression to a fixed theme label.
type KeywordEntry struct {
	Match string     `yaml:"match"`
	Theme string     `yaml:"theme"`
	Field exam.Field `yaml:"field"`
}

// ClusterEntry elevates co-occurring terms to an umbrella theme. At
// least two of Terms must appear before the cluster fires.
type ClusterEntry struct {
	Terms []string   `yaml:"terms"`
	Theme string     `yaml:"theme"`
	Field exam.Field `yaml:"field"`
}

// SuffixEntry recognizes proper nouns by their trailing category word
// (〜時代, 〜平野) and supplies the clause used to shape a two-part
// theme label.
type SuffixEntry struct {
	Suffix string     `yaml:"suffix"`
	Clause string     `yaml:"clause"`
	Field  exam.Field `yaml:"field"`
}

// Catalog is the data side of theme extraction.
type Catalog struct {
	Keywords []KeywordEntry `yaml:"keywords"`
	Clusters []ClusterEntry `yaml:"clusters"`
	Suffixes []SuffixEntry  `yaml:"suffixes"`
}

// ParseCatalog decodes and validates a YAML theme catalog.
func ParseCatalog(data []byte) (Catalog, error) {
	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return Catalog{}, fmt.Errorf("parsing theme catalog: %w", err)
	}
	for i, kw := range cat.Keywords {
		if kw.Match == "" || kw.Theme == "" {
			return Catalog{}, fmt.Errorf("keyword %d: match and theme are required", i)
		}
		if !kw.Field.Valid() {
			return Catalog{}, fmt.Errorf("keyword %d (%s): unknown field %q", i, kw.Theme, kw.Field)
		}
	}
	for i, cl := range cat.Clusters {
		if len(cl.Terms) < 2 {
			return Catalog{}, fmt.Errorf("cluster %d (%s): needs at least two terms", i, cl.Theme)
		}
		if cl.Theme == "" || !cl.Field.Valid() {
			return Catalog{}, fmt.Errorf("cluster %d: theme and a valid field are required", i)
		}
	}
	for i, sf := range cat.Suffixes {
		if sf.Suffix == "" || sf.Clause == "" || !sf.Field.Valid() {
			return Catalog{}, fmt.Errorf("suffix %d (%s): suffix, clause and a valid field are required", i, sf.Suffix)
		}
	}
	return cat, nil
}

// DefaultCatalog returns the embedded catalog.
func DefaultCatalog() Catalog {
	cat, err := ParseCatalog(defaultCatalogYAML)
	if err != nil {
		panic(fmt.Sprintf("theme: embedded catalog invalid: %v", err))
	}
	return cat
}

// Confidence assigned per provenance rung. Lower rungs are weaker
// signals, not worse themes.
const (
	confKeyword = 0.9
	confCluster = 0.85
	confSuffix  = 0.8
	confAbout   = 0.7
	confChoices = 0.5
	confShared  = 0.4
)

var (
	// Phrases that terminate the question sentence proper; whatever
	// follows is the choice list.
	terminatorRe = regexp.MustCompile(`(?:答えなさい|答えよ|答えること|説明しなさい|説明せよ|選びなさい|選べ|書きなさい|述べなさい|述べよ|記号で答え(?:なさい|よ)?)[。．]?`)

	// Choice item markers inside the trailing list.
	choiceMarkRe = regexp.MustCompile(`[ア-ン][ 　]*[\.。、．]|[（(][0-9０-９ア-コあ-こa-hA-H][）)]|[①-⑳]`)

	// Reference markers point at other text and never name a topic.
	refMarkerRe = regexp.MustCompile(`下線部|傍線部|空らん|空欄|次の|この|その|あと`)

	digitsOnlyRe = regexp.MustCompile(`^[0-9０-９①-⑳]+$`)

	aboutRe = regexp.MustCompile(`([^、。\s　]{2,12})について`)
)

type compiledKeyword struct {
	re    *regexp.Regexp
	theme string
	field exam.Field
}

// Extractor derives themes from question text using a compiled
// catalog. The zero value is not usable; construct with NewExtractor
// or DefaultExtractor.
type Extractor struct {
	keywords []compiledKeyword
	clusters []ClusterEntry
	suffixes []SuffixEntry
	properRe *regexp.Regexp
}

// NewExtractor compiles a catalog into an Extractor.
func NewExtractor(cat Catalog) (*Extractor, error) {
	e := &Extractor{clusters: cat.Clusters, suffixes: cat.Suffixes}
	for _, kw := range cat.Keywords {
		re, err := regexp.Compile(kw.Match)
		if err != nil {
			return nil, fmt.Errorf("keyword %q: %w", kw.Theme, err)
		}
		e.keywords = append(e.keywords, compiledKeyword{re: re, theme: kw.Theme, field: kw.Field})
	}
	if len(cat.Suffixes) > 0 {
		alts := make([]string, len(cat.Suffixes))
		for i, sf := range cat.Suffixes {
			alts[i] = regexp.QuoteMeta(sf.Suffix)
		}
		e.properRe = regexp.MustCompile(`([^、。\s　0-9０-９（(）)「」]{1,8}(?:` + strings.Join(alts, "|") + `))`)
	}
	return e, nil
}

// DefaultExtractor builds an Extractor from the embedded catalog.
func DefaultExtractor() *Extractor {
	e, err := NewExtractor(DefaultCatalog())
	if err != nil {
		panic(fmt.Sprintf("theme: embedded catalog invalid: %v", err))
	}
	return e
}

// Decompose splits question text at the first question-terminating
// phrase. Everything through the terminator is the question body;
// what follows is parsed into individual choices. Text without a
// terminator is all body.
func Decompose(text string) (body string, choices []string) {
	loc := terminatorRe.FindStringIndex(text)
	if loc == nil {
		return strings.TrimSpace(text), nil
	}
	body = strings.TrimSpace(text[:loc[1]])
	rest := text[loc[1]:]
	marks := choiceMarkRe.FindAllStringIndex(rest, -1)
	for i, m := range marks {
		end := len(rest)
		if i+1 < len(marks) {
			end = marks[i+1][0]
		}
		c := strings.TrimSpace(rest[m[1]:end])
		c = strings.TrimRight(c, "。．、 　\n")
		if c != "" {
			choices = append(choices, c)
		}
	}
	return body, choices
}

// Extract walks the candidate ladder and returns the first theme that
// survives the exclusion checks. A question with no usable candidate
// gets a zero theme with ProvenanceNone.
func (e *Extractor) Extract(text string) exam.Theme {
	body, choices := Decompose(text)

	if th, ok := e.matchKeyword(body); ok {
		return th
	}
	if th, ok := e.matchCluster(text); ok {
		return th
	}
	if th, ok := e.matchSuffix(body); ok {
		return th
	}
	if th, ok := e.matchAbout(body); ok {
		return th
	}
	if th, ok := e.matchChoices(choices); ok {
		return th
	}
	return exam.Theme{Provenance: exam.ProvenanceNone}
}

// Keywords returns up to max distinct catalog keywords present in the
// text, in order of first appearance. They feed the report's keyword
// suffix, not theme selection.
func (e *Extractor) Keywords(text string, max int) []string {
	type hit struct {
		pos  int
		term string
	}
	var hits []hit
	seen := make(map[string]bool)
	for _, kw := range e.keywords {
		loc := kw.re.FindStringIndex(text)
		if loc == nil {
			continue
		}
		term := text[loc[0]:loc[1]]
		if seen[term] {
			continue
		}
		seen[term] = true
		hits = append(hits, hit{pos: loc[0], term: term})
	}
	for i := 1; i < len(hits); i++ {
		for j := i; j > 0 && hits[j-1].pos > hits[j].pos; j-- {
			hits[j-1], hits[j] = hits[j], hits[j-1]
		}
	}
	var out []string
	for _, h := range hits {
		if len(out) == max {
			break
		}
		out = append(out, h.term)
	}
	return out
}

func (e *Extractor) matchKeyword(body string) (exam.Theme, bool) {
	for _, kw := range e.keywords {
		if kw.re.MatchString(body) {
			return exam.Theme{
				Text:       kw.theme,
				Confidence: confKeyword,
				Provenance: exam.ProvenanceLead,
				Field:      kw.field,
			}, true
		}
	}
	return exam.Theme{}, false
}

func (e *Extractor) matchCluster(text string) (exam.Theme, bool) {
	for _, cl := range e.clusters {
		n := 0
		for _, term := range cl.Terms {
			if strings.Contains(text, term) {
				n++
			}
		}
		if n >= 2 {
			return exam.Theme{
				Text:       cl.Theme,
				Confidence: confCluster,
				Provenance: exam.ProvenanceLead,
				Field:      cl.Field,
			}, true
		}
	}
	return exam.Theme{}, false
}

func (e *Extractor) matchSuffix(body string) (exam.Theme, bool) {
	if e.properRe == nil {
		return exam.Theme{}, false
	}
	for _, loc := range e.properRe.FindAllStringIndex(body, -1) {
		cand := body[loc[0]:loc[1]]
		if !e.usableCandidate(cand) {
			continue
		}
		// A noun immediately followed by について is the question's
		// subject, not lead material; leave it to the about rung.
		if strings.HasPrefix(body[loc[1]:], "について") {
			continue
		}
		sf, ok := e.suffixFor(cand)
		if !ok {
			continue
		}
		return exam.Theme{
			Text:       cand + sf.Clause,
			Confidence: confSuffix,
			Provenance: exam.ProvenanceLead,
			Field:      sf.Field,
		}, true
	}
	return exam.Theme{}, false
}

func (e *Extractor) matchAbout(body string) (exam.Theme, bool) {
	for _, m := range aboutRe.FindAllStringSubmatch(body, -1) {
		cand := m[1]
		if !e.usableCandidate(cand) {
			continue
		}
		clause := "の特徴"
		field := exam.FieldMixed
		if sf, ok := e.suffixFor(cand); ok {
			clause = sf.Clause
			field = sf.Field
		} else if kw, ok := e.keywordFor(cand); ok {
			return exam.Theme{
				Text:       kw.theme,
				Confidence: confAbout,
				Provenance: exam.ProvenanceQuestion,
				Field:      kw.field,
			}, true
		}
		return exam.Theme{
			Text:       cand + clause,
			Confidence: confAbout,
			Provenance: exam.ProvenanceQuestion,
			Field:      field,
		}, true
	}
	return exam.Theme{}, false
}

func (e *Extractor) matchChoices(choices []string) (exam.Theme, bool) {
	if len(choices) < 2 {
		return exam.Theme{}, false
	}
	head := strings.Join(choices[:2], " ")
	for _, kw := range e.keywords {
		if kw.re.MatchString(head) {
			return exam.Theme{
				Text:       kw.theme,
				Confidence: confChoices,
				Provenance: exam.ProvenanceChoices,
				Field:      kw.field,
			}, true
		}
	}
	// Two choices ending in the same category word suggest a
	// compare-and-identify question about that category.
	for _, sf := range e.suffixes {
		if strings.HasSuffix(choices[0], sf.Suffix) && strings.HasSuffix(choices[1], sf.Suffix) {
			return exam.Theme{
				Text:       sf.Suffix + "の比較",
				Confidence: confShared,
				Provenance: exam.ProvenanceChoices,
				Field:      sf.Field,
			}, true
		}
	}
	return exam.Theme{}, false
}

// usableCandidate rejects strings that point at other text instead of
// naming a topic.
func (e *Extractor) usableCandidate(cand string) bool {
	if utf8.RuneCountInString(cand) < 3 {
		return false
	}
	if refMarkerRe.MatchString(cand) {
		return false
	}
	if digitsOnlyRe.MatchString(cand) {
		return false
	}
	return true
}

func (e *Extractor) suffixFor(cand string) (SuffixEntry, bool) {
	for _, sf := range e.suffixes {
		if strings.HasSuffix(cand, sf.Suffix) {
			return sf, true
		}
	}
	return SuffixEntry{}, false
}

func (e *Extractor) keywordFor(cand string) (compiledKeyword, bool) {
	for _, kw := range e.keywords {
		if kw.re.MatchString(cand) {
			return kw, true
		}
	}
	return compiledKeyword{}, false
}
