// Package report renders a catalog into the canonical textual report
// and parses that report back. The format doubles as the validation
// gateway's wire format, so Parse is the exact inverse of Render:
// parsing a rendered report and rendering it again yields identical
// bytes.
//
//	▼ 大問 1 [歴史] 次の文章を読んで、あとの問いに答えなさい。
//	  大問1-問1: 鎌倉幕府の成立 [歴史]
//	  大問1-問2: （テーマなし） [歴史]（キーワード: 刀狩、検地）
package report

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/coolbeans/kakomon/pkg/exam"
)

// NoTheme is the fixed token rendered for a question without a theme.
const NoTheme = "（テーマなし）"

var (
	sectionLineRe  = regexp.MustCompile(`^▼ 大問 ([0-9]+) \[([^\]]+)\](?: (.*))?$`)
	questionLineRe = regexp.MustCompile(`^  大問([0-9]+)-問([0-9]+): (.*?) \[([^\]]+)\](?:（キーワード: (.+)）)?$`)
)

// Render emits the canonical report, one block per section. Sections
// and questions appear in stored order; a field that was never
// classified renders as 総合.
func Render(c *exam.Catalog) string {
	var b strings.Builder
	for _, sec := range c.Sections {
		fmt.Fprintf(&b, "▼ 大問 %d [%s]", sec.Number, renderField(sec.Field))
		if sec.Title != "" {
			b.WriteString(" ")
			b.WriteString(sec.Title)
		}
		b.WriteString("\n")
		for _, q := range sec.Questions {
			theme := q.Theme.Text
			if theme == "" {
				theme = NoTheme
			}
			fmt.Fprintf(&b, "  %s: %s [%s]", q.Label(), theme, renderField(q.Field))
			if len(q.Keywords) > 0 {
				fmt.Fprintf(&b, "（キーワード: %s）", strings.Join(q.Keywords, "、"))
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

func renderField(f exam.Field) exam.Field {
	if !f.Valid() {
		return exam.FieldMixed
	}
	return f
}

// Parse reads a canonical report back into a catalog. Only the fields
// present on the wire are populated; theme confidence and provenance
// are not part of the format. Any line that is neither a section
// header, a question line, nor blank is an error, as is a question
// line outside a section block.
func Parse(text string) (*exam.Catalog, error) {
	c := &exam.Catalog{}
	var cur *exam.Section
	for i, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if m := sectionLineRe.FindStringSubmatch(line); m != nil {
			num := atoi(m[1])
			f := exam.Field(m[2])
			if !f.Valid() {
				return nil, fmt.Errorf("line %d: unknown field %q", i+1, m[2])
			}
			cur = &exam.Section{Number: num, Field: f, Title: m[3]}
			c.Sections = append(c.Sections, cur)
			continue
		}
		if m := questionLineRe.FindStringSubmatch(line); m != nil {
			if cur == nil {
				return nil, fmt.Errorf("line %d: question before any section header", i+1)
			}
			secNum := atoi(m[1])
			if secNum != cur.Number {
				return nil, fmt.Errorf("line %d: question labeled 大問%d inside 大問%d", i+1, secNum, cur.Number)
			}
			f := exam.Field(m[4])
			if !f.Valid() {
				return nil, fmt.Errorf("line %d: unknown field %q", i+1, m[4])
			}
			q := &exam.Question{
				SectionNumber:    secNum,
				NormalizedNumber: atoi(m[2]),
				Field:            f,
				Status:           exam.StatusNormal,
			}
			if m[3] != NoTheme {
				q.Theme = exam.Theme{Text: m[3]}
			}
			if m[5] != "" {
				q.Keywords = strings.Split(m[5], "、")
			}
			cur.Questions = append(cur.Questions, q)
			continue
		}
		return nil, fmt.Errorf("line %d: unrecognized line %q", i+1, line)
	}
	return c, nil
}

func atoi(s string) int {
	n := 0
	for _, r := range s {
		n = n*10 + int(r-'0')
	}
	return n
}
