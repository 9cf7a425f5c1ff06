package pipeline

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/coolbeans/kakomon/pkg/exam"
	"github.com/coolbeans/kakomon/pkg/gateway"
	"github.com/coolbeans/kakomon/pkg/report"
	"github.com/coolbeans/kakomon/pkg/rules"
)

const sampleDoc = `1　次の文章を読んで、あとの問いに答えなさい。
江戸時代の幕府は、大名を統制するためにさまざまな制度を設けた。
（中村太郎『江戸の政治』による）
問1　江戸幕府を開いた人物の名前を答えなさい。
問2　参勤交代の制度の目的を説明しなさい。
2　次の表は、日本の各地方の気候をまとめたものです。あとの問いに答えなさい。
問1　雨温図から、あてはまる地方を記号で答えなさい。
問2　促成栽培の利点について説明しなさい。
`

func quiet() Option {
	return WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestAnalyzeEndToEnd(t *testing.T) {
	c := New(quiet()).Analyze(context.Background(), sampleDoc)

	if len(c.Sections) != 2 {
		t.Fatalf("sections = %d, want 2", len(c.Sections))
	}
	for i, sec := range c.Sections {
		if sec.Number != i+1 {
			t.Errorf("section %d numbered %d", i, sec.Number)
		}
		if len(sec.Questions) != 2 {
			t.Errorf("section %d has %d questions, want 2", sec.Number, len(sec.Questions))
		}
	}
	if f := c.Sections[0].Field; f != exam.FieldHistory {
		t.Errorf("section 1 field = %q, want 歴史", f)
	}
	if f := c.Sections[1].Field; f != exam.FieldGeography {
		t.Errorf("section 2 field = %q, want 地理", f)
	}
	q := c.Sections[0].Questions[0]
	if q.Label() != "大問1-問1" {
		t.Errorf("label = %q, want 大問1-問1", q.Label())
	}
	if q.Theme.Text != "江戸幕府の政治" {
		t.Errorf("theme = %q, want 江戸幕府の政治", q.Theme.Text)
	}
	if got := c.Sections[1].Questions[1].Theme.Text; got != "促成栽培の仕組み" {
		t.Errorf("theme = %q, want 促成栽培の仕組み", got)
	}
	src := c.Sections[0].Source
	if src == nil || src.Author != "中村太郎" || src.Title != "江戸の政治" {
		t.Errorf("section 1 source = %+v, want 中村太郎『江戸の政治』", src)
	}
	if c.Sections[1].Source != nil {
		t.Errorf("section 2 source = %+v, want none", c.Sections[1].Source)
	}

	rendered := report.Render(c)
	parsed, err := report.Parse(rendered)
	if err != nil {
		t.Fatalf("rendered report does not parse: %v", err)
	}
	if report.Render(parsed) != rendered {
		t.Error("pipeline output does not round-trip through the report format")
	}
}

func TestAnalyzeEmptyInput(t *testing.T) {
	for _, doc := range []string{"", "  \n\n　"} {
		c := New(quiet()).Analyze(context.Background(), doc)
		if len(c.Sections) != 1 {
			t.Fatalf("Analyze(%q): sections = %d, want 1", doc, len(c.Sections))
		}
		if len(c.Sections[0].Questions) != 0 {
			t.Errorf("Analyze(%q): empty input produced questions", doc)
		}
	}
}

func TestAnalyzeResolvesDuplicates(t *testing.T) {
	doc := `次の文章を読んで、あとの問いに答えなさい。
明治時代の政治について、次の問いに答えなさい。
問1　明治維新の中心となった藩を答えなさい。
問2　大日本帝国憲法の特徴を説明しなさい。
問2　帝国議会の仕組みを説明しなさい。
`
	c := New(quiet()).Analyze(context.Background(), doc)
	if len(c.Sections) != 1 {
		t.Fatalf("sections = %d, want 1", len(c.Sections))
	}
	nums := c.Sections[0].Numbers()
	want := []int{1, 2, 3}
	for i := range want {
		if nums[i] != want[i] {
			t.Fatalf("numbers = %v, want %v", nums, want)
		}
	}
	resolved := false
	for _, q := range c.Sections[0].Questions {
		if q.Status == exam.StatusDuplicateResolved {
			resolved = true
		}
	}
	if !resolved {
		t.Error("no question marked duplicate-resolved")
	}
}

func TestAnalyzeNormalizesMarkers(t *testing.T) {
	// 問１ carries a full-width digit; the number stage folds it and
	// records what was corrected.
	doc := `1　次の文章を読んで、あとの問いに答えなさい。
縄文時代のくらしについて、次の問いに答えなさい。
問１　縄文時代の土器の特徴を説明しなさい。
問2　弥生時代のくらしとの違いを答えなさい。
`
	c := New(quiet()).Analyze(context.Background(), doc)
	nums := c.Sections[0].Numbers()
	want := []int{1, 2}
	if len(nums) != len(want) {
		t.Fatalf("numbers = %v, want %v", nums, want)
	}
	for i := range want {
		if nums[i] != want[i] {
			t.Fatalf("numbers = %v, want %v", nums, want)
		}
	}
	found := false
	for _, d := range c.Diagnostics {
		if d.Stage == exam.StageNumber && strings.Contains(d.Message, `corrected to "問1"`) {
			found = true
		}
	}
	if !found {
		t.Error("expected a width-fold diagnostic for 問１")
	}
}

func TestAnalyzeWithRules(t *testing.T) {
	tables := `
- name: sample
  fingerprint: ` + rules.Fingerprint(sampleDoc) + `
  drop_spans:
    - literal: 参勤交代
  field_overrides:
    - section: 1
      field: 公民
`
	set, err := rules.ParseSet([]byte(tables))
	if err != nil {
		t.Fatalf("ParseSet: %v", err)
	}
	c := New(quiet(), WithRules(set)).Analyze(context.Background(), sampleDoc)

	if f := c.Sections[0].Field; f != exam.FieldCivics {
		t.Errorf("section 1 field = %q, want 公民 from rule override", f)
	}
	for _, q := range c.Sections[0].Questions {
		if strings.Contains(q.Text, "参勤交代") {
			t.Error("dropped span still present in question text")
		}
	}
	found := false
	for _, d := range c.Diagnostics {
		if strings.Contains(d.Message, `rule table "sample"`) {
			found = true
		}
	}
	if !found {
		t.Error("rule application left no diagnostic")
	}
}

func TestAnalyzeWithGateway(t *testing.T) {
	// The service echoes the submitted report unchanged: accepted, zero
	// corrections.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		i := strings.Index(string(body), "▼")
		if i < 0 {
			t.Error("request carries no report")
			return
		}
		io.WriteString(w, string(body)[i:])
	}))
	defer srv.Close()

	g := gateway.New(srv.URL, gateway.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	c := New(quiet(), WithGateway(g)).Analyze(context.Background(), sampleDoc)

	if len(c.Sections) != 2 || c.TotalQuestions() != 4 {
		t.Errorf("catalog shape changed by echo validation: %d sections, %d questions",
			len(c.Sections), c.TotalQuestions())
	}
	for _, d := range c.Diagnostics {
		if d.Stage == exam.StageGateway {
			t.Errorf("echo reply produced a gateway diagnostic: %s", d.Message)
		}
	}
}

func TestAnalyzeStats(t *testing.T) {
	c := New(quiet()).Analyze(context.Background(), sampleDoc)
	stats := c.Stats()
	if stats.Total != 4 {
		t.Fatalf("total = %d, want 4", stats.Total)
	}
	sum := 0.0
	for _, r := range stats.Ratios {
		sum += r
	}
	if sum < 0.999 || sum > 1.001 {
		t.Errorf("ratios sum to %v, want 1", sum)
	}
}
