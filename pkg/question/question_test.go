package question

import (
	"strings"
	"testing"

	"github.com/coolbeans/kakomon/pkg/exam"
)

func sectionFor(doc string) *exam.Section {
	return &exam.Section{
		Number: 1,
		Span:   exam.Span{Start: 0, End: len(doc)},
	}
}

func TestExtractBasic(t *testing.T) {
	doc := `1 次の文章を読み、あとの問いに答えなさい。
問1 江戸幕府の仕組みについて説明しなさい。
問2 次のうち正しいものを選びなさい。
ア. 徳川家康 イ. 豊臣秀吉 ウ. 織田信長 エ. 源頼朝
問3 鎖国政策の影響を50字以内で書きなさい。
`
	e := NewExtractor()
	questions, diags := e.Extract(sectionFor(doc), doc)

	if len(questions) != 3 {
		t.Fatalf("got %d questions, want 3 (diags: %v)", len(questions), diags)
	}
	for i, want := range []string{"問1", "問2", "問3"} {
		if questions[i].RawMarker != want {
			t.Errorf("question[%d].RawMarker = %q, want %q", i, questions[i].RawMarker, want)
		}
		if questions[i].MarkerFamily != exam.MarkerDigit {
			t.Errorf("question[%d].MarkerFamily = %q, want digit", i, questions[i].MarkerFamily)
		}
	}
	if questions[1].ChoiceCount != 4 {
		t.Errorf("question 2 choice count = %d, want 4", questions[1].ChoiceCount)
	}
	if questions[2].CharLimit == nil || questions[2].CharLimit.Max != 50 {
		t.Errorf("question 3 char limit = %+v, want max 50", questions[2].CharLimit)
	}
}

func TestExtractSpanRunsToEqualOrHigherPriority(t *testing.T) {
	// The circled markers inside 問1's span are lower priority and must
	// not terminate it.
	doc := "問1 次の①〜③のうち正しいものを選びなさい。①米 ②麦 ③茶\n問2 理由を答えなさい。\n"
	e := NewExtractor()
	questions, _ := e.Extract(sectionFor(doc), doc)

	if len(questions) != 2 {
		t.Fatalf("got %d questions, want 2", len(questions))
	}
	if !strings.Contains(questions[0].Text, "③茶") {
		t.Errorf("question 1 span ended early: %q", questions[0].Text)
	}
}

func TestExtractRejectsFragmentWithoutVerb(t *testing.T) {
	// A stray parenthesized year fragment looks like a marker but has no
	// instruction verb, so it must be excluded and diagnosed.
	doc := "(1) 明治維新の改革について説明しなさい。\n(4) 1868年\n(2) 正しいものを選びなさい。\n"
	e := NewExtractor()
	questions, diags := e.Extract(sectionFor(doc), doc)

	if len(questions) != 2 {
		t.Fatalf("got %d questions, want 2", len(questions))
	}
	found := false
	for _, d := range diags {
		if d.Stage == exam.StageQuestion && strings.Contains(d.Message, "instruction verb") {
			found = true
		}
	}
	if !found {
		t.Error("expected a diagnostic for the excluded fragment")
	}
}

func TestExtractRejectsShortSpan(t *testing.T) {
	doc := "問1 答えなさい\n問2 下線部②の出来事について、その背景を説明しなさい。\n"
	e := NewExtractor()
	questions, diags := e.Extract(sectionFor(doc), doc)

	if len(questions) != 1 {
		t.Fatalf("got %d questions, want 1 (short span rejected), diags %v", len(questions), diags)
	}
	if questions[0].RawMarker != "問2" {
		t.Errorf("kept marker = %q, want 問2", questions[0].RawMarker)
	}
}

func TestExtractSecondaryFamilyFallback(t *testing.T) {
	// With no 問N markers at all, the circled family carries the section.
	doc := "① 関東地方の気候について説明しなさい。\n② 次のうち正しいものを選びなさい。\n"
	questions, _ := NewExtractor().Extract(sectionFor(doc), doc)

	if len(questions) != 2 {
		t.Fatalf("got %d questions, want 2", len(questions))
	}
	if questions[0].MarkerFamily != exam.MarkerCircle {
		t.Errorf("family = %q, want circled-number", questions[0].MarkerFamily)
	}
}

func TestExtractPrimaryFamilyWins(t *testing.T) {
	// Circled glyphs inside 問N spans are choice numbering, not questions.
	doc := "問1 次の①と②のうち正しいものはどちらか、記号で答えなさい。①米 ②麦\n問2 理由を説明しなさい。\n"
	questions, _ := NewExtractor().Extract(sectionFor(doc), doc)

	if len(questions) != 2 {
		t.Fatalf("got %d questions, want 2", len(questions))
	}
	for _, q := range questions {
		if q.MarkerFamily != exam.MarkerDigit {
			t.Errorf("marker %q family = %q, want digit", q.RawMarker, q.MarkerFamily)
		}
	}
}

func TestExtractKanjiMarkers(t *testing.T) {
	doc := "問一 縄文時代のくらしについて説明しなさい。\n問二 次のうち正しいものを選びなさい。\n"
	e := NewExtractor()
	questions, _ := e.Extract(sectionFor(doc), doc)

	if len(questions) != 2 {
		t.Fatalf("got %d questions, want 2", len(questions))
	}
	if questions[0].MarkerFamily != exam.MarkerKanji {
		t.Errorf("family = %q, want kanji-numeral", questions[0].MarkerFamily)
	}
}

func TestExtractAbsoluteOffsets(t *testing.T) {
	prefix := "2 次の年表を見て、あとの問いに答えなさい。\n"
	body := "問1 年表中の出来事を選びなさい。\n"
	doc := prefix + body
	sec := &exam.Section{Number: 2, Span: exam.Span{Start: len(prefix), End: len(doc)}}

	questions, _ := NewExtractor().Extract(sec, doc)
	if len(questions) != 1 {
		t.Fatalf("got %d questions, want 1", len(questions))
	}
	q := questions[0]
	if q.TextSpan.Start != len(prefix) {
		t.Errorf("span start = %d, want %d", q.TextSpan.Start, len(prefix))
	}
	if q.SectionNumber != 2 {
		t.Errorf("section number = %d, want 2", q.SectionNumber)
	}
	if !strings.HasPrefix(doc[q.TextSpan.Start:q.TextSpan.End], "問1") {
		t.Error("span does not point at the marker in the source document")
	}
}

func TestParseCharLimit(t *testing.T) {
	tests := []struct {
		text string
		want *exam.CharLimit
	}{
		{"50字以内で書きなさい", &exam.CharLimit{Min: 0, Max: 50}},
		{"１００字程度で述べなさい", &exam.CharLimit{Min: 80, Max: 120}},
		{"40字〜60字で答えなさい", &exam.CharLimit{Min: 40, Max: 60}},
		{"30字から50字で説明しなさい", &exam.CharLimit{Min: 30, Max: 50}},
		{"記号で答えなさい", nil},
	}
	for _, tt := range tests {
		got := ParseCharLimit(tt.text)
		switch {
		case tt.want == nil && got != nil:
			t.Errorf("ParseCharLimit(%q) = %+v, want nil", tt.text, got)
		case tt.want != nil && (got == nil || *got != *tt.want):
			t.Errorf("ParseCharLimit(%q) = %+v, want %+v", tt.text, got, tt.want)
		}
	}
}
