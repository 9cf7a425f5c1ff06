package exam

import "testing"

func TestSpanOverlaps(t *testing.T) {
	tests := []struct {
		name string
		a, b Span
		want bool
	}{
		{"disjoint", Span{0, 10}, Span{10, 20}, false},
		{"overlapping", Span{0, 15}, Span{10, 20}, true},
		{"contained", Span{5, 8}, Span{0, 20}, true},
		{"identical", Span{3, 9}, Span{3, 9}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Overlaps(tt.b); got != tt.want {
				t.Errorf("Overlaps(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
			if got := tt.b.Overlaps(tt.a); got != tt.want {
				t.Errorf("Overlaps(%v, %v) = %v, want %v", tt.b, tt.a, got, tt.want)
			}
		})
	}
}

func TestQuestionLabel(t *testing.T) {
	q := &Question{SectionNumber: 2, NormalizedNumber: 7}
	if got := q.Label(); got != "大問2-問7" {
		t.Errorf("Label() = %q, want %q", got, "大問2-問7")
	}
}

func TestSectionNumbers(t *testing.T) {
	s := &Section{
		Number: 1,
		Questions: []*Question{
			{NormalizedNumber: 1},
			{NormalizedNumber: 3},
			{NormalizedNumber: 2},
		},
	}
	if s.MaxNumber() != 3 {
		t.Errorf("MaxNumber() = %d, want 3", s.MaxNumber())
	}
	if !s.HasNumber(2) || s.HasNumber(4) {
		t.Error("HasNumber gave wrong answers")
	}
	s.SortQuestions()
	want := []int{1, 2, 3}
	for i, n := range s.Numbers() {
		if n != want[i] {
			t.Errorf("after sort, Numbers()[%d] = %d, want %d", i, n, want[i])
		}
	}
}

func TestCatalogStats(t *testing.T) {
	c := &Catalog{
		Sections: []*Section{
			{Questions: []*Question{
				{Field: FieldHistory},
				{Field: FieldHistory},
				{Field: FieldGeography},
			}},
			{Questions: []*Question{
				{Field: ""}, // unclassified counts as mixed
			}},
		},
	}
	stats := c.Stats()
	if stats.Total != 4 {
		t.Fatalf("Total = %d, want 4", stats.Total)
	}
	if stats.Counts[FieldHistory] != 2 {
		t.Errorf("history count = %d, want 2", stats.Counts[FieldHistory])
	}
	if stats.Counts[FieldMixed] != 1 {
		t.Errorf("mixed count = %d, want 1", stats.Counts[FieldMixed])
	}
	if got := stats.Ratios[FieldHistory]; got != 0.5 {
		t.Errorf("history ratio = %v, want 0.5", got)
	}
}

func TestDiagnosticString(t *testing.T) {
	d := Diagnostic{Stage: StageResolve, Section: 1, Question: 9, Message: "duplicate renumbered"}
	if got := d.String(); got != "[resolve] 大問1-問9: duplicate renumbered" {
		t.Errorf("String() = %q", got)
	}
}
