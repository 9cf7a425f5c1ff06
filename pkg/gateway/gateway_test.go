package gateway

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coolbeans/kakomon/pkg/exam"
	"github.com/coolbeans/kakomon/pkg/report"
)

func testCatalog() *exam.Catalog {
	return &exam.Catalog{Sections: []*exam.Section{
		{
			Number: 1,
			Field:  exam.FieldHistory,
			Questions: []*exam.Question{
				{SectionNumber: 1, NormalizedNumber: 1, Field: exam.FieldHistory,
					Theme: exam.Theme{Text: "鎌倉幕府の成立", Confidence: 0.9, Provenance: exam.ProvenanceLead}},
				{SectionNumber: 1, NormalizedNumber: 3, Field: exam.FieldHistory},
			},
		},
		{
			Number: 2,
			Field:  exam.FieldGeography,
			Questions: []*exam.Question{
				{SectionNumber: 2, NormalizedNumber: 1, Field: exam.FieldGeography},
			},
		},
	}}
}

func TestValidateAppliesNumberingCorrection(t *testing.T) {
	// The service renumbers 大問1-問3 to 問2 and changes nothing else.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), "▼ 大問 1") {
			t.Error("request body does not contain the report")
		}
		if r.Header.Get("X-Request-ID") == "" {
			t.Error("missing X-Request-ID header")
		}
		reply := "▼ 大問 1 [歴史]\n" +
			"  大問1-問1: 鎌倉幕府の成立 [歴史]\n" +
			"  大問1-問2: （テーマなし） [歴史]\n" +
			"▼ 大問 2 [地理]\n" +
			"  大問2-問1: （テーマなし） [地理]\n"
		io.WriteString(w, reply)
	}))
	defer srv.Close()

	c := testCatalog()
	New(srv.URL).Validate(context.Background(), c)

	q := c.Sections[0].Questions[1]
	if q.NormalizedNumber != 2 {
		t.Errorf("NormalizedNumber = %d, want 2", q.NormalizedNumber)
	}
	if q.Status != exam.StatusReassigned {
		t.Errorf("status = %q, want %q", q.Status, exam.StatusReassigned)
	}
	// The theme with its confidence survives; only numbering came from
	// the service.
	first := c.Sections[0].Questions[0]
	if first.Theme.Confidence != 0.9 || first.Theme.Provenance != exam.ProvenanceLead {
		t.Errorf("theme metadata lost: %+v", first.Theme)
	}
}

func TestValidateRejectsCountChange(t *testing.T) {
	// The reply drops a question; the whole reply must be discarded.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reply := "▼ 大問 1 [歴史]\n" +
			"  大問1-問1: 鎌倉幕府の成立 [歴史]\n" +
			"▼ 大問 2 [地理]\n" +
			"  大問2-問1: （テーマなし） [地理]\n"
		io.WriteString(w, reply)
	}))
	defer srv.Close()

	c := testCatalog()
	before := report.Render(c)
	New(srv.URL).Validate(context.Background(), c)

	if after := report.Render(c); after != before {
		t.Errorf("catalog changed despite rejected reply:\nbefore:\n%s\nafter:\n%s", before, after)
	}
	found := false
	for _, d := range c.Diagnostics {
		if d.Stage == exam.StageGateway && strings.Contains(d.Message, "rejected") {
			found = true
		}
	}
	if !found {
		t.Error("expected a rejection diagnostic")
	}
}

func TestValidateRejectsFieldLabelChange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reply := "▼ 大問 1 [歴史]\n" +
			"  大問1-問1: 鎌倉幕府の成立 [歴史]\n" +
			"  大問1-問3: （テーマなし） [公民]\n" +
			"▼ 大問 2 [地理]\n" +
			"  大問2-問1: （テーマなし） [地理]\n"
		io.WriteString(w, reply)
	}))
	defer srv.Close()

	c := testCatalog()
	before := report.Render(c)
	New(srv.URL).Validate(context.Background(), c)
	if after := report.Render(c); after != before {
		t.Error("catalog changed despite field label change in reply")
	}
}

func TestValidateRejectsUnparseableReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "申し訳ありませんが、修正できませんでした。")
	}))
	defer srv.Close()

	c := testCatalog()
	before := report.Render(c)
	New(srv.URL).Validate(context.Background(), c)
	if after := report.Render(c); after != before {
		t.Error("catalog changed despite unparseable reply")
	}
}

func TestValidateDegradesOnEmptyReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	c := testCatalog()
	before := report.Render(c)
	New(srv.URL).Validate(context.Background(), c)
	if after := report.Render(c); after != before {
		t.Error("catalog changed on empty reply")
	}
	for _, d := range c.Diagnostics {
		if d.Stage == exam.StageGateway {
			t.Errorf("empty reply produced a diagnostic: %s", d.Message)
		}
	}
}

func TestValidateDegradesOnUnavailableService(t *testing.T) {
	c := testCatalog()
	before := report.Render(c)
	// Port 1 refuses connections.
	New("http://127.0.0.1:1").Validate(context.Background(), c)
	if after := report.Render(c); after != before {
		t.Error("catalog changed when service was unavailable")
	}
}

func TestValidateDegradesOnTimeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	c := testCatalog()
	before := report.Render(c)
	New(srv.URL, WithTimeout(50*time.Millisecond)).Validate(context.Background(), c)
	if after := report.Render(c); after != before {
		t.Error("catalog changed on timeout")
	}
}

func TestValidateNoURLIsNoOp(t *testing.T) {
	c := testCatalog()
	before := report.Render(c)
	New("").Validate(context.Background(), c)
	if report.Render(c) != before || len(c.Diagnostics) != 0 {
		t.Error("empty URL must be a silent no-op")
	}
}
