// Package gateway sends the canonical report to an external advisory
// validation service and applies its numbering corrections. The call
// is strictly optional: any transport failure, timeout, empty reply,
// or reply that violates the preservation rules leaves the catalog
// untouched. The gateway never returns an error to the caller.
package gateway

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/coolbeans/kakomon/pkg/exam"
	"github.com/coolbeans/kakomon/pkg/report"
)

const (
	// DefaultTimeout bounds the external call.
	DefaultTimeout = 30 * time.Second

	// maxResponseSize limits the reply body to prevent memory
	// exhaustion from a misbehaving service.
	maxResponseSize = 1 << 20 // 1MB
)

// instruction is the preamble prepended to the report. The service is
// only allowed to correct numbering; everything else must survive
// byte-for-byte, and the reply is rejected in full when it does not.
const instruction = `以下は入試問題の分析レポートです。問題番号の誤りのみを修正してください。
- 問題の総数を変更しないこと
- 分野ラベル（[地理] [歴史] [公民] [総合]）を変更しないこと
- 番号の修正以外は変更しないこと
- 出力形式を変更しないこと
修正後のレポート全文のみを返してください。

`

// Gateway posts reports to one validation endpoint.
type Gateway struct {
	url        string
	timeout    time.Duration
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) { g.timeout = d }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) { g.httpClient = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// New creates a Gateway for the given service URL. An empty URL makes
// Validate a no-op.
func New(url string, opts ...Option) *Gateway {
	g := &Gateway{
		url:        url,
		timeout:    DefaultTimeout,
		httpClient: &http.Client{},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Validate renders the catalog, submits it, and folds accepted
// numbering corrections back into the catalog in place. The catalog
// is always usable afterwards, corrected or not.
func (g *Gateway) Validate(ctx context.Context, c *exam.Catalog) {
	if g.url == "" {
		return
	}

	requestID := uuid.New().String()
	rendered := report.Render(c)

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url,
		strings.NewReader(instruction+rendered))
	if err != nil {
		g.logger.Warn("validation request could not be built",
			"request_id", requestID, "error", err)
		return
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	req.Header.Set("X-Request-ID", requestID)

	started := time.Now()
	resp, err := g.httpClient.Do(req)
	if err != nil {
		g.logger.Warn("validation service unavailable, proceeding without it",
			"request_id", requestID, "error", err)
		c.Diagnose(exam.StageGateway, 0, 0, "validation service unavailable, skipped")
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		g.logger.Warn("validation reply could not be read",
			"request_id", requestID, "error", err)
		c.Diagnose(exam.StageGateway, 0, 0, "validation reply unreadable, skipped")
		return
	}
	if resp.StatusCode != http.StatusOK {
		g.logger.Warn("validation service returned an error status",
			"request_id", requestID, "status", resp.StatusCode)
		c.Diagnose(exam.StageGateway, 0, 0, "validation service returned status %d, skipped", resp.StatusCode)
		return
	}

	reply := strings.TrimSpace(string(body))
	if reply == "" {
		g.logger.Info("validation service returned no changes",
			"request_id", requestID, "duration", time.Since(started))
		return
	}

	corrected, err := report.Parse(reply)
	if err != nil {
		g.logger.Warn("validation reply rejected: not a canonical report",
			"request_id", requestID, "error", err)
		c.Diagnose(exam.StageGateway, 0, 0, "validation reply rejected: %v", err)
		return
	}
	if reason := preserves(c, corrected); reason != "" {
		g.logger.Warn("validation reply rejected",
			"request_id", requestID, "reason", reason)
		c.Diagnose(exam.StageGateway, 0, 0, "validation reply rejected: %s", reason)
		return
	}

	n := applyNumbering(c, corrected)
	g.logger.Info("validation applied",
		"request_id", requestID, "corrections", n, "duration", time.Since(started))
	if n > 0 {
		c.Diagnose(exam.StageGateway, 0, 0, "external validation corrected %d question numbers", n)
	}
}

// preserves checks the reply against the preservation rules. It
// returns an empty string when the reply is acceptable, otherwise the
// reason for rejection.
func preserves(orig, reply *exam.Catalog) string {
	if reply.TotalQuestions() != orig.TotalQuestions() {
		return "total question count changed"
	}
	if len(reply.Sections) != len(orig.Sections) {
		return "section count changed"
	}
	for i, sec := range orig.Sections {
		r := reply.Sections[i]
		if r.Number != sec.Number {
			return "section numbering changed"
		}
		if r.Field != renderableField(sec.Field) {
			return "section field label changed"
		}
	}
	of, rf := flatten(orig), flatten(reply)
	for i := range of {
		if rf[i].Field != renderableField(of[i].Field) {
			return "question field label changed"
		}
	}
	return ""
}

// applyNumbering moves the original questions into the reply's
// numbering without touching any other data. Returns the number of
// questions whose number or section changed.
func applyNumbering(c, reply *exam.Catalog) int {
	of, rf := flatten(c), flatten(reply)
	byNumber := make(map[int]*exam.Section, len(c.Sections))
	for _, sec := range c.Sections {
		sec.Questions = nil
		byNumber[sec.Number] = sec
	}
	changed := 0
	for i, q := range of {
		r := rf[i]
		if q.NormalizedNumber != r.NormalizedNumber || q.SectionNumber != r.SectionNumber {
			changed++
			q.Status = exam.StatusReassigned
		}
		q.NormalizedNumber = r.NormalizedNumber
		q.SectionNumber = r.SectionNumber
		byNumber[r.SectionNumber].Questions = append(byNumber[r.SectionNumber].Questions, q)
	}
	return changed
}

func flatten(c *exam.Catalog) []*exam.Question {
	var qs []*exam.Question
	for _, sec := range c.Sections {
		qs = append(qs, sec.Questions...)
	}
	return qs
}

func renderableField(f exam.Field) exam.Field {
	if !f.Valid() {
		return exam.FieldMixed
	}
	return f
}
