// Package dashboard builds the UI-ready DashboardRecord from AggregateScores
// and the Recommendation Extractor's output (SPEC_FULL.md §4.8).
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/brandpulse/geoaudit/pipeline/models"
	"github.com/brandpulse/geoaudit/pipeline/recommend"
	"github.com/brandpulse/geoaudit/provider"
)

// Caller is the narrow LLM surface the populator needs for the executive
// summary.
type Caller interface {
	Complete(ctx context.Context, providerName string, req provider.Request) (*provider.Response, error)
}

// Store is the persistence surface the populator writes through.
type Store interface {
	SaveDashboardRecord(ctx context.Context, record *models.DashboardRecord) error
}

const topK = 10

// Populator builds and persists the DashboardRecord for an audit.
type Populator struct {
	caller       Caller
	store        Store
	providerName string
	model        string
}

func New(caller Caller, store Store, providerName, model string) *Populator {
	return &Populator{caller: caller, store: store, providerName: providerName, model: model}
}

// Run assembles the DashboardRecord and writes it idempotently
// (SPEC_FULL.md §4.8: "if a prior record exists, it is overwritten").
func (p *Populator) Run(ctx context.Context, auditID string, scores *models.AggregateScores, rec *recommend.Result, categoryInsights []models.CategoryInsight) (*models.DashboardRecord, error) {
	record := &models.DashboardRecord{
		AuditID:              auditID,
		TopRecommendations:   topN(rec.TopRecommendations, topK),
		CompetitiveGaps:      topN(rec.CompetitiveGaps, topK),
		ContentOpportunities: topN(rec.ContentOpportunities, topK),
		CompetitorLandscape:  landscape(scores.CompetitorCounts),
		CategoryInsights:     categoryInsights,
	}

	summary, err := p.executiveSummary(ctx, scores, record)
	if err != nil {
		return nil, err // failure here MUST fail the audit (SPEC_FULL.md §4.8)
	}
	record.ExecutiveSummary = summary

	if err := p.store.SaveDashboardRecord(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

func topN(items []models.RankedRecommendation, n int) []models.RankedRecommendation {
	if len(items) <= n {
		return items
	}
	return items[:n]
}

// landscape returns the top-5 competitors by mention share (SPEC_FULL.md §4.8).
func landscape(counts map[string]int) []models.CompetitorLandscapeEntry {
	total := 0
	for _, c := range counts {
		total += c
	}
	if total == 0 {
		return nil
	}

	entries := make([]models.CompetitorLandscapeEntry, 0, len(counts))
	for name, count := range counts {
		entries = append(entries, models.CompetitorLandscapeEntry{
			Name:     name,
			Count:    count,
			SharePct: 100 * float64(count) / float64(total),
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Count > entries[j].Count })

	if len(entries) > 5 {
		entries = entries[:5]
	}
	return entries
}

type executiveSummaryReply struct {
	Summary string `json:"summary"`
}

func (p *Populator) executiveSummary(ctx context.Context, scores *models.AggregateScores, record *models.DashboardRecord) (string, error) {
	var recs strings.Builder
	for _, r := range record.TopRecommendations {
		fmt.Fprintf(&recs, "- %s\n", r.Text)
	}

	prompt := fmt.Sprintf(
		"Overall score: %.1f, GEO: %.1f, SOV: %.1f, recommendation: %.1f, sentiment: %.1f, visibility: %.1f.\n"+
			"Top recommendations:\n%s\n"+
			"Write a 3-5 sentence executive summary of this brand visibility audit for a non-technical stakeholder. "+
			`Respond as JSON: {"summary": "..."}`,
		scores.Overall, scores.GEO, scores.SOV, scores.Recommendation, scores.Sentiment, scores.Visibility, recs.String(),
	)

	resp, err := p.caller.Complete(ctx, p.providerName, provider.Request{
		Model:      p.model,
		SystemText: "You write concise, non-technical executive summaries. Respond with JSON only.",
		Prompt:     prompt,
	})
	if err != nil {
		return "", err
	}

	var out executiveSummaryReply
	if err := json.Unmarshal([]byte(extractJSONObject(resp.Text)), &out); err != nil {
		return "", err
	}
	return out.Summary, nil
}

func extractJSONObject(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end < start {
		return text
	}
	return text[start : end+1]
}
