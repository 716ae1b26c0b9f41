// Package recommend implements the Recommendation Extractor (SPEC_FULL.md
// §4.7): one batched LLM call per buyer-journey category producing top
// recommendations, competitive gaps, and content opportunities, merged and
// deduplicated across categories. These are kept SEPARATE from the
// per-response recommendations captured by the analyzer (SPEC_FULL.md §9
// Open Question decision).
package recommend

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/brandpulse/geoaudit/pipeline/models"
	"github.com/brandpulse/geoaudit/provider"
)

// Caller is the narrow LLM surface the extractor needs.
type Caller interface {
	Complete(ctx context.Context, providerName string, req provider.Request) (*provider.Response, error)
}

// Extractor produces the audit-level recommendation set.
type Extractor struct {
	caller       Caller
	providerName string
	model        string
}

func New(caller Caller, providerName, model string) *Extractor {
	return &Extractor{caller: caller, providerName: providerName, model: model}
}

// Result is the merged, deduplicated, priority-ranked output across every
// category that had analyzed responses.
type Result struct {
	TopRecommendations   []models.RankedRecommendation
	CompetitiveGaps      []models.RankedRecommendation
	ContentOpportunities []models.RankedRecommendation
}

type categoryExtraction struct {
	Recommendations      []rankedItem `json:"recommendations"`
	CompetitiveGaps      []rankedItem `json:"competitive_gaps"`
	ContentOpportunities []rankedItem `json:"content_opportunities"`
}

type rankedItem struct {
	Text     string  `json:"text"`
	Priority float64 `json:"priority"`
}

// CategoryBatchInput is one category's analyzed response texts, batched for
// a single LLM call. Callers (the job processor) build these by joining
// Response.QueryID -> Query.Category.
type CategoryBatchInput struct {
	Category models.BuyerJourneyCategory
	Texts    []string
}

// Run batches analyses by category (via the caller-supplied grouping),
// extracts recommendations per category, then merges across categories by
// normalized-text dedup and LLM-provided priority (SPEC_FULL.md §4.7).
// Strict JSON; empty results per category are accepted and never fail the
// audit (data errors on a single category are skipped, not fatal).
func (e *Extractor) Run(ctx context.Context, batches []CategoryBatchInput) (*Result, error) {
	var allRecs, allGaps, allOpps []models.RankedRecommendation

	for _, batch := range batches {
		if len(batch.Texts) == 0 {
			continue
		}
		extraction, err := e.extractForCategory(ctx, batch)
		if err != nil {
			continue // data error scoped to one category; skip, do not fail the audit
		}
		allRecs = append(allRecs, toRanked(extraction.Recommendations, batch.Category)...)
		allGaps = append(allGaps, toRanked(extraction.CompetitiveGaps, batch.Category)...)
		allOpps = append(allOpps, toRanked(extraction.ContentOpportunities, batch.Category)...)
	}

	return &Result{
		TopRecommendations:   dedupAndRank(allRecs),
		CompetitiveGaps:      dedupAndRank(allGaps),
		ContentOpportunities: dedupAndRank(allOpps),
	}, nil
}

func (e *Extractor) extractForCategory(ctx context.Context, batch CategoryBatchInput) (*categoryExtraction, error) {
	prompt := "Category: " + string(batch.Category) + "\n\nResponses:\n" + strings.Join(batch.Texts, "\n---\n") +
		"\n\nFrom these responses, extract: (a) top recommendations for improving brand visibility in this category, " +
		"(b) competitive gaps (where competitors are favored over the brand), (c) content opportunities. " +
		"Each item needs a priority in [0,1]. Empty arrays are fine if nothing applies. Respond as JSON: " +
		`{"recommendations": [{"text": "...", "priority": 0.0}], "competitive_gaps": [...], "content_opportunities": [...]}`

	// No output token cap (SPEC_FULL.md §4.1/§4.7): this call can produce a
	// long, itemized answer and must not be truncated into an empty reply.
	resp, err := e.caller.Complete(ctx, e.providerName, provider.Request{
		Model:      e.model,
		SystemText: "You are a strict JSON-only brand visibility recommendation extractor.",
		Prompt:     prompt,
	})
	if err != nil {
		return nil, err
	}

	var out categoryExtraction
	if err := json.Unmarshal([]byte(extractJSONObject(resp.Text)), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func toRanked(items []rankedItem, category models.BuyerJourneyCategory) []models.RankedRecommendation {
	out := make([]models.RankedRecommendation, 0, len(items))
	for _, item := range items {
		text := strings.TrimSpace(item.Text)
		if text == "" {
			continue
		}
		out = append(out, models.RankedRecommendation{Text: text, Category: category, Priority: item.Priority})
	}
	return out
}

// dedupAndRank merges by normalized (lowercased-trimmed) text, keeping the
// highest-priority occurrence, and sorts descending by priority.
func dedupAndRank(items []models.RankedRecommendation) []models.RankedRecommendation {
	best := make(map[string]models.RankedRecommendation)
	order := make([]string, 0, len(items))
	for _, item := range items {
		key := strings.ToLower(strings.TrimSpace(item.Text))
		if key == "" {
			continue
		}
		existing, ok := best[key]
		if !ok {
			order = append(order, key)
			best[key] = item
			continue
		}
		if item.Priority > existing.Priority {
			best[key] = item
		}
	}

	out := make([]models.RankedRecommendation, 0, len(order))
	for _, key := range order {
		out = append(out, best[key])
	}
	for i := 1; i < len(out); i++ {
		j := i
		for j > 0 && out[j-1].Priority < out[j].Priority {
			out[j-1], out[j] = out[j], out[j-1]
			j--
		}
	}
	return out
}

func extractJSONObject(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end < start {
		return text
	}
	return text[start : end+1]
}
