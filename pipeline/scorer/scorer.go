// Package scorer computes the per-audit AggregateScores roll-up from every
// Analysis (SPEC_FULL.md §4.6): the weighted overall score plus per-provider
// and per-category breakdowns.
package scorer

import (
	"context"

	"github.com/brandpulse/geoaudit/pipeline/models"
)

// Store is the persistence surface the scorer reads from and writes to.
type Store interface {
	ListQueries(ctx context.Context, auditID string) ([]*models.AuditQuery, error)
	ListResponses(ctx context.Context, auditID string) ([]*models.AuditResponse, error)
	ListAnalyses(ctx context.Context, auditID string) ([]*models.AuditAnalysis, error)
	SaveAggregateScores(ctx context.Context, scores *models.AggregateScores) error
}

// Scorer computes and persists AggregateScores for one audit.
type Scorer struct {
	store Store
}

func New(store Store) *Scorer {
	return &Scorer{store: store}
}

// Run reads every Analysis for auditID, computes the roll-up, and writes it
// atomically via the store (SPEC_FULL.md §4.6, "single write").
func (s *Scorer) Run(ctx context.Context, auditID string) (*models.AggregateScores, error) {
	queries, err := s.store.ListQueries(ctx, auditID)
	if err != nil {
		return nil, err
	}
	responses, err := s.store.ListResponses(ctx, auditID)
	if err != nil {
		return nil, err
	}
	analyses, err := s.store.ListAnalyses(ctx, auditID)
	if err != nil {
		return nil, err
	}

	responseByID := make(map[string]*models.AuditResponse, len(responses))
	for _, r := range responses {
		responseByID[r.ID] = r
	}
	categoryByQueryID := make(map[string]models.BuyerJourneyCategory, len(queries))
	for _, q := range queries {
		categoryByQueryID[q.ID] = q.Category
	}

	usable := filterErrored(analyses)

	scores := &models.AggregateScores{
		AuditID:           auditID,
		CompetitorCounts:  competitorCounts(usable),
		ProviderBreakdown: breakdownByProvider(usable, responseByID),
		CategoryBreakdown: breakdownByCategory(usable, responseByID, categoryByQueryID),
	}
	agg := aggregate(usable)
	scores.Overall = overall(agg)
	scores.GEO = agg.geo
	scores.SOV = agg.sov
	scores.Recommendation = agg.recommendation
	scores.Sentiment = sentiment100(agg.sentiment)
	scores.Visibility = agg.visibility
	scores.ContextCompleteness = agg.contextCompleteness

	if err := s.store.SaveAggregateScores(ctx, scores); err != nil {
		return nil, err
	}
	return scores, nil
}

// filterErrored excludes analyses flagged errored, per SPEC_FULL.md §4.6
// "missing responses... are excluded from means and from the visibility
// denominator".
func filterErrored(analyses []*models.AuditAnalysis) []*models.AuditAnalysis {
	out := make([]*models.AuditAnalysis, 0, len(analyses))
	for _, a := range analyses {
		if !a.Errored {
			out = append(out, a)
		}
	}
	return out
}

type means struct {
	geo                 float64
	sov                 float64
	recommendation      float64
	sentiment           float64
	contextCompleteness float64
	visibility          float64
}

func aggregate(analyses []*models.AuditAnalysis) means {
	if len(analyses) == 0 {
		return means{}
	}
	var m means
	mentioned := 0
	for _, a := range analyses {
		m.geo += a.GEOScore
		m.sov += a.SOVScore
		m.recommendation += a.RecommendationSignal
		m.sentiment += a.SentimentScore
		m.contextCompleteness += a.ContextCompleteness
		if a.BrandMentioned {
			mentioned++
		}
	}
	n := float64(len(analyses))
	m.geo /= n
	m.sov /= n
	m.recommendation /= n
	m.sentiment /= n
	m.contextCompleteness /= n
	m.visibility = 100 * float64(mentioned) / n
	return m
}

// overall implements SPEC_FULL.md §4.6's weighted formula:
// 0.30·GEO + 0.25·SOV + 0.20·recommendation + 0.15·sentiment_100 + 0.10·visibility
func overall(m means) float64 {
	return 0.30*m.geo + 0.25*m.sov + 0.20*m.recommendation + 0.15*sentiment100(m.sentiment) + 0.10*m.visibility
}

// sentiment100 implements `sentiment_100 = 50*(sentiment+1)`.
func sentiment100(sentiment float64) float64 {
	return 50 * (sentiment + 1)
}

func competitorCounts(analyses []*models.AuditAnalysis) map[string]int {
	counts := make(map[string]int)
	for _, a := range analyses {
		for _, c := range a.CompetitorsMentioned {
			counts[c.Name]++
		}
	}
	return counts
}

func breakdownByProvider(analyses []*models.AuditAnalysis, responseByID map[string]*models.AuditResponse) []models.ProviderBreakdown {
	groups := make(map[string][]*models.AuditAnalysis)
	for _, a := range analyses {
		if r, ok := responseByID[a.ResponseID]; ok {
			groups[r.Provider] = append(groups[r.Provider], a)
		}
	}

	breakdowns := make([]models.ProviderBreakdown, 0, len(groups))
	for providerName, group := range groups {
		m := aggregate(group)
		breakdowns = append(breakdowns, models.ProviderBreakdown{
			Provider:            providerName,
			GEO:                 m.geo,
			SOV:                 m.sov,
			Recommendation:      m.recommendation,
			Sentiment:           sentiment100(m.sentiment),
			Visibility:          m.visibility,
			ContextCompleteness: m.contextCompleteness,
			ResponseCount:       len(group),
		})
	}
	return breakdowns
}

// breakdownByCategory groups through Response.QueryID -> Query.Category,
// since category is an attribute of the Query, not the Response/Analysis.
func breakdownByCategory(analyses []*models.AuditAnalysis, responseByID map[string]*models.AuditResponse, categoryByQueryID map[string]models.BuyerJourneyCategory) []models.CategoryBreakdown {
	groups := make(map[models.BuyerJourneyCategory][]*models.AuditAnalysis)
	for _, a := range analyses {
		r, ok := responseByID[a.ResponseID]
		if !ok {
			continue
		}
		category, ok := categoryByQueryID[r.QueryID]
		if !ok {
			continue
		}
		groups[category] = append(groups[category], a)
	}

	breakdowns := make([]models.CategoryBreakdown, 0, len(groups))
	for category, group := range groups {
		m := aggregate(group)
		breakdowns = append(breakdowns, models.CategoryBreakdown{
			Category:            category,
			GEO:                 m.geo,
			SOV:                 m.sov,
			Recommendation:      m.recommendation,
			Sentiment:           sentiment100(m.sentiment),
			Visibility:          m.visibility,
			ContextCompleteness: m.contextCompleteness,
			ResponseCount:       len(group),
		})
	}
	return breakdowns
}
