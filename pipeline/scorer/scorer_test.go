package scorer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandpulse/geoaudit/pipeline/models"
)

type fakeStore struct {
	queries   []*models.AuditQuery
	responses []*models.AuditResponse
	analyses  []*models.AuditAnalysis
	saved     *models.AggregateScores
}

func (f *fakeStore) ListQueries(ctx context.Context, auditID string) ([]*models.AuditQuery, error) {
	return f.queries, nil
}
func (f *fakeStore) ListResponses(ctx context.Context, auditID string) ([]*models.AuditResponse, error) {
	return f.responses, nil
}
func (f *fakeStore) ListAnalyses(ctx context.Context, auditID string) ([]*models.AuditAnalysis, error) {
	return f.analyses, nil
}
func (f *fakeStore) SaveAggregateScores(ctx context.Context, scores *models.AggregateScores) error {
	f.saved = scores
	return nil
}

func TestSentiment100(t *testing.T) {
	assert.Equal(t, 0.0, sentiment100(-1))
	assert.Equal(t, 50.0, sentiment100(0))
	assert.Equal(t, 100.0, sentiment100(1))
}

func TestOverall_WeightedFormula(t *testing.T) {
	m := means{geo: 80, sov: 60, recommendation: 70, sentiment: 0.5, visibility: 90, contextCompleteness: 50}
	want := 0.30*80 + 0.25*60 + 0.20*70 + 0.15*sentiment100(0.5) + 0.10*90
	assert.InDelta(t, want, overall(m), 0.001)
}

func TestFilterErrored_ExcludesErroredAnalyses(t *testing.T) {
	analyses := []*models.AuditAnalysis{
		{ID: "a1", Errored: false},
		{ID: "a2", Errored: true},
	}
	usable := filterErrored(analyses)
	require.Len(t, usable, 1)
	assert.Equal(t, "a1", usable[0].ID)
}

func TestAggregate_EmptySetReturnsZeroMeans(t *testing.T) {
	assert.Equal(t, means{}, aggregate(nil))
}

func TestCompetitorCounts_TalliesAcrossAnalyses(t *testing.T) {
	analyses := []*models.AuditAnalysis{
		{CompetitorsMentioned: []models.CompetitorMention{{Name: "Globex"}, {Name: "Initech"}}},
		{CompetitorsMentioned: []models.CompetitorMention{{Name: "Globex"}}},
	}
	counts := competitorCounts(analyses)
	assert.Equal(t, 2, counts["Globex"])
	assert.Equal(t, 1, counts["Initech"])
}

func TestRun_ComputesAndPersistsAggregateScores(t *testing.T) {
	store := &fakeStore{
		queries: []*models.AuditQuery{
			{ID: "q1", Category: models.CategoryProblemAware},
			{ID: "q2", Category: models.CategorySolutionAware},
		},
		responses: []*models.AuditResponse{
			{ID: "r1", QueryID: "q1", Provider: "openai"},
			{ID: "r2", QueryID: "q2", Provider: "anthropic"},
		},
		analyses: []*models.AuditAnalysis{
			{ID: "a1", ResponseID: "r1", BrandMentioned: true, GEOScore: 80, SOVScore: 60, RecommendationSignal: 70, SentimentScore: 0.5, ContextCompleteness: 90},
			{ID: "a2", ResponseID: "r2", BrandMentioned: false, GEOScore: 40, SOVScore: 30, RecommendationSignal: 20, SentimentScore: -0.2, ContextCompleteness: 50},
			{ID: "a3", ResponseID: "missing-response", Errored: true},
		},
	}
	s := New(store)

	scores, err := s.Run(context.Background(), "audit-1")
	require.NoError(t, err)
	require.NotNil(t, store.saved)
	assert.Equal(t, "audit-1", scores.AuditID)
	assert.Len(t, scores.ProviderBreakdown, 2)
	assert.Len(t, scores.CategoryBreakdown, 2)
	assert.InDelta(t, 60.0, scores.GEO, 0.001) // (80+40)/2
	assert.InDelta(t, 50.0, scores.Visibility, 0.001) // 1 of 2 mentioned
}

func TestRun_PropagatesStoreErrors(t *testing.T) {
	s := New(&erroringStore{})
	_, err := s.Run(context.Background(), "audit-1")
	require.Error(t, err)
}

type erroringStore struct{}

func (erroringStore) ListQueries(ctx context.Context, auditID string) ([]*models.AuditQuery, error) {
	return nil, assertErr
}
func (erroringStore) ListResponses(ctx context.Context, auditID string) ([]*models.AuditResponse, error) {
	return nil, assertErr
}
func (erroringStore) ListAnalyses(ctx context.Context, auditID string) ([]*models.AuditAnalysis, error) {
	return nil, assertErr
}
func (erroringStore) SaveAggregateScores(ctx context.Context, scores *models.AggregateScores) error {
	return assertErr
}

var assertErr = assertError("store unavailable")

type assertError string

func (e assertError) Error() string { return string(e) }
