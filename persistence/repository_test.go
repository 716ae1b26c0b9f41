package persistence

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/brandpulse/geoaudit/internal/database"
	"github.com/brandpulse/geoaudit/pipeline/models"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	pool, err := database.NewPoolManager(db, database.PoolConfig{MaxOpenConns: 1}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	repo := New(pool)
	require.NoError(t, repo.Migrate(context.Background()))
	return repo
}

func seedPendingAudit(t *testing.T, repo *Repository, id string, createdAt time.Time) {
	t.Helper()
	audit := &models.Audit{
		ID:        id,
		CompanyID: "company-1",
		UserID:    "user-1",
		Status:    models.AuditPending,
		CreatedAt: createdAt,
	}
	require.NoError(t, repo.pool.DB().Create(audit).Error)
}

func TestRepository_ClaimAudit_SucceedsOnce(t *testing.T) {
	repo := newTestRepo(t)
	seedPendingAudit(t, repo, "audit-1", time.Now().UTC())

	ok, err := repo.ClaimAudit(context.Background(), "audit-1")
	require.NoError(t, err)
	require.True(t, ok)

	// Second claim must fail: status is no longer pending.
	ok, err = repo.ClaimAudit(context.Background(), "audit-1")
	require.NoError(t, err)
	require.False(t, ok)

	audit, err := repo.GetAudit(context.Background(), "audit-1")
	require.NoError(t, err)
	require.Equal(t, models.AuditProcessing, audit.Status)
	require.NotNil(t, audit.StartedAt)
	require.Equal(t, int64(1), audit.HeartbeatSeq)
}

func TestRepository_ClaimAudit_NonexistentReturnsFalse(t *testing.T) {
	repo := newTestRepo(t)
	ok, err := repo.ClaimAudit(context.Background(), "does-not-exist")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRepository_NextPendingAuditID_OldestFirst(t *testing.T) {
	repo := newTestRepo(t)
	now := time.Now().UTC()
	seedPendingAudit(t, repo, "newer", now)
	seedPendingAudit(t, repo, "older", now.Add(-time.Hour))

	id, ok := repo.NextPendingAuditID(context.Background())
	require.True(t, ok)
	require.Equal(t, "older", id)
}

func TestRepository_NextPendingAuditID_EmptyWhenNoneQueued(t *testing.T) {
	repo := newTestRepo(t)
	_, ok := repo.NextPendingAuditID(context.Background())
	require.False(t, ok)
}

func TestRepository_IsCancelRequested(t *testing.T) {
	repo := newTestRepo(t)
	seedPendingAudit(t, repo, "audit-1", time.Now().UTC())

	cancelled, err := repo.IsCancelRequested(context.Background(), "audit-1")
	require.NoError(t, err)
	require.False(t, cancelled)

	require.NoError(t, repo.TransitionAuditStatus(context.Background(), "audit-1", models.AuditCancelRequested))

	cancelled, err = repo.IsCancelRequested(context.Background(), "audit-1")
	require.NoError(t, err)
	require.True(t, cancelled)
}

func TestRepository_Heartbeat_IncrementsSeq(t *testing.T) {
	repo := newTestRepo(t)
	seedPendingAudit(t, repo, "audit-1", time.Now().UTC())
	_, err := repo.ClaimAudit(context.Background(), "audit-1")
	require.NoError(t, err)

	require.NoError(t, repo.Heartbeat(context.Background(), "audit-1"))
	require.NoError(t, repo.Heartbeat(context.Background(), "audit-1"))

	audit, err := repo.GetAudit(context.Background(), "audit-1")
	require.NoError(t, err)
	require.Equal(t, int64(3), audit.HeartbeatSeq)
}

func TestRepository_FinalizeAudit_ComputesProcessingTime(t *testing.T) {
	repo := newTestRepo(t)
	seedPendingAudit(t, repo, "audit-1", time.Now().UTC())
	_, err := repo.ClaimAudit(context.Background(), "audit-1")
	require.NoError(t, err)

	overall := 82.5
	mentionRate := 0.6
	require.NoError(t, repo.FinalizeAudit(context.Background(), "audit-1", models.AuditCompleted, &overall, &mentionRate, ""))

	audit, err := repo.GetAudit(context.Background(), "audit-1")
	require.NoError(t, err)
	require.Equal(t, models.AuditCompleted, audit.Status)
	require.NotNil(t, audit.OverallScore)
	require.Equal(t, overall, *audit.OverallScore)
	require.NotNil(t, audit.ProcessingTimeMs)
	require.GreaterOrEqual(t, *audit.ProcessingTimeMs, int64(0))
}

func TestRepository_SaveAndListQueries_DedupesByLowerText(t *testing.T) {
	repo := newTestRepo(t)
	seedPendingAudit(t, repo, "audit-1", time.Now().UTC())

	queries := []*models.AuditQuery{
		{AuditID: "audit-1", Text: "What is Acme?", Category: models.CategoryProblemAware},
		{AuditID: "audit-1", Text: "Best CRM tools", Category: models.CategorySolutionAware},
	}
	require.NoError(t, repo.SaveQueries(context.Background(), queries))

	loaded, err := repo.ListQueries(context.Background(), "audit-1")
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	for _, q := range loaded {
		require.NotEmpty(t, q.ID)
		require.Equal(t, strings.ToLower(strings.TrimSpace(q.Text)), q.LowerText)
	}

	dup := []*models.AuditQuery{{AuditID: "audit-1", Text: "  what is acme?", Category: models.CategoryProblemAware}}
	require.Error(t, repo.SaveQueries(context.Background(), dup), "lower(text) is unique per audit")
}

func TestRepository_SaveAndListResponses(t *testing.T) {
	repo := newTestRepo(t)
	seedPendingAudit(t, repo, "audit-1", time.Now().UTC())

	resp := &models.AuditResponse{AuditID: "audit-1", QueryID: "q-1", Provider: "openai", Text: "hello"}
	require.NoError(t, repo.SaveResponse(context.Background(), resp))
	require.NotEmpty(t, resp.ID)

	loaded, err := repo.ListResponses(context.Background(), "audit-1")
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	require.Equal(t, "hello", loaded[0].Text)
}

func TestRepository_SaveAndListAnalyses(t *testing.T) {
	repo := newTestRepo(t)
	seedPendingAudit(t, repo, "audit-1", time.Now().UTC())

	a := &models.AuditAnalysis{AuditID: "audit-1", ResponseID: "resp-1", BrandMentioned: true, Sentiment: models.SentimentPositive}
	require.NoError(t, repo.SaveAnalysis(context.Background(), a))

	loaded, err := repo.ListAnalyses(context.Background(), "audit-1")
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	require.True(t, loaded[0].BrandMentioned)
}

func TestRepository_SaveAggregateScores_ReplacesPriorRow(t *testing.T) {
	repo := newTestRepo(t)
	seedPendingAudit(t, repo, "audit-1", time.Now().UTC())

	first := &models.AggregateScores{AuditID: "audit-1", Overall: 50}
	require.NoError(t, repo.SaveAggregateScores(context.Background(), first))

	second := &models.AggregateScores{AuditID: "audit-1", Overall: 75}
	require.NoError(t, repo.SaveAggregateScores(context.Background(), second))

	loaded, err := repo.GetAggregateScores(context.Background(), "audit-1")
	require.NoError(t, err)
	require.Equal(t, 75.0, loaded.Overall)
}

func TestRepository_SaveDashboardRecord_Idempotent(t *testing.T) {
	repo := newTestRepo(t)
	seedPendingAudit(t, repo, "audit-1", time.Now().UTC())

	rec := &models.DashboardRecord{AuditID: "audit-1", ExecutiveSummary: "v1"}
	require.NoError(t, repo.SaveDashboardRecord(context.Background(), rec))

	rec2 := &models.DashboardRecord{AuditID: "audit-1", ExecutiveSummary: "v2"}
	require.NoError(t, repo.SaveDashboardRecord(context.Background(), rec2))

	var count int64
	require.NoError(t, repo.pool.DB().Model(&models.DashboardRecord{}).Where("audit_id = ?", "audit-1").Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestRepository_GetCompany_NotFound(t *testing.T) {
	repo := newTestRepo(t)
	_, err := repo.GetCompany(context.Background(), "missing")
	require.Error(t, err)
}
