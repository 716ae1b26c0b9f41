// Package persistence is the GORM repository layer over the seven core
// tables described in SPEC_FULL.md §6. The database is the single source of
// truth for Audit/Response/Analysis state (SPEC_FULL.md §5) — no component
// keeps that state in memory beyond transient per-task locals.
package persistence

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/brandpulse/geoaudit/internal/database"
	"github.com/brandpulse/geoaudit/pipeline/models"
)

// Repository wraps a pool-managed *gorm.DB with the operations the pipeline
// stages need. All writes described in SPEC_FULL.md §5 are single-row or
// row-level; no multi-row transaction is required by the schema itself, and
// the compare-and-set claim below is a single conditional UPDATE, so the
// database serializes competing claims without an explicit transaction.
type Repository struct {
	pool *database.PoolManager
}

// New wraps an already-initialized pool manager.
func New(pool *database.PoolManager) *Repository {
	return &Repository{pool: pool}
}

// Migrate runs GORM AutoMigrate for all seven tables. Schema migrations
// proper are an API-collaborator concern (SPEC_FULL.md §1); this is the
// narrow subset the core needs to stand up its own tables in dev/test.
func (r *Repository) Migrate(ctx context.Context) error {
	db := r.pool.DB().WithContext(ctx)
	return db.AutoMigrate(
		&models.CompanyProfile{},
		&models.Audit{},
		&models.AuditQuery{},
		&models.AuditResponse{},
		&models.AuditAnalysis{},
		&models.AggregateScores{},
		&models.DashboardRecord{},
	)
}

// GetCompany loads a CompanyProfile by id.
func (r *Repository) GetCompany(ctx context.Context, companyID string) (*models.CompanyProfile, error) {
	var company models.CompanyProfile
	if err := r.pool.DB().WithContext(ctx).First(&company, "id = ?", companyID).Error; err != nil {
		return nil, fmt.Errorf("persistence: get company %s: %w", companyID, err)
	}
	return &company, nil
}

// ClaimAudit atomically moves an audit from pending to processing
// (compare-and-set on status) and records started_at, implementing the
// "exactly one worker holds a non-terminal audit" invariant of SPEC_FULL.md §3.
// ok is false if another worker already claimed it (or it does not exist).
func (r *Repository) ClaimAudit(ctx context.Context, auditID string) (ok bool, err error) {
	now := time.Now().UTC()
	res := r.pool.DB().WithContext(ctx).Model(&models.Audit{}).
		Where("id = ? AND status = ?", auditID, models.AuditPending).
		Updates(map[string]any{
			"status":            models.AuditProcessing,
			"started_at":        now,
			"last_heartbeat_at": now,
			"heartbeat_seq":     1,
		})
	if res.Error != nil {
		return false, fmt.Errorf("persistence: claim audit %s: %w", auditID, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// NextPendingAuditID returns the oldest pending audit's id, for workers
// polling for unclaimed work. ok is false if none is queued.
func (r *Repository) NextPendingAuditID(ctx context.Context) (string, bool) {
	var id string
	err := r.pool.DB().WithContext(ctx).Model(&models.Audit{}).
		Select("id").Where("status = ?", models.AuditPending).
		Order("created_at ASC").Limit(1).Scan(&id).Error
	if err != nil || id == "" {
		return "", false
	}
	return id, true
}

// GetAudit loads an Audit by id.
func (r *Repository) GetAudit(ctx context.Context, auditID string) (*models.Audit, error) {
	var audit models.Audit
	if err := r.pool.DB().WithContext(ctx).First(&audit, "id = ?", auditID).Error; err != nil {
		return nil, fmt.Errorf("persistence: get audit %s: %w", auditID, err)
	}
	return &audit, nil
}

// IsCancelRequested reports whether an external cancellation signal has
// arrived (status moved to cancel_requested), observed only at phase
// boundaries per SPEC_FULL.md §5.
func (r *Repository) IsCancelRequested(ctx context.Context, auditID string) (bool, error) {
	var status models.AuditStatus
	if err := r.pool.DB().WithContext(ctx).Model(&models.Audit{}).
		Select("status").Where("id = ?", auditID).Scan(&status).Error; err != nil {
		return false, fmt.Errorf("persistence: read status for %s: %w", auditID, err)
	}
	return status == models.AuditCancelRequested, nil
}

// TransitionAuditStatus moves an audit to a new non-terminal phase status.
func (r *Repository) TransitionAuditStatus(ctx context.Context, auditID string, status models.AuditStatus) error {
	return r.pool.DB().WithContext(ctx).Model(&models.Audit{}).
		Where("id = ?", auditID).Update("status", status).Error
}

// FinalizeAudit writes the terminal status along with completion fields.
func (r *Repository) FinalizeAudit(ctx context.Context, auditID string, status models.AuditStatus, overallScore, brandMentionRate *float64, errMsg string) error {
	now := time.Now().UTC()
	var startedAt models.Audit
	if err := r.pool.DB().WithContext(ctx).Select("started_at").First(&startedAt, "id = ?", auditID).Error; err != nil {
		return fmt.Errorf("persistence: read started_at for %s: %w", auditID, err)
	}
	updates := map[string]any{
		"status":       status,
		"completed_at": now,
		"error_message": errMsg,
	}
	if overallScore != nil {
		updates["overall_score"] = *overallScore
	}
	if brandMentionRate != nil {
		updates["brand_mention_rate"] = *brandMentionRate
	}
	if startedAt.StartedAt != nil {
		updates["processing_time_ms"] = now.Sub(*startedAt.StartedAt).Milliseconds()
	}
	return r.pool.DB().WithContext(ctx).Model(&models.Audit{}).
		Where("id = ?", auditID).Updates(updates).Error
}

// Heartbeat writes a monotonically increasing heartbeat for a non-terminal
// audit (SPEC_FULL.md §4.9).
func (r *Repository) Heartbeat(ctx context.Context, auditID string) error {
	return r.pool.DB().WithContext(ctx).Model(&models.Audit{}).
		Where("id = ?", auditID).
		Updates(map[string]any{
			"last_heartbeat_at": time.Now().UTC(),
			"heartbeat_seq":     gorm.Expr("heartbeat_seq + 1"),
		}).Error
}

// SaveQueries persists the deduplicated, category-balanced query set for an
// audit. (audit_id, lower(text)) uniqueness is enforced by the schema;
// duplicate inserts are silently skipped via an upsert-on-conflict-do-nothing
// semantics emulated here by pre-filtering already-seen lower(text) values at
// the caller (Query Generator), not by catching a constraint violation.
func (r *Repository) SaveQueries(ctx context.Context, queries []*models.AuditQuery) error {
	if len(queries) == 0 {
		return nil
	}
	for _, q := range queries {
		if q.ID == "" {
			q.ID = uuid.NewString()
		}
		q.LowerText = strings.ToLower(strings.TrimSpace(q.Text))
		q.CreatedAt = time.Now().UTC()
	}
	return r.pool.DB().WithContext(ctx).CreateInBatches(queries, 50).Error
}

// ListQueries returns all queries for an audit.
func (r *Repository) ListQueries(ctx context.Context, auditID string) ([]*models.AuditQuery, error) {
	var queries []*models.AuditQuery
	if err := r.pool.DB().WithContext(ctx).Where("audit_id = ?", auditID).Find(&queries).Error; err != nil {
		return nil, fmt.Errorf("persistence: list queries for %s: %w", auditID, err)
	}
	return queries, nil
}

// SaveResponse persists one (query, provider) cell, independent of every
// other cell (SPEC_FULL.md §4.4 — no cross-cell transactions).
func (r *Repository) SaveResponse(ctx context.Context, resp *models.AuditResponse) error {
	if resp.ID == "" {
		resp.ID = uuid.NewString()
	}
	resp.CreatedAt = time.Now().UTC()
	return r.pool.DB().WithContext(ctx).Create(resp).Error
}

// ListResponses returns all responses for an audit.
func (r *Repository) ListResponses(ctx context.Context, auditID string) ([]*models.AuditResponse, error) {
	var responses []*models.AuditResponse
	if err := r.pool.DB().WithContext(ctx).Where("audit_id = ?", auditID).Find(&responses).Error; err != nil {
		return nil, fmt.Errorf("persistence: list responses for %s: %w", auditID, err)
	}
	return responses, nil
}

// SaveAnalysis persists one Analysis, independent of every other (SPEC_FULL.md §4.5).
func (r *Repository) SaveAnalysis(ctx context.Context, analysis *models.AuditAnalysis) error {
	if analysis.ID == "" {
		analysis.ID = uuid.NewString()
	}
	analysis.CreatedAt = time.Now().UTC()
	return r.pool.DB().WithContext(ctx).Create(analysis).Error
}

// ListAnalyses returns all analyses for an audit. The owning responses are
// not preloaded; callers that key on provider/category join through
// ResponseID against ListResponses.
func (r *Repository) ListAnalyses(ctx context.Context, auditID string) ([]*models.AuditAnalysis, error) {
	var analyses []*models.AuditAnalysis
	if err := r.pool.DB().WithContext(ctx).Where("audit_id = ?", auditID).Find(&analyses).Error; err != nil {
		return nil, fmt.Errorf("persistence: list analyses for %s: %w", auditID, err)
	}
	return analyses, nil
}

// SaveAggregateScores writes the AggregateScores row in a single atomic
// write (SPEC_FULL.md §4.6). A prior row for the same audit, if any, is
// replaced.
func (r *Repository) SaveAggregateScores(ctx context.Context, scores *models.AggregateScores) error {
	return r.pool.WithTransaction(ctx, func(tx *gorm.DB) error {
		if err := tx.Where("audit_id = ?", scores.AuditID).Delete(&models.AggregateScores{}).Error; err != nil {
			return err
		}
		if scores.ID == "" {
			scores.ID = uuid.NewString()
		}
		scores.CreatedAt = time.Now().UTC()
		return tx.Create(scores).Error
	})
}

// GetAggregateScores loads the AggregateScores row for an audit.
func (r *Repository) GetAggregateScores(ctx context.Context, auditID string) (*models.AggregateScores, error) {
	var scores models.AggregateScores
	if err := r.pool.DB().WithContext(ctx).First(&scores, "audit_id = ?", auditID).Error; err != nil {
		return nil, fmt.Errorf("persistence: get aggregate scores for %s: %w", auditID, err)
	}
	return &scores, nil
}

// SaveDashboardRecord writes (or idempotently overwrites) the DashboardRecord
// for an audit (SPEC_FULL.md §4.8).
func (r *Repository) SaveDashboardRecord(ctx context.Context, record *models.DashboardRecord) error {
	return r.pool.WithTransaction(ctx, func(tx *gorm.DB) error {
		if err := tx.Where("audit_id = ?", record.AuditID).Delete(&models.DashboardRecord{}).Error; err != nil {
			return err
		}
		now := time.Now().UTC()
		if record.ID == "" {
			record.ID = uuid.NewString()
		}
		record.CreatedAt = now
		record.UpdatedAt = now
		return tx.Create(record).Error
	})
}
