// Package job implements the top-level audit state machine (SPEC_FULL.md
// §4.9): pending -> processing -> analyzing -> scoring -> populating ->
// completed, with failed/cancelled reachable from any non-terminal state.
// The background heartbeat write (single ticker, no separate checkpoint
// cadence) is grounded on the teacher's agent/longrunning.Executor.runExecution
// loop.
package job

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/brandpulse/geoaudit/egress"
	"github.com/brandpulse/geoaudit/pipeline/dashboard"
	"github.com/brandpulse/geoaudit/pipeline/models"
	"github.com/brandpulse/geoaudit/pipeline/orchestrator"
	"github.com/brandpulse/geoaudit/pipeline/querygen"
	"github.com/brandpulse/geoaudit/pipeline/recommend"
	"github.com/brandpulse/geoaudit/pipeline/scorer"
)

// Store is the persistence surface the processor drives the state machine
// through.
type Store interface {
	GetCompany(ctx context.Context, companyID string) (*models.CompanyProfile, error)
	ClaimAudit(ctx context.Context, auditID string) (bool, error)
	GetAudit(ctx context.Context, auditID string) (*models.Audit, error)
	IsCancelRequested(ctx context.Context, auditID string) (bool, error)
	TransitionAuditStatus(ctx context.Context, auditID string, status models.AuditStatus) error
	FinalizeAudit(ctx context.Context, auditID string, status models.AuditStatus, overallScore, brandMentionRate *float64, errMsg string) error
	Heartbeat(ctx context.Context, auditID string) error
	SaveQueries(ctx context.Context, queries []*models.AuditQuery) error
	ListQueries(ctx context.Context, auditID string) ([]*models.AuditQuery, error)
	ListResponses(ctx context.Context, auditID string) ([]*models.AuditResponse, error)
	ListAnalyses(ctx context.Context, auditID string) ([]*models.AuditAnalysis, error)
}

// Bus is the egress surface for progress and dashboard-ready notifications.
type Bus interface {
	PublishProgress(ctx context.Context, msg egress.ProgressMessage) error
	PublishDashboardReady(ctx context.Context, auditID string) error
}

// Config parameterizes a Processor's heartbeat/cancellation cadence.
type Config struct {
	HeartbeatInterval time.Duration
	DefaultQueryCount int
}

// Processor drives one audit at a time through the full pipeline.
type Processor struct {
	store        Store
	bus          Bus
	generator    *querygen.Generator
	orchestrator *orchestrator.Orchestrator
	// analyzerRun is injected as a function rather than a concrete type to
	// avoid a second LLM-caller dependency threading through this package;
	// see cmd/geoauditd for the concrete wiring.
	analyzerRun func(ctx context.Context, auditID string, profile *models.CompanyProfile, responses []*models.AuditResponse) error
	scorer      *scorer.Scorer
	extractor   *recommend.Extractor
	populator   *dashboard.Populator
	cfg         Config
	logger      *zap.Logger
}

// New builds a Processor. analyzerRun is the Response Analyzer's Run method,
// passed as a function value so this package does not need to import the
// analyzer package's full Caller/Store interfaces.
func New(
	store Store,
	bus Bus,
	generator *querygen.Generator,
	orch *orchestrator.Orchestrator,
	analyzerRun func(ctx context.Context, auditID string, profile *models.CompanyProfile, responses []*models.AuditResponse) error,
	sc *scorer.Scorer,
	extractor *recommend.Extractor,
	populator *dashboard.Populator,
	cfg Config,
	logger *zap.Logger,
) *Processor {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.DefaultQueryCount <= 0 {
		cfg.DefaultQueryCount = 48
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		store:        store,
		bus:          bus,
		generator:    generator,
		orchestrator: orch,
		analyzerRun:  analyzerRun,
		scorer:       sc,
		extractor:    extractor,
		populator:    populator,
		cfg:          cfg,
		logger:       logger.With(zap.String("component", "job_processor")),
	}
}

// Process claims auditID (if still pending) and drives it to a terminal
// state. Returns nil without side effects when the audit is no longer
// pending (e.g. another worker already claimed it), and nil once the audit
// reaches completed/failed/cancelled; returns an error only when the claim
// query fails or the audit's terminal status cannot be written.
func (p *Processor) Process(ctx context.Context, auditID string) error {
	claimed, err := p.store.ClaimAudit(ctx, auditID)
	if err != nil {
		return fmt.Errorf("job: claim audit %s: %w", auditID, err)
	}
	if !claimed {
		return nil
	}

	stop := p.startHeartbeat(ctx, auditID)
	defer stop()

	log := p.logger.With(zap.String("audit_id", auditID))

	audit, err := p.store.GetAudit(ctx, auditID)
	if err != nil {
		return p.fail(ctx, auditID, "failed to load audit: "+err.Error())
	}

	company, err := p.store.GetCompany(ctx, audit.CompanyID)
	if err != nil {
		return p.fail(ctx, auditID, "failed to load company: "+err.Error())
	}

	if p.cancelled(ctx, auditID, log) {
		return p.cancel(ctx, auditID)
	}

	queryCount := audit.TargetQueryCount
	if queryCount <= 0 {
		queryCount = p.cfg.DefaultQueryCount
	}
	queries, err := p.generator.Generate(ctx, auditID, company, queryCount)
	if err != nil {
		// Every Generate error is fatal to the audit: the 25%-floor failure
		// is KindPermanent per SPEC_FULL.md §4.3, and any other generation
		// error leaves no usable query set to orchestrate against.
		return p.fail(ctx, auditID, "query generation: "+err.Error())
	}
	if err := p.store.SaveQueries(ctx, queries); err != nil {
		return p.fail(ctx, auditID, "persist queries: "+err.Error())
	}

	if p.cancelled(ctx, auditID, log) {
		return p.cancel(ctx, auditID)
	}

	if err := p.orchestrator.Run(ctx, auditID, queries, audit.Providers); err != nil {
		return p.fail(ctx, auditID, "orchestration: "+err.Error())
	}

	if err := p.store.TransitionAuditStatus(ctx, auditID, models.AuditAnalyzing); err != nil {
		return p.fail(ctx, auditID, "transition to analyzing: "+err.Error())
	}
	if p.cancelled(ctx, auditID, log) {
		return p.cancel(ctx, auditID)
	}

	responses, err := p.store.ListResponses(ctx, auditID)
	if err != nil {
		return p.fail(ctx, auditID, "list responses: "+err.Error())
	}
	if err := p.analyzerRun(ctx, auditID, company, responses); err != nil {
		return p.fail(ctx, auditID, "analysis: "+err.Error())
	}

	if err := p.store.TransitionAuditStatus(ctx, auditID, models.AuditScoring); err != nil {
		return p.fail(ctx, auditID, "transition to scoring: "+err.Error())
	}
	if p.cancelled(ctx, auditID, log) {
		return p.cancel(ctx, auditID)
	}

	scores, err := p.scorer.Run(ctx, auditID)
	if err != nil {
		return p.fail(ctx, auditID, "scoring: "+err.Error())
	}

	if err := p.store.TransitionAuditStatus(ctx, auditID, models.AuditPopulating); err != nil {
		return p.fail(ctx, auditID, "transition to populating: "+err.Error())
	}
	if p.cancelled(ctx, auditID, log) {
		return p.cancel(ctx, auditID)
	}

	analyses, err := p.store.ListAnalyses(ctx, auditID)
	if err != nil {
		return p.fail(ctx, auditID, "list analyses: "+err.Error())
	}
	batches := categoryBatches(queries, responses, analyses)
	recResult, err := p.extractor.Run(ctx, batches)
	if err != nil {
		return p.fail(ctx, auditID, "recommendation extraction: "+err.Error())
	}

	insights := categoryInsights(queries, responses, analyses)
	if _, err := p.populator.Run(ctx, auditID, scores, recResult, insights); err != nil {
		return p.fail(ctx, auditID, "dashboard population: "+err.Error())
	}

	brandMentionRate := scores.Visibility / 100
	if err := p.store.FinalizeAudit(ctx, auditID, models.AuditCompleted, &scores.Overall, &brandMentionRate, ""); err != nil {
		return fmt.Errorf("job: finalize audit %s: %w", auditID, err)
	}
	_ = p.bus.PublishDashboardReady(ctx, auditID)
	return nil
}

func (p *Processor) cancelled(ctx context.Context, auditID string, log *zap.Logger) bool {
	requested, err := p.store.IsCancelRequested(ctx, auditID)
	if err != nil {
		log.Warn("cancel check failed, proceeding", zap.Error(err))
		return false
	}
	return requested
}

func (p *Processor) cancel(ctx context.Context, auditID string) error {
	return p.store.FinalizeAudit(ctx, auditID, models.AuditCancelled, nil, nil, "")
}

func (p *Processor) fail(ctx context.Context, auditID, message string) error {
	if err := p.store.FinalizeAudit(ctx, auditID, models.AuditFailed, nil, nil, message); err != nil {
		return fmt.Errorf("job: finalize failed audit %s: %w", auditID, err)
	}
	return nil
}

// startHeartbeat runs a single background ticker for the lifetime of the
// audit, writing a heartbeat on every tick, grounded on the teacher's
// runExecution loop. It returns a stop function.
func (p *Processor) startHeartbeat(ctx context.Context, auditID string) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(p.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := p.store.Heartbeat(ctx, auditID); err != nil {
					p.logger.Warn("heartbeat write failed", zap.String("audit_id", auditID), zap.Error(err))
				}
			}
		}
	}()
	return func() { close(done) }
}

func categoryBatches(queries []*models.AuditQuery, responses []*models.AuditResponse, analyses []*models.AuditAnalysis) []recommend.CategoryBatchInput {
	categoryByQueryID := make(map[string]models.BuyerJourneyCategory, len(queries))
	for _, q := range queries {
		categoryByQueryID[q.ID] = q.Category
	}
	categoryByResponseID := make(map[string]models.BuyerJourneyCategory, len(responses))
	for _, r := range responses {
		categoryByResponseID[r.ID] = categoryByQueryID[r.QueryID]
	}
	responseByID := make(map[string]*models.AuditResponse, len(responses))
	for _, r := range responses {
		responseByID[r.ID] = r
	}

	textsByCategory := make(map[models.BuyerJourneyCategory][]string)
	for _, a := range analyses {
		if a.Errored {
			continue
		}
		category := categoryByResponseID[a.ResponseID]
		if r, ok := responseByID[a.ResponseID]; ok && strings.TrimSpace(r.Text) != "" {
			textsByCategory[category] = append(textsByCategory[category], r.Text)
		}
	}

	batches := make([]recommend.CategoryBatchInput, 0, len(models.AllCategories))
	for _, category := range models.AllCategories {
		batches = append(batches, recommend.CategoryBatchInput{Category: category, Texts: textsByCategory[category]})
	}
	return batches
}

func categoryInsights(queries []*models.AuditQuery, responses []*models.AuditResponse, analyses []*models.AuditAnalysis) []models.CategoryInsight {
	categoryByQueryID := make(map[string]models.BuyerJourneyCategory, len(queries))
	for _, q := range queries {
		categoryByQueryID[q.ID] = q.Category
	}
	categoryByResponseID := make(map[string]models.BuyerJourneyCategory, len(responses))
	for _, r := range responses {
		categoryByResponseID[r.ID] = categoryByQueryID[r.QueryID]
	}

	counts := make(map[models.BuyerJourneyCategory]int)
	for _, a := range analyses {
		if a.Errored {
			continue
		}
		counts[categoryByResponseID[a.ResponseID]]++
	}

	insights := make([]models.CategoryInsight, 0, len(counts))
	for _, category := range models.AllCategories {
		count := counts[category]
		if count == 0 {
			continue
		}
		insights = append(insights, models.CategoryInsight{
			Category:      category,
			ResponseCount: count,
			Summary:       fmt.Sprintf("%d analyzed responses in %s", count, category),
		})
	}
	return insights
}
