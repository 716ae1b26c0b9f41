// Package orchestrator fans a set of Queries out across a set of Providers,
// one task per (query, provider) cell, gated by a global semaphore
// (SPEC_FULL.md §4.4). Grounded on the teacher's bounded-parallel-executor
// shape (llm/tools/parallel.go's MaxConcurrency-gated fan-out), rebuilt here
// on a buffered-channel semaphore plus golang.org/x/sync/errgroup for the simpler
// independent-cell case this spec needs (no dependency graph, no retries at
// this layer — those live in the Rate-Limited Caller).
package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/brandpulse/geoaudit/egress"
	"github.com/brandpulse/geoaudit/pipeline/models"
	"github.com/brandpulse/geoaudit/pipeline/perr"
	"github.com/brandpulse/geoaudit/provider"
)

// Caller is the narrow surface the orchestrator needs from the Rate-Limited
// Caller.
type Caller interface {
	Complete(ctx context.Context, providerName string, req provider.Request) (*provider.Response, error)
}

// Store is the persistence surface the orchestrator writes through.
type Store interface {
	SaveResponse(ctx context.Context, resp *models.AuditResponse) error
}

// Progress is notified every Δ completions (SPEC_FULL.md §5).
type Progress interface {
	PublishProgress(ctx context.Context, msg egress.ProgressMessage) error
}

const progressDelta = 8

// Orchestrator runs the fan-out for one audit.
type Orchestrator struct {
	caller      Caller
	store       Store
	progress    Progress
	concurrency int
	model       string
}

// New builds an Orchestrator with a semaphore width of concurrency (default
// 16 per SPEC_FULL.md §4.4/§5).
func New(caller Caller, store Store, progress Progress, concurrency int, model string) *Orchestrator {
	if concurrency <= 0 {
		concurrency = 16
	}
	return &Orchestrator{caller: caller, store: store, progress: progress, concurrency: concurrency, model: model}
}

// Run persists one Response per (query, provider) cell. It returns an error
// only for fatal conditions (e.g. the store itself becoming unavailable);
// per-cell provider failures are persisted as failed Response rows and never
// abort the phase (SPEC_FULL.md §4.4, §7).
func (o *Orchestrator) Run(ctx context.Context, auditID string, queries []*models.AuditQuery, providers []string) error {
	total := len(queries) * len(providers)
	if total == 0 {
		return nil
	}

	sem := make(chan struct{}, o.concurrency)
	g, gctx := errgroup.WithContext(ctx)

	var completed int64
	var seq int64
	var progressMu sync.Mutex

	for _, q := range queries {
		q := q
		for _, providerName := range providers {
			providerName := providerName
			sem <- struct{}{}
			g.Go(func() error {
				defer func() { <-sem }()

				resp := o.runCell(gctx, auditID, q, providerName)
				if err := o.store.SaveResponse(gctx, resp); err != nil {
					return err // store failure is fatal, not a per-cell condition
				}

				n := atomic.AddInt64(&completed, 1)
				if n%progressDelta == 0 && o.progress != nil {
					progressMu.Lock()
					seq++
					msg := egress.ProgressMessage{
						AuditID:   auditID,
						Phase:     "processing",
						Completed: int(n),
						Total:     total,
						Timestamp: time.Now().UTC().Unix(),
						Sequence:  seq,
					}
					progressMu.Unlock()
					_ = o.progress.PublishProgress(gctx, msg)
				}
				return nil
			})
		}
	}

	return g.Wait()
}

func (o *Orchestrator) runCell(ctx context.Context, auditID string, q *models.AuditQuery, providerName string) *models.AuditResponse {
	start := time.Now()
	resp, err := o.caller.Complete(ctx, providerName, provider.Request{
		Model:  o.model,
		Prompt: q.Text,
	})
	if err != nil {
		kind := perr.KindOf(err)
		return &models.AuditResponse{
			AuditID:      auditID,
			QueryID:      q.ID,
			Provider:     providerName,
			LatencyMs:    time.Since(start).Milliseconds(),
			ErrorKind:    string(kind),
			ErrorMessage: err.Error(),
		}
	}

	return &models.AuditResponse{
		AuditID:      auditID,
		QueryID:      q.ID,
		Provider:     providerName,
		Text:         resp.Text,
		LatencyMs:    time.Since(start).Milliseconds(),
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
	}
}
