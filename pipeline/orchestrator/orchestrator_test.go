package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandpulse/geoaudit/egress"
	"github.com/brandpulse/geoaudit/pipeline/models"
	"github.com/brandpulse/geoaudit/pipeline/perr"
	"github.com/brandpulse/geoaudit/provider"
)

type fakeCaller struct {
	fail map[string]bool // provider names that always fail
}

func (f *fakeCaller) Complete(ctx context.Context, providerName string, req provider.Request) (*provider.Response, error) {
	if f.fail[providerName] {
		return nil, perr.New(perr.KindPermanent, "boom", "always fails").WithProvider(providerName)
	}
	return &provider.Response{Text: "answer to " + req.Prompt, InputTokens: 1, OutputTokens: 2}, nil
}

type recordingStore struct {
	mu   sync.Mutex
	rows []*models.AuditResponse
}

func (s *recordingStore) SaveResponse(ctx context.Context, resp *models.AuditResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, resp)
	return nil
}

type failingStore struct{}

func (failingStore) SaveResponse(ctx context.Context, resp *models.AuditResponse) error {
	return fmt.Errorf("store unavailable")
}

type recordingProgress struct {
	count int32
}

func (p *recordingProgress) PublishProgress(ctx context.Context, msg egress.ProgressMessage) error {
	atomic.AddInt32(&p.count, 1)
	return nil
}

func makeQueries(n int) []*models.AuditQuery {
	queries := make([]*models.AuditQuery, n)
	for i := range queries {
		queries[i] = &models.AuditQuery{ID: fmt.Sprintf("q-%d", i), Text: fmt.Sprintf("query %d", i)}
	}
	return queries
}

func TestRun_SavesOneResponsePerCell(t *testing.T) {
	store := &recordingStore{}
	o := New(&fakeCaller{}, store, nil, 4, "gpt-4o-mini")

	err := o.Run(context.Background(), "audit-1", makeQueries(3), []string{"openai", "anthropic"})
	require.NoError(t, err)
	assert.Len(t, store.rows, 6)
}

func TestRun_ProviderFailurePersistsAsFailedCellNotFatal(t *testing.T) {
	store := &recordingStore{}
	o := New(&fakeCaller{fail: map[string]bool{"anthropic": true}}, store, nil, 4, "gpt-4o-mini")

	err := o.Run(context.Background(), "audit-1", makeQueries(2), []string{"openai", "anthropic"})
	require.NoError(t, err)
	require.Len(t, store.rows, 4)

	var failed, ok int
	for _, r := range store.rows {
		if r.Failed() {
			failed++
			assert.Equal(t, string(perr.KindPermanent), r.ErrorKind)
		} else {
			ok++
		}
	}
	assert.Equal(t, 2, failed)
	assert.Equal(t, 2, ok)
}

func TestRun_StoreFailureIsFatal(t *testing.T) {
	o := New(&fakeCaller{}, failingStore{}, nil, 4, "gpt-4o-mini")
	err := o.Run(context.Background(), "audit-1", makeQueries(1), []string{"openai"})
	require.Error(t, err)
}

func TestRun_EmptyInputIsNoop(t *testing.T) {
	store := &recordingStore{}
	o := New(&fakeCaller{}, store, nil, 4, "gpt-4o-mini")
	err := o.Run(context.Background(), "audit-1", nil, []string{"openai"})
	require.NoError(t, err)
	assert.Empty(t, store.rows)
}

func TestRun_PublishesProgressEveryDelta(t *testing.T) {
	store := &recordingStore{}
	progress := &recordingProgress{}
	o := New(&fakeCaller{}, store, progress, 8, "gpt-4o-mini")

	// progressDelta is 8; 20 cells should yield 2 progress notifications.
	err := o.Run(context.Background(), "audit-1", makeQueries(20), []string{"openai"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&progress.count))
}

func TestNew_DefaultsConcurrencyWhenNonPositive(t *testing.T) {
	o := New(&fakeCaller{}, &recordingStore{}, nil, 0, "gpt-4o-mini")
	assert.Equal(t, 16, o.concurrency)
}
