// Package domainfetch is the bounded, cached HTTP fetcher the Response
// Analyzer (SPEC_FULL.md §4.5) uses to inspect a brand's domain for citation
// signal, without blocking the analyzer's own concurrency gate.
package domainfetch

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Result is the cached outcome of fetching one host.
type Result struct {
	Reachable bool
	Body      string
	Err       error
}

// Fetcher caches fetch results per host and collapses concurrent misses for
// the same host into a single HTTP round trip via singleflight, per
// SPEC_FULL.md §4.5/§2.3.
type Fetcher struct {
	client  *http.Client
	timeout time.Duration

	mu    sync.RWMutex
	cache map[string]Result

	group singleflight.Group
}

// New builds a fetcher with a small shared connection pool (<=16 conns) and
// the given per-request timeout (SPEC_FULL.md §4.5, "short (<=5s) timeout").
func New(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	transport := &http.Transport{
		MaxIdleConns:        16,
		MaxIdleConnsPerHost: 16,
		MaxConnsPerHost:     16,
		IdleConnTimeout:     30 * time.Second,
	}
	return &Fetcher{
		client:  &http.Client{Transport: transport, Timeout: timeout},
		timeout: timeout,
		cache:   make(map[string]Result),
	}
}

// Fetch returns the cached result for host, populating it (once, even under
// concurrent callers) on first access. Both successes and failures are
// cached, so a down domain is not retried on every analyzed response.
func (f *Fetcher) Fetch(ctx context.Context, host string) Result {
	f.mu.RLock()
	cached, ok := f.cache[host]
	f.mu.RUnlock()
	if ok {
		return cached
	}

	v, _, _ := f.group.Do(host, func() (any, error) {
		res := f.doFetch(ctx, host)
		f.mu.Lock()
		f.cache[host] = res
		f.mu.Unlock()
		return res, nil
	})
	return v.(Result)
}

func (f *Fetcher) doFetch(ctx context.Context, host string) Result {
	target := &url.URL{Scheme: "https", Host: host, Path: "/"}

	fetchCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, target.String(), nil)
	if err != nil {
		return Result{Reachable: false, Err: err}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return Result{Reachable: false, Err: err}
	}
	defer resp.Body.Close()

	const maxBody = 64 * 1024
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBody))

	return Result{Reachable: resp.StatusCode < 400, Body: string(body)}
}
