package relay

import (
	"context"
	"sync"
	"time"

	"github.com/jeletor/ai-wot/internal/wot"
)

// scoreMemo caches per-key results for a single Score invocation. A
// placeholder zero-result is inserted before recursing into a key, which
// breaks attestation cycles deterministically.
type scoreMemo struct {
	mu      sync.Mutex
	results map[string]wot.Result
}

func (m *scoreMemo) get(key string) (wot.Result, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.results[key]
	return r, ok
}

func (m *scoreMemo) put(key string, r wot.Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[key] = r
}

// Score queries the relay set for target's attestations and zap totals and
// runs the scoring kernel over them. Attester reputations are resolved by
// re-entering the orchestrator one level deeper, memoised per invocation so
// each key is fetched at most once.
func (c *Client) Score(ctx context.Context, target string, opts wot.Options) wot.Result {
	start := time.Now()
	defer func() { scoreCompute.Observe(time.Since(start).Seconds()) }()

	// Pin now so every level of the recursion decays against the same
	// instant.
	if opts.Now == 0 {
		opts.Now = time.Now().Unix()
	}
	memo := &scoreMemo{results: make(map[string]wot.Result)}
	return c.scoreTarget(ctx, target, opts, memo)
}

// CategoryScore is Score restricted to a named category.
func (c *Client) CategoryScore(ctx context.Context, target, category string, opts wot.Options) (wot.Result, error) {
	start := time.Now()
	defer func() { scoreCompute.Observe(time.Since(start).Seconds()) }()

	if opts.Now == 0 {
		opts.Now = time.Now().Unix()
	}
	atts := c.QueryAttestations(ctx, target, QueryOptions{})
	zaps := c.queryZapsFor(ctx, atts)
	opts.Resolve = c.resolver(ctx, opts, &scoreMemo{results: make(map[string]wot.Result)})
	return wot.CategoryScore(atts, zaps, category, opts)
}

func (c *Client) scoreTarget(ctx context.Context, target string, opts wot.Options, memo *scoreMemo) wot.Result {
	if r, ok := memo.get(target); ok {
		return r
	}
	memo.put(target, wot.Result{})

	atts := c.QueryAttestations(ctx, target, QueryOptions{})
	zaps := c.queryZapsFor(ctx, atts)
	opts.Resolve = c.resolver(ctx, opts, memo)

	res := wot.Score(atts, zaps, opts)
	memo.put(target, res)
	return res
}

// resolver returns the kernel callback that scores an attester one level
// deeper in the recursion.
func (c *Client) resolver(ctx context.Context, opts wot.Options, memo *scoreMemo) wot.ResolveFunc {
	return func(author string) *wot.Result {
		child := opts
		child.Depth = opts.Depth + 1
		r := c.scoreTarget(ctx, author, child, memo)
		return &r
	}
}

func (c *Client) queryZapsFor(ctx context.Context, atts []wot.Attestation) map[string]int64 {
	if len(atts) == 0 {
		return nil
	}
	ids := make([]string, len(atts))
	for i, a := range atts {
		ids[i] = a.ID
	}
	return c.QueryZapTotals(ctx, ids)
}
