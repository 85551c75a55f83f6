package service

import (
	"context"
	"sync"
	"time"

	"github.com/bnema/sketchmotion/internal/port"
)

const defaultProbeTTL = 30 * time.Second

type probeResult struct {
	err      error
	probedAt time.Time
}

// CachedProbe wraps a Prober and remembers each resource's last result for a
// TTL, so eligibility checks do not hit the backend on every dispatch.
type CachedProbe struct {
	prober port.Prober
	ttl    time.Duration
	now    func() time.Time

	mu      sync.RWMutex
	results map[string]probeResult
}

func NewCachedProbe(prober port.Prober, ttl time.Duration) *CachedProbe {
	if ttl <= 0 {
		ttl = defaultProbeTTL
	}
	return &CachedProbe{
		prober:  prober,
		ttl:     ttl,
		now:     time.Now,
		results: make(map[string]probeResult),
	}
}

func (c *CachedProbe) Probe(ctx context.Context, resourceID string) error {
	c.mu.RLock()
	res, ok := c.results[resourceID]
	c.mu.RUnlock()
	if ok && c.now().Sub(res.probedAt) < c.ttl {
		return res.err
	}
	return c.Refresh(ctx, resourceID)
}

// Refresh probes the resource regardless of cache freshness.
func (c *CachedProbe) Refresh(ctx context.Context, resourceID string) error {
	err := c.prober.Probe(ctx, resourceID)

	c.mu.Lock()
	c.results[resourceID] = probeResult{err: err, probedAt: c.now()}
	c.mu.Unlock()
	return err
}

func (c *CachedProbe) Invalidate(resourceID string) {
	c.mu.Lock()
	delete(c.results, resourceID)
	c.mu.Unlock()
}

var _ port.Prober = (*CachedProbe)(nil)
