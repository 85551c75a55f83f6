package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bnema/sketchmotion/internal/backoff"
	"github.com/bnema/sketchmotion/internal/domain"
	"github.com/bnema/sketchmotion/internal/infrastructure/logger"
	"github.com/bnema/sketchmotion/internal/infrastructure/metrics"
	"github.com/bnema/sketchmotion/internal/port"
)

type resourceEntry struct {
	mu sync.Mutex
	r  domain.Resource
}

// HealthTracker owns the health, leases and blacklist windows of every
// execution resource. Each resource is guarded by its own mutex; the map is
// only written during Register.
type HealthTracker struct {
	store   port.ResourceStore
	backoff backoff.Backoff
	now     func() time.Time

	mu      sync.RWMutex
	entries map[string]*resourceEntry
	probes  map[domain.CapacityClass]*CachedProbe
}

func NewHealthTracker(store port.ResourceStore, bo backoff.Backoff) *HealthTracker {
	return &HealthTracker{
		store:   store,
		backoff: bo,
		now:     time.Now,
		entries: make(map[string]*resourceEntry),
		probes:  make(map[domain.CapacityClass]*CachedProbe),
	}
}

func (h *HealthTracker) WithClock(now func() time.Time) *HealthTracker {
	h.now = now
	return h
}

// SetProber installs the health probe used to re-admit blacklisted resources
// of a capacity class.
func (h *HealthTracker) SetProber(class domain.CapacityClass, prober port.Prober, ttl time.Duration) {
	cached := NewCachedProbe(prober, ttl)
	cached.now = func() time.Time { return h.now() }

	h.mu.Lock()
	h.probes[class] = cached
	h.mu.Unlock()
}

// Register adds the configured resources. Health state persisted by a
// previous run is carried over; leases are not.
func (h *HealthTracker) Register(ctx context.Context, resources []domain.Resource) error {
	persisted := make(map[string]domain.Resource)
	if h.store != nil {
		saved, err := h.store.ListResources(ctx)
		if err != nil {
			return err
		}
		for _, r := range saved {
			persisted[r.ID] = r
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range resources {
		r.InFlight = 0
		r.AvailableMemoryMB = r.TotalMemoryMB
		if r.Health == "" {
			r.Health = domain.HealthHealthy
		}
		if prev, ok := persisted[r.ID]; ok {
			r.Health = prev.Health
			r.BlacklistUntil = prev.BlacklistUntil
			r.ConsecutiveFailures = prev.ConsecutiveFailures
			r.LastUsedAt = prev.LastUsedAt
		}
		h.entries[r.ID] = &resourceEntry{r: r}
		h.persist(ctx, r)
	}
	return nil
}

func (h *HealthTracker) entry(id string) (*resourceEntry, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	e, ok := h.entries[id]
	return e, ok
}

func (h *HealthTracker) all() []*resourceEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	list := make([]*resourceEntry, 0, len(h.entries))
	for _, e := range h.entries {
		list = append(list, e)
	}
	return list
}

func (h *HealthTracker) Get(id string) (domain.Resource, bool) {
	e, ok := h.entry(id)
	if !ok {
		return domain.Resource{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.r, true
}

// Snapshot returns a copy of every resource ordered by id.
func (h *HealthTracker) Snapshot() []domain.Resource {
	var list []domain.Resource
	for _, e := range h.all() {
		e.mu.Lock()
		list = append(list, e.r)
		e.mu.Unlock()
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}

// ListEligible returns the resources that can take a stage needing memoryMB
// right now: not blacklisted, a free slot and enough memory. Healthy
// resources come before degraded ones, then least recently used first.
// Blacklisted resources whose window elapsed are probed and re-admitted.
func (h *HealthTracker) ListEligible(ctx context.Context, memoryMB int) []domain.Resource {
	var eligible []domain.Resource
	for _, e := range h.all() {
		h.readmit(ctx, e)

		e.mu.Lock()
		r := e.r
		e.mu.Unlock()

		if r.Health == domain.HealthBlacklisted || !r.Fits(memoryMB) {
			continue
		}
		eligible = append(eligible, r)
	}

	sort.Slice(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		if a.Health != b.Health {
			return a.Health == domain.HealthHealthy
		}
		if !a.LastUsedAt.Equal(b.LastUsedAt) {
			return a.LastUsedAt.Before(b.LastUsedAt)
		}
		return a.ID < b.ID
	})
	return eligible
}

// ProbeBlacklisted tries to re-admit every resource whose blacklist window
// has elapsed. It returns how many came back.
func (h *HealthTracker) ProbeBlacklisted(ctx context.Context) int {
	var readmitted int
	for _, e := range h.all() {
		if h.readmit(ctx, e) {
			readmitted++
		}
	}
	return readmitted
}

func (h *HealthTracker) readmit(ctx context.Context, e *resourceEntry) bool {
	e.mu.Lock()
	if !e.r.BlacklistElapsed(h.now()) {
		e.mu.Unlock()
		return false
	}
	id, class := e.r.ID, e.r.Class
	e.mu.Unlock()

	h.mu.RLock()
	probe := h.probes[class]
	h.mu.RUnlock()

	var err error
	if probe != nil {
		err = probe.Probe(ctx, id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.r.BlacklistElapsed(h.now()) {
		return false
	}
	if err != nil {
		logger.Warn.Printf("probe failed for resource %s: %s", id, logger.SanitizeForLog(err.Error()))
		h.blacklist(&e.r)
		h.persist(ctx, e.r)
		return false
	}

	logger.Info.Printf("resource %s re-admitted after probe", id)
	e.r.Health = domain.HealthHealthy
	e.r.BlacklistUntil = time.Time{}
	h.persist(ctx, e.r)
	return true
}

// Acquire leases a slot and memoryMB of the resource's memory estimate.
func (h *HealthTracker) Acquire(ctx context.Context, id string, memoryMB int) error {
	e, ok := h.entry(id)
	if !ok {
		return domain.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.r.Health == domain.HealthBlacklisted || !e.r.Fits(memoryMB) {
		return domain.ErrNoEligibleResource
	}
	e.r.InFlight++
	e.r.AvailableMemoryMB -= memoryMB
	e.r.LastUsedAt = h.now()
	metrics.ResourceInFlight.WithLabelValues(id).Set(float64(e.r.InFlight))
	h.persist(ctx, e.r)
	return nil
}

func (h *HealthTracker) Release(ctx context.Context, id string, memoryMB int) {
	e, ok := h.entry(id)
	if !ok {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.r.InFlight > 0 {
		e.r.InFlight--
	}
	e.r.AvailableMemoryMB += memoryMB
	if e.r.AvailableMemoryMB > e.r.TotalMemoryMB {
		e.r.AvailableMemoryMB = e.r.TotalMemoryMB
	}
	metrics.ResourceInFlight.WithLabelValues(id).Set(float64(e.r.InFlight))
	h.persist(ctx, e.r)
}

// RecordFailure updates the resource after a failed stage. Infrastructure
// failures blacklist it and report that the job should move elsewhere; any
// other class only marks it degraded.
func (h *HealthTracker) RecordFailure(ctx context.Context, id string, class domain.FailureClass) bool {
	e, ok := h.entry(id)
	if !ok {
		return class == domain.FailureTransientInfra
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if class != domain.FailureTransientInfra {
		if e.r.Health == domain.HealthHealthy {
			e.r.Health = domain.HealthDegraded
		}
		h.persist(ctx, e.r)
		return false
	}

	h.blacklist(&e.r)
	logger.Warn.Printf("resource %s blacklisted until %s (failures=%d)",
		id, e.r.BlacklistUntil.Format(time.RFC3339), e.r.ConsecutiveFailures)
	h.persist(ctx, e.r)

	h.mu.RLock()
	if probe := h.probes[e.r.Class]; probe != nil {
		probe.Invalidate(id)
	}
	h.mu.RUnlock()
	return true
}

func (h *HealthTracker) RecordSuccess(ctx context.Context, id string) {
	e, ok := h.entry(id)
	if !ok {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	e.r.ConsecutiveFailures = 0
	e.r.Health = domain.HealthHealthy
	e.r.BlacklistUntil = time.Time{}
	h.persist(ctx, e.r)
}

// blacklist must be called with the entry locked. Failures only reset on a
// successful stage, so successive windows never shrink.
func (h *HealthTracker) blacklist(r *domain.Resource) {
	r.ConsecutiveFailures++
	r.Health = domain.HealthBlacklisted
	r.BlacklistUntil = h.now().Add(h.backoff.Duration(r.ConsecutiveFailures))
	metrics.ResourceBlacklistsTotal.WithLabelValues(r.ID).Inc()
}

func (h *HealthTracker) persist(ctx context.Context, r domain.Resource) {
	if h.store == nil {
		return
	}
	if err := h.store.SaveResource(ctx, r); err != nil {
		logger.Error.Printf("failed to persist resource %s: %v", r.ID, err)
	}
}
