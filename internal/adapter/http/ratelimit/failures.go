// Package ratelimit throttles clients that keep presenting bad API tokens.
package ratelimit

import (
	"sync"
	"time"
)

type AttemptRecord struct {
	Count        int
	LastAttempt  time.Time
	BlockedUntil time.Time
}

// AuthFailureLimiter blocks a client for blockDuration once it exceeds
// maxFailures rejected tokens within windowDuration.
type AuthFailureLimiter struct {
	mu             sync.RWMutex
	attempts       map[string]*AttemptRecord
	maxFailures    int
	windowDuration time.Duration
	blockDuration  time.Duration
	stop           chan struct{}
	stopOnce       sync.Once
}

func NewAuthFailureLimiter(maxFailures int, windowDuration, blockDuration time.Duration) *AuthFailureLimiter {
	limiter := &AuthFailureLimiter{
		attempts:       make(map[string]*AttemptRecord),
		maxFailures:    maxFailures,
		windowDuration: windowDuration,
		blockDuration:  blockDuration,
		stop:           make(chan struct{}),
	}

	go limiter.cleanup()

	return limiter
}

// Blocked reports whether clientID is currently locked out and for how long.
func (r *AuthFailureLimiter) Blocked(clientID string) (bool, time.Duration) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, exists := r.attempts[clientID]
	if !exists {
		return false, 0
	}
	if remaining := time.Until(record.BlockedUntil); remaining > 0 {
		return true, remaining
	}
	return false, 0
}

// RecordFailure counts a rejected token and returns the block duration when
// this failure tipped the client over the limit.
func (r *AuthFailureLimiter) RecordFailure(clientID string) (bool, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	record, exists := r.attempts[clientID]
	if !exists {
		record = &AttemptRecord{LastAttempt: now}
		r.attempts[clientID] = record
	}

	if now.Sub(record.LastAttempt) > r.windowDuration {
		record.Count = 0
	}

	record.Count++
	record.LastAttempt = now

	if record.Count > r.maxFailures {
		record.BlockedUntil = now.Add(r.blockDuration)
		return true, r.blockDuration
	}
	return false, 0
}

func (r *AuthFailureLimiter) Reset(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.attempts, clientID)
}

// Close stops the background cleanup.
func (r *AuthFailureLimiter) Close() {
	r.stopOnce.Do(func() { close(r.stop) })
}

func (r *AuthFailureLimiter) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.prune(time.Now())
		}
	}
}

func (r *AuthFailureLimiter) prune(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for clientID, record := range r.attempts {
		if now.Sub(record.LastAttempt) > r.windowDuration*2 && now.After(record.BlockedUntil) {
			delete(r.attempts, clientID)
		}
	}
}
