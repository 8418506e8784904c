package core

// limiter.go keeps import runs from overlapping.
//
// Two runs over the same registry snapshot window could both classify an
// order as new and race on its upsert, so the service admits at most
// maxConcurrent runs (one by default). A run that finds every slot taken
// waits up to maxWait and then fails with ErrTooManyImports.

import (
	"context"
	"errors"
	"time"
)

// ErrTooManyImports is returned when no import slot frees up in time.
var ErrTooManyImports = errors.New("too many imports in progress, please try again later")

// DefaultMaxConcurrentImports is the default number of parallel import runs.
const DefaultMaxConcurrentImports = 1

// DefaultMaxWaitTime is how long a run waits for a slot before giving up.
const DefaultMaxWaitTime = 10 * time.Second

// ImportLimiter is a semaphore over import runs.
type ImportLimiter struct {
	slots   chan struct{}
	maxWait time.Duration
}

// NewImportLimiter creates a limiter admitting maxConcurrent runs.
// Non-positive arguments fall back to the defaults.
func NewImportLimiter(maxConcurrent int, maxWait time.Duration) *ImportLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentImports
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWaitTime
	}
	return &ImportLimiter{
		slots:   make(chan struct{}, maxConcurrent),
		maxWait: maxWait,
	}
}

// Acquire takes a slot, waiting at most maxWait.
// The caller must call Release once the run finishes.
func (l *ImportLimiter) Acquire(ctx context.Context) error {
	timer := time.NewTimer(l.maxWait)
	defer timer.Stop()

	select {
	case l.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrTooManyImports
	}
}

// TryAcquire takes a slot only if one is free right now.
func (l *ImportLimiter) TryAcquire() bool {
	select {
	case l.slots <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release frees a slot taken by Acquire or TryAcquire.
func (l *ImportLimiter) Release() {
	<-l.slots
}

// ActiveCount returns the number of runs holding a slot.
func (l *ImportLimiter) ActiveCount() int {
	return len(l.slots)
}

// MaxConcurrent returns the slot count.
func (l *ImportLimiter) MaxConcurrent() int {
	return cap(l.slots)
}

// WaitForDrain blocks until no run holds a slot or ctx is done.
// Used on shutdown so in-flight chunks can commit.
func (l *ImportLimiter) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if l.ActiveCount() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ImportLimiterStatus is a snapshot of limiter state for the health endpoint.
type ImportLimiterStatus struct {
	Active        int `json:"active"`
	Available     int `json:"available"`
	MaxConcurrent int `json:"max_concurrent"`
}

// Status returns the current limiter state.
func (l *ImportLimiter) Status() ImportLimiterStatus {
	active := len(l.slots)
	return ImportLimiterStatus{
		Active:        active,
		Available:     cap(l.slots) - active,
		MaxConcurrent: cap(l.slots),
	}
}
