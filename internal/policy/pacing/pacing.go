// Package pacing holds the single delay primitive used between navigations,
// retries and threads.
package pacing

import (
	"context"
	"time"
)

// Pauser waits for a delay or until ctx ends.
type Pauser interface {
	Pause(ctx context.Context, delay time.Duration) error
}

// Timer pauses using a real timer.
type Timer struct{}

// Pause blocks for delay. It returns ctx.Err() when interrupted.
func (Timer) Pause(ctx context.Context, delay time.Duration) error {
	return Pause(ctx, delay)
}

// Pause blocks for delay or until ctx is done.
func Pause(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Skip is a Pauser that never waits. Tests use it to keep runs fast.
type Skip struct{}

// Pause returns immediately unless ctx is already done.
func (Skip) Pause(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}
