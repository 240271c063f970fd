// Package guardian keeps a long crawl alive by recycling the browser process
// on a page budget and escalating to a host restart when memory runs out.
package guardian

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/forum-harvester/internal/forum"
	"github.com/JakeFAU/forum-harvester/internal/metrics"
)

// Recycle reasons.
const (
	ReasonPageBudget = "page_budget"
	ReasonPageRetry  = "page_retry"
	ReasonMemory     = "memory"
)

// MemorySampler reports available host memory.
type MemorySampler interface {
	AvailableBytes(ctx context.Context) (uint64, error)
}

// Config tunes the guardian.
type Config struct {
	// RecycleEvery is the number of checkpoints between browser restarts.
	RecycleEvery int
	// MemoryFloorBytes triggers a host restart when available memory drops below it.
	MemoryFloorBytes uint64
	SampleInterval   time.Duration
}

func (c Config) withDefaults() Config {
	if c.RecycleEvery <= 0 {
		c.RecycleEvery = 50
	}
	if c.MemoryFloorBytes == 0 {
		c.MemoryFloorBytes = 512 << 20
	}
	if c.SampleInterval <= 0 {
		c.SampleInterval = 30 * time.Second
	}
	return c
}

// Guardian owns the page counter and the memory watchdog.
type Guardian struct {
	cfg     Config
	proc    forum.ProcessControl
	host    forum.HostControl
	sampler MemorySampler
	logger  *zap.Logger

	pages         atomic.Int64
	mu            sync.Mutex // serialises browser restarts
	hostRestarted atomic.Bool
}

// New builds a Guardian. sampler and host may be nil to disable the watchdog.
func New(cfg Config, proc forum.ProcessControl, host forum.HostControl, sampler MemorySampler, logger *zap.Logger) *Guardian {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guardian{
		cfg:     cfg.withDefaults(),
		proc:    proc,
		host:    host,
		sampler: sampler,
		logger:  logger.Named("guardian"),
	}
}

// OnCheckpoint counts a persisted page.
func (g *Guardian) OnCheckpoint() {
	g.pages.Add(1)
}

// PagesSinceRecycle returns the checkpoint count since the last restart.
func (g *Guardian) PagesSinceRecycle() int64 {
	return g.pages.Load()
}

// ShouldRecycle reports whether the page budget has been spent.
func (g *Guardian) ShouldRecycle() bool {
	return g.pages.Load() >= int64(g.cfg.RecycleEvery)
}

// Recycle restarts the browser process and resets the page counter.
func (g *Guardian) Recycle(ctx context.Context, reason string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.logger.Info("recycling browser",
		zap.String("reason", reason),
		zap.Int64("pages_since_recycle", g.pages.Load()),
	)
	metrics.ObserveRecycle(reason)
	if g.proc == nil {
		g.pages.Store(0)
		return nil
	}
	if err := g.proc.RestartBrowserProcess(ctx); err != nil {
		return fmt.Errorf("restart browser (%s): %w", reason, err)
	}
	g.pages.Store(0)
	return nil
}

// CheckMemory samples memory once. It returns true when the floor was
// breached and a host restart was requested.
func (g *Guardian) CheckMemory(ctx context.Context) (bool, error) {
	if g.sampler == nil {
		return false, nil
	}
	available, err := g.sampler.AvailableBytes(ctx)
	if err != nil {
		return false, fmt.Errorf("sample memory: %w", err)
	}
	metrics.SetAvailableMemory(available)
	if available >= g.cfg.MemoryFloorBytes {
		return false, nil
	}

	g.logger.Error("available memory below floor",
		zap.Uint64("available_bytes", available),
		zap.Uint64("floor_bytes", g.cfg.MemoryFloorBytes),
	)
	// Only one restart request is outstanding; the restart is expected to end this process.
	if !g.hostRestarted.CompareAndSwap(false, true) {
		return true, nil
	}
	metrics.ObserveHostRestart()
	if g.host == nil {
		return true, fmt.Errorf("%w: no host control configured", forum.ErrMemoryExhaustion)
	}
	if err := g.host.RestartHost(ctx); err != nil {
		// A later sample asks again.
		g.hostRestarted.Store(false)
		return true, fmt.Errorf("%w: restart host: %w", forum.ErrMemoryExhaustion, err)
	}
	return true, nil
}

// Watch samples memory every SampleInterval until ctx ends.
func (g *Guardian) Watch(ctx context.Context) {
	if g.sampler == nil {
		return
	}
	ticker := time.NewTicker(g.cfg.SampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := g.CheckMemory(ctx); err != nil && !errors.Is(err, context.Canceled) {
				g.logger.Warn("memory check failed", zap.Error(err))
			}
		}
	}
}
