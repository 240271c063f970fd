package worker

import (
	"context"

	"go.uber.org/zap"
)

// discover renders the configured listing pages and upserts the owned
// threads found there. Failures are logged; selection still runs on what
// the gateway already knows.
func (w *Worker) discover(ctx context.Context, logger *zap.Logger) int {
	upserted := 0
	for _, url := range w.cfg.DiscoveryURLs {
		if ctx.Err() != nil {
			break
		}
		if w.deps.Limiter != nil {
			if err := w.deps.Limiter.Wait(ctx, url); err != nil {
				break
			}
		}
		page, err := w.deps.Navigator.Render(ctx, url)
		if err != nil {
			logger.Warn("render listing failed", zap.String("url", url), zap.Error(err))
			continue
		}
		threads, err := w.deps.Listing.ExtractThreads(page)
		if err != nil {
			logger.Warn("extract listing failed", zap.String("url", url), zap.Error(err))
			continue
		}
		for _, t := range threads {
			if !w.deps.Owner.Owns(t.ID) {
				continue
			}
			if err := w.deps.Gateway.UpsertThread(ctx, t); err != nil {
				logger.Warn("upsert discovered thread failed", zap.Int64("thread_id", t.ID), zap.Error(err))
				continue
			}
			upserted++
		}
	}
	logger.Debug("discovery finished", zap.Int("threads", upserted))
	return upserted
}
