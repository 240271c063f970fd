// Package worker implements the crawl orchestrator: it selects the threads
// this worker owns, walks their pages in order, and persists posts, media
// and checkpoints page by page.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/forum-harvester/internal/forum"
	"github.com/JakeFAU/forum-harvester/internal/guardian"
	"github.com/JakeFAU/forum-harvester/internal/ingest"
	"github.com/JakeFAU/forum-harvester/internal/metrics"
	"github.com/JakeFAU/forum-harvester/internal/policy/pacing"
	"github.com/JakeFAU/forum-harvester/internal/retry"
)

// TopicThreadSynced is the notification published when a thread completes.
const TopicThreadSynced = "thread.synced"

// Thread outcome labels.
const (
	OutcomeCompleted   = "completed"
	OutcomeAbandoned   = "abandoned"
	OutcomeInterrupted = "interrupted"
)

// Config controls Worker behavior.
type Config struct {
	// ThreadURLTemplate builds a thread URL from its id when the stored URL is empty.
	ThreadURLTemplate string
	// PageSuffix is appended to the thread URL for pages after the first.
	PageSuffix string
	// BatchLimit caps threads per pass. Zero selects every eligible thread.
	BatchLimit int
	// PageAttempts bounds attempts per page before the thread is abandoned.
	PageAttempts int
	// RetryDelay is the linear backoff base between page attempts. Negative disables it.
	RetryDelay time.Duration
	// ThreadPacing is slept between threads.
	ThreadPacing time.Duration
	// PagePacing is slept between pages of one thread.
	PagePacing time.Duration
	// DiscoveryURLs are listing pages scanned for new activity before selection.
	DiscoveryURLs []string
	// Topic overrides TopicThreadSynced.
	Topic string
}

func (c Config) withDefaults() Config {
	if c.PageSuffix == "" {
		c.PageSuffix = "page-%d"
	}
	if c.PageAttempts <= 0 {
		c.PageAttempts = 3
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = 5 * time.Second
	}
	if c.ThreadPacing == 0 {
		c.ThreadPacing = 3 * time.Second
	}
	if c.Topic == "" {
		c.Topic = TopicThreadSynced
	}
	return c
}

// MediaIngester stores the media of one page of posts.
type MediaIngester interface {
	Ingest(ctx context.Context, threadID int64, posts []ingest.PostMedia) (ingest.Result, error)
}

// Recycler is the part of the resource guardian the orchestrator drives.
type Recycler interface {
	OnCheckpoint()
	ShouldRecycle() bool
	Recycle(ctx context.Context, reason string) error
}

// Limiter throttles navigations per host.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Deps are the collaborators of a Worker. Listing, Publisher and Limiter
// are optional.
type Deps struct {
	Gateway   forum.Gateway
	Owner     forum.Ownership
	Session   forum.SessionProvider
	Navigator forum.Navigator
	Extractor forum.PageExtractor
	Listing   forum.ListingExtractor
	Ingester  MediaIngester
	Guardian  Recycler
	Publisher forum.Publisher
	Limiter   Limiter
	Clock     forum.Clock
	IDs       forum.IDGenerator
	Pauser    pacing.Pauser
}

// Worker runs sync passes over the threads it owns.
type Worker struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger
	status *statusTracker
}

// New constructs a Worker.
func New(cfg Config, deps Deps, logger *zap.Logger) (*Worker, error) {
	switch {
	case deps.Gateway == nil:
		return nil, errors.New("worker: gateway is required")
	case deps.Owner == nil:
		return nil, errors.New("worker: ownership is required")
	case deps.Navigator == nil || deps.Extractor == nil:
		return nil, errors.New("worker: navigator and extractor are required")
	case deps.Ingester == nil:
		return nil, errors.New("worker: media ingester is required")
	case deps.Clock == nil || deps.IDs == nil:
		return nil, errors.New("worker: clock and id generator are required")
	}
	if deps.Pauser == nil {
		deps.Pauser = pacing.Timer{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		cfg:    cfg.withDefaults(),
		deps:   deps,
		logger: logger.Named("worker"),
		status: newStatusTracker(fmt.Sprint(deps.Owner)),
	}, nil
}

// PassReport summarises one sync pass.
type PassReport struct {
	RunID      string       `json:"run_id"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Discovered int          `json:"discovered"`
	Selected   int          `json:"selected"`
	Completed  int          `json:"completed"`
	Abandoned  int          `json:"abandoned"`
	Pages      int          `json:"pages"`
	Posts      int          `json:"posts"`
	Media      ingest.Stats `json:"media"`
}

// SyncNotification is the thread.synced payload.
type SyncNotification struct {
	RunID         string    `json:"run_id"`
	Partition     string    `json:"partition"`
	ThreadID      int64     `json:"thread_id"`
	Title         string    `json:"title"`
	URL           string    `json:"url"`
	Pages         int       `json:"pages"`
	SyncedThrough time.Time `json:"synced_through"`
}

// RunOnce authenticates, optionally discovers threads, and syncs every
// eligible owned thread once. Thread failures are absorbed; the returned
// error reports session loss, selection failure or cancellation.
func (w *Worker) RunOnce(ctx context.Context) (report PassReport, err error) {
	runID, err := w.deps.IDs.NewID()
	if err != nil {
		return PassReport{}, fmt.Errorf("generate run id: %w", err)
	}
	report = PassReport{RunID: runID, StartedAt: w.deps.Clock.Now()}
	logger := w.logger.With(zap.String("run_id", runID))
	w.status.passStarted(runID)
	defer func() {
		report.FinishedAt = w.deps.Clock.Now()
		metrics.ObservePass(report.FinishedAt.Sub(report.StartedAt))
		w.status.passFinished(report)
	}()

	if err := w.authenticate(ctx); err != nil {
		return report, err
	}

	if len(w.cfg.DiscoveryURLs) > 0 && w.deps.Listing != nil {
		report.Discovered = w.discover(ctx, logger)
	}

	threads, err := w.deps.Gateway.FindThreadsNeedingSync(ctx, w.deps.Owner, w.cfg.BatchLimit)
	if err != nil {
		return report, fmt.Errorf("select threads: %w", err)
	}
	report.Selected = len(threads)
	logger.Info("sync pass started", zap.Int("threads", len(threads)), zap.String("partition", w.status.partition))

	for i, thread := range threads {
		if i > 0 {
			if err := w.deps.Pauser.Pause(ctx, w.cfg.ThreadPacing); err != nil {
				break
			}
		}
		if ctx.Err() != nil {
			break
		}
		result := w.syncThread(ctx, runID, thread)
		report.Pages += result.pages
		report.Posts += result.posts
		report.Media = addStats(report.Media, result.media)
		switch result.outcome {
		case OutcomeCompleted:
			report.Completed++
		case OutcomeAbandoned:
			report.Abandoned++
		}
		if result.err != nil {
			logger.Error("sync pass stopped: session lost", zap.Int64("thread_id", thread.ID), zap.Error(result.err))
			return report, result.err
		}
	}

	logger.Info("sync pass finished",
		zap.Int("selected", report.Selected),
		zap.Int("completed", report.Completed),
		zap.Int("abandoned", report.Abandoned),
		zap.Int("pages", report.Pages),
	)
	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("sync pass interrupted: %w", err)
	}
	return report, nil
}

// Status returns a snapshot of the worker's progress.
func (w *Worker) Status() Status {
	return w.status.snapshot()
}

func (w *Worker) authenticate(ctx context.Context) error {
	if w.deps.Session == nil {
		return nil
	}
	ok, err := w.deps.Session.EnsureAuthenticated(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", forum.ErrSessionUnavailable, err)
	}
	if !ok {
		return forum.ErrSessionUnavailable
	}
	return nil
}

type threadResult struct {
	outcome string
	err     error
	pages   int
	posts   int
	media   ingest.Stats
}

type pageResult struct {
	total  int
	beyond bool
	posts  int
	media  ingest.Stats
}

func (w *Worker) syncThread(ctx context.Context, runID string, thread forum.Thread) threadResult {
	logger := w.logger.With(zap.String("run_id", runID), zap.Int64("thread_id", thread.ID))
	var result threadResult

	page := thread.ResumePage()
	total := page
	clamped := false
	w.status.threadState(thread.ID, page, forum.StatePaginating)
	logger.Debug("thread selected", zap.Int("resume_page", page), zap.Int("last_synced_page", thread.LastSyncedPage))

	for page <= total {
		w.status.threadState(thread.ID, page, forum.StatePaginating)
		pr, err := w.syncPageWithRetry(ctx, logger, thread, page)
		if err != nil {
			if ctx.Err() != nil {
				result.outcome = OutcomeInterrupted
				w.status.threadState(thread.ID, page, forum.StateIdle)
				metrics.ObserveThread(OutcomeInterrupted)
				return result
			}
			result.outcome = OutcomeAbandoned
			if errors.Is(err, forum.ErrSessionUnavailable) {
				result.err = err
			}
			w.status.threadState(thread.ID, page, forum.StateExhausted)
			metrics.ObserveThread(OutcomeAbandoned)
			logger.Warn("thread abandoned for this run",
				zap.Int("page", page),
				zap.Int("checkpoint", max(page-1, thread.LastSyncedPage)),
				zap.Error(err),
			)
			return result
		}
		total = pr.total
		if pr.beyond {
			if clamped || (thread.SyncedThrough == nil && thread.LastSyncedPage == total) {
				// Interrupted first sync whose checkpoint already covers every page.
				break
			}
			// The thread shrank below its checkpoint; new activity is on the last page.
			clamped = true
			logger.Info("resume page beyond thread end; rescraping last page",
				zap.Int("resume_page", page), zap.Int("total_pages", total))
			page = total
			continue
		}
		result.pages++
		result.posts += pr.posts
		result.media = addStats(result.media, pr.media)

		if page >= total {
			break
		}
		page++
		w.status.threadState(thread.ID, page, forum.StateAdvancing)
		w.betweenPages(ctx, logger)
		if ctx.Err() != nil {
			result.outcome = OutcomeInterrupted
			metrics.ObserveThread(OutcomeInterrupted)
			return result
		}
	}

	if err := w.complete(ctx, runID, thread, total); err != nil {
		result.outcome = OutcomeAbandoned
		w.status.threadState(thread.ID, total, forum.StateExhausted)
		metrics.ObserveThread(OutcomeAbandoned)
		logger.Warn("thread completion failed", zap.Int("total_pages", total), zap.Error(err))
		return result
	}
	result.outcome = OutcomeCompleted
	w.status.threadState(thread.ID, total, forum.StateCompleted)
	metrics.ObserveThread(OutcomeCompleted)
	logger.Info("thread synced", zap.Int("total_pages", total), zap.Int("pages", result.pages), zap.Int("posts", result.posts))
	return result
}

// betweenPages spends the recycle budget and paces navigation. It never runs mid-page.
func (w *Worker) betweenPages(ctx context.Context, logger *zap.Logger) {
	if w.deps.Guardian != nil && w.deps.Guardian.ShouldRecycle() {
		if err := w.recycle(ctx, guardian.ReasonPageBudget); err != nil {
			logger.Warn("scheduled recycle failed", zap.Error(err))
		}
	}
	if err := w.deps.Pauser.Pause(ctx, w.cfg.PagePacing); err != nil {
		logger.Debug("page pacing interrupted", zap.Error(err))
	}
}

// recycle restarts the browser through the guardian and re-authenticates.
func (w *Worker) recycle(ctx context.Context, reason string) error {
	if w.deps.Guardian == nil {
		return nil
	}
	if err := w.deps.Guardian.Recycle(ctx, reason); err != nil {
		return err
	}
	return w.authenticate(ctx)
}

// retryablePageError rejects failures another attempt cannot fix: a lost
// session or a cancelled operation.
func retryablePageError(err error) bool {
	return !errors.Is(err, forum.ErrSessionUnavailable) && !errors.Is(err, context.Canceled)
}

func (w *Worker) syncPageWithRetry(ctx context.Context, logger *zap.Logger, thread forum.Thread, page int) (pageResult, error) {
	attempt := 0
	policy := retry.Policy{
		MaxAttempts: w.cfg.PageAttempts,
		BaseDelay:   w.cfg.RetryDelay,
		Retryable:   retryablePageError,
		OnRetry: func(n int, wait time.Duration, err error) {
			metrics.ObserveRetry("page")
			logger.Warn("page attempt failed",
				zap.Int("page", page),
				zap.Int("attempt", n),
				zap.Duration("backoff", wait),
				zap.Error(err),
			)
		},
	}
	return retry.Value(ctx, policy, func(ctx context.Context) (pageResult, error) {
		attempt++
		if attempt > 1 {
			w.status.threadState(thread.ID, page, forum.StateRetrying)
			if err := w.recycle(ctx, guardian.ReasonPageRetry); err != nil {
				return pageResult{}, fmt.Errorf("recycle before retry: %w", err)
			}
		}
		pr, err := w.syncPage(ctx, thread, page)
		if err != nil {
			metrics.ObservePage("failed")
			return pageResult{}, err
		}
		if !pr.beyond {
			metrics.ObservePage("synced")
		}
		return pr, nil
	})
}

// syncPage renders, extracts, ingests and persists one page, then writes
// its checkpoint.
func (w *Worker) syncPage(ctx context.Context, thread forum.Thread, page int) (pageResult, error) {
	url := w.pageURL(thread, page)
	if w.deps.Limiter != nil {
		if err := w.deps.Limiter.Wait(ctx, url); err != nil {
			return pageResult{}, fmt.Errorf("rate limit wait: %w", err)
		}
	}
	rendered, err := w.deps.Navigator.Render(ctx, url)
	if err != nil {
		return pageResult{}, fmt.Errorf("render page %d: %w", page, err)
	}

	total, err := w.deps.Extractor.ExtractTotalPageCount(rendered)
	if err != nil {
		return pageResult{}, fmt.Errorf("%w: total page count on page %d: %w", forum.ErrExtraction, page, err)
	}
	total = max(total, 1)
	if page > total {
		return pageResult{total: total, beyond: true}, nil
	}

	records, err := w.deps.Extractor.ExtractPosts(rendered)
	if err != nil {
		return pageResult{}, fmt.Errorf("%w: posts on page %d: %w", forum.ErrExtraction, page, err)
	}

	postMedia := make([]ingest.PostMedia, 0, len(records))
	for _, rec := range records {
		postMedia = append(postMedia, ingest.PostMedia{PostID: rec.Post.ID, Media: rec.Media})
	}
	stored, err := w.deps.Ingester.Ingest(ctx, thread.ID, postMedia)
	if err != nil {
		return pageResult{}, fmt.Errorf("ingest media on page %d: %w", page, err)
	}

	if err := w.persist(ctx, thread.ID, records, stored); err != nil {
		return pageResult{}, err
	}
	if err := w.deps.Gateway.UpdateCheckpoint(ctx, thread.ID, page, nil); err != nil {
		return pageResult{}, fmt.Errorf("checkpoint page %d: %w", page, err)
	}
	if w.deps.Guardian != nil {
		w.deps.Guardian.OnCheckpoint()
	}
	return pageResult{total: total, posts: len(records), media: stored.Stats}, nil
}

// persist upserts the page's posts and replaces every media row they own,
// so a post whose media shrank loses the stale rows.
func (w *Worker) persist(ctx context.Context, threadID int64, records []forum.PostRecord, stored ingest.Result) error {
	for _, rec := range records {
		post := rec.Post
		post.ThreadID = threadID
		if err := w.deps.Gateway.UpsertPost(ctx, post); err != nil {
			return err
		}
	}
	for _, rec := range records {
		byType := make(map[forum.MediaType][]forum.MediaAsset, len(forum.MediaTypes))
		for _, a := range stored.Assets[rec.Post.ID] {
			byType[a.Type] = append(byType[a.Type], forum.MediaAsset{
				ThreadID:     threadID,
				PostID:       rec.Post.ID,
				Link:         a.Link,
				Type:         a.Type,
				HasThumbnail: a.HasThumbnail,
			})
		}
		for _, mediaType := range forum.MediaTypes {
			if err := w.deps.Gateway.ReplacePostMedia(ctx, threadID, rec.Post.ID, mediaType, byType[mediaType]); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *Worker) complete(ctx context.Context, runID string, thread forum.Thread, total int) error {
	through := thread.LastActivityAt
	if err := w.deps.Gateway.UpdateCheckpoint(ctx, thread.ID, total, &through); err != nil {
		return fmt.Errorf("mark thread synced: %w", err)
	}
	if w.deps.Publisher == nil {
		return nil
	}
	payload := SyncNotification{
		RunID:         runID,
		Partition:     w.status.partition,
		ThreadID:      thread.ID,
		Title:         thread.Title,
		URL:           w.threadURL(thread),
		Pages:         total,
		SyncedThrough: through,
	}
	if _, err := w.deps.Publisher.Publish(ctx, w.cfg.Topic, payload); err != nil {
		// Notifications are best-effort; the checkpoint already stands.
		w.logger.Warn("publish sync notification failed", zap.Int64("thread_id", thread.ID), zap.Error(err))
	}
	return nil
}

func addStats(a, b ingest.Stats) ingest.Stats {
	return ingest.Stats{
		Tasks:      a.Tasks + b.Tasks,
		Stored:     a.Stored + b.Stored,
		Thumbnails: a.Thumbnails + b.Thumbnails,
		Embedded:   a.Embedded + b.Embedded,
		Failed:     a.Failed + b.Failed,
	}
}
