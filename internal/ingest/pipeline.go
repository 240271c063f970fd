// Package ingest relocates the media referenced by a page of posts into
// object storage.
//
// References are flattened into upload tasks and processed in fixed-size
// sub-batches: every task of a sub-batch is resolved and stored in parallel,
// and the byte buffers are released before the next sub-batch starts, so peak
// memory stays near BatchSize times the largest asset. Per-asset failures are
// logged and counted but never fail the page.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/forum-harvester/internal/forum"
	"github.com/JakeFAU/forum-harvester/internal/media"
	"github.com/JakeFAU/forum-harvester/internal/metrics"
	"github.com/JakeFAU/forum-harvester/internal/retry"
)

// Asset outcome labels.
const (
	StatusStored    = "stored"
	StatusThumbnail = "thumbnail"
	StatusEmbedded  = "embedded"
	StatusFailed    = "failed"
)

var errEmptyAsset = errors.New("empty asset body")

// Limiter throttles requests per host.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Config tunes the pipeline.
type Config struct {
	BatchSize       int
	DirectTimeout   time.Duration
	IndirectTimeout time.Duration
	KeyPrefix       string
	Retry           retry.Policy
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 20
	}
	if c.DirectTimeout <= 0 {
		c.DirectTimeout = 30 * time.Second
	}
	if c.IndirectTimeout <= 0 {
		c.IndirectTimeout = 2 * time.Minute
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = media.DefaultKeyPrefix
	}
	return c
}

// PostMedia is the pipeline input for one post.
type PostMedia struct {
	PostID int64
	Media  []forum.MediaReference
}

// Stats summarises one Ingest call.
type Stats struct {
	Tasks      int
	Stored     int
	Thumbnails int
	Embedded   int
	Failed     int
}

// Result maps post IDs to the full-size assets that were stored.
type Result struct {
	Assets map[int64][]forum.StoredAsset
	Stats  Stats
}

// Pipeline resolves and stores media references.
type Pipeline struct {
	cfg      Config
	fetcher  forum.AssetFetcher
	resolver forum.AttachmentResolver
	blobs    forum.BlobStore
	limiter  Limiter
	logger   *zap.Logger
}

// New wires a Pipeline. limiter may be nil.
func New(cfg Config, fetcher forum.AssetFetcher, resolver forum.AttachmentResolver, blobs forum.BlobStore, limiter Limiter, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		cfg:      cfg.withDefaults(),
		fetcher:  fetcher,
		resolver: resolver,
		blobs:    blobs,
		limiter:  limiter,
		logger:   logger.Named("ingest"),
	}
}

type refKey struct {
	postID   int64
	sequence int
}

type outcome struct {
	link    string
	stored  bool
	thumbOK bool
}

// Ingest processes every reference of posts. The returned error is non-nil
// only when ctx ends mid-run; the partial Result is still valid.
func (p *Pipeline) Ingest(ctx context.Context, threadID int64, posts []PostMedia) (Result, error) {
	tasks := p.plan(threadID, posts)
	result := Result{Assets: make(map[int64][]forum.StoredAsset), Stats: Stats{Tasks: len(tasks)}}
	if len(tasks) == 0 {
		return result, nil
	}

	outcomes := make(map[refKey]*outcome, len(tasks))
	var runErr error
	for start := 0; start < len(tasks); start += p.cfg.BatchSize {
		end := min(start+p.cfg.BatchSize, len(tasks))
		if err := p.runBatch(ctx, tasks[start:end], outcomes, &result.Stats); err != nil {
			runErr = err
			break
		}
	}

	for _, task := range tasks {
		if task.Thumbnail {
			continue
		}
		out := outcomes[refKey{task.PostID, task.Sequence}]
		if out == nil || !out.stored {
			continue
		}
		result.Assets[task.PostID] = append(result.Assets[task.PostID], forum.StoredAsset{
			Link:         out.link,
			Type:         task.Type,
			HasThumbnail: task.HasThumbnail && out.thumbOK,
		})
	}
	return result, runErr
}

// plan flattens deduplicated references into upload tasks. A reference that
// only carries a thumbnail is promoted to a full-size task.
func (p *Pipeline) plan(threadID int64, posts []PostMedia) []forum.UploadTask {
	var tasks []forum.UploadTask
	for _, post := range posts {
		for seq, ref := range media.Dedup(post.Media) {
			full, thumb := ref.FullURL, ref.ThumbURL
			if full == "" {
				full, thumb = thumb, ""
			}
			kind := media.Classify(full)
			tasks = append(tasks, forum.UploadTask{
				ThreadID:     threadID,
				PostID:       post.PostID,
				Sequence:     seq,
				SourceURL:    full,
				Key:          p.key(threadID, post.PostID, seq, full, false),
				Type:         kind,
				HasThumbnail: thumb != "",
			})
			if thumb != "" {
				tasks = append(tasks, forum.UploadTask{
					ThreadID:     threadID,
					PostID:       post.PostID,
					Sequence:     seq,
					SourceURL:    thumb,
					Key:          p.key(threadID, post.PostID, seq, thumb, true),
					Type:         kind,
					Thumbnail:    true,
					HasThumbnail: true,
				})
			}
		}
	}
	return tasks
}

func (p *Pipeline) key(threadID, postID int64, seq int, source string, thumb bool) string {
	return media.DeriveKey(media.KeyInput{
		Prefix:    p.cfg.KeyPrefix,
		ThreadID:  threadID,
		PostID:    postID,
		Sequence:  seq,
		SourceURL: source,
		Thumbnail: thumb,
	})
}

type taskResult struct {
	link string
	size int
	err  error
}

func (p *Pipeline) runBatch(ctx context.Context, batch []forum.UploadTask, outcomes map[refKey]*outcome, stats *Stats) error {
	results := make([]taskResult, len(batch))
	g, gctx := errgroup.WithContext(ctx)
	for i := range batch {
		g.Go(func() error {
			link, size, err := p.process(gctx, batch[i])
			results[i] = taskResult{link: link, size: size, err: err}
			// Only cancellation of the caller stops the batch.
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return nil
		})
	}
	waitErr := g.Wait()

	for i, task := range batch {
		res := results[i]
		key := refKey{task.PostID, task.Sequence}
		out := outcomes[key]
		if out == nil {
			out = &outcome{}
			outcomes[key] = out
		}
		if res.err != nil {
			stats.Failed++
			metrics.ObserveAsset(StatusFailed, 0)
			p.logger.Warn("media task failed",
				zap.Int64("thread_id", task.ThreadID),
				zap.Int64("post_id", task.PostID),
				zap.Int("sequence", task.Sequence),
				zap.Bool("thumbnail", task.Thumbnail),
				zap.String("url", task.SourceURL),
				zap.Error(res.err),
			)
			continue
		}
		switch {
		case task.Thumbnail:
			out.thumbOK = true
			stats.Thumbnails++
			metrics.ObserveAsset(StatusThumbnail, res.size)
		case media.IsEmbed(task.SourceURL):
			out.link, out.stored = res.link, true
			stats.Embedded++
			metrics.ObserveAsset(StatusEmbedded, 0)
		default:
			out.link, out.stored = res.link, true
			stats.Stored++
			metrics.ObserveAsset(StatusStored, res.size)
		}
	}
	if waitErr != nil {
		return fmt.Errorf("ingest batch: %w", waitErr)
	}
	return nil
}

// process resolves one task's bytes and stores them. Embed links are not
// downloadable and are recorded as-is.
func (p *Pipeline) process(ctx context.Context, task forum.UploadTask) (string, int, error) {
	if !task.Thumbnail && media.IsEmbed(task.SourceURL) {
		return task.SourceURL, 0, nil
	}
	asset, err := p.resolve(ctx, task)
	if err != nil {
		return "", 0, err
	}
	contentType := asset.ContentType
	if contentType == "" || strings.HasPrefix(contentType, "text/") {
		contentType = media.ContentType(media.ExtractExtension(task.Key))
	}
	link, err := retry.Value(ctx, p.policy("store"), func(ctx context.Context) (string, error) {
		return p.blobs.PutObject(ctx, task.Key, contentType, asset.Body)
	})
	if err != nil {
		return "", 0, fmt.Errorf("%w: %s: %w", forum.ErrStorageWrite, task.Key, err)
	}
	return link, len(asset.Body), nil
}

func (p *Pipeline) resolve(ctx context.Context, task forum.UploadTask) (forum.Asset, error) {
	indirect := media.IsIndirectReference(task.SourceURL)
	ceiling := p.cfg.DirectTimeout
	if indirect {
		ceiling = p.cfg.IndirectTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, ceiling)
	defer cancel()

	var (
		asset forum.Asset
		err   error
	)
	if indirect {
		asset, err = retry.Value(ctx, p.policy("resolve_attachment"), func(ctx context.Context) (forum.Asset, error) {
			return p.resolveIndirect(ctx, task.SourceURL)
		})
	} else {
		asset, err = retry.Value(ctx, p.policy("fetch_asset"), func(ctx context.Context) (forum.Asset, error) {
			return p.fetch(ctx, task.SourceURL)
		})
	}
	if err != nil {
		return forum.Asset{}, fmt.Errorf("%w: %s: %w", forum.ErrAssetResolution, task.SourceURL, err)
	}
	return asset, nil
}

func (p *Pipeline) resolveIndirect(ctx context.Context, pageURL string) (forum.Asset, error) {
	if p.resolver == nil {
		return p.fetch(ctx, pageURL)
	}
	res, err := p.resolver.ResolveAttachment(ctx, pageURL)
	if err != nil {
		return forum.Asset{}, fmt.Errorf("resolve attachment: %w", err)
	}
	if res.AssetURL != "" {
		return p.fetch(ctx, res.AssetURL)
	}
	if len(res.Body) == 0 {
		return forum.Asset{}, fmt.Errorf("attachment page %s: %w", pageURL, errEmptyAsset)
	}
	p.logger.Debug("no direct asset on attachment page, storing page body", zap.String("url", pageURL))
	return forum.Asset{URL: pageURL, ContentType: res.ContentType, Body: res.Body}, nil
}

func (p *Pipeline) fetch(ctx context.Context, rawURL string) (forum.Asset, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx, rawURL); err != nil {
			return forum.Asset{}, err
		}
	}
	asset, err := p.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return forum.Asset{}, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	if len(asset.Body) == 0 {
		return forum.Asset{}, fmt.Errorf("fetch %s: %w", rawURL, errEmptyAsset)
	}
	return asset, nil
}

func (p *Pipeline) policy(operation string) retry.Policy {
	policy := p.cfg.Retry
	next := policy.OnRetry
	policy.OnRetry = func(attempt int, wait time.Duration, err error) {
		metrics.ObserveRetry(operation)
		p.logger.Debug("retrying media operation",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
		if next != nil {
			next(attempt, wait, err)
		}
	}
	return policy
}
