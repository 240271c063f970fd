// Package postgres persists threads, posts, media rows and sync checkpoints.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/forum-harvester/internal/forum"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// partitioned is implemented by ownership rules that can be evaluated in SQL.
type partitioned interface {
	Index() int
	Count() int
}

// Gateway implements forum.Gateway on Postgres.
type Gateway struct {
	pool pool
}

// New connects a pgx pool using cfg.
func New(ctx context.Context, cfg Config) (*Gateway, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Gateway{pool: p}, nil
}

// NewWithPool wraps an existing pool (primarily for testing).
func NewWithPool(p pool) (*Gateway, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Gateway{pool: p}, nil
}

// Ping checks connectivity.
func (g *Gateway) Ping(ctx context.Context) error {
	if err := g.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: ping: %w", forum.ErrPersistence, err)
	}
	return nil
}

// Close releases the pool.
func (g *Gateway) Close() {
	if g == nil || g.pool == nil {
		return
	}
	g.pool.Close()
}

const upsertThreadSQL = `
INSERT INTO threads (id, title, creator, url, created_at, reply_count, view_count, last_activity_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO UPDATE SET
	title = EXCLUDED.title,
	creator = EXCLUDED.creator,
	url = EXCLUDED.url,
	reply_count = EXCLUDED.reply_count,
	view_count = EXCLUDED.view_count,
	last_activity_at = GREATEST(threads.last_activity_at, EXCLUDED.last_activity_at),
	updated_at = now()`

// UpsertThread inserts or refreshes thread metadata. Checkpoint columns are
// owned by UpdateCheckpoint and never written here.
func (g *Gateway) UpsertThread(ctx context.Context, t forum.Thread) error {
	_, err := g.pool.Exec(ctx, upsertThreadSQL,
		t.ID, t.Title, t.Creator, t.URL, t.CreatedAt, t.ReplyCount, t.ViewCount, t.LastActivityAt)
	if err != nil {
		return fmt.Errorf("%w: upsert thread %d: %w", forum.ErrPersistence, t.ID, err)
	}
	return nil
}

const upsertPostSQL = `
INSERT INTO posts (id, thread_id, author, content, created_at, like_count)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE SET
	thread_id = EXCLUDED.thread_id,
	author = EXCLUDED.author,
	content = EXCLUDED.content,
	created_at = EXCLUDED.created_at,
	like_count = EXCLUDED.like_count,
	updated_at = now()`

// UpsertPost inserts or replaces a post row.
func (g *Gateway) UpsertPost(ctx context.Context, p forum.Post) error {
	_, err := g.pool.Exec(ctx, upsertPostSQL, p.ID, p.ThreadID, p.Author, p.Content, p.CreatedAt, p.LikeCount)
	if err != nil {
		return fmt.Errorf("%w: upsert post %d: %w", forum.ErrPersistence, p.ID, err)
	}
	return nil
}

const (
	deleteMediaSQL = `DELETE FROM media_assets WHERE post_id = $1 AND media_type = $2`
	insertMediaSQL = `
INSERT INTO media_assets (thread_id, post_id, link, media_type, has_thumbnail)
VALUES ($1, $2, $3, $4, $5)`
)

// ReplacePostMedia deletes every row of mediaType for the post and inserts
// assets in one transaction.
func (g *Gateway) ReplacePostMedia(ctx context.Context, threadID, postID int64, mediaType forum.MediaType, assets []forum.MediaAsset) error {
	tx, err := g.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin media replace for post %d: %w", forum.ErrPersistence, postID, err)
	}
	if err := replaceMedia(ctx, tx, threadID, postID, mediaType, assets); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return fmt.Errorf("%w: %w (rollback: %v)", forum.ErrPersistence, err, rbErr)
		}
		return fmt.Errorf("%w: %w", forum.ErrPersistence, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit media replace for post %d: %w", forum.ErrPersistence, postID, err)
	}
	return nil
}

func replaceMedia(ctx context.Context, tx pgx.Tx, threadID, postID int64, mediaType forum.MediaType, assets []forum.MediaAsset) error {
	if _, err := tx.Exec(ctx, deleteMediaSQL, postID, string(mediaType)); err != nil {
		return fmt.Errorf("delete %s media for post %d: %w", mediaType, postID, err)
	}
	for _, a := range assets {
		if _, err := tx.Exec(ctx, insertMediaSQL, threadID, postID, a.Link, string(mediaType), a.HasThumbnail); err != nil {
			return fmt.Errorf("insert %s media for post %d: %w", mediaType, postID, err)
		}
	}
	return nil
}

const updateCheckpointSQL = `
UPDATE threads SET
	last_synced_page = GREATEST(last_synced_page, $2),
	synced_through = COALESCE($3, synced_through),
	updated_at = now()
WHERE id = $1`

// UpdateCheckpoint advances last_synced_page (never backwards) and, when
// syncedThrough is set, marks the sync watermark.
func (g *Gateway) UpdateCheckpoint(ctx context.Context, threadID int64, lastSyncedPage int, syncedThrough *time.Time) error {
	tag, err := g.pool.Exec(ctx, updateCheckpointSQL, threadID, lastSyncedPage, syncedThrough)
	if err != nil {
		return fmt.Errorf("%w: update checkpoint for thread %d: %w", forum.ErrPersistence, threadID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: thread %d not found", forum.ErrPersistence, threadID)
	}
	return nil
}

const findThreadsSQL = `
SELECT id, title, creator, url, created_at, reply_count, view_count,
	last_activity_at, last_synced_page, synced_through
FROM threads
WHERE (synced_through IS NULL OR synced_through < last_activity_at)
	AND ($1::int <= 1 OR ((id % $1) + $1) % $1 = $2)
ORDER BY last_activity_at DESC, id ASC
LIMIT $3`

// FindThreadsNeedingSync returns owned threads whose watermark lags their
// activity, most recent first. Partition ownership is evaluated in SQL when
// owner exposes its coordinates, otherwise rows are filtered here.
func (g *Gateway) FindThreadsNeedingSync(ctx context.Context, owner forum.Ownership, limit int) ([]forum.Thread, error) {
	count, index := 1, 0
	filterLocally := false
	if p, ok := owner.(partitioned); ok {
		count, index = p.Count(), p.Index()
	} else if owner != nil {
		filterLocally = true
	}
	var sqlLimit any
	if limit > 0 && !filterLocally {
		sqlLimit = limit
	}

	rows, err := g.pool.Query(ctx, findThreadsSQL, count, index, sqlLimit)
	if err != nil {
		return nil, fmt.Errorf("%w: select threads: %w", forum.ErrPersistence, err)
	}
	defer rows.Close()

	var threads []forum.Thread
	for rows.Next() {
		var t forum.Thread
		if err := rows.Scan(
			&t.ID,
			&t.Title,
			&t.Creator,
			&t.URL,
			&t.CreatedAt,
			&t.ReplyCount,
			&t.ViewCount,
			&t.LastActivityAt,
			&t.LastSyncedPage,
			&t.SyncedThrough,
		); err != nil {
			return nil, fmt.Errorf("%w: scan thread: %w", forum.ErrPersistence, err)
		}
		if filterLocally && !owner.Owns(t.ID) {
			continue
		}
		threads = append(threads, t)
		if limit > 0 && len(threads) == limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate threads: %w", forum.ErrPersistence, err)
	}
	return threads, nil
}
