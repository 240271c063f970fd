package postgres

import (
	"context"
	"fmt"
)

// Schema is the DDL EnsureSchema applies. Every statement is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS threads (
	id               BIGINT PRIMARY KEY,
	title            TEXT NOT NULL DEFAULT '',
	creator          TEXT NOT NULL DEFAULT '',
	url              TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ,
	reply_count      INTEGER NOT NULL DEFAULT 0,
	view_count       INTEGER NOT NULL DEFAULT 0,
	last_activity_at TIMESTAMPTZ NOT NULL,
	last_synced_page INTEGER NOT NULL DEFAULT 0,
	synced_through   TIMESTAMPTZ,
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS threads_needing_sync_idx
	ON threads (last_activity_at DESC)
	WHERE synced_through IS NULL OR synced_through < last_activity_at;

CREATE TABLE IF NOT EXISTS posts (
	id         BIGINT PRIMARY KEY,
	thread_id  BIGINT NOT NULL REFERENCES threads (id) ON DELETE CASCADE,
	author     TEXT NOT NULL DEFAULT '',
	content    TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ,
	like_count INTEGER NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS posts_thread_idx ON posts (thread_id);

CREATE TABLE IF NOT EXISTS media_assets (
	id            BIGSERIAL PRIMARY KEY,
	thread_id     BIGINT NOT NULL,
	post_id       BIGINT NOT NULL REFERENCES posts (id) ON DELETE CASCADE,
	link          TEXT NOT NULL,
	media_type    TEXT NOT NULL CHECK (media_type IN ('image', 'video')),
	has_thumbnail BOOLEAN NOT NULL DEFAULT FALSE,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS media_assets_post_type_idx ON media_assets (post_id, media_type);
`

// EnsureSchema creates the tables and indexes when they are missing.
func (g *Gateway) EnsureSchema(ctx context.Context) error {
	if _, err := g.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
