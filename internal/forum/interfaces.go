package forum

import (
	"context"
	"net/http"
	"time"
)

// SessionProvider makes sure the browsing session carries valid credentials.
type SessionProvider interface {
	EnsureAuthenticated(ctx context.Context) (bool, error)
}

// Navigator renders pages in the main crawl context. Calls are sequential.
type Navigator interface {
	Render(ctx context.Context, url string) (RenderedPage, error)
}

// AttachmentResolver visits an attachment page in an auxiliary context.
type AttachmentResolver interface {
	ResolveAttachment(ctx context.Context, url string) (Resolution, error)
}

// AssetFetcher downloads asset bytes directly.
type AssetFetcher interface {
	Fetch(ctx context.Context, url string) (Asset, error)
}

// CookieSink accepts session cookies.
type CookieSink interface {
	SetCookies(ctx context.Context, cookies []*http.Cookie) error
}

// PageExtractor turns a rendered thread page into structured records.
type PageExtractor interface {
	ExtractPosts(page RenderedPage) ([]PostRecord, error)
	ExtractTotalPageCount(page RenderedPage) (int, error)
}

// ListingExtractor turns a rendered forum listing page into thread summaries.
type ListingExtractor interface {
	ExtractThreads(page RenderedPage) ([]Thread, error)
}

// Ownership decides whether the current worker owns a thread.
type Ownership interface {
	Owns(threadID int64) bool
}

// Gateway persists threads, posts, media rows, and checkpoints.
type Gateway interface {
	UpsertThread(ctx context.Context, thread Thread) error
	UpsertPost(ctx context.Context, post Post) error
	ReplacePostMedia(ctx context.Context, threadID, postID int64, mediaType MediaType, assets []MediaAsset) error
	UpdateCheckpoint(ctx context.Context, threadID int64, lastSyncedPage int, syncedThrough *time.Time) error
	FindThreadsNeedingSync(ctx context.Context, owner Ownership, limit int) ([]Thread, error)
}

// BlobStore writes asset bytes and returns the durable link.
type BlobStore interface {
	PutObject(ctx context.Context, key string, contentType string, data []byte) (string, error)
}

// ProcessControl restarts the browser automation process.
type ProcessControl interface {
	RestartBrowserProcess(ctx context.Context) error
}

// HostControl restarts the whole host.
type HostControl interface {
	RestartHost(ctx context.Context) error
}

// Publisher pushes notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
