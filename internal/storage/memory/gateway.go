package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/forum-harvester/internal/forum"
)

type mediaKey struct {
	postID int64
	kind   forum.MediaType
}

// Gateway is an in-memory forum.Gateway with the same upsert, replace and
// checkpoint semantics as the Postgres gateway.
type Gateway struct {
	mu      sync.RWMutex
	threads map[int64]forum.Thread
	posts   map[int64]forum.Post
	media   map[mediaKey][]forum.MediaAsset
	history map[int64][]int
}

// NewGateway constructs an empty Gateway.
func NewGateway() *Gateway {
	return &Gateway{
		threads: make(map[int64]forum.Thread),
		posts:   make(map[int64]forum.Post),
		media:   make(map[mediaKey][]forum.MediaAsset),
		history: make(map[int64][]int),
	}
}

// UpsertThread inserts or refreshes thread metadata. Checkpoint fields of an
// existing row are left untouched and LastActivityAt never moves backwards.
func (g *Gateway) UpsertThread(_ context.Context, thread forum.Thread) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if existing, ok := g.threads[thread.ID]; ok {
		thread.LastSyncedPage = existing.LastSyncedPage
		thread.SyncedThrough = existing.SyncedThrough
		if existing.LastActivityAt.After(thread.LastActivityAt) {
			thread.LastActivityAt = existing.LastActivityAt
		}
	}
	thread.SyncedThrough = copyTime(thread.SyncedThrough)
	g.threads[thread.ID] = thread
	return nil
}

// UpsertPost inserts or replaces a post.
func (g *Gateway) UpsertPost(_ context.Context, post forum.Post) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.posts[post.ID] = post
	return nil
}

// ReplacePostMedia swaps every media row of mediaType for postID.
func (g *Gateway) ReplacePostMedia(_ context.Context, _ int64, postID int64, mediaType forum.MediaType, assets []forum.MediaAsset) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := mediaKey{postID: postID, kind: mediaType}
	if len(assets) == 0 {
		delete(g.media, key)
		return nil
	}
	g.media[key] = append([]forum.MediaAsset(nil), assets...)
	return nil
}

// UpdateCheckpoint advances the checkpoint. The page never moves backwards.
func (g *Gateway) UpdateCheckpoint(_ context.Context, threadID int64, lastSyncedPage int, syncedThrough *time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	thread, ok := g.threads[threadID]
	if !ok {
		return fmt.Errorf("%w: thread %d not found", forum.ErrPersistence, threadID)
	}
	thread.LastSyncedPage = max(thread.LastSyncedPage, lastSyncedPage)
	if syncedThrough != nil {
		thread.SyncedThrough = copyTime(syncedThrough)
	}
	g.threads[threadID] = thread
	g.history[threadID] = append(g.history[threadID], thread.LastSyncedPage)
	return nil
}

// FindThreadsNeedingSync returns owned threads whose sync lags their
// activity, most recently active first.
func (g *Gateway) FindThreadsNeedingSync(_ context.Context, owner forum.Ownership, limit int) ([]forum.Thread, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []forum.Thread
	for _, thread := range g.threads {
		if !thread.NeedsSync() {
			continue
		}
		if owner != nil && !owner.Owns(thread.ID) {
			continue
		}
		thread.SyncedThrough = copyTime(thread.SyncedThrough)
		out = append(out, thread)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastActivityAt.Equal(out[j].LastActivityAt) {
			return out[i].LastActivityAt.After(out[j].LastActivityAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Thread returns a stored thread.
func (g *Gateway) Thread(id int64) (forum.Thread, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	thread, ok := g.threads[id]
	thread.SyncedThrough = copyTime(thread.SyncedThrough)
	return thread, ok
}

// Posts returns the posts of a thread ordered by ID.
func (g *Gateway) Posts(threadID int64) []forum.Post {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []forum.Post
	for _, post := range g.posts {
		if post.ThreadID == threadID {
			out = append(out, post)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Media returns the media rows of one post and type.
func (g *Gateway) Media(postID int64, mediaType forum.MediaType) []forum.MediaAsset {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]forum.MediaAsset(nil), g.media[mediaKey{postID: postID, kind: mediaType}]...)
}

// CheckpointHistory returns every page value the checkpoint held after each update.
func (g *Gateway) CheckpointHistory(threadID int64) []int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]int(nil), g.history[threadID]...)
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
