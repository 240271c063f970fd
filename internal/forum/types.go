// Package forum defines the domain records and collaborator ports shared by
// the harvester subsystems.
package forum

import "time"

// MediaType distinguishes stored asset kinds.
type MediaType string

// Media types persisted in media_assets.media_type.
const (
	MediaImage MediaType = "image"
	MediaVideo MediaType = "video"
)

// MediaTypes lists every type a post can carry, in persistence order.
var MediaTypes = []MediaType{MediaImage, MediaVideo}

// ThreadState names the pagination state of a thread within one run.
type ThreadState string

// Thread states reported by the orchestrator.
const (
	StateIdle       ThreadState = "idle"
	StatePaginating ThreadState = "paginating"
	StateAdvancing  ThreadState = "advancing"
	StateRetrying   ThreadState = "retrying"
	StateExhausted  ThreadState = "exhausted"
	StateCompleted  ThreadState = "completed"
)

// Thread is a discussion thread and its sync checkpoint.
type Thread struct {
	ID             int64      `json:"id"`
	Title          string     `json:"title"`
	Creator        string     `json:"creator"`
	URL            string     `json:"url,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	ReplyCount     int        `json:"reply_count"`
	ViewCount      int        `json:"view_count"`
	LastActivityAt time.Time  `json:"last_activity_at"`
	LastSyncedPage int        `json:"last_synced_page"`
	SyncedThrough  *time.Time `json:"synced_through,omitempty"`
}

// FullySynced reports whether ingestion is complete up to the last observed activity.
func (t Thread) FullySynced() bool {
	return t.SyncedThrough != nil && t.SyncedThrough.Equal(t.LastActivityAt)
}

// NeedsSync is the selection predicate used by every gateway.
func (t Thread) NeedsSync() bool {
	return t.SyncedThrough == nil || t.SyncedThrough.Before(t.LastActivityAt)
}

// ResumePage returns the first page a run should fetch for the thread.
func (t Thread) ResumePage() int {
	switch {
	case t.LastSyncedPage <= 0:
		return 1
	case t.SyncedThrough == nil:
		// Initial sync was interrupted; the checkpointed page is complete.
		return t.LastSyncedPage + 1
	default:
		// New activity after a completed sync lands on the last known page.
		return t.LastSyncedPage
	}
}

// Post is a single message inside a thread.
type Post struct {
	ID        int64     `json:"id"`
	ThreadID  int64     `json:"thread_id"`
	Author    string    `json:"author"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	LikeCount int       `json:"like_count"`
}

// MediaReference is a page-scoped (full, thumbnail) URL pair discovered for a post.
type MediaReference struct {
	FullURL  string `json:"full_url"`
	ThumbURL string `json:"thumb_url"`
}

// Key returns the non-empty member used for deduplication.
func (r MediaReference) Key() string {
	if r.FullURL != "" {
		return r.FullURL
	}
	return r.ThumbURL
}

// Empty reports whether neither URL is set.
func (r MediaReference) Empty() bool {
	return r.FullURL == "" && r.ThumbURL == ""
}

// PostRecord is what the extraction adapter returns for one post on a rendered page.
type PostRecord struct {
	Post  Post
	Media []MediaReference
}

// MediaAsset is the durable row pointing at a stored asset.
type MediaAsset struct {
	ThreadID     int64     `json:"thread_id"`
	PostID       int64     `json:"post_id"`
	Link         string    `json:"link"`
	Type         MediaType `json:"type"`
	HasThumbnail bool      `json:"has_thumbnail"`
}

// StoredAsset is one successful full-size upload reported by the ingestion pipeline.
type StoredAsset struct {
	Link         string
	Type         MediaType
	HasThumbnail bool
}

// UploadTask is one unit of pipeline work.
type UploadTask struct {
	ThreadID     int64
	PostID       int64
	Sequence     int
	SourceURL    string
	Key          string
	Type         MediaType
	Thumbnail    bool
	HasThumbnail bool
}

// RenderedPage is the DOM snapshot of a navigated page.
type RenderedPage struct {
	URL      string
	FinalURL string
	HTML     []byte
}

// Resolution is the outcome of visiting an attachment page.
type Resolution struct {
	// AssetURL is the direct asset discovered in the rendered DOM, if any.
	AssetURL string
	// Body and ContentType hold the attachment page response, used when AssetURL is empty.
	Body        []byte
	ContentType string
}

// Asset is a fetched binary payload.
type Asset struct {
	URL         string
	ContentType string
	Body        []byte
}
