package media

import (
	"fmt"
	"mime"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/JakeFAU/forum-harvester/internal/forum"
)

const (
	// DefaultKeyPrefix is the bucket folder every asset lives under.
	DefaultKeyPrefix = "forum-media"
	thumbSuffix      = "_thumb"
	fallbackBaseName = "media"
	maxBaseNameLen   = 96
)

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9.-]`)

// KeyInput carries everything DeriveKey needs.
type KeyInput struct {
	Prefix    string
	ThreadID  int64
	PostID    int64
	Sequence  int
	SourceURL string
	// Extension overrides detection when set (with or without leading dot).
	Extension string
	Thumbnail bool
}

// DeriveKey builds {prefix}/{thread}/{post}/{seq}-{base}{_thumb}{ext}.
// Identical input always yields the identical key so re-ingesting a post
// overwrites its objects instead of duplicating them.
func DeriveKey(in KeyInput) string {
	prefix := strings.Trim(in.Prefix, "/")
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	ext := in.Extension
	if ext == "" {
		ext = ExtractExtension(in.SourceURL)
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	ext = strings.ToLower(ext)

	suffix := ""
	if in.Thumbnail {
		suffix = thumbSuffix
	}
	return fmt.Sprintf("%s/%d/%d/%d-%s%s%s", prefix, in.ThreadID, in.PostID, in.Sequence, BaseName(in.SourceURL, ext), suffix, ext)
}

// BaseName returns the sanitized last path segment of rawURL with ext removed.
func BaseName(rawURL, ext string) string {
	segment := ""
	if u, err := url.Parse(strings.TrimSpace(rawURL)); err == nil {
		segment = path.Base(strings.TrimRight(u.Path, "/"))
	}
	if unescaped, err := url.PathUnescape(segment); err == nil {
		segment = unescaped
	}
	if segment == "." || segment == "/" {
		segment = ""
	}
	if ext != "" && strings.HasSuffix(strings.ToLower(segment), strings.ToLower(ext)) {
		segment = segment[:len(segment)-len(ext)]
	}
	segment = unsafeKeyChars.ReplaceAllString(segment, "")
	segment = strings.Trim(segment, ".")
	if len(segment) > maxBaseNameLen {
		segment = segment[:maxBaseNameLen]
	}
	if segment == "" {
		return fallbackBaseName
	}
	return segment
}

// ContentType guesses the MIME type stored alongside an object.
func ContentType(ext string) string {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	switch ext {
	case "heic":
		return "image/heic"
	case "avif":
		return "image/avif"
	case "m3u8":
		return "application/vnd.apple.mpegurl"
	case "mkv":
		return "video/x-matroska"
	case "ogv":
		return "video/ogg"
	case "m4v":
		return "video/x-m4v"
	}
	if ct := mime.TypeByExtension("." + ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// Dedup collapses references that share the same non-empty key, keeping the
// first occurrence. References with both members empty are dropped.
func Dedup(refs []forum.MediaReference) []forum.MediaReference {
	if len(refs) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(refs))
	out := make([]forum.MediaReference, 0, len(refs))
	for _, ref := range refs {
		ref.FullURL = strings.TrimSpace(ref.FullURL)
		ref.ThumbURL = strings.TrimSpace(ref.ThumbURL)
		if ref.Empty() {
			continue
		}
		key := ref.Key()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, ref)
	}
	return out
}
