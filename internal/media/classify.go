// Package media classifies media URLs and derives deterministic storage keys.
//
// Everything here is pure: no I/O and no shared state beyond the compiled
// token tables, so the helpers are safe for concurrent use.
package media

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/JakeFAU/forum-harvester/internal/forum"
)

// DefaultExtension is returned when no known format token is found.
const DefaultExtension = ".jpg"

var (
	imageExtensions = []string{"jpeg", "jpg", "png", "gif", "webp", "bmp", "svg", "heic", "avif", "tiff", "tif"}
	videoExtensions = []string{"mp4", "webm", "mov", "m4v", "avi", "mkv", "ogv", "m3u8"}
	embedHosts      = []string{"youtube.com", "youtu.be", "vimeo.com", "dailymotion.com", "streamable.com", "twitch.tv"}

	imageSet = toSet(imageExtensions)
	videoSet = toSet(videoExtensions)

	// tokenPattern matches a known format word introduced by '.', '-' or '_'
	// and not followed by another alphanumeric character.
	tokenPattern = regexp.MustCompile(`[._-](` + strings.Join(append(append([]string{}, imageExtensions...), videoExtensions...), "|") + `)(?:$|[^a-z0-9])`)
)

func toSet(values []string) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		out[v] = struct{}{}
	}
	return out
}

// IsImage reports whether rawURL names an image by extension or format token.
func IsImage(rawURL string) bool {
	_, ok := imageSet[formatToken(rawURL)]
	return ok
}

// IsVideo reports whether rawURL names a video file or points at a known
// video-embed host.
func IsVideo(rawURL string) bool {
	if IsEmbed(rawURL) {
		return true
	}
	_, ok := videoSet[formatToken(rawURL)]
	return ok
}

// IsEmbed reports whether rawURL points at a video platform page rather than
// a downloadable file.
func IsEmbed(rawURL string) bool {
	host := hostOf(rawURL)
	if host == "" {
		return false
	}
	for _, marker := range embedHosts {
		if host == marker || strings.HasSuffix(host, "."+marker) {
			return true
		}
	}
	return false
}

// IsIndirectReference reports whether rawURL names a media format without a
// usable file extension. Fetching such a URL returns an HTML wrapper page, so
// the asset must be resolved through a rendered visit first.
func IsIndirectReference(rawURL string) bool {
	if rawURL == "" || IsEmbed(rawURL) {
		return false
	}
	if formatToken(rawURL) == "" {
		return false
	}
	return directExtension(rawURL) == ""
}

// ExtractExtension returns the first known format token as ".ext", falling
// back to DefaultExtension. Callers must tolerate a wrong guess.
func ExtractExtension(rawURL string) string {
	if ext := directExtension(rawURL); ext != "" {
		return "." + ext
	}
	if token := formatToken(rawURL); token != "" {
		return "." + token
	}
	return DefaultExtension
}

// Classify returns the media type recorded for rawURL. Anything not
// recognisable as video is stored as an image.
func Classify(rawURL string) forum.MediaType {
	if IsVideo(rawURL) {
		return forum.MediaVideo
	}
	return forum.MediaImage
}

// directExtension returns the lowercase extension when the URL path ends in
// ".ext" for a known ext.
func directExtension(rawURL string) string {
	p := strings.ToLower(pathOf(rawURL))
	dot := strings.LastIndex(p, ".")
	if dot < 0 || dot < strings.LastIndex(p, "/") {
		return ""
	}
	ext := p[dot+1:]
	if _, ok := imageSet[ext]; ok {
		return ext
	}
	if _, ok := videoSet[ext]; ok {
		return ext
	}
	return ""
}

func formatToken(rawURL string) string {
	if ext := directExtension(rawURL); ext != "" {
		return ext
	}
	m := tokenPattern.FindStringSubmatch(strings.ToLower(pathOf(rawURL)))
	if m == nil {
		return ""
	}
	return m[1]
}

func pathOf(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return rawURL
	}
	return u.Path
}

func hostOf(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
