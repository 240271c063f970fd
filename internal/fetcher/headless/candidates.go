package headless

import (
	"net/url"
	"strings"

	"github.com/JakeFAU/forum-harvester/internal/media"
)

const collectCandidatesJS = `(() => {
	const out = {videos: [], images: [], links: []};
	document.querySelectorAll('video[src], video source[src]').forEach(e => out.videos.push(e.src));
	document.querySelectorAll('img[src]').forEach(e => out.images.push({src: e.currentSrc || e.src, width: e.naturalWidth || 0}));
	document.querySelectorAll('a[href]').forEach(e => out.links.push(e.href));
	return out;
})()`

type imageCandidate struct {
	Src   string `json:"src"`
	Width int    `json:"width"`
}

type candidates struct {
	Videos []string         `json:"videos"`
	Images []imageCandidate `json:"images"`
	Links  []string         `json:"links"`
}

// minImageWidth filters avatars and smilies from attachment pages.
const minImageWidth = 64

// pickAssetURL chooses the asset an attachment page is showing: a video
// source first, then the widest image, then a same-origin link whose path
// names a media file.
func pickAssetURL(pageURL string, c candidates) string {
	for _, v := range c.Videos {
		if usable(v) {
			return v
		}
	}

	best, bestWidth := "", -1
	for _, img := range c.Images {
		if !usable(img.Src) {
			continue
		}
		if img.Width > 0 && img.Width < minImageWidth {
			continue
		}
		if img.Width > bestWidth {
			best, bestWidth = img.Src, img.Width
		}
	}
	if best != "" {
		return best
	}

	page, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	for _, link := range c.Links {
		u, err := url.Parse(link)
		if err != nil || !strings.EqualFold(u.Host, page.Host) {
			continue
		}
		if media.IsIndirectReference(link) {
			continue
		}
		if media.IsImage(link) || media.IsVideo(link) {
			return link
		}
	}
	return ""
}

func usable(raw string) bool {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false
	}
	return !strings.HasPrefix(raw, "data:") && !strings.HasPrefix(raw, "blob:")
}
