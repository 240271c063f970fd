// Package extract turns rendered forum pages into thread, post and media
// records using CSS selectors. The defaults target XenForo 2 markup.
package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/forum-harvester/internal/forum"
)

// Selectors configures where each field lives in the markup.
type Selectors struct {
	Post           string `mapstructure:"post"`
	PostIDAttr     string `mapstructure:"post_id_attr"`
	AuthorAttr     string `mapstructure:"author_attr"`
	Content        string `mapstructure:"content"`
	Attachments    string `mapstructure:"attachments"`
	Timestamp      string `mapstructure:"timestamp"`
	Reactions      string `mapstructure:"reactions"`
	PageNav        string `mapstructure:"page_nav"`
	Thread         string `mapstructure:"thread"`
	ThreadTitle    string `mapstructure:"thread_title"`
	ThreadStarted  string `mapstructure:"thread_started"`
	ThreadActivity string `mapstructure:"thread_activity"`
	ThreadStats    string `mapstructure:"thread_stats"`
	// IgnoreImages drops decorative images such as smilies and avatars.
	IgnoreImages string `mapstructure:"ignore_images"`
}

// DefaultSelectors returns selectors for stock XenForo 2 themes.
func DefaultSelectors() Selectors {
	return Selectors{
		Post:           "article.message--post",
		PostIDAttr:     "data-content",
		AuthorAttr:     "data-author",
		Content:        ".message-body .bbWrapper",
		Attachments:    ".message-attachments",
		Timestamp:      ".message-attribution-main time",
		Reactions:      ".reactionsBar-link",
		PageNav:        ".pageNav-main .pageNav-page",
		Thread:         ".structItem--thread",
		ThreadTitle:    `.structItem-title a[href*="/threads/"]`,
		ThreadStarted:  ".structItem-startDate time",
		ThreadActivity: ".structItem-latestDate",
		ThreadStats:    ".structItem-cell--meta dd",
		IgnoreImages:   "img.smilie, img.avatar, img.bbImage--emoji",
	}
}

// SelectorExtractor implements forum.PageExtractor and forum.ListingExtractor.
type SelectorExtractor struct {
	sel  Selectors
	base *url.URL
}

// New builds an extractor. Empty selector fields fall back to the defaults
// and relative links resolve against baseURL or the page URL.
func New(sel Selectors, baseURL string) (*SelectorExtractor, error) {
	sel = withDefaults(sel)
	e := &SelectorExtractor{sel: sel}
	if baseURL != "" {
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("parse base url: %w", err)
		}
		e.base = u
	}
	return e, nil
}

func withDefaults(sel Selectors) Selectors {
	def := DefaultSelectors()
	fill := func(dst *string, v string) {
		if *dst == "" {
			*dst = v
		}
	}
	fill(&sel.Post, def.Post)
	fill(&sel.PostIDAttr, def.PostIDAttr)
	fill(&sel.AuthorAttr, def.AuthorAttr)
	fill(&sel.Content, def.Content)
	fill(&sel.Attachments, def.Attachments)
	fill(&sel.Timestamp, def.Timestamp)
	fill(&sel.Reactions, def.Reactions)
	fill(&sel.PageNav, def.PageNav)
	fill(&sel.Thread, def.Thread)
	fill(&sel.ThreadTitle, def.ThreadTitle)
	fill(&sel.ThreadStarted, def.ThreadStarted)
	fill(&sel.ThreadActivity, def.ThreadActivity)
	fill(&sel.ThreadStats, def.ThreadStats)
	fill(&sel.IgnoreImages, def.IgnoreImages)
	return sel
}

// ExtractPosts returns every post on a thread page with its media references.
func (e *SelectorExtractor) ExtractPosts(page forum.RenderedPage) ([]forum.PostRecord, error) {
	doc, err := parse(page)
	if err != nil {
		return nil, err
	}
	base := e.baseFor(page)
	threadID := ThreadIDFromURL(pageURL(page))

	var records []forum.PostRecord
	doc.Find(e.sel.Post).Each(func(_ int, s *goquery.Selection) {
		id := trailingID(s.AttrOr(e.sel.PostIDAttr, s.AttrOr("id", "")))
		if id == 0 {
			return
		}
		content := s.Find(e.sel.Content).First()
		post := forum.Post{
			ID:        id,
			ThreadID:  threadID,
			Author:    strings.TrimSpace(s.AttrOr(e.sel.AuthorAttr, "")),
			Content:   strings.TrimSpace(content.Text()),
			CreatedAt: parseTime(s.Find(e.sel.Timestamp).First()),
			LikeCount: ParseReactionCount(s.Find(e.sel.Reactions).First().Text()),
		}
		scopes := content.AddSelection(s.Find(e.sel.Attachments))
		records = append(records, forum.PostRecord{Post: post, Media: e.collectMedia(scopes, base)})
	})
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: no posts matched %q on %s", forum.ErrExtraction, e.sel.Post, pageURL(page))
	}
	return records, nil
}

// ExtractTotalPageCount returns the highest page number in the page
// navigation, or 1 when the thread has a single page.
func (e *SelectorExtractor) ExtractTotalPageCount(page forum.RenderedPage) (int, error) {
	doc, err := parse(page)
	if err != nil {
		return 0, err
	}
	total := 1
	doc.Find(e.sel.PageNav).Each(func(_ int, s *goquery.Selection) {
		if n, err := strconv.Atoi(strings.TrimSpace(s.Text())); err == nil && n > total {
			total = n
		}
	})
	return total, nil
}

// ExtractThreads returns the thread summaries on a forum listing page.
func (e *SelectorExtractor) ExtractThreads(page forum.RenderedPage) ([]forum.Thread, error) {
	doc, err := parse(page)
	if err != nil {
		return nil, err
	}
	base := e.baseFor(page)

	var threads []forum.Thread
	doc.Find(e.sel.Thread).Each(func(_ int, s *goquery.Selection) {
		title := s.Find(e.sel.ThreadTitle).Last()
		link := resolve(base, title.AttrOr("href", ""))
		id := ThreadIDFromURL(link)
		if id == 0 {
			return
		}
		t := forum.Thread{
			ID:        id,
			Title:     strings.TrimSpace(title.Text()),
			Creator:   strings.TrimSpace(s.AttrOr(e.sel.AuthorAttr, "")),
			URL:       link,
			CreatedAt: parseTime(s.Find(e.sel.ThreadStarted).First()),
		}
		activity := s.Find(e.sel.ThreadActivity).First()
		if !activity.Is("time") {
			activity = activity.Find("time").First()
		}
		t.LastActivityAt = parseTime(activity)
		if t.LastActivityAt.IsZero() {
			t.LastActivityAt = t.CreatedAt
		}
		stats := s.Find(e.sel.ThreadStats)
		if n, ok := parseCompactNumber(strings.TrimSpace(stats.Eq(0).Text())); ok {
			t.ReplyCount = n
		}
		if n, ok := parseCompactNumber(strings.TrimSpace(stats.Eq(1).Text())); ok {
			t.ViewCount = n
		}
		threads = append(threads, t)
	})
	return threads, nil
}

func (e *SelectorExtractor) collectMedia(scopes *goquery.Selection, base *url.URL) []forum.MediaReference {
	var refs []forum.MediaReference
	scopes.Find("img").Each(func(_ int, img *goquery.Selection) {
		if img.Is(e.sel.IgnoreImages) {
			return
		}
		src := resolve(base, imageSource(img))
		if src == "" {
			return
		}
		if a := img.Closest("a[href]"); a.Length() > 0 {
			refs = append(refs, forum.MediaReference{FullURL: resolve(base, a.AttrOr("href", "")), ThumbURL: src})
			return
		}
		refs = append(refs, forum.MediaReference{FullURL: src})
	})
	scopes.Find("video[src], video source[src], iframe[src]").Each(func(_ int, v *goquery.Selection) {
		if src := resolve(base, v.AttrOr("src", "")); src != "" {
			refs = append(refs, forum.MediaReference{FullURL: src})
		}
	})
	return refs
}

func (e *SelectorExtractor) baseFor(page forum.RenderedPage) *url.URL {
	if e.base != nil {
		return e.base
	}
	u, err := url.Parse(pageURL(page))
	if err != nil {
		return nil
	}
	return u
}

func parse(page forum.RenderedPage) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.HTML))
	if err != nil {
		return nil, fmt.Errorf("%w: parse %s: %w", forum.ErrExtraction, pageURL(page), err)
	}
	return doc, nil
}

func pageURL(page forum.RenderedPage) string {
	if page.FinalURL != "" {
		return page.FinalURL
	}
	return page.URL
}

func imageSource(img *goquery.Selection) string {
	for _, attr := range []string{"data-url", "data-src", "src"} {
		if v := strings.TrimSpace(img.AttrOr(attr, "")); v != "" && !strings.HasPrefix(v, "data:") {
			return v
		}
	}
	return ""
}

func resolve(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return u.String()
}

func parseTime(s *goquery.Selection) time.Time {
	if s.Length() == 0 {
		return time.Time{}
	}
	if unix, err := strconv.ParseInt(s.AttrOr("data-time", ""), 10, 64); err == nil && unix > 0 {
		return time.Unix(unix, 0).UTC()
	}
	raw := strings.TrimSpace(s.AttrOr("datetime", ""))
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05-0700"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
