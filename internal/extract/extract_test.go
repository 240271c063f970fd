package extract

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/forum-harvester/internal/forum"
)

const threadPage = `<!DOCTYPE html>
<html data-logged-in="true">
<body>
<ul class="pageNav-main">
	<li class="pageNav-page"><a href="/threads/build-log.77/">1</a></li>
	<li class="pageNav-page"><a href="/threads/build-log.77/page-2">2</a></li>
	<li class="pageNav-page"><a href="/threads/build-log.77/page-14">14</a></li>
</ul>
<article class="message message--post" data-author="ann" data-content="post-1001">
	<div class="message-attribution-main"><time class="u-dt" data-time="1700000000" datetime="2023-11-14T22:13:20+0000">Nov 14</time></div>
	<div class="message-body"><div class="bbWrapper">
		First post <img class="smilie" src="/styles/smilies/smile.png">
		<a href="/attachments/sunset-jpg.4412/"><img src="/data/attachments/4/4412-thumb.jpg"></a>
		<img class="bbImage" data-url="https://img.example.net/full/a.png" src="https://img.example.net/proxy/a.png">
		<iframe src="https://www.youtube.com/embed/xyz"></iframe>
	</div></div>
	<a class="reactionsBar-link">Bob, Cat and 3 others</a>
</article>
<article class="message message--post" data-author="bob" data-content="post-1002">
	<div class="message-attribution-main"><time class="u-dt" datetime="2023-11-15T10:00:00+0100">Nov 15</time></div>
	<div class="message-body"><div class="bbWrapper">
		<video><source src="/data/video/clip.mp4"></video>
	</div></div>
	<section class="message-attachments">
		<ul><li><a href="/attachments/diagram-png.4413/"><img src="/data/attachments/4/4413-thumb.png"></a></li></ul>
	</section>
</article>
<article class="message message--post" data-author="ghost">no id here</article>
</body>
</html>`

const listingPage = `<html><body>
<div class="structItem structItem--thread js-threadListItem-77" data-author="ann">
	<div class="structItem-title"><a href="/forums/x/?prefix_id=1" class="labelLink">Build</a><a href="/threads/build-log.77/">Build log</a></div>
	<li class="structItem-startDate"><time data-time="1690000000">Jul</time></li>
	<div class="structItem-cell--meta"><dl><dt>Replies</dt><dd>1,234</dd></dl><dl><dt>Views</dt><dd>56K</dd></dl></div>
	<time class="structItem-latestDate u-dt" data-time="1700000000">Nov</time>
</div>
<div class="structItem structItem--thread" data-author="bob">
	<div class="structItem-title"><a href="https://forum.example.com/threads/88/">Quick question</a></div>
	<li class="structItem-startDate"><time data-time="1695000000">Sep</time></li>
	<div class="structItem-cell--meta"><dl><dd>0</dd></dl><dl><dd>12</dd></dl></div>
	<div class="structItem-latestDate"><a><time data-time="1696000000">Sep</time></a></div>
</div>
<div class="structItem structItem--thread"><div class="structItem-title"><a href="/members/zed.1/">not a thread</a></div></div>
</body></html>`

func newExtractor(t *testing.T) *SelectorExtractor {
	t.Helper()
	e, err := New(Selectors{}, "")
	require.NoError(t, err)
	return e
}

func TestExtractPosts(t *testing.T) {
	t.Parallel()

	e := newExtractor(t)
	page := forum.RenderedPage{URL: "https://forum.example.com/threads/build-log.77/page-2", HTML: []byte(threadPage)}

	records, err := e.ExtractPosts(page)
	require.NoError(t, err)
	require.Len(t, records, 2)

	first := records[0]
	assert.EqualValues(t, 1001, first.Post.ID)
	assert.EqualValues(t, 77, first.Post.ThreadID)
	assert.Equal(t, "ann", first.Post.Author)
	assert.Contains(t, first.Post.Content, "First post")
	assert.Equal(t, time.Unix(1_700_000_000, 0).UTC(), first.Post.CreatedAt)
	assert.Equal(t, 5, first.Post.LikeCount)
	assert.Equal(t, []forum.MediaReference{
		{FullURL: "https://forum.example.com/attachments/sunset-jpg.4412/", ThumbURL: "https://forum.example.com/data/attachments/4/4412-thumb.jpg"},
		{FullURL: "https://img.example.net/full/a.png"},
		{FullURL: "https://www.youtube.com/embed/xyz"},
	}, first.Media)

	second := records[1]
	assert.EqualValues(t, 1002, second.Post.ID)
	assert.Equal(t, time.Date(2023, 11, 15, 9, 0, 0, 0, time.UTC), second.Post.CreatedAt)
	assert.Zero(t, second.Post.LikeCount)
	assert.ElementsMatch(t, []forum.MediaReference{
		{FullURL: "https://forum.example.com/attachments/diagram-png.4413/", ThumbURL: "https://forum.example.com/data/attachments/4/4413-thumb.png"},
		{FullURL: "https://forum.example.com/data/video/clip.mp4"},
	}, second.Media)
}

func TestExtractPostsWithoutPostsIsAnError(t *testing.T) {
	t.Parallel()

	e := newExtractor(t)
	_, err := e.ExtractPosts(forum.RenderedPage{URL: "https://f/threads/1/", HTML: []byte("<html><body>Please log in</body></html>")})
	require.ErrorIs(t, err, forum.ErrExtraction)
}

func TestExtractTotalPageCount(t *testing.T) {
	t.Parallel()

	e := newExtractor(t)
	total, err := e.ExtractTotalPageCount(forum.RenderedPage{HTML: []byte(threadPage)})
	require.NoError(t, err)
	assert.Equal(t, 14, total)

	total, err = e.ExtractTotalPageCount(forum.RenderedPage{HTML: []byte("<html><body></body></html>")})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestExtractThreads(t *testing.T) {
	t.Parallel()

	e, err := New(Selectors{}, "https://forum.example.com/")
	require.NoError(t, err)

	threads, err := e.ExtractThreads(forum.RenderedPage{URL: "https://ignored.example.com/forums/x/", HTML: []byte(listingPage)})
	require.NoError(t, err)
	require.Len(t, threads, 2)

	assert.EqualValues(t, 77, threads[0].ID)
	assert.Equal(t, "Build log", threads[0].Title)
	assert.Equal(t, "ann", threads[0].Creator)
	assert.Equal(t, "https://forum.example.com/threads/build-log.77/", threads[0].URL)
	assert.Equal(t, 1234, threads[0].ReplyCount)
	assert.Equal(t, 56000, threads[0].ViewCount)
	assert.Equal(t, time.Unix(1_690_000_000, 0).UTC(), threads[0].CreatedAt)
	assert.Equal(t, time.Unix(1_700_000_000, 0).UTC(), threads[0].LastActivityAt)

	assert.EqualValues(t, 88, threads[1].ID)
	assert.Equal(t, 12, threads[1].ViewCount)
	assert.Equal(t, time.Unix(1_696_000_000, 0).UTC(), threads[1].LastActivityAt)
	assert.Nil(t, threads[1].SyncedThrough)
}

func TestParseReactionCount(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"12", 12},
		{"1,234", 1234},
		{"1.2K", 1200},
		{"3M", 3_000_000},
		{"Ann", 1},
		{"Ann and Bob", 2},
		{"Ann, Bob and 3 others", 5},
		{"Ann, Bob, and 1 other", 3},
		{"  Ann\n and 1.5K others ", 1501},
		{"You, Ann, Bob and Cat", 4},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ParseReactionCount(tt.in))
		})
	}
}

func TestThreadIDFromURL(t *testing.T) {
	t.Parallel()

	assert.EqualValues(t, 12345, ThreadIDFromURL("https://f.example.com/threads/some-title.12345/"))
	assert.EqualValues(t, 12345, ThreadIDFromURL("/community/threads/some-title.12345/page-3"))
	assert.EqualValues(t, 9, ThreadIDFromURL("https://f.example.com/threads/9/"))
	assert.Zero(t, ThreadIDFromURL("https://f.example.com/members/ann.1/"))
	assert.Zero(t, ThreadIDFromURL("https://f.example.com/threads/no-id/"))
	assert.EqualValues(t, 55, trailingID("js-post-55"))
	assert.Zero(t, trailingID("post"))
}
