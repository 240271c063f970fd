package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/forum-harvester/internal/forum"
)

func TestClassification(t *testing.T) {
	t.Parallel()

	cases := []struct {
		url      string
		image    bool
		video    bool
		indirect bool
		embed    bool
	}{
		{"https://cdn.example.com/a/photo.JPG", true, false, false, false},
		{"https://cdn.example.com/a/photo.png?size=large", true, false, false, false},
		{"https://forum.example.com/attachments/sunset-jpg.4412/", true, false, true, false},
		{"https://forum.example.com/attachments/clip_mp4.99/", false, true, true, false},
		{"https://cdn.example.com/v/clip.webm", false, true, false, false},
		{"https://www.youtube.com/watch?v=abc", false, true, false, true},
		{"https://youtu.be/abc", false, true, false, true},
		{"https://player.vimeo.com/video/1", false, true, false, true},
		{"https://forum.example.com/threads/hello.12/", false, false, false, false},
		{"https://forum.example.com/attachments/notes-pdf.7/", false, false, false, false},
	}
	for _, tc := range cases {
		t.Run(tc.url, func(t *testing.T) {
			assert.Equal(t, tc.image, IsImage(tc.url), "IsImage")
			assert.Equal(t, tc.video, IsVideo(tc.url), "IsVideo")
			assert.Equal(t, tc.indirect, IsIndirectReference(tc.url), "IsIndirectReference")
			assert.Equal(t, tc.embed, IsEmbed(tc.url), "IsEmbed")
		})
	}
}

func TestExtractExtension(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"https://cdn.example.com/x/photo.jpeg":                 ".jpeg",
		"https://cdn.example.com/x/photo.PNG":                  ".png",
		"https://forum.example.com/attachments/pic-webp.1/":    ".webp",
		"https://forum.example.com/attachments/movie_mov.2/":   ".mov",
		"https://forum.example.com/attachments/scan-tiff.3/":   ".tiff",
		"https://forum.example.com/attachments/whatever.1234/": DefaultExtension,
		"": DefaultExtension,
	}
	for in, want := range cases {
		require.Equal(t, want, ExtractExtension(in), in)
	}
}

func TestDeriveKeyIsDeterministic(t *testing.T) {
	t.Parallel()

	in := KeyInput{
		ThreadID:  42,
		PostID:    7,
		Sequence:  3,
		SourceURL: "https://cdn.example.com/uploads/My%20Photo(1).jpg",
	}
	first := DeriveKey(in)
	require.Equal(t, first, DeriveKey(in))
	require.Equal(t, "forum-media/42/7/3-MyPhoto1.jpg", first)

	seq := in
	seq.Sequence = 4
	require.NotEqual(t, first, DeriveKey(seq))

	thumb := in
	thumb.Thumbnail = true
	require.Equal(t, "forum-media/42/7/3-MyPhoto1_thumb.jpg", DeriveKey(thumb))
}

func TestDeriveKeyFallbacks(t *testing.T) {
	t.Parallel()

	key := DeriveKey(KeyInput{
		Prefix:    "/archive/",
		ThreadID:  1,
		PostID:    2,
		SourceURL: "https://forum.example.com/",
		Extension: "PNG",
	})
	require.Equal(t, "archive/1/2/0-media.png", key)

	indirect := DeriveKey(KeyInput{
		ThreadID:  1,
		PostID:    2,
		Sequence:  1,
		SourceURL: "https://forum.example.com/attachments/sunset-jpg.4412/",
	})
	require.Equal(t, "forum-media/1/2/1-sunset-jpg.4412.jpg", indirect)
}

func TestDedup(t *testing.T) {
	t.Parallel()

	refs := []forum.MediaReference{
		{FullURL: "https://a/1.jpg", ThumbURL: "https://a/1t.jpg"},
		{FullURL: "https://a/1.jpg"},
		{ThumbURL: "https://a/2t.jpg"},
		{},
		{FullURL: " https://a/3.jpg "},
		{ThumbURL: "https://a/2t.jpg"},
	}
	got := Dedup(refs)
	require.Len(t, got, 3)
	require.Equal(t, "https://a/1.jpg", got[0].FullURL)
	require.Equal(t, "https://a/1t.jpg", got[0].ThumbURL)
	require.Equal(t, "https://a/2t.jpg", got[1].Key())
	require.Equal(t, "https://a/3.jpg", got[2].FullURL)
	require.Nil(t, Dedup(nil))
}

func TestContentType(t *testing.T) {
	t.Parallel()

	require.Equal(t, "image/jpeg", ContentType(".jpg"))
	require.Equal(t, "image/png", ContentType("png"))
	require.Equal(t, "image/heic", ContentType(".heic"))
	require.Equal(t, "video/x-matroska", ContentType(".mkv"))
}

func TestClassify(t *testing.T) {
	t.Parallel()

	require.Equal(t, forum.MediaVideo, Classify("https://cdn.example.com/a.mp4"))
	require.Equal(t, forum.MediaImage, Classify("https://cdn.example.com/a.gif"))
	require.Equal(t, forum.MediaImage, Classify("https://forum.example.com/attachments/x.1/"))
}
