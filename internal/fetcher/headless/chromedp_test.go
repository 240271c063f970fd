package headless

import (
	"context"
	"errors"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/forum-harvester/internal/forum"
)

func TestNewLimiterValidation(t *testing.T) {
	t.Parallel()

	_, err := New(Config{MaxAuxTabs: -1}, nil)
	require.Error(t, err)

	b, err := New(Config{MaxAuxTabs: 2, ProfileRoot: t.TempDir()}, nil)
	require.NoError(t, err)
	t.Cleanup(b.Close)
	assert.Equal(t, 2, cap(b.limiter))
}

func TestDefaults(t *testing.T) {
	t.Parallel()

	b := &Browser{}
	assert.Equal(t, 45*time.Second, b.navTimeout())
	assert.Equal(t, 500*time.Millisecond, b.settleDelay())
	assert.Equal(t, 15*time.Second, b.attachmentWait())

	b.cfg = Config{NavigationTimeout: time.Second, SettleDelay: time.Millisecond, AttachmentWait: 2 * time.Second}
	assert.Equal(t, time.Second, b.navTimeout())
	assert.Equal(t, time.Millisecond, b.settleDelay())
	assert.Equal(t, 2*time.Second, b.attachmentWait())
}

func TestCloseRemovesProfile(t *testing.T) {
	t.Parallel()

	b, err := New(Config{ProfileRoot: t.TempDir()}, nil)
	require.NoError(t, err)
	dir := b.profileDir
	require.DirExists(t, dir)

	b.Close()
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}

func TestRestartUsesFreshProfile(t *testing.T) {
	t.Parallel()

	b, err := New(Config{ProfileRoot: t.TempDir()}, nil)
	require.NoError(t, err)
	t.Cleanup(b.Close)
	first := b.profileDir

	// No cookies are installed, so Chrome is never launched.
	require.NoError(t, b.RestartBrowserProcess(context.Background()))
	assert.NotEqual(t, first, b.profileDir)
	assert.DirExists(t, b.profileDir)
	_, err = os.Stat(first)
	assert.True(t, os.IsNotExist(err))
}

func TestToCookieParams(t *testing.T) {
	t.Parallel()

	expires := time.Unix(1_900_000_000, 0)
	params := toCookieParams([]*http.Cookie{
		{Name: "xf_user", Value: "1", Domain: ".forum.example.com", Secure: true, HttpOnly: true, SameSite: http.SameSiteLaxMode, Expires: expires},
		{Name: "xf_session", Value: "abc", Domain: "forum.example.com", Path: "/community"},
		{Name: "orphan", Value: "x"},
		nil,
	})
	require.Len(t, params, 2)
	assert.Equal(t, "/", params[0].Path)
	assert.True(t, params[0].Secure)
	assert.True(t, params[0].HTTPOnly)
	assert.Equal(t, network.CookieSameSiteLax, params[0].SameSite)
	require.NotNil(t, params[0].Expires)
	assert.Equal(t, "/community", params[1].Path)
	assert.Nil(t, params[1].Expires)
}

func TestResponseMetaCaptureAndFallbacks(t *testing.T) {
	t.Parallel()

	meta := newResponseMeta()
	meta.captureEvent(&network.EventResponseReceived{
		RequestID: "req-1",
		Type:      network.ResourceTypeImage,
		Response:  &network.Response{URL: "https://cdn.example.com/a.png"},
	})
	id, _, url := meta.snapshotWithFallbacks("https://req", "")
	assert.Empty(t, id)
	assert.Equal(t, "https://req", url)

	meta.captureEvent(&network.EventResponseReceived{
		RequestID: "req-2",
		Type:      network.ResourceTypeDocument,
		Response:  &network.Response{URL: "https://forum.example.com/attachments/x.9/", MimeType: "image/jpeg"},
	})
	id, mime := meta.document()
	assert.Equal(t, network.RequestID("req-2"), id)
	assert.Equal(t, "image/jpeg", mime)
	_, _, url = meta.snapshotWithFallbacks("https://req", "https://final")
	assert.Equal(t, "https://forum.example.com/attachments/x.9/", url)

	_, _, url = newResponseMeta().snapshotWithFallbacks("https://req", "https://final")
	assert.Equal(t, "https://final", url)
}

func TestNavigationError(t *testing.T) {
	t.Parallel()

	err := navigationError(context.Background(), "https://f/t/1", context.DeadlineExceeded)
	require.ErrorIs(t, err, forum.ErrNavigationTimeout)

	err = navigationError(context.Background(), "https://f/t/1", errors.New("net::ERR_NAME_NOT_RESOLVED"))
	require.NotErrorIs(t, err, forum.ErrNavigationTimeout)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = navigationError(ctx, "https://f/t/1", context.Canceled)
	require.ErrorIs(t, err, context.Canceled)
	require.NotErrorIs(t, err, forum.ErrNavigationTimeout)
}

func TestPickAssetURL(t *testing.T) {
	t.Parallel()

	page := "https://forum.example.com/attachments/sunset-jpg.4412/"

	tests := []struct {
		name string
		in   candidates
		want string
	}{
		{
			name: "video wins",
			in: candidates{
				Videos: []string{"", "https://cdn.example.com/clip.mp4"},
				Images: []imageCandidate{{Src: "https://cdn.example.com/big.jpg", Width: 2000}},
			},
			want: "https://cdn.example.com/clip.mp4",
		},
		{
			name: "widest image, skipping icons and inline data",
			in: candidates{Images: []imageCandidate{
				{Src: "https://forum.example.com/styles/logo.png", Width: 32},
				{Src: "data:image/gif;base64,R0lGOD", Width: 1200},
				{Src: "https://forum.example.com/data/attachments/1/1-a.jpg", Width: 800},
				{Src: "https://forum.example.com/data/attachments/1/1-b.jpg", Width: 1600},
			}},
			want: "https://forum.example.com/data/attachments/1/1-b.jpg",
		},
		{
			name: "same-origin link with extension",
			in: candidates{Links: []string{
				"https://other.example.com/x.jpg",
				"https://forum.example.com/attachments/other-png.5/",
				"https://forum.example.com/data/full/sunset.jpg",
			}},
			want: "https://forum.example.com/data/full/sunset.jpg",
		},
		{
			name: "nothing usable",
			in:   candidates{Links: []string{"https://forum.example.com/threads/1/"}},
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, pickAssetURL(page, tt.in))
		})
	}
}
