package session

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/forum-harvester/internal/forum"
)

const cookieExport = `[
	{"name": "xf_user", "value": "42,abc", "domain": ".forum.example.com", "path": "/", "secure": true,
	 "httpOnly": true, "sameSite": "lax", "expirationDate": 1900000000.5},
	{"name": "xf_session", "value": "s1", "domain": "forum.example.com", "session": true, "sameSite": "no_restriction"},
	{"name": "", "value": "skip", "domain": "forum.example.com"},
	{"name": "nodomain", "value": "skip"}
]`

type fakeNav struct {
	html string
	err  error
	urls []string
}

func (f *fakeNav) Render(_ context.Context, url string) (forum.RenderedPage, error) {
	f.urls = append(f.urls, url)
	if f.err != nil {
		return forum.RenderedPage{}, f.err
	}
	return forum.RenderedPage{URL: url, HTML: []byte(f.html)}, nil
}

type fakeSink struct {
	got []*http.Cookie
	err error
}

func (f *fakeSink) SetCookies(_ context.Context, cookies []*http.Cookie) error {
	f.got = cookies
	return f.err
}

func writeCookies(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cookies.json")
	require.NoError(t, os.WriteFile(path, []byte(cookieExport), 0o600))
	return path
}

func TestParseCookies(t *testing.T) {
	t.Parallel()

	cookies, err := ParseCookies(strings.NewReader(cookieExport))
	require.NoError(t, err)
	require.Len(t, cookies, 2)

	assert.Equal(t, "xf_user", cookies[0].Name)
	assert.Equal(t, http.SameSiteLaxMode, cookies[0].SameSite)
	assert.True(t, cookies[0].HttpOnly)
	assert.Equal(t, int64(1900000000), cookies[0].Expires.Unix())

	assert.Equal(t, "/", cookies[1].Path)
	assert.True(t, cookies[1].Expires.IsZero())
	assert.Equal(t, http.SameSiteNoneMode, cookies[1].SameSite)

	_, err = ParseCookies(strings.NewReader("{not json"))
	require.Error(t, err)
}

func TestEnsureAuthenticatedInstallsCookiesEverywhere(t *testing.T) {
	t.Parallel()

	nav := &fakeNav{html: `<html data-logged-in="true"><body>hi</body></html>`}
	browser, direct := &fakeSink{}, &fakeSink{}
	s := New(Config{CookiesFile: writeCookies(t), CheckURL: "https://forum.example.com/account/"}, nav, nil, browser, direct)

	ok, err := s.EnsureAuthenticated(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, browser.got, 2)
	assert.Len(t, direct.got, 2)
	assert.Equal(t, []string{"https://forum.example.com/account/"}, nav.urls)
}

func TestEnsureAuthenticatedReportsMissingMarker(t *testing.T) {
	t.Parallel()

	nav := &fakeNav{html: `<html data-logged-in="false"><body>login</body></html>`}
	s := New(Config{CheckURL: "https://forum.example.com/account/"}, nav, nil)

	ok, err := s.EnsureAuthenticated(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEnsureAuthenticatedCustomSelector(t *testing.T) {
	t.Parallel()

	nav := &fakeNav{html: `<html><body><a class="p-navgroup-link--user">me</a></body></html>`}
	s := New(Config{CheckURL: "https://f/", LoggedInSelector: "a.p-navgroup-link--user"}, nav, nil)

	ok, err := s.EnsureAuthenticated(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEnsureAuthenticatedErrors(t *testing.T) {
	t.Parallel()

	_, err := New(Config{CookiesFile: filepath.Join(t.TempDir(), "missing.json")}, nil, nil).EnsureAuthenticated(context.Background())
	require.Error(t, err)

	sink := &fakeSink{err: errors.New("browser gone")}
	_, err = New(Config{CookiesFile: writeCookies(t)}, nil, nil, sink).EnsureAuthenticated(context.Background())
	require.ErrorContains(t, err, "install cookies")

	nav := &fakeNav{err: forum.ErrNavigationTimeout}
	_, err = New(Config{CheckURL: "https://f/"}, nav, nil).EnsureAuthenticated(context.Background())
	require.ErrorIs(t, err, forum.ErrNavigationTimeout)
}

func TestEnsureAuthenticatedWithoutCheckURL(t *testing.T) {
	t.Parallel()

	nav := &fakeNav{}
	ok, err := New(Config{}, nav, nil).EnsureAuthenticated(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, nav.urls)
}
