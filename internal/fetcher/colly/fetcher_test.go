package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/forum-harvester/internal/forum"
)

func newAssetServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/data/a.jpg", func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("xf_session"); err != nil || c.Value != "abc" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("jpeg-bytes"))
	})
	mux.HandleFunc("/data/referer.png", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Referer") != "https://forum.example.com/" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("png"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchUsesSessionCookies(t *testing.T) {
	t.Parallel()

	srv := newAssetServer(t)
	f, err := New(Config{UserAgent: "harvester-test", Timeout: 5 * time.Second})
	require.NoError(t, err)

	_, err = f.Fetch(context.Background(), srv.URL+"/data/a.jpg")
	require.Error(t, err)

	host := mustParseURL(t, srv.URL).Hostname()
	require.NoError(t, f.SetCookies(context.Background(), []*http.Cookie{
		{Name: "xf_session", Value: "abc", Domain: host, Path: "/"},
		nil,
	}))

	asset, err := f.Fetch(context.Background(), srv.URL+"/data/a.jpg")
	require.NoError(t, err)
	require.Equal(t, "image/jpeg", asset.ContentType)
	require.Equal(t, []byte("jpeg-bytes"), asset.Body)

	// Retries hit the same URL again.
	_, err = f.Fetch(context.Background(), srv.URL+"/data/a.jpg")
	require.NoError(t, err)
}

func TestFetchSendsReferer(t *testing.T) {
	t.Parallel()

	srv := newAssetServer(t)
	f, err := New(Config{Referer: "https://forum.example.com/"})
	require.NoError(t, err)

	asset, err := f.Fetch(context.Background(), srv.URL+"/data/referer.png")
	require.NoError(t, err)
	require.Equal(t, []byte("png"), asset.Body)
}

func TestFetchReportsMissingAsset(t *testing.T) {
	t.Parallel()

	srv := newAssetServer(t)
	f, err := New(Config{})
	require.NoError(t, err)

	_, err = f.Fetch(context.Background(), srv.URL+"/data/missing.gif")
	require.ErrorContains(t, err, "status 404")
}

func TestFetchHonoursCancelledContext(t *testing.T) {
	t.Parallel()

	f, err := New(Config{})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.Fetch(ctx, "http://127.0.0.1:1/never")
	require.Error(t, err)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f, err := New(Config{Referer: "https://forum.example.com/"})
	require.NoError(t, err)
	var result forum.Asset
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, &result, &fetchErr)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	require.Equal(t, "https://forum.example.com/", collyReq.Headers.Get("Referer"))

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusOK,
		Body:       []byte("body"),
		Headers:    &http.Header{"Content-Type": {"video/mp4"}},
		Request:    &colly.Request{URL: mustParseURL(t, "https://cdn.example.com/v.mp4")},
	})
	require.Equal(t, "video/mp4", result.ContentType)
	require.Equal(t, "https://cdn.example.com/v.mp4", result.URL)

	hooks.onError(&colly.Response{StatusCode: http.StatusBadGateway}, errors.New("Bad Gateway"))
	require.ErrorContains(t, fetchErr, "status 502")
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("failed to parse url %q: %v", raw, err)
	}
	return u
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
