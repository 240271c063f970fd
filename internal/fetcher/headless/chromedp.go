// Package headless drives the shared Chrome session used to render thread
// pages and resolve attachment pages.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/forum-harvester/internal/forum"
)

// Config controls the behavior of the browser session.
type Config struct {
	// MaxAuxTabs bounds concurrent attachment tabs. Zero means unbounded.
	MaxAuxTabs        int
	UserAgent         string
	NavigationTimeout time.Duration
	// SettleDelay is slept after the body is ready so late scripts can run.
	SettleDelay time.Duration
	// AttachmentWait bounds the wait for an img or video on attachment pages.
	AttachmentWait time.Duration
	// ExecPath overrides the Chrome binary. Empty uses chromedp's lookup.
	ExecPath string
	// ProfileRoot holds the per-process user data directories.
	ProfileRoot string
	// Headful disables headless mode, for debugging logins.
	Headful bool
}

// Browser implements forum.Navigator, forum.AttachmentResolver,
// forum.CookieSink and forum.ProcessControl on one Chrome process.
type Browser struct {
	cfg     Config
	logger  *zap.Logger
	limiter chan struct{}

	// mu guards the contexts below. Navigation holds the read lock; a
	// process restart holds the write lock so no tab outlives its browser.
	mu            sync.RWMutex
	allocCtx      context.Context
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	profileDir    string
	running       bool
	cookies       []*network.CookieParam
}

// New prepares a Browser. Chrome itself starts lazily on first navigation.
func New(cfg Config, logger *zap.Logger) (*Browser, error) {
	if cfg.MaxAuxTabs < 0 {
		return nil, fmt.Errorf("max aux tabs must be >= 0")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter chan struct{}
	if cfg.MaxAuxTabs > 0 {
		limiter = make(chan struct{}, cfg.MaxAuxTabs)
	}
	b := &Browser{cfg: cfg, logger: logger, limiter: limiter}
	if err := b.start(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Browser) start() error {
	dir, err := os.MkdirTemp(b.cfg.ProfileRoot, "harvester-profile-*")
	if err != nil {
		return fmt.Errorf("create browser profile dir: %w", err)
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserDataDir(dir),
	)
	if b.cfg.Headful {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if b.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(b.cfg.ExecPath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	b.allocCtx, b.allocCancel = allocCtx, allocCancel
	b.browserCtx, b.browserCancel = browserCtx, browserCancel
	b.profileDir = dir
	return nil
}

// launch starts Chrome on the main context. A browser allocated from a
// derived context would die with that context.
func (b *Browser) launch() error {
	if b.running {
		return nil
	}
	if err := chromedp.Run(b.browserCtx); err != nil {
		return fmt.Errorf("start browser: %w", err)
	}
	b.running = true
	return nil
}

// session returns with the read lock held on a running browser.
func (b *Browser) session() (func(), error) {
	for {
		b.mu.RLock()
		if b.running {
			return b.mu.RUnlock, nil
		}
		b.mu.RUnlock()

		b.mu.Lock()
		err := b.launch()
		b.mu.Unlock()
		if err != nil {
			return nil, err
		}
	}
}

func (b *Browser) stop() {
	b.running = false
	if b.browserCancel != nil {
		b.browserCancel()
	}
	if b.allocCancel != nil {
		b.allocCancel()
	}
	if b.profileDir != "" {
		if err := os.RemoveAll(b.profileDir); err != nil {
			b.logger.Warn("remove browser profile failed", zap.String("dir", b.profileDir), zap.Error(err))
		}
		b.profileDir = ""
	}
}

// Close terminates Chrome and removes its profile directory.
func (b *Browser) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stop()
}

// RestartBrowserProcess kills Chrome and starts a fresh process with a new
// profile. Previously installed cookies are re-applied.
func (b *Browser) RestartBrowserProcess(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	old := b.profileDir
	b.stop()
	if err := b.start(); err != nil {
		return fmt.Errorf("restart browser: %w", err)
	}
	b.logger.Info("browser process restarted", zap.String("old_profile", old), zap.String("profile", b.profileDir))
	if len(b.cookies) == 0 {
		return nil
	}
	if err := b.launch(); err != nil {
		return err
	}
	runCtx, cancel := b.boundTo(ctx, b.browserCtx, b.navTimeout())
	defer cancel()
	if err := chromedp.Run(runCtx, network.SetCookies(b.cookies)); err != nil {
		return fmt.Errorf("restore cookies after restart: %w", err)
	}
	return nil
}

// SetCookies installs session cookies in the browser. They survive restarts.
func (b *Browser) SetCookies(ctx context.Context, cookies []*http.Cookie) error {
	params := toCookieParams(cookies)
	b.mu.Lock()
	b.cookies = params
	b.mu.Unlock()
	if len(params) == 0 {
		return nil
	}

	release, err := b.session()
	if err != nil {
		return err
	}
	defer release()
	runCtx, cancel := b.boundTo(ctx, b.browserCtx, b.navTimeout())
	defer cancel()
	if err := chromedp.Run(runCtx, network.SetCookies(params)); err != nil {
		return fmt.Errorf("set browser cookies: %w", err)
	}
	return nil
}

// Render navigates the main tab to rawURL and returns the rendered DOM.
func (b *Browser) Render(ctx context.Context, rawURL string) (forum.RenderedPage, error) {
	release, err := b.session()
	if err != nil {
		return forum.RenderedPage{}, err
	}
	defer release()

	taskCtx, cancel := b.boundTo(ctx, b.browserCtx, b.navTimeout())
	defer cancel()

	meta := newResponseMeta()
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	var html, finalURL string
	actions := []chromedp.Action{
		b.networkSetupAction(),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(b.settleDelay()),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		return forum.RenderedPage{}, navigationError(ctx, rawURL, err)
	}
	_, _, responseURL := meta.snapshotWithFallbacks(rawURL, finalURL)
	return forum.RenderedPage{URL: rawURL, FinalURL: responseURL, HTML: []byte(html)}, nil
}

// ResolveAttachment opens rawURL in an auxiliary tab, waits for media to
// appear and reports the best asset URL. When none is found the raw
// document body is returned instead.
func (b *Browser) ResolveAttachment(ctx context.Context, rawURL string) (forum.Resolution, error) {
	if err := b.acquire(ctx); err != nil {
		return forum.Resolution{}, err
	}
	defer b.release()

	unlock, err := b.session()
	if err != nil {
		return forum.Resolution{}, err
	}
	defer unlock()

	tabCtx, closeTab := chromedp.NewContext(b.browserCtx)
	defer closeTab()
	taskCtx, cancel := b.boundTo(ctx, tabCtx, b.navTimeout())
	defer cancel()

	meta := newResponseMeta()
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	var finalURL string
	if err := chromedp.Run(taskCtx,
		b.networkSetupAction(),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Location(&finalURL),
	); err != nil {
		return forum.Resolution{}, navigationError(ctx, rawURL, err)
	}

	waitCtx, waitCancel := context.WithTimeout(taskCtx, b.attachmentWait())
	waitErr := chromedp.Run(waitCtx, chromedp.WaitReady("img, video", chromedp.ByQuery))
	waitCancel()
	if waitErr != nil && ctx.Err() != nil {
		return forum.Resolution{}, fmt.Errorf("%w: %s: %w", forum.ErrAssetResolution, rawURL, ctx.Err())
	}

	var found candidates
	if waitErr == nil {
		if err := chromedp.Run(taskCtx, chromedp.Evaluate(collectCandidatesJS, &found)); err != nil {
			b.logger.Debug("collect attachment candidates failed", zap.String("url", rawURL), zap.Error(err))
		}
	}
	if assetURL := pickAssetURL(finalURL, found); assetURL != "" {
		return forum.Resolution{AssetURL: assetURL}, nil
	}

	requestID, mimeType := meta.document()
	if requestID == "" {
		return forum.Resolution{}, fmt.Errorf("%w: %s: no media element and no document response", forum.ErrAssetResolution, rawURL)
	}
	var body []byte
	if err := chromedp.Run(taskCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		body, err = network.GetResponseBody(requestID).Do(ctx)
		return err
	})); err != nil {
		return forum.Resolution{}, fmt.Errorf("%w: read body of %s: %w", forum.ErrAssetResolution, rawURL, err)
	}
	return forum.Resolution{Body: body, ContentType: mimeType}, nil
}

// boundTo derives a context from a chromedp context that also ends when
// parent is done.
func (b *Browser) boundTo(parent, chromeCtx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	taskCtx, cancel := context.WithTimeout(chromeCtx, timeout)
	stop := context.AfterFunc(parent, cancel)
	return taskCtx, func() {
		stop()
		cancel()
	}
}

func (b *Browser) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if b.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(b.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (b *Browser) acquire(ctx context.Context) error {
	if b.limiter == nil {
		return nil
	}
	select {
	case b.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("attachment tab wait canceled: %w", ctx.Err())
	}
}

func (b *Browser) release() {
	if b.limiter == nil {
		return
	}
	select {
	case <-b.limiter:
	default:
	}
}

func (b *Browser) navTimeout() time.Duration {
	if b.cfg.NavigationTimeout > 0 {
		return b.cfg.NavigationTimeout
	}
	return 45 * time.Second
}

func (b *Browser) settleDelay() time.Duration {
	if b.cfg.SettleDelay > 0 {
		return b.cfg.SettleDelay
	}
	return 500 * time.Millisecond
}

func (b *Browser) attachmentWait() time.Duration {
	if b.cfg.AttachmentWait > 0 {
		return b.cfg.AttachmentWait
	}
	return 15 * time.Second
}

// navigationError classifies a failed chromedp run. Deadline expiry maps to
// forum.ErrNavigationTimeout unless the caller itself gave up.
func navigationError(parent context.Context, rawURL string, err error) error {
	if parent.Err() != nil {
		return fmt.Errorf("navigate %s: %w", rawURL, parent.Err())
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %s: %w", forum.ErrNavigationTimeout, rawURL, err)
	}
	return fmt.Errorf("chromedp run %s: %w", rawURL, err)
}

func toCookieParams(cookies []*http.Cookie) []*network.CookieParam {
	params := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		if c == nil || c.Name == "" || c.Domain == "" {
			continue
		}
		path := c.Path
		if path == "" {
			path = "/"
		}
		p := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     path,
			Secure:   c.Secure,
			HTTPOnly: c.HttpOnly,
		}
		switch c.SameSite {
		case http.SameSiteLaxMode:
			p.SameSite = network.CookieSameSiteLax
		case http.SameSiteStrictMode:
			p.SameSite = network.CookieSameSiteStrict
		case http.SameSiteNoneMode:
			p.SameSite = network.CookieSameSiteNone
		}
		if !c.Expires.IsZero() {
			expires := cdp.TimeSinceEpoch(c.Expires)
			p.Expires = &expires
		}
		params = append(params, p)
	}
	return params
}

type responseMeta struct {
	mu        sync.RWMutex
	url       string
	requestID network.RequestID
	mimeType  string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	m.mu.Lock()
	m.url = event.Response.URL
	m.requestID = event.RequestID
	m.mimeType = event.Response.MimeType
	m.mu.Unlock()
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

func (m *responseMeta) document() (network.RequestID, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requestID, m.mimeType
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (network.RequestID, string, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	url := m.url
	switch {
	case url != "":
	case finalURL != "":
		url = finalURL
	default:
		url = requestURL
	}
	return m.requestID, m.mimeType, url
}
