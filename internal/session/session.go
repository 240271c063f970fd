// Package session installs exported forum cookies into the crawl clients and
// verifies that the forum recognises the login.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/forum-harvester/internal/forum"
)

// DefaultLoggedInSelector matches the XenForo root element of a member page.
const DefaultLoggedInSelector = `html[data-logged-in="true"]`

// Config controls how the session is established.
type Config struct {
	// CookiesFile is a JSON array of cookies in browser-extension export format.
	CookiesFile string
	// CheckURL is rendered to verify the login. Empty skips verification.
	CheckURL string
	// LoggedInSelector must match on CheckURL when logged in.
	LoggedInSelector string
}

// CookieSession implements forum.SessionProvider.
type CookieSession struct {
	cfg    Config
	nav    forum.Navigator
	sinks  []forum.CookieSink
	logger *zap.Logger
}

// New builds a CookieSession that pushes cookies into every sink and
// renders the check page through nav.
func New(cfg Config, nav forum.Navigator, logger *zap.Logger, sinks ...forum.CookieSink) *CookieSession {
	if cfg.LoggedInSelector == "" {
		cfg.LoggedInSelector = DefaultLoggedInSelector
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CookieSession{cfg: cfg, nav: nav, sinks: sinks, logger: logger.Named("session")}
}

// EnsureAuthenticated reloads the cookie file, installs it and checks the
// logged-in marker. A missing marker reports false without an error.
func (s *CookieSession) EnsureAuthenticated(ctx context.Context) (bool, error) {
	if s.cfg.CookiesFile != "" {
		cookies, err := LoadCookies(s.cfg.CookiesFile)
		if err != nil {
			return false, err
		}
		for _, sink := range s.sinks {
			if err := sink.SetCookies(ctx, cookies); err != nil {
				return false, fmt.Errorf("install cookies: %w", err)
			}
		}
		s.logger.Debug("cookies installed", zap.Int("count", len(cookies)), zap.Int("sinks", len(s.sinks)))
	}
	if s.cfg.CheckURL == "" || s.nav == nil {
		return true, nil
	}

	page, err := s.nav.Render(ctx, s.cfg.CheckURL)
	if err != nil {
		return false, fmt.Errorf("render login check page: %w", err)
	}
	ok, err := IsLoggedIn(page.HTML, s.cfg.LoggedInSelector)
	if err != nil {
		return false, err
	}
	if !ok {
		s.logger.Warn("login marker missing", zap.String("url", s.cfg.CheckURL), zap.String("selector", s.cfg.LoggedInSelector))
	}
	return ok, nil
}

// IsLoggedIn reports whether selector matches anything in html.
func IsLoggedIn(html []byte, selector string) (bool, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return false, fmt.Errorf("parse login check page: %w", err)
	}
	return doc.Find(selector).Length() > 0, nil
}

type exportedCookie struct {
	Name           string  `json:"name"`
	Value          string  `json:"value"`
	Domain         string  `json:"domain"`
	Path           string  `json:"path"`
	Secure         bool    `json:"secure"`
	HTTPOnly       bool    `json:"httpOnly"`
	SameSite       string  `json:"sameSite"`
	ExpirationDate float64 `json:"expirationDate"`
	Session        bool    `json:"session"`
}

// LoadCookies reads an exported cookie file.
func LoadCookies(path string) ([]*http.Cookie, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open cookies file: %w", err)
	}
	defer func() { _ = f.Close() }()
	return ParseCookies(f)
}

// ParseCookies decodes a JSON cookie export. Entries without a name or
// domain are skipped.
func ParseCookies(r io.Reader) ([]*http.Cookie, error) {
	var raw []exportedCookie
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode cookies: %w", err)
	}
	cookies := make([]*http.Cookie, 0, len(raw))
	for _, c := range raw {
		if c.Name == "" || c.Domain == "" {
			continue
		}
		cookie := &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
			SameSite: sameSite(c.SameSite),
		}
		if cookie.Path == "" {
			cookie.Path = "/"
		}
		if !c.Session && c.ExpirationDate > 0 {
			sec, frac := math.Modf(c.ExpirationDate)
			cookie.Expires = time.Unix(int64(sec), int64(frac*1e9)).UTC()
		}
		cookies = append(cookies, cookie)
	}
	return cookies, nil
}

func sameSite(v string) http.SameSite {
	switch strings.ToLower(v) {
	case "lax":
		return http.SameSiteLaxMode
	case "strict":
		return http.SameSiteStrictMode
	case "none", "no_restriction":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteDefaultMode
	}
}
