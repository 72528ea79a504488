package twa

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Surface names a sampling target on the application.
type Surface string

const (
	SurfaceFeed    Surface = "feed"
	SurfaceHistory Surface = "history"
)

// Profile describes the target web application: where to log in, how a
// logged-in URL looks, which cookies carry the session, and which API
// responses hold sampleable items. The compiled-in default targets a
// generic deployment; operators point HUTCH_TWA_PROFILE at a YAML file
// to override any subset of fields.
type Profile struct {
	// Host is the canonical application host, e.g. "www.example.com".
	Host string `yaml:"host"`

	QRLoginURL string `yaml:"qr_login_url"`
	ProfileURL string `yaml:"profile_url"`
	FeedURL    string `yaml:"feed_url"`
	HistoryURL string `yaml:"history_url"`

	// FeedAPI and HistoryAPI are the endpoints signed fetches target.
	FeedAPI    string `yaml:"feed_api"`
	HistoryAPI string `yaml:"history_api"`

	// LoginPath appears in the URL path while authentication is still
	// in progress and disappears once the app redirects the user in.
	LoginPath string `yaml:"login_path"`

	// LoginPatterns and DownloadPatterns classify decoded QR URLs.
	// A valid login QR matches a login pattern and no download pattern.
	LoginPatterns    []string `yaml:"login_patterns"`
	DownloadPatterns []string `yaml:"download_patterns"`

	// PlaceholderImage is a source substring of the app's stand-in
	// image shown before the real QR renders.
	PlaceholderImage string `yaml:"placeholder_image"`

	// SessionCookie must be present for a bundle to be usable.
	SessionCookie string `yaml:"session_cookie"`

	// TokenCookies whitelists cookie names mirrored into the bundle's
	// token map.
	TokenCookies []string `yaml:"token_cookies"`

	// IdentityScripts are page-context expressions tried in order until
	// one yields a user identity object. All may yield null on accounts
	// that hide profile state; the bundle is then stored without an
	// identity key.
	IdentityScripts []string `yaml:"identity_scripts"`

	FeedCapture    []string `yaml:"feed_capture"`
	HistoryCapture []string `yaml:"history_capture"`

	// ItemKeys are the JSON array fields items are collected from.
	ItemKeys []string `yaml:"item_keys"`

	MaxScrolls       int `yaml:"max_scrolls"`
	ScrollSettleMS   int `yaml:"scroll_settle_ms"`
	NavigateSettleMS int `yaml:"navigate_settle_ms"`
}

// Default returns the compiled-in profile. Field values follow the
// generic deployment layout so the service runs end to end without an
// external profile file.
func Default() *Profile {
	return &Profile{
		Host:       "www.example.com",
		QRLoginURL: "https://www.example.com/login/qrcode",
		ProfileURL: "https://www.example.com/profile",
		FeedURL:    "https://www.example.com/foryou",
		HistoryURL: "https://www.example.com/history",
		FeedAPI:    "https://www.example.com/api/recommend/item_list/",
		HistoryAPI: "https://www.example.com/api/history/list/",
		LoginPath:  "/login",
		LoginPatterns: []string{
			`/login/`,
			`/passport/web/`,
		},
		DownloadPatterns: []string{
			`/download`,
			`/promo/`,
		},
		PlaceholderImage: "placeholder_qr.png",
		SessionCookie:    "sessionid",
		TokenCookies: []string{
			"sessionid",
			"sessionid_ss",
			"web_id",
			"passport_token",
			"passport_csrf_token",
		},
		IdentityScripts: []string{
			`(() => {
  const u = window.__USER__ || (window.__INITIAL_STATE__ && window.__INITIAL_STATE__.user);
  if (!u) return null;
  return {
    user_id: String(u.userId || u.user_id || ''),
    sec_user_id: u.secUserId || u.sec_user_id || '',
    unique_id: u.uniqueId || u.unique_id || '',
    nickname: u.nickname || '',
  };
})()`,
			`(() => {
  const el = document.querySelector('script[type="application/json"]#app-state');
  if (!el) return null;
  try {
    const s = JSON.parse(el.textContent);
    const u = s.user || (s.userInfo && s.userInfo.user);
    if (!u) return null;
    return {
      user_id: String(u.userId || u.user_id || ''),
      sec_user_id: u.secUserId || u.sec_user_id || '',
      unique_id: u.uniqueId || u.unique_id || '',
      nickname: u.nickname || '',
    };
  } catch (e) {
    return null;
  }
})()`,
		},
		FeedCapture:    []string{"/api/recommend/item_list", "/api/feed/"},
		HistoryCapture: []string{"/api/history/list", "/api/watch/history"},
		ItemKeys:       []string{"itemList", "aweme_list", "items"},

		MaxScrolls:       15,
		ScrollSettleMS:   800,
		NavigateSettleMS: 1500,
	}
}

// Load reads a YAML profile from path, overlaying it on the default so
// partial files only override the fields they name.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}
	p := Default()
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parse profile: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("profile %s: %w", path, err)
	}
	return p, nil
}

// Validate checks the fields every flow depends on.
func (p *Profile) Validate() error {
	switch {
	case p.Host == "":
		return fmt.Errorf("host is required")
	case p.QRLoginURL == "":
		return fmt.Errorf("qr_login_url is required")
	case p.SessionCookie == "":
		return fmt.Errorf("session_cookie is required")
	case len(p.LoginPatterns) == 0:
		return fmt.Errorf("at least one login pattern is required")
	case len(p.FeedCapture) == 0 || len(p.HistoryCapture) == 0:
		return fmt.Errorf("capture patterns are required for both surfaces")
	case len(p.ItemKeys) == 0:
		return fmt.Errorf("at least one item key is required")
	case p.MaxScrolls <= 0:
		return fmt.Errorf("max_scrolls must be positive")
	}
	return nil
}

// IsLoggedIn reports whether a current page URL indicates a completed
// login: on the application host with the login path gone.
func (p *Profile) IsLoggedIn(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return false
	}
	if !p.hostMatches(u.Hostname()) {
		return false
	}
	if p.LoginPath != "" && strings.Contains(u.Path, p.LoginPath) {
		return false
	}
	return true
}

func (p *Profile) hostMatches(host string) bool {
	host = strings.ToLower(host)
	base := strings.TrimPrefix(strings.ToLower(p.Host), "www.")
	return host == strings.ToLower(p.Host) || host == base || strings.HasSuffix(host, "."+base)
}

// PageURL returns the browsable page for a surface.
func (p *Profile) PageURL(s Surface) string {
	if s == SurfaceHistory {
		return p.HistoryURL
	}
	return p.FeedURL
}

// APIEndpoint returns the signed-fetch endpoint for a surface.
func (p *Profile) APIEndpoint(s Surface) string {
	if s == SurfaceHistory {
		return p.HistoryAPI
	}
	return p.FeedAPI
}

// CapturePatterns returns the response URL substrings recorded while
// sampling a surface.
func (p *Profile) CapturePatterns(s Surface) []string {
	if s == SurfaceHistory {
		return p.HistoryCapture
	}
	return p.FeedCapture
}

// NavigateSettle is the pause after navigation before the page is
// driven.
func (p *Profile) NavigateSettle() time.Duration {
	return time.Duration(p.NavigateSettleMS) * time.Millisecond
}

// ScrollSettle is the pause between scroll steps.
func (p *Profile) ScrollSettle() time.Duration {
	return time.Duration(p.ScrollSettleMS) * time.Millisecond
}
