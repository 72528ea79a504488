package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	cdruntime "github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"

	"github.com/stackpod/hutch/pkg/log"
	"github.com/stackpod/hutch/pkg/types"
)

const (
	// DialAttempts is how many times Dial tries the DevTools endpoint
	// before giving up.
	DialAttempts = 3

	// DialBackoff separates dial attempts.
	DialBackoff = 2 * time.Second
)

// ErrDialFailed means the DevTools endpoint never accepted a control
// connection.
var ErrDialFailed = errors.New("browser dial failed")

// Page is one controlled browser tab. Implementations are not safe for
// concurrent use; a page belongs to a single flow.
type Page interface {
	Navigate(ctx context.Context, url string, settle time.Duration) error
	CurrentURL(ctx context.Context) (string, error)
	Cookies(ctx context.Context) ([]types.Cookie, error)
	SetCookies(ctx context.Context, cookies []types.Cookie) error
	Evaluate(ctx context.Context, js string, out any) error
	EvaluateAsync(ctx context.Context, js string, out any) error
	Screenshot(ctx context.Context) ([]byte, error)
	CaptureResponses(ctx context.Context, urlSubstrings []string) (Capture, error)
	Close() error
}

// DialFunc opens a Page on a remote DevTools endpoint. The orchestrator
// holds one of these so tests can substitute a fake browser.
type DialFunc func(ctx context.Context, devtoolsURL string) (Page, error)

// Session is a live chromedp connection to one containerized browser.
type Session struct {
	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc
	logger      zerolog.Logger
}

// Dial connects to the container's DevTools endpoint, retrying a few
// times while the browser inside finishes starting.
func Dial(ctx context.Context, devtoolsURL string) (Page, error) {
	logger := log.WithComponent("browser")

	var lastErr error
	for attempt := 1; attempt <= DialAttempts; attempt++ {
		sess, err := dialOnce(ctx, devtoolsURL)
		if err == nil {
			sess.logger = logger
			return sess, nil
		}
		lastErr = err
		logger.Debug().Err(err).Int("attempt", attempt).Str("devtools", devtoolsURL).Msg("dial attempt failed")

		if attempt < DialAttempts {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", ErrDialFailed, ctx.Err())
			case <-time.After(DialBackoff):
			}
		}
	}

	return nil, fmt.Errorf("%w: %v", ErrDialFailed, lastErr)
}

func dialOnce(ctx context.Context, devtoolsURL string) (*Session, error) {
	allocCtx, allocCancel := chromedp.NewRemoteAllocator(ctx, devtoolsURL)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	// An empty run forces the websocket handshake so a dead endpoint
	// fails here rather than on the first real action.
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		allocCancel()
		return nil, err
	}

	return &Session{
		allocCancel: allocCancel,
		tabCtx:      tabCtx,
		tabCancel:   tabCancel,
	}, nil
}

// Navigate loads the url and lets the page settle.
func (s *Session) Navigate(ctx context.Context, url string, settle time.Duration) error {
	runCtx, cancel := s.bind(ctx)
	defer cancel()

	actions := []chromedp.Action{chromedp.Navigate(url)}
	if settle > 0 {
		actions = append(actions, chromedp.Sleep(settle))
	}

	if err := chromedp.Run(runCtx, actions...); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

// CurrentURL returns the page's location.
func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	runCtx, cancel := s.bind(ctx)
	defer cancel()

	var url string
	if err := chromedp.Run(runCtx, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("failed to read location: %w", err)
	}
	return url, nil
}

// Cookies returns every cookie in the browser context.
func (s *Session) Cookies(ctx context.Context) ([]types.Cookie, error) {
	runCtx, cancel := s.bind(ctx)
	defer cancel()

	var raw []*network.Cookie
	err := chromedp.Run(runCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		raw, err = storage.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}

	return fromNetworkCookies(raw), nil
}

// SetCookies loads cookies into the browser context before navigation.
func (s *Session) SetCookies(ctx context.Context, cookies []types.Cookie) error {
	runCtx, cancel := s.bind(ctx)
	defer cancel()

	params := toCookieParams(cookies)
	err := chromedp.Run(runCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		return storage.SetCookies(params).Do(ctx)
	}))
	if err != nil {
		return fmt.Errorf("failed to set cookies: %w", err)
	}
	return nil
}

// Evaluate runs a synchronous expression in the page and decodes the
// result into out. Pass nil to discard the result.
func (s *Session) Evaluate(ctx context.Context, js string, out any) error {
	runCtx, cancel := s.bind(ctx)
	defer cancel()

	if err := chromedp.Run(runCtx, chromedp.Evaluate(js, out)); err != nil {
		return fmt.Errorf("evaluate failed: %w", err)
	}
	return nil
}

// EvaluateAsync runs an expression that returns a promise and awaits
// its resolution.
func (s *Session) EvaluateAsync(ctx context.Context, js string, out any) error {
	runCtx, cancel := s.bind(ctx)
	defer cancel()

	err := chromedp.Run(runCtx, chromedp.Evaluate(js, out,
		func(p *cdruntime.EvaluateParams) *cdruntime.EvaluateParams {
			return p.WithAwaitPromise(true).WithReturnByValue(true)
		}))
	if err != nil {
		return fmt.Errorf("async evaluate failed: %w", err)
	}
	return nil
}

// Screenshot captures the visible viewport as PNG.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	runCtx, cancel := s.bind(ctx)
	defer cancel()

	var buf []byte
	if err := chromedp.Run(runCtx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("screenshot failed: %w", err)
	}
	return buf, nil
}

// CaptureResponses starts recording response bodies whose URL contains
// any of the given substrings. Recording lasts for the life of the tab.
func (s *Session) CaptureResponses(ctx context.Context, urlSubstrings []string) (Capture, error) {
	runCtx, cancel := s.bind(ctx)
	defer cancel()

	if err := chromedp.Run(runCtx, network.Enable()); err != nil {
		return nil, fmt.Errorf("failed to enable network capture: %w", err)
	}

	rec := newCapture(urlSubstrings)
	rec.attach(s.tabCtx)
	return rec, nil
}

// Close tears down the tab and the remote connection.
func (s *Session) Close() error {
	s.tabCancel()
	s.allocCancel()
	return nil
}

// bind couples the caller's deadline to the tab context so one slow
// action cannot outlive its budget while the tab itself stays usable.
func (s *Session) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	if deadline, ok := ctx.Deadline(); ok {
		return context.WithDeadline(s.tabCtx, deadline)
	}
	return context.WithCancel(s.tabCtx)
}

// fromNetworkCookies converts DevTools cookies to the wire shape.
func fromNetworkCookies(raw []*network.Cookie) []types.Cookie {
	out := make([]types.Cookie, 0, len(raw))
	for _, c := range raw {
		out = append(out, types.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: string(c.SameSite),
		})
	}
	return out
}

// toCookieParams converts wire cookies to DevTools set-cookie params.
func toCookieParams(cookies []types.Cookie) []*network.CookieParam {
	params := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		p := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		}
		if c.SameSite != "" {
			p.SameSite = network.CookieSameSite(c.SameSite)
		}
		if c.Expires > 0 {
			t := cdp.TimeSinceEpoch(time.Unix(int64(c.Expires), 0))
			p.Expires = &t
		}
		params = append(params, p)
	}
	return params
}
