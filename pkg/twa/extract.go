package twa

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/stackpod/hutch/pkg/log"
	"github.com/stackpod/hutch/pkg/types"
)

// ErrNoSessionCookie means the browser finished a flow without the
// profile's session cookie, so no usable bundle exists.
var ErrNoSessionCookie = errors.New("session cookie missing")

// Page is the slice of browser behaviour extraction needs.
type Page interface {
	Navigate(ctx context.Context, url string, settle time.Duration) error
	Cookies(ctx context.Context) ([]types.Cookie, error)
	Evaluate(ctx context.Context, js string, out any) error
}

// Extractor builds credential bundles from a logged-in browser page.
type Extractor struct {
	profile *Profile
	logger  zerolog.Logger
}

func NewExtractor(p *Profile) *Extractor {
	return &Extractor{
		profile: p,
		logger:  log.WithComponent("twa"),
	}
}

// Extract captures the session state of a logged-in page as a bundle.
// Cookies are read before any navigation so a flaky profile page cannot
// lose the credential material. A missing session cookie fails the
// extraction; a missing identity does not.
func (e *Extractor) Extract(ctx context.Context, page Page) (*types.Bundle, error) {
	all, err := page.Cookies(ctx)
	if err != nil {
		return nil, fmt.Errorf("read cookies: %w", err)
	}
	cookies := scopeCookies(all, e.profile.Host)

	session := cookieValue(cookies, e.profile.SessionCookie)
	if session == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoSessionCookie, e.profile.SessionCookie)
	}

	ident := e.identity(ctx, page)
	if ident == nil {
		e.logger.Debug().Msg("no user identity resolved, bundle will be stored unkeyed")
	}

	seed := identitySeed(ident, session)
	deviceID, installID := deriveDeviceIDs(seed)

	return &types.Bundle{
		Cookies:     cookies,
		User:        ident,
		Tokens:      tokenMap(cookies, e.profile.TokenCookies),
		DeviceID:    deviceID,
		InstallID:   installID,
		ExtractedAt: time.Now().UTC(),
	}, nil
}

// identity navigates to the profile page and runs the configured
// scripts in order until one returns a populated identity object.
func (e *Extractor) identity(ctx context.Context, page Page) *types.UserIdentity {
	if e.profile.ProfileURL != "" {
		if err := page.Navigate(ctx, e.profile.ProfileURL, e.profile.NavigateSettle()); err != nil {
			e.logger.Debug().Err(err).Msg("profile page navigation failed")
			return nil
		}
	}
	for i, script := range e.profile.IdentityScripts {
		var ident *types.UserIdentity
		if err := page.Evaluate(ctx, script, &ident); err != nil {
			e.logger.Debug().Int("script", i).Err(err).Msg("identity script failed")
			continue
		}
		if ident != nil && (ident.SecUserID != "" || ident.UserID != "" || ident.UniqueID != "") {
			return ident
		}
	}
	return nil
}

// scopeCookies keeps cookies whose domain covers the application host.
func scopeCookies(cookies []types.Cookie, host string) []types.Cookie {
	host = strings.ToLower(host)
	out := make([]types.Cookie, 0, len(cookies))
	for _, c := range cookies {
		d := strings.ToLower(strings.TrimPrefix(c.Domain, "."))
		if d == "" || d == host || strings.HasSuffix(host, "."+d) {
			out = append(out, c)
		}
	}
	return out
}

func cookieValue(cookies []types.Cookie, name string) string {
	for _, c := range cookies {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

// tokenMap mirrors whitelisted cookie values into the bundle's token
// map so signed fetches can reach them without rescanning the jar.
func tokenMap(cookies []types.Cookie, whitelist []string) map[string]string {
	tokens := make(map[string]string, len(whitelist))
	for _, name := range whitelist {
		if v := cookieValue(cookies, name); v != "" {
			tokens[name] = v
		}
	}
	return tokens
}

// identitySeed picks the most stable identifier available. Falling back
// to the session cookie keeps device IDs deterministic per session even
// for accounts with no readable identity.
func identitySeed(ident *types.UserIdentity, sessionCookie string) string {
	if ident != nil {
		switch {
		case ident.SecUserID != "":
			return ident.SecUserID
		case ident.UserID != "":
			return ident.UserID
		case ident.UniqueID != "":
			return ident.UniqueID
		}
	}
	return sessionCookie
}

// deriveDeviceIDs hashes the seed into two stable 19-digit decimal
// strings shaped like the application's native device and install IDs.
func deriveDeviceIDs(seed string) (deviceID, installID string) {
	sum := sha256.Sum256([]byte(seed))
	d := binary.BigEndian.Uint64(sum[0:8]) % 1e19
	i := binary.BigEndian.Uint64(sum[8:16]) % 1e19
	return fmt.Sprintf("%019d", d), fmt.Sprintf("%019d", i)
}
