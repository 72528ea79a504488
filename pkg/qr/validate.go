package qr

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Validator decides whether a decoded QR URL is a real login URL. The
// target application intermittently serves promotional QR codes that
// are visually indistinguishable from login ones; only the decoded URL
// tells them apart.
type Validator struct {
	host     string
	login    []*regexp.Regexp
	download []*regexp.Regexp
}

// NewValidator compiles the login and download URL patterns. Host is
// the target application's apex host; subdomains are accepted.
func NewValidator(host string, loginPatterns, downloadPatterns []string) (*Validator, error) {
	if host == "" {
		return nil, fmt.Errorf("validator host is required")
	}

	login, err := compileAll(loginPatterns)
	if err != nil {
		return nil, fmt.Errorf("bad login pattern: %w", err)
	}
	download, err := compileAll(downloadPatterns)
	if err != nil {
		return nil, fmt.Errorf("bad download pattern: %w", err)
	}

	return &Validator{host: host, login: login, download: download}, nil
}

// Validate checks domain, login shape, and download shape in that
// order. Any failure wraps ErrInvalidURL.
func (v *Validator) Validate(raw string) error {
	if raw == "" {
		return fmt.Errorf("%w: empty url", ErrInvalidURL)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: unparseable: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme %q", ErrInvalidURL, u.Scheme)
	}

	host := u.Hostname()
	if host != v.host && !strings.HasSuffix(host, "."+v.host) {
		return fmt.Errorf("%w: host %q is not on %q", ErrInvalidURL, host, v.host)
	}

	// Download shapes are rejected even on the correct domain.
	for _, re := range v.download {
		if re.MatchString(raw) {
			return fmt.Errorf("%w: matches download shape %q", ErrInvalidURL, re.String())
		}
	}

	for _, re := range v.login {
		if re.MatchString(raw) {
			return nil
		}
	}

	return fmt.Errorf("%w: no login shape matches", ErrInvalidURL)
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}
