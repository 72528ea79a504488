package twa

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/stackpod/hutch/pkg/browser"
	"github.com/stackpod/hutch/pkg/log"
	"github.com/stackpod/hutch/pkg/types"
)

// Method labels on sample results, matching the route family that
// produced them.
const (
	MethodPlaywright = "playwright"
	MethodModule     = "module"
)

const scrollScript = `window.scrollTo(0, document.body.scrollHeight)`

// SamplerPage is the slice of browser behaviour page-driven sampling
// needs.
type SamplerPage interface {
	Navigate(ctx context.Context, url string, settle time.Duration) error
	Evaluate(ctx context.Context, js string, out any) error
	CaptureResponses(ctx context.Context, urlSubstrings []string) (browser.Capture, error)
}

// ModulePage is the slice of browser behaviour signed-fetch sampling
// needs.
type ModulePage interface {
	Navigate(ctx context.Context, url string, settle time.Duration) error
	EvaluateAsync(ctx context.Context, js string, out any) error
}

// PageSampler collects items by browsing a surface: it arms a network
// capture, navigates, and scrolls until enough items arrived or the
// scroll budget runs out.
type PageSampler struct {
	profile *Profile
	logger  zerolog.Logger
}

func NewPageSampler(p *Profile) *PageSampler {
	return &PageSampler{
		profile: p,
		logger:  log.WithComponent("twa"),
	}
}

// Sample drives the page until count items were captured or the scroll
// budget is exhausted. Fewer items than requested is not an error; the
// surface may simply run dry.
func (s *PageSampler) Sample(ctx context.Context, page SamplerPage, surface Surface, count int) (*types.SampleResult, error) {
	rec, err := page.CaptureResponses(ctx, s.profile.CapturePatterns(surface))
	if err != nil {
		return nil, fmt.Errorf("arm capture: %w", err)
	}
	if err := page.Navigate(ctx, s.profile.PageURL(surface), s.profile.NavigateSettle()); err != nil {
		return nil, fmt.Errorf("navigate %s: %w", surface, err)
	}

	items := collectItems(rec.Responses(), s.profile.ItemKeys)
	for scroll := 0; scroll < s.profile.MaxScrolls && len(items) < count; scroll++ {
		if err := page.Evaluate(ctx, scrollScript, nil); err != nil {
			return nil, fmt.Errorf("scroll %d: %w", scroll+1, err)
		}
		if !sleepFor(ctx, s.profile.ScrollSettle()) {
			return nil, ctx.Err()
		}
		items = collectItems(rec.Responses(), s.profile.ItemKeys)
	}
	if len(items) > count {
		items = items[:count]
	}

	s.logger.Debug().
		Str("surface", string(surface)).
		Int("items", len(items)).
		Int("responses", rec.Count()).
		Msg("page sampling finished")

	return &types.SampleResult{
		Items:     items,
		Method:    MethodPlaywright,
		SampledAt: time.Now().UTC(),
	}, nil
}

// ModuleSampler samples through a signed API fetch evaluated inside the
// page, so the request rides the page's cookie jar and origin.
type ModuleSampler struct {
	profile  *Profile
	registry *Registry
	logger   zerolog.Logger
}

func NewModuleSampler(p *Profile, reg *Registry) *ModuleSampler {
	return &ModuleSampler{
		profile:  p,
		registry: reg,
		logger:   log.WithComponent("twa"),
	}
}

// Sample resolves the auth module, navigates onto the application
// origin, and runs one signed fetch. The raw response body is returned
// regardless of its HTTP status; callers judge the status code.
func (s *ModuleSampler) Sample(ctx context.Context, page ModulePage, surface Surface, bundle *types.Bundle, moduleType string, count int) (*types.SampleResult, error) {
	mod, err := s.registry.Get(moduleType)
	if err != nil {
		return nil, err
	}
	if err := page.Navigate(ctx, s.profile.PageURL(surface), s.profile.NavigateSettle()); err != nil {
		return nil, fmt.Errorf("navigate %s: %w", surface, err)
	}

	params := mod.BuildAuthenticatedParams(bundle, count)
	signedURL, err := mod.BuildAuthenticatedURL(s.profile.APIEndpoint(surface), params, bundle)
	if err != nil {
		return nil, fmt.Errorf("build signed url: %w", err)
	}
	script, err := fetchScript(signedURL, mod.GenerateAuthHeaders(bundle))
	if err != nil {
		return nil, err
	}

	var out struct {
		Status int    `json:"status"`
		Body   string `json:"body"`
	}
	if err := page.EvaluateAsync(ctx, script, &out); err != nil {
		return nil, fmt.Errorf("signed fetch: %w", err)
	}

	s.logger.Debug().
		Str("surface", string(surface)).
		Str("module", mod.Name()).
		Int("status", out.Status).
		Msg("module sampling finished")

	return &types.SampleResult{
		Raw:        decodeRaw(out.Body),
		StatusCode: out.Status,
		Method:     MethodModule,
		SampledAt:  time.Now().UTC(),
	}, nil
}

// fetchScript builds the in-page fetch. credentials include keeps the
// page's cookie jar on the request.
func fetchScript(target string, headers map[string]string) (string, error) {
	hdr, err := json.Marshal(headers)
	if err != nil {
		return "", fmt.Errorf("encode headers: %w", err)
	}
	return fmt.Sprintf(`(async () => {
  const res = await fetch(%q, { method: 'GET', headers: %s, credentials: 'include' });
  const body = await res.text();
  return { status: res.status, body: body };
})()`, target, hdr), nil
}

// collectItems pulls item objects out of captured JSON response
// bodies, deduplicating by item id when one is present. Responses that
// are not JSON objects are skipped.
func collectItems(responses []browser.CapturedResponse, itemKeys []string) []map[string]any {
	var items []map[string]any
	seen := make(map[string]bool)
	for _, resp := range responses {
		var payload map[string]any
		if err := json.Unmarshal(resp.Body, &payload); err != nil {
			continue
		}
		for _, key := range itemKeys {
			arr, ok := payload[key].([]any)
			if !ok {
				continue
			}
			for _, el := range arr {
				item, ok := el.(map[string]any)
				if !ok {
					continue
				}
				if id := itemID(item); id != "" {
					if seen[id] {
						continue
					}
					seen[id] = true
				}
				items = append(items, item)
			}
		}
	}
	return items
}

func itemID(item map[string]any) string {
	for _, k := range []string{"id", "aweme_id", "item_id"} {
		if v, ok := item[k]; ok {
			return fmt.Sprint(v)
		}
	}
	return ""
}

// decodeRaw keeps the response structured when it parses as JSON, the
// raw text otherwise.
func decodeRaw(body string) any {
	var v any
	if err := json.Unmarshal([]byte(body), &v); err != nil || v == nil {
		return body
	}
	return v
}

func sleepFor(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
