package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stackpod/hutch/pkg/browser"
	"github.com/stackpod/hutch/pkg/metrics"
	"github.com/stackpod/hutch/pkg/proxy"
	"github.com/stackpod/hutch/pkg/session"
	"github.com/stackpod/hutch/pkg/twa"
	"github.com/stackpod/hutch/pkg/types"
)

// ModuleSampleRequest carries the module-family request options.
type ModuleSampleRequest struct {
	Count      int
	ModuleType string
	// Proxy replaces the computed upstream for this assignment.
	Proxy *types.ProxyUpstream
}

// SampleFeed browses the feed surface and returns captured items.
func (o *Orchestrator) SampleFeed(ctx context.Context, sessionID string, count int) (*types.SampleResult, error) {
	return o.samplePage(ctx, sessionID, twa.SurfaceFeed, count)
}

// SampleHistory browses the watch-history surface and returns captured
// items.
func (o *Orchestrator) SampleHistory(ctx context.Context, sessionID string, count int) (*types.SampleResult, error) {
	return o.samplePage(ctx, sessionID, twa.SurfaceHistory, count)
}

// SampleFeedModule samples the feed through a signed in-page fetch.
func (o *Orchestrator) SampleFeedModule(ctx context.Context, sessionID string, req ModuleSampleRequest) (*types.SampleResult, error) {
	return o.sampleModule(ctx, sessionID, twa.SurfaceFeed, req)
}

// SampleHistoryModule samples watch history through a signed in-page
// fetch.
func (o *Orchestrator) SampleHistoryModule(ctx context.Context, sessionID string, req ModuleSampleRequest) (*types.SampleResult, error) {
	return o.sampleModule(ctx, sessionID, twa.SurfaceHistory, req)
}

// samplePage is the assign, drive, always-release template for the
// browsing family.
func (o *Orchestrator) samplePage(ctx context.Context, sessionID string, surface twa.Surface, count int) (*types.SampleResult, error) {
	start := time.Now()
	kind := string(surface)
	if count <= 0 {
		count = o.cfg.DefaultCount
	}

	bundle, err := o.store.Get(sessionID)
	if err != nil {
		metrics.SamplesTotal.WithLabelValues(kind, twa.MethodPlaywright, "session_not_found").Inc()
		return nil, err
	}

	ctr, err := o.pool.Assign(ctx, sessionID, proxy.KindSampling)
	if err != nil {
		metrics.SamplesTotal.WithLabelValues(kind, twa.MethodPlaywright, "assign_failed").Inc()
		return nil, err
	}
	defer o.releaseSampling(sessionID)

	page, err := o.openSession(ctx, ctr, bundle)
	if err != nil {
		metrics.SamplesTotal.WithLabelValues(kind, twa.MethodPlaywright, "browser_failed").Inc()
		return nil, err
	}
	defer page.Close()

	res, err := o.pages.Sample(ctx, page, surface, count)
	if err != nil {
		metrics.SamplesTotal.WithLabelValues(kind, twa.MethodPlaywright, "script_failed").Inc()
		return nil, fmt.Errorf("%w: %s", ErrSamplingScript, err)
	}

	metrics.SamplesTotal.WithLabelValues(kind, twa.MethodPlaywright, "ok").Inc()
	metrics.SampleDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	o.logger.Info().
		Str("session_id", session.TruncateID(sessionID)).
		Str("container_id", shortID(ctr.ID)).
		Str("surface", kind).
		Int("items", len(res.Items)).
		Dur("duration", time.Since(start)).
		Msg("page sample complete")
	return res, nil
}

// sampleModule is the same template for the signed-fetch family.
func (o *Orchestrator) sampleModule(ctx context.Context, sessionID string, surface twa.Surface, req ModuleSampleRequest) (*types.SampleResult, error) {
	start := time.Now()
	kind := string(surface)
	count := req.Count
	if count <= 0 {
		count = o.cfg.DefaultCount
	}

	bundle, err := o.store.Get(sessionID)
	if err != nil {
		metrics.SamplesTotal.WithLabelValues(kind, twa.MethodModule, "session_not_found").Inc()
		return nil, err
	}

	var ctr *types.Container
	if req.Proxy != nil && !req.Proxy.IsZero() {
		ctr, err = o.pool.AssignWithProxy(ctx, sessionID, *req.Proxy)
	} else {
		ctr, err = o.pool.Assign(ctx, sessionID, proxy.KindSampling)
	}
	if err != nil {
		metrics.SamplesTotal.WithLabelValues(kind, twa.MethodModule, "assign_failed").Inc()
		return nil, err
	}
	defer o.releaseSampling(sessionID)

	page, err := o.openSession(ctx, ctr, bundle)
	if err != nil {
		metrics.SamplesTotal.WithLabelValues(kind, twa.MethodModule, "browser_failed").Inc()
		return nil, err
	}
	defer page.Close()

	res, err := o.mods.Sample(ctx, page, surface, bundle, req.ModuleType, count)
	if err != nil {
		if errors.Is(err, twa.ErrUnknownModule) {
			metrics.SamplesTotal.WithLabelValues(kind, twa.MethodModule, "bad_module").Inc()
			return nil, err
		}
		metrics.SamplesTotal.WithLabelValues(kind, twa.MethodModule, "script_failed").Inc()
		return nil, fmt.Errorf("%w: %s", ErrSamplingScript, err)
	}

	metrics.SamplesTotal.WithLabelValues(kind, twa.MethodModule, "ok").Inc()
	metrics.SampleDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	o.logger.Info().
		Str("session_id", session.TruncateID(sessionID)).
		Str("container_id", shortID(ctr.ID)).
		Str("surface", kind).
		Int("status", res.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("module sample complete")
	return res, nil
}

// openSession dials the container and injects the session's cookies.
func (o *Orchestrator) openSession(ctx context.Context, ctr *types.Container, bundle *types.Bundle) (browser.Page, error) {
	page, err := o.dial(ctx, ctr.DevtoolsURL)
	if err != nil {
		return nil, err
	}
	if err := page.SetCookies(ctx, bundle.Cookies); err != nil {
		page.Close()
		return nil, fmt.Errorf("inject cookies: %w", err)
	}
	return page, nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func (o *Orchestrator) releaseSampling(sessionID string) {
	if err := o.pool.Release(sessionID); err != nil {
		o.logger.Warn().Err(err).Str("session_id", session.TruncateID(sessionID)).Msg("sampling release failed")
	}
}
