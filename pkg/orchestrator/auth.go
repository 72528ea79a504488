package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/stackpod/hutch/pkg/browser"
	"github.com/stackpod/hutch/pkg/metrics"
	"github.com/stackpod/hutch/pkg/pool"
	"github.com/stackpod/hutch/pkg/proxy"
	"github.com/stackpod/hutch/pkg/session"
	"github.com/stackpod/hutch/pkg/types"
)

// StartAuth creates an auth session and returns it immediately; the
// QR flow runs in the background. The owning session id is recorded
// as-is; it does not need to name an existing credential session.
func (o *Orchestrator) StartAuth(sessionID string) *types.AuthSession {
	rec := o.store.CreateAuth(sessionID)
	go o.runAuthFlow(rec.ID)
	return rec
}

// PollAuth returns the auth record's current state. A record in a
// terminal state is removed after this read, so terminal polls are
// one-shot.
func (o *Orchestrator) PollAuth(authSessionID string) (*types.AuthSession, error) {
	rec, err := o.store.GetAuth(authSessionID)
	if err != nil {
		return nil, err
	}
	if rec.Status == types.AuthStatusComplete || rec.Status == types.AuthStatusFailed {
		o.store.RemoveAuth(authSessionID)
	}
	return rec, nil
}

// runAuthFlow is the background half of StartAuth: assign a container
// under the auth id, extract the QR, wait for the scan, capture the
// bundle. Success recycles the container so nothing of the logged-in
// browser survives; every failure releases it and marks the record
// Failed with a tag.
func (o *Orchestrator) runAuthFlow(authID string) {
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.AuthFlowBudget)
	defer cancel()

	flog := o.logger.With().Str("auth_session_id", session.TruncateID(authID)).Logger()

	ctr, err := o.pool.Assign(ctx, authID, proxy.KindAuth)
	if err != nil {
		o.failAuth(authID, assignTag(err), err)
		return
	}
	if err := o.store.UpdateAuth(authID, func(a *types.AuthSession) {
		a.ContainerID = ctr.ID
	}); err != nil {
		// The record was swept before the flow got going.
		flog.Warn().Err(err).Msg("auth record gone before container bind")
		o.releaseAuthContainer(authID)
		return
	}

	page, err := o.dial(ctx, ctr.DevtoolsURL)
	if err != nil {
		o.failAuth(authID, TagBrowserConnect, err)
		return
	}
	defer page.Close()

	if err := page.Navigate(ctx, o.profile.QRLoginURL, o.profile.NavigateSettle()); err != nil {
		o.failAuth(authID, TagNavigation, err)
		return
	}

	res := o.qrx.Extract(ctx, page)
	if err := o.store.UpdateAuth(authID, func(a *types.AuthSession) {
		a.QRImage = res.Image
		a.QRDecodedURL = res.DecodedURL
	}); err != nil {
		flog.Warn().Err(err).Msg("auth record gone before qr persisted")
		o.releaseAuthContainer(authID)
		return
	}
	if res.ErrorTag != "" {
		o.failAuth(authID, res.ErrorTag, nil)
		return
	}
	flog.Info().Msg("qr extracted, awaiting scan")

	if err := o.awaitLogin(ctx, page); err != nil {
		o.failAuth(authID, TagAuthTimeout, err)
		return
	}

	bundle, err := o.bundles.Extract(ctx, page)
	if err != nil {
		o.failAuth(authID, TagBundleExtract, err)
		return
	}
	sid, err := o.store.Put(bundle)
	if err != nil {
		o.failAuth(authID, TagBundleExtract, err)
		return
	}

	if err := o.store.UpdateAuth(authID, func(a *types.AuthSession) {
		a.Status = types.AuthStatusComplete
		a.CredentialSessionID = sid
		a.ResultBundle = bundle
	}); err != nil {
		flog.Warn().Err(err).Msg("auth record gone before completion")
	}

	o.recycleAuthContainer(authID)
	metrics.AuthFlows.WithLabelValues("complete").Inc()
	flog.Info().Str("session_id", session.TruncateID(sid)).Msg("auth flow complete")
}

// awaitLogin polls the page URL until it looks logged in.
func (o *Orchestrator) awaitLogin(ctx context.Context, page browser.Page) error {
	deadline := time.Now().Add(o.cfg.LoginPollTimeout)
	for time.Now().Before(deadline) {
		u, err := page.CurrentURL(ctx)
		if err == nil && o.profile.IsLoggedIn(u) {
			return nil
		}
		if !sleepFor(ctx, o.cfg.LoginPollInterval) {
			return ctx.Err()
		}
	}
	return errors.New("login not completed within budget")
}

// failAuth marks the record Failed with a tag and releases whatever
// container the auth id may hold. Release on an unbound id is a no-op,
// so this is safe on pre-assignment failures too.
func (o *Orchestrator) failAuth(authID, tag string, cause error) {
	evt := o.logger.Warn().
		Str("auth_session_id", session.TruncateID(authID)).
		Str("tag", tag)
	if cause != nil {
		evt = evt.Err(cause)
	}
	evt.Msg("auth flow failed")

	if err := o.store.UpdateAuth(authID, func(a *types.AuthSession) {
		a.Status = types.AuthStatusFailed
		a.ErrorTag = tag
	}); err != nil {
		o.logger.Debug().Err(err).Msg("auth record already swept")
	}
	o.releaseAuthContainer(authID)
	metrics.AuthFlows.WithLabelValues(tag).Inc()
}

func (o *Orchestrator) releaseAuthContainer(authID string) {
	if err := o.pool.Release(authID); err != nil {
		o.logger.Warn().Err(err).Str("auth_session_id", session.TruncateID(authID)).Msg("auth container release failed")
	}
}

// recycleAuthContainer destroys the auth container under a fresh
// deadline; the flow budget may have just expired.
func (o *Orchestrator) recycleAuthContainer(authID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := o.pool.Recycle(ctx, authID); err != nil {
		o.logger.Warn().Err(err).Str("auth_session_id", session.TruncateID(authID)).Msg("auth container recycle failed")
	}
}

func assignTag(err error) string {
	if errors.Is(err, pool.ErrAtCapacity) {
		return TagAtCapacity
	}
	return TagProxyConfig
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
