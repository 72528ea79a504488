// Package orchestrator ties the container pool, the session store, and
// the browser layer into the operations the HTTP surface exposes.
//
// # Architecture
//
//	           ┌──────────────┐
//	 api ────> │ Orchestrator │────> pool.Manager    (assign/release)
//	           │              │────> session.Store   (bundles, auth records)
//	           │              │────> browser.Dial    (CDP pages)
//	           │              │────> qr / twa        (extract, sample)
//	           └──────────────┘
//
// The orchestrator owns no state beyond configuration and collaborator
// handles; everything durable lives in the pool and the store. All
// collaborators are interfaces here, so tests drive the flows with
// fakes and never touch Docker or a browser.
//
// # Sampling Flows
//
// Both sampling families share one template: resolve the session
// bundle, assign a container, dial its DevTools endpoint, inject the
// session cookies, run the sampler, and always release the container
// on the way out. Release happens even on failure; a sampling browser
// is never reused across sessions.
//
// The browsing family (SampleFeed, SampleHistory) drives the page the
// way a user would and captures items from responses. The module
// family (SampleFeedModule, SampleHistoryModule) runs one signed fetch
// inside the page instead, and accepts a per-request proxy override
// that bypasses the computed upstream.
//
// # Auth Flows
//
// StartAuth returns an AwaitingScan record immediately and runs the QR
// flow in the background under its own budget: assign a container
// under the auth id, navigate to the login page, extract and validate
// the QR, poll until the page looks logged in, then capture the bundle
// into a credential session. Success recycles the container so nothing
// of the logged-in browser survives; every failure path releases it
// and marks the record Failed with a machine-readable tag
// (at_capacity, browser_connect_failed, auth_timeout, ...).
//
// PollAuth is one-shot for terminal states: reading a Complete or
// Failed record removes it.
//
// # Error Surface
//
// Callers distinguish outcomes through sentinel errors from the
// collaborator packages (session.ErrSessionNotFound,
// pool.ErrAtCapacity, twa.ErrUnknownModule) plus ErrSamplingScript for
// in-browser failures. Every sampling outcome is counted in
// hutch_samples_total by surface, method, and outcome.
//
// # See Also
//
//   - pkg/pool: container assignment semantics
//   - pkg/session: the two session tiers
//   - pkg/twa: target-app profile, samplers, bundle extraction
//   - pkg/qr: QR extraction and validation
package orchestrator
