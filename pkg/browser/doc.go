/*
Package browser drives containerized browsers over the DevTools
protocol using chromedp.

Nothing in this package launches a browser. Every Session is a remote
connection to a browser already running inside a pool container,
reached through its DevTools endpoint. The orchestrator holds a
DialFunc rather than calling Dial directly, so tests substitute a fake
Page without a browser anywhere.

# Page Operations

Page is the surface the samplers and auth flows drive: navigation with
a settle delay, cookie injection and extraction, synchronous and
promise-awaiting JavaScript evaluation, viewport screenshots, and
network response capture. A Page belongs to one flow at a time;
implementations are not safe for concurrent use.

Every operation binds the caller's context deadline onto the tab
context, so one slow action fails on its own budget without killing
the tab.

# Response Capture

CaptureResponses records response bodies whose URL contains any of a
set of substrings, for samplers that read the target application's own
API traffic instead of scraping the DOM:

	capture, err := page.CaptureResponses(ctx, []string{"/api/recommend"})
	// drive the page; the recording accumulates in the background
	for _, resp := range capture.Responses() {
		// resp.URL, resp.Status, resp.Body
	}

Body retrieval runs against the tab after the browser reports a
response fully loaded, and races tab teardown: a response that finished
just before Close may be absent. Samplers poll Count and keep driving
until satisfied rather than trusting one snapshot.

# Dialing

Dial retries the DevTools endpoint a few times with fixed backoff,
because a container that just reported ready may still be binding its
CDP socket. The websocket handshake is forced at dial time so a dead
endpoint fails immediately rather than on the first action.

# See Also

  - pkg/runtime for container readiness before a dial is attempted
  - pkg/twa for the sampling and auth flows driving Pages
*/
package browser
