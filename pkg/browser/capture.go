package browser

import (
	"context"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// CapturedResponse is one recorded network response.
type CapturedResponse struct {
	URL    string
	Status int64
	Body   []byte
}

// Capture is a live recording of matching network responses. Samplers
// poll Responses while driving the page.
type Capture interface {
	Responses() []CapturedResponse
	Count() int
}

// capture records response bodies for URLs matching any of a set of
// substrings. Bodies are fetched once the browser reports the response
// fully loaded; fetching races tab teardown, so a response that
// finished just before Close may be absent.
type capture struct {
	substrings []string

	mu        sync.Mutex
	pending   map[network.RequestID]CapturedResponse
	responses []CapturedResponse
}

func newCapture(substrings []string) *capture {
	return &capture{
		substrings: substrings,
		pending:    make(map[network.RequestID]CapturedResponse),
	}
}

// attach subscribes to the tab's network events. The subscription ends
// with the tab context.
func (c *capture) attach(tabCtx context.Context) {
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		switch e := ev.(type) {
		case *network.EventResponseReceived:
			if !c.matches(e.Response.URL) {
				return
			}
			c.mu.Lock()
			c.pending[e.RequestID] = CapturedResponse{
				URL:    e.Response.URL,
				Status: e.Response.Status,
			}
			c.mu.Unlock()

		case *network.EventLoadingFinished:
			c.mu.Lock()
			resp, ok := c.pending[e.RequestID]
			delete(c.pending, e.RequestID)
			c.mu.Unlock()

			if ok {
				// Body retrieval is a command and cannot run inside the
				// event handler.
				go c.fetchBody(tabCtx, e.RequestID, resp)
			}
		}
	})
}

func (c *capture) fetchBody(tabCtx context.Context, id network.RequestID, resp CapturedResponse) {
	cc := chromedp.FromContext(tabCtx)
	if cc == nil || cc.Target == nil {
		return
	}

	execCtx := cdp.WithExecutor(tabCtx, cc.Target)
	body, err := network.GetResponseBody(id).Do(execCtx)
	if err != nil {
		return
	}

	resp.Body = body
	c.mu.Lock()
	c.responses = append(c.responses, resp)
	c.mu.Unlock()
}

func (c *capture) matches(url string) bool {
	for _, sub := range c.substrings {
		if strings.Contains(url, sub) {
			return true
		}
	}
	return false
}

// Responses returns a snapshot of everything recorded so far.
func (c *capture) Responses() []CapturedResponse {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]CapturedResponse, len(c.responses))
	copy(out, c.responses)
	return out
}

// Count returns how many responses have been recorded.
func (c *capture) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.responses)
}
