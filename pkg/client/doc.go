/*
Package client provides a Go client for the Hutch HTTP API.

The client package wraps the daemon's JSON surface with typed methods
for every public operation: session loading, QR auth flows, both
sampling families, container management, and health. The CLI's admin
commands and the end-to-end test framework are built on it.

# Usage

	c := client.NewClient("127.0.0.1:8090")

	res, err := c.LoadSession(bundle)
	if err != nil {
		return err
	}

	started, err := c.StartAuth(res.SessionID)
	...
	for {
		poll, err := c.PollAuth(started.AuthSessionID)
		...
	}

Every call carries its own timeout: 10 s for bookkeeping operations,
minutes for sampling and container creation, which drive a real
browser. Non-2xx answers come back as *APIError carrying the HTTP
status and the server's "<Kind>: <message>" string, so callers can
branch on status or substring:

	var apiErr *client.APIError
	if errors.As(err, &apiErr) && apiErr.Status == 404 {
		// session expired, load it again
	}

The result types in this package mirror the server's wire shapes field
for field; pkg/client's tests run against the real pkg/api router to
keep the two from drifting.
*/
package client
