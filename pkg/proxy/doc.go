/*
Package proxy computes the upstream proxy endpoint for each container
assignment.

Every assignment gets exactly one upstream, chosen at assignment time
and pushed to the container's relay before any traffic flows. The
selector never talks to the network; it is pure computation over the
session id and the assignment kind.

# Modes

Rotating uses one operator-provided rotating account. Each assignment
bakes a fresh session identifier into the username:

	user-session-17216189034821

so the upstream hands out a distinct egress identity per assignment
with a short TTL. The suffix is digits only because rotating upstreams
reject most punctuation in usernames.

Bucketed spreads assignments over a finite set of numbered endpoints,
bucket N listening on portBase+N. The two assignment kinds pick
differently:

  - sampling hashes the session id onto a bucket, so one user always
    leaves through the same egress
  - auth draws uniformly at random, because no stable identity exists
    yet when a login starts

The hash is the first four bytes of SHA-256 reduced mod count; the
mapping is stable across restarts as long as count is unchanged.

# Usage

	sel := proxy.NewBucketed("relay.example.net", 10000, 8, user, pass)
	upstream := sel.Select(sessionID, proxy.KindSampling)

The pool applies the result to the container's relay; see pkg/runtime
for the control-plane call.
*/
package proxy
