package proxy

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/stackpod/hutch/pkg/types"
)

// Kind distinguishes what an assignment is for. Bucketed mode picks
// differently for auth (no stable identity yet) and sampling (pin the
// user to a consistent egress).
type Kind string

const (
	KindAuth     Kind = "auth"
	KindSampling Kind = "sampling"
)

// Selector computes the upstream proxy for one assignment.
type Selector interface {
	Select(sessionID string, kind Kind) types.ProxyUpstream
}

// Rotating selects from an operator-provided rotating account. Every
// assignment gets a fresh session identifier baked into the username so
// the upstream hands out a distinct egress identity with a short TTL.
type Rotating struct {
	account types.ProxyUpstream
}

// NewRotating creates a rotating-mode selector for the given account.
func NewRotating(account types.ProxyUpstream) *Rotating {
	return &Rotating{account: account}
}

// Select returns the account with a per-assignment username suffix.
// The suffix is digits only; rotating upstreams reject most punctuation
// in usernames.
func (r *Rotating) Select(sessionID string, kind Kind) types.ProxyUpstream {
	up := r.account
	up.User = fmt.Sprintf("%s-session-%d%04d", r.account.User, time.Now().Unix(), rand.IntN(10000))
	return up
}

// Bucketed selects from a finite set of numbered upstream endpoints.
// Bucket N listens on portBase+N. Auth assignments draw uniformly at
// random; sampling assignments hash the session id so one user always
// leaves through the same bucket.
type Bucketed struct {
	host     string
	portBase int
	count    int
	user     string
	pass     string
}

// NewBucketed creates a bucketed-mode selector over count endpoints.
func NewBucketed(host string, portBase, count int, user, pass string) *Bucketed {
	return &Bucketed{
		host:     host,
		portBase: portBase,
		count:    count,
		user:     user,
		pass:     pass,
	}
}

// Select returns the chosen bucket's endpoint.
func (b *Bucketed) Select(sessionID string, kind Kind) types.ProxyUpstream {
	var bucket int
	switch kind {
	case KindSampling:
		bucket = bucketFor(sessionID, b.count)
	default:
		bucket = rand.IntN(b.count)
	}

	return types.ProxyUpstream{
		Host: b.host,
		Port: b.portBase + bucket,
		User: b.user,
		Pass: b.pass,
	}
}

// bucketFor hashes a session id onto [0, count).
func bucketFor(sessionID string, count int) int {
	sum := sha256.Sum256([]byte(sessionID))
	return int(binary.BigEndian.Uint32(sum[:4]) % uint32(count))
}
