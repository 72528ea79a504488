package types

import (
	"time"
)

// Container represents one live browser container managed by the pool.
type Container struct {
	ID          string
	IP          string // Address on the configured container network
	DevtoolsURL string // DevTools endpoint derived from IP
	ControlURL  string // In-container relay control endpoint
	Status      ContainerStatus
	SessionID   string // Owning session while Assigned; empty otherwise
	CreatedAt   time.Time
	LastUsedAt  time.Time
}

// ContainerStatus represents the lifecycle state of a container
type ContainerStatus string

const (
	// ContainerStatusPooled means the container sits in the warm pool,
	// ready for assignment. Pooled containers are never idle-expired.
	ContainerStatusPooled ContainerStatus = "pooled"

	// ContainerStatusAssigned means the container is bound to exactly one
	// session. Assigned containers always carry a non-empty SessionID.
	ContainerStatusAssigned ContainerStatus = "assigned"

	// ContainerStatusReleased means the session is done with the
	// container. Released containers are single-use leftovers waiting for
	// the idle sweeper; they never return to the warm pool.
	ContainerStatusReleased ContainerStatus = "released"
)

// ResourceLimits caps a container's memory and CPU allocation.
type ResourceLimits struct {
	MemoryBytes int64
	CPUs        float64
}

// Cookie is one browser cookie from a credential bundle.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain,omitempty"`
	Path     string  `json:"path,omitempty"`
	Expires  float64 `json:"expires,omitempty"` // Unix seconds; 0 = session cookie
	HTTPOnly bool    `json:"httpOnly,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	SameSite string  `json:"sameSite,omitempty"`
}

// UserIdentity is the stable identity extracted from the target
// application. SecUserID is the field sessions are keyed by.
type UserIdentity struct {
	UserID    string `json:"user_id,omitempty"`
	SecUserID string `json:"sec_user_id,omitempty"`
	UniqueID  string `json:"unique_id,omitempty"`
	Nickname  string `json:"nickname,omitempty"`
}

// Bundle is a credential bundle: everything needed to act as one user
// against the target application. Opaque to most of the system; only
// the identity field and the cookie list are inspected.
type Bundle struct {
	Cookies     []Cookie          `json:"cookies"`
	User        *UserIdentity     `json:"user,omitempty"`
	Tokens      map[string]string `json:"tokens,omitempty"`
	DeviceID    string            `json:"device_id,omitempty"`
	InstallID   string            `json:"install_id,omitempty"`
	ExtractedAt time.Time         `json:"extracted_at,omitempty"`
}

// Identity returns the bundle's stable user identity, or "" when the
// bundle carries none.
func (b *Bundle) Identity() string {
	if b == nil || b.User == nil {
		return ""
	}
	return b.User.SecUserID
}

// CredentialSession is a durable server-side record of one user's
// bundle. The bundle is held encrypted; decryption happens on read.
type CredentialSession struct {
	ID         string
	Ciphertext string // hex-encoded encrypted bundle
	CreatedAt  time.Time
	LastAccess time.Time
}

// AuthStatus represents the state of a QR authentication attempt
type AuthStatus string

const (
	AuthStatusAwaitingScan AuthStatus = "awaiting_scan"
	AuthStatusComplete     AuthStatus = "complete"
	AuthStatusFailed       AuthStatus = "failed"
)

// AuthSession tracks one QR-based login attempt from QR display to
// bundle capture. Short-lived; removed on terminal poll or by sweeper.
type AuthSession struct {
	ID                  string
	CredentialSessionID string // session this auth creates or refreshes
	Status              AuthStatus
	ContainerID         string // empty before assignment
	QRImage             []byte // PNG payload shown to the user
	QRDecodedURL        string // empty when extraction fell back to screenshot
	ErrorTag            string // populated on Failed
	ResultBundle        *Bundle
	StartedAt           time.Time
}

// ProxyUpstream is one outbound proxy endpoint with credentials. The
// zero value means passthrough (no upstream).
type ProxyUpstream struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	User string `json:"user,omitempty"`
	Pass string `json:"pass,omitempty"`
}

// IsZero reports whether no upstream is set.
func (p ProxyUpstream) IsZero() bool {
	return p.Host == "" && p.Port == 0
}

// PoolStats is a point-in-time snapshot of pool occupancy.
type PoolStats struct {
	Total    int
	Pooled   int
	Assigned int
	Released int
	Sessions int
}

// SampleResult is the raw outcome of one sampling run, returned to the
// client without reshaping.
type SampleResult struct {
	Items      []map[string]any // captured feed/history items (playwright family)
	Raw        any              // raw response body (module family)
	StatusCode int              // upstream status for the module family
	Method     string           // which sampler produced the result
	SampledAt  time.Time
}
