package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/stackpod/hutch/pkg/browser"
	"github.com/stackpod/hutch/pkg/log"
	"github.com/stackpod/hutch/pkg/proxy"
	"github.com/stackpod/hutch/pkg/qr"
	"github.com/stackpod/hutch/pkg/session"
	"github.com/stackpod/hutch/pkg/twa"
	"github.com/stackpod/hutch/pkg/types"
)

// ErrSamplingScript means the sampling script raised inside the
// browser; the original failure rides along in the message.
var ErrSamplingScript = errors.New("sampling script failed")

// Failure tags recorded on auth sessions. Clients see them in the
// terminal poll; operators see them in logs and metrics.
const (
	TagAtCapacity     = "at_capacity"
	TagProxyConfig    = "proxy_config"
	TagBrowserConnect = "browser_connect_failed"
	TagNavigation     = "navigation_failed"
	TagAuthTimeout    = "auth_timeout"
	TagBundleExtract  = "bundle_extraction_failed"
)

// Pool is the container pool surface the orchestrator drives.
type Pool interface {
	Assign(ctx context.Context, sessionID string, kind proxy.Kind) (*types.Container, error)
	AssignWithProxy(ctx context.Context, sessionID string, upstream types.ProxyUpstream) (*types.Container, error)
	Release(sessionID string) error
	Recycle(ctx context.Context, sessionID string) error
	Destroy(ctx context.Context, containerID string) error
	CreateContainer(ctx context.Context, upstream *types.ProxyUpstream) (*types.Container, error)
	List() []*types.Container
	Stats() types.PoolStats
}

// SessionStore is the session surface the orchestrator drives.
type SessionStore interface {
	Load(bundle *types.Bundle) (string, error)
	LoadEncrypted(blob string) (string, error)
	Put(bundle *types.Bundle) (string, error)
	Get(id string) (*types.Bundle, error)
	List() []string
	CreateAuth(owningSessionID string) *types.AuthSession
	GetAuth(id string) (*types.AuthSession, error)
	UpdateAuth(id string, patch func(*types.AuthSession)) error
	RemoveAuth(id string)
	Counts() (credential, auth int)
	PlatformKey() bool
}

// QRExtractor pulls a login QR out of a page.
type QRExtractor interface {
	Extract(ctx context.Context, page qr.PageEvaluator) qr.Result
}

// BundleExtractor captures a credential bundle from a logged-in page.
type BundleExtractor interface {
	Extract(ctx context.Context, page twa.Page) (*types.Bundle, error)
}

// PageSampler drives a surface by browsing and captures its items.
type PageSampler interface {
	Sample(ctx context.Context, page twa.SamplerPage, surface twa.Surface, count int) (*types.SampleResult, error)
}

// ModuleSampler samples a surface through one signed in-page fetch.
type ModuleSampler interface {
	Sample(ctx context.Context, page twa.ModulePage, surface twa.Surface, bundle *types.Bundle, moduleType string, count int) (*types.SampleResult, error)
}

// Config bounds the orchestrator's flows.
type Config struct {
	// LoginPollInterval and LoginPollTimeout bound the wait for a user
	// to scan the QR and finish logging in.
	LoginPollInterval time.Duration
	LoginPollTimeout  time.Duration

	// AuthFlowBudget caps one whole background auth flow.
	AuthFlowBudget time.Duration

	// DefaultCount is used when a sampling request names no count.
	DefaultCount int
}

func (c *Config) applyDefaults() {
	if c.LoginPollInterval <= 0 {
		c.LoginPollInterval = time.Second
	}
	if c.LoginPollTimeout <= 0 {
		c.LoginPollTimeout = 120 * time.Second
	}
	if c.AuthFlowBudget <= 0 {
		c.AuthFlowBudget = c.LoginPollTimeout + 60*time.Second
	}
	if c.DefaultCount <= 0 {
		c.DefaultCount = 8
	}
}

// Orchestrator ties the pool, the session store, and the browser layer
// into the public operations the HTTP surface exposes. It holds
// references to both stores; neither store references the other.
type Orchestrator struct {
	pool    Pool
	store   SessionStore
	profile *twa.Profile

	dial    browser.DialFunc
	qrx     QRExtractor
	bundles BundleExtractor
	pages   PageSampler
	mods    ModuleSampler

	moduleNames []string
	cfg         Config
	startedAt   time.Time
	logger      zerolog.Logger
}

// New builds an orchestrator over the real browser and target-app
// collaborators derived from the profile.
func New(p Pool, store SessionStore, profile *twa.Profile, registry *twa.Registry, cfg Config) (*Orchestrator, error) {
	cfg.applyDefaults()

	validator, err := qr.NewValidator(profile.Host, profile.LoginPatterns, profile.DownloadPatterns)
	if err != nil {
		return nil, fmt.Errorf("qr validator: %w", err)
	}

	return &Orchestrator{
		pool:        p,
		store:       store,
		profile:     profile,
		dial:        browser.Dial,
		qrx:         qr.New(qr.Config{Placeholder: profile.PlaceholderImage}, validator),
		bundles:     twa.NewExtractor(profile),
		pages:       twa.NewPageSampler(profile),
		mods:        twa.NewModuleSampler(profile, registry),
		moduleNames: registry.Names(),
		cfg:         cfg,
		startedAt:   time.Now(),
		logger:      log.WithComponent("orchestrator"),
	}, nil
}

// LoadSession validates and stores a caller-supplied bundle.
func (o *Orchestrator) LoadSession(bundle *types.Bundle) (string, error) {
	return o.store.Load(bundle)
}

// LoadEncryptedSession imports a previously exported encrypted bundle.
func (o *Orchestrator) LoadEncryptedSession(blob string) (string, error) {
	return o.store.LoadEncrypted(blob)
}

// SessionInfo pairs a display id with the full session id.
type SessionInfo struct {
	ID     string
	FullID string
}

// ListSessions lists live credential sessions.
func (o *Orchestrator) ListSessions() []SessionInfo {
	ids := o.store.List()
	out := make([]SessionInfo, 0, len(ids))
	for _, id := range ids {
		out = append(out, SessionInfo{ID: session.TruncateID(id), FullID: id})
	}
	return out
}

// CreateContainer provisions one container outside the warm pool,
// optionally pre-configured with an explicit upstream proxy.
func (o *Orchestrator) CreateContainer(ctx context.Context, upstream *types.ProxyUpstream) (*types.Container, error) {
	return o.pool.CreateContainer(ctx, upstream)
}

// DestroyContainer removes a container by id.
func (o *Orchestrator) DestroyContainer(ctx context.Context, containerID string) error {
	return o.pool.Destroy(ctx, containerID)
}

// ListContainers returns the live container records and pool stats.
func (o *Orchestrator) ListContainers() ([]*types.Container, types.PoolStats) {
	return o.pool.List(), o.pool.Stats()
}

// HealthInfo is the service self-report.
type HealthInfo struct {
	Status       string
	Sessions     int
	AuthSessions int
	Uptime       time.Duration
	Encryption   string
	Modules      []string
	Pool         types.PoolStats
}

// Health reports session counts, uptime, key provenance, and the
// registered auth modules.
func (o *Orchestrator) Health() HealthInfo {
	credential, auth := o.store.Counts()
	encryption := "fallback-seed"
	if o.store.PlatformKey() {
		encryption = "platform-derived"
	}
	return HealthInfo{
		Status:       "ok",
		Sessions:     credential,
		AuthSessions: auth,
		Uptime:       time.Since(o.startedAt),
		Encryption:   encryption,
		Modules:      o.moduleNames,
		Pool:         o.pool.Stats(),
	}
}
