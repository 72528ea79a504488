package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackpod/hutch/pkg/browser"
	"github.com/stackpod/hutch/pkg/pool"
	"github.com/stackpod/hutch/pkg/proxy"
	"github.com/stackpod/hutch/pkg/qr"
	"github.com/stackpod/hutch/pkg/security"
	"github.com/stackpod/hutch/pkg/session"
	"github.com/stackpod/hutch/pkg/twa"
	"github.com/stackpod/hutch/pkg/types"
)

// fakePool is an in-memory stand-in for the pool manager.
type fakePool struct {
	mu        sync.Mutex
	nextID    int
	assigned  map[string]*types.Container
	released  []string
	recycled  []string
	destroyed []string
	kinds     []proxy.Kind
	overrides []types.ProxyUpstream

	assignErr  error
	destroyErr error
	stats      types.PoolStats
}

func newFakePool() *fakePool {
	return &fakePool{assigned: make(map[string]*types.Container)}
}

func (f *fakePool) newContainer(sessionID string) *types.Container {
	f.nextID++
	return &types.Container{
		ID:          fmt.Sprintf("ctr-%03d", f.nextID),
		IP:          fmt.Sprintf("10.0.0.%d", f.nextID),
		DevtoolsURL: fmt.Sprintf("http://10.0.0.%d:9222", f.nextID),
		Status:      types.ContainerStatusAssigned,
		SessionID:   sessionID,
	}
}

func (f *fakePool) Assign(_ context.Context, sessionID string, kind proxy.Kind) (*types.Container, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.assignErr != nil {
		return nil, f.assignErr
	}
	f.kinds = append(f.kinds, kind)
	if ctr, ok := f.assigned[sessionID]; ok {
		return ctr, nil
	}
	ctr := f.newContainer(sessionID)
	f.assigned[sessionID] = ctr
	return ctr, nil
}

func (f *fakePool) AssignWithProxy(_ context.Context, sessionID string, upstream types.ProxyUpstream) (*types.Container, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.assignErr != nil {
		return nil, f.assignErr
	}
	f.overrides = append(f.overrides, upstream)
	ctr := f.newContainer(sessionID)
	f.assigned[sessionID] = ctr
	return ctr, nil
}

func (f *fakePool) Release(sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, sessionID)
	delete(f.assigned, sessionID)
	return nil
}

func (f *fakePool) Recycle(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recycled = append(f.recycled, sessionID)
	delete(f.assigned, sessionID)
	return nil
}

func (f *fakePool) Destroy(_ context.Context, containerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.destroyErr != nil {
		return f.destroyErr
	}
	f.destroyed = append(f.destroyed, containerID)
	return nil
}

func (f *fakePool) CreateContainer(_ context.Context, _ *types.ProxyUpstream) (*types.Container, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ctr := f.newContainer("")
	ctr.Status = types.ContainerStatusPooled
	ctr.SessionID = ""
	return ctr, nil
}

func (f *fakePool) List() []*types.Container { return nil }

func (f *fakePool) Stats() types.PoolStats { return f.stats }

func (f *fakePool) releasedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.released))
	copy(out, f.released)
	return out
}

func (f *fakePool) recycledIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.recycled))
	copy(out, f.recycled)
	return out
}

// fakeBrowserPage implements browser.Page for orchestrator flows.
type fakeBrowserPage struct {
	mu          sync.Mutex
	navigated   []string
	urlSequence []string
	currentURL  string
	cookiesSet  [][]types.Cookie
	navErr      error
	cookieErr   error
	closed      bool
}

func (f *fakeBrowserPage) Navigate(_ context.Context, url string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.navigated = append(f.navigated, url)
	return f.navErr
}

func (f *fakeBrowserPage) CurrentURL(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.urlSequence) > 0 {
		u := f.urlSequence[0]
		f.urlSequence = f.urlSequence[1:]
		return u, nil
	}
	return f.currentURL, nil
}

func (f *fakeBrowserPage) Cookies(context.Context) ([]types.Cookie, error) { return nil, nil }

func (f *fakeBrowserPage) SetCookies(_ context.Context, cookies []types.Cookie) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cookieErr != nil {
		return f.cookieErr
	}
	f.cookiesSet = append(f.cookiesSet, cookies)
	return nil
}

func (f *fakeBrowserPage) Evaluate(context.Context, string, any) error      { return nil }
func (f *fakeBrowserPage) EvaluateAsync(context.Context, string, any) error { return nil }
func (f *fakeBrowserPage) Screenshot(context.Context) ([]byte, error)       { return nil, nil }

func (f *fakeBrowserPage) CaptureResponses(context.Context, []string) (browser.Capture, error) {
	return nil, nil
}

func (f *fakeBrowserPage) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

type fakeQRExtractor struct {
	res qr.Result
}

func (f *fakeQRExtractor) Extract(context.Context, qr.PageEvaluator) qr.Result { return f.res }

type fakeBundleExtractor struct {
	bundle *types.Bundle
	err    error
}

func (f *fakeBundleExtractor) Extract(context.Context, twa.Page) (*types.Bundle, error) {
	return f.bundle, f.err
}

type fakePageSampler struct {
	res        *types.SampleResult
	err        error
	gotSurface twa.Surface
	gotCount   int
}

func (f *fakePageSampler) Sample(_ context.Context, _ twa.SamplerPage, surface twa.Surface, count int) (*types.SampleResult, error) {
	f.gotSurface = surface
	f.gotCount = count
	return f.res, f.err
}

type fakeModuleSampler struct {
	res        *types.SampleResult
	err        error
	gotSurface twa.Surface
	gotModule  string
	gotBundle  *types.Bundle
	gotCount   int
}

func (f *fakeModuleSampler) Sample(_ context.Context, _ twa.ModulePage, surface twa.Surface, bundle *types.Bundle, moduleType string, count int) (*types.SampleResult, error) {
	f.gotSurface = surface
	f.gotModule = moduleType
	f.gotBundle = bundle
	f.gotCount = count
	return f.res, f.err
}

type testHarness struct {
	o    *Orchestrator
	pool *fakePool
	page *fakeBrowserPage
	qrx  *fakeQRExtractor
	bnd  *fakeBundleExtractor
	pgs  *fakePageSampler
	mds  *fakeModuleSampler

	dialedURLs []string
	dialErr    error
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	cipher, err := security.NewCipher(bytes.Repeat([]byte{0x42}, 32))
	require.NoError(t, err)
	store := session.NewStore(cipher, time.Hour, 2*time.Minute)

	registry := twa.NewRegistry()
	registry.Register(twa.NewWebModule(twa.Default()))

	fp := newFakePool()
	o, err := New(fp, store, twa.Default(), registry, Config{
		LoginPollInterval: time.Millisecond,
		LoginPollTimeout:  50 * time.Millisecond,
		AuthFlowBudget:    2 * time.Second,
	})
	require.NoError(t, err)

	h := &testHarness{
		o:    o,
		pool: fp,
		page: &fakeBrowserPage{},
		qrx:  &fakeQRExtractor{},
		bnd:  &fakeBundleExtractor{},
		pgs:  &fakePageSampler{},
		mds:  &fakeModuleSampler{},
	}
	o.dial = func(_ context.Context, devtoolsURL string) (browser.Page, error) {
		h.dialedURLs = append(h.dialedURLs, devtoolsURL)
		if h.dialErr != nil {
			return nil, h.dialErr
		}
		return h.page, nil
	}
	o.qrx = h.qrx
	o.bundles = h.bnd
	o.pages = h.pgs
	o.mods = h.mds
	return h
}

func loadedBundle(secUserID string) *types.Bundle {
	return &types.Bundle{
		Cookies: []types.Cookie{{Name: "sessionid", Value: "x", Domain: ".example.com"}},
		User:    &types.UserIdentity{SecUserID: secUserID},
	}
}

// waitAuthStatus polls the store directly so the terminal record is
// not consumed by PollAuth.
func waitAuthStatus(t *testing.T, h *testHarness, authID string, want types.AuthStatus) *types.AuthSession {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		rec, err := h.o.store.GetAuth(authID)
		if err == nil && rec.Status == want {
			return rec
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("auth session %s never reached %s", authID, want)
	return nil
}

// waitUntil covers the tail of the background flow that runs after the
// terminal status is written (release/recycle).
func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestLoadSession(t *testing.T) {
	h := newHarness(t)

	id, err := h.o.LoadSession(loadedBundle("U"))
	require.NoError(t, err)
	assert.Equal(t, "U", id)

	_, err = h.o.LoadSession(nil)
	require.ErrorIs(t, err, session.ErrBadBundle)
}

func TestListSessions(t *testing.T) {
	h := newHarness(t)
	_, err := h.o.LoadSession(loadedBundle("sec-user-aaaa"))
	require.NoError(t, err)

	infos := h.o.ListSessions()
	require.Len(t, infos, 1)
	assert.Equal(t, "sec-user-aaaa", infos[0].FullID)
	assert.Equal(t, "sec-user...", infos[0].ID)
}

// TestAuthFlowComplete walks the whole happy path: assign under the
// auth id, QR extracted and persisted, login observed, bundle stored
// as a credential session, container recycled.
func TestAuthFlowComplete(t *testing.T) {
	h := newHarness(t)
	h.page.urlSequence = []string{
		"https://www.example.com/login/qrcode",
		"https://www.example.com/login/qrcode",
		"https://www.example.com/foryou",
	}
	h.qrx.res = qr.Result{Image: []byte("png-bytes"), DecodedURL: "https://www.example.com/passport/web/confirm"}
	h.bnd.bundle = loadedBundle("U")

	rec := h.o.StartAuth("new")
	require.NotEmpty(t, rec.ID)
	assert.Equal(t, types.AuthStatusAwaitingScan, rec.Status)
	assert.Equal(t, "new", rec.CredentialSessionID)

	final := waitAuthStatus(t, h, rec.ID, types.AuthStatusComplete)
	assert.Equal(t, []byte("png-bytes"), final.QRImage)
	assert.Equal(t, "U", final.CredentialSessionID)
	require.NotNil(t, final.ResultBundle)

	// The captured bundle became a real credential session.
	_, err := h.o.store.Get("U")
	require.NoError(t, err)

	// Auth containers are destroyed, never parked.
	waitUntil(t, "recycle", func() bool { return len(h.pool.recycledIDs()) > 0 })
	assert.Equal(t, []string{rec.ID}, h.pool.recycledIDs())
	assert.Empty(t, h.pool.releasedIDs())
	assert.Equal(t, []string{h.o.profile.QRLoginURL}, h.page.navigated)

	// Terminal poll is one-shot.
	polled, err := h.o.PollAuth(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, types.AuthStatusComplete, polled.Status)
	_, err = h.o.PollAuth(rec.ID)
	require.ErrorIs(t, err, session.ErrAuthSessionNotFound)
}

func TestAuthFlowQRFailure(t *testing.T) {
	h := newHarness(t)
	h.qrx.res = qr.Result{Image: []byte("screenshot"), ErrorTag: qr.TagExtractionFailed}

	rec := h.o.StartAuth("new")
	final := waitAuthStatus(t, h, rec.ID, types.AuthStatusFailed)

	assert.Equal(t, qr.TagExtractionFailed, final.ErrorTag)
	assert.Equal(t, []byte("screenshot"), final.QRImage, "screenshot fallback must reach the client")
	assert.Empty(t, final.QRDecodedURL)
	waitUntil(t, "release", func() bool { return len(h.pool.releasedIDs()) > 0 })
	assert.Equal(t, []string{rec.ID}, h.pool.releasedIDs())
	assert.Empty(t, h.pool.recycledIDs())
}

func TestAuthFlowAtCapacity(t *testing.T) {
	h := newHarness(t)
	h.pool.assignErr = pool.ErrAtCapacity

	rec := h.o.StartAuth("new")
	final := waitAuthStatus(t, h, rec.ID, types.AuthStatusFailed)

	assert.Equal(t, TagAtCapacity, final.ErrorTag)
	assert.Empty(t, h.dialedURLs, "no browser work without a container")
}

func TestAuthFlowDialFailure(t *testing.T) {
	h := newHarness(t)
	h.dialErr = errors.New("devtools refused")

	rec := h.o.StartAuth("new")
	final := waitAuthStatus(t, h, rec.ID, types.AuthStatusFailed)

	assert.Equal(t, TagBrowserConnect, final.ErrorTag)
	waitUntil(t, "release", func() bool { return len(h.pool.releasedIDs()) > 0 })
	assert.Equal(t, []string{rec.ID}, h.pool.releasedIDs())
}

// TestAuthFlowLoginTimeout keeps the page on the login URL past the
// poll budget.
func TestAuthFlowLoginTimeout(t *testing.T) {
	h := newHarness(t)
	h.page.currentURL = "https://www.example.com/login/qrcode"
	h.qrx.res = qr.Result{Image: []byte("png"), DecodedURL: "https://www.example.com/passport/web/confirm"}

	rec := h.o.StartAuth("new")
	final := waitAuthStatus(t, h, rec.ID, types.AuthStatusFailed)

	assert.Equal(t, TagAuthTimeout, final.ErrorTag)
	waitUntil(t, "release", func() bool { return len(h.pool.releasedIDs()) > 0 })
	assert.Equal(t, []string{rec.ID}, h.pool.releasedIDs())
	assert.Equal(t, []byte("png"), final.QRImage, "qr stays visible even when the scan never came")
}

func TestAuthFlowBundleExtractionFailure(t *testing.T) {
	h := newHarness(t)
	h.page.currentURL = "https://www.example.com/foryou"
	h.qrx.res = qr.Result{Image: []byte("png"), DecodedURL: "https://www.example.com/passport/web/confirm"}
	h.bnd.err = errors.New("session cookie missing")

	rec := h.o.StartAuth("new")
	final := waitAuthStatus(t, h, rec.ID, types.AuthStatusFailed)

	assert.Equal(t, TagBundleExtract, final.ErrorTag)
	waitUntil(t, "release", func() bool { return len(h.pool.releasedIDs()) > 0 })
	assert.Equal(t, []string{rec.ID}, h.pool.releasedIDs())
}

func TestPollAuthUnknown(t *testing.T) {
	h := newHarness(t)
	_, err := h.o.PollAuth("missing")
	require.ErrorIs(t, err, session.ErrAuthSessionNotFound)
}

func TestPollAuthNonTerminalNotRemoved(t *testing.T) {
	h := newHarness(t)
	rec := h.o.store.CreateAuth("owner")

	for i := 0; i < 2; i++ {
		polled, err := h.o.PollAuth(rec.ID)
		require.NoError(t, err)
		assert.Equal(t, types.AuthStatusAwaitingScan, polled.Status)
	}
}

func TestContainerPassthroughs(t *testing.T) {
	h := newHarness(t)

	ctr, err := h.o.CreateContainer(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, types.ContainerStatusPooled, ctr.Status)

	require.NoError(t, h.o.DestroyContainer(context.Background(), ctr.ID))
	assert.Equal(t, []string{ctr.ID}, h.pool.destroyed)

	h.pool.stats = types.PoolStats{Total: 3, Pooled: 2, Assigned: 1}
	_, stats := h.o.ListContainers()
	assert.Equal(t, 3, stats.Total)
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	_, err := h.o.LoadSession(loadedBundle("U"))
	require.NoError(t, err)
	h.o.store.CreateAuth("U")

	info := h.o.Health()
	assert.Equal(t, "ok", info.Status)
	assert.Equal(t, 1, info.Sessions)
	assert.Equal(t, 1, info.AuthSessions)
	assert.Equal(t, "fallback-seed", info.Encryption)
	assert.Equal(t, []string{"web"}, info.Modules)
	assert.GreaterOrEqual(t, info.Uptime, time.Duration(0))
}
