package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackpod/hutch/pkg/orchestrator"
	"github.com/stackpod/hutch/pkg/pool"
	"github.com/stackpod/hutch/pkg/runtime"
	"github.com/stackpod/hutch/pkg/security"
	"github.com/stackpod/hutch/pkg/session"
	"github.com/stackpod/hutch/pkg/twa"
	"github.com/stackpod/hutch/pkg/types"
)

// stubService records calls and returns canned results.
type stubService struct {
	loadErr    error
	loadEncErr error
	sessions   []orchestrator.SessionInfo
	pollRec    *types.AuthSession
	pollErr    error
	sampleRes  *types.SampleResult
	sampleErr  error
	container  *types.Container
	createErr  error
	destroyErr error
	containers []*types.Container
	stats      types.PoolStats
	health     orchestrator.HealthInfo

	gotBundle    *types.Bundle
	gotBlob      string
	gotSessionID string
	gotAuthID    string
	gotCount     int
	gotModuleReq orchestrator.ModuleSampleRequest
	gotUpstream  *types.ProxyUpstream
	gotDestroyID string
}

func (f *stubService) LoadSession(b *types.Bundle) (string, error) {
	f.gotBundle = b
	if f.loadErr != nil {
		return "", f.loadErr
	}
	return b.Identity(), nil
}

func (f *stubService) LoadEncryptedSession(blob string) (string, error) {
	f.gotBlob = blob
	if f.loadEncErr != nil {
		return "", f.loadEncErr
	}
	return "restored", nil
}

func (f *stubService) ListSessions() []orchestrator.SessionInfo { return f.sessions }

func (f *stubService) StartAuth(sessionID string) *types.AuthSession {
	f.gotSessionID = sessionID
	return &types.AuthSession{ID: "a1", Status: types.AuthStatusAwaitingScan}
}

func (f *stubService) PollAuth(authID string) (*types.AuthSession, error) {
	f.gotAuthID = authID
	return f.pollRec, f.pollErr
}

func (f *stubService) SampleFeed(_ context.Context, sessionID string, count int) (*types.SampleResult, error) {
	f.gotSessionID = sessionID
	f.gotCount = count
	return f.sampleRes, f.sampleErr
}

func (f *stubService) SampleHistory(ctx context.Context, sessionID string, count int) (*types.SampleResult, error) {
	return f.SampleFeed(ctx, sessionID, count)
}

func (f *stubService) SampleFeedModule(_ context.Context, sessionID string, req orchestrator.ModuleSampleRequest) (*types.SampleResult, error) {
	f.gotSessionID = sessionID
	f.gotModuleReq = req
	return f.sampleRes, f.sampleErr
}

func (f *stubService) SampleHistoryModule(ctx context.Context, sessionID string, req orchestrator.ModuleSampleRequest) (*types.SampleResult, error) {
	return f.SampleFeedModule(ctx, sessionID, req)
}

func (f *stubService) CreateContainer(_ context.Context, upstream *types.ProxyUpstream) (*types.Container, error) {
	f.gotUpstream = upstream
	return f.container, f.createErr
}

func (f *stubService) DestroyContainer(_ context.Context, id string) error {
	f.gotDestroyID = id
	return f.destroyErr
}

func (f *stubService) ListContainers() ([]*types.Container, types.PoolStats) {
	return f.containers, f.stats
}

func (f *stubService) Health() orchestrator.HealthInfo { return f.health }

func doRequest(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func testBundle() *types.Bundle {
	return &types.Bundle{
		Cookies: []types.Cookie{{Name: "sessionid", Value: "x"}},
		User:    &types.UserIdentity{SecUserID: "U"},
	}
}

func TestLoadSessionBundle(t *testing.T) {
	svc := &stubService{}
	srv := NewServer(svc, ":0")

	w := doRequest(t, srv.Handler(), http.MethodPost, "/load-session",
		map[string]any{"sessionData": testBundle()})

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "U", body["sessionId"])
	assert.Equal(t, "loaded", body["status"])
	require.NotNil(t, svc.gotBundle)
	assert.Equal(t, "U", svc.gotBundle.Identity())
}

func TestLoadSessionEncrypted(t *testing.T) {
	svc := &stubService{}
	srv := NewServer(svc, ":0")

	w := doRequest(t, srv.Handler(), http.MethodPost, "/load-session",
		map[string]any{"encryptedSession": "deadbeef"})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "restored", decodeBody(t, w)["sessionId"])
	assert.Equal(t, "deadbeef", svc.gotBlob)
}

func TestLoadSessionRejectsBadShapes(t *testing.T) {
	tests := []struct {
		name string
		body any
	}{
		{"empty object", map[string]any{}},
		{"both fields", map[string]any{"sessionData": testBundle(), "encryptedSession": "ff"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := NewServer(&stubService{}, ":0")
			w := doRequest(t, srv.Handler(), http.MethodPost, "/load-session", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, decodeBody(t, w)["error"], "BadRequest")
		})
	}
}

func TestLoadSessionMalformedJSON(t *testing.T) {
	srv := NewServer(&stubService{}, ":0")
	req := httptest.NewRequest(http.MethodPost, "/load-session", bytes.NewReader([]byte("{not json")))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLoadSessionBadBundle(t *testing.T) {
	svc := &stubService{loadErr: fmt.Errorf("%w: no cookies", session.ErrBadBundle)}
	srv := NewServer(svc, ":0")

	w := doRequest(t, srv.Handler(), http.MethodPost, "/load-session",
		map[string]any{"sessionData": testBundle()})

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decodeBody(t, w)["error"], "BadBundle:")
}

func TestListSessions(t *testing.T) {
	svc := &stubService{sessions: []orchestrator.SessionInfo{
		{ID: "12345678...", FullID: "1234567890"},
		{ID: "abcdefgh...", FullID: "abcdefghij"},
	}}
	srv := NewServer(svc, ":0")

	w := doRequest(t, srv.Handler(), http.MethodGet, "/sessions", nil)

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, float64(2), body["count"])
	sessions := body["sessions"].([]any)
	first := sessions[0].(map[string]any)
	assert.Equal(t, "12345678...", first["id"])
	assert.Equal(t, "1234567890", first["fullId"])
}

func TestStartAuth(t *testing.T) {
	svc := &stubService{}
	srv := NewServer(svc, ":0")

	w := doRequest(t, srv.Handler(), http.MethodPost, "/auth/start/U", map[string]any{})

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "a1", body["authSessionId"])
	assert.Equal(t, "awaiting_scan", body["status"])
	assert.Equal(t, "U", svc.gotSessionID)
}

func TestPollAuthStates(t *testing.T) {
	qr := []byte("png-bytes")
	bundle := testBundle()

	tests := []struct {
		name  string
		rec   *types.AuthSession
		check func(t *testing.T, body map[string]any)
	}{
		{
			name: "awaiting scan carries qr",
			rec:  &types.AuthSession{Status: types.AuthStatusAwaitingScan, QRImage: qr},
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, "awaiting_scan", body["status"])
				assert.Equal(t, base64.StdEncoding.EncodeToString(qr), body["qrCodeData"])
				assert.NotContains(t, body, "sessionData")
			},
		},
		{
			name: "complete carries bundle",
			rec:  &types.AuthSession{Status: types.AuthStatusComplete, ResultBundle: bundle},
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, "complete", body["status"])
				assert.Contains(t, body, "sessionData")
			},
		},
		{
			name: "failed carries tag and screenshot",
			rec:  &types.AuthSession{Status: types.AuthStatusFailed, ErrorTag: "auth_timeout", QRImage: qr},
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, "failed", body["status"])
				assert.Equal(t, "auth_timeout", body["error"])
				assert.Contains(t, body, "qrCodeData")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := NewServer(&stubService{pollRec: tt.rec}, ":0")
			w := doRequest(t, srv.Handler(), http.MethodGet, "/auth/poll/a1", nil)
			require.Equal(t, http.StatusOK, w.Code)
			tt.check(t, decodeBody(t, w))
		})
	}
}

func TestPollAuthUnknown(t *testing.T) {
	svc := &stubService{pollErr: session.ErrAuthSessionNotFound}
	srv := NewServer(svc, ":0")

	w := doRequest(t, srv.Handler(), http.MethodGet, "/auth/poll/missing", nil)

	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, decodeBody(t, w)["error"], "AuthSessionNotFound:")
	assert.Equal(t, "missing", svc.gotAuthID)
}

func TestSampleFeed(t *testing.T) {
	svc := &stubService{sampleRes: &types.SampleResult{
		Items:     []map[string]any{{"id": "1"}, {"id": "2"}},
		Method:    twa.MethodPlaywright,
		SampledAt: time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC),
	}}
	srv := NewServer(svc, ":0")

	w := doRequest(t, srv.Handler(), http.MethodPost, "/playwright/foryoupage/sample/U",
		map[string]any{"count": 2})

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, true, body["success"])
	assert.Len(t, body["videos"], 2)
	assert.Equal(t, "playwright", body["method"])
	assert.Contains(t, body, "sampled_at")
	assert.Equal(t, "U", svc.gotSessionID)
	assert.Equal(t, 2, svc.gotCount)
}

func TestSampleFeedEmptyBodyDefaults(t *testing.T) {
	svc := &stubService{sampleRes: &types.SampleResult{Method: twa.MethodPlaywright}}
	srv := NewServer(svc, ":0")

	req := httptest.NewRequest(http.MethodPost, "/playwright/watchhistory/sample/U", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, svc.gotCount)
	// nil items render as an empty array, not null
	assert.JSONEq(t, `[]`, string(mustMarshal(t, decodeBody(t, w)["videos"])))
}

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func TestSampleNegativeCount(t *testing.T) {
	srv := NewServer(&stubService{}, ":0")
	w := doRequest(t, srv.Handler(), http.MethodPost, "/playwright/foryoupage/sample/U",
		map[string]any{"count": -3})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSampleErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantKind   string
	}{
		{"unknown session", session.ErrSessionNotFound, http.StatusNotFound, "SessionNotFound:"},
		{"at capacity", pool.ErrAtCapacity, http.StatusInternalServerError, "AtCapacity:"},
		{"proxy config", runtime.ErrProxyConfig, http.StatusInternalServerError, "ProxyConfig:"},
		{"browser not ready", runtime.ErrNotReady, http.StatusInternalServerError, "BrowserNotReady:"},
		{"script failed", fmt.Errorf("%w: boom", orchestrator.ErrSamplingScript), http.StatusInternalServerError, "SamplingScriptFailed:"},
		{"bad ciphertext", security.ErrBadCiphertext, http.StatusBadRequest, "BadCiphertext:"},
		{"anything else", errors.New("disk on fire"), http.StatusInternalServerError, "Internal:"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubService{sampleErr: tt.err}
			srv := NewServer(svc, ":0")
			w := doRequest(t, srv.Handler(), http.MethodPost, "/playwright/foryoupage/sample/U",
				map[string]any{"count": 1})
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Contains(t, decodeBody(t, w)["error"], tt.wantKind)
		})
	}
}

func TestModuleSample(t *testing.T) {
	svc := &stubService{sampleRes: &types.SampleResult{
		Raw:        map[string]any{"itemList": []any{map[string]any{"id": "1"}}},
		StatusCode: 200,
		Method:     twa.MethodModule,
	}}
	srv := NewServer(svc, ":0")

	w := doRequest(t, srv.Handler(), http.MethodPost, "/modules/foryoupage/sample/U",
		map[string]any{
			"count":       5,
			"module_type": "web",
			"proxy":       map[string]any{"host": "gw.local", "port": 10007},
		})

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(200), body["statusCode"])
	assert.Contains(t, body, "raw")

	assert.Equal(t, 5, svc.gotModuleReq.Count)
	assert.Equal(t, "web", svc.gotModuleReq.ModuleType)
	require.NotNil(t, svc.gotModuleReq.Proxy)
	assert.Equal(t, "gw.local", svc.gotModuleReq.Proxy.Host)
	assert.Equal(t, 10007, svc.gotModuleReq.Proxy.Port)
}

func TestModuleSamplePartialProxy(t *testing.T) {
	srv := NewServer(&stubService{}, ":0")
	w := doRequest(t, srv.Handler(), http.MethodPost, "/modules/watchhistory/sample/U",
		map[string]any{"proxy": map[string]any{"host": "gw.local"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestModuleSampleUnknownModule(t *testing.T) {
	svc := &stubService{sampleErr: fmt.Errorf("%w: %q", twa.ErrUnknownModule, "nope")}
	srv := NewServer(svc, ":0")

	w := doRequest(t, srv.Handler(), http.MethodPost, "/modules/foryoupage/sample/U",
		map[string]any{"module_type": "nope"})

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decodeBody(t, w)["error"], "UnknownModule:")
}

func TestCreateContainer(t *testing.T) {
	svc := &stubService{container: &types.Container{
		ID:          "abc123",
		IP:          "172.20.0.5",
		DevtoolsURL: "http://172.20.0.5:9222",
		Status:      types.ContainerStatusPooled,
	}}
	srv := NewServer(svc, ":0")

	w := doRequest(t, srv.Handler(), http.MethodPost, "/containers/create",
		map[string]any{"proxy": map[string]any{"host": "gw", "port": 10001, "user": "u", "pass": "p"}})

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "abc123", body["containerId"])
	assert.Equal(t, "172.20.0.5", body["ip"])
	assert.Equal(t, "http://172.20.0.5:9222", body["cdpUrl"])
	assert.Equal(t, "pooled", body["status"])
	require.NotNil(t, svc.gotUpstream)
	assert.Equal(t, "gw", svc.gotUpstream.Host)
}

func TestCreateContainerFailure(t *testing.T) {
	svc := &stubService{createErr: fmt.Errorf("%w: image pull", runtime.ErrCreationFailed)}
	srv := NewServer(svc, ":0")

	w := doRequest(t, srv.Handler(), http.MethodPost, "/containers/create", map[string]any{})

	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, decodeBody(t, w)["error"], "ContainerCreationFailed:")
}

func TestDestroyContainer(t *testing.T) {
	svc := &stubService{}
	srv := NewServer(svc, ":0")

	w := doRequest(t, srv.Handler(), http.MethodDelete, "/containers/abc123", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decodeBody(t, w)["success"])
	assert.Equal(t, "abc123", svc.gotDestroyID)
}

func TestDestroyContainerUnknown(t *testing.T) {
	svc := &stubService{destroyErr: pool.ErrContainerNotFound}
	srv := NewServer(svc, ":0")

	w := doRequest(t, srv.Handler(), http.MethodDelete, "/containers/nope", nil)

	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, decodeBody(t, w)["error"], "ContainerNotFound:")
}

func TestListContainers(t *testing.T) {
	now := time.Now()
	svc := &stubService{
		containers: []*types.Container{
			{ID: "c1", IP: "172.20.0.2", Status: types.ContainerStatusPooled, CreatedAt: now, LastUsedAt: now},
			{ID: "c2", IP: "172.20.0.3", Status: types.ContainerStatusAssigned, SessionID: "U", CreatedAt: now, LastUsedAt: now},
		},
		stats: types.PoolStats{Total: 2, Pooled: 1, Assigned: 1},
	}
	srv := NewServer(svc, ":0")

	w := doRequest(t, srv.Handler(), http.MethodGet, "/containers", nil)

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, float64(2), body["total"])
	assert.Equal(t, float64(1), body["available"])
	assert.Equal(t, float64(1), body["assigned"])
	containers := body["containers"].([]any)
	require.Len(t, containers, 2)
	second := containers[1].(map[string]any)
	assert.Equal(t, "U", second["sessionId"])
}

func TestHealth(t *testing.T) {
	svc := &stubService{health: orchestrator.HealthInfo{
		Status:       "ok",
		Sessions:     3,
		AuthSessions: 1,
		Uptime:       90 * time.Second,
		Encryption:   "fallback-seed",
		Modules:      []string{"web"},
		Pool:         types.PoolStats{Total: 4, Pooled: 2, Assigned: 1, Released: 1},
	}}
	srv := NewServer(svc, ":0")

	w := doRequest(t, srv.Handler(), http.MethodGet, "/health", nil)

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(3), body["sessions"])
	assert.Equal(t, "1m30s", body["uptime"])
	assert.Equal(t, "fallback-seed", body["encryption"])
	modules := body["modules"].(map[string]any)
	assert.Equal(t, true, modules["web"])
	poolInfo := body["pool"].(map[string]any)
	assert.Equal(t, float64(4), poolInfo["total"])
}

func TestGoneRoutes(t *testing.T) {
	srv := NewServer(&stubService{}, ":0")

	w := doRequest(t, srv.Handler(), http.MethodPost, "/api/foryoupage/sample/U", map[string]any{})
	assert.Equal(t, http.StatusGone, w.Code)
	assert.Contains(t, decodeBody(t, w)["error"], "Deprecated: use POST /playwright/foryoupage/sample")

	w = doRequest(t, srv.Handler(), http.MethodGet, "/auth/qr/a1", nil)
	assert.Equal(t, http.StatusGone, w.Code)
	assert.Contains(t, decodeBody(t, w)["error"], "Deprecated: use GET /auth/poll")
}

func TestMetricsRoute(t *testing.T) {
	srv := NewServer(&stubService{}, ":0")
	w := doRequest(t, srv.Handler(), http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "hutch_")
}
