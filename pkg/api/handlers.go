package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/stackpod/hutch/pkg/metrics"
	"github.com/stackpod/hutch/pkg/orchestrator"
	"github.com/stackpod/hutch/pkg/types"
)

// Request shapes. Validation tags cover field-level checks; the
// handlers add the checks validator cannot express.

type loadSessionRequest struct {
	SessionData      *types.Bundle `json:"sessionData" validate:"required_without=EncryptedSession"`
	EncryptedSession string        `json:"encryptedSession" validate:"required_without=SessionData"`
}

type sampleRequest struct {
	Count int `json:"count" validate:"gte=0"`
}

type moduleSampleRequest struct {
	Count      int                  `json:"count" validate:"gte=0"`
	ModuleType string               `json:"module_type"`
	Proxy      *types.ProxyUpstream `json:"proxy"`
}

type createContainerRequest struct {
	Proxy *types.ProxyUpstream `json:"proxy"`
}

// Response shapes.

type loadSessionResponse struct {
	SessionID string `json:"sessionId"`
	Status    string `json:"status"`
}

type sessionSummary struct {
	ID     string `json:"id"`
	FullID string `json:"fullId"`
}

type listSessionsResponse struct {
	Count    int              `json:"count"`
	Sessions []sessionSummary `json:"sessions"`
}

type startAuthResponse struct {
	AuthSessionID string `json:"authSessionId"`
	Status        string `json:"status"`
}

type pollAuthResponse struct {
	Status      string        `json:"status"`
	QRCodeData  []byte        `json:"qrCodeData,omitempty"`
	SessionData *types.Bundle `json:"sessionData,omitempty"`
	Error       string        `json:"error,omitempty"`
}

type pageSampleResponse struct {
	Success   bool             `json:"success"`
	Videos    []map[string]any `json:"videos"`
	Method    string           `json:"method"`
	SampledAt time.Time        `json:"sampled_at"`
}

type moduleSampleResponse struct {
	Success    bool `json:"success"`
	Raw        any  `json:"raw"`
	StatusCode int  `json:"statusCode"`
}

type createContainerResponse struct {
	ContainerID string `json:"containerId"`
	IP          string `json:"ip"`
	CDPURL      string `json:"cdpUrl"`
	Status      string `json:"status"`
}

type successResponse struct {
	Success bool `json:"success"`
}

type containerSummary struct {
	ID         string    `json:"id"`
	IP         string    `json:"ip"`
	Status     string    `json:"status"`
	SessionID  string    `json:"sessionId,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	LastUsedAt time.Time `json:"lastUsedAt"`
}

type listContainersResponse struct {
	Total      int                `json:"total"`
	Available  int                `json:"available"`
	Assigned   int                `json:"assigned"`
	Containers []containerSummary `json:"containers"`
}

type poolSummary struct {
	Total    int `json:"total"`
	Pooled   int `json:"pooled"`
	Assigned int `json:"assigned"`
	Released int `json:"released"`
}

type healthResponse struct {
	Status       string          `json:"status"`
	Sessions     int             `json:"sessions"`
	AuthSessions int             `json:"authSessions"`
	Uptime       string          `json:"uptime"`
	Encryption   string          `json:"encryption"`
	Modules      map[string]bool `json:"modules"`
	Pool         poolSummary     `json:"pool"`
}

// decode unmarshals and validates a request body. An absent or empty
// body leaves dst at its zero value; routes that require fields catch
// that through validation.
func (s *Server) decode(r *http.Request, dst any) error {
	err := json.NewDecoder(r.Body).Decode(dst)
	if errors.Is(err, io.EOF) {
		err = nil
	}
	if err != nil {
		return errors.New("invalid JSON body")
	}
	if err := s.validate.Struct(dst); err != nil {
		return err
	}
	return nil
}

// checkProxy normalizes an optional proxy override: absent or zero
// means none, partial shapes are rejected.
func checkProxy(p *types.ProxyUpstream) (*types.ProxyUpstream, error) {
	if p == nil || p.IsZero() {
		return nil, nil
	}
	if p.Host == "" || p.Port < 1 || p.Port > 65535 {
		return nil, errors.New("proxy requires host and a valid port")
	}
	return p, nil
}

func (s *Server) handleLoadSession(w http.ResponseWriter, r *http.Request) {
	var req loadSessionRequest
	if err := s.decode(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if req.SessionData != nil && req.EncryptedSession != "" {
		writeBadRequest(w, "sessionData and encryptedSession are mutually exclusive")
		return
	}

	var (
		id  string
		err error
	)
	if req.SessionData != nil {
		id, err = s.svc.LoadSession(req.SessionData)
	} else {
		id, err = s.svc.LoadEncryptedSession(req.EncryptedSession)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, loadSessionResponse{SessionID: id, Status: "loaded"})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	infos := s.svc.ListSessions()
	out := listSessionsResponse{
		Count:    len(infos),
		Sessions: make([]sessionSummary, 0, len(infos)),
	}
	for _, in := range infos {
		out.Sessions = append(out.Sessions, sessionSummary{ID: in.ID, FullID: in.FullID})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleStartAuth(w http.ResponseWriter, r *http.Request) {
	rec := s.svc.StartAuth(chi.URLParam(r, "sessionId"))
	writeJSON(w, http.StatusOK, startAuthResponse{
		AuthSessionID: rec.ID,
		Status:        string(rec.Status),
	})
}

func (s *Server) handlePollAuth(w http.ResponseWriter, r *http.Request) {
	rec, err := s.svc.PollAuth(chi.URLParam(r, "authSessionId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pollAuthResponse{
		Status:      string(rec.Status),
		QRCodeData:  rec.QRImage,
		SessionData: rec.ResultBundle,
		Error:       rec.ErrorTag,
	})
}

func (s *Server) handleSampleFeed(w http.ResponseWriter, r *http.Request) {
	s.handlePageSample(w, r, s.svc.SampleFeed)
}

func (s *Server) handleSampleHistory(w http.ResponseWriter, r *http.Request) {
	s.handlePageSample(w, r, s.svc.SampleHistory)
}

func (s *Server) handlePageSample(w http.ResponseWriter, r *http.Request, sample func(ctx context.Context, sessionID string, count int) (*types.SampleResult, error)) {
	var req sampleRequest
	if err := s.decode(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	res, err := sample(r.Context(), chi.URLParam(r, "sessionId"), req.Count)
	if err != nil {
		writeError(w, err)
		return
	}

	videos := res.Items
	if videos == nil {
		videos = []map[string]any{}
	}
	writeJSON(w, http.StatusOK, pageSampleResponse{
		Success:   true,
		Videos:    videos,
		Method:    res.Method,
		SampledAt: res.SampledAt,
	})
}

func (s *Server) handleSampleFeedModule(w http.ResponseWriter, r *http.Request) {
	s.handleModuleSample(w, r, s.svc.SampleFeedModule)
}

func (s *Server) handleSampleHistoryModule(w http.ResponseWriter, r *http.Request) {
	s.handleModuleSample(w, r, s.svc.SampleHistoryModule)
}

func (s *Server) handleModuleSample(w http.ResponseWriter, r *http.Request, sample func(ctx context.Context, sessionID string, req orchestrator.ModuleSampleRequest) (*types.SampleResult, error)) {
	var req moduleSampleRequest
	if err := s.decode(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	upstream, err := checkProxy(req.Proxy)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	res, err := sample(r.Context(), chi.URLParam(r, "sessionId"), orchestrator.ModuleSampleRequest{
		Count:      req.Count,
		ModuleType: req.ModuleType,
		Proxy:      upstream,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, moduleSampleResponse{
		Success:    true,
		Raw:        res.Raw,
		StatusCode: res.StatusCode,
	})
}

func (s *Server) handleCreateContainer(w http.ResponseWriter, r *http.Request) {
	var req createContainerRequest
	if err := s.decode(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	upstream, err := checkProxy(req.Proxy)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	ctr, err := s.svc.CreateContainer(r.Context(), upstream)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, createContainerResponse{
		ContainerID: ctr.ID,
		IP:          ctr.IP,
		CDPURL:      ctr.DevtoolsURL,
		Status:      string(ctr.Status),
	})
}

func (s *Server) handleDestroyContainer(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DestroyContainer(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

func (s *Server) handleListContainers(w http.ResponseWriter, r *http.Request) {
	containers, stats := s.svc.ListContainers()
	out := listContainersResponse{
		Total:      stats.Total,
		Available:  stats.Pooled,
		Assigned:   stats.Assigned,
		Containers: make([]containerSummary, 0, len(containers)),
	}
	for _, c := range containers {
		out.Containers = append(out.Containers, containerSummary{
			ID:         c.ID,
			IP:         c.IP,
			Status:     string(c.Status),
			SessionID:  c.SessionID,
			CreatedAt:  c.CreatedAt,
			LastUsedAt: c.LastUsedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	info := s.svc.Health()
	modules := make(map[string]bool, len(info.Modules))
	for _, name := range info.Modules {
		modules[name] = true
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:       info.Status,
		Sessions:     info.Sessions,
		AuthSessions: info.AuthSessions,
		Uptime:       info.Uptime.Round(time.Second).String(),
		Encryption:   info.Encryption,
		Modules:      modules,
		Pool: poolSummary{
			Total:    info.Pool.Total,
			Pooled:   info.Pool.Pooled,
			Assigned: info.Pool.Assigned,
			Released: info.Pool.Released,
		},
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	readiness := metrics.GetReadiness()
	status := http.StatusOK
	if readiness.Status != "ready" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, readiness)
}

func (s *Server) handleGone(replacement string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusGone, errorResponse{Error: "Deprecated: use " + replacement})
	}
}
