package pool

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/stackpod/hutch/pkg/log"
	"github.com/stackpod/hutch/pkg/metrics"
	"github.com/stackpod/hutch/pkg/proxy"
	"github.com/stackpod/hutch/pkg/types"
)

var (
	// ErrAtCapacity means the warm pool is empty. Assignment never
	// creates on demand; callers retry after the next maintenance tick.
	ErrAtCapacity = errors.New("pool at capacity")

	// ErrContainerNotFound means the container id is not in the registry.
	ErrContainerNotFound = errors.New("container not found")
)

// Runtime is the slice of the container driver the pool consumes.
type Runtime interface {
	Create(ctx context.Context) (string, error)
	InspectIP(ctx context.Context, containerID string) (string, error)
	DevtoolsURL(ip string) string
	ControlURL(ip string) string
	WaitReady(ctx context.Context, ip string, maxTries int) error
	ConfigureProxy(ctx context.Context, ip string, upstream types.ProxyUpstream) error
	Destroy(ctx context.Context, containerID string) error
	ListOrphans(ctx context.Context) ([]string, error)
}

// Config holds the pool's tunables.
type Config struct {
	MinWarm             int
	MaxTotal            int
	ReleasedIdleTimeout time.Duration
	MaintenanceInterval time.Duration
	SweepInterval       time.Duration
	ReadyMaxTries       int
}

func (c *Config) applyDefaults() {
	// MinWarm zero is a real setting (no warm containers), only
	// negative is nonsense.
	if c.MinWarm < 0 {
		c.MinWarm = 0
	}
	if c.MaxTotal <= 0 {
		c.MaxTotal = 24
	}
	if c.ReleasedIdleTimeout <= 0 {
		c.ReleasedIdleTimeout = 10 * time.Minute
	}
	if c.MaintenanceInterval <= 0 {
		c.MaintenanceInterval = 30 * time.Second
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 60 * time.Second
	}
	if c.ReadyMaxTries <= 0 {
		c.ReadyMaxTries = 10
	}
}

// Manager owns every live container. Containers are single use: they
// move Pooled to Assigned to Released and then get destroyed, never
// back into the warm pool.
//
// The mutex guards only the registry maps and the warm-pool list.
// Container creation, proxy configuration, and destruction all run
// outside it.
type Manager struct {
	runtime  Runtime
	selector proxy.Selector
	cfg      Config

	mu                sync.Mutex
	containers        map[string]*types.Container
	sessionContainers map[string]string
	warmPool          []string

	maintaining atomic.Bool
	stopCh      chan struct{}
	stopOnce    sync.Once
	logger      zerolog.Logger
}

// NewManager creates a pool manager over the given runtime and proxy
// selector.
func NewManager(rt Runtime, selector proxy.Selector, cfg Config) *Manager {
	cfg.applyDefaults()
	metrics.PoolWarmMinimum.Set(float64(cfg.MinWarm))

	return &Manager{
		runtime:           rt,
		selector:          selector,
		cfg:               cfg,
		containers:        make(map[string]*types.Container),
		sessionContainers: make(map[string]string),
		stopCh:            make(chan struct{}),
		logger:            log.WithComponent("pool"),
	}
}

// Start destroys orphans from a previous instance, then launches the
// maintenance and sweeper loops. The maintenance loop refills once
// immediately, so the warm pool begins filling without waiting a tick.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.CleanOrphans(ctx); err != nil {
		return err
	}

	go m.maintenanceLoop()
	go m.sweepLoop()

	return nil
}

// Stop stops the background loops without touching containers.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
}

// Shutdown stops the loops and destroys every live container.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.Stop()

	m.mu.Lock()
	ids := make([]string, 0, len(m.containers))
	for id := range m.containers {
		ids = append(ids, id)
	}
	m.containers = make(map[string]*types.Container)
	m.sessionContainers = make(map[string]string)
	m.warmPool = nil
	m.mu.Unlock()

	var g errgroup.Group
	g.SetLimit(8)
	for _, id := range ids {
		g.Go(func() error {
			if err := m.runtime.Destroy(ctx, id); err != nil {
				m.logger.Warn().Err(err).Str("container_id", id).Msg("failed to destroy container during shutdown")
				return err
			}
			metrics.ContainersDestroyed.WithLabelValues("shutdown").Inc()
			return nil
		})
	}

	err := g.Wait()
	m.logger.Info().Int("containers", len(ids)).Msg("pool shut down")
	return err
}

// CleanOrphans destroys every managed container left over from a
// previous instance.
func (m *Manager) CleanOrphans(ctx context.Context) error {
	ids, err := m.runtime.ListOrphans(ctx)
	if err != nil {
		return fmt.Errorf("failed to enumerate orphans: %w", err)
	}

	for _, id := range ids {
		if err := m.runtime.Destroy(ctx, id); err != nil {
			m.logger.Warn().Err(err).Str("container_id", id).Msg("failed to destroy orphan")
			continue
		}
		metrics.ContainersDestroyed.WithLabelValues("orphan").Inc()
	}

	if len(ids) > 0 {
		m.logger.Info().Int("count", len(ids)).Msg("destroyed orphaned containers")
	}

	return nil
}

// Assign binds a warm container to the session and configures its
// outbound proxy. A session that already holds an Assigned container
// gets the same one back. An empty warm pool fails ErrAtCapacity
// without creating anything.
func (m *Manager) Assign(ctx context.Context, sessionID string, kind proxy.Kind) (*types.Container, error) {
	return m.assign(ctx, sessionID, kind, nil)
}

// AssignWithProxy is Assign with the computed upstream replaced by a
// caller-supplied one for this assignment.
func (m *Manager) AssignWithProxy(ctx context.Context, sessionID string, upstream types.ProxyUpstream) (*types.Container, error) {
	return m.assign(ctx, sessionID, "", &upstream)
}

func (m *Manager) assign(ctx context.Context, sessionID string, kind proxy.Kind, override *types.ProxyUpstream) (*types.Container, error) {
	m.mu.Lock()

	if cid, bound := m.sessionContainers[sessionID]; bound {
		if rec, ok := m.containers[cid]; ok && rec.Status == types.ContainerStatusAssigned {
			rec.LastUsedAt = time.Now()
			out := *rec
			m.mu.Unlock()
			return &out, nil
		}
	}

	if len(m.warmPool) == 0 {
		m.mu.Unlock()
		metrics.AssignmentFailures.WithLabelValues("at_capacity").Inc()
		return nil, ErrAtCapacity
	}

	cid := m.warmPool[len(m.warmPool)-1]
	m.warmPool = m.warmPool[:len(m.warmPool)-1]

	rec := m.containers[cid]
	rec.Status = types.ContainerStatusAssigned
	rec.SessionID = sessionID
	rec.LastUsedAt = time.Now()
	m.sessionContainers[sessionID] = cid
	out := *rec
	m.mu.Unlock()

	proxyKind := string(kind)
	var upstream types.ProxyUpstream
	if override != nil {
		upstream = *override
		proxyKind = "override"
	} else {
		upstream = m.selector.Select(sessionID, kind)
	}
	if err := m.runtime.ConfigureProxy(ctx, out.IP, upstream); err != nil {
		m.mu.Lock()
		// The record may have been admin-destroyed while we were
		// configuring; only a still-registered container goes back.
		if _, live := m.containers[cid]; live {
			rec.Status = types.ContainerStatusPooled
			rec.SessionID = ""
			m.warmPool = append(m.warmPool, cid)
		}
		delete(m.sessionContainers, sessionID)
		m.mu.Unlock()

		metrics.AssignmentFailures.WithLabelValues("proxy_config").Inc()
		return nil, fmt.Errorf("failed to configure proxy for container %s: %w", cid, err)
	}

	metrics.AssignmentsTotal.Inc()
	m.logger.Info().
		Str("session_id", truncate(sessionID)).
		Str("container_id", truncate(cid)).
		Str("proxy_kind", proxyKind).
		Str("upstream", fmt.Sprintf("%s:%d", upstream.Host, upstream.Port)).
		Msg("container assigned")

	return &out, nil
}

// Release unbinds the session and marks its container Released. The
// container stays alive until the idle sweeper takes it; it never
// returns to the warm pool. Releasing a session with no assigned
// container is a no-op, so unwind paths can call it unconditionally.
func (m *Manager) Release(sessionID string) error {
	m.mu.Lock()
	cid, bound := m.sessionContainers[sessionID]
	if !bound {
		m.mu.Unlock()
		m.logger.Debug().Str("session_id", truncate(sessionID)).Msg("release of unbound session")
		return nil
	}

	delete(m.sessionContainers, sessionID)
	if rec, ok := m.containers[cid]; ok {
		rec.Status = types.ContainerStatusReleased
		rec.SessionID = ""
		rec.LastUsedAt = time.Now()
	}
	m.mu.Unlock()

	m.logger.Info().
		Str("session_id", truncate(sessionID)).
		Str("container_id", truncate(cid)).
		Msg("container released")

	return nil
}

// Recycle destroys the session's container outright. Used after auth
// flows so nothing of the logged-in browser survives. Like Release, an
// unbound session is a no-op.
func (m *Manager) Recycle(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	cid, bound := m.sessionContainers[sessionID]
	if !bound {
		m.mu.Unlock()
		m.logger.Debug().Str("session_id", truncate(sessionID)).Msg("recycle of unbound session")
		return nil
	}
	delete(m.sessionContainers, sessionID)
	delete(m.containers, cid)
	m.mu.Unlock()

	if err := m.runtime.Destroy(ctx, cid); err != nil {
		return fmt.Errorf("failed to destroy container %s: %w", cid, err)
	}

	metrics.ContainersDestroyed.WithLabelValues("recycle").Inc()
	m.logger.Info().
		Str("session_id", truncate(sessionID)).
		Str("container_id", truncate(cid)).
		Msg("container recycled")

	return nil
}

// Destroy removes a container by id regardless of status.
func (m *Manager) Destroy(ctx context.Context, containerID string) error {
	m.mu.Lock()
	rec, ok := m.containers[containerID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrContainerNotFound, truncate(containerID))
	}

	if rec.Status == types.ContainerStatusPooled {
		m.removeFromWarmPool(containerID)
	}
	if rec.SessionID != "" {
		delete(m.sessionContainers, rec.SessionID)
	}
	delete(m.containers, containerID)
	m.mu.Unlock()

	if err := m.runtime.Destroy(ctx, containerID); err != nil {
		return fmt.Errorf("failed to destroy container %s: %w", containerID, err)
	}

	metrics.ContainersDestroyed.WithLabelValues("admin").Inc()
	return nil
}

// CreateContainer provisions one container outside the maintenance
// loop, optionally configuring an explicit proxy upstream first. The
// container enters the warm pool like any other.
func (m *Manager) CreateContainer(ctx context.Context, upstream *types.ProxyUpstream) (*types.Container, error) {
	rec, err := m.createOne(ctx)
	if err != nil {
		return nil, err
	}

	if upstream != nil && !upstream.IsZero() {
		if err := m.runtime.ConfigureProxy(ctx, rec.IP, *upstream); err != nil {
			m.mu.Lock()
			m.removeFromWarmPool(rec.ID)
			delete(m.containers, rec.ID)
			m.mu.Unlock()

			if derr := m.runtime.Destroy(ctx, rec.ID); derr != nil {
				m.logger.Warn().Err(derr).Str("container_id", truncate(rec.ID)).Msg("failed to destroy container after proxy failure")
			}
			return nil, fmt.Errorf("failed to configure proxy for container %s: %w", rec.ID, err)
		}
	}

	out := *rec
	return &out, nil
}

// List returns copies of every registry record, oldest first.
func (m *Manager) List() []*types.Container {
	m.mu.Lock()
	out := make([]*types.Container, 0, len(m.containers))
	for _, rec := range m.containers {
		c := *rec
		out = append(out, &c)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	return out
}

// Stats returns current pool occupancy.
func (m *Manager) Stats() types.PoolStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := types.PoolStats{
		Total:    len(m.containers),
		Sessions: len(m.sessionContainers),
	}
	for _, rec := range m.containers {
		switch rec.Status {
		case types.ContainerStatusPooled:
			stats.Pooled++
		case types.ContainerStatusAssigned:
			stats.Assigned++
		case types.ContainerStatusReleased:
			stats.Released++
		}
	}

	return stats
}

// PoolSize returns the number of warm containers ready for assignment.
func (m *Manager) PoolSize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.warmPool)
}

// Counts implements metrics.PoolSource.
func (m *Manager) Counts() (total, pooled, assigned, released int) {
	stats := m.Stats()
	return stats.Total, stats.Pooled, stats.Assigned, stats.Released
}

// maintenanceLoop refills the warm pool, once immediately and then on
// every tick.
func (m *Manager) maintenanceLoop() {
	m.maintain()

	ticker := time.NewTicker(m.cfg.MaintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.maintain()
		case <-m.stopCh:
			return
		}
	}
}

// maintain creates however many containers the warm pool is short, in
// parallel. If a previous refill is still in flight the tick is
// skipped.
func (m *Manager) maintain() {
	if !m.maintaining.CompareAndSwap(false, true) {
		m.logger.Debug().Msg("refill still in flight, skipping tick")
		return
	}
	defer m.maintaining.Store(false)

	m.mu.Lock()
	need := m.cfg.MinWarm - len(m.warmPool)
	room := m.cfg.MaxTotal - len(m.containers)
	m.mu.Unlock()

	if need > room {
		need = room
	}
	if need <= 0 {
		return
	}

	m.logger.Info().Int("count", need).Msg("refilling warm pool")

	var g errgroup.Group
	for i := 0; i < need; i++ {
		g.Go(func() error {
			_, err := m.createOne(context.Background())
			return err
		})
	}

	if err := g.Wait(); err != nil {
		m.logger.Warn().Err(err).Msg("warm pool refill incomplete")
	}
}

// createOne creates, inspects, and readiness-checks one container,
// then registers it as Pooled. Containers that fail readiness are
// destroyed and never enter the registry.
func (m *Manager) createOne(ctx context.Context) (*types.Container, error) {
	timer := metrics.NewTimer()

	cid, err := m.runtime.Create(ctx)
	if err != nil {
		metrics.ContainerCreateFailures.Inc()
		return nil, err
	}

	ip, err := m.runtime.InspectIP(ctx, cid)
	if err != nil {
		m.discard(cid)
		metrics.ContainerCreateFailures.Inc()
		return nil, err
	}

	if err := m.runtime.WaitReady(ctx, ip, m.cfg.ReadyMaxTries); err != nil {
		m.discard(cid)
		metrics.ContainerCreateFailures.Inc()
		return nil, err
	}

	now := time.Now()
	rec := &types.Container{
		ID:          cid,
		IP:          ip,
		DevtoolsURL: m.runtime.DevtoolsURL(ip),
		ControlURL:  m.runtime.ControlURL(ip),
		Status:      types.ContainerStatusPooled,
		CreatedAt:   now,
		LastUsedAt:  now,
	}

	m.mu.Lock()
	m.containers[cid] = rec
	m.warmPool = append(m.warmPool, cid)
	m.mu.Unlock()

	metrics.ContainersCreated.Inc()
	timer.ObserveDuration(metrics.ContainerCreateDuration)

	m.logger.Info().Str("container_id", truncate(cid)).Str("ip", ip).Msg("container pooled")
	return rec, nil
}

// discard destroys a container that never made it into the registry.
func (m *Manager) discard(containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := m.runtime.Destroy(ctx, containerID); err != nil {
		m.logger.Warn().Err(err).Str("container_id", truncate(containerID)).Msg("failed to destroy unready container")
	}
}

// sweepLoop destroys idle Released containers on every tick.
func (m *Manager) sweepLoop() {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.SweepReleased()
		case <-m.stopCh:
			return
		}
	}
}

// SweepReleased destroys Released containers idle past the timeout and
// returns how many went. Pooled containers are never idle-swept.
func (m *Manager) SweepReleased() int {
	now := time.Now()

	m.mu.Lock()
	var expired []string
	for id, rec := range m.containers {
		if rec.Status == types.ContainerStatusReleased && now.Sub(rec.LastUsedAt) > m.cfg.ReleasedIdleTimeout {
			expired = append(expired, id)
			delete(m.containers, id)
		}
	}
	m.mu.Unlock()

	for _, id := range expired {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		if err := m.runtime.Destroy(ctx, id); err != nil {
			m.logger.Warn().Err(err).Str("container_id", truncate(id)).Msg("failed to destroy expired container")
		} else {
			metrics.ContainersDestroyed.WithLabelValues("idle").Inc()
		}
		cancel()
	}

	if len(expired) > 0 {
		m.logger.Info().Int("count", len(expired)).Msg("swept expired released containers")
	}

	return len(expired)
}

// removeFromWarmPool drops an id from the warm-pool list. Caller holds
// the lock.
func (m *Manager) removeFromWarmPool(containerID string) {
	for i, id := range m.warmPool {
		if id == containerID {
			m.warmPool = append(m.warmPool[:i], m.warmPool[i+1:]...)
			return
		}
	}
}

func truncate(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
