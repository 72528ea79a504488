package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stackpod/hutch/pkg/log"
	"github.com/stackpod/hutch/pkg/metrics"
	"github.com/stackpod/hutch/pkg/security"
	"github.com/stackpod/hutch/pkg/types"
)

var (
	// ErrSessionNotFound means no credential session exists for the id.
	ErrSessionNotFound = errors.New("session not found")

	// ErrAuthSessionNotFound means no auth session exists for the id.
	ErrAuthSessionNotFound = errors.New("auth session not found")

	// ErrBadBundle means a caller-supplied bundle failed shape checks.
	ErrBadBundle = errors.New("bad bundle")
)

// Store holds both session tiers: durable credential sessions keyed by
// stable user identity, and ephemeral auth sessions keyed by a random
// id. Bundles are encrypted before they touch the credential map; the
// plaintext exists only inside a request.
type Store struct {
	cipher *security.Cipher

	credMu      sync.RWMutex
	credentials map[string]*types.CredentialSession

	authMu sync.RWMutex
	auth   map[string]*types.AuthSession

	sessionTTL time.Duration
	authTTL    time.Duration

	stopCh chan struct{}
	logger zerolog.Logger
}

// NewStore creates a session store encrypting bundles with the given
// cipher.
func NewStore(cipher *security.Cipher, sessionTTL, authTTL time.Duration) *Store {
	return &Store{
		cipher:      cipher,
		credentials: make(map[string]*types.CredentialSession),
		auth:        make(map[string]*types.AuthSession),
		sessionTTL:  sessionTTL,
		authTTL:     authTTL,
		stopCh:      make(chan struct{}),
		logger:      log.WithComponent("session"),
	}
}

// Load validates a caller-supplied bundle and stores it. The bundle
// must carry a cookie array and a user identity object; anything less
// fails ErrBadBundle.
func (s *Store) Load(bundle *types.Bundle) (string, error) {
	if bundle == nil {
		return "", fmt.Errorf("%w: empty bundle", ErrBadBundle)
	}
	if len(bundle.Cookies) == 0 {
		return "", fmt.Errorf("%w: no cookies", ErrBadBundle)
	}
	if bundle.User == nil {
		return "", fmt.Errorf("%w: no user identity", ErrBadBundle)
	}

	return s.Put(bundle)
}

// LoadEncrypted imports a bundle previously exported as an encrypted
// blob. Decryption tries the current key chain, so blobs sealed under
// the fallback key stay importable after a platform-key upgrade.
func (s *Store) LoadEncrypted(blob string) (string, error) {
	plaintext, err := s.cipher.Decrypt(blob)
	if err != nil {
		return "", err
	}

	var bundle types.Bundle
	if err := json.Unmarshal(plaintext, &bundle); err != nil {
		return "", fmt.Errorf("%w: encrypted payload is not a bundle", ErrBadBundle)
	}
	return s.Load(&bundle)
}

// Put stores a bundle without shape validation, for bundles the service
// captured itself. The session id is the bundle's stable identity when
// present, otherwise a fresh random id. Loading a second bundle with
// the same identity replaces the first.
func (s *Store) Put(bundle *types.Bundle) (string, error) {
	id := bundle.Identity()
	if id == "" {
		id = uuid.New().String()
	}

	plaintext, err := json.Marshal(bundle)
	if err != nil {
		return "", fmt.Errorf("failed to marshal bundle: %w", err)
	}

	ciphertext, err := s.cipher.Encrypt(plaintext)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt bundle: %w", err)
	}

	now := time.Now()

	s.credMu.Lock()
	s.credentials[id] = &types.CredentialSession{
		ID:         id,
		Ciphertext: ciphertext,
		CreatedAt:  now,
		LastAccess: now,
	}
	s.credMu.Unlock()

	s.logger.Info().Str("session_id", truncateID(id)).Msg("credential session stored")
	return id, nil
}

// Get decrypts and returns the bundle for a session, bumping its last
// access time.
func (s *Store) Get(id string) (*types.Bundle, error) {
	s.credMu.Lock()
	rec, exists := s.credentials[id]
	if exists {
		rec.LastAccess = time.Now()
	}
	s.credMu.Unlock()

	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, truncateID(id))
	}

	plaintext, err := s.cipher.Decrypt(rec.Ciphertext)
	if err != nil {
		return nil, err
	}

	var bundle types.Bundle
	if err := json.Unmarshal(plaintext, &bundle); err != nil {
		return nil, fmt.Errorf("failed to unmarshal bundle: %w", err)
	}

	return &bundle, nil
}

// List returns all credential session ids, sorted.
func (s *Store) List() []string {
	s.credMu.RLock()
	defer s.credMu.RUnlock()

	ids := make([]string, 0, len(s.credentials))
	for id := range s.credentials {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return ids
}

// Remove deletes a credential session. Unknown ids are a no-op.
func (s *Store) Remove(id string) {
	s.credMu.Lock()
	delete(s.credentials, id)
	s.credMu.Unlock()
}

// CreateAuth inserts a fresh AwaitingScan auth session owned by the
// given credential session id and returns it.
func (s *Store) CreateAuth(owningSessionID string) *types.AuthSession {
	rec := &types.AuthSession{
		ID:                  uuid.New().String(),
		CredentialSessionID: owningSessionID,
		Status:              types.AuthStatusAwaitingScan,
		StartedAt:           time.Now(),
	}

	s.authMu.Lock()
	s.auth[rec.ID] = rec
	s.authMu.Unlock()

	out := *rec
	return &out
}

// GetAuth returns a copy of the auth session record.
func (s *Store) GetAuth(id string) (*types.AuthSession, error) {
	s.authMu.RLock()
	rec, exists := s.auth[id]
	if !exists {
		s.authMu.RUnlock()
		return nil, fmt.Errorf("%w: %s", ErrAuthSessionNotFound, truncateID(id))
	}
	out := *rec
	s.authMu.RUnlock()

	return &out, nil
}

// UpdateAuth applies a mutation to the auth record under the store
// lock. Unknown ids fail; the flow may race the sweeper.
func (s *Store) UpdateAuth(id string, patch func(*types.AuthSession)) error {
	s.authMu.Lock()
	defer s.authMu.Unlock()

	rec, exists := s.auth[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrAuthSessionNotFound, truncateID(id))
	}

	patch(rec)
	return nil
}

// RemoveAuth deletes an auth session. Unknown ids are a no-op.
func (s *Store) RemoveAuth(id string) {
	s.authMu.Lock()
	delete(s.auth, id)
	s.authMu.Unlock()
}

// PlatformKey reports whether bundles are sealed under a
// platform-derived key rather than the operator seed fallback.
func (s *Store) PlatformKey() bool {
	return s.cipher.IsPlatformKey()
}

// Counts returns the active session count per tier.
func (s *Store) Counts() (credential, auth int) {
	s.credMu.RLock()
	credential = len(s.credentials)
	s.credMu.RUnlock()

	s.authMu.RLock()
	auth = len(s.auth)
	s.authMu.RUnlock()

	return credential, auth
}

// Start launches the two sweepers: idle credential sessions and
// overdue auth sessions.
func (s *Store) Start(credentialTick, authTick time.Duration) {
	go s.sweepLoop(credentialTick, s.SweepCredentials)
	go s.sweepLoop(authTick, s.SweepAuth)
}

// Stop stops both sweepers.
func (s *Store) Stop() {
	close(s.stopCh)
}

func (s *Store) sweepLoop(interval time.Duration, sweep func() int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sweep()
		case <-s.stopCh:
			return
		}
	}
}

// SweepCredentials removes credential sessions idle longer than the
// session timeout and returns how many went.
func (s *Store) SweepCredentials() int {
	now := time.Now()
	removed := 0

	s.credMu.Lock()
	for id, rec := range s.credentials {
		if now.Sub(rec.LastAccess) > s.sessionTTL {
			delete(s.credentials, id)
			removed++
		}
	}
	s.credMu.Unlock()

	if removed > 0 {
		metrics.SessionsExpired.WithLabelValues("credential").Add(float64(removed))
		s.logger.Info().Int("removed", removed).Msg("swept idle credential sessions")
	}

	return removed
}

// SweepAuth removes auth sessions older than the auth timeout,
// regardless of status, and returns how many went.
func (s *Store) SweepAuth() int {
	now := time.Now()
	removed := 0

	s.authMu.Lock()
	for id, rec := range s.auth {
		if now.Sub(rec.StartedAt) > s.authTTL {
			delete(s.auth, id)
			removed++
		}
	}
	s.authMu.Unlock()

	if removed > 0 {
		metrics.SessionsExpired.WithLabelValues("auth").Add(float64(removed))
		s.logger.Info().Int("removed", removed).Msg("swept overdue auth sessions")
	}

	return removed
}

// truncateID shortens ids for logs and user-facing listings.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8] + "..."
	}
	return id
}

// TruncateID is the exported form used by the API listing.
func TruncateID(id string) string {
	return truncateID(id)
}
