// Package session stores the two session tiers behind the API:
// credential sessions and auth sessions.
//
// # Session Tiers
//
// A credential session is a stored cookie bundle keyed by the user's
// stable identity (or a random UUID when the bundle carries none). It
// is what sampling operations resolve before a browser is assigned.
// Bundles are encrypted with the security.Cipher before they enter the
// credential map; plaintext exists only inside the request that loads
// or reads it.
//
// An auth session is an ephemeral record tracking one QR login flow.
// It is keyed by a random UUID, owned by a credential session, and
// moves through AwaitingScan to a terminal status. Auth sessions never
// outlive their timeout regardless of status.
//
//	Load / LoadEncrypted ──> credentials[id] (ciphertext at rest)
//	CreateAuth           ──> auth[uuid]      (status machine)
//
// # Expiry
//
// Start launches one sweeper per tier. Credential sessions expire on
// idleness: Get bumps LastAccess, and the sweeper removes records idle
// past the session TTL. Auth sessions expire on age: StartedAt is
// fixed at creation and the sweeper removes overdue records even when
// a flow is still mid-scan. Sweeps are counted in the
// hutch_sessions_expired_total metric by tier.
//
// # Identity and Replacement
//
// Loading a second bundle with the same identity replaces the first;
// there is never more than one credential session per user. Put skips
// shape validation for bundles the service captured itself, while Load
// enforces the caller contract (cookies plus user identity).
//
// # Usage
//
//	store := session.NewStore(cipher, 30*time.Minute, 5*time.Minute)
//	store.Start(time.Minute, 30*time.Second)
//	defer store.Stop()
//
//	id, err := store.Load(bundle)        // plaintext bundle
//	id, err = store.LoadEncrypted(blob)  // hex blob from a peer
//	bundle, err := store.Get(id)         // decrypts, bumps LastAccess
//
// # See Also
//
//   - pkg/security: bundle encryption and the key chain
//   - pkg/orchestrator: resolves sessions before assigning browsers
//   - pkg/types: CredentialSession, AuthSession, Bundle
package session
