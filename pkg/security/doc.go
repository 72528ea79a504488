/*
Package security provides authenticated encryption for credential
bundles and the key sources that feed it.

Credential bundles are the most sensitive data Hutch holds: cookies and
tokens that grant full account access. They are encrypted at rest the
moment they enter the session store and decrypted only for the duration
of an operation that needs them.

# Encryption

Cipher implements AES-256-GCM with a fresh random 96-bit nonce per
encryption. The wire format, hex-encoded for storage and transport, is:

	nonce (12 bytes) || tag (16 bytes) || ciphertext

Note the tag sits between nonce and ciphertext, not appended the way
Go's GCM Seal emits it; Encrypt and Decrypt reorder at the boundary.
Encrypting the same bundle twice never produces equal output.

Decrypt failures never distinguish their cause: wrong key, truncated
input, and tampering all collapse into ErrBadCiphertext.

# Key Sources

The 32-byte key comes from one of two places:

  - The platform's attestation-bound key-derivation service. Inside a
    confidential-compute environment it hands out keys bound to the
    measured image, so the same label yields the same key across
    restarts of the same attested workload.
  - An operator-provided seed, stretched with SHA-256. The fallback for
    environments without the platform service; mandatory there.

When both are configured the platform key encrypts and decrypts, and
the seed-derived key becomes a second decrypt key: Decrypt tries the
current key first, the fallback second, so bundles encrypted before an
upgrade to the platform key stay readable.

LoadCipher wraps the whole selection:

	cipher, err := security.LoadCipher(ctx, cfg.PlatformKey, cfg.PlatformKeyEndpoint, cfg.FallbackKeySeed)
	if err != nil {
		return err
	}
	if cipher.IsPlatformKey() {
		// key came from the derivation service
	}

# Usage

	ciphertext, err := cipher.Encrypt(bundleJSON)
	...
	plaintext, err := cipher.Decrypt(ciphertext)
	if errors.Is(err, security.ErrBadCiphertext) {
		// reject as a client error; the blob was not produced
		// under any key this daemon holds
	}

# See Also

  - pkg/session for where encryption is applied and removed
*/
package security
