package cryptosession

import (
	"crypto/rand"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/flynn/noise"
	"golang.org/x/crypto/curve25519"

	"github.com/meshcore/sessiond/internal/address"
)

// CipherSuite is the Noise cipher suite used for every handshake in this
// package: Curve25519 for DH, ChaCha20-Poly1305 for AEAD, SHA-256 for
// hashing/HKDF — the same suite the corpus's other IK/XX handshakes use.
var CipherSuite = noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashSHA256)

// maxIdentityAttempts bounds the retry loop in GenerateIdentity; at a 1/256
// acceptance rate this is astronomically more attempts than will ever be
// needed in practice.
const maxIdentityAttempts = 1 << 20

// GenerateIdentity produces a fresh static X25519 keypair whose public key
// also derives a valid overlay address (address.IsValidOverlayKey): a node
// needs this for its own identity, not just for peers, since the "handshake
// from ourselves" check in ingress (spec.md §4.C step 3) compares an
// incoming embedded key against our own public key.
func GenerateIdentity(rng io.Reader) (noise.DHKey, error) {
	if rng == nil {
		rng = rand.Reader
	}
	for i := 0; i < maxIdentityAttempts; i++ {
		kp, err := CipherSuite.GenerateKeypair(rng)
		if err != nil {
			return noise.DHKey{}, fmt.Errorf("cryptosession: generate keypair: %w", err)
		}
		var pub [32]byte
		copy(pub[:], kp.Public)
		if address.IsValidOverlayKey(pub) {
			return kp, nil
		}
	}
	return noise.DHKey{}, fmt.Errorf("cryptosession: failed to find a valid overlay identity after %d attempts", maxIdentityAttempts)
}

// LoadOrCreateIdentity reads a raw 32-byte X25519 private key from path,
// deriving the matching public key. If path does not exist, a fresh
// identity is generated with GenerateIdentity and written there (mode 0600,
// creating parent directories as needed) so subsequent restarts reuse the
// same overlay address.
func LoadOrCreateIdentity(path string) (noise.DHKey, error) {
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if len(raw) != 32 {
			return noise.DHKey{}, fmt.Errorf("cryptosession: identity file %s: want 32 bytes, got %d", path, len(raw))
		}
		pub, err := curve25519.X25519(raw, curve25519.Basepoint)
		if err != nil {
			return noise.DHKey{}, fmt.Errorf("cryptosession: derive public key for %s: %w", path, err)
		}
		return noise.DHKey{Private: raw, Public: pub}, nil

	case os.IsNotExist(err):
		kp, genErr := GenerateIdentity(rand.Reader)
		if genErr != nil {
			return noise.DHKey{}, fmt.Errorf("cryptosession: generate identity for %s: %w", path, genErr)
		}
		if mkErr := os.MkdirAll(filepath.Dir(path), 0o700); mkErr != nil {
			return noise.DHKey{}, fmt.Errorf("cryptosession: create identity directory for %s: %w", path, mkErr)
		}
		if writeErr := os.WriteFile(path, kp.Private, 0o600); writeErr != nil {
			return noise.DHKey{}, fmt.Errorf("cryptosession: write identity to %s: %w", path, writeErr)
		}
		return kp, nil

	default:
		return noise.DHKey{}, fmt.Errorf("cryptosession: read identity from %s: %w", path, err)
	}
}
