package session

import "github.com/meshcore/sessiond/internal/cryptosession"

// CryptoSession is the external cryptographic session primitive spec.md §1
// declares out of scope: handshake, encrypt/decrypt, state introspection.
// *cryptosession.Session satisfies this interface; the core never reaches
// into Noise internals directly.
type CryptoSession interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
	State() cryptosession.State
	ResetIfTimeout()
	PeerIPv6() [16]byte
	PeerPublicKey() [32]byte
}

// CryptoSessionFactory constructs a CryptoSession for a peer whose static
// key and overlay address the caller has already validated. initiator
// determines which side of the Noise KK handshake this session plays; the
// manager computes it from a deterministic comparison of the two parties'
// public keys before calling the factory (see manager.go determineInitiator) so both
// ends agree on roles without any out-of-band coordination.
type CryptoSessionFactory func(peerPublicKey [32]byte, peerIP6 [16]byte, initiator bool) (CryptoSession, error)

// dropReason enumerates the validation/cryptographic/resource drop causes
// spec.md §7 taxonomizes. Used both for log attributes and Prometheus
// counter labels (internal/metrics).
type dropReason string

const (
	reasonRunt               dropReason = "runt"
	reasonUnrecognizedHandle dropReason = "unrecognized-handle"
	reasonNonFCKey           dropReason = "non-fc-key"
	reasonSelfHandshake      dropReason = "self-handshake"
	reasonDecryptFailure     dropReason = "decrypt-failure"
	reasonBufferFull         dropReason = "buffer-full"
)
