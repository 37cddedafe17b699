package cryptosession

// State mirrors the three-stage handshake progression named in
// SessionManager.c (HANDSHAKE1/HANDSHAKE2/HANDSHAKE3): a session starts
// fresh, exchanges one handshake message in each direction, and becomes
// established once both sides have derived transport keys. The egress
// pipeline's "state < HANDSHAKE3" check (spec.md §4.D step 6) is exactly
// `State() < StateHandshake3`.
type State int32

const (
	// StateHandshake1 is the fresh state: no handshake message has been
	// sent or received yet.
	StateHandshake1 State = iota
	// StateHandshake2 is reached once one handshake message has been
	// produced or consumed, but transport keys are not yet available.
	StateHandshake2
	// StateHandshake3 is reached once the handshake is complete and
	// transport (run-phase) encryption is available.
	StateHandshake3
)

func (s State) String() string {
	switch s {
	case StateHandshake1:
		return "HANDSHAKE1"
	case StateHandshake2:
		return "HANDSHAKE2"
	case StateHandshake3:
		return "HANDSHAKE3"
	default:
		return "UNKNOWN"
	}
}
