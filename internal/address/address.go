// Package address derives a mesh overlay IPv6 address from a peer's
// static public key. It is the concrete implementation of the
// "address-from-public-key derivation" collaborator spec.md §1 lists as
// out of scope for the session manager core; the session manager only ever
// calls ForPublicKey and checks the returned ok flag (SessionManager.c's
// AddressCalc_addressForPublicKey contract).
package address

import "golang.org/x/crypto/blake2b"

// overlayPrefixByte is the required first byte of a valid overlay address,
// the Go analogue of cjdns's "non-fc key" check: a public key only maps to
// a usable overlay address if hashing it happens to land in the reserved
// locally-assigned range.
const overlayPrefixByte = 0xfc

// ForPublicKey derives the 16-byte overlay IPv6 address for pub. ok is
// false if pub does not hash into the overlay's reserved address range, in
// which case ingress must drop the packet as "non-fc key" (spec.md §4.C
// step 3).
func ForPublicKey(pub [32]byte) (ip6 [16]byte, ok bool) {
	digest := blake2b.Sum256(pub[:])
	if digest[0] != overlayPrefixByte {
		return ip6, false
	}
	copy(ip6[:], digest[:16])
	return ip6, true
}

// IsValidOverlayKey reports whether pub would derive a valid overlay
// address, without returning the address itself.
func IsValidOverlayKey(pub [32]byte) bool {
	_, ok := ForPublicKey(pub)
	return ok
}
