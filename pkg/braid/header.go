package braid

// Header is the logical per-message header the Braid produces on send and
// consumes on receive — the fields of spec §6's wire header that the braid
// algorithm itself cares about. Fragmenting AdvertisedLocalKEMPK/KEMCiphertext
// across fixed-size wire fragments is pkg/fragment's job; the Sphinx onion
// wrapping of the whole thing is pkg/sphinx's.
type Header struct {
	ClassicalPK         []byte
	SendCounter         uint64
	PrevChainLength     uint32
	AdvertisedLocalKEMPK []byte // our fresh KEM pk being offered this step, nil if none
	KEMCiphertext       []byte // our encapsulation against the peer's KEM pk this step, nil if none
}
