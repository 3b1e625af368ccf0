// Package sas computes the Short Authentication String (spec §4.3): a
// handful of words derived from both identity keys and the root_key that both peers can
// read aloud to confirm they share the same root_key out of band.
//
// The spec calls for BLAKE3; none of the example repos import a BLAKE3
// implementation, so this uses BLAKE2b-256 (golang.org/x/crypto/blake2b,
// already pulled in for other primitives) as the closest available hash with
// comparable security margins — see DESIGN.md.
package sas

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// WordCount is the number of words rendered for out-of-band comparison.
const WordCount = 3

// wordIndexMask truncates each word's 4-byte digest slice to 24 bits; the
// result is then reduced modulo len(wordlist), so each word carries about
// log2(len(wordlist)) bits (about 12 for the 4374-entry list, about 36 bits
// for the whole SAS at WordCount=3).
const wordIndexMask = 0xFFFFFF

// Compute derives the SAS for a completed handshake between two identity
// public keys and the agreed root_key. The two identity keys are sorted
// before hashing so both peers compute the same digest regardless of who
// initiated.
func Compute(identityPKA, identityPKB, rootKey []byte) ([]string, error) {
	a, b := identityPKA, identityPKB
	if bytes.Compare(a, b) > 0 {
		a, b = b, a
	}

	h, err := blake2b.New256(nil)
	if err != nil {
		return nil, fmt.Errorf("sas: building hash: %w", err)
	}
	h.Write(a)
	h.Write(b)
	h.Write(rootKey)
	digest := h.Sum(nil)

	words := make([]string, WordCount)
	for i := 0; i < WordCount; i++ {
		offset := (i * 4) % (len(digest) - 3)
		idx := binary.BigEndian.Uint32(digest[offset:offset+4]) & wordIndexMask
		words[i] = wordlist[idx%uint32(len(wordlist))]
	}
	return words, nil
}
