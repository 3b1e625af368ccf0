// Package primitives implements the KDF and AEAD building blocks (C1) shared
// by every other layer of the Braid: HKDF-SHA-256 label chains and a
// ChaCha20-Poly1305-X seal/open pair, in the style of kamune's
// internal/enigma package.
package primitives

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/ElMoorish/ComLock/internal/zero"
)

const (
	// KeySize is the size, in bytes, of every root/chain/message key in the
	// Braid.
	KeySize = 32

	nonceSize = chacha20poly1305.NonceSizeX
)

var (
	// ErrCiphertextTooShort is returned by Open when the ciphertext cannot
	// possibly contain a nonce and a tag.
	ErrCiphertextTooShort = errors.New("primitives: ciphertext too short")
)

// Derive expands (salt, ikm, info) into size bytes using HKDF-SHA-256. It is
// the single KDF primitive every higher layer builds on.
func Derive(salt, ikm, info []byte, size int) ([]byte, error) {
	r := hkdf.New(sha256.New, ikm, salt, info)
	out := make([]byte, size)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("hkdf expand: %w", err)
	}
	return out, nil
}

// DeriveN expands (salt, ikm, info) into n*KeySize bytes and splits it into n
// equally sized keys in one HKDF pass, so callers deriving several related
// keys from the same input (e.g. root + two chain keys) get them from a
// single reader instead of three independent HKDF instantiations.
func DeriveN(salt, ikm, info []byte, n int) ([][]byte, error) {
	buf, err := Derive(salt, ikm, info, n*KeySize)
	if err != nil {
		return nil, err
	}
	defer zero.Bytes(buf)

	out := make([][]byte, n)
	for i := range out {
		out[i] = zero.Copy(buf[i*KeySize : (i+1)*KeySize])
	}
	return out, nil
}

// AEAD is a keyed ChaCha20-Poly1305-X sealer/opener, matching kamune's
// enigma.Enigma: a single secret in, a cipher.AEAD wrapper out.
type AEAD struct {
	key []byte
}

// NewAEAD derives a ChaCha20-Poly1305-X key from secret via HKDF (salt and
// info provide domain separation) and returns a sealer bound to it.
func NewAEAD(secret, salt, info []byte) (*AEAD, error) {
	key, err := Derive(salt, secret, info, chacha20poly1305.KeySize)
	if err != nil {
		return nil, fmt.Errorf("derive aead key: %w", err)
	}
	return &AEAD{key: key}, nil
}

// Seal encrypts plaintext with a fresh random nonce and associated data ad,
// returning nonce||ciphertext||tag.
func (a *AEAD) Seal(plaintext, ad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(a.key)
	if err != nil {
		return nil, fmt.Errorf("chacha20poly1305x: %w", err)
	}
	nonce := make([]byte, nonceSize, nonceSize+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("reading nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, ad), nil
}

// Open verifies and decrypts a nonce||ciphertext||tag blob produced by Seal,
// authenticating ad.
func (a *AEAD) Open(sealed, ad []byte) ([]byte, error) {
	if len(sealed) < nonceSize+chacha20poly1305.Overhead {
		return nil, ErrCiphertextTooShort
	}
	aead, err := chacha20poly1305.NewX(a.key)
	if err != nil {
		return nil, fmt.Errorf("chacha20poly1305x: %w", err)
	}
	nonce, ct := sealed[:nonceSize], sealed[nonceSize:]
	pt, err := aead.Open(nil, nonce, ct, ad)
	if err != nil {
		return nil, fmt.Errorf("aead open: %w", err)
	}
	return pt, nil
}

// Zeroize destroys the underlying key material.
func (a *AEAD) Zeroize() {
	zero.Bytes(a.key)
}
