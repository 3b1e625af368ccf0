// Package exchange provides the two key-agreement primitives the Braid mixes
// at every ratchet step: classical X25519 ECDH and post-quantum ML-KEM-1024,
// grounded on kamune's pkg/exchange/ecdh.go and pzverkov's
// pkg/crypto/mlkem.go respectively.
package exchange

import (
	"crypto/ecdh"
	"crypto/rand"
	"crypto/x509"
	"fmt"

	"github.com/ElMoorish/ComLock/internal/zero"
)

// ECDH is an X25519 Diffie-Hellman keypair.
type ECDH struct {
	PublicKey  *ecdh.PublicKey
	privateKey *ecdh.PrivateKey
}

// NewECDH generates a fresh X25519 keypair.
func NewECDH() (*ECDH, error) {
	key, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("exchange: generating x25519 keypair: %w", err)
	}
	return &ECDH{privateKey: key, PublicKey: key.PublicKey()}, nil
}

// RestoreECDH reconstructs a keypair from a raw private scalar and its
// PKIX-encoded public half, the pair MarshalPrivateKey/MarshalPublicKey
// produce.
func RestoreECDH(privBytes, pubBytes []byte) (*ECDH, error) {
	privKey, err := ecdh.X25519().NewPrivateKey(privBytes)
	if err != nil {
		return nil, fmt.Errorf("exchange: restoring private scalar: %w", err)
	}
	pubKey, err := parsePKIXX25519(pubBytes)
	if err != nil {
		return nil, err
	}
	return &ECDH{privateKey: privKey, PublicKey: pubKey}, nil
}

// Exchange performs X25519(privateKey, remote) and returns the raw shared
// secret. The caller must run it through a KDF before use and zero it
// afterward; it is never a key on its own.
func (e *ECDH) Exchange(remote []byte) ([]byte, error) {
	pub, err := parsePKIXX25519(remote)
	if err != nil {
		return nil, err
	}
	secret, err := e.privateKey.ECDH(pub)
	if err != nil {
		return nil, fmt.Errorf("exchange: computing shared secret: %w", err)
	}
	return secret, nil
}

// MarshalPublicKey encodes the public half as a PKIX DER blob.
func (e *ECDH) MarshalPublicKey() []byte {
	b, err := x509.MarshalPKIXPublicKey(e.PublicKey)
	if err != nil {
		panic(fmt.Errorf("exchange: marshalling public key: %w", err))
	}
	return b
}

// MarshalPrivateKey returns a fresh copy of the raw private scalar. Every
// call allocates a new slice so a caller can zero.Bytes it independently of
// any other outstanding copy of the same key.
func (e *ECDH) MarshalPrivateKey() []byte {
	return zero.Copy(e.privateKey.Bytes())
}

// parsePKIXX25519 decodes a PKIX-encoded public key and rejects anything
// that isn't an X25519 curve point, folding both failure modes into the
// package's ErrInvalidKey sentinel per pkg/exchange/errors.go's taxonomy.
func parsePKIXX25519(pkixBytes []byte) (*ecdh.PublicKey, error) {
	key, err := x509.ParsePKIXPublicKey(pkixBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	pub, ok := key.(*ecdh.PublicKey)
	if !ok || pub.Curve() != ecdh.X25519() {
		return nil, ErrInvalidKey
	}
	return pub, nil
}
