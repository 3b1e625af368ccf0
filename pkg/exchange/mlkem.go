package exchange

import (
	"crypto/rand"
	"fmt"

	"github.com/cloudflare/circl/kem/mlkem/mlkem1024"
)

// MLKEMPublicKey wraps an ML-KEM-1024 encapsulation key.
type MLKEMPublicKey struct {
	key *mlkem1024.PublicKey
}

// MLKEMPrivateKey wraps an ML-KEM-1024 decapsulation key.
type MLKEMPrivateKey struct {
	key *mlkem1024.PrivateKey
}

// MLKEMKeyPair is a generated ML-KEM-1024 keypair.
type MLKEMKeyPair struct {
	PublicKey  *MLKEMPublicKey
	PrivateKey *MLKEMPrivateKey
}

// GenerateMLKEM generates a fresh ML-KEM-1024 keypair.
func GenerateMLKEM() (*MLKEMKeyPair, error) {
	pk, sk, err := mlkem1024.GenerateKeyPair(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("mlkem keygen: %w", err)
	}
	return &MLKEMKeyPair{
		PublicKey:  &MLKEMPublicKey{key: pk},
		PrivateKey: &MLKEMPrivateKey{key: sk},
	}, nil
}

// EncapsulateMLKEM encapsulates a fresh shared secret against ek, returning
// the ciphertext to send and the shared secret to feed into the braid KDF.
func EncapsulateMLKEM(ek *MLKEMPublicKey) (ciphertext, sharedSecret []byte, err error) {
	if ek == nil || ek.key == nil {
		return nil, nil, ErrInvalidKey
	}

	ct := make([]byte, mlkem1024.CiphertextSize)
	ss := make([]byte, mlkem1024.SharedKeySize)
	seed := make([]byte, mlkem1024.EncapsulationSeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, nil, fmt.Errorf("mlkem encapsulation seed: %w", err)
	}
	ek.key.EncapsulateTo(ct, ss, seed)
	return ct, ss, nil
}

// DecapsulateMLKEM recovers the shared secret from a ciphertext produced by
// EncapsulateMLKEM.
func DecapsulateMLKEM(dk *MLKEMPrivateKey, ciphertext []byte) ([]byte, error) {
	if dk == nil || dk.key == nil {
		return nil, ErrInvalidKey
	}
	if len(ciphertext) != mlkem1024.CiphertextSize {
		return nil, ErrInvalidCiphertext
	}

	ss := make([]byte, mlkem1024.SharedKeySize)
	dk.key.DecapsulateTo(ss, ciphertext)
	return ss, nil
}

// Bytes returns the packed encoding of the public key.
func (pk *MLKEMPublicKey) Bytes() []byte {
	if pk == nil || pk.key == nil {
		return nil
	}
	buf := make([]byte, mlkem1024.PublicKeySize)
	pk.key.Pack(buf)
	return buf
}

// ParseMLKEMPublicKey unpacks a public key from its fixed-size encoding.
func ParseMLKEMPublicKey(data []byte) (*MLKEMPublicKey, error) {
	if len(data) != mlkem1024.PublicKeySize {
		return nil, ErrInvalidKey
	}
	pk := new(mlkem1024.PublicKey)
	if err := pk.Unpack(data); err != nil {
		return nil, fmt.Errorf("unpacking mlkem public key: %w", err)
	}
	return &MLKEMPublicKey{key: pk}, nil
}

// MLKEMPublicKeySize is the wire size of a packed ML-KEM-1024 public key.
const MLKEMPublicKeySize = mlkem1024.PublicKeySize

// MLKEMCiphertextSize is the wire size of an ML-KEM-1024 ciphertext.
const MLKEMCiphertextSize = mlkem1024.CiphertextSize

// MLKEMSharedKeySize is the size of the shared secret produced by
// encapsulation/decapsulation.
const MLKEMSharedKeySize = mlkem1024.SharedKeySize
