package primitives

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeriveDeterministic(t *testing.T) {
	salt := []byte("salt")
	ikm := []byte("input key material")
	info := []byte("ComLock-test")

	a, err := Derive(salt, ikm, info, 32)
	require.NoError(t, err)
	b, err := Derive(salt, ikm, info, 32)
	require.NoError(t, err)
	require.Equal(t, a, b)

	c, err := Derive(salt, ikm, []byte("different info"), 32)
	require.NoError(t, err)
	require.NotEqual(t, a, c)
}

func TestDeriveN(t *testing.T) {
	keys, err := DeriveN([]byte("salt"), []byte("ikm"), []byte("info"), 3)
	require.NoError(t, err)
	require.Len(t, keys, 3)
	require.Len(t, keys[0], KeySize)
	require.NotEqual(t, keys[0], keys[1])
	require.NotEqual(t, keys[1], keys[2])
}

func TestAEADRoundTrip(t *testing.T) {
	aead, err := NewAEAD([]byte("secret"), []byte("salt"), []byte("info"))
	require.NoError(t, err)

	plaintext := []byte("hello braid")
	ad := []byte("associated data")

	sealed, err := aead.Seal(plaintext, ad)
	require.NoError(t, err)
	require.NotEqual(t, plaintext, sealed)

	opened, err := aead.Open(sealed, ad)
	require.NoError(t, err)
	require.Equal(t, plaintext, opened)
}

func TestAEADWrongADFails(t *testing.T) {
	aead, err := NewAEAD([]byte("secret"), []byte("salt"), []byte("info"))
	require.NoError(t, err)

	sealed, err := aead.Seal([]byte("payload"), []byte("ad-a"))
	require.NoError(t, err)

	_, err = aead.Open(sealed, []byte("ad-b"))
	require.Error(t, err)
}

func TestAEADShortCiphertext(t *testing.T) {
	aead, err := NewAEAD([]byte("secret"), []byte("salt"), []byte("info"))
	require.NoError(t, err)

	_, err = aead.Open([]byte("short"), nil)
	require.ErrorIs(t, err, ErrCiphertextTooShort)
}
