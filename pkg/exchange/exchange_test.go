package exchange

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestECDHExchangeAgrees(t *testing.T) {
	alice, err := NewECDH()
	require.NoError(t, err)
	bob, err := NewECDH()
	require.NoError(t, err)

	secretA, err := alice.Exchange(bob.MarshalPublicKey())
	require.NoError(t, err)
	secretB, err := bob.Exchange(alice.MarshalPublicKey())
	require.NoError(t, err)

	require.Equal(t, secretA, secretB)
}

func TestRestoreECDH(t *testing.T) {
	alice, err := NewECDH()
	require.NoError(t, err)

	restored, err := RestoreECDH(alice.MarshalPrivateKey(), alice.MarshalPublicKey())
	require.NoError(t, err)

	bob, err := NewECDH()
	require.NoError(t, err)

	secretOriginal, err := alice.Exchange(bob.MarshalPublicKey())
	require.NoError(t, err)
	secretRestored, err := restored.Exchange(bob.MarshalPublicKey())
	require.NoError(t, err)

	require.Equal(t, secretOriginal, secretRestored)
}

func TestECDHExchangeInvalidKey(t *testing.T) {
	alice, err := NewECDH()
	require.NoError(t, err)

	_, err = alice.Exchange([]byte("not a key"))
	require.Error(t, err)
}

func TestMLKEMEncapsulateDecapsulateAgrees(t *testing.T) {
	kp, err := GenerateMLKEM()
	require.NoError(t, err)

	ct, ssSend, err := EncapsulateMLKEM(kp.PublicKey)
	require.NoError(t, err)
	require.Len(t, ct, MLKEMCiphertextSize)
	require.Len(t, ssSend, MLKEMSharedKeySize)

	ssRecv, err := DecapsulateMLKEM(kp.PrivateKey, ct)
	require.NoError(t, err)
	require.Equal(t, ssSend, ssRecv)
}

func TestMLKEMPublicKeyRoundTrip(t *testing.T) {
	kp, err := GenerateMLKEM()
	require.NoError(t, err)

	encoded := kp.PublicKey.Bytes()
	require.Len(t, encoded, MLKEMPublicKeySize)

	parsed, err := ParseMLKEMPublicKey(encoded)
	require.NoError(t, err)

	ct, ssSend, err := EncapsulateMLKEM(parsed)
	require.NoError(t, err)
	ssRecv, err := DecapsulateMLKEM(kp.PrivateKey, ct)
	require.NoError(t, err)
	require.Equal(t, ssSend, ssRecv)
}

func TestMLKEMDecapsulateRejectsWrongSize(t *testing.T) {
	kp, err := GenerateMLKEM()
	require.NoError(t, err)

	_, err = DecapsulateMLKEM(kp.PrivateKey, []byte("too short"))
	require.ErrorIs(t, err, ErrInvalidCiphertext)
}
