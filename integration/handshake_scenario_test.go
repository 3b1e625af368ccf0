// Package integration exercises the braid core end to end, the way
// kamune's own handshake_test.go drives a full handshake against real
// session state rather than mocked pieces.
package integration

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ElMoorish/ComLock/pkg/braid"
	"github.com/ElMoorish/ComLock/pkg/exchange"
	"github.com/ElMoorish/ComLock/pkg/handshake"
	"github.com/ElMoorish/ComLock/pkg/identity"
	"github.com/ElMoorish/ComLock/pkg/sas"
)

func establishSessions(t *testing.T) (alice, bob *identity.Identity, aliceSession, bobSession *braid.Session, rootKey []byte) {
	t.Helper()

	alice, err := identity.New()
	require.NoError(t, err)
	bob, err = identity.New()
	require.NoError(t, err)

	bobPrekey, err := exchange.NewECDH()
	require.NoError(t, err)
	prekeySig := bob.Sign(bobPrekey.MarshalPublicKey())

	bundle := &handshake.Bundle{
		IdentityPK:      bob.SigningPublic,
		IdentityDHPub:   bob.IdentityDH.MarshalPublicKey(),
		SignedPrekeyPub: bobPrekey.MarshalPublicKey(),
		PrekeySig:       prekeySig,
		LongTermKEMPK:   bob.KEM.PublicKey,
	}

	hello, aliceResult, err := handshake.Initiate(alice, bundle)
	require.NoError(t, err)

	ledger := handshake.NewOneTimePrekeyLedger()
	bobResult, err := handshake.Accept(ledger, &handshake.AcceptorKeys{
		SignedPrekey: bobPrekey,
		LongTermKEM:  bob.KEM.PrivateKey,
	}, hello)
	require.NoError(t, err)
	require.Equal(t, aliceResult.RootKey, bobResult.RootKey)

	aliceSession, err = braid.New(aliceResult.RootKey, nil, bob.KEM.PublicKey)
	require.NoError(t, err)
	bobSession, err = braid.New(bobResult.RootKey, nil, alice.KEM.PublicKey)
	require.NoError(t, err)

	require.NoError(t, aliceSession.SetRemotePublic(bobSession.OurClassicalPublic()))
	require.NoError(t, bobSession.SetRemotePublic(aliceSession.OurClassicalPublic()))

	aliceSession.SetPendingLocalKEM(alice.KEM.PrivateKey, alice.KEM.PublicKey)
	bobSession.SetPendingLocalKEM(bob.KEM.PrivateKey, bob.KEM.PublicKey)

	return alice, bob, aliceSession, bobSession, aliceResult.RootKey
}

// TestHandshakeFirstMessageAndSAS covers seed scenario S1: a full handshake
// followed by a first message decrypting correctly, with both sides' short
// authentication strings matching (word-for-word equality stands in for the
// spec's literal fixed-input example, since root_key here isn't fixed).
func TestHandshakeFirstMessageAndSAS(t *testing.T) {
	alice, bob, aliceSession, bobSession, rootKey := establishSessions(t)

	header, ciphertext, err := aliceSession.StepSend([]byte("hello"), nil)
	require.NoError(t, err)
	require.Equal(t, uint64(0), header.SendCounter)

	plaintext, err := bobSession.StepRecv(header, ciphertext, nil, header.KEMCiphertext)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), plaintext)

	aliceWords, err := sas.Compute(alice.SigningPublic, bob.SigningPublic, rootKey)
	require.NoError(t, err)
	bobWords, err := sas.Compute(bob.SigningPublic, alice.SigningPublic, rootKey)
	require.NoError(t, err)
	require.Equal(t, aliceWords, bobWords)
	require.Len(t, aliceWords, 3)
}
