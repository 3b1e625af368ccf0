package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ElMoorish/ComLock/pkg/braid"
	"github.com/ElMoorish/ComLock/pkg/exchange"
)

func newTestBraidSession(t *testing.T) *braid.Session {
	t.Helper()
	rootKey := make([]byte, 32)
	kem, err := exchange.GenerateMLKEM()
	require.NoError(t, err)
	br, err := braid.New(rootKey, nil, kem.PublicKey)
	require.NoError(t, err)
	return br
}

func TestPutGetRoundTrip(t *testing.T) {
	s := New(0)
	br := newTestBraidSession(t)

	require.NoError(t, s.Put("alice", br, PhaseEstablished))

	got, phase, err := s.Get("alice")
	require.NoError(t, err)
	require.Same(t, br, got)
	require.Equal(t, PhaseEstablished, phase)
}

func TestGetMissingContactReturnsNotFound(t *testing.T) {
	s := New(0)
	_, _, err := s.Get("nobody")
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestDropWipesSession(t *testing.T) {
	s := New(0)
	br := newTestBraidSession(t)
	require.NoError(t, s.Put("alice", br, PhaseEstablished))

	require.NoError(t, s.Drop("alice"))
	require.True(t, br.Wiped())

	_, _, err := s.Get("alice")
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestWipeZeroizesAllSessionsAndIsIdempotent(t *testing.T) {
	s := New(0)
	alice := newTestBraidSession(t)
	bob := newTestBraidSession(t)
	require.NoError(t, s.Put("alice", alice, PhaseEstablished))
	require.NoError(t, s.Put("bob", bob, PhaseEstablished))

	s.Wipe()
	require.True(t, alice.Wiped())
	require.True(t, bob.Wiped())
	require.True(t, s.Wiped())

	require.NotPanics(t, s.Wipe)

	_, _, err := s.Get("alice")
	require.ErrorIs(t, err, ErrStoreWiped)
}

func TestDeadManTimerWipesStoreOnInactivity(t *testing.T) {
	s := New(20 * time.Millisecond)
	br := newTestBraidSession(t)
	require.NoError(t, s.Put("alice", br, PhaseEstablished))

	require.Eventually(t, s.Wiped, 500*time.Millisecond, 5*time.Millisecond)
	require.True(t, br.Wiped())
}

func TestTouchPostponesDeadManTimer(t *testing.T) {
	s := New(50 * time.Millisecond)
	br := newTestBraidSession(t)
	require.NoError(t, s.Put("alice", br, PhaseEstablished))

	deadline := time.Now().Add(120 * time.Millisecond)
	for time.Now().Before(deadline) {
		s.Touch()
		time.Sleep(10 * time.Millisecond)
	}
	require.False(t, s.Wiped())
}
