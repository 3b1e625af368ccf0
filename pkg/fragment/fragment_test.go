package fragment

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

func TestSplitReassembleRoundTripAcrossSizes(t *testing.T) {
	ciphertext := randomBytes(t, 1568) // ML-KEM-1024 ciphertext size
	for _, size := range []int{256, 512, 1024, 1500} {
		frags, err := Split(ciphertext, size)
		require.NoError(t, err)

		r := NewReassembler()
		var got []byte
		var complete bool
		for _, f := range frags {
			got, complete, err = r.Absorb(f)
			require.NoError(t, err)
		}
		require.True(t, complete)
		require.True(t, bytes.Equal(ciphertext, got))
	}
}

func TestReassembleToleratesOutOfOrderArrival(t *testing.T) {
	ciphertext := randomBytes(t, 1568)
	frags, err := Split(ciphertext, 400)
	require.NoError(t, err)
	require.Len(t, frags, 4)

	order := []int{0, 2, 3, 1}
	r := NewReassembler()
	var got []byte
	var complete bool
	for _, idx := range order {
		got, complete, err = r.Absorb(frags[idx])
		require.NoError(t, err)
	}
	require.True(t, complete)
	require.Equal(t, ciphertext, got)
}

func TestAbsorbIsIndependentUntilGroupCompletes(t *testing.T) {
	ciphertext := randomBytes(t, 1568)
	frags, err := Split(ciphertext, 400)
	require.NoError(t, err)

	r := NewReassembler()
	_, complete, err := r.Absorb(frags[0])
	require.NoError(t, err)
	require.False(t, complete)
	require.Equal(t, 1, r.Pending())
}

func TestDuplicateFragmentDoesNotDoubleCount(t *testing.T) {
	ciphertext := randomBytes(t, 600)
	frags, err := Split(ciphertext, 400)
	require.NoError(t, err)
	require.Len(t, frags, 2)

	r := NewReassembler()
	_, complete, err := r.Absorb(frags[0])
	require.NoError(t, err)
	require.False(t, complete)

	_, complete, err = r.Absorb(frags[0])
	require.NoError(t, err)
	require.False(t, complete)

	got, complete, err := r.Absorb(frags[1])
	require.NoError(t, err)
	require.True(t, complete)
	require.Equal(t, ciphertext, got)
}

func TestHeaderEncodeDecodeRoundTrip(t *testing.T) {
	h := &Header{
		ClassicalPK:     randomBytes(t, 32),
		SendCounter:     42,
		PrevChainLength: 7,
		KEMFragment: &KEMFragment{
			GroupID: 0xdeadbeef,
			Index:   1,
			Total:   4,
			Bytes:   randomBytes(t, 400),
		},
	}
	encoded, err := h.Encode()
	require.NoError(t, err)

	decoded, n, err := DecodeHeader(encoded)
	require.NoError(t, err)
	require.Equal(t, len(encoded), n)
	require.Equal(t, h.ClassicalPK, decoded.ClassicalPK)
	require.Equal(t, h.SendCounter, decoded.SendCounter)
	require.Equal(t, h.PrevChainLength, decoded.PrevChainLength)
	require.Equal(t, h.KEMFragment.GroupID, decoded.KEMFragment.GroupID)
	require.Equal(t, h.KEMFragment.Index, decoded.KEMFragment.Index)
	require.Equal(t, h.KEMFragment.Total, decoded.KEMFragment.Total)
	require.Equal(t, h.KEMFragment.Bytes, decoded.KEMFragment.Bytes)
}

func TestHeaderEncodeDecodeWithoutFragment(t *testing.T) {
	h := &Header{
		ClassicalPK:     randomBytes(t, 32),
		SendCounter:     1,
		PrevChainLength: 0,
	}
	encoded, err := h.Encode()
	require.NoError(t, err)

	decoded, n, err := DecodeHeader(encoded)
	require.NoError(t, err)
	require.Equal(t, len(encoded), n)
	require.Nil(t, decoded.KEMFragment)
}

func TestDecodeHeaderRejectsTruncatedInput(t *testing.T) {
	_, _, err := DecodeHeader([]byte{1, 2, 3})
	require.ErrorIs(t, err, ErrMalformedHeader)
}
