// Package ratchet implements the Classical Ratchet (C2): an X25519
// Diffie-Hellman ratchet with per-message chain-key advance, adapted from
// kamune's pkg/ratchet/ratchet.go to the root/sending/receiving chain-key
// naming and the all-zero-DH rejection this spec requires.
package ratchet

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ElMoorish/ComLock/internal/zero"
	"github.com/ElMoorish/ComLock/pkg/exchange"
	"github.com/ElMoorish/ComLock/pkg/primitives"
	"github.com/ElMoorish/ComLock/pkg/telemetry"
)

const (
	infoRecv  = "DR:recv"
	infoSend  = "DR:send"
	infoChain = "DR:chain"
	infoMsg   = "DR:msg"
)

// ErrHandshakeFailure is returned when a DH exchange yields the all-zero
// output, a sign of contributory key misuse. The ratchet state is left
// untouched.
var ErrHandshakeFailure = errors.New("ratchet: dh produced all-zero output")

// Ratchet holds one session's classical-ratchet state: the root key and the
// two per-direction chain keys it feeds.
type Ratchet struct {
	RootKey           []byte
	SendingChainKey   []byte
	ReceivingChainKey []byte

	ClassicalSK       *exchange.ECDH
	RemoteClassicalPK []byte
}

// NewFromSecret starts a ratchet from an already-agreed root secret (the
// handshake's root_key) and a fresh X25519 keypair.
func NewFromSecret(rootSecret []byte) (*Ratchet, error) {
	dh, err := exchange.NewECDH()
	if err != nil {
		return nil, fmt.Errorf("generating dh keypair: %w", err)
	}
	return &Ratchet{
		RootKey:     zero.Copy(rootSecret),
		ClassicalSK: dh,
	}, nil
}

// OurPublic returns the current local X25519 public key to advertise.
func (r *Ratchet) OurPublic() []byte {
	return r.ClassicalSK.MarshalPublicKey()
}

// DHRatchet implements spec §4.1: given a new remote_classical_pk, derive
// (root_key', receiving_chain_key) from the DH with the current keypair,
// generate a fresh local keypair, then derive (root_key'', sending_chain_key)
// from the DH with the new keypair. The old root_key is zeroized only once
// the new values are fully derived; the old classical_sk is replaced by the
// new keypair but not zeroized.
func (r *Ratchet) DHRatchet(remotePK []byte) (err error) {
	_, end := telemetry.StartSpan(context.Background(), telemetry.SpanDHRatchet)
	defer func() { end(err) }()

	dh1, err := r.ClassicalSK.Exchange(remotePK)
	if err != nil {
		if !errors.Is(err, exchange.ErrInvalidKey) {
			// crypto/ecdh refuses an all-zero X25519 output with an error of
			// its own, before allZero below could see it.
			slog.Warn("ratchet: dh exchange produced all-zero output")
			return fmt.Errorf("%w: %v", ErrHandshakeFailure, err)
		}
		return fmt.Errorf("dh ratchet exchange 1: %w", err)
	}
	if allZero(dh1) {
		slog.Warn("ratchet: dh exchange produced all-zero output")
		return ErrHandshakeFailure
	}

	step1, err := primitives.DeriveN(r.RootKey, dh1, []byte(infoRecv), 2)
	if err != nil {
		zero.Bytes(dh1)
		return fmt.Errorf("deriving receiving step: %w", err)
	}
	newRoot, recvCK := step1[0], step1[1]
	zero.Bytes(dh1)

	newDH, err := exchange.NewECDH()
	if err != nil {
		zero.All(newRoot, recvCK)
		return fmt.Errorf("generating new dh keypair: %w", err)
	}

	dh2, err := newDH.Exchange(remotePK)
	if err != nil {
		zero.All(newRoot, recvCK)
		return fmt.Errorf("dh ratchet exchange 2: %w", err)
	}
	if allZero(dh2) {
		zero.All(newRoot, recvCK, dh2)
		slog.Warn("ratchet: dh exchange produced all-zero output")
		return ErrHandshakeFailure
	}

	step2, err := primitives.DeriveN(newRoot, dh2, []byte(infoSend), 2)
	zero.Bytes(dh2)
	if err != nil {
		zero.All(newRoot, recvCK)
		return fmt.Errorf("deriving sending step: %w", err)
	}
	finalRoot, sendCK := step2[0], step2[1]
	zero.Bytes(newRoot)

	zero.Bytes(r.RootKey)
	r.RootKey = finalRoot
	r.ReceivingChainKey = recvCK
	r.SendingChainKey = sendCK
	r.ClassicalSK = newDH
	r.RemoteClassicalPK = zero.Copy(remotePK)
	return nil
}

// ChainStep implements spec §4.1's chain_step: two HKDF labels ("chain",
// "msg") with the chain key itself as salt, returning the advanced chain key
// and the single-use message key.
func ChainStep(chainKey []byte) (nextChainKey, messageKey []byte, err error) {
	nextChainKey, err = primitives.Derive(chainKey, []byte{0x01}, []byte(infoChain), primitives.KeySize)
	if err != nil {
		return nil, nil, fmt.Errorf("deriving next chain key: %w", err)
	}
	messageKey, err = primitives.Derive(chainKey, []byte{0x02}, []byte(infoMsg), primitives.KeySize)
	if err != nil {
		zero.Bytes(nextChainKey)
		return nil, nil, fmt.Errorf("deriving message key: %w", err)
	}
	return nextChainKey, messageKey, nil
}

func allZero(b []byte) bool {
	return bytes.Equal(b, make([]byte, len(b)))
}
