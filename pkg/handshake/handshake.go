// Package handshake implements the Session Handshake (C4): a PQXDH-style
// initial key agreement that seeds the Braid's root_key, plus the
// challenge-response transcript confirmation kamune's handshake.go performs
// before trusting a freshly established session.
package handshake

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ElMoorish/ComLock/internal/zero"
	"github.com/ElMoorish/ComLock/pkg/exchange"
	"github.com/ElMoorish/ComLock/pkg/identity"
	"github.com/ElMoorish/ComLock/pkg/primitives"
	"github.com/ElMoorish/ComLock/pkg/telemetry"
)

const rootKDFInfo = "comlock-pqxdh"

// Bundle is the prekey material a peer publishes (via invite blob or QR) so
// others can initiate a handshake against it.
type Bundle struct {
	IdentityPK      []byte // Ed25519
	IdentityDHPub   []byte // PKIX X25519, the "identity" DH half of spec §4.3
	SignedPrekeyPub []byte // PKIX X25519
	PrekeySig       []byte // identity signature over SignedPrekeyPub
	LongTermKEMPK   *exchange.MLKEMPublicKey
	OneTimeKEMPK    *exchange.MLKEMPublicKey // optional, per Open Question decision 4
	OneTimeKEMID    string                   // empty if no one-time prekey offered
}

// Hello is the first protocol message an initiator sends (spec §4.3,
// §6's handshake_init flag). It is fragmented like any oversize payload by
// pkg/fragment before hitting the wire; this type is the logical content.
type Hello struct {
	InitiatorIdentityPK    []byte
	InitiatorIdentityDHPub []byte
	EphemeralPub           []byte
	KEMCiphertext          []byte
	OneTimeKEMCiphertext   []byte // nil if the bundle had no one-time prekey
	OneTimeKEMID           string
}

// Result is the outcome of a successful handshake: the seeded root_key and
// the transcript it was bound to. The Braid's other starting inputs (the
// initial remote KEM pk is the bundle's long-term key; subsequent steps fold
// in fresher ones) are supplied by the caller, not carried here.
type Result struct {
	RootKey   []byte
	Transcript []byte
}

// Initiate runs the initiator side of spec §4.3 against a peer's bundle.
func Initiate(self *identity.Identity, peer *Bundle) (hello *Hello, result *Result, err error) {
	_, end := telemetry.StartSpan(context.Background(), telemetry.SpanHandshakeInitiate)
	defer func() { end(err) }()

	if !identity.Verify(peer.IdentityPK, peer.SignedPrekeyPub, peer.PrekeySig) {
		slog.Warn("handshake initiate: prekey signature did not verify", "error", ErrHandshakeAuthFailure)
		return nil, nil, ErrHandshakeAuthFailure
	}

	ephemeral, err := exchange.NewECDH()
	if err != nil {
		return nil, nil, fmt.Errorf("generating ephemeral: %w", err)
	}

	dh1, err := ephemeral.Exchange(peer.SignedPrekeyPub)
	if err != nil {
		return nil, nil, fmt.Errorf("dh1: %w", err)
	}
	dh2, err := self.IdentityDH.Exchange(peer.SignedPrekeyPub)
	if err != nil {
		zero.Bytes(dh1)
		return nil, nil, fmt.Errorf("dh2: %w", err)
	}

	kemCT, kemSS, err := exchange.EncapsulateMLKEM(peer.LongTermKEMPK)
	if err != nil {
		zero.All(dh1, dh2)
		return nil, nil, fmt.Errorf("encapsulating long-term kem: %w", err)
	}

	var otkCT, otkSS []byte
	if peer.OneTimeKEMPK != nil {
		otkCT, otkSS, err = exchange.EncapsulateMLKEM(peer.OneTimeKEMPK)
		if err != nil {
			zero.All(dh1, dh2, kemSS)
			return nil, nil, fmt.Errorf("encapsulating one-time kem: %w", err)
		}
	}

	rootKey, err := deriveRootKey(dh1, dh2, kemSS, otkSS)
	zero.All(dh1, dh2, kemSS, otkSS)
	if err != nil {
		return nil, nil, err
	}

	hello = &Hello{
		InitiatorIdentityPK:    self.SigningPublic,
		InitiatorIdentityDHPub: self.IdentityDH.MarshalPublicKey(),
		EphemeralPub:           ephemeral.MarshalPublicKey(),
		KEMCiphertext:          kemCT,
		OneTimeKEMCiphertext:   otkCT,
		OneTimeKEMID:           peer.OneTimeKEMID,
	}
	slog.Debug("handshake initiate: hello built", "one_time_prekey", peer.OneTimeKEMID != "")
	return hello, &Result{RootKey: rootKey, Transcript: transcriptOf(hello)}, nil
}

// OneTimePrekeyLedger tracks which one-time prekey identifiers have already
// been consumed, so a replayed Hello is rejected with
// ErrHandshakePrekeyReuse rather than silently re-deriving a root_key an
// attacker already observed.
type OneTimePrekeyLedger struct {
	mu   sync.Mutex
	used map[string]struct{}
}

// NewOneTimePrekeyLedger returns an empty ledger.
func NewOneTimePrekeyLedger() *OneTimePrekeyLedger {
	return &OneTimePrekeyLedger{used: make(map[string]struct{})}
}

func (l *OneTimePrekeyLedger) markUsed(id string) error {
	if id == "" {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, seen := l.used[id]; seen {
		return ErrHandshakePrekeyReuse
	}
	l.used[id] = struct{}{}
	return nil
}

// AcceptorKeys is the private material matching a published Bundle.
type AcceptorKeys struct {
	SignedPrekey  *exchange.ECDH
	LongTermKEM   *exchange.MLKEMPrivateKey
	OneTimeKEM    *exchange.MLKEMPrivateKey // nil if the bundle had none
}

// Accept runs the responder side of spec §4.3 against an initiator's Hello.
func Accept(ledger *OneTimePrekeyLedger, keys *AcceptorKeys, hello *Hello) (result *Result, err error) {
	_, end := telemetry.StartSpan(context.Background(), telemetry.SpanHandshakeAccept)
	defer func() { end(err) }()

	if err := ledger.markUsed(hello.OneTimeKEMID); err != nil {
		slog.Warn("handshake accept: one-time prekey reuse", "error", err)
		return nil, err
	}

	dh1, err := keys.SignedPrekey.Exchange(hello.EphemeralPub)
	if err != nil {
		return nil, fmt.Errorf("dh1: %w", err)
	}
	dh2, err := keys.SignedPrekey.Exchange(hello.InitiatorIdentityDHPub)
	if err != nil {
		zero.Bytes(dh1)
		return nil, fmt.Errorf("dh2: %w", err)
	}

	kemSS, err := exchange.DecapsulateMLKEM(keys.LongTermKEM, hello.KEMCiphertext)
	if err != nil {
		zero.All(dh1, dh2)
		return nil, fmt.Errorf("decapsulating long-term kem: %w", err)
	}

	var otkSS []byte
	if hello.OneTimeKEMCiphertext != nil {
		if keys.OneTimeKEM == nil {
			zero.All(dh1, dh2, kemSS)
			slog.Warn("handshake accept: hello references an unpublished one-time prekey", "one_time_prekey_id", hello.OneTimeKEMID)
			return nil, fmt.Errorf("%w: hello references a one-time kem we never published", ErrHandshakeAuthFailure)
		}
		otkSS, err = exchange.DecapsulateMLKEM(keys.OneTimeKEM, hello.OneTimeKEMCiphertext)
		if err != nil {
			zero.All(dh1, dh2, kemSS)
			return nil, fmt.Errorf("decapsulating one-time kem: %w", err)
		}
	}

	rootKey, err := deriveRootKey(dh1, dh2, kemSS, otkSS)
	zero.All(dh1, dh2, kemSS, otkSS)
	if err != nil {
		return nil, err
	}

	slog.Debug("handshake accept: root key derived")
	return &Result{RootKey: rootKey, Transcript: transcriptOf(hello)}, nil
}

func deriveRootKey(dh1, dh2, kemSS, otkSS []byte) ([]byte, error) {
	ikm := make([]byte, 0, len(dh1)+len(dh2)+len(kemSS)+len(otkSS))
	ikm = append(ikm, dh1...)
	ikm = append(ikm, dh2...)
	ikm = append(ikm, kemSS...)
	ikm = append(ikm, otkSS...)
	defer zero.Bytes(ikm)

	rootKey, err := primitives.Derive(nil, ikm, []byte(rootKDFInfo), primitives.KeySize)
	if err != nil {
		return nil, fmt.Errorf("deriving root key: %w", err)
	}
	return rootKey, nil
}

func transcriptOf(hello *Hello) []byte {
	t := make([]byte, 0, len(hello.InitiatorIdentityPK)+len(hello.EphemeralPub)+len(hello.KEMCiphertext))
	t = append(t, hello.InitiatorIdentityPK...)
	t = append(t, hello.EphemeralPub...)
	t = append(t, hello.KEMCiphertext...)
	return t
}

// SendChallenge produces a nonce/tag pair proving knowledge of root_key
// without revealing it, mirroring kamune's sendChallenge/acceptChallenge.
func SendChallenge(rootKey []byte) (nonce, tag []byte, err error) {
	nonce = make([]byte, 32)
	if _, err = rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("generating challenge nonce: %w", err)
	}
	tag, err = primitives.Derive(rootKey, nonce, []byte("confirm"), 32)
	if err != nil {
		return nil, nil, fmt.Errorf("deriving challenge tag: %w", err)
	}
	return nonce, tag, nil
}

// AcceptChallenge computes the response tag for a received nonce.
func AcceptChallenge(rootKey, nonce []byte) ([]byte, error) {
	return primitives.Derive(rootKey, nonce, []byte("confirm"), 32)
}

// VerifyChallenge constant-time compares the expected and received tags.
func VerifyChallenge(expected, got []byte) bool {
	return subtle.ConstantTimeCompare(expected, got) == 1
}
