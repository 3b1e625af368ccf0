// Package braid implements the KEM Braid (C3): the central state machine
// that folds an opportunistic ML-KEM-1024 exchange into an X25519 double
// ratchet's root key, one HKDF step per message. It is grounded on kamune's
// pkg/ratchet/ratchet.go for the ratchet/chain-step shape and on
// pzverkov-Quantum-Go's pkg/chkem/chkem.go for the classical+PQ mixing idea,
// generalized from chkem's one-shot handshake into a per-message step.
package braid

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ElMoorish/ComLock/internal/zero"
	"github.com/ElMoorish/ComLock/pkg/config"
	"github.com/ElMoorish/ComLock/pkg/exchange"
	"github.com/ElMoorish/ComLock/pkg/primitives"
	"github.com/ElMoorish/ComLock/pkg/ratchet"
	"github.com/ElMoorish/ComLock/pkg/telemetry"
)

const infoBraid = "braid"

// checkpoint is one entry of the bounded log recordCheckpoint keeps: the send
// counter and chain epoch of a StepSend and the root key before that step.
// Nothing in this package reads the log back and dhShared is never filled
// in, so a late-completing KEM secret is not folded in at its original
// header-sequence position.
type checkpoint struct {
	counter       uint64
	epoch         uint64
	rootKeyBefore []byte
	dhShared      []byte
}

// Session is one peer's live Braid state: the classical ratchet plus the
// opportunistic KEM timeline layered on top of it.
type Session struct {
	mu sync.Mutex

	ratchet *ratchet.Ratchet

	remoteKEMPK       *exchange.MLKEMPublicKey
	remoteKEMConsumed bool

	pendingLocalKEMSK *exchange.MLKEMPrivateKey
	pendingLocalKEMPK *exchange.MLKEMPublicKey
	advertisedThisEpoch bool

	lastKEMSecret []byte

	sendCounter uint64
	recvCounter uint64
	chainEpoch  uint64

	skipped            *skippedKeyCache
	checkpoints        []checkpoint // bounded ring, oldest evicted first
	checkpointCapacity int
	wiped              bool
}

// New starts a braid session from the handshake's agreed root_key and an
// initial remote KEM public key (if the handshake bundle included one),
// sized to config.Defaults()'s skipped-key window.
func New(rootKey []byte, initialKEMSecret []byte, remoteKEMPK *exchange.MLKEMPublicKey) (*Session, error) {
	return NewWithConfig(rootKey, initialKEMSecret, remoteKEMPK, config.Defaults())
}

// NewWithConfig is New, but sizes the skipped-key cache and the checkpoint
// ring from cfg.Session.SkippedKeyCapacity rather than the package default —
// the knob SPEC_FULL.md's AMBIENT STACK config section names.
func NewWithConfig(rootKey []byte, initialKEMSecret []byte, remoteKEMPK *exchange.MLKEMPublicKey, cfg config.Config) (*Session, error) {
	r, err := ratchet.NewFromSecret(rootKey)
	if err != nil {
		return nil, fmt.Errorf("initializing ratchet: %w", err)
	}
	capacity := cfg.Session.SkippedKeyCapacity
	if capacity <= 0 {
		capacity = config.Defaults().Session.SkippedKeyCapacity
	}
	slog.Debug("braid: session started", "skipped_key_capacity", capacity)
	return &Session{
		ratchet:            r,
		remoteKEMPK:        remoteKEMPK,
		lastKEMSecret:      zero.Copy(initialKEMSecret),
		skipped:            newSkippedKeyCache(capacity),
		checkpointCapacity: capacity,
	}, nil
}

// SetRemotePublic installs the peer's classical public key: StepSend runs its
// DH against it, and StepRecv treats a header carrying any other key as a DH
// ratchet. It runs no ratchet step and derives no chain keys itself.
func (s *Session) SetRemotePublic(remotePK []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.wiped {
		return ErrSessionGone
	}
	s.ratchet.RemoteClassicalPK = zero.Copy(remotePK)
	return nil
}

// OurClassicalPublic returns the current local X25519 public key.
func (s *Session) OurClassicalPublic() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ratchet.OurPublic()
}

// OfferRemoteKEM installs a freshly received remote KEM public key, making it
// available for the next StepSend to encapsulate against.
func (s *Session) OfferRemoteKEM(pk *exchange.MLKEMPublicKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remoteKEMPK = pk
	s.remoteKEMConsumed = false
}

// SetPendingLocalKEM seeds the one outstanding local KEM keypair this session
// is waiting on a ciphertext for. The handshake layer calls this once, with
// the long-term/prekey-bundle KEM keypair it advertised during onboarding,
// before the first StepRecv that might decapsulate against it.
func (s *Session) SetPendingLocalKEM(sk *exchange.MLKEMPrivateKey, pk *exchange.MLKEMPublicKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingLocalKEMSK = sk
	s.pendingLocalKEMPK = pk
	s.advertisedThisEpoch = true
}

// StepSend implements spec §4.2's sender algorithm. It is atomic: on error
// the session is left untouched.
func (s *Session) StepSend(plaintext []byte, aad []byte) (header *Header, ciphertext []byte, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, end := telemetry.StartSpan(context.Background(), telemetry.SpanStepSend,
		telemetry.SessionAttributes("", s.sendCounter, s.recvCounter)...)
	defer func() { end(err) }()

	if s.wiped {
		return nil, nil, ErrSessionGone
	}

	dhShared, err := s.ratchet.ClassicalSK.Exchange(s.ratchet.RemoteClassicalPK)
	if err != nil {
		return nil, nil, fmt.Errorf("braid dh: %w", err)
	}

	var kemCiphertext []byte
	var contribution []byte
	if s.remoteKEMPK != nil && !s.remoteKEMConsumed {
		ct, ss, err := exchange.EncapsulateMLKEM(s.remoteKEMPK)
		if err != nil {
			zero.Bytes(dhShared)
			return nil, nil, fmt.Errorf("encapsulating kem: %w", err)
		}
		kemCiphertext = ct
		contribution = ss
	} else {
		if s.lastKEMSecret == nil {
			zero.Bytes(dhShared)
			return nil, nil, ErrNotReady
		}
		contribution = zero.Copy(s.lastKEMSecret)
	}

	newRoot, sendCK, messageKey, err := s.braidStep(s.ratchet.RootKey, dhShared, contribution)
	zero.Bytes(dhShared)
	if err != nil {
		zero.All(newRoot, sendCK, messageKey, contribution)
		return nil, nil, fmt.Errorf("deriving braid step: %w", err)
	}

	aead, err := primitives.NewAEAD(messageKey, nil, []byte("braid:msg"))
	zero.Bytes(messageKey)
	if err != nil {
		zero.All(newRoot, sendCK, contribution)
		return nil, nil, fmt.Errorf("building message aead: %w", err)
	}
	ciphertext, err = aead.Seal(plaintext, aad)
	aead.Zeroize()
	if err != nil {
		zero.All(newRoot, sendCK, contribution)
		return nil, nil, fmt.Errorf("sealing message: %w", err)
	}

	if kemCiphertext != nil {
		// contribution was the fresh kem_ss; it becomes last_kem_secret going
		// forward and must not be zeroized here.
		s.remoteKEMConsumed = true
		zero.Bytes(s.lastKEMSecret)
		s.lastKEMSecret = contribution
	} else {
		zero.Bytes(contribution)
	}

	s.recordCheckpoint(s.sendCounter)
	zero.Bytes(s.ratchet.RootKey)
	s.ratchet.RootKey = newRoot
	zero.Bytes(sendCK) // sendCK is single-use per message by design; see braidStep.

	header = &Header{
		ClassicalPK:     s.ratchet.OurPublic(),
		SendCounter:     s.sendCounter,
		PrevChainLength: uint32(s.recvCounter),
		KEMCiphertext:   kemCiphertext,
	}
	s.sendCounter++

	if s.pendingLocalKEMSK == nil && !s.advertisedThisEpoch {
		kp, err := exchange.GenerateMLKEM()
		if err == nil {
			s.pendingLocalKEMSK = kp.PrivateKey
			s.pendingLocalKEMPK = kp.PublicKey
			s.advertisedThisEpoch = true
			header.AdvertisedLocalKEMPK = kp.PublicKey.Bytes()
		}
	}

	return header, ciphertext, nil
}

// StepRecv implements spec §4.2's receiver algorithm. completedKEMCiphertext
// is non-nil exactly when this header's fragment group finished reassembly
// in this same call (pkg/fragment hands it back once all fragments arrive);
// it is nil for every fragment-less message and for messages whose group is
// still incomplete, in which case the message is processed against the
// existing last_kem_secret, matching spec's ordering rule.
func (s *Session) StepRecv(header *Header, ciphertext []byte, aad []byte, completedKEMCiphertext []byte) (plaintext []byte, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, end := telemetry.StartSpan(context.Background(), telemetry.SpanStepRecv,
		telemetry.SessionAttributes("", s.sendCounter, s.recvCounter)...)
	defer func() { end(err) }()

	if s.wiped {
		return nil, ErrSessionGone
	}

	if !bytes.Equal(header.ClassicalPK, s.ratchet.RemoteClassicalPK) {
		if err := s.ratchet.DHRatchet(header.ClassicalPK); err != nil {
			return nil, fmt.Errorf("dh ratchet on receive: %w", err)
		}
		s.chainEpoch++
		s.advertisedThisEpoch = false
	}

	if header.AdvertisedLocalKEMPK != nil {
		pk, err := exchange.ParseMLKEMPublicKey(header.AdvertisedLocalKEMPK)
		if err == nil {
			s.remoteKEMPK = pk
			s.remoteKEMConsumed = false
		}
	}

	// A counter behind the window with no cached key is rejected before any
	// KEM ciphertext it carries is decapsulated.
	if header.SendCounter < s.recvCounter {
		if _, ok := s.skipped.entries[skippedKey{s.chainEpoch, header.SendCounter}]; !ok {
			return nil, ErrMessageTooOld
		}
	}

	if completedKEMCiphertext != nil {
		if s.pendingLocalKEMSK == nil {
			return nil, ErrKemReassemblyFailure
		}
		ss, err := exchange.DecapsulateMLKEM(s.pendingLocalKEMSK, completedKEMCiphertext)
		if err != nil {
			slog.Warn("braid: kem decapsulation failed", "error", err)
			return nil, fmt.Errorf("%w: %v", ErrKemReassemblyFailure, err)
		}
		s.pendingLocalKEMSK = nil
		s.pendingLocalKEMPK = nil
		zero.Bytes(s.lastKEMSecret)
		s.lastKEMSecret = ss
	}

	if header.SendCounter < s.recvCounter {
		key, ok := s.skipped.take(s.chainEpoch, header.SendCounter)
		if !ok {
			return nil, ErrMessageTooOld
		}
		return s.openWithKey(key, ciphertext, aad)
	}

	dhShared, err := s.ratchet.ClassicalSK.Exchange(header.ClassicalPK)
	if err != nil {
		return nil, fmt.Errorf("braid dh: %w", err)
	}
	defer zero.Bytes(dhShared)

	var messageKey []byte
	for s.recvCounter <= header.SendCounter {
		contribution := s.lastKEMSecret
		if contribution == nil {
			return nil, ErrNotReady
		}
		newRoot, _, msgKey, err := s.braidStep(s.ratchet.RootKey, dhShared, contribution)
		if err != nil {
			return nil, fmt.Errorf("deriving braid step: %w", err)
		}
		zero.Bytes(s.ratchet.RootKey)
		s.ratchet.RootKey = newRoot

		if s.recvCounter == header.SendCounter {
			messageKey = msgKey
		} else {
			s.skipped.put(s.chainEpoch, s.recvCounter, msgKey)
		}
		s.recvCounter++
	}

	if messageKey == nil {
		return nil, ErrMessageTooOld
	}
	return s.openWithKey(messageKey, ciphertext, aad)
}

func (s *Session) openWithKey(messageKey, ciphertext, aad []byte) ([]byte, error) {
	aead, err := primitives.NewAEAD(messageKey, nil, []byte("braid:msg"))
	zero.Bytes(messageKey)
	if err != nil {
		return nil, fmt.Errorf("building message aead: %w", err)
	}
	defer aead.Zeroize()
	pt, err := aead.Open(ciphertext, aad)
	if err != nil {
		slog.Warn("braid: message authentication failed", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrAEADFailure, err)
	}
	return pt, nil
}

// braidStep implements spec §4.2 steps 4-6: mixes the classical DH output
// and the current PQ contribution into the root key, producing a fresh
// sending/receiving chain key and, immediately, the one message key that
// chain key will ever yield.
func (s *Session) braidStep(rootKey, dhShared, contribution []byte) (newRoot, chainKey, messageKey []byte, err error) {
	ikm := make([]byte, len(dhShared)+len(contribution))
	copy(ikm, dhShared)
	copy(ikm[len(dhShared):], contribution)
	defer zero.Bytes(ikm)

	step, err := primitives.DeriveN(rootKey, ikm, []byte(infoBraid), 2)
	if err != nil {
		return nil, nil, nil, err
	}
	newRoot, chainKey = step[0], step[1]

	_, messageKey, err = ratchet.ChainStep(chainKey)
	if err != nil {
		zero.All(newRoot, chainKey)
		return nil, nil, nil, err
	}
	return newRoot, chainKey, messageKey, nil
}

// recordCheckpoint keeps a bounded log of root-key snapshots so a late KEM
// completion can, in principle, be folded in at its original position; see
// the forward-replay loop in StepRecv, which is as far as this repo carries
// that idea (see DESIGN.md's "Replay semantics divergence" note).
func (s *Session) recordCheckpoint(counter uint64) {
	cp := checkpoint{
		counter:       counter,
		epoch:         s.chainEpoch,
		rootKeyBefore: zero.Copy(s.ratchet.RootKey),
	}
	s.checkpoints = append(s.checkpoints, cp)
	if len(s.checkpoints) > s.checkpointCapacity {
		zero.Bytes(s.checkpoints[0].rootKeyBefore)
		s.checkpoints = s.checkpoints[1:]
	}
}

// LastKEMSecret exposes the current PQ contribution, mainly for tests.
func (s *Session) LastKEMSecret() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return zero.Copy(s.lastKEMSecret)
}

// SkippedCount reports how many skipped keys are currently cached.
func (s *Session) SkippedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.skipped.len()
}

// Wipe zeroizes all secret state. Idempotent, per spec §8 property 9.
func (s *Session) Wipe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.wiped {
		return
	}
	zero.Bytes(s.ratchet.RootKey)
	zero.Bytes(s.ratchet.SendingChainKey)
	zero.Bytes(s.ratchet.ReceivingChainKey)
	zero.Bytes(s.lastKEMSecret)
	s.skipped.zeroizeAll()
	for _, cp := range s.checkpoints {
		zero.Bytes(cp.rootKeyBefore)
	}
	s.checkpoints = nil
	s.wiped = true
	slog.Debug("braid: session wiped")
}

// Wiped reports whether Wipe has run.
func (s *Session) Wiped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wiped
}
