package braid

import "errors"

var (
	// ErrNotReady is returned when a braid step is attempted before the
	// session has a last_kem_secret to fall back on (i.e. before the first
	// successful KEM exchange completed during the handshake).
	ErrNotReady = errors.New("braid: session has no kem contribution yet")

	// ErrMessageTooOld is returned when a receive counter falls below the
	// skipped-key window and no cached key remains for it.
	ErrMessageTooOld = errors.New("braid: message counter below skipped-key window")

	// ErrKemReassemblyFailure is returned when a completed KEM ciphertext
	// cannot be absorbed: there is no pending local KEM private key to
	// decapsulate it with, or decapsulation fails.
	ErrKemReassemblyFailure = errors.New("braid: kem reassembly failed")

	// ErrAEADFailure wraps an AEAD tag-verification failure.
	ErrAEADFailure = errors.New("braid: aead authentication failed")

	// ErrSessionGone is returned by any operation on a wiped session.
	ErrSessionGone = errors.New("braid: session has been wiped")
)
