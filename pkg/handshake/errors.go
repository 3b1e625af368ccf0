package handshake

import "errors"

var (
	// ErrHandshakeAuthFailure is returned when a prekey signature does not
	// verify, or when a Hello references a one-time KEM prekey that was never
	// published. Fatal for the session.
	ErrHandshakeAuthFailure = errors.New("handshake: authentication failed")

	// ErrHandshakePrekeyReuse is returned when a one-time prekey identifier
	// has already been consumed.
	ErrHandshakePrekeyReuse = errors.New("handshake: one-time prekey already used")
)
