package exchange

import "errors"

var (
	// ErrInvalidKey is returned when a parsed public key is not of the
	// expected type or curve.
	ErrInvalidKey = errors.New("exchange: invalid key")

	// ErrInvalidCiphertext is returned when an ML-KEM ciphertext does not
	// match the expected fixed size.
	ErrInvalidCiphertext = errors.New("exchange: invalid ciphertext size")
)
