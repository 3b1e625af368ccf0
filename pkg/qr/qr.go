// Package qr renders the identity §6 QR payload to a terminal-displayable
// QR code, grounded on kamune's pkg/fingerprint/qr.go.
package qr

import (
	"bytes"
	"fmt"
	"io"

	"github.com/mdp/qrterminal/v3"

	"github.com/ElMoorish/ComLock/pkg/identity"
)

// Render encodes a QR payload and writes its terminal QR code to w.
func Render(w io.Writer, payload *identity.QRPayload) error {
	data, err := payload.Encode()
	if err != nil {
		return fmt.Errorf("encoding qr payload: %w", err)
	}
	qrterminal.Generate(string(data), qrterminal.L, w)
	return nil
}

// RenderBytes is Render but returning the rendered QR code as a byte slice,
// for callers that want to embed it rather than stream it (e.g. tests).
func RenderBytes(payload *identity.QRPayload) ([]byte, error) {
	var buf bytes.Buffer
	if err := Render(&buf, payload); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
