// Package fragment implements the wire header codec and the
// Fragmentation/Reassembly subsystem (C6): splitting an oversize ML-KEM
// ciphertext across multiple fixed-size message headers and buffering
// fragments, per peer group, until a complete ciphertext can be handed back
// to the Braid.
package fragment

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ElMoorish/ComLock/pkg/exchange"
)

const (
	flagKEMFragmentPresent = 1 << 0
	flagHandshakeInit      = 1 << 1
	flagAdvertisedKEMPK    = 1 << 2

	headerVersion = 1

	classicalPKSize = 32
)

// ErrMalformedHeader is returned when wire bytes don't parse as a message
// header.
var ErrMalformedHeader = errors.New("fragment: malformed message header")

// KEMFragment is one slice of an oversize KEM ciphertext riding in a message
// header, per spec §6's kem_fragment block.
type KEMFragment struct {
	GroupID uint64
	Index   uint16
	Total   uint16
	Bytes   []byte
}

// Header is the exact on-wire message header (spec §6), serialized before
// AEAD sealing and used verbatim as AEAD associated data.
type Header struct {
	Flags             byte
	ClassicalPK       []byte // 32 bytes
	SendCounter       uint64
	PrevChainLength   uint32
	AdvertisedKEMPK   []byte // exchange.MLKEMPublicKeySize bytes, or nil
	HandshakeInit     bool
	KEMFragment       *KEMFragment // nil if this header carries no fragment
}

// Encode serializes h into the exact byte layout spec §6 names. This is also
// what AEAD sealing uses as associated data, so any change here must be
// mirrored on both the sending and receiving side.
func (h *Header) Encode() ([]byte, error) {
	if len(h.ClassicalPK) != classicalPKSize {
		return nil, fmt.Errorf("%w: classical_pk must be %d bytes", ErrMalformedHeader, classicalPKSize)
	}

	flags := h.Flags
	if h.KEMFragment != nil {
		flags |= flagKEMFragmentPresent
	}
	if h.HandshakeInit {
		flags |= flagHandshakeInit
	}
	if h.AdvertisedKEMPK != nil {
		flags |= flagAdvertisedKEMPK
	}

	out := make([]byte, 0, 1+1+classicalPKSize+8+4)
	out = append(out, headerVersion, flags)
	out = append(out, h.ClassicalPK...)

	var counterBuf [8]byte
	binary.BigEndian.PutUint64(counterBuf[:], h.SendCounter)
	out = append(out, counterBuf[:]...)

	var prevBuf [4]byte
	binary.BigEndian.PutUint32(prevBuf[:], h.PrevChainLength)
	out = append(out, prevBuf[:]...)

	if flags&flagAdvertisedKEMPK != 0 {
		if len(h.AdvertisedKEMPK) != exchange.MLKEMPublicKeySize {
			return nil, fmt.Errorf("%w: advertised_kem_pk must be %d bytes", ErrMalformedHeader, exchange.MLKEMPublicKeySize)
		}
		out = append(out, h.AdvertisedKEMPK...)
	}

	if flags&flagKEMFragmentPresent != 0 {
		f := h.KEMFragment
		if len(f.Bytes) > 0xFFFF {
			return nil, fmt.Errorf("%w: fragment too large for u16 length", ErrMalformedHeader)
		}
		var groupBuf [8]byte
		binary.BigEndian.PutUint64(groupBuf[:], f.GroupID)
		out = append(out, groupBuf[:]...)

		var idxBuf, totalBuf, lenBuf [2]byte
		binary.BigEndian.PutUint16(idxBuf[:], f.Index)
		binary.BigEndian.PutUint16(totalBuf[:], f.Total)
		binary.BigEndian.PutUint16(lenBuf[:], uint16(len(f.Bytes)))
		out = append(out, idxBuf[:]...)
		out = append(out, totalBuf[:]...)
		out = append(out, lenBuf[:]...)
		out = append(out, f.Bytes...)
	}

	return out, nil
}

// DecodeHeader parses a wire header produced by Encode, returning the
// number of bytes consumed so callers holding a ciphertext immediately
// following the header in the same buffer can slice past it.
func DecodeHeader(data []byte) (*Header, int, error) {
	if len(data) < 2+classicalPKSize+8+4 {
		return nil, 0, fmt.Errorf("%w: too short", ErrMalformedHeader)
	}
	if data[0] != headerVersion {
		return nil, 0, fmt.Errorf("%w: unsupported version %d", ErrMalformedHeader, data[0])
	}
	flags := data[1]
	offset := 2

	h := &Header{
		Flags:         flags &^ (flagKEMFragmentPresent | flagHandshakeInit | flagAdvertisedKEMPK),
		HandshakeInit: flags&flagHandshakeInit != 0,
	}

	h.ClassicalPK = append([]byte(nil), data[offset:offset+classicalPKSize]...)
	offset += classicalPKSize

	h.SendCounter = binary.BigEndian.Uint64(data[offset : offset+8])
	offset += 8

	h.PrevChainLength = binary.BigEndian.Uint32(data[offset : offset+4])
	offset += 4

	if flags&flagAdvertisedKEMPK != 0 {
		if len(data) < offset+exchange.MLKEMPublicKeySize {
			return nil, 0, fmt.Errorf("%w: truncated advertised_kem_pk", ErrMalformedHeader)
		}
		h.AdvertisedKEMPK = append([]byte(nil), data[offset:offset+exchange.MLKEMPublicKeySize]...)
		offset += exchange.MLKEMPublicKeySize
	}

	if flags&flagKEMFragmentPresent != 0 {
		if len(data) < offset+8+2+2+2 {
			return nil, 0, fmt.Errorf("%w: truncated kem_fragment", ErrMalformedHeader)
		}
		groupID := binary.BigEndian.Uint64(data[offset : offset+8])
		offset += 8
		index := binary.BigEndian.Uint16(data[offset : offset+2])
		offset += 2
		total := binary.BigEndian.Uint16(data[offset : offset+2])
		offset += 2
		fragLen := binary.BigEndian.Uint16(data[offset : offset+2])
		offset += 2
		if len(data) < offset+int(fragLen) {
			return nil, 0, fmt.Errorf("%w: truncated fragment bytes", ErrMalformedHeader)
		}
		fragBytes := append([]byte(nil), data[offset:offset+int(fragLen)]...)
		offset += int(fragLen)

		h.KEMFragment = &KEMFragment{GroupID: groupID, Index: index, Total: total, Bytes: fragBytes}
	}

	return h, offset, nil
}
