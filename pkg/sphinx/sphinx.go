// Package sphinx implements the Sphinx Packet Codec (C5): a fixed-size onion
// packet whose header is peeled one layer per hop via a per-hop ephemeral
// Diffie-Hellman, an HKDF-derived MAC/stream-cipher pair, and pseudorandom
// padding that keeps the packet's total size constant end to end.
//
// The cryptographic shape (per-hop shared secret, header MAC, stream-cipher
// payload peel, fixed total size) is grounded on the Loopix mixnet's
// sphinx.go reference implementation. One deliberate simplification from
// classic Sphinx: instead of a single elliptic-curve element blinded
// multiplicatively hop by hop (which needs raw scalar arithmetic outside
// this project's X25519 usage elsewhere), each hop gets its own independent
// ephemeral key carried as a raw X25519 point in its own header slot. The
// slots (ephemeral key, routing flag, next address, MAC) are not encrypted;
// the MAC authenticates each slot but does not hide it. This keeps
// every DH in the codebase going through pkg/exchange.ECDH at the cost of a
// larger (but still fixed) header. See DESIGN.md.
package sphinx

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/crypto/chacha20"

	"github.com/ElMoorish/ComLock/pkg/exchange"
	"github.com/ElMoorish/ComLock/pkg/primitives"
	"github.com/ElMoorish/ComLock/pkg/telemetry"
)

const (
	// PacketSize is the fixed total size of every Sphinx packet, real or
	// cover, per spec §6.
	PacketSize = 32768

	// HeaderSize is the fixed size of the header onion, per spec §6.
	HeaderSize = 1024

	// PayloadSize is what remains for the payload onion after the version
	// byte and the header.
	PayloadSize = PacketSize - 1 - HeaderSize

	// MaxHops bounds how many relays a packet can traverse; the header is
	// divided into this many fixed-size slots regardless of the actual path
	// length, with unused trailing slots filled with indistinguishable
	// pseudorandom padding.
	MaxHops = 8

	slotSize         = HeaderSize / MaxHops
	addrSize         = 16
	macSize          = sha256.Size
	ephemeralRawSize = 32
	slotOverhead     = ephemeralRawSize + 1 /*flag*/ + addrSize + macSize
	fillerSize       = slotSize - slotOverhead

	flagRelay = 0x01
	flagFinal = 0x02
	flagCover = 0x00
)

func init() {
	if fillerSize < 0 {
		panic("sphinx: header slot too small for fixed overhead")
	}
}

var (
	// ErrInvalidMAC is returned when a hop's header MAC does not verify.
	// Per spec §4.5 this must never produce a reply to the sender — it is
	// simply dropped by the caller.
	ErrInvalidMAC = errors.New("sphinx: header mac invalid")

	// ErrBadPacketSize is returned when encoded bytes are not exactly
	// PacketSize long.
	ErrBadPacketSize = errors.New("sphinx: packet is not the fixed wire size")

	// ErrPathTooLong is returned when a caller asks Build for more hops
	// than MaxHops supports.
	ErrPathTooLong = errors.New("sphinx: path exceeds max hop count")

	// ErrReplayedHop is returned when a hop's header MAC has already been
	// processed by the guard passed to ProcessHopGuarded, per spec §4.5's
	// replay failure mode.
	ErrReplayedHop = errors.New("sphinx: hop MAC already seen")
)

// Packet is a fixed-size Sphinx packet as it appears on the wire.
type Packet struct {
	Version byte
	Header  [HeaderSize]byte
	Payload [PayloadSize]byte
}

// Encode serializes the packet to its fixed PacketSize wire form.
func (p *Packet) Encode() []byte {
	out := make([]byte, 0, PacketSize)
	out = append(out, p.Version)
	out = append(out, p.Header[:]...)
	out = append(out, p.Payload[:]...)
	return out
}

// Decode parses a fixed-size wire packet.
func Decode(data []byte) (*Packet, error) {
	if len(data) != PacketSize {
		return nil, ErrBadPacketSize
	}
	p := &Packet{Version: data[0]}
	copy(p.Header[:], data[1:1+HeaderSize])
	copy(p.Payload[:], data[1+HeaderSize:])
	return p, nil
}

// Hop describes one relay on a path being built.
type Hop struct {
	NodePublicKey []byte // PKIX X25519, the node's static key
	NextAddr      [addrSize]byte
}

// Build constructs a packet whose header routes through hops in order and
// whose payload, once every hop has peeled its layer, reveals innerPayload
// (zero-padded to PayloadSize by Build itself, which rejects anything longer
// — typically pkg/fragment's framed content, or the all-zero cover tag).
func Build(hops []Hop, innerPayload []byte) (packet *Packet, err error) {
	_, end := telemetry.StartSpan(context.Background(), telemetry.SpanSphinxBuild)
	defer func() { end(err) }()

	if len(hops) == 0 || len(hops) > MaxHops {
		return nil, ErrPathTooLong
	}
	if len(innerPayload) > PayloadSize {
		return nil, fmt.Errorf("sphinx: inner payload exceeds payload size")
	}

	payload := make([]byte, PayloadSize)
	copy(payload, innerPayload)

	slots := make([][]byte, MaxHops)
	for i := 0; i < MaxHops; i++ {
		slots[i] = make([]byte, slotSize)
		if _, err := rand.Read(slots[i]); err != nil {
			return nil, fmt.Errorf("filling padding slot: %w", err)
		}
	}

	for i, hop := range hops {
		ephemeral, err := exchange.NewECDH()
		if err != nil {
			return nil, fmt.Errorf("generating hop ephemeral: %w", err)
		}
		shared, err := ephemeral.Exchange(hop.NodePublicKey)
		if err != nil {
			return nil, fmt.Errorf("hop dh: %w", err)
		}
		streamKey, macKey, err := deriveHopKeys(shared)
		if err != nil {
			return nil, err
		}

		if err := xorStream(payload, streamKey); err != nil {
			return nil, fmt.Errorf("peeling payload layer: %w", err)
		}

		flag := byte(flagRelay)
		if i == len(hops)-1 {
			flag = flagFinal
		}

		slot := make([]byte, 0, slotSize)
		slot = append(slot, ephemeral.PublicKey.Bytes()...) // raw X25519 point; see marshalRawPointAsPKIX
		slot = append(slot, flag)
		slot = append(slot, hop.NextAddr[:]...)

		mac := computeMAC(macKey, slot)
		slot = append(slot, mac...)
		if len(slot) < slotSize {
			slot = append(slot, slots[i][len(slot):]...)
		}
		slots[i] = slot[:slotSize]
	}

	header := make([]byte, 0, HeaderSize)
	for _, s := range slots {
		header = append(header, s...)
	}

	p := &Packet{Version: 1}
	copy(p.Header[:], header)
	copy(p.Payload[:], payload)
	return p, nil
}

// ProcessResult is what a relay learns after peeling one layer.
type ProcessResult struct {
	NextAddr [addrSize]byte
	Final    bool
	Cover    bool
	Packet   *Packet // the packet to forward (or deliver, if Final)
}

// ProcessHop peels exactly one layer off p using nodePriv, verifying the
// header MAC in constant time. Per spec §4.5, an invalid MAC or a malformed
// packet must be dropped silently by the caller — ProcessHop just reports
// the error, it never talks back to whoever handed it the packet.
func ProcessHop(nodePriv *exchange.ECDH, p *Packet) (result *ProcessResult, err error) {
	_, end := telemetry.StartSpan(context.Background(), telemetry.SpanSphinxProcessHop)
	defer func() { end(err) }()

	header := p.Header[:]
	firstSlot := header[:slotSize]

	ephemeralRaw := firstSlot[:32]
	flag := firstSlot[32]
	var nextAddr [addrSize]byte
	copy(nextAddr[:], firstSlot[33:33+addrSize])
	gotMAC := firstSlot[33+addrSize : 33+addrSize+macSize]

	shared, err := nodePriv.Exchange(marshalRawPointAsPKIX(ephemeralRaw))
	if err != nil {
		return nil, fmt.Errorf("hop dh: %w", err)
	}
	streamKey, macKey, err := deriveHopKeys(shared)
	if err != nil {
		return nil, err
	}

	wantMAC := computeMAC(macKey, firstSlot[:33+addrSize])
	if !hmac.Equal(wantMAC, gotMAC) {
		slog.Warn("sphinx: hop header mac did not verify")
		return nil, ErrInvalidMAC
	}

	payload := append([]byte(nil), p.Payload[:]...)
	if err := xorStream(payload, streamKey); err != nil {
		return nil, fmt.Errorf("peeling payload layer: %w", err)
	}

	newHeader := make([]byte, 0, HeaderSize)
	newHeader = append(newHeader, header[slotSize:]...)
	filler := make([]byte, slotSize)
	if _, err := rand.Read(filler); err != nil {
		return nil, fmt.Errorf("generating filler: %w", err)
	}
	newHeader = append(newHeader, filler...)

	out := &Packet{Version: p.Version}
	copy(out.Header[:], newHeader)
	copy(out.Payload[:], payload)

	switch flag {
	case flagFinal:
		return &ProcessResult{NextAddr: nextAddr, Final: true, Cover: isCoverTag(payload), Packet: out}, nil
	case flagRelay:
		return &ProcessResult{NextAddr: nextAddr, Final: false, Packet: out}, nil
	default:
		return nil, fmt.Errorf("sphinx: unknown routing flag %#x", flag)
	}
}

// ProcessHopGuarded is ProcessHop plus a replay check against guard: a
// header MAC this node has already processed is rejected with
// ErrReplayedHop before any DH or payload work happens.
func ProcessHopGuarded(nodePriv *exchange.ECDH, p *Packet, guard *ReplayGuard) (*ProcessResult, error) {
	firstSlot := p.Header[:slotSize]
	gotMAC := firstSlot[33+addrSize : 33+addrSize+macSize]
	if guard.Contains(gotMAC) {
		slog.Warn("sphinx: hop mac already seen, dropping")
		return nil, ErrReplayedHop
	}

	result, err := ProcessHop(nodePriv, p)
	if err != nil {
		return nil, err
	}
	guard.Record(gotMAC)
	return result, nil
}

func isCoverTag(payload []byte) bool {
	return len(payload) > 0 && payload[0] == flagCover && bytes.Count(payload, []byte{0}) == len(payload)
}

func deriveHopKeys(shared []byte) (streamKey, macKey []byte, err error) {
	keys, err := primitives.DeriveN(nil, shared, []byte("sphinx:hop"), 2)
	if err != nil {
		return nil, nil, fmt.Errorf("deriving hop keys: %w", err)
	}
	return keys[0], keys[1], nil
}

func computeMAC(macKey, data []byte) []byte {
	h := hmac.New(sha256.New, macKey)
	h.Write(data)
	return h.Sum(nil)
}

// xorStream XORs data in place with a ChaCha20 keystream under key (a fixed
// zero nonce is safe here: every hop key is single-use, derived fresh from a
// unique ephemeral DH).
func xorStream(data, key []byte) error {
	var nonce [chacha20.NonceSize]byte
	c, err := chacha20.NewUnauthenticatedCipher(key, nonce[:])
	if err != nil {
		return err
	}
	c.XORKeyStream(data, data)
	return nil
}

// marshalRawPointAsPKIX and the raw-point slot encoding above trade a
// standards-correct PKIX encoding (44 bytes) for the raw 32-byte X25519
// point so it fits the header slot budget; pkg/exchange.ECDH.Exchange expects
// PKIX, so hop processing re-wraps it before calling Exchange.
func marshalRawPointAsPKIX(raw []byte) []byte {
	// crypto/x509's PKIX encoding of an X25519 key is a fixed ASN.1 prefix
	// followed by the 32-byte raw point; reconstructing it avoids having to
	// carry the prefix (identical for every key) across the wire.
	const pkixX25519Prefix = "302a300506032b656e032100"
	prefix := mustHexDecode(pkixX25519Prefix)
	out := make([]byte, 0, len(prefix)+len(raw))
	out = append(out, prefix...)
	out = append(out, raw...)
	return out
}

func mustHexDecode(s string) []byte {
	out := make([]byte, len(s)/2)
	for i := range out {
		hi := hexVal(s[i*2])
		lo := hexVal(s[i*2+1])
		out[i] = hi<<4 | lo
	}
	return out
}

func hexVal(b byte) byte {
	switch {
	case b >= '0' && b <= '9':
		return b - '0'
	case b >= 'a' && b <= 'f':
		return b - 'a' + 10
	default:
		return 0
	}
}
