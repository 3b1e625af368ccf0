package fragment

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ElMoorish/ComLock/internal/zero"
	"github.com/ElMoorish/ComLock/pkg/config"
	"github.com/ElMoorish/ComLock/pkg/telemetry"
)

// ErrReassemblyTimeout is returned when a fragment group's first-seen time
// exceeds the reassembly window before every fragment has arrived.
var ErrReassemblyTimeout = errors.New("fragment: reassembly timed out")

// Split divides ciphertext into fragments of at most size bytes, per spec
// §4.4 ("total = ceil(len/F)"). The returned fragments share one random
// group_id.
func Split(ciphertext []byte, size int) (out []*KEMFragment, err error) {
	_, end := telemetry.StartSpan(context.Background(), telemetry.SpanFragmentSplit)
	defer func() { end(err) }()

	if size <= 0 {
		return nil, fmt.Errorf("fragment: size must be positive")
	}
	total := (len(ciphertext) + size - 1) / size
	if total == 0 {
		total = 1
	}
	if total > 0xFFFF {
		return nil, fmt.Errorf("fragment: ciphertext needs more than 65535 fragments at size %d", size)
	}

	var groupIDBuf [8]byte
	if _, err := rand.Read(groupIDBuf[:]); err != nil {
		return nil, fmt.Errorf("generating group id: %w", err)
	}
	groupID := binary.BigEndian.Uint64(groupIDBuf[:])

	out = make([]*KEMFragment, 0, total)
	for i := 0; i < total; i++ {
		start := i * size
		end := start + size
		if end > len(ciphertext) {
			end = len(ciphertext)
		}
		out = append(out, &KEMFragment{
			GroupID: groupID,
			Index:   uint16(i),
			Total:   uint16(total),
			Bytes:   append([]byte(nil), ciphertext[start:end]...),
		})
	}
	return out, nil
}

type group struct {
	total     uint16
	pieces    map[uint16][]byte
	firstSeen time.Time
}

func (g *group) complete() bool {
	return len(g.pieces) == int(g.total)
}

func (g *group) assemble() []byte {
	out := make([]byte, 0)
	for i := uint16(0); i < g.total; i++ {
		out = append(out, g.pieces[i]...)
	}
	return out
}

func (g *group) zeroize() {
	for _, b := range g.pieces {
		zero.Bytes(b)
	}
}

// Reassembler buffers in-flight fragment groups, tolerating out-of-order
// arrival within a 60-second window (spec §4.4, §9's "reassembly_buffers"
// design note: group_id → {received_fragments, total_expected,
// first_seen_time}).
type Reassembler struct {
	mu     sync.Mutex
	groups map[uint64]*group
	ttl    time.Duration
}

// NewReassembler returns an empty reassembler using config.Defaults()'s
// reassembly timeout.
func NewReassembler() *Reassembler {
	return NewReassemblerWithConfig(config.Defaults())
}

// NewReassemblerWithConfig returns an empty reassembler bounded to
// cfg.Session.ReassemblyTimeout, the knob SPEC_FULL.md's AMBIENT STACK
// config section names.
func NewReassemblerWithConfig(cfg config.Config) *Reassembler {
	ttl := cfg.Session.ReassemblyTimeout
	if ttl <= 0 {
		ttl = config.Defaults().Session.ReassemblyTimeout
	}
	return &Reassembler{groups: make(map[uint64]*group), ttl: ttl}
}

// Absorb feeds one fragment into its group's buffer. It returns the
// reassembled ciphertext and true once every fragment for that group has
// arrived; otherwise it returns (nil, false, nil) and the caller should
// proceed using the braid's existing last_kem_secret, per spec §4.4's rule
// that fragment arrival is independent of message decryption.
func (r *Reassembler) Absorb(f *KEMFragment) (ciphertext []byte, complete bool, err error) {
	_, end := telemetry.StartSpan(context.Background(), telemetry.SpanFragmentAbsorb)
	defer func() { end(err) }()

	if f == nil {
		return nil, false, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[f.GroupID]
	if !ok {
		g = &group{total: f.Total, pieces: make(map[uint16][]byte), firstSeen: time.Now()}
		r.groups[f.GroupID] = g
	}
	if time.Since(g.firstSeen) > r.ttl {
		g.zeroize()
		delete(r.groups, f.GroupID)
		slog.Warn("fragment: reassembly window expired", "group_id", f.GroupID)
		return nil, false, ErrReassemblyTimeout
	}

	if _, seen := g.pieces[f.Index]; !seen {
		g.pieces[f.Index] = append([]byte(nil), f.Bytes...)
	}

	if !g.complete() {
		return nil, false, nil
	}

	ciphertext = g.assemble()
	g.zeroize()
	delete(r.groups, f.GroupID)
	return ciphertext, true, nil
}

// GC drops any fragment group whose first-seen time exceeds the reassembly
// window, zeroizing its buffered fragments. Callers run this periodically
// (spec §9's cooperative scheduler loop) rather than on every Absorb call so
// a group that never completes doesn't wait for a next fragment to be
// evicted.
func (r *Reassembler) GC() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	var expired []uint64
	now := time.Now()
	for id, g := range r.groups {
		if now.Sub(g.firstSeen) > r.ttl {
			g.zeroize()
			delete(r.groups, id)
			expired = append(expired, id)
		}
	}
	if len(expired) > 0 {
		slog.Debug("fragment: gc evicted expired groups", "count", len(expired))
	}
	return expired
}

// Pending reports how many fragment groups are currently buffered, mostly
// useful for tests and metrics.
func (r *Reassembler) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.groups)
}
