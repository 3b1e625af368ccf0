package sphinx

import (
	"container/list"
	"encoding/hex"
)

// replayGuardCapacity bounds how many recent per-hop MACs a node remembers,
// shaped like pkg/braid's skipped-key LRU.
const replayGuardCapacity = 4096

// ReplayGuard tracks recently seen header MACs for one relay node, rejecting
// a packet whose hop slot MAC it has already processed. A node keeps one
// guard for its own hops; MACs are bound to the node's DH-derived mac key so
// a collision across distinct shared secrets is cryptographically
// implausible.
type ReplayGuard struct {
	capacity int
	order    *list.List
	seen     map[string]*list.Element
}

// NewReplayGuard returns an empty guard with the default capacity.
func NewReplayGuard() *ReplayGuard {
	return &ReplayGuard{
		capacity: replayGuardCapacity,
		order:    list.New(),
		seen:     make(map[string]*list.Element),
	}
}

// Contains reports whether mac has already been recorded, without recording
// it.
func (g *ReplayGuard) Contains(mac []byte) bool {
	key := hex.EncodeToString(mac)
	el, ok := g.seen[key]
	if ok {
		g.order.MoveToFront(el)
	}
	return ok
}

// Record marks mac as seen, evicting the oldest entry once over capacity.
func (g *ReplayGuard) Record(mac []byte) {
	key := hex.EncodeToString(mac)
	if el, ok := g.seen[key]; ok {
		g.order.MoveToFront(el)
		return
	}

	el := g.order.PushFront(key)
	g.seen[key] = el
	for g.order.Len() > g.capacity {
		oldest := g.order.Back()
		if oldest == nil {
			break
		}
		delete(g.seen, oldest.Value.(string))
		g.order.Remove(oldest)
	}
}

// Len reports how many MACs are currently tracked.
func (g *ReplayGuard) Len() int {
	return g.order.Len()
}
