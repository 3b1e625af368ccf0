package braid

import (
	"container/list"

	"github.com/ElMoorish/ComLock/internal/zero"
)

type skippedKey struct {
	epoch   uint64
	counter uint64
}

// skippedKeyCache is a bounded LRU mapping (chain epoch, counter) to a
// once-usable message key, used to tolerate out-of-order delivery within the
// window (spec §3, §8 property 8).
type skippedKeyCache struct {
	capacity int
	order    *list.List
	entries  map[skippedKey]*list.Element
}

type skippedEntry struct {
	key skippedKey
	val []byte
}

// newSkippedKeyCache returns an empty cache bounded to capacity entries, the
// skipped-key window size config.Session.SkippedKeyCapacity carries (spec
// §3/§5, LRU-evicted).
func newSkippedKeyCache(capacity int) *skippedKeyCache {
	return &skippedKeyCache{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[skippedKey]*list.Element),
	}
}

func (c *skippedKeyCache) put(epoch, counter uint64, key []byte) {
	k := skippedKey{epoch, counter}
	if el, ok := c.entries[k]; ok {
		zero.Bytes(el.Value.(*skippedEntry).val)
		el.Value.(*skippedEntry).val = key
		c.order.MoveToFront(el)
		return
	}
	el := c.order.PushFront(&skippedEntry{key: k, val: key})
	c.entries[k] = el
	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		entry := oldest.Value.(*skippedEntry)
		zero.Bytes(entry.val)
		delete(c.entries, entry.key)
		c.order.Remove(oldest)
	}
}

func (c *skippedKeyCache) take(epoch, counter uint64) ([]byte, bool) {
	k := skippedKey{epoch, counter}
	el, ok := c.entries[k]
	if !ok {
		return nil, false
	}
	val := el.Value.(*skippedEntry).val
	delete(c.entries, k)
	c.order.Remove(el)
	return val, true
}

func (c *skippedKeyCache) len() int {
	return c.order.Len()
}

// zeroizeAll destroys every cached key, used on session wipe.
func (c *skippedKeyCache) zeroizeAll() {
	for el := c.order.Front(); el != nil; el = el.Next() {
		zero.Bytes(el.Value.(*skippedEntry).val)
	}
	c.order.Init()
	c.entries = make(map[skippedKey]*list.Element)
}
