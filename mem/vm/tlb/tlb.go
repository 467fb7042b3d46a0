// Package tlb caches guest virtual to guest physical translations.
//
// A Cache is a single fully associative level. A MultiLevel chains three
// Caches that share their entries, promotes entries on hits, demotes
// evicted entries to the next level, and prefetches along detected strides.
package tlb

import (
	"log"
	"sort"

	"github.com/sarchlab/softmmu/mem/vm/tlb/internal"
)

// Cache is one fully associative TLB level. Global entries are stored apart
// from the per-ASID entries and match lookups from every address space.
//
// A Cache belongs to one vCPU and is not safe for concurrent use. Only Stats
// may be called from other goroutines.
type Cache struct {
	capacity int
	policy   ReplacementPolicy

	arena  *arena
	finder internal.VictimFinder
	clock  *uint64

	global  map[uint64]internal.Handle
	perASID map[uint16]map[uint64]internal.Handle

	counters levelCounters
}

// NewCache creates a standalone level that holds up to capacity entries.
func NewCache(capacity int, policy ReplacementPolicy) *Cache {
	var clock uint64

	return newCache(capacity, policy, 1, newArena(), &clock)
}

func newCache(
	capacity int,
	policy ReplacementPolicy,
	seed uint64,
	a *arena,
	clock *uint64,
) *Cache {
	if capacity <= 0 {
		log.Panicf("tlb capacity must be positive, got %d", capacity)
	}

	return &Cache{
		capacity: capacity,
		policy:   policy,
		arena:    a,
		finder:   newVictimFinder(policy, capacity, seed),
		clock:    clock,
		global:   make(map[uint64]internal.Handle),
		perASID:  make(map[uint16]map[uint64]internal.Handle),
	}
}

// Capacity returns the maximum number of entries of the level.
func (c *Cache) Capacity() int {
	return c.capacity
}

// Policy returns the replacement policy of the level.
func (c *Cache) Policy() ReplacementPolicy {
	return c.policy
}

// Len returns the number of resident entries.
func (c *Cache) Len() int {
	return c.finder.Len()
}

// Lookup searches for the translation of vpn in the address space asid. A
// hit updates the access statistics of the entry.
func (c *Cache) Lookup(vpn uint64, asid uint16) (Entry, bool) {
	h, ok := c.lookupHandle(vpn, asid)
	if !ok {
		return Entry{}, false
	}

	return *c.arena.get(h), true
}

// Contains tells if vpn is resident without counting a lookup.
func (c *Cache) Contains(vpn uint64, asid uint16) bool {
	_, ok := c.find(vpn, asid)
	return ok
}

// Insert installs e. An entry with the same page, address space and
// globalness is overwritten in place. Otherwise, if the level is full, a
// victim is evicted and returned.
func (c *Cache) Insert(e Entry) (evicted Entry, ok bool) {
	if h, found := c.findKey(keyOf(&e)); found {
		c.update(h, e)
		return Entry{}, false
	}

	h := c.arena.alloc(e)
	c.touch(h)

	victim, ok := c.insertHandle(h)
	if !ok {
		return Entry{}, false
	}

	evicted = *c.arena.get(victim)
	c.arena.release(victim)

	return evicted, true
}

// Invalidate drops vpn from every address space. It returns the number of
// entries removed.
func (c *Cache) Invalidate(vpn uint64) int {
	var victims []internal.Handle

	if h, ok := c.global[vpn]; ok {
		victims = append(victims, h)
	}

	for _, m := range c.perASID {
		if h, ok := m[vpn]; ok {
			victims = append(victims, h)
		}
	}

	return c.removeAll(victims)
}

// InvalidateASID drops every non-global entry of asid.
func (c *Cache) InvalidateASID(asid uint16) int {
	m := c.perASID[asid]
	victims := make([]internal.Handle, 0, len(m))

	for _, h := range m {
		victims = append(victims, h)
	}

	return c.removeAll(victims)
}

// InvalidateNonGlobal drops every non-global entry of every address space.
func (c *Cache) InvalidateNonGlobal() int {
	var victims []internal.Handle

	for _, m := range c.perASID {
		for _, h := range m {
			victims = append(victims, h)
		}
	}

	return c.removeAll(victims)
}

// InvalidateRange drops the entries whose page number lies in [start, end),
// in every address space.
func (c *Cache) InvalidateRange(start, end uint64) int {
	var victims []internal.Handle

	inRange := func(vpn uint64) bool {
		return vpn >= start && vpn < end
	}

	for vpn, h := range c.global {
		if inRange(vpn) {
			victims = append(victims, h)
		}
	}

	for _, m := range c.perASID {
		for vpn, h := range m {
			if inRange(vpn) {
				victims = append(victims, h)
			}
		}
	}

	return c.removeAll(victims)
}

// InvalidateAll empties the level.
func (c *Cache) InvalidateAll() int {
	n := c.Len()

	for _, h := range c.global {
		c.arena.release(h)
	}

	for _, m := range c.perASID {
		for _, h := range m {
			c.arena.release(h)
		}
	}

	c.global = make(map[uint64]internal.Handle)
	c.perASID = make(map[uint16]map[uint64]internal.Handle)
	c.finder.Reset()
	c.counters.resident.Store(0)

	return n
}

// Entries returns a copy of the resident entries, ordered by page number and
// address space.
func (c *Cache) Entries() []Entry {
	entries := make([]Entry, 0, c.Len())

	for _, h := range c.global {
		entries = append(entries, *c.arena.get(h))
	}

	for _, m := range c.perASID {
		for _, h := range m {
			entries = append(entries, *c.arena.get(h))
		}
	}

	sortEntries(entries)

	return entries
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].VPN != entries[j].VPN {
			return entries[i].VPN < entries[j].VPN
		}

		return entries[i].ASID < entries[j].ASID
	})
}

// Stats returns a snapshot of the level counters.
func (c *Cache) Stats() LevelStats {
	return c.counters.snapshot(c.capacity)
}

func (c *Cache) lookupHandle(vpn uint64, asid uint16) (internal.Handle, bool) {
	c.counters.lookups.Add(1)

	h, ok := c.find(vpn, asid)
	if !ok {
		c.counters.misses.Add(1)
		return 0, false
	}

	c.counters.hits.Add(1)
	c.touch(h)
	c.finder.Touch(h)

	return h, true
}

func (c *Cache) find(vpn uint64, asid uint16) (internal.Handle, bool) {
	if h, ok := c.global[vpn]; ok {
		return h, true
	}

	h, ok := c.perASID[asid][vpn]

	return h, ok
}

func (c *Cache) findKey(k key) (internal.Handle, bool) {
	if k.global {
		h, ok := c.global[k.vpn]
		return h, ok
	}

	h, ok := c.perASID[k.asid][k.vpn]

	return h, ok
}

func (c *Cache) touch(h internal.Handle) {
	*c.clock++

	e := c.arena.get(h)
	e.AccessCount++
	e.LastAccess = *c.clock
}

// update refreshes the translation of a resident entry, keeping its access
// history.
func (c *Cache) update(h internal.Handle, e Entry) {
	cur := c.arena.get(h)
	cur.PPN = e.PPN
	cur.Flags = e.Flags
	cur.PageSize = e.PageSize
	cur.PrefetchMark = e.PrefetchMark
	cur.HotMark = cur.HotMark || e.HotMark

	c.touch(h)
	c.finder.Touch(h)
}

// insertHandle links h, which must not be resident, evicting a victim first
// if the level is full. The reference to the victim is handed to the caller.
func (c *Cache) insertHandle(h internal.Handle) (internal.Handle, bool) {
	var (
		victim  internal.Handle
		evicted bool
	)

	if c.Len() >= c.capacity {
		victim = c.pickVictim()
		c.unlink(victim)
		c.counters.evictions.Add(1)

		evicted = true
	}

	c.link(h)
	c.counters.inserts.Add(1)

	return victim, evicted
}

// pickVictim asks the finder for a victim, letting each hot entry survive
// once.
func (c *Cache) pickVictim() internal.Handle {
	h, ok := c.finder.Victim(c.spareHot)
	if !ok {
		log.Panicf("tlb level is full but has no victim")
	}

	return h
}

func (c *Cache) spareHot(h internal.Handle) bool {
	e := c.arena.get(h)
	if !e.HotMark {
		return false
	}

	e.HotMark = false

	return true
}

func (c *Cache) link(h internal.Handle) {
	k := keyOf(c.arena.get(h))

	if k.global {
		c.global[k.vpn] = h
	} else {
		m, ok := c.perASID[k.asid]
		if !ok {
			m = make(map[uint64]internal.Handle)
			c.perASID[k.asid] = m
		}

		m[k.vpn] = h
	}

	c.finder.Insert(h)
	c.counters.resident.Add(1)
}

func (c *Cache) unlink(h internal.Handle) {
	k := keyOf(c.arena.get(h))

	if k.global {
		delete(c.global, k.vpn)
	} else {
		m := c.perASID[k.asid]
		delete(m, k.vpn)

		if len(m) == 0 {
			delete(c.perASID, k.asid)
		}
	}

	c.finder.Remove(h)
	c.counters.resident.Add(-1)
}

func (c *Cache) remove(h internal.Handle) {
	c.unlink(h)
	c.arena.release(h)
}

func (c *Cache) removeAll(handles []internal.Handle) int {
	for _, h := range handles {
		c.remove(h)
	}

	return len(handles)
}
