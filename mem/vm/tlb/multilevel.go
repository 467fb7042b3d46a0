package tlb

import (
	"github.com/sarchlab/softmmu/mem/vm/tlb/internal"
)

// NumLevels is the number of levels of a MultiLevel TLB.
const NumLevels = 3

// A Resolver produces the translation of a page outside the TLB, usually by
// walking the page tables. It returns false if the page cannot be translated.
type Resolver interface {
	Resolve(vpn uint64, asid uint16) (Entry, bool)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(vpn uint64, asid uint16) (Entry, bool)

// Resolve calls f.
func (f ResolverFunc) Resolve(vpn uint64, asid uint16) (Entry, bool) {
	return f(vpn, asid)
}

// MultiLevel is a three level TLB. All the levels refer to one pool of
// entries, so an entry promoted to L1 keeps its copy in the lower levels.
// Entries evicted from a level move down to the next one and leave the
// hierarchy when evicted from the last.
//
// Misses feed a stride detector that queues prefetch requests. The queue is
// served by DrainPrefetch.
type MultiLevel struct {
	arena  *arena
	clock  uint64
	levels [NumLevels]*Cache

	history   *accessHistory
	queue     *PrefetchQueue
	window    int
	maxStride int

	counters hierarchyCounters
}

// Level returns the level i, counting from 0 for L1.
func (m *MultiLevel) Level(i int) *Cache {
	return m.levels[i]
}

// Len returns the number of distinct resident entries.
func (m *MultiLevel) Len() int {
	return m.arena.liveEntries()
}

// PrefetchWindow returns the maximum number of prefetches per drain.
func (m *MultiLevel) PrefetchWindow() int {
	return m.window
}

// PrefetchQueue returns the queue of pending prefetches.
func (m *MultiLevel) PrefetchQueue() *PrefetchQueue {
	return m.queue
}

// Contains tells if any level holds vpn, without counting a lookup.
func (m *MultiLevel) Contains(vpn uint64, asid uint16) bool {
	for _, l := range m.levels {
		if l.Contains(vpn, asid) {
			return true
		}
	}

	return false
}

// Lookup searches the levels in order. A hit below L1 promotes the entry to
// L1. A miss in every level may queue prefetch requests.
func (m *MultiLevel) Lookup(vpn uint64, asid uint16) (Entry, bool) {
	for i, l := range m.levels {
		h, ok := l.lookupHandle(vpn, asid)
		if !ok {
			continue
		}

		e := m.arena.get(h)
		if e.PrefetchMark {
			e.PrefetchMark = false
			m.counters.prefetchHits.Add(1)
		}

		if i > 0 {
			m.promote(h)
		}

		m.history.record(vpn, asid)

		return *m.arena.get(h), true
	}

	m.detectStride(vpn, asid)
	m.history.record(vpn, asid)

	return Entry{}, false
}

// Insert installs e in L1. An existing entry for the same page is refreshed
// and moved to L1.
func (m *MultiLevel) Insert(e Entry) {
	k := keyOf(&e)

	if h, ok := m.levels[0].findKey(k); ok {
		m.levels[0].update(h, e)
		return
	}

	for _, l := range m.levels[1:] {
		if h, ok := l.findKey(k); ok {
			l.update(h, e)
			m.promote(h)

			return
		}
	}

	h := m.arena.alloc(e)
	m.levels[0].touch(h)
	m.fill(h)
}

// fill links h into L1, taking over the caller's reference, and pushes the
// L1 victim down.
func (m *MultiLevel) fill(h internal.Handle) {
	victim, evicted := m.levels[0].insertHandle(h)
	if evicted {
		m.demote(victim, 1)
	}
}

func (m *MultiLevel) promote(h internal.Handle) {
	m.arena.retain(h)
	m.counters.promotions.Add(1)
	m.fill(h)
}

// demote moves an entry evicted from level idx-1 down the hierarchy. It owns
// one reference to h.
func (m *MultiLevel) demote(h internal.Handle, idx int) {
	for ; idx < NumLevels; idx++ {
		l := m.levels[idx]

		if _, ok := l.findKey(keyOf(m.arena.get(h))); ok {
			break
		}

		m.counters.demotions.Add(1)

		victim, evicted := l.insertHandle(h)
		if !evicted {
			return
		}

		h = victim
	}

	m.arena.release(h)
}

// Invalidate drops vpn of every address space from every level.
func (m *MultiLevel) Invalidate(vpn uint64) {
	for _, l := range m.levels {
		l.Invalidate(vpn)
	}

	m.queue.RemoveIf(func(r PrefetchRequest) bool { return r.VPN == vpn })
}

// InvalidateASID drops the non-global entries of asid from every level.
func (m *MultiLevel) InvalidateASID(asid uint16) {
	for _, l := range m.levels {
		l.InvalidateASID(asid)
	}

	m.queue.RemoveIf(func(r PrefetchRequest) bool { return r.ASID == asid })
}

// InvalidateNonGlobal drops every non-global entry from every level.
func (m *MultiLevel) InvalidateNonGlobal() {
	for _, l := range m.levels {
		l.InvalidateNonGlobal()
	}

	m.queue.Clear()
}

// InvalidateRange drops the pages in [start, end) from every level.
func (m *MultiLevel) InvalidateRange(start, end uint64) {
	for _, l := range m.levels {
		l.InvalidateRange(start, end)
	}

	m.queue.RemoveIf(func(r PrefetchRequest) bool {
		return r.VPN >= start && r.VPN < end
	})
}

// InvalidateAll empties the hierarchy and forgets the access history.
func (m *MultiLevel) InvalidateAll() {
	for _, l := range m.levels {
		l.InvalidateAll()
	}

	m.queue.Clear()
	m.history.reset()
}

// DrainPrefetch resolves up to one window of queued requests and installs
// the results marked as prefetched. It returns the number of installed
// entries.
func (m *MultiLevel) DrainPrefetch(r Resolver) int {
	n := 0

	for n < m.window {
		req, ok := m.queue.Pop()
		if !ok {
			break
		}

		if m.Contains(req.VPN, req.ASID) {
			continue
		}

		e, ok := r.Resolve(req.VPN, req.ASID)
		if !ok {
			continue
		}

		e.PrefetchMark = true
		m.Insert(e)
		n++
	}

	m.counters.prefetchIssued.Add(uint64(n))

	return n
}

// Preheat resolves and installs the given pages ahead of use. The installed
// entries are marked as prefetched and hot. It returns the number of pages
// that resolved.
func (m *MultiLevel) Preheat(vpns []uint64, asid uint16, r Resolver) int {
	n := 0

	for _, vpn := range vpns {
		e, ok := r.Resolve(vpn, asid)
		if !ok {
			continue
		}

		e.PrefetchMark = true
		e.HotMark = true
		m.Insert(e)
		n++
	}

	m.counters.preheated.Add(uint64(n))

	return n
}

// Entries returns the distinct resident entries, ordered by page number.
func (m *MultiLevel) Entries() []Entry {
	seen := make(map[key]bool)

	var entries []Entry

	for _, l := range m.levels {
		for _, e := range l.Entries() {
			k := keyOf(&e)
			if seen[k] {
				continue
			}

			seen[k] = true
			entries = append(entries, e)
		}
	}

	sortEntries(entries)

	return entries
}

// Stats returns a snapshot of the counters of the hierarchy.
func (m *MultiLevel) Stats() Stats {
	s := Stats{
		Levels:         make([]LevelStats, 0, NumLevels),
		Entries:        m.arena.liveEntries(),
		PrefetchIssued: m.counters.prefetchIssued.Load(),
		PrefetchHits:   m.counters.prefetchHits.Load(),
		PrefetchWasted: m.counters.prefetchWasted.Load(),
		Preheated:      m.counters.preheated.Load(),
		Promotions:     m.counters.promotions.Load(),
		Demotions:      m.counters.demotions.Load(),
	}

	for _, l := range m.levels {
		s.Levels = append(s.Levels, l.Stats())
	}

	return s
}

func (m *MultiLevel) detectStride(vpn uint64, asid uint16) {
	if m.window == 0 {
		return
	}

	prev, ok := m.history.lastOther(vpn, asid)
	if !ok {
		return
	}

	delta, ok := strideOf(prev, vpn, m.maxStride)
	if !ok {
		return
	}

	m.queue.Push(PrefetchRequest{VPN: vpn + uint64(delta), ASID: asid})
}

func (m *MultiLevel) onFree(e Entry) {
	if e.PrefetchMark {
		m.counters.prefetchWasted.Add(1)
	}
}
