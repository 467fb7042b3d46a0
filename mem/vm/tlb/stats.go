package tlb

import "sync/atomic"

// LevelStats is a snapshot of the counters of one TLB level.
type LevelStats struct {
	Capacity  int
	Resident  int
	Lookups   uint64
	Hits      uint64
	Misses    uint64
	Inserts   uint64
	Evictions uint64
}

// HitRate returns hits over lookups, or 0 before the first lookup.
func (s LevelStats) HitRate() float64 {
	if s.Lookups == 0 {
		return 0
	}

	return float64(s.Hits) / float64(s.Lookups)
}

// levelCounters are updated by the owning vCPU and may be read by anybody.
type levelCounters struct {
	lookups   atomic.Uint64
	hits      atomic.Uint64
	misses    atomic.Uint64
	inserts   atomic.Uint64
	evictions atomic.Uint64
	resident  atomic.Int64
}

func (c *levelCounters) snapshot(capacity int) LevelStats {
	return LevelStats{
		Capacity:  capacity,
		Resident:  int(c.resident.Load()),
		Lookups:   c.lookups.Load(),
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Inserts:   c.inserts.Load(),
		Evictions: c.evictions.Load(),
	}
}

// Stats is a snapshot of the counters of a TLB hierarchy.
type Stats struct {
	Levels []LevelStats

	// Entries counts the distinct entries resident in any level.
	Entries int

	PrefetchIssued uint64
	PrefetchHits   uint64
	PrefetchWasted uint64
	Preheated      uint64
	Promotions     uint64
	Demotions      uint64
}

// Lookups returns the number of lookups that reached the hierarchy.
func (s Stats) Lookups() uint64 {
	if len(s.Levels) == 0 {
		return 0
	}

	return s.Levels[0].Lookups
}

// Hits returns the number of lookups served by any level.
func (s Stats) Hits() uint64 {
	var hits uint64
	for _, l := range s.Levels {
		hits += l.Hits
	}

	return hits
}

// Misses returns the number of lookups that missed every level.
func (s Stats) Misses() uint64 {
	return s.Lookups() - s.Hits()
}

// HitRate returns the fraction of lookups served by any level.
func (s Stats) HitRate() float64 {
	if s.Lookups() == 0 {
		return 0
	}

	return float64(s.Hits()) / float64(s.Lookups())
}

type hierarchyCounters struct {
	prefetchIssued atomic.Uint64
	prefetchHits   atomic.Uint64
	prefetchWasted atomic.Uint64
	preheated      atomic.Uint64
	promotions     atomic.Uint64
	demotions      atomic.Uint64
}
