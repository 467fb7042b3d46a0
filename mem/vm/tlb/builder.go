package tlb

import (
	"log"
)

// LevelConfig configures one level of a MultiLevel TLB.
type LevelConfig struct {
	Capacity int
	Policy   ReplacementPolicy
}

// A Builder can build MultiLevel TLBs.
type Builder struct {
	levels         [NumLevels]LevelConfig
	prefetchWindow int
	maxStride      int
	historyLen     int
	seed           uint64
}

// MakeBuilder returns a Builder with 64, 256 and 1024 entries in L1, L2 and
// L3.
func MakeBuilder() Builder {
	return Builder{
		levels: [NumLevels]LevelConfig{
			{Capacity: 64, Policy: LRU},
			{Capacity: 256, Policy: Hybrid},
			{Capacity: 1024, Policy: LFU},
		},
		prefetchWindow: 4,
		maxStride:      4,
		historyLen:     256,
		seed:           1,
	}
}

// WithLevel sets the capacity and the replacement policy of level i, where 0
// is L1.
func (b Builder) WithLevel(i int, capacity int, policy ReplacementPolicy) Builder {
	b.levels[i] = LevelConfig{Capacity: capacity, Policy: policy}
	return b
}

// WithCapacities sets the number of entries of the three levels.
func (b Builder) WithCapacities(l1, l2, l3 int) Builder {
	b.levels[0].Capacity = l1
	b.levels[1].Capacity = l2
	b.levels[2].Capacity = l3

	return b
}

// WithL1Capacity sets the number of entries of L1.
func (b Builder) WithL1Capacity(n int) Builder {
	b.levels[0].Capacity = n
	return b
}

// WithL2Capacity sets the number of entries of L2.
func (b Builder) WithL2Capacity(n int) Builder {
	b.levels[1].Capacity = n
	return b
}

// WithL3Capacity sets the number of entries of L3.
func (b Builder) WithL3Capacity(n int) Builder {
	b.levels[2].Capacity = n
	return b
}

// WithLevelPolicy sets the replacement policy of level i, where 0 is L1.
func (b Builder) WithLevelPolicy(i int, p ReplacementPolicy) Builder {
	b.levels[i].Policy = p
	return b
}

// WithPolicy uses the same replacement policy in every level.
func (b Builder) WithPolicy(p ReplacementPolicy) Builder {
	for i := range b.levels {
		b.levels[i].Policy = p
	}

	return b
}

// WithPrefetchWindow sets how many prefetches are served per drain. Use 0 to
// disable stride prefetching.
func (b Builder) WithPrefetchWindow(n int) Builder {
	b.prefetchWindow = n
	return b
}

// WithMaxStride sets the largest page distance between two misses that
// counts as a stride.
func (b Builder) WithMaxStride(n int) Builder {
	b.maxStride = n
	return b
}

// WithHistoryLen sets how many lookups are remembered for stride detection.
func (b Builder) WithHistoryLen(n int) Builder {
	b.historyLen = n
	return b
}

// WithSeed sets the seed of random replacement.
func (b Builder) WithSeed(seed uint64) Builder {
	b.seed = seed
	return b
}

// Levels returns the level configuration the builder would use.
func (b Builder) Levels() [NumLevels]LevelConfig {
	return b.levels
}

// Build creates a MultiLevel TLB.
func (b Builder) Build() *MultiLevel {
	b.mustBeValid()

	m := &MultiLevel{
		arena:     newArena(),
		history:   newAccessHistory(b.historyLen),
		queue:     NewPrefetchQueue(2 * b.prefetchWindow),
		window:    b.prefetchWindow,
		maxStride: b.maxStride,
	}
	m.arena.onFree = m.onFree

	for i, l := range b.levels {
		m.levels[i] = newCache(
			l.Capacity, l.Policy, b.seed+uint64(i), m.arena, &m.clock)
	}

	return m
}

func (b Builder) mustBeValid() {
	for i, l := range b.levels {
		if l.Capacity <= 0 {
			log.Panicf("L%d capacity must be positive, got %d",
				i+1, l.Capacity)
		}
	}

	if b.prefetchWindow < 0 {
		log.Panicf("prefetch window must not be negative")
	}

	if b.maxStride < 1 {
		log.Panicf("max stride must be at least 1")
	}

	if b.historyLen < 1 {
		log.Panicf("history length must be at least 1")
	}
}
