package tlb

import (
	"fmt"
	"log"
	"strings"

	"github.com/sarchlab/softmmu/mem/vm/tlb/internal"
)

// ReplacementPolicy selects how a TLB level picks eviction victims.
type ReplacementPolicy int

// The supported replacement policies.
const (
	LRU ReplacementPolicy = iota
	LFU
	FIFO
	Random
	Clock
	TwoQueue
	Hybrid
)

var policyNames = []string{
	LRU:      "lru",
	LFU:      "lfu",
	FIFO:     "fifo",
	Random:   "random",
	Clock:    "clock",
	TwoQueue: "2q",
	Hybrid:   "hybrid",
}

func (p ReplacementPolicy) String() string {
	if int(p) < 0 || int(p) >= len(policyNames) {
		return fmt.Sprintf("ReplacementPolicy(%d)", int(p))
	}

	return policyNames[p]
}

// ParseReplacementPolicy converts a policy name such as "lru" or "2q".
func ParseReplacementPolicy(s string) (ReplacementPolicy, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "twoqueue" {
		name = "2q"
	}

	for p, n := range policyNames {
		if n == name {
			return ReplacementPolicy(p), nil
		}
	}

	return LRU, fmt.Errorf("unknown replacement policy %q", s)
}

func newVictimFinder(
	p ReplacementPolicy,
	capacity int,
	seed uint64,
) internal.VictimFinder {
	switch p {
	case LRU:
		return internal.NewLRUVictimFinder()
	case LFU:
		return internal.NewLFUVictimFinder()
	case FIFO:
		return internal.NewFIFOVictimFinder()
	case Random:
		return internal.NewRandomVictimFinder(seed)
	case Clock:
		return internal.NewClockVictimFinder()
	case TwoQueue:
		return internal.NewTwoQueueVictimFinder(capacity)
	case Hybrid:
		return internal.NewHybridVictimFinder()
	default:
		log.Panicf("unknown replacement policy %d", int(p))
	}

	return nil
}
