package mmu

import "github.com/sarchlab/softmmu/mem/vm/tlb"

// Stats is a snapshot of the counters of a SoftMMU.
type Stats struct {
	Instruction tlb.Stats
	Data        tlb.Stats

	// Walks counts the page walks of translations. PrefetchWalks counts the
	// speculative walks of preheating and prefetching.
	Walks            uint64
	PrefetchWalks    uint64
	Faults           uint64
	MalformedWalks   uint64
	OutOfBoundsWalks uint64
}

// Stats returns a snapshot of the counters. It may be called from any
// goroutine.
func (m *SoftMMU) Stats() Stats {
	return Stats{
		Instruction:      m.itlb.Stats(),
		Data:             m.dtlb.Stats(),
		Walks:            m.walks.Load(),
		PrefetchWalks:    m.prefetchWalks.Load(),
		Faults:           m.faults.Load(),
		MalformedWalks:   m.malformed.Load(),
		OutOfBoundsWalks: m.outOfBounds.Load(),
	}
}
