package trace

import (
	"context"
	"time"

	"github.com/sarchlab/softmmu/datarecording"
	"github.com/sarchlab/softmmu/mem/vm/mmu"
	"github.com/sarchlab/softmmu/mem/vm/tlb"
	"github.com/sarchlab/softmmu/sim"
)

// The tables a StatsSampler writes to.
const (
	MMUStatsTable   = "mmu_stats"
	LevelStatsTable = "tlb_level_stats"
)

type mmuStatsEntry struct {
	Time             float64
	Location         string
	Walks            uint64
	PrefetchWalks    uint64
	Faults           uint64
	MalformedWalks   uint64
	OutOfBoundsWalks uint64
}

type levelStatsEntry struct {
	Time           float64
	Location       string
	Side           string
	Level          int
	Capacity       int
	Resident       int
	Lookups        uint64
	Hits           uint64
	Misses         uint64
	Inserts        uint64
	Evictions      uint64
	PrefetchIssued uint64
	PrefetchHits   uint64
	PrefetchWasted uint64
}

// A StatsSampler periodically copies the counters of SoftMMUs into a data
// recorder.
type StatsSampler struct {
	timeTeller   sim.TimeTeller
	dataRecorder datarecording.DataRecorder
}

// NewStatsSampler creates a StatsSampler and the tables it writes to.
func NewStatsSampler(
	dataRecorder datarecording.DataRecorder,
	timeTeller sim.TimeTeller,
) *StatsSampler {
	s := &StatsSampler{
		timeTeller:   timeTeller,
		dataRecorder: dataRecorder,
	}

	dataRecorder.CreateTable(MMUStatsTable, mmuStatsEntry{})
	dataRecorder.CreateTable(LevelStatsTable, levelStatsEntry{})

	return s
}

// Sample records the current counters of every given MMU.
func (s *StatsSampler) Sample(mmus ...*mmu.SoftMMU) {
	now := float64(s.timeTeller.CurrentTime())

	for _, m := range mmus {
		stats := m.Stats()

		s.dataRecorder.InsertData(MMUStatsTable, mmuStatsEntry{
			Time:             now,
			Location:         m.Name(),
			Walks:            stats.Walks,
			PrefetchWalks:    stats.PrefetchWalks,
			Faults:           stats.Faults,
			MalformedWalks:   stats.MalformedWalks,
			OutOfBoundsWalks: stats.OutOfBoundsWalks,
		})

		s.sampleSide(now, m.Name(), mmu.InstructionSide, stats.Instruction)
		s.sampleSide(now, m.Name(), mmu.DataSide, stats.Data)
	}
}

func (s *StatsSampler) sampleSide(
	now float64,
	location string,
	side mmu.Side,
	stats tlb.Stats,
) {
	for i, l := range stats.Levels {
		entry := levelStatsEntry{
			Time:      now,
			Location:  location,
			Side:      side.String(),
			Level:     i + 1,
			Capacity:  l.Capacity,
			Resident:  l.Resident,
			Lookups:   l.Lookups,
			Hits:      l.Hits,
			Misses:    l.Misses,
			Inserts:   l.Inserts,
			Evictions: l.Evictions,
		}

		if i == 0 {
			entry.PrefetchIssued = stats.PrefetchIssued
			entry.PrefetchHits = stats.PrefetchHits
			entry.PrefetchWasted = stats.PrefetchWasted
		}

		s.dataRecorder.InsertData(LevelStatsTable, entry)
	}
}

// Run samples the MMUs every interval until ctx is done, then takes a final
// sample and flushes the recorder.
func (s *StatsSampler) Run(
	ctx context.Context,
	interval time.Duration,
	mmus ...*mmu.SoftMMU,
) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Sample(mmus...)
			s.dataRecorder.Flush()

			return
		case <-ticker.C:
			s.Sample(mmus...)
		}
	}
}
