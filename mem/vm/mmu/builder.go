package mmu

import (
	"log"

	"github.com/sarchlab/softmmu/mem/physmem"
	"github.com/sarchlab/softmmu/mem/vm"
	"github.com/sarchlab/softmmu/mem/vm/pagewalk"
	"github.com/sarchlab/softmmu/mem/vm/tlb"
	"github.com/sarchlab/softmmu/sim"
)

// A Builder can build SoftMMUs.
type Builder struct {
	storage *physmem.Storage
	itlb    tlb.Builder
	dtlb    tlb.Builder

	mode      vm.PagingMode
	root      vm.GPA
	asid      uint16
	privilege vm.Privilege

	trackAD     bool
	strictAlign bool
	rootFlush   RootChangeFlush
	preheat     PreheatConfig

	hart   physmem.HartID
	logger *log.Logger
}

// MakeBuilder creates a builder for supervisor mode MMUs in bare mode, with
// the default TLB hierarchy on both sides.
func MakeBuilder() Builder {
	return Builder{
		itlb:      tlb.MakeBuilder(),
		dtlb:      tlb.MakeBuilder(),
		mode:      vm.Bare,
		privilege: vm.Supervisor,
	}
}

// WithStorage sets the guest physical memory. It may be shared by many
// MMUs.
func (b Builder) WithStorage(s *physmem.Storage) Builder {
	b.storage = s
	return b
}

// WithTLB sets the hierarchy configuration of both sides.
func (b Builder) WithTLB(t tlb.Builder) Builder {
	b.itlb = t
	b.dtlb = t

	return b
}

// WithInstructionTLB sets the hierarchy configuration of the instruction
// side.
func (b Builder) WithInstructionTLB(t tlb.Builder) Builder {
	b.itlb = t
	return b
}

// WithDataTLB sets the hierarchy configuration of the data side.
func (b Builder) WithDataTLB(t tlb.Builder) Builder {
	b.dtlb = t
	return b
}

// WithL1Capacity sets the L1 capacity of both sides.
func (b Builder) WithL1Capacity(n int) Builder {
	b.itlb = b.itlb.WithL1Capacity(n)
	b.dtlb = b.dtlb.WithL1Capacity(n)

	return b
}

// WithL2Capacity sets the L2 capacity of both sides.
func (b Builder) WithL2Capacity(n int) Builder {
	b.itlb = b.itlb.WithL2Capacity(n)
	b.dtlb = b.dtlb.WithL2Capacity(n)

	return b
}

// WithL3Capacity sets the L3 capacity of both sides.
func (b Builder) WithL3Capacity(n int) Builder {
	b.itlb = b.itlb.WithL3Capacity(n)
	b.dtlb = b.dtlb.WithL3Capacity(n)

	return b
}

// WithPolicy sets the replacement policy of one level, 0 being L1, on both
// sides.
func (b Builder) WithPolicy(level int, p tlb.ReplacementPolicy) Builder {
	b.itlb = b.itlb.WithLevelPolicy(level, p)
	b.dtlb = b.dtlb.WithLevelPolicy(level, p)

	return b
}

// WithPrefetchWindow sets the stride prefetch window of both sides. Use 0 to
// disable prefetching.
func (b Builder) WithPrefetchWindow(n int) Builder {
	b.itlb = b.itlb.WithPrefetchWindow(n)
	b.dtlb = b.dtlb.WithPrefetchWindow(n)

	return b
}

// WithMaxStride sets the longest detected stride, in pages.
func (b Builder) WithMaxStride(n int) Builder {
	b.itlb = b.itlb.WithMaxStride(n)
	b.dtlb = b.dtlb.WithMaxStride(n)

	return b
}

// WithHistoryLen sets how many lookups the stride detector remembers.
func (b Builder) WithHistoryLen(n int) Builder {
	b.itlb = b.itlb.WithHistoryLen(n)
	b.dtlb = b.dtlb.WithHistoryLen(n)

	return b
}

// WithPagingMode sets the initial paging mode.
func (b Builder) WithPagingMode(mode vm.PagingMode) Builder {
	b.mode = mode
	return b
}

// WithRootTable sets the initial root table.
func (b Builder) WithRootTable(root vm.GPA) Builder {
	b.root = root
	return b
}

// WithASID sets the initial address space ID.
func (b Builder) WithASID(asid uint16) Builder {
	b.asid = asid
	return b
}

// WithPrivilege sets the initial privilege level.
func (b Builder) WithPrivilege(p vm.Privilege) Builder {
	b.privilege = p
	return b
}

// WithTrackADBits makes walks write accessed and dirty bits back into the
// guest page tables. Without it the bits are kept in the TLB entries only.
func (b Builder) WithTrackADBits(track bool) Builder {
	b.trackAD = track
	return b
}

// WithStrictAlign makes accesses that are not naturally aligned fault.
func (b Builder) WithStrictAlign(strict bool) Builder {
	b.strictAlign = strict
	return b
}

// WithRootChangeFlush overrides what SetRootTable flushes.
func (b Builder) WithRootChangeFlush(rule RootChangeFlush) Builder {
	b.rootFlush = rule
	return b
}

// WithPreheat sets pages to install when the MMU is built.
func (b Builder) WithPreheat(cfg PreheatConfig) Builder {
	b.preheat = cfg
	return b
}

// WithHartID sets the identity used for reservations. A new ID is generated
// if none is given.
func (b Builder) WithHartID(hart physmem.HartID) Builder {
	b.hart = hart
	return b
}

// WithLogger sets where walk errors are logged. A nil logger keeps the MMU
// silent.
func (b Builder) WithLogger(logger *log.Logger) Builder {
	b.logger = logger
	return b
}

// Build creates a SoftMMU.
func (b Builder) Build(name string) *SoftMMU {
	b.mustBeValid()

	m := &SoftMMU{
		HookableBase: sim.NewHookableBase(),
		name:         name,
		mem:          b.storage,
		hart:         b.hart,
		logger:       b.logger,
		itlb:         b.itlb.Build(),
		dtlb:         b.dtlb.Build(),
		mode:         b.mode,
		root:         b.root,
		asid:         b.asid,
		privilege:    b.privilege,
		trackAD:      b.trackAD,
		strictAlign:  b.strictAlign,
		rootFlush:    b.rootFlush,
	}

	if m.hart == "" {
		m.hart = physmem.NewHartID()
	}

	m.walker = pagewalk.New(m.mode, m.root).WithTrackAD(m.trackAD)

	if b.preheat.Mode != PreheatDisabled {
		m.Preheat(b.preheat)
	}

	return m
}

func (b Builder) mustBeValid() {
	if b.storage == nil {
		log.Panic("a SoftMMU needs a storage")
	}
}
