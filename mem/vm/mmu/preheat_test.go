package mmu

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/softmmu/mem/physmem"
	"github.com/sarchlab/softmmu/mem/vm"
	"github.com/sarchlab/softmmu/mem/vm/pagewalk"
	"github.com/sarchlab/softmmu/mem/vm/tlb"
)

var _ = Describe("Preheat", func() {
	var (
		mem    *physmem.Storage
		tables *pagewalk.TableBuilder
		m      *SoftMMU
	)

	BeforeEach(func() {
		mem = physmem.NewStorage(16 << 20)
		tables = newTables(vm.Sv39, mem)

		for vpn := uint64(1); vpn <= 5; vpn++ {
			Expect(tables.Map(vm.GVAFromVPN(vpn), vm.GPAFromPPN(0x400+vpn),
				vm.FlagRead|vm.FlagExecute)).To(Succeed())
		}

		m = MakeBuilder().
			WithStorage(mem).
			WithPagingMode(vm.Sv39).
			WithRootTable(tables.Root()).
			Build("MMU")
	})

	It("should install a window of pages per entry point", func() {
		n := m.Preheat(PreheatConfig{
			Mode:      PreheatEntryPoints,
			Addresses: []vm.GVA{0x1000, 0x2000},
			Window:    4,
		})

		Expect(n).To(Equal(8))
		Expect(m.Stats().Instruction.Entries).To(Equal(5))

		gpa, err := m.Translate(0x1000, vm.Execute)

		Expect(err).NotTo(HaveOccurred())
		Expect(gpa).To(Equal(vm.GPA(0x40_1000)))

		s := m.Stats()
		Expect(s.Walks).To(BeZero())
		Expect(s.Instruction.Levels[0].Hits).To(Equal(uint64(1)))
		Expect(s.Instruction.PrefetchHits).To(Equal(uint64(1)))
	})

	It("should use the default window", func() {
		n := m.Preheat(PreheatConfig{
			Mode:      PreheatEntryPoints,
			Addresses: []vm.GVA{0x1000},
		})

		Expect(n).To(Equal(DefaultPreheatWindow))
	})

	It("should skip pages that are not mapped", func() {
		n := m.Preheat(PreheatConfig{
			Mode:      PreheatEntryPoints,
			Addresses: []vm.GVA{0x4000},
			Window:    4,
		})

		Expect(n).To(Equal(2))
		Expect(m.Stats().Faults).To(BeZero())
	})

	It("should cover code segments", func() {
		n := m.Preheat(PreheatConfig{
			Mode:     PreheatCodeSegments,
			Segments: []Segment{{Start: 0x1800, Size: 0x2000}},
		})
		Expect(n).To(Equal(3))

		n = m.Preheat(PreheatConfig{
			Mode:     PreheatCodeSegments,
			Segments: []Segment{{Start: 0x1000, Size: 0x4000}},
			Window:   2,
		})
		Expect(n).To(Equal(2))
	})

	It("should install custom pages into the data TLB", func() {
		n := m.Preheat(PreheatConfig{
			Mode:      PreheatCustom,
			Addresses: []vm.GVA{0x3000, 0x9000},
			Target:    DataSide,
		})

		Expect(n).To(Equal(1))
		Expect(m.TLB(DataSide).Contains(3, 0)).To(BeTrue())
		Expect(m.TLB(InstructionSide).Len()).To(BeZero())
	})

	It("should do nothing when disabled", func() {
		n := m.Preheat(PreheatConfig{
			Addresses: []vm.GVA{0x1000},
		})

		Expect(n).To(BeZero())
	})

	It("should do nothing in bare mode", func() {
		m.SetPagingMode(vm.Bare)

		n := m.Preheat(PreheatConfig{
			Mode:      PreheatEntryPoints,
			Addresses: []vm.GVA{0x1000},
		})

		Expect(n).To(BeZero())
	})

	It("should not touch accessed bits", func() {
		m = MakeBuilder().
			WithStorage(mem).
			WithPagingMode(vm.Sv39).
			WithRootTable(tables.Root()).
			WithTrackADBits(true).
			Build("MMU")

		m.Preheat(PreheatConfig{
			Mode:      PreheatEntryPoints,
			Addresses: []vm.GVA{0x1000},
		})

		res, err := tables.Walker().Walk(0x1000, vm.Read, 0, mem)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Flags.Accessed()).To(BeFalse())
	})

	It("should preheat when built", func() {
		m = MakeBuilder().
			WithStorage(mem).
			WithPagingMode(vm.Sv39).
			WithRootTable(tables.Root()).
			WithPreheat(PreheatConfig{
				Mode:      PreheatEntryPoints,
				Addresses: []vm.GVA{0x2000},
				Window:    2,
			}).
			Build("MMU")

		Expect(m.TLB(InstructionSide).Len()).To(Equal(2))
		Expect(m.Stats().Instruction.Preheated).To(Equal(uint64(2)))
	})
})

var _ = DescribeTable("ParsePreheatMode",
	func(name string, want PreheatMode) {
		p, err := ParsePreheatMode(name)

		Expect(err).NotTo(HaveOccurred())
		Expect(p).To(Equal(want))
	},
	Entry("disabled", "disabled", PreheatDisabled),
	Entry("entry points", "entry-points", PreheatEntryPoints),
	Entry("underscores", "CODE_SEGMENTS", PreheatCodeSegments),
	Entry("no separator", "entrypoints", PreheatEntryPoints),
	Entry("custom", "custom", PreheatCustom),
)

var _ = Describe("Stride prefetching", func() {
	var (
		m *SoftMMU
	)

	BeforeEach(func() {
		mem := physmem.NewStorage(16 << 20)
		tables := newTables(vm.Sv39, mem)

		for vpn := uint64(0x100); vpn < 0x110; vpn++ {
			Expect(tables.Map(vm.GVAFromVPN(vpn), vm.GPAFromPPN(vpn+0x300),
				vm.FlagRead|vm.FlagWrite)).To(Succeed())
		}

		m = MakeBuilder().
			WithStorage(mem).
			WithPagingMode(vm.Sv39).
			WithRootTable(tables.Root()).
			WithTLB(tlb.MakeBuilder().WithPrefetchWindow(4)).
			Build("MMU")
	})

	It("should prefetch the next page of a stride", func() {
		m.Translate(0x10_0000, vm.Read)
		m.Translate(0x10_2000, vm.Read)

		gpa, err := m.Translate(0x10_4010, vm.Read)

		Expect(err).NotTo(HaveOccurred())
		Expect(gpa).To(Equal(vm.GPA(0x40_4010)))

		s := m.Stats()
		Expect(s.Walks).To(Equal(uint64(2)))
		Expect(s.PrefetchWalks).To(Equal(uint64(1)))
		Expect(s.Data.PrefetchHits).To(Equal(uint64(1)))
	})

	It("should serve queued prefetches on demand", func() {
		m.TLB(DataSide).PrefetchQueue().Push(tlb.PrefetchRequest{VPN: 0x108})
		m.TLB(InstructionSide).PrefetchQueue().
			Push(tlb.PrefetchRequest{VPN: 0x109})

		n := m.ProcessPrefetch()

		Expect(n).To(Equal(1))
		Expect(m.TLB(DataSide).Contains(0x108, 0)).To(BeTrue())
		Expect(m.TLB(InstructionSide).Len()).To(BeZero())
	})

	It("should not prefetch for other address spaces", func() {
		m.TLB(DataSide).PrefetchQueue().
			Push(tlb.PrefetchRequest{VPN: 0x108, ASID: 5})

		Expect(m.ProcessPrefetch()).To(BeZero())
		Expect(m.Stats().PrefetchWalks).To(BeZero())
	})
})
