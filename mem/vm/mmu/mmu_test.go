package mmu

import (
	"bytes"
	"errors"
	"log"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/softmmu/mem/physmem"
	"github.com/sarchlab/softmmu/mem/vm"
	"github.com/sarchlab/softmmu/mem/vm/pagewalk"
	"github.com/sarchlab/softmmu/sim"
)

const (
	tableBase  = 0x10_0000
	tableLimit = 0x20_0000
)

func newTables(mode vm.PagingMode, mem *physmem.Storage) *pagewalk.TableBuilder {
	b, err := pagewalk.NewTableBuilder(mode, mem, tableBase, tableLimit)
	Expect(err).NotTo(HaveOccurred())

	return b
}

func pageFault(err error) *vm.PageFault {
	var fault *vm.PageFault
	Expect(errors.As(err, &fault)).To(BeTrue(), "expected a page fault, got %v", err)

	return fault
}

var _ = Describe("SoftMMU with hand written Sv39 tables", func() {
	var (
		mem *physmem.Storage
		m   *SoftMMU
	)

	BeforeEach(func() {
		mem = physmem.NewStorage(1 << 20)

		Expect(mem.WriteUint64(0x10000, 0x11000>>12<<10|1)).To(Succeed())
		Expect(mem.WriteUint64(0x11000, 0x12000>>12<<10|1)).To(Succeed())
		Expect(mem.WriteUint64(0x12008, 0x5<<10|uint64(vm.FlagRead)|1)).
			To(Succeed())

		m = MakeBuilder().
			WithStorage(mem).
			WithPagingMode(vm.Sv39).
			WithRootTable(0x10000).
			Build("MMU")
	})

	It("should translate a read", func() {
		gpa, err := m.Translate(0x1000, vm.Read)

		Expect(err).NotTo(HaveOccurred())
		Expect(gpa).To(Equal(vm.GPA(0x5000)))
	})

	It("should fault on a write", func() {
		_, err := m.Translate(0x1000, vm.Write)

		fault := pageFault(err)
		Expect(fault.IsWrite).To(BeTrue())
		Expect(fault.Addr).To(Equal(vm.GVA(0x1000)))
	})
})

var _ = Describe("SoftMMU", func() {
	var (
		mem    *physmem.Storage
		tables *pagewalk.TableBuilder
		m      *SoftMMU
	)

	mapPage := func(va vm.GVA, pa vm.GPA, flags vm.PTEFlags) {
		Expect(tables.Map(va, pa, flags)).To(Succeed())
	}

	pteFlags := func(va vm.GVA) vm.PTEFlags {
		res, err := tables.Walker().Walk(va, vm.Read, 0, mem)
		Expect(err).NotTo(HaveOccurred())

		return res.Flags
	}

	build := func(b Builder) *SoftMMU {
		return b.WithStorage(mem).
			WithPagingMode(vm.Sv39).
			WithRootTable(tables.Root()).
			WithPrefetchWindow(0).
			Build("MMU")
	}

	BeforeEach(func() {
		mem = physmem.NewStorage(16 << 20)
		tables = newTables(vm.Sv39, mem)

		mapPage(0x1000, 0x40_0000, vm.FlagRead|vm.FlagWrite)
		mapPage(0x2000, 0x40_1000, vm.FlagRead)
		mapPage(0x3000, 0x40_2000, vm.FlagRead|vm.FlagExecute)
		mapPage(0x4000, 0x40_3000, vm.FlagRead|vm.FlagWrite|vm.FlagUser)
		mapPage(0x5000, 0x40_4000, vm.FlagRead|vm.FlagWrite)
		mapPage(0x6000, 0x40_5000, vm.FlagRead|vm.FlagWrite)

		m = build(MakeBuilder())
	})

	Context("when translating", func() {
		It("should fill the data TLB on a miss", func() {
			gpa, err := m.Translate(0x1234, vm.Read)

			Expect(err).NotTo(HaveOccurred())
			Expect(gpa).To(Equal(vm.GPA(0x40_0234)))

			s := m.Stats()
			Expect(s.Walks).To(Equal(uint64(1)))
			Expect(s.Data.Entries).To(Equal(1))
			Expect(s.Instruction.Entries).To(BeZero())
		})

		It("should give the same answer from the TLB", func() {
			first, err := m.Translate(0x1234, vm.Read)
			Expect(err).NotTo(HaveOccurred())

			for range 3 {
				gpa, err := m.Translate(0x1234, vm.Read)
				Expect(err).NotTo(HaveOccurred())
				Expect(gpa).To(Equal(first))
			}

			s := m.Stats()
			Expect(s.Walks).To(Equal(uint64(1)))
			Expect(s.Data.Levels[0].Hits).To(Equal(uint64(3)))
		})

		It("should use the instruction TLB for fetches", func() {
			_, err := m.Translate(0x3000, vm.Execute)

			Expect(err).NotTo(HaveOccurred())
			Expect(m.Stats().Instruction.Entries).To(Equal(1))
			Expect(m.Stats().Data.Entries).To(BeZero())
		})

		It("should not execute data pages", func() {
			_, err := m.Translate(0x1000, vm.Execute)

			Expect(pageFault(err).Cause).To(Equal(vm.CausePermission))
		})

		It("should fault on unmapped pages", func() {
			_, err := m.Translate(0x50_0000, vm.Read)

			Expect(pageFault(err).Cause).To(Equal(vm.CauseNotPresent))
			Expect(m.Stats().Faults).To(Equal(uint64(1)))
			Expect(m.Stats().Data.Entries).To(BeZero())
		})

		It("should refuse writes to read-only pages without side effects", func() {
			_, err := m.Translate(0x2000, vm.Read)
			Expect(err).NotTo(HaveOccurred())
			before := m.TLB(DataSide).Entries()

			err = m.Store(0x2000, []byte{0xff})

			fault := pageFault(err)
			Expect(fault.IsWrite).To(BeTrue())
			Expect(fault.Cause).To(Equal(vm.CausePermission))

			after := m.TLB(DataSide).Entries()
			Expect(after).To(HaveLen(len(before)))
			Expect(after[0].Flags).To(Equal(before[0].Flags))
			Expect(pteFlags(0x2000).Dirty()).To(BeFalse())

			data, _ := mem.Read(0x40_1000, 1)
			Expect(data).To(Equal([]byte{0}))
		})

		It("should bypass translation in machine mode", func() {
			gpa, err := m.TranslateAccess(vm.AccessReq{
				Addr:      0x9999_0000,
				Access:    vm.Write,
				Size:      8,
				Privilege: vm.Machine,
			})

			Expect(err).NotTo(HaveOccurred())
			Expect(gpa).To(Equal(vm.GPA(0x9999_0000)))
			Expect(m.Stats().Walks).To(BeZero())
		})

		It("should accept misaligned accesses by default", func() {
			_, err := m.TranslateAccess(vm.AccessReq{
				Addr: 0x1004, Access: vm.Read, Size: 8,
				Privilege: vm.Supervisor,
			})

			Expect(err).NotTo(HaveOccurred())
		})

		It("should fault on misaligned accesses with strict alignment", func() {
			m = build(MakeBuilder().WithStrictAlign(true))

			_, err := m.TranslateAccess(vm.AccessReq{
				Addr: 0x1004, Access: vm.Read, Size: 8,
				Privilege: vm.Supervisor,
			})

			Expect(pageFault(err).Cause).To(Equal(vm.CauseMisaligned))
			Expect(errors.Is(err, vm.ErrMisaligned)).To(BeTrue())
		})
	})

	Context("with privilege levels", func() {
		It("should keep user mode off supervisor pages", func() {
			m.SetPrivilege(vm.User)

			_, err := m.Translate(0x1000, vm.Read)

			fault := pageFault(err)
			Expect(fault.IsUser).To(BeTrue())
			Expect(fault.Cause).To(Equal(vm.CausePrivilege))
		})

		It("should let user mode use user pages", func() {
			m.SetPrivilege(vm.User)

			_, err := m.Translate(0x4000, vm.Write)
			Expect(err).NotTo(HaveOccurred())
		})

		It("should check privilege on TLB hits", func() {
			m.SetPrivilege(vm.User)
			_, err := m.Translate(0x4000, vm.Read)
			Expect(err).NotTo(HaveOccurred())

			m.SetPrivilege(vm.Supervisor)
			_, err = m.Translate(0x4000, vm.Read)
			Expect(pageFault(err).Cause).To(Equal(vm.CausePrivilege))

			m.SetSupervisorUserAccess(true)
			_, err = m.Translate(0x4000, vm.Read)
			Expect(err).NotTo(HaveOccurred())
			Expect(m.Stats().Walks).To(Equal(uint64(1)))
		})
	})

	Context("with address spaces", func() {
		It("should not share entries between ASIDs", func() {
			_, err := m.Translate(0x1000, vm.Read)
			Expect(err).NotTo(HaveOccurred())

			m.SetASID(1)
			_, err = m.Translate(0x1000, vm.Read)
			Expect(err).NotTo(HaveOccurred())

			Expect(m.Stats().Walks).To(Equal(uint64(2)))
			Expect(m.Stats().Data.Entries).To(Equal(2))
		})

		It("should flush the current ASID when the root changes", func() {
			m.SetASID(1)
			m.Translate(0x1000, vm.Read)
			m.SetASID(2)
			m.Translate(0x1000, vm.Read)

			m.SetRootTable(tables.Root())

			d := m.TLB(DataSide)
			Expect(d.Contains(1, 1)).To(BeTrue())
			Expect(d.Contains(1, 2)).To(BeFalse())
		})

		It("should honour an overridden root change rule", func() {
			m = build(MakeBuilder().WithRootChangeFlush(RootFlushNone))
			m.Translate(0x1000, vm.Read)

			m.SetRootTable(tables.Root())

			Expect(m.TLB(DataSide).Len()).To(Equal(1))
		})

		It("should flush everything when the paging mode changes", func() {
			m.Translate(0x1000, vm.Read)
			m.Translate(0x3000, vm.Execute)

			m.SetPagingMode(vm.Bare)

			Expect(m.TLB(DataSide).Len()).To(BeZero())
			Expect(m.TLB(InstructionSide).Len()).To(BeZero())

			gpa, err := m.Translate(0x1000, vm.Read)
			Expect(err).NotTo(HaveOccurred())
			Expect(gpa).To(Equal(vm.GPA(0x1000)))
		})
	})

	Context("when flushing", func() {
		BeforeEach(func() {
			m.Translate(0x1000, vm.Read)
			m.Translate(0x5000, vm.Read)
			m.Translate(0x3000, vm.Execute)
		})

		It("should flush a page from both sides", func() {
			m.FlushPage(0x1abc)

			Expect(m.TLB(DataSide).Len()).To(Equal(1))
			Expect(m.TLB(InstructionSide).Len()).To(Equal(1))
		})

		It("should flush the pages overlapping a range", func() {
			m.FlushRange(0x3fff, 0x5001)

			Expect(m.TLB(DataSide).Len()).To(Equal(1))
			Expect(m.TLB(InstructionSide).Len()).To(BeZero())
		})

		It("should ignore empty ranges", func() {
			m.FlushRange(0x5000, 0x5000)

			Expect(m.TLB(DataSide).Len()).To(Equal(2))
		})

		It("should flush an ASID", func() {
			m.FlushASID(0)

			Expect(m.TLB(DataSide).Len()).To(BeZero())
			Expect(m.TLB(InstructionSide).Len()).To(BeZero())
		})

		It("should walk again after a flush", func() {
			m.Flush()
			m.Translate(0x1000, vm.Read)

			Expect(m.Stats().Walks).To(Equal(uint64(4)))
		})
	})

	Context("with accessed and dirty bits", func() {
		It("should keep them in the TLB only by default", func() {
			_, err := m.Translate(0x1000, vm.Write)
			Expect(err).NotTo(HaveOccurred())

			Expect(pteFlags(0x1000).Dirty()).To(BeFalse())
			Expect(m.TLB(DataSide).Entries()[0].Flags.Dirty()).To(BeTrue())
		})

		It("should mark a page dirty on the first write after a read", func() {
			m.Translate(0x1000, vm.Read)
			m.Translate(0x1000, vm.Write)

			Expect(m.Stats().Walks).To(Equal(uint64(1)))
			Expect(m.TLB(DataSide).Entries()[0].Flags.Dirty()).To(BeTrue())
		})

		It("should write them to the page table when tracking", func() {
			m = build(MakeBuilder().WithTrackADBits(true))

			m.Translate(0x1000, vm.Read)
			Expect(pteFlags(0x1000).Accessed()).To(BeTrue())
			Expect(pteFlags(0x1000).Dirty()).To(BeFalse())

			m.Translate(0x1000, vm.Write)
			Expect(pteFlags(0x1000).Dirty()).To(BeTrue())
			Expect(m.Stats().Walks).To(Equal(uint64(2)))

			m.Translate(0x1000, vm.Write)
			Expect(m.Stats().Walks).To(Equal(uint64(2)))
		})
	})

	Context("with broken page tables", func() {
		var (
			logBuf *bytes.Buffer
		)

		BeforeEach(func() {
			logBuf = new(bytes.Buffer)
		})

		It("should fold malformed entries into a page fault", func() {
			res, err := tables.Walker().Walk(0x1000, vm.Read, 0, mem)
			Expect(err).NotTo(HaveOccurred())
			pte, _ := mem.ReadUint64(res.PTEAddr)
			Expect(mem.WriteUint64(res.PTEAddr, pte|1<<60)).To(Succeed())

			m = build(MakeBuilder().WithLogger(log.New(logBuf, "", 0)))
			_, err = m.Translate(0x1000, vm.Read)

			fault := pageFault(err)
			Expect(fault.Cause).To(Equal(vm.CauseMalformed))

			var malformed *vm.MalformedError
			Expect(errors.As(err, &malformed)).To(BeTrue())
			Expect(malformed.Addr).To(Equal(res.PTEAddr))

			Expect(m.Stats().MalformedWalks).To(Equal(uint64(1)))
			Expect(logBuf.String()).To(ContainSubstring("walk of"))
		})

		It("should fold walks outside memory into a page fault", func() {
			m = MakeBuilder().
				WithStorage(mem).
				WithPagingMode(vm.Sv48).
				WithRootTable(0x4000_0000).
				Build("MMU")

			_, err := m.Translate(0x1000, vm.Read)

			Expect(pageFault(err).Cause).To(Equal(vm.CauseOutOfBounds))
			Expect(errors.Is(err, vm.ErrOutOfBounds)).To(BeTrue())
			Expect(m.Stats().OutOfBoundsWalks).To(Equal(uint64(1)))
		})
	})

	Context("with hooks", func() {
		var (
			mockCtrl *gomock.Controller
		)

		BeforeEach(func() {
			mockCtrl = gomock.NewController(GinkgoT())
		})

		AfterEach(func() {
			mockCtrl.Finish()
		})

		It("should report misses and faults in order", func() {
			var positions []string
			m.AcceptHook(sim.HookFunc(func(ctx sim.HookCtx) {
				positions = append(positions, ctx.Pos.Name)
			}))

			m.Translate(0x1000, vm.Read)
			m.Translate(0x1000, vm.Read)
			m.Translate(0x50_0000, vm.Read)

			Expect(positions).To(Equal([]string{
				"TLBMiss", "TLBMiss", "PageFault",
			}))
		})

		It("should report flushes", func() {
			hook := NewMockHook(mockCtrl)
			m.AcceptHook(hook)

			hook.EXPECT().Func(gomock.Any()).Do(func(ctx sim.HookCtx) {
				Expect(ctx.Domain).To(BeIdenticalTo(m))
				Expect(ctx.Pos).To(BeIdenticalTo(HookPosFlush))
				Expect(ctx.Item).To(Equal(FlushEvent{
					Kind: FlushKindASID,
					ASID: 3,
				}))
			})

			m.FlushASID(3)
		})

		It("should report walk errors with the diagnostic", func() {
			hook := NewMockHook(mockCtrl)
			m = MakeBuilder().
				WithStorage(mem).
				WithPagingMode(vm.Sv39).
				WithRootTable(0x4000_0000).
				Build("MMU")
			m.AcceptHook(hook)

			hook.EXPECT().Func(gomock.Any()).Do(func(ctx sim.HookCtx) {
				Expect(ctx.Pos).To(BeIdenticalTo(HookPosTLBMiss))
			})
			hook.EXPECT().Func(gomock.Any()).Do(func(ctx sim.HookCtx) {
				Expect(ctx.Pos).To(BeIdenticalTo(HookPosWalkError))
				fault := ctx.Detail.(*vm.PageFault)
				Expect(fault.Err).To(HaveOccurred())
			})

			m.Translate(0x1000, vm.Read)
		})
	})
})

var _ = Describe("x86-64 SoftMMU", func() {
	It("should keep global entries across root changes", func() {
		mem := physmem.NewStorage(16 << 20)
		tables := newTables(vm.X86_64, mem)
		Expect(tables.Map(0x1000, 0x40_0000, vm.FlagRead)).To(Succeed())
		Expect(tables.Map(0x2000, 0x40_1000, vm.FlagRead|vm.FlagGlobal)).
			To(Succeed())

		m := MakeBuilder().
			WithStorage(mem).
			WithPagingMode(vm.X86_64).
			WithRootTable(tables.Root()).
			Build("MMU")
		m.Translate(0x1000, vm.Read)
		m.Translate(0x2000, vm.Read)

		m.SetRootTable(tables.Root())

		d := m.TLB(DataSide)
		Expect(d.Contains(1, 0)).To(BeFalse())
		Expect(d.Contains(2, 7)).To(BeTrue())
	})
})

var _ = Describe("ARM64 SoftMMU", func() {
	It("should not flush when the root changes", func() {
		mem := physmem.NewStorage(16 << 20)
		tables := newTables(vm.Arm64, mem)
		Expect(tables.Map(0x1000, 0x40_0000, vm.FlagRead)).To(Succeed())

		m := MakeBuilder().
			WithStorage(mem).
			WithPagingMode(vm.Arm64).
			WithRootTable(tables.Root()).
			Build("MMU")
		_, err := m.Translate(0x1000, vm.Read)
		Expect(err).NotTo(HaveOccurred())

		m.SetRootTable(tables.Root())

		Expect(m.TLB(DataSide).Len()).To(Equal(1))
	})
})
