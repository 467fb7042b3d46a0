// Package mmu provides SoftMMU, the per-vCPU front end of address
// translation. It owns an instruction and a data TLB hierarchy, walks the
// guest page tables on misses and reports failures as page faults.
package mmu

import (
	"errors"
	"log"
	"sync/atomic"

	"github.com/sarchlab/softmmu/mem/physmem"
	"github.com/sarchlab/softmmu/mem/vm"
	"github.com/sarchlab/softmmu/mem/vm/pagewalk"
	"github.com/sarchlab/softmmu/mem/vm/tlb"
	"github.com/sarchlab/softmmu/sim"
)

// RootChangeFlush selects what SetRootTable removes from the TLBs.
type RootChangeFlush int

// The root change rules. RootFlushByMode flushes non-global entries on
// x86-64, the current ASID on Sv39 and Sv48, and nothing on ARM64 and bare
// mode.
const (
	RootFlushByMode RootChangeFlush = iota
	RootFlushNone
	RootFlushASID
	RootFlushNonGlobal
	RootFlushAll
)

// Side selects one of the two TLB hierarchies.
type Side int

// The TLB hierarchies of a SoftMMU.
const (
	InstructionSide Side = iota
	DataSide
)

func (s Side) String() string {
	if s == InstructionSide {
		return "instruction"
	}

	return "data"
}

// SoftMMU translates the addresses of one vCPU. It is not safe for concurrent
// use, except for Stats. The physical memory it walks may be shared.
type SoftMMU struct {
	*sim.HookableBase

	name   string
	mem    *physmem.Storage
	hart   physmem.HartID
	logger *log.Logger

	itlb *tlb.MultiLevel
	dtlb *tlb.MultiLevel

	mode      vm.PagingMode
	root      vm.GPA
	asid      uint16
	privilege vm.Privilege
	sum       bool

	trackAD     bool
	strictAlign bool
	rootFlush   RootChangeFlush
	walker      pagewalk.Walker

	walks         atomic.Uint64
	prefetchWalks atomic.Uint64
	faults        atomic.Uint64
	malformed     atomic.Uint64
	outOfBounds   atomic.Uint64
}

// Name returns the name of the MMU.
func (m *SoftMMU) Name() string {
	return m.name
}

// HartID returns the identity used for load-reserved reservations.
func (m *SoftMMU) HartID() physmem.HartID {
	return m.hart
}

// Storage returns the guest physical memory.
func (m *SoftMMU) Storage() *physmem.Storage {
	return m.mem
}

// PagingMode returns the current paging mode.
func (m *SoftMMU) PagingMode() vm.PagingMode {
	return m.mode
}

// RootTable returns the physical address of the current root table.
func (m *SoftMMU) RootTable() vm.GPA {
	return m.root
}

// ASID returns the current address space ID.
func (m *SoftMMU) ASID() uint16 {
	return m.asid
}

// Privilege returns the current privilege level.
func (m *SoftMMU) Privilege() vm.Privilege {
	return m.privilege
}

// TLB returns the hierarchy of one side.
func (m *SoftMMU) TLB(side Side) *tlb.MultiLevel {
	if side == InstructionSide {
		return m.itlb
	}

	return m.dtlb
}

// SetPagingMode switches the page table format. Changing the mode flushes
// both TLBs.
func (m *SoftMMU) SetPagingMode(mode vm.PagingMode) {
	if mode == m.mode {
		return
	}

	m.mode = mode
	m.walker = pagewalk.New(m.mode, m.root).WithTrackAD(m.trackAD)
	m.Flush()
}

// SetRootTable installs a new root table and flushes according to the root
// change rule.
func (m *SoftMMU) SetRootTable(root vm.GPA) {
	m.root = root
	m.walker = pagewalk.New(m.mode, m.root).WithTrackAD(m.trackAD)

	switch m.rootChangeRule() {
	case RootFlushAll:
		m.Flush()
	case RootFlushNonGlobal:
		m.FlushNonGlobal()
	case RootFlushASID:
		m.FlushASID(m.asid)
	}
}

func (m *SoftMMU) rootChangeRule() RootChangeFlush {
	if m.rootFlush != RootFlushByMode {
		return m.rootFlush
	}

	switch m.mode {
	case vm.X86_64:
		return RootFlushNonGlobal
	case vm.Sv39, vm.Sv48:
		return RootFlushASID
	default:
		return RootFlushNone
	}
}

// SetASID switches the address space. Entries are tagged, so nothing is
// flushed.
func (m *SoftMMU) SetASID(asid uint16) {
	m.asid = asid
}

// SetPrivilege sets the privilege level used by Translate.
func (m *SoftMMU) SetPrivilege(p vm.Privilege) {
	m.privilege = p
}

// SetSupervisorUserAccess sets whether supervisor mode may read and write
// user pages.
func (m *SoftMMU) SetSupervisorUserAccess(allow bool) {
	m.sum = allow
}

// Translate translates va for an access of one byte at the current privilege
// level.
func (m *SoftMMU) Translate(va vm.GVA, access vm.AccessType) (vm.GPA, error) {
	return m.TranslateAccess(vm.AccessReq{
		Addr:      va,
		Access:    access,
		Size:      1,
		Privilege: m.privilege,
	})
}

// TranslateAccess translates the first byte of an access. With strict
// alignment, accesses that are not naturally aligned fault. Machine mode and
// bare mode do not translate.
func (m *SoftMMU) TranslateAccess(req vm.AccessReq) (vm.GPA, error) {
	if req.Size == 0 {
		req.Size = 1
	}

	if m.strictAlign && !isAligned(req.Addr, req.Size) {
		return 0, m.misaligned(req)
	}

	return m.translate(req)
}

func (m *SoftMMU) translate(req vm.AccessReq) (vm.GPA, error) {
	if req.Privilege == vm.Machine || m.mode == vm.Bare {
		return vm.GPA(req.Addr), nil
	}

	h := m.TLB(sideOf(req.Access))
	vpn := req.Addr.VPN()
	need := vm.AccessFlags(req.Access)

	if e, ok := h.Lookup(vpn, m.asid); ok {
		cause, allowed := vm.CheckPermission(
			e.Flags, req.Access, req.Privilege, m.sum)
		if !allowed {
			return 0, m.pageFault(req, cause)
		}

		if e.Flags.Has(need) {
			return e.Translate(req.Addr), nil
		}

		if !m.trackAD {
			e.Flags |= need
			h.Insert(e)

			return e.Translate(req.Addr), nil
		}
	} else {
		m.invoke(HookPosTLBMiss, req, nil)
	}

	return m.walkAndFill(h, req)
}

func (m *SoftMMU) walkAndFill(h *tlb.MultiLevel, req vm.AccessReq) (vm.GPA, error) {
	m.walks.Add(1)

	res, err := m.walker.WalkWith(req.Addr, req.Access, m.asid, m.mem,
		pagewalk.Options{
			CheckPrivilege: true,
			Privilege:      req.Privilege,
			SUM:            m.sum,
		})
	if err != nil {
		return 0, m.walkFailed(req, err)
	}

	e := entryOf(res, m.asid)
	if !m.trackAD {
		e.Flags |= vm.AccessFlags(req.Access)
	}

	h.Insert(e)
	h.DrainPrefetch(m.resolver(req.Access))

	return res.GPA, nil
}

func (m *SoftMMU) pageFault(req vm.AccessReq, cause vm.FaultCause) error {
	fault := vm.NewPageFault(req.Addr, req.Access, req.Privilege, cause)
	m.faults.Add(1)
	m.invoke(HookPosPageFault, req, fault)

	return fault
}

func (m *SoftMMU) misaligned(req vm.AccessReq) error {
	fault := vm.NewPageFault(req.Addr, req.Access, req.Privilege,
		vm.CauseMisaligned)
	fault.Err = vm.ErrMisaligned
	m.faults.Add(1)
	m.invoke(HookPosPageFault, req, fault)

	return fault
}

// walkFailed turns a walker error into the fault the guest sees.
func (m *SoftMMU) walkFailed(req vm.AccessReq, err error) error {
	var fault *vm.PageFault
	if errors.As(err, &fault) {
		m.faults.Add(1)
		m.invoke(HookPosPageFault, req, fault)

		return fault
	}

	cause := vm.CauseOutOfBounds
	if errors.Is(err, vm.ErrMalformed) {
		cause = vm.CauseMalformed
		m.malformed.Add(1)
	} else {
		m.outOfBounds.Add(1)
	}

	fault = vm.NewPageFault(req.Addr, req.Access, req.Privilege, cause)
	fault.Err = err
	m.faults.Add(1)

	m.logf("%s: walk of %s failed: %v", m.name, req.Addr, err)
	m.invoke(HookPosWalkError, req, fault)

	return fault
}

func (m *SoftMMU) logf(format string, args ...interface{}) {
	if m.logger == nil {
		return
	}

	m.logger.Printf(format, args...)
}

func sideOf(access vm.AccessType) Side {
	if access == vm.Execute {
		return InstructionSide
	}

	return DataSide
}

func isAligned(va vm.GVA, size uint64) bool {
	if size&(size-1) != 0 {
		return false
	}

	return uint64(va)&(size-1) == 0
}

func entryOf(res pagewalk.Result, asid uint16) tlb.Entry {
	return tlb.Entry{
		VPN:      res.VPN(),
		PPN:      res.PPN(),
		Flags:    res.Flags,
		ASID:     asid,
		PageSize: res.PageSize,
	}
}
