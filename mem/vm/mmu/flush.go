package mmu

import (
	"github.com/sarchlab/softmmu/mem/vm"
)

// Flush empties both TLBs.
func (m *SoftMMU) Flush() {
	m.itlb.InvalidateAll()
	m.dtlb.InvalidateAll()

	m.invoke(HookPosFlush, FlushEvent{Kind: FlushKindAll}, nil)
}

// FlushASID removes the non-global entries of asid from both TLBs.
func (m *SoftMMU) FlushASID(asid uint16) {
	m.itlb.InvalidateASID(asid)
	m.dtlb.InvalidateASID(asid)

	m.invoke(HookPosFlush, FlushEvent{Kind: FlushKindASID, ASID: asid}, nil)
}

// FlushNonGlobal removes every non-global entry from both TLBs.
func (m *SoftMMU) FlushNonGlobal() {
	m.itlb.InvalidateNonGlobal()
	m.dtlb.InvalidateNonGlobal()

	m.invoke(HookPosFlush, FlushEvent{Kind: FlushKindNonGlobal}, nil)
}

// FlushRange removes the pages overlapping [start, end) of every address
// space from both TLBs.
func (m *SoftMMU) FlushRange(start, end vm.GVA) {
	if end <= start {
		return
	}

	first := start.VPN()
	last := (end - 1).VPN() + 1

	m.itlb.InvalidateRange(first, last)
	m.dtlb.InvalidateRange(first, last)

	m.invoke(HookPosFlush,
		FlushEvent{Kind: FlushKindRange, Start: start, End: end}, nil)
}

// FlushPage removes the page of va of every address space from both TLBs.
func (m *SoftMMU) FlushPage(va vm.GVA) {
	m.itlb.Invalidate(va.VPN())
	m.dtlb.Invalidate(va.VPN())

	m.invoke(HookPosFlush,
		FlushEvent{Kind: FlushKindPage, Start: va.PageBase(),
			End: va.PageBase() + vm.GVA(vm.PageSize)}, nil)
}
