package mmu

import (
	"github.com/sarchlab/softmmu/mem/vm"
	"github.com/sarchlab/softmmu/sim"
)

// HookPosTLBMiss marks a translation that missed every TLB level. The item is
// the vm.AccessReq.
var HookPosTLBMiss = &sim.HookPos{Name: "TLBMiss"}

// HookPosPageFault marks a translation that failed with an ordinary page
// fault. The item is the vm.AccessReq and the detail the *vm.PageFault.
var HookPosPageFault = &sim.HookPos{Name: "PageFault"}

// HookPosWalkError marks a walk that met a broken page table or left guest
// memory. The item is the vm.AccessReq and the detail the *vm.PageFault
// returned to the guest, whose Err holds the diagnostic.
var HookPosWalkError = &sim.HookPos{Name: "WalkError"}

// HookPosFlush marks a TLB flush. The item is a FlushEvent.
var HookPosFlush = &sim.HookPos{Name: "Flush"}

// HookPosPreheat marks a completed preheat. The item is the PreheatConfig
// and the detail the number of installed entries.
var HookPosPreheat = &sim.HookPos{Name: "Preheat"}

// FlushKind tells what a flush removed.
type FlushKind int

// The kinds of flushes.
const (
	FlushKindAll FlushKind = iota
	FlushKindASID
	FlushKindNonGlobal
	FlushKindRange
	FlushKindPage
)

var flushKindNames = []string{
	FlushKindAll:       "all",
	FlushKindASID:      "asid",
	FlushKindNonGlobal: "non-global",
	FlushKindRange:     "range",
	FlushKindPage:      "page",
}

func (k FlushKind) String() string {
	return flushKindNames[k]
}

// A FlushEvent describes a flush reported at HookPosFlush.
type FlushEvent struct {
	Kind  FlushKind
	ASID  uint16
	Start vm.GVA
	End   vm.GVA
}

func (m *SoftMMU) invoke(pos *sim.HookPos, item, detail interface{}) {
	if m.NumHooks() == 0 {
		return
	}

	m.InvokeHook(sim.HookCtx{
		Domain: m,
		Pos:    pos,
		Item:   item,
		Detail: detail,
	})
}
