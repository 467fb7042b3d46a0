package tlb

import (
	"fmt"
	"log"
	"sync/atomic"

	"github.com/sarchlab/softmmu/mem/vm"
	"github.com/sarchlab/softmmu/mem/vm/tlb/internal"
)

// An Entry is a cached translation of one virtual base page.
type Entry struct {
	VPN      uint64
	PPN      uint64
	Flags    vm.PTEFlags
	ASID     uint16
	PageSize uint64

	AccessCount uint64
	LastAccess  uint64

	// PrefetchMark is set on entries installed before anybody asked for them
	// and cleared on their first hit.
	PrefetchMark bool
	// HotMark entries survive one eviction attempt.
	HotMark bool
}

// Global tells if the entry matches every ASID.
func (e Entry) Global() bool {
	return e.Flags.Global()
}

// Translate returns the physical address of va, which must lie in the page
// of the entry.
func (e Entry) Translate(va vm.GVA) vm.GPA {
	return vm.GPAFromPPN(e.PPN) + vm.GPA(va.PageOffset())
}

func (e Entry) String() string {
	return fmt.Sprintf("vpn 0x%x -> ppn 0x%x asid %d %s",
		e.VPN, e.PPN, e.ASID, e.Flags)
}

type key struct {
	vpn    uint64
	asid   uint16
	global bool
}

func keyOf(e *Entry) key {
	if e.Global() {
		return key{vpn: e.VPN, global: true}
	}

	return key{vpn: e.VPN, asid: e.ASID}
}

type slot struct {
	entry Entry
	refs  int
}

// An arena owns the entries of one TLB hierarchy. Levels refer to entries by
// handle, and an entry lives as long as at least one level refers to it.
type arena struct {
	slots  []slot
	free   []internal.Handle
	live   atomic.Int64
	onFree func(e Entry)
}

func newArena() *arena {
	return &arena{}
}

func (a *arena) alloc(e Entry) internal.Handle {
	a.live.Add(1)

	if n := len(a.free); n > 0 {
		h := a.free[n-1]
		a.free = a.free[:n-1]
		a.slots[h] = slot{entry: e, refs: 1}

		return h
	}

	a.slots = append(a.slots, slot{entry: e, refs: 1})

	return internal.Handle(len(a.slots) - 1)
}

func (a *arena) get(h internal.Handle) *Entry {
	s := &a.slots[h]
	if s.refs <= 0 {
		log.Panicf("tlb entry %d used after release", h)
	}

	return &s.entry
}

func (a *arena) retain(h internal.Handle) {
	a.slots[h].refs++
}

func (a *arena) release(h internal.Handle) {
	s := &a.slots[h]
	if s.refs <= 0 {
		log.Panicf("tlb entry %d released twice", h)
	}

	s.refs--
	if s.refs > 0 {
		return
	}

	e := s.entry
	s.entry = Entry{}
	a.free = append(a.free, h)
	a.live.Add(-1)

	if a.onFree != nil {
		a.onFree(e)
	}
}

func (a *arena) liveEntries() int {
	return int(a.live.Load())
}
