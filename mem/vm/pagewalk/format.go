package pagewalk

import (
	"log"

	"github.com/sarchlab/softmmu/mem/vm"
)

const allFlags = vm.PTEFlags(0xff)

// entry is a decoded page table entry.
type entry struct {
	valid bool
	leaf  bool
	// next is the next table for pointers and the output page for leaves.
	next vm.GPA
	// flags holds the normalized permissions of a leaf.
	flags vm.PTEFlags
	// restrict holds the permissions a pointer leaves to the levels below.
	restrict  vm.PTEFlags
	malformed string
}

// format knows the entry encoding of one paging mode.
type format interface {
	levels() int
	index(va uint64, level int) uint64
	decode(pte uint64, level int) entry
	setAD(pte uint64, flags vm.PTEFlags) uint64
	encodeTable(next vm.GPA) uint64
	encodeLeaf(out vm.GPA, flags vm.PTEFlags, level int) uint64
}

func formatOf(mode vm.PagingMode) format {
	switch mode {
	case vm.Bare:
		return nil
	case vm.Sv39:
		return riscvFormat{numLevels: 3}
	case vm.Sv48:
		return riscvFormat{numLevels: 4}
	case vm.Arm64:
		return arm64Format{}
	case vm.X86_64:
		return x86Format{}
	default:
		log.Panicf("unsupported paging mode %s", mode)
	}

	return nil
}

func index9(va uint64, level int) uint64 {
	return (va >> (vm.Log2PageSize + 9*uint(level))) & 0x1ff
}

// RISC-V Sv39 / Sv48 entries.
const (
	riscvPPNShift    = 10
	riscvPPNMask     = (uint64(1) << 44) - 1
	riscvReservedMsk = uint64(0xffc0_0000_0000_0000)
	riscvPermMask    = uint64(vm.FlagRead | vm.FlagWrite | vm.FlagExecute)
)

type riscvFormat struct {
	numLevels int
}

func (f riscvFormat) levels() int { return f.numLevels }

func (f riscvFormat) index(va uint64, level int) uint64 {
	return index9(va, level)
}

func (f riscvFormat) decode(pte uint64, level int) entry {
	flags := vm.PTEFlags(pte & 0xff)
	if !flags.Valid() {
		return entry{}
	}

	if pte&riscvReservedMsk != 0 {
		return entry{malformed: "reserved bits set"}
	}

	if flags.Has(vm.FlagWrite) && !flags.Has(vm.FlagRead) {
		return entry{malformed: "writable page is not readable"}
	}

	ppn := (pte >> riscvPPNShift) & riscvPPNMask
	next := vm.GPAFromPPN(ppn)

	if pte&riscvPermMask == 0 {
		if flags&(vm.FlagUser|vm.FlagAccessed|vm.FlagDirty) != 0 {
			return entry{malformed: "pointer entry with U, A or D set"}
		}

		if level == 0 {
			return entry{malformed: "pointer entry at the last level"}
		}

		return entry{valid: true, next: next, restrict: allFlags}
	}

	if level > 0 && ppn&((uint64(1)<<(9*uint(level)))-1) != 0 {
		return entry{malformed: "misaligned superpage"}
	}

	return entry{valid: true, leaf: true, next: next, flags: flags}
}

func (f riscvFormat) setAD(pte uint64, flags vm.PTEFlags) uint64 {
	return pte | uint64(flags&(vm.FlagAccessed|vm.FlagDirty))
}

func (f riscvFormat) encodeTable(next vm.GPA) uint64 {
	return (next.PPN() << riscvPPNShift) | uint64(vm.FlagValid)
}

func (f riscvFormat) encodeLeaf(out vm.GPA, flags vm.PTEFlags, _ int) uint64 {
	return (out.PPN() << riscvPPNShift) | uint64(flags|vm.FlagValid)
}
