package pagewalk

import "github.com/sarchlab/softmmu/mem/vm"

// x86-64 4-level entries.
const (
	x86Present    = uint64(1) << 0
	x86RW         = uint64(1) << 1
	x86US         = uint64(1) << 2
	x86PWT        = uint64(1) << 3
	x86PCD        = uint64(1) << 4
	x86Accessed   = uint64(1) << 5
	x86Dirty      = uint64(1) << 6
	x86PageSize   = uint64(1) << 7
	x86Global     = uint64(1) << 8
	x86PAT        = uint64(1) << 12
	x86NoExecute  = uint64(1) << 63
	x86AddrMask   = uint64(0x0000_ffff_ffff_f000)
	x86ReservedMk = uint64(0x000f_0000_0000_0000)
)

type x86Format struct{}

func (x86Format) levels() int { return 4 }

func (x86Format) index(va uint64, level int) uint64 {
	return index9(va, level)
}

func (x86Format) decode(pte uint64, level int) entry {
	if pte&x86Present == 0 {
		return entry{}
	}

	if pte&x86ReservedMk != 0 {
		return entry{malformed: "reserved bits set"}
	}

	huge := pte&x86PageSize != 0 && level > 0
	if huge && level == 3 {
		return entry{malformed: "page size bit set in PML4 entry"}
	}

	if level > 0 && !huge {
		return entry{
			valid:    true,
			next:     vm.GPA(pte & x86AddrMask),
			restrict: x86Restrict(pte),
		}
	}

	addr := pte & x86AddrMask
	if huge {
		offsetBits := addr & (levelPageSize(level) - 1) &^ x86PAT
		if offsetBits != 0 {
			return entry{malformed: "misaligned huge page"}
		}

		addr &^= levelPageSize(level) - 1
	}

	return entry{
		valid: true,
		leaf:  true,
		next:  vm.GPA(addr),
		flags: x86Flags(pte),
	}
}

func x86Restrict(pte uint64) vm.PTEFlags {
	r := allFlags
	if pte&x86RW == 0 {
		r &^= vm.FlagWrite
	}

	if pte&x86US == 0 {
		r &^= vm.FlagUser
	}

	if pte&x86NoExecute != 0 {
		r &^= vm.FlagExecute
	}

	return r
}

func x86Flags(pte uint64) vm.PTEFlags {
	flags := vm.FlagValid | vm.FlagRead

	if pte&x86RW != 0 {
		flags |= vm.FlagWrite
	}

	if pte&x86NoExecute == 0 {
		flags |= vm.FlagExecute
	}

	if pte&x86US != 0 {
		flags |= vm.FlagUser
	}

	if pte&x86Global != 0 {
		flags |= vm.FlagGlobal
	}

	if pte&x86Accessed != 0 {
		flags |= vm.FlagAccessed
	}

	if pte&x86Dirty != 0 {
		flags |= vm.FlagDirty
	}

	return flags
}

func (x86Format) setAD(pte uint64, flags vm.PTEFlags) uint64 {
	if flags.Has(vm.FlagAccessed) {
		pte |= x86Accessed
	}

	if flags.Has(vm.FlagDirty) {
		pte |= x86Dirty
	}

	return pte
}

func (x86Format) encodeTable(next vm.GPA) uint64 {
	return uint64(next)&x86AddrMask | x86Present | x86RW | x86US
}

func (x86Format) encodeLeaf(out vm.GPA, flags vm.PTEFlags, level int) uint64 {
	pte := uint64(out)&x86AddrMask | x86Present

	if flags.Has(vm.FlagWrite) {
		pte |= x86RW
	}

	if flags.User() {
		pte |= x86US
	}

	if !flags.Has(vm.FlagExecute) {
		pte |= x86NoExecute
	}

	if flags.Global() {
		pte |= x86Global
	}

	if level > 0 {
		pte |= x86PageSize
	}

	return (x86Format{}).setAD(pte, flags)
}
