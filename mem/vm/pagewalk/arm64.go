package pagewalk

import "github.com/sarchlab/softmmu/mem/vm"

// AArch64 stage 1 descriptors, 4 KiB granule, 48-bit input addresses. Level
// 3 of the walk is the architectural level 0.
const (
	armValid       = uint64(1) << 0
	armTable       = uint64(1) << 1
	armTypeMask    = uint64(0b11)
	armTypeBlock   = uint64(0b01)
	armTypeTable   = uint64(0b11)
	armAPUser      = uint64(1) << 6
	armAPReadOnly  = uint64(1) << 7
	armAccessFlag  = uint64(1) << 10
	armNotGlobal   = uint64(1) << 11
	armDBM         = uint64(1) << 51
	armPXN         = uint64(1) << 53
	armUXN         = uint64(1) << 54
	armSWDirty     = uint64(1) << 55
	armAddrMask    = uint64(0x0000_ffff_ffff_f000)
	armReservedMsk = uint64(0x0007_0000_0000_0000)
)

type arm64Format struct{}

func (arm64Format) levels() int { return 4 }

func (arm64Format) index(va uint64, level int) uint64 {
	return index9(va, level)
}

func (arm64Format) decode(pte uint64, level int) entry {
	if pte&armValid == 0 {
		return entry{}
	}

	if pte&armReservedMsk != 0 {
		return entry{malformed: "reserved bits set"}
	}

	kind := pte & armTypeMask
	addr := pte & armAddrMask

	switch {
	case level == 0 && kind != armTypeTable:
		return entry{malformed: "block descriptor at level 3"}
	case level == 3 && kind != armTypeTable:
		return entry{malformed: "block descriptor at level 0"}
	case level > 0 && kind == armTypeTable:
		return entry{valid: true, next: vm.GPA(addr), restrict: allFlags}
	}

	if level > 0 && addr&(levelPageSize(level)-1) != 0 {
		return entry{malformed: "misaligned block"}
	}

	return entry{
		valid: true,
		leaf:  true,
		next:  vm.GPA(addr),
		flags: armFlags(pte),
	}
}

func armFlags(pte uint64) vm.PTEFlags {
	flags := vm.FlagValid | vm.FlagRead
	user := pte&armAPUser != 0

	if pte&armAPReadOnly == 0 {
		flags |= vm.FlagWrite
	}

	if user {
		flags |= vm.FlagUser
		if pte&armUXN == 0 {
			flags |= vm.FlagExecute
		}
	} else if pte&armPXN == 0 {
		flags |= vm.FlagExecute
	}

	if pte&armNotGlobal == 0 {
		flags |= vm.FlagGlobal
	}

	if pte&armAccessFlag != 0 {
		flags |= vm.FlagAccessed
	}

	if pte&armSWDirty != 0 {
		flags |= vm.FlagDirty
	}

	return flags
}

func (arm64Format) setAD(pte uint64, flags vm.PTEFlags) uint64 {
	if flags.Has(vm.FlagAccessed) {
		pte |= armAccessFlag
	}

	if flags.Has(vm.FlagDirty) {
		pte |= armSWDirty
	}

	return pte
}

func (arm64Format) encodeTable(next vm.GPA) uint64 {
	return uint64(next)&armAddrMask | armTypeTable
}

func (arm64Format) encodeLeaf(out vm.GPA, flags vm.PTEFlags, level int) uint64 {
	pte := uint64(out) & armAddrMask
	if level == 0 {
		pte |= armTypeTable
	} else {
		pte |= armTypeBlock
	}

	if flags.User() {
		pte |= armAPUser
	}

	if !flags.Has(vm.FlagWrite) {
		pte |= armAPReadOnly
	} else {
		pte |= armDBM
	}

	if !flags.Has(vm.FlagExecute) {
		pte |= armPXN | armUXN
	}

	if !flags.Global() {
		pte |= armNotGlobal
	}

	return (arm64Format{}).setAD(pte, flags)
}
