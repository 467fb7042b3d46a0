// Package pagewalk walks guest page tables in memory to translate guest
// virtual addresses.
package pagewalk

import (
	"errors"
	"log"

	"github.com/sarchlab/softmmu/mem/vm"
)

// Memory is the view of guest physical memory a walker reads page tables
// through.
type Memory interface {
	ReadUint64(addr vm.GPA) (uint64, error)
	UpdateUint64(addr vm.GPA, update func(old uint64) uint64) (uint64, error)
	Contains(addr vm.GPA) bool
}

// Result is the outcome of a successful walk.
type Result struct {
	VA       vm.GVA
	GPA      vm.GPA
	ASID     uint16
	PageSize uint64
	Level    int
	Flags    vm.PTEFlags
	PTEAddr  vm.GPA
}

// VPN returns the number of the base page that contains the walked address.
func (r Result) VPN() uint64 {
	return r.VA.VPN()
}

// PPN returns the number of the physical base page the address maps to.
func (r Result) PPN() uint64 {
	return r.GPA.PPN()
}

// Options tune a single walk.
type Options struct {
	// CheckPrivilege adds the user/supervisor check to the R/W/X check.
	CheckPrivilege bool
	Privilege      vm.Privilege
	// SUM lets supervisor data accesses reach user pages.
	SUM bool
	// Speculative walks never write accessed or dirty bits back.
	Speculative bool
}

// A Walker translates addresses of one address space. It is a small value
// that holds the paging mode and the root table address and caches nothing.
type Walker struct {
	mode    vm.PagingMode
	root    vm.GPA
	trackAD bool
	format  format
}

// New creates a walker for the given paging mode and root table.
func New(mode vm.PagingMode, root vm.GPA) Walker {
	return Walker{
		mode:   mode,
		root:   root,
		format: formatOf(mode),
	}
}

// WithTrackAD returns a copy of the walker that writes accessed and dirty
// bits back into leaf entries.
func (w Walker) WithTrackAD(trackAD bool) Walker {
	w.trackAD = trackAD
	return w
}

// Mode returns the paging mode.
func (w Walker) Mode() vm.PagingMode {
	return w.mode
}

// Root returns the physical address of the root table.
func (w Walker) Root() vm.GPA {
	return w.root
}

// TrackAD tells if the walker writes accessed and dirty bits back.
func (w Walker) TrackAD() bool {
	return w.trackAD
}

// Walk translates va for an access of the given type. Only the R/W/X
// permissions are checked.
func (w Walker) Walk(
	va vm.GVA,
	access vm.AccessType,
	asid uint16,
	mem Memory,
) (Result, error) {
	return w.WalkWith(va, access, asid, mem, Options{})
}

// WalkWith translates va with explicit options. Ordinary faults are returned
// as *vm.PageFault. Broken tables are returned as *vm.MalformedError and
// tables or pages outside guest memory as *vm.OutOfBoundsError.
func (w Walker) WalkWith(
	va vm.GVA,
	access vm.AccessType,
	asid uint16,
	mem Memory,
	opts Options,
) (Result, error) {
	if w.mode == vm.Bare {
		return w.identity(va, asid), nil
	}

	priv := opts.Privilege
	if !opts.CheckPrivilege {
		priv = vm.Supervisor
	}

	f := w.format
	if !canonical(uint64(va), w.mode.VABits()) {
		return Result{}, vm.NewPageFault(va, access, priv, vm.CauseNonCanonical)
	}

	table := w.root
	restrict := allFlags

	for level := f.levels() - 1; level >= 0; level-- {
		pteAddr := table + vm.GPA(f.index(uint64(va), level)*8)
		if !mem.Contains(pteAddr) {
			return Result{}, &vm.OutOfBoundsError{Addr: pteAddr, Size: 8}
		}

		pte, err := mem.ReadUint64(pteAddr)
		if err != nil {
			return Result{}, err
		}

		e := f.decode(pte, level)
		if e.malformed != "" {
			return Result{}, &vm.MalformedError{
				Addr:   pteAddr,
				PTE:    pte,
				Level:  level,
				Reason: e.malformed,
			}
		}

		if !e.valid {
			return Result{}, vm.NewPageFault(va, access, priv, vm.CauseNotPresent)
		}

		if !e.leaf {
			restrict &= e.restrict
			table = e.next
			continue
		}

		return w.finishLeaf(va, access, asid, mem, opts, leaf{
			entry:   e,
			level:   level,
			pteAddr: pteAddr,
			flags:   e.flags & restrict,
		})
	}

	log.Panicf("page walk of 0x%x in %s ended without a leaf", uint64(va), w.mode)

	return Result{}, nil
}

type leaf struct {
	entry   entry
	level   int
	pteAddr vm.GPA
	flags   vm.PTEFlags
}

func (w Walker) finishLeaf(
	va vm.GVA,
	access vm.AccessType,
	asid uint16,
	mem Memory,
	opts Options,
	l leaf,
) (Result, error) {
	pageSize := levelPageSize(l.level)
	gpa := l.entry.next + vm.GPA(uint64(va)&(pageSize-1))

	if !mem.Contains(gpa) {
		return Result{}, &vm.OutOfBoundsError{Addr: gpa, Size: 1}
	}

	flags := l.flags
	if opts.CheckPrivilege {
		cause, ok := vm.CheckPermission(flags, access, opts.Privilege, opts.SUM)
		if !ok {
			return Result{}, vm.NewPageFault(va, access, opts.Privilege, cause)
		}
	} else if !allowsAccess(flags, access) {
		return Result{},
			vm.NewPageFault(va, access, vm.Supervisor, vm.CausePermission)
	}

	need := vm.AccessFlags(access)
	if w.trackAD && !opts.Speculative && !flags.Has(need) {
		_, err := mem.UpdateUint64(l.pteAddr, func(old uint64) uint64 {
			return w.format.setAD(old, need)
		})
		if err != nil {
			return Result{}, err
		}

		flags |= need
	}

	return Result{
		VA:       va,
		GPA:      gpa,
		ASID:     asid,
		PageSize: pageSize,
		Level:    l.level,
		Flags:    flags,
		PTEAddr:  l.pteAddr,
	}, nil
}

func (w Walker) identity(va vm.GVA, asid uint16) Result {
	return Result{
		VA:       va,
		GPA:      vm.GPA(va),
		ASID:     asid,
		PageSize: vm.PageSize,
		Flags: vm.FlagValid | vm.FlagsRWX | vm.FlagUser |
			vm.FlagAccessed | vm.FlagDirty,
	}
}

func allowsAccess(flags vm.PTEFlags, access vm.AccessType) bool {
	switch access {
	case vm.Read:
		return flags.Has(vm.FlagRead)
	case vm.Write:
		return flags.Has(vm.FlagWrite)
	case vm.Execute:
		return flags.Has(vm.FlagExecute)
	}

	return false
}

// IsWalkError tells if err came from a broken page table rather than from an
// ordinary page fault.
func IsWalkError(err error) bool {
	return errors.Is(err, vm.ErrMalformed) || errors.Is(err, vm.ErrOutOfBounds)
}

func levelPageSize(level int) uint64 {
	return vm.PageSize << (9 * uint(level))
}

func canonical(va uint64, bits uint) bool {
	if bits >= 64 {
		return true
	}

	upper := int64(va) >> (bits - 1)

	return upper == 0 || upper == -1
}
