package pagewalk

import (
	"errors"
	"fmt"

	"github.com/sarchlab/softmmu/mem/vm"
)

// TableMemory is the memory a TableBuilder writes page tables into.
type TableMemory interface {
	ReadUint64(addr vm.GPA) (uint64, error)
	WriteUint64(addr vm.GPA, value uint64) error
	Write(addr vm.GPA, data []byte) error
}

// ErrTableSpaceExhausted is returned when the builder runs out of pages for
// new tables.
var ErrTableSpaceExhausted = errors.New("page table space exhausted")

// A TableBuilder lays out page tables in guest memory. Table pages are taken
// from the range [base, limit) in allocation order.
type TableBuilder struct {
	mode   vm.PagingMode
	format format
	mem    TableMemory
	root   vm.GPA
	next   vm.GPA
	limit  vm.GPA
}

// NewTableBuilder creates a builder and allocates the root table at base.
func NewTableBuilder(
	mode vm.PagingMode,
	mem TableMemory,
	base, limit vm.GPA,
) (*TableBuilder, error) {
	if mode == vm.Bare {
		return nil, errors.New("bare mode has no page tables")
	}

	if base.PageOffset() != 0 {
		return nil, fmt.Errorf("table base 0x%x is not page aligned",
			uint64(base))
	}

	b := &TableBuilder{
		mode:   mode,
		format: formatOf(mode),
		mem:    mem,
		next:   base,
		limit:  limit,
	}

	root, err := b.allocTable()
	if err != nil {
		return nil, err
	}

	b.root = root

	return b, nil
}

// Root returns the address of the root table.
func (b *TableBuilder) Root() vm.GPA {
	return b.root
}

// Walker returns a walker over the tables being built.
func (b *TableBuilder) Walker() Walker {
	return New(b.mode, b.root)
}

// Allocated returns the number of bytes used by tables so far.
func (b *TableBuilder) Allocated() uint64 {
	return uint64(b.next - b.root)
}

func (b *TableBuilder) allocTable() (vm.GPA, error) {
	if b.next+vm.GPA(vm.PageSize) > b.limit {
		return 0, ErrTableSpaceExhausted
	}

	addr := b.next
	b.next += vm.GPA(vm.PageSize)

	err := b.mem.Write(addr, make([]byte, vm.PageSize))
	if err != nil {
		return 0, err
	}

	return addr, nil
}

// Map maps the 4 KiB page at va to the page at pa.
func (b *TableBuilder) Map(va vm.GVA, pa vm.GPA, flags vm.PTEFlags) error {
	return b.MapLevel(va, pa, 0, flags)
}

// MapLevel installs a leaf at the given level, creating intermediate tables
// as needed. Level 1 maps 2 MiB and level 2 maps 1 GiB.
func (b *TableBuilder) MapLevel(
	va vm.GVA,
	pa vm.GPA,
	level int,
	flags vm.PTEFlags,
) error {
	if level < 0 || level > 2 || level >= b.format.levels() {
		return fmt.Errorf("cannot map a leaf at level %d in %s", level, b.mode)
	}

	size := levelPageSize(level)
	if uint64(va)&(size-1) != 0 || uint64(pa)&(size-1) != 0 {
		return fmt.Errorf("%w: mapping 0x%x -> 0x%x at level %d",
			vm.ErrMisaligned, uint64(va), uint64(pa), level)
	}

	table := b.root
	for l := b.format.levels() - 1; l > level; l-- {
		next, err := b.descend(table, va, l)
		if err != nil {
			return err
		}

		table = next
	}

	pteAddr := table + vm.GPA(b.format.index(uint64(va), level)*8)

	return b.mem.WriteUint64(pteAddr, b.format.encodeLeaf(pa, flags, level))
}

func (b *TableBuilder) descend(table vm.GPA, va vm.GVA, level int) (vm.GPA, error) {
	pteAddr := table + vm.GPA(b.format.index(uint64(va), level)*8)

	pte, err := b.mem.ReadUint64(pteAddr)
	if err != nil {
		return 0, err
	}

	e := b.format.decode(pte, level)
	if e.valid && !e.leaf {
		return e.next, nil
	}

	if e.valid && e.leaf {
		return 0, fmt.Errorf("0x%x is already mapped by a level %d leaf",
			uint64(va), level)
	}

	next, err := b.allocTable()
	if err != nil {
		return 0, err
	}

	err = b.mem.WriteUint64(pteAddr, b.format.encodeTable(next))
	if err != nil {
		return 0, err
	}

	return next, nil
}

// Unmap clears the leaf that maps va, if there is one.
func (b *TableBuilder) Unmap(va vm.GVA) error {
	table := b.root

	for l := b.format.levels() - 1; l >= 0; l-- {
		pteAddr := table + vm.GPA(b.format.index(uint64(va), l)*8)

		pte, err := b.mem.ReadUint64(pteAddr)
		if err != nil {
			return err
		}

		e := b.format.decode(pte, l)
		if !e.valid {
			return nil
		}

		if e.leaf {
			return b.mem.WriteUint64(pteAddr, 0)
		}

		table = e.next
	}

	return nil
}
