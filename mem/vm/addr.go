// Package vm defines the vocabulary shared by the address translation
// packages: guest address types, access kinds, page table entry flags, paging
// modes and the errors a translation can produce.
package vm

import (
	"fmt"
	"strings"
)

// GVA is a guest virtual address.
type GVA uint64

// GPA is a guest physical address.
type GPA uint64

// HostAddr is an address in the host process that backs guest memory.
type HostAddr uint64

// Base page geometry. Every paging mode uses 4 KiB base pages.
const (
	Log2PageSize   = 12
	PageSize       = uint64(1) << Log2PageSize
	PageOffsetMask = PageSize - 1
)

// VPN returns the virtual page number of the address.
func (a GVA) VPN() uint64 {
	return uint64(a) >> Log2PageSize
}

// PageOffset returns the offset of the address inside its base page.
func (a GVA) PageOffset() uint64 {
	return uint64(a) & PageOffsetMask
}

// PageBase returns the address of the first byte of the page.
func (a GVA) PageBase() GVA {
	return a &^ GVA(PageOffsetMask)
}

func (a GVA) String() string {
	return fmt.Sprintf("gva:0x%x", uint64(a))
}

// GVAFromVPN returns the first address of a virtual page.
func GVAFromVPN(vpn uint64) GVA {
	return GVA(vpn << Log2PageSize)
}

// PPN returns the physical page number of the address.
func (a GPA) PPN() uint64 {
	return uint64(a) >> Log2PageSize
}

// PageOffset returns the offset of the address inside its base page.
func (a GPA) PageOffset() uint64 {
	return uint64(a) & PageOffsetMask
}

func (a GPA) String() string {
	return fmt.Sprintf("gpa:0x%x", uint64(a))
}

// GPAFromPPN returns the first address of a physical page.
func GPAFromPPN(ppn uint64) GPA {
	return GPA(ppn << Log2PageSize)
}

// AccessType is the kind of memory access that requests a translation.
type AccessType int

// The supported access types.
const (
	Read AccessType = iota
	Write
	Execute
)

func (t AccessType) String() string {
	switch t {
	case Read:
		return "read"
	case Write:
		return "write"
	case Execute:
		return "execute"
	default:
		return fmt.Sprintf("AccessType(%d)", int(t))
	}
}

// Privilege is the privilege level the accessing hart runs at.
type Privilege int

// Privilege levels. Machine level bypasses translation.
const (
	User Privilege = iota
	Supervisor
	Machine
)

func (p Privilege) String() string {
	switch p {
	case User:
		return "user"
	case Supervisor:
		return "supervisor"
	case Machine:
		return "machine"
	default:
		return fmt.Sprintf("Privilege(%d)", int(p))
	}
}

// AccessReq describes a single guest memory access.
type AccessReq struct {
	Addr      GVA
	Access    AccessType
	Size      uint64
	Privilege Privilege
}

// PagingMode selects the page table format used to translate addresses.
type PagingMode int

// The supported paging modes.
const (
	Bare PagingMode = iota
	Sv39
	Sv48
	Arm64
	X86_64
)

var pagingModeNames = map[PagingMode]string{
	Bare:   "bare",
	Sv39:   "sv39",
	Sv48:   "sv48",
	Arm64:  "arm64",
	X86_64: "x86_64",
}

func (m PagingMode) String() string {
	name, ok := pagingModeNames[m]
	if !ok {
		return fmt.Sprintf("PagingMode(%d)", int(m))
	}

	return name
}

// Levels returns the number of page table levels the mode walks.
func (m PagingMode) Levels() int {
	switch m {
	case Sv39:
		return 3
	case Sv48, Arm64, X86_64:
		return 4
	default:
		return 0
	}
}

// VABits returns the number of significant virtual address bits.
func (m PagingMode) VABits() uint {
	switch m {
	case Sv39:
		return 39
	case Sv48, Arm64, X86_64:
		return 48
	default:
		return 64
	}
}

// ParsePagingMode converts a mode name such as "sv39" into a PagingMode.
func ParsePagingMode(s string) (PagingMode, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "x86-64" || name == "amd64" {
		name = "x86_64"
	}

	for mode, n := range pagingModeNames {
		if n == name {
			return mode, nil
		}
	}

	return Bare, fmt.Errorf("unknown paging mode %q", s)
}
