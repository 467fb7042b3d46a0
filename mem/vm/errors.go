package vm

import (
	"errors"
	"fmt"
)

// Sentinel errors. The typed errors below match them with errors.Is.
var (
	ErrPageFault   = errors.New("page fault")
	ErrMalformed   = errors.New("malformed page table entry")
	ErrOutOfBounds = errors.New("physical address out of bounds")
	ErrConflict    = errors.New("mmio region conflict")
	ErrMisaligned  = errors.New("misaligned access")
)

// FaultCause tells why a translation faulted.
type FaultCause int

// The fault causes.
const (
	CauseNotPresent FaultCause = iota
	CausePermission
	CausePrivilege
	CauseNonCanonical
	CauseMisaligned
	CauseMalformed
	CauseOutOfBounds
)

func (c FaultCause) String() string {
	switch c {
	case CauseNotPresent:
		return "not-present"
	case CausePermission:
		return "permission"
	case CausePrivilege:
		return "privilege"
	case CauseNonCanonical:
		return "non-canonical"
	case CauseMisaligned:
		return "misaligned"
	case CauseMalformed:
		return "malformed"
	case CauseOutOfBounds:
		return "out-of-bounds"
	default:
		return fmt.Sprintf("FaultCause(%d)", int(c))
	}
}

// A PageFault is the guest visible outcome of a failed translation. Err holds
// the host side diagnostic for malformed tables and out of bounds walks.
type PageFault struct {
	Addr    GVA
	Access  AccessType
	IsWrite bool
	IsUser  bool
	Cause   FaultCause
	Err     error
}

// NewPageFault creates a PageFault for an access.
func NewPageFault(
	addr GVA,
	access AccessType,
	priv Privilege,
	cause FaultCause,
) *PageFault {
	return &PageFault{
		Addr:    addr,
		Access:  access,
		IsWrite: access == Write,
		IsUser:  priv == User,
		Cause:   cause,
	}
}

func (f *PageFault) Error() string {
	msg := fmt.Sprintf("page fault at 0x%x: %s access, %s",
		uint64(f.Addr), f.Access, f.Cause)
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}

	return msg
}

// Is makes errors.Is(err, ErrPageFault) succeed.
func (f *PageFault) Is(target error) bool {
	return target == ErrPageFault
}

// Unwrap returns the host side diagnostic, if any.
func (f *PageFault) Unwrap() error {
	return f.Err
}

// A MalformedError reports a page table entry with reserved bits set or an
// encoding that is illegal at its level.
type MalformedError struct {
	Addr   GPA
	PTE    uint64
	Level  int
	Reason string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed pte 0x%x at 0x%x (level %d): %s",
		e.PTE, uint64(e.Addr), e.Level, e.Reason)
}

// Is makes errors.Is(err, ErrMalformed) succeed.
func (e *MalformedError) Is(target error) bool {
	return target == ErrMalformed
}

// An OutOfBoundsError reports a physical access outside guest RAM and outside
// every MMIO region.
type OutOfBoundsError struct {
	Addr GPA
	Size uint64
}

func (e *OutOfBoundsError) Error() string {
	return fmt.Sprintf("physical access [0x%x, +%d) out of bounds",
		uint64(e.Addr), e.Size)
}

// Is makes errors.Is(err, ErrOutOfBounds) succeed.
func (e *OutOfBoundsError) Is(target error) bool {
	return target == ErrOutOfBounds
}

// A ConflictError reports an MMIO registration that overlaps an existing
// region.
type ConflictError struct {
	Name         string
	Base         GPA
	Size         uint64
	ExistingName string
	ExistingBase GPA
	ExistingSize uint64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf(
		"mmio region %s [0x%x, +0x%x) overlaps %s [0x%x, +0x%x)",
		e.Name, uint64(e.Base), e.Size,
		e.ExistingName, uint64(e.ExistingBase), e.ExistingSize)
}

// Is makes errors.Is(err, ErrConflict) succeed.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}
