package vm

// PTEFlags is the architecture independent form of the permission and status
// bits of a leaf page table entry. The bit positions follow the RISC-V
// layout; walkers for other formats normalize into it.
type PTEFlags uint8

// The normalized flag bits.
const (
	FlagValid PTEFlags = 1 << iota
	FlagRead
	FlagWrite
	FlagExecute
	FlagUser
	FlagGlobal
	FlagAccessed
	FlagDirty
)

// FlagsRWX is a shorthand for a readable, writable and executable page.
const FlagsRWX = FlagRead | FlagWrite | FlagExecute

// Has reports whether all the bits in mask are set.
func (f PTEFlags) Has(mask PTEFlags) bool {
	return f&mask == mask
}

// Valid reports whether the V bit is set.
func (f PTEFlags) Valid() bool { return f.Has(FlagValid) }

// Global reports whether the entry is shared by all address spaces.
func (f PTEFlags) Global() bool { return f.Has(FlagGlobal) }

// User reports whether the page is a user page.
func (f PTEFlags) User() bool { return f.Has(FlagUser) }

// Accessed reports whether the A bit is set.
func (f PTEFlags) Accessed() bool { return f.Has(FlagAccessed) }

// Dirty reports whether the D bit is set.
func (f PTEFlags) Dirty() bool { return f.Has(FlagDirty) }

func (f PTEFlags) String() string {
	const letters = "VRWXUGAD"

	buf := []byte("--------")
	for i := 0; i < len(letters); i++ {
		if f&(1<<i) != 0 {
			buf[i] = letters[i]
		}
	}

	return string(buf)
}

// AccessFlags returns the status bits a successful access of the given type
// sets: A for every access and D for writes.
func AccessFlags(access AccessType) PTEFlags {
	if access == Write {
		return FlagAccessed | FlagDirty
	}

	return FlagAccessed
}

// CheckPermission decides whether an access is allowed on a page with the
// given flags. sum allows supervisor data accesses to user pages. The
// returned cause is meaningful only when ok is false.
func CheckPermission(
	flags PTEFlags,
	access AccessType,
	priv Privilege,
	sum bool,
) (cause FaultCause, ok bool) {
	if priv == Machine {
		return 0, true
	}

	if !flags.Valid() {
		return CauseNotPresent, false
	}

	switch access {
	case Read:
		if !flags.Has(FlagRead) {
			return CausePermission, false
		}
	case Write:
		if !flags.Has(FlagWrite) {
			return CausePermission, false
		}
	case Execute:
		if !flags.Has(FlagExecute) {
			return CausePermission, false
		}
	}

	if priv == User && !flags.User() {
		return CausePrivilege, false
	}

	if priv == Supervisor && flags.User() {
		if access == Execute || !sum {
			return CausePrivilege, false
		}
	}

	return 0, true
}
