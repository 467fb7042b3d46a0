package vm

import (
	"errors"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("CheckPermission", func() {
	userRW := FlagValid | FlagRead | FlagWrite | FlagUser
	kernelRX := FlagValid | FlagRead | FlagExecute

	It("should let machine mode access anything", func() {
		_, ok := CheckPermission(0, Write, Machine, false)
		Expect(ok).To(BeTrue())
	})

	It("should report invalid entries as not present", func() {
		cause, ok := CheckPermission(FlagRead, Read, Supervisor, false)
		Expect(ok).To(BeFalse())
		Expect(cause).To(Equal(CauseNotPresent))
	})

	It("should require W for writes", func() {
		cause, ok := CheckPermission(kernelRX, Write, Supervisor, false)
		Expect(ok).To(BeFalse())
		Expect(cause).To(Equal(CausePermission))
	})

	It("should require X for instruction fetches", func() {
		_, ok := CheckPermission(userRW, Execute, User, false)
		Expect(ok).To(BeFalse())
	})

	It("should keep user mode off supervisor pages", func() {
		cause, ok := CheckPermission(kernelRX, Read, User, false)
		Expect(ok).To(BeFalse())
		Expect(cause).To(Equal(CausePrivilege))
	})

	It("should allow supervisor data access to user pages only with sum",
		func() {
			_, ok := CheckPermission(userRW, Read, Supervisor, false)
			Expect(ok).To(BeFalse())

			_, ok = CheckPermission(userRW, Read, Supervisor, true)
			Expect(ok).To(BeTrue())
		})

	It("should never let supervisor execute user pages", func() {
		flags := userRW | FlagExecute
		_, ok := CheckPermission(flags, Execute, Supervisor, true)
		Expect(ok).To(BeFalse())
	})
})

var _ = Describe("PTEFlags", func() {
	It("should print set bits by letter", func() {
		f := FlagValid | FlagRead | FlagGlobal | FlagDirty
		Expect(f.String()).To(Equal("VR---G-D"))
	})

	It("should add D only for writes", func() {
		Expect(AccessFlags(Read)).To(Equal(FlagAccessed))
		Expect(AccessFlags(Write)).To(Equal(FlagAccessed | FlagDirty))
	})
})

var _ = Describe("Errors", func() {
	It("should expose the walker diagnostic through a page fault", func() {
		inner := &MalformedError{Addr: 0x1000, PTE: 0x4, Level: 2}
		fault := NewPageFault(0xdead000, Write, User, CauseMalformed)
		fault.Err = inner

		var err error = fmt.Errorf("translate: %w", fault)

		Expect(errors.Is(err, ErrPageFault)).To(BeTrue())
		Expect(errors.Is(err, ErrMalformed)).To(BeTrue())
		Expect(errors.Is(err, ErrOutOfBounds)).To(BeFalse())

		var pf *PageFault
		Expect(errors.As(err, &pf)).To(BeTrue())
		Expect(pf.IsWrite).To(BeTrue())
		Expect(pf.IsUser).To(BeTrue())
	})
})

var _ = Describe("PagingMode", func() {
	It("should parse mode names", func() {
		m, err := ParsePagingMode("SV48")
		Expect(err).NotTo(HaveOccurred())
		Expect(m).To(Equal(Sv48))

		m, err = ParsePagingMode("amd64")
		Expect(err).NotTo(HaveOccurred())
		Expect(m).To(Equal(X86_64))

		_, err = ParsePagingMode("sv57")
		Expect(err).To(HaveOccurred())
	})

	It("should know the number of levels", func() {
		Expect(Sv39.Levels()).To(Equal(3))
		Expect(X86_64.Levels()).To(Equal(4))
		Expect(Bare.Levels()).To(Equal(0))
	})
})
