package cmd

import (
	"bytes"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/softmmu/mem/vm"
)

var _ = Describe("Walk trace", func() {
	DescribeTable("printing one read per level",
		func(mode vm.PagingMode) {
			out := new(bytes.Buffer)

			err := walkTrace(out, mode, 0x1234_5678, vm.Read, true)

			Expect(err).NotTo(HaveOccurred())
			Expect(strings.Count(out.String(), "pte at")).
				To(Equal(mode.Levels()))
			Expect(out.String()).
				To(ContainSubstring("gva:0x12345678 -> gpa:0x400678"))
		},
		Entry("sv39", vm.Sv39),
		Entry("sv48", vm.Sv48),
		Entry("arm64", vm.Arm64),
		Entry("x86_64", vm.X86_64),
	)

	It("should report the fault of an unmapped address", func() {
		out := new(bytes.Buffer)

		err := walkTrace(out, vm.Sv39, 0x1234_5678, vm.Write, false)

		Expect(err).NotTo(HaveOccurred())
		Expect(out.String()).To(ContainSubstring("fault:"))
		Expect(strings.Count(out.String(), "pte at")).To(Equal(1))
	})

	DescribeTable("parsing access types",
		func(name string, want vm.AccessType) {
			a, err := parseAccess(name)

			Expect(err).NotTo(HaveOccurred())
			Expect(a).To(Equal(want))
		},
		Entry("read", "read", vm.Read),
		Entry("write", "write", vm.Write),
		Entry("execute", "execute", vm.Execute),
	)

	It("should run through the command", func() {
		out := new(bytes.Buffer)
		rootCmd.SetOut(out)
		rootCmd.SetArgs([]string{"walk", "0x3000", "--mode", "sv48",
			"--env-file", ""})

		Expect(rootCmd.Execute()).To(Succeed())
		Expect(out.String()).To(ContainSubstring("sv48 walk of gva:0x3000"))
	})
})
