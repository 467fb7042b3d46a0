package cmd

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/sarchlab/softmmu/mem/physmem"
	"github.com/sarchlab/softmmu/mem/vm"
	"github.com/sarchlab/softmmu/mem/vm/pagewalk"
)

// demoFrame is where the walk command maps the page of the walked address.
const demoFrame vm.GPA = 0x40_0000

var walkCmd = &cobra.Command{
	Use:   "walk VA",
	Short: "Map a demo page and print every page table read of a walk.",
	Long: "`walk 0x12345678` builds page tables that map the page of the " +
		"address to a demo frame and walks them, printing each entry read " +
		"on the way.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		va, err := strconv.ParseUint(args[0], 0, 64)
		if err != nil {
			return fmt.Errorf("invalid address %q: %w", args[0], err)
		}

		f := cmd.Flags()
		modeName, _ := f.GetString("mode")
		accessName, _ := f.GetString("access")
		unmapped, _ := f.GetBool("unmapped")

		mode, err := vm.ParsePagingMode(modeName)
		if err != nil {
			return err
		}

		access, err := parseAccess(accessName)
		if err != nil {
			return err
		}

		return walkTrace(cmd.OutOrStdout(), mode, vm.GVA(va), access, !unmapped)
	},
}

func init() {
	rootCmd.AddCommand(walkCmd)

	walkCmd.Flags().String("mode", "sv39", "Paging mode: sv39, sv48, arm64 or x86_64")
	walkCmd.Flags().String("access", "read", "Access type: read, write or execute")
	walkCmd.Flags().Bool("unmapped", false, "Walk without mapping the address")
}

func parseAccess(s string) (vm.AccessType, error) {
	for _, a := range []vm.AccessType{vm.Read, vm.Write, vm.Execute} {
		if a.String() == s {
			return a, nil
		}
	}

	return 0, fmt.Errorf("unknown access type %q", s)
}

// A tracingMemory reports every page table entry a walker reads.
type tracingMemory struct {
	pagewalk.Memory

	out   io.Writer
	reads int
}

func (m *tracingMemory) ReadUint64(addr vm.GPA) (uint64, error) {
	v, err := m.Memory.ReadUint64(addr)
	if err != nil {
		return v, err
	}

	m.reads++
	fmt.Fprintf(m.out, "  read %d: pte at %s = 0x%016x\n", m.reads, addr, v)

	return v, nil
}

func walkTrace(
	out io.Writer,
	mode vm.PagingMode,
	va vm.GVA,
	access vm.AccessType,
	mapped bool,
) error {
	storage := physmem.MakeBuilder().WithCapacity(8 << 20).Build()

	tables, err := pagewalk.NewTableBuilder(mode, storage, tableBase, demoFrame)
	if err != nil {
		return err
	}

	if mapped {
		err = tables.Map(va.PageBase(), demoFrame, vm.FlagsRWX)
		if err != nil {
			return err
		}
	}

	fmt.Fprintf(out, "%s walk of %s (%s), root table at %s\n",
		mode, va, access, tables.Root())

	mem := &tracingMemory{Memory: storage, out: out}

	res, err := tables.Walker().Walk(va, access, 0, mem)
	if err != nil {
		fmt.Fprintf(out, "fault: %v\n", err)
		return nil
	}

	fmt.Fprintf(out, "%s -> %s, %d byte page, flags %s\n",
		res.VA, res.GPA, res.PageSize, res.Flags)

	return nil
}
