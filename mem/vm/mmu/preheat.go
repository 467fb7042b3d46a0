package mmu

import (
	"fmt"
	"strings"

	"github.com/sarchlab/softmmu/mem/vm"
	"github.com/sarchlab/softmmu/mem/vm/pagewalk"
	"github.com/sarchlab/softmmu/mem/vm/tlb"
)

// DefaultPreheatWindow is the number of pages preheated per address when the
// config does not say.
const DefaultPreheatWindow = 4

// PreheatMode selects which pages Preheat installs.
type PreheatMode int

// The preheat modes.
const (
	// PreheatDisabled installs nothing.
	PreheatDisabled PreheatMode = iota
	// PreheatEntryPoints installs Window pages from each address into the
	// instruction TLB.
	PreheatEntryPoints
	// PreheatCodeSegments installs up to Window pages from the start of each
	// segment into the instruction TLB. A zero window covers the whole
	// segment.
	PreheatCodeSegments
	// PreheatCustom installs the page of each address into the Target TLB.
	PreheatCustom
)

var preheatModeNames = []string{
	PreheatDisabled:     "disabled",
	PreheatEntryPoints:  "entry-points",
	PreheatCodeSegments: "code-segments",
	PreheatCustom:       "custom",
}

func (p PreheatMode) String() string {
	if int(p) < 0 || int(p) >= len(preheatModeNames) {
		return fmt.Sprintf("PreheatMode(%d)", int(p))
	}

	return preheatModeNames[p]
}

// ParsePreheatMode converts a name such as "entry-points".
func ParsePreheatMode(s string) (PreheatMode, error) {
	name := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-")

	for p, n := range preheatModeNames {
		if n == name || strings.ReplaceAll(n, "-", "") == name {
			return PreheatMode(p), nil
		}
	}

	return PreheatDisabled, fmt.Errorf("unknown preheat mode %q", s)
}

// A Segment is a range of guest virtual addresses.
type Segment struct {
	Start vm.GVA
	Size  uint64
}

// PreheatConfig describes the pages to install before the guest runs.
type PreheatConfig struct {
	Mode      PreheatMode
	Addresses []vm.GVA
	Segments  []Segment
	Window    int
	Target    Side
}

// Preheat installs the pages selected by cfg into the current address space
// of a TLB. Pages are resolved without faulting and without touching accessed
// bits, and pages that do not resolve are skipped. It returns the number of
// installed entries. Overlapping pages count each time they are installed.
func (m *SoftMMU) Preheat(cfg PreheatConfig) int {
	if m.mode == vm.Bare {
		return 0
	}

	var (
		vpns   []uint64
		side   = InstructionSide
		access = vm.Execute
	)

	window := cfg.Window
	if window <= 0 && cfg.Mode == PreheatEntryPoints {
		window = DefaultPreheatWindow
	}

	switch cfg.Mode {
	case PreheatDisabled:
		return 0
	case PreheatEntryPoints:
		for _, addr := range cfg.Addresses {
			vpns = appendPages(vpns, addr.VPN(), window)
		}
	case PreheatCodeSegments:
		for _, seg := range cfg.Segments {
			vpns = appendPages(vpns, seg.Start.VPN(), segmentPages(seg, window))
		}
	case PreheatCustom:
		for _, addr := range cfg.Addresses {
			vpns = append(vpns, addr.VPN())
		}

		side = cfg.Target
		if side == DataSide {
			access = vm.Read
		}
	}

	n := m.TLB(side).Preheat(vpns, m.asid, m.resolver(access))
	m.invoke(HookPosPreheat, cfg, n)

	return n
}

func appendPages(vpns []uint64, first uint64, n int) []uint64 {
	for i := range n {
		vpns = append(vpns, first+uint64(i))
	}

	return vpns
}

func segmentPages(seg Segment, window int) int {
	if seg.Size == 0 {
		return 0
	}

	last := (seg.Start + vm.GVA(seg.Size-1)).VPN()
	n := int(last - seg.Start.VPN() + 1)

	if window > 0 && window < n {
		return window
	}

	return n
}

// ProcessPrefetch serves the pending stride prefetches of both TLBs. It
// returns the number of installed entries.
func (m *SoftMMU) ProcessPrefetch() int {
	if m.mode == vm.Bare {
		return 0
	}

	n := m.itlb.DrainPrefetch(m.resolver(vm.Execute))
	n += m.dtlb.DrainPrefetch(m.resolver(vm.Read))

	return n
}

// resolver walks on behalf of the TLBs. The walks are speculative and only
// succeed for the current address space and pages the current privilege
// level may access.
func (m *SoftMMU) resolver(access vm.AccessType) tlb.Resolver {
	return tlb.ResolverFunc(func(vpn uint64, asid uint16) (tlb.Entry, bool) {
		if asid != m.asid {
			return tlb.Entry{}, false
		}

		m.prefetchWalks.Add(1)

		res, err := m.walker.WalkWith(vm.GVAFromVPN(vpn), access, asid, m.mem,
			pagewalk.Options{
				CheckPrivilege: m.privilege != vm.Machine,
				Privilege:      m.privilege,
				SUM:            m.sum,
				Speculative:    true,
			})
		if err != nil {
			return tlb.Entry{}, false
		}

		return entryOf(res, asid), true
	})
}
