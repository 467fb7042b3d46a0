package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/sarchlab/softmmu/mem/physmem"
	"github.com/sarchlab/softmmu/mem/trace"
	"github.com/sarchlab/softmmu/mem/vm"
	"github.com/sarchlab/softmmu/mem/vm/mmu"
	"github.com/sarchlab/softmmu/mem/vm/pagewalk"
	"github.com/sarchlab/softmmu/monitoring"
	"github.com/sarchlab/softmmu/sim"
)

// The guest physical layout of a benchmark machine. Page tables live below
// dataBase and the benchmarked pages above it.
const (
	tableBase vm.GPA = 0x10_0000
	dataBase  vm.GPA = 0x100_0000
	heapBase  vm.GVA = 0x4000_0000

	progressStep = 1024
)

type pattern int

const (
	patternSequential pattern = iota
	patternStrided
	patternRandom
)

var patternNames = []string{
	patternSequential: "sequential",
	patternStrided:    "strided",
	patternRandom:     "random",
}

func (p pattern) String() string {
	return patternNames[p]
}

func parsePattern(s string) (pattern, error) {
	name := strings.ToLower(strings.TrimSpace(s))

	for p, n := range patternNames {
		if n == name {
			return pattern(p), nil
		}
	}

	return 0, fmt.Errorf("unknown access pattern %q, want one of %s",
		s, strings.Join(patternNames, ", "))
}

// A workload describes what every vCPU of a benchmark does.
type workload struct {
	numHarts   int
	numPages   int
	accesses   int
	pattern    pattern
	stride     int
	storeEvery int
	seed       uint64
	mode       vm.PagingMode

	mmuBuilder mmu.Builder
	hooks      []sim.Hook
	monitor    *monitoring.Monitor
	sampler    *trace.StatsSampler
	interval   time.Duration
}

func (w workload) validate() error {
	switch {
	case w.numHarts <= 0:
		return errors.New("at least one hart is needed")
	case w.numPages <= 0:
		return errors.New("at least one page is needed")
	case w.accesses < 0:
		return errors.New("the number of accesses cannot be negative")
	case w.stride <= 0:
		return errors.New("the stride must be positive")
	case w.mode == vm.Bare:
		return errors.New("bare mode has no page tables to benchmark")
	}

	return nil
}

type machine struct {
	storage *physmem.Storage
	tables  *pagewalk.TableBuilder
	mmus    []*mmu.SoftMMU
}

func (w workload) buildMachine() (*machine, error) {
	err := w.validate()
	if err != nil {
		return nil, err
	}

	capacity := uint64(dataBase) + uint64(w.numPages)*vm.PageSize
	storage := physmem.MakeBuilder().WithCapacity(capacity).Build()

	tables, err := pagewalk.NewTableBuilder(w.mode, storage, tableBase, dataBase)
	if err != nil {
		return nil, err
	}

	for p := range w.numPages {
		va := heapBase + vm.GVA(uint64(p)*vm.PageSize)
		pa := dataBase + vm.GPA(uint64(p)*vm.PageSize)

		err = tables.Map(va, pa, vm.FlagRead|vm.FlagWrite)
		if err != nil {
			return nil, fmt.Errorf("mapping %s: %w", va, err)
		}
	}

	m := &machine{storage: storage, tables: tables}

	for i := range w.numHarts {
		u := w.mmuBuilder.
			WithStorage(storage).
			WithPagingMode(w.mode).
			WithRootTable(tables.Root()).
			Build(fmt.Sprintf("Hart[%d].MMU", i))

		for _, h := range w.hooks {
			u.AcceptHook(h)
		}

		m.mmus = append(m.mmus, u)
	}

	if w.monitor != nil {
		w.monitor.RegisterStorage(storage)

		for _, u := range m.mmus {
			w.monitor.RegisterMMU(u)
		}
	}

	return m, nil
}

// address returns the address a hart touches in its i-th access.
func (w workload) address(hart, i int, rng *rand.Rand) vm.GVA {
	var page, offset uint64

	switch w.pattern {
	case patternSequential:
		start := uint64(hart) * uint64(w.numPages) / uint64(w.numHarts)
		pos := start*vm.PageSize + uint64(i)*64
		page = pos / vm.PageSize % uint64(w.numPages)
		offset = pos % vm.PageSize
	case patternStrided:
		page = uint64(hart+i*w.stride) % uint64(w.numPages)
		offset = uint64(i%64) * 64
	case patternRandom:
		page = rng.Uint64N(uint64(w.numPages))
		offset = rng.Uint64N(vm.PageSize/8) * 8
	}

	return heapBase + vm.GVA(page*vm.PageSize+offset)
}

func (w workload) runHart(
	ctx context.Context,
	hart int,
	u *mmu.SoftMMU,
	bar *monitoring.ProgressBar,
) error {
	rng := rand.New(rand.NewPCG(w.seed, uint64(hart)))

	for i := range w.accesses {
		if i%progressStep == 0 {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			if bar != nil && i > 0 {
				bar.IncrementFinished(progressStep)
			}
		}

		va := w.address(hart, i, rng)

		var err error
		if w.storeEvery > 0 && i%w.storeEvery == 0 {
			err = u.StoreUint64(va, uint64(i))
		} else {
			_, err = u.LoadUint64(va)
		}

		if err != nil {
			return fmt.Errorf("%s: access %d at %s: %w", u.Name(), i, va, err)
		}
	}

	return nil
}

type benchResult struct {
	elapsed time.Duration
	stats   []mmu.Stats
	names   []string
}

func (w workload) run(ctx context.Context, m *machine) (benchResult, error) {
	samplerCtx, stopSampler := context.WithCancel(ctx)
	samplerDone := make(chan struct{})

	if w.sampler != nil {
		go func() {
			defer close(samplerDone)
			w.sampler.Run(samplerCtx, w.interval, m.mmus...)
		}()
	} else {
		close(samplerDone)
	}

	var wg sync.WaitGroup

	errs := make([]error, len(m.mmus))
	start := time.Now()

	for i, u := range m.mmus {
		var bar *monitoring.ProgressBar
		if w.monitor != nil {
			bar = w.monitor.CreateProgressBar(u.Name(), uint64(w.accesses))
		}

		wg.Add(1)

		go func() {
			defer wg.Done()

			errs[i] = w.runHart(ctx, i, u, bar)

			if bar != nil {
				w.monitor.CompleteProgressBar(bar)
			}
		}()
	}

	wg.Wait()

	res := benchResult{elapsed: time.Since(start)}

	stopSampler()
	<-samplerDone

	for _, u := range m.mmus {
		res.names = append(res.names, u.Name())
		res.stats = append(res.stats, u.Stats())
	}

	return res, errors.Join(errs...)
}

func (r benchResult) print(out io.Writer, accessesPerHart int) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)

	fmt.Fprintln(tw, "MMU\tWALKS\tPREFETCH WALKS\tFAULTS\tI HIT RATE\tD HIT RATE\tPREFETCH HITS")

	var walks uint64

	for i, s := range r.stats {
		walks += s.Walks

		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%.4f\t%.4f\t%d\n",
			r.names[i], s.Walks, s.PrefetchWalks, s.Faults,
			s.Instruction.HitRate(), s.Data.HitRate(),
			s.Data.PrefetchHits+s.Instruction.PrefetchHits)
	}

	tw.Flush()

	total := accessesPerHart * len(r.stats)
	seconds := r.elapsed.Seconds()

	fmt.Fprintf(out, "\n%d accesses in %s", total, r.elapsed)

	if seconds > 0 {
		fmt.Fprintf(out, ", %.0f accesses/s", float64(total)/seconds)
	}

	fmt.Fprintf(out, ", %d walks\n", walks)
}
