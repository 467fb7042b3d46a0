package cmd

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sarchlab/softmmu/datarecording"
	"github.com/sarchlab/softmmu/mem/trace"
	"github.com/sarchlab/softmmu/mem/vm"
	"github.com/sarchlab/softmmu/mem/vm/mmu"
	"github.com/sarchlab/softmmu/mem/vm/tlb"
	"github.com/sarchlab/softmmu/monitoring"
	"github.com/sarchlab/softmmu/sim"
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Run vCPUs that share one guest memory and report TLB statistics.",
	Long: "`bench` maps a heap of pages, starts one goroutine per hart, each " +
		"with its own MMU, and lets every hart load and store over the heap " +
		"with the chosen access pattern.",
	Args: cobra.NoArgs,
	RunE: runBench,
}

func init() {
	rootCmd.AddCommand(benchCmd)

	f := benchCmd.Flags()
	f.Int("harts", 4, "Number of vCPUs")
	f.Int("pages", 1024, "Number of mapped heap pages")
	f.Int("accesses", 100000, "Number of accesses per vCPU")
	f.String("pattern", "sequential", "Access pattern: sequential, strided or random")
	f.Int("stride", 2, "Page stride of the strided pattern")
	f.Int("store-every", 4, "Make every n-th access a store, 0 for loads only")
	f.Uint64("seed", 1, "Seed of the random pattern")
	f.String("mode", "sv39", "Paging mode: sv39, sv48, arm64 or x86_64")

	f.Int("l1", 0, "L1 TLB capacity")
	f.Int("l2", 0, "L2 TLB capacity")
	f.Int("l3", 0, "L3 TLB capacity")
	f.String("policy", "", "Replacement policy of every TLB level")
	f.Int("prefetch-window", 0, "Stride prefetch window, 0 disables prefetching")
	f.Bool("track-ad", false, "Write accessed and dirty bits back into the page tables")

	f.String("record", "", "Record events and statistics into this SQLite database")
	f.Duration("sample-interval", 100*time.Millisecond, "Statistics sampling interval when recording")
	f.Bool("trace", false, "Log every MMU event to stderr")

	f.Bool("monitor", false, "Serve the monitoring API while running")
	f.Int("monitor-port", 0, "Port of the monitoring server")
	f.Bool("open-browser", false, "Open the monitoring API in a browser")
}

func runBench(cmd *cobra.Command, _ []string) error {
	w, err := workloadFromFlags(cmd)
	if err != nil {
		return err
	}

	clock := sim.NewWallClock()

	record, _ := cmd.Flags().GetString("record")
	if record != "" {
		recorder := datarecording.New(record)
		defer recorder.Close()

		w.hooks = append(w.hooks, trace.NewDBTracer(recorder, clock))
		w.sampler = trace.NewStatsSampler(recorder, clock)
		w.interval, _ = cmd.Flags().GetDuration("sample-interval")
	}

	if traceOn, _ := cmd.Flags().GetBool("trace"); traceOn {
		w.hooks = append(w.hooks,
			trace.NewLogTracer(log.New(os.Stderr, "", 0), clock))
	}

	if on, _ := cmd.Flags().GetBool("monitor"); on {
		port, _ := cmd.Flags().GetInt("monitor-port")
		open, _ := cmd.Flags().GetBool("open-browser")

		w.monitor = monitoring.NewMonitor().
			WithPortNumber(port).
			WithBrowser(open)
	}

	m, err := w.buildMachine()
	if err != nil {
		return err
	}

	if w.monitor != nil {
		w.monitor.StartServer()
	}

	res, err := w.run(cmd.Context(), m)
	if err != nil {
		return err
	}

	res.print(cmd.OutOrStdout(), w.accesses)

	if w.monitor != nil {
		fmt.Fprintln(os.Stderr, "Benchmark done, press Ctrl-C to stop monitoring.")
		<-cmd.Context().Done()
	}

	return nil
}

func workloadFromFlags(cmd *cobra.Command) (workload, error) {
	f := cmd.Flags()

	w := workload{}
	w.numHarts, _ = f.GetInt("harts")
	w.numPages, _ = f.GetInt("pages")
	w.accesses, _ = f.GetInt("accesses")
	w.stride, _ = f.GetInt("stride")
	w.storeEvery, _ = f.GetInt("store-every")
	w.seed, _ = f.GetUint64("seed")

	patternName, _ := f.GetString("pattern")

	p, err := parsePattern(patternName)
	if err != nil {
		return w, err
	}

	w.pattern = p

	modeName, _ := f.GetString("mode")

	w.mode, err = vm.ParsePagingMode(modeName)
	if err != nil {
		return w, err
	}

	w.mmuBuilder, err = mmuBuilderFromFlags(cmd)

	return w, err
}

// mmuBuilderFromFlags starts from the SOFTMMU_* environment and lets the
// flags that were set override it.
func mmuBuilderFromFlags(cmd *cobra.Command) (mmu.Builder, error) {
	f := cmd.Flags()

	b, err := mmu.ConfigFromEnv(mmu.MakeBuilder())
	if err != nil {
		return b, err
	}

	capacitySetters := map[string]func(mmu.Builder, int) mmu.Builder{
		"l1": mmu.Builder.WithL1Capacity,
		"l2": mmu.Builder.WithL2Capacity,
		"l3": mmu.Builder.WithL3Capacity,
	}

	for name, set := range capacitySetters {
		if f.Changed(name) {
			n, _ := f.GetInt(name)
			b = set(b, n)
		}
	}

	if f.Changed("policy") {
		name, _ := f.GetString("policy")

		p, err := tlb.ParseReplacementPolicy(name)
		if err != nil {
			return b, err
		}

		for level := range tlb.NumLevels {
			b = b.WithPolicy(level, p)
		}
	}

	if f.Changed("prefetch-window") {
		n, _ := f.GetInt("prefetch-window")
		b = b.WithPrefetchWindow(n)
	}

	if f.Changed("track-ad") {
		track, _ := f.GetBool("track-ad")
		b = b.WithTrackADBits(track)
	}

	return b, nil
}
