// Package monitoring serves the state of running SoftMMUs over HTTP.
package monitoring

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"strconv"
	"strings"
	"sync"
	"time"

	// Enable profiling
	_ "net/http/pprof"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/pkg/browser"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"

	"github.com/sarchlab/softmmu/mem/physmem"
	"github.com/sarchlab/softmmu/mem/vm/mmu"
	"github.com/sarchlab/softmmu/sim"
)

// Monitor turns a running machine into a server that reports the state of
// its MMUs and physical memory.
type Monitor struct {
	portNumber  int
	openBrowser bool

	lock    sync.Mutex
	storage *physmem.Storage
	mmus    []*mmu.SoftMMU

	progressBarsLock sync.Mutex
	progressBars     []*ProgressBar
}

// NewMonitor creates a new Monitor
func NewMonitor() *Monitor {
	return &Monitor{}
}

// WithPortNumber sets the port number of the monitor.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber < 1000 {
		fmt.Fprintf(os.Stderr,
			"Port number %d is assigned to the monitoring server, "+
				"which is not allowed. Using a random port instead.\n", portNumber)
		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// WithBrowser makes StartServer open the monitor in the default browser.
func (m *Monitor) WithBrowser(open bool) *Monitor {
	m.openBrowser = open
	return m
}

// RegisterStorage sets the physical memory to report.
func (m *Monitor) RegisterStorage(s *physmem.Storage) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.storage = s
}

// RegisterMMU registers an MMU to be monitored.
func (m *Monitor) RegisterMMU(u *mmu.SoftMMU) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.mmus = append(m.mmus, u)
}

// CreateProgressBar creates a new progress bar.
func (m *Monitor) CreateProgressBar(name string, total uint64) *ProgressBar {
	bar := &ProgressBar{
		ID:        sim.GetIDGenerator().Generate(),
		Name:      name,
		StartTime: time.Now(),
		Total:     total,
	}

	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	m.progressBars = append(m.progressBars, bar)

	return bar
}

// CompleteProgressBar removes a bar to be shown on the webpage.
func (m *Monitor) CompleteProgressBar(pb *ProgressBar) {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	newBars := make([]*ProgressBar, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		if b != pb {
			newBars = append(newBars, b)
		}
	}

	m.progressBars = newBars
}

// Router returns the handler of the monitoring API.
func (m *Monitor) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/api/list_mmus", m.listMMUs).Methods(http.MethodGet)
	r.HandleFunc("/api/mmu/{name}/stats", m.mmuStats).Methods(http.MethodGet)
	r.HandleFunc("/api/mmu/{name}/detail", m.mmuDetail).Methods(http.MethodGet)
	r.HandleFunc("/api/mmu/{name}/field/{path}", m.mmuField).
		Methods(http.MethodGet)
	r.HandleFunc("/api/storage", m.storageInfo).Methods(http.MethodGet)
	r.HandleFunc("/api/progress", m.listProgressBars).Methods(http.MethodGet)
	r.HandleFunc("/api/resource", m.listResources).Methods(http.MethodGet)
	r.HandleFunc("/api/profile", m.collectProfile).Methods(http.MethodGet)
	r.PathPrefix("/debug/pprof/").Handler(http.DefaultServeMux)

	return r
}

// StartServer starts the monitor as a web server and returns the port it
// listens on.
func (m *Monitor) StartServer() int {
	actualPort := ":0"
	if m.portNumber > 1000 {
		actualPort = ":" + strconv.Itoa(m.portNumber)
	}

	listener, err := net.Listen("tcp", actualPort)
	dieOnErr(err)

	port := listener.Addr().(*net.TCPAddr).Port
	url := fmt.Sprintf("http://localhost:%d/api/list_mmus", port)

	fmt.Fprintf(os.Stderr, "Monitoring MMUs with %s\n", url)

	r := m.Router()

	go func() {
		err := http.Serve(listener, r)
		dieOnErr(err)
	}()

	if m.openBrowser {
		err = browser.OpenURL(url)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Cannot open browser: %v\n", err)
		}
	}

	return port
}

func (m *Monitor) listMMUs(w http.ResponseWriter, _ *http.Request) {
	m.lock.Lock()
	names := make([]string, 0, len(m.mmus))
	for _, u := range m.mmus {
		names = append(names, u.Name())
	}
	m.lock.Unlock()

	writeJSON(w, names)
}

type statsRsp struct {
	Name       string    `json:"name"`
	PagingMode string    `json:"paging_mode"`
	Stats      mmu.Stats `json:"stats"`
	IHitRate   float64   `json:"instruction_hit_rate"`
	DHitRate   float64   `json:"data_hit_rate"`
}

func (m *Monitor) mmuStats(w http.ResponseWriter, r *http.Request) {
	u := m.findMMUOr404(w, mux.Vars(r)["name"])
	if u == nil {
		return
	}

	stats := u.Stats()

	writeJSON(w, statsRsp{
		Name:       u.Name(),
		PagingMode: u.PagingMode().String(),
		Stats:      stats,
		IHitRate:   stats.Instruction.HitRate(),
		DHitRate:   stats.Data.HitRate(),
	})
}

// mmuDetail serializes the fields of an MMU. The fields are read without
// synchronizing with the vCPU that owns the MMU.
func (m *Monitor) mmuDetail(w http.ResponseWriter, r *http.Request) {
	u := m.findMMUOr404(w, mux.Vars(r)["name"])
	if u == nil {
		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(u)
	serializer.SetMaxDepth(1)
	err := serializer.Serialize(w)

	dieOnErr(err)
}

func (m *Monitor) mmuField(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	u := m.findMMUOr404(w, vars["name"])
	if u == nil {
		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(u)
	serializer.SetMaxDepth(1)

	err := serializer.SetEntryPoint(strings.Split(vars["path"], "."))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, "Error: %s", err)

		return
	}

	err = serializer.Serialize(w)
	dieOnErr(err)
}

type regionRsp struct {
	Name string `json:"name"`
	Base uint64 `json:"base"`
	Size uint64 `json:"size"`
}

type storageRsp struct {
	Capacity  uint64      `json:"capacity"`
	NumShards int         `json:"num_shards"`
	Regions   []regionRsp `json:"regions"`
}

func (m *Monitor) storageInfo(w http.ResponseWriter, _ *http.Request) {
	m.lock.Lock()
	s := m.storage
	m.lock.Unlock()

	if s == nil {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, "Storage not registered")

		return
	}

	rsp := storageRsp{
		Capacity:  s.Capacity(),
		NumShards: s.NumShards(),
		Regions:   []regionRsp{},
	}

	for _, region := range s.Regions() {
		rsp.Regions = append(rsp.Regions, regionRsp{
			Name: region.Name,
			Base: uint64(region.Base),
			Size: region.Size,
		})
	}

	writeJSON(w, rsp)
}

func (m *Monitor) findMMUOr404(
	w http.ResponseWriter,
	name string,
) *mmu.SoftMMU {
	m.lock.Lock()
	defer m.lock.Unlock()

	for _, u := range m.mmus {
		if u.Name() == name {
			return u
		}
	}

	w.WriteHeader(http.StatusNotFound)
	_, err := w.Write([]byte("MMU not found"))
	dieOnErr(err)

	return nil
}

func (m *Monitor) listProgressBars(w http.ResponseWriter, _ *http.Request) {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	bars := make([]progressBarRsp, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		bars = append(bars, b.snapshot())
	}

	writeJSON(w, bars)
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	pid := os.Getpid()
	process, err := process.NewProcess(int32(pid))
	dieOnErr(err)

	cpuPercent, err := process.CPUPercent()
	dieOnErr(err)

	memorySize, err := process.MemoryInfo()
	dieOnErr(err)

	writeJSON(w, resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memorySize.RSS,
	})
}

func (m *Monitor) collectProfile(w http.ResponseWriter, r *http.Request) {
	duration := time.Second

	if s := r.URL.Query().Get("seconds"); s != "" {
		d, err := time.ParseDuration(s + "s")
		if err != nil || d <= 0 {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprintf(w, "Error: invalid duration %q", s)

			return
		}

		duration = d
	}

	buf := bytes.NewBuffer(nil)

	err := pprof.StartCPUProfile(buf)
	if err != nil {
		w.WriteHeader(http.StatusConflict)
		fmt.Fprintf(w, "Error: %s", err)

		return
	}

	time.Sleep(duration)

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	dieOnErr(err)

	writeJSON(w, prof)
}

func writeJSON(w http.ResponseWriter, v any) {
	bytes, err := json.Marshal(v)
	dieOnErr(err)

	w.Header().Set("Content-Type", "application/json")

	_, err = w.Write(bytes)
	dieOnErr(err)
}

func dieOnErr(err error) {
	if err != nil {
		log.Panic(err)
	}
}
