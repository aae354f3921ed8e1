// Package monitoring serves the state of a running machine over HTTP.
package monitoring

import (
	"bytes"
	"context"
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

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/pkg/browser"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"

	"github.com/sarchlab/omegavm/machine"
	"github.com/sarchlab/omegavm/mem/vm/addrspace"
	"github.com/sarchlab/omegavm/mem/vm/coremap"
	"github.com/sarchlab/omegavm/monitoring/web"
	"github.com/sarchlab/omegavm/sim"
	"github.com/sarchlab/omegavm/sim/id"
)

// A Kernel is what the monitor needs to know about the running kernel.
type Kernel interface {
	// Inspect runs f while the kernel is idle.
	Inspect(f func())

	// AddressSpaces lists the live address spaces.
	AddressSpaces() []*addrspace.AddressSpace
}

// A TLBSnapshotter can report every slot of a TLB.
type TLBSnapshotter interface {
	Snapshot() []machine.TLBEntry
}

// Monitor turns a machine into a server that can be inspected from a
// browser.
type Monitor struct {
	portNumber int

	kernel     Kernel
	frames     *coremap.FrameTable
	tlb        TLBSnapshotter
	components []sim.Named

	progressBarsLock sync.Mutex
	progressBars     []*ProgressBar
	idGen            id.IDGenerator

	server *http.Server
	url    string
}

// NewMonitor creates a new Monitor
func NewMonitor() *Monitor {
	return &Monitor{idGen: id.NewIDGenerator()}
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

// RegisterKernel sets the kernel whose address spaces are listed.
func (m *Monitor) RegisterKernel(k Kernel) {
	m.kernel = k
}

// RegisterFrameTable sets the frame table to report.
func (m *Monitor) RegisterFrameTable(t *coremap.FrameTable) {
	m.frames = t
	m.RegisterComponent(t)
}

// RegisterTLB sets the TLB to report.
func (m *Monitor) RegisterTLB(t TLBSnapshotter) {
	m.tlb = t
}

// RegisterComponent registers a component whose fields can be browsed.
func (m *Monitor) RegisterComponent(c sim.Named) {
	m.components = append(m.components, c)
}

// CreateProgressBar creates a new progress bar.
func (m *Monitor) CreateProgressBar(name string, total uint64) *ProgressBar {
	bar := &ProgressBar{
		ID:        m.idGen.Generate(),
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

// Handler returns the routes of the monitor.
func (m *Monitor) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/api/coremap", m.reportCoremap)
	r.HandleFunc("/api/tlb", m.reportTLB)
	r.HandleFunc("/api/spaces", m.reportSpaces)
	r.HandleFunc("/api/list_components", m.listComponents)
	r.HandleFunc("/api/component/{name}", m.listComponentDetails)
	r.HandleFunc("/api/field/{json}", m.listFieldValue)
	r.HandleFunc("/api/progress", m.listProgressBars)
	r.HandleFunc("/api/resource", m.listResources)
	r.HandleFunc("/api/profile", m.collectProfile)
	r.PathPrefix("/").Handler(http.FileServer(web.GetAssets()))

	return r
}

// StartServer starts serving in the background and returns the URL of the
// monitor.
func (m *Monitor) StartServer() string {
	actualPort := ":0"
	if m.portNumber > 1000 {
		actualPort = ":" + strconv.Itoa(m.portNumber)
	}

	listener, err := net.Listen("tcp", actualPort)
	dieOnErr(err)

	m.url = fmt.Sprintf("http://localhost:%d",
		listener.Addr().(*net.TCPAddr).Port)
	fmt.Fprintf(os.Stderr, "Monitoring simulation with %s\n", m.url)

	m.server = &http.Server{
		Handler:           m.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		err := m.server.Serve(listener)
		if err != http.ErrServerClosed {
			dieOnErr(err)
		}
	}()

	return m.url
}

// OpenInBrowser opens the monitor page in the default browser.
func (m *Monitor) OpenInBrowser() error {
	if m.url == "" {
		return fmt.Errorf("monitor server is not started")
	}

	return browser.OpenURL(m.url)
}

// StopServer shuts the server down.
func (m *Monitor) StopServer(ctx context.Context) error {
	if m.server == nil {
		return nil
	}

	return m.server.Shutdown(ctx)
}

func (m *Monitor) inspect(f func()) {
	if m.kernel == nil {
		f()
		return
	}

	m.kernel.Inspect(f)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")

	err := json.NewEncoder(w).Encode(v)
	dieOnErr(err)
}

type allocationRsp struct {
	PAddr    uint32 `json:"paddr"`
	NumPages uint32 `json:"num_pages"`
	State    string `json:"state"`
	Owner    string `json:"owner,omitempty"`
}

type coremapRsp struct {
	Stats          coremap.Stats   `json:"stats"`
	Allocations    []allocationRsp `json:"allocations"`
	PartitionError string          `json:"partition_error,omitempty"`
}

func (m *Monitor) reportCoremap(w http.ResponseWriter, _ *http.Request) {
	if m.frames == nil {
		http.Error(w, "no frame table registered", http.StatusNotFound)
		return
	}

	rsp := coremapRsp{Allocations: []allocationRsp{}}

	m.inspect(func() {
		rsp.Stats = m.frames.Stats()

		for _, f := range m.frames.Frames() {
			if f.RunLength == 0 {
				continue
			}

			rsp.Allocations = append(rsp.Allocations, allocationRsp{
				PAddr:    uint32(f.PAddr),
				NumPages: f.RunLength,
				State:    f.State.String(),
				Owner:    string(f.Owner),
			})
		}

		if err := m.frames.CheckPartition(); err != nil {
			rsp.PartitionError = err.Error()
		}
	})

	writeJSON(w, rsp)
}

type tlbEntryRsp struct {
	Index  int    `json:"index"`
	VPage  uint32 `json:"vpage"`
	PFrame uint32 `json:"pframe"`
	Valid  bool   `json:"valid"`
	Dirty  bool   `json:"dirty"`
}

func (m *Monitor) reportTLB(w http.ResponseWriter, _ *http.Request) {
	if m.tlb == nil {
		http.Error(w, "no tlb registered", http.StatusNotFound)
		return
	}

	rsp := []tlbEntryRsp{}

	m.inspect(func() {
		for i, e := range m.tlb.Snapshot() {
			rsp = append(rsp, tlbEntryRsp{
				Index:  i,
				VPage:  uint32(e.VPage()),
				PFrame: uint32(e.PFrame()),
				Valid:  e.Valid(),
				Dirty:  e.Writable(),
			})
		}
	})

	writeJSON(w, rsp)
}

type regionRsp struct {
	VBase    uint32 `json:"vbase"`
	NumPages uint32 `json:"num_pages"`
	Perm     string `json:"perm"`
	PBase    uint32 `json:"pbase"`
}

type spaceRsp struct {
	ID         string      `json:"id"`
	NumPages   int         `json:"num_pages"`
	StackPBase uint32      `json:"stack_pbase"`
	Regions    []regionRsp `json:"regions"`
}

func (m *Monitor) reportSpaces(w http.ResponseWriter, _ *http.Request) {
	rsp := []spaceRsp{}

	if m.kernel != nil {
		m.kernel.Inspect(func() {
			for _, as := range m.kernel.AddressSpaces() {
				rsp = append(rsp, describeSpace(as))
			}
		})
	}

	writeJSON(w, rsp)
}

func describeSpace(as *addrspace.AddressSpace) spaceRsp {
	s := spaceRsp{
		ID:         string(as.ID()),
		NumPages:   as.NumPages(),
		StackPBase: uint32(as.StackPBase()),
		Regions:    []regionRsp{},
	}

	for _, r := range as.Regions() {
		s.Regions = append(s.Regions, regionRsp{
			VBase:    uint32(r.VBase),
			NumPages: r.NumPages,
			Perm:     r.Perm.String(),
			PBase:    uint32(r.PBase),
		})
	}

	return s
}

func (m *Monitor) listComponents(w http.ResponseWriter, _ *http.Request) {
	names := make([]string, 0, len(m.components))
	for _, c := range m.components {
		names = append(names, c.Name())
	}

	writeJSON(w, names)
}

func (m *Monitor) listComponentDetails(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	component := m.findComponentOr404(w, name)
	if component == nil {
		return
	}

	m.inspect(func() {
		serializer := goseth.NewSerializer()
		serializer.SetRoot(component)
		serializer.SetMaxDepth(1)
		err := serializer.Serialize(w)

		dieOnErr(err)
	})
}

type fieldReq struct {
	CompName  string `json:"comp_name,omitempty"`
	FieldName string `json:"field_name,omitempty"`
}

func (m *Monitor) listFieldValue(w http.ResponseWriter, r *http.Request) {
	req := fieldReq{}

	err := json.Unmarshal([]byte(mux.Vars(r)["json"]), &req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	component := m.findComponentOr404(w, req.CompName)
	if component == nil {
		return
	}

	m.inspect(func() {
		serializer := goseth.NewSerializer()
		serializer.SetRoot(component)
		serializer.SetMaxDepth(1)

		err = serializer.SetEntryPoint(strings.Split(req.FieldName, "."))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		err = serializer.Serialize(w)
		dieOnErr(err)
	})
}

func (m *Monitor) findComponentOr404(
	w http.ResponseWriter,
	name string,
) sim.Named {
	for _, c := range m.components {
		if c.Name() == name {
			return c
		}
	}

	http.Error(w, "Component not found", http.StatusNotFound)

	return nil
}

func (m *Monitor) listProgressBars(w http.ResponseWriter, _ *http.Request) {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	bars := make([]*ProgressBar, len(m.progressBars))
	copy(bars, m.progressBars)

	writeJSON(w, bars)
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	dieOnErr(err)

	cpuPercent, err := proc.CPUPercent()
	dieOnErr(err)

	memoryInfo, err := proc.MemoryInfo()
	dieOnErr(err)

	writeJSON(w, resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memoryInfo.RSS,
	})
}

func (m *Monitor) collectProfile(w http.ResponseWriter, _ *http.Request) {
	buf := bytes.NewBuffer(nil)

	err := pprof.StartCPUProfile(buf)
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	time.Sleep(time.Second)

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	dieOnErr(err)

	writeJSON(w, prof)
}

func dieOnErr(err error) {
	if err != nil {
		log.Panic(err)
	}
}
