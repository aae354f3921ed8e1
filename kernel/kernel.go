// Package kernel is the thin layer of process management that drives the VM
// core: it loads programs, forks and exits processes, switches between them
// and dispatches TLB exceptions to the fault handler.
package kernel

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/sarchlab/omegavm/machine"
	"github.com/sarchlab/omegavm/mem/vm"
	"github.com/sarchlab/omegavm/mem/vm/addrspace"
	"github.com/sarchlab/omegavm/mem/vm/coremap"
	"github.com/sarchlab/omegavm/mem/vm/fault"
	"github.com/sarchlab/omegavm/sim"
)

var (
	// ErrNoSuchProcess is returned for a PID that is unknown or no longer
	// alive.
	ErrNoSuchProcess = errors.New("no such process")

	// ErrNoCurrentProcess is returned for a user access while no process
	// runs.
	ErrNoCurrentProcess = errors.New("no current process")
)

// Hook positions of the kernel. The item is a ProcessEvent.
var (
	HookPosProcessStart  = &sim.HookPos{Name: "ProcessStart"}
	HookPosProcessSwitch = &sim.HookPos{Name: "ProcessSwitch"}
	HookPosProcessExit   = &sim.HookPos{Name: "ProcessExit"}
	HookPosProcessKill   = &sim.HookPos{Name: "ProcessKill"}
)

// Kernel owns the processes of one machine.
type Kernel struct {
	*sim.HookableBase

	name    string
	machine *machine.Machine
	frames  *coremap.FrameTable
	spaces  *addrspace.Manager
	faults  *fault.Handler

	mu        sync.Mutex
	processes map[int]*Process
	current   *Process
	nextPID   int
	heap      vm.VAddr
}

// Name returns the name of the kernel.
func (k *Kernel) Name() string {
	return k.name
}

// Machine returns the hardware the kernel runs on.
func (k *Kernel) Machine() *machine.Machine {
	return k.machine
}

// Frames returns the frame allocator.
func (k *Kernel) Frames() *coremap.FrameTable {
	return k.frames
}

// Spaces returns the address space manager.
func (k *Kernel) Spaces() *addrspace.Manager {
	return k.spaces
}

// Faults returns the fault handler.
func (k *Kernel) Faults() *fault.Handler {
	return k.faults
}

// BootHeap returns the kernel address of the pages stolen at boot, 0 if none.
func (k *Kernel) BootHeap() vm.VAddr {
	return k.heap
}

// CurrentAddressSpace returns the space of the running process.
func (k *Kernel) CurrentAddressSpace() *addrspace.AddressSpace {
	if k.current == nil {
		return nil
	}

	return k.current.space
}

// Inspect runs f while no kernel operation is in progress.
func (k *Kernel) Inspect(f func()) {
	k.mu.Lock()
	defer k.mu.Unlock()

	f()
}

// Current returns the running process, nil if none.
func (k *Kernel) Current() *Process {
	k.mu.Lock()
	defer k.mu.Unlock()

	return k.current
}

// Process returns the process with the given PID.
func (k *Kernel) Process(pid int) (*Process, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()

	p, found := k.processes[pid]

	return p, found
}

// Processes returns every process ever started, ordered by PID.
func (k *Kernel) Processes() []*Process {
	k.mu.Lock()
	defer k.mu.Unlock()

	return k.sortedProcesses()
}

func (k *Kernel) sortedProcesses() []*Process {
	ps := make([]*Process, 0, len(k.processes))
	for _, p := range k.processes {
		ps = append(ps, p)
	}

	sort.Slice(ps, func(i, j int) bool { return ps[i].PID < ps[j].PID })

	return ps
}

// AddressSpaces returns the spaces of the live processes. It must be called
// from Inspect or while the kernel is idle.
func (k *Kernel) AddressSpaces() []*addrspace.AddressSpace {
	var spaces []*addrspace.AddressSpace

	for _, p := range k.sortedProcesses() {
		if p.space != nil {
			spaces = append(spaces, p.space)
		}
	}

	return spaces
}

func (k *Kernel) invoke(pos *sim.HookPos, p *Process) {
	k.InvokeHook(sim.HookCtx{
		Domain: k,
		Pos:    pos,
		Item: ProcessEvent{
			PID:   p.PID,
			Name:  p.Name,
			State: p.state,
			Err:   p.killedBy,
		},
	})
}

func (k *Kernel) newProcess(name string, parent int) *Process {
	k.nextPID++

	p := &Process{
		PID:    k.nextPID,
		Name:   name,
		Parent: parent,
		state:  ProcessReady,
	}
	k.processes[p.PID] = p

	return p
}

func (k *Kernel) liveProcess(pid int) (*Process, error) {
	p, found := k.processes[pid]
	if !found || !p.alive() {
		return nil, fmt.Errorf("pid %d: %w", pid, ErrNoSuchProcess)
	}

	return p, nil
}

// switchTo makes p the running process. A nil p leaves only the kernel
// running.
func (k *Kernel) switchTo(p *Process) {
	if k.current != nil && k.current.alive() {
		k.current.state = ProcessReady
	}

	k.current = p

	if p == nil {
		k.spaces.Activate(nil)
		return
	}

	p.state = ProcessRunning
	k.spaces.Activate(p.space)
	k.invoke(HookPosProcessSwitch, p)
}

// Switch runs the process with the given PID.
func (k *Kernel) Switch(pid int) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	p, err := k.liveProcess(pid)
	if err != nil {
		return err
	}

	if k.current != p {
		k.switchTo(p)
	}

	return nil
}

// RunProgram creates a process for prog, loads its segments and makes it the
// running process. On failure nothing of the new process is left behind and
// the previous process keeps running.
func (k *Kernel) RunProgram(prog Program) (*Process, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	previous := k.current

	p := k.newProcess(prog.Name, 0)
	p.space = k.spaces.Create()
	k.switchTo(p)

	if err := k.load(p, prog.Segments); err != nil {
		p.space.Destroy()
		p.space = nil
		delete(k.processes, p.PID)
		k.current = nil
		k.switchTo(previous)

		return nil, fmt.Errorf("running %s: %w", prog.Name, err)
	}

	k.invoke(HookPosProcessStart, p)

	return p, nil
}

func (k *Kernel) load(p *Process, segments []Segment) error {
	as := p.space

	for _, s := range segments {
		if uint32(len(s.Data)) > s.MemSize {
			return fmt.Errorf("%w: segment at 0x%08x holds %d bytes in %d",
				vm.ErrInvalid, s.VAddr, len(s.Data), s.MemSize)
		}

		if _, err := as.DefineRegion(s.VAddr, s.MemSize, s.Perm); err != nil {
			return err
		}
	}

	if err := as.PrepareLoad(); err != nil {
		return err
	}

	for _, s := range segments {
		if err := k.copyOut(as, s.VAddr, s.Data); err != nil {
			return err
		}
	}

	if err := as.CompleteLoad(); err != nil {
		return err
	}

	p.stackPointer = as.DefineStack()

	return nil
}

// copyOut writes data into as at vaddr, one page at a time.
func (k *Kernel) copyOut(
	as *addrspace.AddressSpace,
	vaddr vm.VAddr,
	data []byte,
) error {
	for len(data) > 0 {
		n := min(uint32(len(data)), vm.PageSize-vm.PageOffset(vaddr))

		paddr, err := as.Translate(vaddr)
		if err != nil {
			return err
		}

		if err := k.machine.RAM.Write(paddr, data[:n]); err != nil {
			return err
		}

		data = data[n:]
		vaddr += vm.VAddr(n)
	}

	return nil
}

// Fork copies the process with the given PID. The child is ready to run but
// the parent stays current.
func (k *Kernel) Fork(pid int) (*Process, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	parent, err := k.liveProcess(pid)
	if err != nil {
		return nil, err
	}

	space, err := parent.space.Copy()
	if err != nil {
		return nil, fmt.Errorf("forking %s: %w", parent, err)
	}

	child := k.newProcess(parent.Name+".child", parent.PID)
	child.space = space
	child.stackPointer = parent.stackPointer

	k.invoke(HookPosProcessStart, child)

	return child, nil
}

// Exit terminates the process with the given PID and releases its memory.
func (k *Kernel) Exit(pid int, code int) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	p, err := k.liveProcess(pid)
	if err != nil {
		return err
	}

	p.exitCode = code
	k.terminate(p, ProcessExited)
	k.invoke(HookPosProcessExit, p)

	return nil
}

func (k *Kernel) terminate(p *Process, state ProcessState) {
	p.state = state

	p.space.Destroy()
	p.space = nil

	if k.current == p {
		k.switchTo(nil)
	}
}
