package kernel

import (
	"fmt"

	"github.com/sarchlab/omegavm/mem/vm"
	"github.com/sarchlab/omegavm/mem/vm/addrspace"
)

// ProcessState tells whether a process can still run.
type ProcessState int

// Process states.
const (
	ProcessReady ProcessState = iota
	ProcessRunning
	ProcessExited
	ProcessKilled
)

func (s ProcessState) String() string {
	switch s {
	case ProcessReady:
		return "ready"
	case ProcessRunning:
		return "running"
	case ProcessExited:
		return "exited"
	case ProcessKilled:
		return "killed"
	default:
		return fmt.Sprintf("ProcessState(%d)", int(s))
	}
}

// A Process is a user program with its own address space.
type Process struct {
	PID    int
	Name   string
	Parent int

	space *addrspace.AddressSpace
	state ProcessState

	stackPointer vm.VAddr
	exitCode     int
	killedBy     error
}

// Space returns the address space of the process, nil once it has exited.
func (p *Process) Space() *addrspace.AddressSpace {
	return p.space
}

// State returns the state of the process.
func (p *Process) State() ProcessState {
	return p.state
}

// StackPointer returns the initial user stack pointer.
func (p *Process) StackPointer() vm.VAddr {
	return p.stackPointer
}

// ExitCode returns the code the process exited with.
func (p *Process) ExitCode() int {
	return p.exitCode
}

// KilledBy returns the fault that killed the process.
func (p *Process) KilledBy() error {
	return p.killedBy
}

func (p *Process) alive() bool {
	return p.state == ProcessReady || p.state == ProcessRunning
}

func (p *Process) String() string {
	return fmt.Sprintf("%s[%d]", p.Name, p.PID)
}

// ProcessEvent is the item of the kernel hooks.
type ProcessEvent struct {
	PID   int
	Name  string
	State ProcessState
	Err   error
}

func (e ProcessEvent) String() string {
	s := fmt.Sprintf("%s[%d] %s", e.Name, e.PID, e.State)
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}

	return s
}

// A Segment is a piece of a program image loaded at a fixed address.
type Segment struct {
	VAddr   vm.VAddr
	MemSize uint32
	Data    []byte
	Perm    addrspace.Permission
}

// A Program is a loadable image.
type Program struct {
	Name     string
	Segments []Segment
}
