// Package scenario describes runs of the VM core in YAML and plays them on a
// simulation.
package scenario

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	units "github.com/docker/go-units"
	"gopkg.in/yaml.v3"

	"github.com/sarchlab/omegavm/kernel"
	"github.com/sarchlab/omegavm/mem/vm"
	"github.com/sarchlab/omegavm/mem/vm/addrspace"
	"github.com/sarchlab/omegavm/simulation"
)

// ErrBadScenario is returned for a scenario that can not be played.
var ErrBadScenario = errors.New("bad scenario")

// Step operations.
const (
	OpRead   = "read"
	OpWrite  = "write"
	OpFork   = "fork"
	OpExit   = "exit"
	OpSwitch = "switch"
	OpExpect = "expect"
)

// A Scenario lists the programs started at boot and the steps played
// afterwards.
type Scenario struct {
	Name      string        `yaml:"name"`
	RAM       string        `yaml:"ram,omitempty"`
	TLB       int           `yaml:"tlb,omitempty"`
	BootPages uint32        `yaml:"boot_pages,omitempty"`
	Processes []ProcessDef `yaml:"processes"`
	Steps     []Step        `yaml:"steps"`
}

// A ProcessDef is a program to start.
type ProcessDef struct {
	Name     string        `yaml:"name"`
	Segments []SegmentDef `yaml:"segments"`
}

// A SegmentDef is one segment of a program image.
type SegmentDef struct {
	VAddr uint32 `yaml:"vaddr"`
	Size  uint32 `yaml:"size"`
	Perm  string `yaml:"perm,omitempty"`
	Data  string `yaml:"data,omitempty"`
}

// A Step is one action of a scenario.
type Step struct {
	Op      string `yaml:"op"`
	Process string `yaml:"process,omitempty"`

	VAddr uint32 `yaml:"vaddr,omitempty"`
	Size  uint32 `yaml:"size,omitempty"`
	Data  string `yaml:"data,omitempty"`

	// As names the child of a fork.
	As string `yaml:"as,omitempty"`

	// Code is the exit code of an exit.
	Code int `yaml:"code,omitempty"`

	// Want is the data a read must return.
	Want *string `yaml:"want,omitempty"`

	// Error is the errno name a read or write must fail with.
	Error string `yaml:"error,omitempty"`

	// Fields checked by an expect step.
	State       string `yaml:"state,omitempty"`
	FreeFrames  *int   `yaml:"free_frames,omitempty"`
	DirtyFrames *int   `yaml:"dirty_frames,omitempty"`
	TLBValid    *int   `yaml:"tlb_valid,omitempty"`
}

func (s Step) String() string {
	parts := []string{s.Op}
	if s.Process != "" {
		parts = append(parts, s.Process)
	}

	switch s.Op {
	case OpRead, OpWrite:
		parts = append(parts, fmt.Sprintf("0x%08x", s.VAddr))
	case OpFork:
		parts = append(parts, "as "+s.As)
	}

	return strings.Join(parts, " ")
}

// Load reads a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	sc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return sc, nil
}

// Parse decodes and validates a scenario.
func Parse(data []byte) (*Scenario, error) {
	sc := &Scenario{}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(sc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadScenario, err)
	}

	if err := sc.Validate(); err != nil {
		return nil, err
	}

	return sc, nil
}

// RAMSize returns the RAM size the scenario asks for, 0 if it does not say.
func (sc *Scenario) RAMSize() (uint32, error) {
	if sc.RAM == "" {
		return 0, nil
	}

	return ParseSize(sc.RAM)
}

// Configure applies the machine geometry of the scenario to a builder.
// Validate must have accepted the scenario.
func (sc *Scenario) Configure(b simulation.Builder) simulation.Builder {
	if size, _ := sc.RAMSize(); size != 0 {
		b = b.WithRAMSize(size)
	}

	if sc.TLB != 0 {
		b = b.WithNumTLB(sc.TLB)
	}

	if sc.BootPages != 0 {
		b = b.WithBootPages(sc.BootPages)
	}

	return b
}

// ParseSize reads a size such as "4M" or "512k".
func ParseSize(s string) (uint32, error) {
	size, err := units.RAMInBytes(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBadScenario, err)
	}

	if size <= 0 || size%vm.PageSize != 0 || size > vm.UserSpaceTop/4 {
		return 0, fmt.Errorf("%w: RAM size %s is not a usable multiple of %d",
			ErrBadScenario, s, vm.PageSize)
	}

	return uint32(size), nil
}

// ParsePermission reads permissions written as "rwx", "r-x" or "rw".
func ParsePermission(s string) (addrspace.Permission, error) {
	var perm addrspace.Permission

	for _, c := range s {
		switch c {
		case 'r':
			perm |= addrspace.PermRead
		case 'w':
			perm |= addrspace.PermWrite
		case 'x':
			perm |= addrspace.PermExecute
		case '-':
		default:
			return 0, fmt.Errorf("%w: permission %q", ErrBadScenario, s)
		}
	}

	return perm, nil
}

// Program converts a process description into a loadable program.
func (p ProcessDef) Program() (kernel.Program, error) {
	prog := kernel.Program{Name: p.Name}

	for _, s := range p.Segments {
		perm, err := ParsePermission(s.Perm)
		if err != nil {
			return kernel.Program{}, err
		}

		var data []byte
		if s.Data != "" {
			data = []byte(s.Data)
		}

		prog.Segments = append(prog.Segments, kernel.Segment{
			VAddr:   vm.VAddr(s.VAddr),
			MemSize: s.Size,
			Data:    data,
			Perm:    perm,
		})
	}

	return prog, nil
}

var errnoNames = map[string]error{
	"ENOMEM": vm.ErrNoMemory,
	"EINVAL": vm.ErrInvalid,
	"EFAULT": vm.ErrFault,
}

var stateNames = map[string]kernel.ProcessState{
	"ready":   kernel.ProcessReady,
	"running": kernel.ProcessRunning,
	"exited":  kernel.ProcessExited,
	"killed":  kernel.ProcessKilled,
}

// Validate checks that every step refers to a process that exists by then.
func (sc *Scenario) Validate() error {
	if _, err := sc.RAMSize(); err != nil {
		return err
	}

	if sc.TLB < 0 {
		return fmt.Errorf("%w: negative TLB size", ErrBadScenario)
	}

	names := make(map[string]bool)

	for _, p := range sc.Processes {
		if p.Name == "" || names[p.Name] {
			return fmt.Errorf("%w: process name %q is empty or repeated",
				ErrBadScenario, p.Name)
		}

		if _, err := p.Program(); err != nil {
			return fmt.Errorf("process %s: %w", p.Name, err)
		}

		names[p.Name] = true
	}

	for i, s := range sc.Steps {
		if err := s.validate(names); err != nil {
			return fmt.Errorf("step %d (%s): %w", i+1, s.Op, err)
		}
	}

	return nil
}

func (s Step) validate(names map[string]bool) error {
	if s.Process != "" && !names[s.Process] {
		return fmt.Errorf("%w: unknown process %q", ErrBadScenario, s.Process)
	}

	if s.Error != "" {
		if _, ok := errnoNames[s.Error]; !ok {
			return fmt.Errorf("%w: unknown errno %q", ErrBadScenario, s.Error)
		}
	}

	switch s.Op {
	case OpRead:
		if s.Size == 0 && s.Want == nil {
			return fmt.Errorf("%w: read needs a size or want", ErrBadScenario)
		}
	case OpWrite:
		if s.Data == "" {
			return fmt.Errorf("%w: write needs data", ErrBadScenario)
		}
	case OpFork:
		if s.Process == "" || s.As == "" || names[s.As] {
			return fmt.Errorf("%w: fork needs a process and a new name",
				ErrBadScenario)
		}

		names[s.As] = true
	case OpExit, OpSwitch:
		if s.Process == "" {
			return fmt.Errorf("%w: %s needs a process", ErrBadScenario, s.Op)
		}
	case OpExpect:
		if s.State != "" {
			if _, ok := stateNames[s.State]; !ok || s.Process == "" {
				return fmt.Errorf("%w: state %q needs a process",
					ErrBadScenario, s.State)
			}
		}
	default:
		return fmt.Errorf("%w: unknown op %q", ErrBadScenario, s.Op)
	}

	return nil
}
