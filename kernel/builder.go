package kernel

import (
	"log"

	"github.com/sarchlab/omegavm/machine"
	"github.com/sarchlab/omegavm/mem/vm/addrspace"
	"github.com/sarchlab/omegavm/mem/vm/coremap"
	"github.com/sarchlab/omegavm/mem/vm/fault"
	"github.com/sarchlab/omegavm/sim"
	"github.com/sarchlab/omegavm/sim/id"
)

// A Builder can boot kernels.
type Builder struct {
	machine   *machine.Machine
	bootPages uint32
	idGen     id.IDGenerator
}

// MakeBuilder creates a new builder.
func MakeBuilder() Builder {
	return Builder{}
}

// WithMachine sets the hardware to boot on.
func (b Builder) WithMachine(m *machine.Machine) Builder {
	b.machine = m
	return b
}

// WithBootPages sets how many pages the kernel steals for itself before the
// frame table exists.
func (b Builder) WithBootPages(n uint32) Builder {
	b.bootPages = n
	return b
}

// WithIDGenerator sets how address space IDs are generated.
func (b Builder) WithIDGenerator(g id.IDGenerator) Builder {
	b.idGen = g
	return b
}

// Build boots the kernel: the boot pages are stolen, the frame table is
// bootstrapped over the rest of RAM and the VM components are created.
func (b Builder) Build(name string) *Kernel {
	if b.machine == nil {
		panic("kernel requires a machine")
	}

	k := &Kernel{
		HookableBase: sim.NewHookableBase(),
		name:         name,
		machine:      b.machine,
		processes:    make(map[int]*Process),
	}

	k.frames = coremap.MakeBuilder().
		WithMachine(b.machine).
		Build(name + ".Coremap")

	if b.bootPages > 0 {
		heap, err := k.frames.AllocKernelPages(b.bootPages)
		if err != nil {
			log.Panicf("stealing %d boot pages: %v", b.bootPages, err)
		}

		k.heap = heap
	}

	k.frames.Bootstrap()

	k.spaces = addrspace.MakeBuilder().
		WithFrameAllocator(k.frames).
		WithPhysicalMemory(b.machine.RAM).
		WithTLB(b.machine.TLB).
		WithInterrupts(b.machine.CPU).
		WithIDGenerator(b.idGen).
		Build(name + ".AddrSpaceManager")

	k.faults = fault.MakeBuilder().
		WithTLB(b.machine.TLB).
		WithInterrupts(b.machine.CPU).
		WithCurrentSpace(k).
		Build(name + ".FaultHandler")

	return k
}
