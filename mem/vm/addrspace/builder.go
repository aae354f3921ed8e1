package addrspace

import (
	"github.com/sarchlab/omegavm/machine"
	"github.com/sarchlab/omegavm/sim"
	"github.com/sarchlab/omegavm/sim/id"
)

// A Builder can build address space managers.
type Builder struct {
	frames     FrameAllocator
	memory     PhysicalMemory
	tlb        machine.TLB
	interrupts machine.Interrupts
	idGen      id.IDGenerator
}

// MakeBuilder creates a new builder.
func MakeBuilder() Builder {
	return Builder{}
}

// WithFrameAllocator sets where frames come from.
func (b Builder) WithFrameAllocator(frames FrameAllocator) Builder {
	b.frames = frames
	return b
}

// WithPhysicalMemory sets the memory frames live in.
func (b Builder) WithPhysicalMemory(memory PhysicalMemory) Builder {
	b.memory = memory
	return b
}

// WithTLB sets the TLB flushed on activation.
func (b Builder) WithTLB(tlb machine.TLB) Builder {
	b.tlb = tlb
	return b
}

// WithInterrupts sets the interrupt controller used around TLB accesses.
func (b Builder) WithInterrupts(interrupts machine.Interrupts) Builder {
	b.interrupts = interrupts
	return b
}

// WithIDGenerator sets how address space IDs are generated. IDs count up
// from 1 by default.
func (b Builder) WithIDGenerator(g id.IDGenerator) Builder {
	b.idGen = g
	return b
}

func (b Builder) parametersMustBeValid() {
	if b.frames == nil {
		panic("address space manager requires a frame allocator")
	}

	if b.memory == nil {
		panic("address space manager requires physical memory")
	}

	if b.tlb == nil || b.interrupts == nil {
		panic("address space manager requires a TLB and interrupts")
	}
}

// Build creates the manager.
func (b Builder) Build(name string) *Manager {
	b.parametersMustBeValid()

	m := &Manager{
		HookableBase: sim.NewHookableBase(),
		name:         name,
		frames:       b.frames,
		memory:       b.memory,
		tlb:          b.tlb,
		interrupts:   b.interrupts,
		idGen:        b.idGen,
	}

	if m.idGen == nil {
		m.idGen = id.NewIDGenerator()
	}

	return m
}
