package addrspace

import (
	"log"

	"github.com/sarchlab/omegavm/machine"
	"github.com/sarchlab/omegavm/mem/vm"
	"github.com/sarchlab/omegavm/sim"
	"github.com/sarchlab/omegavm/sim/id"
)

// FrameAllocator supplies the frames of user address spaces.
type FrameAllocator interface {
	AllocUserPages(n uint32, owner vm.ASID) (vm.PAddr, error)
	FreeUserPages(paddr vm.PAddr)
}

// PhysicalMemory gives access to the contents of frames.
type PhysicalMemory interface {
	Zero(addr vm.PAddr, length uint32) error
	Copy(dst, src vm.PAddr, length uint32) error
}

// Hook positions of the manager.
var (
	HookPosSpaceCreate   = &sim.HookPos{Name: "SpaceCreate"}
	HookPosSpaceActivate = &sim.HookPos{Name: "SpaceActivate"}
	HookPosSpaceDestroy  = &sim.HookPos{Name: "SpaceDestroy"}
)

// A Manager creates address spaces and switches the TLB between them.
type Manager struct {
	*sim.HookableBase

	name       string
	frames     FrameAllocator
	memory     PhysicalMemory
	tlb        machine.TLB
	interrupts machine.Interrupts
	idGen      id.IDGenerator
}

// Name returns the name of the manager.
func (m *Manager) Name() string {
	return m.name
}

// Create returns an empty address space.
func (m *Manager) Create() *AddressSpace {
	as := &AddressSpace{
		id:      vm.ASID(m.idGen.Generate()),
		manager: m,
	}

	m.InvokeHook(sim.HookCtx{
		Domain: m,
		Pos:    HookPosSpaceCreate,
		Item:   as.id,
	})

	return as
}

// Activate makes as the current address space. TLB entries carry no address
// space tag, so every entry is invalidated. A nil space is allowed and stands
// for a kernel-only thread.
func (m *Manager) Activate(as *AddressSpace) {
	spl := m.interrupts.SplHigh()

	for i := 0; i < m.tlb.NumEntries(); i++ {
		m.tlb.Write(i, machine.InvalidTLBEntry(i))
	}

	m.interrupts.Splx(spl)

	var asid vm.ASID
	if as != nil {
		asid = as.id
	}

	m.InvokeHook(sim.HookCtx{
		Domain: m,
		Pos:    HookPosSpaceActivate,
		Item:   asid,
	})
}

func (m *Manager) zero(pbase vm.PAddr, npages uint32) {
	err := m.memory.Zero(pbase, npages*vm.PageSize)
	if err != nil {
		log.Panicf("zeroing %d pages at 0x%08x: %v", npages, pbase, err)
	}
}

func (m *Manager) copyPages(dst, src vm.PAddr, npages uint32) {
	err := m.memory.Copy(dst, src, npages*vm.PageSize)
	if err != nil {
		log.Panicf("copying %d pages from 0x%08x to 0x%08x: %v",
			npages, src, dst, err)
	}
}
