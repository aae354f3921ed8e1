// Package addrspace implements per-process address spaces.
//
// An address space is a list of regions, a fixed-size stack and a flat page
// table. Frames are allocated eagerly by PrepareLoad; nothing is paged in on
// demand.
package addrspace

import (
	"fmt"
	"log"

	"github.com/sarchlab/omegavm/mem/vm"
	"github.com/sarchlab/omegavm/sim"
)

// An AddressSpace is the virtual memory layout of one process.
//
// An address space is only touched by the thread that runs in it. Copy
// requires the donor not to change while it is being copied.
type AddressSpace struct {
	id      vm.ASID
	manager *Manager

	regions    []Region
	pageTable  PageTable
	stackPBase vm.PAddr
}

// ID returns the identifier the space's frames are tagged with.
func (as *AddressSpace) ID() vm.ASID {
	return as.id
}

// Name returns the name of the address space.
func (as *AddressSpace) Name() string {
	return "AddrSpace." + string(as.id)
}

// Regions returns a copy of the region list.
func (as *AddressSpace) Regions() []Region {
	regions := make([]Region, len(as.regions))
	copy(regions, as.regions)

	return regions
}

// FindRegion returns the region that contains addr.
func (as *AddressSpace) FindRegion(addr vm.VAddr) (Region, bool) {
	for _, r := range as.regions {
		if r.Contains(addr) {
			return r, true
		}
	}

	return Region{}, false
}

// PageTable returns the page table of the space.
func (as *AddressSpace) PageTable() *PageTable {
	return &as.pageTable
}

// StackPBase returns the first frame of the stack, 0 if not loaded.
func (as *AddressSpace) StackPBase() vm.PAddr {
	return as.stackPBase
}

// Loaded tells if PrepareLoad has succeeded on the space.
func (as *AddressSpace) Loaded() bool {
	return as.stackPBase != 0
}

// NumPages returns the number of frames the space holds, stack included.
func (as *AddressSpace) NumPages() int {
	n := as.pageTable.Len()
	if as.Loaded() {
		n += vm.StackPages
	}

	return n
}

// DefineRegion adds a region covering size bytes from vaddr. The base is
// rounded down and the end is rounded up to page boundaries. Permissions are
// ignored. Regions may not overlap each other or the stack, and must be
// defined before the space is loaded.
func (as *AddressSpace) DefineRegion(
	vaddr vm.VAddr,
	size uint32,
	perm Permission,
) (Region, error) {
	if as.Loaded() {
		return Region{}, fmt.Errorf(
			"%w: defining a region in loaded address space %s",
			vm.ErrInvalid, as.id)
	}

	length := uint64(size) + uint64(vm.PageOffset(vaddr))
	vaddr = vm.PageAlignDown(vaddr)
	length = vm.RoundUpToPage(length)

	if length == 0 {
		return Region{}, fmt.Errorf("%w: empty region at 0x%08x",
			vm.ErrInvalid, vaddr)
	}

	base := uint64(vaddr)
	end := base + length

	if end > vm.UserSpaceTop {
		return Region{}, fmt.Errorf(
			"%w: region [0x%08x, 0x%x) leaves user space",
			vm.ErrInvalid, vaddr, end)
	}

	if base < vm.UserStack && vm.StackBase < end {
		return Region{}, fmt.Errorf("%w: region [0x%08x, 0x%x) hits the stack",
			vm.ErrRegionOverlap, vaddr, end)
	}

	for _, r := range as.regions {
		if r.overlaps(base, end) {
			return Region{}, fmt.Errorf("%w: region [0x%08x, 0x%x) hits %s",
				vm.ErrRegionOverlap, vaddr, end, r)
		}
	}

	region := Region{
		VBase:    vaddr,
		NumPages: uint32(length / vm.PageSize),
		Perm:     perm,
	}
	as.regions = append(as.regions, region)

	return region, nil
}

// PrepareLoad allocates and zeroes the frames of every region and of the
// stack, and fills the page table. If an allocation fails, everything the
// call allocated is released and the space is left unloaded.
func (as *AddressSpace) PrepareLoad() error {
	if as.Loaded() {
		log.Panicf("address space %s is already loaded", as.id)
	}

	var runs []vm.PAddr

	rollback := func() {
		for _, pbase := range runs {
			as.manager.frames.FreeUserPages(pbase)
		}

		for i := range as.regions {
			as.regions[i].PBase = 0
		}

		as.pageTable.truncate(0)
	}

	for i := range as.regions {
		r := &as.regions[i]

		pbase, err := as.manager.frames.AllocUserPages(r.NumPages, as.id)
		if err != nil {
			rollback()
			return fmt.Errorf("loading region %s: %w", r, err)
		}

		runs = append(runs, pbase)
		r.PBase = pbase

		for p := uint32(0); p < r.NumPages; p++ {
			as.pageTable.insert(PageTableEntry{
				VPage:  r.VBase + vm.VAddr(p*vm.PageSize),
				PFrame: pbase + vm.PAddr(p*vm.PageSize),
			})
		}

		as.manager.zero(pbase, r.NumPages)
	}

	stack, err := as.manager.frames.AllocUserPages(vm.StackPages, as.id)
	if err != nil {
		rollback()
		return fmt.Errorf("loading stack: %w", err)
	}

	as.manager.zero(stack, vm.StackPages)
	as.stackPBase = stack

	return nil
}

// CompleteLoad is called once the program image has been copied in.
func (as *AddressSpace) CompleteLoad() error {
	return nil
}

// DefineStack returns the initial user stack pointer.
func (as *AddressSpace) DefineStack() vm.VAddr {
	if !as.Loaded() {
		log.Panicf("defining the stack of unloaded address space %s", as.id)
	}

	return vm.UserStack
}

// Copy creates an independent duplicate of the space. The regions have the
// same bounds, and every frame of the donor, stack included, is copied into
// a freshly allocated frame.
func (as *AddressSpace) Copy() (*AddressSpace, error) {
	newAS := as.manager.Create()

	for _, r := range as.regions {
		r.PBase = 0
		newAS.regions = append(newAS.regions, r)
	}

	if !as.Loaded() {
		return newAS, nil
	}

	if err := newAS.PrepareLoad(); err != nil {
		newAS.Destroy()
		return nil, fmt.Errorf("copying address space %s: %w", as.id, err)
	}

	from := as.pageTable.entries
	to := newAS.pageTable.entries
	for i := range from {
		as.manager.copyPages(to[i].PFrame, from[i].PFrame, 1)
	}

	as.manager.copyPages(newAS.stackPBase, as.stackPBase, vm.StackPages)

	return newAS, nil
}

// Destroy returns every frame of the space to the frame allocator and drops
// its regions and page table.
func (as *AddressSpace) Destroy() {
	for _, r := range as.regions {
		if r.PBase != 0 {
			as.manager.frames.FreeUserPages(r.PBase)
		}
	}

	if as.stackPBase != 0 {
		as.manager.frames.FreeUserPages(as.stackPBase)
	}

	as.regions = nil
	as.pageTable.reset()
	as.stackPBase = 0

	as.manager.InvokeHook(sim.HookCtx{
		Domain: as.manager,
		Pos:    HookPosSpaceDestroy,
		Item:   as.id,
	})
}

// Translate returns the physical address vaddr maps to. The stack is checked
// first, then the regions and their page table entries.
func (as *AddressSpace) Translate(vaddr vm.VAddr) (vm.PAddr, error) {
	vPage := vm.PageAlignDown(vaddr)
	offset := vm.PAddr(vm.PageOffset(vaddr))

	if vm.InStack(vPage) {
		if !as.Loaded() {
			return 0, fmt.Errorf("%w: stack of %s is not loaded",
				vm.ErrFault, as.id)
		}

		return as.stackPBase + vm.PAddr(vPage-vm.StackBase) + offset, nil
	}

	if _, found := as.FindRegion(vPage); !found {
		return 0, fmt.Errorf("%w: 0x%08x is not mapped in %s",
			vm.ErrFault, vaddr, as.id)
	}

	pFrame, found := as.pageTable.Find(vPage)
	if !found {
		return 0, fmt.Errorf("%w: page 0x%08x of %s was never loaded",
			vm.ErrFault, vPage, as.id)
	}

	return pFrame + offset, nil
}
