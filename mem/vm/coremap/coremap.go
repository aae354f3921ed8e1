// Package coremap implements the physical frame allocator.
//
// The frame table covers all the RAM that is left once the kernel image and
// the early boot allocations are in place. It hands out runs of contiguous
// frames with a first-fit scan and takes them back by base address.
package coremap

import (
	"fmt"
	"log"

	"github.com/sarchlab/omegavm/mem/vm"
	"github.com/sarchlab/omegavm/sim"
)

// RAM is the physical memory the frame table manages.
type RAM interface {
	StealMem(npages uint32) vm.PAddr
	GetSize() (lo, hi vm.PAddr)
	Zero(addr vm.PAddr, length uint32) error
}

// Locker is a non-blocking mutual exclusion primitive.
type Locker interface {
	Acquire()
	Release()
}

// Hook positions of the frame table.
var (
	HookPosFrameAlloc     = &sim.HookPos{Name: "FrameAlloc"}
	HookPosFrameAllocFail = &sim.HookPos{Name: "FrameAllocFail"}
	HookPosFrameFree      = &sim.HookPos{Name: "FrameFree"}
)

// FrameTable owns the inventory of physical frames.
type FrameTable struct {
	*sim.HookableBase

	name string
	ram  RAM
	lock Locker

	bootstrapped bool
	frames       []Frame
	firstPAddr   vm.PAddr
}

// Name returns the name of the frame table.
func (t *FrameTable) Name() string {
	return t.name
}

// Bootstrap builds the frame table over the RAM that has not been stolen. The
// records are placed at the bottom of that RAM and the remainder becomes free
// frames.
func (t *FrameTable) Bootstrap() {
	if t.bootstrapped {
		panic("frame table bootstrapped twice")
	}

	lo, hi := t.ram.GetSize()
	if lo >= hi {
		log.Panicf("no RAM left to build the frame table [0x%08x, 0x%08x)", lo, hi)
	}

	numPages := uint64(hi-lo) / vm.PageSize
	recordBytes := numPages * FrameRecordSize
	t.firstPAddr = vm.PAddr(vm.RoundUpToPage(uint64(lo) + recordBytes))

	numFrames := uint64(0)
	if t.firstPAddr < hi {
		numFrames = uint64(hi-t.firstPAddr) / vm.PageSize
	}

	t.frames = make([]Frame, numFrames)
	for i := range t.frames {
		paddr := t.firstPAddr + vm.PAddr(i*vm.PageSize)
		t.frames[i] = Frame{
			PAddr:  paddr,
			KVAddr: vm.KVAddr(paddr),
			State:  Free,
		}
	}

	t.bootstrapped = true
}

// Bootstrapped tells if Bootstrap has been called.
func (t *FrameTable) Bootstrapped() bool {
	return t.bootstrapped
}

// NumFrames returns the number of frames under management.
func (t *FrameTable) NumFrames() int {
	return len(t.frames)
}

// Alloc reserves n contiguous frames, marks them with state and owner, zeroes
// them and returns the physical address of the first one. A failed call
// leaves the table untouched and returns an error matching vm.ErrNoMemory.
//
// Before Bootstrap, the pages are stolen from RAM and can never be freed.
func (t *FrameTable) Alloc(
	n uint32,
	state State,
	owner vm.ASID,
) (vm.PAddr, error) {
	if n == 0 || state == Free {
		return 0, fmt.Errorf("%w: allocating %d frames as %s",
			vm.ErrInvalid, n, state)
	}

	if !t.bootstrapped {
		return t.steal(n)
	}

	t.lock.Acquire()

	index, found := t.firstFit(n)
	if !found {
		t.lock.Release()

		t.InvokeHook(sim.HookCtx{
			Domain: t,
			Pos:    HookPosFrameAllocFail,
			Item:   Allocation{NumPages: n, State: state, Owner: owner},
		})

		return 0, fmt.Errorf("%w: no run of %d free frames", vm.ErrNoMemory, n)
	}

	t.frames[index].RunLength = n
	for i := index; i < index+int(n); i++ {
		t.frames[i].State = state
		t.frames[i].Owner = owner
		t.zeroFrame(i)
	}

	paddr := t.frames[index].PAddr

	t.lock.Release()

	t.InvokeHook(sim.HookCtx{
		Domain: t,
		Pos:    HookPosFrameAlloc,
		Item:   Allocation{PAddr: paddr, NumPages: n, State: state, Owner: owner},
	})

	return paddr, nil
}

func (t *FrameTable) steal(n uint32) (vm.PAddr, error) {
	paddr := t.ram.StealMem(n)
	if paddr == 0 {
		return 0, fmt.Errorf("%w: cannot steal %d pages", vm.ErrNoMemory, n)
	}

	return paddr, nil
}

// firstFit returns the index of the first run of n free frames. The table
// lock must be held.
func (t *FrameTable) firstFit(n uint32) (index int, found bool) {
	count := uint32(0)

	for i := range t.frames {
		if t.frames[i].State != Free {
			count = 0
			continue
		}

		if count == 0 {
			index = i
		}

		count++
		if count == n {
			return index, true
		}
	}

	return 0, false
}

func (t *FrameTable) zeroFrame(index int) {
	err := t.ram.Zero(t.frames[index].PAddr, vm.PageSize)
	if err != nil {
		log.Panicf("zeroing frame 0x%08x: %v", t.frames[index].PAddr, err)
	}
}

// Free releases the run of frames that starts at paddr and returns the number
// of frames released. An address that is not the start of a live allocation
// is ignored.
func (t *FrameTable) Free(paddr vm.PAddr) uint32 {
	if !t.bootstrapped {
		return 0
	}

	t.lock.Acquire()

	index, found := t.indexOf(paddr)
	if !found ||
		t.frames[index].State == Free ||
		t.frames[index].RunLength == 0 {
		t.lock.Release()
		return 0
	}

	head := t.frames[index]
	for i := index; i < index+int(head.RunLength); i++ {
		t.zeroFrame(i)
		t.frames[i].State = Free
		t.frames[i].Owner = ""
		t.frames[i].RunLength = 0
	}

	t.lock.Release()

	t.InvokeHook(sim.HookCtx{
		Domain: t,
		Pos:    HookPosFrameFree,
		Item: Allocation{
			PAddr:    paddr,
			NumPages: head.RunLength,
			State:    head.State,
			Owner:    head.Owner,
		},
	})

	return head.RunLength
}

func (t *FrameTable) indexOf(paddr vm.PAddr) (int, bool) {
	if paddr < t.firstPAddr || paddr%vm.PageSize != 0 {
		return 0, false
	}

	index := int((paddr - t.firstPAddr) / vm.PageSize)
	if index >= len(t.frames) {
		return 0, false
	}

	return index, true
}

// AllocKernelPages allocates n frames for the kernel and returns their kernel
// virtual address.
func (t *FrameTable) AllocKernelPages(n uint32) (vm.VAddr, error) {
	paddr, err := t.Alloc(n, Fixed, "")
	if err != nil {
		return 0, err
	}

	return vm.KVAddr(paddr), nil
}

// FreeKernelPages releases pages obtained with AllocKernelPages.
func (t *FrameTable) FreeKernelPages(kvaddr vm.VAddr) {
	if kvaddr < vm.KSeg0 {
		return
	}

	t.Free(vm.KVToPAddr(kvaddr))
}

// AllocUserPages allocates n frames on behalf of an address space.
func (t *FrameTable) AllocUserPages(n uint32, owner vm.ASID) (vm.PAddr, error) {
	return t.Alloc(n, Dirty, owner)
}

// FreeUserPages releases frames obtained with AllocUserPages.
func (t *FrameTable) FreeUserPages(paddr vm.PAddr) {
	t.Free(paddr)
}

// Lookup returns the record of the frame at paddr.
func (t *FrameTable) Lookup(paddr vm.PAddr) (Frame, bool) {
	t.lock.Acquire()
	defer t.lock.Release()

	index, found := t.indexOf(vm.PAddr(uint32(paddr) & vm.PageFrame))
	if !found {
		return Frame{}, false
	}

	return t.frames[index], true
}

// Frames returns a copy of all the frame records.
func (t *FrameTable) Frames() []Frame {
	t.lock.Acquire()
	defer t.lock.Release()

	frames := make([]Frame, len(t.frames))
	copy(frames, t.frames)

	return frames
}

// Stats counts the frames in each state.
func (t *FrameTable) Stats() Stats {
	t.lock.Acquire()
	defer t.lock.Release()

	s := Stats{}
	for i := range t.frames {
		s.add(t.frames[i].State)
	}

	return s
}

// CheckPartition verifies that every allocated frame belongs to exactly one
// recorded run.
func (t *FrameTable) CheckPartition() error {
	t.lock.Acquire()
	defer t.lock.Release()

	left := uint32(0)
	for i := range t.frames {
		f := &t.frames[i]

		if f.RunLength > 0 {
			if left > 0 {
				return fmt.Errorf("run at 0x%08x starts inside another run",
					f.PAddr)
			}

			left = f.RunLength
		}

		switch {
		case left > 0 && f.State == Free:
			return fmt.Errorf("free frame 0x%08x inside a run", f.PAddr)
		case left == 0 && f.State != Free:
			return fmt.Errorf("frame 0x%08x is %s but belongs to no run",
				f.PAddr, f.State)
		}

		if left > 0 {
			left--
		}
	}

	if left > 0 {
		return fmt.Errorf("last run overflows the frame table by %d frames", left)
	}

	return nil
}
