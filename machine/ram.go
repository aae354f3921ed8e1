package machine

import (
	"log"

	"github.com/sarchlab/omegavm/mem/vm"
)

// RAM is the physical memory of the machine together with the boot-time
// discovery primitives.
//
// At boot the kernel image occupies the bottom of RAM. Early allocations steal
// pages right above the image with StealMem. Once the VM system takes over,
// GetSize hands it everything that has not been stolen and StealMem stops
// working.
type RAM struct {
	*Storage

	firstPAddr vm.PAddr
	lastPAddr  vm.PAddr
}

// NewRAM creates size bytes of RAM with a kernel image of kernelSize bytes
// loaded at physical address 0.
func NewRAM(size, kernelSize uint32) *RAM {
	if size%vm.PageSize != 0 {
		log.Panicf("RAM size %d is not page aligned", size)
	}

	// Physical address 0 is the StealMem failure value, so it must belong to
	// the kernel image.
	if kernelSize == 0 {
		log.Panicf("kernel image can not be empty")
	}

	first := vm.PAddr(vm.RoundUpToPage(uint64(kernelSize)))
	if first >= vm.PAddr(size) {
		log.Panicf("kernel image (%d bytes) does not fit in RAM (%d bytes)",
			kernelSize, size)
	}

	return &RAM{
		Storage:    NewStorage(uint64(size)),
		firstPAddr: first,
		lastPAddr:  vm.PAddr(size),
	}
}

// Size returns the amount of installed RAM in bytes.
func (r *RAM) Size() uint32 {
	return uint32(r.Capacity())
}

// StealMem takes npages pages from the untouched part of RAM with no
// bookkeeping. It returns 0 if the pages are not available or if GetSize has
// already been called.
func (r *RAM) StealMem(npages uint32) vm.PAddr {
	size := uint64(npages) * vm.PageSize

	if uint64(r.firstPAddr)+size > uint64(r.lastPAddr) {
		return 0
	}

	paddr := r.firstPAddr
	r.firstPAddr += vm.PAddr(size)

	return paddr
}

// GetSize reports the range of RAM that is still unused, and hands it over to
// the caller. Afterwards StealMem always fails.
func (r *RAM) GetSize() (lo, hi vm.PAddr) {
	lo, hi = r.firstPAddr, r.lastPAddr
	r.firstPAddr, r.lastPAddr = 0, 0

	return lo, hi
}
