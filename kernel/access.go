package kernel

import (
	"fmt"
	"log"

	"github.com/sarchlab/omegavm/machine"
	"github.com/sarchlab/omegavm/mem/vm"
)

// Read performs user loads of n bytes at vaddr on behalf of the current
// process.
func (k *Kernel) Read(vaddr vm.VAddr, n uint32) ([]byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	data := make([]byte, 0, n)

	err := k.forEachPage(vaddr, n, false,
		func(paddr vm.PAddr, length uint32) error {
			chunk, err := k.machine.RAM.Read(paddr, length)
			if err != nil {
				return err
			}

			data = append(data, chunk...)

			return nil
		})
	if err != nil {
		return nil, err
	}

	return data, nil
}

// Write performs user stores of data at vaddr on behalf of the current
// process.
func (k *Kernel) Write(vaddr vm.VAddr, data []byte) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	return k.forEachPage(vaddr, uint32(len(data)), true,
		func(paddr vm.PAddr, length uint32) error {
			err := k.machine.RAM.Write(paddr, data[:length])
			data = data[length:]

			return err
		})
}

func (k *Kernel) forEachPage(
	vaddr vm.VAddr,
	n uint32,
	write bool,
	f func(paddr vm.PAddr, length uint32) error,
) error {
	if k.current == nil {
		return ErrNoCurrentProcess
	}

	if uint64(vaddr)+uint64(n) > vm.UserSpaceTop {
		return k.kill(fmt.Errorf("%w: user access to 0x%08x", vm.ErrFault, vaddr))
	}

	for n > 0 {
		length := min(n, vm.PageSize-vm.PageOffset(vaddr))

		paddr, err := k.translate(vaddr, write)
		if err != nil {
			return err
		}

		if err := f(paddr, length); err != nil {
			return err
		}

		n -= length
		vaddr += vm.VAddr(length)
	}

	return nil
}

// translate goes through the TLB the way the processor does, trapping on a
// miss and retrying the access once the handler has refilled the TLB.
func (k *Kernel) translate(vaddr vm.VAddr, write bool) (vm.PAddr, error) {
	paddr, ex := k.machine.TLB.Translate(vaddr, write)
	if ex == machine.ExNone {
		return paddr, nil
	}

	if err := k.trap(ex, vaddr); err != nil {
		return 0, err
	}

	paddr, ex = k.machine.TLB.Translate(vaddr, write)
	if ex != machine.ExNone {
		log.Panicf("access to 0x%08x raises %s after a refill", vaddr, ex)
	}

	return paddr, nil
}
