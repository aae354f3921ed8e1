// Package fault resolves TLB misses against the current address space and
// refills the TLB.
package fault

import (
	"fmt"
	"log"

	"github.com/sarchlab/omegavm/machine"
	"github.com/sarchlab/omegavm/mem/vm"
	"github.com/sarchlab/omegavm/mem/vm/addrspace"
	"github.com/sarchlab/omegavm/sim"
)

// CurrentSpace tells which address space the running thread uses.
type CurrentSpace interface {
	// CurrentAddressSpace returns nil if the running thread has no user
	// address space.
	CurrentAddressSpace() *addrspace.AddressSpace
}

// CurrentSpaceFunc adapts a function into a CurrentSpace.
type CurrentSpaceFunc func() *addrspace.AddressSpace

// CurrentAddressSpace calls f.
func (f CurrentSpaceFunc) CurrentAddressSpace() *addrspace.AddressSpace {
	return f()
}

// HookPosFault is invoked after every fault with a Record as the item.
var HookPosFault = &sim.HookPos{Name: "Fault"}

// A Record describes one handled fault.
type Record struct {
	Type  vm.FaultType
	VAddr vm.VAddr
	PAddr vm.PAddr
	Slot  int
	Err   error
}

func (r Record) String() string {
	if r.Err != nil {
		return fmt.Sprintf("%s 0x%08x: %v", r.Type, r.VAddr, r.Err)
	}

	return fmt.Sprintf("%s 0x%08x -> 0x%08x slot %d",
		r.Type, r.VAddr, r.PAddr, r.Slot)
}

// Handler is the TLB refill handler.
type Handler struct {
	*sim.HookableBase

	name       string
	tlb        machine.TLB
	interrupts machine.Interrupts
	current    CurrentSpace
}

// Name returns the name of the handler.
func (h *Handler) Name() string {
	return h.name
}

// Fault handles a TLB miss of the given type at faultAddress. On success one
// TLB entry has been written and the faulting access can be retried.
//
// A write to a read-only page can not happen since every page is mapped
// read-write, so it is treated as a kernel bug.
func (h *Handler) Fault(faultType vm.FaultType, faultAddress vm.VAddr) error {
	record := Record{Type: faultType, VAddr: faultAddress, Slot: -1}

	record.PAddr, record.Slot, record.Err = h.handle(faultType, faultAddress)

	h.InvokeHook(sim.HookCtx{
		Domain: h,
		Pos:    HookPosFault,
		Item:   record,
	})

	return record.Err
}

func (h *Handler) handle(
	faultType vm.FaultType,
	faultAddress vm.VAddr,
) (vm.PAddr, int, error) {
	switch faultType {
	case vm.FaultReadOnly:
		log.Panicf("got VM_FAULT_READONLY at 0x%08x", faultAddress)
	case vm.FaultRead, vm.FaultWrite:
	default:
		return 0, -1, fmt.Errorf("%w: fault type %d", vm.ErrInvalid, faultType)
	}

	as := h.current.CurrentAddressSpace()
	if as == nil {
		return 0, -1, fmt.Errorf("%w: fault at 0x%08x with no address space",
			vm.ErrFault, faultAddress)
	}

	vPage := vm.PageAlignDown(faultAddress)

	pFrame, err := as.Translate(vPage)
	if err != nil {
		return 0, -1, err
	}

	slot, err := h.refill(vPage, pFrame)
	if err != nil {
		return pFrame, -1, err
	}

	return pFrame, slot, nil
}

// refill writes the translation into the first invalid TLB slot. A page that
// already has a valid slot keeps it.
func (h *Handler) refill(vPage vm.VAddr, pFrame vm.PAddr) (int, error) {
	spl := h.interrupts.SplHigh()
	defer h.interrupts.Splx(spl)

	free := -1

	for i := 0; i < h.tlb.NumEntries(); i++ {
		entry := h.tlb.Read(i)

		if !entry.Valid() {
			if free < 0 {
				free = i
			}

			continue
		}

		if entry.VPage() == vPage {
			return i, nil
		}
	}

	if free < 0 {
		return -1, fmt.Errorf("%w: refilling 0x%08x", vm.ErrTLBFull, vPage)
	}

	h.tlb.Write(free, machine.TLBEntry{
		Hi: uint32(vPage),
		Lo: uint32(pFrame) | machine.TLBLoDirty | machine.TLBLoValid,
	})

	return free, nil
}
