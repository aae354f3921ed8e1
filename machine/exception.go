package machine

import (
	"fmt"

	"github.com/sarchlab/omegavm/mem/vm"
)

// ExceptionCode is the cause of a trap, as reported by the processor.
type ExceptionCode int

// Exception codes raised by address translation.
const (
	ExNone ExceptionCode = -1
	ExMod  ExceptionCode = 1
	ExTLBL ExceptionCode = 2
	ExTLBS ExceptionCode = 3
)

func (c ExceptionCode) String() string {
	switch c {
	case ExNone:
		return "none"
	case ExMod:
		return "EX_MOD"
	case ExTLBL:
		return "EX_TLBL"
	case ExTLBS:
		return "EX_TLBS"
	default:
		return fmt.Sprintf("ExceptionCode(%d)", int(c))
	}
}

// kseg0Top is the end of the direct-mapped kernel segment.
const kseg0Top = 0xa0000000

// Translate performs the translation the processor does on every load and
// store. It returns ExNone and the physical address on success, or the
// exception the access raises.
func (t *HardwareTLB) Translate(
	vaddr vm.VAddr,
	write bool,
) (vm.PAddr, ExceptionCode) {
	if vaddr >= vm.KSeg0 && vaddr < kseg0Top {
		return vm.KVToPAddr(vaddr), ExNone
	}

	index, found := t.Probe(vaddr)
	if !found {
		if write {
			return 0, ExTLBS
		}

		return 0, ExTLBL
	}

	entry := t.entries[index]
	if write && !entry.Writable() {
		return 0, ExMod
	}

	return entry.PFrame() | vm.PAddr(vm.PageOffset(vaddr)), ExNone
}
