package kernel

import (
	"fmt"
	"log"

	"github.com/sarchlab/omegavm/machine"
	"github.com/sarchlab/omegavm/mem/vm"
)

// Trap dispatches an exception raised by the current process. TLB
// exceptions go to the fault handler. If the fault can not be resolved, the
// process is killed and the error is returned.
func (k *Kernel) Trap(code machine.ExceptionCode, vaddr vm.VAddr) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	return k.trap(code, vaddr)
}

func (k *Kernel) trap(code machine.ExceptionCode, vaddr vm.VAddr) error {
	var faultType vm.FaultType

	switch code {
	case machine.ExMod:
		faultType = vm.FaultReadOnly
	case machine.ExTLBL:
		faultType = vm.FaultRead
	case machine.ExTLBS:
		faultType = vm.FaultWrite
	default:
		log.Panicf("unexpected exception %s at 0x%08x", code, vaddr)
	}

	err := k.faults.Fault(faultType, vaddr)
	if err != nil {
		return k.kill(err)
	}

	return nil
}

// kill terminates the current process because of err.
func (k *Kernel) kill(err error) error {
	p := k.current
	if p == nil {
		return err
	}

	p.killedBy = err
	k.terminate(p, ProcessKilled)
	k.invoke(HookPosProcessKill, p)

	return fmt.Errorf("%s killed: %w", p, err)
}
