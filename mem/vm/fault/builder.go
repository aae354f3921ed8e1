package fault

import (
	"github.com/sarchlab/omegavm/machine"
	"github.com/sarchlab/omegavm/sim"
)

// A Builder can build fault handlers.
type Builder struct {
	tlb        machine.TLB
	interrupts machine.Interrupts
	current    CurrentSpace
}

// MakeBuilder creates a new builder.
func MakeBuilder() Builder {
	return Builder{}
}

// WithTLB sets the TLB to refill.
func (b Builder) WithTLB(tlb machine.TLB) Builder {
	b.tlb = tlb
	return b
}

// WithInterrupts sets the interrupt controller used around TLB accesses.
func (b Builder) WithInterrupts(interrupts machine.Interrupts) Builder {
	b.interrupts = interrupts
	return b
}

// WithCurrentSpace sets how the handler finds the faulting address space.
func (b Builder) WithCurrentSpace(current CurrentSpace) Builder {
	b.current = current
	return b
}

// Build creates the handler.
func (b Builder) Build(name string) *Handler {
	if b.tlb == nil || b.interrupts == nil {
		panic("fault handler requires a TLB and interrupts")
	}

	if b.current == nil {
		panic("fault handler requires a current address space accessor")
	}

	return &Handler{
		HookableBase: sim.NewHookableBase(),
		name:         name,
		tlb:          b.tlb,
		interrupts:   b.interrupts,
		current:      b.current,
	}
}
