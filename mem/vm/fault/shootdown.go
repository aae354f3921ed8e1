package fault

// A Shootdown asks a processor to drop TLB entries.
type Shootdown struct {
	VAddr uint32
}

// TLBShootdownAll is requested by other processors to flush this TLB. The
// machine has a single core, so this never legitimately happens.
func (h *Handler) TLBShootdownAll() {
	panic("omegavm tried to do tlb shootdown?!")
}

// TLBShootdown is requested by other processors to drop single entries. The
// machine has a single core, so this never legitimately happens.
func (h *Handler) TLBShootdown(_ *Shootdown) {
	panic("omegavm tried to do tlb shootdown?!")
}
