// Package machine simulates the hardware the VM core runs on: RAM, a
// software-managed TLB and the interrupt priority level of a single core.
package machine

// Machine bundles the simulated hardware.
type Machine struct {
	name string

	RAM  *RAM
	TLB  *HardwareTLB
	CPU  *CPU
	Lock *Spinlock
}

// Name returns the name of the machine.
func (m *Machine) Name() string {
	return m.name
}
