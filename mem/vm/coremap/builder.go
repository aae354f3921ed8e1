package coremap

import (
	"github.com/sarchlab/omegavm/machine"
	"github.com/sarchlab/omegavm/sim"
)

// A Builder can build frame tables.
type Builder struct {
	ram  RAM
	lock Locker
}

// MakeBuilder creates a new builder.
func MakeBuilder() Builder {
	return Builder{}
}

// WithRAM sets the physical memory managed by the frame table.
func (b Builder) WithRAM(ram RAM) Builder {
	b.ram = ram
	return b
}

// WithLock sets the lock that serializes allocations. A private spinlock is
// used if none is given.
func (b Builder) WithLock(lock Locker) Builder {
	b.lock = lock
	return b
}

// WithMachine takes the RAM and the lock from a machine.
func (b Builder) WithMachine(m *machine.Machine) Builder {
	b.ram = m.RAM
	b.lock = m.Lock

	return b
}

// Build creates a frame table. The table is not usable for tracked
// allocations until Bootstrap is called.
func (b Builder) Build(name string) *FrameTable {
	if b.ram == nil {
		panic("frame table requires RAM")
	}

	t := &FrameTable{
		HookableBase: sim.NewHookableBase(),
		name:         name,
		ram:          b.ram,
		lock:         b.lock,
	}

	if t.lock == nil {
		t.lock = new(machine.Spinlock)
	}

	return t
}
