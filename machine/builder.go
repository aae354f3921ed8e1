package machine

import (
	"log"

	"github.com/sarchlab/omegavm/mem/vm"
)

// A Builder can build machines.
type Builder struct {
	ramSize         uint32
	kernelImageSize uint32
	numTLB          int
}

// MakeBuilder creates a builder with default parameters.
func MakeBuilder() Builder {
	return Builder{
		ramSize:         4 << 20,
		kernelImageSize: 256 << 10,
		numTLB:          NumTLB,
	}
}

// WithRAMSize sets the amount of installed RAM in bytes.
func (b Builder) WithRAMSize(size uint32) Builder {
	b.ramSize = size
	return b
}

// WithKernelImageSize sets the size of the kernel image loaded at the bottom
// of RAM.
func (b Builder) WithKernelImageSize(size uint32) Builder {
	b.kernelImageSize = size
	return b
}

// WithNumTLB sets the number of TLB entries.
func (b Builder) WithNumTLB(n int) Builder {
	b.numTLB = n
	return b
}

func (b Builder) parametersMustBeValid() {
	if b.ramSize == 0 || b.ramSize%vm.PageSize != 0 {
		log.Panicf("RAM size must be a positive multiple of %d", vm.PageSize)
	}

	if b.ramSize > vm.UserSpaceTop/4 {
		log.Panicf("RAM size %d does not fit in the kernel segment", b.ramSize)
	}

	if b.kernelImageSize == 0 {
		log.Panicf("kernel image size must be positive")
	}

	if b.numTLB <= 0 {
		log.Panicf("number of TLB entries must be positive, got %d", b.numTLB)
	}
}

// Build creates the machine.
func (b Builder) Build(name string) *Machine {
	b.parametersMustBeValid()

	cpu := NewCPU()

	return &Machine{
		name: name,
		RAM:  NewRAM(b.ramSize, b.kernelImageSize),
		TLB:  NewHardwareTLB(cpu, b.numTLB),
		CPU:  cpu,
		Lock: new(Spinlock),
	}
}
