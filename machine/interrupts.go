package machine

import (
	"log"
	"sync/atomic"
)

// Interrupt priority levels.
const (
	IPLNone = 0
	IPLHigh = 1
)

// Interrupts controls the interrupt priority level of the processor.
type Interrupts interface {
	// SplHigh raises the priority to the maximum and returns the previous
	// level.
	SplHigh() int

	// Splx restores a level previously returned by SplHigh.
	Splx(spl int)
}

// CPU models the interrupt state of the single processor.
type CPU struct {
	spl atomic.Int32
}

// NewCPU creates a CPU with interrupts enabled.
func NewCPU() *CPU {
	return &CPU{}
}

// SplHigh disables interrupts.
func (c *CPU) SplHigh() int {
	return int(c.spl.Swap(IPLHigh))
}

// Splx restores the interrupt priority level.
func (c *CPU) Splx(spl int) {
	if spl != IPLNone && spl != IPLHigh {
		log.Panicf("invalid interrupt priority level %d", spl)
	}

	c.spl.Store(int32(spl))
}

// InterruptsOff tells if the current priority masks all interrupts.
func (c *CPU) InterruptsOff() bool {
	return c.spl.Load() == IPLHigh
}
