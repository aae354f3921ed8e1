package vm

import "fmt"

// FaultType tells what kind of access caused a TLB fault.
type FaultType int

// Fault types passed from the trap dispatcher to the fault handler.
const (
	// FaultRead means a read was attempted.
	FaultRead FaultType = iota
	// FaultWrite means a write was attempted.
	FaultWrite
	// FaultReadOnly means a write to a read-only page was attempted.
	FaultReadOnly
)

func (t FaultType) String() string {
	switch t {
	case FaultRead:
		return "read"
	case FaultWrite:
		return "write"
	case FaultReadOnly:
		return "readonly"
	default:
		return fmt.Sprintf("FaultType(%d)", int(t))
	}
}
