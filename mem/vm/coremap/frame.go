package coremap

import (
	"fmt"

	"github.com/sarchlab/omegavm/mem/vm"
)

// State tells who owns a frame.
type State int

// Frame states.
const (
	// Free frames are owned by nobody.
	Free State = iota
	// Dirty frames are owned by a user address space.
	Dirty
	// Clean is reserved for frames backed by storage. It is never produced.
	Clean
	// Fixed frames belong to kernel allocations.
	Fixed
)

func (s State) String() string {
	switch s {
	case Free:
		return "free"
	case Dirty:
		return "dirty"
	case Clean:
		return "clean"
	case Fixed:
		return "fixed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// FrameRecordSize is the number of bytes of RAM reserved for the record of
// each frame.
const FrameRecordSize = 32

// A Frame records the state of one physical page.
type Frame struct {
	PAddr  vm.PAddr
	KVAddr vm.VAddr
	State  State

	// Owner is the address space the frame was allocated for, if any. It is
	// informational only.
	Owner vm.ASID

	// RunLength is set on the first frame of an allocation to the number of
	// frames in the allocation, and is 0 on every other frame.
	RunLength uint32

	// LastTouched is reserved for a replacement policy.
	LastTouched uint64
}

// An Allocation describes a run of frames that is allocated or freed
// together. It is the item of the frame table hooks.
type Allocation struct {
	PAddr    vm.PAddr
	NumPages uint32
	State    State
	Owner    vm.ASID
}

func (a Allocation) String() string {
	s := fmt.Sprintf("paddr=0x%08x pages=%d state=%s",
		a.PAddr, a.NumPages, a.State)
	if a.Owner != "" {
		s += " owner=" + string(a.Owner)
	}

	return s
}

// Stats counts frames per state.
type Stats struct {
	Total int
	Free  int
	Dirty int
	Clean int
	Fixed int
}

func (s *Stats) add(state State) {
	s.Total++

	switch state {
	case Free:
		s.Free++
	case Dirty:
		s.Dirty++
	case Clean:
		s.Clean++
	case Fixed:
		s.Fixed++
	}
}
