package addrspace

import (
	"fmt"

	"github.com/sarchlab/omegavm/mem/vm"
)

// Permission is a set of segment access flags, numbered as in ELF program
// headers.
type Permission uint8

// Segment permissions. They are recorded but every page is mapped
// read-write.
const (
	PermExecute Permission = 1 << iota
	PermWrite
	PermRead
)

func (p Permission) String() string {
	s := []byte("---")
	if p&PermRead != 0 {
		s[0] = 'r'
	}

	if p&PermWrite != 0 {
		s[1] = 'w'
	}

	if p&PermExecute != 0 {
		s[2] = 'x'
	}

	return string(s)
}

// A Region is a contiguous, page-aligned range of virtual memory.
type Region struct {
	VBase    vm.VAddr
	NumPages uint32
	Perm     Permission

	// PBase is the first frame backing the region, 0 until the space is
	// loaded.
	PBase vm.PAddr
}

// End returns the first address above the region.
func (r Region) End() uint64 {
	return uint64(r.VBase) + uint64(r.NumPages)*vm.PageSize
}

// Contains tells if addr falls in the region.
func (r Region) Contains(addr vm.VAddr) bool {
	return addr >= r.VBase && uint64(addr) < r.End()
}

func (r Region) overlaps(base, end uint64) bool {
	return uint64(r.VBase) < end && base < r.End()
}

func (r Region) String() string {
	return fmt.Sprintf("[0x%08x, 0x%08x) %s", r.VBase, r.End(), r.Perm)
}
