package addrspace

import "github.com/sarchlab/omegavm/mem/vm"

// A PageTableEntry maps one virtual page to one physical frame.
type PageTableEntry struct {
	VPage  vm.VAddr
	PFrame vm.PAddr
}

// A PageTable is the flat list of translations of an address space. Lookups
// are linear.
type PageTable struct {
	entries []PageTableEntry
}

// Len returns the number of entries.
func (pt *PageTable) Len() int {
	return len(pt.entries)
}

// Entries returns a copy of the entries in insertion order.
func (pt *PageTable) Entries() []PageTableEntry {
	entries := make([]PageTableEntry, len(pt.entries))
	copy(entries, pt.entries)

	return entries
}

// Find returns the frame mapped for the page that contains vAddr.
func (pt *PageTable) Find(vAddr vm.VAddr) (vm.PAddr, bool) {
	vPage := vm.PageAlignDown(vAddr)

	for _, e := range pt.entries {
		if e.VPage == vPage {
			return e.PFrame, true
		}
	}

	return 0, false
}

func (pt *PageTable) insert(e PageTableEntry) {
	pt.entries = append(pt.entries, e)
}

// truncate drops every entry past the first n.
func (pt *PageTable) truncate(n int) {
	pt.entries = pt.entries[:n]
}

func (pt *PageTable) reset() {
	pt.entries = nil
}
