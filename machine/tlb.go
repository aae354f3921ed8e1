package machine

import (
	"log"

	"github.com/sarchlab/omegavm/mem/vm"
)

// NumTLB is the default number of TLB entries.
const NumTLB = 64

// Bits of the EntryHi and EntryLo words of a TLB entry.
const (
	TLBHiVPage   = 0xfffff000
	TLBLoPPage   = 0xfffff000
	TLBLoNoCache = 0x00000800
	TLBLoDirty   = 0x00000400
	TLBLoValid   = 0x00000200
	TLBLoGlobal  = 0x00000100
)

// A TLBEntry is one translation held by the TLB.
type TLBEntry struct {
	Hi uint32
	Lo uint32
}

// InvalidTLBEntry returns the entry that invalidates slot index. Each slot
// gets a distinct kernel-segment page so that no two invalid entries match
// the same address.
func InvalidTLBEntry(index int) TLBEntry {
	return TLBEntry{Hi: uint32(0x80000+index) << 12, Lo: 0}
}

// Valid tells if the entry translates anything.
func (e TLBEntry) Valid() bool {
	return e.Lo&TLBLoValid != 0
}

// Writable tells if stores through the entry are allowed.
func (e TLBEntry) Writable() bool {
	return e.Lo&TLBLoDirty != 0
}

// VPage returns the virtual page the entry matches.
func (e TLBEntry) VPage() vm.VAddr {
	return vm.VAddr(e.Hi & TLBHiVPage)
}

// PFrame returns the physical frame the entry maps to.
func (e TLBEntry) PFrame() vm.PAddr {
	return vm.PAddr(e.Lo & TLBLoPPage)
}

// TLB is the software interface to the translation lookaside buffer.
type TLB interface {
	// NumEntries returns the number of slots.
	NumEntries() int

	// Read returns the entry held in a slot.
	Read(index int) TLBEntry

	// Write replaces the entry held in a slot.
	Write(index int, entry TLBEntry)
}

// HardwareTLB is a fully associative TLB. The kernel may only access it with
// interrupts disabled.
type HardwareTLB struct {
	cpu          *CPU
	entries      []TLBEntry
	vPageSlotMap map[vm.VAddr]int
}

// NewHardwareTLB creates a TLB with numEntries invalid slots. Accesses are
// checked against the interrupt state of cpu.
func NewHardwareTLB(cpu *CPU, numEntries int) *HardwareTLB {
	t := &HardwareTLB{
		cpu:          cpu,
		entries:      make([]TLBEntry, numEntries),
		vPageSlotMap: make(map[vm.VAddr]int),
	}

	for i := range t.entries {
		t.entries[i] = InvalidTLBEntry(i)
	}

	return t
}

// NumEntries returns the number of slots.
func (t *HardwareTLB) NumEntries() int {
	return len(t.entries)
}

func (t *HardwareTLB) mustHaveInterruptsOff(op string) {
	if t.cpu != nil && !t.cpu.InterruptsOff() {
		log.Panicf("tlb %s with interrupts enabled", op)
	}
}

func (t *HardwareTLB) mustBeValidIndex(index int) {
	if index < 0 || index >= len(t.entries) {
		log.Panicf("tlb index %d out of range", index)
	}
}

// Read returns the entry held in a slot.
func (t *HardwareTLB) Read(index int) TLBEntry {
	t.mustHaveInterruptsOff("read")
	t.mustBeValidIndex(index)

	return t.entries[index]
}

// Write replaces the entry held in a slot. Writing a valid entry whose page
// is already held valid by another slot is a machine check.
func (t *HardwareTLB) Write(index int, entry TLBEntry) {
	t.mustHaveInterruptsOff("write")
	t.mustBeValidIndex(index)

	old := t.entries[index]
	if old.Valid() {
		delete(t.vPageSlotMap, old.VPage())
	}

	if entry.Valid() {
		if other, found := t.vPageSlotMap[entry.VPage()]; found {
			log.Panicf("duplicate tlb entries for page 0x%08x in slots %d and %d",
				entry.VPage(), other, index)
		}

		t.vPageSlotMap[entry.VPage()] = index
	}

	t.entries[index] = entry
}

// Probe returns the slot holding a valid translation for the page of vaddr.
func (t *HardwareTLB) Probe(vaddr vm.VAddr) (index int, found bool) {
	index, found = t.vPageSlotMap[vm.PageAlignDown(vaddr)]
	return index, found
}

// NumValid returns the number of valid slots.
func (t *HardwareTLB) NumValid() int {
	return len(t.vPageSlotMap)
}

// Snapshot returns a copy of all the slots.
func (t *HardwareTLB) Snapshot() []TLBEntry {
	s := make([]TLBEntry, len(t.entries))
	copy(s, t.entries)

	return s
}
