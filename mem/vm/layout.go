// Package vm provides the layout constants, address types and error classes
// shared by the frame allocator, the address spaces and the fault handler.
package vm

// VAddr is a 32-bit virtual address.
type VAddr uint32

// PAddr is a 32-bit physical address.
type PAddr uint32

// ASID identifies an address space. Frames record the ASID of their owner
// rather than a pointer so that the frame table never keeps a space alive.
type ASID string

const (
	// Log2PageSize is the base-2 logarithm of PageSize.
	Log2PageSize = 12

	// PageSize is the size of one page and of one physical frame.
	PageSize = 1 << Log2PageSize

	// PageFrame masks an address down to its page boundary.
	PageFrame = 0xfffff000

	// KSeg0 is the base of the direct-mapped kernel segment. Physical
	// address p is visible to the kernel at p + KSeg0.
	KSeg0 = 0x80000000

	// UserSpaceTop is the first address above user space.
	UserSpaceTop = KSeg0

	// UserStack is the initial user stack pointer. The stack grows down
	// from here.
	UserStack = UserSpaceTop

	// StackPages is the fixed number of pages mapped for the user stack.
	StackPages = 12

	// StackBase is the lowest address of the fixed user stack range.
	StackBase = UserStack - StackPages*PageSize
)

// PageAlignDown rounds addr down to its page boundary.
func PageAlignDown(addr VAddr) VAddr {
	return addr & PageFrame
}

// PageOffset returns the byte offset of addr within its page.
func PageOffset(addr VAddr) uint32 {
	return uint32(addr) &^ PageFrame
}

// RoundUpToPage rounds size up to a whole number of pages.
func RoundUpToPage(size uint64) uint64 {
	return (size + PageSize - 1) &^ (PageSize - 1)
}

// KVAddr converts a physical address into its direct-mapped kernel virtual
// address.
func KVAddr(p PAddr) VAddr {
	return VAddr(uint32(p) + KSeg0)
}

// KVToPAddr converts a direct-mapped kernel virtual address back into a
// physical address.
func KVToPAddr(v VAddr) PAddr {
	return PAddr(uint32(v) - KSeg0)
}

// InStack tells if addr lies within the fixed user stack range.
func InStack(addr VAddr) bool {
	return addr >= StackBase && addr < UserStack
}
