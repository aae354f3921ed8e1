package vm

import (
	"errors"
	"fmt"
)

// The error classes reported by the VM core. They mirror the kernel errno
// values that the trap dispatcher hands back to user processes.
var (
	// ErrNoMemory reports resource exhaustion.
	ErrNoMemory = errors.New("out of memory")

	// ErrInvalid reports an invalid argument.
	ErrInvalid = errors.New("invalid argument")

	// ErrFault reports a bad or unmapped address.
	ErrFault = errors.New("bad memory reference")

	// ErrTLBFull is returned by the fault handler when every TLB slot holds
	// a valid entry. No replacement is performed.
	ErrTLBFull = fmt.Errorf("%w: no free TLB entry", ErrNoMemory)

	// ErrRegionOverlap is returned when a region would overlap another
	// region or the user stack.
	ErrRegionOverlap = fmt.Errorf("%w: overlapping region", ErrInvalid)
)

// Errno values, as numbered by the kernel headers.
const (
	ENOMEM = 3
	EINVAL = 8
	EFAULT = 6
)

// Errno maps an error to the errno value reported to user code. It returns
// 0 for a nil error and panics on an error outside the VM taxonomy.
func Errno(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrNoMemory):
		return ENOMEM
	case errors.Is(err, ErrInvalid):
		return EINVAL
	case errors.Is(err, ErrFault):
		return EFAULT
	default:
		panic(fmt.Sprintf("error %q has no errno", err))
	}
}
