package machine

import (
	"errors"

	"github.com/sarchlab/omegavm/mem/vm"
)

// ErrBeyondCapacity is returned when accessing a physical address beyond the
// installed memory.
var ErrBeyondCapacity = errors.New(
	"accessing physical address beyond the storage capacity")

// A Storage keeps the bytes of the physical memory.
//
// The storage manages the memory in page-sized units. Units that were never
// touched by Read, Write, Zero or Copy are not backed by host memory and read
// as zeros.
type Storage struct {
	unitSize uint32
	capacity uint64
	data     map[uint32][]byte
}

// NewStorage creates a storage object with the specified capacity in bytes.
func NewStorage(capacity uint64) *Storage {
	storage := new(Storage)

	storage.unitSize = vm.PageSize
	storage.capacity = capacity
	storage.data = make(map[uint32][]byte)

	return storage
}

// Capacity returns the number of bytes the storage can hold.
func (s *Storage) Capacity() uint64 {
	return s.capacity
}

func (s *Storage) mustBeInRange(address vm.PAddr, length uint32) error {
	if uint64(address)+uint64(length) > s.capacity {
		return ErrBeyondCapacity
	}

	return nil
}

// createOrGetStorageUnit retrieves a storage unit if the unit has been created
// before. Otherwise it initializes a storage unit in the storage object.
func (s *Storage) createOrGetStorageUnit(address uint32) []byte {
	baseAddr, _ := s.parseAddress(address)

	unit, ok := s.data[baseAddr]
	if !ok {
		unit = make([]byte, s.unitSize)
		s.data[baseAddr] = unit
	}

	return unit
}

func (s *Storage) parseAddress(addr uint32) (baseAddr, inUnitAddr uint32) {
	inUnitAddr = addr % s.unitSize
	baseAddr = addr - inUnitAddr

	return
}

func (s *Storage) lenInUnit(currAddr, lenLeft uint32) uint32 {
	baseAddr, _ := s.parseAddress(currAddr)
	lenLeftInUnit := baseAddr + s.unitSize - currAddr

	if lenLeft < lenLeftInUnit {
		return lenLeft
	}

	return lenLeftInUnit
}

// Read returns length bytes starting from address.
func (s *Storage) Read(address vm.PAddr, length uint32) ([]byte, error) {
	if err := s.mustBeInRange(address, length); err != nil {
		return nil, err
	}

	res := make([]byte, length)
	currAddr := uint32(address)
	dataOffset := uint32(0)

	for dataOffset < length {
		n := s.lenInUnit(currAddr, length-dataOffset)
		_, inUnitAddr := s.parseAddress(currAddr)

		if unit, ok := s.data[currAddr-inUnitAddr]; ok {
			copy(res[dataOffset:dataOffset+n], unit[inUnitAddr:inUnitAddr+n])
		}

		dataOffset += n
		currAddr += n
	}

	return res, nil
}

// Write stores data starting from address.
func (s *Storage) Write(address vm.PAddr, data []byte) error {
	length := uint32(len(data))
	if err := s.mustBeInRange(address, length); err != nil {
		return err
	}

	currAddr := uint32(address)
	dataOffset := uint32(0)

	for dataOffset < length {
		n := s.lenInUnit(currAddr, length-dataOffset)
		unit := s.createOrGetStorageUnit(currAddr)
		_, inUnitAddr := s.parseAddress(currAddr)

		copy(unit[inUnitAddr:inUnitAddr+n], data[dataOffset:dataOffset+n])

		dataOffset += n
		currAddr += n
	}

	return nil
}

// Zero clears length bytes starting from address. Whole units are released
// back to the host instead of being filled.
func (s *Storage) Zero(address vm.PAddr, length uint32) error {
	if err := s.mustBeInRange(address, length); err != nil {
		return err
	}

	currAddr := uint32(address)
	dataOffset := uint32(0)

	for dataOffset < length {
		n := s.lenInUnit(currAddr, length-dataOffset)
		baseAddr, inUnitAddr := s.parseAddress(currAddr)

		unit, ok := s.data[baseAddr]
		switch {
		case !ok:
		case n == s.unitSize:
			delete(s.data, baseAddr)
		default:
			clear(unit[inUnitAddr : inUnitAddr+n])
		}

		dataOffset += n
		currAddr += n
	}

	return nil
}

// Copy moves length bytes from src to dst. The two ranges may overlap.
func (s *Storage) Copy(dst, src vm.PAddr, length uint32) error {
	data, err := s.Read(src, length)
	if err != nil {
		return err
	}

	return s.Write(dst, data)
}
