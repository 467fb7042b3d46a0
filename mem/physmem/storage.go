// Package physmem provides the guest physical memory shared by all the vCPUs
// of a virtual machine.
package physmem

import (
	"encoding/binary"
	"sync"

	"github.com/sarchlab/softmmu/mem/vm"
)

// A Storage keeps the data of the guest physical memory.
//
// The address range is cut into shards, each guarded by its own lock, so that
// vCPUs touching different parts of memory do not contend. Inside a shard the
// storage is managed in units, similar to pages. Units that have never been
// written are not allocated and read as zeros.
//
// Accesses that fall into a registered MMIO region are forwarded to the
// region's device instead.
type Storage struct {
	unitSize  uint64
	capacity  uint64
	shardSize uint64
	shards    []*shard

	mmioLock sync.RWMutex
	regions  []MMIORegion

	reservations *reservationTable
}

type shard struct {
	sync.RWMutex
	data map[uint64][]byte
}

// NewStorage creates a storage with the specified capacity and the default
// shard count.
func NewStorage(capacity uint64) *Storage {
	return MakeBuilder().WithCapacity(capacity).Build()
}

// Capacity returns the number of bytes of RAM.
func (s *Storage) Capacity() uint64 {
	return s.capacity
}

// NumShards returns the number of independently locked shards.
func (s *Storage) NumShards() int {
	return len(s.shards)
}

// Contains reports whether addr is backed by RAM or by an MMIO region.
func (s *Storage) Contains(addr vm.GPA) bool {
	if uint64(addr) < s.capacity {
		return true
	}

	_, ok := s.findRegion(addr)

	return ok
}

func (s *Storage) inRAM(addr vm.GPA, size uint64) bool {
	end := uint64(addr) + size
	if end < uint64(addr) {
		return false
	}

	return end <= s.capacity
}

// shardRange returns the shards a non-empty RAM range touches.
func (s *Storage) shardRange(addr vm.GPA, size uint64) (first, last int) {
	first = int(uint64(addr) / s.shardSize)
	last = int((uint64(addr) + size - 1) / s.shardSize)

	return first, last
}

func (s *Storage) rlockShards(first, last int) {
	for i := first; i <= last; i++ {
		s.shards[i].RLock()
	}
}

func (s *Storage) runlockShards(first, last int) {
	for i := last; i >= first; i-- {
		s.shards[i].RUnlock()
	}
}

func (s *Storage) lockShards(first, last int) {
	for i := first; i <= last; i++ {
		s.shards[i].Lock()
	}
}

func (s *Storage) unlockShards(first, last int) {
	for i := last; i >= first; i-- {
		s.shards[i].Unlock()
	}
}

func (s *Storage) shardOf(addr uint64) *shard {
	return s.shards[addr/s.shardSize]
}

func (s *Storage) parseAddress(addr uint64) (baseAddr, inUnitAddr uint64) {
	inUnitAddr = addr % s.unitSize
	baseAddr = addr - inUnitAddr

	return
}

// copyOut copies RAM into buf. The caller must hold the locks of all the
// shards the range touches.
func (s *Storage) copyOut(address uint64, buf []byte) {
	currAddr := address
	dataOffset := uint64(0)
	lenLeft := uint64(len(buf))

	for lenLeft > 0 {
		baseAddr, inUnitAddr := s.parseAddress(currAddr)
		lenToRead := min(lenLeft, s.unitSize-inUnitAddr)

		unit, ok := s.shardOf(currAddr).data[baseAddr]
		if ok {
			copy(buf[dataOffset:dataOffset+lenToRead],
				unit[inUnitAddr:inUnitAddr+lenToRead])
		} else {
			clear(buf[dataOffset : dataOffset+lenToRead])
		}

		lenLeft -= lenToRead
		dataOffset += lenToRead
		currAddr += lenToRead
	}
}

// copyIn copies data into RAM, allocating units on demand. The caller must
// hold the write locks of all the shards the range touches.
func (s *Storage) copyIn(address uint64, data []byte) {
	currAddr := address
	dataOffset := uint64(0)

	for dataOffset < uint64(len(data)) {
		baseAddr, inUnitAddr := s.parseAddress(currAddr)
		lenToWrite := min(uint64(len(data))-dataOffset, s.unitSize-inUnitAddr)

		sh := s.shardOf(currAddr)
		unit, ok := sh.data[baseAddr]
		if !ok {
			unit = make([]byte, s.unitSize)
			sh.data[baseAddr] = unit
		}

		copy(unit[inUnitAddr:inUnitAddr+lenToWrite],
			data[dataOffset:dataOffset+lenToWrite])
		dataOffset += lenToWrite
		currAddr += lenToWrite
	}
}

// Read returns size bytes starting at address.
func (s *Storage) Read(address vm.GPA, size uint64) ([]byte, error) {
	buf := make([]byte, size)

	err := s.ReadInto(address, buf)
	if err != nil {
		return nil, err
	}

	return buf, nil
}

// ReadInto fills buf with the bytes starting at address.
func (s *Storage) ReadInto(address vm.GPA, buf []byte) error {
	size := uint64(len(buf))

	if region, ok := s.findRegion(address); ok {
		return region.read(address, buf)
	}

	if !s.inRAM(address, size) {
		return &vm.OutOfBoundsError{Addr: address, Size: size}
	}

	if size == 0 {
		return nil
	}

	first, last := s.shardRange(address, size)
	s.rlockShards(first, last)
	s.copyOut(uint64(address), buf)
	s.runlockShards(first, last)

	return nil
}

// Write stores data starting at address. Writing to RAM breaks every
// reservation held on the touched lines.
func (s *Storage) Write(address vm.GPA, data []byte) error {
	size := uint64(len(data))

	if region, ok := s.findRegion(address); ok {
		return region.write(address, data)
	}

	if !s.inRAM(address, size) {
		return &vm.OutOfBoundsError{Addr: address, Size: size}
	}

	if size == 0 {
		return nil
	}

	first, last := s.shardRange(address, size)
	s.lockShards(first, last)
	s.copyIn(uint64(address), data)
	s.reservations.touch(uint64(address), size)
	s.unlockShards(first, last)

	return nil
}

// ReadUint64 reads a little-endian 64-bit value.
func (s *Storage) ReadUint64(address vm.GPA) (uint64, error) {
	var buf [8]byte

	err := s.ReadInto(address, buf[:])
	if err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint64(buf[:]), nil
}

// WriteUint64 writes a little-endian 64-bit value.
func (s *Storage) WriteUint64(address vm.GPA, value uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], value)

	return s.Write(address, buf[:])
}

// ReadUint32 reads a little-endian 32-bit value.
func (s *Storage) ReadUint32(address vm.GPA) (uint32, error) {
	var buf [4]byte

	err := s.ReadInto(address, buf[:])
	if err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint32(buf[:]), nil
}

// WriteUint32 writes a little-endian 32-bit value.
func (s *Storage) WriteUint32(address vm.GPA, value uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], value)

	return s.Write(address, buf[:])
}

// UpdateUint64 atomically replaces the 64-bit value at address with
// update(old) and returns the new value. No other access to the same shard
// can interleave. Page table walkers use it to set the accessed and dirty
// bits.
func (s *Storage) UpdateUint64(
	address vm.GPA,
	update func(old uint64) uint64,
) (uint64, error) {
	if region, ok := s.findRegion(address); ok {
		return region.update(address, update)
	}

	if !s.inRAM(address, 8) {
		return 0, &vm.OutOfBoundsError{Addr: address, Size: 8}
	}

	var buf [8]byte

	first, last := s.shardRange(address, 8)
	s.lockShards(first, last)
	defer s.unlockShards(first, last)

	s.copyOut(uint64(address), buf[:])
	old := binary.LittleEndian.Uint64(buf[:])

	value := update(old)
	if value != old {
		binary.LittleEndian.PutUint64(buf[:], value)
		s.copyIn(uint64(address), buf[:])
		s.reservations.touch(uint64(address), 8)
	}

	return value, nil
}
