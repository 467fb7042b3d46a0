package physmem

import (
	"encoding/binary"
	"errors"
	"sort"

	"github.com/sarchlab/softmmu/mem/vm"
)

// A Device is the target of memory mapped I/O. Offsets are relative to the
// base of the region the device is registered at.
type Device interface {
	ReadMMIO(offset uint64, data []byte) error
	WriteMMIO(offset uint64, data []byte) error
}

// MMIOFuncs adapts a pair of callbacks to the Device interface. A nil
// callback reads zeros or discards the written data.
type MMIOFuncs struct {
	OnRead  func(offset uint64, data []byte) error
	OnWrite func(offset uint64, data []byte) error
}

// ReadMMIO calls OnRead.
func (f MMIOFuncs) ReadMMIO(offset uint64, data []byte) error {
	if f.OnRead == nil {
		clear(data)
		return nil
	}

	return f.OnRead(offset, data)
}

// WriteMMIO calls OnWrite.
func (f MMIOFuncs) WriteMMIO(offset uint64, data []byte) error {
	if f.OnWrite == nil {
		return nil
	}

	return f.OnWrite(offset, data)
}

// An MMIORegion maps a range of guest physical addresses to a device.
type MMIORegion struct {
	Name   string
	Base   vm.GPA
	Size   uint64
	Device Device
}

func (r MMIORegion) end() uint64 {
	return uint64(r.Base) + r.Size
}

func (r MMIORegion) contains(addr vm.GPA) bool {
	return addr >= r.Base && uint64(addr) < r.end()
}

func (r MMIORegion) overlaps(other MMIORegion) bool {
	return uint64(r.Base) < other.end() && uint64(other.Base) < r.end()
}

func (r MMIORegion) checkRange(addr vm.GPA, size uint64) error {
	if uint64(addr)+size > r.end() {
		return &vm.OutOfBoundsError{Addr: addr, Size: size}
	}

	return nil
}

func (r MMIORegion) read(addr vm.GPA, buf []byte) error {
	err := r.checkRange(addr, uint64(len(buf)))
	if err != nil {
		return err
	}

	return r.Device.ReadMMIO(uint64(addr-r.Base), buf)
}

func (r MMIORegion) write(addr vm.GPA, data []byte) error {
	err := r.checkRange(addr, uint64(len(data)))
	if err != nil {
		return err
	}

	return r.Device.WriteMMIO(uint64(addr-r.Base), data)
}

func (r MMIORegion) update(
	addr vm.GPA,
	update func(old uint64) uint64,
) (uint64, error) {
	var buf [8]byte

	err := r.read(addr, buf[:])
	if err != nil {
		return 0, err
	}

	old := binary.LittleEndian.Uint64(buf[:])
	value := update(old)
	if value == old {
		return value, nil
	}

	binary.LittleEndian.PutUint64(buf[:], value)

	return value, r.write(addr, buf[:])
}

// RegisterMMIO maps a device into the guest physical address space. Regions
// must not overlap each other. Registration is expected at machine setup,
// before vCPUs start running.
func (s *Storage) RegisterMMIO(region MMIORegion) error {
	if region.Size == 0 {
		return errors.New("mmio region must not be empty")
	}

	if region.Device == nil {
		return errors.New("mmio region must have a device")
	}

	if region.end() < uint64(region.Base) {
		return &vm.OutOfBoundsError{Addr: region.Base, Size: region.Size}
	}

	s.mmioLock.Lock()
	defer s.mmioLock.Unlock()

	for _, r := range s.regions {
		if r.overlaps(region) {
			return &vm.ConflictError{
				Name:         region.Name,
				Base:         region.Base,
				Size:         region.Size,
				ExistingName: r.Name,
				ExistingBase: r.Base,
				ExistingSize: r.Size,
			}
		}
	}

	s.regions = append(s.regions, region)
	sort.Slice(s.regions, func(i, j int) bool {
		return s.regions[i].Base < s.regions[j].Base
	})

	return nil
}

// Regions returns a copy of the registered MMIO regions sorted by base
// address.
func (s *Storage) Regions() []MMIORegion {
	s.mmioLock.RLock()
	defer s.mmioLock.RUnlock()

	regions := make([]MMIORegion, len(s.regions))
	copy(regions, s.regions)

	return regions
}

func (s *Storage) findRegion(addr vm.GPA) (MMIORegion, bool) {
	s.mmioLock.RLock()
	defer s.mmioLock.RUnlock()

	i := sort.Search(len(s.regions), func(i int) bool {
		return uint64(addr) < s.regions[i].end()
	})

	if i < len(s.regions) && s.regions[i].contains(addr) {
		return s.regions[i], true
	}

	return MMIORegion{}, false
}
