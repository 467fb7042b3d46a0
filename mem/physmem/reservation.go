package physmem

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sarchlab/softmmu/mem/vm"
	"github.com/sarchlab/softmmu/sim"
)

const reservationLineSize = 64

// HartID identifies the owner of a load-reserved reservation.
type HartID string

// NewHartID returns a fresh hart ID from the global ID generator.
func NewHartID() HartID {
	return HartID(sim.GetIDGenerator().Generate())
}

type reservation struct {
	addr uint64
	size uint64
	gen  uint64
}

// A reservationTable tracks load-reserved / store-conditional pairs. Every
// 64-byte line maps to a generation counter. Any write to a line advances its
// generation, and a reservation is alive only while the generation it
// recorded is current. Lines share counters when the table is smaller than
// memory, which can only make a store-conditional fail spuriously.
type reservationTable struct {
	mask uint64
	gens []atomic.Uint64

	lock sync.Mutex
	held map[HartID]reservation
}

func newReservationTable(numSlots int) *reservationTable {
	return &reservationTable{
		mask: uint64(numSlots - 1),
		gens: make([]atomic.Uint64, numSlots),
		held: make(map[HartID]reservation),
	}
}

func (t *reservationTable) slot(addr uint64) *atomic.Uint64 {
	return &t.gens[(addr/reservationLineSize)&t.mask]
}

// touch advances the generation of every line in [addr, addr+size).
func (t *reservationTable) touch(addr, size uint64) {
	if size == 0 {
		return
	}

	firstLine := addr / reservationLineSize
	lastLine := (addr + size - 1) / reservationLineSize

	if lastLine-firstLine >= uint64(len(t.gens)) {
		for i := range t.gens {
			t.gens[i].Add(1)
		}

		return
	}

	for line := firstLine; line <= lastLine; line++ {
		t.slot(line * reservationLineSize).Add(1)
	}
}

func (t *reservationTable) hold(hart HartID, r reservation) {
	t.lock.Lock()
	t.held[hart] = r
	t.lock.Unlock()
}

func (t *reservationTable) release(hart HartID) (reservation, bool) {
	t.lock.Lock()
	defer t.lock.Unlock()

	r, ok := t.held[hart]
	delete(t.held, hart)

	return r, ok
}

func (t *reservationTable) numHeld() int {
	t.lock.Lock()
	defer t.lock.Unlock()

	return len(t.held)
}

func checkAtomicAccess(address vm.GPA, size uint64) error {
	switch size {
	case 1, 2, 4, 8:
	default:
		return fmt.Errorf("%w: atomic access of %d bytes", vm.ErrMisaligned, size)
	}

	if uint64(address)%size != 0 {
		return fmt.Errorf("%w: atomic access of %d bytes at 0x%x",
			vm.ErrMisaligned, size, uint64(address))
	}

	return nil
}

// ReserveAtomic performs a load-reserved. It reads size bytes at address and
// records a reservation for hart, replacing any reservation hart held before.
// Reservations of other harts on the same line are broken.
func (s *Storage) ReserveAtomic(
	hart HartID,
	address vm.GPA,
	size uint64,
) ([]byte, error) {
	err := checkAtomicAccess(address, size)
	if err != nil {
		return nil, err
	}

	if !s.inRAM(address, size) {
		return nil, &vm.OutOfBoundsError{Addr: address, Size: size}
	}

	buf := make([]byte, size)

	first, last := s.shardRange(address, size)
	s.lockShards(first, last)
	gen := s.reservations.slot(uint64(address)).Add(1)
	s.copyOut(uint64(address), buf)
	s.reservations.hold(hart, reservation{
		addr: uint64(address),
		size: size,
		gen:  gen,
	})
	s.unlockShards(first, last)

	return buf, nil
}

// CommitAtomic performs a store-conditional. The data is written only if hart
// holds a live reservation for exactly this address and size. The reservation
// is consumed whether or not the store succeeds.
func (s *Storage) CommitAtomic(
	hart HartID,
	address vm.GPA,
	data []byte,
) (bool, error) {
	size := uint64(len(data))

	err := checkAtomicAccess(address, size)
	if err != nil {
		return false, err
	}

	if !s.inRAM(address, size) {
		s.reservations.release(hart)
		return false, &vm.OutOfBoundsError{Addr: address, Size: size}
	}

	first, last := s.shardRange(address, size)
	s.lockShards(first, last)
	defer s.unlockShards(first, last)

	r, ok := s.reservations.release(hart)
	if !ok || r.addr != uint64(address) || r.size != size {
		return false, nil
	}

	if s.reservations.slot(r.addr).Load() != r.gen {
		return false, nil
	}

	s.copyIn(uint64(address), data)
	s.reservations.touch(uint64(address), size)

	return true, nil
}

// ClearReservation drops the reservation held by hart, if any.
func (s *Storage) ClearReservation(hart HartID) {
	s.reservations.release(hart)
}
