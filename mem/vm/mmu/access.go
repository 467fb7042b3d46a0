package mmu

import (
	"encoding/binary"

	"github.com/sarchlab/softmmu/mem/vm"
)

type span struct {
	gpa vm.GPA
	off uint64
	len uint64
}

// spans translates every page an access touches before any byte moves, so a
// fault on a later page leaves memory untouched.
func (m *SoftMMU) spans(
	va vm.GVA,
	access vm.AccessType,
	size uint64,
) ([]span, error) {
	if size == 0 {
		return nil, nil
	}

	req := vm.AccessReq{
		Addr:      va,
		Access:    access,
		Size:      size,
		Privilege: m.privilege,
	}

	if m.strictAlign && !isAligned(va, size) {
		return nil, m.misaligned(req)
	}

	var out []span

	for off := uint64(0); off < size; {
		addr := va + vm.GVA(off)
		n := min(size-off, vm.PageSize-addr.PageOffset())

		req.Addr = addr
		req.Size = n

		gpa, err := m.translate(req)
		if err != nil {
			return nil, err
		}

		out = append(out, span{gpa: gpa, off: off, len: n})
		off += n
	}

	return out, nil
}

func (m *SoftMMU) read(va vm.GVA, access vm.AccessType, size uint64) ([]byte, error) {
	spans, err := m.spans(va, access, size)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, size)
	for _, s := range spans {
		err = m.mem.ReadInto(s.gpa, buf[s.off:s.off+s.len])
		if err != nil {
			return nil, err
		}
	}

	return buf, nil
}

// Load reads size bytes of guest memory at va.
func (m *SoftMMU) Load(va vm.GVA, size uint64) ([]byte, error) {
	return m.read(va, vm.Read, size)
}

// Fetch reads size bytes of instructions at va.
func (m *SoftMMU) Fetch(va vm.GVA, size uint64) ([]byte, error) {
	return m.read(va, vm.Execute, size)
}

// Store writes data to guest memory at va. Nothing is written if any page of
// the access faults.
func (m *SoftMMU) Store(va vm.GVA, data []byte) error {
	spans, err := m.spans(va, vm.Write, uint64(len(data)))
	if err != nil {
		return err
	}

	for _, s := range spans {
		err = m.mem.Write(s.gpa, data[s.off:s.off+s.len])
		if err != nil {
			return err
		}
	}

	return nil
}

// LoadUint64 reads a little endian 64-bit value at va.
func (m *SoftMMU) LoadUint64(va vm.GVA) (uint64, error) {
	buf, err := m.Load(va, 8)
	if err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint64(buf), nil
}

// StoreUint64 writes a little endian 64-bit value at va.
func (m *SoftMMU) StoreUint64(va vm.GVA, value uint64) error {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, value)

	return m.Store(va, buf)
}

// LoadReserved reads size bytes at va and reserves them for this MMU's hart.
// The access must be naturally aligned.
func (m *SoftMMU) LoadReserved(va vm.GVA, size uint64) ([]byte, error) {
	gpa, err := m.atomicTarget(va, vm.Read, size)
	if err != nil {
		return nil, err
	}

	return m.mem.ReserveAtomic(m.hart, gpa, size)
}

// StoreConditional writes data at va if the reservation taken by the last
// LoadReserved still holds for exactly this address and size. The
// reservation is consumed either way.
func (m *SoftMMU) StoreConditional(va vm.GVA, data []byte) (bool, error) {
	gpa, err := m.atomicTarget(va, vm.Write, uint64(len(data)))
	if err != nil {
		m.mem.ClearReservation(m.hart)
		return false, err
	}

	return m.mem.CommitAtomic(m.hart, gpa, data)
}

func (m *SoftMMU) atomicTarget(
	va vm.GVA,
	access vm.AccessType,
	size uint64,
) (vm.GPA, error) {
	req := vm.AccessReq{
		Addr:      va,
		Access:    access,
		Size:      size,
		Privilege: m.privilege,
	}

	if !isAligned(va, size) || size == 0 || size > 8 {
		return 0, m.misaligned(req)
	}

	return m.translate(req)
}
