package internal

import "slices"

// A ClockVictimFinder approximates LRU with a reference bit per entry and a
// rotating hand. Entries are arranged in insertion order.
type ClockVictimFinder struct {
	ring       []Handle
	referenced map[Handle]bool
	hand       int
}

// NewClockVictimFinder creates a new ClockVictimFinder.
func NewClockVictimFinder() *ClockVictimFinder {
	f := &ClockVictimFinder{}
	f.Reset()

	return f
}

// Insert places h just behind the hand, so it is the last one the hand
// reaches.
func (f *ClockVictimFinder) Insert(h Handle) {
	if len(f.ring) == 0 {
		f.ring = append(f.ring, h)
		f.hand = 0
		f.referenced[h] = false

		return
	}

	f.ring = append(f.ring, 0)
	copy(f.ring[f.hand+1:], f.ring[f.hand:])
	f.ring[f.hand] = h
	f.hand++
	f.referenced[h] = false
}

// Touch sets the reference bit of h.
func (f *ClockVictimFinder) Touch(h Handle) {
	if _, ok := f.referenced[h]; ok {
		f.referenced[h] = true
	}
}

// Remove stops tracking h.
func (f *ClockVictimFinder) Remove(h Handle) {
	if _, ok := f.referenced[h]; !ok {
		return
	}

	delete(f.referenced, h)

	for i, x := range f.ring {
		if x != h {
			continue
		}

		f.ring = append(f.ring[:i], f.ring[i+1:]...)
		if i < f.hand {
			f.hand--
		}

		break
	}

	if f.hand >= len(f.ring) {
		f.hand = 0
	}
}

// Victim sweeps the hand, clearing reference bits, until it finds an entry
// that has not been referenced since the last sweep. An entry rejected by
// skip is passed over for the rest of the sweep.
func (f *ClockVictimFinder) Victim(skip func(Handle) bool) (Handle, bool) {
	if len(f.ring) == 0 {
		return 0, false
	}

	var spared []Handle

	for range 2 * len(f.ring) {
		h := f.ring[f.hand]

		switch {
		case f.referenced[h]:
			f.referenced[h] = false
		case slices.Contains(spared, h):
		case skip == nil || !skip(h):
			return h, true
		default:
			spared = append(spared, h)
		}

		f.hand = (f.hand + 1) % len(f.ring)
	}

	return spared[0], true
}

// Len returns the number of tracked entries.
func (f *ClockVictimFinder) Len() int {
	return len(f.ring)
}

// Reset forgets all the entries.
func (f *ClockVictimFinder) Reset() {
	f.ring = nil
	f.referenced = make(map[Handle]bool)
	f.hand = 0
}
