package internal

import "math/rand/v2"

// A RandomVictimFinder evicts a uniformly chosen entry. The choice sequence
// is fixed by the seed.
type RandomVictimFinder struct {
	rng     *rand.Rand
	handles []Handle
	index   map[Handle]int
}

// NewRandomVictimFinder creates a new RandomVictimFinder.
func NewRandomVictimFinder(seed uint64) *RandomVictimFinder {
	f := &RandomVictimFinder{
		rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
	f.Reset()

	return f
}

// Insert starts tracking h.
func (f *RandomVictimFinder) Insert(h Handle) {
	f.index[h] = len(f.handles)
	f.handles = append(f.handles, h)
}

// Touch does nothing.
func (f *RandomVictimFinder) Touch(Handle) {}

// Remove stops tracking h.
func (f *RandomVictimFinder) Remove(h Handle) {
	i, ok := f.index[h]
	if !ok {
		return
	}

	last := len(f.handles) - 1
	f.handles[i] = f.handles[last]
	f.index[f.handles[i]] = i
	f.handles = f.handles[:last]
	delete(f.index, h)
}

// Victim returns a random entry. If skip rejects it, the entries after it
// are tried in turn.
func (f *RandomVictimFinder) Victim(skip func(Handle) bool) (Handle, bool) {
	n := len(f.handles)
	if n == 0 {
		return 0, false
	}

	start := f.rng.IntN(n)

	for i := range n {
		h := f.handles[(start+i)%n]
		if skip == nil || !skip(h) {
			return h, true
		}
	}

	return f.handles[start], true
}

// Len returns the number of tracked entries.
func (f *RandomVictimFinder) Len() int {
	return len(f.handles)
}

// Reset forgets all the entries.
func (f *RandomVictimFinder) Reset() {
	f.handles = nil
	f.index = make(map[Handle]int)
}
