package internal

// A TwoQueueVictimFinder keeps entries seen once in a FIFO probation queue
// and moves entries hit again to an LRU main queue. Victims come from the
// probation queue while it holds at least a quarter of the capacity, so that
// one-off translations do not flush the working set.
type TwoQueueVictimFinder struct {
	probation *LRUVictimFinder
	main      *LRUVictimFinder
	minProbe  int
}

// NewTwoQueueVictimFinder creates a new TwoQueueVictimFinder for a level
// with the given capacity.
func NewTwoQueueVictimFinder(capacity int) *TwoQueueVictimFinder {
	return &TwoQueueVictimFinder{
		probation: NewLRUVictimFinder(),
		main:      NewLRUVictimFinder(),
		minProbe:  max(1, capacity/4),
	}
}

// Insert puts h on probation.
func (f *TwoQueueVictimFinder) Insert(h Handle) {
	f.probation.Insert(h)
}

// Touch promotes h from probation to the main queue, or refreshes it there.
func (f *TwoQueueVictimFinder) Touch(h Handle) {
	if _, ok := f.probation.elements[h]; ok {
		f.probation.Remove(h)
		f.main.Insert(h)

		return
	}

	f.main.Touch(h)
}

// Remove stops tracking h.
func (f *TwoQueueVictimFinder) Remove(h Handle) {
	f.probation.Remove(h)
	f.main.Remove(h)
}

// Victim returns the oldest probation entry, or the least recently used
// main entry when probation is short. Skipped entries stay in their queue.
func (f *TwoQueueVictimFinder) Victim(skip func(Handle) bool) (Handle, bool) {
	queues := [2]*LRUVictimFinder{f.main, f.probation}
	if f.probation.Len() >= f.minProbe || f.main.Len() == 0 {
		queues = [2]*LRUVictimFinder{f.probation, f.main}
	}

	for _, q := range queues {
		if h, ok := q.find(skip); ok {
			return h, true
		}
	}

	for _, q := range queues {
		if h, ok := q.find(nil); ok {
			return h, true
		}
	}

	return 0, false
}

// Len returns the number of tracked entries.
func (f *TwoQueueVictimFinder) Len() int {
	return f.probation.Len() + f.main.Len()
}

// Reset forgets all the entries.
func (f *TwoQueueVictimFinder) Reset() {
	f.probation.Reset()
	f.main.Reset()
}
