package internal

import "slices"

// A HybridVictimFinder scores every entry by twice its use count plus its
// recency rank, where the least recently used entry ranks 0, and evicts the
// lowest score. Ties go to the least recently used entry.
type HybridVictimFinder struct {
	recency *LRUVictimFinder
	counts  map[Handle]uint64
}

// NewHybridVictimFinder creates a new HybridVictimFinder.
func NewHybridVictimFinder() *HybridVictimFinder {
	f := &HybridVictimFinder{recency: NewLRUVictimFinder()}
	f.Reset()

	return f
}

// Insert starts tracking h.
func (f *HybridVictimFinder) Insert(h Handle) {
	f.recency.Insert(h)
	f.counts[h] = 1
}

// Touch records a use of h.
func (f *HybridVictimFinder) Touch(h Handle) {
	if _, ok := f.counts[h]; !ok {
		return
	}

	f.counts[h]++
	f.recency.Touch(h)
}

// Remove stops tracking h.
func (f *HybridVictimFinder) Remove(h Handle) {
	f.recency.Remove(h)
	delete(f.counts, h)
}

// Victim returns the entry with the lowest score that skip does not reject.
func (f *HybridVictimFinder) Victim(skip func(Handle) bool) (Handle, bool) {
	first, ok := f.lowest(nil)
	if !ok || skip == nil {
		return first, ok
	}

	var spared []Handle

	for h := first; ok; h, ok = f.lowest(spared) {
		if !skip(h) {
			return h, true
		}

		spared = append(spared, h)
	}

	return first, true
}

// lowest scans from the least recently used end. Every count is at least
// one, so an entry of rank r scores at least r+2 and the scan stops once
// that bound reaches the best score found.
func (f *HybridVictimFinder) lowest(spared []Handle) (Handle, bool) {
	var (
		victim Handle
		best   uint64
		found  bool
		rank   uint64
	)

	for e := f.recency.queue.Front(); e != nil; e = e.Next() {
		if found && rank+2 >= best {
			break
		}

		h := e.Value.(Handle)
		if !slices.Contains(spared, h) {
			score := f.counts[h]*2 + rank
			if !found || score < best {
				victim, best, found = h, score, true
			}
		}

		rank++
	}

	return victim, found
}

// Len returns the number of tracked entries.
func (f *HybridVictimFinder) Len() int {
	return f.recency.Len()
}

// Reset forgets all the entries.
func (f *HybridVictimFinder) Reset() {
	f.recency.Reset()
	f.counts = make(map[Handle]uint64)
}
