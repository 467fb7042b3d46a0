package internal

import "container/heap"

type lfuItem struct {
	handle Handle
	count  uint64
	seq    uint64
	index  int
}

type lfuHeap []*lfuItem

func (h lfuHeap) Len() int { return len(h) }

func (h lfuHeap) Less(i, j int) bool {
	if h[i].count != h[j].count {
		return h[i].count < h[j].count
	}

	return h[i].seq < h[j].seq
}

func (h lfuHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *lfuHeap) Push(x any) {
	item := x.(*lfuItem)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *lfuHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]

	return item
}

// An LFUVictimFinder evicts the least frequently used entry. Among entries
// with the same count, the oldest goes first.
type LFUVictimFinder struct {
	heap  lfuHeap
	items map[Handle]*lfuItem
	seq   uint64
}

// NewLFUVictimFinder creates a new LFUVictimFinder.
func NewLFUVictimFinder() *LFUVictimFinder {
	f := &LFUVictimFinder{}
	f.Reset()

	return f
}

// Insert starts tracking h with a count of one.
func (f *LFUVictimFinder) Insert(h Handle) {
	f.seq++
	item := &lfuItem{handle: h, count: 1, seq: f.seq}
	f.items[h] = item
	heap.Push(&f.heap, item)
}

// Touch increments the use count of h.
func (f *LFUVictimFinder) Touch(h Handle) {
	item, ok := f.items[h]
	if !ok {
		return
	}

	item.count++
	heap.Fix(&f.heap, item.index)
}

// Remove stops tracking h.
func (f *LFUVictimFinder) Remove(h Handle) {
	item, ok := f.items[h]
	if !ok {
		return
	}

	heap.Remove(&f.heap, item.index)
	delete(f.items, h)
}

// Victim returns the least frequently used entry that skip does not reject.
// Skipped entries keep their counts.
func (f *LFUVictimFinder) Victim(skip func(Handle) bool) (Handle, bool) {
	if len(f.heap) == 0 {
		return 0, false
	}

	victim := f.heap[0].handle
	if skip == nil {
		return victim, true
	}

	var popped []*lfuItem

	for len(f.heap) > 0 {
		item := heap.Pop(&f.heap).(*lfuItem)
		popped = append(popped, item)

		if !skip(item.handle) {
			victim = item.handle
			break
		}
	}

	for _, item := range popped {
		heap.Push(&f.heap, item)
	}

	return victim, true
}

// Len returns the number of tracked entries.
func (f *LFUVictimFinder) Len() int {
	return len(f.heap)
}

// Reset forgets all the entries.
func (f *LFUVictimFinder) Reset() {
	f.heap = nil
	f.items = make(map[Handle]*lfuItem)
}
