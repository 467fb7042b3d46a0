package internal

import "container/list"

// An LRUVictimFinder evicts the least recently used entry.
type LRUVictimFinder struct {
	queue    *list.List
	elements map[Handle]*list.Element
}

// NewLRUVictimFinder creates a new LRUVictimFinder.
func NewLRUVictimFinder() *LRUVictimFinder {
	f := &LRUVictimFinder{}
	f.Reset()

	return f
}

// Insert puts h at the most recently used end.
func (f *LRUVictimFinder) Insert(h Handle) {
	f.elements[h] = f.queue.PushBack(h)
}

// Touch marks h as the most recently used entry.
func (f *LRUVictimFinder) Touch(h Handle) {
	if e, ok := f.elements[h]; ok {
		f.queue.MoveToBack(e)
	}
}

// Remove stops tracking h.
func (f *LRUVictimFinder) Remove(h Handle) {
	if e, ok := f.elements[h]; ok {
		f.queue.Remove(e)
		delete(f.elements, h)
	}
}

// Victim returns the least recently used entry that skip does not reject.
func (f *LRUVictimFinder) Victim(skip func(Handle) bool) (Handle, bool) {
	if h, ok := f.find(skip); ok {
		return h, true
	}

	return f.find(nil)
}

// find walks from the least recently used end.
func (f *LRUVictimFinder) find(skip func(Handle) bool) (Handle, bool) {
	for e := f.queue.Front(); e != nil; e = e.Next() {
		h := e.Value.(Handle)
		if skip == nil || !skip(h) {
			return h, true
		}
	}

	return 0, false
}

// Len returns the number of tracked entries.
func (f *LRUVictimFinder) Len() int {
	return f.queue.Len()
}

// Reset forgets all the entries.
func (f *LRUVictimFinder) Reset() {
	f.queue = list.New()
	f.elements = make(map[Handle]*list.Element)
}

// A FIFOVictimFinder evicts the oldest entry regardless of hits.
type FIFOVictimFinder struct {
	LRUVictimFinder
}

// NewFIFOVictimFinder creates a new FIFOVictimFinder.
func NewFIFOVictimFinder() *FIFOVictimFinder {
	f := &FIFOVictimFinder{}
	f.Reset()

	return f
}

// Touch does nothing. Hits do not change the insertion order.
func (f *FIFOVictimFinder) Touch(Handle) {}
