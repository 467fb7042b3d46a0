// Package internal provides the replacement policies used by the TLB.
package internal

// A Handle identifies an entry resident in a TLB level.
type Handle int32

// A VictimFinder decides which entry should be evicted when a TLB level is
// full. Implementations keep their own bookkeeping, which the level updates
// on every insertion, hit and removal.
type VictimFinder interface {
	// Insert starts tracking a newly resident entry.
	Insert(h Handle)

	// Touch records a hit on the entry.
	Touch(h Handle)

	// Remove stops tracking the entry.
	Remove(h Handle)

	// Victim returns the entry to evict without removing it. Candidates are
	// offered to skip in eviction order, and the first one skip does not
	// reject is the victim. If skip rejects every entry, the first candidate
	// is returned. A nil skip rejects nothing.
	Victim(skip func(Handle) bool) (Handle, bool)

	// Len returns the number of tracked entries.
	Len() int

	// Reset forgets all the entries.
	Reset()
}
