package tlb

// A PrefetchRequest asks for the translation of a page to be fetched before
// it is used.
type PrefetchRequest struct {
	VPN  uint64
	ASID uint16
}

// PrefetchQueue is a bounded FIFO of pending prefetch requests. Pushing a
// request that is already queued does nothing, and pushing into a full queue
// drops the oldest request.
type PrefetchQueue struct {
	capacity int
	reqs     []PrefetchRequest
	queued   map[PrefetchRequest]struct{}
	dropped  uint64
}

// NewPrefetchQueue creates a queue that holds up to capacity requests.
func NewPrefetchQueue(capacity int) *PrefetchQueue {
	return &PrefetchQueue{
		capacity: capacity,
		queued:   make(map[PrefetchRequest]struct{}),
	}
}

// Len returns the number of pending requests.
func (q *PrefetchQueue) Len() int {
	return len(q.reqs)
}

// Cap returns the capacity of the queue.
func (q *PrefetchQueue) Cap() int {
	return q.capacity
}

// Dropped returns the number of requests pushed out by newer ones.
func (q *PrefetchQueue) Dropped() uint64 {
	return q.dropped
}

// Push queues a request. It returns false if the request was not queued.
func (q *PrefetchQueue) Push(req PrefetchRequest) bool {
	if q.capacity <= 0 {
		return false
	}

	if _, ok := q.queued[req]; ok {
		return false
	}

	if len(q.reqs) >= q.capacity {
		delete(q.queued, q.reqs[0])
		q.reqs = q.reqs[1:]
		q.dropped++
	}

	q.reqs = append(q.reqs, req)
	q.queued[req] = struct{}{}

	return true
}

// Pop removes and returns the oldest request.
func (q *PrefetchQueue) Pop() (PrefetchRequest, bool) {
	if len(q.reqs) == 0 {
		return PrefetchRequest{}, false
	}

	req := q.reqs[0]
	q.reqs = q.reqs[1:]
	delete(q.queued, req)

	return req, true
}

// Pending returns a copy of the queued requests, oldest first.
func (q *PrefetchQueue) Pending() []PrefetchRequest {
	return append([]PrefetchRequest(nil), q.reqs...)
}

// RemoveIf drops the requests for which pred returns true.
func (q *PrefetchQueue) RemoveIf(pred func(PrefetchRequest) bool) int {
	kept := q.reqs[:0]
	removed := 0

	for _, req := range q.reqs {
		if pred(req) {
			delete(q.queued, req)
			removed++

			continue
		}

		kept = append(kept, req)
	}

	clear(q.reqs[len(kept):])
	q.reqs = kept

	return removed
}

// Clear drops every request.
func (q *PrefetchQueue) Clear() {
	q.reqs = nil
	clear(q.queued)
}

// accessHistory remembers the most recent lookups in a ring.
type accessHistory struct {
	reqs []PrefetchRequest
	next int
	size int
}

func newAccessHistory(n int) *accessHistory {
	return &accessHistory{reqs: make([]PrefetchRequest, n)}
}

func (h *accessHistory) record(vpn uint64, asid uint16) {
	if len(h.reqs) == 0 {
		return
	}

	h.reqs[h.next] = PrefetchRequest{VPN: vpn, ASID: asid}
	h.next = (h.next + 1) % len(h.reqs)

	if h.size < len(h.reqs) {
		h.size++
	}
}

// lastOther returns the most recent page of asid other than vpn.
func (h *accessHistory) lastOther(vpn uint64, asid uint16) (uint64, bool) {
	for i := 1; i <= h.size; i++ {
		r := h.reqs[(h.next-i+len(h.reqs))%len(h.reqs)]
		if r.ASID == asid && r.VPN != vpn {
			return r.VPN, true
		}
	}

	return 0, false
}

func (h *accessHistory) reset() {
	h.next = 0
	h.size = 0
}

// strideOf returns the signed distance from prev to vpn if it is a usable
// stride.
func strideOf(prev, vpn uint64, maxStride int) (int64, bool) {
	delta := int64(vpn - prev)

	abs := delta
	if abs < 0 {
		abs = -abs
	}

	if abs == 0 || abs > int64(maxStride) {
		return 0, false
	}

	return delta, true
}
