package physmem

import "log"

// A Builder can build Storage objects.
type Builder struct {
	capacity        uint64
	numShards       int
	unitSize        uint64
	numReservations int
}

// MakeBuilder returns a Builder with 16 shards and 4 KiB units.
func MakeBuilder() Builder {
	return Builder{
		capacity:        1 << 30,
		numShards:       16,
		unitSize:        4096,
		numReservations: 4096,
	}
}

// WithCapacity sets the number of bytes of RAM.
func (b Builder) WithCapacity(capacity uint64) Builder {
	b.capacity = capacity
	return b
}

// WithNumShards sets the number of independently locked shards.
func (b Builder) WithNumShards(n int) Builder {
	b.numShards = n
	return b
}

// WithUnitSize sets the allocation granularity. It must be a power of 2 and a
// multiple of the 64-byte reservation line.
func (b Builder) WithUnitSize(n uint64) Builder {
	b.unitSize = n
	return b
}

// WithNumReservationSlots sets the number of line generation counters used to
// track load-reserved / store-conditional pairs. It must be a power of 2.
func (b Builder) WithNumReservationSlots(n int) Builder {
	b.numReservations = n
	return b
}

// Build creates a new Storage.
func (b Builder) Build() *Storage {
	b.mustBeValid()

	s := &Storage{
		unitSize: b.unitSize,
		capacity: b.capacity,
	}

	shardSize := (b.capacity + uint64(b.numShards) - 1) / uint64(b.numShards)
	shardSize = (shardSize + b.unitSize - 1) / b.unitSize * b.unitSize
	if shardSize == 0 {
		shardSize = b.unitSize
	}

	s.shardSize = shardSize
	s.shards = make([]*shard, b.numShards)
	for i := range s.shards {
		s.shards[i] = &shard{data: make(map[uint64][]byte)}
	}

	s.reservations = newReservationTable(b.numReservations)

	return s
}

func (b Builder) mustBeValid() {
	if b.numShards <= 0 {
		log.Panicf("number of shards must be positive, got %d", b.numShards)
	}

	if b.unitSize == 0 || b.unitSize&(b.unitSize-1) != 0 ||
		b.unitSize%reservationLineSize != 0 {
		log.Panicf("invalid unit size %d", b.unitSize)
	}

	if b.numReservations <= 0 ||
		b.numReservations&(b.numReservations-1) != 0 {
		log.Panicf("number of reservation slots must be a power of 2, got %d",
			b.numReservations)
	}
}
