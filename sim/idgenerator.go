package sim

import (
	"log"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/rs/xid"
)

var (
	idGeneratorMutex        sync.Mutex
	idGeneratorInstantiated atomic.Bool
	idGenerator             IDGenerator
)

// IDGenerator can generate IDs
type IDGenerator interface {
	// Generate an ID
	Generate() string
}

// UseSequentialIDGenerator makes the IDs small increasing numbers. Runs that
// create harts and recorders in the same order get the same IDs.
func UseSequentialIDGenerator() {
	setIDGenerator(&sequentialIDGenerator{})
}

// UseParallelIDGenerator makes the IDs globally unique. The IDs are no longer
// deterministic, which suits runs where many processes write to one database.
func UseParallelIDGenerator() {
	setIDGenerator(parallelIDGenerator{})
}

func setIDGenerator(g IDGenerator) {
	idGeneratorMutex.Lock()
	defer idGeneratorMutex.Unlock()

	if idGeneratorInstantiated.Load() {
		log.Panic("cannot change id generator type after using it")
	}

	idGenerator = g
	idGeneratorInstantiated.Store(true)
}

// GetIDGenerator returns the ID generator of the process. The sequential
// generator is used if none was chosen before the first call.
func GetIDGenerator() IDGenerator {
	if idGeneratorInstantiated.Load() {
		return idGenerator
	}

	idGeneratorMutex.Lock()
	defer idGeneratorMutex.Unlock()

	if !idGeneratorInstantiated.Load() {
		idGenerator = &sequentialIDGenerator{}
		idGeneratorInstantiated.Store(true)
	}

	return idGenerator
}

type sequentialIDGenerator struct {
	nextID atomic.Uint64
}

func (g *sequentialIDGenerator) Generate() string {
	return strconv.FormatUint(g.nextID.Add(1), 10)
}

type parallelIDGenerator struct{}

func (g parallelIDGenerator) Generate() string {
	return xid.New().String()
}
