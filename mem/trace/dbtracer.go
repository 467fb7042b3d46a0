package trace

import (
	"github.com/sarchlab/softmmu/datarecording"
	"github.com/sarchlab/softmmu/sim"
)

// EventTable is the table the DB tracer writes to.
const EventTable = "mmu_events"

// eventEntry represents a SoftMMU event in the database
type eventEntry struct {
	ID       string
	Time     float64
	Location string
	What     string
	Addr     uint64
	Access   string
	Cause    string
	ASID     uint16
	Detail   string
}

// A dbTracer is a hook that records SoftMMU events into a data recorder.
type dbTracer struct {
	timeTeller   sim.TimeTeller
	dataRecorder datarecording.DataRecorder
}

// NewDBTracer creates a hook that records SoftMMU events into the
// mmu_events table of dataRecorder.
func NewDBTracer(
	dataRecorder datarecording.DataRecorder,
	timeTeller sim.TimeTeller,
) sim.Hook {
	t := &dbTracer{
		timeTeller:   timeTeller,
		dataRecorder: dataRecorder,
	}

	t.dataRecorder.CreateTable(EventTable, eventEntry{})

	return t
}

func (t *dbTracer) Func(ctx sim.HookCtx) {
	e, ok := EventOf(ctx)
	if !ok {
		return
	}

	t.dataRecorder.InsertData(EventTable, eventEntry{
		ID:       sim.GetIDGenerator().Generate(),
		Time:     float64(t.timeTeller.CurrentTime()),
		Location: e.Location,
		What:     e.What,
		Addr:     uint64(e.Addr),
		Access:   e.Access,
		Cause:    e.Cause,
		ASID:     e.ASID,
		Detail:   e.Detail,
	})
}
