// Package trace provides hooks that record what SoftMMUs do, either as log
// lines or as rows of a data recorder.
package trace

import (
	"fmt"
	"log"

	"github.com/sarchlab/softmmu/mem/vm"
	"github.com/sarchlab/softmmu/mem/vm/mmu"
	"github.com/sarchlab/softmmu/sim"
)

// An Event is the flattened form of one hook invocation of a SoftMMU.
type Event struct {
	Location string
	What     string
	Addr     vm.GVA
	Access   string
	Cause    string
	ASID     uint16
	Detail   string
}

type namer interface {
	Name() string
}

// EventOf converts a hook context into an Event. It returns false for hook
// positions that do not belong to a SoftMMU.
func EventOf(ctx sim.HookCtx) (Event, bool) {
	e := Event{What: ctx.Pos.Name}

	if n, ok := ctx.Domain.(namer); ok {
		e.Location = n.Name()
	}

	switch ctx.Pos {
	case mmu.HookPosTLBMiss:
		req := ctx.Item.(vm.AccessReq)
		e.Addr = req.Addr
		e.Access = req.Access.String()
	case mmu.HookPosPageFault, mmu.HookPosWalkError:
		fault := ctx.Detail.(*vm.PageFault)
		e.Addr = fault.Addr
		e.Access = fault.Access.String()
		e.Cause = fault.Cause.String()

		if fault.Err != nil {
			e.Detail = fault.Err.Error()
		}
	case mmu.HookPosFlush:
		flush := ctx.Item.(mmu.FlushEvent)
		e.Cause = flush.Kind.String()
		e.ASID = flush.ASID
		e.Addr = flush.Start

		if flush.Kind == mmu.FlushKindRange {
			e.Detail = fmt.Sprintf("[%s, %s)", flush.Start, flush.End)
		}
	case mmu.HookPosPreheat:
		cfg := ctx.Item.(mmu.PreheatConfig)
		e.Cause = cfg.Mode.String()
		e.Detail = fmt.Sprintf("%d entries", ctx.Detail.(int))
	default:
		return Event{}, false
	}

	return e, true
}

// A logTracer writes one line per SoftMMU event.
type logTracer struct {
	sim.LogHookBase

	timeTeller sim.TimeTeller
}

// NewLogTracer creates a hook that logs SoftMMU events to logger.
func NewLogTracer(logger *log.Logger, timeTeller sim.TimeTeller) sim.Hook {
	return &logTracer{
		LogHookBase: sim.NewLogHookBase(logger),
		timeTeller:  timeTeller,
	}
}

func (t *logTracer) Func(ctx sim.HookCtx) {
	e, ok := EventOf(ctx)
	if !ok {
		return
	}

	line := fmt.Sprintf("%.9f, %s, %s, %s",
		t.timeTeller.CurrentTime(), e.Location, e.What, e.Addr)

	if e.Access != "" {
		line += ", " + e.Access
	}

	if e.Cause != "" {
		line += ", " + e.Cause
	}

	if e.Detail != "" {
		line += ", " + e.Detail
	}

	t.Println(line)
}
