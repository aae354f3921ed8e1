package datarecording

import (
	"github.com/sarchlab/omegavm/mem/vm"
	"github.com/sarchlab/omegavm/mem/vm/addrspace"
	"github.com/sarchlab/omegavm/mem/vm/coremap"
	"github.com/sarchlab/omegavm/mem/vm/fault"
	"github.com/sarchlab/omegavm/sim"
)

// Table names used by the VMRecorder.
const (
	FrameEventTable = "frame_event"
	FaultTable      = "fault"
	SpaceEventTable = "space_event"
)

// FrameEvent is a row of the frame_event table.
type FrameEvent struct {
	Seq      uint64
	Domain   string
	Event    string
	PAddr    uint32
	NumPages uint32
	State    string
	Owner    string
}

// FaultEvent is a row of the fault table.
type FaultEvent struct {
	Seq    uint64
	Domain string
	Type   string
	VAddr  uint32
	PAddr  uint32
	Slot   int
	Errno  int
	Error  string
}

// SpaceEvent is a row of the space_event table.
type SpaceEvent struct {
	Seq    uint64
	Domain string
	Event  string
	ASID   string
}

// VMRecorder is a hook that stores the events of the frame table, the
// address space manager and the fault handler.
type VMRecorder struct {
	recorder DataRecorder
	seq      uint64
}

// NewVMRecorder creates the VM tables in recorder.
func NewVMRecorder(recorder DataRecorder) *VMRecorder {
	recorder.CreateTable(FrameEventTable, FrameEvent{})
	recorder.CreateTable(FaultTable, FaultEvent{})
	recorder.CreateTable(SpaceEventTable, SpaceEvent{})

	return &VMRecorder{recorder: recorder}
}

// Func records the event described by ctx. Events from unknown positions
// are ignored.
func (r *VMRecorder) Func(ctx sim.HookCtx) {
	switch ctx.Pos {
	case coremap.HookPosFrameAlloc:
		r.recordFrame(ctx, "alloc")
	case coremap.HookPosFrameAllocFail:
		r.recordFrame(ctx, "alloc_fail")
	case coremap.HookPosFrameFree:
		r.recordFrame(ctx, "free")
	case addrspace.HookPosSpaceCreate:
		r.recordSpace(ctx, "create")
	case addrspace.HookPosSpaceActivate:
		r.recordSpace(ctx, "activate")
	case addrspace.HookPosSpaceDestroy:
		r.recordSpace(ctx, "destroy")
	case fault.HookPosFault:
		r.recordFault(ctx)
	}
}

func (r *VMRecorder) nextSeq() uint64 {
	r.seq++
	return r.seq
}

func (r *VMRecorder) recordFrame(ctx sim.HookCtx, event string) {
	a := ctx.Item.(coremap.Allocation)

	r.recorder.InsertData(FrameEventTable, FrameEvent{
		Seq:      r.nextSeq(),
		Domain:   ctx.Domain.Name(),
		Event:    event,
		PAddr:    uint32(a.PAddr),
		NumPages: a.NumPages,
		State:    a.State.String(),
		Owner:    string(a.Owner),
	})
}

func (r *VMRecorder) recordSpace(ctx sim.HookCtx, event string) {
	r.recorder.InsertData(SpaceEventTable, SpaceEvent{
		Seq:    r.nextSeq(),
		Domain: ctx.Domain.Name(),
		Event:  event,
		ASID:   string(ctx.Item.(vm.ASID)),
	})
}

func (r *VMRecorder) recordFault(ctx sim.HookCtx) {
	rec := ctx.Item.(fault.Record)

	entry := FaultEvent{
		Seq:    r.nextSeq(),
		Domain: ctx.Domain.Name(),
		Type:   rec.Type.String(),
		VAddr:  uint32(rec.VAddr),
		PAddr:  uint32(rec.PAddr),
		Slot:   rec.Slot,
		Errno:  vm.Errno(rec.Err),
	}

	if rec.Err != nil {
		entry.Error = rec.Err.Error()
	}

	r.recorder.InsertData(FaultTable, entry)
}
