package rbperf

import (
	"time"
)

// Clock returns the current time as nanoseconds since an arbitrary epoch,
// standing in for bpf_ktime_get_ns (nanoseconds since boot). Overridable
// in tests.
type Clock func() uint64

func monotonicNanos() uint64 {
	return uint64(time.Now().UnixNano())
}

// TaskInfo is the subset of kernel task state the walker needs for the
// PID-reuse guard and command-name field. In
// production this is backed by /proc/<pid>/stat; in tests it is a plain
// struct literal.
type TaskInfo struct {
	StartTime uint64
	Comm      string
}

// TaskInfoReader resolves kernel task state for a PID.
type TaskInfoReader interface {
	ReadTaskInfo(pid uint32) (TaskInfo, error)
}

// SampledEvent is what triggers Walker.OnEvent: a timer or syscall
// tracepoint firing on one CPU for one PID. SyscallNr is only meaningful,
// and only copied into the emitted StackRecord, when the Walker's Config
// has EventType set to EventSyscall.
type SampledEvent struct {
	PID       uint32
	CPU       int
	SyscallNr int32
}

// Walker is the stack walker component: the sampled-event entry point and
// its budget-limited continuation, sharing per-CPU SampleState. Go has no
// in-kernel tail call, so the continuation is modeled as an explicit,
// budget-bounded loop instead of true recursion, bounding call chains
// without relying on the host scheduler.
type Walker struct {
	Processes ProcessRegistry
	Versions  VersionTable
	Frames    FrameInterner
	State     StateTable
	Events    EventSink
	Tasks     TaskInfoReader
	Memory    func(pid uint32) RemoteMemory

	Config Config
	Clock  Clock
}

// NewWalker constructs a Walker wired to the given tables. mem is called
// once per sampled event to obtain a RemoteMemory for the event's PID.
func NewWalker(processes ProcessRegistry, versions VersionTable, frames FrameInterner, state StateTable, events EventSink, tasks TaskInfoReader, mem func(pid uint32) RemoteMemory, cfg Config) *Walker {
	return &Walker{
		Processes: processes,
		Versions:  versions,
		Frames:    frames,
		State:     state,
		Events:    events,
		Tasks:     tasks,
		Memory:    mem,
		Config:    cfg,
		Clock:     monotonicNanos,
	}
}

// OnEvent is the sampled-event entry point. It either primes SampleState
// and runs the walk to completion (or budget exhaustion), or silently
// returns without publishing anything when the event cannot be attributed
// to a registered, still-live process.
func (w *Walker) OnEvent(ev SampledEvent) error {
	proc, ok := w.Processes.Lookup(ev.PID)
	if !ok || proc.CurrentThreadAddr == 0 {
		return nil // silent drop: process not registered
	}

	if w.Config.EnablePIDRaceDetector {
		task, err := w.Tasks.ReadTaskInfo(ev.PID)
		if err != nil {
			return nil // task gone, nothing to walk
		}
		if !w.Processes.SetStartTime(ev.PID, task.StartTime) {
			return nil // silent drop: PID reuse detected
		}
	}

	offs, ok := w.Versions.Lookup(proc.VersionTag)
	if !ok {
		w.logf("unknown version tag %d for pid %d", proc.VersionTag, ev.PID)
		return nil
	}

	mem := w.Memory(ev.PID)

	currentThread, err := deref[uint64](mem, ptr(proc.CurrentThreadAddr))
	if err != nil {
		return nil
	}
	mainThread, err := derefAt[uint64](mem, ptr(currentThread), offs.MainThread)
	if err != nil {
		return nil
	}
	ec, err := derefAt[uint64](mem, ptr(mainThread), offs.EC)
	if err != nil {
		return nil
	}
	vm, err := derefAt[uint64](mem, ptr(ec), offs.VM)
	if err != nil {
		return nil
	}
	vmSize, err := derefAt[uint64](mem, ptr(ec), offs.VMSize)
	if err != nil {
		return nil
	}
	cfp, err := derefAt[uint64](mem, ptr(ec), offs.CFP)
	if err != nil {
		return nil
	}

	baseStack := vm + valueSize*vmSize - 2*offs.ControlFrameSize

	state := w.State.Get(ev.CPU)
	*state = SampleState{
		CFP:          cfp + offs.ControlFrameSize,
		BaseStack:    baseStack,
		ProgramCount: 0,
		VersionTag:   proc.VersionTag,
	}
	state.Stack = StackRecord{
		Timestamp:    w.Clock(),
		PID:          ev.PID,
		CPU:          uint32(ev.CPU),
		Status:       StackComplete,
		ExpectedSize: uint32((baseStack - state.CFP) / offs.ControlFrameSize),
	}
	if w.Config.EventType == EventSyscall {
		state.Stack.SyscallNr = ev.SyscallNr
	}
	if task, err := w.Tasks.ReadTaskInfo(ev.PID); err == nil {
		setFixedString(state.Stack.Comm[:], task.Comm)
	}

	return w.walk(mem, offs, state)
}

// walk is the continuation: it decodes up to MaxStacksPerProgram frames
// per "invocation" and loops (instead of tail calling) until completion or
// BPFProgramsCount invocations have run.
func (w *Walker) walk(mem RemoteMemory, offs VersionOffsets, state *SampleState) error {
	for {
		state.ProgramCount++
		w.walkBatch(mem, offs, state)

		if state.CFP <= state.BaseStack && state.ProgramCount < BPFProgramsCount {
			continue // the "tail call"
		}
		break
	}

	if state.CFP > state.BaseStack {
		state.Stack.Status = StackComplete
	} else {
		state.Stack.Status = StackIncomplete
	}

	if !w.Events.Publish(state.Stack) {
		w.logf("output channel full, dropping sample for pid %d", state.Stack.PID)
	}
	return nil
}

// walkBatch decodes at most MaxStacksPerProgram frames starting at
// state.CFP. The bound is checked after a frame's pc and iseq slots are
// read, so the slots of the frame one past the top of stack are read; that
// frame is neither decoded nor recorded.
func (w *Walker) walkBatch(mem RemoteMemory, offs VersionOffsets, state *SampleState) {
	for i := 0; i < MaxStacksPerProgram; i++ {
		cfp := ptr(state.CFP)

		iseqAddr, err := derefAt[uint64](mem, cfp, iseqOffsetInFrame)
		if err != nil {
			break
		}
		pcAddr, err := deref[uint64](mem, cfp)
		if err != nil {
			break
		}
		pc, err := deref[uint64](mem, ptr(pcAddr))
		if err != nil {
			break
		}

		if state.CFP > state.BaseStack {
			break // done reading the stack
		}

		var frame FrameRecord
		if iseqAddr == 0 {
			frame.SetMethodName(NativeMethodName)
		} else {
			body, err := derefAt[uint64](mem, ptr(iseqAddr), bodyOffsetInIseq)
			if err == nil {
				if derr := DecodeFrame(mem, ptr(pc), ptr(body), offs, &frame); derr != nil {
					w.logf("decode error at pid %d: %v", state.Stack.PID, derr)
				}
			}
		}

		id := w.Frames.Intern(frame)
		if state.Stack.Size < MaxStack {
			state.Stack.Frames[state.Stack.Size] = id
			state.Stack.Size++
		}

		state.CFP += offs.ControlFrameSize
	}
}

// Fixed-layout offsets that, unlike VersionOffsets, are constant across
// runtime versions in the primary supported dialect: the pc pointer lives
// at the start of every control frame, iseq and body follow at a fixed
// distance within their respective structs.
const (
	iseqOffsetInFrame = 16
	bodyOffsetInIseq  = 8
)

func (w *Walker) logf(format string, args ...any) {
	if w.Config.Verbose {
		logger().Printf(format, args...)
	}
}
