package rbperf

import (
	"sync"
)

// ProcessRegistry is the pid_to_rb_thread table: userspace inserts entries
// when a target process is discovered, the walker reads them on every
// sampled event and backfills StartTime on first sight.
type ProcessRegistry interface {
	Lookup(pid uint32) (ProcessRecord, bool)
	Insert(pid uint32, rec ProcessRecord)
	Delete(pid uint32)
	// SetStartTime performs the PID-reuse guard's compare-or-backfill in
	// one step; it reports whether the observed start time matches (or was
	// just recorded for) the registered process.
	SetStartTime(pid uint32, observed uint64) (ok bool)
}

// FrameInterner is the bidirectional id_to_stack/stack_to_id table.
type FrameInterner interface {
	// Intern returns the stable id for frame, allocating one on first
	// sight.
	Intern(frame FrameRecord) FrameId
	// Lookup resolves an id back to the frame it was interned from.
	Lookup(id FrameId) (FrameRecord, bool)
}

// VersionTable is the version_specific_offsets array.
type VersionTable interface {
	Lookup(tag uint32) (VersionOffsets, bool)
	Set(tag uint32, offs VersionOffsets)
}

// StateTable is the global_state per-CPU array: one SampleState slot per
// logical CPU, exclusively owned by the handler chain executing there.
type StateTable interface {
	Get(cpu int) *SampleState
}

// EventSink is the events table: a ring buffer or per-CPU perf-style
// buffer, selected at load time.
type EventSink interface {
	// Publish writes a finished StackRecord. It returns false (and
	// increments a dropped-sample counter) if the channel is full --
	// sampling is lossy by design, nothing is retried.
	Publish(rec StackRecord) bool
	// Dropped returns the number of samples dropped so far because the
	// channel was full.
	Dropped() uint64
}

// --- in-process implementations, used by tests and as the default backing
// when no BPF maps are wired in (see ebpf_tables.go). ---

type mapProcessRegistry struct {
	mu   sync.Mutex
	pids map[uint32]ProcessRecord
}

// NewProcessRegistry returns an in-memory ProcessRegistry with the design
// default capacity. Capacity is advisory here: unlike a BPF hash map, the
// Go map does not evict, it simply grows -- tests that want to exercise
// eviction should drive a table that enforces it explicitly.
func NewProcessRegistry() ProcessRegistry {
	return &mapProcessRegistry{pids: make(map[uint32]ProcessRecord, DefaultTableCapacity)}
}

func (r *mapProcessRegistry) Lookup(pid uint32) (ProcessRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.pids[pid]
	return rec, ok
}

func (r *mapProcessRegistry) Insert(pid uint32, rec ProcessRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pids[pid] = rec
}

func (r *mapProcessRegistry) Delete(pid uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pids, pid)
}

func (r *mapProcessRegistry) SetStartTime(pid uint32, observed uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.pids[pid]
	if !ok {
		return false
	}
	if rec.StartTime == 0 {
		rec.StartTime = observed
		r.pids[pid] = rec
		return true
	}
	return rec.StartTime == observed
}

type mapFrameInterner struct {
	mu         sync.Mutex
	stackToID  map[FrameRecord]FrameId
	idToStack  map[FrameId]FrameRecord
	rand       func() uint32
}

// NewFrameInterner returns an in-memory, content-addressed FrameInterner
// using the given random source to draw fresh ids. Pass nil to use a
// package-default PRNG.
func NewFrameInterner(rand func() uint32) FrameInterner {
	if rand == nil {
		rand = defaultRandUint32
	}
	return &mapFrameInterner{
		stackToID: make(map[FrameRecord]FrameId, DefaultTableCapacity),
		idToStack: make(map[FrameId]FrameRecord, DefaultTableCapacity),
		rand:      rand,
	}
}

func (in *mapFrameInterner) Intern(frame FrameRecord) FrameId {
	in.mu.Lock()
	defer in.mu.Unlock()

	if id, ok := in.stackToID[frame]; ok {
		return id
	}
	id := FrameId(in.rand())
	in.stackToID[frame] = id
	in.idToStack[id] = frame
	return id
}

func (in *mapFrameInterner) Lookup(id FrameId) (FrameRecord, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	f, ok := in.idToStack[id]
	return f, ok
}

type arrayVersionTable struct {
	mu   sync.RWMutex
	offs map[uint32]VersionOffsets
}

// NewVersionTable returns an in-memory VersionTable, populated once by
// userspace at initialization and treated as immutable by the walker.
func NewVersionTable() VersionTable {
	return &arrayVersionTable{offs: make(map[uint32]VersionOffsets, MaxVersions)}
}

func (t *arrayVersionTable) Lookup(tag uint32) (VersionOffsets, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	o, ok := t.offs[tag]
	return o, ok
}

func (t *arrayVersionTable) Set(tag uint32, offs VersionOffsets) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.offs[tag] = offs
}

type perCPUStateTable struct {
	slots []SampleState
}

// NewStateTable returns a StateTable with one slot per logical CPU.
func NewStateTable(numCPU int) StateTable {
	if numCPU <= 0 {
		numCPU = 1
	}
	return &perCPUStateTable{slots: make([]SampleState, numCPU)}
}

func (t *perCPUStateTable) Get(cpu int) *SampleState {
	return &t.slots[cpu%len(t.slots)]
}
