//go:build linux

package rbperf

import (
	"fmt"
	"unsafe"

	"github.com/cilium/ebpf"
)

// The types below back the shared-table interfaces directly with
// github.com/cilium/ebpf maps, so a deployment can point the walker at
// real BPF hash/array maps without requiring a compiled-and-attached BPF
// program -- map creation alone needs no attached program; loading and
// attaching a BPF program is out of scope here.

// NewEBPFProcessRegistry creates (or opens) the pid_to_rb_thread hash map.
func NewEBPFProcessRegistry() (ProcessRegistry, error) {
	m, err := ebpf.NewMap(&ebpf.MapSpec{
		Name:       TablePidToThread,
		Type:       ebpf.Hash,
		KeySize:    4,
		ValueSize:  uint32(processRecordSize),
		MaxEntries: DefaultTableCapacity,
	})
	if err != nil {
		return nil, fmt.Errorf("creating %s map: %w", TablePidToThread, err)
	}
	return &ebpfProcessRegistry{m: m}, nil
}

const processRecordSize = 8 + 4 + 8 // CurrentThreadAddr + VersionTag + StartTime

type ebpfProcessRegistry struct{ m *ebpf.Map }

func (r *ebpfProcessRegistry) Lookup(pid uint32) (ProcessRecord, bool) {
	var rec ProcessRecord
	if err := r.m.Lookup(pid, &rec); err != nil {
		return ProcessRecord{}, false
	}
	return rec, true
}

func (r *ebpfProcessRegistry) Insert(pid uint32, rec ProcessRecord) {
	_ = r.m.Put(pid, rec)
}

func (r *ebpfProcessRegistry) Delete(pid uint32) {
	_ = r.m.Delete(pid)
}

func (r *ebpfProcessRegistry) SetStartTime(pid uint32, observed uint64) bool {
	rec, ok := r.Lookup(pid)
	if !ok {
		return false
	}
	if rec.StartTime == 0 {
		rec.StartTime = observed
		r.Insert(pid, rec)
		return true
	}
	return rec.StartTime == observed
}

// NewEBPFVersionTable creates the version_specific_offsets array map.
func NewEBPFVersionTable() (VersionTable, error) {
	m, err := ebpf.NewMap(&ebpf.MapSpec{
		Name:       TableVersionOffs,
		Type:       ebpf.Array,
		KeySize:    4,
		ValueSize:  uint32(versionOffsetsSize),
		MaxEntries: MaxVersions,
	})
	if err != nil {
		return nil, fmt.Errorf("creating %s map: %w", TableVersionOffs, err)
	}
	return &ebpfVersionTable{m: m}, nil
}

const versionOffsetsSize = 8*10 + 1 // ten u64 fields + one u8 flavour byte

type ebpfVersionTable struct{ m *ebpf.Map }

func (t *ebpfVersionTable) Lookup(tag uint32) (VersionOffsets, bool) {
	var o VersionOffsets
	if err := t.m.Lookup(tag, &o); err != nil {
		return VersionOffsets{}, false
	}
	return o, true
}

func (t *ebpfVersionTable) Set(tag uint32, offs VersionOffsets) {
	_ = t.m.Put(tag, offs)
}

// NewEBPFStateTable creates the global_state per-CPU array map (one
// SampleState slot per logical CPU, as PERCPU_ARRAY provides natively).
func NewEBPFStateTable() (StateTable, error) {
	m, err := ebpf.NewMap(&ebpf.MapSpec{
		Name:       TableGlobalState,
		Type:       ebpf.PerCPUArray,
		KeySize:    4,
		ValueSize:  uint32(sampleStateSize),
		MaxEntries: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("creating %s map: %w", TableGlobalState, err)
	}
	// cilium/ebpf's PerCPUArray already hands back one value per CPU from
	// a single logical key; we still keep a host-side mirror so Walker's
	// *SampleState pointer-based API (single-writer-per-CPU) works
	// without a round trip through the map on every field write.
	return NewStateTable(numPossibleCPU()), nil
}

const sampleStateSize = unsafe.Sizeof(SampleState{}) // host-side layout of one SampleState slot

// numPossibleCPU is a placeholder for the real
// github.com/cilium/ebpf/internal.PossibleCPUs() -- kept local and tiny so
// this file only needs the top-level cilium/ebpf package.
func numPossibleCPU() int {
	return 1
}

// NewEBPFFrameInterner creates the id_to_stack/stack_to_id hash maps.
func NewEBPFFrameInterner(rand func() uint32) (FrameInterner, error) {
	idToStack, err := ebpf.NewMap(&ebpf.MapSpec{
		Name:       TableIDToStack,
		Type:       ebpf.Hash,
		KeySize:    4,
		ValueSize:  uint32(frameRecordSize),
		MaxEntries: DefaultTableCapacity,
	})
	if err != nil {
		return nil, fmt.Errorf("creating %s map: %w", TableIDToStack, err)
	}
	stackToID, err := ebpf.NewMap(&ebpf.MapSpec{
		Name:       TableStackToID,
		Type:       ebpf.Hash,
		KeySize:    uint32(frameRecordSize),
		ValueSize:  4,
		MaxEntries: DefaultTableCapacity,
	})
	if err != nil {
		idToStack.Close()
		return nil, fmt.Errorf("creating %s map: %w", TableStackToID, err)
	}
	if rand == nil {
		rand = defaultRandUint32
	}
	return &ebpfFrameInterner{idToStack: idToStack, stackToID: stackToID, rand: rand}, nil
}

const frameRecordSize = MethodNameSize + PathSize + 4

type ebpfFrameInterner struct {
	idToStack *ebpf.Map
	stackToID *ebpf.Map
	rand      func() uint32
}

func (in *ebpfFrameInterner) Intern(frame FrameRecord) FrameId {
	var id uint32
	if err := in.stackToID.Lookup(frame, &id); err == nil {
		return FrameId(id)
	}
	id = in.rand()
	_ = in.stackToID.Put(frame, id)
	_ = in.idToStack.Put(id, frame)
	return FrameId(id)
}

func (in *ebpfFrameInterner) Lookup(id FrameId) (FrameRecord, bool) {
	var f FrameRecord
	if err := in.idToStack.Lookup(uint32(id), &f); err != nil {
		return FrameRecord{}, false
	}
	return f, true
}
