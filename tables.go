//  Copyright 2023 Stealth Rocket, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package rbperf implements the in-kernel-style portion of a sampling
// profiler for a dynamic-language runtime: it walks another process's
// interpreter call stack out of its raw memory, interns frames into a
// shared table, and emits stack samples to a userspace consumer.
//
// The package is written the way the BPF program it stands in for is
// structured: a restricted, bounded-loop walk over shared, typed tables,
// with no error propagating across a sample boundary. Remote reads still
// allocate a small host buffer each.
package rbperf

// Table names, kept as constants so the mapping to the contractual names
// a userspace loader would use for the real BPF maps stays traceable.
const (
	TablePidToThread  = "pid_to_rb_thread"
	TableIDToStack    = "id_to_stack"
	TableStackToID    = "stack_to_id"
	TableVersionOffs  = "version_specific_offsets"
	TableGlobalState  = "global_state"
	TableEvents       = "events"
	TablePrograms     = "programs"
	ProgramStackWalk  = "RBPERF_STACK_READING_PROGRAM_IDX"
)

// Capacity defaults.
const (
	DefaultTableCapacity = 10240
	MaxVersions          = 10
	MaxStack             = 127
	MaxStacksPerProgram  = 30
	BPFProgramsCount     = 3
)

// MethodNameSize and PathSize bound the character buffers of FrameRecord.
// NativeMethodName is the sentinel used for frames with no instruction
// sequence (native code).
const (
	MethodNameSize    = 64
	PathSize          = 128
	NativeMethodName  = "<native code>"
)

// FrameId is the stable, content-addressed 32-bit handle for a FrameRecord.
type FrameId uint32

// FrameRecord is the fixed-size record interned for every walked control
// frame. Its byte representation is its identity: two frames are identical
// iff bytes(a) == bytes(b), so every field -- including unused padding --
// must be zeroed before it is populated.
type FrameRecord struct {
	MethodName [MethodNameSize]byte
	Path       [PathSize]byte
	Lineno     int32
}

// SetMethodName copies s into MethodName, NUL-padding or truncating as
// needed to preserve the fixed-size, zero-padded identity.
func (f *FrameRecord) SetMethodName(s string) {
	setFixedString(f.MethodName[:], s)
}

// SetPath copies s into Path, NUL-padding or truncating.
func (f *FrameRecord) SetPath(s string) {
	setFixedString(f.Path[:], s)
}

// MethodNameString returns the NUL-terminated contents of MethodName as a
// Go string.
func (f *FrameRecord) MethodNameString() string {
	return fixedString(f.MethodName[:])
}

// PathString returns the NUL-terminated contents of Path as a Go string.
func (f *FrameRecord) PathString() string {
	return fixedString(f.Path[:])
}

func setFixedString(dst []byte, s string) {
	for i := range dst {
		dst[i] = 0
	}
	n := copy(dst, s)
	_ = n // truncation is silent, matching rbperf_read_str's bounded write
}

func fixedString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// StackStatus is the completion status of a StackRecord.
type StackStatus uint8

const (
	StackIncomplete StackStatus = iota
	StackComplete
)

// ProcessRecord is the registry value keyed by PID.
type ProcessRecord struct {
	// CurrentThreadAddr is the address, inside the target process, where
	// its "current thread" global pointer is stored.
	CurrentThreadAddr uint64
	// VersionTag indexes VersionOffsets in the offset table.
	VersionTag uint32
	// StartTime is the captured process start time, used by the PID-reuse
	// guard. Zero until the first sample backfills it.
	StartTime uint64
}

// VersionOffsets holds the byte offsets used by the decoder for one runtime
// version. It is treated as immutable by the walker once populated.
type VersionOffsets struct {
	MainThread      uint64
	EC              uint64
	VM              uint64
	VMSize          uint64
	CFP             uint64
	Label           uint64
	PathFlavour     uint8
	LineInfoSize    uint64
	LineInfoTable   uint64
	Lineno          uint64
	ControlFrameSize uint64
}

// StackRecord is the emitted record. Its layout is the ABI between the
// walker and the userspace consumer: every field is fixed size.
type StackRecord struct {
	Timestamp     uint64
	PID           uint32
	CPU           uint32
	SyscallNr     int32
	Comm          [16]byte
	Status        StackStatus
	Size          uint32
	ExpectedSize  uint32
	Frames        [MaxStack]FrameId
}

// SampleState is the per-CPU scratch slot carried across tail calls. It is
// owned exclusively by the handler chain executing on its CPU.
type SampleState struct {
	Stack           StackRecord
	CFP             uint64
	BaseStack       uint64
	ProgramCount    int
	VersionTag      uint32
}

// EventType selects whether the sampled event carries a syscall number.
type EventType int

const (
	EventUnknown EventType = iota
	EventSyscall
)
