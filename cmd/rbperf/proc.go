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

package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/stealthrocket/rbperf"
)

// procTaskReader implements rbperf.TaskInfoReader by reading /proc/<pid>/stat,
// the userspace analogue of the kernel task_struct a BPF program would read
// directly: strip everything through the closing "comm)", then split the
// remaining numeric fields on whitespace to pull out starttime.
type procTaskReader struct{}

func newProcTaskReader() *procTaskReader { return &procTaskReader{} }

func (procTaskReader) ReadTaskInfo(pid uint32) (rbperf.TaskInfo, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return rbperf.TaskInfo{}, err
	}
	line := strings.TrimSpace(string(data))

	open := strings.IndexByte(line, '(')
	shut := strings.LastIndexByte(line, ')')
	if open < 0 || shut < 0 || shut < open {
		return rbperf.TaskInfo{}, fmt.Errorf("malformed /proc/%d/stat", pid)
	}
	comm := line[open+1 : shut]

	fields := strings.Fields(line[shut+2:])
	// Field 22 (1-indexed) in the full stat line is starttime; after
	// removing pid and comm, that is fields[19] (0-indexed).
	const startTimeField = 19
	if len(fields) <= startTimeField {
		return rbperf.TaskInfo{}, fmt.Errorf("unexpected /proc/%d/stat field count", pid)
	}
	startTime, err := strconv.ParseUint(fields[startTimeField], 10, 64)
	if err != nil {
		return rbperf.TaskInfo{}, fmt.Errorf("parsing starttime: %w", err)
	}

	return rbperf.TaskInfo{StartTime: startTime, Comm: comm}, nil
}

// discoverProcess builds the registry entry for pid. Locating the real
// "current thread" global inside the target's address space requires
// parsing its symbol table or a pre-computed offset file, which is out of
// scope here (see SPEC_FULL.md's non-goals); in its place this resolves
// the address from an environment variable so the rest of the wiring
// (registry, PID-reuse guard, walk) can be exercised end to end.
func discoverProcess(pid int, versionTag uint32) (rbperf.ProcessRecord, error) {
	addr, err := envAddr("RBPERF_CURRENT_THREAD_ADDR")
	if err != nil {
		return rbperf.ProcessRecord{}, err
	}
	return rbperf.ProcessRecord{CurrentThreadAddr: addr, VersionTag: versionTag}, nil
}

// discoverOffsets returns the VersionOffsets for the target's runtime
// build. As with discoverProcess, deriving these from debug symbols is out
// of scope; they are read from the environment, one variable per field, so
// an operator who already knows their runtime's layout can drive a real
// walk without a symbol-parsing step being built first.
func discoverOffsets(pid int) (rbperf.VersionOffsets, error) {
	var offs rbperf.VersionOffsets
	fields := map[string]*uint64{
		"RBPERF_OFFSET_MAIN_THREAD":   &offs.MainThread,
		"RBPERF_OFFSET_EC":            &offs.EC,
		"RBPERF_OFFSET_VM":            &offs.VM,
		"RBPERF_OFFSET_VM_SIZE":       &offs.VMSize,
		"RBPERF_OFFSET_CFP":           &offs.CFP,
		"RBPERF_OFFSET_LABEL":         &offs.Label,
		"RBPERF_OFFSET_LINE_INFO_SIZE": &offs.LineInfoSize,
		"RBPERF_OFFSET_LINE_INFO_TABLE": &offs.LineInfoTable,
		"RBPERF_OFFSET_LINENO":        &offs.Lineno,
		"RBPERF_OFFSET_CONTROL_FRAME_SIZE": &offs.ControlFrameSize,
	}
	for name, dst := range fields {
		v, err := envAddr(name)
		if err != nil {
			return rbperf.VersionOffsets{}, err
		}
		*dst = v
	}
	if flavour, ok := os.LookupEnv("RBPERF_PATH_FLAVOUR"); ok {
		n, perr := strconv.ParseUint(flavour, 10, 8)
		if perr != nil {
			return rbperf.VersionOffsets{}, fmt.Errorf("parsing RBPERF_PATH_FLAVOUR: %w", perr)
		}
		offs.PathFlavour = uint8(n)
	}
	return offs, nil
}

func envAddr(name string) (uint64, error) {
	s, ok := os.LookupEnv(name)
	if !ok || s == "" {
		return 0, fmt.Errorf("missing required environment variable %s", name)
	}
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", name, err)
	}
	return v, nil
}
