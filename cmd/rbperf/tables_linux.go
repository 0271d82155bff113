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

//go:build linux

package main

import (
	"fmt"

	"github.com/stealthrocket/rbperf"
)

// newEBPFTables creates real github.com/cilium/ebpf maps for the process
// registry, version table, state table and frame interner in place of
// store.go's in-process implementations. The state table still hands the
// walker an in-process mirror, and the event sink is not covered here: it
// stays emitter.go's in-process one.
func newEBPFTables(rng func() uint32) (rbperf.ProcessRegistry, rbperf.VersionTable, rbperf.StateTable, rbperf.FrameInterner, error) {
	processes, err := rbperf.NewEBPFProcessRegistry()
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("ebpf process registry: %w", err)
	}
	versions, err := rbperf.NewEBPFVersionTable()
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("ebpf version table: %w", err)
	}
	state, err := rbperf.NewEBPFStateTable()
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("ebpf state table: %w", err)
	}
	frames, err := rbperf.NewEBPFFrameInterner(rng)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("ebpf frame interner: %w", err)
	}
	return processes, versions, state, frames, nil
}
