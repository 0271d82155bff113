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

//go:build !linux

package main

import (
	"errors"

	"github.com/stealthrocket/rbperf"
)

// newEBPFTables is unavailable off linux: github.com/cilium/ebpf can only
// create real maps against a Linux kernel.
func newEBPFTables(rng func() uint32) (rbperf.ProcessRegistry, rbperf.VersionTable, rbperf.StateTable, rbperf.FrameInterner, error) {
	return nil, nil, nil, nil, errors.New("ebpf-backed tables require linux")
}
