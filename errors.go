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

package rbperf

import "errors"

// Sentinel errors for the walker's failure taxonomy. Only
// ErrRemoteReadFault (declared in remote.go) ever surfaces from a frame
// decode; an unknown path object type leaves the frame zeroed without
// returning ErrUnknownObjectType. None of the values below is returned by
// the walker, which handles these conditions without an error (dropping
// the sample, or publishing it as incomplete); they are kept as values so
// tests and callers can name them precisely.
var (
	ErrNotRegistered     = errors.New("rbperf: process not registered")
	ErrVersionMissing    = errors.New("rbperf: unknown runtime version tag")
	ErrPidRaced          = errors.New("rbperf: pid reuse detected")
	ErrUnknownObjectType = errors.New("rbperf: unknown path object type")
	ErrBudgetExhausted   = errors.New("rbperf: tail-call budget exhausted")
	ErrOutputFull        = errors.New("rbperf: output channel full")
)
