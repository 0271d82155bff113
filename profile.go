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

import (
	"fmt"

	"github.com/google/pprof/profile"
)

// Recorder accumulates StackRecords drained from an EventSink, resolves
// their FrameIds back to FrameRecords, and turns them into a pprof
// Profile. It is the userspace consumer side of the walker: nothing in
// the walk itself depends on it.
//
// One pprof sample is produced per collected stack, with locations and
// functions deduplicated by a cache keyed on their identity. Only a
// single "samples" value type is tracked, since this walker collects
// exactly one kind of sample.
type Recorder struct {
	frames FrameInterner
	locs   map[FrameId]*profile.Location
	fns    map[string]*profile.Function
}

// NewRecorder returns a Recorder resolving frame ids against frames.
func NewRecorder(frames FrameInterner) *Recorder {
	return &Recorder{
		frames: frames,
		locs:   make(map[FrameId]*profile.Location),
		fns:    make(map[string]*profile.Function),
	}
}

// BuildProfile converts records into a pprof Profile with a single
// "samples"/"count" sample type, one sample per StackRecord.
func (r *Recorder) BuildProfile(records []StackRecord) *profile.Profile {
	prof := &profile.Profile{
		SampleType: []*profile.ValueType{{Type: "samples", Unit: "count"}},
	}

	for _, rec := range records {
		locations := make([]*profile.Location, 0, rec.Size)
		// pprof locations are leaf-first, same as a native stack trace;
		// StackRecord.Frames is recorded leaf-first during the walk
		// (index 0 is the innermost frame, the one at the current frame
		// pointer, read first), so no reversal is needed here.
		for i := uint32(0); i < rec.Size; i++ {
			locations = append(locations, r.locationFor(prof, rec.Frames[i]))
		}
		prof.Sample = append(prof.Sample, &profile.Sample{
			Value:    []int64{1},
			Location: locations,
			Label:    map[string][]string{"comm": {fixedString(rec.Comm[:])}},
		})
	}

	return prof
}

func (r *Recorder) locationFor(prof *profile.Profile, id FrameId) *profile.Location {
	if loc, ok := r.locs[id]; ok {
		return loc
	}

	frame, ok := r.frames.Lookup(id)
	name, path := NativeMethodName, ""
	if ok {
		name, path = frame.MethodNameString(), frame.PathString()
	}

	key := fmt.Sprintf("%s:%s", path, name)
	fn, ok := r.fns[key]
	if !ok {
		fn = &profile.Function{
			ID:       uint64(len(prof.Function)) + 1, // 0 is reserved by pprof
			Name:     name,
			Filename: path,
		}
		r.fns[key] = fn
		prof.Function = append(prof.Function, fn)
	}

	var lineno int64
	if f, ok := r.frames.Lookup(id); ok {
		lineno = int64(f.Lineno)
	}

	loc := &profile.Location{
		ID:   uint64(len(prof.Location)) + 1, // 0 reserved by pprof
		Line: []profile.Line{{Function: fn, Line: lineno}},
	}
	prof.Location = append(prof.Location, loc)
	r.locs[id] = loc
	return loc
}
