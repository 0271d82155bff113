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
	"net/http"
)

// drainer is satisfied by the EventSink implementations in emitter.go.
type drainer interface {
	Records() []StackRecord
}

// ProfileHandler serves the samples collected so far as a pprof profile,
// draining sink and resolving frames through recorder on every request.
func ProfileHandler(sink EventSink, recorder *Recorder) http.Handler {
	drain, ok := sink.(drainer)
	if !ok {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			serveError(w, http.StatusNotImplemented, "event sink does not support draining")
		})
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		prof := recorder.BuildProfile(drain.Records())

		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Content-Type", "application/octet-stream")
		h.Set("Content-Disposition", `attachment; filename="profile"`)
		if err := prof.Write(w); err != nil {
			serveError(w, http.StatusInternalServerError, err.Error())
		}
	})
}

func serveError(w http.ResponseWriter, status int, txt string) {
	h := w.Header()
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("X-Go-Pprof", "1")
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Del("Content-Disposition")
	w.WriteHeader(status)
	fmt.Fprintln(w, txt)
}
