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
	"log"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/stealthrocket/rbperf"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		log.Fatalf("error: %v", err)
	}
}

type options struct {
	verbose       bool
	ringbuf       bool
	noPIDRace     bool
	syscallEvents bool
	ebpfTables    bool
	versionTag    uint32
	interval      time.Duration
	pprofAddr     string
}

func newRootCommand() *cobra.Command {
	var o options

	root := &cobra.Command{
		Use:   "rbperf <pid>",
		Short: "Walk a target process's interpreter call stack and print sampled frames",
		Long: `rbperf attaches to a single target process and periodically walks its
interpreter call stack out of raw process memory, the same way a
sampling profiler attached to a perf_event or syscall tracepoint would,
printing the interned frames of every sample it collects.

This command wires the userspace side of the walker (registry,
offsets, tables, event sink) without attaching to a real perf event or
tracepoint: samples are triggered on a fixed interval, by this process
itself, since that attachment step is out of scope here.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid pid %q: %w", args[0], err)
			}
			return run(pid, o)
		},
	}

	flags := root.Flags()
	flags.BoolVarP(&o.verbose, "verbose", "v", false, "enable diagnostic logging")
	flags.BoolVar(&o.ringbuf, "ringbuf", false, "use a single ring buffer instead of a per-CPU event sink")
	flags.BoolVar(&o.noPIDRace, "no-pid-race-detector", false, "disable the PID-reuse guard")
	flags.BoolVar(&o.syscallEvents, "syscall-events", false, "treat sampled events as syscall tracepoints, recording their syscall number")
	flags.BoolVar(&o.ebpfTables, "ebpf-tables", false, "back the shared tables with real github.com/cilium/ebpf maps instead of in-process ones (linux only)")
	flags.Uint32Var(&o.versionTag, "version-tag", 0, "runtime version tag to look up in the offset table")
	flags.DurationVarP(&o.interval, "interval", "i", 100*time.Millisecond, "sampling interval")
	flags.StringVar(&o.pprofAddr, "pprof-addr", "", "serve a pprof profile of collected samples at this address instead of printing them")

	return root
}

func run(pid int, o options) error {
	cfg := rbperf.DefaultConfig()
	cfg.Verbose = o.verbose
	cfg.UseRingbuf = o.ringbuf
	cfg.EnablePIDRaceDetector = !o.noPIDRace
	cfg.EventType = rbperf.EventUnknown
	if o.syscallEvents {
		cfg.EventType = rbperf.EventSyscall
	}

	numCPU := runtime.NumCPU()

	var (
		processes rbperf.ProcessRegistry
		versions  rbperf.VersionTable
		frames    rbperf.FrameInterner
		state     rbperf.StateTable
	)
	if o.ebpfTables {
		var err error
		processes, versions, state, frames, err = newEBPFTables(nil)
		if err != nil {
			return fmt.Errorf("wiring ebpf-backed tables: %w", err)
		}
	} else {
		processes = rbperf.NewProcessRegistry()
		versions = rbperf.NewVersionTable()
		frames = rbperf.NewFrameInterner(nil)
		state = rbperf.NewStateTable(numCPU)
	}

	events := rbperf.NewEventSink(cfg, numCPU, 4096)
	tasks := newProcTaskReader()

	offs, err := discoverOffsets(pid)
	if err != nil {
		return fmt.Errorf("discovering runtime layout: %w", err)
	}
	versions.Set(o.versionTag, offs)

	rec, err := discoverProcess(pid, o.versionTag)
	if err != nil {
		return fmt.Errorf("discovering process: %w", err)
	}
	processes.Insert(uint32(pid), rec)

	w := rbperf.NewWalker(processes, versions, frames, state, events, tasks,
		func(p uint32) rbperf.RemoteMemory { return rbperf.NewProcessMemory(int(p)) },
		cfg,
	)

	if o.pprofAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/debug/pprof/profile", rbperf.ProfileHandler(events, rbperf.NewRecorder(frames)))
		go func() {
			if err := http.ListenAndServe(o.pprofAddr, mux); err != nil {
				fmt.Fprintf(os.Stderr, "pprof server: %v\n", err)
			}
		}()
	}

	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	fmt.Fprintf(os.Stdout, "sampling pid %d every %s, ctrl-c to stop\n", pid, o.interval)
	for range ticker.C {
		ev := rbperf.SampledEvent{PID: uint32(pid), CPU: 0}
		if err := w.OnEvent(ev); err != nil {
			fmt.Fprintf(os.Stderr, "sample error: %v\n", err)
			continue
		}
		if o.pprofAddr == "" {
			printSamples(events, frames)
		}
	}
	return nil
}

func printSamples(events rbperf.EventSink, frames rbperf.FrameInterner) {
	drainer, ok := events.(interface{ Records() []rbperf.StackRecord })
	if !ok {
		return
	}
	for _, rec := range drainer.Records() {
		fmt.Printf("pid=%d cpu=%d status=%v frames=%d\n", rec.PID, rec.CPU, rec.Status, rec.Size)
		for i := uint32(0); i < rec.Size; i++ {
			frame, ok := frames.Lookup(rec.Frames[i])
			if !ok {
				continue
			}
			fmt.Printf("  %s (%s:%d)\n", frame.MethodNameString(), frame.PathString(), frame.Lineno)
		}
	}
}
