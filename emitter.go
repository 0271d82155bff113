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

import "sync/atomic"

// NewEventSink returns an EventSink appropriate for cfg.UseRingbuf: a
// single multi-producer ring buffer, or a per-CPU fan of buffers. Both
// drop and count on overflow rather than blocking or retrying, mirroring
// the real ringbuf.Reader / perf.Reader split in github.com/cilium/ebpf.
func NewEventSink(cfg Config, numCPU, capacityPerQueue int) EventSink {
	if cfg.UseRingbuf {
		return newRingbufSink(capacityPerQueue)
	}
	return newPerCPUSink(numCPU, capacityPerQueue)
}

type ringbufSink struct {
	ch      chan StackRecord
	dropped atomic.Uint64
}

func newRingbufSink(capacity int) *ringbufSink {
	return &ringbufSink{ch: make(chan StackRecord, capacity)}
}

func (s *ringbufSink) Publish(rec StackRecord) bool {
	select {
	case s.ch <- rec:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

func (s *ringbufSink) Dropped() uint64 { return s.dropped.Load() }

// Records drains all currently queued records without blocking, for use
// by a userspace consumer (or a test).
func (s *ringbufSink) Records() []StackRecord {
	var out []StackRecord
	for {
		select {
		case rec := <-s.ch:
			out = append(out, rec)
		default:
			return out
		}
	}
}

type perCPUSink struct {
	queues  []chan StackRecord
	dropped atomic.Uint64
}

func newPerCPUSink(numCPU, capacity int) *perCPUSink {
	if numCPU <= 0 {
		numCPU = 1
	}
	queues := make([]chan StackRecord, numCPU)
	for i := range queues {
		queues[i] = make(chan StackRecord, capacity)
	}
	return &perCPUSink{queues: queues}
}

func (s *perCPUSink) Publish(rec StackRecord) bool {
	q := s.queues[int(rec.CPU)%len(s.queues)]
	select {
	case q <- rec:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

func (s *perCPUSink) Dropped() uint64 { return s.dropped.Load() }

// Records drains all queues, in CPU order, without blocking.
func (s *perCPUSink) Records() []StackRecord {
	var out []StackRecord
	for _, q := range s.queues {
		for {
			select {
			case rec := <-q:
				out = append(out, rec)
			default:
				goto next
			}
		}
	next:
	}
	return out
}
