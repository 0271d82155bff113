package rbperf

// Config holds the load-time configuration variables. A userspace loader
// sets these once before attaching the walker to events,
// the same way a BPF loader would set `.rodata` globals -- the walker
// itself treats them as immutable for the lifetime of a run.
type Config struct {
	// Verbose enables diagnostic logging.
	Verbose bool
	// UseRingbuf selects a ring-buffer-backed EventSink over a per-CPU
	// perf-style one.
	UseRingbuf bool
	// EnablePIDRaceDetector enables the PID-reuse guard.
	EnablePIDRaceDetector bool
	// EventType decides, once at load time, whether every sampled event
	// is treated as carrying a syscall number: the walker copies
	// SampledEvent.SyscallNr into the emitted StackRecord only when this
	// is EventSyscall, never per event.
	EventType EventType
}

// DefaultConfig mirrors the defaults of the original BPF globals: verbose
// off, perf buffer (not ring buffer), race detector on, unknown event
// type.
func DefaultConfig() Config {
	return Config{
		Verbose:               false,
		UseRingbuf:            false,
		EnablePIDRaceDetector: true,
		EventType:             EventUnknown,
	}
}
