package rbperf

import "fmt"

// FakeProcessMemory is a RemoteMemory backed by a plain byte slice,
// standing in for a target process's address space in tests. Address 0 is
// reserved (a NULL pointer), matching the walker's native-frame check.
type FakeProcessMemory struct {
	base ptr
	mem  []byte
}

// NewFakeProcessMemory returns a FakeProcessMemory whose address space
// starts at base and is backed by mem. Reads outside [base, base+len(mem))
// fail with ErrRemoteReadFault.
func NewFakeProcessMemory(base ptr, mem []byte) *FakeProcessMemory {
	return &FakeProcessMemory{base: base, mem: mem}
}

func (f *FakeProcessMemory) slice(remoteAddr ptr, n int) ([]byte, error) {
	if remoteAddr == 0 {
		return nil, fmt.Errorf("%w: NULL pointer dereference", ErrRemoteReadFault)
	}
	if remoteAddr < f.base {
		return nil, fmt.Errorf("%w: address %#x below base %#x", ErrRemoteReadFault, remoteAddr, f.base)
	}
	start := int(remoteAddr - f.base)
	if start < 0 || start+n > len(f.mem) {
		return nil, fmt.Errorf("%w: address %#x out of bounds", ErrRemoteReadFault, remoteAddr)
	}
	return f.mem[start : start+n], nil
}

func (f *FakeProcessMemory) ReadUser(dst []byte, remoteAddr ptr) error {
	src, err := f.slice(remoteAddr, len(dst))
	if err != nil {
		return err
	}
	copy(dst, src)
	return nil
}

func (f *FakeProcessMemory) ReadUserStr(dst []byte, remoteAddr ptr) error {
	if len(dst) == 0 {
		return fmt.Errorf("%w: zero-length string buffer", ErrRemoteReadFault)
	}
	if remoteAddr == 0 {
		return fmt.Errorf("%w: NULL pointer dereference", ErrRemoteReadFault)
	}
	start := int(remoteAddr - f.base)
	if start < 0 || start >= len(f.mem) {
		return fmt.Errorf("%w: address %#x out of bounds", ErrRemoteReadFault, remoteAddr)
	}
	n := 0
	for start+n < len(f.mem) && n < len(dst)-1 && f.mem[start+n] != 0 {
		n++
	}
	copy(dst, f.mem[start:start+n])
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
	return nil
}

// PutUint64 writes a little-endian u64 at offset off in the fake address
// space, for building synthetic control-frame chains in tests.
func (f *FakeProcessMemory) PutUint64(off uint64, v uint64) {
	i := int(ptr(off) - f.base)
	for b := 0; b < 8; b++ {
		f.mem[i+b] = byte(v >> (8 * b))
	}
}

// PutUint32 writes a little-endian u32 at offset off.
func (f *FakeProcessMemory) PutUint32(off uint64, v uint32) {
	i := int(ptr(off) - f.base)
	for b := 0; b < 4; b++ {
		f.mem[i+b] = byte(v >> (8 * b))
	}
}

// PutUint8 writes a single byte at offset off.
func (f *FakeProcessMemory) PutUint8(off uint64, v uint8) {
	f.mem[int(ptr(off)-f.base)] = v
}

// PutString writes s at offset off, without NUL-terminating (callers
// control padding explicitly, matching the bounded-buffer semantics of
// rbperf_read_str).
func (f *FakeProcessMemory) PutString(off uint64, s string) {
	copy(f.mem[int(ptr(off)-f.base):], s)
}

// Base returns the address the fake address space starts at.
func (f *FakeProcessMemory) Base() ptr { return f.base }
