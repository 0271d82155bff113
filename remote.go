package rbperf

import (
	"fmt"
	"unsafe"
)

// ptr is an address in the target process's address space, kept distinct
// from a bare uintptr: the walker runs in this host process, never
// dereferencing ptr directly, only through RemoteMemory.
type ptr uint64

// RemoteMemory is the minimum interface required for bounded, fault
// tolerant reads of another process's memory. Offsets are
// computed as base+offset in a 64-bit address space with wraparound;
// RemoteMemory does not validate that the result lies within the target's
// mappings, matching the "no partial observable effects beyond what the
// host API guarantees" contract.
type RemoteMemory interface {
	// ReadUser reads len(dst) bytes from remoteAddr into dst. It returns
	// an error on page fault, permission failure, or invalid address;
	// callers must treat dst as invalid on error.
	ReadUser(dst []byte, remoteAddr ptr) error
	// ReadUserStr reads a NUL-terminated string of at most len(dst)-1
	// bytes from remoteAddr, always NUL-terminating dst on success.
	ReadUserStr(dst []byte, remoteAddr ptr) error
}

// ErrRemoteReadFault is returned by RemoteMemory implementations on page
// fault, permission failure, or an address outside the reader's bound.
var ErrRemoteReadFault = fmt.Errorf("rbperf: remote read fault")

// deref reads the bytes at address p in remote memory and casts them back
// as T. It is not recursive: if T is a struct containing pointers, deref
// does not follow them, it only brings the pointer value itself to the
// host.
func deref[T any](r RemoteMemory, p ptr) (T, error) {
	var t T
	size := int(unsafe.Sizeof(t))
	buf := make([]byte, size)
	if err := r.ReadUser(buf, p); err != nil {
		return t, err
	}
	return *(*T)(unsafe.Pointer(unsafe.SliceData(buf))), nil
}

// derefAt is deref offset from a base pointer, for readability at call
// sites that compute "base + offset".
func derefAt[T any](r RemoteMemory, base ptr, offset uint64) (T, error) {
	return deref[T](r, base+ptr(offset))
}
