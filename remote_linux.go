//go:build linux

package rbperf

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// ProcessMemory is a RemoteMemory backed by process_vm_readv(2), the
// userspace analogue of bpf_probe_read_user: it copies bytes out of
// another process's address space without attaching a debugger or
// requiring a kernel module.
type ProcessMemory struct {
	pid int
}

// NewProcessMemory returns a RemoteMemory that reads the address space of
// the process identified by pid.
func NewProcessMemory(pid int) *ProcessMemory {
	return &ProcessMemory{pid: pid}
}

func (p *ProcessMemory) ReadUser(dst []byte, remoteAddr ptr) error {
	if len(dst) == 0 {
		return nil
	}
	local := []unix.Iovec{{Base: &dst[0], Len: uint64(len(dst))}}
	remote := []unix.RemoteIovec{{Base: uintptr(remoteAddr), Len: len(dst)}}
	n, err := unix.ProcessVMReadv(p.pid, local, remote, 0)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRemoteReadFault, err)
	}
	if n != len(dst) {
		return fmt.Errorf("%w: short read %d/%d bytes", ErrRemoteReadFault, n, len(dst))
	}
	return nil
}

func (p *ProcessMemory) ReadUserStr(dst []byte, remoteAddr ptr) error {
	if len(dst) == 0 {
		return fmt.Errorf("%w: zero-length string buffer", ErrRemoteReadFault)
	}
	// process_vm_readv has no "stop at NUL" mode, so over-read into a
	// scratch buffer and truncate like rbperf_read_str does.
	buf := make([]byte, len(dst))
	if err := p.ReadUser(buf, remoteAddr); err != nil {
		return err
	}
	n := len(buf)
	for i, c := range buf {
		if c == 0 {
			n = i
			break
		}
	}
	if n >= len(dst) {
		n = len(dst) - 1
	}
	copy(dst, buf[:n])
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
	return nil
}
