package rbperf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildFrame lays out a single control frame's iseq body plus a path and a
// label string object in a fake address space, returning the memory, body
// address, pc, and offsets needed to decode it. All addresses are chosen
// well clear of each other so nothing overlaps.
func buildFrame(t *testing.T) (*FakeProcessMemory, ptr, ptr, VersionOffsets) {
	t.Helper()

	mem := NewFakeProcessMemory(0, make([]byte, 4096))

	const (
		body = ptr(768)
		pc   = ptr(1024)

		posAddrSlot = ptr(256) // pc - body + iseqEncodedOffset
		posSlot     = ptr(1280)

		pathObj  = ptr(1792)
		labelObj = ptr(2048)

		infoTable = ptr(1536)
	)

	offs := VersionOffsets{
		Label:            24,
		LineInfoSize:     8,
		LineInfoTable:    16,
		Lineno:           0,
		ControlFrameSize: 64,
	}

	// readLineno's pos chase: pc - body + iseqEncodedOffset -> posAddr -> pos.
	mem.PutUint64(uint64(posAddrSlot), uint64(posSlot))
	mem.PutUint64(uint64(posSlot), 0)

	// line info table: two entries, last one holds lineno 42.
	mem.PutUint32(uint64(body)+offs.LineInfoSize, 2)
	mem.PutUint64(uint64(body)+offs.LineInfoTable, uint64(infoTable))
	mem.PutUint32(uint64(infoTable)+1*8+offs.Lineno, 42)

	// path: a type-string object (flags low 5 bits == typeString) with its
	// characters embedded right after the RBasic header.
	mem.PutUint64(uint64(body), uint64(pathObj)) // location+pathOffset == 0
	mem.PutUint64(uint64(pathObj), typeString)
	mem.PutString(uint64(pathObj)+rbasicSize, "app.rb")

	// label: same shape, a different string object.
	mem.PutUint64(uint64(body)+offs.Label, uint64(labelObj))
	mem.PutUint64(uint64(labelObj), typeString)
	mem.PutString(uint64(labelObj)+rbasicSize, "initialize")

	return mem, body, pc, offs
}

func TestDecodeFrame(t *testing.T) {
	mem, body, pc, offs := buildFrame(t)

	var frame FrameRecord
	require.NoError(t, DecodeFrame(mem, pc, body, offs, &frame))

	assert.Equal(t, "initialize", frame.MethodNameString())
	assert.Equal(t, "app.rb", frame.PathString())
	assert.EqualValues(t, 42, frame.Lineno)
}

func TestReadLineno_NativeFrameIsZero(t *testing.T) {
	mem, body, _, offs := buildFrame(t)

	lineno, err := readLineno(mem, 0, body, offs)
	require.NoError(t, err)
	assert.EqualValues(t, 0, lineno)
}

func TestReadLineno_EmptyLineInfoTableIsZero(t *testing.T) {
	mem, body, pc, offs := buildFrame(t)
	mem.PutUint32(uint64(body)+offs.LineInfoSize, 0)

	lineno, err := readLineno(mem, pc, body, offs)
	require.NoError(t, err)
	assert.EqualValues(t, 0, lineno)
}

func TestResolvePath_UnknownObjectType(t *testing.T) {
	mem := NewFakeProcessMemory(0, make([]byte, 256))
	mem.PutUint64(0x40, 0x02) // neither typeString nor typeArray

	_, ok, err := resolvePath(mem, 0x40, VersionOffsets{})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResolvePath_ArrayWithRBasicIndirection(t *testing.T) {
	mem := NewFakeProcessMemory(0, make([]byte, 256))
	const arrayObj = ptr(0x40)
	const realPath = ptr(0x80)

	mem.PutUint64(uint64(arrayObj), typeArray)
	mem.PutUint64(uint64(arrayObj)+rbasicSize+pathTypeOffset, uint64(realPath))

	got, ok, err := resolvePath(mem, arrayObj, VersionOffsets{PathFlavour: 1})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, realPath, got)
}

func TestResolvePath_ArrayWithoutIndirection(t *testing.T) {
	mem := NewFakeProcessMemory(0, make([]byte, 256))
	const arrayObj = ptr(0x40)

	mem.PutUint64(uint64(arrayObj), typeArray)
	// Deliberately leave arrayObj+rbasicSize+pathTypeOffset unset: with
	// PathFlavour==0 resolvePath must never read it.

	got, ok, err := resolvePath(mem, arrayObj, VersionOffsets{PathFlavour: 0})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, arrayObj, got)
}

func TestReadRubyString_HeapBacked(t *testing.T) {
	mem := NewFakeProcessMemory(0, make([]byte, 256))
	const obj = ptr(0x40)
	const chars = ptr(0x90)

	mem.PutUint64(uint64(obj), stringHeapBit)
	mem.PutUint64(uint64(obj)+rbasicSize+8, uint64(chars))
	mem.PutString(uint64(chars), "heap string")

	var buf [32]byte
	require.NoError(t, readRubyString(mem, obj, buf[:]))
	assert.Equal(t, "heap string", fixedString(buf[:]))
}
