package rbperf

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessRegistry_LookupMiss(t *testing.T) {
	r := NewProcessRegistry()
	_, ok := r.Lookup(123)
	assert.False(t, ok)
}

func TestProcessRegistry_InsertLookupDelete(t *testing.T) {
	r := NewProcessRegistry()
	rec := ProcessRecord{CurrentThreadAddr: 0x1000, VersionTag: 2}
	r.Insert(42, rec)

	got, ok := r.Lookup(42)
	require.True(t, ok)
	assert.Equal(t, rec, got)

	r.Delete(42)
	_, ok = r.Lookup(42)
	assert.False(t, ok)
}

func TestProcessRegistry_SetStartTime_BackfillsOnce(t *testing.T) {
	r := NewProcessRegistry()
	r.Insert(7, ProcessRecord{CurrentThreadAddr: 0x1000})

	require.True(t, r.SetStartTime(7, 1000))
	rec, ok := r.Lookup(7)
	require.True(t, ok)
	assert.Equal(t, uint64(1000), rec.StartTime)

	// Same observed start time: not a reuse.
	assert.True(t, r.SetStartTime(7, 1000))
}

func TestProcessRegistry_SetStartTime_DetectsReuse(t *testing.T) {
	r := NewProcessRegistry()
	r.Insert(7, ProcessRecord{CurrentThreadAddr: 0x1000})
	require.True(t, r.SetStartTime(7, 1000))

	// A different observed start time for the same PID means a new process
	// now occupies it.
	assert.False(t, r.SetStartTime(7, 2000))
}

func TestProcessRegistry_SetStartTime_UnregisteredPID(t *testing.T) {
	r := NewProcessRegistry()
	assert.False(t, r.SetStartTime(999, 1000))
}

func TestFrameInterner_InternIsIdempotent(t *testing.T) {
	calls := 0
	rng := func() uint32 {
		calls++
		return uint32(calls)
	}
	in := NewFrameInterner(rng)

	var f FrameRecord
	f.SetMethodName("foo")
	f.SetPath("a.rb")
	f.Lineno = 10

	id1 := in.Intern(f)
	id2 := in.Intern(f)
	assert.Equal(t, id1, id2)
	assert.Equal(t, 1, calls, "a second intern of an identical frame must not draw a new id")
}

func TestFrameInterner_DistinctFramesGetDistinctIDs(t *testing.T) {
	in := NewFrameInterner(nil)

	var a, b FrameRecord
	a.SetMethodName("foo")
	b.SetMethodName("bar")

	idA := in.Intern(a)
	idB := in.Intern(b)
	assert.NotEqual(t, idA, idB)
}

func TestFrameInterner_RoundTrip(t *testing.T) {
	in := NewFrameInterner(nil)

	var f FrameRecord
	f.SetMethodName("handler")
	f.SetPath("app.rb")
	f.Lineno = 42

	id := in.Intern(f)
	got, ok := in.Lookup(id)
	require.True(t, ok)
	assert.Equal(t, f, got)
}

func TestFrameInterner_LookupMiss(t *testing.T) {
	in := NewFrameInterner(nil)
	_, ok := in.Lookup(FrameId(12345))
	assert.False(t, ok)
}

// TestFrameInterner_ConcurrentInternOfSameFrameConverges spawns many
// goroutines -- standing in for samples landing from different CPUs --
// all interning the identical frame at once, and checks they all settle
// on one id with exactly one draw from the random source.
func TestFrameInterner_ConcurrentInternOfSameFrameConverges(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	rng := func() uint32 {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		return uint32(n)
	}
	in := NewFrameInterner(rng)

	var f FrameRecord
	f.SetMethodName("shared")
	f.SetPath("shared.rb")
	f.Lineno = 5

	const goroutines = 32
	ids := make([]FrameId, goroutines)
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func(i int) {
			defer wg.Done()
			ids[i] = in.Intern(f)
		}(i)
	}
	wg.Wait()

	for i := 1; i < goroutines; i++ {
		assert.Equal(t, ids[0], ids[i], "every goroutine interning the same frame must converge on one id")
	}

	assert.Equal(t, 1, calls, "concurrent interns of one frame must draw exactly one id")

	got, ok := in.Lookup(ids[0])
	require.True(t, ok)
	assert.Equal(t, f, got)
}

// TestFrameInterner_ConcurrentInternOfDistinctFramesAllSucceed interns a
// distinct frame per goroutine concurrently and checks every one lands a
// unique id with no lost or corrupted entries.
func TestFrameInterner_ConcurrentInternOfDistinctFramesAllSucceed(t *testing.T) {
	in := NewFrameInterner(nil)

	const goroutines = 32
	frames := make([]FrameRecord, goroutines)
	ids := make([]FrameId, goroutines)
	for i := range frames {
		frames[i].SetMethodName(string(rune('a' + i%26)))
		frames[i].Lineno = int32(i)
	}

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func(i int) {
			defer wg.Done()
			ids[i] = in.Intern(frames[i])
		}(i)
	}
	wg.Wait()

	seen := map[FrameId]bool{}
	for i, id := range ids {
		assert.False(t, seen[id], "interned ids must be unique across concurrent distinct frames")
		seen[id] = true

		got, ok := in.Lookup(id)
		require.True(t, ok)
		assert.Equal(t, frames[i], got)
	}
}

// TestVersionTable_ConcurrentSetAndLookup exercises the version table the
// way samples landing on different CPUs would: concurrent readers and a
// concurrent writer populating a version tag none of them have seen yet.
func TestVersionTable_ConcurrentSetAndLookup(t *testing.T) {
	vt := NewVersionTable()
	offs := VersionOffsets{MainThread: 8, EC: 16, ControlFrameSize: 64}

	const goroutines = 32
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func(i int) {
			defer wg.Done()
			if i == 0 {
				vt.Set(5, offs)
				return
			}
			vt.Lookup(5)
		}(i)
	}
	wg.Wait()

	got, ok := vt.Lookup(5)
	require.True(t, ok)
	assert.Equal(t, offs, got)
}

func TestVersionTable_SetLookup(t *testing.T) {
	vt := NewVersionTable()
	offs := VersionOffsets{MainThread: 8, EC: 16, ControlFrameSize: 64}
	vt.Set(3, offs)

	got, ok := vt.Lookup(3)
	require.True(t, ok)
	assert.Equal(t, offs, got)

	_, ok = vt.Lookup(4)
	assert.False(t, ok)
}

func TestStateTable_OneSlotPerCPU(t *testing.T) {
	st := NewStateTable(4)

	st.Get(0).CFP = 111
	st.Get(1).CFP = 222

	assert.EqualValues(t, 111, st.Get(0).CFP)
	assert.EqualValues(t, 222, st.Get(1).CFP)
	assert.NotEqual(t, st.Get(0), st.Get(1))
}

func TestStateTable_WrapsOutOfRangeCPU(t *testing.T) {
	st := NewStateTable(2)
	st.Get(0).CFP = 99
	// cpu=2 wraps to the same slot as cpu=0.
	assert.EqualValues(t, 99, st.Get(2).CFP)
}

func TestFrameRecord_FixedStringRoundTrip(t *testing.T) {
	var f FrameRecord
	f.SetMethodName("initialize")
	f.SetPath("lib/app.rb")

	assert.Equal(t, "initialize", f.MethodNameString())
	assert.Equal(t, "lib/app.rb", f.PathString())
}

func TestFrameRecord_SetMethodNameTruncates(t *testing.T) {
	var f FrameRecord
	long := make([]byte, MethodNameSize+10)
	for i := range long {
		long[i] = 'x'
	}
	f.SetMethodName(string(long))
	assert.Len(t, f.MethodNameString(), MethodNameSize)
}

func TestFrameRecord_IdentityIsByteRepresentation(t *testing.T) {
	var a, b FrameRecord
	a.SetMethodName("same")
	a.SetPath("f.rb")
	a.Lineno = 1

	b.SetMethodName("same")
	b.SetPath("f.rb")
	b.Lineno = 1

	assert.Equal(t, a, b)

	b.Lineno = 2
	assert.NotEqual(t, a, b)
}
