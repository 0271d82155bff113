package rbperf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEventSink_SelectsBackingByConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.UseRingbuf = true
	ring := NewEventSink(cfg, 4, 8)
	_, ok := ring.(*ringbufSink)
	assert.True(t, ok)

	cfg.UseRingbuf = false
	fan := NewEventSink(cfg, 4, 8)
	_, ok = fan.(*perCPUSink)
	assert.True(t, ok)
}

func TestRingbufSink_PublishAndDrain(t *testing.T) {
	s := newRingbufSink(2)

	assert.True(t, s.Publish(StackRecord{PID: 1}))
	assert.True(t, s.Publish(StackRecord{PID: 2}))
	assert.False(t, s.Publish(StackRecord{PID: 3}), "capacity 2 should reject the third publish")
	assert.EqualValues(t, 1, s.Dropped())

	recs := s.Records()
	require.Len(t, recs, 2)
	assert.EqualValues(t, 1, recs[0].PID)
	assert.EqualValues(t, 2, recs[1].PID)

	assert.Empty(t, s.Records(), "draining twice returns nothing the second time")
}

func TestPerCPUSink_PartitionsByCPU(t *testing.T) {
	s := newPerCPUSink(2, 4)

	assert.True(t, s.Publish(StackRecord{PID: 10, CPU: 0}))
	assert.True(t, s.Publish(StackRecord{PID: 20, CPU: 1}))

	recs := s.Records()
	require.Len(t, recs, 2)

	byPID := map[uint32]StackRecord{}
	for _, r := range recs {
		byPID[r.PID] = r
	}
	assert.EqualValues(t, 0, byPID[10].CPU)
	assert.EqualValues(t, 1, byPID[20].CPU)
}

func TestPerCPUSink_DropsOnFullQueue(t *testing.T) {
	s := newPerCPUSink(1, 1)

	assert.True(t, s.Publish(StackRecord{PID: 1}))
	assert.False(t, s.Publish(StackRecord{PID: 2}))
	assert.EqualValues(t, 1, s.Dropped())
}
