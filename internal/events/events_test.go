package events_test

import (
	"testing"
	"time"

	"github.com/qstransfer/qs/internal/events"
	"github.com/stretchr/testify/assert"
)

type recordingSink struct {
	events []events.Event
}

func (s *recordingSink) OnEvent(e events.Event) { s.events = append(s.events, e) }

func TestCounterIsMonotonic(t *testing.T) {
	var c events.Counter
	assert.EqualValues(t, 5, c.Add(5))
	assert.EqualValues(t, 8, c.Add(3))
	assert.EqualValues(t, 8, c.Load())
}

func TestCancelFlag(t *testing.T) {
	var f events.CancelFlag
	assert.False(t, f.IsSet())
	f.Set()
	assert.True(t, f.IsSet())
}

func TestEmitterThrottles(t *testing.T) {
	sink := &recordingSink{}
	var counter events.Counter
	e := events.NewEmitter(sink, &counter)

	e.Report(10)
	e.Report(10)
	e.Report(10)
	assert.Len(t, sink.events, 1)
	assert.EqualValues(t, 10, sink.events[0].TotalSoFar)

	time.Sleep(events.ProgressThrottle + 10*time.Millisecond)
	e.Report(10)
	assert.Len(t, sink.events, 2)
	assert.EqualValues(t, 40, sink.events[1].TotalSoFar)
}

func TestEmitterFlushIsExact(t *testing.T) {
	sink := &recordingSink{}
	var counter events.Counter
	e := events.NewEmitter(sink, &counter)

	e.Report(5)
	counter.Add(3) // simulate bytes landing without going through Report
	e.Flush()

	last := sink.events[len(sink.events)-1]
	assert.EqualValues(t, 8, last.TotalSoFar)
}
