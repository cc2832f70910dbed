package renewal

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimerFiresAndReschedules(t *testing.T) {
	tm := NewTimer(10 * time.Millisecond)
	var fires int32
	tm.OnFire(func() { atomic.AddInt32(&fires, 1) })

	tm.Start()
	defer tm.Stop()

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&fires) >= 2
	}, time.Second, 5*time.Millisecond, "expected at least two fires, a self-rescheduling timer must not fire only once")
}

func TestTimerStopPreventsFurtherFires(t *testing.T) {
	tm := NewTimer(10 * time.Millisecond)
	var fires int32
	tm.OnFire(func() { atomic.AddInt32(&fires, 1) })

	tm.Start()
	time.Sleep(25 * time.Millisecond)
	tm.Stop()
	after := atomic.LoadInt32(&fires)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, atomic.LoadInt32(&fires))
	assert.Equal(t, StateStopped, tm.State())
}

func TestTimerStartIsIdempotent(t *testing.T) {
	tm := NewTimer(time.Hour)
	var transitions int
	tm.OnStateChange(func(old, new State) { transitions++ })

	tm.Start()
	tm.Start()
	tm.Start()
	assert.Equal(t, 1, transitions)
	assert.Equal(t, StateRunning, tm.State())
}

func TestTimerStopWhenAlreadyStoppedIsNoop(t *testing.T) {
	tm := NewTimer(time.Hour)
	tm.Stop()
	assert.Equal(t, StateStopped, tm.State())
}

func TestNewTimerRejectsNonPositiveInterval(t *testing.T) {
	tm := NewTimer(0)
	assert.Equal(t, DefaultInterval, tm.interval)
}

func TestRemainingTimeWhenStopped(t *testing.T) {
	tm := NewTimer(time.Hour)
	assert.Equal(t, time.Duration(0), tm.RemainingTime())
}
