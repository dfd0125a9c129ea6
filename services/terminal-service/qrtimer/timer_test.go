package qrtimer_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/yashrajoria/pos-terminal/services/terminal-service/qrtimer"
)

func TestTimerFires(t *testing.T) {
	var fired atomic.Int32
	tm := qrtimer.New(20 * time.Millisecond)

	deadline := tm.Start(func() { fired.Add(1) })
	assert.WithinDuration(t, time.Now().Add(20*time.Millisecond), deadline, 10*time.Millisecond)
	assert.True(t, tm.Running())

	assert.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, tm.Expired())
	assert.False(t, tm.Running())
	assert.Zero(t, tm.Remaining())
}

func TestStopPreventsExpiry(t *testing.T) {
	var fired atomic.Int32
	tm := qrtimer.New(20 * time.Millisecond)

	tm.Start(func() { fired.Add(1) })
	tm.Stop()
	time.Sleep(50 * time.Millisecond)

	assert.Zero(t, fired.Load())
	assert.False(t, tm.Expired())
}

func TestRestartReplacesCountdown(t *testing.T) {
	var first, second atomic.Int32
	tm := qrtimer.New(30 * time.Millisecond)

	tm.Start(func() { first.Add(1) })
	tm.Start(func() { second.Add(1) })

	assert.Eventually(t, func() bool { return second.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(40 * time.Millisecond)
	assert.Zero(t, first.Load())
}

func TestDefaultDuration(t *testing.T) {
	tm := qrtimer.New(0)
	assert.Equal(t, qrtimer.DefaultDuration, tm.Duration())

	tm.Start(nil)
	defer tm.Stop()
	assert.InDelta(t, 300, tm.Remaining().Seconds(), 1)
}
