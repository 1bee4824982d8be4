package ramp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func noWait(time.Duration) bool { return true }

func TestLinearReachesTarget(t *testing.T) {
	var got []int
	last, done := Linear{From: 500, To: 1500, Steps: 4}.Run(noWait, func(l int) bool {
		got = append(got, l)
		return true
	})
	require.True(t, done)
	require.Equal(t, 1500, last)
	require.Equal(t, []int{500, 750, 1000, 1250, 1500}, got)
}

func TestLinearStopsWhenStepRefuses(t *testing.T) {
	last, done := Linear{From: 0, To: 100, Steps: 10}.Run(noWait, func(l int) bool { return l < 40 })
	require.False(t, done)
	require.Equal(t, 40, last)
}

func TestLinearCancelledTick(t *testing.T) {
	ticks := 0
	last, done := Linear{From: 0, To: 100, Steps: 10}.Run(func(time.Duration) bool {
		ticks++
		return ticks < 3
	}, func(int) bool { return true })
	require.False(t, done)
	require.Equal(t, 20, last)
}

func TestLinearDownwardAndSnap(t *testing.T) {
	var got []int
	_, done := Linear{From: 300, To: 100, Steps: 2}.Run(noWait, func(l int) bool { got = append(got, l); return true })
	require.True(t, done)
	require.Equal(t, []int{300, 200, 100}, got)

	last, done := Linear{To: 42}.Run(noWait, func(int) bool { return true })
	require.True(t, done)
	require.Equal(t, 42, last)
}

func TestSleepTickStops(t *testing.T) {
	done := make(chan struct{})
	tick := SleepTick(done)
	require.True(t, tick(time.Millisecond))
	close(done)
	require.False(t, tick(time.Hour))
}
