package sched

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datawire/netsim/internal/vtime"
)

func TestScheduleOrdersByTimeThenPriorityThenFIFO(t *testing.T) {
	s := New()
	var order []string

	s.Schedule(2*time.Second, PriorityNormal, func() { order = append(order, "t2-normal") })
	s.Schedule(1*time.Second, PriorityLow, func() { order = append(order, "t1-low") })
	s.Schedule(1*time.Second, PriorityHigh, func() { order = append(order, "t1-high") })
	s.Schedule(1*time.Second, PriorityHigh, func() { order = append(order, "t1-high-2") })

	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, []string{"t1-high", "t1-high-2", "t1-low", "t2-normal"}, order)
}

func TestCancelPreventsCallback(t *testing.T) {
	s := New()
	fired := false
	h := s.Schedule(1*time.Second, PriorityNormal, func() { fired = true })
	s.Cancel(h)
	require.NoError(t, s.Run(context.Background()))
	assert.False(t, fired)
}

func TestFlowSleepAdvancesVirtualClock(t *testing.T) {
	s := New()
	var woke vtime.Time
	s.Spawn(context.Background(), "sleeper", func(ctx context.Context, f *Flow) {
		f.Sleep(5 * time.Second)
		woke = s.Now()
	})
	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, 5.0, float64(woke))
}

func TestWaitReturnsNotifyPayload(t *testing.T) {
	s := New()
	ev := NewEvent(s)
	var got any

	s.Spawn(context.Background(), "waiter", func(ctx context.Context, f *Flow) {
		v, err := f.Wait(ev)
		require.NoError(t, err)
		got = v
	})
	s.Schedule(1*time.Second, PriorityNormal, func() {
		ev.Notify("payload")
	})
	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, "payload", got)
}

func TestWaitTimesOutWithoutNotify(t *testing.T) {
	s := New()
	ev := NewEvent(s)
	var gotErr error

	s.Spawn(context.Background(), "waiter", func(ctx context.Context, f *Flow) {
		_, err := f.Wait(ev, 1*time.Second)
		gotErr = err
	})
	require.NoError(t, s.Run(context.Background()))
	assert.ErrorIs(t, gotErr, ErrTimeout)
}

// A Wait that begins after a Notify has already drained its waiter list
// must not be retroactively woken by that past Notify.
func TestLateWaiterIsNotRetroactivelyWoken(t *testing.T) {
	s := New()
	ev := NewEvent(s)
	var lateGotErr error

	s.Schedule(1*time.Second, PriorityNormal, func() {
		ev.Notify("first")
	})
	s.Schedule(2*time.Second, PriorityNormal, func() {
		s.Spawn(context.Background(), "late-waiter", func(ctx context.Context, f *Flow) {
			_, err := f.Wait(ev, 1*time.Second)
			lateGotErr = err
		})
	})
	require.NoError(t, s.Run(context.Background()))
	assert.ErrorIs(t, lateGotErr, ErrTimeout)
}

func TestAttemptRetriesOnTimeoutThenSucceeds(t *testing.T) {
	calls := 0
	err := Attempt(func() error {
		calls++
		if calls < 3 {
			return ErrTimeout
		}
		return nil
	}, 5)
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestAttemptGivesUpAfterNTries(t *testing.T) {
	calls := 0
	err := Attempt(func() error {
		calls++
		return ErrTimeout
	}, 4)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, 4, calls)
}

func TestAttemptPropagatesNonTimeoutErrorImmediately(t *testing.T) {
	boom := assertErr("boom")
	calls := 0
	err := Attempt(func() error {
		calls++
		return boom
	}, 5)
	assert.Equal(t, boom, err)
	assert.Equal(t, 1, calls)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
