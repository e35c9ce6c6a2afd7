package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestBetweenWithBounds(t *testing.T) {
	lo := BetweenWith(time.Minute, 2*time.Minute, func() float64 { return 0 })
	hi := BetweenWith(time.Minute, 2*time.Minute, func() float64 { return 0.999999 })
	assert.Equal(t, time.Minute, lo())
	assert.Less(t, hi(), 2*time.Minute)
	assert.Greater(t, hi(), 119*time.Second)
}

func TestWholeMinutes(t *testing.T) {
	d := WholeMinutes(2, 4)
	for i := 0; i < 50; i++ {
		got := d()
		assert.Contains(t, []time.Duration{2 * time.Minute, 3 * time.Minute, 4 * time.Minute}, got)
	}
}

func TestAddRejectsDuplicates(t *testing.T) {
	s := New(nil)
	task := Task{Name: "a", Delay: Fixed(time.Hour), Run: func(context.Context) error { return nil }}
	require.NoError(t, s.Add(task))
	assert.Error(t, s.Add(task))
	assert.Error(t, s.Add(Task{Name: "b"}))
}

func TestImmediateRunsBeforeDelay(t *testing.T) {
	s := New(nil)
	ran := make(chan struct{}, 1)
	require.NoError(t, s.Add(Task{
		Name:      "posts",
		Delay:     Fixed(time.Hour),
		Immediate: true,
		Run: func(context.Context) error {
			ran <- struct{}{}
			return nil
		},
	}))

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("immediate run did not happen")
	}
	cancel()
	s.Wait()
	assert.Equal(t, 1, s.Runs("posts"))
}

func TestFailuresAndPanicsKeepLoopAlive(t *testing.T) {
	s := New(nil)
	var n atomic.Int32
	require.NoError(t, s.Add(Task{
		Name:  "flaky",
		Delay: Fixed(time.Millisecond),
		Run: func(context.Context) error {
			switch n.Add(1) {
			case 1:
				return errors.New("transient")
			case 2:
				panic("bad")
			}
			return nil
		},
	}))

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	require.Eventually(t, func() bool { return n.Load() >= 4 }, 2*time.Second, time.Millisecond)
	cancel()
	s.Wait()
}

func TestRunsNeverOverlap(t *testing.T) {
	s := New(nil)
	var active, overlaps, total atomic.Int32
	require.NoError(t, s.Add(Task{
		Name:      "slow",
		Delay:     Fixed(0),
		Immediate: true,
		Run: func(context.Context) error {
			if active.Add(1) > 1 {
				overlaps.Add(1)
			}
			time.Sleep(time.Millisecond)
			active.Add(-1)
			total.Add(1)
			return nil
		},
	}))

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	require.Eventually(t, func() bool { return total.Load() >= 5 }, 2*time.Second, time.Millisecond)
	cancel()
	s.Wait()
	assert.Zero(t, overlaps.Load())
}
