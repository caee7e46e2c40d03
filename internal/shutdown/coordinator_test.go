package shutdown

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

type stopCounter struct{ stopped atomic.Bool }

func (s *stopCounter) Stop() { s.stopped.Store(true) }

func TestCoordinator_RunsActionsAndClosesLog(t *testing.T) {
	proc := &stopCounter{}
	var logClosed atomic.Bool
	var ranA, ranB atomic.Bool

	c := New(proc, func(_ context.Context) error {
		logClosed.Store(true)
		return nil
	}, logrus.NewEntry(logrus.New()))
	c.Register("a", func(_ context.Context) error { ranA.Store(true); return nil })
	c.Register("b", func(_ context.Context) error { ranB.Store(true); return nil })

	ok := c.Shutdown(time.Second)
	require.True(t, ok)
	require.True(t, proc.stopped.Load())
	require.True(t, ranA.Load())
	require.True(t, ranB.Load())
	require.True(t, logClosed.Load())
}

func TestCoordinator_DeadlineElapses(t *testing.T) {
	proc := &stopCounter{}
	c := New(proc, func(_ context.Context) error { return nil }, logrus.NewEntry(logrus.New()))
	c.Register("slow", func(ctx context.Context) error {
		select {
		case <-time.After(time.Second):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	ok := c.Shutdown(20 * time.Millisecond)
	require.False(t, ok)
}

func TestCoordinator_IsIdempotent(t *testing.T) {
	proc := &stopCounter{}
	var calls atomic.Int32
	c := New(proc, func(_ context.Context) error { calls.Add(1); return nil }, logrus.NewEntry(logrus.New()))

	var results [3]bool
	done := make(chan struct{})
	for i := 0; i < 3; i++ {
		go func(i int) {
			results[i] = c.Shutdown(time.Second)
			if i == 2 {
				close(done)
			}
		}(i)
	}
	<-done
	require.EqualValues(t, 1, calls.Load())
	require.True(t, results[0] && results[1] && results[2])
}

func TestCoordinator_LogsActionFailureButReportsCompletion(t *testing.T) {
	proc := &stopCounter{}
	c := New(proc, func(_ context.Context) error { return nil }, logrus.NewEntry(logrus.New()))
	c.Register("failing", func(_ context.Context) error { return errors.New("boom") })

	ok := c.Shutdown(time.Second)
	require.True(t, ok)
}
