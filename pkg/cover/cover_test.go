package cover

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSchedulerEmitsCoverWhenQueueEmpty(t *testing.T) {
	q := NewQueue(8)
	s := New(q, RateMax)
	go s.Run()
	defer s.Stop()

	select {
	case e := <-s.Emissions():
		require.False(t, e.Real)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for emission")
	}
}

func TestSchedulerEmitsRealWhenQueuedAndNotComposing(t *testing.T) {
	q := NewQueue(8)
	require.NoError(t, q.Enqueue([]byte("hello")))

	s := New(q, RateMax)
	go s.Run()
	defer s.Stop()

	select {
	case e := <-s.Emissions():
		require.True(t, e.Real)
		require.Equal(t, []byte("hello"), e.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for emission")
	}
}

func TestSchedulerHoldsBackRealMessageWhileComposing(t *testing.T) {
	q := NewQueue(8)
	require.NoError(t, q.Enqueue([]byte("hello")))

	s := New(q, RateMax)
	s.SetComposing(true)
	s.grace = time.Hour // never let the grace window elapse during the test

	go s.Run()
	defer s.Stop()

	select {
	case e := <-s.Emissions():
		require.False(t, e.Real)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for emission")
	}
	require.Equal(t, 1, q.Len(), "held-back message must remain queued, not dropped")
}

func TestSchedulerEmitsRealPastGraceEvenWhileComposing(t *testing.T) {
	q := NewQueue(8)
	require.NoError(t, q.Enqueue([]byte("hello")))

	s := New(q, RateMax)
	s.SetComposing(true)
	s.grace = 1 * time.Millisecond
	time.Sleep(5 * time.Millisecond)

	go s.Run()
	defer s.Stop()

	select {
	case e := <-s.Emissions():
		require.True(t, e.Real)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for emission")
	}
}

func TestQueueEnforcesCapacity(t *testing.T) {
	q := NewQueue(1)
	require.NoError(t, q.Enqueue([]byte("a")))
	require.ErrorIs(t, q.Enqueue([]byte("b")), ErrQueueFull)
}

func TestRateLambdaOrdering(t *testing.T) {
	require.Less(t, RateLow.lambda(), RateMedium.lambda())
	require.Less(t, RateMedium.lambda(), RateMax.lambda())
}
