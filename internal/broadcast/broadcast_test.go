package broadcast

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestValue_ReplaysAndDeduplicates(t *testing.T) {
	v := NewComparable(false)

	var got []bool
	cancel := v.Subscribe(func(b bool) { got = append(got, b) })

	require.False(t, v.Set(false), "identical value must not publish")
	require.True(t, v.Set(true))
	require.False(t, v.Set(true))
	require.True(t, v.Set(false))

	require.Equal(t, []bool{false, true, false}, got)

	cancel()
	cancel()
	v.Set(true)
	require.Len(t, got, 3, "cancelled subscriber must not be notified")
	require.True(t, v.Get())
}

func TestValue_NilEqualAlwaysPublishes(t *testing.T) {
	v := NewValue([]int(nil), nil)

	calls := 0
	v.Subscribe(func([]int) { calls++ })
	v.Set([]int{1})
	v.Set([]int{1})

	require.Equal(t, 3, calls)
}

func TestValue_SubscriberPanicIsContained(t *testing.T) {
	v := NewComparable(0)
	v.Subscribe(func(n int) {
		if n == 1 {
			panic("boom")
		}
	})

	var last int
	v.Subscribe(func(n int) { last = n })

	require.NotPanics(t, func() { v.Set(1) })
	require.Equal(t, 1, last)
}

func TestPulse_FiresThenResets(t *testing.T) {
	p := NewPulse(50 * time.Millisecond)

	var mu sync.Mutex
	var edges []bool
	p.Subscribe(func(b bool) {
		mu.Lock()
		edges = append(edges, b)
		mu.Unlock()
	})

	require.False(t, p.Signaled())
	p.Fire()
	require.True(t, p.Signaled())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(edges) == 2
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []bool{true, false}, edges)
	require.False(t, p.Signaled())
}

func TestPulse_StopCancelsReset(t *testing.T) {
	p := NewPulse(time.Hour)

	count := 0
	p.Subscribe(func(bool) { count++ })
	p.Fire()
	p.Stop()

	require.False(t, p.Signaled())
	require.Equal(t, 1, count)
}

func TestPulse_StaleResetIsIgnored(t *testing.T) {
	p := NewPulse(time.Hour)
	defer p.Stop()

	var edges []bool
	p.Subscribe(func(b bool) { edges = append(edges, b) })

	p.Fire()
	stale := p.gen
	p.Fire()

	p.clear(stale)
	require.True(t, p.Signaled(), "reset scheduled by the first fire must not end the second")

	p.clear(p.gen)
	require.False(t, p.Signaled())
	require.Equal(t, []bool{true, true, false}, edges)
}

func TestStream_DeliversOnlyToCurrentSubscribers(t *testing.T) {
	s := NewStream[string]()
	s.Publish("lost")

	var got []string
	cancel := s.Subscribe(func(v string) { got = append(got, v) })
	s.Publish("a")
	cancel()
	cancel()
	s.Publish("b")

	require.Equal(t, []string{"a"}, got)
}
