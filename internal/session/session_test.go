package session

import (
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestZeroStateIsUnknown(t *testing.T) {
	t.Parallel()

	var s State
	require.Equal(t, Unknown, s.Kind())
	_, ok := s.UserID()
	require.False(t, ok)
}

func TestSubscribeDeliversCurrent(t *testing.T) {
	t.Parallel()

	p := NewProvider()
	p.Login("u1")

	var got []State
	unsubscribe := p.Subscribe(func(s State) { got = append(got, s) })
	defer unsubscribe()

	require.Equal(t, []State{NewLoggedIn("u1")}, got)
}

func TestTransitions(t *testing.T) {
	t.Parallel()

	p := NewProvider()
	var got []string
	unsubscribe := p.Subscribe(func(s State) { got = append(got, s.String()) })

	p.Login("u1")
	p.Login("u1") // no change, no notification
	p.Login("u2")
	p.Logout()
	p.Logout()
	p.Login("")

	require.Equal(t, []string{"unknown", "logged_in(u1)", "logged_in(u2)", "logged_out"}, got)

	unsubscribe()
	unsubscribe()
	p.Login("u3")
	require.Len(t, got, 4)

	id, ok := p.Current().UserID()
	require.True(t, ok)
	require.Equal(t, "u3", id)
}

func TestConcurrentTransitionsAreDeliveredInOrder(t *testing.T) {
	t.Parallel()

	p := NewProvider()

	var (
		inFlight int32
		overlaps int32
		mu       sync.Mutex
		last     State
	)
	p.Subscribe(func(s State) {
		if atomic.AddInt32(&inFlight, 1) > 1 {
			atomic.AddInt32(&overlaps, 1)
		}
		time.Sleep(time.Millisecond)
		mu.Lock()
		last = s
		mu.Unlock()
		atomic.AddInt32(&inFlight, -1)
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				p.Logout()
				return
			}
			p.Login("user-" + strconv.Itoa(i))
		}(i)
	}
	wg.Wait()

	require.Zero(t, atomic.LoadInt32(&overlaps))
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, p.Current(), last)
}
