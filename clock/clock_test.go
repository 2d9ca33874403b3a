package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFake_AfterFiresOnAdvance(t *testing.T) {
	c := NewFake(start)
	ch := c.After(time.Second)

	c.Advance(500 * time.Millisecond)
	select {
	case <-ch:
		t.Fatal("fired early")
	default:
	}

	c.Advance(500 * time.Millisecond)
	select {
	case got := <-ch:
		assert.Equal(t, start.Add(time.Second), got)
	default:
		t.Fatal("did not fire")
	}
}

func TestFake_AfterNonPositive(t *testing.T) {
	c := NewFake(start)
	select {
	case <-c.After(0):
	default:
		t.Fatal("After(0) should be ready")
	}
}

func TestFake_TickerDropsWhenFull(t *testing.T) {
	c := NewFake(start)
	tk := c.NewTicker(time.Second)
	defer tk.Stop()

	c.Advance(time.Second)
	c.Advance(time.Second)

	<-tk.C
	select {
	case <-tk.C:
		t.Fatal("second tick should have been dropped")
	default:
	}

	c.Advance(time.Second)
	select {
	case <-tk.C:
	default:
		t.Fatal("ticker stopped rescheduling")
	}
}

func TestFake_TickerStop(t *testing.T) {
	c := NewFake(start)
	tk := c.NewTicker(time.Second)
	tk.Stop()
	c.Advance(5 * time.Second)
	select {
	case <-tk.C:
		t.Fatal("stopped ticker fired")
	default:
	}
}

func TestFake_WaitForWaiters(t *testing.T) {
	c := NewFake(start)
	done := make(chan struct{})
	go func() {
		<-c.After(time.Minute)
		close(done)
	}()
	c.WaitForWaiters(1)
	c.Advance(time.Minute)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("waiter never released")
	}
}

func TestFake_Set(t *testing.T) {
	c := NewFake(start)
	c.Set(start.Add(time.Hour))
	assert.Equal(t, start.Add(time.Hour), c.Now())
	c.Set(start)
	assert.Equal(t, start.Add(time.Hour), c.Now())
}

func TestReal(t *testing.T) {
	c := Real()
	before := time.Now()
	require.False(t, c.Now().Before(before))
	tk := c.NewTicker(time.Millisecond)
	defer tk.Stop()
	<-tk.C
	<-c.After(time.Millisecond)
}
