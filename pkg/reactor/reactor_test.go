package reactor

import (
	"context"
	"reflect"
	"testing"
	"time"
)

func newTestReactor(clock Clock) *Reactor {
	return New(clock, Config{Yield: 0, Budget: time.Second}, nil)
}

func TestSystemClockMonotonic(t *testing.T) {
	c := NewSystemClock()

	t1 := c.Monotonic()
	time.Sleep(10 * time.Millisecond)
	t2 := c.Monotonic()

	if t2 <= t1 {
		t.Errorf("Monotonic time not increasing: %f <= %f", t2, t1)
	}
}

func TestManualClock(t *testing.T) {
	c := NewManualClock(1.5)
	if got := c.Monotonic(); got != 1.5 {
		t.Fatalf("Monotonic() = %f, want 1.5", got)
	}
	if got := c.Advance(0.5); got != 2.0 {
		t.Errorf("Advance() = %f, want 2.0", got)
	}
	c.Set(10)
	if got := c.Monotonic(); got != 10 {
		t.Errorf("Set() then Monotonic() = %f, want 10", got)
	}
}

func TestStepsRunInRegistrationOrder(t *testing.T) {
	r := newTestReactor(NewManualClock(0))

	var order []string
	r.RegisterStep("sensor", func(float64) { order = append(order, "sensor") })
	r.RegisterStep("animation", func(float64) { order = append(order, "animation") })

	r.RunOnce()
	r.RunOnce()

	want := []string{"sensor", "animation", "sensor", "animation"}
	if !reflect.DeepEqual(order, want) {
		t.Errorf("order = %v, want %v", order, want)
	}
	if got := r.StepNames(); !reflect.DeepEqual(got, []string{"sensor", "animation"}) {
		t.Errorf("StepNames() = %v", got)
	}
}

func TestNetworkServicedBeforeSteps(t *testing.T) {
	r := newTestReactor(NewManualClock(0))

	var order []string
	r.RegisterStep("sensor", func(float64) { order = append(order, "sensor") })

	if !r.Post(func(float64) { order = append(order, "network") }) {
		t.Fatal("Post returned false on an empty queue")
	}
	r.RunOnce()

	want := []string{"network", "sensor"}
	if !reflect.DeepEqual(order, want) {
		t.Errorf("order = %v, want %v", order, want)
	}
}

func TestPostedCallbackRepostWaitsForNextIteration(t *testing.T) {
	r := newTestReactor(NewManualClock(0))

	calls := 0
	var again StepFunc
	again = func(float64) {
		calls++
		r.Post(again)
	}
	r.Post(again)

	r.RunOnce()
	if calls != 1 {
		t.Fatalf("calls after first iteration = %d, want 1", calls)
	}
	r.RunOnce()
	if calls != 2 {
		t.Errorf("calls after second iteration = %d, want 2", calls)
	}
}

func TestPostQueueFull(t *testing.T) {
	r := New(NewManualClock(0), Config{QueueSize: 1, Budget: time.Second}, nil)

	if !r.Post(func(float64) {}) {
		t.Fatal("first Post should succeed")
	}
	if r.Post(func(float64) {}) {
		t.Error("second Post should fail on a full queue")
	}
	if got := r.Stats().Dropped; got != 1 {
		t.Errorf("Dropped = %d, want 1", got)
	}
}

func TestTimer(t *testing.T) {
	clock := NewManualClock(0)
	r := newTestReactor(clock)

	called := 0
	r.RegisterTimer(func(eventtime float64) float64 {
		called++
		return eventtime + 1.0
	}, 0.5)

	r.RunOnce() // t=0, not due
	if called != 0 {
		t.Fatalf("timer fired early")
	}
	clock.Set(0.5)
	r.RunOnce()
	clock.Set(1.0)
	r.RunOnce() // next due at 1.5
	clock.Set(1.5)
	r.RunOnce()

	if called != 2 {
		t.Errorf("Timer callback called %d times, expected 2", called)
	}
}

func TestUnregisterTimer(t *testing.T) {
	clock := NewManualClock(0)
	r := newTestReactor(clock)

	called := 0
	timer := r.RegisterTimer(func(float64) float64 {
		called++
		return NEVER
	}, NOW)
	r.UnregisterTimer(timer)
	r.RunOnce()

	if called != 0 {
		t.Errorf("Timer callback called %d times after unregister, expected 0", called)
	}
	if timer.Waketime() != NEVER {
		t.Errorf("Waketime() = %f, want NEVER", timer.Waketime())
	}
}

func TestOverrunReported(t *testing.T) {
	r := New(NewManualClock(0), Config{Budget: time.Millisecond}, nil)
	r.RegisterStep("slow", func(float64) { time.Sleep(3 * time.Millisecond) })

	var reported time.Duration
	r.OnOverrun(func(length time.Duration) { reported = length })
	r.RunOnce()

	if reported < time.Millisecond {
		t.Errorf("expected an overrun to be reported, got %v", reported)
	}
	if r.Stats().Overruns != 1 {
		t.Errorf("Overruns = %d, want 1", r.Stats().Overruns)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	r := New(NewSystemClock(), Config{Yield: time.Millisecond, Budget: time.Second}, nil)

	iterations := 0
	ctx, cancel := context.WithCancel(context.Background())
	r.RegisterStep("count", func(float64) {
		iterations++
		if iterations == 5 {
			cancel()
		}
	})

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
	if iterations != 5 {
		t.Errorf("iterations = %d, want 5", iterations)
	}
}
