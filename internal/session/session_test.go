package session

import (
	"testing"
	"time"
)

func TestQueuePushPopStop(t *testing.T) {
	q := NewQueue[int]()
	q.Push(1)
	q.Push(2)

	v, ok := q.Pop()
	if !ok || v != 1 {
		t.Fatalf("Pop = (%v, %v), want (1, true)", v, ok)
	}

	q.Stop()
	q.Push(3) // no-op after stop

	v, ok = q.Pop()
	if !ok || v != 2 {
		t.Fatalf("Pop after stop = (%v, %v), want (2, true)", v, ok)
	}

	_, ok = q.Pop()
	if ok {
		t.Fatalf("Pop on drained+stopped queue should return false")
	}
}

func TestQueueStopWakesBlockedPop(t *testing.T) {
	q := NewQueue[int]()

	done := make(chan bool, 1)
	go func() {
		_, ok := q.Pop()
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	q.Stop()

	select {
	case ok := <-done:
		if ok {
			t.Fatalf("Pop should report stopped, got ok=true")
		}
	case <-time.After(time.Second):
		t.Fatal("Pop did not wake within timeout after Stop")
	}
}

func TestEventRaisePopReplace(t *testing.T) {
	e := NewEvent[int]()
	if e.Peek() {
		t.Fatalf("Peek should be false before Raise")
	}

	e.Raise(1)
	e.Raise(2) // replaces 1

	if !e.Peek() {
		t.Fatalf("Peek should be true after Raise")
	}

	v, ok := e.Pop()
	if !ok || v != 2 {
		t.Fatalf("Pop = (%v, %v), want (2, true)", v, ok)
	}
	if e.Peek() {
		t.Fatalf("Peek should be false after Pop")
	}
}

func TestStateTransitions(t *testing.T) {
	s := New(50 * time.Millisecond)

	if s.State() != Stopped {
		t.Fatalf("initial state = %v, want STOPPED", s.State())
	}

	if !s.BeginStarting() {
		t.Fatalf("BeginStarting should succeed from STOPPED")
	}
	if s.State() != Starting {
		t.Fatalf("state = %v, want STARTING", s.State())
	}

	// A second BeginStarting while already STARTING fails.
	if s.BeginStarting() {
		t.Fatalf("BeginStarting should fail while already STARTING")
	}

	s.MarkRunning()
	if s.State() != Running {
		t.Fatalf("state = %v, want RUNNING", s.State())
	}

	s.ResetQueues()
	s.Stop()
	if s.State() != Stopping {
		t.Fatalf("state = %v, want STOPPING", s.State())
	}

	s.MarkStopped()
	if s.State() != Stopped {
		t.Fatalf("state = %v, want STOPPED", s.State())
	}
}

func TestDuplicateAnnounceRejected(t *testing.T) {
	s := New(time.Second)
	s.Offer(LaunchSession{})

	if !s.BeginStarting() {
		t.Fatal("first BeginStarting should succeed")
	}
	s.MarkRunning()

	// A second ANNOUNCE attempt must be idempotently rejected while non-STOPPED.
	if s.BeginStarting() {
		t.Fatalf("BeginStarting should fail while RUNNING")
	}
	if s.State() != Running {
		t.Fatalf("state should remain RUNNING, got %v", s.State())
	}
}

func TestAbortStartingRecoversToStopped(t *testing.T) {
	s := New(time.Second)
	if !s.BeginStarting() {
		t.Fatal("BeginStarting should succeed")
	}
	s.AbortStarting()
	if s.State() != Stopped {
		t.Fatalf("state = %v, want STOPPED after abort", s.State())
	}
}

func TestPingDeadline(t *testing.T) {
	s := New(20 * time.Millisecond)
	s.ResetPingDeadline()
	if s.PingDeadlineExpired() {
		t.Fatalf("deadline should not be expired immediately")
	}
	time.Sleep(40 * time.Millisecond)
	if !s.PingDeadlineExpired() {
		t.Fatalf("deadline should be expired after timeout elapsed")
	}
}

func TestWorkerJoinWithinPingTimeout(t *testing.T) {
	s := New(30 * time.Millisecond)
	s.ResetQueues()

	wg := s.WaitGroup()
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.VideoQueue.Pop() // returns once Stop() is called
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	start := time.Now()
	s.Stop()

	select {
	case <-done:
		if time.Since(start) > s.PingTimeout {
			t.Fatalf("worker took too long to join")
		}
	case <-time.After(time.Second):
		t.Fatal("worker goroutine did not join in time")
	}
}

func TestIVRolling(t *testing.T) {
	s := New(time.Second)
	var iv [16]byte
	for i := range iv {
		iv[i] = byte(i)
	}
	s.SetIV(iv)

	got := s.IV()
	if got != iv {
		t.Fatalf("IV roundtrip mismatch")
	}
}
