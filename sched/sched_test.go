package sched

import (
	"sync"
	"testing"
	"time"

	"github.com/HelenOS/helenos-sub030/defs"
)

func drive(t *testing.T, c *Cpu_t, rounds int) {
	t.Helper()
	for i := 0; i < rounds; i++ {
		c.Schedule()
	}
}

func TestScheduleRunsHighestPriorityFirst(t *testing.T) {
	c := NewCpu(0)
	var order []int
	var mu sync.Mutex
	record := func(n int) func(*Thread_t) {
		return func(self *Thread_t) {
			mu.Lock()
			order = append(order, n)
			mu.Unlock()
		}
	}
	lo := NewThread(1, 0, 5, record(1))
	hi := NewThread(2, 0, 0, record(2))
	c.Enqueue(lo, false)
	c.Enqueue(hi, false)

	drive(t, c, 2)
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != 2 || order[1] != 1 {
		t.Fatalf("expected hi-prio thread first, got %v", order)
	}
}

func TestYieldRequeuesThread(t *testing.T) {
	c := NewCpu(0)
	ran := 0
	done := make(chan struct{})
	th := NewThread(1, 0, 3, func(self *Thread_t) {
		for ran < 3 {
			ran++
			if ran < 3 {
				self.Yield()
			} else {
				close(done)
			}
		}
	})
	c.Enqueue(th, false)

	for i := 0; i < 3; i++ {
		c.Schedule()
		time.Sleep(5 * time.Millisecond)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("thread never completed three runs")
	}
	if ran != 3 {
		t.Fatalf("expected 3 runs, got %d", ran)
	}
}

func TestRelinkPromotesStarvedQueue(t *testing.T) {
	c := NewCpu(0)
	lowRan := make(chan struct{})
	low := NewThread(1, 0, N_QUEUES-1, func(self *Thread_t) { close(lowRan) })
	c.Enqueue(low, false)

	// A busy-looping high-priority thread that always re-enqueues
	// itself would starve queue N_QUEUES-1 forever under pure
	// priority order; relinkRq's periodic promotion is what lets the
	// low-priority thread climb to queue 0 and eventually run.
	hogRounds := 0
	hog := NewThread(2, 0, 0, func(self *Thread_t) {
		for {
			hogRounds++
			select {
			case <-lowRan:
				return
			default:
			}
			self.Yield()
		}
	})
	c.Enqueue(hog, false)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case <-lowRan:
			return
		case <-deadline:
			t.Fatalf("low-priority thread starved after %d rounds of the hog", hogRounds)
		default:
			c.Schedule()
		}
	}
}

func TestWaitqWakeupReturnsWAKEUP(t *testing.T) {
	c := NewCpu(0)
	wq := NewWaitq()
	result := make(chan WakeupReason_t, 1)
	th := NewThread(1, 0, 0, func(self *Thread_t) {
		result <- wq.Sleep(self, 0)
	})
	c.Enqueue(th, false)
	c.Schedule() // dispatches into Sleep, which blocks

	time.Sleep(10 * time.Millisecond)
	wq.Wakeup(false)
	c.Schedule() // redispatches the woken thread to completion

	select {
	case r := <-result:
		if r != WAKEUP {
			t.Fatalf("expected WAKEUP, got %v", r)
		}
	case <-time.After(time.Second):
		t.Fatal("sleeper never woke")
	}
}

func TestWaitqTimeoutReturnsTIMEOUT(t *testing.T) {
	c := NewCpu(0)
	wq := NewWaitq()
	result := make(chan WakeupReason_t, 1)
	th := NewThread(1, 0, 0, func(self *Thread_t) {
		result <- wq.Sleep(self, 10*time.Millisecond)
	})
	c.Enqueue(th, false)
	c.Schedule()

	// Nobody calls Wakeup; the timer must fire on its own and requeue
	// the thread so a later Schedule call can redispatch it.
	deadline := time.After(time.Second)
	for {
		select {
		case r := <-result:
			if r != TIMEOUT {
				t.Fatalf("expected TIMEOUT, got %v", r)
			}
			return
		case <-deadline:
			t.Fatal("sleeper never timed out")
		default:
			c.Schedule()
			time.Sleep(5 * time.Millisecond)
		}
	}
}

func TestKillThreadInterruptsSleeper(t *testing.T) {
	c := NewCpu(0)
	wq := NewWaitq()
	result := make(chan WakeupReason_t, 1)
	th := NewThread(1, 0, 0, func(self *Thread_t) {
		result <- wq.Sleep(self, 0) // no timeout: only a kill can end this
	})
	c.Enqueue(th, false)
	c.Schedule() // dispatches into Sleep, which blocks

	time.Sleep(10 * time.Millisecond)
	KillThread(th)
	c.Schedule() // redispatches the interrupted thread to completion

	select {
	case r := <-result:
		if r != INTERRUPTED {
			t.Fatalf("expected INTERRUPTED, got %v", r)
		}
	case <-time.After(time.Second):
		t.Fatal("killed sleeper never woke")
	}
	if !th.Note.Doomed() {
		t.Fatal("expected thread note to be doomed after kill")
	}
}

func TestLoadBalancerStealsFromBusyCpu(t *testing.T) {
	cpus := StartSMP(2)
	busy, idle := cpus[0], cpus[1]

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		tid := defs.Tid_t(100 + i)
		th := NewThread(tid, 0, 8, func(self *Thread_t) { wg.Done() })
		busy.Enqueue(th, false)
	}

	stop := make(chan struct{})
	go Idle(busy, stop)
	go Idle(idle, stop)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("threads never all ran; load balancer may be stuck")
	}
	close(stop)
}
