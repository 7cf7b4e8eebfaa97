package sched

import "sync"
import "time"

/// WakeupReason_t reports why a sleeping thread returned from
/// Waitq_t.Sleep: it either got a real wakeup, timed out waiting for
/// one, or was interrupted.
type WakeupReason_t int

const (
	WAKEUP WakeupReason_t = iota
	TIMEOUT
	INTERRUPTED
)

func (r WakeupReason_t) String() string {
	switch r {
	case WAKEUP:
		return "wakeup"
	case TIMEOUT:
		return "timeout"
	case INTERRUPTED:
		return "interrupted"
	}
	return "unknown"
}

/// Waitq_t is a FIFO queue of threads blocked on some condition: a
/// mutex, a condition variable, an IPC answerbox, a timer. It owns no
/// CPU of its own -- waking a thread re-enqueues it on the CPU it was
/// last running on, at priority -1, so it is picked ahead of anything
/// already waiting there.
type Waitq_t struct {
	mu      sync.Mutex
	waiters []*Thread_t
	closed  map[*Thread_t]WakeupReason_t // woken but not yet reaped by Sleep
}

/// NewWaitq returns an empty wait-queue.
func NewWaitq() *Waitq_t {
	return &Waitq_t{}
}

// remove deletes t from the waiter list if present, reporting whether
// it was found there (as opposed to already removed by a race).
func (wq *Waitq_t) remove(t *Thread_t) bool {
	for i, w := range wq.waiters {
		if w == t {
			wq.waiters = append(wq.waiters[:i], wq.waiters[i+1:]...)
			return true
		}
	}
	return false
}

// readyAtFront puts t back on the CPU it was sleeping on, at the head
// of the highest-priority queue, so a woken thread gets to run
// promptly instead of waiting behind everything already queued at its
// normal priority.
func readyAtFront(t *Thread_t) {
	t.mu.Lock()
	t.state = Ready
	cpu := t.cpu
	t.mu.Unlock()
	if cpu == nil {
		return
	}
	cpu.runq[0].pushFront(t)
	cpu.Lock()
	cpu.nrdy++
	cpu.Unlock()
	addGlobalNrdy(1)
}

/// Sleep blocks the calling thread on wq until Wakeup targets it, or
/// until timeout elapses (timeout <= 0 means wait forever). It must be
/// called from inside the thread's own goroutine -- i.e. from t's fn,
/// with t == the CPU's current thread.
func (wq *Waitq_t) Sleep(t *Thread_t, timeout time.Duration) WakeupReason_t {
	wq.mu.Lock()
	wq.waiters = append(wq.waiters, t)
	wq.mu.Unlock()

	var timer *time.Timer
	if timeout > 0 {
		timer = time.AfterFunc(timeout, func() { wq.timeoutFire(t) })
	}

	t.Block(wq)

	if timer != nil {
		timer.Stop()
	}

	// Block() only returns once the thread has been dispatched again,
	// which only happens after a Wakeup, an Interrupt or the timeout
	// fired; recover which one from the reason the waker recorded in
	// wq.closed (see drainReason).
	wq.mu.Lock()
	reason := wq.drainReason(t)
	wq.mu.Unlock()
	return reason
}

// drainReason reports and clears the reason t was woken, consulting
// the closed map a concurrent Wakeup or Interrupt populates. Absence
// from the map means the timeout fired instead (timeoutFire never
// records one).
func (wq *Waitq_t) drainReason(t *Thread_t) WakeupReason_t {
	if r, ok := wq.closed[t]; ok {
		delete(wq.closed, t)
		return r
	}
	return TIMEOUT
}

/// Wakeup wakes waiters on wq: if all is false, only the first (FIFO)
/// waiter is woken; if all is true, every waiter is. Waking a thread
/// races against a concurrent timeout on the same thread -- whichever
/// side removes it from wq.waiters first under wq.mu wins, and the
/// loser's side is a no-op.
func (wq *Waitq_t) Wakeup(all bool) {
	wq.mu.Lock()
	var woke []*Thread_t
	if all {
		woke = wq.waiters
		wq.waiters = nil
	} else if len(wq.waiters) > 0 {
		woke = wq.waiters[:1]
		wq.waiters = wq.waiters[1:]
	}
	if wq.closed == nil {
		wq.closed = make(map[*Thread_t]WakeupReason_t)
	}
	for _, t := range woke {
		wq.closed[t] = WAKEUP
	}
	wq.mu.Unlock()

	for _, t := range woke {
		readyAtFront(t)
	}
}

// timeoutFire is invoked by Sleep's timer goroutine (via time.AfterFunc
// semantics folded into Sleep) when timeout elapses before a Wakeup
// reaches t. It is a no-op if Wakeup already claimed t.
func (wq *Waitq_t) timeoutFire(t *Thread_t) {
	wq.mu.Lock()
	found := wq.remove(t)
	wq.mu.Unlock()
	if found {
		readyAtFront(t)
	}
}

// Interrupt forcibly wakes t early with reason INTERRUPTED, for kill
// delivery to a thread parked in Sleep. A no-op if t already left wq
// via a real Wakeup or a timeout.
func (wq *Waitq_t) Interrupt(t *Thread_t) {
	wq.mu.Lock()
	found := wq.remove(t)
	if found {
		if wq.closed == nil {
			wq.closed = make(map[*Thread_t]WakeupReason_t)
		}
		wq.closed[t] = INTERRUPTED
	}
	wq.mu.Unlock()
	if found {
		readyAtFront(t)
	}
}
