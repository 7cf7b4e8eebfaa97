package sched

import "sync"

import "github.com/HelenOS/helenos-sub030/vm"

/// N_QUEUES is the number of priority run-queues each CPU owns, 0
/// (highest) through N_QUEUES-1 (lowest).
const N_QUEUES = 16

/// NEEDS_RELINK_MAX bounds how many schedule() calls a CPU makes
/// before it runs relink_rq again, promoting threads stuck on
/// lower-priority queues.
const NEEDS_RELINK_MAX = 10

type runqueue_t struct {
	sync.Mutex
	threads []*Thread_t
}

func (q *runqueue_t) push(t *Thread_t) {
	q.Lock()
	q.threads = append(q.threads, t)
	q.Unlock()
}

// pushFront places t at the head of the queue, used to ready a woken
// thread ahead of anything already waiting at that priority.
func (q *runqueue_t) pushFront(t *Thread_t) {
	q.Lock()
	q.threads = append([]*Thread_t{t}, q.threads...)
	q.Unlock()
}

func (q *runqueue_t) pop() *Thread_t {
	q.Lock()
	defer q.Unlock()
	if len(q.threads) == 0 {
		return nil
	}
	t := q.threads[0]
	q.threads = q.threads[1:]
	return t
}

func (q *runqueue_t) len() int {
	q.Lock()
	defer q.Unlock()
	return len(q.threads)
}

// spliceFrom moves every thread from src onto the end of q (used by
// relink_rq to promote queue k+1 onto queue k).
func (q *runqueue_t) spliceFrom(src *runqueue_t) int {
	src.Lock()
	moved := src.threads
	src.threads = nil
	src.Unlock()
	if len(moved) == 0 {
		return 0
	}
	q.Lock()
	q.threads = append(q.threads, moved...)
	q.Unlock()
	return len(moved)
}

/// Cpu_t is one logical CPU's scheduler state: its run-queues, current
/// thread, and identity used for TLB shoot-down targeting and the
/// load balancer.
type Cpu_t struct {
	ID int

	sync.Mutex
	runq    [N_QUEUES]runqueue_t
	nrdy    int
	relinks int
	current *Thread_t
	idleAS  *vm.Vm_t
	lb      *Thread_t // this CPU's wired load-balancer thread
	lbwq    *Waitq_t  // kcpulb sleeps here between rounds
}

/// NewCpu constructs an idle CPU with the given logical id.
func NewCpu(id int) *Cpu_t {
	c := &Cpu_t{ID: id, lbwq: NewWaitq()}
	return c
}

/// Current returns the thread presently running on this CPU, or nil if
/// the CPU is idle.
func (c *Cpu_t) Current() *Thread_t {
	c.Lock()
	defer c.Unlock()
	return c.current
}

/// Enqueue places t on this CPU's run-queue at its current priority,
/// transitioning it to Ready and bumping both the local and global
/// ready counts. stolen, if true, marks the thread so the load
/// balancer won't immediately re-migrate it.
func (c *Cpu_t) Enqueue(t *Thread_t, stolen bool) {
	t.mu.Lock()
	t.state = Ready
	t.stolen = stolen
	t.cpu = c
	prio := t.prio
	t.mu.Unlock()

	if t.resume == nil || t.done == nil {
		panic("thread not initialized")
	}
	c.runq[prio].push(t)
	c.Lock()
	c.nrdy++
	c.Unlock()
	addGlobalNrdy(1)
}

// findBestThread implements the spec's find_best_thread: the
// lowest-index non-empty queue wins, FIFO within it. Returns nil if
// every queue is empty.
func (c *Cpu_t) findBestThread() (*Thread_t, int) {
	for prio := 0; prio < N_QUEUES; prio++ {
		if t := c.runq[prio].pop(); t != nil {
			return t, prio
		}
	}
	return nil, -1
}

// relinkRq runs every NEEDS_RELINK_MAX schedule() calls: starting at
// the priority just picked, splice queue k+1 onto queue k for every k,
// so threads stuck behind a busy high-priority queue eventually climb
// to the front rather than starving.
func (c *Cpu_t) relinkRq(picked int) {
	c.Lock()
	c.relinks++
	due := c.relinks >= NEEDS_RELINK_MAX
	if due {
		c.relinks = 0
	}
	c.Unlock()
	if !due {
		return
	}
	for k := picked; k < N_QUEUES-1; k++ {
		c.runq[k].spliceFrom(&c.runq[k+1])
	}
}

// Schedule runs one iteration of the scheduler loop on this CPU: if a
// thread was running, requeue it (unless it blocked or exited), pick
// the next thread, relink periodically, and dispatch it. It returns
// false when there was nothing runnable and the caller should idle
// briefly before trying again (waking the load balancer first; it is
// woken on every call that finds nothing runnable, not once per idle
// episode).
func (c *Cpu_t) Schedule() bool {
	c.Lock()
	prev := c.current
	c.current = nil
	c.Unlock()

	if prev != nil {
		switch prev.State() {
		case Ready:
			// dispatch() always leaves the thread in one of
			// {Ready, Sleeping, Exiting} by the time it returns
			// (Running is never observed here): Ready means Yield
			// left it wanting to run again immediately.
			c.Enqueue(prev, false)
		case Exiting:
			// dropped, nothing to requeue
		default:
			// Sleeping: already parked on a waitq by Block(); nothing
			// to requeue here, the waitq's wakeup or timeout will do
			// it later.
		}
	}

	next, picked := c.findBestThread()
	if next == nil {
		c.wakeLoadBalancer()
		return false
	}

	c.Lock()
	c.nrdy--
	c.Unlock()
	addGlobalNrdy(-1)

	next.mu.Lock()
	next.ticks = (next.prio + 1) * defaultSlice
	next.stolen = false
	fresh := !next.started
	next.started = true
	next.cpu = c
	next.mu.Unlock()

	c.relinkRq(picked)

	c.Lock()
	c.current = next
	c.Unlock()

	if fresh {
		next.start(c)
	}
	next.dispatch()
	return true
}

func (c *Cpu_t) wakeLoadBalancer() {
	c.lbwq.Wakeup(true)
}

/// Nrdy reports this CPU's local ready-thread count.
func (c *Cpu_t) Nrdy() int {
	c.Lock()
	defer c.Unlock()
	return c.nrdy
}
