// Package sched implements the kernel's thread abstraction and
// per-CPU scheduler: run-queues, the schedule()/find_best_thread pick
// loop, anti-starvation relinking, wait-queues, and a cross-CPU load
// balancer. There is no patched Go runtime here to snapshot and
// restore raw register contexts (the teacher's tinfo.Tnote_t leaned on
// exactly that, via runtime.Gptr/Setgptr), so a "thread" is a
// goroutine that cooperates with its owning CPU's scheduler loop over
// a pair of handoff channels: the CPU tells a thread to run by closing
// over its resume channel, and the thread tells the CPU it has yielded
// or blocked by sending on its parked channel. This keeps the
// scheduling *policy* -- which is what the specification actually
// constrains -- faithful, while the context-switch mechanism itself is
// a channel handoff instead of a register save/restore.
package sched

import "sync"
import "sync/atomic"

import "github.com/HelenOS/helenos-sub030/accnt"
import "github.com/HelenOS/helenos-sub030/defs"
import "github.com/HelenOS/helenos-sub030/tinfo"

/// State_t is a thread's position in the Entering/Ready/Running/
/// Sleeping/Exiting lifecycle.
type State_t int

const (
	Entering State_t = iota
	Ready
	Running
	Sleeping
	Exiting
)

func (s State_t) String() string {
	switch s {
	case Entering:
		return "entering"
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Sleeping:
		return "sleeping"
	case Exiting:
		return "exiting"
	}
	return "unknown"
}

// defaultSlice is the base timeslice in scheduler ticks; a thread at
// priority p gets (p+1)*defaultSlice ticks once dispatched.
const defaultSlice = 2

/// Thread_t is one schedulable execution context.
type Thread_t struct {
	Tid defs.Tid_t
	Pid defs.Pid_t

	mu     sync.Mutex
	state  State_t
	prio   int
	ticks  int
	stolen bool
	wired  bool

	cpu     *Cpu_t
	waitq   *Waitq_t
	started bool

	Accnt accnt.Accnt_t
	Note  *tinfo.Tnote_t

	resume chan struct{}
	parked chan struct{}
	fn     func(*Thread_t)
	done   chan struct{}
}

// Threads is the system-wide tid -> kill-note registry; KillTid
// consults it to turn a tid into a kill note without a back-reference
// to the live thread.
var Threads tinfo.Threadinfo_t

func init() {
	Threads.Init()
}

/// NewThread creates a thread in the Entering state at the given
/// priority, ready to be queued with Cpu_t.Enqueue. fn is the thread's
/// body; it must call Yield or Block at its own suspension points,
/// since nothing preempts it involuntarily in this hosted model.
func NewThread(tid defs.Tid_t, pid defs.Pid_t, prio int, fn func(*Thread_t)) *Thread_t {
	if prio < 0 || prio >= N_QUEUES {
		panic("bad priority")
	}
	note := tinfo.NewTnote()
	Threads.Register(tid, note)
	return &Thread_t{
		Tid:    tid,
		Pid:    pid,
		state:  Entering,
		prio:   prio,
		fn:     fn,
		Note:   note,
		resume: make(chan struct{}),
		parked: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

/// State returns the thread's current lifecycle state.
func (t *Thread_t) State() State_t {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Thread_t) setState(s State_t) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

/// Prio returns the thread's current run-queue priority.
func (t *Thread_t) Prio() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.prio
}

/// Wire marks a thread as wired: the load balancer (kcpulb) must never
/// steal it. Used for the load balancer threads themselves and other
/// per-CPU-pinned kernel threads.
func (t *Thread_t) Wire() {
	t.mu.Lock()
	t.wired = true
	t.mu.Unlock()
}

// start launches the thread's goroutine the first time it is
// dispatched. Subsequent dispatches just close the resume channel.
//
// The initial resume channel is captured here rather than read from
// t.resume inside the goroutine: dispatch() reassigns t.resume
// immediately after calling start, and without capturing, the new
// goroutine could lose the race and block on the replacement channel,
// which nothing would ever close.
func (t *Thread_t) start(cpu *Cpu_t) {
	t.cpu = cpu
	first := t.resume
	go func() {
		<-first
		t.fn(t)
		t.setState(Exiting)
		Threads.Unregister(t.Tid)
		close(t.done)
		t.parked <- struct{}{}
	}()
}

// dispatch runs the thread on its assigned CPU until it yields,
// blocks, or exits.
func (t *Thread_t) dispatch() {
	t.setState(Running)
	old := t.resume
	t.resume = make(chan struct{})
	close(old)
	<-t.parked
}

/// Yield voluntarily gives up the CPU, remaining Ready so it is
/// requeued. Call this from within a thread's fn at a safe point.
func (t *Thread_t) Yield() {
	t.setState(Ready)
	t.parked <- struct{}{}
	<-t.resume
}

/// Block puts the thread to sleep on wq and does not return until
/// something wakes it (waitq_wakeup or a timeout).
func (t *Thread_t) Block(wq *Waitq_t) {
	t.mu.Lock()
	t.state = Sleeping
	t.waitq = wq
	t.mu.Unlock()
	t.parked <- struct{}{}
	<-t.resume
}

/// KillThread marks t doomed and, if t is currently parked in a
/// Waitq_t.Sleep, forces it awake early with reason INTERRUPTED rather
/// than leaving it to block forever or until its normal wakeup. A
/// thread not currently sleeping just finds itself doomed the next
/// time it checks t.Note.Doomed() at one of its own cancellation
/// points.
func KillThread(t *Thread_t) {
	t.Note.Kill()
	t.mu.Lock()
	wq := t.waitq
	sleeping := t.state == Sleeping
	t.mu.Unlock()
	if sleeping && wq != nil {
		wq.Interrupt(t)
	}
}

/// KillTid looks tid up in the registry and kills it if found,
/// reporting whether a live thread was located. Lookup alone cannot
/// kill: tinfo has no back-reference to the live Thread_t, so the
/// caller (or a Cpu_t-aware registry in a later layer) resolves tid to
/// a *Thread_t before calling KillThread directly; KillTid is the
/// degenerate case where only the note matters (e.g. marking doomed
/// before a thread has even been scheduled once).
func KillTid(tid defs.Tid_t) bool {
	note, ok := Threads.Lookup(tid)
	if !ok {
		return false
	}
	note.Kill()
	return true
}

// globalNrdy is the system-wide count of runnable (non-running) threads.
var globalNrdy int64

func addGlobalNrdy(d int64) {
	atomic.AddInt64(&globalNrdy, d)
}

/// GlobalNrdy reports the system-wide ready-thread count, for the load
/// balancer's target computation.
func GlobalNrdy() int64 {
	return atomic.LoadInt64(&globalNrdy)
}
