package sched

import "runtime"

import "github.com/HelenOS/helenos-sub030/defs"
import "github.com/HelenOS/helenos-sub030/klog"

var log = klog.Subsystem(klog.DefaultLogger(), "sched")

// lbPrio is the priority kcpulb is wired at: low enough it never
// competes with real work, but present on the run-queue exactly like
// any other thread.
const lbPrio = N_QUEUES - 1

/// StartSMP brings up n logical CPUs, each with its own wired load
/// balancer already enqueued, and sets Cpus so the balancer threads
/// can see one another. Processor 0 is the bootstrap processor and
/// is brought up synchronously; the rest are started one at a time,
/// mirroring a real kernel's serial AP bring-up (INIT, then STARTUP,
/// then wait for the AP to report in) rather than blasting every IPI
/// at once.
func StartSMP(n int) []*Cpu_t {
	if n < 1 {
		panic("need at least one cpu")
	}
	cpus := make([]*Cpu_t, n)
	for i := 0; i < n; i++ {
		cpus[i] = bringUp(i)
		log.Info("cpu online", klog.Any("id", i))
	}
	Cpus = cpus
	return cpus
}

// bringUp constructs one CPU and wires its load balancer thread onto
// it. The returned CPU is otherwise idle; the caller's scheduler loop
// drives it by calling Schedule in a loop.
func bringUp(id int) *Cpu_t {
	c := NewCpu(id)
	lbTid := defs.Tid_t(-(id + 1)) // kernel threads get negative synthetic tids
	lb := NewThread(lbTid, 0, lbPrio, kcpulb)
	lb.Wire()
	c.lb = lb
	c.Enqueue(lb, false)
	return c
}

/// Idle runs CPU c's scheduler loop until stop is closed: repeatedly
/// Schedule, and when there's nothing runnable, spin briefly rather
/// than busy-loop tightly (a real kernel would halt until the next
/// interrupt; here that's simulated by yielding to the Go scheduler).
func Idle(c *Cpu_t, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}
		if !c.Schedule() {
			select {
			case <-stop:
				return
			default:
				runtime.Gosched()
			}
		}
	}
}
