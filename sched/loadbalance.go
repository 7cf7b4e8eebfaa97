package sched

import "time"

// lbInterval is how often an idle or lightly-loaded CPU's balancer
// wakes up to look for work to steal, absent an explicit wake signal
// from Schedule.
const lbInterval = 10 * time.Millisecond

/// Cpus is the set of logical CPUs brought up at boot. Populated once
/// by StartSMP and read-only thereafter, so unprotected reads from the
/// balancer goroutines are safe.
var Cpus []*Cpu_t

// kcpulb is the body of a CPU's wired load-balancer thread. It wakes
// whenever its CPU goes idle (or on the periodic interval as a
// backstop) and, if this CPU is short of its fair share of ready
// threads, steals some from whichever other CPUs have spare ready
// threads, starting at the lowest-priority (least urgent) queue on
// each so it never disturbs a peer's most important work.
func kcpulb(self *Thread_t) {
	c := self.cpu
	for {
		c.lbwq.Sleep(self, lbInterval)
		balance(c)
	}
}

func balance(c *Cpu_t) {
	active := len(Cpus)
	if active == 0 {
		return
	}
	target := int(GlobalNrdy()) / active
	need := target - c.Nrdy()
	if need <= 0 {
		return
	}

	for _, src := range Cpus {
		if src == c {
			continue
		}
		need -= stealFrom(c, src, need)
		if need <= 0 {
			return
		}
	}
}

// stealFrom pops up to want Ready, unwired, not-yet-stolen threads off
// src -- scanning its queues lowest-priority first -- and enqueues
// them on dst, marked stolen so they aren't immediately re-migrated by
// someone else's balance pass this round. Locking both runqueues at
// once could deadlock against a concurrent steal running the other
// direction, so each source queue is taken with TryLock and simply
// skipped if contended rather than blocked on.
func stealFrom(dst, src *Cpu_t, want int) int {
	n := 0
	for prio := N_QUEUES - 1; prio >= 0 && n < want; prio-- {
		q := &src.runq[prio]
		if !q.TryLock() {
			continue
		}
		var keep []*Thread_t
		for _, t := range q.threads {
			if n >= want {
				keep = append(keep, t)
				continue
			}
			t.mu.Lock()
			ok := !t.wired && !t.stolen && t.state == Ready
			t.mu.Unlock()
			if !ok {
				keep = append(keep, t)
				continue
			}
			src.Lock()
			src.nrdy--
			src.Unlock()
			addGlobalNrdy(-1)
			dst.Enqueue(t, true)
			n++
		}
		q.threads = keep
		q.Unlock()
	}
	return n
}
