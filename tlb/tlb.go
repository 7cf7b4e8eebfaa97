// Package tlb is the arch-abstracted TLB/PHT arbiter: it sits between
// the address-space code in vm and whatever hardware-shaped structure
// an architecture actually uses to cache page-table entries. Three
// backends are implemented, one per family of real HelenOS targets:
// a trivial passthrough for architectures whose MMU walks the page
// table directly (amd64-style), an odd/even-paired TLB for MIPS, and a
// hashed page table for ppc32. Cross-CPU invalidation is modelled as a
// shoot-down request delivered over a channel and acknowledged by the
// target CPU, the same goroutine-per-event idiom the kernel uses for
// IRQ lines, since there is no real IPI to send in a hosted process.
package tlb

import "sync"

import "github.com/HelenOS/helenos-sub030/mem"

/// Asid_t is an address-space identifier: a small integer the arbiter
/// tags TLB/PHT entries with so entries from different address spaces
/// can coexist without a full flush on every context switch.
type Asid_t uint32

/// NoASID marks an entry (or a CPU's current load) as not belonging to
/// any address space.
const NoASID Asid_t = 0

/// MaxCPUs bounds the shoot-down fan-out. 64 matches the Cpumask width
/// mem.Physmem already keeps per frame.
const MaxCPUs = 64

/// Backend_i is the per-architecture half of the arbiter: it owns
/// whatever hardware-shaped structure holds cached translations and
/// knows how to refill, install, and invalidate entries in it.
type Backend_i interface {
	// Install records that vpn maps to pte in the given address space.
	// A backend may choose to drop the installation silently (e.g. a
	// hashed table with no free slot after eviction); a subsequent
	// access will simply refault.
	Install(asid Asid_t, vpn uintptr, pte mem.Pa_t)
	// InvalidateASID drops every entry tagged with asid.
	InvalidateASID(asid Asid_t)
	// InvalidateRange drops entries for asid covering [vpn, vpn+count).
	InvalidateRange(asid Asid_t, vpn uintptr, count int)
}

/// Shootdown_t describes one cross-CPU invalidation request.
type Shootdown_t struct {
	Asid    Asid_t
	Startva uintptr
	Pgcount int

	done chan struct{}
}

/// Ack signals the initiator that this CPU has completed the
/// invalidation. The initiator's Shootdown call does not return until
/// every targeted CPU acks.
func (s Shootdown_t) Ack() {
	close(s.done)
}

/// Arbiter_t coordinates one architecture backend plus the cross-CPU
/// shoot-down protocol. There is one Arbiter_t system-wide.
type Arbiter_t struct {
	mu      sync.Mutex
	backend Backend_i
	inbox   [MaxCPUs]chan Shootdown_t
}

/// NewArbiter constructs an arbiter around the given per-architecture
/// backend, with inbox capacity enough that a CPU handling interrupts
/// with IF=0 briefly doesn't stall its peers.
func NewArbiter(backend Backend_i) *Arbiter_t {
	a := &Arbiter_t{backend: backend}
	for i := range a.inbox {
		a.inbox[i] = make(chan Shootdown_t, 4)
	}
	return a
}

/// Install records a fresh translation and is always safe to defer: a
/// refill fault on a stale entry simply re-fetches the current PTE via
/// C2, so installs need not shoot down other CPUs.
func (a *Arbiter_t) Install(asid Asid_t, vpn uintptr, pte mem.Pa_t) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.backend.Install(asid, vpn, pte)
}

/// Shootdown invalidates [startva, startva+pgcount) for asid on every
/// CPU named in mask (bit i set means logical CPU i), blocking until
/// each has acknowledged. It must run with interrupts disabled around
/// the local invalidation per the ordering the generic layer requires.
func (a *Arbiter_t) Shootdown(mask uint64, asid Asid_t, startva uintptr, pgcount int) {
	a.mu.Lock()
	if pgcount == 0 {
		a.backend.InvalidateASID(asid)
	} else {
		a.backend.InvalidateRange(asid, startva, pgcount)
	}
	a.mu.Unlock()

	var acks []chan struct{}
	for cpu := 0; cpu < MaxCPUs; cpu++ {
		if mask&(uint64(1)<<uint(cpu)) == 0 {
			continue
		}
		done := make(chan struct{})
		a.inbox[cpu] <- Shootdown_t{Asid: asid, Startva: startva, Pgcount: pgcount, done: done}
		acks = append(acks, done)
	}
	for _, done := range acks {
		<-done
	}
}

/// Recv returns the channel a CPU's trap/idle loop should drain for
/// incoming shoot-down requests targeting it.
func (a *Arbiter_t) Recv(cpu int) <-chan Shootdown_t {
	return a.inbox[cpu]
}
