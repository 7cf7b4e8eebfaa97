// Package limits tracks system-wide resource quotas enforced by the
// kernel. Exceeding one of these returns defs.ELIMIT to the caller.
package limits

import "unsafe"
import "sync/atomic"

/// Sysatomic_t is a numeric limit that can be atomically updated.
type Sysatomic_t int64

/// Syslimit_t tracks system wide resource limits. Every field besides
/// ReservedFrames is consulted concurrently from arbitrary kernel
/// threads, so each is a Sysatomic_t rather than a plain int.
type Syslimit_t struct {
	// max kernel threads outstanding system-wide
	Systhreads Sysatomic_t
	// max open phones outstanding system-wide
	Phones Sysatomic_t
	// max unanswered calls in flight (sent, not yet answered) system-wide
	CallsInFlight Sysatomic_t
	// max distinct (inr, devno) IRQ registrations
	IrqHandlers Sysatomic_t
	// max address-space areas system-wide
	Areas Sysatomic_t
	// max physical frames reserved for the buddy allocator's boot-time
	// "not free" markings; fixed at boot, never taken/given at runtime
	ReservedFrames int
}

/// Syslimit describes the configured system wide limits.
var Syslimit *Syslimit_t = MkSysLimit()

/// MkSysLimit returns a pointer to the default set of limits.
func MkSysLimit() *Syslimit_t {
	return &Syslimit_t{
		Systhreads:     1e5,
		Phones:         4096,
		CallsInFlight:  16384,
		IrqHandlers:    256,
		Areas:          1 << 20,
		ReservedFrames: 1 << 16,
	}
}

func (s *Sysatomic_t) aptr() *int64 {
	return (*int64)(unsafe.Pointer(s))
}

/// Given increases the limit by the provided amount.
func (s *Sysatomic_t) Given(n uint) {
	atomic.AddInt64(s.aptr(), int64(n))
}

/// Taken tries to decrement the limit by the provided amount.
/// It returns true on success.
func (s *Sysatomic_t) Taken(n uint) bool {
	g := atomic.AddInt64(s.aptr(), -int64(n))
	if g >= 0 {
		return true
	}
	atomic.AddInt64(s.aptr(), int64(n))
	return false
}

/// Take decrements the limit and reports whether it succeeded.
func (s *Sysatomic_t) Take() bool {
	return s.Taken(1)
}

/// Give increments the limit by one.
func (s *Sysatomic_t) Give() {
	s.Given(1)
}
