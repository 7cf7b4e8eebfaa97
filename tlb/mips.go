package tlb

import "github.com/HelenOS/helenos-sub030/mem"

// mipsSlots is the number of hardware TLB entries simulated. Real
// R4000-family MIPS cores have 48-64; the exact count doesn't matter to
// the arbiter's logic, only that slots are scarce enough to need
// eviction.
const mipsSlots = 48

type mipsEntry struct {
	valid  bool
	asid   Asid_t
	vpn2   uintptr // even/odd pair base: covers vpn2*2 and vpn2*2+1
	even   mem.Pa_t
	odd    mem.Pa_t
	evalid bool
	ovalid bool
}

/// MipsBackend models the odd/even-paired TLB MIPS uses: each hardware
/// slot covers two consecutive virtual pages (a 16KiB region split
/// into two 8KiB... in this kernel's uniform PGSIZE model, two
/// PGSIZE-sized halves), and a refill only ever has fresh data for the
/// half matching the faulting page's parity. The arbiter decides which
/// half is fresh from the VPN's low bit and leaves the other half
/// marked invalid, exactly as the real hardware refill handler does.
type MipsBackend struct {
	slots [mipsSlots]mipsEntry
	clock int // next slot to consider for eviction (round-robin)
}

func vpn2(vpn uintptr) (uintptr, bool) {
	return vpn >> 1, vpn&1 != 0
}

func (m *MipsBackend) find(asid Asid_t, vp2 uintptr) int {
	for i := range m.slots {
		s := &m.slots[i]
		if s.valid && s.asid == asid && s.vpn2 == vp2 {
			return i
		}
	}
	return -1
}

func (m *MipsBackend) evict() int {
	i := m.clock
	m.clock = (m.clock + 1) % mipsSlots
	return i
}

/// Install places pte in the half of its vpn2 pair matching vpn's
/// parity, leaving the other half invalid if this is a fresh slot.
func (m *MipsBackend) Install(asid Asid_t, vpn uintptr, pte mem.Pa_t) {
	vp2, odd := vpn2(vpn)
	i := m.find(asid, vp2)
	if i < 0 {
		i = m.evict()
		m.slots[i] = mipsEntry{valid: true, asid: asid, vpn2: vp2}
	}
	s := &m.slots[i]
	if odd {
		s.odd = pte
		s.ovalid = true
	} else {
		s.even = pte
		s.evalid = true
	}
}

func (m *MipsBackend) InvalidateASID(asid Asid_t) {
	for i := range m.slots {
		if m.slots[i].asid == asid {
			m.slots[i] = mipsEntry{}
		}
	}
}

func (m *MipsBackend) InvalidateRange(asid Asid_t, vpn uintptr, count int) {
	for p := vpn; p < vpn+uintptr(count); p++ {
		vp2, odd := vpn2(p)
		if i := m.find(asid, vp2); i >= 0 {
			s := &m.slots[i]
			if odd {
				s.ovalid = false
			} else {
				s.evalid = false
			}
			if !s.evalid && !s.ovalid {
				*s = mipsEntry{}
			}
		}
	}
}
