package tlb

import "github.com/HelenOS/helenos-sub030/mem"

// phtGroupSize is the number of PTEs hashed into each primary/secondary
// group, matching the real ppc32 hashed page table's 8-way groups.
const phtGroupSize = 8

// phtGroups is the number of distinct hash buckets. Small for a
// simulated table; real hardware sizes this from installed RAM.
const phtGroups = 1024

type phtEntry struct {
	valid bool
	asid  Asid_t
	vpn   uintptr
	pte   mem.Pa_t
	// age is a logical clock stamped on install/touch; eviction within
	// a full group picks the smallest age, i.e. true LRU rather than
	// the teacher's process-wide random counter, so replacement is
	// reproducible under test.
	age uint64
}

/// Ppc32Backend models the ppc-family hashed page table (PHT): a
/// single global table addressed by a hash of (asid, vpn), with each
/// hashed slot fanning out to a primary and a secondary group of
/// phtGroupSize entries (the secondary group is the complement hash,
/// as ppc's hardware hash function defines). When a fault's primary
/// and secondary groups are both full, the original kernel evicts a
/// random member; this backend instead evicts the least-recently-used
/// entry in the group that was probed, per the project's decision to
/// favor deterministic, reproducible replacement over a faithful but
/// non-deterministic port.
type Ppc32Backend struct {
	groups [phtGroups][phtGroupSize]phtEntry
	clock  uint64
}

func phtHash(asid Asid_t, vpn uintptr) uint32 {
	h := uint32(asid)*2654435761 + uint32(vpn)*40503
	return h % phtGroups
}

func phtSecondary(primary uint32) uint32 {
	return (^primary) % phtGroups
}

func (p *Ppc32Backend) tick() uint64 {
	p.clock++
	return p.clock
}

func (p *Ppc32Backend) findIn(g uint32, asid Asid_t, vpn uintptr) int {
	grp := &p.groups[g]
	for i := range grp {
		if grp[i].valid && grp[i].asid == asid && grp[i].vpn == vpn {
			return i
		}
	}
	return -1
}

// freeOrLRU returns a slot index to use in group g: an empty one if
// available, else the least-recently-used occupant.
func (p *Ppc32Backend) freeOrLRU(g uint32) int {
	grp := &p.groups[g]
	best := 0
	bestAge := ^uint64(0)
	for i := range grp {
		if !grp[i].valid {
			return i
		}
		if grp[i].age < bestAge {
			bestAge = grp[i].age
			best = i
		}
	}
	return best
}

/// Install hashes (asid, vpn) to find its primary group; if an entry
/// for this translation already exists there or in the secondary
/// group, it is refreshed in place, otherwise the entry is placed in
/// whichever of the two groups has a free slot, evicting the
/// primary group's LRU member if both are full.
func (p *Ppc32Backend) Install(asid Asid_t, vpn uintptr, pte mem.Pa_t) {
	primary := phtHash(asid, vpn)
	secondary := phtSecondary(primary)

	if i := p.findIn(primary, asid, vpn); i >= 0 {
		p.groups[primary][i].pte = pte
		p.groups[primary][i].age = p.tick()
		return
	}
	if i := p.findIn(secondary, asid, vpn); i >= 0 {
		p.groups[secondary][i].pte = pte
		p.groups[secondary][i].age = p.tick()
		return
	}

	g := primary
	i := p.freeOrLRU(g)
	if p.groups[g][i].valid {
		// primary full; try secondary before evicting
		if j := p.freeOrLRU(secondary); !p.groups[secondary][j].valid {
			g, i = secondary, j
		}
	}
	p.groups[g][i] = phtEntry{valid: true, asid: asid, vpn: vpn, pte: pte, age: p.tick()}
}

func (p *Ppc32Backend) InvalidateASID(asid Asid_t) {
	for g := range p.groups {
		for i := range p.groups[g] {
			if p.groups[g][i].asid == asid {
				p.groups[g][i] = phtEntry{}
			}
		}
	}
}

func (p *Ppc32Backend) InvalidateRange(asid Asid_t, vpn uintptr, count int) {
	for v := vpn; v < vpn+uintptr(count); v++ {
		primary := phtHash(asid, v)
		secondary := phtSecondary(primary)
		if i := p.findIn(primary, asid, v); i >= 0 {
			p.groups[primary][i] = phtEntry{}
		}
		if i := p.findIn(secondary, asid, v); i >= 0 {
			p.groups[secondary][i] = phtEntry{}
		}
	}
}
