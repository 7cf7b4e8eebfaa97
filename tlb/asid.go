package tlb

import "sync"

import "github.com/HelenOS/helenos-sub030/defs"

// maxASID bounds the ASID space. Real MMUs expose far fewer bits (e.g.
// 8 on some ppc cores); this is generous enough that recycling is rare
// in tests while still exercising the free-list path.
const maxASID = 1 << 16

/// AsidPool_t hands out and recycles Asid_t values. It is grounded on
/// HelenOS's generic resource/range allocator (kernel/generic/src/lib/ra.c):
/// a free list of released values is preferred over advancing a
/// never-resets high-water mark, so a long-running system doesn't
/// exhaust the ASID space just from task churn.
type AsidPool_t struct {
	mu   sync.Mutex
	next Asid_t
	free []Asid_t
}

/// NewAsidPool returns a pool that never hands out NoASID.
func NewAsidPool() *AsidPool_t {
	return &AsidPool_t{next: NoASID + 1}
}

/// Alloc returns a fresh ASID, preferring a recycled one.
func (p *AsidPool_t) Alloc() (Asid_t, defs.Err_t) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n := len(p.free); n > 0 {
		a := p.free[n-1]
		p.free = p.free[:n-1]
		return a, 0
	}
	if p.next >= maxASID {
		return NoASID, -defs.ENOMEM
	}
	a := p.next
	p.next++
	return a, 0
}

/// Free returns asid to the pool for reuse. The caller must have
/// already shot down every TLB/PHT entry tagged with it.
func (p *AsidPool_t) Free(asid Asid_t) {
	if asid == NoASID {
		panic("freeing NoASID")
	}
	p.mu.Lock()
	p.free = append(p.free, asid)
	p.mu.Unlock()
}
