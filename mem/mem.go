// Package mem implements the kernel's physical frame allocator: a
// buddy allocator per zone, frame reference counting, and a direct map
// from physical addresses to Go-addressable pages. It plays the role
// the teacher's Physmem_t free lists played, but the allocation
// strategy itself is a buddy system over explicit zones rather than a
// per-CPU singly linked free list, and the direct map is backed by a
// plain Go arena instead of recursive amd64 page-table tricks (there
// is no patched runtime here to walk cr3 for us).
package mem

import "fmt"
import "sync"
import "sync/atomic"
import "unsafe"

import "github.com/HelenOS/helenos-sub030/util"

/// PGSHIFT is the base-2 exponent for the page size.
const PGSHIFT uint = 12

/// PGSIZE is the size of a single page in bytes.
const PGSIZE int = 1 << PGSHIFT

/// PGOFFSET masks offsets within a page.
const PGOFFSET Pa_t = 0xfff

/// PGMASK masks the page number of an address.
const PGMASK Pa_t = ^(PGOFFSET)

/// PTE_P marks a page as present.
const PTE_P Pa_t = 1 << 0

/// PTE_W marks a page writable.
const PTE_W Pa_t = 1 << 1

/// PTE_U marks a page user-accessible.
const PTE_U Pa_t = 1 << 2

/// PTE_G marks a global page.
const PTE_G Pa_t = 1 << 8

/// PTE_PCD disables caching for the page.
const PTE_PCD Pa_t = 1 << 4

/// PTE_PS indicates a large page.
const PTE_PS Pa_t = 1 << 7

/// PTE_ADDR extracts the address bits of a PTE.
const PTE_ADDR Pa_t = PGMASK

/// Pa_t represents a physical address.
type Pa_t uintptr

/// Bytepg_t is a byte addressed page.
type Bytepg_t [PGSIZE]uint8

/// Pg_t is a generic page of ints.
type Pg_t [512]int

/// Pmap_t is a page table page.
type Pmap_t [512]Pa_t

// MAXORDER bounds the buddy allocator: a zone can hand out contiguous
// runs up to 2^MAXORDER pages (16MB at PGSIZE==4096) in one allocation.
const MAXORDER = 12

/// Unpin_i is implemented by a shared file mapping's backing store. It
/// is called when a shared page is dropped from an address space's
/// last mapping of it, so the backing store can reclaim the frame
/// (write it back, invalidate a cache entry) instead of the frame
/// simply being refcounted away like an anonymous page.
type Unpin_i interface {
	Unpin(foff int)
}

/// Page_i abstracts physical page allocation so vm, circbuf and friends
/// don't need to know there's a buddy allocator behind the interface.
type Page_i interface {
	Refpg_new() (*Pg_t, Pa_t, bool)
	Refpg_new_nozero() (*Pg_t, Pa_t, bool)
	Refcnt(Pa_t) int
	Dmap(Pa_t) *Pg_t
	Refup(Pa_t)
	Refdown(Pa_t) bool
}

/// Pg2bytes converts a page of ints to a page of bytes.
func Pg2bytes(pg *Pg_t) *Bytepg_t {
	return (*Bytepg_t)(unsafe.Pointer(pg))
}

/// Bytepg2pg converts a byte page back to a Pg_t.
func Bytepg2pg(pg *Bytepg_t) *Pg_t {
	return (*Pg_t)(unsafe.Pointer(pg))
}

func pg2pmap(pg *Pg_t) *Pmap_t {
	return (*Pmap_t)(unsafe.Pointer(pg))
}

/// Frame_t is a physical frame's metadata: refcount and buddy-order
/// bookkeeping. Zero value means "free, order 0, not in any list".
type Frame_t struct {
	Refcnt int32
	order  int8
	inuse  bool
	// Bitmask where bit n is set if CPU w/logical ID n loaded this page
	// (as a pmap) into its paging-root register.
	Cpumask uint64
}

/// Zone_t is a buddy allocator over a contiguous run of physical
/// frames. Zones let the allocator keep, e.g., low memory (for DMA-like
/// uses) and general memory as separate pools, the way HelenOS's
/// zone_t does in kernel/generic/src/mm/frame.c.
type Zone_t struct {
	sync.Mutex
	Base   uint32 // first frame number in this zone
	Count  uint32 // number of frames in this zone
	frames []Frame_t
	free   [MAXORDER + 1][]uint32 // free[k] holds frame-offsets of order-k blocks
}

func newZone(base, count uint32) *Zone_t {
	z := &Zone_t{Base: base, Count: count}
	z.frames = make([]Frame_t, count)
	z.seed()
	return z
}

// seed splits the zone's frame count into the largest power-of-two
// blocks it can and pushes them onto the appropriate free lists.
func (z *Zone_t) seed() {
	var off uint32
	remain := z.Count
	for remain > 0 {
		order := MAXORDER
		for order > 0 && (1<<uint(order) > int(remain) || off%uint32(1<<uint(order)) != 0) {
			order--
		}
		z.free[order] = append(z.free[order], off)
		sz := uint32(1 << uint(order))
		off += sz
		remain -= sz
	}
}

func (z *Zone_t) buddyOf(off uint32, order int) uint32 {
	return off ^ uint32(1<<uint(order))
}

// allocLocked pulls a block of the requested order, splitting a larger
// one if necessary. Caller holds z.Lock().
func (z *Zone_t) allocLocked(order int) (uint32, bool) {
	for o := order; o <= MAXORDER; o++ {
		n := len(z.free[o])
		if n == 0 {
			continue
		}
		off := z.free[o][n-1]
		z.free[o] = z.free[o][:n-1]
		// split down to the requested order
		for o > order {
			o--
			buddy := off + uint32(1<<uint(o))
			z.free[o] = append(z.free[o], buddy)
		}
		return off, true
	}
	return 0, false
}

// freeLocked returns a block to the free lists, coalescing with its
// buddy as far as possible. Caller holds z.Lock().
func (z *Zone_t) freeLocked(off uint32, order int) {
	for order < MAXORDER {
		buddy := z.buddyOf(off, order)
		if buddy >= z.Count {
			break
		}
		idx := -1
		for i, f := range z.free[order] {
			if f == buddy {
				idx = i
				break
			}
		}
		if idx < 0 {
			break
		}
		z.free[order][idx] = z.free[order][len(z.free[order])-1]
		z.free[order] = z.free[order][:len(z.free[order])-1]
		if buddy < off {
			off = buddy
		}
		order++
	}
	z.free[order] = append(z.free[order], off)
}

/// Physmem_t manages all physical memory for the system as a set of
/// zones, each an independent buddy allocator.
type Physmem_t struct {
	zones    []*Zone_t
	startn   uint32
	arena    []byte // backing store for the direct map
	Dmapinit bool
}

func (phys *Physmem_t) zoneAndOffset(p_pg Pa_t) (*Zone_t, uint32) {
	pgn := uint32(p_pg>>PGSHIFT) - phys.startn
	for _, z := range phys.zones {
		if pgn >= z.Base && pgn < z.Base+z.Count {
			return z, pgn - z.Base
		}
	}
	panic("frame outside any zone")
}

/// Refaddr returns the refcount pointer for the given page.
func (phys *Physmem_t) Refaddr(p_pg Pa_t) (*int32, uint32) {
	z, off := phys.zoneAndOffset(p_pg)
	return &z.frames[off].Refcnt, off
}

/// Tlbaddr returns the TLB mask address for a page.
func (phys *Physmem_t) Tlbaddr(p_pg Pa_t) *uint64 {
	z, off := phys.zoneAndOffset(p_pg)
	return &z.frames[off].Cpumask
}

/// Refcnt returns the current reference count of a page.
func (phys *Physmem_t) Refcnt(p_pg Pa_t) int {
	ref, _ := phys.Refaddr(p_pg)
	return int(atomic.LoadInt32(ref))
}

/// Refup increments the reference count of a page.
func (phys *Physmem_t) Refup(p_pg Pa_t) {
	ref, _ := phys.Refaddr(p_pg)
	c := atomic.AddInt32(ref, 1)
	if c <= 0 {
		panic("wut")
	}
}

// returns true if p_pg's refcount dropped to zero and it should be freed
func (phys *Physmem_t) _refdec(p_pg Pa_t) bool {
	ref, _ := phys.Refaddr(p_pg)
	c := atomic.AddInt32(ref, -1)
	if c < 0 {
		panic("wut")
	}
	return c == 0
}

/// Refdown decrements the reference count of a page.
/// It returns true when the page is freed.
func (phys *Physmem_t) Refdown(p_pg Pa_t) bool {
	if !phys._refdec(p_pg) {
		return false
	}
	z, off := phys.zoneAndOffset(p_pg)
	z.Lock()
	z.frames[off].inuse = false
	z.freeLocked(off, int(z.frames[off].order))
	z.Unlock()
	return true
}

/// Zeropg is a global zero-filled page used for allocations.
var Zeropg *Pg_t

/// P_zeropg is the physical address of Zeropg.
var P_zeropg Pa_t

func (phys *Physmem_t) allocOrder(order int) (Pa_t, bool) {
	for _, z := range phys.zones {
		z.Lock()
		off, ok := z.allocLocked(order)
		if ok {
			z.frames[off].Refcnt = 0
			z.frames[off].order = int8(order)
			z.frames[off].inuse = true
		}
		z.Unlock()
		if ok {
			pgn := phys.startn + z.Base + off
			return Pa_t(pgn) << PGSHIFT, true
		}
	}
	return 0, false
}

func (phys *Physmem_t) _refpg_new() (*Pg_t, Pa_t, bool) {
	p_pg, ok := phys.allocOrder(0)
	if !ok {
		return nil, 0, false
	}
	return phys.Dmap(p_pg), p_pg, true
}

/// Refpg_new allocates a zeroed page and returns its mapping and address.
/// The returned page's refcount is not incremented.
func (phys *Physmem_t) Refpg_new() (*Pg_t, Pa_t, bool) {
	if !phys.Dmapinit {
		panic("refpg_new")
	}
	pg, p_pg, ok := phys._refpg_new()
	if !ok {
		return nil, 0, false
	}
	*pg = *Zeropg
	return pg, p_pg, true
}

/// Refpg_new_nozero allocates an uninitialised page.
func (phys *Physmem_t) Refpg_new_nozero() (*Pg_t, Pa_t, bool) {
	return phys._refpg_new()
}

/// Refpg_new_order allocates a zeroed, physically contiguous run of
/// 2^order pages, for callers (e.g. an ELF image's jumbo mappings) that
/// need more than a single frame at once.
func (phys *Physmem_t) Refpg_new_order(order int) (Pa_t, bool) {
	p_pg, ok := phys.allocOrder(order)
	if !ok {
		return 0, false
	}
	start := int(p_pg)
	bpg := phys.arena[start : start+PGSIZE<<uint(order)]
	for i := range bpg {
		bpg[i] = 0
	}
	return p_pg, true
}

/// Pmap_new allocates a new page map for the kernel, holding one
/// reference that Dec_pmap drops.
func (phys *Physmem_t) Pmap_new() (*Pmap_t, Pa_t, bool) {
	pg, p_pg, ok := phys.Refpg_new()
	if ok {
		phys.Refup(p_pg)
	}
	return pg2pmap(pg), p_pg, ok
}

/// Dec_pmap decreases the reference count of a pmap and frees it if unused.
func (phys *Physmem_t) Dec_pmap(p_pmap Pa_t) {
	phys.Refdown(p_pmap)
}

/// Dmap converts a physical address into a direct-mapped virtual
/// address. In this hosted implementation the "direct map" is simply
/// an offset into the in-process arena that stands in for physical RAM.
func (phys *Physmem_t) Dmap(p Pa_t) *Pg_t {
	pa := uintptr(p)
	off := util.Rounddown(int(pa), PGSIZE)
	if off < 0 || off+PGSIZE > len(phys.arena) {
		panic("direct map: address out of range")
	}
	return (*Pg_t)(unsafe.Pointer(&phys.arena[off]))
}

/// Dmap_v2p converts a direct-mapped virtual address back to a physical address.
func (phys *Physmem_t) Dmap_v2p(v *Pg_t) Pa_t {
	va := uintptr(unsafe.Pointer(v))
	base := uintptr(unsafe.Pointer(&phys.arena[0]))
	if va < base || va >= base+uintptr(len(phys.arena)) {
		panic("address isn't in the direct map")
	}
	return Pa_t(va - base)
}

/// Dmap8 returns a byte slice mapped to the given physical address.
func (phys *Physmem_t) Dmap8(p Pa_t) []uint8 {
	pg := phys.Dmap(p)
	off := p & PGOFFSET
	bpg := Pg2bytes(pg)
	return bpg[off:]
}

/// Pgcount reports free and total frame counts across all zones.
func (phys *Physmem_t) Pgcount() (free int, total int) {
	for _, z := range phys.zones {
		z.Lock()
		total += int(z.Count)
		for order, fl := range z.free {
			free += len(fl) * (1 << uint(order))
		}
		z.Unlock()
	}
	return
}

/// Physmem is the global physical memory allocator instance.
var Physmem = &Physmem_t{}

// ZONESIZE is the frame count of each zone Phys_init carves up; a real
// boot would size zones from the memory map instead of one flat region.
const ZONESIZE = 1 << 14

/// Phys_init initializes the global physical memory allocator with
/// respgs frames of backing arena and carves them into fixed-size
/// zones for the buddy allocator.
func Phys_init(respgs int) *Physmem_t {
	if respgs <= 0 {
		respgs = 1 << 16
	}
	phys := Physmem
	phys.arena = make([]byte, respgs*PGSIZE)
	phys.startn = 0
	phys.zones = nil

	for base := 0; base < respgs; base += ZONESIZE {
		count := ZONESIZE
		if base+count > respgs {
			count = respgs - base
		}
		phys.zones = append(phys.zones, newZone(uint32(base), uint32(count)))
	}
	phys.Dmapinit = true

	var ok bool
	Zeropg, P_zeropg, ok = phys._refpg_new()
	if !ok {
		panic("oom in mem init")
	}
	for i := range Zeropg {
		Zeropg[i] = 0
	}
	phys.Refup(P_zeropg)

	fmt.Printf("reserved %v frames (%vMB) across %v zones\n",
		respgs, respgs>>8, len(phys.zones))
	return phys
}
