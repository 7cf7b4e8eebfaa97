package vm

import "unsafe"

import "github.com/HelenOS/helenos-sub030/defs"
import "github.com/HelenOS/helenos-sub030/mem"

// Four-level, 512-entry-per-level page tables, numbered the amd64 way
// (pml4/pdpt/pd/pt) even though nothing here talks to real silicon: the
// tables live in the direct-mapped arena mem.Physmem hands out, and
// Sys_pgfault/Page_insert walk them exactly as a hardware walker would.

func pmidx(va int, level uint) int {
	return int((uintptr(va) >> (12 + 9*level)) & 0x1ff)
}

// pmap_walk returns the PTE slot for va in pmap, allocating any missing
// intermediate tables with the given permission bits.
func pmap_walk(pmap *mem.Pmap_t, va int, perms mem.Pa_t) (*mem.Pa_t, defs.Err_t) {
	cur := pmap
	for level := uint(3); level > 0; level-- {
		idx := pmidx(va, level)
		ent := &cur[idx]
		if *ent&PTE_P == 0 {
			next, p_next, ok := mem.Physmem.Pmap_new()
			if !ok {
				return nil, -defs.ENOMEM
			}
			*ent = p_next | perms | PTE_P
			cur = next
		} else {
			cur = (*mem.Pmap_t)(unsafe.Pointer(mem.Physmem.Dmap(*ent & PTE_ADDR)))
		}
	}
	idx := pmidx(va, 0)
	return &cur[idx], 0
}

/// Pmap_lookup returns the PTE slot for va if the full path down to it
/// is already populated, or nil otherwise. Unlike pmap_walk it never
/// allocates.
func Pmap_lookup(pmap *mem.Pmap_t, va int) *mem.Pa_t {
	cur := pmap
	for level := uint(3); level > 0; level-- {
		idx := pmidx(va, level)
		ent := &cur[idx]
		if *ent&PTE_P == 0 {
			return nil
		}
		cur = (*mem.Pmap_t)(unsafe.Pointer(mem.Physmem.Dmap(*ent & PTE_ADDR)))
	}
	idx := pmidx(va, 0)
	return &cur[idx]
}

// walkFree recursively drops references on every present user mapping
// reachable from pmap at the given level, and frees page-table pages
// themselves once emptied (the top-level pml4 is freed by the caller,
// via Dec_pmap, once its refcount reaches zero).
func walkFree(pmap *mem.Pmap_t, level uint) {
	if level == 0 {
		for _, pte := range pmap {
			if pte&PTE_P != 0 && pte&PTE_U != 0 {
				mem.Physmem.Refdown(pte & PTE_ADDR)
			}
		}
		return
	}
	for i, pte := range pmap {
		if pte&PTE_P == 0 || pte&PTE_U == 0 {
			continue
		}
		child := (*mem.Pmap_t)(unsafe.Pointer(mem.Physmem.Dmap(pte & PTE_ADDR)))
		walkFree(child, level-1)
		mem.Physmem.Refdown(pte & PTE_ADDR)
		pmap[i] = 0
	}
}

/// Uvmfree_inner releases every user page reachable from pmap. It does
/// not touch rgn; Uvmfree clears the region bookkeeping itself. The
/// top-level pmap page is released separately by the caller via
/// Dec_pmap.
func Uvmfree_inner(pmap *mem.Pmap_t, p_pmap mem.Pa_t, rgn *Vmregion_t) {
	walkFree(pmap, 3)
}
