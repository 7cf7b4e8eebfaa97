package mem

// Virtual address space layout constants. On real amd64 HelenOS these
// mark PML4 slots consumed by the recursive mapping trick and the
// direct map; the arena-backed Physmem_t doesn't need the recursive
// mapping or a hardware direct map at all (Dmap and friends just
// index into the arena), but USERMIN is still the line user address
// space backends (vm.Vm_t) use to reject kernel-range requests, so it
// stays here as the one surviving piece of the original layout.

/// VUSER is the first user-space PML4 slot.
const VUSER int = 0x59

/// USERMIN is the lowest user virtual address: anything below this is
/// reserved for the kernel and as_area_create must reject it.
const USERMIN int = VUSER << 39
