package vm

import "sort"
import "sync"

import "github.com/HelenOS/helenos-sub030/defs"
import "github.com/HelenOS/helenos-sub030/mem"

/// mtype_t identifies the backend that resolves a Vminfo_t's page faults.
type mtype_t uint8

const (
	// VANON is a private anonymous region: pages start as the shared
	// zero page and are copy-on-write split on first write.
	VANON mtype_t = iota
	// VFILE is a region backed by an ELF image's bytes (PT_LOAD
	// segments); it may be shared (VSANON-like) or private/COW.
	VFILE
	// VSANON is a shared anonymous region: every address space mapping
	// it sees the exact same physical pages, no COW.
	VSANON
	// VPHYS is a physical-passthrough region: faults are resolved by
	// mapping a fixed physical frame directly, with no allocation and
	// no refcounting of the underlying memory (used for device MMIO
	// and other kernel-owned regions that outlive any address space).
	VPHYS
)

/// Backing_i supplies page-sized chunks of an ELF image (or other
/// read-only backing store) for VFILE regions. It replaces the
/// teacher's general file-descriptor operations interface, since this
/// kernel's VM layer only ever backs mappings by an ELF image or raw
/// physical memory, never by an arbitrary open file.
type Backing_i interface {
	// Pagebytes returns up to PGSIZE bytes of backing data starting at
	// file offset foff. A short (or empty) result is zero-filled.
	Pagebytes(foff int) ([]byte, defs.Err_t)
}

/// Mfile_t is the shared state of a VFILE mapping: several Vminfo_t in
/// the same or different address spaces can reference one Mfile_t when
/// the mapping is MAP_SHARED.
type Mfile_t struct {
	foff     int
	mfops    Backing_i
	unpin    mem.Unpin_i
	mapcount int
}

type filevmi_t struct {
	foff   int
	mfile  *Mfile_t
	shared bool
}

/// Vminfo_t describes one contiguous region of an address space: its
/// backend, its page range, and its permission bits.
type Vminfo_t struct {
	Mtype mtype_t
	Pgn   uintptr
	Pglen int
	Perms uint

	file filevmi_t
	phys mem.Pa_t // base physical address for VPHYS regions
}

func (v *Vminfo_t) end() uintptr {
	return v.Pgn + uintptr(v.Pglen)
}

/// Ptefor walks (and, if necessary, extends) pmap to find the PTE slot
/// for virtual address va, allocating intermediate page-table levels
/// as needed.
func (v *Vminfo_t) Ptefor(pmap *mem.Pmap_t, va uintptr) (*mem.Pa_t, bool) {
	perms := PTE_U
	if v.Perms&uint(PTE_W) != 0 {
		perms |= PTE_W
	}
	pte, err := pmap_walk(pmap, int(va), perms)
	if err != 0 {
		return nil, false
	}
	return pte, true
}

// sharedFrameKey identifies one page of one backing store: the same
// key faulted from any address space must resolve to the same
// physical frame, which is the whole point of a shared mapping.
type sharedFrameKey struct {
	fops Backing_i
	foff int
}

// sharedFrames caches the physical frame backing each shared-mapping
// page the first time it's faulted in, so every address space that
// maps the same (fops, foff) -- e.g. two tasks sharing one ELF
// image's read-only segment -- faults onto the identical frame rather
// than each getting its own private copy. The frame's refcount is
// bumped once per mapping by the caller's own Page_insert, not here;
// this cache only decides whether a fresh allocation is needed.
var sharedFrames = struct {
	sync.Mutex
	m map[sharedFrameKey]mem.Pa_t
}{m: make(map[sharedFrameKey]mem.Pa_t)}

/// Filepage resolves the backing page for a VFILE fault at faultaddr,
/// returning the page's in-kernel mapping and physical address. Shared
/// mappings (file.shared) are resolved through sharedFrames so every
/// address space mapping the same backing page gets the same frame.
func (v *Vminfo_t) Filepage(faultaddr uintptr) (*mem.Pg_t, mem.Pa_t, defs.Err_t) {
	pgn := (faultaddr >> PGSHIFT) - v.Pgn
	foff := v.file.foff + int(pgn)*PGSIZE

	var key sharedFrameKey
	if v.file.shared {
		key = sharedFrameKey{fops: v.file.mfile.mfops, foff: foff}
		sharedFrames.Lock()
		if p_pg, ok := sharedFrames.m[key]; ok {
			sharedFrames.Unlock()
			return mem.Physmem.Dmap(p_pg), p_pg, 0
		}
		sharedFrames.Unlock()
	}

	data, err := v.file.mfile.mfops.Pagebytes(foff)
	if err != 0 {
		return nil, 0, err
	}
	pg, p_pg, ok := mem.Physmem.Refpg_new_nozero()
	if !ok {
		return nil, 0, -defs.ENOMEM
	}
	bpg := mem.Pg2bytes(pg)
	for i := range bpg {
		bpg[i] = 0
	}
	copy(bpg[:], data)

	if v.file.shared {
		sharedFrames.Lock()
		sharedFrames.m[key] = p_pg
		sharedFrames.Unlock()
	}
	return pg, p_pg, 0
}

/// Vmregion_t is the ordered set of mapped regions in an address space,
/// kept sorted by starting page number for binary-search lookup.
type Vmregion_t struct {
	sync.Mutex
	regions []*Vminfo_t
}

func (r *Vmregion_t) idx(pgn uintptr) int {
	return sort.Search(len(r.regions), func(i int) bool {
		return r.regions[i].end() > pgn
	})
}

/// Lookup finds the region containing virtual address va, if any.
func (r *Vmregion_t) Lookup(va uintptr) (*Vminfo_t, bool) {
	r.Lock()
	defer r.Unlock()
	pgn := va >> PGSHIFT
	i := r.idx(pgn)
	if i >= len(r.regions) {
		return nil, false
	}
	vmi := r.regions[i]
	if pgn < vmi.Pgn || pgn >= vmi.end() {
		return nil, false
	}
	return vmi, true
}

// insert adds vmi to the region list, keeping it sorted and bumping the
// backing Mfile_t's mapcount when shared.
func (r *Vmregion_t) insert(vmi *Vminfo_t) {
	r.Lock()
	defer r.Unlock()
	if vmi.Mtype == VFILE && vmi.file.mfile != nil {
		vmi.file.mfile.mapcount++
	}
	i := r.idx(vmi.Pgn)
	r.regions = append(r.regions, nil)
	copy(r.regions[i+1:], r.regions[i:])
	r.regions[i] = vmi
}

// empty finds a gap of at least length bytes at or after startva,
// returning the gap's start and the number of bytes from that start to
// the top of the address space (not the gap's own length).
func (r *Vmregion_t) empty(startva, length uintptr) (uintptr, uintptr) {
	r.Lock()
	defer r.Unlock()
	pgn := startva >> PGSHIFT
	need := (length + uintptr(PGOFFSET)) >> PGSHIFT
	for _, vmi := range r.regions {
		if vmi.end() <= pgn {
			continue
		}
		if vmi.Pgn >= pgn+need {
			break
		}
		pgn = vmi.end()
	}
	return pgn << PGSHIFT, ^uintptr(0) - (pgn << PGSHIFT)
}

/// Clear drops all region bookkeeping (the underlying page tables are
/// released separately by Uvmfree_inner).
func (r *Vmregion_t) Clear() {
	r.Lock()
	defer r.Unlock()
	r.regions = nil
}

/// Remove drops the region starting at page pgn from the list
/// (implementing sys_as_area_destroy's bookkeeping half); the caller
/// is responsible for unmapping and freeing its pages first. It
/// reports whether a matching region was found.
func (r *Vmregion_t) Remove(pgn uintptr) bool {
	r.Lock()
	defer r.Unlock()
	i := r.idx(pgn)
	if i >= len(r.regions) || r.regions[i].Pgn != pgn {
		return false
	}
	r.regions = append(r.regions[:i], r.regions[i+1:]...)
	return true
}
