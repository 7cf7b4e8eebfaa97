package mem

import "testing"

func freshPhysmem(t *testing.T, pages int) *Physmem_t {
	t.Helper()
	return Phys_init(pages)
}

func TestPhysInitCarvesRequestedFrames(t *testing.T) {
	phys := freshPhysmem(t, 4*ZONESIZE)
	free, total := phys.Pgcount()
	if total != 4*ZONESIZE {
		t.Fatalf("total = %d, want %d", total, 4*ZONESIZE)
	}
	// Zeropg holds one frame already.
	if free != total-1 {
		t.Fatalf("free = %d, want %d (one frame reserved for the zero page)", free, total-1)
	}
}

// TestFrameRefcountInvariant exercises the invariant from the testable
// properties list: a frame's refcount tracks exactly how many live
// references (here, raw Refup/Refdown calls standing in for PTEs) it
// has, and it returns to the free pool only once the count reaches
// zero.
func TestFrameRefcountInvariant(t *testing.T) {
	phys := freshPhysmem(t, 2*ZONESIZE)
	freeBefore, _ := phys.Pgcount()

	_, p_pg, ok := phys.Refpg_new_nozero()
	if !ok {
		t.Fatal("allocation failed")
	}
	if got := phys.Refcnt(p_pg); got != 0 {
		t.Fatalf("fresh frame refcnt = %d, want 0", got)
	}

	phys.Refup(p_pg)
	phys.Refup(p_pg)
	phys.Refup(p_pg)
	if got := phys.Refcnt(p_pg); got != 3 {
		t.Fatalf("refcnt after three Refup = %d, want 3", got)
	}

	if freed := phys.Refdown(p_pg); freed {
		t.Fatal("frame freed too early")
	}
	if freed := phys.Refdown(p_pg); freed {
		t.Fatal("frame freed too early")
	}
	if freed := phys.Refdown(p_pg); !freed {
		t.Fatal("frame should have been freed on the third Refdown")
	}

	freeAfter, _ := phys.Pgcount()
	if freeAfter != freeBefore {
		t.Fatalf("free count after refdown to zero = %d, want %d", freeAfter, freeBefore)
	}
}

func TestRefdownPanicsOnUnderflow(t *testing.T) {
	phys := freshPhysmem(t, ZONESIZE)
	_, p_pg, ok := phys.Refpg_new_nozero()
	if !ok {
		t.Fatal("allocation failed")
	}
	phys.Refup(p_pg)
	phys.Refdown(p_pg) // drops to 0, freed

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic refdowning an already-free frame")
		}
	}()
	phys.Refdown(p_pg)
}

func TestBuddyAllocatorSplitsAndCoalesces(t *testing.T) {
	phys := freshPhysmem(t, ZONESIZE)

	p_pg, ok := phys.Refpg_new_order(3) // 8 contiguous pages
	if !ok {
		t.Fatal("order-3 allocation failed")
	}
	if p_pg%Pa_t(8*PGSIZE) != 0 {
		t.Fatalf("order-3 block not aligned: %#x", p_pg)
	}

	freeWithBlock, _ := phys.Pgcount()
	phys.Refup(p_pg)
	phys.Refdown(p_pg)
	freeAfterRelease, _ := phys.Pgcount()

	if freeAfterRelease != freeWithBlock+8 {
		t.Fatalf("free count after releasing order-3 block = %d, want %d",
			freeAfterRelease, freeWithBlock+8)
	}
}

func TestDmapRoundTrip(t *testing.T) {
	phys := freshPhysmem(t, ZONESIZE)
	_, p_pg, ok := phys.Refpg_new_nozero()
	if !ok {
		t.Fatal("allocation failed")
	}
	pg := phys.Dmap(p_pg)
	if phys.Dmap_v2p(pg) != p_pg {
		t.Fatalf("Dmap_v2p(Dmap(p)) = %#x, want %#x", phys.Dmap_v2p(pg), p_pg)
	}
}

func TestRefpgNewIsZeroFilled(t *testing.T) {
	phys := freshPhysmem(t, ZONESIZE)
	pg, p_pg, ok := phys.Refpg_new()
	if !ok {
		t.Fatal("allocation failed")
	}
	bpg := Pg2bytes(pg)
	for i, b := range bpg {
		if b != 0 {
			t.Fatalf("byte %d of fresh Refpg_new page = %d, want 0", i, b)
		}
	}
	_ = p_pg
}
