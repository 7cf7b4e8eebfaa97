package tlb

import "github.com/HelenOS/helenos-sub030/mem"

/// Amd64Backend models architectures whose MMU walks the page table on
/// every miss (amd64, ia32, arm32/64): there is no separate cache
/// structure for the arbiter to maintain, so Install is a no-op and
/// invalidation is simply "forget none of this is our job, the
/// hardware re-walks" -- the arbiter still exists for these
/// architectures purely to run the shoot-down protocol.
type Amd64Backend struct{}

func (Amd64Backend) Install(asid Asid_t, vpn uintptr, pte mem.Pa_t) {}

func (Amd64Backend) InvalidateASID(asid Asid_t) {}

func (Amd64Backend) InvalidateRange(asid Asid_t, vpn uintptr, count int) {}
