package vm

import "github.com/HelenOS/helenos-sub030/tlb"

// Arbiter is the system-wide TLB/PHT arbiter. It starts out with the
// amd64-style backend; assigning a new arbiter selects another
// architecture backend (mips or ppc32).
var Arbiter = tlb.NewArbiter(tlb.Amd64Backend{})

// Asids hands out address-space identifiers for pmaps.
var Asids = tlb.NewAsidPool()
