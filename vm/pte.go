package vm

import "github.com/HelenOS/helenos-sub030/mem"

// PTE bit layout. The first six bits mirror amd64's page-table-entry
// format so the direct map and pmap walks read naturally; bits 9 and 10
// are unused by hardware and repurposed here as software-only state the
// page-fault handler needs to track copy-on-write pages.
const (
	PGSHIFT = mem.PGSHIFT
	PGSIZE  = mem.PGSIZE

	PTE_P    = mem.PTE_P
	PTE_W    = mem.PTE_W
	PTE_U    = mem.PTE_U
	PTE_G    = mem.PTE_G
	PTE_PCD  = mem.PTE_PCD
	PTE_PS   = mem.PTE_PS
	PTE_ADDR = mem.PTE_ADDR

	PGOFFSET = mem.PGOFFSET

	// PTE_A marks a page as accessed.
	PTE_A mem.Pa_t = 1 << 5
	// PTE_D marks a page as dirty (written).
	PTE_D mem.Pa_t = 1 << 6
	// PTE_COW marks a page as copy-on-write; a write fault must copy it
	// before granting PTE_W.
	PTE_COW mem.Pa_t = 1 << 9
	// PTE_WASCOW marks a page that used to be COW and was resolved by
	// copying, so a second write fault on it is spurious.
	PTE_WASCOW mem.Pa_t = 1 << 10
)
