// Package bounds names the call sites that must check their kernel-heap
// budget before looping over a user-controlled length. Each constant
// identifies one such loop and the ephemeral heap it costs per iteration;
// res.Resadd_noblock debits that cost against the global budget.
package bounds

// Bound_t names a budget-checked call site and its ephemeral cost in bytes.
type Bound_t struct {
	name string
	cost uint
}

// Name identifies the call site, for diagnostics.
func (b Bound_t) Name() string { return b.name }

// Cost is the ephemeral kernel heap the call site consumes per iteration.
func (b Bound_t) Cost() uint { return b.cost }

// Call sites that walk a user-supplied address range one page (or word) at
// a time while holding the address-space lock. None may block, so each
// iteration must instead check the global budget and fail fast with
// ENOHEAP.
var (
	B_ASPACE_T_K2USER_INNER = Bound_t{"as.K2user_inner", 8}
	B_ASPACE_T_USER2K_INNER = Bound_t{"as.User2k_inner", 8}
	B_USERBUF_T__TX         = Bound_t{"userbuf._tx", 8}
	B_USERIOVEC_T_IOV_INIT  = Bound_t{"useriovec.Iov_init", 16}
	B_USERIOVEC_T__TX       = Bound_t{"useriovec._tx", 8}
)
