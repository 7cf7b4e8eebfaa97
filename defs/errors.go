package defs

// Err_t is a syscall return/error code. Zero (EOK) means success; a
// negative Err_t carries one of the error kinds below. Kernel functions
// that can fail return it as their last (or only) result, following the
// HelenOS convention of negating the code at the return site:
// "return -defs.EFAULT".
type Err_t int

// Tid_t identifies a thread, unique system-wide for the thread's lifetime.
type Tid_t int

// Pid_t identifies a task (the HelenOS analogue of a process).
type Pid_t int

// Error kinds returned by syscalls. EOK is always zero; the rest are
// small positive values negated by the caller before returning them.
const (
	EOK Err_t = iota
	ENOENT
	EEXISTS
	EINVAL
	EOVERFLOW
	ETIMEOUT
	ELIMIT
	ENOMEM
	EPERM
	EINTR
	ENOTSUP
	EREFUSED
	EFAULT

	// ENOHEAP and ENAMETOOLONG are kernel-internal extensions beyond the
	// syscall-surface error set: ENOHEAP is returned by the non-blocking
	// user-copy loops when the ephemeral heap budget (res.Resadd_noblock)
	// runs dry, and ENAMETOOLONG bounds Userstr reads.
	ENOHEAP
	ENAMETOOLONG
)

func (e Err_t) String() string {
	switch e {
	case EOK:
		return "EOK"
	case ENOENT:
		return "ENOENT"
	case EEXISTS:
		return "EEXISTS"
	case EINVAL:
		return "EINVAL"
	case EOVERFLOW:
		return "EOVERFLOW"
	case ETIMEOUT:
		return "ETIMEOUT"
	case ELIMIT:
		return "ELIMIT"
	case ENOMEM:
		return "ENOMEM"
	case EPERM:
		return "EPERM"
	case EINTR:
		return "EINTR"
	case ENOTSUP:
		return "ENOTSUP"
	case EREFUSED:
		return "EREFUSED"
	case EFAULT:
		return "EFAULT"
	case ENOHEAP:
		return "ENOHEAP"
	case ENAMETOOLONG:
		return "ENAMETOOLONG"
	}
	return "unknown error"
}
