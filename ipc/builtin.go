package ipc

import "github.com/HelenOS/helenos-sub030/defs"
import "github.com/HelenOS/helenos-sub030/vm"

// handleBuiltin recognizes a method below IPC_M_USER at send time and
// gives it whatever special treatment it needs before the generic
// queue/block path runs. It returns handled=true only for protocols
// that are fully resolved without ever reaching a destination queue
// (today, just hangup); everything else -- including connect-me-to,
// whose special handling happens at answer time, see Answer's call
// into finishBuiltinAnswer -- flows through the ordinary call path.
func handleBuiltin(c *Call_t, phone *Phone_t, box *Answerbox_t) (bool, defs.Err_t) {
	switch c.Method {
	case IPC_M_PHONE_HUNGUP:
		phone.Hangup()
		// Let the peer observe the hangup too, as an unanswered,
		// un-awaited notification call it can pop off its queue like
		// any other; it never goes through Answer, so it is delivered
		// outside the in-flight-calls quota rather than leaking a
		// permit nothing will ever give back.
		if box != nil {
			box.deliverUnaccounted(c)
		}
		return true, 0
	}
	return false, 0
}

// finishBuiltinAnswer runs inside Answer, after retval/args are
// posted but before the reply is routed back, for methods whose
// semantics require kernel action at answer time rather than send
// time.
func finishBuiltinAnswer(c *Call_t, retval defs.Err_t) {
	if retval != 0 {
		return
	}
	switch c.Method {
	case IPC_M_CONNECT_ME_TO:
		// The server just agreed to let the original caller talk to
		// it directly: mint a phone connected to the server's own
		// box and hand it back via the call, for the caller to pick
		// up once CallSync returns.
		np := NewPhone()
		if c.srcPhone != nil {
			PhoneConnect(np, c.srcPhone.box)
		}
		c.NewPhone = np
	case IPC_M_CONNECT_TO_ME:
		// The caller offered the server a callback path: mint a
		// phone connected back to the *caller's* answerbox, for the
		// server (who received the call via Wait) to retrieve from
		// Call_t.NewPhone and keep.
		np := NewPhone()
		if c.senderBox != nil {
			PhoneConnect(np, c.senderBox)
		}
		c.NewPhone = np
	}
}

/// DataWriteFinalize copies size bytes from the sender's pre-registered
/// buffer (set up by a DATA_WRITE call) into dst at dstVa, through a
/// kernel staging buffer (each address space's page-table lock is held
/// only for its own half of the copy), and returns the number of bytes
/// actually moved.
func DataWriteFinalize(c *Call_t, dst *vm.Vm_t, dstVa int, size int) (int, defs.Err_t) {
	return bulkCopy(c.senderAS, c.Desc.Va, dst, dstVa, min(size, c.Desc.Size))
}

/// DataReadFinalize copies size bytes from src at srcVa into the
/// sender's pre-registered buffer (set up by a DATA_READ call), the
/// mirror image of DataWriteFinalize.
func DataReadFinalize(c *Call_t, src *vm.Vm_t, srcVa int, size int) (int, defs.Err_t) {
	return bulkCopy(src, srcVa, c.senderAS, c.Desc.Va, min(size, c.Desc.Size))
}

// bulkCopy moves sz bytes from (srcAS, srcVa) to (dstAS, dstVa) via a
// kernel-side staging buffer, mediating exactly as the specification
// describes: the kernel, not either task, performs the cross-AS copy.
func bulkCopy(srcAS *vm.Vm_t, srcVa int, dstAS *vm.Vm_t, dstVa int, sz int) (int, defs.Err_t) {
	if sz <= 0 {
		return 0, 0
	}
	staging := make([]uint8, sz)

	sub := vm.NewUserbuf(srcAS, srcVa, sz)
	n, err := sub.Uioread(staging)
	if err != 0 {
		return n, err
	}

	dub := vm.NewUserbuf(dstAS, dstVa, sz)
	n2, err := dub.Uiowrite(staging[:n])
	return n2, err
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
