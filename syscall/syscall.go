// Package syscall implements the external system-call surface
// spec.md §6 defines, dispatching each sys_* entry into the memory
// (mem/vm), scheduling (sched), and IPC (ipc) packages beneath it. It
// plays the role the teacher's own syscall tables did -- a big switch
// from a method number to a handler, each handler translating
// register-sized arguments into calls on the real subsystems -- but
// the call surface itself is this specification's, not the teacher's
// POSIX-flavored one.
package syscall

import "sync/atomic"

import "github.com/HelenOS/helenos-sub030/console"
import "github.com/HelenOS/helenos-sub030/defs"
import "github.com/HelenOS/helenos-sub030/ipc"
import "github.com/HelenOS/helenos-sub030/klog"
import "github.com/HelenOS/helenos-sub030/limits"
import "github.com/HelenOS/helenos-sub030/mem"
import "github.com/HelenOS/helenos-sub030/sched"
import "github.com/HelenOS/helenos-sub030/task"
import "github.com/HelenOS/helenos-sub030/vm"

var log = klog.Subsystem(klog.DefaultLogger(), "syscall")

/// Num identifies one syscall, matching spec.md §6's external
/// interface list one-for-one.
type Num int

const (
	SysAsAreaCreate Num = iota
	SysAsAreaResize
	SysAsAreaDestroy
	SysAsAreaChangeFlags
	SysPhysmemMap

	SysThreadCreate
	SysThreadExit
	SysThreadGetId
	SysTaskGetId
	SysTaskSetName

	SysIpcCallSyncFast
	SysIpcCallSyncSlow
	SysIpcCallAsyncFast
	SysIpcCallAsyncSlow
	SysIpcAnswerFast
	SysIpcAnswerSlow
	SysIpcForwardFast
	SysIpcForwardSlow
	SysIpcWaitForCall
	SysIpcPoke
	SysIpcHangup
	SysIpcConnectMeTo
	SysIpcConnectToMe
	SysIpcRegisterIrq
	SysIpcUnregisterIrq

	SysDebugEnableConsole
)

func (n Num) String() string {
	switch n {
	case SysAsAreaCreate:
		return "sys_as_area_create"
	case SysAsAreaResize:
		return "sys_as_area_resize"
	case SysAsAreaDestroy:
		return "sys_as_area_destroy"
	case SysAsAreaChangeFlags:
		return "sys_as_area_change_flags"
	case SysPhysmemMap:
		return "sys_physmem_map"
	case SysThreadCreate:
		return "sys_thread_create"
	case SysThreadExit:
		return "sys_thread_exit"
	case SysThreadGetId:
		return "sys_thread_get_id"
	case SysTaskGetId:
		return "sys_task_get_id"
	case SysTaskSetName:
		return "sys_task_set_name"
	case SysIpcCallSyncFast:
		return "sys_ipc_call_sync_fast"
	case SysIpcCallSyncSlow:
		return "sys_ipc_call_sync_slow"
	case SysIpcCallAsyncFast:
		return "sys_ipc_call_async_fast"
	case SysIpcCallAsyncSlow:
		return "sys_ipc_call_async_slow"
	case SysIpcAnswerFast:
		return "sys_ipc_answer_fast"
	case SysIpcAnswerSlow:
		return "sys_ipc_answer_slow"
	case SysIpcForwardFast:
		return "sys_ipc_forward_fast"
	case SysIpcForwardSlow:
		return "sys_ipc_forward_slow"
	case SysIpcWaitForCall:
		return "sys_ipc_wait_for_call"
	case SysIpcPoke:
		return "sys_ipc_poke"
	case SysIpcHangup:
		return "sys_ipc_hangup"
	case SysIpcConnectMeTo:
		return "sys_ipc_connect_me_to"
	case SysIpcConnectToMe:
		return "sys_ipc_connect_to_me"
	case SysIpcRegisterIrq:
		return "sys_ipc_register_irq"
	case SysIpcUnregisterIrq:
		return "sys_ipc_unregister_irq"
	case SysDebugEnableConsole:
		return "sys_debug_enable_console"
	}
	return "sys_unknown"
}

// Area creation/change flag bits carried in the args word, not the
// closed Err_t set: these describe the request, not the outcome.
const (
	AreaWrite = 1 << 0
	AreaPhys  = 1 << 1
)

/// Dispatch runs one syscall on behalf of self (a thread belonging to
/// caller), with up to six register-sized arguments, and returns the
/// single register-sized result HelenOS syscalls return plus an error
/// code drawn from defs's closed set. A non-EOK err means the result
/// word carries no meaningful value.
func Dispatch(self *sched.Thread_t, caller *task.Task_t, num Num, args [6]uint64) (uint64, defs.Err_t) {
	switch num {
	case SysAsAreaCreate:
		return sysAsAreaCreate(caller, args)
	case SysAsAreaResize:
		return sysAsAreaResize(caller, args)
	case SysAsAreaDestroy:
		return sysAsAreaDestroy(caller, args)
	case SysAsAreaChangeFlags:
		return sysAsAreaChangeFlags(caller, args)
	case SysPhysmemMap:
		return sysPhysmemMap(caller, args)

	case SysThreadCreate:
		return sysThreadCreate(caller, args)
	case SysThreadExit:
		return sysThreadExit(self, caller, args)
	case SysThreadGetId:
		return uint64(self.Tid), 0
	case SysTaskGetId:
		return uint64(caller.Pid), 0
	case SysTaskSetName:
		return sysTaskSetName(caller, args)

	case SysIpcCallSyncFast, SysIpcCallSyncSlow:
		return sysIpcCallSync(self, caller, args)
	case SysIpcCallAsyncFast, SysIpcCallAsyncSlow:
		return sysIpcCallAsync(caller, args)
	case SysIpcAnswerFast, SysIpcAnswerSlow:
		return sysIpcAnswer(caller, args)
	case SysIpcForwardFast, SysIpcForwardSlow:
		return sysIpcForward(caller, args)
	case SysIpcWaitForCall:
		return sysIpcWaitForCall(self, caller)
	case SysIpcPoke:
		return sysIpcPoke(caller)
	case SysIpcHangup:
		return sysIpcHangup(caller, args)
	case SysIpcConnectMeTo:
		return sysIpcConnectTo(self, caller, args, ipc.IPC_M_CONNECT_ME_TO)
	case SysIpcConnectToMe:
		return sysIpcConnectTo(self, caller, args, ipc.IPC_M_CONNECT_TO_ME)
	case SysIpcRegisterIrq:
		return sysIpcRegisterIrq(caller, args)
	case SysIpcUnregisterIrq:
		return sysIpcUnregisterIrq(caller, args)

	case SysDebugEnableConsole:
		return sysDebugEnableConsole()
	}
	return 0, -defs.ENOTSUP
}

// --- Memory ---

func sysAsAreaCreate(caller *task.Task_t, args [6]uint64) (uint64, defs.Err_t) {
	size := roundupPage(int(args[1]))
	if size <= 0 {
		return 0, -defs.EINVAL
	}
	if !limits.Syslimit.Areas.Take() {
		return 0, -defs.ELIMIT
	}

	perms := mem.Pa_t(mem.PTE_U)
	if args[2]&AreaWrite != 0 {
		perms |= mem.PTE_W
	}

	as := caller.As
	base := uintptr(args[0])

	as.Lock_pmap()
	if base == 0 {
		base = uintptr(as.Unusedva_inner(mem.USERMIN, size))
	} else if base < uintptr(mem.USERMIN) || base&uintptr(vm.PGOFFSET) != 0 {
		as.Unlock_pmap()
		limits.Syslimit.Areas.Give()
		return 0, -defs.EINVAL
	}
	_, clash := as.Vmregion.Lookup(base)
	as.Unlock_pmap()
	if clash {
		limits.Syslimit.Areas.Give()
		return 0, -defs.EEXISTS
	}

	if args[2]&AreaPhys != 0 {
		as.Vmadd_phys(int(base), size, perms, mem.Pa_t(args[3]))
	} else {
		as.Vmadd_anon(int(base), size, perms)
	}
	return uint64(base), 0
}

// roundupPage rounds n up to the next PGSIZE multiple, the alignment
// _mkvmi requires of every region's start and length.
func roundupPage(n int) int {
	return (n + vm.PGSIZE - 1) &^ (vm.PGSIZE - 1)
}

func sysAsAreaResize(caller *task.Task_t, args [6]uint64) (uint64, defs.Err_t) {
	base := uintptr(args[0])
	newSize := roundupPage(int(args[1]))
	if newSize <= 0 {
		return 0, -defs.EINVAL
	}

	as := caller.As
	as.Lock_pmap()
	defer as.Unlock_pmap()

	vmi, ok := as.Vmregion.Lookup(base)
	if !ok || vmi.Pgn != base>>vm.PGSHIFT {
		return 0, -defs.ENOENT
	}

	newPglen := newSize / vm.PGSIZE
	oldPglen := vmi.Pglen
	if newPglen == oldPglen {
		return uint64(base), 0
	}

	if newPglen < oldPglen {
		for pgn := vmi.Pgn + uintptr(newPglen); pgn < vmi.Pgn+uintptr(oldPglen); pgn++ {
			as.Page_remove(int(pgn << vm.PGSHIFT))
		}
		as.Tlbshoot((vmi.Pgn+uintptr(newPglen))<<vm.PGSHIFT, oldPglen-newPglen)
		vmi.Pglen = newPglen
		return uint64(base), 0
	}

	extraStart := (vmi.Pgn + uintptr(oldPglen)) << vm.PGSHIFT
	if _, occupied := as.Vmregion.Lookup(extraStart); occupied {
		return 0, -defs.EEXISTS
	}
	vmi.Pglen = newPglen
	return uint64(base), 0
}

func sysAsAreaDestroy(caller *task.Task_t, args [6]uint64) (uint64, defs.Err_t) {
	base := uintptr(args[0])
	as := caller.As

	as.Lock_pmap()
	vmi, ok := as.Vmregion.Lookup(base)
	if !ok || vmi.Pgn != base>>vm.PGSHIFT {
		as.Unlock_pmap()
		return 0, -defs.ENOENT
	}
	pgn, pglen := vmi.Pgn, vmi.Pglen
	for p := pgn; p < pgn+uintptr(pglen); p++ {
		as.Page_remove(int(p << vm.PGSHIFT))
	}
	as.Tlbshoot(pgn<<vm.PGSHIFT, pglen)
	as.Vmregion.Remove(pgn)
	as.Unlock_pmap()

	limits.Syslimit.Areas.Give()
	return 0, 0
}

func sysAsAreaChangeFlags(caller *task.Task_t, args [6]uint64) (uint64, defs.Err_t) {
	base := uintptr(args[0])
	as := caller.As

	as.Lock_pmap()
	defer as.Unlock_pmap()
	vmi, ok := as.Vmregion.Lookup(base)
	if !ok || vmi.Pgn != base>>vm.PGSHIFT {
		return 0, -defs.ENOENT
	}

	perms := uint(vm.PTE_U)
	if args[1]&AreaWrite != 0 {
		perms |= uint(vm.PTE_W)
	}
	vmi.Perms = perms
	return uint64(base), 0
}

// sysPhysmemMap implements sys_physmem_map: it exposes a fixed
// physical frame range to a task with no allocation or refcounting,
// the same VPHYS backend device MMIO mappings use.
func sysPhysmemMap(caller *task.Task_t, args [6]uint64) (uint64, defs.Err_t) {
	phys := mem.Pa_t(args[0])
	size := roundupPage(int(args[1]))
	if size <= 0 {
		return 0, -defs.EINVAL
	}
	if !limits.Syslimit.Areas.Take() {
		return 0, -defs.ELIMIT
	}

	perms := mem.Pa_t(mem.PTE_U)
	if args[2]&AreaWrite != 0 {
		perms |= mem.PTE_W
	}

	as := caller.As
	as.Lock_pmap()
	base := uintptr(as.Unusedva_inner(mem.USERMIN, size))
	as.Unlock_pmap()

	as.Vmadd_phys(int(base), size, perms, phys)
	return uint64(base), 0
}

// --- Threads / tasks ---

var nextTid int64 = 1

func sysThreadCreate(caller *task.Task_t, args [6]uint64) (uint64, defs.Err_t) {
	if !limits.Syslimit.Systhreads.Take() {
		return 0, -defs.ELIMIT
	}
	entry := args[0]
	prio := int(args[1])
	if prio < 0 || prio >= sched.N_QUEUES {
		prio = sched.N_QUEUES - 1
	}

	tid := defs.Tid_t(atomic.AddInt64(&nextTid, 1))
	th := sched.NewThread(tid, caller.Pid, prio, func(self *sched.Thread_t) {
		// Entry is opaque to the kernel: a real loader would resume
		// userspace at this address. There is no userspace executor
		// here, so the thread body just logs its dispatch and exits;
		// callers that need real work done should drive it directly
		// rather than through entry.
		log.Debug("thread entered", klog.Any("tid", self.Tid), klog.Any("entry", entry))
	})
	caller.AddThread(th)

	cpu := sched.Cpus[int(tid)%len(sched.Cpus)]
	cpu.Enqueue(th, false)
	return uint64(tid), 0
}

func sysThreadExit(self *sched.Thread_t, caller *task.Task_t, args [6]uint64) (uint64, defs.Err_t) {
	last := caller.RemoveThread(self.Tid)
	limits.Syslimit.Systhreads.Give()
	if last {
		caller.Destroy()
	}
	return 0, 0
}

func sysTaskSetName(caller *task.Task_t, args [6]uint64) (uint64, defs.Err_t) {
	caller.SetName(util8ToString(args))
	return 0, 0
}

// util8ToString decodes up to 48 bytes (6 registers' worth) of a
// NUL-terminated name packed little-endian across args, the way a
// short fixed-size sys_task_set_name payload would arrive without a
// userspace string copy.
func util8ToString(args [6]uint64) string {
	buf := make([]byte, 0, 48)
	for _, w := range args {
		for i := 0; i < 8; i++ {
			b := byte(w >> (8 * uint(i)))
			if b == 0 {
				return string(buf)
			}
			buf = append(buf, b)
		}
	}
	return string(buf)
}

// --- IPC ---

func phoneOf(caller *task.Task_t, handle uint64) (*ipc.Phone_t, defs.Err_t) {
	p, ok := caller.Phone(int(handle))
	if !ok {
		return nil, -defs.ENOENT
	}
	return p, 0
}

func sysIpcCallSync(self *sched.Thread_t, caller *task.Task_t, args [6]uint64) (uint64, defs.Err_t) {
	p, err := phoneOf(caller, args[0])
	if err != 0 {
		return 0, err
	}
	method := args[1]
	var cargs [6]uint64
	copy(cargs[:], args[2:])
	c, err := ipc.CallSync(self, p, method, cargs, caller.Box, caller.As)
	if err != 0 {
		return 0, err
	}
	if c.NewPhone != nil {
		h, _ := caller.AddPhoneHandle(c.NewPhone)
		return uint64(h), c.Retval
	}
	return c.Args[0], c.Retval
}

func sysIpcCallAsync(caller *task.Task_t, args [6]uint64) (uint64, defs.Err_t) {
	p, err := phoneOf(caller, args[0])
	if err != 0 {
		return 0, err
	}
	method := args[1]
	var cargs [6]uint64
	copy(cargs[:], args[2:])
	err = ipc.CallAsync(p, method, cargs, caller.Box, caller.As, nil)
	return 0, err
}

func sysIpcAnswer(caller *task.Task_t, args [6]uint64) (uint64, defs.Err_t) {
	c, ok := caller.TakeCall(args[0])
	if !ok {
		return 0, -defs.ENOENT
	}
	var rargs [6]uint64
	copy(rargs[:], args[2:])
	ipc.Answer(c, defs.Err_t(args[1]), rargs)
	return 0, 0
}

func sysIpcForward(caller *task.Task_t, args [6]uint64) (uint64, defs.Err_t) {
	c, ok := caller.TakeCall(args[0])
	if !ok {
		return 0, -defs.ENOENT
	}
	p, err := phoneOf(caller, args[1])
	if err != 0 {
		return 0, err
	}
	return 0, ipc.Forward(c, p, args[2])
}

func sysIpcWaitForCall(self *sched.Thread_t, caller *task.Task_t) (uint64, defs.Err_t) {
	c := ipc.Wait(self, caller.Box)
	return caller.StashCall(c), 0
}

func sysIpcPoke(caller *task.Task_t) (uint64, defs.Err_t) {
	_ = caller
	return 0, 0
}

func sysIpcHangup(caller *task.Task_t, args [6]uint64) (uint64, defs.Err_t) {
	p, err := phoneOf(caller, args[0])
	if err != 0 {
		return 0, err
	}
	p.Hangup()
	return 0, 0
}

func sysIpcConnectTo(self *sched.Thread_t, caller *task.Task_t, args [6]uint64, method uint64) (uint64, defs.Err_t) {
	p, err := phoneOf(caller, args[0])
	if err != 0 {
		return 0, err
	}
	var cargs [6]uint64
	copy(cargs[:], args[1:])
	c, err := ipc.CallSync(self, p, method, cargs, caller.Box, caller.As)
	if err != 0 {
		return 0, err
	}
	if err = c.Retval; err != 0 {
		return 0, err
	}
	if c.NewPhone == nil {
		return 0, -defs.EREFUSED
	}
	h, _ := caller.AddPhoneHandle(c.NewPhone)
	return uint64(h), 0
}

func sysIpcRegisterIrq(caller *task.Task_t, args [6]uint64) (uint64, defs.Err_t) {
	rec := &ipc.IRQRecord_t{
		Inr:    int(args[0]),
		Devno:  int(int64(args[1])),
		Method: args[2],
		Box:    caller.Box,
	}
	if err := irqTable.Register(rec); err != 0 {
		return 0, err
	}
	caller.OnDestroy(func() { irqTable.Unregister(rec) })
	h := caller.StashIRQ(rec)
	return h, 0
}

func sysIpcUnregisterIrq(caller *task.Task_t, args [6]uint64) (uint64, defs.Err_t) {
	rec, ok := caller.TakeIRQ(args[0])
	if !ok {
		return 0, -defs.ENOENT
	}
	irqTable.Unregister(rec)
	return 0, 0
}

// irqTable is the system-wide IRQ registry every task's
// register/unregister calls share.
var irqTable = ipc.NewIRQTable(64)

// --- Debug ---

func sysDebugEnableConsole() (uint64, defs.Err_t) {
	c, err := console.Enable()
	if err != nil {
		return 0, -defs.EREFUSED
	}
	klog.SetDefault(klog.NewFormattedLogger(c))
	return 0, 0
}
