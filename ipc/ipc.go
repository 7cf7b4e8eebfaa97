// Package ipc implements synchronous call/answer message passing
// between tasks and the IRQ-to-IPC-notification bridge. A task talks
// to another task's answerbox through a phone; a phone is Free until
// connected, and Hungup once either side tears it down. The built-in
// protocols (connect-me-to, connect-to-me, hangup, data-read,
// data-write, share-in, share-out) live below IPC_M_USER. Hangup is
// resolved at send time; connect-me-to and connect-to-me are queued to
// the callee like any call and take effect when it answers (see
// handleBuiltin and finishBuiltinAnswer); the data and share methods
// are queued like any other call.
package ipc

import "sync"

import "github.com/HelenOS/helenos-sub030/defs"
import "github.com/HelenOS/helenos-sub030/limits"
import "github.com/HelenOS/helenos-sub030/sched"
import "github.com/HelenOS/helenos-sub030/vm"

// IPC_M_USER is the first method number available to userspace
// protocols; everything below it is kernel-interpreted.
const IPC_M_USER = 1024

// Built-in method numbers, all below IPC_M_USER.
const (
	IPC_M_CONNECT_ME_TO = iota
	IPC_M_CONNECT_TO_ME
	IPC_M_PHONE_HUNGUP
	IPC_M_DATA_WRITE
	IPC_M_DATA_READ
	IPC_M_SHARE_IN
	IPC_M_SHARE_OUT
)

// NotifMethod is the method number the kernel stamps on every IRQ
// notification call it synthesizes; it is chosen per registration
// (IRQRecord_t.Method, passed to IRQTable_t.Register), not fixed
// globally, so this is just documentation of
// the field's role.
type NotifMethod = uint64

/// PhoneState_t is a phone's position in its Free/Connecting/
/// Connected/Hungup lifecycle.
type PhoneState_t int

const (
	PhoneFree PhoneState_t = iota
	PhoneConnecting
	PhoneConnected
	PhoneHungup
)

/// DataDesc_t is the out-of-band payload descriptor a data-write,
/// data-read, share-in, or share-out call carries: the address and
/// size of the buffer the *sender* pre-registered, resolved against
/// the sender's own address space at finalize time.
type DataDesc_t struct {
	Va   int
	Size int
}

/// Call_t is a single IPC message in flight. It lives on exactly one
/// queue at a time -- an answerbox's calls, dispatch, or answers
/// list -- except for the moment it is being
/// handed between them.
type Call_t struct {
	Method uint64
	Args   [6]uint64
	Retval defs.Err_t

	mu        sync.Mutex
	answered  bool
	forwarded bool

	srcPhone  *Phone_t
	senderBox *Answerbox_t // where the answer, once ready, is delivered
	senderAS  *vm.Vm_t     // sender's address space, for bulk-data finalize
	Desc      DataDesc_t

	// NewPhone is populated by finishBuiltinAnswer for
	// connect-me-to/connect-to-me once answered successfully.
	NewPhone *Phone_t

	// done is non-nil for synchronous calls: the caller's thread
	// blocks here until ipc_answer posts the reply and wakes it.
	done *sched.Waitq_t

	// callback is set for asynchronous calls: invoked by Answer, on
	// the answering thread, after the call is queued on the sender's
	// answers list, instead of the caller blocking.
	callback func(*Call_t)
}

/// Phone_t is a one-way handle from a task to an answerbox.
type Phone_t struct {
	mu    sync.Mutex
	state PhoneState_t
	box   *Answerbox_t
}

/// NewPhone returns a Free phone, unconnected.
func NewPhone() *Phone_t {
	return &Phone_t{state: PhoneFree}
}

/// State returns the phone's current lifecycle state.
func (p *Phone_t) State() PhoneState_t {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// connect transitions a Free phone to Connected against dst, and
// registers the phone on dst's connected-list so a bulk hang-up can
// find it when dst's owning task dies. Counts against the system-wide
// open-phone quota, released on Hangup.
func (p *Phone_t) connect(dst *Answerbox_t) defs.Err_t {
	p.mu.Lock()
	if p.state != PhoneFree {
		p.mu.Unlock()
		return -defs.EINVAL
	}
	if !limits.Syslimit.Phones.Take() {
		p.mu.Unlock()
		return -defs.ELIMIT
	}
	p.state = PhoneConnected
	p.box = dst
	p.mu.Unlock()

	dst.mu.Lock()
	dst.phones = append(dst.phones, p)
	dst.mu.Unlock()
	return 0
}

/// Hangup tears the phone down: marks it Hungup and removes it from
/// its answerbox's connected-list so bulk hang-up on task death
/// doesn't double-process it.
func (p *Phone_t) Hangup() {
	p.mu.Lock()
	box := p.box
	already := p.state == PhoneHungup
	wasConnected := p.state == PhoneConnected
	p.state = PhoneHungup
	p.mu.Unlock()
	if already {
		return
	}
	if wasConnected {
		limits.Syslimit.Phones.Give()
	}
	if box == nil {
		return
	}
	box.mu.Lock()
	for i, q := range box.phones {
		if q == p {
			box.phones = append(box.phones[:i], box.phones[i+1:]...)
			break
		}
	}
	box.mu.Unlock()
}

/// Answerbox_t is a task's inbox: unanswered incoming calls, calls
/// forwarded to a third party, answered calls awaiting pickup by an
/// async caller, and pending IRQ notifications. A single mutex guards
/// all four lists, matching the single spinlock the design calls for;
/// wq is what ipc_wait-style receivers sleep on when every list is
/// empty.
type Answerbox_t struct {
	mu       sync.Mutex
	calls    []*Call_t
	dispatch []*Call_t
	answers  []*Call_t
	phones   []*Phone_t // connected phones, for bulk hang-up
	wq       *sched.Waitq_t

	notifs *notifRing_t
}

/// NewAnswerbox returns an empty answerbox with room for notifCap
/// pending IRQ notifications before the oldest is dropped.
func NewAnswerbox(notifCap int) *Answerbox_t {
	return &Answerbox_t{
		wq:     sched.NewWaitq(),
		notifs: newNotifRing(notifCap),
	}
}

/// PhoneConnect connects src (which must be Free) to dst.
func PhoneConnect(src *Phone_t, dst *Answerbox_t) defs.Err_t {
	return src.connect(dst)
}

// deliverLocked appends c to q, one of box's queues. The caller holds
// box.mu and wakes a receiver itself.
func (box *Answerbox_t) deliverLocked(c *Call_t, q *[]*Call_t) {
	*q = append(*q, c)
}

// deliverUnaccounted queues c without touching the in-flight-calls
// quota, for kernel-synthesized notifications (hangup) that are
// popped and discarded rather than ever Answered.
func (box *Answerbox_t) deliverUnaccounted(c *Call_t) {
	box.mu.Lock()
	box.deliverLocked(c, &box.calls)
	box.mu.Unlock()
	box.wq.Wakeup(false)
}

// enqueueCall queues c for delivery, subject to the system-wide
// in-flight-calls quota. The quota counts a call from its original
// send until Answer posts a reply -- forwarding re-homes an
// already-counted call without taking the quota again, so the
// matching Give lives in Answer, not here or in popAny.
func (box *Answerbox_t) enqueueCall(c *Call_t) defs.Err_t {
	if !limits.Syslimit.CallsInFlight.Take() {
		return -defs.ELIMIT
	}
	box.mu.Lock()
	box.deliverLocked(c, &box.calls)
	box.mu.Unlock()
	box.wq.Wakeup(false)
	return 0
}

/// CallSync sends a call on phone and blocks self until the answer
/// arrives (or forever, if nothing ever answers -- real HelenOS bounds
/// this with task death / debug cancellation, out of scope here). It
/// returns the call with Retval and Args populated by ipc_answer.
func CallSync(self *sched.Thread_t, phone *Phone_t, method uint64, args [6]uint64, senderBox *Answerbox_t, senderAS *vm.Vm_t) (*Call_t, defs.Err_t) {
	phone.mu.Lock()
	st := phone.state
	box := phone.box
	phone.mu.Unlock()
	if st == PhoneHungup || st == PhoneFree {
		return nil, -defs.EREFUSED
	}

	c := &Call_t{
		Method:    method,
		Args:      args,
		srcPhone:  phone,
		senderBox: senderBox,
		senderAS:  senderAS,
		done:      sched.NewWaitq(),
	}

	if handled, err := handleBuiltin(c, phone, box); handled {
		return c, err
	}

	if err := box.enqueueCall(c); err != 0 {
		return nil, err
	}
	c.done.Sleep(self, 0)
	return c, c.Retval
}

/// CallAsync sends a call on phone without blocking. cb, if non-nil,
/// is invoked by Answer on the answering thread once the reply is
/// posted (or right here, for a built-in resolved at send time); the
/// answered call is also queued for DrainAnswers.
func CallAsync(phone *Phone_t, method uint64, args [6]uint64, senderBox *Answerbox_t, senderAS *vm.Vm_t, cb func(*Call_t)) defs.Err_t {
	phone.mu.Lock()
	st := phone.state
	box := phone.box
	phone.mu.Unlock()
	if st == PhoneHungup || st == PhoneFree {
		return -defs.EREFUSED
	}

	c := &Call_t{
		Method:    method,
		Args:      args,
		srcPhone:  phone,
		senderBox: senderBox,
		senderAS:  senderAS,
		callback:  cb,
	}
	if handled, err := handleBuiltin(c, phone, box); handled {
		if cb != nil {
			cb(c)
		}
		return err
	}
	return box.enqueueCall(c)
}

/// Answer posts retval/args as the reply to c and routes it back to
/// the originator: a synchronous caller is woken directly, an
/// asynchronous one finds it on its answerbox's answers queue and
/// has its callback, if any, invoked here.
func Answer(c *Call_t, retval defs.Err_t, args [6]uint64) {
	c.mu.Lock()
	if c.answered {
		c.mu.Unlock()
		return
	}
	c.answered = true
	limits.Syslimit.CallsInFlight.Give()
	c.Retval = retval
	c.Args = args
	done := c.done
	cb := c.callback
	senderBox := c.senderBox
	c.mu.Unlock()

	finishBuiltinAnswer(c, retval)

	if done != nil {
		done.Wakeup(true)
		return
	}
	if senderBox != nil {
		senderBox.mu.Lock()
		senderBox.answers = append(senderBox.answers, c)
		senderBox.mu.Unlock()
		senderBox.wq.Wakeup(false)
	}
	if cb != nil {
		cb(c)
	}
}

/// Forward re-homes an unanswered call to newPhone under newMethod.
/// The original sender remains the answer recipient -- Forward only
/// changes which answerbox next sees the call as an incoming request,
/// moving it onto that box's dispatch list rather than calls, since
/// it didn't originate there.
func Forward(c *Call_t, newPhone *Phone_t, newMethod uint64) defs.Err_t {
	newPhone.mu.Lock()
	st := newPhone.state
	dst := newPhone.box
	newPhone.mu.Unlock()
	if st != PhoneConnected {
		return -defs.EREFUSED
	}

	c.mu.Lock()
	if c.answered {
		c.mu.Unlock()
		return -defs.EINVAL
	}
	c.forwarded = true
	c.Method = newMethod
	c.srcPhone = newPhone
	c.mu.Unlock()

	dst.mu.Lock()
	dst.dispatch = append(dst.dispatch, c)
	dst.mu.Unlock()
	dst.wq.Wakeup(false)
	return 0
}

// popAny removes and returns the first available call across calls,
// dispatch, and irq notifications, preferring regular calls over
// forwarded ones over notifications, mirroring how a real receive
// favors whichever queue has been waiting longest in practice.
func (box *Answerbox_t) popAny() *Call_t {
	if len(box.calls) > 0 {
		c := box.calls[0]
		box.calls = box.calls[1:]
		return c
	}
	if len(box.dispatch) > 0 {
		c := box.dispatch[0]
		box.dispatch = box.dispatch[1:]
		return c
	}
	if c, ok := box.notifs.pop(); ok {
		return c
	}
	return nil
}

/// Wait blocks self until a call is available on box (an incoming
/// request, a forwarded one, or an IRQ notification) and returns it.
func Wait(self *sched.Thread_t, box *Answerbox_t) *Call_t {
	for {
		box.mu.Lock()
		c := box.popAny()
		box.mu.Unlock()
		if c != nil {
			return c
		}
		box.wq.Sleep(self, 0)
	}
}

/// DrainAnswers removes and returns every call currently sitting on
/// box's answers queue (async replies ready for pickup).
func (box *Answerbox_t) DrainAnswers() []*Call_t {
	box.mu.Lock()
	defer box.mu.Unlock()
	a := box.answers
	box.answers = nil
	return a
}

/// HangupAll hangs up every phone still connected to box, for task
/// teardown: "phones owned by a dying task are hung up" is the
/// caller's job (it walks its own phone table); this is the mirror
/// operation for a dying *answerbox*, disconnecting everyone pointed
/// at it.
func (box *Answerbox_t) HangupAll() {
	box.mu.Lock()
	phones := box.phones
	box.phones = nil
	box.mu.Unlock()
	for _, p := range phones {
		p.Hangup()
	}
}
