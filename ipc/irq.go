package ipc

import "sync"

import "github.com/HelenOS/helenos-sub030/defs"
import "github.com/HelenOS/helenos-sub030/hashtable"
import "github.com/HelenOS/helenos-sub030/klog"
import "github.com/HelenOS/helenos-sub030/limits"
import "github.com/HelenOS/helenos-sub030/stats"

var log = klog.Subsystem(klog.DefaultLogger(), "ipc")

// anyDevno is the wildcard device cookie: an IRQ record registered
// with this devno accepts unconditionally and is expected to be the
// only record on its inr (architectures where inr is already unique).
const anyDevno = -1

/// IRQOp_t is one step of a pre-interpreted irq_code script: a single
/// port read or write the kernel performs in hard-IRQ context on a
/// userspace driver's behalf.
type IRQOp_t int

const (
	IRQReadPort IRQOp_t = iota
	IRQWritePort
)

/// IRQInstr_t is one instruction of an irq_code script. Reads store
/// their result into Args[Slot] of the synthesized notification call;
/// writes use Imm as the value written.
type IRQInstr_t struct {
	Op   IRQOp_t
	Port uint16
	Imm  uint32
	Slot int
}

/// IRQCode_t is the full pre-interpreted script a driver registers
/// alongside an IRQ handler.
type IRQCode_t []IRQInstr_t

/// PortIO_i abstracts the port space the irq_code interpreter reads
/// and writes; simulated hardware (tests) and any future platform
/// backend both implement it.
type PortIO_i interface {
	In32(port uint16) uint32
	Out32(port uint16, val uint32)
}

// runCode interprets code against io, producing the six argument
// words a notification call carries.
func runCode(code IRQCode_t, io PortIO_i) [6]uint64 {
	var args [6]uint64
	for _, instr := range code {
		switch instr.Op {
		case IRQReadPort:
			if instr.Slot >= 0 && instr.Slot < len(args) {
				args[instr.Slot] = uint64(io.In32(instr.Port))
			} else {
				io.In32(instr.Port)
			}
		case IRQWritePort:
			io.Out32(instr.Port, instr.Imm)
		}
	}
	return args
}

/// IRQRecord_t is one registered IRQ handler: the interrupt line it
/// claims, an optional device cookie for disambiguating shared lines,
/// the script that decides whether to claim an interrupt and what
/// notification to build, and the answerbox/method that receives it.
type IRQRecord_t struct {
	Inr    int
	Devno  int // anyDevno for "already unique, claim unconditionally"
	Code   IRQCode_t
	Box    *Answerbox_t
	Method uint64
}

type irqBucket_t struct {
	mu      sync.Mutex
	records []*IRQRecord_t // insertion order, observable via devno=ANY scans
}

/// IRQTable_t is the system's IRQ registry, keyed by interrupt number.
/// Built on the teacher's generic Hashtable_t for the inr-level
/// lookup; the insertion-ordered chain within one inr is kept
/// separately (as a plain slice under irqBucket_t's own lock) since
/// Hashtable_t orders same-bucket entries by key hash, not insertion
/// order, and the specification requires the latter for devno=ANY
/// scans.
type IRQTable_t struct {
	mu    sync.Mutex // guards bucket creation only
	table *hashtable.Hashtable_t
}

/// NewIRQTable returns an empty IRQ table with nbuckets hash buckets.
func NewIRQTable(nbuckets int) *IRQTable_t {
	return &IRQTable_t{table: hashtable.MkHash(nbuckets)}
}

func (t *IRQTable_t) bucket(inr int) *irqBucket_t {
	if v, ok := t.table.Get(inr); ok {
		return v.(*irqBucket_t)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if v, ok := t.table.Get(inr); ok {
		return v.(*irqBucket_t)
	}
	b := &irqBucket_t{}
	t.table.Set(inr, b)
	return b
}

/// Register adds rec to the table, subject to the system-wide
/// distinct-(inr,devno)-registration quota. Multiple records may share
/// an inr (disambiguated by devno and claim order at dispatch time).
func (t *IRQTable_t) Register(rec *IRQRecord_t) defs.Err_t {
	if !limits.Syslimit.IrqHandlers.Take() {
		return -defs.ELIMIT
	}
	b := t.bucket(rec.Inr)
	b.mu.Lock()
	b.records = append(b.records, rec)
	b.mu.Unlock()
	return 0
}

/// Unregister removes rec from the table, releasing its quota slot.
func (t *IRQTable_t) Unregister(rec *IRQRecord_t) {
	b := t.bucket(rec.Inr)
	b.mu.Lock()
	found := false
	for i, r := range b.records {
		if r == rec {
			b.records = append(b.records[:i], b.records[i+1:]...)
			found = true
			break
		}
	}
	b.mu.Unlock()
	if found {
		limits.Syslimit.IrqHandlers.Give()
	}
}

/// Dispatch handles a hardware interrupt on inr: it walks the inr's
/// records in insertion order, running each one's irq_code against io
/// until one claims it (anyDevno always claims), then enqueues a
/// notification call on the claimant's answerbox and returns true. It
/// returns false if no registered record claims the interrupt.
func (t *IRQTable_t) Dispatch(inr int, io PortIO_i) bool {
	stats.Irqs++
	if inr >= 0 && inr < len(stats.Nirqs) {
		stats.Nirqs[inr]++
	}
	if v, ok := t.table.Get(inr); ok {
		b := v.(*irqBucket_t)
		b.mu.Lock()
		recs := append([]*IRQRecord_t(nil), b.records...)
		b.mu.Unlock()
		for _, rec := range recs {
			args := runCode(rec.Code, io)
			// A record claims the interrupt simply by being next in
			// line: anyDevno records are the sole occupant of their
			// inr by convention, and devno-keyed records rely on the
			// script itself reading a per-device status register into
			// Args[0] -- a nonzero status is the claim signal.
			if rec.Devno != anyDevno && args[0] == 0 {
				continue
			}
			c := &Call_t{Method: rec.Method, Args: args}
			rec.Box.notifs.push(c)
			rec.Box.wq.Wakeup(false)
			return true
		}
	}
	return false
}

// notifRing_t is a bounded FIFO of pending IRQ notification calls.
// Overflow drops the oldest entry and raises Lost, mirroring the
// circular buffer's head/tail counter idiom used elsewhere in the
// kernel, specialized here to hold *Call_t instead of bytes.
type notifRing_t struct {
	mu   sync.Mutex
	buf  []*Call_t
	head int
	tail int
	Lost bool
}

func newNotifRing(capacity int) *notifRing_t {
	if capacity <= 0 {
		capacity = 32
	}
	return &notifRing_t{buf: make([]*Call_t, capacity)}
}

func (r *notifRing_t) full() bool {
	return r.head-r.tail == len(r.buf)
}

func (r *notifRing_t) push(c *Call_t) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full() {
		// drop oldest
		r.tail++
		if !r.Lost {
			log.Warn("irq notification ring overflowed, dropping oldest")
		}
		r.Lost = true
	}
	r.buf[r.head%len(r.buf)] = c
	r.head++
}

func (r *notifRing_t) pop() (*Call_t, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.head == r.tail {
		return nil, false
	}
	c := r.buf[r.tail%len(r.buf)]
	r.buf[r.tail%len(r.buf)] = nil
	r.tail++
	return c, true
}
