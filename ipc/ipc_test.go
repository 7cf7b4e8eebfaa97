package ipc

import (
	"testing"
	"time"

	"github.com/HelenOS/helenos-sub030/defs"
	"github.com/HelenOS/helenos-sub030/sched"
)

// runOn drives cpu's scheduler loop in the background until stop is
// closed, so blocking ipc calls made from threads dispatched on it can
// actually make progress.
func runOn(cpu *sched.Cpu_t, stop chan struct{}) {
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
			}
			cpu.Schedule()
		}
	}()
}

func TestSynchronousPing(t *testing.T) {
	cpuA := sched.NewCpu(0)
	cpuB := sched.NewCpu(1)
	stop := make(chan struct{})
	runOn(cpuA, stop)
	runOn(cpuB, stop)
	defer close(stop)

	boxA := NewAnswerbox(8)
	boxB := NewAnswerbox(8)

	phoneToB := NewPhone()
	if err := PhoneConnect(phoneToB, boxB); err != 0 {
		t.Fatalf("connect failed: %v", err)
	}

	result := make(chan [6]uint64, 1)
	threadA := sched.NewThread(1, 1, 0, func(self *sched.Thread_t) {
		args := [6]uint64{1, 2, 3, 4, 5, 6}
		c, err := CallSync(self, phoneToB, 42, args, boxA, nil)
		if err != 0 {
			t.Errorf("call failed: %v", err)
		}
		result <- c.Args
	})

	served := make(chan struct{})
	threadB := sched.NewThread(2, 2, 0, func(self *sched.Thread_t) {
		c := Wait(self, boxB)
		if c.Method != 42 {
			t.Errorf("expected method 42, got %d", c.Method)
		}
		Answer(c, defs.EOK, [6]uint64{7, 8, 9, 10, 11, 12})
		close(served)
	})

	cpuA.Enqueue(threadA, false)
	cpuB.Enqueue(threadB, false)

	select {
	case args := <-result:
		want := [6]uint64{7, 8, 9, 10, 11, 12}
		if args != want {
			t.Fatalf("got args %v, want %v", args, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("synchronous call never completed")
	}
	<-served
}

func TestForwardKeepsOriginalAnswerRecipient(t *testing.T) {
	cpuA := sched.NewCpu(0)
	cpuB := sched.NewCpu(1)
	cpuC := sched.NewCpu(2)
	stop := make(chan struct{})
	runOn(cpuA, stop)
	runOn(cpuB, stop)
	runOn(cpuC, stop)
	defer close(stop)

	boxA := NewAnswerbox(8)
	boxB := NewAnswerbox(8)
	boxC := NewAnswerbox(8)

	phoneToB := NewPhone()
	PhoneConnect(phoneToB, boxB)
	phoneBtoC := NewPhone()
	PhoneConnect(phoneBtoC, boxC)

	result := make(chan defs.Err_t, 1)
	threadA := sched.NewThread(1, 1, 0, func(self *sched.Thread_t) {
		c, _ := CallSync(self, phoneToB, 7, [6]uint64{}, boxA, nil)
		result <- c.Retval
	})

	threadB := sched.NewThread(2, 2, 0, func(self *sched.Thread_t) {
		c := Wait(self, boxB)
		if err := Forward(c, phoneBtoC, 8); err != 0 {
			t.Errorf("forward failed: %v", err)
		}
	})

	threadC := sched.NewThread(3, 3, 0, func(self *sched.Thread_t) {
		c := Wait(self, boxC)
		if c.Method != 8 {
			t.Errorf("expected forwarded method 8, got %d", c.Method)
		}
		Answer(c, defs.EOK, [6]uint64{})
	})

	cpuA.Enqueue(threadA, false)
	cpuB.Enqueue(threadB, false)
	cpuC.Enqueue(threadC, false)

	select {
	case ret := <-result:
		if ret != defs.EOK {
			t.Fatalf("expected EOK, got %v", ret)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("forwarded call never answered")
	}
}

type fakePorts struct {
	regs map[uint16]uint32
}

func (p *fakePorts) In32(port uint16) uint32  { return p.regs[port] }
func (p *fakePorts) Out32(port uint16, v uint32) { p.regs[port] = v }

func TestIRQDispatchDeliversNotification(t *testing.T) {
	table := NewIRQTable(16)
	box := NewAnswerbox(4)
	rec := &IRQRecord_t{
		Inr:    5,
		Devno:  anyDevno,
		Method: 100,
		Box:    box,
		Code: IRQCode_t{
			{Op: IRQReadPort, Port: 0x60, Slot: 2},
		},
	}
	if err := table.Register(rec); err != 0 {
		t.Fatalf("register failed: %v", err)
	}

	ports := &fakePorts{regs: map[uint16]uint32{0x60: 0x39}}
	if !table.Dispatch(5, ports) {
		t.Fatal("expected dispatch to claim the interrupt")
	}

	cpu := sched.NewCpu(0)
	stop := make(chan struct{})
	runOn(cpu, stop)
	defer close(stop)

	got := make(chan *Call_t, 1)
	th := sched.NewThread(1, 1, 0, func(self *sched.Thread_t) {
		got <- Wait(self, box)
	})
	cpu.Enqueue(th, false)

	select {
	case c := <-got:
		if c.Method != 100 {
			t.Fatalf("expected method 100, got %d", c.Method)
		}
		if c.Args[2] != 0x39 {
			t.Fatalf("expected arg2=0x39, got %#x", c.Args[2])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("irq notification never delivered")
	}
}

func TestIRQNotifRingDropsOldestOnOverflow(t *testing.T) {
	r := newNotifRing(2)
	r.push(&Call_t{Method: 1})
	r.push(&Call_t{Method: 2})
	r.push(&Call_t{Method: 3})
	if !r.Lost {
		t.Fatal("expected Lost to be set after overflow")
	}
	c, ok := r.pop()
	if !ok || c.Method != 2 {
		t.Fatalf("expected oldest-survivor method 2, got %+v ok=%v", c, ok)
	}
}

func TestPhoneHangupRemovesFromAnswerbox(t *testing.T) {
	box := NewAnswerbox(4)
	p := NewPhone()
	PhoneConnect(p, box)
	if len(box.phones) != 1 {
		t.Fatalf("expected phone registered on box, got %d", len(box.phones))
	}
	p.Hangup()
	if len(box.phones) != 0 {
		t.Fatalf("expected phone removed from box after hangup, got %d", len(box.phones))
	}
	if p.State() != PhoneHungup {
		t.Fatalf("expected PhoneHungup, got %v", p.State())
	}
}
