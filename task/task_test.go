package task

import (
	"testing"

	"github.com/HelenOS/helenos-sub030/ipc"
	"github.com/HelenOS/helenos-sub030/mem"
	"github.com/HelenOS/helenos-sub030/sched"
)

func TestMain(m *testing.M) {
	mem.Phys_init(8 * mem.ZONESIZE)
	m.Run()
}

func TestNewAssignsDistinctPids(t *testing.T) {
	t1, err := New("one")
	if err != 0 {
		t.Fatalf("New: %v", err)
	}
	t2, err := New("two")
	if err != 0 {
		t.Fatalf("New: %v", err)
	}
	if t1.Pid == t2.Pid {
		t.Fatalf("two tasks got the same pid %v", t1.Pid)
	}
	if got, ok := Lookup(t1.Pid); !ok || got != t1 {
		t.Fatalf("Lookup(%v) = %v, %v", t1.Pid, got, ok)
	}
}

func TestRemoveThreadReportsLastOne(t *testing.T) {
	tk, err := New("worker")
	if err != 0 {
		t.Fatalf("New: %v", err)
	}
	th1 := sched.NewThread(1, tk.Pid, sched.N_QUEUES-1, func(*sched.Thread_t) {})
	th2 := sched.NewThread(2, tk.Pid, sched.N_QUEUES-1, func(*sched.Thread_t) {})
	tk.AddThread(th1)
	tk.AddThread(th2)

	if tk.RemoveThread(th1.Tid) {
		t.Fatal("RemoveThread reported last thread gone with one thread remaining")
	}
	if !tk.RemoveThread(th2.Tid) {
		t.Fatal("RemoveThread should report true once the last thread is removed")
	}
}

func TestPhoneHandleRoundTrip(t *testing.T) {
	tk, err := New("phoned")
	if err != 0 {
		t.Fatalf("New: %v", err)
	}
	h, p := tk.AddPhone()
	got, ok := tk.Phone(h)
	if !ok || got != p {
		t.Fatalf("Phone(%v) = %v, %v, want %v, true", h, got, ok, p)
	}
	if _, ok := tk.Phone(h + 1); ok {
		t.Fatal("Phone resolved a handle that was never issued")
	}
}

func TestCallHandleRoundTrip(t *testing.T) {
	tk, err := New("caller")
	if err != 0 {
		t.Fatalf("New: %v", err)
	}
	c := &ipc.Call_t{Method: 42}
	h := tk.StashCall(c)

	got, ok := tk.TakeCall(h)
	if !ok || got != c {
		t.Fatalf("TakeCall(%v) = %v, %v, want %v, true", h, got, ok, c)
	}
	if _, ok := tk.TakeCall(h); ok {
		t.Fatal("TakeCall should forget the handle once taken")
	}
}

func TestDestroyHangsUpPhonesAndRunsCleanups(t *testing.T) {
	tk, err := New("dying")
	if err != 0 {
		t.Fatalf("New: %v", err)
	}
	_, p := tk.AddPhone()
	dst := ipc.NewAnswerbox(4)
	if err := ipc.PhoneConnect(p, dst); err != 0 {
		t.Fatalf("PhoneConnect: %v", err)
	}

	ran := false
	tk.OnDestroy(func() { ran = true })

	tk.Destroy()

	if !ran {
		t.Fatal("Destroy did not run the registered cleanup")
	}
	if p.State() != ipc.PhoneHungup {
		t.Fatalf("phone state after Destroy = %v, want Hungup", p.State())
	}
	if _, ok := Lookup(tk.Pid); ok {
		t.Fatal("task still present in the registry after Destroy")
	}
}
