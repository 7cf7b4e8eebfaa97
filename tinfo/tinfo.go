// Package tinfo tracks per-thread kill/doom state and the system-wide
// registry that lets one thread reach another by tid to deliver a
// kill. In the teacher this lived behind a patched runtime's
// per-goroutine register slot (runtime.Gptr/Setgptr); without that
// runtime here, a thread's note travels explicitly as a field on
// sched.Thread_t instead of an implicit thread-local, and this package
// shrinks to just the note itself and the tid-keyed registry.
package tinfo

import "sync"

import "github.com/HelenOS/helenos-sub030/defs"

/// Tnote_t is one thread's kill/doom state, shared between the thread
/// itself (which checks Doomed at its own cancellation points) and
/// whoever kills it.
type Tnote_t struct {
	mu       sync.Mutex
	killed   bool
	isdoomed bool
	killch   chan struct{}
}

/// NewTnote returns a fresh, not-yet-killed note.
func NewTnote() *Tnote_t {
	return &Tnote_t{killch: make(chan struct{})}
}

/// Doomed reports whether the thread has been marked for death.
func (t *Tnote_t) Doomed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.isdoomed
}

/// Killed reports whether Kill has already run on this note.
func (t *Tnote_t) Killed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.killed
}

/// Kill marks the note doomed and closes its kill channel exactly
/// once, so anyone selecting on KillChan wakes up. Idempotent.
func (t *Tnote_t) Kill() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.killed {
		return
	}
	t.killed = true
	t.isdoomed = true
	close(t.killch)
}

/// KillChan returns the channel that closes the moment Kill runs,
/// for a waiter to select against alongside its normal wakeup path.
func (t *Tnote_t) KillChan() <-chan struct{} {
	return t.killch
}

/// Threadinfo_t is the system-wide tid -> Tnote_t registry: the
/// lookup table sys_task_kill-style operations walk to turn a tid into
/// the note they need to call Kill on.
type Threadinfo_t struct {
	mu    sync.Mutex
	Notes map[defs.Tid_t]*Tnote_t
}

/// Init prepares an empty registry.
func (ti *Threadinfo_t) Init() {
	ti.mu.Lock()
	ti.Notes = make(map[defs.Tid_t]*Tnote_t)
	ti.mu.Unlock()
}

/// Register adds note under tid.
func (ti *Threadinfo_t) Register(tid defs.Tid_t, note *Tnote_t) {
	ti.mu.Lock()
	ti.Notes[tid] = note
	ti.mu.Unlock()
}

/// Unregister removes tid's note once the thread is gone.
func (ti *Threadinfo_t) Unregister(tid defs.Tid_t) {
	ti.mu.Lock()
	delete(ti.Notes, tid)
	ti.mu.Unlock()
}

/// Lookup returns tid's note, if it is still registered.
func (ti *Threadinfo_t) Lookup(tid defs.Tid_t) (*Tnote_t, bool) {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	n, ok := ti.Notes[tid]
	return n, ok
}
