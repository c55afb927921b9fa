package placeholder

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

var threadSeq atomic.Uint64

// Thread identifies one logical resolution thread. Nested resolutions
// made on behalf of the same request carry the same Thread through their
// context, which is how circular requests are recognized.
type Thread struct {
	id   uint64
	name string
}

// NewThread allocates a thread token.
func NewThread(name string) *Thread {
	id := threadSeq.Add(1)
	if name == "" {
		name = fmt.Sprintf("thread-%d", id)
	}
	return &Thread{id: id, name: name}
}

// ID returns the token's unique id.
func (t *Thread) ID() uint64 { return t.id }

// String returns the thread name.
func (t *Thread) String() string {
	if t == nil {
		return "<nil>"
	}
	return t.name
}

type threadKey struct{}

// WithThread returns ctx carrying t.
func WithThread(ctx context.Context, t *Thread) context.Context {
	return context.WithValue(ctx, threadKey{}, t)
}

// ThreadFrom returns the thread carried by ctx, or nil.
func ThreadFrom(ctx context.Context) *Thread {
	t, _ := ctx.Value(threadKey{}).(*Thread)
	return t
}

// EnsureThread returns ctx and its thread, attaching a fresh thread when
// ctx has none.
func EnsureThread(ctx context.Context) (context.Context, *Thread) {
	if t := ThreadFrom(ctx); t != nil {
		return ctx, t
	}
	t := NewThread("")
	return WithThread(ctx, t), t
}

// ExternalLock is the application-level lock a non-parallel-capable
// namespace holds for the duration of a resolution. It is reentrant per
// Thread.
type ExternalLock interface {
	Enter(t *Thread)
	Exit(t *Thread)
	// CompleteExit releases every recursion held by t and returns the count.
	CompleteExit(t *Thread) int
	// Reenter reacquires the lock for t with the given recursion count.
	Reenter(t *Thread, recursions int)
}

// ReentrantLock is an ExternalLock owned by at most one Thread at a time.
type ReentrantLock struct {
	mu    sync.Mutex
	cond  *sync.Cond
	owner *Thread
	count int
}

// NewReentrantLock creates an unlocked ReentrantLock.
func NewReentrantLock() *ReentrantLock {
	l := &ReentrantLock{}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Enter acquires the lock for t, blocking while another thread owns it.
func (l *ReentrantLock) Enter(t *Thread) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for l.owner != nil && l.owner != t {
		l.cond.Wait()
	}
	l.owner = t
	l.count++
}

// Exit releases one recursion. Exiting a lock t does not own panics.
func (l *ReentrantLock) Exit(t *Thread) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.owner != t {
		panic(fmt.Sprintf("placeholder: %s exits lock owned by %s", t, l.owner))
	}
	l.count--
	if l.count == 0 {
		l.owner = nil
		l.cond.Broadcast()
	}
}

// CompleteExit releases all recursions held by t.
func (l *ReentrantLock) CompleteExit(t *Thread) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.owner != t {
		return 0
	}
	n := l.count
	l.owner = nil
	l.count = 0
	l.cond.Broadcast()
	return n
}

// Reenter reacquires the lock for t with recursions holds.
func (l *ReentrantLock) Reenter(t *Thread, recursions int) {
	if recursions <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for l.owner != nil && l.owner != t {
		l.cond.Wait()
	}
	l.owner = t
	l.count += recursions
}

// HeldBy reports whether t owns the lock.
func (l *ReentrantLock) HeldBy(t *Thread) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.owner == t
}
