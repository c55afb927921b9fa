// Package chtable implements the fixed-bucket concurrent hash table used by
// the namespace dictionaries and the module/package tables.
//
// Readers never lock. The live bucket array is reached through an atomic
// pointer and each bucket head is itself an atomic pointer, so a reader
// either observes a fully linked node or does not observe it at all.
// Writers (Insert, Resize) must be serialized by a lock owned by the caller;
// the table does not lock on its own.
//
// Nodes are immutable once published. Resize therefore never relinks an
// existing node: it builds a complete new array of fresh nodes and then
// swaps the live pointer, so a reader that started on the old array keeps
// walking consistent old chains.
package chtable

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/classreg/pkg/symbol"
)

// DefaultLoadFactor triggers a resize once entries exceed this multiple of
// the bucket count.
const DefaultLoadFactor = 5

// averageDepthGoal is the chain length a resize aims for.
const averageDepthGoal = 3

// DefaultSizes is the ascending list of bucket counts used for growth.
var DefaultSizes = []int{
	107, 1009, 2017, 4049, 5051, 10103, 20201, 40423, 99991,
	199999, 400009, 800011, 1600033,
}

// ErrAllocation is returned by Resize when the requested bucket array is
// larger than the table budget.
var ErrAllocation = errors.New("chtable: bucket allocation failed")

// Node is a published key/value pair.
type Node[V any] struct {
	key   *symbol.Symbol
	value V
	next  *Node[V]
}

// Key returns the node key.
func (n *Node[V]) Key() *symbol.Symbol { return n.key }

// Value returns the node value.
func (n *Node[V]) Value() V { return n.value }

type bucketArray[V any] struct {
	heads []atomic.Pointer[Node[V]]
}

func (b *bucketArray[V]) index(key *symbol.Symbol) int {
	return int(key.Hash() % uint64(len(b.heads)))
}

// Options configures a Table.
type Options struct {
	// InitialSize is the starting bucket count. Default: DefaultSizes[0].
	InitialSize int
	// LoadFactor is the entries-per-bucket ratio that triggers growth.
	LoadFactor int
	// MaxBuckets bounds any bucket array the table may allocate. A resize
	// beyond it fails with ErrAllocation. Zero means no bound.
	MaxBuckets int
	// Sizes overrides DefaultSizes.
	Sizes []int
}

// Table maps interned names to values.
type Table[V any] struct {
	live       atomic.Pointer[bucketArray[V]]
	count      atomic.Int64
	resizable  atomic.Bool
	resizes    atomic.Int32
	loadFactor int
	maxBuckets int
	sizes      []int
}

// New creates a table.
func New[V any](opts Options) *Table[V] {
	if opts.LoadFactor <= 0 {
		opts.LoadFactor = DefaultLoadFactor
	}
	if len(opts.Sizes) == 0 {
		opts.Sizes = DefaultSizes
	}
	if opts.InitialSize <= 0 {
		opts.InitialSize = opts.Sizes[0]
	}

	t := &Table[V]{
		loadFactor: opts.LoadFactor,
		maxBuckets: opts.MaxBuckets,
		sizes:      opts.Sizes,
	}
	t.live.Store(&bucketArray[V]{heads: make([]atomic.Pointer[Node[V]], opts.InitialSize)})
	t.resizable.Store(true)
	return t
}

// Lookup returns the value stored for key. It never blocks.
func (t *Table[V]) Lookup(key *symbol.Symbol) (V, bool) {
	if n := t.LookupNode(key); n != nil {
		return n.value, true
	}
	var zero V
	return zero, false
}

// LookupNode returns the node stored for key, or nil.
func (t *Table[V]) LookupNode(key *symbol.Symbol) *Node[V] {
	b := t.live.Load()
	for n := b.heads[b.index(key)].Load(); n != nil; n = n.next {
		if n.key == key {
			return n
		}
	}
	return nil
}

// Insert publishes key→value and takes a reference on key. It does not
// check for an existing mapping; callers use InsertIfAbsent for that.
// The caller must hold the table's write lock.
func (t *Table[V]) Insert(key *symbol.Symbol, value V) *Node[V] {
	key.IncRef()
	b := t.live.Load()
	slot := &b.heads[b.index(key)]
	n := &Node[V]{key: key, value: value}
	n.next = slot.Load()
	slot.Store(n)
	t.count.Add(1)
	return n
}

// InsertIfAbsent publishes key→value unless key is present, in which case
// the existing node is returned with inserted=false. The caller must hold
// the table's write lock.
func (t *Table[V]) InsertIfAbsent(key *symbol.Symbol, value V) (n *Node[V], inserted bool) {
	if existing := t.LookupNode(key); existing != nil {
		return existing, false
	}
	return t.Insert(key, value), true
}

// NeedsResize reports whether the load factor has been exceeded.
func (t *Table[V]) NeedsResize() bool {
	if !t.resizable.Load() {
		return false
	}
	return t.count.Load() > int64(t.loadFactor*t.Buckets())
}

// GrowIfNeeded resizes to the next configured size when the load factor is
// exceeded. It returns true when a resize happened. On ErrAllocation the
// table keeps its entries and stops trying to resize.
// The caller must hold the table's write lock.
func (t *Table[V]) GrowIfNeeded() (bool, error) {
	if !t.NeedsResize() {
		return false, nil
	}
	desired := t.desiredSize()
	if desired <= t.Buckets() {
		return false, nil
	}
	if err := t.Resize(desired); err != nil {
		return false, err
	}
	return true, nil
}

func (t *Table[V]) desiredSize() int {
	current := t.Buckets()
	goal := int(t.count.Load() / averageDepthGoal)
	for _, s := range t.sizes {
		if s > current && s > goal {
			return s
		}
	}
	for i := len(t.sizes) - 1; i >= 0; i-- {
		if t.sizes[i] > current {
			return t.sizes[i]
		}
	}
	return current
}

// Resize rehomes every entry into a new array of size buckets and then
// publishes it. Tables never shrink: a size at or below the current one is
// ignored. The caller must hold the table's write lock.
func (t *Table[V]) Resize(size int) error {
	old := t.live.Load()
	if size <= len(old.heads) {
		return nil
	}
	if !t.resizable.Load() {
		return fmt.Errorf("chtable: resizing disabled")
	}
	if t.maxBuckets > 0 && size > t.maxBuckets {
		t.resizable.Store(false)
		return fmt.Errorf("%w: %d buckets exceeds budget %d", ErrAllocation, size, t.maxBuckets)
	}

	fresh := &bucketArray[V]{heads: make([]atomic.Pointer[Node[V]], size)}
	for i := range old.heads {
		for n := old.heads[i].Load(); n != nil; n = n.next {
			slot := &fresh.heads[fresh.index(n.key)]
			// fresh is unpublished; plain chaining through Load/Store is fine.
			slot.Store(&Node[V]{key: n.key, value: n.value, next: slot.Load()})
		}
	}
	t.live.Store(fresh)
	t.resizes.Add(1)
	return nil
}

// Each calls fn for every entry until fn returns false. It is safe to run
// concurrently with writers and observes a consistent bucket array.
func (t *Table[V]) Each(fn func(key *symbol.Symbol, value V) bool) {
	b := t.live.Load()
	for i := range b.heads {
		for n := b.heads[i].Load(); n != nil; n = n.next {
			if !fn(n.key, n.value) {
				return
			}
		}
	}
}

// Release drops the table's references on every key. The table must not
// be used afterwards.
func (t *Table[V]) Release() {
	t.Each(func(key *symbol.Symbol, _ V) bool {
		key.DecRef()
		return true
	})
	t.live.Store(&bucketArray[V]{heads: make([]atomic.Pointer[Node[V]], 1)})
	t.count.Store(0)
}

// Len returns the number of entries.
func (t *Table[V]) Len() int {
	return int(t.count.Load())
}

// Buckets returns the current bucket count.
func (t *Table[V]) Buckets() int {
	return len(t.live.Load().heads)
}

// Resizable reports whether the table may still grow.
func (t *Table[V]) Resizable() bool {
	return t.resizable.Load()
}

// Resizes returns how many resizes have completed.
func (t *Table[V]) Resizes() int {
	return int(t.resizes.Load())
}
