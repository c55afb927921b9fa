package archive

import "sync"

// Roots keeps values alive until they are claimed. Indices are stable.
type Roots interface {
	AppendRoot(v any) int
	GetRoot(index int, clear bool) any
	SetRoot(index int, v any)
}

// HeapRoots is an in-process Roots backed by a slice.
type HeapRoots struct {
	mu    sync.Mutex
	roots []any
	live  int
}

// NewHeapRoots creates an empty root array.
func NewHeapRoots() *HeapRoots {
	return &HeapRoots{}
}

// AppendRoot stores v and returns its index.
func (h *HeapRoots) AppendRoot(v any) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.roots = append(h.roots, v)
	if v != nil {
		h.live++
	}
	return len(h.roots) - 1
}

// GetRoot returns the value at index. With clear set the slot is emptied,
// so a value can be claimed once.
func (h *HeapRoots) GetRoot(index int, clear bool) any {
	h.mu.Lock()
	defer h.mu.Unlock()
	if index < 0 || index >= len(h.roots) {
		return nil
	}
	v := h.roots[index]
	if clear && v != nil {
		h.roots[index] = nil
		h.live--
	}
	return v
}

// SetRoot stores v in an existing slot.
func (h *HeapRoots) SetRoot(index int, v any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if index < 0 || index >= len(h.roots) {
		return
	}
	if h.roots[index] != nil {
		h.live--
	}
	if v != nil {
		h.live++
	}
	h.roots[index] = v
}

// Len returns the number of slots.
func (h *HeapRoots) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.roots)
}

// Live returns the number of unclaimed values.
func (h *HeapRoots) Live() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.live
}
