package tracker

import (
	"container/heap"
	"sync"
)

// Sequencer releases values submitted in any order to a callback in index
// order, starting at index 0. It is safe for concurrent use; the callback
// runs under the sequencer's lock, one value at a time.
type Sequencer[T any] struct {
	mu      sync.Mutex
	next    int
	pending indexHeap[T]
	emit    func(index int, value T)
}

// NewSequencer creates a Sequencer that calls emit for each released value.
func NewSequencer[T any](emit func(index int, value T)) *Sequencer[T] {
	return &Sequencer[T]{emit: emit}
}

// Submit buffers value under index and releases every value that is now
// contiguous with the last one released. Indexes already released or
// already buffered are ignored.
func (s *Sequencer[T]) Submit(index int, value T) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index < s.next || s.pending.has(index) {
		return
	}
	heap.Push(&s.pending, item[T]{index: index, value: value})
	for s.pending.Len() > 0 && s.pending[0].index == s.next {
		it := heap.Pop(&s.pending).(item[T])
		s.emit(it.index, it.value)
		s.next++
	}
}

// Pending returns the number of values waiting for an earlier index.
func (s *Sequencer[T]) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending.Len()
}

// Next returns the index the sequencer is waiting for.
func (s *Sequencer[T]) Next() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

type item[T any] struct {
	index int
	value T
}

type indexHeap[T any] []item[T]

func (h indexHeap[T]) Len() int           { return len(h) }
func (h indexHeap[T]) Less(i, j int) bool { return h[i].index < h[j].index }
func (h indexHeap[T]) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *indexHeap[T]) Push(x any) {
	*h = append(*h, x.(item[T]))
}

func (h *indexHeap[T]) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}

func (h indexHeap[T]) has(index int) bool {
	for _, it := range h {
		if it.index == index {
			return true
		}
	}
	return false
}
