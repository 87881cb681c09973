// Package merger combines several already-ranked result lists into one
// top-k list using a bounded min-heap.
package merger

import (
	"container/heap"
)

// Merge returns the best limit elements across lists, best first. better
// must be a strict total order; ties it leaves unresolved make the output
// order unspecified. A limit of zero or less defaults to 10.
func Merge[T any](lists [][]T, limit int, better func(a, b T) bool) []T {
	if limit <= 0 {
		limit = 10
	}
	h := &boundedHeap[T]{better: better}
	heap.Init(h)
	for _, results := range lists {
		for _, item := range results {
			heap.Push(h, item)
			if h.Len() > limit {
				heap.Pop(h)
			}
		}
	}
	result := make([]T, h.Len())
	for i := len(result) - 1; i >= 0; i-- {
		result[i] = heap.Pop(h).(T)
	}
	return result
}

// boundedHeap keeps the worst retained element at the root.
type boundedHeap[T any] struct {
	items  []T
	better func(a, b T) bool
}

func (h *boundedHeap[T]) Len() int { return len(h.items) }

func (h *boundedHeap[T]) Less(i, j int) bool { return h.better(h.items[j], h.items[i]) }

func (h *boundedHeap[T]) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *boundedHeap[T]) Push(x any) {
	h.items = append(h.items, x.(T))
}

func (h *boundedHeap[T]) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	h.items = old[:n-1]
	return item
}
