package pool

import "container/heap"

// entry is one queued value with its scheduling key.
type entry[E any] struct {
	value    E
	priority int
	seq      uint64
	index    int // position in the heap, -1 once popped or removed
}

type entryHeap[E any] []*entry[E]

func (h entryHeap[E]) Len() int { return len(h) }

func (h entryHeap[E]) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}

	return h[i].seq < h[j].seq
}

func (h entryHeap[E]) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap[E]) Push(x any) {
	e := x.(*entry[E])
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap[E]) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]

	return e
}

// queue orders values by (priority, arrival). It is not safe for concurrent use.
type queue[E any] struct {
	h   entryHeap[E]
	seq uint64
}

// push enqueues v and returns a handle usable with remove.
func (q *queue[E]) push(priority int, v E) *entry[E] {
	q.seq++
	e := &entry[E]{value: v, priority: priority, seq: q.seq}
	heap.Push(&q.h, e)

	return e
}

// pop removes and returns the best-ranked value.
func (q *queue[E]) pop() (E, bool) {
	if len(q.h) == 0 {
		var zero E

		return zero, false
	}

	e := heap.Pop(&q.h).(*entry[E])

	return e.value, true
}

// remove drops e from the queue. It reports false if e was already popped.
func (q *queue[E]) remove(e *entry[E]) bool {
	if e.index < 0 || e.index >= len(q.h) || q.h[e.index] != e {
		return false
	}

	heap.Remove(&q.h, e.index)

	return true
}

// drain empties the queue and returns its values in scheduling order.
func (q *queue[E]) drain() []E {
	out := make([]E, 0, len(q.h))
	for len(q.h) > 0 {
		v, _ := q.pop()
		out = append(out, v)
	}

	return out
}

func (q *queue[E]) len() int { return len(q.h) }
