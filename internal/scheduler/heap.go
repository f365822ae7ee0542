package scheduler

import "container/heap"

// entry is a queued ticket with its resolved priority and arrival order.
type entry struct {
	ticket   *Ticket
	priority int
	seq      uint64
}

// jobHeap orders entries by priority descending, then arrival ascending.
type jobHeap []*entry

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *jobHeap) Push(x any) { *h = append(*h, x.(*entry)) }

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

type queue struct {
	items jobHeap
	seq   uint64
}

func (q *queue) push(t *Ticket, priority int) {
	q.seq++
	heap.Push(&q.items, &entry{ticket: t, priority: priority, seq: q.seq})
}

func (q *queue) pop() (*Ticket, bool) {
	if len(q.items) == 0 {
		return nil, false
	}
	return heap.Pop(&q.items).(*entry).ticket, true
}

func (q *queue) len() int { return len(q.items) }

// drain removes and returns every queued ticket in dequeue order.
func (q *queue) drain() []*Ticket {
	out := make([]*Ticket, 0, len(q.items))
	for {
		t, ok := q.pop()
		if !ok {
			return out
		}
		out = append(out, t)
	}
}
