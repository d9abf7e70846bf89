package agent

import (
	"container/heap"

	"curator/internal/types"
)

// readyQueue is a stable priority queue over queued tasks: ordered by
// priority ordinal ascending, then insertion sequence ascending, so equal
// priorities run in submission order. A task-id index supports O(log n)
// removal for cancellation.
type readyQueue struct {
	items taskHeap
	index map[string]*queueItem
	seq   uint64
}

type queueItem struct {
	task *types.Task
	seq  uint64
	pos  int
}

func newReadyQueue() *readyQueue {
	return &readyQueue{index: make(map[string]*queueItem)}
}

func (q *readyQueue) Len() int { return len(q.items) }

// Push inserts a queued task.
func (q *readyQueue) Push(task *types.Task) {
	q.seq++
	item := &queueItem{task: task, seq: q.seq}
	q.index[task.ID] = item
	heap.Push(&q.items, item)
}

// Peek returns the head without removing it, or nil when empty.
func (q *readyQueue) Peek() *types.Task {
	if len(q.items) == 0 {
		return nil
	}
	return q.items[0].task
}

// Pop removes and returns the head, or nil when empty.
func (q *readyQueue) Pop() *types.Task {
	if len(q.items) == 0 {
		return nil
	}
	item := heap.Pop(&q.items).(*queueItem)
	delete(q.index, item.task.ID)
	return item.task
}

// Remove extracts the task with the given id, or returns nil if absent.
func (q *readyQueue) Remove(id string) *types.Task {
	item, ok := q.index[id]
	if !ok {
		return nil
	}
	heap.Remove(&q.items, item.pos)
	delete(q.index, id)
	return item.task
}

// Contains reports whether the task id is queued.
func (q *readyQueue) Contains(id string) bool {
	_, ok := q.index[id]
	return ok
}

// Drain empties the queue and returns the tasks in priority order.
func (q *readyQueue) Drain() []*types.Task {
	out := make([]*types.Task, 0, len(q.items))
	for q.Len() > 0 {
		out = append(out, q.Pop())
	}
	return out
}

// taskHeap implements heap.Interface.
type taskHeap []*queueItem

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].task.Priority != h[j].task.Priority {
		return h[i].task.Priority < h[j].task.Priority
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].pos = i
	h[j].pos = j
}

func (h *taskHeap) Push(x interface{}) {
	item := x.(*queueItem)
	item.pos = len(*h)
	*h = append(*h, item)
}

func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
