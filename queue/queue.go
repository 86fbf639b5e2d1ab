// Package queue implements PriorityTaskQueue (spec section 4.D): a
// max-heap-by-priority queue with strict FIFO tiebreak within a priority
// level, keyed O(1) removal via a side index, and O(n) arbitrary removal by
// task id (acceptable given the queue's bounded size, per spec section 9
// Design Notes: "(priority desc, sequence asc) comparator plus a side
// index").
package queue

import (
	"container/heap"
	"fmt"
	"sync"

	"github.com/honhatphi/shuttlegw/model"
)

// Entry is one queued task, paired with its priority and submission
// sequence number (spec section 3 QueueEntry).
type Entry struct {
	Task     *model.TransportTask
	Priority model.TaskPriority
	Sequence uint64
}

// heapEntry is the internal container/heap element. Removed is set by
// TryRemove so that stale heap entries left
// behind by an O(1) index removal are skipped transparently on pop, instead
// of requiring an immediate O(n) heap rebuild.
type heapEntry struct {
	entry   Entry
	removed bool
	index   int
}

type entryHeap []*heapEntry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].entry.Priority != h[j].entry.Priority {
		return h[i].entry.Priority > h[j].entry.Priority // max-heap by priority
	}
	return h[i].entry.Sequence < h[j].entry.Sequence // FIFO tiebreak
}

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x any) {
	he := x.(*heapEntry)
	he.index = len(*h)
	*h = append(*h, he)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	he := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return he
}

// Queue is a single-mutex-guarded priority task queue. The zero value is not
// usable; use New.
type Queue struct {
	mu       sync.Mutex
	h        entryHeap
	index    map[string]*heapEntry
	sequence uint64
	maxSize  int
}

// ErrTaskQueueFull is returned by Enqueue when adding would exceed MaxSize.
type ErrTaskQueueFull struct {
	TaskID  string
	Current int
	Max     int
}

func (e *ErrTaskQueueFull) Error() string {
	return fmt.Sprintf("Task queue is full. Cannot enqueue task %s. Current: %d, Max: %d", e.TaskID, e.Current, e.Max)
}

// ErrDuplicateTaskID is returned by Enqueue when task_id is already present.
type ErrDuplicateTaskID struct{ TaskID string }

func (e *ErrDuplicateTaskID) Error() string {
	return fmt.Sprintf("queue: task_id %q already present", e.TaskID)
}

// New constructs an empty Queue bounded at maxSize entries.
func New(maxSize int) *Queue {
	return &Queue{
		index:   make(map[string]*heapEntry),
		maxSize: maxSize,
	}
}

// Enqueue adds task at priority. It fails with ErrDuplicateTaskID if the
// task id is already present, or ErrTaskQueueFull if the queue is at
// capacity; in both failure cases the queue is left unchanged.
func (q *Queue) Enqueue(task *model.TransportTask, priority model.TaskPriority) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.index[task.TaskID]; exists {
		return &ErrDuplicateTaskID{TaskID: task.TaskID}
	}
	if q.count() >= q.maxSize {
		return &ErrTaskQueueFull{TaskID: task.TaskID, Current: q.count(), Max: q.maxSize}
	}

	q.sequence++
	he := &heapEntry{entry: Entry{Task: task, Priority: priority, Sequence: q.sequence}}
	heap.Push(&q.h, he)
	q.index[task.TaskID] = he
	return nil
}

// count returns the number of live (non-removed) entries. Caller must hold
// q.mu.
func (q *Queue) count() int {
	return len(q.index)
}

// Count returns the number of entries currently in the queue.
func (q *Queue) Count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count()
}

// IsEmpty reports whether the queue has no entries.
func (q *Queue) IsEmpty() bool {
	return q.Count() == 0
}

// dropRemoved pops and discards heap-top entries already marked removed.
// Caller must hold q.mu.
func (q *Queue) dropRemoved() {
	for len(q.h) > 0 && q.h[0].removed {
		heap.Pop(&q.h)
	}
}

// TryPeek returns the highest-priority, lowest-sequence entry without
// removing it, or false if the queue is empty.
func (q *Queue) TryPeek() (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dropRemoved()
	if len(q.h) == 0 {
		return Entry{}, false
	}
	return q.h[0].entry, true
}

// TryDequeue removes and returns the highest-priority, lowest-sequence
// entry, or false if the queue is empty.
func (q *Queue) TryDequeue() (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dropRemoved()
	if len(q.h) == 0 {
		return Entry{}, false
	}
	he := heap.Pop(&q.h).(*heapEntry)
	delete(q.index, he.entry.Task.TaskID)
	return he.entry, true
}

// TryDequeueTask removes and returns the entry for taskID only if it is
// currently at the head of the queue (used by the dispatcher to commit an
// assignment it already decided on, without racing a concurrent enqueue that
// changed the head). It reports false if the head is empty or does not
// match taskID.
func (q *Queue) TryDequeueTask(taskID string) (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dropRemoved()
	if len(q.h) == 0 || q.h[0].entry.Task.TaskID != taskID {
		return Entry{}, false
	}
	he := heap.Pop(&q.h).(*heapEntry)
	delete(q.index, he.entry.Task.TaskID)
	return he.entry, true
}

// TryRemove removes the entry for taskID, wherever it sits in the heap. It
// reports whether an entry was found and removed. This is an O(n) index
// marking plus heap-top cleanup, acceptable given the queue's bounded size
// (spec section 4.D).
func (q *Queue) TryRemove(taskID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	he, ok := q.index[taskID]
	if !ok {
		return false
	}
	delete(q.index, taskID)
	he.removed = true
	q.dropRemoved()
	return true
}

// Snapshot returns a copy of every task currently queued, in heap order
// (not necessarily priority order beyond the head).
func (q *Queue) Snapshot() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Entry, 0, len(q.index))
	for _, he := range q.h {
		if !he.removed {
			out = append(out, he.entry)
		}
	}
	return out
}
