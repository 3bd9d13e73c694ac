// internal/sched/runqueue.go

package sched

import (
	"github.com/emirpasic/gods/lists/doublylinkedlist"
	"github.com/emirpasic/gods/trees/binaryheap"
	"github.com/emirpasic/gods/trees/redblacktree"
)

// runQueue holds Ready entries. Exactly one representation is live, chosen by
// policy: a FIFO list for RoundRobin, a binary heap for Priority and a
// red-black tree ordered by (vruntime, seq) for Fair.
type runQueue struct {
	policy Policy
	fifo   *doublylinkedlist.List
	heap   *binaryheap.Heap
	tree   *redblacktree.Tree
}

func newRunQueue(policy Policy) *runQueue {
	q := &runQueue{policy: policy}
	switch policy {
	case RoundRobin:
		q.fifo = doublylinkedlist.New()
	case Priority:
		q.heap = binaryheap.NewWith(priorityCmp)
	case Fair:
		q.tree = redblacktree.NewWith(fairCmp)
	}
	return q
}

func (q *runQueue) push(e *ProcessEntry) {
	switch q.policy {
	case RoundRobin:
		q.fifo.Add(e)
	case Priority:
		q.heap.Push(e)
	case Fair:
		q.tree.Put(fairKeyOf(e), e)
	}
}

// pop removes and returns the head, or nil when empty.
func (q *runQueue) pop() *ProcessEntry {
	switch q.policy {
	case RoundRobin:
		v, ok := q.fifo.Get(0)
		if !ok {
			return nil
		}
		q.fifo.Remove(0)
		return v.(*ProcessEntry)
	case Priority:
		v, ok := q.heap.Pop()
		if !ok {
			return nil
		}
		return v.(*ProcessEntry)
	case Fair:
		node := q.tree.Left()
		if node == nil {
			return nil
		}
		q.tree.Remove(node.Key)
		return node.Value.(*ProcessEntry)
	}
	return nil
}

// remove deletes e from the queue and reports whether it was present.
func (q *runQueue) remove(e *ProcessEntry) bool {
	switch q.policy {
	case RoundRobin:
		idx := q.fifo.IndexOf(e)
		if idx < 0 {
			return false
		}
		q.fifo.Remove(idx)
		return true
	case Priority:
		// binaryheap has no arbitrary delete; rebuild without e.
		found := false
		rest := make([]interface{}, 0, q.heap.Size())
		for _, v := range q.heap.Values() {
			if v.(*ProcessEntry) == e {
				found = true
				continue
			}
			rest = append(rest, v)
		}
		if found {
			q.heap.Clear()
			q.heap.Push(rest...)
		}
		return found
	case Fair:
		key := fairKeyOf(e)
		if _, ok := q.tree.Get(key); !ok {
			return false
		}
		q.tree.Remove(key)
		return true
	}
	return false
}

// ordered returns the queued entries in dispatch order without removing them.
func (q *runQueue) ordered() []*ProcessEntry {
	out := make([]*ProcessEntry, 0, q.len())
	switch q.policy {
	case RoundRobin:
		for _, v := range q.fifo.Values() {
			out = append(out, v.(*ProcessEntry))
		}
	case Priority:
		clone := binaryheap.NewWith(priorityCmp)
		clone.Push(q.heap.Values()...)
		for v, ok := clone.Pop(); ok; v, ok = clone.Pop() {
			out = append(out, v.(*ProcessEntry))
		}
	case Fair:
		for _, v := range q.tree.Values() {
			out = append(out, v.(*ProcessEntry))
		}
	}
	return out
}

// drain empties the queue, returning entries in dispatch order.
func (q *runQueue) drain() []*ProcessEntry {
	out := q.ordered()
	switch q.policy {
	case RoundRobin:
		q.fifo.Clear()
	case Priority:
		q.heap.Clear()
	case Fair:
		q.tree.Clear()
	}
	return out
}

func (q *runQueue) len() int {
	switch q.policy {
	case RoundRobin:
		return q.fifo.Size()
	case Priority:
		return q.heap.Size()
	case Fair:
		return q.tree.Size()
	}
	return 0
}

// minVruntime reports the smallest queued vruntime (Fair only).
func (q *runQueue) minVruntime() (float64, bool) {
	if q.policy != Fair {
		return 0, false
	}
	node := q.tree.Left()
	if node == nil {
		return 0, false
	}
	return node.Key.(fairKey).vruntime, true
}

// priorityCmp orders the heap so the highest priority pops first, earlier
// insertion winning ties.
func priorityCmp(a, b any) int {
	ea, eb := a.(*ProcessEntry), b.(*ProcessEntry)
	switch {
	case ea.Priority > eb.Priority:
		return -1
	case ea.Priority < eb.Priority:
		return 1
	case ea.seq < eb.seq:
		return -1
	case ea.seq > eb.seq:
		return 1
	default:
		return 0
	}
}

// fairKey is used as a key in the red-black tree.
type fairKey struct {
	vruntime float64
	seq      uint64
}

func fairKeyOf(e *ProcessEntry) fairKey {
	return fairKey{vruntime: e.Vruntime, seq: e.seq}
}

// fairCmp implements the Comparator for red-black tree ordering.
func fairCmp(a, b any) int {
	ka, kb := a.(fairKey), b.(fairKey)
	switch {
	case ka.vruntime < kb.vruntime:
		return -1
	case ka.vruntime > kb.vruntime:
		return 1
	case ka.seq < kb.seq:
		return -1
	case ka.seq > kb.seq:
		return 1
	default:
		return 0
	}
}
