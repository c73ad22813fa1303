package batching

import (
	"sort"
	"sync"
)

// Customer classes recognized by the FAIR policy. Any other normalized
// value is bucketed into CustomerA (see the ingress header parsing).
const (
	CustomerA = "A"
	CustomerB = "B"
)

// QueueSet holds every pending item plus the last_turn marker FAIR needs to
// alternate classes. All three internal queues stay live regardless of the
// active strategy: swapping strategies can leave items stranded in the
// "wrong" structure (e.g. items parked in classA/classB while the register
// now reads fcfs), and the dispatcher must still be able to drain them
// without a special case. A single mutex guards everything here; no I/O is
// ever performed while it is held.
type QueueSet struct {
	mu       sync.Mutex
	fifo     []*Item // appended to by SJF/FCFS enqueues
	classA   []*Item // appended to by FAIR enqueues for customer A
	classB   []*Item // appended to by FAIR enqueues for customer B
	lastTurn string  // "A" or "B", whichever class FAIR served most recently
}

// NewQueueSet returns an empty queue set. lastTurn starts at B so the first
// FAIR cycle's turn computation favors A, matching the source's behavior of
// opening on the class that has been waiting "longest" by convention.
func NewQueueSet() *QueueSet {
	return &QueueSet{lastTurn: CustomerB}
}

// Enqueue appends item to the queue appropriate for strategy, evaluated at
// the moment of enqueue (a later strategy swap does not move the item).
func (q *QueueSet) Enqueue(item *Item, strategy Strategy) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if strategy == StrategyFAIR {
		if item.Customer == CustomerB {
			q.classB = append(q.classB, item)
		} else {
			q.classA = append(q.classA, item)
		}
		return
	}
	q.fifo = append(q.fifo, item)
}

// Depths reports the current queue lengths, for metrics and readiness data.
func (q *QueueSet) Depths() (fifo, classA, classB int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.fifo), len(q.classA), len(q.classB)
}

// removeByID drops the given item ids from all three queues, wherever they
// happen to live. Called with q.mu held.
func (q *QueueSet) removeByID(ids map[string]struct{}) {
	if len(ids) == 0 {
		return
	}
	q.fifo = filterOut(q.fifo, ids)
	q.classA = filterOut(q.classA, ids)
	q.classB = filterOut(q.classB, ids)
}

func filterOut(items []*Item, ids map[string]struct{}) []*Item {
	kept := items[:0]
	for _, it := range items {
		if _, drop := ids[it.ID]; !drop {
			kept = append(kept, it)
		}
	}
	return kept
}

func idSet(items []*Item) map[string]struct{} {
	ids := make(map[string]struct{}, len(items))
	for _, it := range items {
		ids[it.ID] = struct{}{}
	}
	return ids
}

// pooledByArrival returns every item across all three queues, stably sorted
// by arrival time ascending. This is FCFS's natural order, and doubles as
// the stranded-item fallback for every policy: whichever queues are
// non-empty get folded into one arrival-ordered view.
func (q *QueueSet) pooledByArrival() []*Item {
	pool := make([]*Item, 0, len(q.fifo)+len(q.classA)+len(q.classB))
	pool = append(pool, q.fifo...)
	pool = append(pool, q.classA...)
	pool = append(pool, q.classB...)
	sort.SliceStable(pool, func(i, j int) bool {
		return pool[i].ArrivedAt.Before(pool[j].ArrivedAt)
	})
	return pool
}

// pooledBySJF returns every item across all three queues, stably sorted by
// MaxLen ascending with arrival order as the tie-break. Sorting the
// already-arrival-ordered pool by MaxLen with a stable sort reproduces
// "sort by max_len, ties broken by arrival order" in one pass.
func (q *QueueSet) pooledBySJF() []*Item {
	pool := q.pooledByArrival()
	sort.SliceStable(pool, func(i, j int) bool {
		return pool[i].MaxLen < pool[j].MaxLen
	})
	return pool
}

// nonEmpty reports whether any of the three queues currently holds an item.
// Called with q.mu held.
func (q *QueueSet) nonEmpty() bool {
	return len(q.fifo) > 0 || len(q.classA) > 0 || len(q.classB) > 0
}

// drainAll empties every queue and returns everything that was pending,
// used only at shutdown: the caller is about to resolve these items with a
// shutdown error rather than batch them.
func (q *QueueSet) drainAll() []*Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	all := make([]*Item, 0, len(q.fifo)+len(q.classA)+len(q.classB))
	all = append(all, q.fifo...)
	all = append(all, q.classA...)
	all = append(all, q.classB...)
	q.fifo = nil
	q.classA = nil
	q.classB = nil
	return all
}
