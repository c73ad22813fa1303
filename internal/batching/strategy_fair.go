package batching

// SelectFAIR builds the next batch by alternating which customer class
// "opens" it, bounding head-of-line blocking across classes. The class
// that did not open last turn goes first; if its head item doesn't fit (or
// it has no items), last_turn is left unchanged and the batch degrades to
// draining only the other class.
//
// If both per-customer queues are empty but the global FIFO holds stranded
// items (left over from an SJF/FCFS enqueue before the strategy was swapped
// to fair), FAIR falls back to draining that FIFO in arrival order so no
// item is left permanently stuck.
func (q *QueueSet) SelectFAIR(maxBatch int) []*Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.classA) == 0 && len(q.classB) == 0 {
		if len(q.fifo) == 0 {
			return nil
		}
		return drainWhileFits(&q.fifo, maxBatch)
	}

	turn := CustomerA
	if q.lastTurn == CustomerA {
		turn = CustomerB
	}
	primary := q.queueFor(turn)
	secondary := q.queueFor(otherClass(turn))

	batch := make([]*Item, 0, len(*primary)+len(*secondary))
	remaining := maxBatch

	if len(*primary) > 0 && (*primary)[0].Len() <= remaining {
		q.lastTurn = turn
		drained := drainWhileFits(primary, remaining)
		batch = append(batch, drained...)
		remaining -= sumLen(drained)
	}

	drained := drainWhileFits(secondary, remaining)
	batch = append(batch, drained...)

	return batch
}

// queueFor returns a pointer to the internal slice backing customer class c.
// Must be called with q.mu held.
func (q *QueueSet) queueFor(c string) *[]*Item {
	if c == CustomerB {
		return &q.classB
	}
	return &q.classA
}

func otherClass(c string) string {
	if c == CustomerB {
		return CustomerA
	}
	return CustomerB
}

// drainWhileFits pops items from the head of *slice while each still fits
// within capacity, stopping at the first item that doesn't. This is plain
// FIFO prefix draining, not SJF's best-fit-after-sort.
func drainWhileFits(slice *[]*Item, capacity int) []*Item {
	remaining := capacity
	i := 0
	for i < len(*slice) && (*slice)[i].Len() <= remaining {
		remaining -= (*slice)[i].Len()
		i++
	}
	drained := (*slice)[:i]
	*slice = (*slice)[i:]
	return drained
}

func sumLen(items []*Item) int {
	total := 0
	for _, it := range items {
		total += it.Len()
	}
	return total
}
