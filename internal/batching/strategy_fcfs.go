package batching

// SelectFCFSPass pops items from the head of global arrival order while
// each still fits in maxBatch, stopping at the first item that doesn't —
// plain FIFO, no reordering. It draws from all three queues merged by
// arrival time, so stranded items left behind by a strategy swap still
// drain in the order they arrived.
//
// The dispatcher calls this twice per cycle under FCFS: once immediately,
// and once more after BATCH_TIMEOUT_MS if the first pass produced a
// non-empty, non-full batch (see Dispatcher.runFCFS).
func (q *QueueSet) SelectFCFSPass(maxBatch int) []*Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.nonEmpty() {
		return nil
	}

	pool := q.pooledByArrival()
	batch := make([]*Item, 0, len(pool))
	total := 0
	for _, it := range pool {
		if total+it.Len() > maxBatch {
			break
		}
		batch = append(batch, it)
		total += it.Len()
	}

	if len(batch) > 0 {
		q.removeByID(idSet(batch))
	}
	return batch
}
