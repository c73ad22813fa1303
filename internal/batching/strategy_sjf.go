package batching

// SelectSJF builds the next batch by shortest-job-first: stably sort every
// pending item (across all three queues, to tolerate strategy-swap
// stranding) by MaxLen ascending with arrival order as the tie-break, then
// walk the sorted view admitting whichever items still fit the remaining
// capacity — best-fit-after-sort, not prefix-greedy, since the cap is on
// sequence count rather than cost: a big item early in the sorted view must
// not block a smaller item later in it.
func (q *QueueSet) SelectSJF(maxBatch int) []*Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.nonEmpty() {
		return nil
	}

	pool := q.pooledBySJF()
	batch := make([]*Item, 0, len(pool))
	total := 0
	for _, it := range pool {
		if total+it.Len() > maxBatch {
			continue
		}
		batch = append(batch, it)
		total += it.Len()
	}

	if len(batch) > 0 {
		q.removeByID(idSet(batch))
	}
	return batch
}
