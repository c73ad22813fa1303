// Package batching implements the admission→queueing→dispatch pipeline that
// coalesces classification requests into bounded downstream batches.
package batching

import (
	"sync"
	"time"

	"proxywars.dev/internal/common/tsid"
)

// Result is what a Completion is resolved with: either a label per sequence,
// positionally aligned, or an error describing why the item could not be
// classified.
type Result struct {
	Labels []string
	Err    error
}

// Completion is a single-shot handle fulfilled by the dispatcher and
// observed by exactly one ingress waiter. It is the Go analogue of the
// source's asyncio.Future: set exactly once, read at most once per waiter,
// safe to resolve concurrently with a cancelled or already-abandoned
// waiter.
type Completion struct {
	once   sync.Once
	done   chan struct{}
	mu     sync.Mutex
	result Result
}

// NewCompletion returns an unresolved completion handle.
func NewCompletion() *Completion {
	return &Completion{done: make(chan struct{})}
}

// Resolve fulfills the completion with result. Only the first call has any
// effect; later calls (e.g. a second attempt to fail an already-succeeded
// item) are silently discarded, per the no-double-resolution invariant.
func (c *Completion) Resolve(result Result) {
	c.once.Do(func() {
		c.mu.Lock()
		c.result = result
		c.mu.Unlock()
		close(c.done)
	})
}

// Wait blocks until the completion is resolved or done is closed, whichever
// comes first. Closing done does not resolve the completion; the
// dispatcher may still fulfill it later, the result is just never observed
// by this caller.
func (c *Completion) Wait(done <-chan struct{}) (Result, bool) {
	select {
	case <-c.done:
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.result, true
	case <-done:
		return Result{}, false
	}
}

// Item is one accepted client request awaiting a downstream classification.
type Item struct {
	ID         string
	Customer   string // normalized to "A" or "B"
	Sequences  []string
	MaxLen     int
	ArrivedAt  time.Time
	Completion *Completion
}

// NewItem builds an item from validated input. customer must already be
// normalized (see ingress's customer-class parsing).
func NewItem(sequences []string, customer string) *Item {
	maxLen := 0
	for _, s := range sequences {
		if len(s) > maxLen {
			maxLen = len(s)
		}
	}

	return &Item{
		ID:         tsid.Generate(),
		Customer:   customer,
		Sequences:  sequences,
		MaxLen:     maxLen,
		ArrivedAt:  time.Now(),
		Completion: NewCompletion(),
	}
}

// Len is the number of sequences this item carries, i.e. its contribution
// to a batch's MAX_BATCH budget.
func (i *Item) Len() int {
	return len(i.Sequences)
}
