package batching

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"proxywars.dev/internal/warning"
)

// fakeClassifier labels every sequence with a fixed string, or returns a
// configured error/short result for failure-path tests.
type fakeClassifier struct {
	mu        sync.Mutex
	err       error
	shortBy   int // return len(sequences)-shortBy labels
	lastBatch []string
}

func (f *fakeClassifier) Classify(ctx context.Context, sequences []string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastBatch = sequences

	if f.err != nil {
		return nil, f.err
	}
	n := len(sequences) - f.shortBy
	if n < 0 {
		n = 0
	}
	labels := make([]string, n)
	for i := range labels {
		labels[i] = "code"
	}
	return labels, nil
}

func newTestDispatcher(classifier Classifier, maxBatch int) (*Dispatcher, *QueueSet, *Register) {
	queues := NewQueueSet()
	register := NewRegister(StrategyFCFS)
	warnings := warning.NewInMemoryService()
	d := NewDispatcher(queues, register, classifier, warnings, maxBatch, 10*time.Millisecond, time.Millisecond)
	return d, queues, register
}

func waitResolved(t *testing.T, item *Item, timeout time.Duration) Result {
	t.Helper()
	done := make(chan struct{})
	result, ok := item.Completion.Wait(timeAfterClosed(timeout, done))
	if !ok {
		t.Fatal("item was never resolved within timeout")
	}
	return result
}

// timeAfterClosed returns a channel that closes after d, for use as the
// "give up waiting" signal in Completion.Wait.
func timeAfterClosed(d time.Duration, done chan struct{}) <-chan struct{} {
	go func() {
		<-time.After(d)
		close(done)
	}()
	return done
}

func TestDispatcher_SuccessfulBatch(t *testing.T) {
	classifier := &fakeClassifier{}
	d, queues, _ := newTestDispatcher(classifier, 5)

	item := NewItem([]string{"def foo(): pass"}, CustomerA)
	queues.Enqueue(item, StrategyFCFS)

	ctx, cancel := context.WithCancel(context.Background())
	go d.Start(ctx)
	defer cancel()

	result := waitResolved(t, item, 2*time.Second)
	if result.Err != nil {
		t.Fatalf("unexpected error: %v", result.Err)
	}
	if len(result.Labels) != 1 || result.Labels[0] != "code" {
		t.Errorf("unexpected labels: %v", result.Labels)
	}
}

func TestDispatcher_DownstreamFailureFailsWholeBatch(t *testing.T) {
	classifier := &fakeClassifier{err: errors.New("boom")}
	d, queues, _ := newTestDispatcher(classifier, 5)

	item1 := NewItem([]string{"a"}, CustomerA)
	item2 := NewItem([]string{"b"}, CustomerA)
	queues.Enqueue(item1, StrategyFCFS)
	queues.Enqueue(item2, StrategyFCFS)

	ctx, cancel := context.WithCancel(context.Background())
	go d.Start(ctx)
	defer cancel()

	r1 := waitResolved(t, item1, 2*time.Second)
	r2 := waitResolved(t, item2, 2*time.Second)
	if r1.Err == nil || r2.Err == nil {
		t.Fatal("expected both items to fail when the downstream call fails")
	}
}

func TestDispatcher_TruncatedResponse(t *testing.T) {
	classifier := &fakeClassifier{shortBy: 1}
	d, queues, _ := newTestDispatcher(classifier, 5)

	item1 := NewItem([]string{"a"}, CustomerA)
	item2 := NewItem([]string{"b"}, CustomerA)
	queues.Enqueue(item1, StrategyFCFS)
	queues.Enqueue(item2, StrategyFCFS)

	ctx, cancel := context.WithCancel(context.Background())
	go d.Start(ctx)
	defer cancel()

	r1 := waitResolved(t, item1, 2*time.Second)
	r2 := waitResolved(t, item2, 2*time.Second)

	// one of the two positions is missing; exactly one item should fail
	// with ErrTruncatedResponse (the last one in flattened order, since the
	// short response fills from the front).
	failures := 0
	for _, r := range []Result{r1, r2} {
		if r.Err != nil {
			if !errors.Is(r.Err, ErrTruncatedResponse) {
				t.Errorf("expected ErrTruncatedResponse, got %v", r.Err)
			}
			failures++
		}
	}
	if failures != 1 {
		t.Errorf("expected exactly 1 truncated item, got %d", failures)
	}
}

func TestDispatcher_ShutdownDrainsQueuedItems(t *testing.T) {
	// ctx is already cancelled before Start runs a single cycle, so the very
	// first loop iteration must take the drain path deterministically.
	classifier := &fakeClassifier{}
	d, queues, _ := newTestDispatcher(classifier, 5)

	stranded := NewItem([]string{"b"}, CustomerA)
	queues.Enqueue(stranded, StrategyFCFS)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("unexpected error from Start: %v", err)
	}

	// stranded is already resolved at this point, so an unclosed "give up"
	// channel still returns immediately via the Completion's own done chan.
	result, ok := stranded.Completion.Wait(make(chan struct{}))
	if !ok {
		t.Fatal("expected the stranded item to already be resolved")
	}
	if !errors.Is(result.Err, ErrShutdown) {
		t.Errorf("expected ErrShutdown for item queued at shutdown, got %v", result.Err)
	}
}
