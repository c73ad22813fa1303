package batching

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"proxywars.dev/internal/metrics"
	"proxywars.dev/internal/warning"
)

// ErrTruncatedResponse is returned to items whose position in the
// downstream response was never filled in.
var ErrTruncatedResponse = errors.New("truncated downstream response")

// ErrShutdown is returned to items still queued when the dispatcher is
// asked to stop.
var ErrShutdown = errors.New("proxy shutting down")

// Classifier is the downstream dependency the dispatcher calls once per
// batch. Implemented by internal/classifier.Client.
type Classifier interface {
	Classify(ctx context.Context, sequences []string) ([]string, error)
}

// Dispatcher is the single long-running worker that builds batches, calls
// the downstream classifier, and resolves item completions. Exactly one
// instance runs per process (see the concurrency model: one dispatcher
// task, many admission tasks).
type Dispatcher struct {
	queues     *QueueSet
	register   *Register
	classifier Classifier
	warnings   warning.Service

	maxBatch     int
	batchTimeout time.Duration
	idleInterval time.Duration
}

// NewDispatcher wires a dispatcher against its queue set, strategy
// register, and downstream classifier.
func NewDispatcher(queues *QueueSet, register *Register, classifier Classifier, warnings warning.Service, maxBatch int, batchTimeout, idleInterval time.Duration) *Dispatcher {
	return &Dispatcher{
		queues:       queues,
		register:     register,
		classifier:   classifier,
		warnings:     warnings,
		maxBatch:     maxBatch,
		batchTimeout: batchTimeout,
		idleInterval: idleInterval,
	}
}

// Name identifies this service for lifecycle logging.
func (d *Dispatcher) Name() string { return "dispatcher" }

// Start runs the dispatcher loop until ctx is cancelled. Each iteration
// produces at most one batch and at most one downstream call.
func (d *Dispatcher) Start(ctx context.Context) error {
	slog.Info("dispatcher started", "initial_strategy", d.register.Get())

	for {
		if ctx.Err() != nil {
			d.drainOnShutdown()
			return nil
		}

		cycleStart := time.Now()
		batch := d.selectBatch(ctx)

		if len(batch) == 0 {
			select {
			case <-time.After(d.idleInterval):
			case <-ctx.Done():
				d.drainOnShutdown()
				return nil
			}
			continue
		}

		d.dispatchBatch(ctx, batch)
		metrics.DispatcherCycleDuration.Observe(time.Since(cycleStart).Seconds())
	}
}

// Stop is a no-op: Start already exits and drains as soon as ctx (shared
// with the supervisor) is cancelled.
func (d *Dispatcher) Stop(ctx context.Context) error { return nil }

// Health always reports healthy; downstream health is surfaced separately
// via a readiness check wired to the classifier's circuit breaker.
func (d *Dispatcher) Health() error { return nil }

// selectBatch consults the active strategy and builds one batch, tolerant
// of items stranded in a queue that doesn't match the current policy.
func (d *Dispatcher) selectBatch(ctx context.Context) []*Item {
	switch d.register.Get() {
	case StrategySJF:
		return d.queues.SelectSJF(d.maxBatch)
	case StrategyFAIR:
		return d.queues.SelectFAIR(d.maxBatch)
	case StrategyFCFS:
		return d.runFCFS(ctx)
	default:
		return d.queues.SelectFCFSPass(d.maxBatch)
	}
}

// runFCFS performs FCFS's two-phase pack: an initial pop-while-fits pass,
// and — only if that pass admitted something but didn't fill the batch — a
// single top-up pass after BATCH_TIMEOUT_MS to let more arrivals land.
func (d *Dispatcher) runFCFS(ctx context.Context) []*Item {
	batch := d.queues.SelectFCFSPass(d.maxBatch)
	total := sumLen(batch)

	if len(batch) > 0 && total < d.maxBatch {
		select {
		case <-time.After(d.batchTimeout):
		case <-ctx.Done():
			return batch
		}
		more := d.queues.SelectFCFSPass(d.maxBatch - total)
		batch = append(batch, more...)
	}

	return batch
}

// flatPosition records where one sequence of the flattened downstream
// request came from, so a returned label can be scattered back.
type flatPosition struct {
	item *Item
	pos  int // index within item.Sequences
}

// dispatchBatch flattens batch into one downstream call and demultiplexes
// the result (or failure) back to each item's completion.
func (d *Dispatcher) dispatchBatch(ctx context.Context, batch []*Item) {
	strategy := string(d.register.Get())

	flat := make([]string, 0, d.maxBatch)
	index := make([]flatPosition, 0, d.maxBatch)
	for _, it := range batch {
		for pos, seq := range it.Sequences {
			flat = append(flat, seq)
			index = append(index, flatPosition{item: it, pos: pos})
		}
	}

	metrics.BatchesDispatched.WithLabelValues(strategy).Inc()
	metrics.BatchSize.WithLabelValues(strategy).Observe(float64(len(flat)))
	metrics.BatchFillRatio.WithLabelValues(strategy).Observe(float64(len(flat)) / float64(d.maxBatch))
	for _, it := range batch {
		metrics.ItemWaitDuration.WithLabelValues(it.Customer).Observe(time.Since(it.ArrivedAt).Seconds())
	}

	slog.Debug("batch built", "strategy", strategy, "items", len(batch), "sequences", len(flat))

	labels, err := d.classifier.Classify(ctx, flat)
	if err != nil {
		slog.Warn("downstream call failed", "error", err, "items", len(batch))
		d.failBatch(batch, err)
		if d.warnings != nil {
			d.warnings.AddWarning(warning.CategoryDownstreamFailure, warning.SeverityError, err.Error(), "dispatcher")
		}
		return
	}

	d.demux(batch, index, labels)
	slog.Debug("batch demuxed", "items", len(batch), "labels", len(labels))
}

// failBatch resolves every item in batch with err. Double resolution is
// suppressed by Completion itself, so a cancelled-but-still-batched item is
// handled for free.
func (d *Dispatcher) failBatch(batch []*Item, err error) {
	for _, it := range batch {
		it.Completion.Resolve(Result{Err: err})
	}
}

// demux scatters labels back to the items that contributed the
// corresponding flattened sequence. Items missing one or more positions
// (a short downstream response) fail with ErrTruncatedResponse; excess
// labels beyond len(index) are discarded.
func (d *Dispatcher) demux(batch []*Item, index []flatPosition, labels []string) {
	buffers := make(map[string][]string, len(batch))
	filled := make(map[string]int, len(batch))
	for _, it := range batch {
		buffers[it.ID] = make([]string, len(it.Sequences))
	}

	for pos, label := range labels {
		if pos >= len(index) {
			break
		}
		p := index[pos]
		buffers[p.item.ID][p.pos] = label
		filled[p.item.ID]++
	}

	for _, it := range batch {
		if filled[it.ID] == len(it.Sequences) {
			it.Completion.Resolve(Result{Labels: buffers[it.ID]})
		} else {
			it.Completion.Resolve(Result{Err: ErrTruncatedResponse})
		}
	}
}

// drainOnShutdown abandons every still-queued item with a shutdown error.
// Items already inside an in-flight dispatchBatch call are unaffected —
// they are resolved normally by the call already in progress.
func (d *Dispatcher) drainOnShutdown() {
	abandoned := d.queues.drainAll()
	for _, it := range abandoned {
		it.Completion.Resolve(Result{Err: ErrShutdown})
	}
	if len(abandoned) > 0 {
		slog.Warn("items abandoned at shutdown", "count", len(abandoned))
		if d.warnings != nil {
			d.warnings.AddWarning(warning.CategoryShutdownDrain, warning.SeverityWarning,
				fmt.Sprintf("%d items abandoned at shutdown", len(abandoned)), "dispatcher")
		}
	}
}
