// Package ingress implements the HTTP surface admitting classify requests
// and exposing the strategy control endpoint.
package ingress

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"proxywars.dev/internal/batching"
	"proxywars.dev/internal/metrics"
)

// Handler wires incoming requests to the queue set and strategy register.
type Handler struct {
	queues   *batching.QueueSet
	register *batching.Register
	maxBatch int
}

// NewHandler builds an ingress handler against the shared queue set and
// strategy register the dispatcher also consumes.
func NewHandler(queues *batching.QueueSet, register *batching.Register, maxBatch int) *Handler {
	return &Handler{queues: queues, register: register, maxBatch: maxBatch}
}

type classifyRequestBody struct {
	Sequences *[]string `json:"sequences"`
}

type classifyResponseBody struct {
	Results        []string `json:"results"`
	ProxyLatencyMs int      `json:"proxy_latency_ms"`
}

// Classify handles POST /proxy_classify: validates the request, enqueues a
// work item under the strategy active at this instant, and blocks until the
// dispatcher resolves it.
func (h *Handler) Classify(w http.ResponseWriter, r *http.Request) {
	var body classifyRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Sequences == nil {
		writeError(w, http.StatusUnprocessableEntity, "Malformed request body")
		return
	}
	sequences := *body.Sequences

	if len(sequences) < 1 || len(sequences) > h.maxBatch {
		writeError(w, http.StatusBadRequest, "Need 1–5 sequences")
		return
	}

	customer := normalizeCustomer(r.Header.Get("X-Customer-Id"))
	strategy := h.register.Get()

	item := batching.NewItem(sequences, customer)
	h.queues.Enqueue(item, strategy)
	metrics.QueueDepth.WithLabelValues(customer).Inc()

	result, ok := item.Completion.Wait(r.Context().Done())
	metrics.QueueDepth.WithLabelValues(customer).Dec()

	if !ok {
		// client disconnected or request context was cancelled; the item
		// stays queued and will still be resolved (and discarded) later.
		return
	}

	if result.Err != nil {
		metrics.ProxyLatency.WithLabelValues("downstream_error").Observe(time.Since(item.ArrivedAt).Seconds())
		writeError(w, http.StatusInternalServerError, "Downstream service error: "+result.Err.Error())
		return
	}

	latencyMs := int(time.Since(item.ArrivedAt).Milliseconds())
	metrics.ProxyLatency.WithLabelValues("success").Observe(time.Since(item.ArrivedAt).Seconds())
	writeJSON(w, http.StatusOK, classifyResponseBody{
		Results:        result.Labels,
		ProxyLatencyMs: latencyMs,
	})
}

type strategyResponseBody struct {
	ActiveStrategy string `json:"active_strategy"`
}

// SetStrategy handles POST /strategy?new_strategy=sjf|fair|fcfs.
func (h *Handler) SetStrategy(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("new_strategy")
	strategy, err := batching.ParseStrategy(raw)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	h.register.Set(strategy)
	metrics.StrategyChanges.WithLabelValues(string(strategy)).Inc()
	writeJSON(w, http.StatusOK, strategyResponseBody{ActiveStrategy: string(strategy)})
}

// normalizeCustomer uppercases and folds anything outside {A, B} to A, per
// the recognized-classes rule: FAIR only ever buckets into two queues.
func normalizeCustomer(raw string) string {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case batching.CustomerB:
		return batching.CustomerB
	default:
		return batching.CustomerA
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
