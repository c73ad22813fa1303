package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestBatchesDispatched_Labels(t *testing.T) {
	BatchesDispatched.WithLabelValues("sjf").Inc()
	BatchesDispatched.WithLabelValues("fair").Inc()
	BatchesDispatched.WithLabelValues("fcfs").Inc()

	counter := BatchesDispatched.WithLabelValues("sjf")
	if counter == nil {
		t.Error("Expected counter to be non-nil")
	}
}

func TestBatchSize_Observe(t *testing.T) {
	for _, n := range []float64{1, 2, 3, 4, 5} {
		BatchSize.WithLabelValues("fcfs").Observe(n)
	}
}

func TestQueueDepth_GaugeOperations(t *testing.T) {
	gauge := QueueDepth.WithLabelValues("A")
	gauge.Set(3)
	gauge.Inc()
	gauge.Dec()
	gauge.Add(2)
	gauge.Sub(1)

	if got := testutil.ToFloat64(gauge); got != 4 {
		t.Errorf("expected queue depth 4, got %v", got)
	}
}

func TestDownstreamRequests_Labels(t *testing.T) {
	DownstreamRequests.WithLabelValues("success").Inc()
	DownstreamRequests.WithLabelValues("http_error").Inc()
	DownstreamRequests.WithLabelValues("transport_error").Inc()
	DownstreamRequests.WithLabelValues("breaker_open").Inc()
}

func TestHTTPRequestsTotal_Labels(t *testing.T) {
	HTTPRequestsTotal.WithLabelValues("POST", "/proxy_classify", "200").Inc()
	HTTPRequestsTotal.WithLabelValues("POST", "/strategy", "422").Inc()

	counter := HTTPRequestsTotal.WithLabelValues("POST", "/proxy_classify", "200")
	if got := testutil.ToFloat64(counter); got != 1 {
		t.Errorf("expected 1, got %v", got)
	}
}

func TestDownstreamCircuitBreakerState_Values(t *testing.T) {
	DownstreamCircuitBreakerState.Set(CircuitBreakerClosed)
	if got := testutil.ToFloat64(DownstreamCircuitBreakerState); got != 0 {
		t.Errorf("expected closed state 0, got %v", got)
	}
	DownstreamCircuitBreakerState.Set(CircuitBreakerOpen)
	if got := testutil.ToFloat64(DownstreamCircuitBreakerState); got != 1 {
		t.Errorf("expected open state 1, got %v", got)
	}
}
