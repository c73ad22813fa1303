package ingress

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"proxywars.dev/internal/batching"
)

func newTestHandler() (*Handler, *batching.QueueSet, *batching.Register) {
	queues := batching.NewQueueSet()
	register := batching.NewRegister(batching.StrategyFCFS)
	return NewHandler(queues, register, 5), queues, register
}

// resolveOneFromFCFS takes one FCFS pass over the queue set and resolves
// every item it selected with labels mirroring its input length, simulating
// a dispatcher cycle. It reports false when the queue set was empty.
func resolveOneFromFCFS(queues *batching.QueueSet, maxBatch int) bool {
	batch := queues.SelectFCFSPass(maxBatch)
	if len(batch) == 0 {
		return false
	}
	for _, it := range batch {
		labels := make([]string, len(it.Sequences))
		for i := range labels {
			labels[i] = "code"
		}
		it.Completion.Resolve(batching.Result{Labels: labels})
	}
	return true
}

func TestClassify_Success(t *testing.T) {
	h, queues, _ := newTestHandler()

	go func() {
		for i := 0; i < 50; i++ {
			if resolveOneFromFCFS(queues, 5) {
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()

	body, _ := json.Marshal(classifyRequestBody{Sequences: ptrSlice([]string{"def foo(): pass"})})
	req := httptest.NewRequest(http.MethodPost, "/proxy_classify", bytes.NewReader(body))
	req.Header.Set("X-Customer-Id", "A")
	rec := httptest.NewRecorder()

	h.Classify(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp classifyResponseBody
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Results) != 1 || resp.Results[0] != "code" {
		t.Errorf("unexpected results: %v", resp.Results)
	}
	if resp.ProxyLatencyMs < 0 {
		t.Errorf("expected non-negative latency, got %d", resp.ProxyLatencyMs)
	}
}

func TestClassify_BoundsViolation(t *testing.T) {
	h, _, _ := newTestHandler()

	body, _ := json.Marshal(classifyRequestBody{Sequences: ptrSlice([]string{})})
	req := httptest.NewRequest(http.MethodPost, "/proxy_classify", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Classify(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestClassify_TooManySequences(t *testing.T) {
	h, _, _ := newTestHandler()

	body, _ := json.Marshal(classifyRequestBody{Sequences: ptrSlice([]string{"a", "b", "c", "d", "e", "f"})})
	req := httptest.NewRequest(http.MethodPost, "/proxy_classify", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Classify(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestClassify_MalformedBody(t *testing.T) {
	h, _, _ := newTestHandler()

	req := httptest.NewRequest(http.MethodPost, "/proxy_classify", bytes.NewReader([]byte(`{"sequences": "not-an-array"}`)))
	rec := httptest.NewRecorder()

	h.Classify(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
}

func TestClassify_MissingField(t *testing.T) {
	h, _, _ := newTestHandler()

	req := httptest.NewRequest(http.MethodPost, "/proxy_classify", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()

	h.Classify(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
}

func TestClassify_DownstreamFailure(t *testing.T) {
	h, queues, _ := newTestHandler()

	go func() {
		for i := 0; i < 50; i++ {
			batch := queues.SelectFCFSPass(5)
			if len(batch) > 0 {
				for _, it := range batch {
					it.Completion.Resolve(batching.Result{Err: errDownstream})
				}
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()

	body, _ := json.Marshal(classifyRequestBody{Sequences: ptrSlice([]string{"a"})})
	req := httptest.NewRequest(http.MethodPost, "/proxy_classify", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Classify(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestSetStrategy_Valid(t *testing.T) {
	h, _, register := newTestHandler()

	req := httptest.NewRequest(http.MethodPost, "/strategy?new_strategy=fair", nil)
	rec := httptest.NewRecorder()

	h.SetStrategy(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if register.Get() != batching.StrategyFAIR {
		t.Errorf("expected register to hold fair, got %v", register.Get())
	}
}

func TestSetStrategy_Invalid(t *testing.T) {
	h, _, _ := newTestHandler()

	req := httptest.NewRequest(http.MethodPost, "/strategy?new_strategy=bogus", nil)
	rec := httptest.NewRecorder()

	h.SetStrategy(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
}

func TestNormalizeCustomer(t *testing.T) {
	cases := map[string]string{
		"":    "A",
		"a":   "A",
		"A":   "A",
		"b":   "B",
		"B":   "B",
		"c":   "A",
		" B ": "B",
	}
	for in, want := range cases {
		if got := normalizeCustomer(in); got != want {
			t.Errorf("normalizeCustomer(%q) = %q, want %q", in, got, want)
		}
	}
}

func ptrSlice(s []string) *[]string { return &s }

var errDownstream = errTest("downstream exploded")

type errTest string

func (e errTest) Error() string { return string(e) }
