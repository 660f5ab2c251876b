package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/trendscout/backend/pkg/logger"
)

type embeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

func newEmbeddingServer(t *testing.T, status *atomic.Int32, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/v1/embeddings" {
			http.NotFound(w, r)
			return
		}
		if code := status.Load(); code != 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(int(code))
			w.Write([]byte(`{"error":{"message":"nope","type":"invalid_request_error"}}`))
			return
		}

		var req embeddingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}

		// answer in reverse order to check index placement
		data := make([]map[string]any, 0, len(req.Input))
		for i := len(req.Input) - 1; i >= 0; i-- {
			data = append(data, map[string]any{
				"object":    "embedding",
				"index":     i,
				"embedding": []float32{float32(len(req.Input[i])), 1},
			})
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   data,
			"model":  req.Model,
			"usage":  map[string]int{"prompt_tokens": 1, "total_tokens": 1},
		})
	}))
}

func TestClient_EmbedBatchOrdersAndBatches(t *testing.T) {
	logger.InitNop()
	var status, calls atomic.Int32
	srv := newEmbeddingServer(t, &status, &calls)
	defer srv.Close()

	c := NewClient(Config{
		APIKey:         "test",
		BaseURL:        srv.URL + "/v1",
		EmbeddingModel: "text-embedding-3-small",
		BatchSize:      2,
		Timeout:        5 * time.Second,
	})

	texts := []string{"a", "bb", "ccc"}
	got, err := c.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedBatch() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("EmbedBatch() returned %d embeddings", len(got))
	}
	for i, text := range texts {
		if got[i][0] != float32(len(text)) {
			t.Errorf("embedding[%d] = %v, want first component %d", i, got[i], len(text))
		}
	}
	if calls.Load() != 2 {
		t.Errorf("server calls = %d, want 2 batches", calls.Load())
	}
}

func TestClient_ClientErrorNotRetried(t *testing.T) {
	logger.InitNop()
	var status, calls atomic.Int32
	status.Store(http.StatusBadRequest)
	srv := newEmbeddingServer(t, &status, &calls)
	defer srv.Close()

	c := NewClient(Config{APIKey: "test", BaseURL: srv.URL + "/v1", EmbeddingModel: "m"})

	if _, err := c.EmbedBatch(context.Background(), []string{"x"}); err == nil {
		t.Fatal("EmbedBatch() error = nil, want 400 error")
	}
	if calls.Load() != 1 {
		t.Errorf("server calls = %d, want 1 (no retry on 400)", calls.Load())
	}
}

func TestClient_EmptyInput(t *testing.T) {
	c := NewClient(Config{APIKey: "test", EmbeddingModel: "m"})
	got, err := c.EmbedBatch(context.Background(), nil)
	if err != nil || got != nil {
		t.Errorf("EmbedBatch(nil) = %v, %v", got, err)
	}
}
