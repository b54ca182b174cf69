package expert

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// newMessageServer returns a test server that answers every messages
// call with the given text and counts requests.
func newMessageServer(t *testing.T, text string, calls *atomic.Int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			calls.Add(1)
		}
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.URL.Path, "/messages")

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"id":   "msg_test_001",
			"type": "message",
			"role": "assistant",
			"content": []map[string]any{
				{"type": "text", "text": text},
			},
			"model":       "claude-sonnet-4-5-20250929",
			"stop_reason": "end_turn",
			"usage": map[string]any{
				"input_tokens":  10,
				"output_tokens": 5,
			},
		})
	}))
}

func newTestClient(baseURL string, cacheTTL time.Duration) *Client {
	return New(Options{
		APIKey:            "test-key",
		BaseURL:           baseURL,
		RequestsPerSecond: 1000,
		CacheTTL:          cacheTTL,
	})
}

func TestClient_Outline(t *testing.T) {
	ts := newMessageServer(t, "1. Background\n2. Findings", nil)
	defer ts.Close()

	out, err := newTestClient(ts.URL, 0).Outline(context.Background(), "source text")
	require.NoError(t, err)
	assert.Contains(t, out, "Findings")
}

func TestClient_ExtractClaims(t *testing.T) {
	payload := `[
		{"subject": "X", "predicate": "IMPACTS", "object": "Y", "page": 1, "quote": "X impacts Y.", "confidence": 0.9},
		{"subject": "X", "predicate": "IMPACTS", "object": "Z", "page": 2, "quote": "X impacts Z.", "confidence": 0.8}
	]`
	ts := newMessageServer(t, payload, nil)
	defer ts.Close()

	claims, err := newTestClient(ts.URL, 0).ExtractClaims(context.Background(), "doc1", "fh1", "text")
	require.NoError(t, err)
	require.Len(t, claims, 2)
	assert.Equal(t, "X", claims[0].Subject)
	require.NotNil(t, claims[0].SourceAnchor)
	assert.Equal(t, "doc1", claims[0].SourceAnchor.DocID)
	assert.Equal(t, 1, claims[0].SourceAnchor.PageNumber)
}

func TestClient_ExtractClaims_UnparseableYieldsEmpty(t *testing.T) {
	ts := newMessageServer(t, "I could not find any relations.", nil)
	defer ts.Close()

	claims, err := newTestClient(ts.URL, 0).ExtractClaims(context.Background(), "doc1", "fh1", "text")
	require.NoError(t, err)
	assert.Empty(t, claims)
}

func TestClient_Rewrite(t *testing.T) {
	ts := newMessageServer(t, "This is a significant result.", nil)
	defer ts.Close()

	out, err := newTestClient(ts.URL, 0).Rewrite(context.Background(),
		"This is a revolutionary result.", "replace 'revolutionary'")
	require.NoError(t, err)
	assert.Equal(t, "This is a significant result.", out)
}

func TestClient_CachesIdenticalPrompts(t *testing.T) {
	var calls atomic.Int64
	ts := newMessageServer(t, "cached answer", &calls)
	defer ts.Close()

	c := newTestClient(ts.URL, time.Minute)
	ctx := context.Background()

	first, err := c.Outline(ctx, "same input")
	require.NoError(t, err)
	second, err := c.Outline(ctx, "same input")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), calls.Load())

	// A different prompt misses the cache.
	_, err = c.Outline(ctx, "different input")
	require.NoError(t, err)
	assert.Equal(t, int64(2), calls.Load())
}

func TestClient_RetriesOnServerError(t *testing.T) {
	var calls atomic.Int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"id": "msg_1", "type": "message", "role": "assistant",
			"content":     []map[string]any{{"type": "text", "text": "recovered"}},
			"model":       "claude-sonnet-4-5-20250929",
			"stop_reason": "end_turn",
			"usage":       map[string]any{"input_tokens": 1, "output_tokens": 1},
		})
	}))
	defer ts.Close()

	c := New(Options{
		APIKey:            "test-key",
		BaseURL:           ts.URL,
		RequestsPerSecond: 1000,
	})
	c.opts.Retry.BaseDelay = time.Millisecond

	out, err := c.Outline(context.Background(), "text")
	require.NoError(t, err)
	assert.Equal(t, "recovered", out)
	assert.GreaterOrEqual(t, calls.Load(), int64(2))
}
