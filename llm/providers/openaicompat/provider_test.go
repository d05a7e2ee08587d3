package openaicompat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/convoloop/llm"
	"github.com/BaSui01/convoloop/types"
)

func chatHandler(content string, delay time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}
		resp := map[string]any{
			"id":      "cmpl-1",
			"model":   "test-model",
			"created": time.Now().Unix(),
			"choices": []map[string]any{
				{"index": 0, "message": map[string]string{"role": "assistant", "content": content}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func testProvider(t *testing.T, handler http.Handler) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	p, err := New(Config{
		ProviderName: "test",
		APIKey:       "sk-test",
		BaseURL:      srv.URL,
		DefaultModel: "test-model",
	}, zap.NewNop())
	require.NoError(t, err)
	return p
}

func TestNewValidation(t *testing.T) {
	_, err := New(Config{BaseURL: "http://localhost"}, nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidConfig, types.GetErrorCode(err))

	_, err = New(Config{APIKey: "sk-test"}, nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidConfig, types.GetErrorCode(err))
}

func TestCompleteReturnsReply(t *testing.T) {
	p := testProvider(t, chatHandler("hello there", 0))

	resp, err := p.Complete(context.Background(), &llm.CompletionRequest{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hello there", resp.Text)
	assert.Equal(t, "test", resp.Provider)
}

func TestCompleteHonoursPerRequestTimeout(t *testing.T) {
	p := testProvider(t, chatHandler("too late", 500*time.Millisecond))

	start := time.Now()
	_, err := p.Complete(context.Background(), &llm.CompletionRequest{
		Prompt:  "hi",
		Timeout: 20 * time.Millisecond,
	})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 400*time.Millisecond)
	assert.Equal(t, types.ErrUpstreamError, types.GetErrorCode(err))
}

func TestCompleteMapsHTTPErrors(t *testing.T) {
	p := testProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error": {"message": "slow down"}}`))
	}))

	_, err := p.Complete(context.Background(), &llm.CompletionRequest{Prompt: "hi"})
	require.Error(t, err)
	assert.Equal(t, types.ErrRateLimited, types.GetErrorCode(err))
	assert.True(t, types.IsRetryable(err))
}
