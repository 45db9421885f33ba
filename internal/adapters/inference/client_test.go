package inference

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/healthcompanion/processor/internal/core"
)

func chatServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": content}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func newTestClient(t *testing.T, endpoint string) *Client {
	t.Helper()
	client, err := NewClient(Options{
		Endpoint: endpoint,
		Model:    "test-model",
		Timeout:  5 * time.Second,
	})
	require.NoError(t, err)
	return client
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(Options{Model: "m"})
	require.Error(t, err)

	_, err = NewClient(Options{Endpoint: "http://localhost"})
	require.Error(t, err)
}

func TestAnalyzeImage(t *testing.T) {
	t.Run("parses structured analysis", func(t *testing.T) {
		srv := chatServer(t, `{"caption":"a bowl of salad","tags":["food","salad"],"objects":["bowl","lettuce"]}`)
		defer srv.Close()

		analysis, err := newTestClient(t, srv.URL).AnalyzeImage(context.Background(), []byte("img"))
		require.NoError(t, err)
		assert.Equal(t, "a bowl of salad", analysis.Caption)
		assert.Equal(t, []string{"food", "salad"}, analysis.Tags)
		assert.Equal(t, []string{"bowl", "lettuce"}, analysis.Objects)
	})

	t.Run("strips markdown fences", func(t *testing.T) {
		srv := chatServer(t, "```json\n{\"caption\":\"toast\",\"tags\":[],\"objects\":[]}\n```")
		defer srv.Close()

		analysis, err := newTestClient(t, srv.URL).AnalyzeImage(context.Background(), []byte("img"))
		require.NoError(t, err)
		assert.Equal(t, "toast", analysis.Caption)
	})
}

func TestExtractText(t *testing.T) {
	srv := chatServer(t, "  Cholesterol: 180 mg/dL\nGlucose: 92 mg/dL  ")
	defer srv.Close()

	text, err := newTestClient(t, srv.URL).ExtractText(context.Background(), []byte("doc"))
	require.NoError(t, err)
	assert.Equal(t, "Cholesterol: 180 mg/dL\nGlucose: 92 mg/dL", text)
}

func TestComplete(t *testing.T) {
	t.Run("returns JSON document", func(t *testing.T) {
		srv := chatServer(t, `{"food_items":[{"name":"salad"}]}`)
		defer srv.Close()

		doc, err := newTestClient(t, srv.URL).Complete(context.Background(), core.CompletionRequest{
			System: "You are a nutritionist.",
			Prompt: "Analyze this meal.",
		})
		require.NoError(t, err)

		var parsed map[string]any
		require.NoError(t, json.Unmarshal(doc, &parsed))
		assert.Contains(t, parsed, "food_items")
	})

	t.Run("rejects non-JSON responses", func(t *testing.T) {
		srv := chatServer(t, "I cannot help with that.")
		defer srv.Close()

		_, err := newTestClient(t, srv.URL).Complete(context.Background(), core.CompletionRequest{
			Prompt: "Analyze this meal.",
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not valid JSON")
	})

	t.Run("extracts JSON wrapped in prose", func(t *testing.T) {
		srv := chatServer(t, "Here is the analysis: {\"health_assessment\":\"good\"} Hope this helps!")
		defer srv.Close()

		doc, err := newTestClient(t, srv.URL).Complete(context.Background(), core.CompletionRequest{
			Prompt: "Analyze.",
		})
		require.NoError(t, err)
		assert.JSONEq(t, `{"health_assessment":"good"}`, string(doc))
	})
}

func TestChatErrorHandling(t *testing.T) {
	t.Run("surfaces service errors", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"rate limited"}}`))
		}))
		defer srv.Close()

		_, err := newTestClient(t, srv.URL).ExtractText(context.Background(), []byte("doc"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "429")
	})

	t.Run("rejects empty choices", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"choices":[]}`))
		}))
		defer srv.Close()

		_, err := newTestClient(t, srv.URL).ExtractText(context.Background(), []byte("doc"))
		require.Error(t, err)
	})

	t.Run("sends bearer token when configured", func(t *testing.T) {
		var gotAuth string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotAuth = r.Header.Get("Authorization")
			_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
		}))
		defer srv.Close()

		client, err := NewClient(Options{Endpoint: srv.URL, Model: "m", APIKey: "secret"})
		require.NoError(t, err)
		_, err = client.ExtractText(context.Background(), []byte("doc"))
		require.NoError(t, err)
		assert.Equal(t, "Bearer secret", gotAuth)
	})
}
